package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/hrygo/medisense/ai/workflow"
)

// GetCaller returns the stored caller context, as a run would see it.
func (s *APIV1Service) GetCaller(c echo.Context) error {
	cc, err := s.Store.FetchCallerContext(c.Request().Context(), c.Param("id"), nil)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to get caller").SetInternal(err)
	}
	return c.JSON(http.StatusOK, cc)
}

// UpdateCaller stores the caller profile. Conditions, allergies and medications
// replace the stored ones when present.
func (s *APIV1Service) UpdateCaller(c echo.Context) error {
	var body workflow.CallerContext
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body").SetInternal(err)
	}
	if err := s.Store.SaveCallerProfile(c.Request().Context(), c.Param("id"), body); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to save caller").SetInternal(err)
	}
	return c.NoContent(http.StatusNoContent)
}

type CreateReportResponse struct {
	ID int64 `json:"id"`
}

// CreateReport stores a report whose text was extracted by the client.
func (s *APIV1Service) CreateReport(c echo.Context) error {
	var body workflow.Report
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body").SetInternal(err)
	}
	if body.ExtractedText == "" && len(body.StructuredData) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "extracted_text or structured_data is required")
	}
	report, err := s.Store.AddReport(c.Request().Context(), c.Param("id"), body)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to save report").SetInternal(err)
	}
	return c.JSON(http.StatusCreated, CreateReportResponse{ID: report.ID})
}
