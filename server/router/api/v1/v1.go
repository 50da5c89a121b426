package v1

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/hrygo/medisense/ai/observability/logging"
	"github.com/hrygo/medisense/ai/workflow"
	"github.com/hrygo/medisense/internal/profile"
	"github.com/hrygo/medisense/store"
)

// historyLimit is how many stored messages seed a run when history is requested.
const historyLimit = 20

// Engine runs one request through the workflow graph.
type Engine interface {
	Run(ctx context.Context, req *workflow.Request) (*workflow.Result, error)
}

type APIV1Service struct {
	Profile *profile.Profile
	Store   *store.Store
	Engine  Engine
}

func NewAPIV1Service(profile *profile.Profile, store *store.Store, engine Engine) *APIV1Service {
	return &APIV1Service{
		Profile: profile,
		Store:   store,
		Engine:  engine,
	}
}

// Register mounts the /api/v1 routes on echoServer.
func (s *APIV1Service) Register(echoServer *echo.Echo) {
	g := echoServer.Group("/api/v1")
	g.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOriginFunc: func(_ string) (bool, error) {
			return true, nil
		},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowHeaders: []string{"*"},
	}))
	g.Use(requestLogger)

	g.POST("/chat/message", s.SendMessage)
	g.GET("/chat/conversations/:id", s.GetConversation)
	g.GET("/callers/:id", s.GetCaller)
	g.PUT("/callers/:id", s.UpdateCaller)
	g.POST("/callers/:id/reports", s.CreateReport)
}

// requestLogger attaches a request-scoped logger to the context and logs each request.
func requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()
		logger := slog.Default().With(
			"request_id", c.Response().Header().Get(echo.HeaderXRequestID),
			"method", req.Method,
			"path", c.Path(),
		)
		c.SetRequest(req.WithContext(logging.ToContext(req.Context(), logger)))

		err := next(c)
		if err != nil {
			c.Error(err)
		}
		logger.Info("api: request handled", "status", c.Response().Status)
		return nil
	}
}
