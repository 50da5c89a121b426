package handlers

import (
	"context"

	"github.com/hrygo/medisense/ai/routing"
	"github.com/hrygo/medisense/ai/workflow"
)

// EmergencyHandler returns the fixed safety directive. It makes no external calls and
// cannot fail.
type EmergencyHandler struct{}

// NewEmergencyHandler creates the emergency handler.
func NewEmergencyHandler() EmergencyHandler { return EmergencyHandler{} }

func (EmergencyHandler) Name() string { return routing.HandlerEmergency }

func (EmergencyHandler) Handle(_ context.Context, _ *workflow.Request, st *workflow.State) error {
	st.AppendFragment(EmergencyDirective)
	return nil
}
