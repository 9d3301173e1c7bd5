package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"

	"queue-system/services"
)

type DispatchHandler struct {
	app      *pocketbase.PocketBase
	dispatch *services.DispatchService
}

func NewDispatchHandler(app *pocketbase.PocketBase, dispatch *services.DispatchService) *DispatchHandler {
	return &DispatchHandler{
		app:      app,
		dispatch: dispatch,
	}
}

// CallNext - claim the next waiting ticket for a counter
func (h *DispatchHandler) CallNext(e *core.RequestEvent) error {
	var req struct {
		BranchID  string `json:"branch_id"`
		ServiceID string `json:"service_id"`
		CounterID string `json:"counter_id"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}
	if req.BranchID == "" {
		return apis.NewBadRequestError("Branch ID required", nil)
	}

	var allowedServices []string
	if req.ServiceID == "" {
		allowedServices = h.counterServices(req.CounterID)
	}

	ticket, err := h.dispatch.CallNext(e.Request.Context(), req.BranchID, req.ServiceID, req.CounterID, allowedServices)
	if err != nil {
		return apiError(err)
	}

	if ticket == nil {
		// Empty queue is a normal outcome, not an error.
		return e.JSON(http.StatusOK, map[string]any{
			"ticket":  nil,
			"message": "no ticket available",
		})
	}

	return e.JSON(http.StatusOK, map[string]any{"ticket": ticket})
}

// counterServices resolves which services a counter is configured to serve
// from the counters collection. An empty result means the counter takes any
// service.
func (h *DispatchHandler) counterServices(counterID string) []string {
	if counterID == "" {
		return nil
	}

	var row struct {
		Services string `db:"services"`
	}
	err := h.app.DB().
		Select("services").
		From("counters").
		Where(dbx.HashExp{"id": counterID}).
		One(&row)
	if err != nil || row.Services == "" {
		return nil
	}

	var serviceIDs []string
	if err := json.Unmarshal([]byte(row.Services), &serviceIDs); err != nil {
		slog.Warn("Malformed services binding on counter", "counterID", counterID, "error", err)
		return nil
	}
	return serviceIDs
}
