package handlers

import (
	"errors"
	"net/http"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"

	"queue-system/internal/status"
	"queue-system/services"
)

type CounterHandler struct {
	app      *pocketbase.PocketBase
	counters *services.CounterService
}

func NewCounterHandler(app *pocketbase.PocketBase, counters *services.CounterService) *CounterHandler {
	return &CounterHandler{
		app:      app,
		counters: counters,
	}
}

// AssignCounter - claim a counter's staff slot
func (h *CounterHandler) AssignCounter(e *core.RequestEvent) error {
	var req struct {
		BranchID string `json:"branch_id"`
		StaffID  string `json:"staff_id"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}

	counterID := e.Request.PathValue("counterId")
	counter, err := h.counters.Assign(e.Request.Context(), req.BranchID, counterID, req.StaffID)
	if err != nil {
		if errors.Is(err, status.ErrCounterOccupied) && counter != nil {
			// Surface who holds the counter instead of overwriting them.
			return e.JSON(http.StatusConflict, map[string]any{
				"error":   "counter already assigned",
				"counter": counter,
			})
		}
		return apiError(err)
	}

	return e.JSON(http.StatusOK, counter)
}

// ReleaseCounter - free a counter's staff slot
func (h *CounterHandler) ReleaseCounter(e *core.RequestEvent) error {
	var req struct {
		BranchID string `json:"branch_id"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}

	if err := h.counters.Release(e.Request.Context(), req.BranchID, e.Request.PathValue("counterId")); err != nil {
		return apiError(err)
	}

	return e.JSON(http.StatusOK, map[string]any{"message": "counter released"})
}

// Heartbeat - refresh a counter occupant's liveness
func (h *CounterHandler) Heartbeat(e *core.RequestEvent) error {
	var req struct {
		BranchID string `json:"branch_id"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}

	if err := h.counters.Heartbeat(e.Request.Context(), req.BranchID, e.Request.PathValue("counterId")); err != nil {
		return apiError(err)
	}

	return e.JSON(http.StatusOK, map[string]any{"message": "ok"})
}

// ListCounters - all counters of a branch
func (h *CounterHandler) ListCounters(e *core.RequestEvent) error {
	branchID := e.Request.URL.Query().Get("branch_id")
	if branchID == "" {
		return apis.NewBadRequestError("Branch ID required", nil)
	}

	counters, err := h.counters.ListCounters(e.Request.Context(), branchID)
	if err != nil {
		return apiError(err)
	}

	return e.JSON(http.StatusOK, map[string]any{"counters": counters})
}

// ListAvailable - counters without a live occupant
func (h *CounterHandler) ListAvailable(e *core.RequestEvent) error {
	branchID := e.Request.URL.Query().Get("branch_id")
	if branchID == "" {
		return apis.NewBadRequestError("Branch ID required", nil)
	}

	counters, err := h.counters.ListAvailable(e.Request.Context(), branchID)
	if err != nil {
		return apiError(err)
	}

	return e.JSON(http.StatusOK, map[string]any{"counters": counters})
}
