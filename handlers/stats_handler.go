package handlers

import (
	"net/http"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"

	"queue-system/models"
	"queue-system/services"
)

type StatsHandler struct {
	app      *pocketbase.PocketBase
	stats    *services.StatsService
	tickets  *services.TicketStore
	counters *services.CounterService
}

func NewStatsHandler(app *pocketbase.PocketBase, stats *services.StatsService, tickets *services.TicketStore, counters *services.CounterService) *StatsHandler {
	return &StatsHandler{
		app:      app,
		stats:    stats,
		tickets:  tickets,
		counters: counters,
	}
}

// GetStats - branch aggregate, served from the refresh cache when present
func (h *StatsHandler) GetStats(e *core.RequestEvent) error {
	branchID := e.Request.URL.Query().Get("branch_id")
	if branchID == "" {
		return apis.NewBadRequestError("Branch ID required", nil)
	}

	ctx := e.Request.Context()
	if stats, ok := h.stats.CachedStats(ctx, branchID); ok {
		return e.JSON(http.StatusOK, stats)
	}

	stats, err := h.stats.GetStats(ctx, branchID)
	if err != nil {
		return apiError(err)
	}

	return e.JSON(http.StatusOK, stats)
}

// GetSnapshot - authoritative branch state for clients about to subscribe
// to the event channel
func (h *StatsHandler) GetSnapshot(e *core.RequestEvent) error {
	branchID := e.Request.URL.Query().Get("branch_id")
	if branchID == "" {
		return apis.NewBadRequestError("Branch ID required", nil)
	}

	ctx := e.Request.Context()
	tickets, err := h.tickets.ListTickets(ctx, models.TicketFilter{BranchID: branchID})
	if err != nil {
		return apiError(err)
	}

	counters, err := h.counters.ListCounters(ctx, branchID)
	if err != nil {
		return apiError(err)
	}

	return e.JSON(http.StatusOK, map[string]any{
		"tickets":  tickets,
		"counters": counters,
	})
}
