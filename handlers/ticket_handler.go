package handlers

import (
	"errors"
	"net/http"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"

	"queue-system/internal/status"
	"queue-system/models"
	"queue-system/services"
)

type TicketHandler struct {
	app      *pocketbase.PocketBase
	tickets  *services.TicketStore
	transfer *services.TransferService
	stats    *services.StatsService
}

func NewTicketHandler(app *pocketbase.PocketBase, tickets *services.TicketStore, transfer *services.TransferService, stats *services.StatsService) *TicketHandler {
	return &TicketHandler{
		app:      app,
		tickets:  tickets,
		transfer: transfer,
		stats:    stats,
	}
}

// ListTickets - query tickets by branch with optional filters
func (h *TicketHandler) ListTickets(e *core.RequestEvent) error {
	query := e.Request.URL.Query()

	filter := models.TicketFilter{
		BranchID:  query.Get("branch_id"),
		Status:    query.Get("status"),
		ServiceID: query.Get("service_id"),
		CounterID: query.Get("counter_id"),
		Date:      query.Get("date"),
	}

	tickets, err := h.tickets.ListTickets(e.Request.Context(), filter)
	if err != nil {
		return apiError(err)
	}

	return e.JSON(http.StatusOK, map[string]any{
		"tickets": tickets,
		"total":   len(tickets),
	})
}

// CreateTicket - issue a new waiting ticket
func (h *TicketHandler) CreateTicket(e *core.RequestEvent) error {
	var params services.CreateTicketParams
	if err := e.BindBody(&params); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}

	ticket, err := h.tickets.CreateTicket(e.Request.Context(), params)
	if err != nil {
		return apiError(err)
	}

	return e.JSON(http.StatusOK, ticket)
}

// GetTicket - fetch one ticket with its live queue position
func (h *TicketHandler) GetTicket(e *core.RequestEvent) error {
	branchID := e.Request.URL.Query().Get("branch_id")
	ticketID := e.Request.PathValue("ticketId")
	if branchID == "" {
		return apis.NewBadRequestError("Branch ID required", nil)
	}

	ctx := e.Request.Context()
	ticket, err := h.tickets.GetTicket(ctx, branchID, ticketID)
	if err != nil {
		return apiError(err)
	}

	response := map[string]any{"ticket": ticket}

	if ticket.Status == models.StatusWaiting {
		all, err := h.tickets.ListTickets(ctx, models.TicketFilter{BranchID: branchID})
		if err == nil {
			position := services.Position(ticket, all)
			wait := services.EstimatedWait(position, h.stats.AvgServiceSeconds(ctx, branchID))
			response["position"] = position
			response["estimated_wait_seconds"] = int(wait.Seconds())
			response["estimated_wait"] = services.FormatWait(wait)
		}
	}

	return e.JSON(http.StatusOK, response)
}

// TransitionTicket - apply a status transition to a ticket
func (h *TicketHandler) TransitionTicket(e *core.RequestEvent) error {
	var req struct {
		BranchID  string `json:"branch_id"`
		Status    string `json:"status"`
		CounterID string `json:"counter_id"`
		Notes     string `json:"notes"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}

	ticketID := e.Request.PathValue("ticketId")
	ctx := e.Request.Context()

	var (
		ticket *models.Ticket
		err    error
	)
	switch req.Status {
	case models.StatusServing:
		if req.CounterID == "" {
			return apis.NewBadRequestError("Counter ID required for serving", nil)
		}
		ticket, err = h.tickets.MarkServing(ctx, req.BranchID, ticketID, req.CounterID)
	case models.StatusDone:
		ticket, err = h.tickets.Complete(ctx, req.BranchID, ticketID, req.Notes)
	case models.StatusSkipped:
		ticket, err = h.tickets.Skip(ctx, req.BranchID, ticketID, req.Notes)
	case models.StatusCancelled:
		ticket, err = h.tickets.Cancel(ctx, req.BranchID, ticketID)
	default:
		return apis.NewBadRequestError("Invalid target status", nil)
	}
	if err != nil {
		return apiError(err)
	}

	return e.JSON(http.StatusOK, ticket)
}

// CancelTicket - remove a ticket from active consideration
func (h *TicketHandler) CancelTicket(e *core.RequestEvent) error {
	var req struct {
		BranchID string `json:"branch_id"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}

	ticket, err := h.tickets.Cancel(e.Request.Context(), req.BranchID, e.Request.PathValue("ticketId"))
	if err != nil {
		return apiError(err)
	}

	return e.JSON(http.StatusOK, ticket)
}

// TransferTicket - requeue a ticket toward another counter
func (h *TicketHandler) TransferTicket(e *core.RequestEvent) error {
	var req struct {
		BranchID  string `json:"branch_id"`
		CounterID string `json:"counter_id"`
		Reason    string `json:"reason"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}

	ticket, err := h.transfer.Transfer(e.Request.Context(), req.BranchID, e.Request.PathValue("ticketId"), req.CounterID, req.Reason)
	if err != nil {
		return apiError(err)
	}

	return e.JSON(http.StatusOK, ticket)
}

// apiError maps the service error taxonomy onto HTTP responses.
func apiError(err error) error {
	switch {
	case status.IsNotFound(err):
		return apis.NewNotFoundError(err.Error(), err)
	case status.IsConflict(err), errors.Is(err, status.ErrCounterBusy):
		return apis.NewApiError(http.StatusConflict, err.Error(), err)
	case status.IsValidation(err):
		return apis.NewBadRequestError(err.Error(), err)
	default:
		return apis.NewApiError(http.StatusInternalServerError, "Internal error", err)
	}
}
