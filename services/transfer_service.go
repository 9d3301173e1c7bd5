package services

import (
	"context"
	"log"

	"queue-system/internal/status"
	"queue-system/models"
)

// TransferService moves a ticket's serving preference to another counter.
// The ticket goes back to waiting and keeps its number, priority and
// created_at, so it re-enters the queue with its original seniority rather
// than at the back.
type TransferService struct {
	tickets  *TicketStore
	counters *CounterService
}

func NewTransferService(tickets *TicketStore, counters *CounterService) *TransferService {
	return &TransferService{
		tickets:  tickets,
		counters: counters,
	}
}

func (s *TransferService) Transfer(ctx context.Context, branchID, ticketID, targetCounterID, reason string) (*models.Ticket, error) {
	if targetCounterID == "" {
		return nil, status.NewValidationError("target_counter_id", "is required")
	}

	if _, err := s.counters.GetCounter(ctx, branchID, targetCounterID); err != nil {
		return nil, err
	}

	ticket, err := s.tickets.Requeue(ctx, branchID, ticketID, targetCounterID, reason)
	if err != nil {
		return nil, err
	}

	log.Printf("Ticket %s (%s) transferred to counter %s in branch %s",
		ticket.TicketNumber, ticket.ID, targetCounterID, branchID)
	return ticket, nil
}
