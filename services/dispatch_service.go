package services

import (
	"context"
	"log"

	"queue-system/internal/status"
	"queue-system/models"
	"queue-system/monitoring"
)

// DispatchService selects and claims the next ticket for a counter. The
// selection is optimistic: it ranks the current waiting set, then tries the
// conditional claim top-down. Losing a claim to a concurrent counter just
// drops to the next candidate, which is what keeps a ticket from ever being
// served at two counters.
type DispatchService struct {
	tickets  *TicketStore
	counters *CounterService
	events   *Publisher
}

func NewDispatchService(tickets *TicketStore, counters *CounterService, events *Publisher) *DispatchService {
	return &DispatchService{
		tickets:  tickets,
		counters: counters,
		events:   events,
	}
}

// CallNext claims the highest-ranked waiting ticket for the counter.
// serviceID may be empty, meaning any of the services bound to the counter
// (allowedServices); an empty allowedServices with an empty serviceID means
// any service at all. Returns (nil, nil) when the queue is empty - that is
// a normal outcome, not an error.
func (s *DispatchService) CallNext(ctx context.Context, branchID, serviceID, counterID string, allowedServices []string) (*models.Ticket, error) {
	if counterID == "" {
		return nil, status.NewValidationError("counter_id", "is required")
	}

	if _, err := s.counters.GetCounter(ctx, branchID, counterID); err != nil {
		return nil, err
	}

	candidates, err := s.tickets.ListTickets(ctx, models.TicketFilter{
		BranchID:  branchID,
		Status:    models.StatusWaiting,
		ServiceID: serviceID,
	})
	if err != nil {
		return nil, err
	}

	candidates = filterCandidates(candidates, counterID, serviceID, allowedServices)
	SortWaiting(candidates)

	for i := range candidates {
		ticket, err := s.tickets.MarkServing(ctx, branchID, candidates[i].ID, counterID)
		if err != nil {
			if status.IsConflict(err) {
				// Another counter got there first; try the next candidate.
				monitoring.TrackClaimConflict(branchID)
				continue
			}
			if status.IsNotFound(err) {
				continue
			}
			return nil, err
		}

		s.events.TicketEvent(models.EventTicketCalled, ticket)
		log.Printf("Counter %s called ticket %s (%s) in branch %s",
			counterID, ticket.TicketNumber, ticket.ID, branchID)
		return ticket, nil
	}

	monitoring.TrackQueueOperation("call_next", branchID, "empty")
	return nil, nil
}

// filterCandidates keeps tickets this counter may serve: a ticket carrying
// a transfer preference is reserved for its preferred counter.
func filterCandidates(tickets []models.Ticket, counterID, serviceID string, allowedServices []string) []models.Ticket {
	allowed := map[string]bool{}
	for _, id := range allowedServices {
		allowed[id] = true
	}

	kept := tickets[:0]
	for _, ticket := range tickets {
		if ticket.PreferredCounterID != nil && *ticket.PreferredCounterID != counterID {
			continue
		}
		if serviceID == "" && len(allowed) > 0 && !allowed[ticket.ServiceID] {
			continue
		}
		kept = append(kept, ticket)
	}
	return kept
}
