package projection

import (
	"fmt"
	"sync"

	"queue-system/models"
	"queue-system/services"
)

// Projection is a client's local view of one branch, built by replaying a
// snapshot fetch and then merging the event stream. Merges are by id and
// idempotent: every event carries the entity's full state, and a payload
// whose updated_at is older than what the projection already holds is
// dropped, so duplicated, replayed or reordered delivery converges to the
// same view.
type Projection struct {
	mu       sync.RWMutex
	branchID string
	tickets  map[string]models.Ticket
	counters map[string]models.Counter
	stale    bool

	// notifiedTransfers remembers the preferred counter each ticket was
	// last surfaced for, so redelivery of the same logical transfer does
	// not re-notify.
	notifiedTransfers map[string]string

	onTransfer func(ticket models.Ticket)
	onCalled   func(ticket models.Ticket)
}

func New(branchID string) *Projection {
	return &Projection{
		branchID:          branchID,
		tickets:           make(map[string]models.Ticket),
		counters:          make(map[string]models.Counter),
		notifiedTransfers: make(map[string]string),
	}
}

// OnTransfer registers the callback surfaced at most once per new transfer:
// a transition where preferred_counter_id becomes non-null or changes value
// while the ticket is waiting.
func (p *Projection) OnTransfer(fn func(ticket models.Ticket)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onTransfer = fn
}

// OnCalled registers the callback for call announcements. Announcements do
// not mutate the projection; the accompanying update event does.
func (p *Projection) OnCalled(fn func(ticket models.Ticket)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onCalled = fn
}

// ApplySnapshot replaces the projection with the authoritative server
// state. Transfer dedup state survives the replacement so a resnapshot does
// not re-announce transfers the client already surfaced.
func (p *Projection) ApplySnapshot(tickets []models.Ticket, counters []models.Counter) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.tickets = make(map[string]models.Ticket, len(tickets))
	p.counters = make(map[string]models.Counter, len(counters))
	p.stale = false

	for _, ticket := range tickets {
		p.mergeTicket(ticket)
	}
	for _, counter := range counters {
		p.counters[counter.ID] = counter
	}
}

// Apply merges one event into the projection. Safe to call with duplicates
// and with events arriving in any order.
func (p *Projection) Apply(event models.Event) error {
	if event.BranchID != p.branchID {
		return fmt.Errorf("event for branch %s applied to projection of branch %s", event.BranchID, p.branchID)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	switch event.Kind {
	case models.EventTicketCreated, models.EventTicketUpdated:
		p.mergeTicket(*event.Ticket)
	case models.EventTicketDeleted:
		delete(p.tickets, event.EntityID)
		delete(p.notifiedTransfers, event.EntityID)
	case models.EventTicketCalled:
		if p.onCalled != nil {
			p.onCalled(*event.Ticket)
		}
	case models.EventCounterCreated, models.EventCounterUpdated:
		p.mergeCounter(*event.Counter)
	case models.EventCounterDeleted:
		delete(p.counters, event.EntityID)
	default:
		return fmt.Errorf("unrecognized event kind %q", event.Kind)
	}
	return nil
}

// mergeTicket upserts by id, guarded by the monotonic updated_at field:
// stale-but-valid full states never overwrite newer ones.
func (p *Projection) mergeTicket(ticket models.Ticket) {
	if existing, ok := p.tickets[ticket.ID]; ok && existing.UpdatedAt.After(ticket.UpdatedAt) {
		return
	}
	p.tickets[ticket.ID] = ticket
	p.checkTransfer(ticket)
}

func (p *Projection) mergeCounter(counter models.Counter) {
	if existing, ok := p.counters[counter.ID]; ok && existing.UpdatedAt.After(counter.UpdatedAt) {
		return
	}
	p.counters[counter.ID] = counter
}

func (p *Projection) checkTransfer(ticket models.Ticket) {
	if ticket.Status != models.StatusWaiting || ticket.PreferredCounterID == nil {
		// Preference got consumed (or never existed); forget it so the
		// next transfer to the same counter notifies again.
		delete(p.notifiedTransfers, ticket.ID)
		return
	}

	preferred := *ticket.PreferredCounterID
	if p.notifiedTransfers[ticket.ID] == preferred {
		return
	}
	p.notifiedTransfers[ticket.ID] = preferred
	if p.onTransfer != nil {
		p.onTransfer(ticket)
	}
}

// Ticket returns the projected ticket by id.
func (p *Projection) Ticket(id string) (models.Ticket, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ticket, ok := p.tickets[id]
	return ticket, ok
}

// Tickets returns a copy of all projected tickets.
func (p *Projection) Tickets() []models.Ticket {
	p.mu.RLock()
	defer p.mu.RUnlock()

	tickets := make([]models.Ticket, 0, len(p.tickets))
	for _, ticket := range p.tickets {
		tickets = append(tickets, ticket)
	}
	return tickets
}

// WaitingFor returns the waiting tickets of a service in queue order.
func (p *Projection) WaitingFor(serviceID string) []models.Ticket {
	p.mu.RLock()
	defer p.mu.RUnlock()

	waiting := make([]models.Ticket, 0)
	for _, ticket := range p.tickets {
		if ticket.Status != models.StatusWaiting {
			continue
		}
		if serviceID != "" && ticket.ServiceID != serviceID {
			continue
		}
		waiting = append(waiting, ticket)
	}
	services.SortWaiting(waiting)
	return waiting
}

// Counter returns the projected counter by id.
func (p *Projection) Counter(id string) (models.Counter, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	counter, ok := p.counters[id]
	return counter, ok
}

// Counters returns a copy of all projected counters.
func (p *Projection) Counters() []models.Counter {
	p.mu.RLock()
	defer p.mu.RUnlock()

	counters := make([]models.Counter, 0, len(p.counters))
	for _, counter := range p.counters {
		counters = append(counters, counter)
	}
	return counters
}

// SetStale flags the projection as last-known-state after reconnection
// gave up. The data stays readable; it is just no longer live.
func (p *Projection) SetStale(stale bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stale = stale
}

func (p *Projection) Stale() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.stale
}
