package models

import (
	"encoding/json"
	"fmt"
)

// Event kinds form a closed set. Anything else arriving on the wire is
// rejected at the synchronization boundary instead of being merged blindly.
const (
	EventTicketCreated  = "ticket.created"
	EventTicketUpdated  = "ticket.updated"
	EventTicketDeleted  = "ticket.deleted"
	EventTicketCalled   = "ticket.called" // announcement only, not a state change
	EventCounterCreated = "counter.created"
	EventCounterUpdated = "counter.updated"
	EventCounterDeleted = "counter.deleted"
)

// Event is the wire payload for the per-branch realtime channel. Ticket and
// counter events always carry the entity's full current state so that
// reapplication is correct regardless of arrival order; deletes carry only
// the id.
type Event struct {
	Kind     string   `json:"kind"`
	BranchID string   `json:"branch_id"`
	Ticket   *Ticket  `json:"ticket,omitempty"`
	Counter  *Counter `json:"counter,omitempty"`
	// EntityID identifies the subject for delete events.
	EntityID string `json:"entity_id,omitempty"`
}

func ValidEventKind(kind string) bool {
	switch kind {
	case EventTicketCreated, EventTicketUpdated, EventTicketDeleted, EventTicketCalled,
		EventCounterCreated, EventCounterUpdated, EventCounterDeleted:
		return true
	}
	return false
}

// DecodeEvent parses and validates a raw channel message. PubNub hands
// messages over as decoded map[string]any, so the payload is round-tripped
// through JSON before strict validation.
func DecodeEvent(raw any) (Event, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return Event{}, fmt.Errorf("encode event payload: %w", err)
	}

	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		return Event{}, fmt.Errorf("decode event payload: %w", err)
	}

	if !ValidEventKind(event.Kind) {
		return Event{}, fmt.Errorf("unrecognized event kind %q", event.Kind)
	}
	if event.BranchID == "" {
		return Event{}, fmt.Errorf("event %q missing branch_id", event.Kind)
	}

	switch event.Kind {
	case EventTicketCreated, EventTicketUpdated, EventTicketCalled:
		if event.Ticket == nil || event.Ticket.ID == "" {
			return Event{}, fmt.Errorf("event %q missing ticket state", event.Kind)
		}
	case EventCounterCreated, EventCounterUpdated:
		if event.Counter == nil || event.Counter.ID == "" {
			return Event{}, fmt.Errorf("event %q missing counter state", event.Kind)
		}
	case EventTicketDeleted, EventCounterDeleted:
		if event.EntityID == "" {
			return Event{}, fmt.Errorf("event %q missing entity_id", event.Kind)
		}
	}

	return event, nil
}
