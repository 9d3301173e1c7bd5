package services

import (
	"fmt"
	"log"

	pubnub "github.com/pubnub/go"

	"queue-system/models"
	"queue-system/monitoring"
)

// Publisher fans mutations out on the per-branch realtime channel. Events
// always carry the entity's full current state; subscribers merge them
// idempotently, so a failed or duplicated publish never corrupts a client
// projection. Publish failures are counted and logged, never returned to
// the mutation path.
type Publisher struct {
	pubnub *pubnub.PubNub
}

func NewPublisher(pn *pubnub.PubNub) *Publisher {
	return &Publisher{pubnub: pn}
}

func BranchChannel(branchID string) string {
	return fmt.Sprintf("branch-%s", branchID)
}

func (p *Publisher) TicketEvent(kind string, ticket *models.Ticket) {
	p.publish(models.Event{
		Kind:     kind,
		BranchID: ticket.BranchID,
		Ticket:   ticket,
	})
}

func (p *Publisher) TicketDeleted(branchID, ticketID string) {
	p.publish(models.Event{
		Kind:     models.EventTicketDeleted,
		BranchID: branchID,
		EntityID: ticketID,
	})
}

func (p *Publisher) CounterEvent(kind string, counter *models.Counter) {
	p.publish(models.Event{
		Kind:     kind,
		BranchID: counter.BranchID,
		Counter:  counter,
	})
}

func (p *Publisher) CounterDeleted(branchID, counterID string) {
	p.publish(models.Event{
		Kind:     models.EventCounterDeleted,
		BranchID: branchID,
		EntityID: counterID,
	})
}

func (p *Publisher) publish(event models.Event) {
	if p == nil || p.pubnub == nil {
		return
	}

	_, pnStatus, err := p.pubnub.Publish().
		Channel(BranchChannel(event.BranchID)).
		Message(event).
		Execute()
	if err == nil {
		err = pnStatus.Error
	}
	if err != nil {
		monitoring.TrackEventPublish(event.Kind, "error")
		log.Printf("Error publishing %s event for branch %s: %v", event.Kind, event.BranchID, err)
		return
	}

	monitoring.TrackEventPublish(event.Kind, "success")
}
