package projection

import (
	"context"
	"log"
	"sync"
	"time"

	pubnub "github.com/pubnub/go"

	"queue-system/config"
	"queue-system/internal/status"
	"queue-system/models"
	"queue-system/services"
	"queue-system/utils"
)

// SnapshotFunc fetches the authoritative branch state. Events emitted while
// a subscriber was disconnected are not buffered or replayed, so every
// reconnect must refetch a full snapshot.
type SnapshotFunc func(ctx context.Context) ([]models.Ticket, []models.Counter, error)

// Subscriber keeps a Projection converged with the per-branch event
// channel: snapshot first, then the live stream. Transient channel failures
// trigger bounded backoff reconnection plus a resnapshot; if the policy is
// exhausted the projection degrades to stale last-known state instead of
// being discarded.
type Subscriber struct {
	pubnub     *pubnub.PubNub
	config     *config.Config
	branchID   string
	projection *Projection
	snapshot   SnapshotFunc
	breaker    *utils.CircuitBreaker

	listener *pubnub.Listener
	stopChan chan struct{}
	wg       sync.WaitGroup
}

func NewSubscriber(pn *pubnub.PubNub, cfg *config.Config, branchID string, proj *Projection, snapshot SnapshotFunc) *Subscriber {
	return &Subscriber{
		pubnub:     pn,
		config:     cfg,
		branchID:   branchID,
		projection: proj,
		snapshot:   snapshot,
		breaker:    utils.NewCircuitBreaker("snapshot-" + branchID),
		stopChan:   make(chan struct{}),
	}
}

// Start fetches the initial snapshot and launches the listener loop.
func (s *Subscriber) Start(ctx context.Context) error {
	if err := s.refetchSnapshot(ctx); err != nil {
		return err
	}

	s.listener = pubnub.NewListener()
	s.pubnub.AddListener(s.listener)
	s.pubnub.Subscribe().
		Channels([]string{services.BranchChannel(s.branchID)}).
		Execute()

	s.wg.Add(1)
	go s.listenLoop(ctx)
	return nil
}

func (s *Subscriber) listenLoop(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case message := <-s.listener.Message:
			s.handleMessage(message)
		case pnStatus := <-s.listener.Status:
			s.handleStatus(ctx, pnStatus)
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Subscriber) handleMessage(message *pubnub.PNMessage) {
	if message == nil {
		return
	}

	event, err := models.DecodeEvent(message.Message)
	if err != nil {
		// Unrecognized shapes are logged and rejected, never merged.
		log.Printf("Rejected event on channel %s: %v", message.Channel, err)
		return
	}

	if err := s.projection.Apply(event); err != nil {
		log.Printf("Error applying %s event: %v", event.Kind, err)
	}
}

func (s *Subscriber) handleStatus(ctx context.Context, pnStatus *pubnub.PNStatus) {
	if pnStatus == nil {
		return
	}

	switch pnStatus.Category {
	case pubnub.PNReconnectedCategory:
		// The channel came back by itself; events emitted while away are
		// gone, so refetch.
		if err := s.refetchSnapshot(ctx); err != nil {
			log.Printf("Error resnapshotting branch %s after reconnect: %v", s.branchID, err)
		}
	case pubnub.PNDisconnectedCategory, pubnub.PNTimeoutCategory, pubnub.PNReconnectionAttemptsExhausted:
		s.reconnect(ctx)
	}
}

// reconnect retries the channel with exponential backoff up to the
// configured attempt budget, resnapshotting on success. Exhausting the
// budget leaves the projection readable but flagged stale.
func (s *Subscriber) reconnect(ctx context.Context) {
	channel := services.BranchChannel(s.branchID)
	delay := s.config.ReconnectBaseDelay

	for attempt := 1; attempt <= s.config.ReconnectMaxAttempts; attempt++ {
		select {
		case <-time.After(delay):
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		}

		log.Printf("Reconnecting event channel %s (attempt %d/%d)",
			channel, attempt, s.config.ReconnectMaxAttempts)

		s.pubnub.Subscribe().
			Channels([]string{channel}).
			Execute()

		if err := s.refetchSnapshot(ctx); err == nil {
			log.Printf("Event channel %s reconnected", channel)
			return
		}

		delay *= 2
		if delay > s.config.ReconnectMaxDelay {
			delay = s.config.ReconnectMaxDelay
		}
	}

	log.Printf("Event channel %s unavailable, keeping last-known state: %v",
		channel, status.ErrChannelDown)
	s.projection.SetStale(true)
}

func (s *Subscriber) refetchSnapshot(ctx context.Context) error {
	_, err := s.breaker.Execute(ctx, func() (any, error) {
		tickets, counters, err := s.snapshot(ctx)
		if err != nil {
			return nil, err
		}
		s.projection.ApplySnapshot(tickets, counters)
		return nil, nil
	})
	return err
}

// Stop tears the subscription down and waits for the listener loop.
func (s *Subscriber) Stop() {
	close(s.stopChan)

	s.pubnub.Unsubscribe().
		Channels([]string{services.BranchChannel(s.branchID)}).
		Execute()
	if s.listener != nil {
		s.pubnub.RemoveListener(s.listener)
	}

	s.wg.Wait()
}
