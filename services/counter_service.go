package services

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"queue-system/config"
	"queue-system/internal/status"
	"queue-system/models"
	"queue-system/monitoring"
)

// CounterService is the registry of service counters: who occupies each one,
// whether the occupant is still alive, and which ticket the counter is
// serving. The staff slot is exclusive; assignment is a test-and-set script
// and a stale heartbeat makes the slot reclaimable without a release.
type CounterService struct {
	Redis  *redis.Client
	config *config.Config
	events *Publisher

	stopChan chan struct{}
	wg       sync.WaitGroup
}

func NewCounterService(redisClient *redis.Client, cfg *config.Config, events *Publisher) *CounterService {
	return &CounterService{
		Redis:    redisClient,
		config:   cfg,
		events:   events,
		stopChan: make(chan struct{}),
	}
}

func counterKey(branchID, counterID string) string {
	return fmt.Sprintf("counter:%s:%s", branchID, counterID)
}

func branchCountersKey(branchID string) string {
	return fmt.Sprintf("counters:branch:%s", branchID)
}

// EnsureCounter upserts a counter definition into the registry. Occupancy
// fields are left alone so a config re-sync does not kick out working staff.
func (s *CounterService) EnsureCounter(ctx context.Context, branchID, counterID, name string) error {
	if counterID == "" || branchID == "" {
		return status.NewValidationError("counter_id", "and branch_id are required")
	}

	key := counterKey(branchID, counterID)
	existed, err := s.Redis.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("check counter: %w", err)
	}

	fields := map[string]any{
		"id":         counterID,
		"branch_id":  branchID,
		"name":       name,
		"updated_at": time.Now().UTC().Format(time.RFC3339Nano),
	}
	if existed == 0 {
		fields["is_active"] = "0"
	}

	if err := s.Redis.HSet(ctx, key, fields).Err(); err != nil {
		return fmt.Errorf("store counter: %w", err)
	}
	if err := s.Redis.SAdd(ctx, branchCountersKey(branchID), counterID).Err(); err != nil {
		return fmt.Errorf("index counter: %w", err)
	}

	counter, err := s.GetCounter(ctx, branchID, counterID)
	if err == nil {
		kind := models.EventCounterUpdated
		if existed == 0 {
			kind = models.EventCounterCreated
		}
		s.events.CounterEvent(kind, counter)
	}
	return nil
}

// RemoveCounter drops a counter from the registry.
func (s *CounterService) RemoveCounter(ctx context.Context, branchID, counterID string) error {
	if err := s.Redis.Del(ctx, counterKey(branchID, counterID)).Err(); err != nil {
		return fmt.Errorf("remove counter: %w", err)
	}
	if err := s.Redis.SRem(ctx, branchCountersKey(branchID), counterID).Err(); err != nil {
		return fmt.Errorf("unindex counter: %w", err)
	}
	s.events.CounterDeleted(branchID, counterID)
	return nil
}

// Assign claims the counter's staff slot. On conflict the current
// assignment is returned alongside ErrCounterOccupied so the operator can
// see who holds it; an abandoned occupant (stale last ping) is overwritten.
func (s *CounterService) Assign(ctx context.Context, branchID, counterID, staffID string) (*models.Counter, error) {
	if staffID == "" {
		return nil, status.NewValidationError("staff_id", "is required")
	}

	now := time.Now().UTC()
	res, err := s.Redis.Eval(ctx, assignCounterScript,
		[]string{counterKey(branchID, counterID)},
		staffID,
		strconv.FormatInt(now.Unix(), 10),
		strconv.FormatInt(int64(s.config.CounterLivenessTimeout.Seconds()), 10),
		now.Format(time.RFC3339Nano),
		ticketKey(branchID, ""),
	).Result()
	if err != nil {
		return nil, fmt.Errorf("assign counter: %w", err)
	}

	ok, detail := parseScriptResult(res)
	if !ok && detail == "not_found" {
		return nil, status.ErrCounterNotFound
	}

	counter, err := s.GetCounter(ctx, branchID, counterID)
	if err != nil {
		return nil, err
	}

	if !ok {
		monitoring.TrackQueueOperation("assign", branchID, "conflict")
		return counter, status.ErrCounterOccupied
	}

	if detail != "" {
		// The reclaim sent the abandoned occupant's ticket back to waiting.
		s.publishRequeued(ctx, branchID, detail)
	}

	monitoring.TrackQueueOperation("assign", branchID, "success")
	s.events.CounterEvent(models.EventCounterUpdated, counter)
	return counter, nil
}

// Release frees the counter. Idempotent: releasing an already-free counter
// succeeds.
func (s *CounterService) Release(ctx context.Context, branchID, counterID string) error {
	key := counterKey(branchID, counterID)
	existed, err := s.Redis.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("check counter: %w", err)
	}
	if existed == 0 {
		return status.ErrCounterNotFound
	}

	s.requeueCurrent(ctx, branchID, counterID)

	if err := s.Redis.HDel(ctx, key, "staff_id", "current_ticket_id", "last_ping").Err(); err != nil {
		return fmt.Errorf("release counter: %w", err)
	}
	if err := s.Redis.HSet(ctx, key,
		"is_active", "0",
		"updated_at", time.Now().UTC().Format(time.RFC3339Nano),
	).Err(); err != nil {
		return fmt.Errorf("release counter: %w", err)
	}

	monitoring.TrackQueueOperation("release", branchID, "success")
	counter, err := s.GetCounter(ctx, branchID, counterID)
	if err == nil {
		s.events.CounterEvent(models.EventCounterUpdated, counter)
	}
	return nil
}

// requeueCurrent sends the counter's in-flight ticket back to waiting so a
// release never strands a serving ticket without an owner. The ticket keeps
// its seniority; a missing or already-finished ticket is left alone.
func (s *CounterService) requeueCurrent(ctx context.Context, branchID, counterID string) {
	current, err := s.Redis.HGet(ctx, counterKey(branchID, counterID), "current_ticket_id").Result()
	if err != nil || current == "" {
		return
	}

	res, err := s.Redis.Eval(ctx, transitionTicketScript,
		[]string{ticketKey(branchID, current)},
		models.StatusServing,
		models.StatusWaiting,
		time.Now().UTC().Format(time.RFC3339Nano),
		"counter_id", "",
		"called_at", "",
	).Result()
	if err != nil {
		log.Printf("Error requeueing ticket %s from counter %s: %v", current, counterID, err)
		return
	}
	if ok, _ := parseScriptResult(res); !ok {
		return
	}

	s.publishRequeued(ctx, branchID, current)
}

// publishRequeued announces a ticket that a release or reclaim sent back to
// waiting.
func (s *CounterService) publishRequeued(ctx context.Context, branchID, ticketID string) {
	fields, err := s.Redis.HGetAll(ctx, ticketKey(branchID, ticketID)).Result()
	if err != nil || len(fields) == 0 {
		return
	}
	ticket := parseTicket(fields)
	s.events.TicketEvent(models.EventTicketUpdated, &ticket)
}

// Heartbeat refreshes the occupant's liveness timestamp.
func (s *CounterService) Heartbeat(ctx context.Context, branchID, counterID string) error {
	key := counterKey(branchID, counterID)
	existed, err := s.Redis.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("check counter: %w", err)
	}
	if existed == 0 {
		return status.ErrCounterNotFound
	}

	return s.Redis.HSet(ctx, key,
		"last_ping", strconv.FormatInt(time.Now().Unix(), 10),
	).Err()
}

func (s *CounterService) GetCounter(ctx context.Context, branchID, counterID string) (*models.Counter, error) {
	fields, err := s.Redis.HGetAll(ctx, counterKey(branchID, counterID)).Result()
	if err != nil {
		return nil, fmt.Errorf("fetch counter: %w", err)
	}
	if len(fields) == 0 {
		return nil, status.ErrCounterNotFound
	}
	counter := parseCounter(fields)
	return &counter, nil
}

// ListCounters returns all counters of a branch ordered by name.
func (s *CounterService) ListCounters(ctx context.Context, branchID string) ([]models.Counter, error) {
	ids, err := s.Redis.SMembers(ctx, branchCountersKey(branchID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list counters: %w", err)
	}

	counters := make([]models.Counter, 0, len(ids))
	for _, id := range ids {
		fields, err := s.Redis.HGetAll(ctx, counterKey(branchID, id)).Result()
		if err != nil || len(fields) == 0 {
			continue
		}
		counters = append(counters, parseCounter(fields))
	}

	sort.Slice(counters, func(i, j int) bool {
		if counters[i].Name == counters[j].Name {
			return counters[i].ID < counters[j].ID
		}
		return counters[i].Name < counters[j].Name
	})

	return counters, nil
}

// ListAvailable returns counters without a live occupant, ordered by name.
// Counters whose occupant stopped pinging past the liveness timeout count
// as available.
func (s *CounterService) ListAvailable(ctx context.Context, branchID string) ([]models.Counter, error) {
	counters, err := s.ListCounters(ctx, branchID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	available := make([]models.Counter, 0, len(counters))
	for _, counter := range counters {
		if counter.Occupied(s.config.CounterLivenessTimeout, now) {
			continue
		}
		available = append(available, counter)
	}
	return available, nil
}

// StartSweep launches the abandonment sweep: counters whose occupant
// stopped pinging are released so their slot frees up even without an
// explicit release call.
func (s *CounterService) StartSweep(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.config.CounterSweepInterval)
		defer ticker.Stop()

		log.Println("Counter liveness sweep started")
		for {
			select {
			case <-ticker.C:
				s.sweepAbandoned(ctx)
			case <-s.stopChan:
				log.Println("Counter liveness sweep stopping")
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (s *CounterService) sweepAbandoned(ctx context.Context) {
	branchKeys, err := s.Redis.Keys(ctx, "counters:branch:*").Result()
	if err != nil {
		log.Printf("Error listing counter branches: %v", err)
		return
	}

	now := time.Now()
	for _, key := range branchKeys {
		branchID := key[len("counters:branch:"):]

		counters, err := s.ListCounters(ctx, branchID)
		if err != nil {
			continue
		}

		occupied := 0
		for _, counter := range counters {
			if counter.StaffID == nil || *counter.StaffID == "" {
				continue
			}
			if counter.Occupied(s.config.CounterLivenessTimeout, now) {
				occupied++
				continue
			}

			log.Printf("Counter %s in branch %s abandoned by staff %s, releasing",
				counter.ID, branchID, *counter.StaffID)
			if err := s.Release(ctx, branchID, counter.ID); err != nil {
				log.Printf("Error releasing abandoned counter %s: %v", counter.ID, err)
			}
			monitoring.TrackQueueOperation("reclaim", branchID, "success")
		}

		monitoring.SetOccupiedCounters(branchID, occupied)
	}
}

// Shutdown stops the sweep goroutine and waits for it to exit.
func (s *CounterService) Shutdown() {
	close(s.stopChan)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		log.Println("Timeout waiting for counter sweep to stop")
	}
}

func parseCounter(fields map[string]string) models.Counter {
	counter := models.Counter{
		ID:       fields["id"],
		BranchID: fields["branch_id"],
		Name:     fields["name"],
		IsActive: fields["is_active"] == "1",
	}

	counter.UpdatedAt = parseTime(fields["updated_at"])

	if v := fields["staff_id"]; v != "" {
		counter.StaffID = &v
	}
	if v := fields["current_ticket_id"]; v != "" {
		counter.CurrentTicketID = &v
	}
	if v := fields["last_ping"]; v != "" {
		if unix, err := strconv.ParseInt(v, 10, 64); err == nil {
			ping := time.Unix(unix, 0).UTC()
			counter.LastPing = &ping
		}
	}

	return counter
}
