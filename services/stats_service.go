package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"queue-system/config"
	"queue-system/models"
)

// StatsService keeps the per-branch/day aggregates: live waiting/serving
// counts plus running averages of wait and service duration. Averages are
// accumulated as (total, samples) pairs and divided with decimal so the
// reported value rounds stably to one decimal place.
type StatsService struct {
	Redis  *redis.Client
	config *config.Config

	stopChan chan struct{}
	wg       sync.WaitGroup
}

func NewStatsService(redisClient *redis.Client, cfg *config.Config) *StatsService {
	return &StatsService{
		Redis:    redisClient,
		config:   cfg,
		stopChan: make(chan struct{}),
	}
}

func statsKey(branchID string, day time.Time) string {
	return fmt.Sprintf("stats:%s:%s", branchID, day.UTC().Format("2006-01-02"))
}

func statsCacheKey(branchID string) string {
	return fmt.Sprintf("stats:cache:%s", branchID)
}

// RecordWait accumulates the created-to-called duration of a ticket.
func (s *StatsService) RecordWait(ctx context.Context, branchID string, wait time.Duration) {
	key := statsKey(branchID, time.Now())
	s.Redis.HIncrByFloat(ctx, key, "wait_total_seconds", wait.Seconds())
	s.Redis.HIncrBy(ctx, key, "wait_samples", 1)
	s.Redis.Expire(ctx, key, 72*time.Hour)
}

// RecordService accumulates the called-to-finished duration of a ticket.
// Only completed (not skipped) tickets bump the completed counter.
func (s *StatsService) RecordService(ctx context.Context, branchID string, duration time.Duration, completed bool) {
	key := statsKey(branchID, time.Now())
	s.Redis.HIncrByFloat(ctx, key, "service_total_seconds", duration.Seconds())
	s.Redis.HIncrBy(ctx, key, "service_samples", 1)
	if completed {
		s.Redis.HIncrBy(ctx, key, "completed_count", 1)
	}
	s.Redis.Expire(ctx, key, 72*time.Hour)
}

// GetStats computes today's aggregate for a branch.
func (s *StatsService) GetStats(ctx context.Context, branchID string) (*models.QueueStats, error) {
	now := time.Now().UTC()
	fields, err := s.Redis.HGetAll(ctx, statsKey(branchID, now)).Result()
	if err != nil {
		return nil, fmt.Errorf("fetch stats: %w", err)
	}

	waiting, serving, err := s.countActive(ctx, branchID)
	if err != nil {
		return nil, err
	}

	stats := &models.QueueStats{
		BranchID:       branchID,
		Date:           now.Format("2006-01-02"),
		WaitingCount:   waiting,
		ServingCount:   serving,
		CompletedCount: parseIntField(fields, "completed_count"),
		AvgWaitTime:    runningAverage(fields, "wait_total_seconds", "wait_samples"),
		AvgServiceTime: runningAverage(fields, "service_total_seconds", "service_samples"),
		LastUpdated:    now,
	}
	return stats, nil
}

// AvgServiceSeconds returns the observed average service time for wait
// estimation, falling back to the configured default when there is no
// history yet.
func (s *StatsService) AvgServiceSeconds(ctx context.Context, branchID string) time.Duration {
	fields, err := s.Redis.HGetAll(ctx, statsKey(branchID, time.Now())).Result()
	if err != nil || parseIntField(fields, "service_samples") == 0 {
		return s.config.DefaultAvgServiceTime
	}
	avg := runningAverage(fields, "service_total_seconds", "service_samples")
	return time.Duration(avg * float64(time.Second))
}

func (s *StatsService) countActive(ctx context.Context, branchID string) (waiting, serving int, err error) {
	ids, err := s.Redis.SMembers(ctx, branchTicketsKey(branchID)).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("count active tickets: %w", err)
	}

	for _, id := range ids {
		st, err := s.Redis.HGet(ctx, ticketKey(branchID, id), "status").Result()
		if err != nil {
			continue
		}
		switch st {
		case models.StatusWaiting:
			waiting++
		case models.StatusServing:
			serving++
		}
	}
	return waiting, serving, nil
}

// StartRefresh caches each branch's stats on a fixed poll so dashboard
// reads stay cheap. The cached copy also serves as the last-known value if
// a live recompute fails.
func (s *StatsService) StartRefresh(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.config.StatsRefreshInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.refreshAll(ctx)
			case <-s.stopChan:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (s *StatsService) refreshAll(ctx context.Context) {
	branchKeys, err := s.Redis.Keys(ctx, "tickets:branch:*").Result()
	if err != nil {
		log.Printf("Error listing branches for stats refresh: %v", err)
		return
	}

	for _, key := range branchKeys {
		branchID := key[len("tickets:branch:"):]
		stats, err := s.GetStats(ctx, branchID)
		if err != nil {
			log.Printf("Error refreshing stats for branch %s: %v", branchID, err)
			continue
		}

		data, err := json.Marshal(stats)
		if err != nil {
			continue
		}
		s.Redis.Set(ctx, statsCacheKey(branchID), data, 3*s.config.StatsRefreshInterval)
	}
}

// CachedStats returns the last refreshed aggregate, if one exists.
func (s *StatsService) CachedStats(ctx context.Context, branchID string) (*models.QueueStats, bool) {
	data, err := s.Redis.Get(ctx, statsCacheKey(branchID)).Result()
	if err != nil {
		return nil, false
	}

	var stats models.QueueStats
	if err := json.Unmarshal([]byte(data), &stats); err != nil {
		return nil, false
	}
	return &stats, true
}

// Shutdown stops the refresh goroutine.
func (s *StatsService) Shutdown() {
	close(s.stopChan)
	s.wg.Wait()
}

func parseIntField(fields map[string]string, name string) int {
	value, _ := strconv.Atoi(fields[name])
	return value
}

func runningAverage(fields map[string]string, totalField, samplesField string) float64 {
	samples := parseIntField(fields, samplesField)
	if samples == 0 {
		return 0
	}

	total, err := decimal.NewFromString(fields[totalField])
	if err != nil {
		return 0
	}

	avg, _ := total.Div(decimal.NewFromInt(int64(samples))).Round(1).Float64()
	return avg
}
