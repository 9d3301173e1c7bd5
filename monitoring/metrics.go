package monitoring

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
)

var (
	ticketsByStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "queue_tickets_total",
			Help: "Current ticket count per branch and status",
		},
		[]string{"branch_id", "status"},
	)

	occupiedCounters = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "queue_occupied_counters_total",
			Help: "Current number of occupied counters per branch",
		},
		[]string{"branch_id"},
	)

	queueOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_operations_total",
			Help: "Total queue operations",
		},
		[]string{"operation", "branch_id", "status"},
	)

	claimConflicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_claim_conflicts_total",
			Help: "Call-next claims lost to a concurrent counter",
		},
		[]string{"branch_id"},
	)

	eventPublishes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_event_publishes_total",
			Help: "Realtime events published by kind",
		},
		[]string{"kind", "status"},
	)

	serviceDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "queue_service_duration_seconds",
			Help:    "Time from call to completion per branch",
			Buckets: prometheus.ExponentialBuckets(15, 2, 10),
		},
		[]string{"branch_id"},
	)
)

type Monitor struct {
	redis *redis.Client
}

func NewMonitor(redisClient *redis.Client) *Monitor {
	return &Monitor{redis: redisClient}
}

// CollectLoop refreshes the depth gauges until ctx is cancelled.
func (m *Monitor) CollectLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.collectQueueDepths(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (m *Monitor) collectQueueDepths(ctx context.Context) {
	branchKeys, err := m.redis.Keys(ctx, "tickets:branch:*").Result()
	if err != nil {
		return
	}

	for _, key := range branchKeys {
		branchID := key[len("tickets:branch:"):]

		ids, err := m.redis.SMembers(ctx, key).Result()
		if err != nil {
			continue
		}

		counts := map[string]int{}
		for _, id := range ids {
			ticketKey := fmt.Sprintf("ticket:%s:%s", branchID, id)
			status, err := m.redis.HGet(ctx, ticketKey, "status").Result()
			if err != nil {
				continue
			}
			counts[status]++
		}

		for status, count := range counts {
			ticketsByStatus.WithLabelValues(branchID, status).Set(float64(count))
		}
	}
}

// SetOccupiedCounters updates the occupancy gauge for a branch.
func SetOccupiedCounters(branchID string, count int) {
	occupiedCounters.WithLabelValues(branchID).Set(float64(count))
}

// TrackQueueOperation counts a queue operation outcome.
func TrackQueueOperation(operation, branchID, outcome string) {
	queueOperations.WithLabelValues(operation, branchID, outcome).Inc()
}

// TrackClaimConflict counts a call-next claim lost to another counter.
func TrackClaimConflict(branchID string) {
	claimConflicts.WithLabelValues(branchID).Inc()
}

// TrackEventPublish counts a realtime event publish attempt.
func TrackEventPublish(kind, outcome string) {
	eventPublishes.WithLabelValues(kind, outcome).Inc()
}

// TrackServiceDuration records the call-to-completion time of a ticket.
func TrackServiceDuration(branchID string, duration time.Duration) {
	serviceDuration.WithLabelValues(branchID).Observe(duration.Seconds())
}
