package services

import (
	"fmt"
	"sort"
	"time"

	"queue-system/models"
)

// Queue ordering is a pure computation over the current ticket set: among
// waiting tickets of one service, higher priority ranks first, and within a
// priority class earlier arrival ranks first. Ticket id breaks the
// (unlikely) exact-timestamp tie so the order is total and stable.

// RanksBefore reports whether a ranks strictly before b in the waiting
// order.
func RanksBefore(a, b *models.Ticket) bool {
	if a.PriorityLevel != b.PriorityLevel {
		return a.PriorityLevel > b.PriorityLevel
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// Position returns the 1-based queue position of ticket among allTickets:
// one more than the number of waiting tickets of the same service that rank
// strictly before it. Deterministic for identical inputs.
func Position(ticket *models.Ticket, allTickets []models.Ticket) int {
	ahead := 0
	for i := range allTickets {
		other := &allTickets[i]
		if other.ID == ticket.ID {
			continue
		}
		if other.Status != models.StatusWaiting || other.ServiceID != ticket.ServiceID {
			continue
		}
		if RanksBefore(other, ticket) {
			ahead++
		}
	}
	return ahead + 1
}

// SortWaiting orders a candidate slice in place by the waiting total order.
func SortWaiting(tickets []models.Ticket) {
	sort.Slice(tickets, func(i, j int) bool {
		return RanksBefore(&tickets[i], &tickets[j])
	})
}

// EstimatedWait returns the expected wait for a queue position given the
// average service time per ticket.
func EstimatedWait(position int, avgServiceTime time.Duration) time.Duration {
	if position < 1 {
		return 0
	}
	return time.Duration(position) * avgServiceTime
}

// FormatWait renders a wait duration in the largest fitting unit with
// correct singular/plural wording. Exactly 60 seconds is "1 minute", not
// "60 seconds"; the same holds at the hour boundary.
func FormatWait(wait time.Duration) string {
	seconds := int(wait.Seconds())
	if seconds < 0 {
		seconds = 0
	}

	if seconds < 60 {
		return pluralize(seconds, "second")
	}

	minutes := seconds / 60
	if minutes < 60 {
		return pluralize(minutes, "minute")
	}

	hours := minutes / 60
	remainder := minutes % 60
	if remainder == 0 {
		return pluralize(hours, "hour")
	}
	return fmt.Sprintf("%s %s", pluralize(hours, "hour"), pluralize(remainder, "minute"))
}

func pluralize(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
