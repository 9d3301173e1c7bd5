package models

import (
	"time"
)

// QueueStats is the derived per-branch/day aggregate. Averages are in
// seconds, rounded to one decimal place.
type QueueStats struct {
	BranchID       string    `json:"branch_id"`
	Date           string    `json:"date"`
	WaitingCount   int       `json:"waiting_count"`
	ServingCount   int       `json:"serving_count"`
	CompletedCount int       `json:"completed_count"`
	AvgWaitTime    float64   `json:"avg_wait_time"`
	AvgServiceTime float64   `json:"avg_service_time"`
	LastUpdated    time.Time `json:"last_updated"`
}
