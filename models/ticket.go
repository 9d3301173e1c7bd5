package models

import (
	"time"
)

const (
	StatusWaiting   = "waiting"
	StatusServing   = "serving"
	StatusDone      = "done"
	StatusSkipped   = "skipped"
	StatusCancelled = "cancelled"
)

const (
	PriorityNormal    = 0
	PrioritySenior    = 1
	PriorityEmergency = 2
)

type Ticket struct {
	ID                 string     `json:"id"`
	TicketNumber       string     `json:"ticket_number"`
	ServiceID          string     `json:"service_id"`
	BranchID           string     `json:"branch_id"`
	CounterID          *string    `json:"counter_id,omitempty"`
	Status             string     `json:"status"`
	PriorityLevel      int        `json:"priority_level"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
	CalledAt           *time.Time `json:"called_at,omitempty"`
	TransferredAt      *time.Time `json:"transferred_at,omitempty"`
	PreferredCounterID *string    `json:"preferred_counter_id,omitempty"`
	TransferReason     string     `json:"transfer_reason,omitempty"`
	CustomerName       string     `json:"customer_name,omitempty"`
	CustomerPhone      string     `json:"customer_phone,omitempty"`
	Notes              string     `json:"notes,omitempty"`
}

// TicketFilter narrows List queries. BranchID is required, the rest are
// optional (zero value means "any").
type TicketFilter struct {
	BranchID  string
	Status    string
	ServiceID string
	CounterID string
	Date      string // YYYY-MM-DD, matches CreatedAt's day
}

// transitionMap lists the statuses each action may start from.
var transitionMap = map[string][]string{
	"call_next": {StatusWaiting},
	"complete":  {StatusServing},
	"skip":      {StatusServing},
	"cancel":    {StatusWaiting, StatusServing},
	"transfer":  {StatusWaiting, StatusServing},
}

func ValidTransition(action, fromStatus string) bool {
	allowed, ok := transitionMap[action]
	if !ok {
		return false
	}
	for _, status := range allowed {
		if status == fromStatus {
			return true
		}
	}
	return false
}

func ValidStatus(status string) bool {
	switch status {
	case StatusWaiting, StatusServing, StatusDone, StatusSkipped, StatusCancelled:
		return true
	}
	return false
}

// TerminalStatus reports whether a ticket in this status can never change
// again.
func TerminalStatus(status string) bool {
	switch status {
	case StatusDone, StatusSkipped, StatusCancelled:
		return true
	}
	return false
}
