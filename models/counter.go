package models

import (
	"time"
)

type Counter struct {
	ID              string     `json:"id"`
	BranchID        string     `json:"branch_id"`
	Name            string     `json:"name"`
	StaffID         *string    `json:"staff_id,omitempty"`
	IsActive        bool       `json:"is_active"`
	CurrentTicketID *string    `json:"current_ticket_id,omitempty"`
	LastPing        *time.Time `json:"last_ping,omitempty"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Occupied reports whether a staff member holds the counter right now.
// A stale last ping means the occupant abandoned the counter and the slot
// is reclaimable even though staff_id is still set.
func (c *Counter) Occupied(livenessTimeout time.Duration, now time.Time) bool {
	if c.StaffID == nil || *c.StaffID == "" {
		return false
	}
	if c.LastPing == nil {
		return true
	}
	return now.Sub(*c.LastPing) <= livenessTimeout
}
