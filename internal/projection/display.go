package projection

import (
	"sync"
	"time"
)

type displayPhase int

const (
	phaseIdle displayPhase = iota
	phaseServing
	phaseDraining
)

// NowServingDisplay holds a counter's "now serving" value through the grace
// window: when the displayed ticket disappears from the live set, the last
// value is held for the window before clearing, so an immediately following
// call replaces it without a flicker to blank. A single cancellable timer
// drives the draining state; a late-arriving new ticket cancels it instead
// of racing it.
type NowServingDisplay struct {
	mu       sync.Mutex
	grace    time.Duration
	phase    displayPhase
	ticketID string
	timer    *time.Timer

	// onChange receives the displayed ticket id, or "" when the display
	// clears.
	onChange func(ticketID string)
}

func NewNowServingDisplay(grace time.Duration, onChange func(ticketID string)) *NowServingDisplay {
	return &NowServingDisplay{
		grace:    grace,
		onChange: onChange,
	}
}

// Observe feeds the counter's current serving ticket id from the live
// projection; nil means the counter has no serving ticket right now.
func (d *NowServingDisplay) Observe(currentTicketID *string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if currentTicketID != nil && *currentTicketID != "" {
		d.cancelTimerLocked()
		changed := d.phase != phaseServing || d.ticketID != *currentTicketID
		d.phase = phaseServing
		d.ticketID = *currentTicketID
		if changed && d.onChange != nil {
			d.onChange(d.ticketID)
		}
		return
	}

	if d.phase != phaseServing {
		return
	}

	// The displayed ticket left the live set; hold it through the grace
	// window before clearing.
	d.phase = phaseDraining
	d.timer = time.AfterFunc(d.grace, d.drainExpired)
}

func (d *NowServingDisplay) drainExpired() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.phase != phaseDraining {
		return
	}
	d.phase = phaseIdle
	d.ticketID = ""
	d.timer = nil
	if d.onChange != nil {
		d.onChange("")
	}
}

// Current returns the displayed ticket id. During the grace window the held
// value is still shown.
func (d *NowServingDisplay) Current() (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.phase == phaseIdle {
		return "", false
	}
	return d.ticketID, true
}

// Stop cancels the grace timer. Safe on all exit paths.
func (d *NowServingDisplay) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.cancelTimerLocked()
	d.phase = phaseIdle
	d.ticketID = ""
}

func (d *NowServingDisplay) cancelTimerLocked() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
