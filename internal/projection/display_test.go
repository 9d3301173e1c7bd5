package projection

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type changeRecorder struct {
	mu      sync.Mutex
	changes []string
}

func (r *changeRecorder) record(ticketID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, ticketID)
}

func (r *changeRecorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.changes...)
}

func TestDisplay_ShowsServingTicket(t *testing.T) {
	rec := &changeRecorder{}
	display := NewNowServingDisplay(50*time.Millisecond, rec.record)
	defer display.Stop()

	id := "t1"
	display.Observe(&id)

	current, ok := display.Current()
	require.True(t, ok)
	assert.Equal(t, "t1", current)
	assert.Equal(t, []string{"t1"}, rec.snapshot())

	// Re-observing the same ticket does not fire the callback again.
	display.Observe(&id)
	assert.Equal(t, []string{"t1"}, rec.snapshot())
}

func TestDisplay_HoldsThroughGraceWindow(t *testing.T) {
	rec := &changeRecorder{}
	display := NewNowServingDisplay(60*time.Millisecond, rec.record)
	defer display.Stop()

	id := "t1"
	display.Observe(&id)
	display.Observe(nil)

	// Within the grace window the last ticket is still shown.
	current, ok := display.Current()
	require.True(t, ok)
	assert.Equal(t, "t1", current)

	time.Sleep(150 * time.Millisecond)

	_, ok = display.Current()
	assert.False(t, ok)
	assert.Equal(t, []string{"t1", ""}, rec.snapshot())
}

func TestDisplay_ReplacementWithinGraceCancelsClear(t *testing.T) {
	rec := &changeRecorder{}
	display := NewNowServingDisplay(60*time.Millisecond, rec.record)
	defer display.Stop()

	first := "t1"
	second := "t2"

	display.Observe(&first)
	display.Observe(nil)
	// The next call lands before the window expires; the display flips
	// straight to the new ticket without a blank frame.
	display.Observe(&second)

	time.Sleep(150 * time.Millisecond)

	current, ok := display.Current()
	require.True(t, ok)
	assert.Equal(t, "t2", current)
	assert.Equal(t, []string{"t1", "t2"}, rec.snapshot())
}

func TestDisplay_NilObservationWhileIdleIsNoop(t *testing.T) {
	rec := &changeRecorder{}
	display := NewNowServingDisplay(20*time.Millisecond, rec.record)
	defer display.Stop()

	display.Observe(nil)
	time.Sleep(50 * time.Millisecond)

	_, ok := display.Current()
	assert.False(t, ok)
	assert.Empty(t, rec.snapshot())
}

func TestDisplay_StopClears(t *testing.T) {
	display := NewNowServingDisplay(time.Minute, nil)

	id := "t1"
	display.Observe(&id)
	display.Stop()

	_, ok := display.Current()
	assert.False(t, ok)
}
