package circuit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// replay feeds a sequence of cache call results ('f' failure, 's' success)
// into a breaker and returns the state after each one.
func replay(b *Breaker, calls string) []State {
	states := make([]State, 0, len(calls))
	for _, c := range calls {
		if c == 'f' {
			b.RecordFailure()
		} else {
			b.RecordSuccess()
		}
		states = append(states, b.State())
	}
	return states
}

func TestBreakerTransitions(t *testing.T) {
	const (
		C = StateClosed
		O = StateOpen
	)
	tests := []struct {
		name     string
		failures int
		recovery int
		calls    string
		want     []State
	}{
		{"opens on threshold", 3, 2, "fff", []State{C, C, O}},
		{"success resets failure streak", 3, 2, "ffsfff", []State{C, C, C, C, C, O}},
		{"closes after recovery streak", 1, 2, "fss", []State{O, O, C}},
		{"failure while open restarts recovery", 1, 3, "fssfsss", []State{O, O, O, O, O, O, C}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New("availability-cache", WithFailureThreshold(tt.failures), WithSuccessThreshold(tt.recovery))
			assert.Equal(t, tt.want, replay(b, tt.calls))
		})
	}
}

func TestBreakerReportsTransitionsOnce(t *testing.T) {
	b := New("availability-cache", WithFailureThreshold(2), WithSuccessThreshold(1))

	useFallback, change := b.RecordFailure()
	assert.False(t, useFallback)
	assert.Equal(t, StateChange{}, change)

	useFallback, change = b.RecordFailure()
	assert.True(t, useFallback)
	assert.Equal(t, StateChange{Opened: true}, change)

	useFallback, change = b.RecordFailure()
	assert.True(t, useFallback)
	assert.Equal(t, StateChange{}, change, "already open")

	usePrimary, change := b.RecordSuccess()
	assert.True(t, usePrimary)
	assert.Equal(t, StateChange{Closed: true}, change)
	assert.Equal(t, "closed", b.State().String())
}

func TestBreakerProbesOncePerCooldown(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	b := New("availability-cache",
		WithFailureThreshold(1),
		WithCooldown(30*time.Second),
		WithClock(func() time.Time { return now }),
	)

	require.True(t, b.Allow())
	b.RecordFailure()
	assert.Equal(t, "open", b.State().String())
	assert.False(t, b.Allow())

	now = now.Add(29 * time.Second)
	assert.False(t, b.Allow())
	now = now.Add(time.Second)
	assert.True(t, b.Allow())
	assert.False(t, b.Allow())
}

func TestBreakerReset(t *testing.T) {
	b := New("availability-cache", WithFailureThreshold(1))
	b.RecordFailure()
	require.True(t, b.IsOpen())

	b.Reset()
	assert.False(t, b.IsOpen())
	assert.True(t, b.Allow())
	assert.Equal(t, "availability-cache", b.Name())
}
