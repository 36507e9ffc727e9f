package ws

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBackoffDelayDoublesUpToCap(t *testing.T) {
	b := Backoff{Initial: 100 * time.Millisecond, Max: time.Second, MaxAttempts: 8}

	require.Equal(t, 100*time.Millisecond, b.Delay(0))
	require.Equal(t, 200*time.Millisecond, b.Delay(1))
	require.Equal(t, 400*time.Millisecond, b.Delay(2))
	require.Equal(t, 800*time.Millisecond, b.Delay(3))
	require.Equal(t, time.Second, b.Delay(4))
	require.Equal(t, time.Second, b.Delay(10))
}

func TestBackoffExhausted(t *testing.T) {
	b := Backoff{Initial: time.Millisecond, Max: time.Millisecond, MaxAttempts: 3}
	require.False(t, b.Exhausted(2))
	require.True(t, b.Exhausted(3))
	require.True(t, b.Exhausted(4))

	// Zero means no cap.
	unbounded := Backoff{Initial: time.Millisecond, Max: time.Millisecond}
	require.False(t, unbounded.Exhausted(1000))
}

func TestDefaultBackoffIsBounded(t *testing.T) {
	b := DefaultBackoff()
	require.Greater(t, b.MaxAttempts, 0)
	require.LessOrEqual(t, b.Initial, b.Max)
}
