package effects

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestManualSchedulerFiresInDeadlineOrder(t *testing.T) {
	clock := NewManualScheduler(time.Unix(0, 0))

	var fired []string
	clock.AfterFunc(3*time.Second, func() { fired = append(fired, "c") })
	clock.AfterFunc(1*time.Second, func() { fired = append(fired, "a") })
	clock.AfterFunc(2*time.Second, func() { fired = append(fired, "b") })

	clock.Advance(10 * time.Second)
	require.Equal(t, []string{"a", "b", "c"}, fired)
	require.Equal(t, 0, clock.Pending())
}

func TestManualSchedulerPartialAdvance(t *testing.T) {
	clock := NewManualScheduler(time.Unix(0, 0))

	fired := 0
	clock.AfterFunc(1*time.Second, func() { fired++ })
	clock.AfterFunc(5*time.Second, func() { fired++ })

	clock.Advance(2 * time.Second)
	require.Equal(t, 1, fired)
	require.Equal(t, 1, clock.Pending())

	clock.Advance(3 * time.Second)
	require.Equal(t, 2, fired)
}

func TestManualSchedulerStop(t *testing.T) {
	clock := NewManualScheduler(time.Unix(0, 0))

	fired := false
	task := clock.AfterFunc(time.Second, func() { fired = true })

	require.True(t, task.Stop())
	require.False(t, task.Stop(), "second stop reports already stopped")

	clock.Advance(time.Minute)
	require.False(t, fired)
}

func TestManualSchedulerTasksMayReschedule(t *testing.T) {
	clock := NewManualScheduler(time.Unix(0, 0))

	fired := 0
	clock.AfterFunc(time.Second, func() {
		fired++
		clock.AfterFunc(time.Second, func() { fired++ })
	})

	clock.Advance(5 * time.Second)
	require.Equal(t, 2, fired)
}

func TestManualSchedulerClockAdvances(t *testing.T) {
	start := time.Unix(100, 0)
	clock := NewManualScheduler(start)

	var at time.Time
	clock.AfterFunc(2*time.Second, func() { at = clock.Now() })
	clock.Advance(10 * time.Second)

	require.Equal(t, start.Add(2*time.Second), at, "callback sees its own deadline")
	require.Equal(t, start.Add(10*time.Second), clock.Now())
}
