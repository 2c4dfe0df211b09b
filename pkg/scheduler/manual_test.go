package scheduler_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/peerdex-network/peerdex-daemon/pkg/scheduler"
)

func TestManualScheduleOnce(t *testing.T) {
	sched := scheduler.NewManual(time.Unix(0, 0))
	fired := 0
	sched.ScheduleOnce(time.Second, func() { fired++ })

	sched.Advance(999 * time.Millisecond)
	require.Equal(t, 0, fired)

	sched.Advance(time.Millisecond)
	require.Equal(t, 1, fired)

	sched.Advance(10 * time.Second)
	require.Equal(t, 1, fired)
}

func TestManualScheduleRepeating(t *testing.T) {
	sched := scheduler.NewManual(time.Unix(0, 0))
	fired := 0
	timer := sched.ScheduleRepeating(time.Minute, func() { fired++ })

	sched.Advance(5 * time.Minute)
	require.Equal(t, 5, fired)

	timer.Stop()
	sched.Advance(5 * time.Minute)
	require.Equal(t, 5, fired)
}

func TestManualStoppedTimerDoesNotFire(t *testing.T) {
	sched := scheduler.NewManual(time.Unix(0, 0))
	fired := false
	timer := sched.ScheduleOnce(time.Second, func() { fired = true })
	timer.Stop()

	sched.Advance(time.Minute)
	require.False(t, fired)
}

func TestManualTimersFireInDeadlineOrder(t *testing.T) {
	sched := scheduler.NewManual(time.Unix(0, 0))
	trace := []string{}
	sched.ScheduleOnce(3*time.Second, func() { trace = append(trace, "late") })
	sched.ScheduleOnce(time.Second, func() { trace = append(trace, "early") })

	sched.Advance(5 * time.Second)
	require.Equal(t, []string{"early", "late"}, trace)
}

func TestManualDoRunsToCompletion(t *testing.T) {
	sched := scheduler.NewManual(time.Unix(0, 0))
	trace := []string{}
	sched.Do(func() {
		trace = append(trace, "outer-start")
		sched.Do(func() { trace = append(trace, "nested") })
		trace = append(trace, "outer-end")
	})

	// The nested callback waits until the running one finished.
	require.Equal(t, []string{"outer-start", "outer-end", "nested"}, trace)
}

func TestManualNowTracksVirtualClock(t *testing.T) {
	start := time.Unix(1000, 0)
	sched := scheduler.NewManual(start)
	require.Equal(t, start, sched.Now())

	var seen time.Time
	sched.ScheduleOnce(time.Second, func() { seen = sched.Now() })
	sched.Advance(30 * time.Second)

	require.Equal(t, start.Add(time.Second), seen)
	require.Equal(t, start.Add(30*time.Second), sched.Now())
}
