package scheduler

import (
	"sort"
	"time"
)

// Manual is a virtual-time Scheduler for tests: Do drains its queue before
// returning and timers only fire when the test advances the clock explicitly.
// Callbacks enqueued while one is running wait for it, so a callback always
// runs to completion before the next starts, exactly like the live scheduler.
// Manual is not safe for concurrent use, which is the point: tests drive it
// deterministically.
type Manual struct {
	now      time.Time
	nextID   int
	timers   []*manualTimer
	queue    []func()
	draining bool
}

type manualTimer struct {
	owner    *Manual
	id       int
	deadline time.Time
	interval time.Duration
	fn       func()
	stopped  bool
}

func (t *manualTimer) Stop() { t.stopped = true }

// NewManual returns a Manual scheduler whose clock starts at the given time.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

func (m *Manual) Do(fn func()) {
	m.queue = append(m.queue, fn)
	m.drain()
}

func (m *Manual) drain() {
	if m.draining {
		return
	}
	m.draining = true
	defer func() { m.draining = false }()
	for len(m.queue) > 0 {
		fn := m.queue[0]
		m.queue = m.queue[1:]
		fn()
	}
}

func (m *Manual) ScheduleOnce(delay time.Duration, fn func()) Timer {
	return m.addTimer(delay, 0, fn)
}

func (m *Manual) ScheduleRepeating(interval time.Duration, fn func()) Timer {
	return m.addTimer(interval, interval, fn)
}

func (m *Manual) Now() time.Time { return m.now }

func (m *Manual) addTimer(delay, interval time.Duration, fn func()) Timer {
	m.nextID++
	t := &manualTimer{
		owner:    m,
		id:       m.nextID,
		deadline: m.now.Add(delay),
		interval: interval,
		fn:       fn,
	}
	m.timers = append(m.timers, t)
	return t
}

// Advance moves the virtual clock forward, firing every due timer in deadline
// order. Repeating timers are rescheduled and may fire multiple times within
// a single Advance.
func (m *Manual) Advance(d time.Duration) {
	target := m.now.Add(d)
	for {
		t := m.nextDue(target)
		if t == nil {
			break
		}
		m.now = t.deadline
		if t.interval > 0 {
			t.deadline = t.deadline.Add(t.interval)
		} else {
			t.stopped = true
		}
		m.Do(t.fn)
	}
	m.now = target
	m.gc()
}

func (m *Manual) nextDue(limit time.Time) *manualTimer {
	live := make([]*manualTimer, 0, len(m.timers))
	for _, t := range m.timers {
		if !t.stopped {
			live = append(live, t)
		}
	}
	sort.Slice(live, func(i, j int) bool {
		if live[i].deadline.Equal(live[j].deadline) {
			return live[i].id < live[j].id
		}
		return live[i].deadline.Before(live[j].deadline)
	})
	for _, t := range live {
		if !t.deadline.After(limit) {
			return t
		}
	}
	return nil
}

func (m *Manual) gc() {
	live := m.timers[:0]
	for _, t := range m.timers {
		if !t.stopped {
			live = append(live, t)
		}
	}
	m.timers = live
}
