package scheduler

import (
	"sync"
	"time"
)

// Timer is a handle to a scheduled callback that can be stopped before it
// fires. Stopping an already fired or stopped timer is a no-op.
type Timer interface {
	Stop()
}

// Scheduler is the single-threaded execution domain of the daemon. All state
// mutation of the core services happens on it: network and timer callbacks
// are marshaled onto the scheduler before touching shared structures, which
// is what lets the core data structures go lock-free.
type Scheduler interface {
	// Do enqueues fn for execution on the scheduler goroutine.
	Do(fn func())
	// ScheduleOnce runs fn on the scheduler goroutine after the given delay.
	ScheduleOnce(delay time.Duration, fn func()) Timer
	// ScheduleRepeating runs fn on the scheduler goroutine every interval
	// until the returned timer is stopped.
	ScheduleRepeating(interval time.Duration, fn func()) Timer
	// Now returns the scheduler's notion of the current time.
	Now() time.Time
}

const queueMaxSize = 1000

type runLoop struct {
	queue    chan func()
	quitChan chan struct{}
	once     sync.Once
}

// New returns a wall-clock Scheduler backed by a single goroutine consuming
// a task queue. Use Stop to terminate it.
func New() *runLoop {
	s := &runLoop{
		queue:    make(chan func(), queueMaxSize),
		quitChan: make(chan struct{}),
	}
	go s.loop()
	return s
}

func (s *runLoop) loop() {
	for {
		select {
		case fn := <-s.queue:
			fn()
		case <-s.quitChan:
			return
		}
	}
}

func (s *runLoop) Do(fn func()) {
	select {
	case s.queue <- fn:
	case <-s.quitChan:
	}
}

func (s *runLoop) ScheduleOnce(delay time.Duration, fn func()) Timer {
	t := time.AfterFunc(delay, func() {
		s.Do(fn)
	})
	return &onceTimer{t}
}

func (s *runLoop) ScheduleRepeating(interval time.Duration, fn func()) Timer {
	ticker := time.NewTicker(interval)
	stopChan := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				s.Do(fn)
			case <-stopChan:
				ticker.Stop()
				return
			case <-s.quitChan:
				ticker.Stop()
				return
			}
		}
	}()
	return &repeatingTimer{stopChan: stopChan}
}

func (s *runLoop) Now() time.Time {
	return time.Now()
}

// Stop terminates the scheduler goroutine. Pending queued tasks are dropped.
func (s *runLoop) Stop() {
	s.once.Do(func() { close(s.quitChan) })
}

type onceTimer struct {
	t *time.Timer
}

func (o *onceTimer) Stop() { o.t.Stop() }

type repeatingTimer struct {
	stopChan chan struct{}
	once     sync.Once
}

func (r *repeatingTimer) Stop() {
	r.once.Do(func() { close(r.stopChan) })
}
