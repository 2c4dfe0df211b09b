package taskrunner

import (
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/peerdex-network/peerdex-daemon/pkg/scheduler"
)

// ErrTimeout is wrapped into the failure reported when a run does not finish
// before its deadline. It lets callers distinguish "peer did not respond"
// from "peer rejected".
var ErrTimeout = errors.New("task runner timed out")

// Task is one discrete step of a run. Run must call exactly one of
// h.Complete or h.Fail before the next task may start; tasks that trigger
// asynchronous I/O call them from the I/O completion callback.
type Task struct {
	Name string
	Run  func(h *Handle)
}

// Opts groups the parameters of a run.
type Opts struct {
	Tasks      []Task
	OnComplete func()
	OnFailure  func(err error)
	// Timeout, when positive, forcibly fails the run if it has not finished
	// by the deadline. Remaining tasks never start.
	Timeout   time.Duration
	Scheduler scheduler.Scheduler
}

// Runner executes an ordered list of tasks strictly sequentially. At most one
// task is in flight at a time and the terminal callbacks fire at most once
// per run. A Runner is single-use: build a new one to retry.
type Runner struct {
	tasks      []Task
	onComplete func()
	onFailure  func(err error)
	timeout    time.Duration
	sched      scheduler.Scheduler

	current    int
	terminated bool
	timer      scheduler.Timer
}

// New returns a Runner ready to be started. All callbacks run on the given
// scheduler.
func New(opts Opts) *Runner {
	return &Runner{
		tasks:      opts.Tasks,
		onComplete: opts.OnComplete,
		onFailure:  opts.OnFailure,
		timeout:    opts.Timeout,
		sched:      opts.Scheduler,
		current:    -1,
	}
}

// Start arms the timeout, if any, and runs the first task.
func (r *Runner) Start() {
	if r.timeout > 0 {
		r.timer = r.sched.ScheduleOnce(r.timeout, func() {
			if r.terminated {
				return
			}
			taskName := "none"
			if r.current >= 0 && r.current < len(r.tasks) {
				taskName = r.tasks[r.current].Name
			}
			r.fail(fmt.Errorf("%w after %s at task %s", ErrTimeout, r.timeout, taskName))
		})
	}
	r.sched.Do(r.next)
}

func (r *Runner) next() {
	if r.terminated {
		return
	}
	r.current++
	if r.current >= len(r.tasks) {
		r.finish()
		return
	}
	task := r.tasks[r.current]
	log.Debugf("running task %s", task.Name)
	task.Run(&Handle{runner: r, index: r.current})
}

func (r *Runner) finish() {
	r.terminated = true
	r.stopTimer()
	if r.onComplete != nil {
		r.onComplete()
	}
}

func (r *Runner) fail(err error) {
	if r.terminated {
		return
	}
	r.terminated = true
	r.stopTimer()
	if r.onFailure != nil {
		r.onFailure(err)
	}
}

func (r *Runner) stopTimer() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

// Handle is handed to each task. It is bound to the task's position in the
// run, so a stale task that signals after the run moved on is ignored.
type Handle struct {
	runner *Runner
	index  int
	done   bool
}

// Complete marks the task as succeeded and starts the next one. Calling it
// more than once, or after Fail, is a no-op.
func (h *Handle) Complete() {
	h.runner.sched.Do(func() {
		if h.stale() {
			return
		}
		h.done = true
		h.runner.next()
	})
}

// Fail terminates the whole run with the given error. Remaining tasks never
// start.
func (h *Handle) Fail(err error) {
	h.runner.sched.Do(func() {
		if h.stale() {
			return
		}
		h.done = true
		taskName := h.runner.tasks[h.index].Name
		log.WithError(err).Debugf("task %s failed", taskName)
		h.runner.fail(fmt.Errorf("task %s: %w", taskName, err))
	})
}

func (h *Handle) stale() bool {
	return h.done || h.runner.terminated || h.runner.current != h.index
}
