// Package engine schedules a batch of tasks under a bounded degree of
// parallelism. Launch order is FIFO over the submission queue, gated
// by available concurrency slots; a slot freed by any finishing task
// is refilled immediately. Completion events are delivered to the
// configured Observer in real-time finish order, exactly once per
// task.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/krig/parallel-ssh/internal/sink"
	"github.com/krig/parallel-ssh/internal/task"
)

// Observer receives batch progress events. Both hooks are invoked
// from the engine's control loop, never concurrently.
type Observer interface {
	// TaskFinished is called exactly once per task, immediately after
	// it reaches a terminal state. n counts tasks finished so far,
	// starting at 1.
	TaskFinished(t *task.Task, n int)

	// BatchFinished is called once, after the last TaskFinished, when
	// the whole batch completed without a fatal abort. Tasks are in
	// finish order.
	BatchFinished(tasks []*task.Task)
}

// Observers fans events out to several observers in order.
func Observers(obs ...Observer) Observer {
	return multiObserver(obs)
}

type multiObserver []Observer

func (m multiObserver) TaskFinished(t *task.Task, n int) {
	for _, o := range m {
		o.TaskFinished(t, n)
	}
}

func (m multiObserver) BatchFinished(tasks []*task.Task) {
	for _, o := range m {
		o.BatchFinished(tasks)
	}
}

// Stats is the running tally handed to the abort policy after every
// task finalization.
type Stats struct {
	Total    int
	Finished int
	Failed   int        // finished tasks that did not succeed
	Last     *task.Task // the task that just finished
}

// AbortPolicy decides, after each finished task, whether the batch
// should abort fatally. A nil policy never aborts.
type AbortPolicy func(Stats) bool

// MaxFailures aborts the batch once more than n tasks have failed.
func MaxFailures(n int) AbortPolicy {
	return func(s Stats) bool { return s.Failed > n }
}

// FatalError signals a batch-level abort, distinct from any per-host
// failure. No result is produced on this path.
type FatalError struct {
	Stats Stats
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal: aborted after %d of %d finished tasks failed", e.Stats.Failed, e.Stats.Finished)
}

// defaultGrace bounds how long an abort waits for killed in-flight
// tasks to be reaped before returning.
const defaultGrace = 3 * time.Second

// Manager owns the pending queue and the in-flight set. Submit tasks
// with Add, then call Run once; the manager exclusively owns every
// task from submission until it reports terminal.
type Manager struct {
	limit    int
	timeout  time.Duration
	askpass  *task.Askpass
	outDir   string
	errDir   string
	observer Observer
	abort    AbortPolicy
	grace    time.Duration
	logger   *slog.Logger

	tasks []*task.Task
}

// Option configures a Manager.
type Option func(*Manager)

// WithLimit sets the maximum number of in-flight tasks.
func WithLimit(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.limit = n
		}
	}
}

// WithTimeout sets the per-task timeout, measured from each task's
// own launch. Zero or negative means unbounded.
func WithTimeout(d time.Duration) Option {
	return func(m *Manager) { m.timeout = d }
}

// WithAskpass enables interactive password handling for every task.
func WithAskpass(a *task.Askpass) Option {
	return func(m *Manager) { m.askpass = a }
}

// WithOutputDirs routes task stdout/stderr to one file per host under
// the given directories. Either may be empty to disable that sink.
func WithOutputDirs(outDir, errDir string) Option {
	return func(m *Manager) {
		m.outDir = outDir
		m.errDir = errDir
	}
}

// WithObserver sets the progress observer.
func WithObserver(o Observer) Option {
	return func(m *Manager) { m.observer = o }
}

// WithAbortPolicy sets the fatal-abort predicate.
func WithAbortPolicy(p AbortPolicy) Option {
	return func(m *Manager) { m.abort = p }
}

// WithGracePeriod bounds the drain after an abort or interrupt.
func WithGracePeriod(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.grace = d
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// New creates a Manager. The caller passes explicit limits; there is
// no ambient global configuration.
func New(opts ...Option) *Manager {
	m := &Manager{
		limit:  1,
		grace:  defaultGrace,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Add appends a task to the pending queue. Must not be called while
// Run is in progress.
func (m *Manager) Add(t *task.Task) {
	m.tasks = append(m.tasks, t)
}

// Tasks returns the submitted tasks in submission order.
func (m *Manager) Tasks() []*task.Task {
	return m.tasks
}

// Run drives every submitted task to a terminal state and returns
// nil, or returns early: a *FatalError when the abort policy
// triggers, ctx.Err() when the caller cancels, or a plain error when
// an output directory cannot be created (before any task launches).
func (m *Manager) Run(ctx context.Context) error {
	total := len(m.tasks)
	if total == 0 {
		if m.observer != nil {
			m.observer.BatchFinished(nil)
		}
		return nil
	}

	var outDir, errDir *sink.DirWriter
	var err error
	if m.outDir != "" {
		if outDir, err = sink.NewDirWriter(m.outDir); err != nil {
			return fmt.Errorf("stdout directory: %w", err)
		}
	}
	if m.errDir != "" {
		if errDir, err = sink.NewDirWriter(m.errDir); err != nil {
			return fmt.Errorf("stderr directory: %w", err)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	m.logger.Debug("starting batch", "tasks", total, "limit", m.limit, "timeout", m.timeout)

	sem := semaphore.NewWeighted(int64(m.limit))
	done := make(chan *task.Task, total)

	// Single launcher acquiring slots in submission order keeps the
	// launch sequence FIFO.
	go func() {
		for i, t := range m.tasks {
			if err := sem.Acquire(runCtx, 1); err != nil {
				t.Cancel()
				done <- t
				continue
			}
			cfg := task.RunConfig{
				Timeout: m.timeout,
				NodeNum: i,
				Askpass: m.askpass,
				OutDir:  outDir,
				ErrDir:  errDir,
			}
			go func(t *task.Task) {
				defer sem.Release(1)
				t.Run(runCtx, cfg)
				done <- t
			}(t)
		}
	}()

	finished := make([]*task.Task, 0, total)
	failed := 0
	for len(finished) < total {
		select {
		case t := <-done:
			finished = append(finished, t)
			if t.State() != task.Succeeded {
				failed++
			}
			m.logger.Debug("task finished",
				"host", t.Host, "state", t.State().String(), "exit", t.ExitStatus())
			stats := Stats{Total: total, Finished: len(finished), Failed: failed, Last: t}
			if m.observer != nil {
				m.observer.TaskFinished(t, stats.Finished)
			}
			if m.abort != nil && m.abort(stats) {
				m.logger.Warn("fatal failure threshold crossed",
					"failed", stats.Failed, "finished", stats.Finished, "total", total)
				cancel()
				m.drainRemaining(done, total-stats.Finished)
				return &FatalError{Stats: stats}
			}
		case <-ctx.Done():
			cancel()
			m.drainRemaining(done, total-len(finished))
			return ctx.Err()
		}
	}

	m.logger.Debug("batch complete", "tasks", total, "failed", failed)
	if m.observer != nil {
		m.observer.BatchFinished(finished)
	}
	return nil
}

// drainRemaining reaps killed in-flight tasks for up to the grace
// period so an abort does not leak processes, without letting a
// wedged child stall the abort path.
func (m *Manager) drainRemaining(done <-chan *task.Task, remaining int) {
	if remaining <= 0 {
		return
	}
	deadline := time.After(m.grace)
	for remaining > 0 {
		select {
		case <-done:
			remaining--
		case <-deadline:
			m.logger.Warn("grace period expired with tasks still in flight", "remaining", remaining)
			return
		}
	}
}
