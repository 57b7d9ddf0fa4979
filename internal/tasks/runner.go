// Package tasks runs fire-and-forget background work that outlives the
// HTTP request which scheduled it. Failures are logged, never retried,
// and never reported back to the original caller.
package tasks

import (
	"log/slog"
	"sync"
	"time"
)

// Runner schedules detached tasks. The zero value is not usable; use
// NewRunner.
type Runner struct {
	log *slog.Logger
	wg  sync.WaitGroup
}

// NewRunner returns a Runner that logs task failures to log.
func NewRunner(log *slog.Logger) *Runner {
	return &Runner{log: log}
}

// After runs fn on its own goroutine once delay has elapsed. A non-nil
// error from fn is logged under the task name and otherwise dropped.
func (r *Runner) After(name string, delay time.Duration, fn func() error) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if delay > 0 {
			time.Sleep(delay)
		}
		if err := fn(); err != nil {
			r.log.Error("background task failed",
				slog.String("task", name),
				slog.String("error", err.Error()),
			)
			return
		}
		r.log.Debug("background task done", slog.String("task", name))
	}()
}

// Wait blocks until every scheduled task has finished. Intended for
// tests and shutdown.
func (r *Runner) Wait() {
	r.wg.Wait()
}
