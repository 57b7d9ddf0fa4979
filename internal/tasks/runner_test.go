package tasks

import (
	"errors"
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestAfterRunsTask(t *testing.T) {
	r := NewRunner(testLogger())
	var ran atomic.Bool
	r.After("mark", 0, func() error {
		ran.Store(true)
		return nil
	})
	r.Wait()
	if !ran.Load() {
		t.Error("task did not run")
	}
}

func TestAfterHonorsDelay(t *testing.T) {
	r := NewRunner(testLogger())
	start := time.Now()
	r.After("delayed", 20*time.Millisecond, func() error { return nil })
	r.Wait()
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("task ran after %v, want at least 20ms", elapsed)
	}
}

func TestAfterSwallowsFailure(t *testing.T) {
	r := NewRunner(testLogger())
	r.After("failing", 0, func() error { return errors.New("boom") })
	r.Wait() // must not panic or block
}

func TestWaitCoversMultipleTasks(t *testing.T) {
	r := NewRunner(testLogger())
	var n atomic.Int32
	for i := 0; i < 5; i++ {
		r.After("count", time.Millisecond, func() error {
			n.Add(1)
			return nil
		})
	}
	r.Wait()
	if n.Load() != 5 {
		t.Errorf("ran %d tasks, want 5", n.Load())
	}
}
