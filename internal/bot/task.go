package bot

import (
	"context"
	"fmt"
	"time"
)

// task is a background worker with its own cancel and a done signal to join on
type task struct {
	name   string
	cancel context.CancelFunc
	done   chan struct{}
}

func startTask(parent context.Context, name string, fn func(ctx context.Context)) *task {
	ctx, cancel := context.WithCancel(parent)
	t := &task{name: name, cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(t.done)
		fn(ctx)
	}()
	return t
}

// stop cancels the worker and waits at most timeout for it to return
func (t *task) stop(timeout time.Duration) error {
	t.cancel()
	select {
	case <-t.done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("task %s did not stop within %s", t.name, timeout)
	}
}

// sleepCtx waits for d or until ctx is done; it reports whether the wait completed
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
