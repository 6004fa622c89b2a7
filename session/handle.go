package session

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/Otis-Lab-MUSC/reacher/errors"
)

// WorkerHandle tracks one background goroutine: a stop signal and a done
// channel for bounded joins. The zero value is not usable; use newHandle.
type WorkerHandle struct {
	name     string
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	alive    atomic.Bool
}

func newHandle(name string) *WorkerHandle {
	return &WorkerHandle{
		name: name,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// run launches fn and marks the handle alive until fn returns. fn must
// honor the stop channel.
func (h *WorkerHandle) run(fn func(stop <-chan struct{})) {
	h.alive.Store(true)
	go func() {
		defer func() {
			h.alive.Store(false)
			close(h.done)
		}()
		fn(h.stop)
	}()
}

// Alive reports whether the goroutine is still running.
func (h *WorkerHandle) Alive() bool {
	return h.alive.Load()
}

// Join signals stop and waits up to timeout for the goroutine to exit.
// Safe to call more than once.
func (h *WorkerHandle) Join(timeout time.Duration) error {
	h.stopOnce.Do(func() { close(h.stop) })

	select {
	case <-h.done:
		return nil
	case <-time.After(timeout):
		return errors.WrapTransient(errors.ErrJoinTimeout, "session", "Join", h.name)
	}
}
