// Package lockcoord implements the Lock Coordinator: async
// exclusive acquisition keyed by (source, componentId), with optional
// auto-release timeouts and a multi-lock helper for the dispatcher's
// per-event critical sections.
package lockcoord

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fleetwire/ingestd/internal/ingesterr"
	"github.com/fleetwire/ingestd/internal/regtypes"
)

// pollInterval is how often a blocked Lock call retries acquisition.
const pollInterval = 100 * time.Millisecond

// Key identifies one advisory lock: a (source, componentId) pair.
type Key struct {
	Source      regtypes.Source
	ComponentId regtypes.ComponentId
}

// Coordinator grants at most one outstanding holder per Key.
type Coordinator struct {
	mu   sync.Mutex
	held map[Key]*time.Timer
}

// New returns a ready Coordinator.
func New() *Coordinator {
	return &Coordinator{held: make(map[Key]*time.Timer)}
}

// Lock blocks until key is free, then marks it held. If timeout > 0, the
// lock auto-releases after timeout elapses, regardless of holder.
func (c *Coordinator) Lock(ctx context.Context, key Key, timeout time.Duration) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		if c.tryAcquire(key, timeout) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Coordinator) tryAcquire(key Key, timeout time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, busy := c.held[key]; busy {
		return false
	}

	var timer *time.Timer
	if timeout > 0 {
		timer = time.AfterFunc(timeout, func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			delete(c.held, key)
		})
	}
	c.held[key] = timer
	return true
}

// Unlock cancels any pending auto-release and frees key. Unlocking a key
// that is not held is a no-op.
func (c *Coordinator) Unlock(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()

	timer, ok := c.held[key]
	if !ok {
		return
	}
	if timer != nil {
		timer.Stop()
	}
	delete(c.held, key)
}

// WithLocks acquires every key in keys (in order), runs action, then
// releases all acquired keys on any exit path. A partial acquisition
// failure releases whatever was already acquired and raises
// ErrLockFailed, with the underlying context error's text in its
// message.
func (c *Coordinator) WithLocks(ctx context.Context, keys []Key, timeout time.Duration, action func() error) error {
	acquired := make([]Key, 0, len(keys))
	defer func() {
		for _, k := range acquired {
			c.Unlock(k)
		}
	}()

	for _, k := range keys {
		if err := c.Lock(ctx, k, timeout); err != nil {
			return fmt.Errorf("%w: %v", ingesterr.ErrLockFailed, err)
		}
		acquired = append(acquired, k)
	}

	return action()
}
