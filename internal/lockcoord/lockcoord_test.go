package lockcoord

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fleetwire/ingestd/internal/regtypes"
)

func TestLockExcludesConcurrentHolders(t *testing.T) {
	c := New()
	key := Key{Source: regtypes.SourceSystem, ComponentId: "c1"}
	ctx := context.Background()

	if err := c.Lock(ctx, key, 0); err != nil {
		t.Fatalf("Lock: %v", err)
	}

	var acquired int32
	done := make(chan struct{})
	go func() {
		if err := c.Lock(ctx, key, 0); err != nil {
			t.Errorf("second Lock: %v", err)
		}
		atomic.StoreInt32(&acquired, 1)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	if atomic.LoadInt32(&acquired) != 0 {
		t.Fatal("second waiter acquired the lock while the first holder was still holding it")
	}

	c.Unlock(key)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("second waiter never acquired the lock after release")
	}
}

func TestLockTimeoutAutoReleases(t *testing.T) {
	c := New()
	key := Key{Source: regtypes.SourceApp, ComponentId: "c1"}
	ctx := context.Background()

	if err := c.Lock(ctx, key, 150*time.Millisecond); err != nil {
		t.Fatalf("Lock: %v", err)
	}

	start := time.Now()
	if err := c.Lock(ctx, key, 0); err != nil {
		t.Fatalf("Lock after auto-release: %v", err)
	}
	if time.Since(start) < 100*time.Millisecond {
		t.Fatal("lock was acquired before the auto-release timeout elapsed")
	}
}

func TestWithLocksReleasesOnActionError(t *testing.T) {
	c := New()
	keys := []Key{
		{Source: regtypes.SourceSystem, ComponentId: "c1"},
		{Source: regtypes.SourceApp, ComponentId: "c1"},
	}
	ctx := context.Background()

	wantErr := errors.New("action failed")
	err := c.WithLocks(ctx, keys, 0, func() error { return wantErr })
	if err != wantErr {
		t.Fatalf("expected the action's own error, got %v", err)
	}

	for _, k := range keys {
		if err := c.Lock(ctx, k, 0); err != nil {
			t.Fatalf("lock %v should have been released after WithLocks returned, got %v", k, err)
		}
		c.Unlock(k)
	}
}

func TestWithLocksPartialAcquisitionReleasesAcquired(t *testing.T) {
	c := New()
	held := Key{Source: regtypes.SourceApp, ComponentId: "c2"}
	free := Key{Source: regtypes.SourceSystem, ComponentId: "c2"}

	if err := c.Lock(context.Background(), held, 0); err != nil {
		t.Fatalf("Lock: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	called := false
	err := c.WithLocks(ctx, []Key{free, held}, 0, func() error {
		called = true
		return nil
	})
	if err == nil {
		t.Fatal("expected a lock-failed error from the unreachable key")
	}
	if called {
		t.Fatal("action must not run when acquisition is only partial")
	}

	// free must have been released even though held blocked the rest.
	var wg sync.WaitGroup
	wg.Add(1)
	acquiredFree := false
	go func() {
		defer wg.Done()
		if err := c.Lock(context.Background(), free, 0); err == nil {
			acquiredFree = true
			c.Unlock(free)
		}
	}()
	wg.Wait()
	if !acquiredFree {
		t.Fatal("free key was not released after the partial-acquisition failure")
	}
}
