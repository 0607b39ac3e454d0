package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/fleetwire/ingestd/internal/ingesterr"
	"github.com/fleetwire/ingestd/internal/lockcoord"
	"github.com/fleetwire/ingestd/internal/regtypes"
	"github.com/fleetwire/ingestd/internal/schema"
	"github.com/fleetwire/ingestd/pkg/events"
)

// handleRegisterProp implements "On <source>/register/prop".
func (d *Dispatcher) handleRegisterProp(ctx context.Context, cid regtypes.ComponentId, source regtypes.Source, payload []byte) error {
	reg, err := schema.ParsePropertyRegistration(payload)
	if err != nil {
		d.logger.Warn().Err(err).Str("component_id", cid.String()).Msg("invalid property registration payload")
		return err
	}

	key := lockcoord.Key{Source: source, ComponentId: cid}
	return d.locks.WithLocks(ctx, []lockcoord.Key{key}, lockTimeout, func() error {
		existing, err := d.cache.GetAllProperties(ctx, cid, source)
		if err != nil {
			return fmt.Errorf("%w: %v", ingesterr.ErrCacheError, err)
		}

		if conflicts(existing, reg) {
			d.logger.Debug().
				Str("component_id", cid.String()).
				Str("path", reg.Path).
				Int("index", reg.Index).
				Msg("property registration conflict, skipping")
			return fmt.Errorf("%w: path %q index %d", ingesterr.ErrPropertyConflict, reg.Path, reg.Index)
		}

		wasRegistered, err := d.cache.IsRegistered(ctx, cid, source)
		if err != nil {
			return fmt.Errorf("%w: %v", ingesterr.ErrCacheError, err)
		}
		if wasRegistered {
			if err := d.cache.ClearCachedValues(ctx, cid, source); err != nil {
				return fmt.Errorf("%w: %v", ingesterr.ErrCacheError, err)
			}
			d.bus.Publish(events.KindRegistered, events.Registered{ComponentId: cid, Source: source, Registered: false})
		}

		if err := d.cache.CacheProperty(ctx, cid, source, reg.Path, reg); err != nil {
			return fmt.Errorf("%w: %v", ingesterr.ErrCacheError, err)
		}

		numProps, err := d.registeredNumProps(ctx, cid, source)
		if err != nil {
			return err
		}

		all, err := d.cache.GetAllProperties(ctx, cid, source)
		if err != nil {
			return fmt.Errorf("%w: %v", ingesterr.ErrCacheError, err)
		}
		if numProps >= 0 && len(all) == numProps {
			return d.completeRegistrationLocked(ctx, cid, source)
		}
		return nil
	})
}

// conflicts reports whether candidate's (path, index) pair is a
// uniqueness violation against existing: a match in exactly one of the
// two dimensions is a conflict; a match in both (an exact duplicate) or
// neither is not.
func conflicts(existing map[string]*regtypes.PropertyRegistration, candidate *regtypes.PropertyRegistration) bool {
	for _, e := range existing {
		samePath := e.Path == candidate.Path
		sameIndex := e.Index == candidate.Index
		if samePath != sameIndex {
			return true
		}
	}
	return false
}

// registeredNumProps reads the declared property count for source from
// its cached identity payload. Returns -1 if the identity has not
// arrived yet (registration cannot complete without it).
func (d *Dispatcher) registeredNumProps(ctx context.Context, cid regtypes.ComponentId, source regtypes.Source) (int, error) {
	switch source {
	case regtypes.SourceApp:
		info, err := d.cache.GetAppInfo(ctx, cid)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ingesterr.ErrCacheError, err)
		}
		if info == nil {
			return -1, nil
		}
		return info.NumProps, nil
	default:
		info, err := d.cache.GetSystemInfo(ctx, cid)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ingesterr.ErrCacheError, err)
		}
		if info == nil {
			return -1, nil
		}
		return info.NumProps, nil
	}
}

// scheduleCompletionCheck (re)arms the ≈3s registration-completion timer
// for (source, cid), cancelling any prior timer for the same key first.
func (d *Dispatcher) scheduleCompletionCheck(cid regtypes.ComponentId, source regtypes.Source) {
	key := timerKey{source: source, cid: cid}

	d.timersMu.Lock()
	defer d.timersMu.Unlock()

	if t, ok := d.timers[key]; ok {
		t.Stop()
	}
	d.timers[key] = time.AfterFunc(d.completionDelay, func() {
		d.runCompletionCheck(context.Background(), cid, source)
	})
}

// cancelTimer stops and forgets any scheduled completion timer for
// (source, cid). Must be called with the source's lock held by the
// caller (or during a full-clear, with both locks held).
func (d *Dispatcher) cancelTimer(source regtypes.Source, cid regtypes.ComponentId) {
	key := timerKey{source: source, cid: cid}

	d.timersMu.Lock()
	defer d.timersMu.Unlock()

	if t, ok := d.timers[key]; ok {
		t.Stop()
		delete(d.timers, key)
	}
}

// runCompletionCheck is the timer callback. It acquires the source lock itself, since it runs
// detached from any caller's critical section.
func (d *Dispatcher) runCompletionCheck(ctx context.Context, cid regtypes.ComponentId, source regtypes.Source) {
	key := lockcoord.Key{Source: source, ComponentId: cid}
	err := d.locks.WithLocks(ctx, []lockcoord.Key{key}, lockTimeout, func() error {
		already, err := d.cache.IsRegistered(ctx, cid, source)
		if err != nil {
			return fmt.Errorf("%w: %v", ingesterr.ErrCacheError, err)
		}
		if already {
			return nil
		}

		numProps, err := d.registeredNumProps(ctx, cid, source)
		if err != nil {
			return err
		}
		all, err := d.cache.GetAllProperties(ctx, cid, source)
		if err != nil {
			return fmt.Errorf("%w: %v", ingesterr.ErrCacheError, err)
		}

		if numProps >= 0 && len(all) == numProps {
			if err := d.cache.SetRegistered(ctx, cid, source, true); err != nil {
				return fmt.Errorf("%w: %v", ingesterr.ErrCacheError, err)
			}
			d.bus.Publish(events.KindRegistered, events.Registered{ComponentId: cid, Source: source, Registered: true})
			return nil
		}

		d.bus.Publish(events.KindRegistered, events.Registered{ComponentId: cid, Source: source, Registered: false})
		return nil
	})
	if err != nil {
		d.logger.Warn().Err(err).Str("component_id", cid.String()).Str("source", source.String()).Msg("registration completion check failed")
	}

	d.timersMu.Lock()
	delete(d.timers, timerKey{source: source, cid: cid})
	d.timersMu.Unlock()
}
