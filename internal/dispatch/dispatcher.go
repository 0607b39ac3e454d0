// Package dispatch implements the V2 Dispatcher: topic
// routing, the per-source registration state machine, and the
// property-set publication path.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/fleetwire/ingestd/internal/codec"
	"github.com/fleetwire/ingestd/internal/ingesterr"
	"github.com/fleetwire/ingestd/internal/lockcoord"
	"github.com/fleetwire/ingestd/internal/regcache"
	"github.com/fleetwire/ingestd/internal/regtypes"
	"github.com/fleetwire/ingestd/internal/schema"
	"github.com/fleetwire/ingestd/pkg/events"
)

// completionDelay is the registration-completion check's scheduling
// delay.
const completionDelay = 3 * time.Second

// lockTimeout bounds how long a dispatcher operation waits for a
// component's source lock before giving up.
const lockTimeout = 5 * time.Second

// timerKey identifies one (source, componentId) registration-completion
// timer slot; at most one timer may be scheduled per key at a time.
type timerKey struct {
	source regtypes.Source
	cid    regtypes.ComponentId
}

// Dispatcher is the V2 Dispatcher: it owns no state of its own beyond
// scheduled timers and per-component set-publish rate limiters — the
// registration cache is the only durable store.
type Dispatcher struct {
	cache  regcache.Cache
	locks  *lockcoord.Coordinator
	bus    *events.Bus
	logger zerolog.Logger

	timersMu sync.Mutex
	timers   map[timerKey]*time.Timer

	setLimiters     *limiterSet
	completionDelay time.Duration
}

// Option configures a Dispatcher at construction time.
type Option func(*Dispatcher)

// WithCompletionDelay overrides the ≈3s registration-completion check
// delay. Intended for tests; production callers should use the default.
func WithCompletionDelay(d time.Duration) Option {
	return func(disp *Dispatcher) { disp.completionDelay = d }
}

// New wires a Dispatcher over cache, using locks for per-source mutual
// exclusion and bus to emit typed events.
func New(cache regcache.Cache, locks *lockcoord.Coordinator, bus *events.Bus, logger zerolog.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		cache:           cache,
		locks:           locks,
		bus:             bus,
		logger:          logger.With().Str("component", "dispatch").Logger(),
		timers:          make(map[timerKey]*time.Timer),
		setLimiters:     newLimiterSet(defaultSetRate, defaultSetBurst),
		completionDelay: completionDelay,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// HandleMessage routes one already-version-known message to its topic
// handler. topic has had its leading componentId segment
// stripped by the event handler shell.
func (d *Dispatcher) HandleMessage(ctx context.Context, cid regtypes.ComponentId, topic string, payload []byte) error {
	act := parseTopic(topic)

	switch act.kind {
	case actionSystemInfo:
		return d.handleSystemInfo(ctx, cid, payload)
	case actionAppInfo:
		return d.handleAppInfo(ctx, cid, payload)
	case actionRegisterProp:
		return d.handleRegisterProp(ctx, cid, act.source, payload)
	case actionLog:
		return d.handleLog(ctx, cid, act.source, payload)
	case actionPropPubFull:
		return d.handlePropPub(ctx, cid, act.source, act.path, payload)
	default:
		d.logger.Debug().Str("component_id", cid.String()).Str("topic", topic).Msg("unhandled topic")
		d.bus.Publish(events.KindUnhandledMsg, events.UnhandledMsg{ComponentId: cid, Topic: topic, Payload: payload})
		return nil
	}
}

// handleSystemInfo implements "On system/info".
func (d *Dispatcher) handleSystemInfo(ctx context.Context, cid regtypes.ComponentId, payload []byte) error {
	if len(payload) == 0 {
		d.bus.Publish(events.KindOnline, events.Online{ComponentId: cid, Online: false})
		keys := []lockcoord.Key{
			{Source: regtypes.SourceSystem, ComponentId: cid},
			{Source: regtypes.SourceApp, ComponentId: cid},
		}
		return d.locks.WithLocks(ctx, keys, lockTimeout, func() error {
			d.cancelTimer(regtypes.SourceSystem, cid)
			d.cancelTimer(regtypes.SourceApp, cid)
			if err := d.cache.ClearAll(ctx, cid); err != nil {
				return fmt.Errorf("%w: %v", ingesterr.ErrCacheError, err)
			}
			if err := d.cache.SetOffline(ctx, cid, true); err != nil {
				return fmt.Errorf("%w: %v", ingesterr.ErrCacheError, err)
			}
			return nil
		})
	}

	d.bus.Publish(events.KindOnline, events.Online{ComponentId: cid, Online: true})

	info, err := schema.ParseSystemInfo(payload)
	if err != nil {
		d.logger.Warn().Err(err).Str("component_id", cid.String()).Msg("invalid system/info payload")
		return d.clearAllOnIdentityFailure(ctx, cid, err)
	}

	key := lockcoord.Key{Source: regtypes.SourceSystem, ComponentId: cid}
	return d.locks.WithLocks(ctx, []lockcoord.Key{key}, lockTimeout, func() error {
		if err := d.cache.CacheApiVersion(ctx, cid, info.ApiVer); err != nil {
			return fmt.Errorf("%w: %v", ingesterr.ErrCacheError, err)
		}
		if err := d.cache.CacheSystemInfo(ctx, cid, info); err != nil {
			return fmt.Errorf("%w: %v", ingesterr.ErrCacheError, err)
		}
		if err := d.cache.SetOffline(ctx, cid, false); err != nil {
			return fmt.Errorf("%w: %v", ingesterr.ErrCacheError, err)
		}
		return d.afterRegistrationWrite(ctx, cid, regtypes.SourceSystem, info.NumProps)
	})
}

// handleAppInfo implements "On app/info".
func (d *Dispatcher) handleAppInfo(ctx context.Context, cid regtypes.ComponentId, payload []byte) error {
	info, err := schema.ParseApplicationInfo(payload)
	if err != nil {
		d.logger.Warn().Err(err).Str("component_id", cid.String()).Msg("invalid app/info payload")
		return err
	}

	key := lockcoord.Key{Source: regtypes.SourceApp, ComponentId: cid}
	return d.locks.WithLocks(ctx, []lockcoord.Key{key}, lockTimeout, func() error {
		wasRegistered, err := d.cache.IsRegistered(ctx, cid, regtypes.SourceApp)
		if err != nil {
			return fmt.Errorf("%w: %v", ingesterr.ErrCacheError, err)
		}
		if wasRegistered {
			if err := d.cache.ClearCachedValues(ctx, cid, regtypes.SourceApp); err != nil {
				return fmt.Errorf("%w: %v", ingesterr.ErrCacheError, err)
			}
			d.bus.Publish(events.KindRegistered, events.Registered{ComponentId: cid, Source: regtypes.SourceApp, Registered: false})
		}

		if err := d.cache.CacheAppInfo(ctx, cid, info); err != nil {
			return fmt.Errorf("%w: %v", ingesterr.ErrCacheError, err)
		}
		return d.afterRegistrationWrite(ctx, cid, regtypes.SourceApp, info.NumProps)
	})
}

// afterRegistrationWrite completes registration immediately when
// numProps is zero, else (re)schedules the completion-check timer. Must
// be called with the source's lock held.
func (d *Dispatcher) afterRegistrationWrite(ctx context.Context, cid regtypes.ComponentId, source regtypes.Source, numProps int) error {
	if numProps == 0 {
		return d.completeRegistrationLocked(ctx, cid, source)
	}
	d.scheduleCompletionCheck(cid, source)
	return nil
}

// completeRegistrationLocked sets the registration flag and emits
// REGISTERED{true}. Must be called with the source's lock held.
func (d *Dispatcher) completeRegistrationLocked(ctx context.Context, cid regtypes.ComponentId, source regtypes.Source) error {
	d.cancelTimer(source, cid)
	if err := d.cache.SetRegistered(ctx, cid, source, true); err != nil {
		return fmt.Errorf("%w: %v", ingesterr.ErrCacheError, err)
	}
	d.bus.Publish(events.KindRegistered, events.Registered{ComponentId: cid, Source: source, Registered: true})

	other := regtypes.SourceApp
	if source == regtypes.SourceApp {
		other = regtypes.SourceSystem
	}
	otherRegistered, err := d.cache.IsRegistered(ctx, cid, other)
	if err != nil {
		return fmt.Errorf("%w: %v", ingesterr.ErrCacheError, err)
	}
	if otherRegistered {
		if err := d.cache.SetEverHealthy(ctx, cid, true); err != nil {
			return fmt.Errorf("%w: %v", ingesterr.ErrCacheError, err)
		}
	}
	return nil
}

// clearAllOnIdentityFailure implements the PAYLOAD_SCHEMA_INVALID policy
// for identity messages: log (by the caller) and clear component state.
func (d *Dispatcher) clearAllOnIdentityFailure(ctx context.Context, cid regtypes.ComponentId, cause error) error {
	keys := []lockcoord.Key{
		{Source: regtypes.SourceSystem, ComponentId: cid},
		{Source: regtypes.SourceApp, ComponentId: cid},
	}
	err := d.locks.WithLocks(ctx, keys, lockTimeout, func() error {
		d.cancelTimer(regtypes.SourceSystem, cid)
		d.cancelTimer(regtypes.SourceApp, cid)
		return d.cache.ClearAll(ctx, cid)
	})
	if err != nil {
		return fmt.Errorf("%w (clearing after %v)", ingesterr.ErrCacheError, cause)
	}
	return cause
}

// handleLog implements "On <source>/log".
func (d *Dispatcher) handleLog(_ context.Context, cid regtypes.ComponentId, source regtypes.Source, payload []byte) error {
	rec, err := schema.ParseLog(payload)
	if err != nil {
		d.logger.Warn().Err(err).Str("component_id", cid.String()).Msg("invalid log payload")
		return err
	}
	d.bus.Publish(events.KindLogReceived, events.LogReceived{ComponentId: cid, Source: source, Log: *rec})
	return nil
}

// handlePropPub implements "On <source>/prop/pub/:/<path…>".
func (d *Dispatcher) handlePropPub(ctx context.Context, cid regtypes.ComponentId, source regtypes.Source, path string, payload []byte) error {
	reg, err := d.cache.GetProperty(ctx, cid, source, path)
	if err != nil {
		return fmt.Errorf("%w: %v", ingesterr.ErrCacheError, err)
	}
	if reg == nil {
		d.logger.Warn().Str("component_id", cid.String()).Str("path", path).Msg("property update for unregistered path")
		return fmt.Errorf("%w: path %q", ingesterr.ErrPropertyInvalid, path)
	}

	unpacked, err := codec.Unpack(payload, reg)
	if err != nil {
		d.logger.Warn().Err(err).Str("component_id", cid.String()).Str("path", path).Msg("failed to unpack property value")
		return err
	}
	formatted, err := codec.JSONFormat(unpacked, reg)
	if err != nil {
		return err
	}

	d.bus.Publish(events.KindPropUpdate, events.PropUpdate{
		ComponentId:    cid,
		Source:         source,
		Path:           path,
		Format:         reg.Format,
		UnpackedValue:  unpacked,
		FormattedValue: formatted,
		RawBytes:       payload,
	})
	return nil
}
