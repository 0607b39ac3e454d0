package dispatch

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"

	"github.com/fleetwire/ingestd/internal/codec"
	"github.com/fleetwire/ingestd/internal/ingesterr"
	"github.com/fleetwire/ingestd/internal/regtypes"
)

// PublishFunc delivers encoded bytes to the outbound transport at topic.
type PublishFunc func(ctx context.Context, topic string, payload []byte) error

// defaultSetRate and defaultSetBurst bound how often a single component
// may be sent property-set publications, using the same per-client
// token-bucket shape as a send-rate limiter.
const (
	defaultSetRate  = rate.Limit(5)
	defaultSetBurst = 10
)

// limiterSet hands out one token-bucket limiter per componentId, created
// lazily on first use.
type limiterSet struct {
	mu       sync.Mutex
	limiters map[regtypes.ComponentId]*rate.Limiter
	r        rate.Limit
	burst    int
}

func newLimiterSet(r rate.Limit, burst int) *limiterSet {
	return &limiterSet{limiters: make(map[regtypes.ComponentId]*rate.Limiter), r: r, burst: burst}
}

func (s *limiterSet) get(cid regtypes.ComponentId) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.limiters[cid]
	if !ok {
		l = rate.NewLimiter(s.r, s.burst)
		s.limiters[cid] = l
	}
	return l
}

// SetProperty implements the property-set publication path: the inverse
// flow, invoked by external callers to push a new value to a component.
func (d *Dispatcher) SetProperty(ctx context.Context, cid regtypes.ComponentId, source regtypes.Source, path string, values any, publish PublishFunc) error {
	reg, err := d.cache.GetProperty(ctx, cid, source, path)
	if err != nil {
		return fmt.Errorf("%w: %v", ingesterr.ErrCacheError, err)
	}
	if reg == nil {
		return fmt.Errorf("%w: path %q", ingesterr.ErrPropertyInvalid, path)
	}
	if !reg.Settable {
		return fmt.Errorf("%w: path %q is not settable", ingesterr.ErrPropertyAccess, path)
	}

	v, err := codec.UnpackFromJSON(values, reg, codec.PolicyError)
	if err != nil {
		return err
	}
	packed, err := codec.Pack(v, reg)
	if err != nil {
		return err
	}

	if err := d.setLimiters.get(cid).Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter error: %w", err)
	}

	topic := fmt.Sprintf("%s/%s/prop/set/%s", cid, source, path)
	return publish(ctx, topic, packed)
}
