// Package regcache implements the Registration Cache: a
// pluggable store of per-component, per-source registration state, with
// a FIFO pending-message buffer per component.
//
// The backend is selected through a name/factory registry, grounded on
// the processor-factory registry pattern (register a constructor under a
// name, look it up by name at wiring time) rather than a single
// hardcoded implementation.
package regcache

import (
	"context"
	"fmt"

	"github.com/fleetwire/ingestd/internal/ingesterr"
	"github.com/fleetwire/ingestd/internal/regtypes"
)

// SourceState holds one source's (system or app) registration sub-record.
type SourceState struct {
	SystemInfo *regtypes.SystemInfo
	AppInfo    *regtypes.ApplicationInfo
	Properties map[string]*regtypes.PropertyRegistration // path -> registration
	Registered bool
}

// PerComponentState is the cache's per-component record.
type PerComponentState struct {
	ApiVersion      regtypes.ApiVersion
	System          SourceState
	App             SourceState
	PendingMessages []regtypes.PendingMessage
	Offline         bool
	EverHealthy     bool
}

// Cache is the Registration Cache's pluggable contract. All
// operations are safe for concurrent use across components; callers are
// still responsible for holding the matching source lock (via
// lockcoord.Coordinator) around any sequence of reads+writes that must
// be atomic together.
type Cache interface {
	CacheApiVersion(ctx context.Context, cid regtypes.ComponentId, v regtypes.ApiVersion) error
	GetApiVersion(ctx context.Context, cid regtypes.ComponentId) (regtypes.ApiVersion, bool, error)
	ClearApiVersion(ctx context.Context, cid regtypes.ComponentId) error

	CacheSystemInfo(ctx context.Context, cid regtypes.ComponentId, info *regtypes.SystemInfo) error
	GetSystemInfo(ctx context.Context, cid regtypes.ComponentId) (*regtypes.SystemInfo, error)
	ClearSystemInfo(ctx context.Context, cid regtypes.ComponentId) error

	CacheAppInfo(ctx context.Context, cid regtypes.ComponentId, info *regtypes.ApplicationInfo) error
	GetAppInfo(ctx context.Context, cid regtypes.ComponentId) (*regtypes.ApplicationInfo, error)

	CacheProperty(ctx context.Context, cid regtypes.ComponentId, source regtypes.Source, path string, reg *regtypes.PropertyRegistration) error
	GetProperty(ctx context.Context, cid regtypes.ComponentId, source regtypes.Source, path string) (*regtypes.PropertyRegistration, error)
	GetAllProperties(ctx context.Context, cid regtypes.ComponentId, source regtypes.Source) (map[string]*regtypes.PropertyRegistration, error)
	ClearProperties(ctx context.Context, cid regtypes.ComponentId, source regtypes.Source) error

	SetRegistered(ctx context.Context, cid regtypes.ComponentId, source regtypes.Source, flag bool) error
	IsRegistered(ctx context.Context, cid regtypes.ComponentId, source regtypes.Source) (bool, error)

	ClearInfoAndRegistered(ctx context.Context, cid regtypes.ComponentId, source regtypes.Source) error
	ClearCachedValues(ctx context.Context, cid regtypes.ComponentId, source regtypes.Source) error
	ClearAll(ctx context.Context, cid regtypes.ComponentId) error

	CachePendingMessage(ctx context.Context, cid regtypes.ComponentId, msg regtypes.PendingMessage) error
	GetNextPendingMessage(ctx context.Context, cid regtypes.ComponentId) (*regtypes.PendingMessage, bool, error)

	// SetOffline/IsOffline track the will/online signal independently of
	// ApiVersion. ClearAll removes the flag with the rest of the record;
	// the will path calls SetOffline after ClearAll, so IsOffline reports
	// true for a component the will message just reset.
	SetOffline(ctx context.Context, cid regtypes.ComponentId, offline bool) error
	IsOffline(ctx context.Context, cid regtypes.ComponentId) (bool, error)

	// SetEverHealthy/WasEverHealthy remember whether a component has ever
	// had both sources registered at once, so a later regression to a
	// single registered source can be told apart from first-time startup.
	SetEverHealthy(ctx context.Context, cid regtypes.ComponentId, flag bool) error
	WasEverHealthy(ctx context.Context, cid regtypes.ComponentId) (bool, error)

	// ListComponentIds returns every component the cache currently holds
	// a record for, for health endpoints that report fleet-wide status.
	ListComponentIds(ctx context.Context) ([]regtypes.ComponentId, error)
}

// Factory constructs a Cache from a backend-specific config map.
type Factory func(config map[string]any) (Cache, error)

var backendRegistry = map[string]Factory{}

// RegisterBackend adds a Factory to the global registry under name. Call
// from an init() in the backend's package.
func RegisterBackend(name string, factory Factory) {
	backendRegistry[name] = factory
}

// New instantiates the named backend with the given config. Returns
// ErrCacheError if name is not registered.
func New(name string, config map[string]any) (Cache, error) {
	factory, ok := backendRegistry[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown cache backend %q", ingesterr.ErrCacheError, name)
	}
	return factory(config)
}

func init() {
	RegisterBackend("memory", func(map[string]any) (Cache, error) {
		return NewMemoryCache(), nil
	})
}
