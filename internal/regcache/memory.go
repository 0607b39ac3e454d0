package regcache

import (
	"context"
	"sync"

	"github.com/fleetwire/ingestd/internal/regtypes"
)

// MemoryCache is the default in-process Cache backend.
type MemoryCache struct {
	mu         sync.Mutex
	components map[regtypes.ComponentId]*PerComponentState
}

// NewMemoryCache returns an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{components: make(map[regtypes.ComponentId]*PerComponentState)}
}

func (m *MemoryCache) stateLocked(cid regtypes.ComponentId) *PerComponentState {
	s, ok := m.components[cid]
	if !ok {
		s = &PerComponentState{
			System: SourceState{Properties: make(map[string]*regtypes.PropertyRegistration)},
			App:    SourceState{Properties: make(map[string]*regtypes.PropertyRegistration)},
		}
		m.components[cid] = s
	}
	return s
}

func (m *MemoryCache) sourceLocked(cid regtypes.ComponentId, source regtypes.Source) *SourceState {
	s := m.stateLocked(cid)
	switch source {
	case regtypes.SourceApp:
		return &s.App
	default:
		return &s.System
	}
}

func (m *MemoryCache) CacheApiVersion(_ context.Context, cid regtypes.ComponentId, v regtypes.ApiVersion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stateLocked(cid).ApiVersion = v
	return nil
}

func (m *MemoryCache) GetApiVersion(_ context.Context, cid regtypes.ComponentId) (regtypes.ApiVersion, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.components[cid]
	if !ok || s.ApiVersion == regtypes.ApiVersionUnknown {
		return regtypes.ApiVersionUnknown, false, nil
	}
	return s.ApiVersion, true, nil
}

func (m *MemoryCache) ClearApiVersion(_ context.Context, cid regtypes.ComponentId) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.components[cid]; ok {
		s.ApiVersion = regtypes.ApiVersionUnknown
	}
	return nil
}

func (m *MemoryCache) CacheSystemInfo(_ context.Context, cid regtypes.ComponentId, info *regtypes.SystemInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sourceLocked(cid, regtypes.SourceSystem).SystemInfo = info
	return nil
}

func (m *MemoryCache) GetSystemInfo(_ context.Context, cid regtypes.ComponentId) (*regtypes.SystemInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sourceLocked(cid, regtypes.SourceSystem).SystemInfo, nil
}

func (m *MemoryCache) ClearSystemInfo(_ context.Context, cid regtypes.ComponentId) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sourceLocked(cid, regtypes.SourceSystem).SystemInfo = nil
	return nil
}

func (m *MemoryCache) CacheAppInfo(_ context.Context, cid regtypes.ComponentId, info *regtypes.ApplicationInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sourceLocked(cid, regtypes.SourceApp).AppInfo = info
	return nil
}

func (m *MemoryCache) GetAppInfo(_ context.Context, cid regtypes.ComponentId) (*regtypes.ApplicationInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sourceLocked(cid, regtypes.SourceApp).AppInfo, nil
}

func (m *MemoryCache) CacheProperty(_ context.Context, cid regtypes.ComponentId, source regtypes.Source, path string, reg *regtypes.PropertyRegistration) error {
	if err := regtypes.ValidateSource(source); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sourceLocked(cid, source).Properties[path] = reg
	return nil
}

func (m *MemoryCache) GetProperty(_ context.Context, cid regtypes.ComponentId, source regtypes.Source, path string) (*regtypes.PropertyRegistration, error) {
	if err := regtypes.ValidateSource(source); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sourceLocked(cid, source).Properties[path], nil
}

func (m *MemoryCache) GetAllProperties(_ context.Context, cid regtypes.ComponentId, source regtypes.Source) (map[string]*regtypes.PropertyRegistration, error) {
	if err := regtypes.ValidateSource(source); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	src := m.sourceLocked(cid, source)
	out := make(map[string]*regtypes.PropertyRegistration, len(src.Properties))
	for k, v := range src.Properties {
		out[k] = v
	}
	return out, nil
}

func (m *MemoryCache) ClearProperties(_ context.Context, cid regtypes.ComponentId, source regtypes.Source) error {
	if err := regtypes.ValidateSource(source); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sourceLocked(cid, source).Properties = make(map[string]*regtypes.PropertyRegistration)
	return nil
}

func (m *MemoryCache) SetRegistered(_ context.Context, cid regtypes.ComponentId, source regtypes.Source, flag bool) error {
	if err := regtypes.ValidateSource(source); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sourceLocked(cid, source).Registered = flag
	return nil
}

func (m *MemoryCache) IsRegistered(_ context.Context, cid regtypes.ComponentId, source regtypes.Source) (bool, error) {
	if err := regtypes.ValidateSource(source); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sourceLocked(cid, source).Registered, nil
}

func (m *MemoryCache) ClearInfoAndRegistered(_ context.Context, cid regtypes.ComponentId, source regtypes.Source) error {
	if err := regtypes.ValidateSource(source); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	src := m.sourceLocked(cid, source)
	src.SystemInfo = nil
	src.AppInfo = nil
	src.Registered = false
	return nil
}

func (m *MemoryCache) ClearCachedValues(_ context.Context, cid regtypes.ComponentId, source regtypes.Source) error {
	if err := regtypes.ValidateSource(source); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	src := m.sourceLocked(cid, source)
	src.SystemInfo = nil
	src.AppInfo = nil
	src.Properties = make(map[string]*regtypes.PropertyRegistration)
	src.Registered = false
	return nil
}

func (m *MemoryCache) ClearAll(_ context.Context, cid regtypes.ComponentId) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.components, cid)
	return nil
}

func (m *MemoryCache) SetOffline(_ context.Context, cid regtypes.ComponentId, offline bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stateLocked(cid).Offline = offline
	return nil
}

func (m *MemoryCache) IsOffline(_ context.Context, cid regtypes.ComponentId) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.components[cid]
	if !ok {
		return false, nil
	}
	return s.Offline, nil
}

func (m *MemoryCache) SetEverHealthy(_ context.Context, cid regtypes.ComponentId, flag bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stateLocked(cid).EverHealthy = flag
	return nil
}

func (m *MemoryCache) WasEverHealthy(_ context.Context, cid regtypes.ComponentId) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.components[cid]
	if !ok {
		return false, nil
	}
	return s.EverHealthy, nil
}

func (m *MemoryCache) ListComponentIds(_ context.Context) ([]regtypes.ComponentId, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]regtypes.ComponentId, 0, len(m.components))
	for cid := range m.components {
		ids = append(ids, cid)
	}
	return ids, nil
}

func (m *MemoryCache) CachePendingMessage(_ context.Context, cid regtypes.ComponentId, msg regtypes.PendingMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.stateLocked(cid)
	s.PendingMessages = append(s.PendingMessages, msg)
	return nil
}

func (m *MemoryCache) GetNextPendingMessage(_ context.Context, cid regtypes.ComponentId) (*regtypes.PendingMessage, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.components[cid]
	if !ok || len(s.PendingMessages) == 0 {
		return nil, false, nil
	}
	msg := s.PendingMessages[0]
	s.PendingMessages = s.PendingMessages[1:]
	return &msg, true, nil
}
