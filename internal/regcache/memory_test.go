package regcache

import (
	"context"
	"testing"

	"github.com/fleetwire/ingestd/internal/regtypes"
)

func TestMemoryCacheApiVersionRoundTrip(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()
	cid := regtypes.ComponentId("c1")

	if _, ok, err := c.GetApiVersion(ctx, cid); err != nil || ok {
		t.Fatalf("expected unknown api version initially, got ok=%v err=%v", ok, err)
	}

	if err := c.CacheApiVersion(ctx, cid, regtypes.ApiVersionV2); err != nil {
		t.Fatalf("CacheApiVersion: %v", err)
	}
	v, ok, err := c.GetApiVersion(ctx, cid)
	if err != nil || !ok || v != regtypes.ApiVersionV2 {
		t.Fatalf("got v=%v ok=%v err=%v", v, ok, err)
	}
}

func TestMemoryCachePropertyRoundTrip(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()
	cid := regtypes.ComponentId("c1")

	reg := &regtypes.PropertyRegistration{Path: "lights/state", Index: 0}
	if err := c.CacheProperty(ctx, cid, regtypes.SourceApp, reg.Path, reg); err != nil {
		t.Fatalf("CacheProperty: %v", err)
	}

	got, err := c.GetProperty(ctx, cid, regtypes.SourceApp, "lights/state")
	if err != nil || got == nil || got.Index != 0 {
		t.Fatalf("GetProperty: got %#v err %v", got, err)
	}

	all, err := c.GetAllProperties(ctx, cid, regtypes.SourceApp)
	if err != nil || len(all) != 1 {
		t.Fatalf("GetAllProperties: got %#v err %v", all, err)
	}
}

func TestMemoryCacheSetRegisteredIsPerSource(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()
	cid := regtypes.ComponentId("c1")

	if err := c.SetRegistered(ctx, cid, regtypes.SourceSystem, true); err != nil {
		t.Fatalf("SetRegistered: %v", err)
	}
	sys, _ := c.IsRegistered(ctx, cid, regtypes.SourceSystem)
	app, _ := c.IsRegistered(ctx, cid, regtypes.SourceApp)
	if !sys || app {
		t.Fatalf("expected system=true app=false, got system=%v app=%v", sys, app)
	}
}

func TestMemoryCacheClearAllWipesEverything(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()
	cid := regtypes.ComponentId("c1")

	c.CacheApiVersion(ctx, cid, regtypes.ApiVersionV2)
	c.SetRegistered(ctx, cid, regtypes.SourceSystem, true)
	c.CachePendingMessage(ctx, cid, regtypes.PendingMessage{Topic: "x", Payload: []byte("y")})

	if err := c.ClearAll(ctx, cid); err != nil {
		t.Fatalf("ClearAll: %v", err)
	}

	if _, ok, _ := c.GetApiVersion(ctx, cid); ok {
		t.Fatal("api version survived ClearAll")
	}
	if reg, _ := c.IsRegistered(ctx, cid, regtypes.SourceSystem); reg {
		t.Fatal("registered flag survived ClearAll")
	}
	if _, ok, _ := c.GetNextPendingMessage(ctx, cid); ok {
		t.Fatal("pending message survived ClearAll")
	}
}

func TestMemoryCachePendingMessagesAreFIFO(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()
	cid := regtypes.ComponentId("c1")

	c.CachePendingMessage(ctx, cid, regtypes.PendingMessage{Topic: "a"})
	c.CachePendingMessage(ctx, cid, regtypes.PendingMessage{Topic: "b"})
	c.CachePendingMessage(ctx, cid, regtypes.PendingMessage{Topic: "c"})

	for _, want := range []string{"a", "b", "c"} {
		msg, ok, err := c.GetNextPendingMessage(ctx, cid)
		if err != nil || !ok || msg.Topic != want {
			t.Fatalf("expected %q, got %#v err %v", want, msg, err)
		}
	}
	if _, ok, _ := c.GetNextPendingMessage(ctx, cid); ok {
		t.Fatal("expected empty queue after draining")
	}
}

func TestClearInfoAndRegisteredKeepsProperties(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()
	cid := regtypes.ComponentId("c1")

	c.CacheProperty(ctx, cid, regtypes.SourceApp, "a", &regtypes.PropertyRegistration{Path: "a"})
	c.CacheAppInfo(ctx, cid, &regtypes.ApplicationInfo{NumProps: 1})
	c.SetRegistered(ctx, cid, regtypes.SourceApp, true)

	if err := c.ClearInfoAndRegistered(ctx, cid, regtypes.SourceApp); err != nil {
		t.Fatalf("ClearInfoAndRegistered: %v", err)
	}

	if info, _ := c.GetAppInfo(ctx, cid); info != nil {
		t.Fatal("app info survived ClearInfoAndRegistered")
	}
	if reg, _ := c.IsRegistered(ctx, cid, regtypes.SourceApp); reg {
		t.Fatal("registered flag survived ClearInfoAndRegistered")
	}
	all, _ := c.GetAllProperties(ctx, cid, regtypes.SourceApp)
	if len(all) != 1 {
		t.Fatal("properties should survive ClearInfoAndRegistered")
	}
}

func TestMemoryCacheRejectsInvalidSource(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()
	cid := regtypes.ComponentId("c1")

	if err := c.SetRegistered(ctx, cid, regtypes.Source("bogus"), true); err == nil {
		t.Fatal("expected an error for an invalid source")
	}
	if _, err := c.IsRegistered(ctx, cid, regtypes.Source("bogus")); err == nil {
		t.Fatal("expected an error for an invalid source")
	}
}

func TestMemoryCacheOfflineFlagSetAfterClearAll(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()
	cid := regtypes.ComponentId("c1")

	c.CacheApiVersion(ctx, cid, regtypes.ApiVersionV2)
	c.ClearAll(ctx, cid)
	if err := c.SetOffline(ctx, cid, true); err != nil {
		t.Fatalf("SetOffline: %v", err)
	}

	offline, err := c.IsOffline(ctx, cid)
	if err != nil || !offline {
		t.Fatalf("expected offline=true, got %v err %v", offline, err)
	}
}

func TestMemoryCacheEverHealthyRoundTrip(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()
	cid := regtypes.ComponentId("c1")

	if everHealthy, err := c.WasEverHealthy(ctx, cid); err != nil || everHealthy {
		t.Fatalf("expected false for an unseen component, got %v err %v", everHealthy, err)
	}

	if err := c.SetEverHealthy(ctx, cid, true); err != nil {
		t.Fatalf("SetEverHealthy: %v", err)
	}
	if everHealthy, err := c.WasEverHealthy(ctx, cid); err != nil || !everHealthy {
		t.Fatalf("expected true after SetEverHealthy, got %v err %v", everHealthy, err)
	}
}

func TestMemoryCacheListComponentIds(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	c.CacheApiVersion(ctx, "c1", regtypes.ApiVersionV2)
	c.CacheApiVersion(ctx, "c2", regtypes.ApiVersionV2)

	ids, err := c.ListComponentIds(ctx)
	if err != nil {
		t.Fatalf("ListComponentIds: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 component ids, got %d", len(ids))
	}
}

func TestNewUnknownBackendFails(t *testing.T) {
	if _, err := New("nonexistent", nil); err == nil {
		t.Fatal("expected an error for an unregistered backend name")
	}
}

func TestNewMemoryBackendViaRegistry(t *testing.T) {
	c, err := New("memory", nil)
	if err != nil {
		t.Fatalf("New(\"memory\"): %v", err)
	}
	if c == nil {
		t.Fatal("expected a non-nil cache")
	}
}
