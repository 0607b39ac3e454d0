package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/fleetwire/ingestd/internal/ingesterr"
	"github.com/fleetwire/ingestd/internal/lockcoord"
	"github.com/fleetwire/ingestd/internal/regcache"
	"github.com/fleetwire/ingestd/internal/regtypes"
	"github.com/fleetwire/ingestd/pkg/events"
)

func newTestDispatcher(t *testing.T, delay time.Duration) (*Dispatcher, *regcache.MemoryCache, *recorder) {
	t.Helper()
	cache := regcache.NewMemoryCache()
	locks := lockcoord.New()
	bus := events.NewBus()
	rec := newRecorder(bus)
	d := New(cache, locks, bus, zerolog.Nop(), WithCompletionDelay(delay))
	return d, cache, rec
}

// recorder captures every event published on a Bus, in order.
type recorder struct {
	mu     sync.Mutex
	events []recorded
}

type recorded struct {
	kind events.Kind
	data any
}

func newRecorder(bus *events.Bus) *recorder {
	r := &recorder{}
	for _, k := range []events.Kind{
		events.KindReceivedMsg, events.KindUnhandledMsg, events.KindOnline,
		events.KindRegistered, events.KindPropUpdate, events.KindLogReceived,
	} {
		kind := k
		bus.Subscribe(kind, func(e any) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.events = append(r.events, recorded{kind: kind, data: e})
		})
	}
	return r
}

func (r *recorder) kinds() []events.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Kind, len(r.events))
	for i, e := range r.events {
		out[i] = e.kind
	}
	return out
}

func (r *recorder) all() []recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recorded(nil), r.events...)
}

func TestS1HappyPathSystemRegistrationZeroProps(t *testing.T) {
	d, _, rec := newTestDispatcher(t, 3*time.Second)
	ctx := context.Background()
	cid := regtypes.ComponentId("c1")

	payload := []byte(`{"api_ver":2,"type":"generic","capabilities":[],"mac":"aa:bb:cc:dd:ee:ff","ip":"10.0.0.1","num_props":0}`)
	if err := d.HandleMessage(ctx, cid, "system/info", payload); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}

	want := []events.Kind{events.KindOnline, events.KindRegistered}
	if got := rec.kinds(); !equalKinds(got, want) {
		t.Fatalf("got events %v, want %v", got, want)
	}
	evs := rec.all()
	reg, ok := evs[1].data.(events.Registered)
	if !ok || !reg.Registered {
		t.Fatalf("expected REGISTERED{true}, got %#v", evs[1].data)
	}
}

func TestS2AppRegistrationWithOneProperty(t *testing.T) {
	d, _, rec := newTestDispatcher(t, 3*time.Second)
	ctx := context.Background()
	cid := regtypes.ComponentId("c1")

	sysPayload := []byte(`{"api_ver":2,"type":"generic","capabilities":[],"mac":"aa:bb:cc:dd:ee:ff","ip":"10.0.0.1","num_props":0}`)
	if err := d.HandleMessage(ctx, cid, "system/info", sysPayload); err != nil {
		t.Fatalf("system/info: %v", err)
	}

	if err := d.HandleMessage(ctx, cid, "app/info", []byte(`{"num_props":1}`)); err != nil {
		t.Fatalf("app/info: %v", err)
	}
	propPayload := []byte(`{"path":"lights/state","index":0,"type":"gmbnd_primitive","format":"B","length":1,"settable":true,"gettable":true}`)
	if err := d.HandleMessage(ctx, cid, "app/register/prop", propPayload); err != nil {
		t.Fatalf("app/register/prop: %v", err)
	}

	var sawAppRegisteredTrue bool
	for _, e := range rec.all() {
		if e.kind == events.KindRegistered {
			if r, ok := e.data.(events.Registered); ok && r.Source == regtypes.SourceApp && r.Registered {
				sawAppRegisteredTrue = true
			}
		}
	}
	if !sawAppRegisteredTrue {
		t.Fatalf("expected REGISTERED{app,true} among events: %#v", rec.all())
	}
}

func TestS3ConflictingPropertyIndexIsSkipped(t *testing.T) {
	d, cache, rec := newTestDispatcher(t, 3*time.Second)
	ctx := context.Background()
	cid := regtypes.ComponentId("c1")

	d.HandleMessage(ctx, cid, "system/info", []byte(`{"api_ver":2,"type":"generic","capabilities":[],"mac":"aa:bb:cc:dd:ee:ff","ip":"10.0.0.1","num_props":0}`))
	d.HandleMessage(ctx, cid, "app/info", []byte(`{"num_props":1}`))
	d.HandleMessage(ctx, cid, "app/register/prop", []byte(`{"path":"lights/state","index":0,"type":"gmbnd_primitive","format":"B","length":1,"settable":true,"gettable":true}`))

	before := len(rec.all())
	err := d.HandleMessage(ctx, cid, "app/register/prop", []byte(`{"path":"lights/mode","index":0,"type":"gmbnd_primitive","format":"B","length":1,"settable":true,"gettable":true}`))
	if !errors.Is(err, ingesterr.ErrPropertyConflict) {
		t.Fatalf("expected ErrPropertyConflict, got %v", err)
	}
	if got := len(rec.all()); got != before {
		t.Fatalf("expected no new events from a skipped conflicting record, got %d new", got-before)
	}

	all, _ := cache.GetAllProperties(ctx, cid, regtypes.SourceApp)
	if len(all) != 1 {
		t.Fatalf("expected exactly 1 cached property, got %d", len(all))
	}
	if _, ok := all["lights/mode"]; ok {
		t.Fatal("conflicting record should not have been cached")
	}
}

func TestS4PropertyValueUpdate(t *testing.T) {
	d, _, rec := newTestDispatcher(t, 3*time.Second)
	ctx := context.Background()
	cid := regtypes.ComponentId("c1")

	d.HandleMessage(ctx, cid, "system/info", []byte(`{"api_ver":2,"type":"generic","capabilities":[],"mac":"aa:bb:cc:dd:ee:ff","ip":"10.0.0.1","num_props":0}`))
	d.HandleMessage(ctx, cid, "app/info", []byte(`{"num_props":1}`))
	d.HandleMessage(ctx, cid, "app/register/prop", []byte(`{"path":"lights/state","index":0,"type":"gmbnd_primitive","format":"B","length":1,"settable":true,"gettable":true}`))

	if err := d.HandleMessage(ctx, cid, "app/prop/pub/:/lights/state", []byte{0x07}); err != nil {
		t.Fatalf("prop/pub: %v", err)
	}

	evs := rec.all()
	last := evs[len(evs)-1]
	upd, ok := last.data.(events.PropUpdate)
	if !ok || upd.Path != "lights/state" || upd.Format != "B" {
		t.Fatalf("expected a PROP_UPDATE for lights/state, got %#v", last.data)
	}
}

func TestS6WillMessageClearsState(t *testing.T) {
	d, cache, rec := newTestDispatcher(t, 3*time.Second)
	ctx := context.Background()
	cid := regtypes.ComponentId("c1")

	d.HandleMessage(ctx, cid, "system/info", []byte(`{"api_ver":2,"type":"generic","capabilities":[],"mac":"aa:bb:cc:dd:ee:ff","ip":"10.0.0.1","num_props":0}`))

	if err := d.HandleMessage(ctx, cid, "system/info", nil); err != nil {
		t.Fatalf("will message: %v", err)
	}

	evs := rec.all()
	last := evs[len(evs)-1]
	online, ok := last.data.(events.Online)
	if !ok || online.Online {
		t.Fatalf("expected ONLINE{false} as the last event, got %#v", last.data)
	}

	if _, ok, _ := cache.GetApiVersion(ctx, cid); ok {
		t.Fatal("api version should have been cleared by the will message")
	}
	if offline, _ := cache.IsOffline(ctx, cid); !offline {
		t.Fatal("expected the will message to mark the component offline")
	}
}

func TestEverHealthyIsSetOnceBothSourcesRegister(t *testing.T) {
	d, cache, _ := newTestDispatcher(t, 3*time.Second)
	ctx := context.Background()
	cid := regtypes.ComponentId("c1")

	d.HandleMessage(ctx, cid, "system/info", []byte(`{"api_ver":2,"type":"generic","capabilities":[],"mac":"aa:bb:cc:dd:ee:ff","ip":"10.0.0.1","num_props":0}`))

	if everHealthy, _ := cache.WasEverHealthy(ctx, cid); everHealthy {
		t.Fatal("expected ever-healthy to stay false before the app source registers")
	}

	d.HandleMessage(ctx, cid, "app/info", []byte(`{"num_props":0}`))

	if everHealthy, _ := cache.WasEverHealthy(ctx, cid); !everHealthy {
		t.Fatal("expected ever-healthy to be set once both sources are registered")
	}
}

func TestRegistrationTimerReportsNotRegisteredOnMismatch(t *testing.T) {
	d, _, rec := newTestDispatcher(t, 30*time.Millisecond)
	ctx := context.Background()
	cid := regtypes.ComponentId("c1")

	d.HandleMessage(ctx, cid, "app/info", []byte(`{"num_props":1}`))

	time.Sleep(150 * time.Millisecond)

	var sawNegative bool
	for _, e := range rec.all() {
		if r, ok := e.data.(events.Registered); ok && !r.Registered {
			sawNegative = true
		}
	}
	if !sawNegative {
		t.Fatal("expected the timer to fire REGISTERED{false} since num_props=1 was never satisfied")
	}
}

func TestUnhandledPartialPublishTopic(t *testing.T) {
	d, _, rec := newTestDispatcher(t, 3*time.Second)
	ctx := context.Background()
	cid := regtypes.ComponentId("c1")

	if err := d.HandleMessage(ctx, cid, "app/prop/pub/0/lights/state", []byte{1}); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	evs := rec.all()
	last := evs[len(evs)-1]
	if last.kind != events.KindUnhandledMsg {
		t.Fatalf("expected UNHANDLED_MSG, got %v", last.kind)
	}
}

func TestSetPropertyRejectsNonSettable(t *testing.T) {
	d, cache, _ := newTestDispatcher(t, 3*time.Second)
	ctx := context.Background()
	cid := regtypes.ComponentId("c1")

	cache.CacheProperty(ctx, cid, regtypes.SourceApp, "lights/state", &regtypes.PropertyRegistration{
		Path: "lights/state", Type: regtypes.PropertyTypePrimitive, Format: "B", Length: 1, Settable: false,
	})

	err := d.SetProperty(ctx, cid, regtypes.SourceApp, "lights/state", []any{uint64(1)}, func(context.Context, string, []byte) error { return nil })
	if !errors.Is(err, ingesterr.ErrPropertyAccess) {
		t.Fatalf("expected ErrPropertyAccess, got %v", err)
	}
}

func TestSetPropertyPublishesEncodedBytes(t *testing.T) {
	d, cache, _ := newTestDispatcher(t, 3*time.Second)
	ctx := context.Background()
	cid := regtypes.ComponentId("c1")

	cache.CacheProperty(ctx, cid, regtypes.SourceApp, "lights/state", &regtypes.PropertyRegistration{
		Path: "lights/state", Type: regtypes.PropertyTypePrimitive, Format: "B", Length: 1, Settable: true,
	})

	var gotTopic string
	var gotPayload []byte
	err := d.SetProperty(ctx, cid, regtypes.SourceApp, "lights/state", []any{uint64(7)}, func(_ context.Context, topic string, payload []byte) error {
		gotTopic, gotPayload = topic, payload
		return nil
	})
	if err != nil {
		t.Fatalf("SetProperty: %v", err)
	}
	if gotTopic != "c1/app/prop/set/lights/state" {
		t.Fatalf("unexpected topic: %q", gotTopic)
	}
	if len(gotPayload) != 1 || gotPayload[0] != 7 {
		t.Fatalf("unexpected payload: %v", gotPayload)
	}
}

func equalKinds(a, b []events.Kind) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
