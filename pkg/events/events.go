// Package events defines the typed event records the dispatcher emits
// and a small synchronous publish/subscribe bus. Handlers run on the
// dispatcher's own goroutine — there is no internal queuing or
// concurrency beyond what the caller provides.
package events

import (
	"sync"

	"github.com/fleetwire/ingestd/internal/codec"
	"github.com/fleetwire/ingestd/internal/regtypes"
)

// Kind names one of the six event kinds the dispatcher emits.
type Kind string

const (
	KindReceivedMsg  Kind = "RECEIVED_MSG"
	KindUnhandledMsg Kind = "UNHANDLED_MSG"
	KindOnline       Kind = "ONLINE"
	KindRegistered   Kind = "REGISTERED"
	KindPropUpdate   Kind = "PROP_UPDATE"
	KindLogReceived  Kind = "LOG_RECEIVED"
)

// ReceivedMsg fires on every inbound message the shell accepts for
// dispatch, before any topic-specific handling.
type ReceivedMsg struct {
	ComponentId regtypes.ComponentId
	Topic       string
}

// UnhandledMsg fires for topics the dispatcher recognizes as reserved or
// unparsed.
type UnhandledMsg struct {
	ComponentId regtypes.ComponentId
	Topic       string
	Payload     []byte
}

// Online fires on every system/info arrival, identity or will.
type Online struct {
	ComponentId regtypes.ComponentId
	Online      bool
}

// Registered fires with Registered true when a source completes
// registration, and with Registered false when a registered source's
// cached values are wiped for re-registration or the completion check
// finds its property count short.
type Registered struct {
	ComponentId regtypes.ComponentId
	Source      regtypes.Source
	Registered  bool
}

// PropUpdate fires after a successful property value publication decode.
type PropUpdate struct {
	ComponentId    regtypes.ComponentId
	Source         regtypes.Source
	Path           string
	Format         string
	UnpackedValue  codec.Value
	FormattedValue any
	RawBytes       []byte
}

// LogReceived fires on a validated system/log or app/log message.
type LogReceived struct {
	ComponentId regtypes.ComponentId
	Source      regtypes.Source
	Log         regtypes.LogRecord
}

// Handler receives one event payload; the concrete type matches the Kind
// it was registered under.
type Handler func(event any)

// Bus is a minimal typed publish/subscribe port: Subscribe registers a
// handler for a Kind, Publish invokes every handler registered for that
// Kind synchronously, in registration order.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Kind][]Handler
}

// NewBus returns an empty Bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[Kind][]Handler)}
}

// Subscribe registers handler to run on every Publish of kind.
func (b *Bus) Subscribe(kind Kind, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[kind] = append(b.handlers[kind], handler)
}

// Publish runs every handler registered for kind, in order, passing
// event. Publish does not recover from a handler panic; a misbehaving
// handler is a caller bug, not an event-bus concern.
func (b *Bus) Publish(kind Kind, event any) {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers[kind]...)
	b.mu.RUnlock()

	for _, h := range handlers {
		h(event)
	}
}
