// Package ingest implements the Event Handler Shell: the
// top-level entry point for inbound messages, responsible for resolving
// a component's API version and buffering messages that arrive before
// it is known.
package ingest

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/fleetwire/ingestd/internal/dispatch"
	"github.com/fleetwire/ingestd/internal/regcache"
	"github.com/fleetwire/ingestd/internal/regtypes"
	"github.com/fleetwire/ingestd/pkg/events"
)

// drainBudget bounds how long the pending-message drain loop may run
// after an identity arrives.
const drainBudget = 3 * time.Second

// identityTopic is the one topic the shell dispatches while a
// component's API version is unknown; its dispatcher handler caches the
// version.
const identityTopic = "system/info"

// Shell is the Event Handler Shell.
type Shell struct {
	cache      regcache.Cache
	dispatcher *dispatch.Dispatcher
	bus        *events.Bus
	logger     zerolog.Logger
}

// New wires a Shell over cache and dispatcher, using bus to emit
// RECEIVED_MSG for every accepted inbound message.
func New(cache regcache.Cache, dispatcher *dispatch.Dispatcher, bus *events.Bus, logger zerolog.Logger) *Shell {
	return &Shell{
		cache:      cache,
		dispatcher: dispatcher,
		bus:        bus,
		logger:     logger.With().Str("component", "ingest").Logger(),
	}
}

// HandleMessage handles one inbound (cid, topic, payload): resolve the
// API version and either dispatch immediately or buffer until an
// identity message arrives.
func (s *Shell) HandleMessage(ctx context.Context, cid regtypes.ComponentId, topic string, payload []byte) {
	s.bus.Publish(events.KindReceivedMsg, events.ReceivedMsg{ComponentId: cid, Topic: topic})

	_, known, err := s.cache.GetApiVersion(ctx, cid)
	if err != nil {
		s.logger.Error().Err(err).Str("component_id", cid.String()).Msg("cache lookup failed, dropping message")
		return
	}

	if known {
		s.dispatch(ctx, cid, topic, payload)
		return
	}

	if strings.TrimSpace(topic) == identityTopic {
		s.dispatch(ctx, cid, topic, payload)
		s.drainPending(ctx, cid)
		return
	}

	if err := s.cache.CachePendingMessage(ctx, cid, regtypes.PendingMessage{Topic: topic, Payload: payload}); err != nil {
		s.logger.Error().Err(err).Str("component_id", cid.String()).Msg("failed to buffer pending message")
	}
}

// drainPending delivers every buffered message for cid to the
// dispatcher in FIFO order, bounded by drainBudget wall-clock time.
func (s *Shell) drainPending(ctx context.Context, cid regtypes.ComponentId) {
	deadline := time.Now().Add(drainBudget)

	for {
		if time.Now().After(deadline) {
			s.logger.Warn().Str("component_id", cid.String()).Msg("pending drain exceeded its wall-clock budget, remaining messages stay queued")
			return
		}

		msg, ok, err := s.cache.GetNextPendingMessage(ctx, cid)
		if err != nil {
			s.logger.Error().Err(err).Str("component_id", cid.String()).Msg("failed to read next pending message")
			return
		}
		if !ok {
			return
		}

		s.dispatch(ctx, cid, msg.Topic, msg.Payload)
	}
}

func (s *Shell) dispatch(ctx context.Context, cid regtypes.ComponentId, topic string, payload []byte) {
	if err := s.dispatcher.HandleMessage(ctx, cid, topic, payload); err != nil {
		s.logger.Warn().Err(err).Str("component_id", cid.String()).Str("topic", topic).Msg("dispatch failed")
	}
}
