// Package service wires the ingestion daemon's components together and
// owns the top-level run/shutdown lifecycle.
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/fleetwire/ingestd/internal/config"
	"github.com/fleetwire/ingestd/internal/dispatch"
	"github.com/fleetwire/ingestd/internal/health"
	"github.com/fleetwire/ingestd/internal/ingest"
	"github.com/fleetwire/ingestd/internal/lockcoord"
	"github.com/fleetwire/ingestd/internal/mqttio"
	"github.com/fleetwire/ingestd/internal/regcache"
	"github.com/fleetwire/ingestd/internal/regtypes"
	"github.com/fleetwire/ingestd/pkg/events"
)

// rawMessage is one inbound message queued for processing off the MQTT
// client's own callback goroutine.
type rawMessage struct {
	cid     regtypes.ComponentId
	topic   string
	payload []byte
}

// Service coordinates the MQTT transport, the ingestion shell, and the
// health server for the lifetime of the process.
type Service struct {
	mqttClient *mqttio.Client
	dispatcher *dispatch.Dispatcher
	shell      *ingest.Shell
	health     *health.Server
	msgQueue   chan rawMessage
	logger     zerolog.Logger
	wg         sync.WaitGroup
}

// New builds a Service from cfg, wiring the registration cache, lock
// coordinator, event bus, dispatcher, ingestion shell, MQTT transport,
// and health server.
func New(cfg *config.Config, logger zerolog.Logger) (*Service, error) {
	cache, err := regcache.New(cfg.Cache.Backend, cfg.Cache.Options)
	if err != nil {
		return nil, fmt.Errorf("failed to create registration cache: %w", err)
	}

	locks := lockcoord.New()
	bus := events.NewBus()
	disp := dispatch.New(cache, locks, bus, logger)
	shell := ingest.New(cache, disp, bus, logger)

	msgQueue := make(chan rawMessage, 256)

	svc := &Service{
		dispatcher: disp,
		shell:      shell,
		msgQueue:   msgQueue,
		logger:     logger.With().Str("component", "service").Logger(),
	}

	svc.mqttClient = mqttio.New(cfg.MQTT, func(cid regtypes.ComponentId, topic string, payload []byte) {
		svc.enqueue(cid, topic, payload)
	}, logger)

	if cfg.Health.Enabled {
		svc.health = health.New(cfg.Health.Port, cache, svc.mqttClient, logger)
	}

	return svc, nil
}

func (s *Service) enqueue(cid regtypes.ComponentId, topic string, payload []byte) {
	select {
	case s.msgQueue <- rawMessage{cid: cid, topic: topic, payload: payload}:
	default:
		s.logger.Warn().Str("component_id", cid.String()).Str("topic", topic).Msg("message queue full, dropping message")
	}
}

// Run connects the MQTT transport, starts the processing worker and the
// health server, and blocks until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	s.logger.Info().Msg("starting ingestion service")

	if err := s.mqttClient.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}

	s.wg.Add(1)
	go s.processMessages(ctx)

	if s.health != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.health.Start(ctx); err != nil {
				s.logger.Error().Err(err).Msg("health server stopped with an error")
			}
		}()
	}

	s.logger.Info().Msg("ingestion service running")

	<-ctx.Done()
	s.logger.Info().Msg("ingestion service shutting down")

	return nil
}

func (s *Service) processMessages(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("stopping message processor")
			return
		case msg := <-s.msgQueue:
			s.shell.HandleMessage(ctx, msg.cid, msg.topic, msg.payload)
		}
	}
}

// Shutdown waits, bounded by ctx, for the processing worker and health
// server started by Run to stop, then disconnects the MQTT transport.
// Messages still queued when the worker stops are not processed.
func (s *Service) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("shutting down ingestion service")

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("message processor stopped")
	case <-ctx.Done():
		s.logger.Warn().Msg("shutdown timeout, forcing stop")
	}

	s.mqttClient.Disconnect(5 * time.Second)

	s.logger.Info().Msg("ingestion service shutdown complete")
	return nil
}

// SetProperty exposes the property-set publication path to external
// callers (an admin surface, a future API endpoint), publishing the
// encoded value over the service's own MQTT connection.
func (s *Service) SetProperty(ctx context.Context, cid regtypes.ComponentId, source regtypes.Source, path string, values any) error {
	return s.dispatcher.SetProperty(ctx, cid, source, path, values, s.mqttClient.Publish)
}
