// Package health serves /health and /ready over HTTP, deriving status
// from the registration cache's current per-component state rather than
// a static connection flag.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/fleetwire/ingestd/internal/regcache"
	"github.com/fleetwire/ingestd/internal/regtypes"
)

// ConnectionStatus reports whether the inbound transport currently
// holds a broker connection.
type ConnectionStatus interface {
	IsConnected() bool
}

// Server serves the health check endpoints.
type Server struct {
	server *http.Server
	cache  regcache.Cache
	mqtt   ConnectionStatus
	logger zerolog.Logger
}

// New creates a health check server bound to port, deriving exhibit
// health from cache and transport connectivity from mqtt.
func New(port int, cache regcache.Cache, mqtt ConnectionStatus, logger zerolog.Logger) *Server {
	s := &Server{
		cache:  cache,
		mqtt:   mqtt,
		logger: logger.With().Str("component", "health").Logger(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/ready", s.readyHandler)
	mux.HandleFunc("/health/components/", s.componentHandler)

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start runs the health server until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("starting health check server")

	errChan := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return fmt.Errorf("health server failed: %w", err)
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	}
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	mqttOk := s.mqtt.IsConnected()

	states, err := s.componentStates(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	overall := overallStatus(mqttOk, states)

	w.Header().Set("Content-Type", "application/json")
	if overall == regtypes.ExhibitHealthy {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	status := map[string]any{
		"mqtt_connected": mqttOk,
		"status":         overall,
		"components":     states,
	}
	if err := json.NewEncoder(w).Encode(status); err != nil {
		s.logger.Error().Err(err).Msg("failed to encode health status")
	}
}

func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	mqttOk := s.mqtt.IsConnected()

	states, err := s.componentStates(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	overall := overallStatus(mqttOk, states)
	if overall == regtypes.ExhibitHealthy || overall == regtypes.ExhibitRegistering {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("not ready"))
	}
}

// componentStates derives every tracked component's ExhibitHealthState.
func (s *Server) componentStates(ctx context.Context) (map[regtypes.ComponentId]regtypes.ExhibitHealthState, error) {
	ids, err := s.cache.ListComponentIds(ctx)
	if err != nil {
		return nil, err
	}
	states := make(map[regtypes.ComponentId]regtypes.ExhibitHealthState, len(ids))
	for _, cid := range ids {
		state, err := deriveState(ctx, s.cache, cid)
		if err != nil {
			return nil, err
		}
		states[cid] = state
	}
	return states, nil
}

// overallStatus folds broker connectivity and every tracked component's
// derived state into one summary: offline outranks degraded/registering,
// which outrank healthy.
func overallStatus(mqttOk bool, states map[regtypes.ComponentId]regtypes.ExhibitHealthState) regtypes.ExhibitHealthState {
	if !mqttOk {
		return regtypes.ExhibitOffline
	}

	worst := regtypes.ExhibitHealthy
	for _, state := range states {
		switch state {
		case regtypes.ExhibitOffline:
			return regtypes.ExhibitOffline
		case regtypes.ExhibitDegraded:
			worst = regtypes.ExhibitDegraded
		case regtypes.ExhibitRegistering, regtypes.ExhibitUnknown:
			if worst == regtypes.ExhibitHealthy {
				worst = regtypes.ExhibitRegistering
			}
		}
	}
	return worst
}

// componentHandler reports a single component's ExhibitHealthState,
// derived from its current cache record (see deriveState).
func (s *Server) componentHandler(w http.ResponseWriter, r *http.Request) {
	cid := regtypes.ComponentId(r.URL.Path[len("/health/components/"):])
	if cid == "" {
		http.Error(w, "missing component id", http.StatusBadRequest)
		return
	}

	state, err := deriveState(r.Context(), s.cache, cid)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"component_id": cid.String(),
		"state":        state,
	})
}

// deriveState classifies a component's health from its cache record:
// offline once a will message has cleared it (tracked independently of
// ApiVersion, which the same will clears), else unknown if never seen,
// else registering until both configured sources have completed
// registration, else healthy once both are registered, else degraded if
// one has regressed after the component was previously fully healthy.
func deriveState(ctx context.Context, cache regcache.Cache, cid regtypes.ComponentId) (regtypes.ExhibitHealthState, error) {
	offline, err := cache.IsOffline(ctx, cid)
	if err != nil {
		return "", err
	}
	if offline {
		return regtypes.ExhibitOffline, nil
	}

	_, known, err := cache.GetApiVersion(ctx, cid)
	if err != nil {
		return "", err
	}
	if !known {
		return regtypes.ExhibitUnknown, nil
	}

	systemRegistered, err := cache.IsRegistered(ctx, cid, regtypes.SourceSystem)
	if err != nil {
		return "", err
	}
	appRegistered, err := cache.IsRegistered(ctx, cid, regtypes.SourceApp)
	if err != nil {
		return "", err
	}

	if systemRegistered && appRegistered {
		return regtypes.ExhibitHealthy, nil
	}

	everHealthy, err := cache.WasEverHealthy(ctx, cid)
	if err != nil {
		return "", err
	}
	if everHealthy {
		return regtypes.ExhibitDegraded, nil
	}
	return regtypes.ExhibitRegistering, nil
}

// Shutdown gracefully shuts down the health server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("shutting down health check server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("health server shutdown failed: %w", err)
	}

	s.logger.Info().Msg("health check server stopped")
	return nil
}
