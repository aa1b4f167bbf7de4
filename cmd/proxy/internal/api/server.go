package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/hasirciogluhq/xrelay/cmd/proxy/internal/core"
)

// StatsFunc reports the relay's connection counters.
type StatsFunc func() core.Stats

type HealthServer struct {
	server *http.Server
	ready  atomic.Bool
	stats  StatsFunc
	log    *slog.Logger
}

func NewHealthServer(addr string, stats StatsFunc, log *slog.Logger) *HealthServer {
	mux := http.NewServeMux()
	hs := &HealthServer{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
		stats: stats,
		log:   log,
	}

	// Default to not ready until explicitly set
	hs.ready.Store(false)

	mux.HandleFunc("/health", hs.handleHealth)
	mux.HandleFunc("/ready", hs.handleReady)
	mux.HandleFunc("/stats", hs.handleStats)

	return hs
}

func (s *HealthServer) Start() {
	go func() {
		s.log.Info("Health server listening", "addr", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("Health server error", "error", err)
		}
	}()
}

func (s *HealthServer) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *HealthServer) SetReady(ready bool) {
	s.ready.Store(ready)
}

// Handler exposes the routes for in-process use.
func (s *HealthServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HealthServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *HealthServer) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready.Load() {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("not ready"))
	}
}

func (s *HealthServer) handleStats(w http.ResponseWriter, r *http.Request) {
	var stats core.Stats
	if s.stats != nil {
		stats = s.stats()
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(stats); err != nil {
		s.log.Error("Failed to encode stats", "error", err)
	}
}
