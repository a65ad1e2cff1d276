// Package watch runs sweeps on an interval and serves their results over
// HTTP, with a WebSocket feed of per-PR progress events.
package watch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/branchbot/prsweep/internal/config"
	"github.com/branchbot/prsweep/internal/sweep"
)

// Runner executes one sweep cycle and returns its summary.
type Runner func(ctx context.Context) (*sweep.Summary, error)

// Server drives the periodic sweep loop and the HTTP surface around it.
type Server struct {
	cfg     *config.Config
	run     Runner
	hub     *Hub
	trigger chan struct{}

	mu      sync.RWMutex
	last    *sweep.Summary
	lastErr string
	sweeps  int
	started time.Time
}

// NewServer creates a watch server. The runner is invoked once per cycle;
// cycles never overlap.
func NewServer(cfg *config.Config, run Runner) *Server {
	return &Server{
		cfg:     cfg,
		run:     run,
		hub:     NewHub(),
		trigger: make(chan struct{}, 1),
	}
}

// Hub returns the event hub. Wire it to the sweeper's Notify hook so clients
// see per-PR progress.
func (s *Server) Hub() *Hub {
	return s.hub
}

// TriggerSweep requests an immediate sweep without blocking. Requests made
// while a trigger is already pending coalesce into one.
func (s *Server) TriggerSweep() {
	select {
	case s.trigger <- struct{}{}:
		slog.Debug("sweep trigger sent")
	default:
	}
}

// Run starts the HTTP server and the sweep loop, blocking until ctx is
// cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.started = time.Now()

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	srv := &http.Server{
		Addr:              s.cfg.Watch.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.sweepLoop(ctx)
	}()

	go func() {
		<-ctx.Done()
		slog.Info("shutting down watch server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("HTTP server shutdown error", "error", err)
		}
	}()

	slog.Info("starting watch server", "addr", s.cfg.Watch.Addr, "interval", s.cfg.Watch.ParseInterval())
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("watch server: %w", err)
	}

	wg.Wait()
	return nil
}

// sweepLoop sweeps once on startup, then on every tick or manual trigger.
func (s *Server) sweepLoop(ctx context.Context) {
	interval := s.cfg.Watch.ParseInterval()

	s.sweepOnce(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("sweep loop stopped")
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		case <-s.trigger:
			slog.Info("immediate sweep triggered")
			s.sweepOnce(ctx)
			// Reset so the triggered sweep doesn't double up with the next tick.
			ticker.Reset(interval)
		}
	}
}

func (s *Server) sweepOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	sum, err := s.run(ctx)

	s.mu.Lock()
	s.sweeps++
	if err != nil {
		s.lastErr = err.Error()
	} else {
		s.lastErr = ""
		s.last = sum
	}
	s.mu.Unlock()

	if err != nil {
		slog.Error("sweep failed", "error", err)
	}
}

// StatusResponse is the JSON response for GET /healthz.
type StatusResponse struct {
	Status    string `json:"status"`
	Repo      string `json:"repo"`
	Uptime    string `json:"uptime"`
	Sweeps    int    `json:"sweeps"`
	Clients   int    `json:"clients"`
	LastError string `json:"last_error,omitempty"`
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /summary", s.handleSummary)
	mux.HandleFunc("POST /sweep", s.handleTrigger)
	mux.HandleFunc("GET /events", s.hub.HandleWS)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	resp := StatusResponse{
		Status:    "running",
		Repo:      s.cfg.Repo,
		Uptime:    time.Since(s.started).Round(time.Second).String(),
		Sweeps:    s.sweeps,
		Clients:   s.hub.ClientCount(),
		LastError: s.lastErr,
	}
	s.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	last := s.last
	s.mu.RUnlock()

	if last == nil {
		http.Error(w, "no sweep has completed yet", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(last)
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	s.TriggerSweep()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"status": "accepted"})
}
