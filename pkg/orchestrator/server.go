package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/firnlabs/firn/pkg/log"
	"github.com/firnlabs/firn/pkg/metrics"
	"github.com/firnlabs/firn/pkg/registry"
	"github.com/firnlabs/firn/pkg/types"
	"github.com/rs/zerolog"
)

// Server is the orchestrator's HTTP control plane: worker registration,
// heartbeats, registry inspection, and external queries.
type Server struct {
	orch     *Orchestrator
	registry *registry.Registry
	logger   zerolog.Logger
	http     *http.Server
}

// NewServer wires the control plane routes.
func NewServer(orch *Orchestrator, reg *registry.Registry) *Server {
	s := &Server{
		orch:     orch,
		registry: reg,
		logger:   log.WithComponent("api"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/workers/register", s.handleRegister)
	mux.HandleFunc("/workers/heartbeat", s.handleHeartbeat)
	mux.HandleFunc("/workers", s.handleListWorkers)
	mux.HandleFunc("/query", s.handleQuery)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", metrics.Handler())

	s.http = &http.Server{Handler: mux}
	return s
}

// Start serves until Stop is called.
func (s *Server) Start(addr string) error {
	s.http.Addr = addr
	s.logger.Info().Str("addr", addr).Msg("Orchestrator API listening")
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req types.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.WorkerID == "" || req.BaseURL == "" {
		http.Error(w, "worker_id and base_url are required", http.StatusBadRequest)
		return
	}

	s.registry.Upsert(req.WorkerID, req.BaseURL, req.Load)
	metrics.RegistrationsTotal.Inc()
	metrics.WorkersActive.Set(float64(len(s.registry.ListActive())))

	s.logger.Info().Str("worker_id", req.WorkerID).Str("base_url", req.BaseURL).Msg("Worker registered")
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req types.HeartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := s.registry.Heartbeat(req.WorkerID, req.BaseURL, req.Load); err != nil {
		if errors.Is(err, registry.ErrNotRegistered) {
			http.Error(w, "worker not registered", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	metrics.HeartbeatsTotal.Inc()
	metrics.WorkersActive.Set(float64(len(s.registry.ListActive())))
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleListWorkers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, types.WorkersResponse{Active: s.registry.ListActive()})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req types.ExternalQueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Path == "" || req.Query == "" {
		http.Error(w, "path and query are required", http.StatusBadRequest)
		return
	}

	start := time.Now()
	resp := s.orch.RouteExternalQuery(r.Context(), req.Path, req.Query)
	s.logger.Info().
		Str("kind", string(resp.Kind)).
		Bool("ok", resp.OK).
		Dur("took", time.Since(start)).
		Msg("Query routed")

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
