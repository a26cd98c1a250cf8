package worker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/firnlabs/firn/pkg/log"
	"github.com/firnlabs/firn/pkg/types"
	"github.com/rs/zerolog"
)

// Server is the worker's HTTP surface: one task endpoint plus a health
// probe.
type Server struct {
	executor *Executor
	logger   zerolog.Logger
	http     *http.Server
}

// NewServer wires the worker routes.
func NewServer(exec *Executor) *Server {
	s := &Server{
		executor: exec,
		logger:   log.WithComponent("worker-api"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/tasks/execute", s.handleExecute)
	mux.HandleFunc("/health", s.handleHealth)

	s.http = &http.Server{Handler: mux}
	return s
}

// Start serves until Stop is called.
func (s *Server) Start(addr string) error {
	s.http.Addr = addr
	s.logger.Info().Str("addr", addr).Msg("Worker API listening")
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

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var task types.TaskRequest
	if err := json.NewDecoder(r.Body).Decode(&task); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	s.logger.Info().Str("kind", string(task.Kind)).Msg("Executing task")
	resp := s.executor.Execute(r.Context(), task)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]bool{"ok": true})
}
