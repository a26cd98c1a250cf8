package worker

import (
	"context"
	"fmt"
	"strings"

	"github.com/firnlabs/firn/pkg/config"
	"github.com/firnlabs/firn/pkg/engine"
	"github.com/firnlabs/firn/pkg/log"
	"github.com/rs/zerolog"
)

// Worker ties together a compute node: the embedded engine, the task
// executor, the HTTP server, and the heartbeat client.
type Worker struct {
	cfg       config.Worker
	engine    *engine.Engine
	server    *Server
	heartbeat *HeartbeatClient
	logger    zerolog.Logger
}

// New creates a worker from configuration. The base URL defaults to the
// listen address on localhost when unset.
func New(cfg config.Worker) (*Worker, error) {
	if cfg.WorkerID == "" {
		return nil, fmt.Errorf("worker id is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = deriveBaseURL(cfg.ListenAddr)
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	cfg.OrchestratorURL = strings.TrimRight(cfg.OrchestratorURL, "/")

	eng, err := engine.Open(cfg.EngineThreads)
	if err != nil {
		return nil, err
	}

	w := &Worker{
		cfg:       cfg,
		engine:    eng,
		server:    NewServer(NewExecutor(eng)),
		heartbeat: NewHeartbeatClient(cfg),
		logger:    log.WithWorkerID(cfg.WorkerID),
	}
	return w, nil
}

// Start launches the heartbeat loop and serves the task endpoint. It
// blocks until the server stops.
func (w *Worker) Start() error {
	w.logger.Info().
		Str("orchestrator", w.cfg.OrchestratorURL).
		Str("base_url", w.cfg.BaseURL).
		Msg("Starting worker")

	w.heartbeat.Start()
	return w.server.Start(w.cfg.ListenAddr)
}

// Stop shuts everything down.
func (w *Worker) Stop(ctx context.Context) error {
	w.heartbeat.Stop()
	if err := w.server.Stop(ctx); err != nil {
		return err
	}
	return w.engine.Close()
}

func deriveBaseURL(listenAddr string) string {
	addr := listenAddr
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr
}
