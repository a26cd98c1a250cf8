package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/firnlabs/firn/pkg/config"
	"github.com/firnlabs/firn/pkg/log"
	"github.com/firnlabs/firn/pkg/types"
	"github.com/rs/zerolog"
)

// HeartbeatClient keeps the worker registered with the orchestrator:
// register until accepted, then heartbeat on a fixed period,
// re-registering whenever the orchestrator answers 404.
type HeartbeatClient struct {
	workerID        string
	baseURL         string
	orchestratorURL string
	interval        time.Duration

	http   *http.Client
	logger zerolog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewHeartbeatClient builds the client from worker configuration.
func NewHeartbeatClient(cfg config.Worker) *HeartbeatClient {
	return &HeartbeatClient{
		workerID:        cfg.WorkerID,
		baseURL:         cfg.BaseURL,
		orchestratorURL: cfg.OrchestratorURL,
		interval:        cfg.HeartbeatInterval,
		http:            &http.Client{Timeout: 5 * time.Second},
		logger:          log.WithComponent("heartbeat"),
	}
}

// Start launches the background registration and heartbeat loop.
func (h *HeartbeatClient) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.done = make(chan struct{})
	go h.run(ctx)
}

// Stop terminates the loop and waits for it to exit.
func (h *HeartbeatClient) Stop() {
	if h.cancel == nil {
		return
	}
	h.cancel()
	<-h.done
}

func (h *HeartbeatClient) run(ctx context.Context) {
	defer close(h.done)

	if err := h.register(ctx); err != nil {
		return
	}

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			status, err := h.heartbeat(ctx)
			switch {
			case err != nil:
				// Transient failures are retried on the next tick.
				h.logger.Warn().Err(err).Msg("Heartbeat failed")
			case status == http.StatusNotFound:
				h.logger.Warn().Msg("Orchestrator lost registration; re-registering")
				if err := h.register(ctx); err != nil {
					return
				}
			}
		}
	}
}

// register posts the registration payload until the orchestrator
// accepts it, retrying once a second.
func (h *HeartbeatClient) register(ctx context.Context) error {
	payload := types.RegisterRequest{
		WorkerID: h.workerID,
		BaseURL:  h.baseURL,
		Load:     0,
	}

	policy := backoff.WithContext(backoff.NewConstantBackOff(time.Second), ctx)
	return backoff.Retry(func() error {
		status, err := h.post(ctx, "/workers/register", payload)
		if err != nil {
			return err
		}
		if status >= 400 {
			return fmt.Errorf("register rejected with status %d", status)
		}
		h.logger.Info().Str("orchestrator", h.orchestratorURL).Msg("Registered with orchestrator")
		return nil
	}, policy)
}

func (h *HeartbeatClient) heartbeat(ctx context.Context) (int, error) {
	load := 0.0
	return h.post(ctx, "/workers/heartbeat", types.HeartbeatRequest{
		WorkerID: h.workerID,
		Load:     &load,
	})
}

func (h *HeartbeatClient) post(ctx context.Context, route string, payload any) (int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.orchestratorURL+route, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.http.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}
