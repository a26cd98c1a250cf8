package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/firnlabs/firn/pkg/log"
	"github.com/firnlabs/firn/pkg/types"
	"github.com/rs/zerolog"
)

// WorkerClient sends task requests to workers. Transport failures and
// non-2xx replies are folded into a TaskResponse so the dispatcher sees
// one failure shape.
type WorkerClient struct {
	http   *http.Client
	logger zerolog.Logger
}

// NewWorkerClient creates a client with the given per-request timeout.
func NewWorkerClient(timeout time.Duration) *WorkerClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &WorkerClient{
		http:   &http.Client{Timeout: timeout},
		logger: log.WithComponent("worker-client"),
	}
}

// Execute posts one task to a worker's /tasks/execute endpoint.
func (c *WorkerClient) Execute(ctx context.Context, baseURL string, task types.TaskRequest) types.TaskResponse {
	body, err := json.Marshal(task)
	if err != nil {
		return types.TaskResponse{Error: fmt.Sprintf("failed to encode task: %v", err)}
	}

	url := baseURL + "/tasks/execute"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return types.TaskResponse{Error: fmt.Sprintf("failed to build request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	c.logger.Debug().Str("url", url).Str("kind", string(task.Kind)).Msg("Sending task")

	resp, err := c.http.Do(req)
	if err != nil {
		return types.TaskResponse{Error: fmt.Sprintf("worker request failed: %v", err)}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return types.TaskResponse{Error: fmt.Sprintf("failed to read worker response: %v", err)}
	}

	if resp.StatusCode >= 400 {
		return types.TaskResponse{Error: fmt.Sprintf("worker returned %d: %s", resp.StatusCode, raw)}
	}

	var out types.TaskResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return types.TaskResponse{Error: fmt.Sprintf("invalid worker response: %s", raw)}
	}
	return out
}
