package registry

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/firnlabs/firn/pkg/types"
)

// ErrNotRegistered signals a heartbeat from an unknown worker; the
// orchestrator turns it into a 404 so the worker re-registers.
var ErrNotRegistered = errors.New("worker not registered")

// DefaultTTL is the maximum gap between heartbeats before a worker is
// considered dead.
const DefaultTTL = 45 * time.Second

// Registry is the in-memory set of known workers. HTTP handlers and the
// dispatcher touch it concurrently, so every operation holds the mutex.
// Liveness is passive: expired entries are filtered, never removed.
type Registry struct {
	mu      sync.Mutex
	ttl     time.Duration
	workers map[string]*types.WorkerInfo
	order   []string

	// now is swappable for tests.
	now func() time.Time
}

// New creates a registry with the given TTL.
func New(ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Registry{
		ttl:     ttl,
		workers: make(map[string]*types.WorkerInfo),
		now:     time.Now,
	}
}

// Upsert inserts or replaces a worker record and refreshes last_seen.
func (r *Registry) Upsert(workerID, baseURL string, load float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, known := r.workers[workerID]; !known {
		r.order = append(r.order, workerID)
	}
	r.workers[workerID] = &types.WorkerInfo{
		WorkerID: workerID,
		BaseURL:  strings.TrimRight(baseURL, "/"),
		LastSeen: r.now().UTC(),
		Load:     load,
	}
}

// Heartbeat refreshes last_seen for a known worker and optionally
// updates its base URL and load. Unknown workers get ErrNotRegistered.
func (r *Registry) Heartbeat(workerID, baseURL string, load *float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, known := r.workers[workerID]
	if !known {
		return ErrNotRegistered
	}

	w.LastSeen = r.now().UTC()
	if baseURL != "" {
		w.BaseURL = strings.TrimRight(baseURL, "/")
	}
	if load != nil {
		w.Load = *load
	}
	return nil
}

// ListActive snapshots the workers seen within the TTL, in stable
// registration order.
func (r *Registry) ListActive() []types.WorkerInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().UTC().Add(-r.ttl)
	active := make([]types.WorkerInfo, 0, len(r.workers))
	for _, id := range r.order {
		w := r.workers[id]
		if !w.LastSeen.Before(cutoff) {
			active = append(active, *w)
		}
	}
	return active
}

// ChooseWorker picks a live worker, or reports that none is. The policy
// is the first active entry; any replacement must keep returning only
// live workers and stay total while at least one worker is live.
func (r *Registry) ChooseWorker() (types.WorkerInfo, bool) {
	active := r.ListActive()
	if len(active) == 0 {
		return types.WorkerInfo{}, false
	}
	return active[0], true
}
