// Package metrics exposes Prometheus collectors for the orchestrator
// and workers. Only the orchestrator mux serves them, at /metrics; the
// worker HTTP server has no metrics route, so the worker-side insert
// counters are not exported by worker processes.
package metrics
