package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Orchestrator holds the orchestrator process configuration.
type Orchestrator struct {
	ListenAddr  string
	WorkerTTL   time.Duration
	WaitTimeout time.Duration
	RPCTimeout  time.Duration
}

// Worker holds the worker process configuration.
type Worker struct {
	WorkerID          string
	OrchestratorURL   string
	BaseURL           string
	ListenAddr        string
	HeartbeatInterval time.Duration
	EngineThreads     int
}

// DefaultOrchestrator returns the orchestrator defaults.
func DefaultOrchestrator() Orchestrator {
	return Orchestrator{
		ListenAddr:  ":8000",
		WorkerTTL:   45 * time.Second,
		WaitTimeout: 60 * time.Second,
		RPCTimeout:  15 * time.Second,
	}
}

// WorkerFromEnv builds a worker configuration from the environment:
// WORKER_ID, ORCHESTRATOR_URL, BASE_URL and HEARTBEAT_SECONDS, with
// hostname and service defaults where unset.
func WorkerFromEnv() Worker {
	cfg := Worker{
		WorkerID:          os.Getenv("WORKER_ID"),
		OrchestratorURL:   os.Getenv("ORCHESTRATOR_URL"),
		BaseURL:           os.Getenv("BASE_URL"),
		ListenAddr:        ":8100",
		HeartbeatInterval: 5 * time.Second,
		EngineThreads:     4,
	}

	if cfg.WorkerID == "" {
		if host, err := os.Hostname(); err == nil {
			cfg.WorkerID = host
		}
	}
	if cfg.OrchestratorURL == "" {
		cfg.OrchestratorURL = "http://orchestrator:8000"
	}
	if secs := os.Getenv("HEARTBEAT_SECONDS"); secs != "" {
		if f, err := strconv.ParseFloat(secs, 64); err == nil && f > 0 {
			cfg.HeartbeatInterval = secondsToDuration(f)
		}
	}

	return cfg
}

// File schemas keep durations as plain seconds, matching the
// HEARTBEAT_SECONDS environment convention.
type workerFile struct {
	WorkerID         string  `yaml:"worker_id"`
	OrchestratorURL  string  `yaml:"orchestrator_url"`
	BaseURL          string  `yaml:"base_url"`
	ListenAddr       string  `yaml:"listen_addr"`
	HeartbeatSeconds float64 `yaml:"heartbeat_seconds"`
	EngineThreads    int     `yaml:"engine_threads"`
}

type orchestratorFile struct {
	ListenAddr         string  `yaml:"listen_addr"`
	WorkerTTLSeconds   float64 `yaml:"worker_ttl_seconds"`
	WaitTimeoutSeconds float64 `yaml:"wait_timeout_seconds"`
	RPCTimeoutSeconds  float64 `yaml:"rpc_timeout_seconds"`
}

// LoadWorkerFile overlays YAML file settings onto cfg. Only keys present
// in the file override.
func LoadWorkerFile(path string, cfg Worker) (Worker, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}

	var file workerFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return cfg, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if file.WorkerID != "" {
		cfg.WorkerID = file.WorkerID
	}
	if file.OrchestratorURL != "" {
		cfg.OrchestratorURL = file.OrchestratorURL
	}
	if file.BaseURL != "" {
		cfg.BaseURL = file.BaseURL
	}
	if file.ListenAddr != "" {
		cfg.ListenAddr = file.ListenAddr
	}
	if file.HeartbeatSeconds > 0 {
		cfg.HeartbeatInterval = secondsToDuration(file.HeartbeatSeconds)
	}
	if file.EngineThreads > 0 {
		cfg.EngineThreads = file.EngineThreads
	}

	return cfg, nil
}

// LoadOrchestratorFile overlays YAML file settings onto cfg.
func LoadOrchestratorFile(path string, cfg Orchestrator) (Orchestrator, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}

	var file orchestratorFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return cfg, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if file.ListenAddr != "" {
		cfg.ListenAddr = file.ListenAddr
	}
	if file.WorkerTTLSeconds > 0 {
		cfg.WorkerTTL = secondsToDuration(file.WorkerTTLSeconds)
	}
	if file.WaitTimeoutSeconds > 0 {
		cfg.WaitTimeout = secondsToDuration(file.WaitTimeoutSeconds)
	}
	if file.RPCTimeoutSeconds > 0 {
		cfg.RPCTimeout = secondsToDuration(file.RPCTimeoutSeconds)
	}

	return cfg, nil
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
