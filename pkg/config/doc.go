// Package config loads orchestrator and worker settings from the
// environment with optional YAML file overlays. Flags handled in
// cmd/firn take precedence over both.
package config
