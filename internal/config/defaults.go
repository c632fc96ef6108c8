package config

import (
	"os"
	"path/filepath"
	"time"
)

const (
	DefaultWorkers           = 2
	DefaultSnapshotTimeout   = 10 * time.Second
	DefaultMaxAge            = 15 * time.Minute
	DefaultShutdownGrace     = 30 * time.Second
	DefaultRetryInitialDelay = 2 * time.Second
	DefaultRetryMaxDelay     = 2 * time.Minute
	DefaultMaxRetries        = 0
	DefaultRetryJitter       = 0.2
	DefaultKVBucket          = "ha_states"
	DefaultListen            = ":8099"
	DefaultLayoutsDir        = "./dashboards"
	DefaultDataDir           = "./data"

	// shareRoot is the Home Assistant shared volume mounted into add-on containers.
	shareRoot = "/share"
)

// applyDefaults fills zero values. It runs after normalize and before Validate.
func applyDefaults(cfg *Config) {
	if cfg.LayoutsDir == "" {
		cfg.LayoutsDir = DefaultLayoutsDir
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = defaultOutputDir()
	}
	if cfg.DataDir == "" {
		cfg.DataDir = DefaultDataDir
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.SnapshotTimeout <= 0 {
		cfg.SnapshotTimeout = DefaultSnapshotTimeout
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultMaxAge
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = DefaultShutdownGrace
	}

	if cfg.Retry.InitialDelay <= 0 {
		cfg.Retry.InitialDelay = DefaultRetryInitialDelay
	}
	if cfg.Retry.MaxDelay <= 0 {
		cfg.Retry.MaxDelay = DefaultRetryMaxDelay
	}
	if cfg.Retry.InitialDelay > cfg.Retry.MaxDelay {
		cfg.Retry.InitialDelay = cfg.Retry.MaxDelay
	}
	if cfg.Retry.Jitter == nil {
		jitter := DefaultRetryJitter
		cfg.Retry.Jitter = &jitter
	}

	if cfg.Source.Type == SourceNATS && cfg.Source.KVBucket == "" {
		cfg.Source.KVBucket = DefaultKVBucket
	}
	if cfg.Server.Listen == "" {
		cfg.Server.Listen = DefaultListen
	}
}

// defaultOutputDir prefers the shared volume, falling back to a local www directory.
func defaultOutputDir() string {
	if fi, err := os.Stat(shareRoot); err == nil && fi.IsDir() {
		return filepath.Join(shareRoot, "dashrender")
	}
	return "./www"
}
