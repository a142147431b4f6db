// Package config loads watchpost configuration from defaults, an optional
// YAML file and WATCHPOST_ environment variables, in that order of precedence.
package config

import (
	"time"
)

// Config is the complete watchpost configuration.
type Config struct {
	Database DatabaseConfig `koanf:"database"`
	Logging  LoggingConfig  `koanf:"logging"`
	Face     FaceConfig     `koanf:"face"`
	Gait     GaitConfig     `koanf:"gait"`
	ReID     ReIDConfig     `koanf:"reid"`
	Worker   WorkerConfig   `koanf:"worker"`
	Cleaner  CleanerConfig  `koanf:"cleaner"`
	Pipeline PipelineConfig `koanf:"pipeline"`
	Backend  BackendConfig  `koanf:"backend"`
	Server   ServerConfig   `koanf:"server"`
}

// DatabaseConfig locates the SQLite database.
type DatabaseConfig struct {
	Path string `koanf:"path"`
}

// LoggingConfig configures zerolog.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// FaceConfig configures matching against stored face encodings.
type FaceConfig struct {
	Threshold float64 `koanf:"threshold"`
}

// GaitConfig configures gait recognition and enrollment.
type GaitConfig struct {
	Enabled        bool          `koanf:"enabled"`
	SequenceLength int           `koanf:"sequence_length"`
	Threshold      float64       `koanf:"threshold"`
	StaleAfter     time.Duration `koanf:"stale_after"`
	MaxEmbeddings  int           `koanf:"max_embeddings"`
}

// ReIDConfig configures body re-identification and its passive sampling.
type ReIDConfig struct {
	Threshold      float64       `koanf:"threshold"`
	SampleInterval time.Duration `koanf:"sample_interval"`
	MaxSamples     int           `koanf:"max_samples"`
	MaxEmbeddings  int           `koanf:"max_embeddings"`
}

// WorkerConfig configures the storage worker.
type WorkerConfig struct {
	QueueSize   int           `koanf:"queue_size"`
	StopTimeout time.Duration `koanf:"stop_timeout"`
	SnapshotDir string        `koanf:"snapshot_dir"`
}

// CleanerConfig configures the snapshot size cap.
type CleanerConfig struct {
	MaxSizeMB int64         `koanf:"max_size_mb"`
	Interval  time.Duration `koanf:"interval"`
}

// PipelineConfig configures per-camera processing.
type PipelineConfig struct {
	EventCooldown time.Duration `koanf:"event_cooldown"`
	// Cameras lists camera names; a camera's index namespaces its track ids.
	Cameras []string `koanf:"cameras"`
}

// BackendConfig locates the inference sidecar and tunes its breakers.
type BackendConfig struct {
	URL              string        `koanf:"url"`
	Timeout          time.Duration `koanf:"timeout"`
	FailureThreshold uint32        `koanf:"failure_threshold"`
	OpenTimeout      time.Duration `koanf:"open_timeout"`
}

// ServerConfig configures the ops HTTP API.
type ServerConfig struct {
	Addr            string        `koanf:"addr"`
	RateLimit       int           `koanf:"rate_limit"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

func defaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{Path: "data/watchpost.db"},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Face: FaceConfig{Threshold: 0.40},
		Gait: GaitConfig{
			Enabled:        true,
			SequenceLength: 30,
			Threshold:      0.70,
			StaleAfter:     5 * time.Second,
			MaxEmbeddings:  10,
		},
		ReID: ReIDConfig{
			Threshold:      0.75,
			SampleInterval: 2 * time.Second,
			MaxSamples:     20,
			MaxEmbeddings:  50,
		},
		Worker: WorkerConfig{
			QueueSize:   256,
			StopTimeout: time.Second,
			SnapshotDir: "data/snapshots",
		},
		Cleaner: CleanerConfig{
			MaxSizeMB: 10 * 1024,
			Interval:  10 * time.Minute,
		},
		Pipeline: PipelineConfig{
			EventCooldown: 2 * time.Second,
			Cameras:       []string{"default"},
		},
		Backend: BackendConfig{
			URL:              "http://localhost:8765",
			Timeout:          10 * time.Second,
			FailureThreshold: 5,
			OpenTimeout:      30 * time.Second,
		},
		Server: ServerConfig{
			Addr:            "127.0.0.1:9470",
			RateLimit:       600,
			RateLimitWindow: time.Minute,
			ShutdownTimeout: 10 * time.Second,
		},
	}
}

// Default returns the built-in configuration.
func Default() *Config { return defaultConfig() }
