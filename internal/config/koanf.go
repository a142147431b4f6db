package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths are searched when no path is given.
var DefaultConfigPaths = []string{
	"watchpost.yaml",
	"watchpost.yml",
}

// ConfigPathEnvVar names the environment variable holding a config path.
const ConfigPathEnvVar = "WATCHPOST_CONFIG"

const envPrefix = "WATCHPOST_"

// Load builds the configuration. path, when non-empty, must exist; otherwise
// WATCHPOST_CONFIG and DefaultConfigPaths are tried.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path == "" {
		path = findConfigFile()
	} else if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file: %w", err)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

var envMappings = map[string]string{
	"db":                        "database.path",
	"database_path":             "database.path",
	"log_level":                 "logging.level",
	"log_format":                "logging.format",
	"log_caller":                "logging.caller",
	"face_threshold":            "face.threshold",
	"gait_enabled":              "gait.enabled",
	"gait_sequence_length":      "gait.sequence_length",
	"gait_threshold":            "gait.threshold",
	"gait_stale_after":          "gait.stale_after",
	"gait_max_embeddings":       "gait.max_embeddings",
	"reid_threshold":            "reid.threshold",
	"reid_sample_interval":      "reid.sample_interval",
	"reid_max_samples":          "reid.max_samples",
	"reid_max_embeddings":       "reid.max_embeddings",
	"worker_queue_size":         "worker.queue_size",
	"worker_stop_timeout":       "worker.stop_timeout",
	"snapshot_dir":              "worker.snapshot_dir",
	"cleaner_max_size_mb":       "cleaner.max_size_mb",
	"cleaner_interval":          "cleaner.interval",
	"event_cooldown":            "pipeline.event_cooldown",
	"cameras":                   "pipeline.cameras",
	"backend_url":               "backend.url",
	"backend_timeout":           "backend.timeout",
	"backend_failure_threshold": "backend.failure_threshold",
	"backend_open_timeout":      "backend.open_timeout",
	"server_addr":               "server.addr",
	"rate_limit":                "server.rate_limit",
	"rate_limit_window":         "server.rate_limit_window",
}

// envTransformFunc maps WATCHPOST_GAIT_THRESHOLD to gait.threshold. Unknown
// variables are ignored.
func envTransformFunc(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
	if key == "config" {
		return ""
	}
	return envMappings[key]
}

var sliceConfigPaths = []string{
	"pipeline.cameras",
}

// processSliceFields splits comma-separated environment values into slices.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}
