package config

import (
	"fmt"
	"math"
	"strings"
)

// Validate rejects unusable settings. Thresholds outside [0,1] are clamped
// rather than rejected.
func (c *Config) Validate() error {
	c.Face.Threshold = clampUnit(c.Face.Threshold)
	c.Gait.Threshold = clampUnit(c.Gait.Threshold)
	c.ReID.Threshold = clampUnit(c.ReID.Threshold)

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Gait.SequenceLength <= 0 {
		return fmt.Errorf("gait.sequence_length must be positive, got %d", c.Gait.SequenceLength)
	}
	if c.Gait.MaxEmbeddings <= 0 {
		return fmt.Errorf("gait.max_embeddings must be positive, got %d", c.Gait.MaxEmbeddings)
	}
	if c.ReID.MaxSamples <= 0 {
		return fmt.Errorf("reid.max_samples must be positive, got %d", c.ReID.MaxSamples)
	}
	if c.ReID.MaxEmbeddings <= 0 {
		return fmt.Errorf("reid.max_embeddings must be positive, got %d", c.ReID.MaxEmbeddings)
	}
	if c.ReID.SampleInterval < 0 {
		return fmt.Errorf("reid.sample_interval must not be negative")
	}
	if c.Worker.QueueSize <= 0 {
		return fmt.Errorf("worker.queue_size must be positive, got %d", c.Worker.QueueSize)
	}
	if c.Cleaner.MaxSizeMB < 0 {
		return fmt.Errorf("cleaner.max_size_mb must not be negative")
	}
	if len(c.Pipeline.Cameras) == 0 {
		return fmt.Errorf("pipeline.cameras must list at least one camera")
	}
	seen := make(map[string]bool, len(c.Pipeline.Cameras))
	for _, name := range c.Pipeline.Cameras {
		if seen[name] {
			return fmt.Errorf("pipeline.cameras: duplicate camera %q", name)
		}
		seen[name] = true
	}
	return c.validateLogging()
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(c.Logging.Level) {
	case "trace", "debug", "info", "warn", "warning", "error", "fatal", "panic", "disabled", "":
	default:
		return fmt.Errorf("logging.level %q is not a valid level", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "console", "":
	default:
		return fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format)
	}
	return nil
}

func clampUnit(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// CameraIndex returns the position of name in the camera list.
func (c *Config) CameraIndex(name string) (int, bool) {
	for i, n := range c.Pipeline.Cameras {
		if n == name {
			return i, true
		}
	}
	return 0, false
}
