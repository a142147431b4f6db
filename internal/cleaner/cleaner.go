// Package cleaner keeps the snapshot directory under a size cap by deleting
// the oldest files first.
package cleaner

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog"
)

// Defaults.
const (
	DefaultMaxBytes = 10 << 30
	DefaultInterval = 10 * time.Minute
)

// lowWater is the fraction of the cap a cleanup shrinks the directory to.
const lowWater = 0.9

// Status describes the directory's current usage.
type Status struct {
	Dir          string  `json:"dir"`
	CurrentBytes int64   `json:"current_bytes"`
	MaxBytes     int64   `json:"max_bytes"`
	UsagePercent float64 `json:"usage_percent"`
	FileCount    int     `json:"file_count"`
}

// Cleaner enforces a size cap on one directory tree.
type Cleaner struct {
	dir      string
	maxBytes int64
	interval time.Duration
	log      zerolog.Logger
}

// New creates a cleaner. Non-positive arguments use the defaults.
func New(dir string, maxBytes int64, interval time.Duration, log zerolog.Logger) *Cleaner {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Cleaner{dir: dir, maxBytes: maxBytes, interval: interval, log: log}
}

type file struct {
	path    string
	size    int64
	modTime time.Time
}

func (c *Cleaner) scan() ([]file, int64, error) {
	var files []file
	var total int64
	err := filepath.WalkDir(c.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		files = append(files, file{path: path, size: info.Size(), modTime: info.ModTime()})
		total += info.Size()
		return nil
	})
	return files, total, err
}

// Cleanup deletes the oldest files when the directory exceeds the cap, until
// it is at or below 90% of the cap. It returns the number of files deleted.
func (c *Cleaner) Cleanup() (int, error) {
	files, total, err := c.scan()
	if err != nil {
		return 0, err
	}
	if total <= c.maxBytes {
		c.log.Debug().Int64("bytes", total).Int64("max_bytes", c.maxBytes).Msg("snapshot storage ok")
		return 0, nil
	}
	c.log.Warn().Int64("bytes", total).Int64("max_bytes", c.maxBytes).Msg("snapshot storage limit exceeded")

	sort.Slice(files, func(i, j int) bool {
		if files[i].modTime.Equal(files[j].modTime) {
			return files[i].path < files[j].path
		}
		return files[i].modTime.Before(files[j].modTime)
	})

	target := int64(float64(c.maxBytes) * lowWater)
	deleted := 0
	for _, f := range files {
		if total <= target {
			break
		}
		if err := os.Remove(f.path); err != nil {
			c.log.Error().Err(err).Str("path", f.path).Msg("delete snapshot")
			continue
		}
		total -= f.size
		deleted++
	}
	c.log.Info().Int("deleted", deleted).Int64("bytes", total).Msg("snapshot cleanup complete")
	return deleted, nil
}

// Status reports current usage.
func (c *Cleaner) Status() (Status, error) {
	files, total, err := c.scan()
	if err != nil {
		return Status{}, err
	}
	return Status{
		Dir:          c.dir,
		CurrentBytes: total,
		MaxBytes:     c.maxBytes,
		UsagePercent: float64(total) / float64(c.maxBytes) * 100,
		FileCount:    len(files),
	}, nil
}

// Serve implements suture.Service, running Cleanup once at start and then
// every interval.
func (c *Cleaner) Serve(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		if _, err := c.Cleanup(); err != nil {
			c.log.Error().Err(err).Msg("snapshot cleanup failed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Cleaner) String() string { return "snapshot-cleaner" }
