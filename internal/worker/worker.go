// Package worker persists events and enrollment samples off the recognition
// path. A single goroutine drains a FIFO queue; producers never wait on disk.
package worker

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"golang.org/x/image/draw"

	"github.com/rcliao/watchpost/internal/embedding"
	"github.com/rcliao/watchpost/internal/metrics"
	"github.com/rcliao/watchpost/internal/model"
)

var (
	// ErrQueueFull is returned when a task cannot be queued without blocking.
	ErrQueueFull = errors.New("storage queue full")
	// ErrStopped is returned for tasks offered after shutdown began.
	ErrStopped = errors.New("storage worker stopped")
)

// Kind identifies a storage task.
type Kind string

const (
	KindEvent Kind = "event"
	KindReID  Kind = "reid"
	KindGait  Kind = "gait"
)

// Task is one unit of persistence work. Payloads are owned by the task.
type Task struct {
	Kind       Kind
	Event      model.Event
	Frame      *image.RGBA
	UserID     int64
	Vector     embedding.Vector
	Confidence float64
}

// Repository is the persistence the worker writes to.
type Repository interface {
	AddEvent(ctx context.Context, e model.Event) (*model.Event, error)
	AddReIDEmbedding(ctx context.Context, userID int64, v embedding.Vector, confidence float64) (int64, error)
	AddGaitEmbedding(ctx context.Context, userID int64, v embedding.Vector, confidence float64) (int64, error)
}

// Config tunes the worker.
type Config struct {
	QueueSize   int
	StopTimeout time.Duration
	// SnapshotDir receives event frames as JPEG files. Empty disables snapshots.
	SnapshotDir string
}

// DefaultConfig returns the worker defaults.
func DefaultConfig() Config {
	return Config{QueueSize: 256, StopTimeout: time.Second, SnapshotDir: "snapshots"}
}

// Worker is the single consumer of the storage queue.
type Worker struct {
	repo  Repository
	cfg   Config
	tasks chan Task
	log   zerolog.Logger

	mu      sync.RWMutex
	stopped bool
}

// New creates a worker. Call Serve to start consuming.
func New(repo Repository, cfg Config, log zerolog.Logger) *Worker {
	def := DefaultConfig()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = def.StopTimeout
	}
	return &Worker{
		repo:  repo,
		cfg:   cfg,
		tasks: make(chan Task, cfg.QueueSize),
		log:   log,
	}
}

// Enqueue offers t without blocking.
func (w *Worker) Enqueue(t Task) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.stopped {
		return ErrStopped
	}
	select {
	case w.tasks <- t:
		metrics.StorageQueueDepth.Set(float64(len(w.tasks)))
		return nil
	default:
		metrics.RecordStorageTask(string(t.Kind), "dropped")
		return ErrQueueFull
	}
}

// EnqueueEvent queues an event with a copy of frame for its snapshot.
// frame may be nil.
func (w *Worker) EnqueueEvent(e model.Event, frame image.Image) error {
	return w.Enqueue(Task{Kind: KindEvent, Event: e, Frame: cloneFrame(frame)})
}

// SaveReID queues a body embedding. The vector is copied.
func (w *Worker) SaveReID(userID int64, v embedding.Vector, confidence float64) error {
	return w.Enqueue(Task{Kind: KindReID, UserID: userID, Vector: embedding.Clone(v), Confidence: confidence})
}

// SaveGait queues a gait embedding. The vector is copied.
func (w *Worker) SaveGait(userID int64, v embedding.Vector, confidence float64) error {
	return w.Enqueue(Task{Kind: KindGait, UserID: userID, Vector: embedding.Clone(v), Confidence: confidence})
}

// Pending returns the number of queued tasks.
func (w *Worker) Pending() int { return len(w.tasks) }

func (w *Worker) String() string { return "storage-worker" }

// Serve implements suture.Service. It processes tasks until ctx is canceled,
// then stops accepting work and drains what is already queued for at most
// StopTimeout.
func (w *Worker) Serve(ctx context.Context) error {
	w.log.Info().Int("queue_size", cap(w.tasks)).Msg("storage worker started")
	for {
		select {
		case <-ctx.Done():
			w.drain(context.WithoutCancel(ctx))
			return ctx.Err()
		case t := <-w.tasks:
			metrics.StorageQueueDepth.Set(float64(len(w.tasks)))
			w.process(ctx, t)
		}
	}
}

func (w *Worker) drain(ctx context.Context) {
	w.mu.Lock()
	w.stopped = true
	w.mu.Unlock()

	deadline := time.NewTimer(w.cfg.StopTimeout)
	defer deadline.Stop()
	for {
		select {
		case t := <-w.tasks:
			w.process(ctx, t)
		case <-deadline.C:
			if n := len(w.tasks); n > 0 {
				w.log.Warn().Int("abandoned", n).Msg("storage worker stop timed out")
			}
			return
		default:
			w.log.Info().Msg("storage worker stopped")
			return
		}
	}
}

func (w *Worker) process(ctx context.Context, t Task) {
	defer func() {
		if r := recover(); r != nil {
			metrics.RecordStorageTask(string(t.Kind), "failed")
			w.log.Error().Interface("panic", r).Str("kind", string(t.Kind)).Msg("storage task panicked")
		}
	}()

	var err error
	switch t.Kind {
	case KindEvent:
		err = w.saveEvent(ctx, t)
	case KindReID:
		_, err = w.repo.AddReIDEmbedding(ctx, t.UserID, t.Vector, t.Confidence)
	case KindGait:
		_, err = w.repo.AddGaitEmbedding(ctx, t.UserID, t.Vector, t.Confidence)
	default:
		err = fmt.Errorf("unknown task kind %q", t.Kind)
	}
	if err != nil {
		metrics.RecordStorageTask(string(t.Kind), "failed")
		w.log.Error().Err(err).Str("kind", string(t.Kind)).Int64("user_id", t.UserID).Msg("storage task failed")
		return
	}
	metrics.RecordStorageTask(string(t.Kind), "ok")
}

func (w *Worker) saveEvent(ctx context.Context, t Task) error {
	e := t.Event
	if t.Frame != nil && w.cfg.SnapshotDir != "" {
		path, err := w.writeSnapshot(t.Frame)
		if err != nil {
			w.log.Error().Err(err).Msg("write snapshot")
		} else {
			e.SnapshotPath = path
		}
	}
	_, err := w.repo.AddEvent(ctx, e)
	return err
}

func (w *Worker) writeSnapshot(frame image.Image) (string, error) {
	if err := os.MkdirAll(w.cfg.SnapshotDir, 0o755); err != nil {
		return "", fmt.Errorf("create snapshot dir: %w", err)
	}
	path := filepath.Join(w.cfg.SnapshotDir, ulid.Make().String()+".jpg")
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create snapshot: %w", err)
	}
	if err := jpeg.Encode(f, frame, &jpeg.Options{Quality: 85}); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("encode snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close snapshot: %w", err)
	}
	return path, nil
}

func cloneFrame(img image.Image) *image.RGBA {
	if img == nil {
		return nil
	}
	b := img.Bounds()
	dst := image.NewRGBA(b)
	draw.Draw(dst, b, img, b.Min, draw.Src)
	return dst
}
