package worker

import (
	"context"
	"errors"
	"image"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/watchpost/internal/embedding"
	"github.com/rcliao/watchpost/internal/model"
)

type fakeRepo struct {
	mu      sync.Mutex
	events  []model.Event
	reid    []embedding.Vector
	gait    []embedding.Vector
	failFor Kind
}

func (r *fakeRepo) AddEvent(_ context.Context, e model.Event) (*model.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failFor == KindEvent {
		return nil, errors.New("disk full")
	}
	r.events = append(r.events, e)
	return &e, nil
}

func (r *fakeRepo) AddReIDEmbedding(_ context.Context, _ int64, v embedding.Vector, _ float64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failFor == KindReID {
		return 0, errors.New("disk full")
	}
	r.reid = append(r.reid, v)
	return int64(len(r.reid)), nil
}

func (r *fakeRepo) AddGaitEmbedding(_ context.Context, _ int64, v embedding.Vector, _ float64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gait = append(r.gait, v)
	return int64(len(r.gait)), nil
}

func (r *fakeRepo) counts() (int, int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events), len(r.reid), len(r.gait)
}

func quiet() zerolog.Logger { return zerolog.New(io.Discard) }

func serve(t *testing.T, w *Worker) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Serve(ctx) }()
	return cancel, done
}

func TestWorkerProcessesTasks(t *testing.T) {
	repo := &fakeRepo{}
	w := New(repo, Config{QueueSize: 8}, quiet())
	cancel, done := serve(t, w)
	defer cancel()

	require.NoError(t, w.EnqueueEvent(model.Event{Type: "person", Label: "alice"}, nil))
	require.NoError(t, w.SaveReID(1, embedding.Vector{1, 2}, 0.9))
	require.NoError(t, w.SaveGait(1, embedding.Vector{3, 4}, 0.9))

	require.Eventually(t, func() bool {
		e, r, g := repo.counts()
		return e == 1 && r == 1 && g == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestWorkerCopiesVectors(t *testing.T) {
	repo := &fakeRepo{}
	w := New(repo, Config{QueueSize: 8}, quiet())

	v := embedding.Vector{1, 2, 3}
	require.NoError(t, w.SaveReID(1, v, 0.9))
	v[0] = 99

	cancel, done := serve(t, w)
	require.Eventually(t, func() bool { _, r, _ := repo.counts(); return r == 1 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, embedding.Vector{1, 2, 3}, repo.reid[0])
}

func TestWorkerQueueFull(t *testing.T) {
	w := New(&fakeRepo{}, Config{QueueSize: 1}, quiet())
	require.NoError(t, w.SaveGait(1, embedding.Vector{1}, 1))
	assert.ErrorIs(t, w.SaveGait(1, embedding.Vector{1}, 1), ErrQueueFull)
	assert.Equal(t, 1, w.Pending())
}

func TestWorkerDrainsOnShutdown(t *testing.T) {
	repo := &fakeRepo{}
	w := New(repo, Config{QueueSize: 8, StopTimeout: time.Second}, quiet())
	for i := 0; i < 3; i++ {
		require.NoError(t, w.SaveGait(1, embedding.Vector{float32(i)}, 1))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := w.Serve(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	_, _, g := repo.counts()
	assert.Equal(t, 3, g)
	assert.ErrorIs(t, w.SaveGait(1, embedding.Vector{1}, 1), ErrStopped)
}

func TestWorkerContinuesAfterFailure(t *testing.T) {
	repo := &fakeRepo{failFor: KindReID}
	w := New(repo, Config{QueueSize: 8}, quiet())
	cancel, done := serve(t, w)
	defer func() { cancel(); <-done }()

	require.NoError(t, w.SaveReID(1, embedding.Vector{1}, 1))
	require.NoError(t, w.SaveGait(1, embedding.Vector{1}, 1))

	require.Eventually(t, func() bool { _, _, g := repo.counts(); return g == 1 }, 2*time.Second, 10*time.Millisecond)
	_, r, _ := repo.counts()
	assert.Equal(t, 0, r)
}

func TestWorkerWritesSnapshot(t *testing.T) {
	repo := &fakeRepo{}
	dir := t.TempDir()
	w := New(repo, Config{QueueSize: 8, SnapshotDir: dir}, quiet())

	frame := image.NewRGBA(image.Rect(0, 0, 32, 24))
	require.NoError(t, w.EnqueueEvent(model.Event{Type: "person", Label: "Unknown"}, frame))

	cancel, done := serve(t, w)
	require.Eventually(t, func() bool { e, _, _ := repo.counts(); return e == 1 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	<-done

	path := repo.events[0].SnapshotPath
	require.NotEmpty(t, path)
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}
