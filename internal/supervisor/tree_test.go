package supervisor

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockService struct {
	name   string
	starts atomic.Int32
	fails  atomic.Int32
	mu     sync.Mutex
	failN  int32
}

func (m *mockService) Serve(ctx context.Context) error {
	m.starts.Add(1)
	m.mu.Lock()
	failN := m.failN
	m.mu.Unlock()
	if failN > 0 && m.fails.Add(1) <= failN {
		return errors.New("simulated failure")
	}
	<-ctx.Done()
	return ctx.Err()
}

func (m *mockService) String() string { return m.name }

func quiet() zerolog.Logger { return zerolog.New(io.Discard) }

func TestNewTreeDefaults(t *testing.T) {
	tree := NewTree(quiet(), TreeConfig{})
	require.NotNil(t, tree.Root())
	assert.Equal(t, DefaultTreeConfig(), tree.config)
}

func TestTreeLifecycle(t *testing.T) {
	tree := NewTree(quiet(), TreeConfig{FailureBackoff: 10 * time.Millisecond, ShutdownTimeout: time.Second})
	storage := &mockService{name: "storage"}
	maint := &mockService{name: "maint"}
	tree.AddStorageService(storage)
	tree.AddMaintenanceService(maint)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.ServeBackground(ctx)

	require.Eventually(t, func() bool {
		return storage.starts.Load() == 1 && maint.starts.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-errCh:
	case <-time.After(3 * time.Second):
		t.Fatal("tree did not stop")
	}
}

func TestTreeRestartsFailedService(t *testing.T) {
	tree := NewTree(quiet(), TreeConfig{FailureBackoff: 10 * time.Millisecond, ShutdownTimeout: time.Second})
	flaky := &mockService{name: "flaky", failN: 2}
	tree.AddMaintenanceService(flaky)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tree.ServeBackground(ctx)

	require.Eventually(t, func() bool { return flaky.starts.Load() >= 3 }, 3*time.Second, 10*time.Millisecond)
}

func TestTickerService(t *testing.T) {
	var calls atomic.Int32
	svc := NewTickerService("tick", 5*time.Millisecond, func(context.Context) { calls.Add(1) })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	require.Eventually(t, func() bool { return calls.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, "tick", svc.String())
}

type fakeServer struct {
	stop chan struct{}
	err  error
}

func (f *fakeServer) ListenAndServe() error {
	if f.err != nil {
		return f.err
	}
	<-f.stop
	return http.ErrServerClosed
}

func (f *fakeServer) Shutdown(context.Context) error {
	close(f.stop)
	return nil
}

func TestHTTPServerService(t *testing.T) {
	srv := &fakeServer{stop: make(chan struct{})}
	svc := NewHTTPServerService(srv, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	failing := NewHTTPServerService(&fakeServer{err: errors.New("address in use")}, time.Second)
	err := failing.Serve(context.Background())
	assert.ErrorContains(t, err, "address in use")
}
