package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/rcliao/watchpost/internal/backend"
	"github.com/rcliao/watchpost/internal/cleaner"
	"github.com/rcliao/watchpost/internal/embedding"
	"github.com/rcliao/watchpost/internal/enroll"
	"github.com/rcliao/watchpost/internal/logging"
	"github.com/rcliao/watchpost/internal/pipeline"
	"github.com/rcliao/watchpost/internal/resolver"
	"github.com/rcliao/watchpost/internal/store"
	"github.com/rcliao/watchpost/internal/worker"
)

// engine is the assembled recognition runtime shared by run and process.
type engine struct {
	store     *store.SQLiteStore
	worker    *worker.Worker
	resolver  *resolver.Resolver
	cleaner   *cleaner.Cleaner
	pipelines map[string]*pipeline.Pipeline
}

// newEngine opens the store and wires the resolver, the storage worker and
// one pipeline per configured camera. The caller owns Close.
func newEngine(ctx context.Context) (*engine, error) {
	c := getConfig()

	s, err := openStore()
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	w := worker.New(s, worker.Config{
		QueueSize:   c.Worker.QueueSize,
		StopTimeout: c.Worker.StopTimeout,
		SnapshotDir: c.Worker.SnapshotDir,
	}, logging.Component("worker"))

	opts := resolver.Options{
		FaceThreshold:  c.Face.Threshold,
		ReIDThreshold:  c.ReID.Threshold,
		GaitThreshold:  c.Gait.Threshold,
		SequenceLength: c.Gait.SequenceLength,
		StaleAfter:     c.Gait.StaleAfter,
		Enrollment: enroll.Config{
			SampleInterval: c.ReID.SampleInterval,
			MaxSamples:     c.ReID.MaxSamples,
			SequenceLength: c.Gait.SequenceLength,
			StaleAfter:     c.Gait.StaleAfter,
		},
		Persister: w,
		Breaker: backend.BreakerConfig{
			FailureThreshold: c.Backend.FailureThreshold,
			OpenTimeout:      c.Backend.OpenTimeout,
		},
		Logger: logging.Component("resolver"),
	}
	if c.Backend.URL != "" {
		hb := embedding.NewHTTPBackend(c.Backend.URL, c.Backend.Timeout)
		opts.Face = hb
		opts.Body = hb
		if c.Gait.Enabled {
			opts.Gait = hb
		}
	} else {
		logging.Warn().Msg("no backend url configured, every person will be Unknown")
	}

	r := resolver.New(opts)
	start := time.Now()
	if err := r.Load(ctx, s); err != nil {
		s.Close()
		return nil, fmt.Errorf("load embeddings: %w", err)
	}
	logging.Info().
		Int("reid", r.ReID().Len()).
		Int("gait", r.GaitStore().Len()).
		Dur("took", time.Since(start)).
		Msg("embeddings loaded")

	pipes := make(map[string]*pipeline.Pipeline, len(c.Pipeline.Cameras))
	for i, name := range c.Pipeline.Cameras {
		pipes[name] = pipeline.New(pipeline.Config{
			CameraName:    name,
			CameraIndex:   i,
			EventCooldown: c.Pipeline.EventCooldown,
		}, r, w, logging.Component("pipeline"))
	}

	return &engine{
		store:     s,
		worker:    w,
		resolver:  r,
		cleaner:   newCleaner(),
		pipelines: pipes,
	}, nil
}

func (e *engine) Close() error {
	return e.store.Close()
}

type engineStatus struct {
	QueuePending  int             `json:"queue_pending"`
	FaceVectors   int             `json:"face_vectors"`
	ReIDVectors   int             `json:"reid_vectors"`
	GaitVectors   int             `json:"gait_vectors"`
	GaitBuffers   int             `json:"gait_buffers"`
	EnrollBuffers int             `json:"enrollment_buffers"`
	Cameras       []string        `json:"cameras"`
	Snapshots     *cleaner.Status `json:"snapshots,omitempty"`
	Users         int             `json:"users"`
	UnsentEvents  int             `json:"unsent_events"`
	DatabaseBytes int64           `json:"db_size_bytes"`
}

func (e *engine) status(ctx context.Context) (any, error) {
	st := engineStatus{
		QueuePending: e.worker.Pending(),
		FaceVectors:  e.resolver.Faces().Len(),
		ReIDVectors:  e.resolver.ReID().Len(),
		GaitVectors:  e.resolver.GaitStore().Len(),
		GaitBuffers:  e.resolver.Buffers().Keys(),
		Cameras:      getConfig().Pipeline.Cameras,
	}
	if en := e.resolver.Enrollment(); en != nil {
		st.EnrollBuffers = en.Buffers().Keys()
	}
	if cs, err := e.cleaner.Status(); err == nil {
		st.Snapshots = &cs
	}
	dbStats, err := e.store.Stats(ctx, getDBPath())
	if err != nil {
		return nil, err
	}
	st.Users = dbStats.Users
	st.UnsentEvents = dbStats.UnsentEvents
	st.DatabaseBytes = dbStats.DBSizeBytes
	return st, nil
}
