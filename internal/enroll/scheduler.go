// Package enroll captures new body and gait samples for people already
// identified by face, so the weaker signals keep up with how a person looks
// and walks today.
package enroll

import (
	"context"
	"image"
	"time"

	"github.com/rs/zerolog"

	"github.com/rcliao/watchpost/internal/embedding"
	"github.com/rcliao/watchpost/internal/gait"
	"github.com/rcliao/watchpost/internal/match"
	"github.com/rcliao/watchpost/internal/metrics"
	"github.com/rcliao/watchpost/internal/model"
)

// Persister accepts new samples for asynchronous storage. Implementations
// must not block on disk I/O.
type Persister interface {
	SaveReID(userID int64, v embedding.Vector, confidence float64) error
	SaveGait(userID int64, v embedding.Vector, confidence float64) error
}

// Config tunes the scheduler.
type Config struct {
	SampleInterval time.Duration
	MaxSamples     int
	SequenceLength int
	StaleAfter     time.Duration
}

// Scheduler runs passive enrollment.
type Scheduler struct {
	body      embedding.BodyExtractor
	gaitEmb   gait.Embedder
	reid      *match.Store
	gaitStore *match.Store
	persist   Persister

	gate    *SamplingGate
	buffers *gait.Buffers
	log     zerolog.Logger
}

// NewScheduler wires a scheduler. A nil gaitEmb or gaitStore disables gait
// enrollment; a nil body disables body enrollment.
func NewScheduler(cfg Config, body embedding.BodyExtractor, gaitEmb gait.Embedder,
	reid, gaitStore *match.Store, persist Persister, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		body:      body,
		gaitEmb:   gaitEmb,
		reid:      reid,
		gaitStore: gaitStore,
		persist:   persist,
		gate:      NewSamplingGate(cfg.SampleInterval, cfg.MaxSamples),
		buffers:   gait.NewBuffers(cfg.SequenceLength, cfg.StaleAfter),
		log:       log,
	}
}

// Gate exposes the body sampling gate.
func (s *Scheduler) Gate() *SamplingGate { return s.gate }

// Buffers exposes the enrollment sequence buffers.
func (s *Scheduler) Buffers() *gait.Buffers { return s.buffers }

// EnrollmentKey derives the enrollment buffer key for a user's track.
func EnrollmentKey(userID int64, trackID int) int {
	return int(userID)*10000 + trackID%10000
}

// Observe is called for every frame in which det was identified by face as
// userID. The body and gait paths run independently of each other.
func (s *Scheduler) Observe(ctx context.Context, frame image.Image, det *model.Detection, userID int64, name string, confidence float64) {
	s.observeBody(ctx, frame, det, userID, name, confidence)
	if det.Tracked() {
		s.observeGait(ctx, frame, det, userID, name, confidence)
	}
}

func (s *Scheduler) observeBody(ctx context.Context, frame image.Image, det *model.Detection, userID int64, name string, confidence float64) {
	if s.body == nil || s.reid == nil {
		return
	}
	slot, ok := s.gate.TryAcquire(userID)
	if !ok {
		return
	}
	v := s.extractBody(ctx, frame, det, userID)
	if len(v) == 0 {
		s.gate.Release(slot)
		return
	}
	if s.persist != nil {
		if err := s.persist.SaveReID(userID, v, confidence); err != nil {
			s.log.Error().Err(err).Int64("user_id", userID).Msg("queue reid sample")
		}
	}
	s.reid.Add(userID, name, v)
	metrics.RecordEnrollmentSample(string(model.ModalityReID))
	s.log.Info().Int64("user_id", userID).Str("name", name).Int("samples", s.gate.Count(userID)).Msg("captured reid sample")
}

func (s *Scheduler) extractBody(ctx context.Context, frame image.Image, det *model.Detection, userID int64) embedding.Vector {
	crop := embedding.CropPerson(frame, det.Box, embedding.DefaultCropPadding)
	if crop == nil {
		return nil
	}
	v, err := s.body.ExtractBody(ctx, crop)
	if err != nil {
		s.log.Warn().Err(err).Int64("user_id", userID).Msg("body enrollment extraction failed")
		return nil
	}
	return v
}

func (s *Scheduler) observeGait(ctx context.Context, frame image.Image, det *model.Detection, userID int64, name string, confidence float64) {
	if s.gaitEmb == nil || s.gaitStore == nil {
		return
	}
	key := EnrollmentKey(userID, det.TrackID)
	if !s.buffers.Add(key, gait.ExtractSilhouette(frame, det.Box)) {
		return
	}
	seq, ok := s.buffers.Take(key)
	if !ok {
		return
	}
	v, err := s.gaitEmb.EmbedSequence(ctx, seq)
	if err != nil {
		s.log.Warn().Err(err).Int64("user_id", userID).Msg("gait enrollment embedding failed")
		return
	}
	if len(v) == 0 {
		return
	}
	if s.persist != nil {
		if err := s.persist.SaveGait(userID, v, confidence); err != nil {
			s.log.Error().Err(err).Int64("user_id", userID).Msg("queue gait sample")
		}
	}
	s.gaitStore.Add(userID, name, v)
	metrics.RecordEnrollmentSample(string(model.ModalityGait))
	s.log.Info().Int64("user_id", userID).Str("name", name).Int("track_id", det.TrackID).Msg("captured gait sample")
}

// CleanupStale drops enrollment buffers for tracks that vanished.
func (s *Scheduler) CleanupStale(maxAge time.Duration) int {
	removed := s.buffers.CleanupStale(maxAge)
	metrics.GaitBuffersActive.WithLabelValues("enrollment").Set(float64(s.buffers.Keys()))
	return len(removed)
}
