// Package resolver decides who a detected person is by trying face
// matching, then body re-identification, then gait, stopping at the first
// method that produces a match.
package resolver

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/rs/zerolog"

	"github.com/rcliao/watchpost/internal/backend"
	"github.com/rcliao/watchpost/internal/embedding"
	"github.com/rcliao/watchpost/internal/enroll"
	"github.com/rcliao/watchpost/internal/gait"
	"github.com/rcliao/watchpost/internal/match"
	"github.com/rcliao/watchpost/internal/metrics"
	"github.com/rcliao/watchpost/internal/model"
)

// EmbeddingSource is the subset of the repository read at startup.
type EmbeddingSource interface {
	FaceEmbeddingsWithNames(ctx context.Context) ([]model.EmbeddingRecord, error)
	ReIDEmbeddingsWithNames(ctx context.Context) ([]model.EmbeddingRecord, error)
	GaitEmbeddingsWithNames(ctx context.Context) ([]model.EmbeddingRecord, error)
	ReIDEmbeddingCounts(ctx context.Context) (map[int64]int, error)
}

// Options configures a Resolver. Nil backends disable their method.
type Options struct {
	Face embedding.FaceEmbedder
	Body embedding.BodyExtractor
	Gait gait.Embedder

	// Zero thresholds select the match.Default*Threshold for the modality.
	FaceThreshold  float64
	ReIDThreshold  float64
	GaitThreshold  float64
	SequenceLength int
	StaleAfter     time.Duration

	Enrollment enroll.Config
	// Persister receives passively enrolled samples. Nil disables passive enrollment.
	Persister enroll.Persister

	Breaker backend.BreakerConfig
	Logger  zerolog.Logger
}

// Resolver owns the match stores and the recognition gait buffers shared by
// all camera pipelines.
type Resolver struct {
	face embedding.FaceEmbedder
	body embedding.BodyExtractor
	gait gait.Embedder

	faces     *match.Store
	reid      *match.Store
	gaitStore *match.Store
	buffers   *gait.Buffers
	enroll    *enroll.Scheduler

	log zerolog.Logger
}

// New builds a Resolver. Every backend is wrapped in a circuit breaker that
// also converts panics into errors.
func New(opts Options) *Resolver {
	if opts.FaceThreshold == 0 {
		opts.FaceThreshold = match.DefaultFaceThreshold
	}
	if opts.ReIDThreshold == 0 {
		opts.ReIDThreshold = match.DefaultReIDThreshold
	}
	if opts.GaitThreshold == 0 {
		opts.GaitThreshold = match.DefaultGaitThreshold
	}
	r := &Resolver{
		faces:     match.NewStore(model.ModalityFace, match.NewMatcher(opts.FaceThreshold)),
		reid:      match.NewStore(model.ModalityReID, match.NewMatcher(opts.ReIDThreshold)),
		gaitStore: match.NewStore(model.ModalityGait, match.NewMatcher(opts.GaitThreshold)),
		buffers:   gait.NewBuffers(opts.SequenceLength, opts.StaleAfter),
		log:       opts.Logger,
	}
	if opts.Face != nil {
		r.face = backend.NewFace(opts.Face, opts.Breaker, opts.Logger)
	}
	if opts.Body != nil {
		r.body = backend.NewBody(opts.Body, opts.Breaker, opts.Logger)
	}
	if opts.Gait != nil {
		r.gait = backend.NewGait(opts.Gait, opts.Breaker, opts.Logger)
	}
	if opts.Persister != nil {
		ecfg := opts.Enrollment
		if ecfg.SequenceLength <= 0 {
			ecfg.SequenceLength = opts.SequenceLength
		}
		if ecfg.StaleAfter <= 0 {
			ecfg.StaleAfter = opts.StaleAfter
		}
		r.enroll = enroll.NewScheduler(ecfg, r.body, r.gait, r.reid, r.gaitStore, opts.Persister, opts.Logger)
	}
	return r
}

// Faces returns the face store.
func (r *Resolver) Faces() *match.Store { return r.faces }

// ReID returns the body re-id store.
func (r *Resolver) ReID() *match.Store { return r.reid }

// GaitStore returns the gait store.
func (r *Resolver) GaitStore() *match.Store { return r.gaitStore }

// Buffers returns the recognition gait buffers keyed by track id.
func (r *Resolver) Buffers() *gait.Buffers { return r.buffers }

// Enrollment returns the passive enrollment scheduler, or nil when disabled.
func (r *Resolver) Enrollment() *enroll.Scheduler { return r.enroll }

// Load populates the match stores and the sampling counts from src.
func (r *Resolver) Load(ctx context.Context, src EmbeddingSource) error {
	faces, err := src.FaceEmbeddingsWithNames(ctx)
	if err != nil {
		return fmt.Errorf("load face encodings: %w", err)
	}
	reid, err := src.ReIDEmbeddingsWithNames(ctx)
	if err != nil {
		return fmt.Errorf("load reid embeddings: %w", err)
	}
	gaitRecs, err := src.GaitEmbeddingsWithNames(ctx)
	if err != nil {
		return fmt.Errorf("load gait embeddings: %w", err)
	}
	r.faces.Load(faces)
	r.reid.Load(reid)
	r.gaitStore.Load(gaitRecs)

	if r.enroll != nil {
		counts, err := src.ReIDEmbeddingCounts(ctx)
		if err != nil {
			return fmt.Errorf("load reid counts: %w", err)
		}
		r.enroll.Gate().Seed(counts)
	}
	r.log.Info().Int("face", len(faces)).Int("reid", len(reid)).Int("gait", len(gaitRecs)).Msg("loaded embeddings")
	return nil
}

// Resolve fills in det's identity fields. It never fails: a backend error
// only means that method produced no match.
func (r *Resolver) Resolve(ctx context.Context, frame image.Image, det *model.Detection) {
	method := r.resolve(ctx, frame, det)
	metrics.RecordIdentification(string(method))
}

func (r *Resolver) resolve(ctx context.Context, frame image.Image, det *model.Detection) model.Method {
	rect := embedding.CropRect(frame, det.Box, embedding.DefaultCropPadding)
	var crop image.Image
	if !rect.Empty() && (r.face != nil || r.body != nil) {
		crop = embedding.CropPerson(frame, det.Box, embedding.DefaultCropPadding)
	}

	if m, ok := r.tryFace(ctx, crop, rect.Min, det); ok {
		det.Label = m.Name
		det.IsKnown = true
		det.Confidence = m.Confidence
		det.IdentificationMethod = model.MethodFace
		if r.enroll != nil {
			r.enroll.Observe(ctx, frame, det, m.UserID, m.Name, m.Confidence)
		}
		return model.MethodFace
	}

	if m, ok := r.tryReID(ctx, crop, det); ok {
		det.Label = fmt.Sprintf("%s (Re-ID)", m.Name)
		det.IsKnown = true
		det.Confidence = m.Confidence
		det.IdentificationMethod = model.MethodReID
		return model.MethodReID
	}

	if det.Tracked() {
		if m, ok := r.tryGait(ctx, frame, det); ok {
			det.Label = fmt.Sprintf("%s (Gait: %.0f%%)", m.Name, m.Confidence*100)
			det.IsKnown = true
			det.Confidence = m.Confidence
			det.IdentificationMethod = model.MethodGait
			return model.MethodGait
		}
	}

	det.Label = model.UnknownLabel
	det.IsKnown = false
	det.IdentificationMethod = model.MethodNone
	return model.MethodNone
}

// tryFace embeds the largest face in crop and matches it against the face
// store. origin is the crop's top-left corner in frame coordinates.
func (r *Resolver) tryFace(ctx context.Context, crop image.Image, origin image.Point, det *model.Detection) (model.Match, bool) {
	det.FaceVisible = false
	det.FaceBox = nil
	if r.face == nil || crop == nil {
		return model.Match{}, false
	}
	obs, err := r.face.EmbedFace(ctx, crop)
	if err != nil {
		r.log.Warn().Err(err).Str("camera", det.CameraName).Msg("face embedding failed")
		return model.Match{}, false
	}
	det.FaceVisible = obs.FaceVisible
	if obs.FaceBox != nil {
		box := obs.FaceBox.Add(origin)
		det.FaceBox = &box
	}
	if len(obs.Embedding) == 0 || r.faces.Len() == 0 {
		return model.Match{}, false
	}
	return r.faces.Match(obs.Embedding)
}

func (r *Resolver) tryReID(ctx context.Context, crop image.Image, det *model.Detection) (model.Match, bool) {
	if r.body == nil || crop == nil || r.reid.Len() == 0 {
		return model.Match{}, false
	}
	v, err := r.body.ExtractBody(ctx, crop)
	if err != nil {
		r.log.Warn().Err(err).Str("camera", det.CameraName).Msg("body extraction failed")
		return model.Match{}, false
	}
	if len(v) == 0 {
		return model.Match{}, false
	}
	return r.reid.Match(v)
}

func (r *Resolver) tryGait(ctx context.Context, frame image.Image, det *model.Detection) (model.Match, bool) {
	if r.gait == nil {
		return model.Match{}, false
	}
	if !r.buffers.Add(det.TrackID, gait.ExtractSilhouette(frame, det.Box)) {
		return model.Match{}, false
	}
	seq, ok := r.buffers.Take(det.TrackID)
	if !ok {
		return model.Match{}, false
	}
	v, err := r.gait.EmbedSequence(ctx, seq)
	if err != nil {
		r.log.Warn().Err(err).Int("track_id", det.TrackID).Msg("gait embedding failed")
		return model.Match{}, false
	}
	if len(v) == 0 {
		return model.Match{}, false
	}
	return r.gaitStore.Match(v)
}

// CleanupStale drops recognition and enrollment buffers untouched for
// longer than maxAge (the configured stale timeout when non-positive).
func (r *Resolver) CleanupStale(maxAge time.Duration) int {
	removed := r.buffers.CleanupStale(maxAge)
	metrics.GaitBuffersActive.WithLabelValues("recognition").Set(float64(r.buffers.Keys()))
	n := len(removed)
	if r.enroll != nil {
		n += r.enroll.CleanupStale(maxAge)
	}
	if n > 0 {
		r.log.Debug().Int("removed", n).Msg("dropped stale gait buffers")
	}
	return n
}
