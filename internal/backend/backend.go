// Package backend wraps the recognition networks (face, body re-id, gait)
// behind circuit breakers so a failing or panicking backend degrades to
// "method failed" instead of stalling every camera pipeline.
package backend

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/rcliao/watchpost/internal/embedding"
	"github.com/rcliao/watchpost/internal/gait"
	"github.com/rcliao/watchpost/internal/metrics"
	"github.com/rcliao/watchpost/internal/model"
)

// BreakerConfig configures the per-backend circuit breakers.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the
	// breaker. Zero disables tripping.
	FailureThreshold uint32
	// OpenTimeout is how long an open breaker rejects calls before probing.
	OpenTimeout time.Duration
}

// DefaultBreakerConfig returns the defaults used by the CLI.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{FailureThreshold: 5, OpenTimeout: 30 * time.Second}
}

func newBreaker[T any](name string, cfg BreakerConfig, log zerolog.Logger) *gobreaker.CircuitBreaker[T] {
	return gobreaker.NewCircuitBreaker[T](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return cfg.FailureThreshold > 0 && counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("backend", name).Str("from", from.String()).Str("to", to.String()).Msg("breaker state changed")
		},
	})
}

// execute runs fn under cb, turning a panic into an error.
func execute[T any](cb *gobreaker.CircuitBreaker[T], fn func() (T, error)) (T, error) {
	out, err := cb.Execute(func() (res T, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%s backend panic: %v", cb.Name(), r)
			}
		}()
		return fn()
	})
	if err != nil {
		metrics.RecordBackendFailure(cb.Name())
	}
	return out, err
}

// Face guards an embedding.FaceEmbedder.
type Face struct {
	next embedding.FaceEmbedder
	cb   *gobreaker.CircuitBreaker[model.FaceObservation]
}

// NewFace wraps next.
func NewFace(next embedding.FaceEmbedder, cfg BreakerConfig, log zerolog.Logger) *Face {
	return &Face{next: next, cb: newBreaker[model.FaceObservation]("face", cfg, log)}
}

func (f *Face) EmbedFace(ctx context.Context, crop image.Image) (model.FaceObservation, error) {
	return execute(f.cb, func() (model.FaceObservation, error) {
		return f.next.EmbedFace(ctx, crop)
	})
}

// State reports the breaker state.
func (f *Face) State() gobreaker.State { return f.cb.State() }

// Body guards an embedding.BodyExtractor.
type Body struct {
	next embedding.BodyExtractor
	cb   *gobreaker.CircuitBreaker[embedding.Vector]
}

// NewBody wraps next.
func NewBody(next embedding.BodyExtractor, cfg BreakerConfig, log zerolog.Logger) *Body {
	return &Body{next: next, cb: newBreaker[embedding.Vector]("reid", cfg, log)}
}

func (b *Body) ExtractBody(ctx context.Context, crop image.Image) (embedding.Vector, error) {
	return execute(b.cb, func() (embedding.Vector, error) {
		return b.next.ExtractBody(ctx, crop)
	})
}

// State reports the breaker state.
func (b *Body) State() gobreaker.State { return b.cb.State() }

// Gait guards a gait.Embedder.
type Gait struct {
	next gait.Embedder
	cb   *gobreaker.CircuitBreaker[embedding.Vector]
}

// NewGait wraps next.
func NewGait(next gait.Embedder, cfg BreakerConfig, log zerolog.Logger) *Gait {
	return &Gait{next: next, cb: newBreaker[embedding.Vector]("gait", cfg, log)}
}

func (g *Gait) EmbedSequence(ctx context.Context, seq []*image.Gray) (embedding.Vector, error) {
	return execute(g.cb, func() (embedding.Vector, error) {
		return g.next.EmbedSequence(ctx, seq)
	})
}

// State reports the breaker state.
func (g *Gait) State() gobreaker.State { return g.cb.State() }
