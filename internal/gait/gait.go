// Package gait holds the walking-pattern recognition pieces: per-key
// silhouette sequence buffers and silhouette extraction.
package gait

import (
	"context"
	"image"
	"time"

	"github.com/rcliao/watchpost/internal/embedding"
)

const (
	DefaultSequenceLength = 30
	SilhouetteSize        = 64
	EmbeddingDim          = 256
	DefaultThreshold      = 0.70
	DefaultStaleAfter     = 5 * time.Second
	DefaultMaxEmbeddings  = 10
)

// Embedder turns a full silhouette sequence into a gait embedding.
type Embedder interface {
	EmbedSequence(ctx context.Context, seq []*image.Gray) (embedding.Vector, error)
}
