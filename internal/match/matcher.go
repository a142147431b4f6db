// Package match holds the in-memory per-modality embedding index and the
// threshold matcher used by both body re-id and gait.
package match

import (
	"math"
	"sync/atomic"

	"github.com/rcliao/watchpost/internal/embedding"
	"github.com/rcliao/watchpost/internal/model"
)

// Default acceptance thresholds per modality.
const (
	DefaultFaceThreshold = 0.40
	DefaultReIDThreshold = 0.75
	DefaultGaitThreshold = 0.70
)

// Matcher scores a query against candidates and accepts the best one when it
// reaches the threshold. Safe for concurrent use.
type Matcher struct {
	threshold atomic.Uint64
}

// NewMatcher creates a matcher with the given threshold, clamped into [0,1].
func NewMatcher(threshold float64) *Matcher {
	m := &Matcher{}
	m.SetThreshold(threshold)
	return m
}

// SetThreshold clamps t into [0,1] and stores it.
func (m *Matcher) SetThreshold(t float64) {
	switch {
	case math.IsNaN(t), t < 0:
		t = 0
	case t > 1:
		t = 1
	}
	m.threshold.Store(math.Float64bits(t))
}

// Threshold returns the current (clamped) threshold.
func (m *Matcher) Threshold() float64 {
	return math.Float64frombits(m.threshold.Load())
}

// Compare returns the candidate most similar to query if its similarity is at
// least the threshold. Ties keep the first candidate seen.
func (m *Matcher) Compare(query embedding.Vector, candidates []model.EmbeddingRecord) (model.Match, bool) {
	if len(query) == 0 || len(candidates) == 0 {
		return model.Match{}, false
	}
	best := -1
	bestScore := -1.0
	for i, c := range candidates {
		if s := embedding.CosineSimilarity(query, c.Vector); s > bestScore {
			best, bestScore = i, s
		}
	}
	if bestScore < m.Threshold() {
		return model.Match{}, false
	}
	c := candidates[best]
	return model.Match{
		UserID:      c.UserID,
		Name:        c.Name,
		Confidence:  bestScore,
		EmbeddingID: c.ID,
	}, true
}
