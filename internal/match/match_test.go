package match

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/watchpost/internal/embedding"
	"github.com/rcliao/watchpost/internal/model"
)

func rec(id, user int64, name string, v ...float32) model.EmbeddingRecord {
	return model.EmbeddingRecord{ID: id, UserID: user, Name: name, Vector: v}
}

func TestMatcherThresholdClamp(t *testing.T) {
	m := NewMatcher(DefaultGaitThreshold)
	assert.Equal(t, 0.70, m.Threshold())

	m.SetThreshold(1.7)
	assert.Equal(t, 1.0, m.Threshold())
	m.SetThreshold(-0.2)
	assert.Equal(t, 0.0, m.Threshold())
	m.SetThreshold(0.42)
	assert.Equal(t, 0.42, m.Threshold())
}

func TestMatcherCompare(t *testing.T) {
	m := NewMatcher(0.7)
	candidates := []model.EmbeddingRecord{
		rec(1, 10, "alice", 1, 0, 0),
		rec(2, 20, "bob", 0.8, 0.6, 0),
		rec(3, 30, "carol", 0, 1, 0),
	}

	got, ok := m.Compare(embedding.Vector{0.9, 0.45, 0}, candidates)
	require.True(t, ok)
	assert.Equal(t, int64(20), got.UserID, "strictly highest similarity wins")
	assert.Equal(t, "bob", got.Name)
	assert.Equal(t, int64(2), got.EmbeddingID)
	assert.GreaterOrEqual(t, got.Confidence, 0.7)

	_, ok = m.Compare(embedding.Vector{0, 0, 1}, candidates)
	assert.False(t, ok, "below threshold is no match")

	_, ok = m.Compare(embedding.Vector{1, 0, 0}, nil)
	assert.False(t, ok, "empty candidate set is no match")
}

func TestMatcherTieKeepsFirst(t *testing.T) {
	m := NewMatcher(0.5)
	candidates := []model.EmbeddingRecord{
		rec(1, 10, "first", 1, 1),
		rec(2, 20, "second", 1, 1),
	}
	got, ok := m.Compare(embedding.Vector{1, 1}, candidates)
	require.True(t, ok)
	assert.Equal(t, "first", got.Name)
}

func TestMatcherNeverBelowThreshold(t *testing.T) {
	m := NewMatcher(0.95)
	candidates := []model.EmbeddingRecord{rec(1, 1, "a", 1, 0.4), rec(2, 2, "b", 0.3, 1)}
	for _, q := range []embedding.Vector{{1, 0}, {0, 1}, {1, 1}, {-1, 0}} {
		if got, ok := m.Compare(q, candidates); ok {
			assert.GreaterOrEqual(t, got.Confidence, 0.95)
		}
	}
}

func TestStoreLoadAddMatch(t *testing.T) {
	s := NewStore(model.ModalityReID, NewMatcher(DefaultReIDThreshold))
	_, ok := s.Match(embedding.Vector{1, 0})
	assert.False(t, ok, "empty store")

	s.Load([]model.EmbeddingRecord{rec(5, 1, "alice", 1, 0)})
	got, ok := s.Match(embedding.Vector{1, 0.1})
	require.True(t, ok)
	assert.Equal(t, int64(5), got.EmbeddingID)

	v := embedding.Vector{0, 1}
	s.Add(2, "bob", v)
	v[1] = -1 // caller mutation after Add must not leak into the store
	got, ok = s.Match(embedding.Vector{0.05, 1})
	require.True(t, ok)
	assert.Equal(t, "bob", got.Name)
	assert.Equal(t, int64(0), got.EmbeddingID, "optimistic insert has no row id yet")

	assert.Equal(t, 2, s.Len())
	assert.Equal(t, map[int64]int{1: 1, 2: 1}, s.CountByUser())
}

func TestStoreRemoveUser(t *testing.T) {
	s := NewStore(model.ModalityGait, NewMatcher(DefaultGaitThreshold))
	s.Load([]model.EmbeddingRecord{rec(1, 1, "a", 1, 0), rec(2, 2, "b", 0, 1), rec(3, 1, "a", 1, 1)})
	assert.Equal(t, 2, s.RemoveUser(1))
	assert.Equal(t, 1, s.Len())
	_, ok := s.Match(embedding.Vector{1, 0})
	assert.False(t, ok)
}

func TestStoreConcurrentAddAndMatch(t *testing.T) {
	s := NewStore(model.ModalityReID, NewMatcher(0.5))
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(2)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				s.Add(int64(w), "user", embedding.Vector{float32(w + 1), 1})
			}
		}(w)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				s.Match(embedding.Vector{1, 1})
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 400, s.Len())
}
