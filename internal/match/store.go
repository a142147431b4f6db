package match

import (
	"sync"

	"github.com/rcliao/watchpost/internal/embedding"
	"github.com/rcliao/watchpost/internal/model"
)

// Store is the in-memory index of one modality's embeddings. Inserts are
// applied immediately, ahead of persistence; readers from other camera
// pipelines see them on their next Match.
type Store struct {
	modality model.Modality
	matcher  *Matcher

	mu      sync.RWMutex
	records []model.EmbeddingRecord
}

// NewStore creates an empty store for modality using matcher.
func NewStore(modality model.Modality, matcher *Matcher) *Store {
	return &Store{modality: modality, matcher: matcher}
}

// Modality returns the modality this store indexes.
func (s *Store) Modality() model.Modality { return s.modality }

// Matcher returns the store's matcher, for threshold changes.
func (s *Store) Matcher() *Matcher { return s.matcher }

// Load replaces the contents with records, typically from the repository at startup.
func (s *Store) Load(records []model.EmbeddingRecord) {
	cp := make([]model.EmbeddingRecord, len(records))
	copy(cp, records)
	s.mu.Lock()
	s.records = cp
	s.mu.Unlock()
}

// Add appends a vector for userID. The vector is copied.
func (s *Store) Add(userID int64, name string, v embedding.Vector) {
	rec := model.EmbeddingRecord{UserID: userID, Name: name, Vector: embedding.Clone(v)}
	s.mu.Lock()
	s.records = append(s.records, rec)
	s.mu.Unlock()
}

// Match finds the best record for query above the matcher threshold.
func (s *Store) Match(query embedding.Vector) (model.Match, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.matcher.Compare(query, s.records)
}

// Len returns the number of indexed vectors.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// CountByUser returns the number of vectors held per user.
func (s *Store) CountByUser() map[int64]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[int64]int)
	for _, r := range s.records {
		counts[r.UserID]++
	}
	return counts
}

// RemoveUser drops every vector belonging to userID and returns how many were removed.
func (s *Store) RemoveUser(userID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.records[:0]
	removed := 0
	for _, r := range s.records {
		if r.UserID == userID {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	for i := len(kept); i < len(s.records); i++ {
		s.records[i] = model.EmbeddingRecord{}
	}
	s.records = kept
	return removed
}
