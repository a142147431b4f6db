package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rcliao/watchpost/internal/model"
)

// Export is the portable form of the repository.
type Export struct {
	Users  []ExportUser  `json:"users"`
	Events []model.Event `json:"events,omitempty"`
}

// ExportUser is a user with all of their embeddings.
type ExportUser struct {
	Name      string            `json:"name"`
	CreatedAt time.Time         `json:"created_at"`
	Face      []ExportEmbedding `json:"face,omitempty"`
	ReID      []ExportEmbedding `json:"reid,omitempty"`
	Gait      []ExportEmbedding `json:"gait,omitempty"`
}

// ExportEmbedding is one stored vector.
type ExportEmbedding struct {
	Vector     []float32 `json:"vector"`
	Confidence float64   `json:"confidence"`
	CapturedAt time.Time `json:"captured_at"`
}

// ExportAll returns every user with their embeddings, and optionally events.
func (s *SQLiteStore) ExportAll(ctx context.Context, withEvents bool) (*Export, error) {
	users, err := s.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	out := &Export{}
	for _, u := range users {
		eu := ExportUser{Name: u.Name, CreatedAt: u.CreatedAt}
		for _, m := range []model.Modality{model.ModalityFace, model.ModalityReID, model.ModalityGait} {
			recs, err := s.ListEmbeddings(ctx, EmbeddingParams{Modality: m, UserID: u.ID})
			if err != nil {
				return nil, err
			}
			for _, r := range recs {
				e := ExportEmbedding{Vector: r.Vector, Confidence: r.Confidence, CapturedAt: r.CapturedAt}
				switch m {
				case model.ModalityFace:
					eu.Face = append(eu.Face, e)
				case model.ModalityReID:
					eu.ReID = append(eu.ReID, e)
				case model.ModalityGait:
					eu.Gait = append(eu.Gait, e)
				}
			}
		}
		out.Users = append(out.Users, eu)
	}

	if withEvents {
		out.Events, err = s.ListEvents(ctx, EventParams{Limit: -1})
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Import merges an export. Users are matched by name; embeddings are
// appended subject to the per-user caps; events with a known id are skipped.
// It returns the number of embeddings and events written.
func (s *SQLiteStore) Import(ctx context.Context, ex *Export) (int, error) {
	imported := 0
	for _, eu := range ex.Users {
		u, err := s.GetUserByName(ctx, eu.Name)
		if errors.Is(err, ErrNotFound) {
			u, err = s.AddUser(ctx, eu.Name)
		}
		if err != nil {
			return imported, fmt.Errorf("import user %q: %w", eu.Name, err)
		}
		for _, e := range eu.Face {
			if _, err := s.addEmbedding(ctx, model.ModalityFace, u.ID, e.Vector, e.Confidence, capturedOrNow(e.CapturedAt), 0); err != nil {
				return imported, err
			}
			imported++
		}
		for _, e := range eu.ReID {
			if _, err := s.addEmbedding(ctx, model.ModalityReID, u.ID, e.Vector, e.Confidence, capturedOrNow(e.CapturedAt), s.reidCap); err != nil {
				return imported, err
			}
			imported++
		}
		for _, e := range eu.Gait {
			if _, err := s.addEmbedding(ctx, model.ModalityGait, u.ID, e.Vector, e.Confidence, capturedOrNow(e.CapturedAt), s.gaitCap); err != nil {
				return imported, err
			}
			imported++
		}
	}

	for _, e := range ex.Events {
		if e.ID != "" {
			var exists int
			s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events WHERE id = ?`, e.ID).Scan(&exists)
			if exists > 0 {
				continue
			}
		}
		if _, err := s.AddEvent(ctx, e); err != nil {
			return imported, err
		}
		imported++
	}
	return imported, nil
}

func capturedOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}
