package store

import (
	"context"
	"fmt"
	"time"

	"github.com/rcliao/watchpost/internal/embedding"
	"github.com/rcliao/watchpost/internal/model"
)

// embeddingTable maps a modality to its table and blob column.
func embeddingTable(m model.Modality) (table, column string, err error) {
	switch m {
	case model.ModalityFace:
		return "face_encodings", "encoding", nil
	case model.ModalityReID:
		return "reid_embeddings", "vector", nil
	case model.ModalityGait:
		return "gait_embeddings", "embedding", nil
	}
	return "", "", fmt.Errorf("unknown modality %q", m)
}

func (s *SQLiteStore) AddReIDEmbedding(ctx context.Context, userID int64, v embedding.Vector, confidence float64) (int64, error) {
	return s.addEmbedding(ctx, model.ModalityReID, userID, v, confidence, time.Now().UTC(), s.reidCap)
}

func (s *SQLiteStore) AddGaitEmbedding(ctx context.Context, userID int64, v embedding.Vector, confidence float64) (int64, error) {
	return s.addEmbedding(ctx, model.ModalityGait, userID, v, confidence, time.Now().UTC(), s.gaitCap)
}

// addEmbedding inserts a row and trims the user's rows of that modality to
// the newest limit, by id.
func (s *SQLiteStore) addEmbedding(ctx context.Context, m model.Modality, userID int64, v embedding.Vector,
	confidence float64, capturedAt time.Time, limit int) (int64, error) {
	table, column, err := embeddingTable(m)
	if err != nil {
		return 0, err
	}
	if len(v) == 0 {
		return 0, fmt.Errorf("add %s embedding: empty vector", m)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (user_id, %s, confidence, captured_at) VALUES (?, ?, ?, ?)`, table, column),
		userID, embedding.Serialize(v), confidence, capturedAt.Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("insert %s embedding: %w", m, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	if limit > 0 {
		evicted, err := tx.ExecContext(ctx,
			fmt.Sprintf(`DELETE FROM %[1]s WHERE user_id = ? AND id NOT IN (
				SELECT id FROM %[1]s WHERE user_id = ? ORDER BY id DESC LIMIT ?)`, table),
			userID, userID, limit)
		if err != nil {
			return 0, fmt.Errorf("evict %s embeddings: %w", m, err)
		}
		if n, _ := evicted.RowsAffected(); n > 0 {
			s.log.Debug().Str("modality", string(m)).Int64("user_id", userID).Int64("evicted", n).Msg("embedding cap reached")
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return id, nil
}

func (s *SQLiteStore) FaceEmbeddingsWithNames(ctx context.Context) ([]model.EmbeddingRecord, error) {
	return s.ListEmbeddings(ctx, EmbeddingParams{Modality: model.ModalityFace})
}

func (s *SQLiteStore) ReIDEmbeddingsWithNames(ctx context.Context) ([]model.EmbeddingRecord, error) {
	return s.ListEmbeddings(ctx, EmbeddingParams{Modality: model.ModalityReID})
}

func (s *SQLiteStore) GaitEmbeddingsWithNames(ctx context.Context) ([]model.EmbeddingRecord, error) {
	return s.ListEmbeddings(ctx, EmbeddingParams{Modality: model.ModalityGait})
}

func (s *SQLiteStore) ReIDEmbeddingCounts(ctx context.Context) (map[int64]int, error) {
	return s.EmbeddingCounts(ctx, model.ModalityReID)
}

// EmbeddingCounts returns the number of stored embeddings per user for m.
func (s *SQLiteStore) EmbeddingCounts(ctx context.Context, m model.Modality) (map[int64]int, error) {
	table, _, err := embeddingTable(m)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT user_id, COUNT(*) FROM %s GROUP BY user_id`, table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[int64]int)
	for rows.Next() {
		var userID int64
		var n int
		if err := rows.Scan(&userID, &n); err != nil {
			return nil, err
		}
		counts[userID] = n
	}
	return counts, rows.Err()
}

// ListEmbeddings returns embeddings joined with user names, oldest first.
func (s *SQLiteStore) ListEmbeddings(ctx context.Context, p EmbeddingParams) ([]model.EmbeddingRecord, error) {
	table, column, err := embeddingTable(p.Modality)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT e.id, e.user_id, u.name, e.%s, e.confidence, e.captured_at
		FROM %s e JOIN users u ON u.id = e.user_id`, column, table)
	var args []interface{}
	if p.UserID > 0 {
		query += ` WHERE e.user_id = ?`
		args = append(args, p.UserID)
	}
	query += ` ORDER BY e.id`
	if p.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, p.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []model.EmbeddingRecord
	for rows.Next() {
		var r model.EmbeddingRecord
		var blob []byte
		var capturedAt string
		if err := rows.Scan(&r.ID, &r.UserID, &r.Name, &blob, &r.Confidence, &capturedAt); err != nil {
			return nil, err
		}
		v, err := embedding.Deserialize(blob, 0)
		if err != nil {
			s.log.Warn().Err(err).Str("modality", string(p.Modality)).Int64("id", r.ID).Msg("skipping corrupt embedding")
			continue
		}
		r.Vector = v
		r.CapturedAt, _ = time.Parse(timeLayout, capturedAt)
		records = append(records, r)
	}
	return records, rows.Err()
}

// DeleteEmbedding removes one embedding by id.
func (s *SQLiteStore) DeleteEmbedding(ctx context.Context, m model.Modality, id int64) error {
	table, _, err := embeddingTable(m)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, table), id)
	if err != nil {
		return fmt.Errorf("delete %s embedding: %w", m, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s embedding %d: %w", m, id, ErrNotFound)
	}
	return nil
}

// AddFaceEncoding stores a face encoding produced by an external enrollment
// tool. Face encodings are uncapped and carry full confidence.
func (s *SQLiteStore) AddFaceEncoding(ctx context.Context, userID int64, v embedding.Vector) (int64, error) {
	return s.addEmbedding(ctx, model.ModalityFace, userID, v, 1.0, time.Now().UTC(), 0)
}
