package store

import (
	"context"
	"os"
)

// Stats holds database statistics.
type Stats struct {
	DBPath         string      `json:"db_path"`
	DBSizeBytes    int64       `json:"db_size_bytes"`
	Users          int         `json:"users"`
	FaceEncodings  int         `json:"face_encodings"`
	ReIDEmbeddings int         `json:"reid_embeddings"`
	GaitEmbeddings int         `json:"gait_embeddings"`
	Events         int         `json:"events"`
	UnsentEvents   int         `json:"unsent_events"`
	PerUser        []UserStats `json:"per_user"`
}

// UserStats holds per-user embedding counts.
type UserStats struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	ReID int    `json:"reid"`
	Gait int    `json:"gait"`
}

// Stats returns database statistics.
func (s *SQLiteStore) Stats(ctx context.Context, dbPath string) (*Stats, error) {
	st := &Stats{DBPath: dbPath}

	if info, err := os.Stat(dbPath); err == nil {
		st.DBSizeBytes = info.Size()
	}

	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&st.Users)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM face_encodings`).Scan(&st.FaceEncodings)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM reid_embeddings`).Scan(&st.ReIDEmbeddings)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM gait_embeddings`).Scan(&st.GaitEmbeddings)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&st.Events)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events WHERE sent = 0`).Scan(&st.UnsentEvents)

	rows, err := s.db.QueryContext(ctx, `
		SELECT u.id, u.name,
		       (SELECT COUNT(*) FROM reid_embeddings r WHERE r.user_id = u.id),
		       (SELECT COUNT(*) FROM gait_embeddings g WHERE g.user_id = u.id)
		FROM users u ORDER BY u.id`)
	if err != nil {
		return st, err
	}
	defer rows.Close()

	for rows.Next() {
		var us UserStats
		rows.Scan(&us.ID, &us.Name, &us.ReID, &us.Gait)
		st.PerUser = append(st.PerUser, us)
	}

	return st, nil
}
