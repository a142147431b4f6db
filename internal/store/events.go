package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rcliao/watchpost/internal/model"
)

// AddEvent stores e, assigning an id and timestamp when missing.
func (s *SQLiteStore) AddEvent(ctx context.Context, e model.Event) (*model.Event, error) {
	if e.ID == "" {
		e.ID = s.newID()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	var snapshot *string
	if e.SnapshotPath != "" {
		snapshot = &e.SnapshotPath
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (id, event_type, label, confidence, snapshot_path, identification_method, camera_name, sent, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Type, e.Label, e.Confidence, snapshot, string(e.IdentificationMethod),
		e.CameraName, e.Sent, e.CreatedAt.UTC().Format(timeLayout))
	if err != nil {
		return nil, fmt.Errorf("insert event: %w", err)
	}
	return &e, nil
}

// ListEvents returns events matching p, newest first. A zero limit means 20;
// a negative limit returns everything.
func (s *SQLiteStore) ListEvents(ctx context.Context, p EventParams) ([]model.Event, error) {
	limit := p.Limit
	if limit == 0 {
		limit = 20
	}

	where := []string{"1 = 1"}
	var args []interface{}
	if p.Label != "" {
		where = append(where, "label LIKE ?")
		args = append(args, "%"+p.Label+"%")
	}
	if p.Method != "" {
		where = append(where, "identification_method = ?")
		args = append(args, string(p.Method))
	}
	if p.Camera != "" {
		where = append(where, "camera_name = ?")
		args = append(args, p.Camera)
	}
	if !p.Since.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, p.Since.UTC().Format(timeLayout))
	}
	if p.Unsent {
		where = append(where, "sent = 0")
	}

	query := fmt.Sprintf(`
		SELECT id, event_type, label, confidence, snapshot_path, identification_method, camera_name, sent, created_at
		FROM events
		WHERE %s
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, strings.Join(where, " AND "))
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// MarkEventSent flags an event as delivered to notification channels.
func (s *SQLiteStore) MarkEventSent(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE events SET sent = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("mark event sent: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("event %s: %w", id, ErrNotFound)
	}
	return nil
}

func scanEvent(row scanner) (model.Event, error) {
	var e model.Event
	var snapshot sql.NullString
	var method, createdAt string
	err := row.Scan(&e.ID, &e.Type, &e.Label, &e.Confidence, &snapshot, &method, &e.CameraName, &e.Sent, &createdAt)
	if err != nil {
		return e, err
	}
	if snapshot.Valid {
		e.SnapshotPath = snapshot.String
	}
	e.IdentificationMethod = model.Method(method)
	e.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	return e, nil
}
