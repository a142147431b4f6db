// Package store provides the identity repository interface and its SQLite
// implementation.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/rcliao/watchpost/internal/embedding"
	"github.com/rcliao/watchpost/internal/model"
)

// ErrNotFound is returned when a user, embedding or event does not exist.
var ErrNotFound = errors.New("not found")

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Default per-user embedding caps. Inserting beyond a cap evicts the oldest row.
const (
	DefaultReIDCap = 50
	DefaultGaitCap = 10
)

// EventParams filters ListEvents.
type EventParams struct {
	Label  string // substring match
	Method model.Method
	Camera string
	Since  time.Time
	Unsent bool
	Limit  int
}

// EmbeddingParams filters ListEmbeddings.
type EmbeddingParams struct {
	Modality model.Modality
	UserID   int64 // 0 means all users
	Limit    int
}

// Store defines the identity repository.
type Store interface {
	// AddUser creates a user. Names are unique.
	AddUser(ctx context.Context, name string) (*model.UserIdentity, error)

	// GetUserByName looks a user up by exact name.
	GetUserByName(ctx context.Context, name string) (*model.UserIdentity, error)

	// ListUsers returns every user ordered by id.
	ListUsers(ctx context.Context) ([]model.UserIdentity, error)

	// RemoveUser deletes a user and all of their embeddings.
	RemoveUser(ctx context.Context, id int64) error

	// AddReIDEmbedding stores a body embedding, evicting the user's oldest beyond the cap.
	AddReIDEmbedding(ctx context.Context, userID int64, v embedding.Vector, confidence float64) (int64, error)

	// AddGaitEmbedding stores a gait embedding, evicting the user's oldest beyond the cap.
	AddGaitEmbedding(ctx context.Context, userID int64, v embedding.Vector, confidence float64) (int64, error)

	// AddFaceEncoding stores a face encoding. Face encodings are not capped.
	AddFaceEncoding(ctx context.Context, userID int64, v embedding.Vector) (int64, error)

	// FaceEmbeddingsWithNames returns every face encoding joined with its user's name.
	FaceEmbeddingsWithNames(ctx context.Context) ([]model.EmbeddingRecord, error)

	// ReIDEmbeddingsWithNames returns every body embedding joined with its user's name.
	ReIDEmbeddingsWithNames(ctx context.Context) ([]model.EmbeddingRecord, error)

	// GaitEmbeddingsWithNames returns every gait embedding joined with its user's name.
	GaitEmbeddingsWithNames(ctx context.Context) ([]model.EmbeddingRecord, error)

	// ReIDEmbeddingCounts returns the number of body embeddings per user.
	ReIDEmbeddingCounts(ctx context.Context) (map[int64]int, error)

	// AddEvent records a detection event.
	AddEvent(ctx context.Context, e model.Event) (*model.Event, error)

	// ListEvents returns events newest first.
	ListEvents(ctx context.Context, p EventParams) ([]model.Event, error)

	// Close closes the store.
	Close() error
}
