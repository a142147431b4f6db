// Package model defines the core detection and identity data types.
package model

import (
	"image"
	"time"
)

// DetectionType is the object class reported by the detector.
type DetectionType string

const (
	Person      DetectionType = "person"
	Cat         DetectionType = "cat"
	Dog         DetectionType = "dog"
	UnknownType DetectionType = "unknown"
)

// Method records which recognition signal identified a person.
type Method string

const (
	MethodNone Method = ""
	MethodFace Method = "face"
	MethodReID Method = "reid"
	MethodGait Method = "gait"
)

// UnknownLabel is the label given to a person no method could identify.
const UnknownLabel = "Unknown"

// NoTrack marks a detection without a stable tracker id.
const NoTrack = -1

// BBox is an axis-aligned box in pixel coordinates (x1,y1 inclusive, x2,y2 exclusive).
type BBox struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// Rect converts the box to an image.Rectangle.
func (b BBox) Rect() image.Rectangle {
	return image.Rect(b.X1, b.Y1, b.X2, b.Y2)
}

// Add translates the box by p.
func (b BBox) Add(p image.Point) BBox {
	return BBox{X1: b.X1 + p.X, Y1: b.Y1 + p.Y, X2: b.X2 + p.X, Y2: b.Y2 + p.Y}
}

// Valid reports whether the box has positive width and height.
func (b BBox) Valid() bool {
	return b.X2 > b.X1 && b.Y2 > b.Y1
}

// Detection is one detected object in one frame. The resolver mutates the
// identity fields in place.
type Detection struct {
	Type                 DetectionType `json:"type"`
	Box                  BBox          `json:"bbox"`
	Confidence           float64       `json:"confidence"`
	Label                string        `json:"label"`
	IsKnown              bool          `json:"is_known"`
	FaceVisible          bool          `json:"face_visible"`
	FaceBox              *BBox         `json:"face_bbox,omitempty"`
	CameraName           string        `json:"camera_name"`
	TrackID              int           `json:"track_id"`
	IdentificationMethod Method        `json:"identification_method"`
}

// Tracked reports whether the detection carries a stable tracker id.
func (d *Detection) Tracked() bool {
	return d.TrackID >= 0
}

// UserIdentity is a known person as stored in the users table.
type UserIdentity struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Match is the outcome of a successful vector comparison.
type Match struct {
	UserID      int64   `json:"user_id"`
	Name        string  `json:"name"`
	Confidence  float64 `json:"confidence"`
	EmbeddingID int64   `json:"embedding_id"`
}

// Modality distinguishes the persisted embedding kinds.
type Modality string

const (
	ModalityFace Modality = "face"
	ModalityReID Modality = "reid"
	ModalityGait Modality = "gait"
)

// ValidModalities are the accepted modality names.
var ValidModalities = map[Modality]bool{
	ModalityFace: true,
	ModalityReID: true,
	ModalityGait: true,
}

// EmbeddingRecord is one stored embedding joined with its owner's name.
// ID is zero for vectors inserted in memory but not yet reloaded from disk.
type EmbeddingRecord struct {
	ID         int64     `json:"id"`
	UserID     int64     `json:"user_id"`
	Name       string    `json:"name"`
	Vector     []float32 `json:"vector"`
	Confidence float64   `json:"confidence,omitempty"`
	CapturedAt time.Time `json:"captured_at,omitempty"`
}

// Event is a logged detection.
type Event struct {
	ID                   string    `json:"id"`
	Type                 string    `json:"event_type"`
	Label                string    `json:"label"`
	Confidence           float64   `json:"confidence"`
	SnapshotPath         string    `json:"snapshot_path,omitempty"`
	IdentificationMethod Method    `json:"identification_method"`
	CameraName           string    `json:"camera_name,omitempty"`
	Sent                 bool      `json:"sent"`
	CreatedAt            time.Time `json:"created_at"`
}

// FaceObservation is what a face embedder reports for one person crop.
// FaceBox is in crop coordinates. Embedding is empty when no face was found.
type FaceObservation struct {
	FaceVisible bool      `json:"face_visible"`
	FaceBox     *BBox     `json:"face_bbox,omitempty"`
	Embedding   []float32 `json:"embedding,omitempty"`
}
