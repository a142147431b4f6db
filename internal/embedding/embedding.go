// Package embedding provides the vector type shared by the body re-id and
// gait modalities, similarity scoring and BLOB serialization.
package embedding

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"math"

	"golang.org/x/image/draw"
	"gonum.org/v1/gonum/floats"

	"github.com/rcliao/watchpost/internal/model"
)

// Vector is a float32 embedding vector.
type Vector = []float32

// ErrDimension is returned when a blob does not hold the expected number of floats.
var ErrDimension = errors.New("embedding dimension mismatch")

// BodyExtractor turns a cropped person image into a body appearance vector.
// A nil vector with a nil error means nothing usable was found.
type BodyExtractor interface {
	ExtractBody(ctx context.Context, crop image.Image) (Vector, error)
}

// FaceEmbedder locates the largest face in a cropped person image and
// returns its embedding. Matching against known faces is done by the caller.
type FaceEmbedder interface {
	EmbedFace(ctx context.Context, crop image.Image) (model.FaceObservation, error)
}

// CosineSimilarity computes cosine similarity between two vectors, clamped
// into [0,1]. Mismatched lengths and zero vectors score 0. The result is
// symmetric bit for bit.
func CosineSimilarity(a, b Vector) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	fa, fb := widen(a), widen(b)
	normA := floats.Norm(fa, 2)
	normB := floats.Norm(fb, 2)
	if normA == 0 || normB == 0 {
		return 0
	}
	sim := floats.Dot(fa, fb) / (normA * normB)
	switch {
	case math.IsNaN(sim), sim <= 0:
		return 0
	case sim >= 1:
		return 1
	}
	return sim
}

// Normalize returns a unit-length copy of v. Zero vectors are copied unchanged.
func Normalize(v Vector) Vector {
	out := make(Vector, len(v))
	copy(out, v)
	n := floats.Norm(widen(v), 2)
	if n == 0 {
		return out
	}
	for i := range out {
		out[i] = float32(float64(out[i]) / n)
	}
	return out
}

// Clone returns an independent copy of v.
func Clone(v Vector) Vector {
	if v == nil {
		return nil
	}
	out := make(Vector, len(v))
	copy(out, v)
	return out
}

func widen(v Vector) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

// Serialize encodes v as little-endian float32 values for BLOB storage.
func Serialize(v Vector) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(x))
	}
	return buf
}

// Deserialize decodes a blob written by Serialize. expectedDim of 0 accepts
// any whole number of floats.
func Deserialize(blob []byte, expectedDim int) (Vector, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a whole number of float32 values", ErrDimension, len(blob))
	}
	if expectedDim > 0 && len(blob) != expectedDim*4 {
		return nil, fmt.Errorf("%w: got %d bytes, want %d for %d dims", ErrDimension, len(blob), expectedDim*4, expectedDim)
	}
	v := make(Vector, len(blob)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[4*i:]))
	}
	return v, nil
}

// DefaultCropPadding is the margin added around a person box before cropping.
const DefaultCropPadding = 10

// CropRect is box grown by padding on every side and clipped to the frame.
// It is empty for a nil frame or an invalid box.
func CropRect(frame image.Image, box model.BBox, padding int) image.Rectangle {
	if frame == nil || !box.Valid() {
		return image.Rectangle{}
	}
	return image.Rect(box.X1-padding, box.Y1-padding, box.X2+padding, box.Y2+padding).Intersect(frame.Bounds())
}

// CropPerson copies CropRect out of frame into an image anchored at (0,0).
// It returns nil when nothing remains.
func CropPerson(frame image.Image, box model.BBox, padding int) image.Image {
	r := CropRect(frame, box, padding)
	if r.Empty() {
		return nil
	}
	out := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(out, out.Bounds(), frame, r.Min, draw.Src)
	return out
}
