package embedding

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/watchpost/internal/model"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name     string
		a, b     Vector
		expected float64
		delta    float64
	}{
		{"identical", Vector{1, 0, 0}, Vector{1, 0, 0}, 1.0, 0.001},
		{"orthogonal", Vector{1, 0, 0}, Vector{0, 1, 0}, 0.0, 0.001},
		{"opposite clamps to zero", Vector{1, 0, 0}, Vector{-1, 0, 0}, 0.0, 0},
		{"similar", Vector{1, 1, 0}, Vector{1, 0, 0}, 0.707, 0.01},
		{"empty", Vector{}, Vector{}, 0.0, 0},
		{"different lengths", Vector{1, 0}, Vector{1, 0, 0}, 0.0, 0},
		{"zero vector", Vector{0, 0, 0}, Vector{1, 0, 0}, 0.0, 0},
		{"both zero", Vector{0, 0}, Vector{0, 0}, 0.0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CosineSimilarity(tt.a, tt.b)
			assert.InDelta(t, tt.expected, got, tt.delta)
		})
	}
}

func TestCosineSimilaritySymmetricAndBounded(t *testing.T) {
	pairs := [][2]Vector{
		{{0.1, -0.7, 3.2, 1e-6}, {5, 0.25, -1, 42}},
		{{1e30, -1e30, 7}, {3e-30, 2, -9}},
		{{-1, -2, -3}, {1, 2, 3}},
		{{0.3, 0.3, 0.3}, {0.30001, 0.29999, 0.3}},
	}
	for _, p := range pairs {
		ab := CosineSimilarity(p[0], p[1])
		ba := CosineSimilarity(p[1], p[0])
		assert.Equal(t, math.Float64bits(ab), math.Float64bits(ba))
		assert.GreaterOrEqual(t, ab, 0.0)
		assert.LessOrEqual(t, ab, 1.0)
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	dims := []int{1, 3, 128, 256, 512, 1280}
	for _, d := range dims {
		v := make(Vector, d)
		for i := range v {
			v[i] = float32(i%7-3) * float32(math.Pow(10, float64(i%9-4)))
		}
		v[0] = math.MaxFloat32
		if d > 1 {
			v[1] = math.SmallestNonzeroFloat32
		}
		got, err := Deserialize(Serialize(v), d)
		require.NoError(t, err)
		require.Len(t, got, d)
		for i := range v {
			assert.Equal(t, math.Float32bits(v[i]), math.Float32bits(got[i]), "dim %d index %d", d, i)
		}
	}
}

func TestDeserializeDimensionMismatch(t *testing.T) {
	_, err := Deserialize(Serialize(Vector{1, 2, 3}), 256)
	assert.ErrorIs(t, err, ErrDimension)

	_, err = Deserialize([]byte{1, 2, 3}, 0)
	assert.ErrorIs(t, err, ErrDimension)

	v, err := Deserialize(Serialize(Vector{1, 2}), 0)
	require.NoError(t, err)
	assert.Equal(t, Vector{1, 2}, v)
}

func TestNormalize(t *testing.T) {
	n := Normalize(Vector{3, 4})
	assert.InDelta(t, 0.6, n[0], 1e-6)
	assert.InDelta(t, 0.8, n[1], 1e-6)
	assert.Equal(t, Vector{0, 0}, Normalize(Vector{0, 0}))
}

func TestHTTPBackend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/reid/embed":
			json.NewEncoder(w).Encode(embedResponse{Embedding: []float32{0.5, 0.5}})
		case "/v1/gait/embed":
			var req gaitRequest
			json.NewDecoder(r.Body).Decode(&req)
			json.NewEncoder(w).Encode(embedResponse{Embedding: []float32{float32(len(req.Silhouettes))}})
		case "/v1/face/embed":
			var req bodyRequest
			json.NewDecoder(r.Body).Decode(&req)
			raw, _ := base64.StdEncoding.DecodeString(req.Image)
			crop, err := png.Decode(bytes.NewReader(raw))
			if err != nil || crop.Bounds().Dx() != 4 {
				http.Error(w, "want the 4px crop", http.StatusBadRequest)
				return
			}
			json.NewEncoder(w).Encode(model.FaceObservation{FaceVisible: true, FaceBox: &model.BBox{X1: 1, Y1: 1, X2: 3, Y2: 3}, Embedding: []float32{1, 0}})
		default:
			http.Error(w, "nope", http.StatusNotFound)
		}
	}))
	defer srv.Close()

	b := NewHTTPBackend(srv.URL, 0)
	ctx := context.Background()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.White)

	body, err := b.ExtractBody(ctx, img)
	require.NoError(t, err)
	assert.Equal(t, Vector{0.5, 0.5}, body)

	seq := []*image.Gray{image.NewGray(image.Rect(0, 0, 64, 64)), image.NewGray(image.Rect(0, 0, 64, 64))}
	gait, err := b.EmbedSequence(ctx, seq)
	require.NoError(t, err)
	assert.Equal(t, Vector{2}, gait)

	face, err := b.EmbedFace(ctx, img)
	require.NoError(t, err)
	assert.True(t, face.FaceVisible)
	assert.Equal(t, []float32{1, 0}, face.Embedding)
	assert.Equal(t, model.BBox{X1: 1, Y1: 1, X2: 3, Y2: 3}, *face.FaceBox)
}

func TestHTTPBackendError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	b := NewHTTPBackend(srv.URL, 0)
	_, err := b.ExtractBody(context.Background(), image.NewGray(image.Rect(0, 0, 2, 2)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestCropPerson(t *testing.T) {
	frame := image.NewRGBA(image.Rect(0, 0, 100, 80))
	crop := CropPerson(frame, model.BBox{X1: 20, Y1: 20, X2: 40, Y2: 60}, 10)
	require.NotNil(t, crop)
	assert.Equal(t, image.Rect(0, 0, 40, 60), crop.Bounds())

	clipped := CropPerson(frame, model.BBox{X1: 95, Y1: 75, X2: 120, Y2: 90}, 10)
	require.NotNil(t, clipped)
	assert.Equal(t, image.Rect(0, 0, 15, 15), clipped.Bounds())

	assert.Nil(t, CropPerson(frame, model.BBox{X1: 40, Y1: 10, X2: 20, Y2: 30}, 10))
	assert.Nil(t, CropPerson(frame, model.BBox{X1: 300, Y1: 300, X2: 400, Y2: 400}, 10))
	assert.Nil(t, CropPerson(nil, model.BBox{X2: 1, Y2: 1}, 0))
}

func TestCropRect(t *testing.T) {
	frame := image.NewRGBA(image.Rect(0, 0, 100, 80))
	assert.Equal(t, image.Rect(10, 10, 50, 70), CropRect(frame, model.BBox{X1: 20, Y1: 20, X2: 40, Y2: 60}, 10))
	assert.Equal(t, image.Rect(85, 65, 100, 80), CropRect(frame, model.BBox{X1: 95, Y1: 75, X2: 120, Y2: 90}, 10))
	assert.True(t, CropRect(nil, model.BBox{X2: 1, Y2: 1}, 0).Empty())
}
