package api

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/watchpost/internal/model"
	"github.com/rcliao/watchpost/internal/pipeline"
)

type nameResolver struct {
	frames int
}

func (r *nameResolver) Resolve(_ context.Context, frame image.Image, det *model.Detection) {
	r.frames++
	if frame.Bounds().Dx() == 0 {
		return
	}
	det.Label = "alice"
	det.IsKnown = true
	det.IdentificationMethod = model.MethodFace
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func newRouter(t *testing.T, res pipeline.Resolver) http.Handler {
	t.Helper()
	log := zerolog.New(io.Discard)
	p := pipeline.New(pipeline.Config{CameraName: "porch"}, res, nil, log)
	return NewRouter(Deps{
		Pipelines: map[string]*pipeline.Pipeline{"porch": p},
		Status: func(context.Context) (any, error) {
			return map[string]int{"pending": 3}, nil
		},
		Logger: log,
	})
}

func TestHealth(t *testing.T) {
	h := newRouter(t, &nameResolver{})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	h := newRouter(t, &nameResolver{})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStatus(t *testing.T) {
	h := newRouter(t, &nameResolver{})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/status", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"pending":3}`, rec.Body.String())
}

func TestStatusError(t *testing.T) {
	log := zerolog.New(io.Discard)
	h := NewRouter(Deps{
		Status: func(context.Context) (any, error) { return nil, errors.New("db closed") },
		Logger: log,
	})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/status", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestFrameResolvesDetections(t *testing.T) {
	res := &nameResolver{}
	h := newRouter(t, res)

	body, err := json.Marshal(FrameRequest{
		Image: pngBytes(t),
		Detections: []model.Detection{
			{Type: model.Person, Box: model.BBox{X1: 0, Y1: 0, X2: 8, Y2: 8}, Confidence: 0.9, TrackID: 4},
			{Type: model.Cat, Box: model.BBox{X1: 1, Y1: 1, X2: 4, Y2: 4}, Confidence: 0.7, TrackID: model.NoTrack},
		},
	})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/cameras/porch/frames", bytes.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp FrameResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "porch", resp.Camera)
	require.Len(t, resp.Detections, 2)
	assert.Equal(t, "alice", resp.Detections[0].Label)
	assert.Equal(t, "porch", resp.Detections[0].CameraName)
	assert.Equal(t, "cat", resp.Detections[1].Label)
	assert.Len(t, resp.Events, 2)
	assert.Equal(t, 1, res.frames)
}

func TestFrameUnknownCamera(t *testing.T) {
	h := newRouter(t, &nameResolver{})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/cameras/garage/frames", bytes.NewReader([]byte(`{}`))))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFrameBadRequests(t *testing.T) {
	h := newRouter(t, &nameResolver{})
	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"image":`},
		{"missing image", `{"detections":[]}`},
		{"not an image", `{"image":"aGVsbG8="}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/cameras/porch/frames", bytes.NewReader([]byte(tt.body))))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestRateLimit(t *testing.T) {
	h := NewRouter(Deps{
		RateLimit:       1,
		RateLimitWindow: time.Minute,
		Logger:          zerolog.New(io.Discard),
	})
	first := httptest.NewRecorder()
	h.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/v1/status", nil))
	assert.Equal(t, http.StatusOK, first.Code)

	second := httptest.NewRecorder()
	h.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/v1/status", nil))
	assert.Equal(t, http.StatusTooManyRequests, second.Code)

	health := httptest.NewRecorder()
	h.ServeHTTP(health, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, health.Code)
}
