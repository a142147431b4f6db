package embedding

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/png"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/rcliao/watchpost/internal/model"
)

// --- Inference sidecar ---

// HTTPBackend talks to a local inference service that hosts the face, body
// re-id and gait networks. It implements BodyExtractor, FaceEmbedder and
// gait.Embedder.
type HTTPBackend struct {
	baseURL string
	client  *http.Client
}

type bodyRequest struct {
	Image string `json:"image"`
}

type gaitRequest struct {
	Width       int      `json:"width"`
	Height      int      `json:"height"`
	Silhouettes []string `json:"silhouettes"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// NewHTTPBackend creates a backend client for the inference service at baseURL.
func NewHTTPBackend(baseURL string, timeout time.Duration) *HTTPBackend {
	if baseURL == "" {
		baseURL = "http://localhost:8765"
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPBackend{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// ExtractBody returns the body appearance embedding of a person crop.
func (b *HTTPBackend) ExtractBody(ctx context.Context, crop image.Image) (Vector, error) {
	enc, err := encodePNG(crop)
	if err != nil {
		return nil, err
	}
	var result embedResponse
	if err := b.post(ctx, "/v1/reid/embed", bodyRequest{Image: enc}, &result); err != nil {
		return nil, err
	}
	if len(result.Embedding) == 0 {
		return nil, nil
	}
	return result.Embedding, nil
}

// EmbedSequence returns the gait embedding of a silhouette sequence.
func (b *HTTPBackend) EmbedSequence(ctx context.Context, seq []*image.Gray) (Vector, error) {
	if len(seq) == 0 {
		return nil, fmt.Errorf("empty silhouette sequence")
	}
	bounds := seq[0].Bounds()
	req := gaitRequest{Width: bounds.Dx(), Height: bounds.Dy()}
	for _, s := range seq {
		req.Silhouettes = append(req.Silhouettes, base64.StdEncoding.EncodeToString(s.Pix))
	}
	var result embedResponse
	if err := b.post(ctx, "/v1/gait/embed", req, &result); err != nil {
		return nil, err
	}
	if len(result.Embedding) == 0 {
		return nil, fmt.Errorf("no gait embedding returned")
	}
	return result.Embedding, nil
}

// EmbedFace returns the embedding and box of the largest face in a person
// crop. Only the crop is sent, never the whole frame.
func (b *HTTPBackend) EmbedFace(ctx context.Context, crop image.Image) (model.FaceObservation, error) {
	enc, err := encodePNG(crop)
	if err != nil {
		return model.FaceObservation{}, err
	}
	var result model.FaceObservation
	if err := b.post(ctx, "/v1/face/embed", bodyRequest{Image: enc}, &result); err != nil {
		return model.FaceObservation{}, err
	}
	return result, nil
}

func (b *HTTPBackend) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, "POST", b.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("inference request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("inference error %d: %s", resp.StatusCode, string(msg))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func encodePNG(img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("encode image: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
