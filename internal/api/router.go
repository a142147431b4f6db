// Package api serves the operational HTTP surface: health, metrics, status
// and frame ingest for cameras that push detections.
package api

import (
	"bytes"
	"context"
	"image"
	_ "image/jpeg" // register decoders
	_ "image/png"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/rcliao/watchpost/internal/model"
	"github.com/rcliao/watchpost/internal/pipeline"
)

// maxFrameBytes bounds the request body of a frame upload.
const maxFrameBytes = 16 << 20

// Deps are the collaborators the router serves.
type Deps struct {
	Pipelines       map[string]*pipeline.Pipeline
	Status          func(ctx context.Context) (any, error)
	RateLimit       int
	RateLimitWindow time.Duration
	Logger          zerolog.Logger
}

// FrameRequest is the body of POST /v1/cameras/{camera}/frames. Image holds
// base64-encoded JPEG or PNG bytes.
type FrameRequest struct {
	Image      []byte            `json:"image"`
	Detections []model.Detection `json:"detections"`
}

// FrameResponse carries the resolved detections and the events emitted.
type FrameResponse struct {
	Camera     string            `json:"camera"`
	Detections []model.Detection `json:"detections"`
	Events     []model.Event     `json:"events"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type handler struct {
	deps Deps
}

// NewRouter builds the chi router.
func NewRouter(d Deps) http.Handler {
	h := &handler{deps: d}

	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", h.health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		if d.RateLimit > 0 && d.RateLimitWindow > 0 {
			r.Use(httprate.LimitByIP(d.RateLimit, d.RateLimitWindow))
		}
		r.Get("/status", h.status)
		r.Post("/cameras/{camera}/frames", h.frame)
	})
	return r
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, h.deps.Logger, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) status(w http.ResponseWriter, r *http.Request) {
	if h.deps.Status == nil {
		writeJSON(w, h.deps.Logger, http.StatusOK, map[string]any{})
		return
	}
	st, err := h.deps.Status(r.Context())
	if err != nil {
		h.deps.Logger.Error().Err(err).Msg("status")
		writeError(w, h.deps.Logger, http.StatusInternalServerError, "status unavailable")
		return
	}
	writeJSON(w, h.deps.Logger, http.StatusOK, st)
}

func (h *handler) frame(w http.ResponseWriter, r *http.Request) {
	camera := chi.URLParam(r, "camera")
	p, ok := h.deps.Pipelines[camera]
	if !ok {
		writeError(w, h.deps.Logger, http.StatusNotFound, "unknown camera: "+camera)
		return
	}

	var req FrameRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxFrameBytes)).Decode(&req); err != nil {
		writeError(w, h.deps.Logger, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Image) == 0 {
		writeError(w, h.deps.Logger, http.StatusBadRequest, "image is required")
		return
	}
	frame, _, err := image.Decode(bytes.NewReader(req.Image))
	if err != nil {
		writeError(w, h.deps.Logger, http.StatusBadRequest, "decode image: "+err.Error())
		return
	}

	events := p.ProcessFrame(r.Context(), frame, req.Detections)
	if req.Detections == nil {
		req.Detections = []model.Detection{}
	}
	if events == nil {
		events = []model.Event{}
	}
	writeJSON(w, h.deps.Logger, http.StatusOK, FrameResponse{
		Camera:     camera,
		Detections: req.Detections,
		Events:     events,
	})
}

func writeJSON(w http.ResponseWriter, log zerolog.Logger, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("marshal response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		log.Debug().Err(err).Msg("write response")
	}
}

func writeError(w http.ResponseWriter, log zerolog.Logger, status int, msg string) {
	writeJSON(w, log, status, errorResponse{Error: msg})
}
