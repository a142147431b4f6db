// Package pipeline runs identity resolution and event logging for one camera.
package pipeline

import (
	"context"
	"image"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rcliao/watchpost/internal/model"
)

// DefaultEventCooldown is the minimum gap between two events with the same
// camera and label.
const DefaultEventCooldown = 2 * time.Second

// trackNamespace separates local tracker ids between cameras.
const trackNamespace = 100000

// GlobalTrackID maps a camera-local tracker id into a namespace shared by all
// cameras. Negative ids (no track) are returned unchanged.
func GlobalTrackID(camera, local int) int {
	if local < 0 {
		return local
	}
	return camera*trackNamespace + local
}

// Resolver identifies a person detection in place.
type Resolver interface {
	Resolve(ctx context.Context, frame image.Image, det *model.Detection)
}

// EventSink accepts events for asynchronous storage.
type EventSink interface {
	EnqueueEvent(e model.Event, frame image.Image) error
}

// Config configures a camera pipeline.
type Config struct {
	CameraName    string
	CameraIndex   int
	EventCooldown time.Duration
}

// Pipeline processes the frames of one camera, sequentially. Concurrent
// ProcessFrame calls for the same camera are serialized.
type Pipeline struct {
	cfg      Config
	resolver Resolver
	sink     EventSink
	log      zerolog.Logger

	frameMu sync.Mutex

	mu        sync.Mutex
	lastSeen  map[string]time.Time
	lastPrune time.Time
	now       func() time.Time
}

// New creates a pipeline for one camera.
func New(cfg Config, resolver Resolver, sink EventSink, log zerolog.Logger) *Pipeline {
	if cfg.EventCooldown <= 0 {
		cfg.EventCooldown = DefaultEventCooldown
	}
	return &Pipeline{
		cfg:      cfg,
		resolver: resolver,
		sink:     sink,
		log:      log.With().Str("camera", cfg.CameraName).Logger(),
		lastSeen: make(map[string]time.Time),
		now:      time.Now,
	}
}

// SetClock replaces the time source. Tests only.
func (p *Pipeline) SetClock(now func() time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.now = now
}

// ProcessFrame resolves every person in dets, then logs an event for each
// detection whose camera and label are outside the cooldown window. Tracker
// ids in dets are rewritten to global ids. It returns the events emitted.
func (p *Pipeline) ProcessFrame(ctx context.Context, frame image.Image, dets []model.Detection) []model.Event {
	p.frameMu.Lock()
	defer p.frameMu.Unlock()

	for i := range dets {
		det := &dets[i]
		det.CameraName = p.cfg.CameraName
		det.TrackID = GlobalTrackID(p.cfg.CameraIndex, det.TrackID)
		if det.Type != model.Person {
			if det.Label == "" {
				det.Label = string(det.Type)
			}
			continue
		}
		p.resolver.Resolve(ctx, frame, det)
	}

	var events []model.Event
	for _, det := range dets {
		if !p.shouldLog(det.Label) {
			continue
		}
		e := model.Event{
			Type:                 string(det.Type),
			Label:                det.Label,
			Confidence:           det.Confidence,
			IdentificationMethod: det.IdentificationMethod,
			CameraName:           p.cfg.CameraName,
			CreatedAt:            p.clock().UTC(),
		}
		if p.sink != nil {
			if err := p.sink.EnqueueEvent(e, frame); err != nil {
				p.log.Error().Err(err).Str("label", det.Label).Msg("queue event")
				continue
			}
		}
		events = append(events, e)
	}
	return events
}

func (p *Pipeline) clock() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.now()
}

// shouldLog reports whether label is outside its cooldown and, if so,
// restarts the cooldown. At most once per cooldown it also forgets labels
// whose cooldown has expired, so the map stays bounded by the labels seen
// within the last two windows.
func (p *Pipeline) shouldLog(label string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	if now.Sub(p.lastPrune) >= p.cfg.EventCooldown {
		for l, last := range p.lastSeen {
			if now.Sub(last) >= p.cfg.EventCooldown {
				delete(p.lastSeen, l)
			}
		}
		p.lastPrune = now
	}
	if last, ok := p.lastSeen[label]; ok && now.Sub(last) < p.cfg.EventCooldown {
		return false
	}
	p.lastSeen[label] = now
	return true
}

// CooldownSize returns the number of labels currently tracked for cooldown.
func (p *Pipeline) CooldownSize() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.lastSeen)
}

// Camera returns the camera name.
func (p *Pipeline) Camera() string { return p.cfg.CameraName }
