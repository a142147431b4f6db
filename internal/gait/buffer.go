package gait

import (
	"image"
	"sync"
	"time"
)

type sequence struct {
	frames     []*image.Gray
	lastUpdate time.Time
}

// Buffers accumulates silhouettes per integer key (a track id or an
// enrollment key) until a full sequence is available.
//
// A buffer keeps growing past the sequence length until it is drained with
// Take; Add reports true only on the append that reaches the length exactly.
type Buffers struct {
	mu         sync.Mutex
	buffers    map[int]*sequence
	length     int
	staleAfter time.Duration
	now        func() time.Time
}

// NewBuffers creates a buffer manager. Non-positive arguments fall back to
// DefaultSequenceLength and DefaultStaleAfter.
func NewBuffers(length int, staleAfter time.Duration) *Buffers {
	if length <= 0 {
		length = DefaultSequenceLength
	}
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return &Buffers{
		buffers:    make(map[int]*sequence),
		length:     length,
		staleAfter: staleAfter,
		now:        time.Now,
	}
}

// SetClock replaces the time source. Tests only.
func (b *Buffers) SetClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}

// SequenceLength returns the number of frames that make a full sequence.
func (b *Buffers) SequenceLength() int { return b.length }

// Add appends frame to the buffer for key and reports whether the buffer
// now holds exactly SequenceLength frames.
func (b *Buffers) Add(key int, frame *image.Gray) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	seq, ok := b.buffers[key]
	if !ok {
		seq = &sequence{}
		b.buffers[key] = seq
	}
	seq.frames = append(seq.frames, frame)
	seq.lastUpdate = b.now()
	return len(seq.frames) == b.length
}

// Take returns the first SequenceLength frames for key and removes the
// buffer. It returns false, leaving the buffer untouched, when the key is
// unknown or not yet full.
func (b *Buffers) Take(key int) ([]*image.Gray, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	seq, ok := b.buffers[key]
	if !ok || len(seq.frames) < b.length {
		return nil, false
	}
	out := make([]*image.Gray, b.length)
	copy(out, seq.frames[:b.length])
	delete(b.buffers, key)
	return out, true
}

// Size returns the number of frames buffered for key.
func (b *Buffers) Size(key int) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if seq, ok := b.buffers[key]; ok {
		return len(seq.frames)
	}
	return 0
}

// Keys returns the number of live buffers.
func (b *Buffers) Keys() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buffers)
}

// CleanupStale drops buffers not touched for longer than maxAge and returns
// the removed keys. A non-positive maxAge uses the configured stale timeout.
func (b *Buffers) CleanupStale(maxAge time.Duration) []int {
	if maxAge <= 0 {
		maxAge = b.staleAfter
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	var removed []int
	for key, seq := range b.buffers {
		if now.Sub(seq.lastUpdate) > maxAge {
			delete(b.buffers, key)
			removed = append(removed, key)
		}
	}
	return removed
}

// Clear drops every buffer.
func (b *Buffers) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buffers = make(map[int]*sequence)
}
