package enroll

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Defaults for body re-id sampling.
const (
	DefaultSampleInterval = 2 * time.Second
	DefaultMaxSamples     = 20
)

type sampleState struct {
	count   int
	limiter *rate.Limiter
	seq     uint64
}

// Slot is a sample reservation returned by TryAcquire.
type Slot struct {
	userID int64
	seq    uint64
}

// SamplingGate decides whether a new body sample may be captured for a user.
// A user may contribute at most max samples, no closer together than interval.
type SamplingGate struct {
	mu       sync.Mutex
	interval time.Duration
	max      int
	now      func() time.Time
	users    map[int64]*sampleState
}

// NewSamplingGate creates a gate. Non-positive arguments fall back to the defaults.
func NewSamplingGate(interval time.Duration, max int) *SamplingGate {
	if interval <= 0 {
		interval = DefaultSampleInterval
	}
	if max <= 0 {
		max = DefaultMaxSamples
	}
	return &SamplingGate{
		interval: interval,
		max:      max,
		now:      time.Now,
		users:    make(map[int64]*sampleState),
	}
}

// SetClock replaces the time source. Tests only.
func (g *SamplingGate) SetClock(now func() time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.now = now
}

func (g *SamplingGate) state(userID int64) *sampleState {
	st, ok := g.users[userID]
	if !ok {
		st = &sampleState{limiter: g.newLimiter()}
		g.users[userID] = st
	}
	return st
}

func (g *SamplingGate) newLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Every(g.interval), 1)
}

// Ready reports whether a sample for userID would be accepted now, without
// reserving it.
func (g *SamplingGate) Ready(userID int64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	st := g.state(userID)
	if st.count >= g.max {
		return false
	}
	return st.limiter.TokensAt(g.now()) >= 1
}

// TryAcquire reserves a sample for userID. The cap check, the interval check
// and the count increment happen under one lock, so concurrent callers for
// the same user cannot both pass. Release the slot if the sample is not
// captured after all.
func (g *SamplingGate) TryAcquire(userID int64) (Slot, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	st := g.state(userID)
	if st.count >= g.max || !st.limiter.AllowN(g.now(), 1) {
		return Slot{}, false
	}
	st.count++
	st.seq++
	return Slot{userID: userID, seq: st.seq}, true
}

// Release returns a slot taken by TryAcquire. The interval is restored only
// when no later slot was taken for the same user.
func (g *SamplingGate) Release(slot Slot) {
	g.mu.Lock()
	defer g.mu.Unlock()
	st, ok := g.users[slot.userID]
	if !ok || slot.seq == 0 {
		return
	}
	if st.count > 0 {
		st.count--
	}
	if st.seq == slot.seq {
		// The limiter was full when the slot was taken (burst 1).
		st.limiter = g.newLimiter()
	}
}

// Seed sets the sample counts already persisted, typically at startup.
func (g *SamplingGate) Seed(counts map[int64]int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for userID, n := range counts {
		g.state(userID).count = n
	}
}

// Count returns the samples recorded for userID.
func (g *SamplingGate) Count(userID int64) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if st, ok := g.users[userID]; ok {
		return st.count
	}
	return 0
}

// Forget drops all sampling state for userID.
func (g *SamplingGate) Forget(userID int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.users, userID)
}
