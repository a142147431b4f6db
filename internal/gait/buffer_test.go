package gait

import (
	"image"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func frame() *image.Gray {
	return image.NewGray(image.Rect(0, 0, SilhouetteSize, SilhouetteSize))
}

func TestBuffersFillCycle(t *testing.T) {
	for _, length := range []int{1, 5, 30} {
		b := NewBuffers(length, 0)
		for i := 1; i < length; i++ {
			assert.False(t, b.Add(7, frame()), "length %d call %d", length, i)
			_, ok := b.Take(7)
			assert.False(t, ok, "Take before full must yield nothing")
		}
		assert.True(t, b.Add(7, frame()), "length %d final call", length)

		seq, ok := b.Take(7)
		require.True(t, ok)
		assert.Len(t, seq, length)
		assert.Equal(t, 0, b.Size(7))
	}
}

func TestBuffersDefaultLength(t *testing.T) {
	assert.Equal(t, DefaultSequenceLength, NewBuffers(0, 0).SequenceLength())
	assert.Equal(t, 12, NewBuffers(12, 0).SequenceLength())
}

func TestBuffersOverflowKeepsGrowing(t *testing.T) {
	b := NewBuffers(3, 0)
	first := frame()
	b.Add(1, first)
	b.Add(1, frame())
	assert.True(t, b.Add(1, frame()))
	assert.False(t, b.Add(1, frame()), "past the length the fill signal is not repeated")
	assert.Equal(t, 4, b.Size(1))

	seq, ok := b.Take(1)
	require.True(t, ok)
	assert.Len(t, seq, 3)
	assert.Same(t, first, seq[0], "sequence keeps insertion order")
	assert.Equal(t, 0, b.Size(1))
}

func TestBuffersUnknownKey(t *testing.T) {
	b := NewBuffers(3, 0)
	seq, ok := b.Take(99)
	assert.False(t, ok)
	assert.Nil(t, seq)
	assert.Equal(t, 0, b.Size(99))
}

func TestBuffersKeysIndependent(t *testing.T) {
	b := NewBuffers(30, 0)
	b.Add(2, frame())
	for i := 0; i < 10; i++ {
		b.Add(1, frame())
		assert.Equal(t, 1, b.Size(2))
	}
	b.Add(2, frame())
	assert.Equal(t, 10, b.Size(1))
	assert.Equal(t, 2, b.Size(2))
}

func TestBuffersConcurrentDistinctKeys(t *testing.T) {
	b := NewBuffers(50, 0)
	var wg sync.WaitGroup
	for key := 0; key < 8; key++ {
		wg.Add(1)
		go func(key int) {
			defer wg.Done()
			for i := 0; i < key+1; i++ {
				b.Add(key, frame())
			}
		}(key)
	}
	wg.Wait()
	for key := 0; key < 8; key++ {
		assert.Equal(t, key+1, b.Size(key))
	}
}

func TestBuffersCleanupStale(t *testing.T) {
	now := time.Unix(1000, 0)
	b := NewBuffers(30, 5*time.Second)
	b.SetClock(func() time.Time { return now })

	b.Add(1, frame())
	now = now.Add(4 * time.Second)
	b.Add(2, frame())

	now = now.Add(2 * time.Second)
	removed := b.CleanupStale(0)
	assert.Equal(t, []int{1}, removed)
	assert.Equal(t, 0, b.Size(1))
	assert.Equal(t, 1, b.Size(2))

	removed = b.CleanupStale(time.Second)
	assert.Equal(t, []int{2}, removed)
	assert.Equal(t, 0, b.Keys())
}
