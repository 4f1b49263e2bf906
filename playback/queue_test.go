package playback

import (
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func track(n int) Track {
	return Track{URL: fmt.Sprintf("https://media.example/%d", n), Title: fmt.Sprintf("track %d", n)}
}

func TestQueueFIFO(t *testing.T) {
	q := NewQueue()
	for i := 1; i <= 3; i++ {
		assert.Equal(t, i, q.Enqueue(track(i)))
	}
	require.Equal(t, 3, q.Len())

	for i := 1; i <= 3; i++ {
		got, ok := q.PopFront()
		require.True(t, ok)
		assert.Equal(t, track(i), got)
	}
	_, ok := q.PopFront()
	assert.False(t, ok)
}

func TestQueueEnqueueNextIsPoppedFirst(t *testing.T) {
	q := NewQueue()
	q.Enqueue(track(1))
	q.Enqueue(track(2))
	q.EnqueueNext(track(3))
	q.Enqueue(track(4))

	var order []Track
	for q.Len() > 0 {
		got, _ := q.PopFront()
		order = append(order, got)
	}
	assert.Equal(t, []Track{track(3), track(1), track(2), track(4)}, order)
}

func TestQueueClear(t *testing.T) {
	q := NewQueue()
	assert.Zero(t, q.Clear())

	q.Enqueue(track(1))
	q.Enqueue(track(2))
	assert.Equal(t, 2, q.Clear())
	assert.Zero(t, q.Len())
	assert.Empty(t, q.PeekAll())
}

func TestQueuePeekAllIsACopy(t *testing.T) {
	q := NewQueue()
	q.Enqueue(track(1))

	peek := q.PeekAll()
	peek[0].Title = "changed"

	got, _ := q.PopFront()
	assert.Equal(t, "track 1", got.Title)
}

func TestQueueNeverLosesOrDuplicates(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	q := NewQueue()
	var model []int
	next := 0
	seen := make(map[int]int)

	for range 2000 {
		switch rng.IntN(4) {
		case 0, 1:
			next++
			q.Enqueue(track(next))
			model = append(model, next)
		case 2:
			next++
			q.EnqueueNext(track(next))
			model = append([]int{next}, model...)
		case 3:
			got, ok := q.PopFront()
			if len(model) == 0 {
				assert.False(t, ok)
				continue
			}
			require.True(t, ok)
			assert.Equal(t, track(model[0]), got)
			seen[model[0]]++
			model = model[1:]
		}
		require.Equal(t, len(model), q.Len())
	}

	for id, n := range seen {
		assert.Equal(t, 1, n, "track %d popped more than once", id)
	}
}
