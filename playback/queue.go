package playback

import "slices"

// Queue holds the tracks waiting to become current. The current track is
// never part of it. Queue has no locking of its own; the controller loop is
// its only user.
type Queue struct {
	tracks []Track
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Enqueue appends a track and returns its 1-based position.
func (q *Queue) Enqueue(t Track) int {
	q.tracks = append(q.tracks, t)
	return len(q.tracks)
}

// EnqueueNext inserts a track so that it is the next one popped.
func (q *Queue) EnqueueNext(t Track) {
	q.tracks = slices.Insert(q.tracks, 0, t)
}

// PopFront removes and returns the first track.
func (q *Queue) PopFront() (Track, bool) {
	if len(q.tracks) == 0 {
		return Track{}, false
	}
	t := q.tracks[0]
	q.tracks[0] = Track{}
	q.tracks = q.tracks[1:]
	return t, true
}

// Clear removes all tracks and returns how many were dropped.
func (q *Queue) Clear() int {
	n := len(q.tracks)
	q.tracks = nil
	return n
}

// Len returns the number of queued tracks.
func (q *Queue) Len() int {
	return len(q.tracks)
}

// PeekAll returns a copy of the queued tracks in order.
func (q *Queue) PeekAll() []Track {
	return slices.Clone(q.tracks)
}
