package lavago

import (
	"sync"

	"github.com/emirpasic/gods/lists/arraylist"
)

// LoopMode controls how Queue.Poll behaves when the current track ends.
type LoopMode int

const (
	// LoopNone plays the queue linearly; a finished track is dropped.
	LoopNone LoopMode = iota
	// LoopTrack replays the current track on every natural end.
	LoopTrack
	// LoopQueue cycles the upcoming list, pushing the finished current
	// track onto its tail.
	LoopQueue
)

func (m LoopMode) valid() bool {
	return m == LoopNone || m == LoopTrack || m == LoopQueue
}

// maxHistory bounds Queue.history per spec.md §3/§4.1.
const maxHistory = 20

// Queue is an ordered track list with a bounded history and loop policy.
// It owns the tracks referenced by the Player it belongs to; a Track is
// never shared between two queues. All methods are safe for concurrent use.
type Queue struct {
	mu upcomingAndHistory

	current *Track
	loop    LoopMode
}

// upcomingAndHistory groups the two gods lists under one lock so `Poll`
// can move a track between them atomically.
type upcomingAndHistory struct {
	sync.Mutex
	upcoming *arraylist.List
	history  *arraylist.List // most-recent-first
}

// NewQueue returns an empty Queue with LoopNone.
func NewQueue() *Queue {
	q := &Queue{}
	q.mu.upcoming = arraylist.New()
	q.mu.history = arraylist.New()
	return q
}

// Add appends tracks to the tail of the upcoming list, or inserts them at
// position if given. A position outside [0, size] clamps to the tail.
func (q *Queue) Add(tracks []Track, position ...int) {
	if len(tracks) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(position) == 0 {
		for _, t := range tracks {
			q.mu.upcoming.Add(t)
		}
		return
	}

	pos := position[0]
	size := q.mu.upcoming.Size()
	if pos < 0 || pos > size {
		pos = size
	}
	// Rebuild: gods' arraylist has no bulk-insert, so splice manually.
	rest := make([]interface{}, 0, size-pos)
	for i := pos; i < size; i++ {
		v, _ := q.mu.upcoming.Get(i)
		rest = append(rest, v)
	}
	for i := size - 1; i >= pos; i-- {
		q.mu.upcoming.Remove(i)
	}
	for _, t := range tracks {
		q.mu.upcoming.Add(t)
	}
	for _, v := range rest {
		q.mu.upcoming.Add(v)
	}
}

// Current returns the currently-loaded track, or nil.
func (q *Queue) Current() *Track {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.current
}

// advanceTo is the single mutator that changes `current`, pushing the
// prior current onto history per spec.md §4.1/§9. A nil newCurrent does
// not push a history entry when the prior current was already nil, but
// DOES push when the prior current was non-nil (clearing still records
// what was playing).
func (q *Queue) advanceTo(newCurrent *Track) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.advanceToLocked(newCurrent)
}

func (q *Queue) advanceToLocked(newCurrent *Track) {
	if q.current != nil {
		q.mu.history.Insert(0, *q.current)
		if q.mu.history.Size() > maxHistory {
			q.mu.history.Remove(q.mu.history.Size() - 1)
		}
	}
	q.current = newCurrent
}

// Poll returns the next track honoring the loop mode and updates current
// accordingly, per spec.md §3.
func (q *Queue) Poll() *Track {
	q.mu.Lock()
	defer q.mu.Unlock()

	switch q.loop {
	case LoopTrack:
		return q.current
	case LoopQueue:
		if q.current != nil {
			q.mu.upcoming.Add(*q.current)
		}
	}

	if q.mu.upcoming.Empty() {
		q.advanceToLocked(nil)
		return nil
	}
	v, _ := q.mu.upcoming.Get(0)
	q.mu.upcoming.Remove(0)
	next := v.(Track)
	q.advanceToLocked(&next)
	return q.current
}

// Peek returns what Poll would return next without mutating the queue,
// used by Player.Skip to decide whether to stop instead.
func (q *Queue) Peek() *Track {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.loop == LoopTrack {
		return q.current
	}
	if !q.mu.upcoming.Empty() {
		v, _ := q.mu.upcoming.Get(0)
		t := v.(Track)
		return &t
	}
	if q.loop == LoopQueue && q.current != nil {
		t := *q.current
		return &t
	}
	return nil
}

// RemoveAt removes and returns the upcoming track at index, if any.
func (q *Queue) RemoveAt(index int) *Track {
	q.mu.Lock()
	defer q.mu.Unlock()
	if index < 0 || index >= q.mu.upcoming.Size() {
		return nil
	}
	v, _ := q.mu.upcoming.Get(index)
	q.mu.upcoming.Remove(index)
	t := v.(Track)
	return &t
}

// Remove removes the first upcoming track whose Encoded string matches
// track.Encoded. Reports whether a track was removed.
func (q *Queue) Remove(track Track) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := 0; i < q.mu.upcoming.Size(); i++ {
		v, _ := q.mu.upcoming.Get(i)
		if v.(Track).Encoded == track.Encoded {
			q.mu.upcoming.Remove(i)
			return true
		}
	}
	return false
}

// Clear empties upcoming, history, and current.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.mu.upcoming.Clear()
	q.mu.history.Clear()
	q.current = nil
}

// Shuffle performs an in-place Fisher-Yates shuffle over the upcoming
// list only; current and history are untouched.
func (q *Queue) Shuffle(intn func(n int) int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := q.mu.upcoming.Size()
	for i := n - 1; i > 0; i-- {
		j := intn(i + 1)
		vi, _ := q.mu.upcoming.Get(i)
		vj, _ := q.mu.upcoming.Get(j)
		q.mu.upcoming.Set(i, vj)
		q.mu.upcoming.Set(j, vi)
	}
}

// SetLoop validates and applies a new loop mode. Returns a
// PreconditionError for values outside {LoopNone,LoopTrack,LoopQueue}.
func (q *Queue) SetLoop(mode LoopMode) error {
	if !mode.valid() {
		return newPreconditionError("invalid loop mode %d", mode)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.loop = mode
	return nil
}

// Loop returns the current loop mode.
func (q *Queue) Loop() LoopMode {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.loop
}

// Upcoming returns a snapshot slice of the upcoming tracks.
func (q *Queue) Upcoming() []Track {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Track, 0, q.mu.upcoming.Size())
	q.mu.upcoming.Each(func(_ int, v interface{}) {
		out = append(out, v.(Track))
	})
	return out
}

// History returns a snapshot slice of history, most-recent-first.
func (q *Queue) History() []Track {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Track, 0, q.mu.history.Size())
	q.mu.history.Each(func(_ int, v interface{}) {
		out = append(out, v.(Track))
	})
	return out
}

// Size is the count of upcoming tracks, excluding current.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.mu.upcoming.Size()
}

// TotalSize is history + upcoming + (current present ? 1 : 0).
func (q *Queue) TotalSize() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	total := q.mu.upcoming.Size() + q.mu.history.Size()
	if q.current != nil {
		total++
	}
	return total
}
