package lavago

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func track(encoded string) Track {
	return Track{Encoded: encoded, Info: TrackInfo{Title: encoded}}
}

func TestQueuePollLinear(t *testing.T) {
	q := NewQueue()
	q.Add([]Track{track("a"), track("b"), track("c")})

	first := q.Poll()
	require.NotNil(t, first)
	assert.Equal(t, "a", first.Encoded)
	assert.Equal(t, "a", q.Current().Encoded)

	second := q.Poll()
	require.NotNil(t, second)
	assert.Equal(t, "b", second.Encoded)

	assert.Equal(t, []Track{{Encoded: "a", Info: TrackInfo{Title: "a"}}}, q.History())
}

func TestQueuePollLoopTrackReplaysCurrent(t *testing.T) {
	q := NewQueue()
	q.Add([]Track{track("a"), track("b")})
	q.Poll()
	require.NoError(t, q.SetLoop(LoopTrack))

	next := q.Poll()
	require.NotNil(t, next)
	assert.Equal(t, "a", next.Encoded)
	assert.Equal(t, 1, q.Size(), "loop-track must not consume the upcoming list")
}

func TestQueuePollLoopQueueCyclesCurrentToTail(t *testing.T) {
	q := NewQueue()
	q.Add([]Track{track("a"), track("b")})
	require.NoError(t, q.SetLoop(LoopQueue))

	q.Poll() // current=a, upcoming=[b]
	q.Poll() // current=b, upcoming=[a]
	upcoming := q.Upcoming()
	require.Len(t, upcoming, 1)
	assert.Equal(t, "a", upcoming[0].Encoded)

	third := q.Poll() // current=a again
	require.NotNil(t, third)
	assert.Equal(t, "a", third.Encoded)
}

func TestQueuePollEmptyReturnsNilAndClearsCurrent(t *testing.T) {
	q := NewQueue()
	q.Add([]Track{track("a")})
	q.Poll()

	next := q.Poll()
	assert.Nil(t, next)
	assert.Nil(t, q.Current())
}

func TestQueuePeekDoesNotMutate(t *testing.T) {
	q := NewQueue()
	q.Add([]Track{track("a"), track("b")})

	peeked := q.Peek()
	require.NotNil(t, peeked)
	assert.Equal(t, "a", peeked.Encoded)
	assert.Equal(t, 2, q.Size())
	assert.Nil(t, q.Current())
}

func TestQueueAdvanceToPushesHistoryBoundedTo20(t *testing.T) {
	q := NewQueue()
	for i := 0; i < 25; i++ {
		q.advanceTo(&Track{Encoded: string(rune('a' + i))})
	}
	assert.LessOrEqual(t, len(q.History()), maxHistory)
}

func TestQueueAddAtPosition(t *testing.T) {
	q := NewQueue()
	q.Add([]Track{track("a"), track("c")})
	q.Add([]Track{track("b")}, 1)

	upcoming := q.Upcoming()
	require.Len(t, upcoming, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{upcoming[0].Encoded, upcoming[1].Encoded, upcoming[2].Encoded})
}

func TestQueueRemove(t *testing.T) {
	q := NewQueue()
	q.Add([]Track{track("a"), track("b")})

	assert.True(t, q.Remove(track("a")))
	assert.False(t, q.Remove(track("a")))
	assert.Equal(t, 1, q.Size())
}

func TestQueueClear(t *testing.T) {
	q := NewQueue()
	q.Add([]Track{track("a"), track("b")})
	q.Poll()

	q.Clear()
	assert.Nil(t, q.Current())
	assert.Equal(t, 0, q.Size())
	assert.Empty(t, q.History())
}

func TestQueueSetLoopRejectsInvalidMode(t *testing.T) {
	q := NewQueue()
	err := q.SetLoop(LoopMode(99))
	assert.Error(t, err)
	var precondition *PreconditionError
	assert.ErrorAs(t, err, &precondition)
}

func TestQueueTotalSize(t *testing.T) {
	q := NewQueue()
	q.Add([]Track{track("a"), track("b")})
	q.Poll()
	assert.Equal(t, 2, q.TotalSize())
}
