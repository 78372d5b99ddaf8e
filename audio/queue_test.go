package audio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_OverflowDropsNewest(t *testing.T) {
	q := NewQueue(3)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := uint64(1); i <= 10; i++ {
			q.Push(Frame{Sequence: i})
			assert.LessOrEqual(t, q.Len(), q.Cap())
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Push blocked on a full queue")
	}

	assert.Equal(t, 3, q.Len())
	assert.Equal(t, uint64(3), q.Pushed())
	assert.Equal(t, uint64(7), q.Dropped())

	for want := uint64(1); want <= 3; want++ {
		f, ok := q.Pop(0)
		require.True(t, ok)
		assert.Equal(t, want, f.Sequence)
	}
	_, ok := q.Pop(0)
	assert.False(t, ok)
}

func TestQueue_PushReportsDrop(t *testing.T) {
	q := NewQueue(1)
	assert.True(t, q.Push(Frame{Sequence: 1}))
	assert.False(t, q.Push(Frame{Sequence: 2}))

	f, ok := q.Pop(10 * time.Millisecond)
	require.True(t, ok)
	assert.Equal(t, uint64(1), f.Sequence)
}

func TestQueue_PopTimesOut(t *testing.T) {
	q := NewQueue(4)
	start := time.Now()
	_, ok := q.Pop(20 * time.Millisecond)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestQueue_PopWakesOnPush(t *testing.T) {
	q := NewQueue(4)
	go func() {
		time.Sleep(10 * time.Millisecond)
		q.Push(Frame{Sequence: 42})
	}()
	f, ok := q.Pop(time.Second)
	require.True(t, ok)
	assert.Equal(t, uint64(42), f.Sequence)
}

func TestQueue_Drain(t *testing.T) {
	q := NewQueue(5)
	for i := 0; i < 4; i++ {
		q.Push(Frame{})
	}
	assert.Equal(t, 4, q.Drain())
	assert.Equal(t, 0, q.Len())
}

func TestNewQueue_MinimumCapacity(t *testing.T) {
	assert.Equal(t, 1, NewQueue(0).Cap())
}
