package audio

import (
	"sync/atomic"
	"time"
)

// Queue is a bounded FIFO of frames between the capture callback and the
// dispatcher. Push never blocks: when the queue is full the incoming frame is
// dropped and counted.
type Queue struct {
	frames  chan Frame
	pushed  atomic.Uint64
	dropped atomic.Uint64
}

// NewQueue creates a queue holding at most capacity frames.
func NewQueue(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{frames: make(chan Frame, capacity)}
}

// Push enqueues f. It returns false if the queue was full and f was dropped.
func (q *Queue) Push(f Frame) bool {
	select {
	case q.frames <- f:
		q.pushed.Add(1)
		return true
	default:
		q.dropped.Add(1)
		return false
	}
}

// Pop waits up to timeout for the oldest frame.
func (q *Queue) Pop(timeout time.Duration) (Frame, bool) {
	select {
	case f := <-q.frames:
		return f, true
	default:
	}
	if timeout <= 0 {
		return Frame{}, false
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case f := <-q.frames:
		return f, true
	case <-timer.C:
		return Frame{}, false
	}
}

// Drain discards every queued frame and returns how many were discarded.
func (q *Queue) Drain() int {
	n := 0
	for {
		select {
		case <-q.frames:
			n++
		default:
			return n
		}
	}
}

func (q *Queue) Len() int { return len(q.frames) }

func (q *Queue) Cap() int { return cap(q.frames) }

// Pushed returns the number of frames accepted so far.
func (q *Queue) Pushed() uint64 { return q.pushed.Load() }

// Dropped returns the number of frames rejected because the queue was full.
func (q *Queue) Dropped() uint64 { return q.dropped.Load() }
