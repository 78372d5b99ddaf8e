package metrics

import (
	"sync"
	"time"
)

// DefaultWindow is how many latency samples a Recorder keeps.
const DefaultWindow = 100

// Stats is a point-in-time view of a Recorder.
type Stats struct {
	AverageLatencyMS float64 `json:"average_latency_ms"`
	Samples          int     `json:"samples"`
	AudioSeconds     float64 `json:"audio_seconds"`
	ProcessSeconds   float64 `json:"process_seconds"`
	RealTimeFactor   float64 `json:"realtime_factor"`
}

// Recorder keeps a rolling window of latencies plus running audio and
// processing totals. Safe for concurrent use.
type Recorder struct {
	mu        sync.Mutex
	latencies []float64
	next      int
	full      bool
	sum       float64

	audio   time.Duration
	process time.Duration
}

func NewRecorder(capacity int) *Recorder {
	if capacity <= 0 {
		capacity = DefaultWindow
	}
	return &Recorder{latencies: make([]float64, capacity)}
}

// RecordLatency adds one sample, evicting the oldest once the window is full.
func (r *Recorder) RecordLatency(ms float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.full {
		r.sum -= r.latencies[r.next]
	}
	r.latencies[r.next] = ms
	r.sum += ms
	r.next++
	if r.next == len(r.latencies) {
		r.next = 0
		r.full = true
	}
}

// RecordProcessing adds audio decoded and the wall time it took.
func (r *Recorder) RecordProcessing(audio, wall time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audio += audio
	r.process += wall
}

func (r *Recorder) AverageLatency() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.average()
}

// RealTimeFactor is audio time over processing time. Processing time is
// floored at one millisecond.
func (r *Recorder) RealTimeFactor() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rtf()
}

func (r *Recorder) Snapshot() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{
		AverageLatencyMS: r.average(),
		Samples:          r.count(),
		AudioSeconds:     r.audio.Seconds(),
		ProcessSeconds:   r.process.Seconds(),
		RealTimeFactor:   r.rtf(),
	}
}

func (r *Recorder) count() int {
	if r.full {
		return len(r.latencies)
	}
	return r.next
}

func (r *Recorder) average() float64 {
	n := r.count()
	if n == 0 {
		return 0
	}
	return r.sum / float64(n)
}

func (r *Recorder) rtf() float64 {
	wall := r.process
	if wall < time.Millisecond {
		wall = time.Millisecond
	}
	return r.audio.Seconds() / wall.Seconds()
}
