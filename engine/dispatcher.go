package engine

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/d1nch8g/livecaption/audio"
	"github.com/d1nch8g/livecaption/metrics"
	"github.com/d1nch8g/livecaption/stt"
	"github.com/rs/zerolog"
)

// ErrFrameProcessing marks a frame that was skipped because preparing or
// decoding it failed.
var ErrFrameProcessing = errors.New("frame processing failed")

type FrameError struct {
	Sequence uint64
	Err      error
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("frame %d: %v", e.Sequence, e.Err)
}

func (e *FrameError) Unwrap() []error { return []error{ErrFrameProcessing, e.Err} }

// Sink receives recognition results on the dispatcher goroutine.
type Sink func(stt.Result)

// Dispatcher is the single consumer of a frame queue. It prepares each frame
// for the transcriber and routes results to a sink. A failing frame is
// logged and skipped.
type Dispatcher struct {
	queue       *audio.Queue
	transcriber stt.Transcriber
	recorder    *metrics.Recorder
	sink        Sink
	poll        time.Duration
	log         zerolog.Logger

	running   atomic.Bool
	done      chan struct{}
	processed atomic.Uint64
	failed    atomic.Uint64
	skipped   atomic.Uint64
}

func NewDispatcher(queue *audio.Queue, transcriber stt.Transcriber, recorder *metrics.Recorder, sink Sink, poll time.Duration, log zerolog.Logger) *Dispatcher {
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}
	if recorder == nil {
		recorder = metrics.NewRecorder(metrics.DefaultWindow)
	}
	return &Dispatcher{
		queue:       queue,
		transcriber: transcriber,
		recorder:    recorder,
		sink:        sink,
		poll:        poll,
		log:         log,
		done:        make(chan struct{}),
	}
}

// Start launches the consumer goroutine. A dispatcher runs once.
func (d *Dispatcher) Start() {
	if !d.running.CompareAndSwap(false, true) {
		return
	}
	go d.run()
}

func (d *Dispatcher) run() {
	defer close(d.done)
	var dropped uint64
	for d.running.Load() {
		frame, ok := d.queue.Pop(d.poll)
		if n := d.queue.Dropped(); n != dropped {
			d.log.Debug().Uint64("dropped", n).Uint64("new", n-dropped).Msg("queue overflow")
			dropped = n
		}
		if !ok {
			continue
		}
		if err := d.process(frame); err != nil {
			d.failed.Add(1)
			metrics.FrameErrors.Inc()
			d.log.Warn().Err(err).Msg("frame skipped")
		}
	}
}

func (d *Dispatcher) process(f audio.Frame) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &FrameError{Sequence: f.Sequence, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	if f.Channels < 1 || f.SampleRate <= 0 || len(f.Samples)%f.Channels != 0 {
		return &FrameError{
			Sequence: f.Sequence,
			Err:      fmt.Errorf("bad format: %d samples, %d channels, %d Hz", len(f.Samples), f.Channels, f.SampleRate),
		}
	}

	start := time.Now()
	rate := d.transcriber.SampleRate()
	mono := audio.Prepare(f, rate)
	if len(mono) == 0 {
		n := d.skipped.Add(1)
		metrics.FramesSkipped.Inc()
		d.log.Debug().
			Uint64("sequence", f.Sequence).
			Int("samples", len(f.Samples)).
			Int("rate", f.SampleRate).
			Uint64("skipped", n).
			Msg("frame too short to resample")
		return nil
	}

	res, ok := d.transcriber.AcceptFrame(mono, rate, f.CapturedAt)
	d.recorder.RecordProcessing(f.Duration(), time.Since(start))
	d.processed.Add(1)
	metrics.FramesProcessed.Inc()
	if !ok {
		return nil
	}

	if res.LatencyMS > 0 {
		d.recorder.RecordLatency(res.LatencyMS)
	}
	metrics.ObserveResult(res.IsFinal, res.LatencyMS)
	if d.sink != nil {
		d.sink(res)
	}
	return nil
}

// Stop clears the running flag and waits up to timeout for the goroutine to
// observe it. It reports whether the goroutine exited in time.
func (d *Dispatcher) Stop(timeout time.Duration) bool {
	if !d.running.CompareAndSwap(true, false) {
		return true
	}
	select {
	case <-d.done:
		return true
	case <-time.After(timeout):
		d.log.Warn().Dur("timeout", timeout).Msg("dispatcher did not exit in time")
		return false
	}
}

func (d *Dispatcher) Processed() uint64 { return d.processed.Load() }

func (d *Dispatcher) Failed() uint64 { return d.failed.Load() }

// Skipped counts frames too short to yield any samples at the transcriber
// rate.
func (d *Dispatcher) Skipped() uint64 { return d.skipped.Load() }
