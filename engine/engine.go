// Package engine runs a capture session: it resolves the audio source, owns
// the transcriber for the session's lifetime, wires capture to the frame
// dispatcher and fans results out to sinks.
package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/d1nch8g/livecaption/audio"
	"github.com/d1nch8g/livecaption/metrics"
	"github.com/d1nch8g/livecaption/stt"
	"github.com/rs/zerolog"
)

// Config holds the session settings of an Engine.
type Config struct {
	Mode     audio.Mode
	DeviceID string

	QueueCapacity int
	PollInterval  time.Duration
	JoinTimeout   time.Duration

	// MaxCommittedLines bounds the transcript kept in memory; oldest lines
	// are trimmed. Zero keeps everything.
	MaxCommittedLines int

	LatencyWindow int
}

// TranscriberFactory builds the transcriber for one session.
type TranscriberFactory func(ctx context.Context) (stt.Transcriber, error)

// Line is one committed caption.
type Line struct {
	Text        string        `json:"text"`
	Offset      time.Duration `json:"offset"`
	CommittedAt time.Time     `json:"committed_at"`
}

// Stats are the counters of the current (or last) session.
type Stats struct {
	Captured   uint64        `json:"captured"`
	Dropped    uint64        `json:"dropped"`
	Processed  uint64        `json:"processed"`
	Failed     uint64        `json:"failed"`
	Skipped    uint64        `json:"skipped"`
	QueueDepth int           `json:"queue_depth"`
	Latency    metrics.Stats `json:"latency"`
}

type session struct {
	queue       *audio.Queue
	dispatcher  *Dispatcher
	transcriber stt.Transcriber
	device      audio.Device
	startedAt   time.Time
}

// Engine orchestrates capture sessions. One session runs at a time.
type Engine struct {
	config         Config
	selector       *audio.DeviceSelector
	capture        *audio.CaptureLoop
	newTranscriber TranscriberFactory
	recorder       *metrics.Recorder
	log            zerolog.Logger

	runMu   sync.Mutex
	running atomic.Bool
	current atomic.Pointer[session]

	deliverMu sync.Mutex
	accepting bool
	sinks     []Sink

	linesMu sync.RWMutex
	lines   []Line
}

func New(config Config, selector *audio.DeviceSelector, capture *audio.CaptureLoop, newTranscriber TranscriberFactory, log zerolog.Logger) *Engine {
	if config.Mode == "" {
		config.Mode = audio.ModeLoopback
	}
	if config.QueueCapacity <= 0 {
		config.QueueCapacity = 100
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 100 * time.Millisecond
	}
	if config.JoinTimeout <= 0 {
		config.JoinTimeout = 2 * time.Second
	}

	return &Engine{
		config:         config,
		selector:       selector,
		capture:        capture,
		newTranscriber: newTranscriber,
		recorder:       metrics.NewRecorder(config.LatencyWindow),
		log:            log,
	}
}

// AddSink registers a result consumer. Sinks run on the dispatcher
// goroutine and must not block.
func (e *Engine) AddSink(s Sink) {
	e.deliverMu.Lock()
	defer e.deliverMu.Unlock()
	e.sinks = append(e.sinks, s)
}

// Start builds the transcriber, resolves the device and starts capture and
// dispatch. Every failure is returned before any goroutine is left running.
func (e *Engine) Start(ctx context.Context) error {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	if e.running.Load() {
		return fmt.Errorf("engine is already running")
	}

	transcriber, err := e.newTranscriber(ctx)
	if err != nil {
		return fmt.Errorf("create transcriber: %w", err)
	}

	device, err := e.selector.Resolve(e.config.Mode, e.config.DeviceID)
	if err != nil {
		e.closeTranscriber(transcriber)
		return fmt.Errorf("resolve %s device: %w", e.config.Mode, err)
	}

	queue := audio.NewQueue(e.config.QueueCapacity)
	e.capture.SetConsumer(func(f audio.Frame) {
		metrics.FramesCaptured.Inc()
		if !queue.Push(f) {
			metrics.FramesDropped.Inc()
		}
	})

	s := &session{
		queue:       queue,
		transcriber: transcriber,
		device:      device,
		startedAt:   time.Now(),
	}
	s.dispatcher = NewDispatcher(queue, transcriber, e.recorder, e.deliver, e.config.PollInterval,
		e.log.With().Str("component", "dispatcher").Logger())

	e.linesMu.Lock()
	e.lines = nil
	e.linesMu.Unlock()

	e.setAccepting(true)
	if err := e.capture.Start(device); err != nil {
		e.setAccepting(false)
		e.closeTranscriber(transcriber)
		return fmt.Errorf("start capture on %q: %w", device.Name, err)
	}
	e.current.Store(s)
	s.dispatcher.Start()
	e.running.Store(true)

	e.log.Info().
		Str("device", device.Name).
		Str("mode", string(e.config.Mode)).
		Stringer("backend", transcriber.Kind()).
		Int("rate", transcriber.SampleRate()).
		Msg("caption session started")
	return nil
}

// Stop ends the session. No result reaches a sink after Stop returns. It is
// safe to call when not running.
func (e *Engine) Stop() error {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	if !e.running.Load() {
		return nil
	}
	s := e.current.Load()

	e.setAccepting(false)
	e.capture.Stop()
	s.dispatcher.Stop(e.config.JoinTimeout)

	var closeErr error
	if err := s.transcriber.Close(); err != nil {
		closeErr = fmt.Errorf("close transcriber: %w", err)
	}
	discarded := s.queue.Drain()
	e.running.Store(false)

	e.log.Info().
		Uint64("processed", s.dispatcher.Processed()).
		Uint64("dropped", s.queue.Dropped()).
		Int("discarded", discarded).
		Dur("duration", time.Since(s.startedAt)).
		Msg("caption session stopped")
	return closeErr
}

func (e *Engine) setAccepting(v bool) {
	e.deliverMu.Lock()
	e.accepting = v
	e.deliverMu.Unlock()
}

func (e *Engine) closeTranscriber(t stt.Transcriber) {
	if err := t.Close(); err != nil {
		e.log.Warn().Err(err).Msg("close transcriber")
	}
}

func (e *Engine) deliver(res stt.Result) {
	e.deliverMu.Lock()
	defer e.deliverMu.Unlock()

	if !e.accepting {
		return
	}
	if res.IsFinal {
		e.commit(res.Text)
	}
	for _, sink := range e.sinks {
		sink(res)
	}
}

func (e *Engine) commit(text string) {
	now := time.Now()
	var offset time.Duration
	if s := e.current.Load(); s != nil {
		offset = now.Sub(s.startedAt)
	}

	e.linesMu.Lock()
	defer e.linesMu.Unlock()

	e.lines = append(e.lines, Line{Text: text, Offset: offset, CommittedAt: now})
	if limit := e.config.MaxCommittedLines; limit > 0 && len(e.lines) > limit {
		e.lines = e.lines[len(e.lines)-limit:]
	}
}

// CommittedLines returns a copy of the final lines of the current (or last)
// session, oldest first.
func (e *Engine) CommittedLines() []Line {
	e.linesMu.RLock()
	defer e.linesMu.RUnlock()

	lines := make([]Line, len(e.lines))
	copy(lines, e.lines)
	return lines
}

func (e *Engine) IsRunning() bool {
	return e.running.Load()
}

// Device returns the device of the current (or last) session.
func (e *Engine) Device() (audio.Device, bool) {
	s := e.current.Load()
	if s == nil {
		return audio.Device{}, false
	}
	return s.device, true
}

func (e *Engine) QueueDepth() int {
	if s := e.current.Load(); s != nil {
		return s.queue.Len()
	}
	return 0
}

func (e *Engine) Snapshot() metrics.Stats {
	return e.recorder.Snapshot()
}

func (e *Engine) Stats() Stats {
	st := Stats{Latency: e.recorder.Snapshot()}
	if s := e.current.Load(); s != nil {
		st.Captured = s.queue.Pushed() + s.queue.Dropped()
		st.Dropped = s.queue.Dropped()
		st.Processed = s.dispatcher.Processed()
		st.Failed = s.dispatcher.Failed()
		st.Skipped = s.dispatcher.Skipped()
		st.QueueDepth = s.queue.Len()
	}
	return st
}
