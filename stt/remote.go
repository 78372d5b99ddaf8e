package stt

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/d1nch8g/livecaption/metrics"
	"github.com/rs/zerolog"
)

// Message is one inbound transcript update from a speech service.
type Message struct {
	Text    string
	IsFinal bool

	// Segment identifies the audio span of a final (e.g. start and duration).
	// A final carrying the segment of the previous final is a re-delivery.
	// Empty when the service gives no such identity.
	Segment string
}

// Conn is one duplex streaming session with a speech service. SendAudio
// and Receive are called from different goroutines.
type Conn interface {
	SendAudio(pcm []byte) error
	Receive() (Message, error)
	Close() error
}

// Remote streams audio over a Conn. A listener goroutine turns inbound
// messages into results; AcceptFrame hands out at most one per call.
type Remote struct {
	conn        Conn
	sampleRate  int
	joinTimeout time.Duration
	log         zerolog.Logger

	mu      sync.Mutex
	pending []Result

	// listener goroutine only
	policy      EndpointPolicy
	lastSegment string

	closed       atomic.Bool
	closeOnce    sync.Once
	closeErr     error
	done         chan struct{}
	sendFailures atomic.Uint64
}

var _ Transcriber = (*Remote)(nil)

// NewRemote takes ownership of conn and starts the listener.
func NewRemote(conn Conn, sampleRate int, joinTimeout time.Duration, log zerolog.Logger) *Remote {
	if joinTimeout <= 0 {
		joinTimeout = 2 * time.Second
	}
	r := &Remote{
		conn:        conn,
		sampleRate:  sampleRate,
		joinTimeout: joinTimeout,
		log:         log,
		done:        make(chan struct{}),
	}
	go r.listen()
	return r
}

func (r *Remote) listen() {
	defer close(r.done)
	for {
		msg, err := r.conn.Receive()
		if err != nil {
			if !r.closed.Load() {
				r.log.Warn().Err(err).Msg("remote listener stopped")
			}
			return
		}

		var (
			res Result
			ok  bool
		)
		if msg.IsFinal {
			if msg.Segment != "" && msg.Segment == r.lastSegment {
				r.log.Debug().Str("segment", msg.Segment).Msg("final re-delivered, skipped")
				continue
			}
			r.lastSegment = msg.Segment
			res, ok = r.policy.Final(msg.Text)
		} else {
			res, ok = r.policy.Partial(msg.Text)
		}
		if !ok {
			continue
		}

		r.mu.Lock()
		r.pending = append(r.pending, res)
		r.mu.Unlock()
	}
}

// AcceptFrame sends the samples and pops one buffered result if any.
// Send failures only cost this call its result.
func (r *Remote) AcceptFrame(samples []float32, sampleRate int, capturedAt time.Time) (Result, bool) {
	if r.closed.Load() {
		return Result{}, false
	}

	if err := r.conn.SendAudio(PCM16(samples)); err != nil {
		n := r.sendFailures.Add(1)
		metrics.RemoteSendFailures.Inc()
		r.log.Debug().Err(err).Uint64("failures", n).Msg("audio send failed")
		return Result{}, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.pending) == 0 {
		return Result{}, false
	}
	res := r.pending[0]
	r.pending = r.pending[1:]
	return res, true
}

// SendFailures counts swallowed send errors.
func (r *Remote) SendFailures() uint64 {
	return r.sendFailures.Load()
}

func (r *Remote) SampleRate() int { return r.sampleRate }

func (r *Remote) Kind() Kind { return KindRemote }

// Close closes the connection and waits up to the join timeout for the
// listener to exit.
func (r *Remote) Close() error {
	r.closeOnce.Do(func() {
		r.closed.Store(true)
		r.closeErr = r.conn.Close()

		select {
		case <-r.done:
		case <-time.After(r.joinTimeout):
			r.log.Warn().Dur("timeout", r.joinTimeout).Msg("remote listener did not exit in time")
		}

		r.mu.Lock()
		r.pending = nil
		r.mu.Unlock()
	})
	return r.closeErr
}

func (r *Remote) sealed() {}
