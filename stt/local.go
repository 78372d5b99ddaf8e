package stt

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Decoder is an incremental streaming recognizer bound to one model.
type Decoder interface {
	AcceptWaveform(sampleRate int, samples []float32)
	IsReady() bool
	Decode()
	Text() string
	IsEndpoint() bool
	Reset()
	Close()
}

// Local runs a Decoder in process.
type Local struct {
	decoder    Decoder
	sampleRate int
	log        zerolog.Logger

	mu     sync.Mutex
	policy EndpointPolicy
	closed bool
}

var _ Transcriber = (*Local)(nil)

func NewLocal(decoder Decoder, sampleRate int, log zerolog.Logger) *Local {
	return &Local{decoder: decoder, sampleRate: sampleRate, log: log}
}

// AcceptFrame feeds samples, decodes as far as the decoder allows and
// reports a final on endpoint, otherwise a partial if the text moved.
func (l *Local) AcceptFrame(samples []float32, sampleRate int, capturedAt time.Time) (Result, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return Result{}, false
	}

	l.decoder.AcceptWaveform(sampleRate, samples)
	for l.decoder.IsReady() {
		l.decoder.Decode()
	}

	var (
		res Result
		ok  bool
	)
	if l.decoder.IsEndpoint() {
		text := l.decoder.Text()
		l.decoder.Reset()
		res, ok = l.policy.Final(text)
		if ok {
			l.log.Debug().Str("text", res.Text).Msg("utterance committed")
		}
	} else {
		res, ok = l.policy.Partial(l.decoder.Text())
	}
	if !ok {
		return Result{}, false
	}
	res.LatencyMS = elapsedMS(capturedAt)
	return res, true
}

func (l *Local) SampleRate() int { return l.sampleRate }

func (l *Local) Kind() Kind { return KindLocal }

func (l *Local) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	l.decoder.Close()
	return nil
}

func (l *Local) sealed() {}
