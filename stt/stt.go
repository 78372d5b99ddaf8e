// Package stt turns mono audio into caption text through one of two
// streaming backends: an in-process decoder (Local) or a duplex connection
// to a cloud speech service (Remote).
package stt

import (
	"errors"
	"time"
)

var (
	// ErrModelNotFound means the local model artifacts are missing.
	ErrModelNotFound = errors.New("model not found")

	// ErrMissingCredential means a remote backend was chosen without a key.
	ErrMissingCredential = errors.New("missing credential")

	// ErrConnection wraps send/receive failures of a remote backend.
	ErrConnection = errors.New("connection error")
)

// Result is one caption update. A partial replaces the previous partial of
// the same utterance; a final commits the line for good.
type Result struct {
	Text      string  `json:"text"`
	LatencyMS float64 `json:"latency_ms"`
	IsFinal   bool    `json:"is_final"`
}

type Kind int

const (
	KindLocal Kind = iota
	KindRemote
)

func (k Kind) String() string {
	switch k {
	case KindLocal:
		return "local"
	case KindRemote:
		return "remote"
	default:
		return "unknown"
	}
}

// Transcriber is implemented only by *Local and *Remote. A session picks one
// at start and keeps it until stop.
type Transcriber interface {
	// AcceptFrame feeds mono samples and returns at most one result.
	AcceptFrame(samples []float32, sampleRate int, capturedAt time.Time) (Result, bool)

	// SampleRate is the mono rate the backend expects.
	SampleRate() int

	Kind() Kind

	// Close releases the model or connection. It is safe to call twice.
	Close() error

	sealed()
}

func elapsedMS(since time.Time) float64 {
	if since.IsZero() {
		return 0
	}
	return float64(time.Since(since)) / float64(time.Millisecond)
}
