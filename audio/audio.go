// Package audio acquires live audio and prepares it for transcription:
// device enumeration and resolution, the capture loop that owns the
// hardware stream, the bounded frame queue and mono resampling.
package audio

import "time"

// Frame is one block of captured audio. Samples are interleaved float32 in
// [-1, 1] and are always a private copy of the block handed over by the
// hardware callback.
type Frame struct {
	Samples    []float32
	Channels   int
	SampleRate int
	CapturedAt time.Time
	Sequence   uint64
}

// Duration reports how much audio the frame carries.
func (f Frame) Duration() time.Duration {
	if f.Channels <= 0 || f.SampleRate <= 0 {
		return 0
	}
	perChannel := len(f.Samples) / f.Channels
	return time.Duration(perChannel) * time.Second / time.Duration(f.SampleRate)
}

// Stream is an opened hardware (or emulated) input stream.
type Stream interface {
	// Start begins delivering blocks to the callback given at open time.
	Start() error

	// Stop halts delivery. The callback is not invoked after Stop returns.
	Stop() error

	// Close releases the native resources held by the stream.
	Close() error
}

// StreamParams describes one attempt to open an input stream.
type StreamParams struct {
	Device          Device
	Channels        int
	SampleRate      float64
	FramesPerBuffer int
}

// StreamOpener opens input streams. The callback runs on a context owned by
// the audio backend and must return quickly.
type StreamOpener interface {
	OpenStream(params StreamParams, callback func(in []float32)) (Stream, error)
}
