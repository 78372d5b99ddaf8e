package audio

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStream struct {
	mu       sync.Mutex
	started  bool
	stopped  int
	closed   int
	startErr error
	block    chan struct{}
}

func (s *fakeStream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startErr != nil {
		return s.startErr
	}
	s.started = true
	return nil
}

func (s *fakeStream) Stop() error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped++
	return nil
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

type fakeOpener struct {
	mu       sync.Mutex
	accept   func(StreamParams) error
	attempts []StreamParams
	stream   *fakeStream
	callback func(in []float32)
}

func (o *fakeOpener) OpenStream(params StreamParams, cb func(in []float32)) (Stream, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.attempts = append(o.attempts, params)
	if o.accept != nil {
		if err := o.accept(params); err != nil {
			return nil, err
		}
	}
	if o.stream == nil {
		o.stream = &fakeStream{}
	}
	o.callback = cb
	return o.stream, nil
}

func (o *fakeOpener) deliver(in []float32) {
	o.mu.Lock()
	cb := o.callback
	o.mu.Unlock()
	cb(in)
}

func stereoDevice(rate float64) Device {
	return Device{ID: "dev", Name: "Speakers [Loopback]", MaxInputChannels: 2, NativeSampleRate: rate}
}

func TestCandidates_NegotiatesRate(t *testing.T) {
	c := NewCaptureLoop(&fakeOpener{}, DefaultCaptureConfig(), zerolog.Nop())

	cands := c.Candidates(stereoDevice(16500))
	require.Len(t, cands, 2)
	assert.Equal(t, 2, cands[0].Channels)
	assert.Equal(t, 16500.0, cands[0].SampleRate)
	assert.Equal(t, 825, cands[0].FramesPerBuffer)
	assert.Equal(t, 1, cands[1].Channels)

	cands = c.Candidates(stereoDevice(48000))
	require.Len(t, cands, 4)
	assert.Equal(t, 16000.0, cands[0].SampleRate)
	assert.Equal(t, 48000.0, cands[1].SampleRate)
	assert.Equal(t, 800, cands[0].FramesPerBuffer)
	assert.Equal(t, 2400, cands[1].FramesPerBuffer)
}

func TestCandidates_RespectsDeviceChannels(t *testing.T) {
	c := NewCaptureLoop(&fakeOpener{}, DefaultCaptureConfig(), zerolog.Nop())
	cands := c.Candidates(Device{ID: "mono", MaxInputChannels: 1, NativeSampleRate: 16000})
	require.Len(t, cands, 1)
	assert.Equal(t, 1, cands[0].Channels)
}

func TestStart_FallsBackToMono(t *testing.T) {
	opener := &fakeOpener{accept: func(p StreamParams) error {
		if p.Channels == 2 {
			return errors.New("invalid channel count")
		}
		return nil
	}}
	c := NewCaptureLoop(opener, DefaultCaptureConfig(), zerolog.Nop())

	require.NoError(t, c.Start(stereoDevice(16000)))
	assert.Equal(t, StateRunning, c.State())
	assert.Equal(t, 1, c.Params().Channels)
	require.Len(t, opener.attempts, 2)
	assert.Equal(t, 2, opener.attempts[0].Channels)
	assert.True(t, opener.stream.started)

	c.Stop()
}

func TestStart_AllCandidatesFail(t *testing.T) {
	opener := &fakeOpener{accept: func(StreamParams) error { return errors.New("device busy") }}
	c := NewCaptureLoop(opener, DefaultCaptureConfig(), zerolog.Nop())

	err := c.Start(stereoDevice(48000))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDeviceOpenFailed)

	var openErr *OpenError
	require.ErrorAs(t, err, &openErr)
	assert.Len(t, openErr.Attempts, 4)
	assert.Contains(t, err.Error(), "device busy")
	assert.Equal(t, StateIdle, c.State())
}

func TestStart_StartFailureClosesStream(t *testing.T) {
	stream := &fakeStream{startErr: errors.New("boom")}
	opener := &fakeOpener{stream: stream}
	c := NewCaptureLoop(opener, DefaultCaptureConfig(), zerolog.Nop())

	err := c.Start(Device{ID: "x", MaxInputChannels: 1, NativeSampleRate: 16000})
	assert.ErrorIs(t, err, ErrDeviceOpenFailed)
	assert.Equal(t, 1, stream.closed)
}

func TestStart_Twice(t *testing.T) {
	c := NewCaptureLoop(&fakeOpener{}, DefaultCaptureConfig(), zerolog.Nop())
	require.NoError(t, c.Start(stereoDevice(16000)))
	assert.Error(t, c.Start(stereoDevice(16000)))
	c.Stop()
}

func TestCallback_CopiesBlock(t *testing.T) {
	opener := &fakeOpener{}
	c := NewCaptureLoop(opener, DefaultCaptureConfig(), zerolog.Nop())

	var frames []Frame
	c.SetConsumer(func(f Frame) { frames = append(frames, f) })
	require.NoError(t, c.Start(stereoDevice(16000)))

	buf := []float32{0.1, 0.2, 0.3, 0.4}
	opener.deliver(buf)
	buf[0] = 9

	require.Len(t, frames, 1)
	assert.Equal(t, []float32{0.1, 0.2, 0.3, 0.4}, frames[0].Samples)
	assert.Equal(t, 2, frames[0].Channels)
	assert.Equal(t, 16000, frames[0].SampleRate)
	assert.Equal(t, uint64(1), frames[0].Sequence)
	assert.False(t, frames[0].CapturedAt.IsZero())

	c.Stop()
	opener.deliver(buf)
	assert.Len(t, frames, 1, "no frames after stop")
}

func TestCallback_FullQueueNeverBlocks(t *testing.T) {
	opener := &fakeOpener{}
	c := NewCaptureLoop(opener, DefaultCaptureConfig(), zerolog.Nop())
	q := NewQueue(2)
	c.SetConsumer(func(f Frame) { q.Push(f) })
	require.NoError(t, c.Start(stereoDevice(16000)))
	defer c.Stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			opener.deliver(make([]float32, 8))
		}
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("capture callback blocked")
	}
	assert.Equal(t, 2, q.Len())
	assert.Equal(t, uint64(48), q.Dropped())
}

func TestStop_IdempotentAndNoopFromIdle(t *testing.T) {
	opener := &fakeOpener{}
	c := NewCaptureLoop(opener, DefaultCaptureConfig(), zerolog.Nop())

	c.Stop()
	assert.Equal(t, StateIdle, c.State())

	require.NoError(t, c.Start(stereoDevice(16000)))
	c.Stop()
	c.Stop()
	assert.Equal(t, StateIdle, c.State())
	assert.Equal(t, 1, opener.stream.stopped)
	assert.Equal(t, 1, opener.stream.closed)
}

func TestStop_BoundedWhenStreamHangs(t *testing.T) {
	stream := &fakeStream{block: make(chan struct{})}
	defer close(stream.block)
	cfg := DefaultCaptureConfig()
	cfg.CloseTimeout = 50 * time.Millisecond
	c := NewCaptureLoop(&fakeOpener{stream: stream}, cfg, zerolog.Nop())
	require.NoError(t, c.Start(stereoDevice(16000)))

	start := time.Now()
	c.Stop()
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, StateIdle, c.State())
}

func TestFrameDuration(t *testing.T) {
	f := Frame{Samples: make([]float32, 1600), Channels: 2, SampleRate: 16000}
	assert.Equal(t, 50*time.Millisecond, f.Duration())
	assert.Zero(t, Frame{}.Duration())
}
