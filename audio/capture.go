package audio

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// ErrDeviceOpenFailed is returned when every open candidate failed.
var ErrDeviceOpenFailed = errors.New("audio device open failed")

type State int32

const (
	StateIdle State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// CaptureConfig holds the stream negotiation settings of a capture loop.
type CaptureConfig struct {
	// TargetSampleRate is the rate the transcriber prefers.
	TargetSampleRate int

	// RateTolerance is how far (Hz) the device rate may be from the target
	// and still be used as is.
	RateTolerance float64

	// BlockDuration bounds how much audio one callback delivers.
	BlockDuration time.Duration

	// ChannelLadder lists channel counts to try, most capable first.
	ChannelLadder []int

	// CloseTimeout bounds how long Stop waits for the native stream.
	CloseTimeout time.Duration
}

func DefaultCaptureConfig() CaptureConfig {
	return CaptureConfig{
		TargetSampleRate: 16000,
		RateTolerance:    1000,
		BlockDuration:    50 * time.Millisecond,
		ChannelLadder:    []int{2, 1},
		CloseTimeout:     2 * time.Second,
	}
}

// Candidate is one (device, channels, rate) combination to try.
type Candidate struct {
	DeviceID        string
	Channels        int
	SampleRate      float64
	FramesPerBuffer int
}

type OpenAttempt struct {
	Candidate
	Err error
}

// OpenError lists every failed open attempt.
type OpenError struct {
	Attempts []OpenAttempt
}

func (e *OpenError) Error() string {
	if len(e.Attempts) == 0 {
		return ErrDeviceOpenFailed.Error() + ": no candidates"
	}
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s ch=%d rate=%.0f: %v", a.DeviceID, a.Channels, a.SampleRate, a.Err))
	}
	return ErrDeviceOpenFailed.Error() + ": " + strings.Join(parts, "; ")
}

func (e *OpenError) Unwrap() error { return ErrDeviceOpenFailed }

// CaptureLoop owns one input stream and hands each delivered block, copied,
// to its consumer.
type CaptureLoop struct {
	opener StreamOpener
	config CaptureConfig
	log    zerolog.Logger

	mu     sync.Mutex
	stream Stream
	params StreamParams

	state    atomic.Int32
	consumer atomic.Pointer[func(Frame)]
	seq      atomic.Uint64
}

func NewCaptureLoop(opener StreamOpener, config CaptureConfig, log zerolog.Logger) *CaptureLoop {
	def := DefaultCaptureConfig()
	if config.TargetSampleRate <= 0 {
		config.TargetSampleRate = def.TargetSampleRate
	}
	if config.BlockDuration <= 0 {
		config.BlockDuration = def.BlockDuration
	}
	if len(config.ChannelLadder) == 0 {
		config.ChannelLadder = def.ChannelLadder
	}
	if config.CloseTimeout <= 0 {
		config.CloseTimeout = def.CloseTimeout
	}
	return &CaptureLoop{opener: opener, config: config, log: log}
}

// SetConsumer installs the function receiving captured frames. It is called
// on the audio callback context and must not block.
func (c *CaptureLoop) SetConsumer(fn func(Frame)) {
	c.consumer.Store(&fn)
}

func (c *CaptureLoop) State() State {
	return State(c.state.Load())
}

// Params returns the parameters of the running stream.
func (c *CaptureLoop) Params() StreamParams {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.params
}

// Candidates returns the ordered open attempts for device: each channel
// count of the ladder the device supports, at the negotiated rate first and
// the device default rate second.
func (c *CaptureLoop) Candidates(device Device) []Candidate {
	target := float64(c.config.TargetSampleRate)
	native := device.NativeSampleRate

	rate := target
	if native > 0 && math.Abs(native-target) <= c.config.RateTolerance {
		rate = native
	}
	rates := []float64{rate}
	if native > 0 && native != rate {
		rates = append(rates, native)
	}

	var channels []int
	for _, ch := range c.config.ChannelLadder {
		if ch < 1 || (device.MaxInputChannels > 0 && ch > device.MaxInputChannels) {
			continue
		}
		channels = append(channels, ch)
	}
	if len(channels) == 0 {
		channels = []int{1}
	}

	candidates := make([]Candidate, 0, len(channels)*len(rates))
	for _, ch := range channels {
		for _, r := range rates {
			frames := int(r * c.config.BlockDuration.Seconds())
			if frames < 1 {
				frames = 1
			}
			candidates = append(candidates, Candidate{
				DeviceID:        device.ID,
				Channels:        ch,
				SampleRate:      r,
				FramesPerBuffer: frames,
			})
		}
	}
	return candidates
}

// Start opens and starts a stream on device, walking the candidate ladder
// until one succeeds.
func (c *CaptureLoop) Start(device Device) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.state.CompareAndSwap(int32(StateIdle), int32(StateStarting)) {
		return fmt.Errorf("capture loop is %s", c.State())
	}

	var openErr OpenError
	for _, cand := range c.Candidates(device) {
		params := StreamParams{
			Device:          device,
			Channels:        cand.Channels,
			SampleRate:      cand.SampleRate,
			FramesPerBuffer: cand.FramesPerBuffer,
		}
		stream, err := c.opener.OpenStream(params, c.callback(params))
		if err != nil {
			openErr.Attempts = append(openErr.Attempts, OpenAttempt{Candidate: cand, Err: err})
			c.log.Debug().Err(err).Int("channels", cand.Channels).Float64("rate", cand.SampleRate).Msg("open candidate failed")
			continue
		}
		c.state.Store(int32(StateRunning))
		if err := stream.Start(); err != nil {
			c.state.Store(int32(StateStarting))
			_ = stream.Close()
			openErr.Attempts = append(openErr.Attempts, OpenAttempt{Candidate: cand, Err: fmt.Errorf("start: %w", err)})
			continue
		}

		c.stream = stream
		c.params = params
		c.log.Info().
			Str("device", device.Name).
			Int("channels", params.Channels).
			Float64("rate", params.SampleRate).
			Int("frames_per_buffer", params.FramesPerBuffer).
			Msg("capture started")
		return nil
	}

	c.state.Store(int32(StateIdle))
	return &openErr
}

// callback builds the per-block handler for params. It runs on the audio
// backend's thread: copy, stamp and hand off, nothing else.
func (c *CaptureLoop) callback(params StreamParams) func(in []float32) {
	rate := int(math.Round(params.SampleRate))
	return func(in []float32) {
		if State(c.state.Load()) != StateRunning {
			return
		}
		fn := c.consumer.Load()
		if fn == nil {
			return
		}
		samples := make([]float32, len(in))
		copy(samples, in)
		(*fn)(Frame{
			Samples:    samples,
			Channels:   params.Channels,
			SampleRate: rate,
			CapturedAt: time.Now(),
			Sequence:   c.seq.Add(1),
		})
	}
}

// Stop releases the stream. It is a no-op unless the loop is running and
// returns after at most CloseTimeout even if the native stream hangs.
func (c *CaptureLoop) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) {
		return
	}
	stream := c.stream
	c.stream = nil

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := stream.Stop(); err != nil {
			c.log.Warn().Err(err).Msg("stop stream")
		}
		if err := stream.Close(); err != nil {
			c.log.Warn().Err(err).Msg("close stream")
		}
	}()

	select {
	case <-done:
	case <-time.After(c.config.CloseTimeout):
		c.log.Warn().Dur("timeout", c.config.CloseTimeout).Msg("stream release timed out, abandoning it")
	}

	c.params = StreamParams{}
	c.state.Store(int32(StateIdle))
	c.log.Info().Msg("capture stopped")
}
