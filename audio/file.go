package audio

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
)

// FileSource replays a WAV or MP3 file as if it were a capture device. Blocks
// are delivered at real-time pace from a background goroutine, so the rest of
// the pipeline sees the same cadence as a hardware callback.
type FileSource struct {
	path       string
	samples    []float32
	channels   int
	sampleRate int
}

// OpenFileSource decodes path fully into memory.
func OpenFileSource(path string) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open replay file: %w", err)
	}
	defer f.Close()

	src := &FileSource{path: path}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp3":
		err = src.decodeMP3(f)
	case ".wav":
		err = src.decodeWAV(f)
	default:
		err = fmt.Errorf("unsupported replay format %q", filepath.Ext(path))
	}
	if err != nil {
		return nil, err
	}
	return src, nil
}

func (s *FileSource) decodeMP3(r io.Reader) error {
	dec, err := mp3.NewDecoder(r)
	if err != nil {
		return fmt.Errorf("decode mp3: %w", err)
	}
	raw, err := io.ReadAll(dec)
	if err != nil {
		return fmt.Errorf("decode mp3: %w", err)
	}
	// go-mp3 always produces 16-bit little-endian stereo.
	s.channels = 2
	s.sampleRate = dec.SampleRate()
	s.samples = make([]float32, len(raw)/2)
	for i := range s.samples {
		v := int16(binary.LittleEndian.Uint16(raw[i*2:]))
		s.samples[i] = float32(v) / 32768
	}
	return nil
}

func (s *FileSource) decodeWAV(r io.ReadSeeker) error {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return fmt.Errorf("decode wav: not a valid wav file")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return fmt.Errorf("decode wav: %w", err)
	}
	s.channels = int(dec.NumChans)
	s.sampleRate = int(dec.SampleRate)
	s.samples = intBufferToFloat(buf, int(dec.BitDepth))
	return nil
}

func intBufferToFloat(buf *goaudio.IntBuffer, bitDepth int) []float32 {
	if bitDepth <= 0 {
		bitDepth = 16
	}
	scale := float32(math.Pow(2, float64(bitDepth-1)))
	out := make([]float32, len(buf.Data))
	for i, v := range buf.Data {
		out[i] = float32(v) / scale
	}
	return out
}

func (s *FileSource) Device() Device {
	return Device{
		ID:               "file:" + s.path,
		Name:             filepath.Base(s.path),
		HostAPI:          "file",
		Direction:        DirectionInput,
		LoopbackCapable:  true,
		NativeSampleRate: float64(s.sampleRate),
		MaxInputChannels: s.channels,
	}
}

// Duration of the decoded audio.
func (s *FileSource) Duration() time.Duration {
	if s.channels == 0 || s.sampleRate == 0 {
		return 0
	}
	return time.Duration(len(s.samples)/s.channels) * time.Second / time.Duration(s.sampleRate)
}

func (s *FileSource) Devices() ([]Device, error) {
	return []Device{s.Device()}, nil
}

func (s *FileSource) DefaultLoopback() (Device, bool) { return s.Device(), true }

func (s *FileSource) DefaultInput() (Device, bool) { return s.Device(), true }

// OpenStream only accepts the file's own format; the capture ladder moves on
// to the next candidate otherwise.
func (s *FileSource) OpenStream(params StreamParams, callback func(in []float32)) (Stream, error) {
	if params.Device.ID != s.Device().ID {
		return nil, fmt.Errorf("unknown device %q", params.Device.ID)
	}
	if params.Channels != s.channels {
		return nil, fmt.Errorf("file has %d channels, requested %d", s.channels, params.Channels)
	}
	if int(math.Round(params.SampleRate)) != s.sampleRate {
		return nil, fmt.Errorf("file is %d Hz, requested %.0f Hz", s.sampleRate, params.SampleRate)
	}
	frames := params.FramesPerBuffer
	if frames < 1 {
		frames = 1
	}
	return &fileStream{
		samples:  s.samples,
		block:    frames * s.channels,
		interval: time.Duration(frames) * time.Second / time.Duration(s.sampleRate),
		callback: callback,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

type fileStream struct {
	samples  []float32
	block    int
	interval time.Duration
	callback func(in []float32)

	startOnce sync.Once
	stopOnce  sync.Once
	started   bool
	stop      chan struct{}
	done      chan struct{}
}

func (s *fileStream) Start() error {
	s.startOnce.Do(func() {
		s.started = true
		go s.run()
	})
	return nil
}

func (s *fileStream) run() {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for off := 0; off < len(s.samples); off += s.block {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
		}
		end := off + s.block
		if end > len(s.samples) {
			end = len(s.samples)
		}
		s.callback(s.samples[off:end])
	}
}

func (s *fileStream) Stop() error {
	s.stopOnce.Do(func() {
		close(s.stop)
		if s.started {
			<-s.done
		}
	})
	return nil
}

func (s *fileStream) Close() error {
	return s.Stop()
}
