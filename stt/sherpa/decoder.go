// Package sherpa binds stt.Decoder to the sherpa-onnx streaming transducer.
// It is separate from stt so that stt builds and tests without cgo.
package sherpa

import (
	"fmt"

	onnx "github.com/k2-fsa/sherpa-onnx-go/sherpa_onnx"

	"github.com/d1nch8g/livecaption/stt"
)

const (
	SampleRate = 16000
	featureDim = 80
)

type Options struct {
	Threads int

	// Endpoint rules, seconds.
	TrailingSilenceNoSpeech float32
	TrailingSilence         float32
	MaxUtterance            float32
}

func DefaultOptions() Options {
	return Options{
		Threads:                 1,
		TrailingSilenceNoSpeech: 2.4,
		TrailingSilence:         1.2,
		MaxUtterance:            20,
	}
}

// Decoder owns one recognizer and its single stream.
type Decoder struct {
	recognizer *onnx.OnlineRecognizer
	stream     *onnx.OnlineStream
}

var _ stt.Decoder = (*Decoder)(nil)

// New loads the model. Files must come from stt.LocateModel.
func New(files stt.ModelFiles, opts Options) (*Decoder, error) {
	if opts.Threads <= 0 {
		opts.Threads = 1
	}

	config := onnx.OnlineRecognizerConfig{}
	config.FeatConfig = onnx.FeatureConfig{SampleRate: SampleRate, FeatureDim: featureDim}
	config.ModelConfig.Transducer.Encoder = files.Encoder
	config.ModelConfig.Transducer.Decoder = files.Decoder
	config.ModelConfig.Transducer.Joiner = files.Joiner
	config.ModelConfig.Tokens = files.Tokens
	config.ModelConfig.NumThreads = opts.Threads
	config.ModelConfig.Provider = "cpu"
	config.DecodingMethod = "greedy_search"
	config.EnableEndpoint = 1
	config.Rule1MinTrailingSilence = opts.TrailingSilenceNoSpeech
	config.Rule2MinTrailingSilence = opts.TrailingSilence
	config.Rule3MinUtteranceLength = opts.MaxUtterance

	recognizer := onnx.NewOnlineRecognizer(&config)
	if recognizer == nil {
		return nil, fmt.Errorf("%w: recognizer rejected model in %s", stt.ErrModelNotFound, files.Dir)
	}
	return &Decoder{
		recognizer: recognizer,
		stream:     onnx.NewOnlineStream(recognizer),
	}, nil
}

func (d *Decoder) AcceptWaveform(sampleRate int, samples []float32) {
	d.stream.AcceptWaveform(sampleRate, samples)
}

func (d *Decoder) IsReady() bool { return d.recognizer.IsReady(d.stream) }

func (d *Decoder) Decode() { d.recognizer.Decode(d.stream) }

func (d *Decoder) Text() string { return d.recognizer.GetResult(d.stream).Text }

func (d *Decoder) IsEndpoint() bool { return d.recognizer.IsEndpoint(d.stream) }

func (d *Decoder) Reset() { d.recognizer.Reset(d.stream) }

func (d *Decoder) Close() {
	onnx.DeleteOnlineStream(d.stream)
	onnx.DeleteOnlineRecognizer(d.recognizer)
}
