// Package config loads caption settings from a .env file, the environment
// and command line overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/d1nch8g/livecaption/audio"
)

const (
	BackendLocal     = "local"
	BackendDeepgram  = "deepgram"
	BackendSpeechKit = "speechkit"
)

type Config struct {
	Backend      string `env:"CAPTION_BACKEND" envDefault:"local"`
	ModelDir     string `env:"CAPTION_MODEL_DIR" envDefault:"./models"`
	ModelID      string `env:"CAPTION_MODEL_ID" envDefault:"sherpa-onnx-streaming-zipformer-en-20M-2023-02-17"`
	ModelThreads int    `env:"CAPTION_MODEL_THREADS" envDefault:"1"`

	DeepgramAPIKey string `env:"DEEPGRAM_API_KEY"`
	DeepgramModel  string `env:"DEEPGRAM_MODEL" envDefault:"nova-2"`

	IamToken string `env:"IAM_TOKEN"`
	FolderID string `env:"FOLDER_ID"`

	Language string `env:"LANGUAGE" envDefault:"en-US"`

	AudioSource   string        `env:"AUDIO_SOURCE" envDefault:"loopback"`
	AudioDeviceID string        `env:"AUDIO_DEVICE_ID"`
	ReplayFile    string        `env:"AUDIO_REPLAY_FILE"`
	SampleRate    int           `env:"SAMPLE_RATE" envDefault:"16000"`
	BlockDuration time.Duration `env:"BLOCK_DURATION" envDefault:"50ms"`

	QueueCapacity int           `env:"QUEUE_CAPACITY" envDefault:"100"`
	PollInterval  time.Duration `env:"POLL_INTERVAL" envDefault:"100ms"`
	JoinTimeout   time.Duration `env:"JOIN_TIMEOUT" envDefault:"2s"`

	HTTPAddr       string `env:"HTTP_ADDR"`
	TranscriptFile string `env:"TRANSCRIPT_FILE"`
	LogLevel       string `env:"LOG_LEVEL" envDefault:"info"`
}

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile        string
	Backend        string
	AudioSource    string
	AudioDeviceID  string
	ReplayFile     string
	HTTPAddr       string
	LogLevel       string
	TranscriptFile string
}

// Load reads configuration from .env file, environment variables, and CLI overrides.
// Priority: CLI flags > environment variables > .env file > struct defaults.
func Load(overrides Overrides) (*Config, error) {
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	if overrides.Backend != "" {
		cfg.Backend = overrides.Backend
	}
	if overrides.AudioSource != "" {
		cfg.AudioSource = overrides.AudioSource
	}
	if overrides.AudioDeviceID != "" {
		cfg.AudioDeviceID = overrides.AudioDeviceID
	}
	if overrides.ReplayFile != "" {
		cfg.ReplayFile = overrides.ReplayFile
	}
	if overrides.HTTPAddr != "" {
		cfg.HTTPAddr = overrides.HTTPAddr
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.TranscriptFile != "" {
		cfg.TranscriptFile = overrides.TranscriptFile
	}

	return cfg, nil
}

// Validate checks enumerated and numeric values. Backend credentials are
// checked when the backend is built.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendLocal, BackendDeepgram, BackendSpeechKit:
	default:
		return fmt.Errorf("unknown backend %q (want local, deepgram or speechkit)", c.Backend)
	}
	if _, err := audio.ParseMode(c.AudioSource); err != nil {
		return err
	}
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", c.SampleRate)
	}
	if c.QueueCapacity <= 0 {
		return fmt.Errorf("queue capacity must be positive, got %d", c.QueueCapacity)
	}
	return nil
}

// Mode is the parsed AudioSource. Call Validate first.
func (c *Config) Mode() audio.Mode {
	m, _ := audio.ParseMode(c.AudioSource)
	return m
}
