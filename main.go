package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/d1nch8g/livecaption/audio"
	"github.com/d1nch8g/livecaption/config"
	"github.com/d1nch8g/livecaption/display"
	"github.com/d1nch8g/livecaption/engine"
	"github.com/d1nch8g/livecaption/metrics"
	"github.com/d1nch8g/livecaption/stt"
	"github.com/d1nch8g/livecaption/stt/sherpa"
)

var version = "dev"

const statsInterval = 30 * time.Second

func main() {
	var (
		envFile     = flag.String("env", "", "path to .env file (default .env)")
		backend     = flag.String("backend", "", "transcription backend: local, deepgram or speechkit")
		source      = flag.String("source", "", "audio source: loopback or microphone")
		deviceID    = flag.String("device", "", "capture device id (see -list-devices)")
		replay      = flag.String("replay", "", "caption a WAV or MP3 file instead of a live device")
		httpAddr    = flag.String("http", "", "serve the caption feed on this address, e.g. :8080")
		logLevel    = flag.String("log-level", "", "log level: debug, info, warn, error")
		transcript  = flag.String("transcript", "", "write committed lines to this file on exit")
		listDevices = flag.Bool("list-devices", false, "print capture devices and exit")
	)
	flag.Parse()

	cfg, err := config.Load(config.Overrides{
		EnvFile:        *envFile,
		Backend:        *backend,
		AudioSource:    *source,
		AudioDeviceID:  *deviceID,
		ReplayFile:     *replay,
		HTTPAddr:       *httpAddr,
		LogLevel:       *logLevel,
		TranscriptFile: *transcript,
	})
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("invalid configuration")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	// stdout carries the captions
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
		With().Timestamp().Logger().Level(level)

	if err := run(cfg, *listDevices, log); err != nil {
		log.Fatal().Err(err).Msg("livecaption failed")
	}
}

func run(cfg *config.Config, listDevices bool, log zerolog.Logger) error {
	audioLog := log.With().Str("component", "capture").Logger()

	var (
		backend audio.DeviceBackend
		opener  audio.StreamOpener
	)
	if cfg.ReplayFile != "" {
		src, err := audio.OpenFileSource(cfg.ReplayFile)
		if err != nil {
			return err
		}
		log.Info().Str("file", cfg.ReplayFile).Dur("duration", src.Duration()).Msg("replaying file")
		backend, opener = src, src
	} else {
		pa := audio.NewPortAudio(audio.DefaultHostAPI(), audioLog)
		if err := pa.Initialize(); err != nil {
			return fmt.Errorf("initialize portaudio: %w", err)
		}
		defer pa.Terminate()
		backend, opener = pa, pa
	}

	selector := audio.NewDeviceSelector(backend, audioLog)
	if listDevices {
		return printDevices(os.Stdout, selector)
	}

	capture := audio.NewCaptureLoop(opener, audio.CaptureConfig{
		TargetSampleRate: cfg.SampleRate,
		RateTolerance:    1000,
		BlockDuration:    cfg.BlockDuration,
		ChannelLadder:    []int{2, 1},
		CloseTimeout:     cfg.JoinTimeout,
	}, audioLog)

	eng := engine.New(engine.Config{
		Mode:          cfg.Mode(),
		DeviceID:      cfg.AudioDeviceID,
		QueueCapacity: cfg.QueueCapacity,
		PollInterval:  cfg.PollInterval,
		JoinTimeout:   cfg.JoinTimeout,
	}, selector, capture, transcriberFactory(cfg, log.With().Str("component", "stt").Logger()),
		log.With().Str("component", "engine").Logger())

	eng.AddSink(display.NewConsole(os.Stdout).Show)
	prometheus.MustRegister(metrics.NewCollector(eng))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var hub *display.Hub
	errCh := make(chan error, 1)
	if cfg.HTTPAddr != "" {
		hub = display.NewHub(eng, log.With().Str("component", "display").Logger())
		eng.AddSink(hub.Publish)
		go func() {
			errCh <- hub.Start(cfg.HTTPAddr)
		}()
	}

	if err := eng.Start(ctx); err != nil {
		return err
	}
	log.Info().Str("version", version).Str("backend", cfg.Backend).Msg("captioning, press Ctrl-C to stop")

	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

wait:
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("shutdown signal received")
			break wait
		case err := <-errCh:
			if err != nil {
				log.Error().Err(err).Msg("caption feed error")
			}
			break wait
		case <-ticker.C:
			st := eng.Stats()
			log.Info().
				Uint64("processed", st.Processed).
				Uint64("dropped", st.Dropped).
				Uint64("failed", st.Failed).
				Uint64("skipped", st.Skipped).
				Int("queue", st.QueueDepth).
				Float64("avg_latency_ms", st.Latency.AverageLatencyMS).
				Float64("rtf", st.Latency.RealTimeFactor).
				Msg("stats")
		}
	}

	if err := eng.Stop(); err != nil {
		log.Warn().Err(err).Msg("stop engine")
	}
	fmt.Fprintln(os.Stdout)

	if hub != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := hub.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("caption feed shutdown")
		}
	}

	if cfg.TranscriptFile != "" {
		lines := eng.CommittedLines()
		if err := display.SaveTranscript(cfg.TranscriptFile, lines); err != nil {
			return err
		}
		log.Info().Str("file", cfg.TranscriptFile).Int("lines", len(lines)).Msg("transcript saved")
	}

	log.Info().Msg("livecaption stopped")
	return nil
}

// transcriberFactory builds the backend chosen in cfg. It lives here rather
// than in stt because the local decoder needs cgo.
func transcriberFactory(cfg *config.Config, log zerolog.Logger) engine.TranscriberFactory {
	return func(ctx context.Context) (stt.Transcriber, error) {
		switch cfg.Backend {
		case config.BackendDeepgram:
			conn, err := stt.DialDeepgram(ctx, stt.DeepgramConfig{
				APIKey:     cfg.DeepgramAPIKey,
				Model:      cfg.DeepgramModel,
				Language:   cfg.Language,
				SampleRate: cfg.SampleRate,
			}, log)
			if err != nil {
				return nil, err
			}
			return stt.NewRemote(conn, cfg.SampleRate, cfg.JoinTimeout, log), nil

		case config.BackendSpeechKit:
			conn, err := stt.DialSpeechKit(ctx, stt.SpeechKitConfig{
				IAMToken:   cfg.IamToken,
				FolderID:   cfg.FolderID,
				Language:   cfg.Language,
				SampleRate: cfg.SampleRate,
			}, log)
			if err != nil {
				return nil, err
			}
			return stt.NewRemote(conn, cfg.SampleRate, cfg.JoinTimeout, log), nil

		default:
			files, err := stt.LocateModel(stt.ModelDir(cfg.ModelDir, cfg.ModelID))
			if err != nil {
				return nil, err
			}
			opts := sherpa.DefaultOptions()
			opts.Threads = cfg.ModelThreads
			dec, err := sherpa.New(files, opts)
			if err != nil {
				return nil, err
			}
			log.Info().Str("model", files.Dir).Int("threads", opts.Threads).Msg("local model loaded")
			return stt.NewLocal(dec, sherpa.SampleRate, log), nil
		}
	}
}

func printDevices(w io.Writer, selector *audio.DeviceSelector) error {
	devices, err := selector.ListDevices()
	if err != nil {
		return err
	}
	for _, d := range devices {
		marker := ""
		if d.IsLoopback() {
			marker = "  [loopback]"
		}
		fmt.Fprintf(w, "%-48s %s (%d ch, %.0f Hz)%s\n", d.ID, d.Name, d.MaxInputChannels, d.NativeSampleRate, marker)
	}
	return nil
}
