package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/afero"

	"mic-line-stt/clients/transcription_api"
	"mic-line-stt/command"
	"mic-line-stt/config"
	"mic-line-stt/diagnostics"
	"mic-line-stt/listener"
	"mic-line-stt/metrics"
	"mic-line-stt/microphone"
	"mic-line-stt/speech_extraction"
	"mic-line-stt/speech_to_text"
	"mic-line-stt/speech_to_text/whisper_engine"
)

func run(parent context.Context, cfg *config.Config) error {
	logger := newLogger(os.Stderr, cfg.Logging)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	m := metrics.New(registry)

	if cfg.Metrics.Address != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Address, registry, logger); err != nil {
				logger.Error("metrics server stopped", "error", err)
			}
		}()
	}

	sttEngine, closeEngine, err := newRecognizer(ctx, cfg.Recognizer, logger)
	if err != nil {
		return err
	}
	defer closeEngine()

	diag := diagnostics.New(os.Stderr, logger)
	queue := command.NewQueue()

	reader, err := command.NewReader(&command.Config{
		Queue:       queue,
		Cancel:      cancel,
		Diagnostics: diag,
		Metrics:     m,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("error with command.NewReader: %w", err)
	}

	loop, err := listener.New(&listener.Config{
		OpenDevice:          deviceOpener(cfg.Audio, requiredSampleRate(cfg.Recognizer), logger),
		STTEngine:           sttEngine,
		Commands:            queue,
		Cancel:              cancel,
		Language:            cfg.Language,
		Output:              os.Stdout,
		Diagnostics:         diag,
		Metrics:             m,
		Logger:              logger,
		CalibrationDuration: cfg.Audio.CalibrationDuration,
	})
	if err != nil {
		return fmt.Errorf("error with listener.New: %w", err)
	}

	logger.Info("starting", "language", cfg.Language, "backend", cfg.Recognizer.Backend, "source", cfg.Audio.Source)

	go reader.Run(ctx, os.Stdin)

	return loop.ListenLoop(ctx)
}

func newLogger(out io.Writer, cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelWarn
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(out, opts))
	}
	return slog.New(slog.NewTextHandler(out, opts))
}

// newRecognizer builds the configured backend. The returned func releases it.
func newRecognizer(ctx context.Context, cfg config.RecognizerConfig, logger *slog.Logger) (speech_to_text.Interface, func(), error) {
	switch cfg.Backend {
	case config.BackendGoogle:
		client, err := speech_to_text.NewGoogle(ctx, &speech_to_text.GoogleConfig{
			CredentialsFile: cfg.Google.CredentialsFile,
			Endpoint:        cfg.Google.Endpoint,
			Timeout:         cfg.Google.Timeout,
			Logger:          logger,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("error with speech_to_text.NewGoogle: %w", err)
		}
		return client, func() {
			if err := client.Close(); err != nil {
				logger.Warn("closing speech client", "error", err)
			}
		}, nil

	case config.BackendHTTP:
		client, err := transcription_api.NewClient(&transcription_api.Config{
			Endpoint:   cfg.HTTP.Endpoint,
			APIKey:     cfg.HTTP.APIKey,
			Timeout:    cfg.HTTP.Timeout,
			MaxRetries: cfg.HTTP.MaxRetries,
			Logger:     logger,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("error with transcription_api.NewClient: %w", err)
		}
		return client, func() {}, nil

	case config.BackendWhisper:
		model, err := whisper.New(cfg.Whisper.ModelPath)
		if err != nil {
			return nil, nil, fmt.Errorf("error loading model: %w", err)
		}

		engine, err := whisper_engine.New(&whisper_engine.Config{Model: model})
		if err != nil {
			model.Close()
			return nil, nil, fmt.Errorf("error with whisper_engine.New: %w", err)
		}
		return engine, func() { model.Close() }, nil
	}

	return nil, nil, fmt.Errorf("unknown recognizer backend %q", cfg.Backend)
}

// requiredSampleRate is the capture rate the backend insists on, 0 if any.
func requiredSampleRate(cfg config.RecognizerConfig) int {
	if cfg.Backend == config.BackendWhisper {
		return whisper_engine.SampleRate
	}
	return 0
}

func deviceOpener(cfg config.AudioConfig, requiredRate int, logger *slog.Logger) listener.DeviceOpener {
	return func(ctx context.Context) (speech_extraction.Interface, error) {
		var source speech_extraction.SampleSource

		switch cfg.Source {
		case config.SourceWav:
			wav, err := speech_extraction.NewWavSource(afero.NewOsFs(), cfg.WavFile, true)
			if err != nil {
				return nil, err
			}
			source = wav
		default:
			mic, err := microphone.Open(&microphone.Config{
				DeviceName: cfg.Device,
				SampleRate: cfg.SampleRate,
				FrameSize:  cfg.FrameSize,
				Logger:     logger,
			})
			if err != nil {
				return nil, err
			}
			source = mic
		}

		device, err := speech_extraction.New(&speech_extraction.Config{
			Source:              source,
			FrameSize:           cfg.FrameSize,
			RequiredSampleRate:  requiredRate,
			EnergyThreshold:     cfg.EnergyThreshold,
			DynamicEnergy:       cfg.DynamicEnergy,
			PauseThreshold:      cfg.PauseThreshold,
			PhraseThreshold:     cfg.PhraseThreshold,
			NonSpeakingDuration: cfg.NonSpeakingDuration,
			PhraseTimeLimit:     cfg.PhraseTimeLimit,
			Logger:              logger,
		})
		if err != nil {
			return nil, errors.Join(err, source.Close())
		}

		return device, nil
	}
}
