package listener

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"mic-line-stt/command"
	"mic-line-stt/diagnostics"
	"mic-line-stt/metrics"
	"mic-line-stt/speech_extraction"
	"mic-line-stt/speech_to_text"
)

const (
	defaultListenTimeout = time.Second * 10
	defaultIdleInterval  = time.Millisecond * 100
)

type State int

const (
	StateIdle State = iota
	StateActive
)

func (s State) String() string {
	if s == StateActive {
		return "active"
	}
	return "idle"
}

type voiceImpl struct {
	openDevice  DeviceOpener
	sttEngine   speech_to_text.Interface
	commands    *command.Queue
	cancel      context.CancelFunc
	language    string
	output      io.Writer
	diag        *diagnostics.Writer
	metrics     *metrics.Metrics
	logger      *slog.Logger
	state       State
	calibration time.Duration

	listenTimeout time.Duration
	idleInterval  time.Duration
}

type Config struct {
	OpenDevice DeviceOpener
	STTEngine  speech_to_text.Interface
	Commands   *command.Queue
	// Cancel is the shared cancellation signal; Exit triggers it.
	Cancel   context.CancelFunc
	Language string
	// Output receives one recognized utterance per line.
	Output      io.Writer
	Diagnostics *diagnostics.Writer
	Metrics     *metrics.Metrics
	Logger      *slog.Logger

	// CalibrationDuration is how long ambient noise is sampled at startup.
	CalibrationDuration time.Duration
	// ListenTimeout bounds the wait for a phrase to start. Defaults to 10s.
	ListenTimeout time.Duration
	// IdleInterval is the pause between iterations while idle. Defaults to 100ms.
	IdleInterval time.Duration
}

func New(cfg *Config) (Interface, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	if cfg.OpenDevice == nil {
		return nil, fmt.Errorf("openDevice is nil")
	}

	if cfg.STTEngine == nil {
		return nil, fmt.Errorf("sttEngine is nil")
	}

	if cfg.Commands == nil {
		return nil, fmt.Errorf("commands is nil")
	}

	if cfg.Cancel == nil {
		return nil, fmt.Errorf("cancel is nil")
	}

	if cfg.Output == nil {
		return nil, fmt.Errorf("output is nil")
	}

	if cfg.Diagnostics == nil {
		return nil, fmt.Errorf("diagnostics is nil")
	}

	if cfg.Language == "" {
		return nil, fmt.Errorf("language is empty")
	}

	v := &voiceImpl{
		openDevice:    cfg.OpenDevice,
		sttEngine:     cfg.STTEngine,
		commands:      cfg.Commands,
		cancel:        cfg.Cancel,
		language:      cfg.Language,
		output:        cfg.Output,
		diag:          cfg.Diagnostics,
		metrics:       cfg.Metrics,
		logger:        cfg.Logger,
		state:         StateIdle,
		calibration:   cfg.CalibrationDuration,
		listenTimeout: cfg.ListenTimeout,
		idleInterval:  cfg.IdleInterval,
	}

	if v.listenTimeout <= 0 {
		v.listenTimeout = defaultListenTimeout
	}

	if v.idleInterval <= 0 {
		v.idleInterval = defaultIdleInterval
	}

	if v.logger == nil {
		v.logger = slog.Default()
	}

	return v, nil
}

func (v *voiceImpl) ListenLoop(ctx context.Context) error {
	device, err := v.openDevice(ctx)
	if err != nil {
		return fmt.Errorf("opening capture device: %w", err)
	}

	defer func() {
		if err := device.Close(); err != nil {
			v.logger.Warn("error while closing capture device", slog.String("error", err.Error()))
		}
	}()

	if err := device.Calibrate(ctx, v.calibration); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("calibrating capture device: %w", err)
	}

	v.diag.Println("READY")
	v.metrics.SetListening(false)

	for {
		if ctx.Err() != nil {
			v.logger.Info("shutting down", slog.String("reason", context.Cause(ctx).Error()))
			return nil
		}

		if exit := v.iterate(ctx, device); exit {
			return nil
		}
	}
}

// iterate runs one loop iteration and reports whether Exit was received.
// A panic inside the iteration is reported and swallowed.
func (v *voiceImpl) iterate(ctx context.Context, device speech_extraction.Interface) (exit bool) {
	defer func() {
		if r := recover(); r != nil {
			v.iterationError(fmt.Errorf("panic: %v", r))
			exit = false
		}
	}()

	if v.applyCommands() {
		return true
	}

	if v.state == StateIdle {
		v.idle(ctx)
		return false
	}

	v.handle(ctx, v.capture(ctx, device))

	return false
}

// applyCommands applies every queued command in order and reports whether
// one of them was Exit. Commands queued behind Exit are dropped.
func (v *voiceImpl) applyCommands() bool {
	for _, cmd := range v.commands.Drain() {
		switch cmd.Kind {
		case command.KindStart:
			v.setState(StateActive)
			v.diag.Println("Listening started.")
		case command.KindStop:
			v.setState(StateIdle)
			v.diag.Println("Listening stopped.")
		case command.KindExit:
			v.diag.Println("Exiting...")
			v.cancel()
			return true
		default:
			v.diag.Printf("Unknown command: %s", cmd.Text)
		}
	}

	return false
}

func (v *voiceImpl) setState(state State) {
	if v.state != state {
		v.logger.Debug("listening state changed",
			slog.String("from", v.state.String()),
			slog.String("to", state.String()),
		)
	}

	v.state = state
	v.metrics.SetListening(state == StateActive)
}

// idle waits for the idle interval, a new command or cancellation.
func (v *voiceImpl) idle(ctx context.Context) {
	timer := time.NewTimer(v.idleInterval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-v.commands.Notify():
	case <-timer.C:
	}
}

func (v *voiceImpl) capture(ctx context.Context, device speech_extraction.Interface) Outcome {
	logger := v.logger.With(slog.String("attempt", uuid.NewString()))

	v.diag.Println("Awaiting audio...")

	start := time.Now()
	raw, err := device.Listen(ctx, v.listenTimeout)
	v.metrics.ObserveListen(time.Since(start))

	if err != nil {
		return listenOutcome(err)
	}

	logger.Debug("utterance captured",
		slog.Int("samples", len(raw.Data)),
		slog.Duration("listened", time.Since(start)),
	)

	start = time.Now()
	text, err := v.sttEngine.Process(ctx, raw, v.language)
	v.metrics.ObserveRecognize(time.Since(start))

	outcome := recognitionOutcome(text, err)

	logger.Debug("utterance recognized",
		slog.String("outcome", outcome.Kind.String()),
		slog.Duration("latency", time.Since(start)),
	)

	return outcome
}

func (v *voiceImpl) handle(ctx context.Context, outcome Outcome) {
	// failures caused by shutting down are not worth reporting
	if ctx.Err() != nil && outcome.Kind != OutcomeText {
		return
	}

	v.metrics.Outcome(outcome.Kind.String())

	switch outcome.Kind {
	case OutcomeText:
		if err := diagnostics.WriteLine(v.output, outcome.Text); err != nil {
			v.iterationError(fmt.Errorf("writing transcript: %w", err))
		}
	case OutcomeTimeout:
	case OutcomeUnrecognized:
		v.diag.Println("Could not understand.")
	case OutcomeServiceError:
		v.diag.Printf("STT API error: %v", outcome.Err)
	default:
		v.iterationError(outcome.Err)
		// back off before the next attempt
		v.idle(ctx)
	}
}

func (v *voiceImpl) iterationError(err error) {
	if err == nil {
		err = errors.New("unknown error")
	}

	v.metrics.IterationError()
	v.diag.Printf("Main loop error: %v", err)
}
