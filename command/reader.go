package command

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"mic-line-stt/diagnostics"
	"mic-line-stt/metrics"
)

// Reader turns controller lines into queued commands.
type Reader struct {
	queue   *Queue
	cancel  context.CancelFunc
	diag    *diagnostics.Writer
	metrics *metrics.Metrics
	logger  *slog.Logger
}

type Config struct {
	Queue       *Queue
	Cancel      context.CancelFunc
	Diagnostics *diagnostics.Writer
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
}

func NewReader(cfg *Config) (*Reader, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	if cfg.Queue == nil {
		return nil, fmt.Errorf("queue is nil")
	}

	if cfg.Cancel == nil {
		return nil, fmt.Errorf("cancel is nil")
	}

	if cfg.Diagnostics == nil {
		return nil, fmt.Errorf("diagnostics is nil")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Reader{
		queue:   cfg.Queue,
		cancel:  cfg.Cancel,
		diag:    cfg.Diagnostics,
		metrics: cfg.Metrics,
		logger:  logger,
	}, nil
}

// Run reads lines from in until end of input, a read error or cancellation.
// It always cancels the shared context before returning.
func (r *Reader) Run(ctx context.Context, in io.Reader) {
	defer r.cancel()

	br := bufio.NewReader(in)

	for {
		line, err := br.ReadString('\n')

		if ctx.Err() != nil {
			r.logger.Debug("command reader cancelled")
			return
		}

		// a last line without a newline still arrives together with io.EOF;
		// blank lines are commands too and come out as Unknown("")
		if line != "" {
			r.push(Parse(line))
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				r.logger.Debug("command input closed")
				return
			}

			r.diag.Printf("Command error: %v", err)

			return
		}
	}
}

func (r *Reader) push(cmd Command) {
	r.metrics.CommandReceived(cmd.Kind.String())
	r.logger.Debug("command received", slog.String("command", cmd.Text))

	r.queue.Push(cmd)
}
