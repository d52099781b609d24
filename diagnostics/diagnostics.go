// Package diagnostics writes the human-readable notice stream, one message
// per line. Writes from several goroutines never interleave within a line.
package diagnostics

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
)

type Writer struct {
	mu     sync.Mutex
	out    io.Writer
	logger *slog.Logger
}

func New(out io.Writer, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}

	return &Writer{
		out:    out,
		logger: logger,
	}
}

func (w *Writer) Println(msg string) {
	w.logger.Debug("diagnostic", slog.String("message", msg))

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := WriteLine(w.out, msg); err != nil {
		w.logger.Warn("failed to write diagnostic", slog.String("error", err.Error()))
	}
}

func (w *Writer) Printf(format string, args ...any) {
	w.Println(fmt.Sprintf(format, args...))
}

type flusher interface {
	Flush() error
}

// WriteLine writes msg as exactly one line and flushes out when it buffers.
// Embedded line breaks are folded into spaces.
func WriteLine(out io.Writer, msg string) error {
	msg = strings.Join(strings.Fields(strings.ReplaceAll(msg, "\r", " ")), " ")

	if _, err := io.WriteString(out, msg+"\n"); err != nil {
		return err
	}

	if f, ok := out.(flusher); ok {
		return f.Flush()
	}

	return nil
}
