package speech_extraction

import (
	"context"
	"time"

	"github.com/go-audio/audio"
)

// Interface is an acquired capture device that can be calibrated once and
// then asked for one utterance at a time.
type Interface interface {
	Calibrate(ctx context.Context, duration time.Duration) error
	Listen(ctx context.Context, timeout time.Duration) (*audio.IntBuffer, error)
	Close() error
}

// SampleSource delivers mono 16-bit PCM. Read blocks until buf can be filled
// or the source fails.
type SampleSource interface {
	Read(buf []int16) (int, error)
	SampleRate() int
	Close() error
}
