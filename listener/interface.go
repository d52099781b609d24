package listener

import (
	"context"

	"mic-line-stt/speech_extraction"
)

type Interface interface {
	// ListenLoop acquires the capture device and serves commands until Exit
	// is received or ctx is cancelled. It only returns an error when the
	// device cannot be acquired or calibrated.
	ListenLoop(ctx context.Context) error
}

// DeviceOpener acquires the capture device. The listener closes it.
type DeviceOpener func(ctx context.Context) (speech_extraction.Interface, error)
