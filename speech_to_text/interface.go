package speech_to_text

import (
	"context"
	"errors"

	"github.com/go-audio/audio"
)

// Interface turns one captured utterance into text.
//
// Process returns ErrUnrecognized when the service heard nothing it could
// transcribe and a *ServiceError when the service itself failed.
type Interface interface {
	Process(ctx context.Context, buf *audio.IntBuffer, language string) (string, error)
}

var ErrUnrecognized = errors.New("speech_to_text: could not understand audio")

// ServiceError reports a failed request to a recognition backend.
type ServiceError struct {
	Message string
	Err     error
}

func NewServiceError(err error) *ServiceError {
	return &ServiceError{Message: err.Error(), Err: err}
}

func (e *ServiceError) Error() string {
	return e.Message
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}
