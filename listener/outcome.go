package listener

import (
	"errors"
	"strings"

	"mic-line-stt/speech_extraction"
	"mic-line-stt/speech_to_text"
)

type OutcomeKind int

const (
	OutcomeText OutcomeKind = iota
	OutcomeTimeout
	OutcomeUnrecognized
	OutcomeServiceError
	// OutcomeFailure is any error outside the recognition taxonomy.
	OutcomeFailure
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeText:
		return "text"
	case OutcomeTimeout:
		return "timeout"
	case OutcomeUnrecognized:
		return "unrecognized"
	case OutcomeServiceError:
		return "service_error"
	default:
		return "failure"
	}
}

// Outcome is the result of one capture and recognize attempt.
type Outcome struct {
	Kind OutcomeKind
	Text string
	Err  error
}

func listenOutcome(err error) Outcome {
	if errors.Is(err, speech_extraction.ErrTimeout) {
		return Outcome{Kind: OutcomeTimeout}
	}

	return Outcome{Kind: OutcomeFailure, Err: err}
}

func recognitionOutcome(text string, err error) Outcome {
	if err == nil {
		if text = strings.TrimSpace(text); text == "" {
			return Outcome{Kind: OutcomeUnrecognized}
		}
		return Outcome{Kind: OutcomeText, Text: text}
	}

	if errors.Is(err, speech_to_text.ErrUnrecognized) {
		return Outcome{Kind: OutcomeUnrecognized}
	}

	var serviceErr *speech_to_text.ServiceError
	if errors.As(err, &serviceErr) {
		return Outcome{Kind: OutcomeServiceError, Err: serviceErr}
	}

	return Outcome{Kind: OutcomeFailure, Err: err}
}
