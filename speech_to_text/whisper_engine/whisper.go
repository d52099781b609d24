// Package whisper_engine recognizes utterances locally with a whisper.cpp model.
package whisper_engine

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
	"github.com/go-audio/audio"

	"mic-line-stt/speech_to_text"
)

// whisper models expect 16 kHz input
const SampleRate = 16000

type sttImpl struct {
	mu    sync.Mutex
	model whisper.Model
}

type Config struct {
	Model whisper.Model
}

func New(cfg *Config) (speech_to_text.Interface, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	if cfg.Model == nil {
		return nil, fmt.Errorf("model is nil")
	}

	return &sttImpl{
		model: cfg.Model,
	}, nil
}

func (stt *sttImpl) Process(ctx context.Context, wavBuffer *audio.IntBuffer, language string) (string, error) {
	if wavBuffer.Format == nil || wavBuffer.Format.SampleRate != SampleRate {
		return "", speech_to_text.NewServiceError(fmt.Errorf("whisper needs %d Hz audio", SampleRate))
	}

	stt.mu.Lock()
	defer stt.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}

	// Create processing context
	context, err := stt.model.NewContext()
	if err != nil {
		return "", speech_to_text.NewServiceError(err)
	}

	if lang := speech_to_text.PrimaryLanguage(language); lang != "" {
		if err := context.SetLanguage(lang); err != nil {
			return "", speech_to_text.NewServiceError(fmt.Errorf("language %q: %w", language, err))
		}
	}

	var cb whisper.SegmentCallback

	err = context.Process(speech_to_text.Float32Samples(wavBuffer), cb)
	if err != nil {
		return "", speech_to_text.NewServiceError(err)
	}

	segments, err := outputSegments(context)
	if err != nil {
		return "", speech_to_text.NewServiceError(err)
	}

	text := make([]string, 0, len(segments))
	for _, segment := range segments {
		if s := strings.TrimSpace(segment.Text); s != "" {
			text = append(text, s)
		}
	}

	if len(text) == 0 {
		return "", speech_to_text.ErrUnrecognized
	}

	return strings.Join(text, " "), nil
}

func outputSegments(context whisper.Context) ([]whisper.Segment, error) {
	seenText := make(map[string]bool)

	segments := make([]whisper.Segment, 0)

	for {
		segment, err := context.NextSegment()
		if err == io.EOF {
			return segments, nil
		} else if err != nil {
			return nil, err
		}

		// if segment text starts or ends with a parenthesis or a bracket, then ignore it
		if !IsSpeech(segment.Text) {
			continue
		}

		// if we've already seen this text, then ignore it
		if seenText[segment.Text] {
			continue
		}
		seenText[segment.Text] = true

		segments = append(segments, segment)
	}
}

// IsSpeech reports whether a segment is spoken text rather than a
// non-speech annotation such as "[MUSIC]" or "(laughs)".
func IsSpeech(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}

	first, last := text[0], text[len(text)-1]

	return first != '(' && first != '[' && last != ')' && last != ']'
}
