package speech_to_text

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/go-audio/audio"
	"google.golang.org/api/option"
)

const defaultGoogleTimeout = 15 * time.Second

// Google recognizes utterances with the Google Cloud Speech-to-Text API.
type Google struct {
	client  *speech.Client
	timeout time.Duration
	logger  *slog.Logger
}

type GoogleConfig struct {
	// CredentialsFile is a service account key. Empty uses application default credentials.
	CredentialsFile string
	// Endpoint overrides the API endpoint.
	Endpoint string
	Timeout  time.Duration
	Logger   *slog.Logger
}

func NewGoogle(ctx context.Context, cfg *GoogleConfig) (*Google, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}

	client, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Google Speech client: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultGoogleTimeout
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Google{
		client:  client,
		timeout: timeout,
		logger:  logger,
	}, nil
}

func (g *Google) Process(ctx context.Context, buf *audio.IntBuffer, language string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.client.Recognize(ctx, recognizeRequest(buf, language))
	if err != nil {
		return "", NewServiceError(err)
	}

	g.logger.Debug("google recognition finished", slog.Int("results", len(resp.GetResults())))

	return transcript(resp)
}

func (g *Google) Close() error {
	return g.client.Close()
}

func recognizeRequest(buf *audio.IntBuffer, language string) *speechpb.RecognizeRequest {
	return &speechpb.RecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:        speechpb.RecognitionConfig_LINEAR16,
			SampleRateHertz: int32(buf.Format.SampleRate),
			LanguageCode:    language,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{
				Content: LinearPCM(buf),
			},
		},
	}
}

// transcript joins the best alternative of every result.
func transcript(resp *speechpb.RecognizeResponse) (string, error) {
	parts := make([]string, 0, len(resp.GetResults()))

	for _, result := range resp.GetResults() {
		alternatives := result.GetAlternatives()
		if len(alternatives) == 0 {
			continue
		}

		if text := strings.TrimSpace(alternatives[0].GetTranscript()); text != "" {
			parts = append(parts, text)
		}
	}

	if len(parts) == 0 {
		return "", ErrUnrecognized
	}

	return strings.Join(parts, " "), nil
}
