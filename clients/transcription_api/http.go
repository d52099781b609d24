package transcription_api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-audio/audio"

	"mic-line-stt/speech_to_text"
)

const (
	defaultTimeout      = 30 * time.Second
	defaultRetryBackoff = 500 * time.Millisecond
	maxRetryBackoff     = 8 * time.Second
)

type clientImpl struct {
	endpoint     string
	apiKey       string
	maxRetries   int
	retryBackoff time.Duration
	httpClient   *http.Client
	logger       *slog.Logger
}

type Config struct {
	Endpoint     string
	APIKey       string
	Timeout      time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
	HTTPClient   *http.Client
	Logger       *slog.Logger
}

type transcriptionResponse struct {
	Text  string `json:"text"`
	Error string `json:"error,omitempty"`
}

// statusError is a non-2xx answer from the endpoint.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	if e.body == "" {
		return fmt.Sprintf("HTTP error %d", e.code)
	}
	return fmt.Sprintf("HTTP error %d: %s", e.code, e.body)
}

// NewClient returns a recognizer that POSTs each utterance as a WAV file to
// an HTTP transcription endpoint.
func NewClient(cfg *Config) (speech_to_text.Interface, error) {
	if cfg == nil {
		return nil, errors.New("missing parameter: cfg")
	}

	if cfg.Endpoint == "" {
		return nil, errors.New("missing parameter: cfg.Endpoint")
	}

	if _, err := url.Parse(cfg.Endpoint); err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	retryBackoff := cfg.RetryBackoff
	if retryBackoff <= 0 {
		retryBackoff = defaultRetryBackoff
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &clientImpl{
		endpoint:     cfg.Endpoint,
		apiKey:       cfg.APIKey,
		maxRetries:   max(cfg.MaxRetries, 0),
		retryBackoff: retryBackoff,
		httpClient:   httpClient,
		logger:       logger,
	}, nil
}

func (client *clientImpl) Process(ctx context.Context, buf *audio.IntBuffer, language string) (string, error) {
	body, err := speech_to_text.EncodeWAV(buf)
	if err != nil {
		return "", speech_to_text.NewServiceError(fmt.Errorf("encoding audio: %w", err))
	}

	var lastErr error

	for attempt := 0; attempt <= client.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := client.retryBackoff << (attempt - 1)
			if backoff > maxRetryBackoff {
				backoff = maxRetryBackoff
			}

			client.logger.Debug("retrying transcription request",
				slog.Int("attempt", attempt),
				slog.Duration("backoff", backoff),
				slog.String("error", lastErr.Error()),
			)

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		text, err := client.send(ctx, body, language)
		if err == nil {
			if text = strings.TrimSpace(text); text == "" {
				return "", speech_to_text.ErrUnrecognized
			}
			return text, nil
		}

		lastErr = err

		if !retryable(ctx, err) {
			break
		}
	}

	return "", speech_to_text.NewServiceError(lastErr)
}

func (client *clientImpl) send(ctx context.Context, body []byte, language string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, client.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}

	q := req.URL.Query()
	q.Set("language", language)
	req.URL.RawQuery = q.Encode()

	req.Header.Set("Content-Type", "audio/wav")
	req.Header.Set("Accept", "application/json")
	if client.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+client.apiKey)
	}

	resp, err := client.httpClient.Do(req)
	if err != nil {
		return "", err
	}

	defer resp.Body.Close()

	// get the response body
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(respBody))}
	}

	var parsed transcriptionResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("failed to parse response JSON: %w", err)
	}

	if parsed.Error != "" {
		return "", errors.New(parsed.Error)
	}

	return parsed.Text, nil
}

// retryable reports whether a failed request is worth sending again.
func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}

	var status *statusError
	if errors.As(err, &status) {
		return status.code == http.StatusTooManyRequests || status.code >= 500
	}

	// a timed out attempt already used the whole request timeout
	if errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return !urlErr.Timeout()
	}

	return false
}
