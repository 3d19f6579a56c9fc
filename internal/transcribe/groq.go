// Package transcribe submits audio to an OpenAI-compatible speech-to-text
// endpoint (Groq by default) and returns the plain-text transcript.
package transcribe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const transcriptionPath = "/openai/v1/audio/transcriptions"

var (
	ErrNoAPIKey        = errors.New("transcription API key not configured")
	ErrEmptyTranscript = errors.New("transcription returned no text")
)

// APIError is a non-2xx response from the transcription service.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("transcription API returned %d: %s", e.StatusCode, e.Body)
}

type Config struct {
	APIKey   string
	BaseURL  string
	Model    string
	Language string
	Timeout  time.Duration
}

// Client calls the transcription endpoint.
type Client struct {
	http     *resty.Client
	apiKey   string
	model    string
	language string
}

func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.groq.com"
	}
	if cfg.Model == "" {
		cfg.Model = "whisper-large-v3"
	}
	if cfg.Language == "" {
		cfg.Language = "en"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}

	cli := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout)

	return &Client{
		http:     cli,
		apiKey:   cfg.APIKey,
		model:    cfg.Model,
		language: cfg.Language,
	}
}

// Transcribe uploads audio and returns the trimmed transcript.
func (c *Client) Transcribe(ctx context.Context, filename string, audio []byte) (string, error) {
	if c.apiKey == "" {
		return "", ErrNoAPIKey
	}
	if filename == "" {
		filename = "audio.webm"
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(c.apiKey).
		SetFileReader("file", filename, bytes.NewReader(audio)).
		SetFormData(map[string]string{
			"model":           c.model,
			"response_format": "text",
			"language":        c.language,
		}).
		Post(transcriptionPath)
	if err != nil {
		return "", fmt.Errorf("transcription request: %w", err)
	}
	if resp.IsError() {
		return "", &APIError{StatusCode: resp.StatusCode(), Body: truncate(resp.String(), 200)}
	}

	text := strings.TrimSpace(resp.String())
	if text == "" {
		return "", ErrEmptyTranscript
	}
	return text, nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
