// Package transcribe talks to a hosted speech-to-text API that follows the
// AssemblyAI submit-then-poll contract.
package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/angelmondragon/studioflow-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/studioflow-backend/pkg/errors"
)

const (
	statusQueued     = "queued"
	statusProcessing = "processing"
	statusCompleted  = "completed"
	statusErrored    = "error"

	defaultPollInterval = 5 * time.Second
	defaultHTTPTimeout  = 30 * time.Second
)

// Utterance is one speaker turn. Times are milliseconds.
type Utterance struct {
	Speaker    string  `json:"speaker"`
	Text       string  `json:"text"`
	Start      int64   `json:"start"`
	End        int64   `json:"end"`
	Confidence float64 `json:"confidence"`
}

// Transcript is a completed transcription job.
type Transcript struct {
	ID         string          `json:"id"`
	Status     string          `json:"status"`
	Text       string          `json:"text"`
	Utterances []Utterance     `json:"utterances"`
	Error      string          `json:"error,omitempty"`
	Raw        json.RawMessage `json:"-"`
}

// Client submits audio URLs and polls until the transcript settles.
type Client struct {
	baseURL      string
	apiKey       string
	httpClient   *http.Client
	pollInterval time.Duration
	sleeper      func(context.Context, time.Duration) error
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithSleeper overrides how poll waits are performed (useful for tests).
func WithSleeper(sleeper func(context.Context, time.Duration) error) Option {
	return func(c *Client) {
		c.sleeper = sleeper
	}
}

// NewClient builds a transcription client from config.
func NewClient(cfg config.TranscriptionConfig, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("transcription api key is required")
	}
	c := &Client{
		baseURL:      strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:       strings.TrimSpace(cfg.APIKey),
		httpClient:   &http.Client{Timeout: defaultHTTPTimeout},
		pollInterval: cfg.PollInterval,
		sleeper:      sleepContext,
	}
	if c.pollInterval <= 0 {
		c.pollInterval = defaultPollInterval
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.baseURL == "" {
		return nil, fmt.Errorf("transcription base url is required")
	}
	return c, nil
}

// Transcribe submits audioURL with speaker labels and blocks until the job
// completes, fails, or ctx ends.
func (c *Client) Transcribe(ctx context.Context, audioURL string) (*Transcript, error) {
	submitted, err := c.submit(ctx, audioURL)
	if err != nil {
		return nil, err
	}
	id := submitted.ID
	for {
		switch submitted.Status {
		case statusCompleted:
			return submitted, nil
		case statusErrored:
			return nil, pkgerrors.New(pkgerrors.CodeIrrecoverable, fmt.Sprintf("transcription %s failed: %s", id, submitted.Error))
		case statusQueued, statusProcessing, "":
		default:
			return nil, pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("transcription %s returned unknown status %q", id, submitted.Status))
		}
		if err := c.sleeper(ctx, c.pollInterval); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeTransient, err, "transcription polling interrupted")
		}
		submitted, err = c.get(ctx, id)
		if err != nil {
			return nil, err
		}
	}
}

type submitRequest struct {
	AudioURL      string `json:"audio_url"`
	SpeakerLabels bool   `json:"speaker_labels"`
}

func (c *Client) submit(ctx context.Context, audioURL string) (*Transcript, error) {
	body, err := json.Marshal(submitRequest{AudioURL: audioURL, SpeakerLabels: true})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode transcription request")
	}
	return c.do(ctx, http.MethodPost, c.baseURL+"/transcript", body)
}

func (c *Client) get(ctx context.Context, id string) (*Transcript, error) {
	return c.do(ctx, http.MethodGet, c.baseURL+"/transcript/"+id, nil)
}

func (c *Client) do(ctx context.Context, method, url string, body []byte) (*Transcript, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build transcription request")
	}
	req.Header.Set("Authorization", c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeTransient, err, "transcription request failed")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeTransient, err, "read transcription response")
	}
	if resp.StatusCode >= 300 {
		return nil, statusError(resp.StatusCode, raw)
	}

	var t Transcript
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode transcription response")
	}
	t.Raw = raw
	return &t, nil
}

func statusError(status int, body []byte) error {
	msg := fmt.Sprintf("transcription api http %d: %s", status, strings.TrimSpace(string(body)))
	switch {
	case status == http.StatusTooManyRequests:
		return pkgerrors.New(pkgerrors.CodeRateLimit, msg)
	case status >= 500:
		return pkgerrors.New(pkgerrors.CodeTransient, msg)
	default:
		return pkgerrors.New(pkgerrors.CodeDependency, msg)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
