// Package tts renders dialogue lines to speech through the Speechmatics
// preview TTS API and fans whole scripts out in ordered parallel batches.
package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/3leaps/quickcast/pkg/audio"
	"github.com/3leaps/quickcast/pkg/podcast"
)

const (
	// DefaultBaseURL is the Speechmatics preview TTS endpoint. The voice name
	// is appended as the final path element.
	DefaultBaseURL = "https://preview.tts.speechmatics.com/generate"

	// DefaultMaxAttempts bounds calls per line, first attempt included.
	DefaultMaxAttempts = 4

	// DefaultBackoffBase is multiplied by 2^attempt between retries.
	DefaultBackoffBase = time.Second

	// DefaultTimeout bounds a single HTTP request.
	DefaultTimeout = 30 * time.Second

	maxErrorBody = 200
)

// Synthesizer converts one line of text into a WAV payload.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, voice podcast.Voice) ([]byte, error)
}

// Config configures a Client.
type Config struct {
	// APIKey is the Speechmatics bearer token (required).
	APIKey string

	// BaseURL overrides DefaultBaseURL.
	BaseURL string

	// MaxAttempts overrides DefaultMaxAttempts.
	MaxAttempts int

	// BackoffBase overrides DefaultBackoffBase.
	BackoffBase time.Duration

	// Timeout overrides DefaultTimeout.
	Timeout time.Duration

	// RequestsPerSecond throttles outbound requests. Zero disables throttling.
	RequestsPerSecond float64
}

// Client is a Synthesizer backed by the Speechmatics HTTP API.
type Client struct {
	apiKey      string
	baseURL     string
	maxAttempts int
	backoffBase time.Duration
	httpClient  *http.Client
	limiter     *rate.Limiter
	logger      *zap.Logger
	sleep       func(ctx context.Context, d time.Duration) error
}

var _ Synthesizer = (*Client)(nil)

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(l *zap.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithSleep replaces the backoff wait. Tests use it to avoid real delays.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) ClientOption {
	return func(c *Client) {
		if fn != nil {
			c.sleep = fn
		}
	}
}

// NewClient builds a Client from cfg.
func NewClient(cfg Config, opts ...ClientOption) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("speechmatics api key is required")
	}

	c := &Client{
		apiKey:      cfg.APIKey,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		maxAttempts: cfg.MaxAttempts,
		backoffBase: cfg.BackoffBase,
		logger:      zap.NewNop(),
		sleep:       sleepContext,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.maxAttempts <= 0 {
		c.maxAttempts = DefaultMaxAttempts
	}
	if c.backoffBase <= 0 {
		c.backoffBase = DefaultBackoffBase
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c.httpClient = &http.Client{Timeout: timeout}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	c.limiter = rate.NewLimiter(limit, 1)

	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Synthesize renders text with the given voice. Transient service failures
// (HTTP 429 and 503) are retried with 2^attempt × BackoffBase waits until
// MaxAttempts calls have been made; every other failure is returned at once.
func (c *Client) Synthesize(ctx context.Context, text string, voice podcast.Voice) ([]byte, error) {
	if !voice.Valid() {
		return nil, &SynthesisError{Kind: KindFatal, Voice: string(voice), Err: errors.New("unknown voice")}
	}

	var lastErr *SynthesisError
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		data, err := c.call(ctx, text, voice)
		if err == nil {
			return data, nil
		}

		var se *SynthesisError
		if !errors.As(err, &se) {
			return nil, err
		}
		se.Attempts = attempt
		lastErr = se

		if !se.Retryable() {
			return nil, se
		}
		if attempt == c.maxAttempts {
			break
		}

		wait := c.backoffBase * time.Duration(1<<attempt)
		c.logger.Warn("Speech service busy, retrying",
			zap.String("voice", voice.String()),
			zap.Int("status", se.StatusCode),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", c.maxAttempts),
			zap.Duration("backoff", wait))
		if err := c.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}

	lastErr.Kind = KindFatal
	return nil, lastErr
}

type synthesizeRequest struct {
	Text string `json:"text"`
}

func (c *Client) call(ctx context.Context, text string, voice podcast.Voice) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(synthesizeRequest{Text: text})
	if err != nil {
		return nil, errors.Wrap(err, "encode request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+voice.String(), bytes.NewReader(payload))
	if err != nil {
		return nil, &SynthesisError{Kind: KindFatal, Voice: voice.String(), Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &SynthesisError{Kind: KindFatal, Voice: voice.String(), Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &SynthesisError{Kind: KindFatal, Voice: voice.String(), StatusCode: resp.StatusCode, Err: errors.Wrap(err, "read response")}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := string(body)
		if len(snippet) > maxErrorBody {
			snippet = snippet[:maxErrorBody]
		}
		return nil, &SynthesisError{
			Kind:       classifyStatus(resp.StatusCode),
			Voice:      voice.String(),
			StatusCode: resp.StatusCode,
			Body:       snippet,
			Err:        errors.Newf("unexpected status %s", resp.Status),
		}
	}

	if len(body) < audio.HeaderSize {
		return nil, &SynthesisError{
			Kind:       KindFatal,
			Voice:      voice.String(),
			StatusCode: resp.StatusCode,
			Err:        errors.Newf("invalid audio payload of %d bytes", len(body)),
		}
	}
	return body, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
