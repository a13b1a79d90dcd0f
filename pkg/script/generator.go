// Package script turns articles into two-host dialogue scripts using the
// OpenAI chat completions API.
package script

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
	"go.uber.org/zap"

	"github.com/3leaps/quickcast/pkg/podcast"
)

const (
	// DefaultModel is the chat model used for script writing.
	DefaultModel = "gpt-4o"

	// DefaultTemperature keeps the dialogue lively.
	DefaultTemperature = 0.8

	// DefaultMaxTokens bounds the script length.
	DefaultMaxTokens = 1600

	// DefaultTimeout bounds one completion request.
	DefaultTimeout = 60 * time.Second

	// DefaultTargetMinutes is the requested podcast length.
	DefaultTargetMinutes = 2.0

	// MaxRetries is the number of extra attempts after a rate-limit response.
	MaxRetries = 3

	// BaseBackoff is the first wait after a rate-limit response.
	BaseBackoff = 2 * time.Second

	// MaxBackoff caps the wait between attempts.
	MaxBackoff = 32 * time.Second
)

// ErrAPIKeyNotSet is returned when no OpenAI key is configured.
var ErrAPIKeyNotSet = errors.New("openai api key not set")

// Config configures a Generator.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	BackoffBase time.Duration
}

// Generator writes dialogue scripts with a chat model.
type Generator struct {
	client      openai.Client
	model       string
	temperature float64
	maxTokens   int
	timeout     time.Duration
	backoffBase time.Duration
	logger      *zap.Logger
}

// NewGenerator returns a Generator for cfg.
func NewGenerator(cfg Config, logger *zap.Logger) (*Generator, error) {
	if cfg.APIKey == "" {
		return nil, ErrAPIKeyNotSet
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	g := &Generator{
		client:      openai.NewClient(opts...),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		timeout:     cfg.Timeout,
		backoffBase: cfg.BackoffBase,
		logger:      logger,
	}
	if g.model == "" {
		g.model = DefaultModel
	}
	if g.temperature <= 0 {
		g.temperature = DefaultTemperature
	}
	if g.maxTokens <= 0 {
		g.maxTokens = DefaultMaxTokens
	}
	if g.timeout <= 0 {
		g.timeout = DefaultTimeout
	}
	if g.backoffBase <= 0 {
		g.backoffBase = BaseBackoff
	}
	if g.logger == nil {
		g.logger = zap.NewNop()
	}
	return g, nil
}

// Model returns the configured model name.
func (g *Generator) Model() string {
	return g.model
}

// Generate asks the model for a dialogue about art lasting roughly minutes
// and parses the reply.
func (g *Generator) Generate(ctx context.Context, art *podcast.Article, minutes float64) ([]podcast.Line, error) {
	if art == nil {
		return nil, errors.New("article is nil")
	}
	if minutes <= 0 {
		minutes = DefaultTargetMinutes
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	params := openai.ChatCompletionNewParams{
		Model: shared.ChatModel(g.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userPrompt(art, minutes)),
		},
		Temperature: openai.Float(g.temperature),
		MaxTokens:   openai.Int(int64(g.maxTokens)),
	}

	text, err := g.complete(ctx, params)
	if err != nil {
		return nil, errors.Wrap(err, "failed to generate podcast script")
	}

	lines, err := ParseDialogue(text)
	if err != nil {
		return nil, err
	}
	g.logger.Info("Generated script",
		zap.String("model", g.model),
		zap.Int("lines", len(lines)),
		zap.Float64("estimated_minutes", EstimateDuration(lines)))
	return lines, nil
}

func (g *Generator) complete(ctx context.Context, params openai.ChatCompletionNewParams) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= MaxRetries; attempt++ {
		if attempt > 0 {
			wait := g.backoffBase << (attempt - 1)
			if wait > MaxBackoff {
				wait = MaxBackoff
			}
			g.logger.Warn("Chat completion rate limited, retrying",
				zap.Int("attempt", attempt),
				zap.Duration("backoff", wait))
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(wait):
			}
		}

		completion, err := g.client.Chat.Completions.New(ctx, params)
		if err != nil {
			lastErr = err
			if isRateLimitError(err) {
				continue
			}
			return "", err
		}
		if len(completion.Choices) == 0 {
			return "", errors.New("no completion choices returned")
		}
		return completion.Choices[0].Message.Content, nil
	}
	return "", errors.Wrapf(lastErr, "rate limited after %d retries", MaxRetries)
}

func isRateLimitError(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429
	}
	return false
}
