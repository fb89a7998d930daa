package ai

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/A-ryanVAT-S/Provify/internal/logging"
	"github.com/A-ryanVAT-S/Provify/internal/types"
)

// DefaultModel is cheap and fast; both prompts want a single token back.
const DefaultModel = "claude-3-5-haiku-20241022"

// Config holds client configuration
type Config struct {
	APIKey            string  // Anthropic API key; required
	Model             string  // default: DefaultModel
	Retry             RetryConfig
	RequestsPerSecond float64 // 0 disables rate limiting
	MaxConcurrent     int     // 0 = unlimited
}

// sendFunc performs one model round trip and returns the concatenated text blocks.
type sendFunc func(ctx context.Context, prompt string, maxTokens int64) (string, error)

// Client resolves packages and severities with Claude.
type Client struct {
	model   string
	send    sendFunc
	retry   RetryConfig
	breaker *CircuitBreaker
	sem     *semaphore.Weighted
	limiter *rate.Limiter
	log     *slog.Logger
}

var _ Resolver = (*Client)(nil)

// NewClient creates an Anthropic-backed resolver
func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: ANTHROPIC_API_KEY not set", ErrUnavailable)
	}
	api := anthropic.NewClient(option.WithAPIKey(cfg.APIKey))
	c := newClient(cfg, nil)
	c.send = func(ctx context.Context, prompt string, maxTokens int64) (string, error) {
		resp, err := api.Messages.New(ctx, anthropic.MessageNewParams{
			Model:     anthropic.Model(c.model),
			MaxTokens: maxTokens,
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
			},
		})
		if err != nil {
			return "", err
		}
		var text string
		for _, block := range resp.Content {
			if block.Type == "text" {
				text += block.Text
			}
		}
		c.log.Debug("AI call", "input_tokens", resp.Usage.InputTokens, "output_tokens", resp.Usage.OutputTokens)
		return text, nil
	}
	return c, nil
}

func newClient(cfg Config, send sendFunc) *Client {
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	retry := cfg.Retry
	if retry.Timeout == 0 {
		retry = DefaultRetryConfig()
	}

	c := &Client{
		model: model,
		send:  send,
		retry: retry,
		log:   logging.New("ai"),
	}
	if retry.CircuitBreakerEnabled {
		c.breaker = NewCircuitBreaker(retry.FailureThreshold, retry.SuccessThreshold, retry.OpenTimeout)
	}
	if cfg.MaxConcurrent > 0 {
		c.sem = semaphore.NewWeighted(int64(cfg.MaxConcurrent))
	}
	if cfg.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return c
}

func (c *Client) call(ctx context.Context, operation, prompt string, maxTokens int64) (string, error) {
	start := time.Now()
	var text string
	err := c.retryWithBackoff(ctx, operation, func(attemptCtx context.Context) error {
		out, err := c.send(attemptCtx, prompt, maxTokens)
		if err != nil {
			return err
		}
		text = out
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrUnavailable, operation, err)
	}
	c.log.Debug("AI answer", "operation", operation, "answer", safeTruncateString(text, 120), "duration", time.Since(start))
	return text, nil
}

// ResolvePackage asks the model for an app's Android package id.
func (c *Client) ResolvePackage(ctx context.Context, appName string) (string, error) {
	prompt := fmt.Sprintf(`Given the app name %q, return ONLY the Android package name.
For example: "WhatsApp" -> "com.whatsapp", "Instagram" -> "com.instagram.android"
Return ONLY the package name, nothing else.`, appName)

	text, err := c.call(ctx, "package resolution", prompt, 64)
	if err != nil {
		return "", err
	}
	pkg, ok := parsePackage(text)
	if !ok {
		return "", fmt.Errorf("%w: unusable package answer %q", ErrUnavailable, safeTruncateString(text, 80))
	}
	return pkg, nil
}

// ScoreSeverity asks the model to rate a bug from 1 (cosmetic) to 5 (crash or data loss).
// Out-of-range answers are clamped.
func (c *Client) ScoreSeverity(ctx context.Context, description string) (int, error) {
	prompt := fmt.Sprintf(`Rate this bug severity 1-5:
1=Minor cosmetic, 2=Low, 3=Medium, 4=High, 5=Critical (crash/data loss)
Bug: %q
Return ONLY a number 1-5.`, description)

	text, err := c.call(ctx, "severity scoring", prompt, 16)
	if err != nil {
		return 0, err
	}
	n, ok := parseSeverity(text)
	if !ok {
		return 0, fmt.Errorf("%w: unusable severity answer %q", ErrUnavailable, safeTruncateString(text, 80))
	}
	return types.ClampSeverity(n), nil
}
