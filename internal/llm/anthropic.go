package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/claysader-arch/todo-aggregator/internal/retry"
)

const defaultMaxTokens = 4000

// AnthropicModel implements Model on the Anthropic Messages API.
type AnthropicModel struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	limiter   *rate.Limiter
	retry     retry.Policy
	log       *logrus.Entry
}

// AnthropicOption configures an AnthropicModel.
type AnthropicOption func(*anthropicSettings)

type anthropicSettings struct {
	baseURL   string
	maxTokens int64
	rps       float64
	policy    *retry.Policy
	log       *logrus.Entry
}

// WithBaseURL points the client at a different API host.
func WithBaseURL(u string) AnthropicOption {
	return func(s *anthropicSettings) { s.baseURL = u }
}

// WithMaxTokens caps the response length.
func WithMaxTokens(n int64) AnthropicOption {
	return func(s *anthropicSettings) { s.maxTokens = n }
}

// WithRateLimit limits calls per second. Zero or less disables limiting.
func WithRateLimit(rps float64) AnthropicOption {
	return func(s *anthropicSettings) { s.rps = rps }
}

// WithRetryPolicy replaces the default retry policy.
func WithRetryPolicy(p retry.Policy) AnthropicOption {
	return func(s *anthropicSettings) { s.policy = &p }
}

// WithLogger sets the log entry used for call diagnostics.
func WithLogger(entry *logrus.Entry) AnthropicOption {
	return func(s *anthropicSettings) { s.log = entry }
}

// NewAnthropicModel creates a model client. The SDK's own retries are turned
// off; retry.Policy decides instead.
func NewAnthropicModel(apiKey, model string, opts ...AnthropicOption) (*AnthropicModel, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}
	if model == "" {
		return nil, fmt.Errorf("anthropic model is required")
	}

	s := anthropicSettings{maxTokens: defaultMaxTokens, rps: 1}
	for _, opt := range opts {
		opt(&s)
	}

	clientOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if s.baseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(s.baseURL))
	}

	policy := retry.DefaultPolicy(3)
	if s.policy != nil {
		policy = *s.policy
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if s.rps > 0 {
		limiter = rate.NewLimiter(rate.Limit(s.rps), 1)
	}
	entry := s.log
	if entry == nil {
		entry = logrus.NewEntry(logrus.StandardLogger())
	}

	return &AnthropicModel{
		client:    anthropic.NewClient(clientOpts...),
		model:     model,
		maxTokens: s.maxTokens,
		limiter:   limiter,
		retry:     policy,
		log:       entry.WithField("component", "anthropic"),
	}, nil
}

// Complete sends a single user prompt and returns the concatenated text blocks.
func (m *AnthropicModel) Complete(ctx context.Context, prompt string) (string, error) {
	var text string
	err := m.retry.Do(ctx, func(ctx context.Context) error {
		if err := m.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}

		resp, err := m.client.Messages.New(ctx, anthropic.MessageNewParams{
			Model:       anthropic.Model(m.model),
			MaxTokens:   m.maxTokens,
			Temperature: anthropic.Float(0.2),
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
			},
		})
		if err != nil {
			return classify(err)
		}

		var b strings.Builder
		for _, block := range resp.Content {
			if block.Type == "text" {
				b.WriteString(block.Text)
			}
		}
		text = strings.TrimSpace(b.String())
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("anthropic completion failed: %w", err)
	}

	m.log.WithField("response_chars", len(text)).Debug("model call complete")
	return text, nil
}

// classify marks rate limits, overload and server errors as retryable.
func classify(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests,
			apiErr.StatusCode >= 500:
			return retry.Retryable(err, 0)
		}
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	// transport failures
	return retry.Retryable(err, 0)
}
