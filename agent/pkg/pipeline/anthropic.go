package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicLLMClient implements LLMClient using the Anthropic API.
type AnthropicLLMClient struct {
	log         *slog.Logger
	client      anthropic.Client
	model       anthropic.Model
	maxTokens   int64
	temperature float64
	timeout     time.Duration
	maxAttempts int
}

type AnthropicConfig struct {
	Logger      *slog.Logger
	APIKey      string
	Model       string
	MaxTokens   int64
	Temperature float64
	Timeout     time.Duration
	MaxAttempts int
}

// NewAnthropicLLMClient creates a new Anthropic-based LLM client. An empty
// API key falls back to ANTHROPIC_API_KEY from the environment.
func NewAnthropicLLMClient(cfg AnthropicConfig) *AnthropicLLMClient {
	var opts []option.RequestOption
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 4096
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &AnthropicLLMClient{
		log:         log,
		client:      anthropic.NewClient(opts...),
		model:       anthropic.Model(cfg.Model),
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		timeout:     cfg.Timeout,
		maxAttempts: cfg.MaxAttempts,
	}
}

// Complete sends a prompt to Claude and returns the response text.
func (c *AnthropicLLMClient) Complete(ctx context.Context, systemPrompt, userPrompt string, opts ...CompleteOption) (string, error) {
	var o CompleteOptions
	for _, opt := range opts {
		opt(&o)
	}

	system := anthropic.TextBlockParam{Type: "text", Text: systemPrompt}
	if o.CacheSystemPrompt {
		system.CacheControl = anthropic.NewCacheControlEphemeralParam()
	}
	params := anthropic.MessageNewParams{
		Model:       c.model,
		MaxTokens:   c.maxTokens,
		Temperature: anthropic.Float(c.temperature),
		System:      []anthropic.TextBlockParam{system},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	}

	return completeWithRetry(ctx, c.log, "anthropic", c.timeout, c.maxAttempts, func(ctx context.Context) (string, error) {
		msg, err := c.client.Messages.New(ctx, params)
		if err != nil {
			return "", fmt.Errorf("anthropic API error: %w", err)
		}
		c.log.Debug("llm: anthropic response", "model", c.model, "stopReason", msg.StopReason,
			"inputTokens", msg.Usage.InputTokens, "outputTokens", msg.Usage.OutputTokens)

		// Extract text from response
		for _, block := range msg.Content {
			if block.Type == "text" {
				return block.Text, nil
			}
		}
		return "", fmt.Errorf("no text content in response")
	})
}
