package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAILLMClient implements LLMClient using the OpenAI chat completions
// API or any compatible endpoint.
type OpenAILLMClient struct {
	log         *slog.Logger
	client      openai.Client
	model       string
	maxTokens   int64
	temperature float64
	timeout     time.Duration
	maxAttempts int
}

type OpenAIConfig struct {
	Logger      *slog.Logger
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int64
	Temperature float64
	Timeout     time.Duration
	MaxAttempts int
}

func NewOpenAILLMClient(cfg OpenAIConfig) (*OpenAILLMClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("API key is required")
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 4096
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &OpenAILLMClient{
		log:         log,
		client:      openai.NewClient(opts...),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		timeout:     cfg.Timeout,
		maxAttempts: cfg.MaxAttempts,
	}, nil
}

// Complete sends a system and a user message and returns the first choice.
// Prompt caching is automatic on this backend, so options are ignored.
func (c *OpenAILLMClient) Complete(ctx context.Context, systemPrompt, userPrompt string, _ ...CompleteOption) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userPrompt),
		},
		MaxTokens:   openai.Int(c.maxTokens),
		Temperature: openai.Float(c.temperature),
	}

	return completeWithRetry(ctx, c.log, "openai", c.timeout, c.maxAttempts, func(ctx context.Context) (string, error) {
		resp, err := c.client.Chat.Completions.New(ctx, params)
		if err != nil {
			return "", fmt.Errorf("openai chat: %w", err)
		}
		c.log.Debug("llm: openai response", "model", c.model,
			"prompt_tokens", resp.Usage.PromptTokens, "completion_tokens", resp.Usage.CompletionTokens)

		if len(resp.Choices) == 0 {
			return "", fmt.Errorf("no choices in response")
		}
		return resp.Choices[0].Message.Content, nil
	})
}
