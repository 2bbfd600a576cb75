// Package rag answers free-text questions from retrieved record chunks with
// a single model call, without planning or code execution.
package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/malbeclabs/rwe/agent/pkg/pipeline"
	"github.com/malbeclabs/rwe/pkg/vectorindex"
)

const DefaultTopK = 5

type Searcher interface {
	Search(ctx context.Context, query string, k int) ([]vectorindex.Result, error)
}

type Config struct {
	Logger   *slog.Logger
	LLM      pipeline.LLMClient
	Searcher Searcher
	Prompts  pipeline.PromptsProvider
	TopK     int
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.LLM == nil {
		return errors.New("llm client is required")
	}
	if cfg.Searcher == nil {
		return errors.New("searcher is required")
	}
	if cfg.Prompts == nil {
		return errors.New("prompts are required")
	}
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	return nil
}

// Answer is the reply to one question together with the chunks it was
// grounded on.
type Answer struct {
	Question string               `json:"question"`
	Answer   string               `json:"answer"`
	Context  []vectorindex.Result `json:"context"`
}

type Answerer struct {
	log *slog.Logger
	cfg Config
}

func New(cfg Config) (*Answerer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Answerer{log: cfg.Logger, cfg: cfg}, nil
}

func (a *Answerer) Answer(ctx context.Context, question string) (*Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, errors.New("question is required")
	}

	results, err := a.cfg.Searcher.Search(ctx, question, a.cfg.TopK)
	if err != nil {
		return nil, fmt.Errorf("rag: retrieval failed: %w", err)
	}
	a.log.Info("rag: retrieved context", "question", question, "chunks", len(results))

	reply, err := a.cfg.LLM.Complete(ctx, a.cfg.Prompts.GetPrompt(pipeline.PromptRAG), userMessage(question, results), pipeline.WithCacheControl())
	if err != nil {
		return &Answer{Question: question, Answer: pipeline.NoAnswer, Context: results}, fmt.Errorf("rag: %w", err)
	}

	return &Answer{
		Question: question,
		Answer:   strings.TrimSpace(reply),
		Context:  results,
	}, nil
}

func userMessage(question string, results []vectorindex.Result) string {
	var sb strings.Builder
	sb.WriteString("## Question\n\n")
	sb.WriteString(question)
	sb.WriteString("\n\n## Retrieved context\n\n")
	if len(results) == 0 {
		sb.WriteString("(no matching records)\n")
	}
	for _, r := range results {
		fmt.Fprintf(&sb, "### id: %s (distance %.4f)\n\n%s\n\n", r.ID, r.Distance, r.Snippet)
	}
	return sb.String()
}
