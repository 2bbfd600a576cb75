package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/malbeclabs/rwe/pkg/analysis"
)

// ErrBackend is wrapped by every error that originates in the generative
// backend.
var ErrBackend = errors.New("generative backend unreachable")

// Config holds the configuration for the pipeline.
type Config struct {
	Logger  *slog.Logger
	LLM     LLMClient
	Analyst Analyst
	Prompts PromptsProvider
	Tracker Tracker

	// MetadataPath is the dataset description handed to the planner. It is
	// read on every run.
	MetadataPath string
}

// CompleteOptions holds options for LLM completion.
type CompleteOptions struct {
	CacheSystemPrompt bool // Enable prompt caching for the system prompt
}

// CompleteOption is a functional option for Complete.
type CompleteOption func(*CompleteOptions)

// WithCacheControl marks the system prompt as cacheable. Backends without
// prompt caching ignore it.
func WithCacheControl() CompleteOption {
	return func(o *CompleteOptions) {
		o.CacheSystemPrompt = true
	}
}

// LLMClient is the interface for interacting with an LLM.
type LLMClient interface {
	// Complete sends a prompt and returns the response text.
	Complete(ctx context.Context, systemPrompt, userPrompt string, opts ...CompleteOption) (string, error)
}

// Analyst executes a plan and reports what happened. Implementations never
// return an error: every failure is reported in the outcome.
type Analyst interface {
	Analyze(ctx context.Context, req analysis.Request) analysis.Outcome
}

// PromptsProvider provides access to prompt templates.
type PromptsProvider interface {
	// GetPrompt returns the prompt content for the given name.
	GetPrompt(name string) string
}

// Tracker records runs for later inspection. Implementations must not fail
// the run; errors are logged and dropped by the pipeline.
type Tracker interface {
	StartRun(ctx context.Context, query string) (runID string, start time.Time, err error)
	FinishRun(ctx context.Context, runID string, start time.Time, rec *Record) error
}

// ProgressStage represents a stage in the pipeline execution.
type ProgressStage string

const (
	StageInterpreting ProgressStage = "interpreting"
	StagePlanning     ProgressStage = "planning"
	StageExecuting    ProgressStage = "executing"
	StageWriting      ProgressStage = "writing"
	StageComplete     ProgressStage = "complete"
	StageError        ProgressStage = "error"
)

// Progress represents the current state of pipeline execution.
type Progress struct {
	Stage ProgressStage
	RunID string
	Error error // Set if an error occurred
}

// ProgressCallback is called at each stage of pipeline execution.
type ProgressCallback func(Progress)
