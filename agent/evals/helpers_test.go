//go:build evals

package evals_test

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/joho/godotenv"
	"github.com/malbeclabs/rwe/agent/pkg/pipeline"
	"github.com/malbeclabs/rwe/pkg/cohort"
	"github.com/malbeclabs/rwe/pkg/fixtures"
	"github.com/malbeclabs/rwe/pkg/sandbox"
	"github.com/malbeclabs/rwe/pkg/tablestore"
	"github.com/stretchr/testify/require"
)

func init() {
	possiblePaths := []string{".env", "../../.env"}

	for _, path := range possiblePaths {
		if err := godotenv.Load(path); err == nil {
			break
		}
	}
}

func testLogger(t *testing.T) *slog.Logger {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// LLMClientFactory creates an LLM client for testing
type LLMClientFactory func(t *testing.T) pipeline.LLMClient

func newOpenAILLMClient(t *testing.T) pipeline.LLMClient {
	apiKey := os.Getenv("OPENAI_API_KEY")
	require.NotEmpty(t, apiKey, "OPENAI_API_KEY must be set for OpenAI tests")

	model := os.Getenv("OPENAI_CHAT_MODEL")
	if model == "" {
		model = "gpt-4o-mini"
	}
	client, err := pipeline.NewOpenAILLMClient(pipeline.OpenAIConfig{
		Logger:      testLogger(t),
		APIKey:      apiKey,
		Model:       model,
		MaxTokens:   4096,
		Temperature: 0,
		Timeout:     2 * time.Minute,
		MaxAttempts: 3,
	})
	require.NoError(t, err)
	return client
}

func newAnthropicLLMClient(t *testing.T) pipeline.LLMClient {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	require.NotEmpty(t, apiKey, "ANTHROPIC_API_KEY must be set for Anthropic tests")

	return pipeline.NewAnthropicLLMClient(pipeline.AnthropicConfig{
		Logger:      testLogger(t),
		APIKey:      apiKey,
		Model:       "claude-haiku-4-5-20251001", // Use Haiku for faster/cheaper eval tests
		MaxTokens:   4096,
		Temperature: 0,
		Timeout:     2 * time.Minute,
		MaxAttempts: 3,
	})
}

// setupPipeline wires the full pipeline, code analyst and sandbox over the
// fixture cohort written to a temp dir.
func setupPipeline(t *testing.T, ctx context.Context, llmFactory LLMClientFactory) *pipeline.Pipeline {
	log := testLogger(t)

	dir := t.TempDir()
	patientsPath, err := fixtures.WritePatients(dir, fixtures.Cohort{FillerRows: 20})
	require.NoError(t, err)
	metadataPath, err := fixtures.WriteMetadata(dir)
	require.NoError(t, err)

	store, err := tablestore.New(ctx, tablestore.Config{
		Logger: log,
		Tables: []tablestore.TableConfig{{Name: "patients", Path: patientsPath, IDColumn: "Patient ID"}},
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	aliases := map[string]string{"clinical": "patients"}
	executor, err := cohort.NewExecutor(cohort.ExecutorConfig{
		Logger:       log,
		Resolver:     cohort.NewResolver(store, aliases),
		DefaultTable: "patients",
	})
	require.NoError(t, err)

	runtime, err := sandbox.NewRuntime(sandbox.RuntimeConfig{Logger: log, Executor: executor})
	require.NoError(t, err)

	prompts, err := pipeline.LoadPrompts(nil)
	require.NoError(t, err)

	llm := llmFactory(t)
	analyst, err := pipeline.NewCodeAnalyst(pipeline.CodeAnalystConfig{
		Logger:  log,
		LLM:     llm,
		Prompts: prompts,
		Runtime: runtime,
		Tables:  store,
		Aliases: aliases,
	})
	require.NoError(t, err)

	p, err := pipeline.New(&pipeline.Config{
		Logger:       log,
		LLM:          llm,
		Analyst:      analyst,
		Prompts:      prompts,
		MetadataPath: metadataPath,
	})
	require.NoError(t, err)
	return p
}
