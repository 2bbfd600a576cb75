//go:build evals

package evals_test

import (
	"context"
	"os"
	"testing"

	"github.com/malbeclabs/rwe/agent/pkg/pipeline"
	"github.com/malbeclabs/rwe/pkg/analysis"
	"github.com/stretchr/testify/require"
)

func TestRWE_Agent_Evals_OpenAI_NSCLCTMBCount(t *testing.T) {
	t.Parallel()
	if os.Getenv("OPENAI_API_KEY") == "" {
		t.Skip("OPENAI_API_KEY not set, skipping eval test")
	}

	runTest_NSCLCTMBCount(t, newOpenAILLMClient)
}

func TestRWE_Agent_Evals_Anthropic_NSCLCTMBCount(t *testing.T) {
	t.Parallel()
	if os.Getenv("ANTHROPIC_API_KEY") == "" {
		t.Skip("ANTHROPIC_API_KEY not set, skipping eval test")
	}

	runTest_NSCLCTMBCount(t, newAnthropicLLMClient)
}

func runTest_NSCLCTMBCount(t *testing.T, llmFactory LLMClientFactory) {
	ctx := context.Background()
	p := setupPipeline(t, ctx, llmFactory)

	question := "How many NSCLC stage 4 patients have TMB data?"
	rec, err := p.Run(ctx, question)
	require.NoError(t, err)
	t.Logf("answer:\n%s", rec.Answer())

	require.NotNil(t, rec.Interpretation)
	require.NotNil(t, rec.Interpretation.Value, "interpretation should parse")
	interp := rec.Interpretation.Value
	require.True(t, interp.Answerable)
	require.Contains(t, interp.DetectedIntents, analysis.IntentPatientCounts)

	require.NotNil(t, rec.Plan)
	require.NotNil(t, rec.Plan.Value, "plan should parse")
	var tools []analysis.Tool
	for _, s := range rec.Plan.Value.Steps {
		tools = append(tools, s.Tool)
	}
	require.Contains(t, tools, analysis.ToolCohortFilter)
	require.Contains(t, tools, analysis.ToolFeatureDescriptives)

	// Five NSCLC stage 4 samples from four patients; TMB is numeric for
	// three of them (4, 10, 7).
	require.NotNil(t, rec.ExecutionResult)
	require.Equal(t, analysis.StatusSuccess, rec.ExecutionResult.OverallStatus, rec.ExecutionResult.Error)
	var sawCohort, sawMetrics bool
	for _, s := range rec.ExecutionResult.Steps {
		if s.CohortSummary != nil && s.CohortSummary.PatientCount != nil {
			require.Equal(t, 4, *s.CohortSummary.PatientCount)
			require.Equal(t, 5, s.CohortSummary.RowCount)
			sawCohort = true
		}
		if s.Metrics != nil {
			require.Equal(t, 3, s.Metrics.Count)
			require.InDelta(t, 7.0, s.Metrics.Mean, 1e-9)
			sawMetrics = true
		}
	}
	require.True(t, sawCohort, "expected a cohort summary with a patient count")
	require.True(t, sawMetrics, "expected TMB metrics")

	require.NotEqual(t, pipeline.NoAnswer, rec.Answer())
	require.Contains(t, rec.Answer(), "4")
}
