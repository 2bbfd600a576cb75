package pipeline_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/malbeclabs/rwe/agent/pkg/pipeline"
	"github.com/malbeclabs/rwe/pkg/analysis"
	"github.com/malbeclabs/rwe/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writerInput decodes what the writer was shown.
type writerInput struct {
	UserQuery       string                   `json:"user_query"`
	OncologistView  map[string]any           `json:"oncologist_view"`
	Plan            map[string]any           `json:"plan"`
	ExecutionResult analysis.ExecutionResult `json:"execution_result"`
	AnalysisError   string                   `json:"analysis_error"`
}

func decodeWriterInput(t *testing.T, llm *mockLLM) writerInput {
	t.Helper()

	var in writerInput
	require.NoError(t, json.Unmarshal([]byte(llm.lastCall(t, pipeline.PromptWriter)), &in))
	return in
}

func TestPipeline_New_Validate(t *testing.T) {
	t.Parallel()

	_, err := pipeline.New(&pipeline.Config{})
	require.ErrorContains(t, err, "logger is required")
	_, err = pipeline.New(&pipeline.Config{Logger: logger.Discard()})
	require.ErrorContains(t, err, "LLM client is required")
}

func TestPipeline_Run_CountAndDescribe(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, map[string]string{
		pipeline.PromptInterpreter: nsclcInterpretation,
		pipeline.PromptPlanner:     nsclcPlan,
		pipeline.PromptAnalystCode: runStepsProgram,
		pipeline.PromptWriter:      nsclcAnswer,
	})
	p := env.pipeline(t, env.codeAnalyst(t), nil)

	query := "How many NSCLC stage 4 patients have TMB data?"
	rec, err := p.Run(t.Context(), query)
	require.NoError(t, err)

	require.NotNil(t, rec.Interpretation.Value)
	require.True(t, rec.Interpretation.Value.Answerable)
	require.True(t, rec.Interpretation.Value.HasIntent(analysis.IntentPatientCounts))

	require.NotNil(t, rec.Plan.Value)
	require.Len(t, rec.Plan.Value.Steps, 2)
	require.Equal(t, analysis.ToolCohortFilter, rec.Plan.Value.Steps[0].Tool)
	require.Equal(t, "TMB (nonsynonymous)", rec.Plan.Value.Steps[1].FeatureName())

	res := rec.ExecutionResult
	require.Equal(t, analysis.StatusSuccess, res.OverallStatus)
	require.Equal(t, "Analyst executed a dynamically generated analysis script.", res.Notes)
	require.Contains(t, res.GeneratedCodeExcerpt, "def run_analysis():")
	require.NotContains(t, res.GeneratedCodeExcerpt, "```")
	require.Len(t, res.Steps, 2)
	require.Equal(t, 5, res.Steps[0].CohortSummary.RowCount)
	require.Equal(t, 4, *res.Steps[0].CohortSummary.PatientCount)
	require.Equal(t, 3, res.Steps[1].Metrics.Count)
	require.InDelta(t, 7.0, res.Steps[1].Metrics.Mean, 1e-9)
	require.NotNil(t, rec.GeneratedCode)
	require.Nil(t, rec.AnalysisError)

	require.Equal(t, nsclcAnswer, rec.Answer())

	// The planner saw the interpretation and the dataset metadata.
	var planIn map[string]any
	require.NoError(t, json.Unmarshal([]byte(env.llm.lastCall(t, pipeline.PromptPlanner)), &planIn))
	require.Equal(t, query, planIn["user_query"])
	require.Equal(t, "Non-Small Cell Lung Cancer", planIn["oncologist_view"].(map[string]any)["domain_area"])
	require.Contains(t, planIn["dataset_metadata"], "TMB (nonsynonymous)")

	// The code model saw table names and columns but no paths.
	codeIn := env.llm.lastCall(t, pipeline.PromptAnalystCode)
	require.Contains(t, codeIn, "- logical_name: patients (aliases: clinical)")
	require.Contains(t, codeIn, "Cancer Type")
	require.NotContains(t, codeIn, "patients.tsv")

	// The writer saw both the patient count and the TMB summary.
	in := decodeWriterInput(t, env.llm)
	require.Equal(t, query, in.UserQuery)
	require.Equal(t, 4, *in.ExecutionResult.Steps[0].CohortSummary.PatientCount)
	require.InDelta(t, 7.0, in.ExecutionResult.Steps[1].Metrics.Mean, 1e-9)
	require.Empty(t, in.AnalysisError)
}

func TestPipeline_Run_OutOfDomain(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, map[string]string{
		pipeline.PromptInterpreter: `{"domain_area": "Pediatric Glioma", "diagnosis_terms": ["glioma"], "target_features": [],
			"detected_intents": ["patient_counts"], "answerable": false,
			"limitations": ["No table covers pediatric glioma."], "planner_notes": ""}`,
		pipeline.PromptPlanner: `{"analysis_kinds": ["other"], "steps": [], "summary": "Nothing to run.",
			"unanswerable_parts": ["Pediatric glioma is not present in the dataset."]}`,
		pipeline.PromptAnalystCode: runStepsProgram,
		pipeline.PromptWriter:      "This dataset does not include pediatric glioma patients, so the question cannot be answered.",
	})
	p := env.pipeline(t, env.codeAnalyst(t), nil)

	rec, err := p.Run(t.Context(), "How many pediatric glioma patients received radiotherapy?")
	require.NoError(t, err)

	require.False(t, rec.Interpretation.Value.Answerable)
	require.NotEmpty(t, rec.Interpretation.Value.Limitations)
	require.Empty(t, rec.Plan.Value.Steps)
	require.NotEmpty(t, rec.Plan.Value.UnanswerableParts)

	// The analysis still ran, as a no-op.
	require.Equal(t, analysis.StatusSuccess, rec.ExecutionResult.OverallStatus)
	require.Empty(t, rec.ExecutionResult.Steps)

	in := decodeWriterInput(t, env.llm)
	require.Equal(t, false, in.OncologistView["answerable"])
	require.Equal(t, []any{"Pediatric glioma is not present in the dataset."}, in.Plan["unanswerable_parts"])
	require.Contains(t, rec.Answer(), "cannot be answered")
}

func TestPipeline_Run_StageFailures(t *testing.T) {
	t.Parallel()

	backendDown := errors.Join(pipeline.ErrBackend, errors.New("connection refused"))

	tests := []struct {
		name    string
		replies map[string]string
		errs    map[string]error
		check   func(t *testing.T, rec *pipeline.Record, err error)
	}{
		{
			name: "interpreter unreachable",
			replies: map[string]string{
				pipeline.PromptPlanner:     nsclcPlan,
				pipeline.PromptAnalystCode: runStepsProgram,
				pipeline.PromptWriter:      "answer",
			},
			errs: map[string]error{pipeline.PromptInterpreter: backendDown},
			check: func(t *testing.T, rec *pipeline.Record, err error) {
				require.NoError(t, err)
				require.Nil(t, rec.Interpretation)
				require.Contains(t, *rec.AnalysisError, "interpreter")
				require.NotNil(t, rec.Plan.Value)
				require.Equal(t, analysis.StatusSuccess, rec.ExecutionResult.OverallStatus)
				require.Equal(t, "answer", rec.Answer())
			},
		},
		{
			name: "interpretation is not json",
			replies: map[string]string{
				pipeline.PromptInterpreter: "I think this is about lung cancer.",
				pipeline.PromptPlanner:     nsclcPlan,
				pipeline.PromptAnalystCode: runStepsProgram,
				pipeline.PromptWriter:      "answer",
			},
			check: func(t *testing.T, rec *pipeline.Record, err error) {
				require.NoError(t, err)
				require.Nil(t, rec.Interpretation.Value)
				require.True(t, rec.Interpretation.Failure.ParseError)
				require.Equal(t, "I think this is about lung cancer.", rec.Interpretation.Failure.RawText)
				require.Nil(t, rec.AnalysisError)
			},
		},
		{
			name: "plan violates schema",
			replies: map[string]string{
				pipeline.PromptInterpreter: nsclcInterpretation,
				pipeline.PromptPlanner:     `{"steps": [{"step_id": 1, "tool": "cohort_filter"}, {"step_id": 1, "tool": "none"}]}`,
				pipeline.PromptAnalystCode: "def run_analysis():\n    return {\"steps\": [], \"overall_status\": \"failed\"}\n",
				pipeline.PromptWriter:      "answer",
			},
			check: func(t *testing.T, rec *pipeline.Record, err error) {
				require.NoError(t, err)
				require.Nil(t, rec.Plan.Value)
				require.True(t, rec.Plan.Failure.SchemaViolation)
				require.Contains(t, rec.Plan.Failure.Violations[0], "duplicate step_id 1")
				require.Equal(t, analysis.StatusFailed, rec.ExecutionResult.OverallStatus)
			},
		},
		{
			name: "code model unreachable",
			replies: map[string]string{
				pipeline.PromptInterpreter: nsclcInterpretation,
				pipeline.PromptPlanner:     nsclcPlan,
				pipeline.PromptWriter:      "answer",
			},
			check: func(t *testing.T, rec *pipeline.Record, err error) {
				require.NoError(t, err)
				require.Equal(t, analysis.StatusFailed, rec.ExecutionResult.OverallStatus)
				require.Equal(t, "synthesis failed", rec.ExecutionResult.Notes)
				require.Empty(t, rec.ExecutionResult.Steps)
				require.Nil(t, rec.GeneratedCode)
				require.Contains(t, *rec.AnalysisError, "synthesis")
				require.Equal(t, "answer", rec.Answer())
			},
		},
		{
			name: "generated code raises",
			replies: map[string]string{
				pipeline.PromptInterpreter: nsclcInterpretation,
				pipeline.PromptPlanner:     nsclcPlan,
				pipeline.PromptAnalystCode: "def run_analysis():\n    counts = {}\n    return counts[\"tmb\"]\n",
				pipeline.PromptWriter:      "answer",
			},
			check: func(t *testing.T, rec *pipeline.Record, err error) {
				require.NoError(t, err)
				require.Equal(t, "execution of generated analysis code failed", rec.ExecutionResult.Notes)
				require.Contains(t, rec.ExecutionResult.GeneratedCodeExcerpt, `counts["tmb"]`)
				require.Contains(t, rec.ExecutionResult.Error, "not in dict")
				require.NotNil(t, rec.GeneratedCode)
			},
		},
		{
			name: "generated code returns a string",
			replies: map[string]string{
				pipeline.PromptInterpreter: nsclcInterpretation,
				pipeline.PromptPlanner:     nsclcPlan,
				pipeline.PromptAnalystCode: "def run_analysis():\n    return \"4 patients\"\n",
				pipeline.PromptWriter:      "answer",
			},
			check: func(t *testing.T, rec *pipeline.Record, err error) {
				require.NoError(t, err)
				require.Equal(t, analysis.StatusFailed, rec.ExecutionResult.OverallStatus)
				require.Equal(t, "4 patients", rec.ExecutionResult.RawReturn)
			},
		},
		{
			name: "writer unreachable",
			replies: map[string]string{
				pipeline.PromptInterpreter: nsclcInterpretation,
				pipeline.PromptPlanner:     nsclcPlan,
				pipeline.PromptAnalystCode: runStepsProgram,
			},
			errs: map[string]error{pipeline.PromptWriter: errors.New("timeout")},
			check: func(t *testing.T, rec *pipeline.Record, err error) {
				require.ErrorIs(t, err, pipeline.ErrBackend)
				require.NotNil(t, rec)
				require.Nil(t, rec.FinalAnswer)
				require.Equal(t, pipeline.NoAnswer, rec.Answer())
				require.Equal(t, analysis.StatusSuccess, rec.ExecutionResult.OverallStatus)
			},
		},
		{
			name:    "everything unreachable",
			replies: map[string]string{},
			check: func(t *testing.T, rec *pipeline.Record, err error) {
				require.ErrorIs(t, err, pipeline.ErrBackend)
				require.Equal(t, 1, strings.Count(err.Error(), "generative backend unreachable"))
				require.True(t, strings.HasPrefix(err.Error(), "writer: "))
				require.Nil(t, rec.Interpretation)
				require.Nil(t, rec.Plan)
				require.Equal(t, analysis.StatusFailed, rec.ExecutionResult.OverallStatus)
				require.Equal(t, pipeline.NoAnswer, rec.Answer())
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			env := newTestEnv(t, tt.replies)
			for agent, err := range tt.errs {
				env.llm.errs[agent] = err
			}
			p := env.pipeline(t, env.codeAnalyst(t), nil)

			rec, err := p.Run(t.Context(), "How many NSCLC stage 4 patients have TMB data?")
			require.NotNil(t, rec)
			require.NotNil(t, rec.ExecutionResult)
			tt.check(t, rec, err)
		})
	}
}

func TestPipeline_Run_DirectAnalyst(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, map[string]string{
		pipeline.PromptInterpreter: nsclcInterpretation,
		pipeline.PromptPlanner:     nsclcPlan,
		pipeline.PromptWriter:      nsclcAnswer,
	})
	p := env.pipeline(t, env.executor, nil)

	rec, err := p.Run(t.Context(), "How many NSCLC stage 4 patients have TMB data?")
	require.NoError(t, err)
	require.Equal(t, "Analyst executed the plan steps directly.", rec.ExecutionResult.Notes)
	require.Equal(t, 4, *rec.ExecutionResult.Steps[0].CohortSummary.PatientCount)
	require.Nil(t, rec.GeneratedCode)

	env.llm.mu.Lock()
	defer env.llm.mu.Unlock()
	require.Empty(t, env.llm.calls[pipeline.PromptAnalystCode])
}

func TestPipeline_RunWithProgress_Stages(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, map[string]string{
		pipeline.PromptInterpreter: nsclcInterpretation,
		pipeline.PromptPlanner:     nsclcPlan,
		pipeline.PromptWriter:      nsclcAnswer,
	})
	tracker := &mockTracker{runID: "run-1"}
	p := env.pipeline(t, env.executor, tracker)

	var stages []pipeline.ProgressStage
	_, err := p.RunWithProgress(t.Context(), "q", func(pr pipeline.Progress) {
		assert.Equal(t, "run-1", pr.RunID)
		stages = append(stages, pr.Stage)
	})
	require.NoError(t, err)
	require.Equal(t, []pipeline.ProgressStage{
		pipeline.StageInterpreting, pipeline.StagePlanning, pipeline.StageExecuting,
		pipeline.StageWriting, pipeline.StageComplete,
	}, stages)

	require.Equal(t, []string{"q"}, tracker.started)
	require.Len(t, tracker.finished, 1)
	require.Equal(t, nsclcAnswer, tracker.finished[0].Answer())
}

func TestPipeline_Run_TrackerFailuresAreSwallowed(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, map[string]string{
		pipeline.PromptInterpreter: nsclcInterpretation,
		pipeline.PromptPlanner:     nsclcPlan,
		pipeline.PromptWriter:      nsclcAnswer,
	})

	t.Run("start fails", func(t *testing.T) {
		t.Parallel()

		tracker := &mockTracker{startErr: errors.New("disk full")}
		rec, err := env.pipeline(t, env.executor, tracker).Run(t.Context(), "q")
		require.NoError(t, err)
		require.Equal(t, nsclcAnswer, rec.Answer())
		require.Empty(t, tracker.finished)
	})

	t.Run("finish fails", func(t *testing.T) {
		t.Parallel()

		tracker := &mockTracker{runID: "run-2", finishErr: errors.New("disk full")}
		rec, err := env.pipeline(t, env.executor, tracker).Run(t.Context(), "q")
		require.NoError(t, err)
		require.Equal(t, nsclcAnswer, rec.Answer())
	})
}

type mockTracker struct {
	runID     string
	startErr  error
	finishErr error

	mu       sync.Mutex
	started  []string
	finished []*pipeline.Record
}

func (m *mockTracker) StartRun(_ context.Context, query string) (string, time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.startErr != nil {
		return "", time.Time{}, m.startErr
	}
	m.started = append(m.started, query)
	return m.runID, time.Now(), nil
}

func (m *mockTracker) FinishRun(_ context.Context, _ string, _ time.Time, rec *pipeline.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finished = append(m.finished, rec)
	return m.finishErr
}
