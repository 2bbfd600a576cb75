package pipeline_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/malbeclabs/rwe/agent/pkg/pipeline"
	"github.com/malbeclabs/rwe/pkg/cohort"
	"github.com/malbeclabs/rwe/pkg/fixtures"
	"github.com/malbeclabs/rwe/pkg/logger"
	"github.com/malbeclabs/rwe/pkg/sandbox"
	"github.com/stretchr/testify/require"
)

// mockLLM answers by agent: the system prompt identifies which agent is
// calling. Missing replies are backend errors.
type mockLLM struct {
	prompts *pipeline.Prompts
	replies map[string]string
	errs    map[string]error

	mu    sync.Mutex
	calls map[string][]string
}

func newMockLLM(t *testing.T, replies map[string]string) *mockLLM {
	t.Helper()

	prompts, err := pipeline.LoadPrompts(nil)
	require.NoError(t, err)
	return &mockLLM{prompts: prompts, replies: replies, errs: map[string]error{}, calls: map[string][]string{}}
}

func (m *mockLLM) agent(systemPrompt string) string {
	for _, name := range []string{pipeline.PromptInterpreter, pipeline.PromptPlanner, pipeline.PromptWriter, pipeline.PromptAnalystCode, pipeline.PromptRAG} {
		if m.prompts.GetPrompt(name) == systemPrompt {
			return name
		}
	}
	return "unknown"
}

func (m *mockLLM) Complete(_ context.Context, systemPrompt, userPrompt string, _ ...pipeline.CompleteOption) (string, error) {
	agent := m.agent(systemPrompt)

	m.mu.Lock()
	m.calls[agent] = append(m.calls[agent], userPrompt)
	m.mu.Unlock()

	if err, ok := m.errs[agent]; ok {
		return "", err
	}
	reply, ok := m.replies[agent]
	if !ok {
		return "", errors.Join(pipeline.ErrBackend, errors.New("no scripted reply for "+agent))
	}
	return reply, nil
}

func (m *mockLLM) lastCall(t *testing.T, agent string) string {
	t.Helper()

	m.mu.Lock()
	defer m.mu.Unlock()
	calls := m.calls[agent]
	require.NotEmpty(t, calls, "no call for %s", agent)
	return calls[len(calls)-1]
}

type testEnv struct {
	llm      *mockLLM
	source   *fixtures.StaticSource
	executor *cohort.Executor
	runtime  *sandbox.Runtime
	prompts  *pipeline.Prompts
	metadata string
}

func newTestEnv(t *testing.T, replies map[string]string) *testEnv {
	t.Helper()

	table, err := fixtures.PatientsTable(fixtures.Cohort{})
	require.NoError(t, err)
	src := fixtures.NewStaticSource(table)
	exec, err := cohort.NewExecutor(cohort.ExecutorConfig{
		Logger:       logger.Discard(),
		Resolver:     cohort.NewResolver(src, map[string]string{"clinical": "patients"}),
		DefaultTable: "patients",
	})
	require.NoError(t, err)
	rt, err := sandbox.NewRuntime(sandbox.RuntimeConfig{Logger: logger.Discard(), Executor: exec, Timeout: 10 * time.Second})
	require.NoError(t, err)
	metadata, err := fixtures.WriteMetadata(t.TempDir())
	require.NoError(t, err)

	llm := newMockLLM(t, replies)
	return &testEnv{llm: llm, source: src, executor: exec, runtime: rt, prompts: llm.prompts, metadata: metadata}
}

func (e *testEnv) codeAnalyst(t *testing.T) *pipeline.CodeAnalyst {
	t.Helper()

	a, err := pipeline.NewCodeAnalyst(pipeline.CodeAnalystConfig{
		Logger:  logger.Discard(),
		LLM:     e.llm,
		Prompts: e.prompts,
		Runtime: e.runtime,
		Tables:  e.source,
		Aliases: map[string]string{"clinical": "patients"},
	})
	require.NoError(t, err)
	return a
}

func (e *testEnv) pipeline(t *testing.T, analyst pipeline.Analyst, tracker pipeline.Tracker) *pipeline.Pipeline {
	t.Helper()

	p, err := pipeline.New(&pipeline.Config{
		Logger:       logger.Discard(),
		LLM:          e.llm,
		Analyst:      analyst,
		Prompts:      e.prompts,
		Tracker:      tracker,
		MetadataPath: e.metadata,
	})
	require.NoError(t, err)
	return p
}

const (
	nsclcInterpretation = `{
  "domain_area": "Non-Small Cell Lung Cancer",
  "diagnosis_terms": ["NSCLC", "Stage 4"],
  "target_features": ["TMB (nonsynonymous)"],
  "detected_intents": ["patient_counts", "descriptive_stats"],
  "answerable": true,
  "limitations": [],
  "planner_notes": "Filter NSCLC stage 4, then describe TMB."
}`

	nsclcPlan = "```json\n" + `{
  "analysis_kinds": ["filter_patients", "patient_counts", "descriptive_stats"],
  "steps": [
    {"step_id": 1, "display_name": "NSCLC stage 4 cohort", "tool": "cohort_filter",
     "filter": {"Cancer Type": "NSCLC", "Stage": "Stage 4"}, "feature": null,
     "columns_used": ["Cancer Type", "Stage"], "tables_used": ["clinical"], "comment": ""},
    {"step_id": 2, "display_name": "TMB summary", "tool": "feature_descriptives",
     "filter": null, "feature": "TMB (nonsynonymous)",
     "columns_used": ["TMB (nonsynonymous)"], "tables_used": [], "comment": ""}
  ],
  "summary": "Count the cohort and summarize TMB.",
  "unanswerable_parts": []
}` + "\n```"

	runStepsProgram = "```python\n" + `def run_analysis():
    steps = [run_step(s) for s in plan["steps"]]
    return {"steps": steps, "overall_status": overall_status(steps)}
` + "```"

	nsclcAnswer = "4 NSCLC stage 4 patients were found. TMB: mean 7.0, median 7.0 (n=3)."
)
