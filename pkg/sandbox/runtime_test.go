package sandbox_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/malbeclabs/rwe/pkg/analysis"
	"github.com/malbeclabs/rwe/pkg/cohort"
	"github.com/malbeclabs/rwe/pkg/fixtures"
	"github.com/malbeclabs/rwe/pkg/logger"
	"github.com/malbeclabs/rwe/pkg/sandbox"
	"github.com/stretchr/testify/require"
)

func newRuntime(t *testing.T, maxSteps uint64, timeout time.Duration) *sandbox.Runtime {
	t.Helper()

	table, err := fixtures.PatientsTable(fixtures.Cohort{})
	require.NoError(t, err)
	exec, err := cohort.NewExecutor(cohort.ExecutorConfig{
		Logger:       logger.Discard(),
		Resolver:     cohort.NewResolver(fixtures.NewStaticSource(table), map[string]string{"clinical": "patients"}),
		DefaultTable: "patients",
	})
	require.NoError(t, err)

	rt, err := sandbox.NewRuntime(sandbox.RuntimeConfig{
		Logger:   logger.Discard(),
		Executor: exec,
		MaxSteps: maxSteps,
		Timeout:  timeout,
	})
	require.NoError(t, err)
	return rt
}

const nsclcPlan = `{
  "analysis_kinds": ["filter_patients", "descriptive_stats"],
  "steps": [
    {"step_id": 1, "display_name": "NSCLC stage 4", "tool": "cohort_filter",
     "filter": {"Cancer Type": "NSCLC", "Stage": "Stage 4"}, "tables_used": ["clinical"]},
    {"step_id": 2, "display_name": "TMB", "tool": "feature_descriptives",
     "feature": "TMB (nonsynonymous)"}
  ],
  "summary": "Filter then describe TMB."
}`

func TestSandbox_NewRuntime_Validate(t *testing.T) {
	t.Parallel()

	_, err := sandbox.NewRuntime(sandbox.RuntimeConfig{})
	require.ErrorContains(t, err, "logger is required")

	_, err = sandbox.NewRuntime(sandbox.RuntimeConfig{Logger: logger.Discard()})
	require.ErrorContains(t, err, "executor is required")
}

func TestSandbox_Execute_RunStepOverPlan(t *testing.T) {
	t.Parallel()

	rt := newRuntime(t, 0, 0)
	src := `
def run_analysis():
    steps = [run_step(s) for s in plan["steps"]]
    return {"steps": steps, "overall_status": overall_status(steps), "extra": "ignored"}
`
	res, raw, err := rt.Execute(t.Context(), src, sandbox.Env{PlanJSON: []byte(nsclcPlan)})
	require.NoError(t, err)
	require.Empty(t, raw)
	require.Equal(t, analysis.StatusSuccess, res.OverallStatus)
	require.Len(t, res.Steps, 2)

	filter := res.Steps[0]
	require.Equal(t, analysis.StepSuccess, filter.Status)
	require.Equal(t, analysis.ToolCohortFilter, filter.Tool)
	require.Equal(t, "patients", filter.CohortSummary.TableUsed)
	require.Equal(t, 5, filter.CohortSummary.RowCount)
	require.Equal(t, 4, *filter.CohortSummary.PatientCount)

	desc := res.Steps[1]
	require.Equal(t, analysis.StepSuccess, desc.Status)
	require.Equal(t, "current_cohort", desc.Source)
	require.Equal(t, 3, desc.Metrics.Count)
	require.InDelta(t, 7.0, desc.Metrics.Mean, 1e-9)
	require.InDelta(t, 3.0, *desc.Metrics.Std, 1e-9)
	require.InDelta(t, 5.5, desc.Metrics.IQR[0], 1e-9)
	require.InDelta(t, 8.5, desc.Metrics.IQR[1], 1e-9)
}

func TestSandbox_Execute_Builtins(t *testing.T) {
	t.Parallel()

	rt := newRuntime(t, 0, 0)
	src := `
def run_analysis():
    steps = []
    if not table_exists("genomics"):
        steps.append({"step_id": 1, "name": "genomics", "tool": "cohort_filter",
                      "status": "failed", "error": "unknown table: genomics"})
    t = load_table("clinical")
    f = {"Cancer Type": "NSCLC", "Stage": ["Stage 4"]}
    cohort = apply_filter(t, f)
    steps.append({"step_id": 2, "name": "filter", "tool": "cohort_filter",
                  "status": "success", "cohort_summary": summarize(cohort, f)})
    m = describe_feature(cohort, "Sex")
    if m == None:
        steps.append({"step_id": 3, "name": "sex", "tool": "feature_descriptives",
                      "status": "failed", "error": "no numeric values"})
    counts = value_counts(t, "Sex", limit=1)
    steps.append({"step_id": 4, "name": counts[0]["value"], "tool": "none", "status": "skipped"})
    if has_column(cohort, "Overall Survival"):
        fail("unexpected column")
    return {"steps": steps, "overall_status": overall_status(steps)}
`
	res, _, err := rt.Execute(t.Context(), src, sandbox.Env{})
	require.NoError(t, err)
	require.Equal(t, analysis.StatusPartialSuccess, res.OverallStatus)
	require.Len(t, res.Steps, 4)
	require.Equal(t, analysis.StepFailed, res.Steps[0].Status)
	require.Equal(t, 4, *res.Steps[1].CohortSummary.PatientCount)
	require.Equal(t, "patients", res.Steps[1].CohortSummary.TableUsed)
	require.Equal(t, []string{"P-0001", "P-0002", "P-0003", "P-0006"}, res.Steps[1].CohortSummary.SampleIDs[:4])
	require.Equal(t, "Male", res.Steps[3].Name)
}

func TestSandbox_Execute_Globals(t *testing.T) {
	t.Parallel()

	rt := newRuntime(t, 0, 0)
	interp, err := json.Marshal(analysis.Interpretation{TargetFeatures: []string{"TMB"}, Answerable: true})
	require.NoError(t, err)

	src := `
def run_analysis():
    return {"steps": [{"step_id": 1, "name": query + "|" + interpretation["target_features"][0] + "|" + tables[0],
                       "tool": "none", "status": "skipped"}]}
`
	res, _, err := rt.Execute(t.Context(), src, sandbox.Env{
		Query:              "q",
		InterpretationJSON: interp,
		Tables:             []string{"patients"},
	})
	require.NoError(t, err)
	require.Equal(t, "q|TMB|patients", res.Steps[0].Name)
	require.Equal(t, analysis.StatusSuccess, res.OverallStatus)
}

func TestSandbox_Execute_Normalization(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		ret    string
		status analysis.Status
		steps  []analysis.StepStatus
		errMsg string
	}{
		{name: "empty dict", ret: `{}`, status: analysis.StatusSuccess, steps: []analysis.StepStatus{}},
		{name: "invalid overall status", ret: `{"steps": [], "overall_status": "great"}`, status: analysis.StatusFailed, steps: []analysis.StepStatus{}},
		{name: "declared status kept", ret: `{"overall_status": "partial_success"}`, status: analysis.StatusPartialSuccess, steps: []analysis.StepStatus{}},
		{
			name:   "malformed step replaced",
			ret:    `{"steps": [{"step_id": 1, "status": "success"}, "oops", {"step_id": "two"}]}`,
			status: analysis.StatusSuccess,
			steps:  []analysis.StepStatus{analysis.StepSuccess, analysis.StepFailed, analysis.StepFailed},
			errMsg: "2 malformed step result(s) replaced",
		},
		{
			name:   "unknown step status",
			ret:    `{"steps": [{"step_id": 1, "status": "done"}]}`,
			status: analysis.StatusSuccess,
			steps:  []analysis.StepStatus{analysis.StepFailed},
		},
		{name: "steps not a list", ret: `{"steps": {"a": 1}}`, status: analysis.StatusSuccess, steps: []analysis.StepStatus{}, errMsg: "steps ignored"},
	}

	rt := newRuntime(t, 0, 0)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			res, _, err := rt.Execute(t.Context(), "def run_analysis():\n    return "+tt.ret+"\n", sandbox.Env{})
			require.NoError(t, err)
			require.Equal(t, tt.status, res.OverallStatus)
			got := make([]analysis.StepStatus, 0, len(res.Steps))
			for _, s := range res.Steps {
				got = append(got, s.Status)
			}
			require.Equal(t, tt.steps, got)
			if tt.errMsg != "" {
				require.Contains(t, res.Error, tt.errMsg)
			}
		})
	}
}

func TestSandbox_Execute_InvalidResultShape(t *testing.T) {
	t.Parallel()

	rt := newRuntime(t, 0, 0)
	res, raw, err := rt.Execute(t.Context(), "def run_analysis():\n    return \"done\"\n", sandbox.Env{})
	require.ErrorIs(t, err, sandbox.ErrInvalidResultShape)
	require.Nil(t, res)
	require.Equal(t, "done", raw)

	_, raw, err = rt.Execute(t.Context(), "def run_analysis():\n    return [1, 2]\n", sandbox.Env{})
	require.ErrorIs(t, err, sandbox.ErrInvalidResultShape)
	require.Equal(t, "[1, 2]", raw)
}

func TestSandbox_Execute_Faults(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		src     string
		wantMsg string
	}{
		{name: "syntax error", src: "def run_analysis(:\n", wantMsg: "analysis.star"},
		{name: "missing entry point", src: "x = 1\n", wantMsg: "does not define run_analysis()"},
		{name: "entry point not callable", src: "run_analysis = 3\n", wantMsg: "not a function"},
		{name: "runtime error", src: "def run_analysis():\n    fail(\"boom\")\n", wantMsg: "boom"},
		{name: "unknown table", src: "def run_analysis():\n    return load_table(\"genomics\")\n", wantMsg: "unknown table"},
		{name: "load disabled", src: "load(\"other.star\", \"x\")\ndef run_analysis():\n    return {}\n", wantMsg: "load"},
		{name: "globals are frozen", src: "def run_analysis():\n    tables.append(\"x\")\n    return {}\n", wantMsg: "frozen"},
		{name: "no recursion", src: "def f(n):\n    return f(n - 1)\ndef run_analysis():\n    return f(3)\n", wantMsg: "called recursively"},
	}

	rt := newRuntime(t, 0, 0)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, _, err := rt.Execute(t.Context(), tt.src, sandbox.Env{Tables: []string{"patients"}})
			require.ErrorIs(t, err, sandbox.ErrExecutionFault)
			require.ErrorContains(t, err, tt.wantMsg)
		})
	}
}

func TestSandbox_Execute_Limits(t *testing.T) {
	t.Parallel()

	loop := "def run_analysis():\n    while True:\n        pass\n"

	t.Run("step budget", func(t *testing.T) {
		t.Parallel()

		rt := newRuntime(t, 10_000, time.Minute)
		_, _, err := rt.Execute(t.Context(), loop, sandbox.Env{})
		require.ErrorIs(t, err, sandbox.ErrExecutionFault)
		require.ErrorContains(t, err, "too many steps")
	})

	t.Run("timeout", func(t *testing.T) {
		t.Parallel()

		rt := newRuntime(t, 1<<62, 50*time.Millisecond)
		start := time.Now()
		_, _, err := rt.Execute(t.Context(), loop, sandbox.Env{})
		require.ErrorIs(t, err, sandbox.ErrExecutionFault)
		require.ErrorContains(t, err, "deadline exceeded")
		require.Less(t, time.Since(start), 10*time.Second)
	})
}

func TestSandbox_Execute_ReturnedValueShapes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		body     string
		steps    []analysis.StepStatus
		stepErr  string
		warnings string
	}{
		{
			name: "self-referencing step",
			body: `
    s = {"step_id": 1, "status": "success"}
    s["self"] = s
    return {"steps": [s, {"step_id": 2, "status": "success"}]}
`,
			steps:    []analysis.StepStatus{analysis.StepFailed, analysis.StepSuccess},
			stepErr:  "dict contains itself",
			warnings: "1 malformed step result(s) replaced",
		},
		{
			name: "deeply nested step value",
			body: `
    v = 1
    for i in range(100):
        v = [v]
    return {"steps": [{"step_id": 1, "status": "success", "metrics": {"x": v}}]}
`,
			steps:   []analysis.StepStatus{analysis.StepFailed},
			stepErr: "nested deeper than 64 levels",
		},
		{
			name: "oversized step value",
			body: `
    return {"steps": [{"step_id": 1, "status": "success", "metrics": {"x": range(200000)}}]}
`,
			steps:   []analysis.StepStatus{analysis.StepFailed},
			stepErr: "more than 100000 elements",
		},
		{
			name: "shared references",
			body: `
    v = [1]
    for i in range(40):
        v = [v, v]
    return {"steps": [{"step_id": 1, "status": "success", "metrics": {"x": v}}]}
`,
			steps:   []analysis.StepStatus{analysis.StepFailed},
			stepErr: "more than 100000 elements",
		},
	}

	rt := newRuntime(t, 0, 0)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			res, _, err := rt.Execute(t.Context(), "def run_analysis():"+tt.body, sandbox.Env{})
			require.NoError(t, err)
			got := make([]analysis.StepStatus, 0, len(res.Steps))
			for _, s := range res.Steps {
				got = append(got, s.Status)
			}
			require.Equal(t, tt.steps, got)
			require.Contains(t, res.Steps[0].Error, tt.stepErr)
			if tt.warnings != "" {
				require.Equal(t, tt.warnings, res.Error)
			}
		})
	}
}

func TestSandbox_Execute_TooManySteps(t *testing.T) {
	t.Parallel()

	rt := newRuntime(t, 0, 0)

	t.Run("range", func(t *testing.T) {
		t.Parallel()

		start := time.Now()
		res, raw, err := rt.Execute(t.Context(), "def run_analysis():\n    return {\"steps\": range(1000000000)}\n", sandbox.Env{})
		require.ErrorIs(t, err, sandbox.ErrInvalidResultShape)
		require.ErrorContains(t, err, "more than 1000 step results")
		require.Nil(t, res)
		require.Contains(t, raw, "value too large")
		require.Less(t, time.Since(start), 10*time.Second)
	})

	t.Run("list", func(t *testing.T) {
		t.Parallel()

		src := "def run_analysis():\n    return {\"steps\": [{\"step_id\": i, \"status\": \"success\"} for i in range(1001)]}\n"
		res, raw, err := rt.Execute(t.Context(), src, sandbox.Env{})
		require.ErrorIs(t, err, sandbox.ErrInvalidResultShape)
		require.Nil(t, res)
		require.LessOrEqual(t, len(raw), 4096+len("..."))
	})

	t.Run("at the limit", func(t *testing.T) {
		t.Parallel()

		src := "def run_analysis():\n    return {\"steps\": [{\"step_id\": i, \"status\": \"success\"} for i in range(1000)]}\n"
		res, _, err := rt.Execute(t.Context(), src, sandbox.Env{})
		require.NoError(t, err)
		require.Len(t, res.Steps, sandbox.MaxResultSteps)
	})
}

func TestSandbox_Execute_BuiltinArgumentShapes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		body    string
		wantMsg string
	}{
		{
			name: "run_step with self-referencing step",
			body: `
    s = {"step_id": 1, "tool": "cohort_filter"}
    s["filter"] = s
    return run_step(s)
`,
			wantMsg: "dict contains itself",
		},
		{
			name: "apply_filter with self-referencing filter",
			body: `
    f = {"Stage": []}
    f["Stage"].append(f)
    return apply_filter(load_table("patients"), f)
`,
			wantMsg: "dict contains itself",
		},
		{
			name: "summarize with oversized filter",
			body: `
    return summarize(load_table("patients"), {"Stage": range(200000)})
`,
			wantMsg: "more than 100000 elements",
		},
		{
			name: "overall_status with too many steps",
			body: `
    return overall_status(range(5000))
`,
			wantMsg: "more than 1000 step results",
		},
	}

	rt := newRuntime(t, 0, 0)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, _, err := rt.Execute(t.Context(), "def run_analysis():"+tt.body, sandbox.Env{})
			require.ErrorIs(t, err, sandbox.ErrExecutionFault)
			require.ErrorContains(t, err, tt.wantMsg)
		})
	}
}
