package cohort

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/malbeclabs/rwe/pkg/analysis"
	"github.com/malbeclabs/rwe/pkg/tablestore"
)

// Context is the cohort state carried from one plan step to the next
// during a single plan execution.
type Context struct {
	Cohort    *tablestore.Table
	TableName string
	IDColumn  string
}

type ExecutorConfig struct {
	Logger       *slog.Logger
	Resolver     *Resolver
	DefaultTable string
}

func (cfg *ExecutorConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Resolver == nil {
		return errors.New("resolver is required")
	}
	return nil
}

// Executor runs plan steps in order against the table store. It is also the
// direct analyst: a plan can be executed without generating code.
type Executor struct {
	log          *slog.Logger
	resolver     *Resolver
	defaultTable string
}

func NewExecutor(cfg ExecutorConfig) (*Executor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Executor{
		log:          cfg.Logger,
		resolver:     cfg.Resolver,
		defaultTable: cfg.DefaultTable,
	}, nil
}

func (e *Executor) Resolver() *Resolver {
	return e.resolver
}

// Analyze executes req.Plan step by step.
func (e *Executor) Analyze(ctx context.Context, req analysis.Request) analysis.Outcome {
	if req.Plan == nil {
		return analysis.Outcome{
			Result: analysis.FailedResult("No structured plan was available to execute.", "plan could not be parsed"),
			Error:  "plan could not be parsed",
		}
	}
	res := e.RunPlan(ctx, req.Plan)
	res.Notes = "Analyst executed the plan steps directly."
	return analysis.Outcome{Result: res}
}

// RunPlan executes every step in list order with a fresh cohort context.
func (e *Executor) RunPlan(ctx context.Context, plan *analysis.Plan) *analysis.ExecutionResult {
	cc := &Context{}
	steps := make([]analysis.StepResult, 0, len(plan.Steps))
	for _, step := range plan.Steps {
		steps = append(steps, e.ExecuteStep(ctx, step, cc))
	}
	return &analysis.ExecutionResult{
		Steps:         steps,
		OverallStatus: analysis.DeriveStatus(steps),
	}
}

// ExecuteStep runs one step. Failures are reported in the returned result
// and never abort the caller.
func (e *Executor) ExecuteStep(ctx context.Context, step analysis.PlanStep, cc *Context) analysis.StepResult {
	res := analysis.StepResult{
		StepID: step.StepID,
		Name:   step.DisplayName,
		Tool:   analysis.NormalizeTool(step.Tool),
	}

	switch res.Tool {
	case analysis.ToolCohortFilter:
		e.cohortFilter(ctx, step, cc, &res)
	case analysis.ToolFeatureDescriptives:
		e.featureDescriptives(ctx, step, cc, &res)
	case analysis.ToolVectorSearch:
		res.Status = analysis.StepSkipped
		res.Error = "vector_search steps are not executed by the analysis stage"
	case analysis.ToolNone:
		res.Status = analysis.StepSkipped
	default:
		res.Status = analysis.StepSkipped
		res.Error = fmt.Sprintf("unsupported tool: %s", step.Tool)
	}

	e.log.Debug("cohort: step executed", "step_id", step.StepID, "tool", res.Tool, "status", res.Status, "error", res.Error)
	return res
}

func (e *Executor) tableFor(step analysis.PlanStep, cc *Context) string {
	if len(step.TablesUsed) > 0 && step.TablesUsed[0] != "" {
		return step.TablesUsed[0]
	}
	if cc.TableName != "" {
		return cc.TableName
	}
	return e.defaultTable
}

func (e *Executor) cohortFilter(ctx context.Context, step analysis.PlanStep, cc *Context, res *analysis.StepResult) {
	name := e.tableFor(step, cc)
	if name == "" {
		fail(res, "no table specified")
		return
	}
	resolved, err := e.resolver.Resolve(name)
	if err != nil {
		fail(res, fmt.Sprintf("unknown table: %s", name))
		return
	}
	table, err := e.resolver.tables.Load(ctx, resolved)
	if err != nil {
		fail(res, err.Error())
		return
	}

	filter := FilterSpec(step.Filter)
	filtered := ApplyFilter(table, filter)
	summary := Summarize(filtered, filter)
	summary.TableUsed = resolved

	cc.Cohort = filtered
	cc.TableName = resolved
	cc.IDColumn = summary.PatientIDColumn

	res.Status = analysis.StepSuccess
	res.CohortSummary = summary
}

func (e *Executor) featureDescriptives(ctx context.Context, step analysis.PlanStep, cc *Context, res *analysis.StepResult) {
	feature := step.FeatureName()
	res.Feature = feature

	table, source, err := e.descriptivesSource(ctx, step, cc)
	if err != nil {
		fail(res, err.Error())
		return
	}
	res.Source = source

	if feature == "" {
		fail(res, "no feature specified")
		return
	}
	metrics, err := DescribeFeature(table, feature)
	if err != nil {
		fail(res, err.Error())
		return
	}
	res.Status = analysis.StepSuccess
	res.Metrics = metrics
}

// descriptivesSource picks the current cohort unless the step names a
// different table than the one the cohort was drawn from.
func (e *Executor) descriptivesSource(ctx context.Context, step analysis.PlanStep, cc *Context) (*tablestore.Table, string, error) {
	named := ""
	if len(step.TablesUsed) > 0 {
		named = step.TablesUsed[0]
	}

	if cc.Cohort != nil {
		if named == "" {
			return cc.Cohort, "current_cohort", nil
		}
		if resolved, err := e.resolver.Resolve(named); err == nil && resolved == cc.TableName {
			return cc.Cohort, "current_cohort", nil
		}
	}

	if named == "" {
		named = e.defaultTable
	}
	if named == "" {
		return nil, "", errors.New("no cohort and no table specified")
	}
	resolved, err := e.resolver.Resolve(named)
	if err != nil {
		return nil, "", fmt.Errorf("no cohort and unknown table: %s", named)
	}
	table, err := e.resolver.tables.Load(ctx, resolved)
	if err != nil {
		return nil, "", err
	}
	return table, "table:" + resolved, nil
}

func fail(res *analysis.StepResult, msg string) {
	res.Status = analysis.StepFailed
	res.Error = msg
}
