// Package pipeline answers cohort questions in four stages: an interpreter
// reads the question, a planner turns it into ordered analysis steps, an
// analyst executes them against the patient tables, and a writer explains
// the result. Each stage is one LLM call; stage failures are recorded and
// the next stage still runs.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/malbeclabs/rwe/pkg/analysis"
	"github.com/malbeclabs/rwe/pkg/metrics"
)

// Pipeline orchestrates the question-answering process.
type Pipeline struct {
	cfg *Config
}

// New creates a new Pipeline.
func New(cfg *Config) (*Pipeline, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if cfg.LLM == nil {
		return nil, fmt.Errorf("LLM client is required")
	}
	if cfg.Analyst == nil {
		return nil, fmt.Errorf("analyst is required")
	}
	if cfg.Prompts == nil {
		return nil, fmt.Errorf("prompts are required")
	}
	return &Pipeline{cfg: cfg}, nil
}

// logInfo logs an info message if a logger is configured.
func (p *Pipeline) logInfo(msg string, args ...any) {
	if p.cfg.Logger != nil {
		p.cfg.Logger.Info(msg, args...)
	}
}

// Run executes the full pipeline for a query.
func (p *Pipeline) Run(ctx context.Context, query string) (*Record, error) {
	return p.RunWithProgress(ctx, query, nil)
}

// RunWithProgress executes Interpret, Plan, Execute and Write in order,
// merging each stage's patch into the record. The record is always
// returned. The error is non-nil only when the writer could not reach the
// backend, and then wraps ErrBackend.
func (p *Pipeline) RunWithProgress(ctx context.Context, query string, onProgress ProgressCallback) (*Record, error) {
	rec := &Record{Query: query}

	runID, start := p.startRun(ctx, query)
	notify := func(stage ProgressStage, err error) {
		if onProgress != nil {
			onProgress(Progress{Stage: stage, RunID: runID, Error: err})
		}
	}

	// Stage 1: Interpret
	notify(StageInterpreting, nil)
	p.logInfo("pipeline: interpreting query", "runID", runID)
	p.timeStage(StageInterpreting, func() {
		interp, err := p.Interpret(ctx, query)
		if err != nil {
			p.cfg.Logger.Warn("pipeline: interpreter failed", "error", err)
			rec.Merge(Patch{AnalysisError: strPtr(err.Error())})
			return
		}
		rec.Merge(Patch{Interpretation: interp})
	})

	// Stage 2: Plan
	notify(StagePlanning, nil)
	p.logInfo("pipeline: planning analysis", "runID", runID)
	p.timeStage(StagePlanning, func() {
		plan, err := p.Plan(ctx, query, rec.Interpretation)
		if err != nil {
			p.cfg.Logger.Warn("pipeline: planner failed", "error", err)
			rec.Merge(Patch{AnalysisError: strPtr(err.Error())})
			return
		}
		rec.Merge(Patch{Plan: plan})
	})

	// Stage 3: Execute
	notify(StageExecuting, nil)
	p.logInfo("pipeline: executing plan", "runID", runID)
	p.timeStage(StageExecuting, func() {
		rec.Merge(p.execute(ctx, rec))
	})
	p.logInfo("pipeline: plan executed", "runID", runID, "status", rec.ExecutionResult.OverallStatus,
		"steps", len(rec.ExecutionResult.Steps))

	// Stage 4: Write
	notify(StageWriting, nil)
	p.logInfo("pipeline: writing answer", "runID", runID)
	var writeErr error
	p.timeStage(StageWriting, func() {
		answer, err := p.Write(ctx, rec)
		if err != nil {
			writeErr = err
			return
		}
		rec.Merge(Patch{FinalAnswer: &answer})
	})

	p.finishRun(ctx, runID, start, rec)

	if writeErr != nil {
		metrics.PipelineRunsTotal.WithLabelValues("error").Inc()
		notify(StageError, writeErr)
		if !errors.Is(writeErr, ErrBackend) {
			writeErr = fmt.Errorf("%w: %w", ErrBackend, writeErr)
		}
		return rec, writeErr
	}
	metrics.PipelineRunsTotal.WithLabelValues("success").Inc()
	notify(StageComplete, nil)
	p.logInfo("pipeline: complete", "runID", runID, "duration", time.Since(start))
	return rec, nil
}

// execute hands the recorded interpretation and plan to the analyst.
func (p *Pipeline) execute(ctx context.Context, rec *Record) Patch {
	req := analysis.Request{Query: rec.Query}
	if rec.Interpretation != nil {
		req.Interpretation = rec.Interpretation.Value
		req.InterpretationJSON = rec.Interpretation.JSON()
	}
	if rec.Plan != nil {
		req.Plan = rec.Plan.Value
		req.PlanJSON = rec.Plan.JSON()
	}

	out := p.cfg.Analyst.Analyze(ctx, req)
	patch := Patch{ExecutionResult: out.Result}
	if patch.ExecutionResult == nil {
		patch.ExecutionResult = analysis.FailedResult("analyst returned no result", "")
	}
	if out.GeneratedCode != "" {
		patch.GeneratedCode = &out.GeneratedCode
	}
	if out.Error != "" {
		patch.AnalysisError = &out.Error
	}
	return patch
}

func (p *Pipeline) timeStage(stage ProgressStage, fn func()) {
	start := time.Now()
	fn()
	metrics.StageDuration.WithLabelValues(string(stage)).Observe(time.Since(start).Seconds())
}

func (p *Pipeline) startRun(ctx context.Context, query string) (string, time.Time) {
	if p.cfg.Tracker == nil {
		return "", time.Now()
	}
	runID, start, err := p.cfg.Tracker.StartRun(ctx, query)
	if err != nil {
		p.cfg.Logger.Warn("pipeline: failed to start tracked run", "error", err)
		return "", time.Now()
	}
	return runID, start
}

func (p *Pipeline) finishRun(ctx context.Context, runID string, start time.Time, rec *Record) {
	if p.cfg.Tracker == nil || runID == "" {
		return
	}
	if err := p.cfg.Tracker.FinishRun(context.WithoutCancel(ctx), runID, start, rec); err != nil {
		p.cfg.Logger.Warn("pipeline: failed to finish tracked run", "runID", runID, "error", err)
	}
}
