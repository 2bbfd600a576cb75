// Package sandbox runs generated analysis programs in a Starlark interpreter
// restricted to the cohort engine builtins.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/malbeclabs/rwe/pkg/analysis"
	"github.com/malbeclabs/rwe/pkg/cohort"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

var (
	ErrSynthesis          = errors.New("analysis code synthesis failed")
	ErrExecutionFault     = errors.New("analysis code execution failed")
	ErrInvalidResultShape = errors.New("analysis code returned an invalid result")
)

// EntryPoint is the function generated code must define.
const EntryPoint = "run_analysis"

const (
	DefaultMaxSteps = 5_000_000
	DefaultTimeout  = 30 * time.Second
)

// fileOptions enables the dialect features generated code commonly uses.
// Recursion stays disabled.
var fileOptions = &syntax.FileOptions{
	Set:             true,
	While:           true,
	TopLevelControl: true,
	GlobalReassign:  true,
}

type RuntimeConfig struct {
	Logger   *slog.Logger
	Executor *cohort.Executor
	MaxSteps uint64
	Timeout  time.Duration
}

func (cfg *RuntimeConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Executor == nil {
		return errors.New("executor is required")
	}
	if cfg.MaxSteps == 0 {
		cfg.MaxSteps = DefaultMaxSteps
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return nil
}

// Runtime executes analysis programs in an isolated interpreter. Programs
// can reach data only through the builtins bound to each run: there is no
// load statement, no file or network access, and execution is bounded by
// a step budget and a wall-clock timeout.
type Runtime struct {
	cfg RuntimeConfig
	log *slog.Logger
}

func NewRuntime(cfg RuntimeConfig) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Runtime{cfg: cfg, log: cfg.Logger}, nil
}

// Env is the read-only data a program sees as predeclared globals.
type Env struct {
	Query              string
	InterpretationJSON []byte
	PlanJSON           []byte
	Tables             []string
}

func (e Env) globals() (starlark.StringDict, error) {
	interp, err := jsonToStarlark(e.InterpretationJSON)
	if err != nil {
		return nil, fmt.Errorf("interpretation: %w", err)
	}
	plan, err := jsonToStarlark(e.PlanJSON)
	if err != nil {
		return nil, fmt.Errorf("plan: %w", err)
	}
	tables, err := toStarlark(e.Tables)
	if err != nil {
		return nil, err
	}
	g := starlark.StringDict{
		"query":          starlark.String(e.Query),
		"interpretation": interp,
		"plan":           plan,
		"tables":         tables,
	}
	g.Freeze()
	return g, nil
}

// Run executes src and calls its entry point with no arguments, returning
// the raw value it produced. Every failure wraps ErrExecutionFault.
func (r *Runtime) Run(ctx context.Context, src string, env Env) (result starlark.Value, err error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	predeclared, err := env.globals()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExecutionFault, err)
	}
	sess := &session{ctx: ctx, resolver: r.cfg.Executor.Resolver(), executor: r.cfg.Executor}
	for name, fn := range sess.builtins() {
		predeclared[name] = fn
	}

	thread := &starlark.Thread{
		Name: "analysis",
		Print: func(_ *starlark.Thread, msg string) {
			r.log.Debug("sandbox: print", "msg", msg)
		},
	}
	thread.SetMaxExecutionSteps(r.cfg.MaxSteps)
	stop := context.AfterFunc(ctx, func() {
		thread.Cancel(ctx.Err().Error())
	})
	defer stop()

	defer func() {
		if p := recover(); p != nil {
			result = nil
			err = fmt.Errorf("%w: panic: %v", ErrExecutionFault, p)
		}
	}()

	globals, err := starlark.ExecFileOptions(fileOptions, thread, "analysis.star", src, predeclared)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrExecutionFault, describeEvalError(err))
	}
	entry, ok := globals[EntryPoint]
	if !ok {
		return nil, fmt.Errorf("%w: program does not define %s()", ErrExecutionFault, EntryPoint)
	}
	if _, ok := entry.(starlark.Callable); !ok {
		return nil, fmt.Errorf("%w: %s is a %s, not a function", ErrExecutionFault, EntryPoint, entry.Type())
	}

	result, err = starlark.Call(thread, entry, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrExecutionFault, describeEvalError(err))
	}
	r.log.Debug("sandbox: program finished", "steps", thread.ExecutionSteps())
	return result, nil
}

// Execute runs src and normalizes the entry point's return value. When the
// value has the wrong shape the error wraps ErrInvalidResultShape and raw
// holds its string form.
func (r *Runtime) Execute(ctx context.Context, src string, env Env) (res *analysis.ExecutionResult, raw string, err error) {
	v, err := r.Run(ctx, src, env)
	if err != nil {
		return nil, "", err
	}
	defer func() {
		if p := recover(); p != nil {
			res, raw = nil, ""
			err = fmt.Errorf("%w: panic: %v", ErrInvalidResultShape, p)
		}
	}()
	res, err = normalize(v)
	if err != nil {
		return nil, rawString(v), err
	}
	return res, "", nil
}

// describeEvalError includes the Starlark backtrace when there is one.
func describeEvalError(err error) string {
	var evalErr *starlark.EvalError
	if errors.As(err, &evalErr) {
		return evalErr.Backtrace()
	}
	return err.Error()
}
