package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/malbeclabs/rwe/pkg/analysis"
	"github.com/malbeclabs/rwe/pkg/cohort"
	"github.com/malbeclabs/rwe/pkg/tablestore"
	"go.starlark.net/starlark"
)

// tableValue exposes a loaded table to analysis code. It is immutable; all
// operations on it return new values.
type tableValue struct {
	t *tablestore.Table
}

var _ starlark.HasAttrs = (*tableValue)(nil)

func (v *tableValue) String() string {
	return fmt.Sprintf("<table %s: %d rows>", v.t.Name, v.t.Len())
}
func (v *tableValue) Type() string          { return "table" }
func (v *tableValue) Freeze()               {}
func (v *tableValue) Truth() starlark.Bool  { return v.t.Len() > 0 }
func (v *tableValue) Hash() (uint32, error) { return 0, errors.New("unhashable type: table") }

func (v *tableValue) Attr(name string) (starlark.Value, error) {
	switch name {
	case "name":
		return starlark.String(v.t.Name), nil
	case "columns":
		cols := make([]starlark.Value, len(v.t.Columns))
		for i, c := range v.t.Columns {
			cols[i] = starlark.String(c)
		}
		return starlark.NewList(cols), nil
	case "row_count":
		return starlark.MakeInt(v.t.Len()), nil
	case "id_column":
		return starlark.String(v.t.IDColumn), nil
	}
	return nil, nil
}

func (v *tableValue) AttrNames() []string {
	return []string{"columns", "id_column", "name", "row_count"}
}

// session holds the state of one execution: the capabilities bound to the
// request context and the cohort carried between run_step calls.
type session struct {
	ctx      context.Context
	resolver *cohort.Resolver
	executor *cohort.Executor
	cohort   cohort.Context
}

func (s *session) builtins() starlark.StringDict {
	return starlark.StringDict{
		"table_exists":     starlark.NewBuiltin("table_exists", s.tableExists),
		"load_table":       starlark.NewBuiltin("load_table", s.loadTable),
		"has_column":       starlark.NewBuiltin("has_column", s.hasColumn),
		"apply_filter":     starlark.NewBuiltin("apply_filter", s.applyFilter),
		"summarize":        starlark.NewBuiltin("summarize", s.summarize),
		"describe_feature": starlark.NewBuiltin("describe_feature", s.describeFeature),
		"value_counts":     starlark.NewBuiltin("value_counts", s.valueCounts),
		"run_step":         starlark.NewBuiltin("run_step", s.runStep),
		"overall_status":   starlark.NewBuiltin("overall_status", s.overallStatus),
	}
}

func (s *session) tableExists(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &name); err != nil {
		return nil, err
	}
	_, err := s.resolver.Resolve(name)
	return starlark.Bool(err == nil), nil
}

func (s *session) loadTable(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &name); err != nil {
		return nil, err
	}
	t, err := s.resolver.Load(s.ctx, name)
	if err != nil {
		return nil, err
	}
	return &tableValue{t: t}, nil
}

func (s *session) hasColumn(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var (
		tv     *tableValue
		column string
	)
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "table", &tv, "column", &column); err != nil {
		return nil, err
	}
	return starlark.Bool(tv.t.HasColumn(column)), nil
}

func (s *session) applyFilter(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var (
		tv     *tableValue
		filter starlark.Value = starlark.None
	)
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "table", &tv, "filter?", &filter); err != nil {
		return nil, err
	}
	spec, err := filterSpec(filter)
	if err != nil {
		return nil, err
	}
	return &tableValue{t: cohort.ApplyFilter(tv.t, spec)}, nil
}

func (s *session) summarize(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var (
		tv     *tableValue
		filter starlark.Value = starlark.None
	)
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "table", &tv, "filter?", &filter); err != nil {
		return nil, err
	}
	spec, err := filterSpec(filter)
	if err != nil {
		return nil, err
	}
	summary := cohort.Summarize(tv.t, spec)
	summary.TableUsed = tv.t.Name
	return structToStarlark(summary)
}

// describeFeature returns None when the feature has no numeric values so
// that analysis code can record a failed step instead of aborting.
func (s *session) describeFeature(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var (
		tv      *tableValue
		feature string
	)
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "table", &tv, "feature", &feature); err != nil {
		return nil, err
	}
	m, err := cohort.DescribeFeature(tv.t, feature)
	if errors.Is(err, cohort.ErrFeatureNotComputable) {
		return starlark.None, nil
	}
	if err != nil {
		return nil, err
	}
	return structToStarlark(m)
}

func (s *session) valueCounts(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var (
		tv     *tableValue
		column string
		limit  = 10
	)
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "table", &tv, "column", &column, "limit?", &limit); err != nil {
		return nil, err
	}
	counts, ok := cohort.ValueCounts(tv.t, column, limit)
	if !ok {
		return starlark.None, nil
	}
	return structToStarlark(counts)
}

// runStep executes one plan step with the engine, threading the cohort
// through successive calls. It never raises for step-level failures.
func (s *session) runStep(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var raw starlark.Value
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "step", &raw); err != nil {
		return nil, err
	}
	gv, err := toGo(raw)
	if err != nil {
		return nil, err
	}
	buf, err := json.Marshal(gv)
	if err != nil {
		return nil, err
	}
	var step analysis.PlanStep
	if err := json.Unmarshal(buf, &step); err != nil {
		return nil, fmt.Errorf("step is not a valid plan step: %w", err)
	}
	res := s.executor.ExecuteStep(s.ctx, step, &s.cohort)
	return structToStarlark(res)
}

func (s *session) overallStatus(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var raw starlark.Value
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "steps", &raw); err != nil {
		return nil, err
	}
	steps, _, err := decodeSteps(raw)
	if err != nil {
		return nil, err
	}
	return starlark.String(analysis.DeriveStatus(steps)), nil
}

func filterSpec(v starlark.Value) (cohort.FilterSpec, error) {
	if v == starlark.None {
		return nil, nil
	}
	gv, err := toGo(v)
	if err != nil {
		return nil, err
	}
	m, ok := gv.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("filter must be a dict, got %s", v.Type())
	}
	return cohort.FilterSpec(m), nil
}
