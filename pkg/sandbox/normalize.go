package sandbox

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/malbeclabs/rwe/pkg/analysis"
	"go.starlark.net/starlark"
)

// MaxResultSteps caps the number of step results a program may return.
const MaxResultSteps = 1000

var errTooManySteps = fmt.Errorf("more than %d step results", MaxResultSteps)

// normalize turns the entry point's return value into an execution result.
// Only steps and overall_status are read from the returned dict; anything
// else is ignored.
func normalize(v starlark.Value) (*analysis.ExecutionResult, error) {
	m, ok := v.(starlark.IterableMapping)
	if !ok {
		return nil, fmt.Errorf("%w: expected a dict, got %s", ErrInvalidResultShape, v.Type())
	}

	res := &analysis.ExecutionResult{
		Steps:         []analysis.StepResult{},
		OverallStatus: analysis.StatusSuccess,
	}

	if raw, found := lookup(m, "steps"); found && raw != starlark.None {
		steps, warn, err := decodeSteps(raw)
		if errors.Is(err, errTooManySteps) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidResultShape, err)
		}
		if err != nil {
			res.Error = fmt.Sprintf("steps ignored: %v", err)
		} else {
			res.Steps = steps
			res.Error = warn
		}
	}

	if raw, found := lookup(m, "overall_status"); found && raw != starlark.None {
		s, isStr := starlark.AsString(raw)
		if st := analysis.Status(s); isStr && st.Valid() {
			res.OverallStatus = st
		} else {
			res.OverallStatus = analysis.StatusFailed
		}
	}
	return res, nil
}

func lookup(m starlark.IterableMapping, key string) (starlark.Value, bool) {
	v, found, err := m.Get(starlark.String(key))
	if err != nil {
		return nil, false
	}
	return v, found
}

// decodeSteps converts a list of step dicts. Entries that do not decode are
// replaced by failed steps; warn summarizes how many were replaced. All
// entries share one conversion budget.
func decodeSteps(v starlark.Value) (steps []analysis.StepResult, warn string, err error) {
	iterable, ok := v.(starlark.Iterable)
	if !ok || v.Type() == "dict" {
		return nil, "", fmt.Errorf("expected a list of steps, got %s", v.Type())
	}
	if starlark.Len(v) > MaxResultSteps {
		return nil, "", errTooManySteps
	}
	iter := iterable.Iterate()
	defer iter.Done()

	steps = []analysis.StepResult{}
	var (
		elem      starlark.Value
		malformed int
		idx       int
	)
	conv := newConverter()
	for iter.Next(&elem) {
		idx++
		if idx > MaxResultSteps {
			return nil, "", errTooManySteps
		}
		step, derr := decodeStep(conv, elem)
		if derr != nil {
			malformed++
			step = analysis.StepResult{
				StepID: idx,
				Status: analysis.StepFailed,
				Error:  fmt.Sprintf("malformed step result: %v", derr),
			}
		}
		steps = append(steps, step)
	}
	if malformed > 0 {
		warn = fmt.Sprintf("%d malformed step result(s) replaced", malformed)
	}
	return steps, warn, nil
}

func decodeStep(conv *converter, v starlark.Value) (analysis.StepResult, error) {
	var step analysis.StepResult
	if _, ok := v.(starlark.IterableMapping); !ok {
		return step, fmt.Errorf("expected a dict, got %s", v.Type())
	}
	gv, err := conv.toGo(v)
	if err != nil {
		return step, err
	}
	buf, err := json.Marshal(gv)
	if err != nil {
		return step, err
	}
	if err := json.Unmarshal(buf, &step); err != nil {
		return step, err
	}
	step.Tool = analysis.NormalizeTool(step.Tool)
	switch step.Status {
	case analysis.StepSuccess, analysis.StepFailed, analysis.StepSkipped:
	default:
		if step.Error == "" {
			step.Error = fmt.Sprintf("invalid step status %q", step.Status)
		}
		step.Status = analysis.StepFailed
	}
	return step, nil
}

const maxRawLength = 4096

// rawString renders a value for ExecutionResult.RawReturn. Strings are
// returned without quoting; long renderings are cut at maxRawLength bytes.
func rawString(v starlark.Value) string {
	s, ok := starlark.AsString(v)
	if !ok {
		if _, err := toGo(v); errors.Is(err, errValueTooLarge) {
			return fmt.Sprintf("<%s: %v>", v.Type(), err)
		}
		s = v.String()
	}
	if len(s) > maxRawLength {
		s = s[:maxRawLength] + "..."
	}
	return s
}
