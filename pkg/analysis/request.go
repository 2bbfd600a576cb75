package analysis

import "encoding/json"

// Request is what an analyst receives for one query. Interpretation and
// Plan are nil when the corresponding stage produced no structured output;
// the raw JSON views are always set so the analyst can still see what the
// stage returned.
type Request struct {
	Query              string
	Interpretation     *Interpretation
	Plan               *Plan
	InterpretationJSON json.RawMessage
	PlanJSON           json.RawMessage
}

// Outcome is what an analyst returns. Result is always non-nil.
type Outcome struct {
	Result        *ExecutionResult
	GeneratedCode string
	Error         string
}
