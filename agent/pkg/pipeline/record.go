package pipeline

import (
	"encoding/json"

	"github.com/malbeclabs/rwe/pkg/analysis"
)

// NoAnswer is shown when a run produced no final answer.
const NoAnswer = "(No answer generated)"

// ParseFailure is stored in place of a structured output that could not be
// parsed or did not match its schema. It is data, not an error.
type ParseFailure struct {
	RawText         string   `json:"raw_text"`
	ParseError      bool     `json:"parse_error"`
	SchemaViolation bool     `json:"schema_violation,omitempty"`
	Violations      []string `json:"violations,omitempty"`
}

// Output is a stage's structured output. Exactly one of Value and Failure
// is set. It marshals as the object the model returned, or as the failure
// envelope.
type Output[T any] struct {
	Value   *T
	Failure *ParseFailure

	raw json.RawMessage
}

// JSON returns the stored form of the output.
func (o *Output[T]) JSON() json.RawMessage {
	if o == nil {
		return nil
	}
	if o.Failure != nil {
		b, _ := json.Marshal(o.Failure)
		return b
	}
	return o.raw
}

func (o Output[T]) MarshalJSON() ([]byte, error) {
	if o.Failure == nil && o.raw == nil {
		return []byte("null"), nil
	}
	return o.JSON(), nil
}

// Record accumulates everything one run produced. Fields a stage did not
// produce stay nil.
type Record struct {
	Query           string                           `json:"query"`
	Interpretation  *Output[analysis.Interpretation] `json:"interpretation,omitempty"`
	Plan            *Output[analysis.Plan]           `json:"plan,omitempty"`
	ExecutionResult *analysis.ExecutionResult        `json:"execution_result,omitempty"`
	FinalAnswer     *string                          `json:"final_answer,omitempty"`
	GeneratedCode   *string                          `json:"generated_code,omitempty"`
	AnalysisError   *string                          `json:"analysis_error,omitempty"`
}

// Patch is what one stage contributes to the record.
type Patch struct {
	Interpretation  *Output[analysis.Interpretation]
	Plan            *Output[analysis.Plan]
	ExecutionResult *analysis.ExecutionResult
	FinalAnswer     *string
	GeneratedCode   *string
	AnalysisError   *string
}

// Merge copies the non-nil fields of p into r. Analysis errors from
// different stages are joined rather than replaced.
func (r *Record) Merge(p Patch) {
	if p.Interpretation != nil {
		r.Interpretation = p.Interpretation
	}
	if p.Plan != nil {
		r.Plan = p.Plan
	}
	if p.ExecutionResult != nil {
		r.ExecutionResult = p.ExecutionResult
	}
	if p.FinalAnswer != nil {
		r.FinalAnswer = p.FinalAnswer
	}
	if p.GeneratedCode != nil {
		r.GeneratedCode = p.GeneratedCode
	}
	if p.AnalysisError != nil {
		if r.AnalysisError != nil && *r.AnalysisError != "" {
			joined := *r.AnalysisError + "; " + *p.AnalysisError
			r.AnalysisError = &joined
		} else {
			r.AnalysisError = p.AnalysisError
		}
	}
}

// Answer returns the final answer or the NoAnswer placeholder.
func (r *Record) Answer() string {
	if r == nil || r.FinalAnswer == nil || *r.FinalAnswer == "" {
		return NoAnswer
	}
	return *r.FinalAnswer
}

func strPtr(s string) *string {
	return &s
}
