// Package analysis holds the records exchanged between the pipeline stages:
// the interpretation, the plan, and the execution result.
package analysis

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Intent is an analysis intent detected by the interpreter.
type Intent string

const (
	IntentPatientCounts       Intent = "patient_counts"
	IntentCohortFilter        Intent = "cohort_filter"
	IntentDescriptiveStats    Intent = "descriptive_stats"
	IntentFeatureDistribution Intent = "feature_distribution"
	IntentCohortComparison    Intent = "cohort_comparison"
	IntentFreeTextSummary     Intent = "free_text_summary"
	IntentUnknown             Intent = "unknown"
)

var Intents = []Intent{
	IntentPatientCounts, IntentCohortFilter, IntentDescriptiveStats,
	IntentFeatureDistribution, IntentCohortComparison, IntentFreeTextSummary, IntentUnknown,
}

// Interpretation is the interpreter's structured reading of a query.
// Answerable is advisory: later stages still run when it is false.
type Interpretation struct {
	DomainArea      string   `json:"domain_area"`
	DiagnosisTerms  []string `json:"diagnosis_terms"`
	TargetFeatures  []string `json:"target_features"`
	DetectedIntents []Intent `json:"detected_intents"`
	Answerable      bool     `json:"answerable"`
	Limitations     []string `json:"limitations"`
	PlannerNotes    string   `json:"planner_notes"`
}

func (i *Interpretation) HasIntent(intent Intent) bool {
	for _, x := range i.DetectedIntents {
		if x == intent {
			return true
		}
	}
	return false
}

type AnalysisKind string

const (
	KindFilterPatients      AnalysisKind = "filter_patients"
	KindPatientCounts       AnalysisKind = "patient_counts"
	KindDescriptiveStats    AnalysisKind = "descriptive_stats"
	KindFeatureDistribution AnalysisKind = "feature_distribution"
	KindCohortComparison    AnalysisKind = "cohort_comparison"
	KindFreeTextSummary     AnalysisKind = "free_text_summary"
	KindOther               AnalysisKind = "other"
)

var AnalysisKinds = []AnalysisKind{
	KindFilterPatients, KindPatientCounts, KindDescriptiveStats,
	KindFeatureDistribution, KindCohortComparison, KindFreeTextSummary, KindOther,
}

type Tool string

const (
	ToolCohortFilter        Tool = "cohort_filter"
	ToolFeatureDescriptives Tool = "feature_descriptives"
	ToolVectorSearch        Tool = "vector_search"
	ToolNone                Tool = "none"

	// toolCohortSQL is the older name for cohort_filter.
	toolCohortSQL Tool = "cohort_sql"
)

var Tools = []Tool{ToolCohortFilter, ToolFeatureDescriptives, ToolVectorSearch, ToolNone}

// NormalizeTool maps legacy and differently-cased tool names onto the
// canonical set. Unknown names are returned lowercased.
func NormalizeTool(t Tool) Tool {
	n := Tool(strings.ToLower(strings.TrimSpace(string(t))))
	if n == toolCohortSQL {
		return ToolCohortFilter
	}
	return n
}

// PlanStep is one declarative unit of analysis work. Steps run in list order.
type PlanStep struct {
	StepID      int            `json:"step_id"`
	DisplayName string         `json:"display_name"`
	Tool        Tool           `json:"tool"`
	Filter      map[string]any `json:"filter"`
	Feature     *string        `json:"feature"`
	ColumnsUsed []string       `json:"columns_used"`
	TablesUsed  []string       `json:"tables_used"`
	Comment     string         `json:"comment"`
}

// UnmarshalJSON accepts "name" as a fallback for display_name and
// normalizes the tool.
func (s *PlanStep) UnmarshalJSON(data []byte) error {
	type plain PlanStep
	aux := struct {
		*plain
		Name string `json:"name"`
	}{plain: (*plain)(s)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if s.DisplayName == "" {
		s.DisplayName = aux.Name
	}
	s.Tool = NormalizeTool(s.Tool)
	return nil
}

// FeatureName returns the step's feature or "".
func (s *PlanStep) FeatureName() string {
	if s.Feature == nil {
		return ""
	}
	return *s.Feature
}

type Plan struct {
	AnalysisKinds     []AnalysisKind `json:"analysis_kinds"`
	Steps             []PlanStep     `json:"steps"`
	Summary           string         `json:"summary"`
	UnanswerableParts []string       `json:"unanswerable_parts"`
}

// Validate checks that step ids are unique.
func (p *Plan) Validate() error {
	seen := make(map[int]bool, len(p.Steps))
	for _, s := range p.Steps {
		if seen[s.StepID] {
			return fmt.Errorf("duplicate step_id %d", s.StepID)
		}
		seen[s.StepID] = true
	}
	return nil
}

type Status string

const (
	StatusSuccess        Status = "success"
	StatusPartialSuccess Status = "partial_success"
	StatusFailed         Status = "failed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusSuccess, StatusPartialSuccess, StatusFailed:
		return true
	}
	return false
}

type StepStatus string

const (
	StepSuccess StepStatus = "success"
	StepFailed  StepStatus = "failed"
	StepSkipped StepStatus = "skipped"
)

type CohortSummary struct {
	TableUsed       string         `json:"table_used"`
	FilterApplied   map[string]any `json:"filter_applied,omitempty"`
	RowCount        int            `json:"row_count"`
	PatientCount    *int           `json:"patient_count,omitempty"`
	PatientIDColumn string         `json:"patient_id_column,omitempty"`
	SampleIDs       []string       `json:"sample_ids"`
}

// Metrics are descriptive statistics for one numeric feature. Std is nil
// when fewer than two values are available.
type Metrics struct {
	Count  int        `json:"count"`
	Mean   float64    `json:"mean"`
	Median float64    `json:"median"`
	Std    *float64   `json:"std"`
	Min    float64    `json:"min"`
	Max    float64    `json:"max"`
	IQR    [2]float64 `json:"iqr"`
}

type StepResult struct {
	StepID        int            `json:"step_id"`
	Name          string         `json:"name"`
	Tool          Tool           `json:"tool"`
	Status        StepStatus     `json:"status"`
	Error         string         `json:"error,omitempty"`
	Source        string         `json:"source,omitempty"`
	Feature       string         `json:"feature,omitempty"`
	CohortSummary *CohortSummary `json:"cohort_summary,omitempty"`
	Metrics       *Metrics       `json:"metrics,omitempty"`
}

type ExecutionResult struct {
	Steps                []StepResult `json:"steps"`
	OverallStatus        Status       `json:"overall_status"`
	Notes                string       `json:"notes"`
	Error                string       `json:"error,omitempty"`
	GeneratedCodeExcerpt string       `json:"generated_code_excerpt,omitempty"`
	RawReturn            string       `json:"raw_return,omitempty"`
}

// FailedResult returns a failed result with no steps.
func FailedResult(notes, errMsg string) *ExecutionResult {
	return &ExecutionResult{
		Steps:         []StepResult{},
		OverallStatus: StatusFailed,
		Notes:         notes,
		Error:         errMsg,
	}
}

// DeriveStatus reduces step outcomes to an overall status. Skipped steps
// count as neither success nor failure; a plan with no failures succeeds.
func DeriveStatus(steps []StepResult) Status {
	var ok, failed int
	for _, s := range steps {
		switch s.Status {
		case StepSuccess:
			ok++
		case StepFailed:
			failed++
		}
	}
	switch {
	case failed == 0:
		return StatusSuccess
	case ok == 0:
		return StatusFailed
	default:
		return StatusPartialSuccess
	}
}
