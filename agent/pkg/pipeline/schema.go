package pipeline

import (
	"github.com/google/jsonschema-go/jsonschema"
	"github.com/malbeclabs/rwe/pkg/analysis"
)

var (
	interpretationSchema = mustResolve(newInterpretationSchema())
	planSchema           = mustResolve(newPlanSchema())
)

func stringArray() *jsonschema.Schema {
	return &jsonschema.Schema{Type: "array", Items: &jsonschema.Schema{Type: "string"}}
}

func enumArray[T ~string](values []T) *jsonschema.Schema {
	enum := make([]any, len(values))
	for i, v := range values {
		enum[i] = string(v)
	}
	return &jsonschema.Schema{Type: "array", Items: &jsonschema.Schema{Type: "string", Enum: enum}}
}

func newInterpretationSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"domain_area":      {Type: "string"},
			"diagnosis_terms":  stringArray(),
			"target_features":  stringArray(),
			"detected_intents": enumArray(analysis.Intents),
			"answerable":       {Type: "boolean"},
			"limitations":      stringArray(),
			"planner_notes":    {Type: "string"},
		},
		Required: []string{"detected_intents", "answerable"},
	}
}

func newPlanSchema() *jsonschema.Schema {
	tools := make([]any, 0, len(analysis.Tools)+1)
	for _, t := range analysis.Tools {
		tools = append(tools, string(t))
	}
	tools = append(tools, "cohort_sql")

	step := &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"step_id":      {Type: "integer"},
			"display_name": {Type: "string"},
			"name":         {Type: "string"},
			"tool":         {Type: "string", Enum: tools},
			"filter":       {Types: []string{"object", "null"}},
			"feature":      {Types: []string{"string", "null"}},
			"columns_used": stringArray(),
			"tables_used":  stringArray(),
			"comment":      {Type: "string"},
		},
		Required: []string{"step_id", "tool"},
	}

	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"analysis_kinds":     enumArray(analysis.AnalysisKinds),
			"steps":              {Type: "array", Items: step},
			"summary":            {Type: "string"},
			"unanswerable_parts": stringArray(),
		},
		Required: []string{"steps"},
	}
}

func parseInterpretation(response string) *Output[analysis.Interpretation] {
	return parseOutput[analysis.Interpretation]("interpreter", response, interpretationSchema, nil)
}

func parsePlan(response string) *Output[analysis.Plan] {
	return parseOutput("planner", response, planSchema, (*analysis.Plan).Validate)
}
