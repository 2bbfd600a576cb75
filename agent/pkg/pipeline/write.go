package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/malbeclabs/rwe/pkg/analysis"
)

type writerPayload struct {
	UserQuery       string                    `json:"user_query"`
	OncologistView  json.RawMessage           `json:"oncologist_view"`
	Plan            json.RawMessage           `json:"plan"`
	ExecutionResult *analysis.ExecutionResult `json:"execution_result"`
	AnalysisError   string                    `json:"analysis_error,omitempty"`
}

// Write produces the user-facing answer from everything recorded so far.
// The response is used verbatim.
func (p *Pipeline) Write(ctx context.Context, rec *Record) (string, error) {
	payload := writerPayload{
		UserQuery:       rec.Query,
		OncologistView:  nullIfEmpty(rec.Interpretation.JSON()),
		Plan:            nullIfEmpty(rec.Plan.JSON()),
		ExecutionResult: rec.ExecutionResult,
	}
	if rec.AnalysisError != nil {
		payload.AnalysisError = *rec.AnalysisError
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", err
	}

	response, err := p.cfg.LLM.Complete(ctx, p.cfg.Prompts.GetPrompt(PromptWriter), string(data))
	if err != nil {
		return "", fmt.Errorf("writer: %w", err)
	}
	return strings.TrimSpace(response), nil
}
