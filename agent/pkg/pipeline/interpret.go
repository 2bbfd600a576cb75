package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/malbeclabs/rwe/pkg/analysis"
)

type interpreterPayload struct {
	UserQuery string `json:"user_query"`
}

// Interpret asks the interpreter for a structured reading of the query. A
// response that does not parse is returned as a ParseFailure, not an error.
func (p *Pipeline) Interpret(ctx context.Context, query string) (*Output[analysis.Interpretation], error) {
	payload, err := json.Marshal(interpreterPayload{UserQuery: query})
	if err != nil {
		return nil, err
	}

	response, err := p.cfg.LLM.Complete(ctx, p.cfg.Prompts.GetPrompt(PromptInterpreter), string(payload), WithCacheControl())
	if err != nil {
		return nil, fmt.Errorf("interpreter: %w", err)
	}

	out := parseInterpretation(response)
	if out.Failure != nil {
		p.logInfo("pipeline: interpretation did not parse",
			"schemaViolation", out.Failure.SchemaViolation, "response", truncateForError(response))
	}
	return out, nil
}
