package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/malbeclabs/rwe/pkg/analysis"
)

const metadataNotFound = "Dataset metadata file not found."

type plannerPayload struct {
	UserQuery       string          `json:"user_query"`
	OncologistView  json.RawMessage `json:"oncologist_view"`
	DatasetMetadata string          `json:"dataset_metadata"`
}

// Plan asks the planner for an ordered list of steps grounded in the dataset
// metadata.
func (p *Pipeline) Plan(ctx context.Context, query string, interp *Output[analysis.Interpretation]) (*Output[analysis.Plan], error) {
	payload, err := json.Marshal(plannerPayload{
		UserQuery:       query,
		OncologistView:  nullIfEmpty(interp.JSON()),
		DatasetMetadata: p.datasetMetadata(),
	})
	if err != nil {
		return nil, err
	}

	response, err := p.cfg.LLM.Complete(ctx, p.cfg.Prompts.GetPrompt(PromptPlanner), string(payload), WithCacheControl())
	if err != nil {
		return nil, fmt.Errorf("planner: %w", err)
	}

	out := parsePlan(response)
	if out.Failure != nil {
		p.logInfo("pipeline: plan did not parse",
			"schemaViolation", out.Failure.SchemaViolation, "violations", out.Failure.Violations)
	}
	return out, nil
}

// datasetMetadata reads the metadata description, falling back to a fixed
// notice when the file is missing.
func (p *Pipeline) datasetMetadata() string {
	if p.cfg.MetadataPath == "" {
		return metadataNotFound
	}
	data, err := os.ReadFile(p.cfg.MetadataPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			p.cfg.Logger.Warn("pipeline: failed to read dataset metadata", "path", p.cfg.MetadataPath, "error", err)
		}
		return metadataNotFound
	}
	return string(data)
}

func nullIfEmpty(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("null")
	}
	return raw
}
