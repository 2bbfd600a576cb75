package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/malbeclabs/rwe/agent/pkg/pipeline"
	"github.com/malbeclabs/rwe/pkg/metrics"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const toolAskCohort = "ask_cohort"

type AskCohortInput struct {
	Query string `json:"query" jsonschema:"the clinical question about the patient cohort"`
}

type AskCohortOutput struct {
	RunID         string `json:"run_id"`
	Answer        string `json:"answer"`
	OverallStatus string `json:"overall_status"`
	AnalysisError string `json:"analysis_error"`
	// ExecutionResult is the JSON execution result of the analysis.
	ExecutionResult string `json:"execution_result"`
}

func RegisterAskCohortTool(log *slog.Logger, server *mcp.Server, asker Asker) error {
	req, err := jsonschema.For[AskCohortInput](nil)
	if err != nil {
		return fmt.Errorf("failed to create ask_cohort input schema: %w", err)
	}
	res, err := jsonschema.For[AskCohortOutput](nil)
	if err != nil {
		return fmt.Errorf("failed to create ask_cohort output schema: %w", err)
	}

	tool := &mcp.Tool{
		Name: toolAskCohort,
		Description: `
			Answer a clinical question about the registered patient cohort.
			The question is interpreted, planned into cohort filters and descriptive statistics,
			executed against the patient tables, and explained in plain language.
			Results are descriptive only and are not treatment recommendations.
		`,
		InputSchema:  req,
		OutputSchema: res,
	}

	handler := func(ctx context.Context, _ *mcp.CallToolRequest, in AskCohortInput) (*mcp.CallToolResult, AskCohortOutput, error) {
		out, err := handleAskCohort(ctx, log, asker, in)
		recordToolCall(toolAskCohort, err)
		return nil, out, err
	}

	mcp.AddTool(server, tool, handler)
	return nil
}

func handleAskCohort(ctx context.Context, log *slog.Logger, asker Asker, in AskCohortInput) (AskCohortOutput, error) {
	query := strings.TrimSpace(in.Query)
	if query == "" {
		return AskCohortOutput{}, fmt.Errorf("query is required")
	}
	log.Debug("mcp/tool: handling ask_cohort", "query", query)

	var runID string
	rec, err := asker.RunWithProgress(ctx, query, func(p pipeline.Progress) {
		if p.RunID != "" {
			runID = p.RunID
		}
	})
	if rec == nil {
		return AskCohortOutput{}, fmt.Errorf("pipeline returned no record: %w", err)
	}

	out := AskCohortOutput{RunID: runID, Answer: rec.Answer()}
	if rec.ExecutionResult != nil {
		out.OverallStatus = string(rec.ExecutionResult.OverallStatus)
		b, mErr := json.Marshal(rec.ExecutionResult)
		if mErr != nil {
			return AskCohortOutput{}, fmt.Errorf("failed to encode execution result: %w", mErr)
		}
		out.ExecutionResult = string(b)
	}
	if rec.AnalysisError != nil {
		out.AnalysisError = *rec.AnalysisError
	}
	if err != nil {
		// The record is still useful; surface the failure alongside it.
		if out.AnalysisError != "" {
			out.AnalysisError += "; "
		}
		out.AnalysisError += err.Error()
	}
	return out, nil
}

func recordToolCall(tool string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.ToolCallsTotal.WithLabelValues(tool, status).Inc()
}
