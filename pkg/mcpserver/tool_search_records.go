package mcpserver

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/malbeclabs/rwe/pkg/vectorindex"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	toolSearchRecords = "search_records"
	maxSearchK        = 50
)

type SearchRecordsInput struct {
	Query string `json:"query" jsonschema:"free-text description of the records to find"`
	K     int    `json:"k,omitempty" jsonschema:"number of results, default 5, at most 50"`
}

type SearchRecordsOutput struct {
	Results []vectorindex.Result `json:"results"`
}

func RegisterSearchRecordsTool(log *slog.Logger, server *mcp.Server, searcher Searcher) error {
	req, err := jsonschema.For[SearchRecordsInput](nil)
	if err != nil {
		return fmt.Errorf("failed to create search_records input schema: %w", err)
	}

	tool := &mcp.Tool{
		Name: toolSearchRecords,
		Description: `
			Semantic search over indexed patient record chunks and the dataset description.
			Returns the closest chunks with their record id, a text snippet and a cosine distance.
			Use it to find example records, not to count patients; counts come from ask_cohort.
		`,
		InputSchema: req,
	}

	handler := func(ctx context.Context, _ *mcp.CallToolRequest, in SearchRecordsInput) (*mcp.CallToolResult, SearchRecordsOutput, error) {
		out, err := handleSearchRecords(ctx, log, searcher, in)
		recordToolCall(toolSearchRecords, err)
		return nil, out, err
	}

	mcp.AddTool(server, tool, handler)
	return nil
}

func handleSearchRecords(ctx context.Context, log *slog.Logger, searcher Searcher, in SearchRecordsInput) (SearchRecordsOutput, error) {
	query := strings.TrimSpace(in.Query)
	if query == "" {
		return SearchRecordsOutput{}, fmt.Errorf("query is required")
	}
	k := in.K
	if k <= 0 {
		k = vectorindex.DefaultSearchK
	}
	if k > maxSearchK {
		k = maxSearchK
	}
	log.Debug("mcp/tool: handling search_records", "query", query, "k", k)

	results, err := searcher.Search(ctx, query, k)
	if err != nil {
		return SearchRecordsOutput{}, fmt.Errorf("search failed: %w", err)
	}
	if results == nil {
		results = []vectorindex.Result{}
	}
	return SearchRecordsOutput{Results: results}, nil
}
