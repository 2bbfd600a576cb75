package mcpserver

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/malbeclabs/rwe/pkg/cohort"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	toolDescribeTable = "describe_table"
	topValuesLimit    = 5
)

type DescribeTableInput struct {
	// Name is a registered table or alias. Empty lists the tables.
	Name string `json:"name,omitempty" jsonschema:"logical table name or alias; omit to list tables"`
}

type ColumnDescription struct {
	Name      string              `json:"name"`
	NonEmpty  int                 `json:"non_empty"`
	Numeric   bool                `json:"numeric"`
	Min       float64             `json:"min,omitempty"`
	Max       float64             `json:"max,omitempty"`
	Mean      float64             `json:"mean,omitempty"`
	TopValues []cohort.ValueCount `json:"top_values,omitempty"`
}

type TableDescription struct {
	Name     string              `json:"name"`
	IDColumn string              `json:"id_column"`
	RowCount int                 `json:"row_count"`
	Columns  []ColumnDescription `json:"columns"`
}

type DescribeTableOutput struct {
	Tables []string          `json:"tables"`
	Table  *TableDescription `json:"table,omitempty"`
}

func RegisterDescribeTableTool(log *slog.Logger, server *mcp.Server, tables TableLister, resolver *cohort.Resolver) error {
	req, err := jsonschema.For[DescribeTableInput](nil)
	if err != nil {
		return fmt.Errorf("failed to create describe_table input schema: %w", err)
	}

	tool := &mcp.Tool{
		Name: toolDescribeTable,
		Description: `
			List the registered patient tables, or describe one table: its id column, row count,
			and per-column non-empty counts, numeric ranges and most frequent values.
			Use it before asking questions that filter on specific column values.
		`,
		InputSchema: req,
	}

	handler := func(ctx context.Context, _ *mcp.CallToolRequest, in DescribeTableInput) (*mcp.CallToolResult, DescribeTableOutput, error) {
		out, err := DescribeTable(ctx, log, tables, resolver, in)
		recordToolCall(toolDescribeTable, err)
		return nil, out, err
	}

	mcp.AddTool(server, tool, handler)
	return nil
}

// DescribeTable lists the registered tables and, when in.Name is set,
// profiles the columns of the named table or alias.
func DescribeTable(ctx context.Context, log *slog.Logger, tables TableLister, resolver *cohort.Resolver, in DescribeTableInput) (DescribeTableOutput, error) {
	out := DescribeTableOutput{Tables: []string{}}
	for _, t := range tables.Tables() {
		out.Tables = append(out.Tables, t.Name)
	}

	name := strings.TrimSpace(in.Name)
	if name == "" {
		return out, nil
	}
	log.Debug("mcp/tool: handling describe_table", "name", name)

	t, err := resolver.Load(ctx, name)
	if err != nil {
		return DescribeTableOutput{}, fmt.Errorf("failed to load table %s: %w", name, err)
	}

	desc := &TableDescription{
		Name:     t.Name,
		IDColumn: t.IDColumn,
		RowCount: t.Len(),
		Columns:  make([]ColumnDescription, 0, len(t.Columns)),
	}
	for _, col := range t.Columns {
		cd := ColumnDescription{Name: col}
		for _, v := range t.Column(col) {
			if strings.TrimSpace(v) != "" {
				cd.NonEmpty++
			}
		}
		values, _ := cohort.NumericValues(t, col)
		if len(values) > 0 && len(values) == cd.NonEmpty {
			m := cohort.Describe(values)
			cd.Numeric = true
			cd.Min, cd.Max, cd.Mean = m.Min, m.Max, m.Mean
		} else {
			cd.TopValues, _ = cohort.ValueCounts(t, col, topValuesLimit)
		}
		desc.Columns = append(desc.Columns, cd)
	}
	out.Table = desc
	return out, nil
}
