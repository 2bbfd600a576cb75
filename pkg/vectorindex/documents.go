package vectorindex

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/malbeclabs/rwe/pkg/tablestore"
)

const (
	SourceTable    = "msk_chord"
	SourceMetadata = "metadata_file"
)

// Chunk is one indexed unit of text. Metadata values are strings or ints so
// that they survive a JSON round trip through the store unchanged.
type Chunk struct {
	ID       string         `json:"id"`
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata"`
}

// TableSource lists registered tables and loads them by logical name.
type TableSource interface {
	Tables() []tablestore.TableConfig
	Load(ctx context.Context, name string) (*tablestore.Table, error)
}

// Cells read as missing when building row documents.
var missingValues = map[string]struct{}{
	"": {}, "#N/A": {}, "#N/A N/A": {}, "#NA": {}, "-1.#IND": {}, "-1.#QNAN": {},
	"-NaN": {}, "-nan": {}, "1.#IND": {}, "1.#QNAN": {}, "<NA>": {}, "N/A": {},
	"NA": {}, "NULL": {}, "NaN": {}, "None": {}, "n/a": {}, "nan": {}, "null": {},
}

func isMissing(v string) bool {
	_, ok := missingValues[strings.TrimSpace(v)]
	return ok
}

// TextColumns returns the columns rendered into row documents: the
// configured ones when set, otherwise every column except the id column.
func TextColumns(t *tablestore.Table, tc tablestore.TableConfig) []string {
	if len(tc.TextColumns) > 0 {
		return tc.TextColumns
	}
	cols := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		if c != tc.IDColumn {
			cols = append(cols, c)
		}
	}
	return cols
}

// RowText renders a row as "column: value" lines, skipping missing cells
// and columns the table does not have.
func RowText(t *tablestore.Table, row []string, columns []string) string {
	parts := make([]string, 0, len(columns))
	for _, col := range columns {
		idx := t.ColumnIndex(col)
		if idx < 0 || isMissing(row[idx]) {
			continue
		}
		parts = append(parts, col+": "+row[idx])
	}
	return strings.Join(parts, "\n")
}

// Chunker turns tables and the metadata file into chunks.
type Chunker struct {
	Tokenizer Tokenizer
	Size      int
	Overlap   int
}

// TableChunks builds the chunks for every row of t.
func (c *Chunker) TableChunks(t *tablestore.Table, tc tablestore.TableConfig) ([]Chunk, error) {
	idIdx := t.ColumnIndex(tc.IDColumn)
	if idIdx < 0 {
		return nil, fmt.Errorf("%w: table %s has no id column %q", tablestore.ErrSchema, tc.Name, tc.IDColumn)
	}
	cols := TextColumns(t, tc)

	var chunks []Chunk
	for rowIndex, row := range t.Rows {
		rowID := row[idIdx]
		for i, text := range ChunkText(c.Tokenizer, RowText(t, row, cols), c.Size, c.Overlap) {
			chunks = append(chunks, Chunk{
				ID:   fmt.Sprintf("%s:%s:%d:chunk_%d", tc.Name, rowID, rowIndex, i),
				Text: text,
				Metadata: map[string]any{
					"source":      SourceTable,
					"table_name":  tc.Name,
					"id_column":   tc.IDColumn,
					"row_id":      rowID,
					"row_index":   rowIndex,
					"chunk_index": i,
				},
			})
		}
	}
	return chunks, nil
}

// MetadataChunks reads the dataset description at path and chunks it.
func (c *Chunker) MetadataChunks(path string) ([]Chunk, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", tablestore.ErrNotFound, path)
		}
		return nil, fmt.Errorf("failed to read metadata file %s: %w", path, err)
	}
	name := filepath.Base(path)

	var chunks []Chunk
	for i, text := range ChunkText(c.Tokenizer, string(data), c.Size, c.Overlap) {
		chunks = append(chunks, Chunk{
			ID:   fmt.Sprintf("%s_chunk_%d", name, i),
			Text: text,
			Metadata: map[string]any{
				"source":      SourceMetadata,
				"filename":    name,
				"chunk_index": i,
			},
		})
	}
	return chunks, nil
}

// BuildChunks chunks every registered table followed by the metadata file.
// An empty metadataPath skips the metadata file.
func (c *Chunker) BuildChunks(ctx context.Context, src TableSource, metadataPath string) ([]Chunk, error) {
	var all []Chunk
	for _, tc := range src.Tables() {
		t, err := src.Load(ctx, tc.Name)
		if err != nil {
			return nil, fmt.Errorf("failed to load table %s: %w", tc.Name, err)
		}
		chunks, err := c.TableChunks(t, tc)
		if err != nil {
			return nil, err
		}
		all = append(all, chunks...)
	}
	if metadataPath != "" {
		chunks, err := c.MetadataChunks(metadataPath)
		if err != nil {
			return nil, err
		}
		all = append(all, chunks...)
	}
	return all, nil
}
