package vectorindex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/malbeclabs/rwe/pkg/duck"
)

const chunksSchema = `CREATE TABLE IF NOT EXISTS chunks (
	id VARCHAR PRIMARY KEY,
	text VARCHAR NOT NULL,
	metadata VARCHAR NOT NULL,
	embedding FLOAT[] NOT NULL
)`

// Store persists chunks and their embeddings in DuckDB and ranks them by
// cosine similarity.
type Store struct {
	log *slog.Logger
	db  *duck.DB
}

// Hit is a stored chunk matched by a query. Distance is one minus the
// cosine similarity.
type Hit struct {
	Chunk
	Distance float64
}

// OpenStore opens the store at path, creating the schema if needed. An
// empty path keeps the index in memory.
func OpenStore(ctx context.Context, log *slog.Logger, path string) (*Store, error) {
	db, err := duck.Open(ctx, log, path)
	if err != nil {
		return nil, err
	}
	if _, err := db.ExecContext(ctx, chunksSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create chunks table: %w", err)
	}
	return &Store{log: log, db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Upsert writes chunks with their embeddings, replacing chunks that share
// an id.
func (s *Store) Upsert(ctx context.Context, chunks []Chunk, embeddings [][]float32) error {
	if len(chunks) != len(embeddings) {
		return fmt.Errorf("got %d embeddings for %d chunks", len(embeddings), len(chunks))
	}
	for i, c := range chunks {
		meta, err := json.Marshal(c.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode metadata for %s: %w", c.ID, err)
		}
		_, err = s.db.ExecContext(ctx,
			"INSERT OR REPLACE INTO chunks (id, text, metadata, embedding) VALUES (?, ?, ?, CAST(? AS FLOAT[]))",
			c.ID, c.Text, string(meta), vectorLiteral(embeddings[i]),
		)
		if err != nil {
			return fmt.Errorf("failed to upsert chunk %s: %w", c.ID, err)
		}
	}
	return nil
}

// Query returns the k chunks most similar to embedding, best first.
func (s *Store) Query(ctx context.Context, embedding []float32, k int) ([]Hit, error) {
	if k <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, text, metadata, list_cosine_similarity(embedding, CAST(? AS FLOAT[])) AS similarity
		FROM chunks
		ORDER BY similarity DESC NULLS LAST, id
		LIMIT ?`,
		vectorLiteral(embedding), k,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var (
			h          Hit
			meta       string
			similarity *float64
		)
		if err := rows.Scan(&h.ID, &h.Text, &meta, &similarity); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		h.Metadata, err = decodeMetadata(meta)
		if err != nil {
			return nil, fmt.Errorf("failed to decode metadata for %s: %w", h.ID, err)
		}
		h.Distance = 1
		if similarity != nil {
			h.Distance = 1 - *similarity
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate chunks: %w", err)
	}
	return hits, nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chunks").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return n, nil
}

// Reset drops every stored chunk.
func (s *Store) Reset(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM chunks"); err != nil {
		return fmt.Errorf("failed to reset chunks: %w", err)
	}
	s.log.Info("vectorindex: store reset")
	return nil
}

func vectorLiteral(v []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'g', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

func decodeMetadata(s string) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, err
	}
	return m, nil
}
