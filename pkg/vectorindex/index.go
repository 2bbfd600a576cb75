// Package vectorindex chunks patient tables and the dataset description,
// embeds the chunks, and serves similarity search over them from DuckDB.
package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

const (
	SnippetLength  = 400
	UnknownID      = "UNKNOWN"
	DefaultSearchK = 5
)

// Result is one search hit as returned to callers.
type Result struct {
	ID       string         `json:"id"`
	Snippet  string         `json:"snippet"`
	Metadata map[string]any `json:"metadata"`
	Distance float64        `json:"distance"`
}

type Config struct {
	Logger   *slog.Logger
	Store    *Store
	Embedder Embedder
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Store == nil {
		return errors.New("store is required")
	}
	if cfg.Embedder == nil {
		return errors.New("embedder is required")
	}
	return nil
}

type Index struct {
	log *slog.Logger
	cfg Config
}

func New(cfg Config) (*Index, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Index{log: cfg.Logger, cfg: cfg}, nil
}

func (x *Index) Store() *Store {
	return x.cfg.Store
}

// Search embeds query and returns the k closest chunks.
func (x *Index) Search(ctx context.Context, query string, k int) ([]Result, error) {
	vecs, err := x.cfg.Embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("expected 1 query embedding, got %d", len(vecs))
	}

	hits, err := x.cfg.Store.Query(ctx, vecs[0], k)
	if err != nil {
		return nil, err
	}
	x.log.Debug("vectorindex: search", "k", k, "hits", len(hits))

	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		results = append(results, Result{
			ID:       resultID(h.Metadata),
			Snippet:  snippet(h.Text),
			Metadata: h.Metadata,
			Distance: h.Distance,
		})
	}
	return results, nil
}

func resultID(meta map[string]any) string {
	for _, key := range []string{"row_id", "patient_id"} {
		if s, ok := meta[key].(string); ok && s != "" {
			return s
		}
	}
	return UnknownID
}

func snippet(text string) string {
	r := []rune(text)
	if len(r) <= SnippetLength {
		return text
	}
	return string(r[:SnippetLength])
}
