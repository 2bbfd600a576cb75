package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/malbeclabs/rwe/pkg/metrics"
)

const (
	DefaultBatchSize = 100
	DefaultWorkers   = 4
)

type IngestConfig struct {
	Logger       *slog.Logger
	Source       TableSource
	Chunker      *Chunker
	Embedder     Embedder
	Store        *Store
	MetadataPath string
	BatchSize    int
	Workers      int
	// Reset clears the store before writing.
	Reset        bool
}

func (cfg *IngestConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Source == nil {
		return errors.New("table source is required")
	}
	if cfg.Chunker == nil || cfg.Chunker.Tokenizer == nil {
		return errors.New("chunker with tokenizer is required")
	}
	if cfg.Chunker.Size <= 0 {
		return errors.New("chunk size must be positive")
	}
	if cfg.Chunker.Overlap < 0 || cfg.Chunker.Overlap >= cfg.Chunker.Size {
		return fmt.Errorf("chunk overlap (%d) must be in [0, %d)", cfg.Chunker.Overlap, cfg.Chunker.Size)
	}
	if cfg.Embedder == nil {
		return errors.New("embedder is required")
	}
	if cfg.Store == nil {
		return errors.New("store is required")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	return nil
}

// IngestStats summarizes one ingestion run.
type IngestStats struct {
	Chunks           int           `json:"n_chunks_total"`
	AvgChunkChars    float64       `json:"avg_chunk_length_chars"`
	StoredCount      int           `json:"collection_count"`
	ChunkingDuration time.Duration `json:"time_chunking"`
	IndexingDuration time.Duration `json:"time_indexing"`
	TotalDuration    time.Duration `json:"time_total"`
	Batches          int           `json:"batches"`
	SampleChunkIDs   []string      `json:"sample_chunk_ids,omitempty"`
}

// Ingest chunks every source, embeds the chunks in concurrent batches and
// writes them to the store in chunk order.
func Ingest(ctx context.Context, cfg IngestConfig) (*IngestStats, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := cfg.Logger
	start := time.Now()

	if cfg.Reset {
		if err := cfg.Store.Reset(ctx); err != nil {
			return nil, err
		}
	}

	chunks, err := cfg.Chunker.BuildChunks(ctx, cfg.Source, cfg.MetadataPath)
	if err != nil {
		return nil, fmt.Errorf("failed to build chunks: %w", err)
	}
	chunked := time.Now()

	stats := &IngestStats{Chunks: len(chunks)}
	if len(chunks) > 0 {
		var chars int
		for _, c := range chunks {
			chars += len([]rune(c.Text))
		}
		stats.AvgChunkChars = float64(chars) / float64(len(chunks))
	}
	for i := 0; i < len(chunks) && i < 5; i++ {
		stats.SampleChunkIDs = append(stats.SampleChunkIDs, chunks[i].ID)
	}
	log.Info("vectorindex: chunks built", "chunks", len(chunks), "avgChars", stats.AvgChunkChars)

	batches := make([][]Chunk, 0, (len(chunks)+cfg.BatchSize-1)/cfg.BatchSize)
	for lo := 0; lo < len(chunks); lo += cfg.BatchSize {
		batches = append(batches, chunks[lo:min(lo+cfg.BatchSize, len(chunks))])
	}
	stats.Batches = len(batches)

	pool := pond.NewResultPool[[][]float32](cfg.Workers)
	defer pool.StopAndWait()

	group := pool.NewGroupContext(ctx)
	for i, batch := range batches {
		group.SubmitErr(func() ([][]float32, error) {
			texts := make([]string, len(batch))
			for j, c := range batch {
				texts[j] = c.Text
			}
			vecs, err := cfg.Embedder.Embed(ctx, texts)
			if err != nil {
				return nil, fmt.Errorf("batch %d: %w", i, err)
			}
			if len(vecs) != len(batch) {
				return nil, fmt.Errorf("batch %d: got %d embeddings for %d chunks", i, len(vecs), len(batch))
			}
			log.Debug("vectorindex: batch embedded", "batch", i, "chunks", len(batch))
			return vecs, nil
		})
	}
	embeddings, err := group.Wait()
	if err != nil {
		return nil, fmt.Errorf("failed to embed chunks: %w", err)
	}

	for i, batch := range batches {
		if err := cfg.Store.Upsert(ctx, batch, embeddings[i]); err != nil {
			return nil, err
		}
		metrics.IndexedChunksTotal.Add(float64(len(batch)))
	}
	indexed := time.Now()

	count, err := cfg.Store.Count(ctx)
	if err != nil {
		return nil, err
	}
	stats.StoredCount = count
	stats.ChunkingDuration = chunked.Sub(start)
	stats.IndexingDuration = indexed.Sub(chunked)
	stats.TotalDuration = indexed.Sub(start)

	log.Info("vectorindex: ingestion complete",
		"chunks", stats.Chunks,
		"batches", stats.Batches,
		"stored", stats.StoredCount,
		"chunking", stats.ChunkingDuration,
		"indexing", stats.IndexingDuration,
		"total", stats.TotalDuration,
	)
	return stats, nil
}
