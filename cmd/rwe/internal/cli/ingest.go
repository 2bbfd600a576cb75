package cli

import (
	"fmt"
	"os"
	"strconv"

	"github.com/malbeclabs/rwe/pkg/vectorindex"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

type IngestCmd struct{}

func NewIngestCmd() *IngestCmd {
	return &IngestCmd{}
}

func (c *IngestCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Chunk and embed the registered tables and metadata into the retrieval index",
		RunE: func(cmd *cobra.Command, args []string) error {
			reset, err := cmd.Flags().GetBool("reset")
			if err != nil {
				return fmt.Errorf("failed to get reset flag: %w", err)
			}
			encoding, err := cmd.Flags().GetString("encoding")
			if err != nil {
				return fmt.Errorf("failed to get encoding flag: %w", err)
			}

			log, cfg, err := setup(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()

			a, err := newApp(ctx, log, cfg, appOptions{index: true})
			if err != nil {
				return err
			}
			defer a.Close()

			tok, err := vectorindex.NewTiktokenTokenizer(encoding)
			if err != nil {
				return err
			}

			stats, err := vectorindex.Ingest(ctx, vectorindex.IngestConfig{
				Logger: log,
				Source: a.tables,
				Chunker: &vectorindex.Chunker{
					Tokenizer: tok,
					Size:      cfg.Index.ChunkTokenSize,
					Overlap:   cfg.Index.ChunkOverlap,
				},
				Embedder:     a.embedder,
				Store:        a.indexStore,
				MetadataPath: cfg.MetadataTextPath,
				BatchSize:    cfg.Index.BatchSize,
				Workers:      cfg.Index.Workers,
				Reset:        reset,
			})
			if err != nil {
				return fmt.Errorf("failed to ingest: %w", err)
			}

			table := tablewriter.NewWriter(os.Stdout)
			table.SetAutoWrapText(false)
			table.SetAutoFormatHeaders(false)
			table.SetBorder(true)
			table.SetHeader([]string{"Metric", "Value"})
			table.AppendBulk([][]string{
				{"chunks", strconv.Itoa(stats.Chunks)},
				{"avg chunk chars", strconv.FormatFloat(stats.AvgChunkChars, 'f', 1, 64)},
				{"batches", strconv.Itoa(stats.Batches)},
				{"stored", strconv.Itoa(stats.StoredCount)},
				{"chunking", stats.ChunkingDuration.String()},
				{"indexing", stats.IndexingDuration.String()},
				{"total", stats.TotalDuration.String()},
			})
			table.Render()
			return nil
		},
	}

	cmd.Flags().Bool("reset", false, "delete every stored chunk before ingesting")
	cmd.Flags().String("encoding", vectorindex.DefaultEncoding, "tiktoken encoding used for chunking")

	return cmd
}
