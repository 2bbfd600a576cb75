package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/malbeclabs/rwe/agent/pkg/pipeline"
	"github.com/spf13/cobra"
)

type AskCmd struct{}

func NewAskCmd() *AskCmd {
	return &AskCmd{}
}

func (c *AskCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a question about the cohort",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			useRAG, err := cmd.Flags().GetBool("rag")
			if err != nil {
				return fmt.Errorf("failed to get rag flag: %w", err)
			}
			asJSON, err := cmd.Flags().GetBool("json")
			if err != nil {
				return fmt.Errorf("failed to get json flag: %w", err)
			}
			question := strings.TrimSpace(strings.Join(args, " "))
			if question == "" {
				return fmt.Errorf("question is required")
			}

			log, cfg, err := setup(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()

			a, err := newApp(ctx, log, cfg, appOptions{llm: useRAG, pipeline: !useRAG, tracking: !useRAG, index: useRAG})
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			if useRAG {
				answerer, err := a.answerer()
				if err != nil {
					return err
				}
				ans, err := answerer.Answer(ctx, question)
				if ans != nil {
					if asJSON {
						return writeJSON(out, ans)
					}
					fmt.Fprintln(out, ans.Answer)
					for _, r := range ans.Context {
						fmt.Fprintf(out, "  - %s (distance %.4f)\n", r.ID, r.Distance)
					}
				}
				return err
			}

			var runID string
			rec, err := a.pipeline.RunWithProgress(ctx, question, func(p pipeline.Progress) {
				if p.RunID != "" {
					runID = p.RunID
				}
				log.Debug("cli: pipeline progress", "stage", p.Stage, "runID", p.RunID)
			})
			if rec != nil {
				if asJSON {
					if jErr := writeJSON(out, map[string]any{"run_id": runID, "record": rec}); jErr != nil {
						return jErr
					}
				} else {
					fmt.Fprintln(out, rec.Answer())
					if rec.AnalysisError != nil {
						fmt.Fprintf(os.Stderr, "analysis error: %s\n", *rec.AnalysisError)
					}
					if runID != "" {
						fmt.Fprintf(os.Stderr, "run id: %s\n", runID)
					}
				}
			}
			return err
		},
	}

	cmd.Flags().Bool("rag", false, "answer from the retrieval index with a single model call instead of the analysis pipeline")
	cmd.Flags().Bool("json", false, "print the full run record as JSON")

	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return nil
}
