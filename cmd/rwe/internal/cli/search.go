package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

type SearchCmd struct{}

func NewSearchCmd() *SearchCmd {
	return &SearchCmd{}
}

func (c *SearchCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the retrieval index",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := cmd.Flags().GetInt("k")
			if err != nil {
				return fmt.Errorf("failed to get k flag: %w", err)
			}
			asJSON, err := cmd.Flags().GetBool("json")
			if err != nil {
				return fmt.Errorf("failed to get json flag: %w", err)
			}

			log, cfg, err := setup(cmd)
			if err != nil {
				return err
			}
			if k <= 0 {
				k = cfg.Index.TopK
			}
			ctx, cancel := signalContext()
			defer cancel()

			a, err := newApp(ctx, log, cfg, appOptions{index: true})
			if err != nil {
				return err
			}
			defer a.Close()

			results, err := a.index.Search(ctx, strings.Join(args, " "), k)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), results)
			}

			table := tablewriter.NewWriter(os.Stdout)
			table.SetAutoWrapText(false)
			table.SetHeaderAlignment(tablewriter.ALIGN_CENTER)
			table.SetAutoFormatHeaders(false)
			table.SetBorder(true)
			table.SetRowLine(true)
			table.SetHeader([]string{"ID", "Distance", "Source", "Snippet"})
			for _, r := range results {
				source, _ := r.Metadata["source"].(string)
				table.Append([]string{
					r.ID,
					fmt.Sprintf("%.4f", r.Distance),
					source,
					oneLine(r.Snippet, 80),
				})
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().Int("k", 0, "number of results (defaults to index.top_k)")
	cmd.Flags().Bool("json", false, "print results as JSON")

	return cmd
}

func oneLine(s string, limit int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) > limit {
		return string(r[:limit]) + "..."
	}
	return s
}
