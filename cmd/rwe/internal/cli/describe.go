package cli

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/malbeclabs/rwe/pkg/mcpserver"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

type DescribeCmd struct{}

func NewDescribeCmd() *DescribeCmd {
	return &DescribeCmd{}
}

func (c *DescribeCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "describe [table]",
		Short: "List registered tables, or profile the columns of one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			asJSON, err := cmd.Flags().GetBool("json")
			if err != nil {
				return fmt.Errorf("failed to get json flag: %w", err)
			}

			log, cfg, err := setup(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()

			a, err := newApp(ctx, log, cfg, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			var in mcpserver.DescribeTableInput
			if len(args) == 1 {
				in.Name = args[0]
			}
			out, err := mcpserver.DescribeTable(ctx, log, a.tables, a.resolver, in)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), out)
			}

			if out.Table == nil {
				for _, name := range out.Tables {
					fmt.Fprintln(cmd.OutOrStdout(), name)
				}
				return nil
			}

			t := out.Table
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d rows, id column %q\n", t.Name, t.RowCount, t.IDColumn)
			table := tablewriter.NewWriter(os.Stdout)
			table.SetAutoWrapText(false)
			table.SetHeaderAlignment(tablewriter.ALIGN_CENTER)
			table.SetAutoFormatHeaders(false)
			table.SetBorder(true)
			table.SetHeader([]string{"Column", "Non-empty", "Min", "Max", "Mean", "Top values"})
			for _, col := range t.Columns {
				row := []string{col.Name, strconv.Itoa(col.NonEmpty), "", "", "", ""}
				if col.Numeric {
					row[2] = strconv.FormatFloat(col.Min, 'g', 6, 64)
					row[3] = strconv.FormatFloat(col.Max, 'g', 6, 64)
					row[4] = strconv.FormatFloat(col.Mean, 'f', 2, 64)
				} else {
					top := make([]string, 0, len(col.TopValues))
					for _, v := range col.TopValues {
						top = append(top, fmt.Sprintf("%s (%d)", oneLine(v.Value, 30), v.Count))
					}
					row[5] = strings.Join(top, ", ")
				}
				table.Append(row)
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().Bool("json", false, "print the description as JSON")

	return cmd
}
