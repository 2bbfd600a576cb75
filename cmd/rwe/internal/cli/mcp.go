package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

type MCPCmd struct{}

func NewMCPCmd() *MCPCmd {
	return &MCPCmd{}
}

func (c *MCPCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the cohort tools over the Model Context Protocol",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdio, err := cmd.Flags().GetBool("stdio")
			if err != nil {
				return fmt.Errorf("failed to get stdio flag: %w", err)
			}
			withIndex, err := cmd.Flags().GetBool("index")
			if err != nil {
				return fmt.Errorf("failed to get index flag: %w", err)
			}

			log, cfg, err := setup(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()

			a, err := newApp(ctx, log, cfg, appOptions{pipeline: true, tracking: true, index: withIndex})
			if err != nil {
				return err
			}
			defer a.Close()

			s, err := a.mcpServer(cfg.Server.MCPAddr)
			if err != nil {
				return err
			}
			if stdio {
				return s.RunStdio(ctx)
			}
			return s.Run(ctx)
		},
	}

	cmd.Flags().Bool("stdio", false, "serve a single client over stdin/stdout instead of streamable HTTP")
	cmd.Flags().Bool("index", false, "register search_records over the retrieval index")

	return cmd
}
