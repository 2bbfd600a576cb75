package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

type FeedbackCmd struct{}

func NewFeedbackCmd() *FeedbackCmd {
	return &FeedbackCmd{}
}

func (c *FeedbackCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "feedback <run-id>",
		Short: "Record whether a tracked answer was useful",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			// Polarity must be stated; there is no default.
			if !cmd.Flags().Changed("useful") {
				return fmt.Errorf("--useful=true or --useful=false is required")
			}
			useful, err := cmd.Flags().GetBool("useful")
			if err != nil {
				return fmt.Errorf("failed to get useful flag: %w", err)
			}
			comment, err := cmd.Flags().GetString("comment")
			if err != nil {
				return fmt.Errorf("failed to get comment flag: %w", err)
			}

			log, cfg, err := setup(cmd)
			if err != nil {
				return err
			}
			if !cfg.Tracking.Enabled {
				return fmt.Errorf("run tracking is disabled")
			}
			ctx, cancel := signalContext()
			defer cancel()

			a, err := newApp(ctx, log, cfg, appOptions{tracking: true})
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.tracker.LogFeedback(ctx, args[0], useful, comment); err != nil {
				return fmt.Errorf("failed to log feedback: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "feedback recorded for run %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().Bool("useful", false, "whether the answer was useful (required)")
	cmd.Flags().String("comment", "", "free-text comment, truncated to 500 characters")

	return cmd
}
