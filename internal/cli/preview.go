package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"rebase-keeper/internal/app"
)

var (
	previewFrom string
	previewTo   string
	previewStep time.Duration
)

var previewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Print the target price trajectory",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.PreviewOptions{Step: previewStep}

		if previewFrom != "" {
			from, err := time.Parse(time.RFC3339, previewFrom)
			if err != nil {
				return fmt.Errorf("invalid --from value: %w", err)
			}
			opts.From = from
		}

		if previewTo != "" {
			to, err := time.Parse(time.RFC3339, previewTo)
			if err != nil {
				return fmt.Errorf("invalid --to value: %w", err)
			}
			opts.To = to
		}

		return getApp().Preview(opts, cmd.OutOrStdout())
	},
}

func init() {
	previewCmd.Flags().StringVar(&previewFrom, "from", "", "Start timestamp (RFC3339, defaults to band start)")
	previewCmd.Flags().StringVar(&previewTo, "to", "", "End timestamp (RFC3339, defaults to band end)")
	previewCmd.Flags().DurationVar(&previewStep, "step", 24*time.Hour, "Sampling step")
}
