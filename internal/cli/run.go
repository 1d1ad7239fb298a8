package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"rebase-keeper/internal/rebase"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the rebase control loop on the configured schedule",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Run(cmd.Context())
	},
}

var onceCmd = &cobra.Command{
	Use:   "once",
	Short: "Perform a single rebase invocation and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := getApp().Once(cmd.Context())
		if err != nil {
			return fmt.Errorf("rebase failed at %s: %w", rebase.StageOf(err), err)
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "status: %s\n", out.Status)
		if c := out.Computation; c != nil {
			fmt.Fprintf(w, "supply change: %s%% (price by %s%%)\n", c.SupplyChangePct().StringFixed(2), c.PriceChangePct().StringFixed(2))
			fmt.Fprintf(w, "supply delta: %s\n", c.Delta)
		}
		if conf := out.Confirmation; conf != nil {
			fmt.Fprintf(w, "epoch: %s\ntx: %s\nblock: %d\n", conf.Epoch, conf.TxHash.Hex(), conf.BlockNumber)
		}
		return nil
	},
}
