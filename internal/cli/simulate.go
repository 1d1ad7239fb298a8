package cli

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"rebase-keeper/internal/app"
)

var (
	simulatePrice  string
	simulateSupply string
	simulateAt     string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Compute the supply delta for a hypothetical price without touching the chain",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulatePrice == "" {
			return errors.New("--price must be provided")
		}
		price, err := decimal.NewFromString(simulatePrice)
		if err != nil {
			return fmt.Errorf("invalid --price value: %w", err)
		}
		if !price.IsPositive() {
			return errors.New("--price must be greater than zero")
		}

		opts := app.SimulateOptions{Price: price}

		if simulateSupply != "" {
			supply, ok := new(big.Int).SetString(simulateSupply, 10)
			if !ok || supply.Sign() < 0 {
				return fmt.Errorf("invalid --supply value %q", simulateSupply)
			}
			opts.Supply = supply
		}

		if simulateAt != "" {
			at, err := time.Parse(time.RFC3339, simulateAt)
			if err != nil {
				return fmt.Errorf("invalid --at value: %w", err)
			}
			opts.At = at
		}

		_, err = getApp().Simulate(cmd.Context(), opts, cmd.OutOrStdout())
		return err
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulatePrice, "price", "", "Market price in quote units per base unit")
	simulateCmd.Flags().StringVar(&simulateSupply, "supply", "", "Current supply in base asset integer units (default 1000000)")
	simulateCmd.Flags().StringVar(&simulateAt, "at", "", "Evaluation time (RFC3339, defaults to now)")
}
