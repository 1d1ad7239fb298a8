package app

import (
	"context"
	"fmt"
	"io"
	"math/big"
	"text/tabwriter"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"rebase-keeper/internal/oracle"
	"rebase-keeper/internal/rebase"
	"rebase-keeper/internal/service"
)

// DefaultSimulatedSupply is used when simulate is run without --supply.
var DefaultSimulatedSupply = big.NewInt(1_000_000)

// SimulateOptions describe a hypothetical market state.
type SimulateOptions struct {
	Price  decimal.Decimal
	Supply *big.Int
	At     time.Time
}

// Simulate runs the driver in dry-run mode against a static price and supply. No chain
// call is made and nothing is persisted, published or notified.
func (a *App) Simulate(ctx context.Context, opts SimulateOptions, out io.Writer) (service.Outcome, error) {
	band, err := a.Config.PriceBand()
	if err != nil {
		return service.Outcome{}, err
	}

	supply := opts.Supply
	if supply == nil {
		supply = DefaultSimulatedSupply
	}
	at := opts.At
	if at.IsZero() {
		at = time.Now()
	}

	driver, err := service.New(service.Options{
		Band:      band,
		Precision: a.Config.Rebase.Precision,
		DryRun:    true,
		Retry:     service.RetryOptions{MaxAttempts: 1},
	}, service.Deps{
		Oracle: staticOracle{price: rebase.ToNormalized(opts.Price)},
		Pair:   staticPair{},
		Asset:  staticAsset{supply: supply},
		Clock:  func() time.Time { return at },
	}, a.Logger)
	if err != nil {
		return service.Outcome{}, err
	}

	outcome, err := driver.RunOnce(ctx)
	if err != nil {
		return outcome, err
	}
	return outcome, writeComputation(out, band, *outcome.Computation)
}

func writeComputation(out io.Writer, band rebase.PriceBand, c rebase.Computation) error {
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	rows := [][2]string{
		{"Time (UTC)", c.Now.UTC().Format(time.RFC3339)},
		{"Price", rebase.FromNormalized(c.CurrentPrice).String()},
		{"Multiple of start", c.MultipleDecimal().String()},
		{"Target multiple", c.DesiredDecimal().String()},
		{"Target price", rebase.FromNormalized(band.TargetPrice(c.DesiredMultiple)).StringFixed(6)},
		{"Price change %", c.PriceChangePct().StringFixed(2)},
		{"Supply change %", c.SupplyChangePct().StringFixed(2)},
		{"Supply", c.CurrentSupply.String()},
		{"Supply delta", c.Delta.String()},
		{"Direction", c.Direction()},
	}
	for _, row := range rows {
		fmt.Fprintf(writer, "%s\t%s\n", row[0], row[1])
	}
	return writer.Flush()
}

type staticOracle struct {
	price *big.Int
}

func (s staticOracle) ReadPrice(ctx context.Context, pair oracle.Pair, asset oracle.BalanceReader, assetAddress common.Address) (*big.Int, error) {
	if s.price == nil || s.price.Sign() <= 0 {
		return nil, fmt.Errorf("%w: simulated price must be positive", rebase.ErrInvalidPriceState)
	}
	return new(big.Int).Set(s.price), nil
}

type staticPair struct{}

func (staticPair) Address() common.Address { return common.Address{} }

func (staticPair) Token0(ctx context.Context) (common.Address, error) { return common.Address{}, nil }

func (staticPair) GetReserves(ctx context.Context) (*big.Int, *big.Int, error) {
	return new(big.Int), new(big.Int), nil
}

type staticAsset struct {
	supply *big.Int
}

func (s staticAsset) BalanceOf(ctx context.Context, holder common.Address) (*big.Int, error) {
	return new(big.Int), nil
}

func (s staticAsset) TotalSupply(ctx context.Context) (*big.Int, error) {
	return new(big.Int).Set(s.supply), nil
}

var _ service.PriceReader = staticOracle{}
var _ service.Asset = staticAsset{}
