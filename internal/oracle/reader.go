package oracle

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"rebase-keeper/internal/rebase"
)

// DefaultDecimalsOffset is how many fewer decimals the base asset balance carries than the
// quote reserve for a 9-decimal token paired against an 18-decimal quote.
const DefaultDecimalsOffset = 9

// Pair exposes the AMM reads the oracle depends on.
type Pair interface {
	Address() common.Address
	Token0(ctx context.Context) (common.Address, error)
	GetReserves(ctx context.Context) (reserve0, reserve1 *big.Int, err error)
}

// BalanceReader exposes the base asset ledger balance read.
type BalanceReader interface {
	BalanceOf(ctx context.Context, holder common.Address) (*big.Int, error)
}

// PriceSample is the raw material of a price read.
type PriceSample struct {
	QuoteReserve   *big.Int
	BaseBalance    *big.Int
	DecimalsOffset int
}

// Price converts the sample to a 10^18-scaled NormalizedPrice:
// 10^(18-offset) * quoteReserve / baseBalance, truncated.
func (s PriceSample) Price() (*big.Int, error) {
	if s.BaseBalance == nil || s.BaseBalance.Sign() <= 0 {
		return nil, fmt.Errorf("%w: base asset balance held by pair is zero", rebase.ErrInvalidPriceState)
	}
	if s.QuoteReserve == nil || s.QuoteReserve.Sign() < 0 {
		return nil, fmt.Errorf("%w: quote reserve is missing", rebase.ErrInvalidPriceState)
	}
	if s.DecimalsOffset < 0 || s.DecimalsOffset > rebase.PriceDecimals {
		return nil, fmt.Errorf("%w: decimals offset %d out of range [0,%d]", rebase.ErrConfiguration, s.DecimalsOffset, rebase.PriceDecimals)
	}

	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(rebase.PriceDecimals-s.DecimalsOffset)), nil)
	price := new(big.Int).Mul(scale, s.QuoteReserve)
	return price.Quo(price, s.BaseBalance), nil
}

// Reader reads the live price of the base asset from an AMM pair.
type Reader struct {
	decimalsOffset int
	logger         zerolog.Logger
}

// NewReader builds a reader for the given base/quote decimals offset.
func NewReader(decimalsOffset int, logger zerolog.Logger) *Reader {
	return &Reader{decimalsOffset: decimalsOffset, logger: logger.With().Str("component", "oracle").Logger()}
}

// ReadPrice returns the price of the base asset in quote units, scaled by 10^18.
//
// The quote side comes from the pair's reserves, but the base side is the asset's live
// balanceOf(pair) so a rebase that has not yet been synced into the reserves does not
// distort the price.
func (r *Reader) ReadPrice(ctx context.Context, pair Pair, asset BalanceReader, assetAddress common.Address) (*big.Int, error) {
	sample, err := r.Sample(ctx, pair, asset, assetAddress)
	if err != nil {
		return nil, err
	}
	price, err := sample.Price()
	if err != nil {
		return nil, err
	}

	r.logger.Debug().
		Str("quote_reserve", sample.QuoteReserve.String()).
		Str("base_balance", sample.BaseBalance.String()).
		Str("price", rebase.FromNormalized(price).String()).
		Msg("price read")
	return price, nil
}

// Sample performs the chain reads behind a price without converting them.
func (r *Reader) Sample(ctx context.Context, pair Pair, asset BalanceReader, assetAddress common.Address) (PriceSample, error) {
	reserve0, reserve1, err := pair.GetReserves(ctx)
	if err != nil {
		return PriceSample{}, fmt.Errorf("%w: get reserves: %w", rebase.ErrOracleRead, err)
	}

	token0, err := pair.Token0(ctx)
	if err != nil {
		return PriceSample{}, fmt.Errorf("%w: token0: %w", rebase.ErrOracleRead, err)
	}

	quoteReserve := reserve0
	if strings.EqualFold(token0.Hex(), assetAddress.Hex()) {
		quoteReserve = reserve1
	}

	balance, err := asset.BalanceOf(ctx, pair.Address())
	if err != nil {
		return PriceSample{}, fmt.Errorf("%w: balanceOf pair: %w", rebase.ErrOracleRead, err)
	}

	return PriceSample{
		QuoteReserve:   quoteReserve,
		BaseBalance:    balance,
		DecimalsOffset: r.decimalsOffset,
	}, nil
}
