package rebase

import (
	"fmt"
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// PriceDecimals is the fixed-point exponent of a NormalizedPrice.
	PriceDecimals = 18
	// DefaultPrecision bounds truncation error of multiples and percentages to 1e-9.
	DefaultPrecision int64 = 1_000_000_000
)

var priceScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(PriceDecimals), nil)

// PriceBand is the configured target trajectory. It is immutable once built.
type PriceBand struct {
	startPrice *big.Int
	endPrice   *big.Int
	start      time.Time
	end        time.Time
}

// NewPriceBand validates and builds a band from 10^18-scaled prices and unix-second bounds.
func NewPriceBand(startPrice, endPrice *big.Int, startTimestamp, endTimestamp int64) (PriceBand, error) {
	if startPrice == nil || startPrice.Sign() <= 0 {
		return PriceBand{}, fmt.Errorf("%w: start price must be positive", ErrConfiguration)
	}
	if endPrice == nil || endPrice.Sign() <= 0 {
		return PriceBand{}, fmt.Errorf("%w: end price must be positive", ErrConfiguration)
	}
	if startTimestamp >= endTimestamp {
		return PriceBand{}, fmt.Errorf("%w: start timestamp %d must be before end timestamp %d", ErrConfiguration, startTimestamp, endTimestamp)
	}
	return PriceBand{
		startPrice: new(big.Int).Set(startPrice),
		endPrice:   new(big.Int).Set(endPrice),
		start:      time.Unix(startTimestamp, 0).UTC(),
		end:        time.Unix(endTimestamp, 0).UTC(),
	}, nil
}

// NewPriceBandFromDecimal scales human-denominated prices (e.g. 1.20) to NormalizedPrice.
func NewPriceBandFromDecimal(startPrice, endPrice decimal.Decimal, startTimestamp, endTimestamp int64) (PriceBand, error) {
	return NewPriceBand(ToNormalized(startPrice), ToNormalized(endPrice), startTimestamp, endTimestamp)
}

// ToNormalized scales a decimal price by 10^18, truncating extra digits.
func ToNormalized(price decimal.Decimal) *big.Int {
	return price.Shift(PriceDecimals).Truncate(0).BigInt()
}

// FromNormalized converts a 10^18-scaled price back to a decimal.
func FromNormalized(price *big.Int) decimal.Decimal {
	if price == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(price, -PriceDecimals)
}

// StartPrice returns a copy of the configured start price.
func (b PriceBand) StartPrice() *big.Int { return new(big.Int).Set(b.startPrice) }

// EndPrice returns a copy of the configured end price.
func (b PriceBand) EndPrice() *big.Int { return new(big.Int).Set(b.endPrice) }

func (b PriceBand) Start() time.Time { return b.start }

func (b PriceBand) End() time.Time { return b.end }

// IsZero reports whether the band was never built.
func (b PriceBand) IsZero() bool { return b.startPrice == nil }

// EndMultiple is endPrice/startPrice as a float.
func (b PriceBand) EndMultiple() float64 {
	m, _ := new(big.Rat).SetFrac(b.endPrice, b.startPrice).Float64()
	return m
}

// TargetPrice converts a multiple of the start price back to a NormalizedPrice.
func (b PriceBand) TargetPrice(multiple float64) *big.Int {
	return decimal.NewFromBigInt(b.startPrice, 0).Mul(decimal.NewFromFloat(multiple)).Truncate(0).BigInt()
}
