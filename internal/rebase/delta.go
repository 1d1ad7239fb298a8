package rebase

import (
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

// Computation captures every intermediate of a supply delta so it can be logged and stored.
// Fixed-point fields are scaled by Precision.
type Computation struct {
	Now           time.Time
	CurrentPrice  *big.Int
	CurrentSupply *big.Int
	Precision     int64

	MultipleOfStart *big.Int
	DesiredMultiple float64
	DesiredFixed    *big.Int
	PriceChange     *big.Int
	SupplyChange    *big.Int

	Delta *big.Int
}

// ComputeDelta converts the deviation between the live price and the band target into a
// signed supply adjustment, expressed in the same integer units as currentSupply.
//
// With m the live multiple of the start price and d the desired multiple, the desired price
// change is x = (d-m)/m and the supply change is 1/(1+x)-1 = (m-d)/d. Only the interpolated
// target is computed in floating point; it is truncated to Precision before any arithmetic
// that reaches the delta.
func ComputeDelta(currentPrice *big.Int, band PriceBand, now time.Time, currentSupply *big.Int, precision int64) (Computation, error) {
	if precision <= 0 {
		return Computation{}, fmt.Errorf("%w: precision must be positive, got %d", ErrConfiguration, precision)
	}
	if band.IsZero() {
		return Computation{}, fmt.Errorf("%w: price band not configured", ErrConfiguration)
	}
	if currentPrice == nil || currentPrice.Sign() <= 0 {
		return Computation{}, fmt.Errorf("%w: current price must be positive", ErrInvalidPriceState)
	}
	if currentSupply == nil || currentSupply.Sign() < 0 {
		return Computation{}, fmt.Errorf("%w: current supply must not be negative", ErrInvalidPriceState)
	}

	p := big.NewInt(precision)

	multiple := new(big.Int).Mul(currentPrice, p)
	multiple.Quo(multiple, band.startPrice)
	if multiple.Sign() == 0 {
		return Computation{}, fmt.Errorf("%w: price %s is below 1/%d of start price", ErrInvalidPriceState, currentPrice, precision)
	}

	desired := TargetMultiple(now, band)
	if math.IsNaN(desired) || math.IsInf(desired, 0) {
		return Computation{}, fmt.Errorf("%w: target multiple is not finite", ErrArithmeticBounds)
	}
	desiredFixed, _ := new(big.Float).SetFloat64(math.Floor(desired * float64(precision))).Int(nil)

	// 1 + desiredPercentChange == d/m, so it is non-positive exactly when d is.
	if desiredFixed.Sign() <= 0 {
		return Computation{}, fmt.Errorf("%w: desired multiple %v leaves no positive supply ratio", ErrArithmeticBounds, desired)
	}

	priceChange := new(big.Int).Sub(desiredFixed, multiple)
	priceChange.Mul(priceChange, p)
	priceChange.Quo(priceChange, multiple)

	// Div is Euclidean; with a positive divisor it floors.
	supplyChange := new(big.Int).Sub(multiple, desiredFixed)
	supplyChange.Mul(supplyChange, p)
	supplyChange.Div(supplyChange, desiredFixed)

	delta := new(big.Int).Mul(supplyChange, currentSupply)
	delta.Quo(delta, p)

	return Computation{
		Now:             now,
		CurrentPrice:    new(big.Int).Set(currentPrice),
		CurrentSupply:   new(big.Int).Set(currentSupply),
		Precision:       precision,
		MultipleOfStart: multiple,
		DesiredMultiple: desired,
		DesiredFixed:    desiredFixed,
		PriceChange:     priceChange,
		SupplyChange:    supplyChange,
		Delta:           delta,
	}, nil
}

func (c Computation) fixed(v *big.Int) decimal.Decimal {
	if v == nil || c.Precision <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v, 0).Div(decimal.NewFromInt(c.Precision))
}

// MultipleDecimal is the live multiple of the start price.
func (c Computation) MultipleDecimal() decimal.Decimal { return c.fixed(c.MultipleOfStart) }

// DesiredDecimal is the truncated target multiple.
func (c Computation) DesiredDecimal() decimal.Decimal { return c.fixed(c.DesiredFixed) }

// PriceChangePct is the desired price change in percent.
func (c Computation) PriceChangePct() decimal.Decimal {
	return c.fixed(c.PriceChange).Mul(decimal.NewFromInt(100))
}

// SupplyChangePct is the supply change in percent.
func (c Computation) SupplyChangePct() decimal.Decimal {
	return c.fixed(c.SupplyChange).Mul(decimal.NewFromInt(100))
}

// Direction classifies the delta.
func (c Computation) Direction() string {
	if c.Delta == nil {
		return "flat"
	}
	switch c.Delta.Sign() {
	case 1:
		return "expand"
	case -1:
		return "contract"
	default:
		return "flat"
	}
}
