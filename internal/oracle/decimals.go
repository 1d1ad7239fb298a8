package oracle

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"rebase-keeper/internal/rebase"
)

// TokenPair exposes both reserve assets of a pair.
type TokenPair interface {
	Token0(ctx context.Context) (common.Address, error)
	Token1(ctx context.Context) (common.Address, error)
}

// MetadataReader reads ERC-20 decimals.
type MetadataReader interface {
	Decimals(ctx context.Context, token common.Address) (uint8, error)
}

// DiscoverDecimalsOffset derives quoteDecimals - baseDecimals from token metadata.
func DiscoverDecimalsOffset(ctx context.Context, pair TokenPair, meta MetadataReader, base common.Address) (int, error) {
	token0, err := pair.Token0(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: token0: %w", rebase.ErrOracleRead, err)
	}
	token1, err := pair.Token1(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: token1: %w", rebase.ErrOracleRead, err)
	}

	var quote common.Address
	switch base {
	case token0:
		quote = token1
	case token1:
		quote = token0
	default:
		return 0, fmt.Errorf("%w: token %s is not part of the pair", rebase.ErrConfiguration, base.Hex())
	}

	baseDecimals, err := meta.Decimals(ctx, base)
	if err != nil {
		return 0, fmt.Errorf("%w: base decimals: %w", rebase.ErrOracleRead, err)
	}
	quoteDecimals, err := meta.Decimals(ctx, quote)
	if err != nil {
		return 0, fmt.Errorf("%w: quote decimals: %w", rebase.ErrOracleRead, err)
	}

	offset := int(quoteDecimals) - int(baseDecimals)
	if offset < 0 || offset > rebase.PriceDecimals {
		return 0, fmt.Errorf("%w: decimals offset %d (quote %d, base %d) out of range", rebase.ErrConfiguration, offset, quoteDecimals, baseDecimals)
	}
	return offset, nil
}
