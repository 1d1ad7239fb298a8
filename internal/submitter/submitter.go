package submitter

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"

	"rebase-keeper/internal/rebase"
)

// Ledger is the epoch-guarded rebase surface of the asset contract.
type Ledger interface {
	LastEpoch(ctx context.Context) (*big.Int, error)
	RebaseAndSync(ctx context.Context, epoch, supplyDelta *big.Int, pair common.Address) (*types.Receipt, error)
}

// Confirmation describes a rebase the ledger durably recorded.
type Confirmation struct {
	Epoch       *big.Int
	Delta       *big.Int
	TxHash      common.Hash
	BlockNumber uint64
	GasUsed     uint64
}

// Submitter proposes lastEpoch+1 to the ledger. It holds no epoch state of its own and
// never retries: a lost confirmation must be resolved by re-reading lastEpoch.
type Submitter struct {
	ledger Ledger
	logger zerolog.Logger
}

// New builds a submitter for the ledger.
func New(ledger Ledger, logger zerolog.Logger) *Submitter {
	return &Submitter{ledger: ledger, logger: logger.With().Str("component", "submitter").Logger()}
}

// NextEpoch reads the authoritative epoch and returns its successor.
func (s *Submitter) NextEpoch(ctx context.Context) (*big.Int, error) {
	last, err := s.ledger.LastEpoch(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: read last epoch: %w", rebase.ErrOracleRead, err)
	}
	if last == nil || last.Sign() < 0 {
		return nil, fmt.Errorf("%w: ledger returned invalid epoch", rebase.ErrSubmission)
	}
	return new(big.Int).Add(last, big.NewInt(1)), nil
}

// Submit sends the delta under the next epoch and waits for confirmation.
func (s *Submitter) Submit(ctx context.Context, delta *big.Int, pair common.Address) (Confirmation, error) {
	if delta == nil {
		return Confirmation{}, errors.New("supply delta is required")
	}

	epoch, err := s.NextEpoch(ctx)
	if err != nil {
		return Confirmation{}, err
	}

	s.logger.Info().
		Str("epoch", epoch.String()).
		Str("supply_delta", delta.String()).
		Str("pair", pair.Hex()).
		Msg("submitting rebase")

	receipt, err := s.ledger.RebaseAndSync(ctx, epoch, delta, pair)
	if err != nil {
		return Confirmation{}, fmt.Errorf("%w: epoch %s: %w", rebase.ErrSubmission, epoch, err)
	}

	conf := Confirmation{Epoch: epoch, Delta: new(big.Int).Set(delta)}
	if receipt != nil {
		conf.TxHash = receipt.TxHash
		conf.GasUsed = receipt.GasUsed
		if receipt.BlockNumber != nil {
			conf.BlockNumber = receipt.BlockNumber.Uint64()
		}
	}

	s.logger.Info().
		Str("epoch", epoch.String()).
		Str("tx", conf.TxHash.Hex()).
		Uint64("block", conf.BlockNumber).
		Msg("rebase confirmed")
	return conf, nil
}
