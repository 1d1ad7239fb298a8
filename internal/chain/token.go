package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ErrReverted is returned when a mined rebase transaction did not succeed.
var ErrReverted = errors.New("transaction reverted")

// Token is a handle on the elastic-supply asset ledger.
type Token struct {
	client  *Client
	address common.Address
}

// NewToken binds a token address to the client.
func NewToken(client *Client, address common.Address) *Token {
	return &Token{client: client, address: address}
}

// Address returns the token contract address.
func (t *Token) Address() common.Address { return t.address }

func (t *Token) BalanceOf(ctx context.Context, holder common.Address) (*big.Int, error) {
	return t.client.callBig(ctx, t.address, "balanceOf", holder)
}

func (t *Token) TotalSupply(ctx context.Context) (*big.Int, error) {
	return t.client.callBig(ctx, t.address, "totalSupply")
}

func (t *Token) LastEpoch(ctx context.Context) (*big.Int, error) {
	return t.client.callBig(ctx, t.address, "lastEpoch")
}

// RebaseAndSync sends the rebase transaction and blocks until it is mined or the
// confirmation timeout elapses. A timeout leaves the outcome unknown.
func (t *Token) RebaseAndSync(ctx context.Context, epoch, supplyDelta *big.Int, pair common.Address) (*types.Receipt, error) {
	client, err := t.client.getClient(ctx)
	if err != nil {
		return nil, err
	}

	opts, err := t.client.transactor(ctx, client)
	if err != nil {
		return nil, err
	}

	contract := bind.NewBoundContract(t.address, tokenABI, client, client, client)
	tx, err := contract.Transact(opts, "rebaseAndSync", epoch, supplyDelta, pair)
	if err != nil {
		return nil, fmt.Errorf("send rebaseAndSync: %w", err)
	}

	t.client.logger.Info().
		Str("tx", tx.Hash().Hex()).
		Str("epoch", epoch.String()).
		Str("supply_delta", supplyDelta.String()).
		Msg("rebase transaction sent; waiting for confirmation")

	waitCtx, cancel := context.WithTimeout(ctx, t.client.opts.ConfirmationTimeout)
	defer cancel()

	receipt, err := bind.WaitMined(waitCtx, client, tx)
	if err != nil {
		return nil, fmt.Errorf("wait for %s: %w", tx.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, fmt.Errorf("%w: %s in block %s", ErrReverted, tx.Hash().Hex(), receipt.BlockNumber)
	}
	return receipt, nil
}
