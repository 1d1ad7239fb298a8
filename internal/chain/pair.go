package chain

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Pair is a handle on a constant-product AMM pair contract.
type Pair struct {
	client  *Client
	address common.Address
}

// NewPair binds a pair address to the client.
func NewPair(client *Client, address common.Address) *Pair {
	return &Pair{client: client, address: address}
}

// Address returns the pair contract address.
func (p *Pair) Address() common.Address { return p.address }

// Token0 returns the asset of the first reserve.
func (p *Pair) Token0(ctx context.Context) (common.Address, error) {
	return p.tokenAt(ctx, "token0")
}

// Token1 returns the asset of the second reserve.
func (p *Pair) Token1(ctx context.Context) (common.Address, error) {
	return p.tokenAt(ctx, "token1")
}

// GetReserves returns the two cached reserve quantities in token order.
func (p *Pair) GetReserves(ctx context.Context) (*big.Int, *big.Int, error) {
	out, err := p.client.call(ctx, p.address, pairABI, "getReserves")
	if err != nil {
		return nil, nil, err
	}
	if len(out) < 2 {
		return nil, nil, errors.New("unexpected getReserves response")
	}
	r0, ok0 := out[0].(*big.Int)
	r1, ok1 := out[1].(*big.Int)
	if !ok0 || !ok1 {
		return nil, nil, errors.New("failed to decode getReserves output")
	}
	return r0, r1, nil
}

func (p *Pair) tokenAt(ctx context.Context, method string) (common.Address, error) {
	out, err := p.client.call(ctx, p.address, pairABI, method)
	if err != nil {
		return common.Address{}, err
	}
	addr, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, errors.New("failed to decode " + method + " output")
	}
	return addr, nil
}
