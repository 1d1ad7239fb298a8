package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
)

var (
	// ErrNoSigner is returned when a state-changing call is attempted without a key.
	ErrNoSigner = errors.New("ethereum private key not configured")
)

// Options parameterise RPC access and signing.
type Options struct {
	RPCURL              string
	PrivateKey          string
	ChainID             int64
	Timeout             time.Duration
	ConfirmationTimeout time.Duration
}

// Client owns the lazily dialled RPC connection shared by pair and token handles.
type Client struct {
	opts      Options
	logger    zerolog.Logger
	client    *ethclient.Client
	clientMux sync.Mutex
}

// NewClient builds a client; no connection is made until the first call.
func NewClient(opts Options, logger zerolog.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.ConfirmationTimeout <= 0 {
		opts.ConfirmationTimeout = 5 * time.Minute
	}
	return &Client{opts: opts, logger: logger.With().Str("component", "chain").Logger()}
}

// Close releases the RPC connection if one was opened.
func (c *Client) Close() {
	c.clientMux.Lock()
	defer c.clientMux.Unlock()
	if c.client != nil {
		c.client.Close()
		c.client = nil
	}
}

// Decimals reads an ERC-20 decimals() value.
func (c *Client) Decimals(ctx context.Context, token common.Address) (uint8, error) {
	out, err := c.call(ctx, token, tokenABI, "decimals")
	if err != nil {
		return 0, err
	}
	v, ok := out[0].(uint8)
	if !ok {
		return 0, errors.New("failed to decode decimals output")
	}
	return v, nil
}

func (c *Client) getClient(ctx context.Context) (*ethclient.Client, error) {
	if c.opts.RPCURL == "" {
		return nil, errors.New("ethereum rpc url not configured")
	}

	c.clientMux.Lock()
	defer c.clientMux.Unlock()

	if c.client != nil {
		return c.client, nil
	}

	client, err := ethclient.DialContext(ctx, c.opts.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.opts.RPCURL, err)
	}
	c.client = client
	return client, nil
}

// call packs, executes and unpacks a read-only contract call at the latest block.
func (c *Client) call(ctx context.Context, to common.Address, contractABI abi.ABI, method string, args ...interface{}) ([]interface{}, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	client, err := c.getClient(ctx)
	if err != nil {
		return nil, err
	}

	payload, err := contractABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: payload}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s on %s: %w", method, to.Hex(), err)
	}

	outputs, err := contractABI.Unpack(method, res)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(outputs) == 0 {
		return nil, fmt.Errorf("unexpected empty %s response", method)
	}
	return outputs, nil
}

func (c *Client) callBig(ctx context.Context, to common.Address, method string, args ...interface{}) (*big.Int, error) {
	out, err := c.call(ctx, to, tokenABI, method, args...)
	if err != nil {
		return nil, err
	}
	v, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("failed to decode %s output", method)
	}
	return v, nil
}

func (c *Client) transactor(ctx context.Context, client *ethclient.Client) (*bind.TransactOpts, error) {
	key, err := c.signingKey()
	if err != nil {
		return nil, err
	}

	chainID := big.NewInt(c.opts.ChainID)
	if c.opts.ChainID <= 0 {
		chainID, err = client.ChainID(ctx)
		if err != nil {
			return nil, fmt.Errorf("query chain id: %w", err)
		}
	}

	opts, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	if err != nil {
		return nil, fmt.Errorf("build transactor: %w", err)
	}
	opts.Context = ctx
	return opts, nil
}

func (c *Client) signingKey() (*ecdsa.PrivateKey, error) {
	raw := strings.TrimPrefix(strings.TrimSpace(c.opts.PrivateKey), "0x")
	if raw == "" {
		return nil, ErrNoSigner
	}
	key, err := crypto.HexToECDSA(raw)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return key, nil
}
