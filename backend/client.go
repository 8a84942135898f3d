package backend

import (
	"context"
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/avocado-safe/avocado-core/pkg/logger"
)

// Caller sends a JSON-RPC request. It is implemented by *rpc.Client.
type Caller interface {
	CallContext(ctx context.Context, result any, method string, args ...any) error
}

// Client is the Avocado backend JSON-RPC client.
type Client struct {
	caller Caller
	lggr   logger.Logger
}

// NewClient returns a client sending requests through caller.
func NewClient(caller Caller, lggr logger.Logger) *Client {
	return &Client{caller: caller, lggr: lggr.Named("backend")}
}

// Dial connects to the backend RPC endpoint.
func Dial(ctx context.Context, url string, lggr logger.Logger) (*Client, *rpc.Client, error) {
	rc, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to dial backend %s: %w", url, err)
	}

	return NewClient(rc, lggr), rc, nil
}

func (c *Client) call(ctx context.Context, result any, method string, args ...any) error {
	c.lggr.Debugw("backend call", "method", method)

	if err := c.caller.CallContext(ctx, result, method, args...); err != nil {
		err = asError(err)
		c.lggr.Debugw("backend call failed", "method", method, "err", err)

		return fmt.Errorf("%s: %w", method, err)
	}

	return nil
}

// GetSafe returns the safe at address.
func (c *Client) GetSafe(ctx context.Context, address common.Address) (*SafeRecord, error) {
	var out *SafeRecord
	if err := c.call(ctx, &out, "api_getSafe", address); err != nil {
		return nil, err
	}
	if out == nil {
		return nil, fmt.Errorf("api_getSafe: safe %s not found", address)
	}

	return out, nil
}

// GetSafes returns every safe owned by owner.
func (c *Client) GetSafes(ctx context.Context, owner common.Address) ([]SafeRecord, error) {
	var out []SafeRecord
	if err := c.call(ctx, &out, "api_getSafes", owner); err != nil {
		return nil, err
	}

	return out, nil
}

// EstimateFee estimates the fee of a message that has not been signed yet. Multisig safes use
// the multisig estimation method.
func (c *Client) EstimateFee(ctx context.Context, multisig bool, params EstimateFeeParams) (*FeeEstimate, error) {
	method := "txn_estimateFeeWithoutSignature"
	if multisig {
		method = "txn_multisigEstimateFeeWithoutSignature"
	}

	var out FeeEstimate
	if err := c.call(ctx, &out, method, params); err != nil {
		return nil, err
	}

	return &out, nil
}

// Broadcast executes a legacy safe message and returns the transaction hash.
func (c *Client) Broadcast(ctx context.Context, params BroadcastParams) (common.Hash, error) {
	return c.broadcast(ctx, "txn_broadcast", params)
}

// MultisigBroadcast executes a multisig safe message that reached quorum and returns the
// transaction hash.
func (c *Client) MultisigBroadcast(ctx context.Context, params BroadcastParams) (common.Hash, error) {
	return c.broadcast(ctx, "txn_multisigBroadcast", params)
}

func (c *Client) broadcast(ctx context.Context, method string, params BroadcastParams) (common.Hash, error) {
	var out string
	if err := c.call(ctx, &out, method, params); err != nil {
		return common.Hash{}, err
	}

	return common.HexToHash(out), nil
}

// GasBalance returns the prepaid gas balance of the owner in wei (USDC with 18 decimals).
func (c *Client) GasBalance(ctx context.Context, owner common.Address) (*big.Int, error) {
	var out hexutil.Big
	if err := c.call(ctx, &out, "eth_getBalance", owner, "latest"); err != nil {
		return nil, err
	}

	return out.ToInt(), nil
}

// IndexString formats a multisig index as the backend expects it.
func IndexString(index uint32) string {
	return strconv.FormatUint(uint64(index), 10)
}
