// Package evmtest provides an in-memory chain client for tests. Contract views are answered by
// handlers registered per address and method; inputs and outputs are ABI encoded the same way a
// node would.
package evmtest

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/avocado-safe/avocado-core/chain/evm"
)

// ErrReverted is returned by handlers to simulate a reverted call.
var ErrReverted = errors.New("execution reverted")

// Handler answers a contract view. It returns the unpacked output values.
type Handler func(ctx context.Context, args []any) ([]any, error)

type contract struct {
	abi      abi.ABI
	handlers map[string]Handler
}

// Client is a fake evm.OnchainClient.
type Client struct {
	mu        sync.Mutex
	contracts map[common.Address]*contract
	storage   map[common.Address]map[common.Hash][]byte
	calls     map[string]int
}

var _ evm.OnchainClient = (*Client)(nil)

// NewClient returns an empty Client.
func NewClient() *Client {
	return &Client{
		contracts: map[common.Address]*contract{},
		storage:   map[common.Address]map[common.Hash][]byte{},
		calls:     map[string]int{},
	}
}

// Handle registers h for method of the contract at addr.
func (c *Client) Handle(addr common.Address, contractABI abi.ABI, method string, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ct, ok := c.contracts[addr]
	if !ok {
		ct = &contract{abi: contractABI, handlers: map[string]Handler{}}
		c.contracts[addr] = ct
	}
	ct.handlers[method] = h
}

// Returns registers a handler returning fixed values.
func (c *Client) Returns(addr common.Address, contractABI abi.ABI, method string, values ...any) {
	c.Handle(addr, contractABI, method, func(context.Context, []any) ([]any, error) {
		return values, nil
	})
}

// Fails registers a handler returning err.
func (c *Client) Fails(addr common.Address, contractABI abi.ABI, method string, err error) {
	c.Handle(addr, contractABI, method, func(context.Context, []any) ([]any, error) {
		return nil, err
	})
}

// Blocks registers a handler that waits for the call context to end.
func (c *Client) Blocks(addr common.Address, contractABI abi.ABI, method string) {
	c.Handle(addr, contractABI, method, func(ctx context.Context, _ []any) ([]any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
}

// SetStorage sets a storage slot.
func (c *Client) SetStorage(addr common.Address, slot common.Hash, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.storage[addr] == nil {
		c.storage[addr] = map[common.Hash][]byte{}
	}
	c.storage[addr][slot] = common.LeftPadBytes(value, 32)
}

// Calls returns how many times method was called on addr.
func (c *Client) Calls(addr common.Address, method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.calls[addr.Hex()+"."+method]
}

// CodeAt reports code for every address with a registered contract.
func (c *Client) CodeAt(_ context.Context, addr common.Address, _ *big.Int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.contracts[addr]; ok {
		return []byte{0x60, 0x80}, nil
	}

	return nil, nil
}

// CallContract dispatches the call to the registered handler.
func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if msg.To == nil || len(msg.Data) < 4 {
		return nil, errors.New("invalid call")
	}

	c.mu.Lock()
	ct, ok := c.contracts[*msg.To]
	c.mu.Unlock()
	if !ok {
		return nil, nil
	}

	method, err := ct.abi.MethodById(msg.Data[:4])
	if err != nil {
		return nil, ErrReverted
	}

	c.mu.Lock()
	c.calls[msg.To.Hex()+"."+method.Name]++
	h, ok := ct.handlers[method.Name]
	c.mu.Unlock()
	if !ok {
		return nil, ErrReverted
	}

	args, err := method.Inputs.Unpack(msg.Data[4:])
	if err != nil {
		return nil, fmt.Errorf("unpack %s inputs: %w", method.Name, err)
	}

	out, err := h(ctx, args)
	if err != nil {
		return nil, err
	}

	return method.Outputs.Pack(out...)
}

// StorageAt returns the slot value, zero when unset.
func (c *Client) StorageAt(_ context.Context, addr common.Address, slot common.Hash, _ *big.Int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v, ok := c.storage[addr][slot]; ok {
		return v, nil
	}

	return make([]byte, 32), nil
}
