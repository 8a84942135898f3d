package evm

import (
	"context"
	"fmt"
	"maps"
	"math/big"
	"slices"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	chainsel "github.com/smartcontractkit/chain-selectors"
)

// OnchainClient is an EVM chain client.
// The orchestration core only ever reads from chains: contract views and raw storage slots.
// Broadcasting is performed by the Avocado backend.
type OnchainClient interface {
	bind.ContractCaller

	StorageAt(ctx context.Context, account common.Address, key common.Hash, blockNumber *big.Int) ([]byte, error)
}

// Chain represents an EVM chain a safe can execute on.
type Chain struct {
	// ChainID is the EIP-155 chain id.
	ChainID uint64
	// DisplayName is the human readable name used in user facing messages, e.g. "Polygon".
	// When empty the canonical chain-selectors name is used.
	DisplayName string
	// ExplorerURL is the base URL of the block explorer. Optional.
	ExplorerURL string

	Client OnchainClient
}

// Name returns the display name of the chain, falling back to the chain-selectors name and
// finally to the decimal chain id.
func (c Chain) Name() string {
	if c.DisplayName != "" {
		return c.DisplayName
	}

	return canonicalName(c.ChainID)
}

// String returns chain name and id "<name> (<id>)"
func (c Chain) String() string {
	return fmt.Sprintf("%s (%d)", c.Name(), c.ChainID)
}

// TxURL returns the explorer link of a transaction, or an empty string without an explorer.
func (c Chain) TxURL(hash string) string {
	if c.ExplorerURL == "" {
		return ""
	}

	return strings.TrimRight(c.ExplorerURL, "/") + "/tx/" + hash
}

// Chains is the set of chains the core operates on, keyed by chain id.
type Chains map[uint64]Chain

// IDs returns the chain ids in ascending order so that fan-out results are stable.
func (c Chains) IDs() []uint64 {
	return slices.Sorted(maps.Keys(c))
}

// Get returns the chain for the id.
func (c Chains) Get(chainID uint64) (Chain, error) {
	ch, ok := c[chainID]
	if !ok {
		return Chain{}, fmt.Errorf("chain %d is not configured", chainID)
	}

	return ch, nil
}

// Name returns the display name for a chain id, whether or not it is configured.
func (c Chains) Name(chainID uint64) string {
	if ch, ok := c[chainID]; ok {
		return ch.Name()
	}

	return canonicalName(chainID)
}

// TxURL returns the explorer link of a transaction on a configured chain.
func (c Chains) TxURL(chainID uint64, hash string) string {
	return c[chainID].TxURL(hash)
}

func canonicalName(chainID uint64) string {
	details, err := chainsel.GetChainDetailsByChainIDAndFamily(strconv.FormatUint(chainID, 10), chainsel.FamilyEVM)
	if err != nil || details.ChainName == "" {
		return strconv.FormatUint(chainID, 10)
	}

	return details.ChainName
}
