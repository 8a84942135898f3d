package network

import (
	"errors"
	"fmt"

	"github.com/avocado-safe/avocado-core/chain/evm"
)

// NetworkType is either mainnet or testnet.
type NetworkType string

const (
	NetworkTypeMainnet NetworkType = "mainnet"
	NetworkTypeTestnet NetworkType = "testnet"
)

// Network represents a chain a safe can execute on.
type Network struct {
	Type    NetworkType `yaml:"type"`
	ChainID uint64      `yaml:"chain_id"`
	// Name is the display name used in user facing messages. Optional, the chain-selectors name
	// is used when empty.
	Name          string        `yaml:"name,omitempty"`
	BlockExplorer BlockExplorer `yaml:"block_explorer,omitempty"`
	RPCs          []RPC         `yaml:"rpcs"`
}

// Validate checks the required fields are set.
func (n *Network) Validate() error {
	if n.Type == "" {
		return errors.New("type is required")
	}

	if n.ChainID == 0 {
		return errors.New("chain id is required")
	}

	if len(n.RPCs) == 0 {
		return errors.New("at least one RPC is required")
	}

	return nil
}

// RPCConfig converts the network into the endpoint configuration of a chain client.
func (n *Network) RPCConfig() (evm.RPCConfig, error) {
	rpcs := make([]evm.RPC, 0, len(n.RPCs))
	for _, rpc := range n.RPCs {
		scheme, err := evm.URLSchemePreferenceFromString(rpc.PreferredURLScheme)
		if err != nil {
			return evm.RPCConfig{}, fmt.Errorf("rpc %s: %w", rpc.RPCName, err)
		}

		rpcs = append(rpcs, evm.RPC{
			Name:               rpc.RPCName,
			HTTPURL:            rpc.HTTPURL,
			WSURL:              rpc.WSURL,
			PreferredURLScheme: scheme,
		})
	}

	return evm.RPCConfig{
		ChainID: n.ChainID,
		Name:    n.Name,
		RPCs:    rpcs,
	}, nil
}

// RPC is one endpoint of a network.
type RPC struct {
	RPCName            string `yaml:"rpc_name"`
	PreferredURLScheme string `yaml:"preferred_url_scheme"`
	HTTPURL            string `yaml:"http_url"`
	WSURL              string `yaml:"ws_url"`
}

// BlockExplorer is where transactions of a network can be looked up.
type BlockExplorer struct {
	Type string `yaml:"type,omitempty"`
	URL  string `yaml:"url,omitempty"`
}
