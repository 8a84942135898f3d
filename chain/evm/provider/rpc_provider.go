package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/avocado-safe/avocado-core/chain/evm"
	"github.com/avocado-safe/avocado-core/pkg/logger"
)

// RPCChainProviderConfig holds the configuration to initialize the RPCChainProvider.
type RPCChainProviderConfig struct {
	// Required: At least one RPC must be provided to connect to the EVM node.
	RPCs []evm.RPC
	// Optional: DisplayName overrides the chain name shown to users, e.g. "Polygon".
	DisplayName string
	// Optional: ExplorerURL is the block explorer transactions link to.
	ExplorerURL string
	// Optional: ClientOpts are additional options to configure the MultiClient used by the
	// RPCChainProvider, for example a custom retry configuration.
	ClientOpts []func(client *evm.MultiClient)
	// Optional: Logger is the logger to use for the RPCChainProvider. If not provided, a default
	// logger will be used.
	Logger logger.Logger
}

// validate checks if the RPCChainProviderConfig is valid.
func (c RPCChainProviderConfig) validate() error {
	if len(c.RPCs) == 0 {
		return errors.New("at least one RPC is required")
	}

	return nil
}

// RPCChainProvider provides a chain that reads from an EVM node via RPC.
type RPCChainProvider struct {
	chainID uint64
	config  RPCChainProviderConfig

	chain *evm.Chain
}

// NewRPCChainProvider creates a new RPCChainProvider with the given chain id and configuration.
func NewRPCChainProvider(chainID uint64, config RPCChainProviderConfig) *RPCChainProvider {
	return &RPCChainProvider{
		chainID: chainID,
		config:  config,
	}
}

// Initialize dials the configured RPCs and returns the chain. Subsequent calls return the
// already initialized chain.
func (p *RPCChainProvider) Initialize(_ context.Context) (evm.Chain, error) {
	if p.chain != nil {
		return *p.chain, nil
	}

	if p.config.Logger == nil {
		lggr, err := logger.New()
		if err != nil {
			return evm.Chain{}, fmt.Errorf("failed to create default logger: %w", err)
		}
		p.config.Logger = lggr
	}

	if err := p.config.validate(); err != nil {
		return evm.Chain{}, fmt.Errorf("failed to validate provider config: %w", err)
	}

	client, err := evm.NewMultiClient(p.config.Logger, evm.RPCConfig{
		ChainID: p.chainID,
		Name:    p.config.DisplayName,
		RPCs:    p.config.RPCs,
	}, p.config.ClientOpts...)
	if err != nil {
		return evm.Chain{}, fmt.Errorf("failed to create multi-client: %w", err)
	}

	p.chain = &evm.Chain{
		ChainID:     p.chainID,
		DisplayName: p.config.DisplayName,
		ExplorerURL: p.config.ExplorerURL,
		Client:      client,
	}

	return *p.chain, nil
}

// Name returns the name of the RPCChainProvider.
func (*RPCChainProvider) Name() string {
	return "EVM RPC Chain Provider"
}

// ChainID returns the chain id of the chain managed by this provider.
func (p *RPCChainProvider) ChainID() uint64 {
	return p.chainID
}
