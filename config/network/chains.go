package network

import (
	"context"
	"fmt"

	"go.uber.org/multierr"

	"github.com/avocado-safe/avocado-core/chain/evm"
	evmprov "github.com/avocado-safe/avocado-core/chain/evm/provider"
	"github.com/avocado-safe/avocado-core/internal/fanout"
	"github.com/avocado-safe/avocado-core/pkg/logger"
)

// LoadChains dials every network of the config concurrently. Chains which fail to dial are
// reported together and no chains are returned.
func (c *Config) LoadChains(ctx context.Context, lggr logger.Logger, clientOpts ...func(*evm.MultiClient)) (evm.Chains, error) {
	networks := c.Networks()
	if len(networks) == 0 {
		lggr.Info("No networks configured, skipping chain loading")

		return evm.Chains{}, nil
	}

	results := fanout.AllSettled(ctx, 0, networks, func(ctx context.Context, n Network) (evm.Chain, error) {
		lggr.Infow("Loading chain", "chainID", n.ChainID, "name", n.Name)

		rpcCfg, err := n.RPCConfig()
		if err != nil {
			return evm.Chain{}, err
		}

		return evmprov.NewRPCChainProvider(n.ChainID, evmprov.RPCChainProviderConfig{
			RPCs:        rpcCfg.RPCs,
			DisplayName: n.Name,
			ExplorerURL: n.BlockExplorer.URL,
			ClientOpts:  clientOpts,
			Logger:      lggr,
		}).Initialize(ctx)
	})

	chains := make(evm.Chains, len(results))
	var errs error
	for _, r := range results {
		if r.Err != nil {
			lggr.Errorw("Failed to load chain", "chainID", r.Item.ChainID, "error", r.Err)
			errs = multierr.Append(errs, fmt.Errorf("chain %d: %w", r.Item.ChainID, r.Err))

			continue
		}
		chains[r.Item.ChainID] = r.Value
	}
	if errs != nil {
		return nil, fmt.Errorf("failed to load %d out of %d chains: %w",
			len(multierr.Errors(errs)), len(networks), errs)
	}

	lggr.Infow("Successfully loaded all chains", "total", len(chains))

	return chains, nil
}
