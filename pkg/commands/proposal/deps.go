package proposal

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/avocado-safe/avocado-core/backend"
	"github.com/avocado-safe/avocado-core/multisig"
	"github.com/avocado-safe/avocado-core/pkg/commands/flags"
	"github.com/avocado-safe/avocado-core/pkg/commands/prompt"
	"github.com/avocado-safe/avocado-core/pkg/logger"
	"github.com/avocado-safe/avocado-core/pkg/services"
	"github.com/avocado-safe/avocado-core/safe"
)

// Services is what the proposal commands act on.
type Services interface {
	Safe(ctx context.Context, address common.Address) (safe.Safe, error)
	Proposal(ctx context.Context, safeAddr common.Address, id string) (*backend.Proposal, error)
	ConfirmProposal(ctx context.Context, s safe.Safe, p *backend.Proposal) (multisig.Result, error)
	ExecuteProposal(ctx context.Context, s safe.Safe, id string) (multisig.Result, error)
	WaitForQuorum(ctx context.Context, safeAddr common.Address, id string) (multisig.Result, error)
	ChainName(chainID uint64) string
	TxURL(chainID uint64, hash common.Hash) string
	Close()
}

// LoaderFunc builds the services for a command invocation.
type LoaderFunc func(cmd *cobra.Command, lggr logger.Logger) (Services, error)

func defaultLoader(cmd *cobra.Command, lggr logger.Logger) (Services, error) {
	s, err := services.Load(cmd.Context(), flags.MustString(cmd.Flags().GetString("config")), lggr,
		services.WithPrompter(prompt.Code(cmd.InOrStdin(), cmd.OutOrStdout())),
	)
	if err != nil {
		return nil, err
	}

	return s, nil
}

// Deps holds the injectable dependencies for proposal commands.
type Deps struct {
	// Load builds the services.
	// Default: services.Load with the config flag and a terminal code prompt
	Load LoaderFunc
}

func (d *Deps) applyDefaults() {
	if d.Load == nil {
		d.Load = defaultLoader
	}
}
