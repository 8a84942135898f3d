package fee

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	ffee "github.com/avocado-safe/avocado-core/fee"
	"github.com/avocado-safe/avocado-core/pkg/commands/flags"
	"github.com/avocado-safe/avocado-core/pkg/logger"
	"github.com/avocado-safe/avocado-core/pkg/services"
	"github.com/avocado-safe/avocado-core/safe"
)

// Services is what the fee commands estimate with.
type Services interface {
	Safe(ctx context.Context, address common.Address) (safe.Safe, error)
	EstimateFees(ctx context.Context, s safe.Safe, reqs []ffee.Request) (ffee.Result, ffee.Verdict, error)
	ChainName(chainID uint64) string
	Close()
}

// LoaderFunc builds the services for a command invocation.
type LoaderFunc func(cmd *cobra.Command, lggr logger.Logger) (Services, error)

func defaultLoader(cmd *cobra.Command, lggr logger.Logger) (Services, error) {
	s, err := services.Load(cmd.Context(), flags.MustString(cmd.Flags().GetString("config")), lggr)
	if err != nil {
		return nil, err
	}

	return s, nil
}

// Deps holds the injectable dependencies for fee commands.
type Deps struct {
	// Load builds the services.
	// Default: services.Load with the config flag
	Load LoaderFunc
}

func (d *Deps) applyDefaults() {
	if d.Load == nil {
		d.Load = defaultLoader
	}
}
