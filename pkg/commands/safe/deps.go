package safe

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/avocado-safe/avocado-core/pkg/commands/flags"
	"github.com/avocado-safe/avocado-core/pkg/logger"
	"github.com/avocado-safe/avocado-core/pkg/services"
	fsafe "github.com/avocado-safe/avocado-core/safe"
	"github.com/avocado-safe/avocado-core/signers"
)

// Services is what the safe commands read from.
type Services interface {
	Safe(ctx context.Context, address common.Address) (fsafe.Safe, error)
	ComputeAddress(ctx context.Context, owner common.Address, index uint32, legacy bool) (common.Address, error)
	RequiredSigners(ctx context.Context, s fsafe.Safe) []signers.RequiredSigners
	ChainName(chainID uint64) string
	Close()
}

// LoaderFunc builds the services for a command invocation.
type LoaderFunc func(cmd *cobra.Command, lggr logger.Logger) (Services, error)

// defaultLoader builds the services from the file given by the config flag.
func defaultLoader(cmd *cobra.Command, lggr logger.Logger) (Services, error) {
	s, err := services.Load(cmd.Context(), flags.MustString(cmd.Flags().GetString("config")), lggr)
	if err != nil {
		return nil, err
	}

	return s, nil
}

// Deps holds the injectable dependencies for safe commands.
// All fields are optional; nil values will use production defaults.
type Deps struct {
	// Load builds the services.
	// Default: services.Load with the config flag
	Load LoaderFunc
}

// applyDefaults fills in nil dependencies with production defaults.
func (d *Deps) applyDefaults() {
	if d.Load == nil {
		d.Load = defaultLoader
	}
}
