package mfa

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/avocado-safe/avocado-core/backend"
	fmfa "github.com/avocado-safe/avocado-core/mfa"
	"github.com/avocado-safe/avocado-core/pkg/commands/flags"
	"github.com/avocado-safe/avocado-core/pkg/commands/prompt"
	"github.com/avocado-safe/avocado-core/pkg/logger"
	"github.com/avocado-safe/avocado-core/pkg/services"
	"github.com/avocado-safe/avocado-core/safe"
)

// Services is what the mfa commands act on.
type Services interface {
	Safe(ctx context.Context, address common.Address) (safe.Safe, error)
	VerifyMFA(ctx context.Context, s safe.Safe) (*backend.MFAVerifyResult, error)
	SetPreferredMFA(t fmfa.Type) error
	RemoveTotp(ctx context.Context, s safe.Safe, recoveryCode string) error
	Close()
}

// LoaderFunc builds the services for a command invocation.
type LoaderFunc func(cmd *cobra.Command, lggr logger.Logger) (Services, error)

// defaultLoader prompts for codes on the command's input and output.
func defaultLoader(cmd *cobra.Command, lggr logger.Logger) (Services, error) {
	s, err := services.Load(cmd.Context(), flags.MustString(cmd.Flags().GetString("config")), lggr,
		services.WithPrompter(prompt.Code(cmd.InOrStdin(), cmd.OutOrStdout())),
	)
	if err != nil {
		return nil, err
	}

	return s, nil
}

// Deps holds the injectable dependencies for mfa commands.
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
