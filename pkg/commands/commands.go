// Package commands provides the CLI command groups of the avocado binary.
//
// There are two ways to use commands from this package:
//
// 1. Via the Commands factory (recommended for most use cases):
//
//	cmds := commands.New(lggr)
//	safeCmd, err := cmds.Safe()
//	...
//	app.AddCommand(safeCmd)
//
// 2. Via direct package imports (for advanced DI/testing):
//
//	import "github.com/avocado-safe/avocado-core/pkg/commands/safe"
//
//	app.AddCommand(safe.NewCommand(safe.Config{
//	    Logger: lggr,
//	    Deps:   safe.Deps{Load: myLoader}, // inject fakes for testing
//	}))
package commands

import (
	"github.com/spf13/cobra"

	"github.com/avocado-safe/avocado-core/pkg/commands/fee"
	"github.com/avocado-safe/avocado-core/pkg/commands/mfa"
	"github.com/avocado-safe/avocado-core/pkg/commands/proposal"
	"github.com/avocado-safe/avocado-core/pkg/commands/safe"
	"github.com/avocado-safe/avocado-core/pkg/logger"
)

// Commands provides a factory for creating CLI commands with shared configuration.
// This allows setting the logger once and reusing it across all commands.
type Commands struct {
	lggr logger.Logger
}

// New creates a new Commands factory with the given logger.
// The logger will be shared across all commands created by this factory.
func New(lggr logger.Logger) *Commands {
	return &Commands{lggr: lggr}
}

// Safe creates the safe command group for inspecting safes.
func (c *Commands) Safe() (*cobra.Command, error) {
	return safe.NewCommand(safe.Config{Logger: c.lggr})
}

// Fee creates the fee command group for estimating cast fees.
func (c *Commands) Fee() (*cobra.Command, error) {
	return fee.NewCommand(fee.Config{Logger: c.lggr})
}

// MFA creates the mfa command group for verifying and managing factors.
func (c *Commands) MFA() (*cobra.Command, error) {
	return mfa.NewCommand(mfa.Config{Logger: c.lggr})
}

// Proposal creates the proposal command group for driving multisig proposals.
func (c *Commands) Proposal() (*cobra.Command, error) {
	return proposal.NewCommand(proposal.Config{Logger: c.lggr})
}

// All creates every command group.
func (c *Commands) All() ([]*cobra.Command, error) {
	builders := []func() (*cobra.Command, error){c.Safe, c.Fee, c.MFA, c.Proposal}

	cmds := make([]*cobra.Command, 0, len(builders))
	for _, build := range builders {
		cmd, err := build()
		if err != nil {
			return nil, err
		}
		cmds = append(cmds, cmd)
	}

	return cmds, nil
}
