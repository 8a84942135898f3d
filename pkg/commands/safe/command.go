// Package safe provides the CLI commands reading safes.
package safe

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/avocado-safe/avocado-core/pkg/commands/flags"
	"github.com/avocado-safe/avocado-core/pkg/logger"
)

// Config holds the configuration for safe commands.
type Config struct {
	// Logger is the logger to use for command output. Required.
	Logger logger.Logger

	// Deps holds optional dependencies that can be overridden.
	// If fields are nil, production defaults are used.
	Deps Deps
}

// Validate checks that all required configuration fields are set.
func (c Config) Validate() error {
	if c.Logger == nil {
		return errors.New("safe.Config: missing required fields: Logger")
	}

	return nil
}

// deps returns the Deps with defaults applied.
func (c *Config) deps() *Deps {
	c.Deps.applyDefaults()

	return &c.Deps
}

// NewCommand creates a new safe command with all subcommands.
func NewCommand(cfg Config) (*cobra.Command, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cfg.deps()

	cmd := &cobra.Command{
		Use:   "safe",
		Short: "Safe commands",
		Long:  "Commands reading safes, their deterministic addresses and the signers required per chain.",
	}

	cmd.AddCommand(newInfoCmd(cfg))
	cmd.AddCommand(newAddressCmd(cfg))
	cmd.AddCommand(newSignersCmd(cfg))

	flags.Config(cmd)

	return cmd, nil
}
