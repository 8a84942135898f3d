// Package mfa provides the CLI commands managing multi-factor verification of a safe.
package mfa

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/avocado-safe/avocado-core/pkg/commands/flags"
	"github.com/avocado-safe/avocado-core/pkg/logger"
)

// Config holds the configuration for mfa commands.
type Config struct {
	// Logger is the logger to use for command output. Required.
	Logger logger.Logger

	// Deps holds optional dependencies that can be overridden.
	Deps Deps
}

// Validate checks that all required configuration fields are set.
func (c Config) Validate() error {
	if c.Logger == nil {
		return errors.New("mfa.Config: missing required fields: Logger")
	}

	return nil
}

// NewCommand creates a new mfa command with all subcommands.
func NewCommand(cfg Config) (*cobra.Command, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cfg.Deps.applyDefaults()

	cmd := &cobra.Command{
		Use:   "mfa",
		Short: "Multi-factor verification commands",
	}

	cmd.AddCommand(newVerifyCmd(cfg))
	cmd.AddCommand(newPreferredCmd(cfg))
	cmd.AddCommand(newRemoveTotpCmd(cfg))

	flags.Config(cmd)

	return cmd, nil
}
