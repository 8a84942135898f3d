// Package proposal provides the CLI commands driving multisig proposals.
package proposal

import (
	"errors"
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/avocado-safe/avocado-core/backend"
	"github.com/avocado-safe/avocado-core/multisig"
	"github.com/avocado-safe/avocado-core/pkg/commands/flags"
	"github.com/avocado-safe/avocado-core/pkg/logger"
)

// Config holds the configuration for proposal commands.
type Config struct {
	// Logger is the logger to use for command output. Required.
	Logger logger.Logger

	// Deps holds optional dependencies that can be overridden.
	Deps Deps
}

// Validate checks that all required configuration fields are set.
func (c Config) Validate() error {
	if c.Logger == nil {
		return errors.New("proposal.Config: missing required fields: Logger")
	}

	return nil
}

// NewCommand creates a new proposal command with all subcommands.
func NewCommand(cfg Config) (*cobra.Command, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cfg.Deps.applyDefaults()

	cmd := &cobra.Command{
		Use:   "proposal",
		Short: "Multisig proposal commands",
	}

	cmd.AddCommand(newStatusCmd(cfg))
	cmd.AddCommand(newConfirmCmd(cfg))
	cmd.AddCommand(newExecuteCmd(cfg))
	cmd.AddCommand(newWaitCmd(cfg))

	flags.Config(cmd)

	return cmd, nil
}

func writeProposal(w io.Writer, svc Services, p *backend.Proposal) {
	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.AppendBulk([][]string{
		{"ID", p.ID},
		{"Chain", fmt.Sprintf("%s (%d)", svc.ChainName(p.ChainID), p.ChainID)},
		{"Nonce", fmt.Sprintf("%d", p.Nonce)},
		{"Status", p.Status},
		{"Confirmations", fmt.Sprintf("%d of %d", len(p.Confirmations), p.ConfirmationsRequired)},
	})
	if p.TransactionHash != "" {
		table.Append([]string{"Transaction", p.TransactionHash})
	}
	table.Render()
}

func writeResult(w io.Writer, svc Services, res multisig.Result) {
	fmt.Fprintf(w, "Proposal is %s\n", res.State)
	if res.Proposal != nil {
		writeProposal(w, svc, res.Proposal)
	}
}
