package proposal

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/avocado-safe/avocado-core/pkg/commands/flags"
)

func newStatusCmd(cfg Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <id>",
		Short: "Show a proposal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			safeAddr, err := flags.SafeAddress(cmd)
			if err != nil {
				return err
			}

			svc, err := cfg.Deps.Load(cmd, cfg.Logger)
			if err != nil {
				return fmt.Errorf("failed to load services: %w", err)
			}
			defer svc.Close()

			p, err := svc.Proposal(cmd.Context(), safeAddr, args[0])
			if err != nil {
				return fmt.Errorf("failed to get proposal %s: %w", args[0], err)
			}

			writeProposal(cmd.OutOrStdout(), svc, p)

			return nil
		},
	}

	flags.Safe(cmd)

	return cmd
}
