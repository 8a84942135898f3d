package proposal

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/avocado-safe/avocado-core/pkg/commands/flags"
)

func newConfirmCmd(cfg Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "confirm <id>",
		Short: "Add the configured signer's confirmation to a proposal",
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

			s, err := svc.Safe(cmd.Context(), safeAddr)
			if err != nil {
				return err
			}

			p, err := svc.Proposal(cmd.Context(), safeAddr, args[0])
			if err != nil {
				return fmt.Errorf("failed to get proposal %s: %w", args[0], err)
			}

			res, err := svc.ConfirmProposal(cmd.Context(), s, p)
			if err != nil {
				return fmt.Errorf("failed to confirm proposal %s: %w", args[0], err)
			}
			if res.Cancelled {
				cfg.Logger.Debug("Confirmation cancelled")
				return nil
			}

			writeResult(cmd.OutOrStdout(), svc, res)

			return nil
		},
	}

	flags.Safe(cmd)

	return cmd
}
