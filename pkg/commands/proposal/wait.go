package proposal

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/avocado-safe/avocado-core/pkg/commands/flags"
)

func newWaitCmd(cfg Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wait <id>",
		Short: "Wait until a proposal can be executed or is closed",
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

			res, err := svc.WaitForQuorum(cmd.Context(), safeAddr, args[0])
			if err != nil {
				return fmt.Errorf("failed waiting for quorum on proposal %s: %w", args[0], err)
			}

			writeResult(cmd.OutOrStdout(), svc, res)

			return nil
		},
	}

	flags.Safe(cmd)

	return cmd
}
