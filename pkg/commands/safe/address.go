package safe

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/avocado-safe/avocado-core/pkg/commands/flags"
)

func newAddressCmd(cfg Config) *cobra.Command {
	var (
		index  uint32
		legacy bool
	)

	cmd := &cobra.Command{
		Use:   "address <owner>",
		Short: "Compute the safe address of an owner",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := flags.Address("owner", args[0])
			if err != nil {
				return err
			}
			if legacy && index != 0 {
				return fmt.Errorf("legacy safes have no index, got %d", index)
			}

			svc, err := cfg.Deps.Load(cmd, cfg.Logger)
			if err != nil {
				return fmt.Errorf("failed to load services: %w", err)
			}
			defer svc.Close()

			addr, err := svc.ComputeAddress(cmd.Context(), owner, index, legacy)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), addr.Hex())

			return nil
		},
	}

	cmd.Flags().Uint32VarP(&index, "index", "i", 0, "Multisig index")
	cmd.Flags().BoolVar(&legacy, "legacy", false, "Compute the legacy single-owner safe address")

	return cmd
}
