package proposal

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/avocado-safe/avocado-core/pkg/commands/flags"
)

func newExecuteCmd(cfg Config) *cobra.Command {
	var wait bool

	cmd := &cobra.Command{
		Use:   "execute <id>",
		Short: "Broadcast a proposal which reached quorum",
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

			if wait {
				res, werr := svc.WaitForQuorum(cmd.Context(), safeAddr, args[0])
				if werr != nil {
					return fmt.Errorf("failed waiting for quorum on proposal %s: %w", args[0], werr)
				}
				if res.State.Terminal() {
					writeResult(cmd.OutOrStdout(), svc, res)
					return fmt.Errorf("proposal %s is %s", args[0], res.State)
				}
			}

			res, err := svc.ExecuteProposal(cmd.Context(), s, args[0])
			if err != nil {
				return fmt.Errorf("failed to execute proposal %s: %w", args[0], err)
			}
			if res.Cancelled {
				cfg.Logger.Debug("Execution cancelled")
				return nil
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Transaction %s\n", res.TransactionHash.Hex())
			if res.Proposal != nil {
				if link := svc.TxURL(res.Proposal.ChainID, res.TransactionHash); link != "" {
					fmt.Fprintln(cmd.OutOrStdout(), link)
				}
			}
			writeResult(cmd.OutOrStdout(), svc, res)

			return nil
		},
	}

	flags.Safe(cmd)
	cmd.Flags().BoolVar(&wait, "wait", false, "Wait for quorum before broadcasting")

	return cmd
}
