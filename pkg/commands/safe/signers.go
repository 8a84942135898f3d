package safe

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/avocado-safe/avocado-core/pkg/commands/flags"
)

func newSignersCmd(cfg Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "signers",
		Short: "Show the signers required by a safe on every chain",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := flags.SafeAddress(cmd)
			if err != nil {
				return err
			}

			svc, err := cfg.Deps.Load(cmd, cfg.Logger)
			if err != nil {
				return fmt.Errorf("failed to load services: %w", err)
			}
			defer svc.Close()

			s, err := svc.Safe(cmd.Context(), addr)
			if err != nil {
				return err
			}

			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.SetAutoWrapText(false)
			table.SetHeader([]string{"Chain", "Required", "Signers", "Note"})
			for _, r := range svc.RequiredSigners(cmd.Context(), s) {
				note := ""
				if r.Err != nil {
					note = "threshold unavailable: " + r.Err.Error()
				}

				table.Append([]string{
					fmt.Sprintf("%s (%d)", svc.ChainName(r.ChainID), r.ChainID),
					fmt.Sprintf("%d of %d", r.RequiredSignerCount, r.SignerCount),
					joinAddresses(r.Signers),
					note,
				})
			}
			table.Render()

			return nil
		},
	}

	flags.Safe(cmd)

	return cmd
}

func joinAddresses(addrs []common.Address) string {
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, a.Hex())
	}

	return strings.Join(out, "\n")
}

func sortedIDs[V any](m map[uint64]V) []uint64 {
	return slices.Sorted(maps.Keys(m))
}
