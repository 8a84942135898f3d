package safe

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/avocado-safe/avocado-core/pkg/commands/flags"
	fsafe "github.com/avocado-safe/avocado-core/safe"
)

func newInfoCmd(cfg Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info",
		Short: "Show a safe",
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

			writeInfo(cmd, svc, s)

			return nil
		},
	}

	flags.Safe(cmd)

	return cmd
}

func writeInfo(cmd *cobra.Command, svc Services, s fsafe.Safe) {
	info := s.SafeInfo()

	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.SetAutoWrapText(false)
	table.AppendBulk([][]string{
		{"Address", info.Address.Hex()},
		{"Kind", s.Kind().String()},
		{"Owner", info.Owner.Hex()},
		{"Index", strconv.FormatUint(uint64(info.Index), 10)},
		{"MFA", mfaString(info.MFA)},
	})
	table.Render()

	if len(info.Signers) == 0 {
		return
	}

	signers := tablewriter.NewWriter(cmd.OutOrStdout())
	signers.SetAutoWrapText(false)
	signers.SetHeader([]string{"Chain", "Version", "Signers"})
	for _, id := range sortedIDs(info.Signers) {
		version := info.Versions[id]
		if !info.Deployed[id] {
			version = "not deployed"
		}

		signers.Append([]string{
			fmt.Sprintf("%s (%d)", svc.ChainName(id), id),
			version,
			joinAddresses(info.Signers[id]),
		})
	}
	signers.Render()
}

func mfaString(f fsafe.MFAFlags) string {
	var active []string
	if f.Totp {
		active = append(active, "totp")
	}
	if f.Phone {
		active = append(active, "phone")
	}
	if f.Email {
		active = append(active, "email")
	}
	if len(active) == 0 {
		return "none"
	}

	return strings.Join(active, ", ")
}
