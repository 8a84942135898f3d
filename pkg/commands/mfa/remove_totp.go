package mfa

import (
	"fmt"

	"github.com/spf13/cobra"

	fmfa "github.com/avocado-safe/avocado-core/mfa"
	"github.com/avocado-safe/avocado-core/pkg/commands/flags"
)

func newRemoveTotpCmd(cfg Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove-totp <recovery-code>",
		Short: "Remove the authenticator app factor with a recovery code",
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

			err = svc.RemoveTotp(cmd.Context(), s, args[0])
			if fmfa.IsCancelled(err) {
				cfg.Logger.Debug("Removal cancelled")
				return nil
			}
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), "Authenticator app removed")

			return nil
		},
	}

	flags.Safe(cmd)

	return cmd
}
