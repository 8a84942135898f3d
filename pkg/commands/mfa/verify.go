package mfa

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	fmfa "github.com/avocado-safe/avocado-core/mfa"
	"github.com/avocado-safe/avocado-core/pkg/commands/flags"
)

func newVerifyCmd(cfg Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify a code for the preferred factor of a safe",
		Args:  cobra.NoArgs,
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

			res, err := svc.VerifyMFA(cmd.Context(), s)
			if fmfa.IsCancelled(err) {
				cfg.Logger.Debug("Verification cancelled")
				return nil
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Verified")
			if res != nil && res.ExpiresAt > 0 {
				fmt.Fprintf(out, "Session valid until %s\n", time.Unix(res.ExpiresAt, 0).UTC().Format(time.RFC3339))
			}

			return nil
		},
	}

	flags.Safe(cmd)

	return cmd
}
