package mfa

import (
	"fmt"

	"github.com/spf13/cobra"

	fmfa "github.com/avocado-safe/avocado-core/mfa"
)

func newPreferredCmd(cfg Config) *cobra.Command {
	return &cobra.Command{
		Use:       "preferred <totp|phone|email>",
		Short:     "Set the factor verification starts with",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{string(fmfa.TypeTotp), string(fmfa.TypePhone), string(fmfa.TypeEmail)},
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := cfg.Deps.Load(cmd, cfg.Logger)
			if err != nil {
				return fmt.Errorf("failed to load services: %w", err)
			}
			defer svc.Close()

			t := fmfa.Type(args[0])
			if err := svc.SetPreferredMFA(t); err != nil {
				return fmt.Errorf("failed to set preferred factor %q: %w", args[0], err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Preferred factor set to %s\n", t)

			return nil
		},
	}
}
