// Package flags provides reusable flag helpers for CLI commands.
//
// This package should only contain common flags that can be used by multiple commands
// to ensure unified naming and consistent behavior across the CLI.
// Command-specific flags should be defined locally in the command file.
package flags

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
)

// DefaultConfigPath is the config file read when --config is not set.
const DefaultConfigPath = "avocado.yml"

// MustString returns the string value, ignoring the error.
// Safe to use with registered flags where GetString cannot fail.
func MustString(s string, _ error) string { return s }

// MustUintSlice returns the uint slice value, ignoring the error.
// Safe to use with registered flags where GetUintSlice cannot fail.
func MustUintSlice(v []uint, _ error) []uint { return v }

// Config adds the persistent --config/-c flag to a command group.
// Retrieve the value with cmd.Flags().GetString("config").
func Config(cmd *cobra.Command) {
	cmd.PersistentFlags().StringP("config", "c", DefaultConfigPath, "Config file path; environment variables are used when it does not exist")
}

// Safe adds the required --safe/-s flag to a command.
// Retrieve the value with SafeAddress(cmd).
func Safe(cmd *cobra.Command) {
	cmd.Flags().StringP("safe", "s", "", "Safe address (required)")
	_ = cmd.MarkFlagRequired("safe")
}

// SafeAddress returns the parsed --safe flag.
func SafeAddress(cmd *cobra.Command) (common.Address, error) {
	return Address("safe", MustString(cmd.Flags().GetString("safe")))
}

// Chains adds the required, repeatable --chain flag to a command.
// Retrieve the value with ChainIDs(cmd).
func Chains(cmd *cobra.Command) {
	cmd.Flags().UintSlice("chain", nil, "Chain id, repeat for several chains (required)")
	_ = cmd.MarkFlagRequired("chain")
}

// ChainIDs returns the --chain values.
func ChainIDs(cmd *cobra.Command) []uint64 {
	ids := MustUintSlice(cmd.Flags().GetUintSlice("chain"))
	out := make([]uint64, 0, len(ids))
	for _, id := range ids {
		out = append(out, uint64(id))
	}

	return out
}

// Address parses a hex address given for the named flag or argument.
func Address(name, value string) (common.Address, error) {
	if !common.IsHexAddress(value) {
		return common.Address{}, fmt.Errorf("invalid %s address %q", name, value)
	}

	return common.HexToAddress(value), nil
}
