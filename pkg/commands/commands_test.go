package commands

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avocado-safe/avocado-core/pkg/logger"
)

func TestNew(t *testing.T) {
	t.Parallel()

	lggr := logger.Nop()
	cmds := New(lggr)

	require.NotNil(t, cmds)
	assert.Equal(t, lggr, cmds.lggr)
}

func TestCommands_Groups(t *testing.T) {
	t.Parallel()

	cmds := New(logger.Nop())

	tests := []struct {
		name    string
		build   func() (*cobra.Command, error)
		wantUse string
		wantSub []string
	}{
		{name: "safe", build: cmds.Safe, wantUse: "safe", wantSub: []string{"info", "address", "signers"}},
		{name: "fee", build: cmds.Fee, wantUse: "fee", wantSub: []string{"estimate"}},
		{name: "mfa", build: cmds.MFA, wantUse: "mfa", wantSub: []string{"verify", "preferred", "remove-totp"}},
		{name: "proposal", build: cmds.Proposal, wantUse: "proposal", wantSub: []string{"status", "confirm", "execute", "wait"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cmd, err := tt.build()
			require.NoError(t, err)
			assert.Equal(t, tt.wantUse, cmd.Use)

			configFlag := cmd.PersistentFlags().Lookup("config")
			require.NotNil(t, configFlag)
			assert.Equal(t, "c", configFlag.Shorthand)

			subs := make([]string, 0, len(cmd.Commands()))
			for _, sub := range cmd.Commands() {
				subs = append(subs, sub.Name())
			}
			assert.ElementsMatch(t, tt.wantSub, subs)
		})
	}
}

func TestCommands_All(t *testing.T) {
	t.Parallel()

	all, err := New(logger.Nop()).All()
	require.NoError(t, err)

	uses := make([]string, 0, len(all))
	for _, cmd := range all {
		uses = append(uses, cmd.Use)
	}
	assert.Equal(t, []string{"safe", "fee", "mfa", "proposal"}, uses)
}

func TestCommands_NilLogger(t *testing.T) {
	t.Parallel()

	_, err := New(nil).All()
	require.EqualError(t, err, "safe.Config: missing required fields: Logger")
}
