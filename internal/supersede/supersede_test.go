package supersede_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avocado-safe/avocado-core/internal/supersede"
)

func TestGroup_BeginCancelsPrevious(t *testing.T) {
	t.Parallel()

	var g supersede.Group

	first, doneFirst := g.Begin(t.Context(), "fee:1")
	require.True(t, g.InFlight("fee:1"))

	second, doneSecond := g.Begin(t.Context(), "fee:1")

	<-first.Done()
	require.ErrorIs(t, context.Cause(first), supersede.ErrSuperseded)
	require.NoError(t, second.Err())

	// The stale request finishing does not release the newer one.
	doneFirst()
	assert.True(t, g.InFlight("fee:1"))

	doneSecond()
	assert.False(t, g.InFlight("fee:1"))
	require.Error(t, second.Err())
}

func TestGroup_KeysAreIndependent(t *testing.T) {
	t.Parallel()

	var g supersede.Group

	a, doneA := g.Begin(t.Context(), "a")
	defer doneA()
	b, doneB := g.Begin(t.Context(), "b")
	defer doneB()

	require.NoError(t, a.Err())
	require.NoError(t, b.Err())
}

func TestRun(t *testing.T) {
	t.Parallel()

	var g supersede.Group

	started := make(chan struct{})
	staleErr := make(chan error, 1)

	go func() {
		_, err := supersede.Run(t.Context(), &g, "q", func(ctx context.Context) (int, error) {
			close(started)
			<-ctx.Done()

			return 1, nil
		})
		staleErr <- err
	}()

	<-started
	got, err := supersede.Run(t.Context(), &g, "q", func(ctx context.Context) (int, error) {
		return 2, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, got)

	require.ErrorIs(t, <-staleErr, supersede.ErrSuperseded)
}
