package keylock_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avocado-safe/avocado-core/internal/keylock"
)

func TestMap_SerializesSameKey(t *testing.T) {
	t.Parallel()

	var (
		m       keylock.Map
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
	)

	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()

			unlock, err := m.Lock(t.Context(), "safe:137")
			assert.NoError(t, err)
			defer unlock()

			mu.Lock()
			inside++
			maxSeen = max(maxSeen, inside)
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inside--
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen)
	assert.Equal(t, 0, m.Len())
}

func TestMap_DifferentKeysDoNotBlock(t *testing.T) {
	t.Parallel()

	var m keylock.Map

	unlockA, err := m.Lock(t.Context(), "a")
	require.NoError(t, err)
	defer unlockA()

	ctx, cancel := context.WithTimeout(t.Context(), time.Second)
	defer cancel()

	unlockB, err := m.Lock(ctx, "b")
	require.NoError(t, err)
	unlockB()
}

func TestMap_LockHonorsContext(t *testing.T) {
	t.Parallel()

	var m keylock.Map

	unlock, err := m.Lock(t.Context(), "k")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()

	_, err = m.Lock(ctx, "k")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock() // releasing twice is a no-op
	assert.Equal(t, 0, m.Len())
}
