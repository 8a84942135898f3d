package session_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avocado-safe/avocado-core/session"
)

var testSafe = common.HexToAddress("0x5Fe4e5f4fC3d0d1b1E28D0b7c7f8a58F0c3e1aB2")

func TestKeys(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "transaction-token-"+testSafe.Hex(), session.TransactionTokenKey(testSafe))
	assert.Equal(t, "transaction-token-expiry-"+testSafe.Hex(), session.TransactionTokenExpiryKey(testSafe))
	assert.Equal(t, "nonce-"+testSafe.Hex(), session.NonceKey(testSafe))
	assert.Equal(t, "mfa-terms-accepted-"+testSafe.Hex(), session.MFATermsAcceptedKey(testSafe))
	assert.Equal(t, "mfa-preferred-type", session.MFAPreferredTypeKey)
}

func TestStores(t *testing.T) {
	t.Parallel()

	fileStore, err := session.OpenFileStore(filepath.Join(t.TempDir(), "nested", "session.json"))
	require.NoError(t, err)

	tests := []struct {
		name  string
		store session.Store
	}{
		{name: "memory", store: session.NewMemoryStore()},
		{name: "file", store: fileStore},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := tt.store.Get("missing")
			require.ErrorIs(t, err, session.ErrNotFound)

			require.NoError(t, tt.store.Set("a", "1"))
			require.NoError(t, tt.store.Set("b", "2"))

			got, err := tt.store.Get("a")
			require.NoError(t, err)
			assert.Equal(t, "1", got)

			require.NoError(t, tt.store.Delete("a", "missing"))
			_, err = tt.store.Get("a")
			require.ErrorIs(t, err, session.ErrNotFound)

			got, err = tt.store.Get("b")
			require.NoError(t, err)
			assert.Equal(t, "2", got)
		})
	}
}

func TestFileStore_Persists(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "session.json")

	s, err := session.OpenFileStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Set(session.TransactionTokenKey(testSafe), "token"))

	reopened, err := session.OpenFileStore(path)
	require.NoError(t, err)
	got, err := reopened.Get(session.TransactionTokenKey(testSafe))
	require.NoError(t, err)
	assert.Equal(t, "token", got)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestOpenFileStore_Invalid(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := session.OpenFileStore(path)
	require.ErrorContains(t, err, "failed to decode session file")
}
