// Package session persists the small amount of client state the core shares across requests:
// MFA session tokens, the preferred MFA factor, accepted terms and the last used nonce of an
// account. Keys embed the safe or account address so concurrent sessions of different accounts
// never collide.
package session

import (
	"errors"
	"maps"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// ErrNotFound is returned by Get when the key is not set.
var ErrNotFound = errors.New("session: key not found")

// Store is a string key-value store.
type Store interface {
	Get(key string) (string, error)
	Set(key, value string) error
	Delete(keys ...string) error
}

// TransactionTokenKey is the key of the MFA session token of a safe.
func TransactionTokenKey(safe common.Address) string {
	return "transaction-token-" + safe.Hex()
}

// TransactionTokenExpiryKey is the key of the MFA session token expiry (unix seconds) of a safe.
func TransactionTokenExpiryKey(safe common.Address) string {
	return "transaction-token-expiry-" + safe.Hex()
}

// NonceKey is the key of the last nonce an account broadcast with.
func NonceKey(account common.Address) string {
	return "nonce-" + account.Hex()
}

// MFAPreferredTypeKey is the key of the factor the user prefers for step-up.
const MFAPreferredTypeKey = "mfa-preferred-type"

// MFATermsAcceptedKey is the key recording that the user accepted the MFA terms for a safe.
func MFATermsAcceptedKey(safe common.Address) string {
	return "mfa-terms-accepted-" + safe.Hex()
}

// MemoryStore is an in-memory Store.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: map[string]string{}}
}

// Get returns the value of key or ErrNotFound.
func (s *MemoryStore) Get(key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.values[key]
	if !ok {
		return "", ErrNotFound
	}

	return v, nil
}

// Set stores value under key.
func (s *MemoryStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values[key] = value

	return nil
}

// Delete removes the keys. Missing keys are ignored.
func (s *MemoryStore) Delete(keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, k := range keys {
		delete(s.values, k)
	}

	return nil
}

// Snapshot returns a copy of every key-value pair.
func (s *MemoryStore) Snapshot() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return maps.Clone(s.values)
}
