package safe_test

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avocado-safe/avocado-core/backend"
	"github.com/avocado-safe/avocado-core/chain/evm"
	"github.com/avocado-safe/avocado-core/internal/evmtest"
	"github.com/avocado-safe/avocado-core/pkg/logger"
	"github.com/avocado-safe/avocado-core/safe"
)

var testFactory = common.HexToAddress("0x5555555555555555555555555555555555555555")

type fakeBackend struct {
	calls   atomic.Int32
	release chan struct{}
	records map[common.Address]*backend.SafeRecord
}

func (b *fakeBackend) GetSafe(ctx context.Context, address common.Address) (*backend.SafeRecord, error) {
	b.calls.Add(1)
	if b.release != nil {
		select {
		case <-b.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	rec, ok := b.records[address]
	if !ok {
		return nil, errors.New("not found")
	}

	return rec, nil
}

func (b *fakeBackend) GetSafes(_ context.Context, owner common.Address) ([]backend.SafeRecord, error) {
	var out []backend.SafeRecord
	for _, rec := range b.records {
		if rec.OwnerAddress == owner {
			out = append(out, *rec)
		}
	}

	return out, nil
}

func newTestReader(t *testing.T, b safe.Backend, client *evmtest.Client) *safe.Reader {
	t.Helper()

	r, err := safe.NewReader(b, safe.ReaderConfig{
		Chains:          evm.Chains{137: {ChainID: 137, DisplayName: "Polygon", Client: client}},
		FactoryAddress:  testFactory,
		AddressChainID:  137,
		LegacyNonceSlot: common.BigToHash(big.NewInt(1)),
	}, logger.Test(t))
	require.NoError(t, err)

	return r
}

func TestReader_Safe_Coalesces(t *testing.T) {
	t.Parallel()

	b := &fakeBackend{
		release: make(chan struct{}),
		records: map[common.Address]*backend.SafeRecord{
			testSafe: {SafeAddress: testSafe, OwnerAddress: testOwner, Multisig: 1},
		},
	}
	r := newTestReader(t, b, evmtest.NewClient())

	var wg sync.WaitGroup
	results := make([]safe.Safe, 4)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := r.Safe(t.Context(), testSafe)
			assert.NoError(t, err)
			results[i] = s
		}()
	}

	require.Eventually(t, func() bool { return b.calls.Load() >= 1 }, time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(b.release)
	wg.Wait()

	assert.Equal(t, int32(1), b.calls.Load())
	for _, s := range results {
		require.NotNil(t, s)
		assert.Equal(t, safe.KindMultisig, s.Kind())
	}

	_, err := r.Safe(t.Context(), testFactory)
	require.ErrorContains(t, err, "failed to fetch safe")
}

func TestReader_Safe_CallerCancelDoesNotFailOthers(t *testing.T) {
	t.Parallel()

	b := &fakeBackend{
		release: make(chan struct{}),
		records: map[common.Address]*backend.SafeRecord{
			testSafe: {SafeAddress: testSafe, OwnerAddress: testOwner, Multisig: 1},
		},
	}
	r := newTestReader(t, b, evmtest.NewClient())

	firstCtx, cancelFirst := context.WithCancel(t.Context())
	firstErr := make(chan error, 1)
	go func() {
		_, err := r.Safe(firstCtx, testSafe)
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return b.calls.Load() == 1 }, time.Second, time.Millisecond)

	type result struct {
		s   safe.Safe
		err error
	}
	second := make(chan result, 1)
	go func() {
		s, err := r.Safe(t.Context(), testSafe)
		second <- result{s, err}
	}()
	time.Sleep(50 * time.Millisecond)

	cancelFirst()
	err := <-firstErr
	require.ErrorIs(t, err, context.Canceled)
	require.ErrorContains(t, err, "failed to fetch safe")

	close(b.release)
	got := <-second
	require.NoError(t, got.err)
	assert.Equal(t, safe.KindMultisig, got.s.Kind())
	assert.Equal(t, int32(1), b.calls.Load())
}

func TestReader_Safes(t *testing.T) {
	t.Parallel()

	b := &fakeBackend{records: map[common.Address]*backend.SafeRecord{
		testSafe: {SafeAddress: testSafe, OwnerAddress: testOwner},
	}}
	r := newTestReader(t, b, evmtest.NewClient())

	got, err := r.Safes(t.Context(), testOwner)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, safe.KindLegacy, got[0].Kind())
}

func TestReader_ComputeAddress(t *testing.T) {
	t.Parallel()

	legacyAddr := common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	multisigAddr := common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")

	client := evmtest.NewClient()
	client.Returns(testFactory, safe.FactoryABI, "computeAddress", legacyAddr)
	client.Handle(testFactory, safe.FactoryABI, "computeAvocado", func(_ context.Context, args []any) ([]any, error) {
		if args[0].(common.Address) != testOwner || args[1].(uint32) != 1 {
			return nil, evmtest.ErrReverted
		}

		return []any{multisigAddr}, nil
	})
	r := newTestReader(t, &fakeBackend{}, client)

	got, err := r.ComputeAddress(t.Context(), testOwner, 0, true)
	require.NoError(t, err)
	assert.Equal(t, legacyAddr, got)

	for range 3 {
		got, err = r.ComputeAddress(t.Context(), testOwner, 1, false)
		require.NoError(t, err)
		assert.Equal(t, multisigAddr, got)
	}
	assert.Equal(t, 1, client.Calls(testFactory, "computeAvocado"))

	_, err = r.ComputeAddress(t.Context(), testOwner, 2, false)
	require.ErrorContains(t, err, "failed to compute safe address")
}

func TestReader_MultisigViews(t *testing.T) {
	t.Parallel()

	client := evmtest.NewClient()
	client.Returns(testSafe, safe.WalletABI, "requiredSigners", uint8(2))
	client.Returns(testSafe, safe.WalletABI, "signers", []common.Address{testOwner, testSigner})
	client.Returns(testSafe, safe.WalletABI, "avoNonce", big.NewInt(7))
	client.Returns(testSafe, safe.WalletABI, "DOMAIN_SEPARATOR_VERSION", "3.0.0")
	r := newTestReader(t, &fakeBackend{}, client)
	ctx := t.Context()

	required, err := r.RequiredSigners(ctx, 137, testSafe)
	require.NoError(t, err)
	assert.Equal(t, 2, required)

	signers, err := r.OnchainSigners(ctx, 137, testSafe)
	require.NoError(t, err)
	assert.Equal(t, []common.Address{testOwner, testSigner}, signers)

	nonce, err := r.Nonce(ctx, &safe.Multisig{Info: safe.Info{Address: testSafe}}, 137)
	require.NoError(t, err)
	assert.Equal(t, int64(7), nonce.Int64())

	assert.Equal(t, safe.Version{Version: "3.0.0", Deployed: true}, r.Version(ctx, 137, testSafe))

	_, err = r.RequiredSigners(ctx, 1, testSafe)
	require.ErrorContains(t, err, "chain 1 is not configured")
}

func TestReader_Undeployed(t *testing.T) {
	t.Parallel()

	r := newTestReader(t, &fakeBackend{}, evmtest.NewClient())
	ctx := t.Context()

	nonce, err := r.MultisigNonce(ctx, 137, testSafe)
	require.NoError(t, err)
	assert.Equal(t, int64(0), nonce.Int64())

	assert.Equal(t, safe.Version{Version: safe.UnknownVersion}, r.Version(ctx, 137, testSafe))

	_, err = r.RequiredSigners(ctx, 137, testSafe)
	require.Error(t, err)
}

func TestReader_LegacyNonce(t *testing.T) {
	t.Parallel()

	client := evmtest.NewClient()
	client.SetStorage(testSafe, common.BigToHash(big.NewInt(1)), []byte{0x2a})
	r := newTestReader(t, &fakeBackend{}, client)

	nonce, err := r.Nonce(t.Context(), &safe.Legacy{Info: safe.Info{Address: testSafe}}, 137)
	require.NoError(t, err)
	assert.Equal(t, int64(42), nonce.Int64())
}
