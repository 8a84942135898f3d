package payload_test

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avocado-safe/avocado-core/backend"
	"github.com/avocado-safe/avocado-core/chain/evm/provider"
	"github.com/avocado-safe/avocado-core/payload"
	"github.com/avocado-safe/avocado-core/payload/metadata"
	"github.com/avocado-safe/avocado-core/pkg/logger"
	"github.com/avocado-safe/avocado-core/safe"
)

var (
	testSafeAddr = common.HexToAddress("0x4444444444444444444444444444444444444444")
	testTarget   = common.HexToAddress("0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174")
	testOwner    = common.HexToAddress("0x1111111111111111111111111111111111111111")
)

func testActions() []safe.Action {
	return []safe.Action{
		{Target: testTarget, Data: common.FromHex("0xa9059cbb"), Value: big.NewInt(0)},
		{Target: testOwner, Value: big.NewInt(1_000)},
	}
}

type fakeReader struct {
	nonce   *big.Int
	version safe.Version
	err     error

	calls   atomic.Int32
	active  atomic.Int32
	maxSeen atomic.Int32
	gate    chan struct{}
}

func (r *fakeReader) Nonce(ctx context.Context, _ safe.Safe, _ uint64) (*big.Int, error) {
	r.calls.Add(1)
	n := r.active.Add(1)
	defer r.active.Add(-1)
	for {
		m := r.maxSeen.Load()
		if n <= m || r.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
	if r.gate != nil {
		select {
		case <-r.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if r.err != nil {
		return nil, r.err
	}

	return new(big.Int).Set(r.nonce), nil
}

func (r *fakeReader) Version(context.Context, uint64, common.Address) safe.Version {
	return r.version
}

func multisigSafe() *safe.Multisig {
	return &safe.Multisig{Info: safe.Info{Owner: testOwner, Address: testSafeAddr, Index: 1}}
}

func legacySafe() *safe.Legacy {
	return &safe.Legacy{Info: safe.Info{Owner: testOwner, Address: testSafeAddr}}
}

func TestAssemble_Deterministic(t *testing.T) {
	t.Parallel()

	meta, err := metadata.Encode(metadata.Transfer{Token: testTarget, Amount: big.NewInt(5), Receiver: testOwner})
	require.NoError(t, err)

	in := payload.Input{
		Format:  payload.FormatMultisig,
		Safe:    testSafeAddr,
		ChainID: 137,
		Nonce:   big.NewInt(3),
		Actions: testActions(),
		Options: payload.Options{Metadata: meta, Source: testOwner, ValidUntil: big.NewInt(1_900_000_000)},
	}

	a, err := payload.Assemble(in)
	require.NoError(t, err)
	b, err := payload.Assemble(in)
	require.NoError(t, err)

	aJSON, err := a.JSON()
	require.NoError(t, err)
	bJSON, err := b.JSON()
	require.NoError(t, err)

	assert.Equal(t, aJSON, bJSON)
	assert.Equal(t, a.Digest, b.Digest)
	assert.NotEqual(t, common.Hash{}, a.Digest)

	assert.Equal(t, payload.MultisigDomainName, a.Data.Domain.Name)
	assert.Equal(t, payload.MultisigDomainVersion, a.Data.Domain.Version)
	assert.Equal(t, payload.DomainSalt(137).Hex(), a.Data.Domain.Salt)
}

func TestAssemble_DomainSeparator(t *testing.T) {
	t.Parallel()

	td, err := payload.Assemble(payload.Input{
		Format:  payload.FormatV3,
		Safe:    testSafeAddr,
		ChainID: 10,
		Version: "3.1.0",
		Nonce:   big.NewInt(0),
		Actions: testActions(),
	})
	require.NoError(t, err)

	got, err := td.Data.HashStruct("EIP712Domain", td.Data.Domain.Map())
	require.NoError(t, err)

	typeHash := crypto.Keccak256([]byte("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract,bytes32 salt)"))
	salt := crypto.Keccak256(common.LeftPadBytes(big.NewInt(10).Bytes(), 32))
	want := crypto.Keccak256(
		typeHash,
		crypto.Keccak256([]byte(payload.LegacyDomainName)),
		crypto.Keccak256([]byte("3.1.0")),
		common.LeftPadBytes(big.NewInt(634).Bytes(), 32),
		common.LeftPadBytes(testSafeAddr.Bytes(), 32),
		salt,
	)
	assert.Equal(t, want, []byte(got))
	assert.Equal(t, common.BytesToHash(salt), payload.DomainSalt(10))
}

func TestAssemble_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		in      payload.Input
		wantErr error
		wantMsg string
	}{
		{
			name:    "no actions",
			in:      payload.Input{Format: payload.FormatMultisig, Nonce: big.NewInt(0)},
			wantErr: payload.ErrNoActions,
		},
		{
			name:    "non-sequential legacy",
			in:      payload.Input{Format: payload.FormatV3, Version: "3.0.0", Nonce: big.NewInt(-1), Actions: testActions(), Options: payload.Options{Salt: common.HexToHash("0x01")}},
			wantErr: payload.ErrNonSequentialNotAllowed,
		},
		{
			name:    "non-sequential without salt",
			in:      payload.Input{Format: payload.FormatMultisig, Nonce: big.NewInt(-1), Actions: testActions()},
			wantErr: payload.ErrSaltRequired,
		},
		{
			name:    "negative nonce other than non-sequential",
			in:      payload.Input{Format: payload.FormatMultisig, Nonce: big.NewInt(-2), Actions: testActions(), Options: payload.Options{Salt: common.HexToHash("0x01")}},
			wantErr: payload.ErrNonSequentialNotAllowed,
		},
		{
			name:    "missing version",
			in:      payload.Input{Format: payload.FormatLegacyV2, Nonce: big.NewInt(0), Actions: testActions()},
			wantMsg: "domain version is required",
		},
		{
			name:    "bad operation",
			in:      payload.Input{Format: payload.FormatMultisig, Nonce: big.NewInt(0), Actions: []safe.Action{{Operation: 7}}},
			wantMsg: "unknown operation 7",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := payload.Assemble(tt.in)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.ErrorContains(t, err, tt.wantMsg)
			}
		})
	}
}

func TestAssemble_NonSequential(t *testing.T) {
	t.Parallel()

	td, err := payload.Assemble(payload.Input{
		Format:  payload.FormatMultisig,
		Safe:    testSafeAddr,
		ChainID: 137,
		Nonce:   payload.NonSequentialNonce,
		Actions: testActions(),
		Options: payload.Options{Salt: common.HexToHash("0xbeef")},
	})
	require.NoError(t, err)

	params := td.Message()["params"].(map[string]any)
	assert.Equal(t, "-1", params["avoNonce"])
}

func TestAssemble_CrossChain(t *testing.T) {
	t.Parallel()

	build := func(chainID uint64) *payload.TypedData {
		td, err := payload.Assemble(payload.Input{
			Format:  payload.FormatMultisig,
			Safe:    testSafeAddr,
			ChainID: chainID,
			Nonce:   big.NewInt(0),
			Actions: testActions(),
			Options: payload.Options{ID: big.NewInt(20)},
		})
		require.NoError(t, err)

		return td
	}

	onAvocado := build(payload.AvocadoChainID)
	onPolygon := build(137)
	assert.NotEqual(t, onAvocado.Digest, onPolygon.Digest)
	assert.Equal(t, "20", onPolygon.Message()["params"].(map[string]any)["id"])
}

func TestAssemble_DefaultID(t *testing.T) {
	t.Parallel()

	td, err := payload.Assemble(payload.Input{
		Format:  payload.FormatLegacyV2,
		Version: "2.0.0",
		Safe:    testSafeAddr,
		ChainID: 137,
		Nonce:   big.NewInt(9),
		Actions: []safe.Action{{Target: testTarget, Operation: safe.OperationDelegateCall}},
	})
	require.NoError(t, err)

	msg := td.Message()
	assert.Equal(t, "9", msg["avoSafeNonce"])
	assert.Equal(t, "1", msg["params"].(map[string]any)["id"])
	assert.Len(t, msg["actions"], 1)
}

func TestFromProposal_RebuildsDigest(t *testing.T) {
	t.Parallel()

	meta, err := metadata.Encode(metadata.Dapp{Name: "Aave", URL: "https://app.aave.com"})
	require.NoError(t, err)

	td, err := payload.Assemble(payload.Input{
		Format:  payload.FormatMultisig,
		Safe:    testSafeAddr,
		ChainID: 137,
		Nonce:   big.NewInt(12),
		Actions: testActions(),
		Options: payload.Options{Metadata: meta, Source: testOwner, Gas: big.NewInt(21_000), ValidUntil: big.NewInt(1_900_000_000)},
	})
	require.NoError(t, err)

	p := &backend.Proposal{ID: "p1", ChainID: 137, SafeAddress: testSafeAddr, Data: td.ProposalData(), Hash: td.Digest}

	rebuilt, err := payload.FromProposal(p, 0)
	require.NoError(t, err)
	assert.Equal(t, td.Digest, rebuilt.Digest)

	p.Data.AvoNonce = "13"
	tampered, err := payload.FromProposal(p, 0)
	require.NoError(t, err)
	assert.NotEqual(t, td.Digest, tampered.Digest)

	p.Data.Gas = "lots"
	_, err = payload.FromProposal(p, 0)
	require.ErrorContains(t, err, "proposal p1 gas")
}

func TestBuilder_Build(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		safe        safe.Safe
		version     safe.Version
		latest      string
		wantFormat  payload.Format
		wantVersion string
	}{
		{
			name:        "multisig ignores implementation version",
			safe:        multisigSafe(),
			version:     safe.Version{Version: "3.2.0", Deployed: true},
			wantFormat:  payload.FormatMultisig,
			wantVersion: payload.MultisigDomainVersion,
		},
		{
			name:        "legacy v2",
			safe:        legacySafe(),
			version:     safe.Version{Version: "2.1.0", Deployed: true},
			wantFormat:  payload.FormatLegacyV2,
			wantVersion: "2.1.0",
		},
		{
			name:        "legacy v3",
			safe:        legacySafe(),
			version:     safe.Version{Version: "3.1.0", Deployed: true},
			wantFormat:  payload.FormatV3,
			wantVersion: "3.1.0",
		},
		{
			name:        "undeployed legacy uses latest version",
			safe:        legacySafe(),
			version:     safe.Version{Version: safe.UnknownVersion},
			latest:      "2.0.0",
			wantFormat:  payload.FormatLegacyV2,
			wantVersion: "2.0.0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r := &fakeReader{nonce: big.NewInt(4), version: tt.version}
			b := payload.NewBuilder(r, payload.Config{LatestVersion: tt.latest}, logger.Test(t))

			td, err := b.Build(t.Context(), tt.safe, payload.Request{ChainID: 137, Actions: testActions()})
			require.NoError(t, err)
			assert.Equal(t, tt.wantFormat, td.Input.Format)
			assert.Equal(t, tt.wantVersion, td.Data.Domain.Version)
			assert.Equal(t, int64(4), td.Input.Nonce.Int64())
		})
	}
}

func TestBuilder_NoActionsBeforeNetwork(t *testing.T) {
	t.Parallel()

	r := &fakeReader{nonce: big.NewInt(0)}
	b := payload.NewBuilder(r, payload.Config{}, logger.Test(t))

	_, err := b.Build(t.Context(), multisigSafe(), payload.Request{ChainID: 137})
	require.ErrorIs(t, err, payload.ErrNoActions)

	_, _, err = b.BuildAndSign(t.Context(), multisigSafe(), payload.Request{ChainID: 137}, provider.NewPrivateKeySigner(mustKey(t)))
	require.ErrorIs(t, err, payload.ErrNoActions)

	assert.Equal(t, int32(0), r.calls.Load())
}

func TestBuilder_ExplicitNonceSkipsRead(t *testing.T) {
	t.Parallel()

	r := &fakeReader{err: errors.New("rpc down")}
	b := payload.NewBuilder(r, payload.Config{}, logger.Test(t))

	td, err := b.Build(t.Context(), multisigSafe(), payload.Request{
		ChainID: 137,
		Actions: testActions(),
		Options: payload.Options{Nonce: big.NewInt(8)},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(8), td.Input.Nonce.Int64())
	assert.Equal(t, int32(0), r.calls.Load())

	_, err = b.Build(t.Context(), multisigSafe(), payload.Request{ChainID: 137, Actions: testActions()})
	require.ErrorContains(t, err, "failed to read nonce: rpc down")
}

func TestBuilder_BuildAndSign(t *testing.T) {
	t.Parallel()

	key := mustKey(t)
	signer := provider.NewPrivateKeySigner(key)
	b := payload.NewBuilder(&fakeReader{nonce: big.NewInt(1)}, payload.Config{}, logger.Test(t))

	td, sig, err := b.BuildAndSign(t.Context(), multisigSafe(), payload.Request{ChainID: 137, Actions: testActions()}, signer)
	require.NoError(t, err)
	require.Len(t, sig, crypto.SignatureLength)

	recovered, err := td.Recover(sig)
	require.NoError(t, err)
	assert.Equal(t, signer.Address(), recovered)
}

func TestBuilder_SignRejected(t *testing.T) {
	t.Parallel()

	signer := provider.NewExternalSigner(testOwner, func(context.Context, common.Address, *apitypes.TypedData) ([]byte, bool, error) {
		return nil, true, nil
	})
	b := payload.NewBuilder(&fakeReader{nonce: big.NewInt(1)}, payload.Config{}, logger.Test(t))

	_, _, err := b.BuildAndSign(t.Context(), multisigSafe(), payload.Request{ChainID: 137, Actions: testActions()}, signer)
	require.ErrorIs(t, err, provider.ErrUserRejected)
}

func TestBuilder_SignWrongSigner(t *testing.T) {
	t.Parallel()

	other := provider.NewPrivateKeySigner(mustKey(t))
	signer := provider.NewExternalSigner(testOwner, func(ctx context.Context, _ common.Address, td *apitypes.TypedData) ([]byte, bool, error) {
		sig, err := other.SignTypedData(ctx, td)
		return sig, false, err
	})
	b := payload.NewBuilder(&fakeReader{nonce: big.NewInt(1)}, payload.Config{}, logger.Test(t))

	_, _, err := b.BuildAndSign(t.Context(), multisigSafe(), payload.Request{ChainID: 137, Actions: testActions()}, signer)
	require.ErrorContains(t, err, "expected "+testOwner.Hex())
}

func TestBuilder_SerializesPerSafeAndChain(t *testing.T) {
	t.Parallel()

	r := &fakeReader{nonce: big.NewInt(0), gate: make(chan struct{})}
	b := payload.NewBuilder(r, payload.Config{}, logger.Test(t))

	var wg sync.WaitGroup
	for range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := b.Build(t.Context(), multisigSafe(), payload.Request{ChainID: 137, Actions: testActions()})
			assert.NoError(t, err)
		}()
	}

	for range 3 {
		r.gate <- struct{}{}
	}
	wg.Wait()

	assert.Equal(t, int32(3), r.calls.Load())
	assert.Equal(t, int32(1), r.maxSeen.Load())
}

func TestBuilder_ReservesSignedNonces(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	r := &fakeReader{nonce: big.NewInt(4)}
	b := payload.NewBuilder(r, payload.Config{}, logger.Test(t))
	signer := provider.NewPrivateKeySigner(mustKey(t))
	s := multisigSafe()
	req := payload.Request{ChainID: 137, Actions: testActions()}

	nonce := func(td *payload.TypedData) int64 { return td.Input.Nonce.Int64() }
	signed := func() int64 {
		td, _, err := b.BuildAndSign(ctx, s, req, signer)
		require.NoError(t, err)
		return nonce(td)
	}
	built := func(chainID uint64) int64 {
		td, err := b.Build(ctx, s, payload.Request{ChainID: chainID, Actions: testActions()})
		require.NoError(t, err)
		return nonce(td)
	}

	assert.Equal(t, int64(4), signed())
	assert.Equal(t, int64(5), signed())
	assert.Equal(t, int64(6), built(137), "building does not reserve")
	assert.Equal(t, int64(6), built(137))
	assert.Equal(t, int64(4), built(10), "reservations are per chain")

	b.Release(s, 137, big.NewInt(5))
	assert.Equal(t, int64(5), signed())

	b.Release(s, 137, big.NewInt(4))
	assert.Equal(t, int64(6), built(137), "only the latest reservation is released")

	r.nonce = big.NewInt(9)
	assert.Equal(t, int64(9), built(137), "the live nonce passed the reservations")

	td, _, err := b.BuildAndSign(ctx, s, payload.Request{ChainID: 137, Actions: testActions(), Options: payload.Options{Nonce: big.NewInt(20)}}, signer)
	require.NoError(t, err)
	assert.Equal(t, int64(20), nonce(td))
	assert.Equal(t, int64(9), built(137), "explicit nonces are not reserved")
}

func mustKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	return key
}
