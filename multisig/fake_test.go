package multisig_test

import (
	"context"
	"fmt"
	"math/big"
	"slices"
	"strconv"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/avocado-safe/avocado-core/backend"
	"github.com/avocado-safe/avocado-core/chain/evm/provider"
	"github.com/avocado-safe/avocado-core/safe"
)

// fakeAPI is an in-memory proposals API and broadcaster. Each (safe, chain, nonce) can be
// broadcast once.
type fakeAPI struct {
	mu        sync.Mutex
	seq       int
	proposals map[string]*backend.Proposal
	consumed  map[string]bool
	creates   []backend.CreateProposalRequest
	confirms  []backend.ConfirmProposalRequest
	broadcast []backend.BroadcastParams
	legacyErr error
	// landed counts the legacy casts broadcast successfully.
	landed int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{proposals: map[string]*backend.Proposal{}, consumed: map[string]bool{}}
}

func clone(p *backend.Proposal) *backend.Proposal {
	out := *p
	out.Confirmations = slices.Clone(p.Confirmations)
	out.Signers = slices.Clone(p.Signers)

	return &out
}

func (f *fakeAPI) Create(_ context.Context, safeAddr common.Address, req backend.CreateProposalRequest) (*backend.Proposal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.seq++
	f.creates = append(f.creates, req)
	p := &backend.Proposal{
		ID:                    strconv.Itoa(f.seq),
		ChainID:               req.ChainID,
		Nonce:                 req.Nonce,
		Owner:                 req.Owner,
		SafeAddress:           safeAddr,
		Data:                  req.Data,
		Hash:                  req.Hash,
		ConfirmationsRequired: req.ConfirmationsRequired,
		Status:                backend.ProposalStatusPending,
		RejectionOf:           req.RejectionOf,
		IsGasTopup:            req.IsGasTopup,
		Confirmations:         []backend.Confirmation{{Address: req.Signer, Signature: req.Signature}},
	}
	f.proposals[p.ID] = p

	return clone(p), nil
}

func (f *fakeAPI) Confirm(_ context.Context, _ common.Address, id string, req backend.ConfirmProposalRequest) (*backend.Proposal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	p, ok := f.proposals[id]
	if !ok {
		return nil, &backend.Error{Code: 404, Message: "not found"}
	}
	f.confirms = append(f.confirms, req)
	p.Confirmations = append(p.Confirmations, backend.Confirmation{Address: req.Signer, Signature: req.Signature})
	if len(p.Confirmations) >= p.ConfirmationsRequired {
		p.Status = backend.ProposalStatusExecutable
	}

	return clone(p), nil
}

func (f *fakeAPI) Get(_ context.Context, _ common.Address, id string) (*backend.Proposal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	p, ok := f.proposals[id]
	if !ok {
		return nil, &backend.Error{Code: 404, Message: "not found"}
	}

	return clone(p), nil
}

func (f *fakeAPI) Update(_ context.Context, _ common.Address, id string, req backend.UpdateProposalRequest) (*backend.Proposal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	p, ok := f.proposals[id]
	if !ok {
		return nil, &backend.Error{Code: 404, Message: "not found"}
	}
	p.Status = req.Status
	p.TransactionHash = req.TransactionHash

	return clone(p), nil
}

func (f *fakeAPI) Broadcast(_ context.Context, params backend.BroadcastParams) (common.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.broadcast = append(f.broadcast, params)
	if f.legacyErr != nil {
		return common.Hash{}, f.legacyErr
	}
	f.landed++

	return common.HexToHash("0xaa"), nil
}

func (f *fakeAPI) MultisigBroadcast(_ context.Context, params backend.BroadcastParams) (common.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.broadcast = append(f.broadcast, params)
	p, ok := f.proposals[params.ProposalID]
	if !ok {
		return common.Hash{}, &backend.Error{Code: -32000, Message: "unknown proposal"}
	}

	key := fmt.Sprintf("%s/%d/%d", p.SafeAddress.Hex(), p.ChainID, p.Nonce)
	if f.consumed[key] {
		return common.Hash{}, &backend.Error{Code: -32000, Message: "execution reverted: AvocadoMultisig__InvalidNonce"}
	}
	f.consumed[key] = true

	return crypto.Keccak256Hash([]byte(key)), nil
}

// consume marks a nonce as used by a cast outside the proposals API.
func (f *fakeAPI) consume(safeAddr common.Address, chainID uint64, nonce int64) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.consumed[fmt.Sprintf("%s/%d/%d", safeAddr.Hex(), chainID, nonce)] = true
}

// staleAPI serves a copy loaded earlier on the first Get, like a device that fetched the
// proposal before another one executed it.
type staleAPI struct {
	*fakeAPI
	stale *backend.Proposal
}

func (s *staleAPI) Get(ctx context.Context, safeAddr common.Address, id string) (*backend.Proposal, error) {
	if p := s.stale; p != nil && p.ID == id {
		s.stale = nil
		return clone(p), nil
	}

	return s.fakeAPI.Get(ctx, safeAddr, id)
}

func (f *fakeAPI) Broadcasts() []backend.BroadcastParams {
	f.mu.Lock()
	defer f.mu.Unlock()

	return slices.Clone(f.broadcast)
}

func (f *fakeAPI) Status(id string) string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.proposals[id].Status
}

// chainReader serves a fixed nonce and version.
type chainReader struct {
	nonce int64
}

func (r chainReader) Nonce(context.Context, safe.Safe, uint64) (*big.Int, error) {
	return big.NewInt(r.nonce), nil
}

func (chainReader) Version(context.Context, uint64, common.Address) safe.Version {
	return safe.Version{Version: "3.0.0", Deployed: true}
}

// landedReader serves base plus the legacy casts landed so far, like a chain whose nonce moves
// only once a broadcast is mined.
type landedReader struct {
	api  *fakeAPI
	base int64
}

func (r landedReader) Nonce(context.Context, safe.Safe, uint64) (*big.Int, error) {
	r.api.mu.Lock()
	defer r.api.mu.Unlock()

	return big.NewInt(r.base + int64(r.api.landed)), nil
}

func (landedReader) Version(context.Context, uint64, common.Address) safe.Version {
	return safe.Version{Version: "3.0.0", Deployed: true}
}

// signedNonce returns the nonce of a v3 cast as broadcast.
func signedNonce(t *testing.T, params backend.BroadcastParams) string {
	t.Helper()

	p, ok := params.Message["params"].(map[string]any)
	require.True(t, ok)
	n, ok := p["avoNonce"].(string)
	require.True(t, ok)

	return n
}

type thresholdReader struct {
	threshold int
}

func (r thresholdReader) RequiredSigners(context.Context, uint64, common.Address) (int, error) {
	return r.threshold, nil
}

// fakeStepUp is an MFA engine that always requires step-up.
type fakeStepUp struct {
	mu         sync.Mutex
	token      string
	err        error
	stepUps    int
	terminated []common.Address
}

func (f *fakeStepUp) NeedsStepUp(safe.Safe, decimal.Decimal) bool { return true }

func (f *fakeStepUp) StepUp(context.Context, safe.Safe, provider.TypedDataSigner, uint64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stepUps++

	return f.token, f.err
}

func (f *fakeStepUp) Token(common.Address) (string, bool) { return "", false }

func (f *fakeStepUp) TerminateToken(addr common.Address) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.terminated = append(f.terminated, addr)

	return nil
}

type rejectingSigner struct {
	addr common.Address
}

func (s rejectingSigner) Address() common.Address { return s.addr }

func (rejectingSigner) SignTypedData(context.Context, *apitypes.TypedData) ([]byte, error) {
	return nil, provider.ErrUserRejected
}

func newSigner(t *testing.T) provider.TypedDataSigner {
	t.Helper()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	return provider.NewPrivateKeySigner(key)
}
