package mfa_test

import (
	"context"
	"crypto/ecdsa"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/stretchr/testify/require"

	"github.com/avocado-safe/avocado-core/backend"
	"github.com/avocado-safe/avocado-core/chain/evm/provider"
	"github.com/avocado-safe/avocado-core/safe"
)

type fakeBackend struct {
	mu    sync.Mutex
	calls []string
	reqs  []backend.MFARequest
	codes []backend.MFACodeRequest

	requestCode    func(req backend.MFARequest) (*backend.MFARequestResult, error)
	verifyCode     func(req backend.MFACodeRequest) (*backend.MFAVerifyResult, error)
	requestUpdate  func(req backend.MFARequest) (*backend.MFAUpdateResult, error)
	verifyUpdate   func(req backend.MFACodeRequest) (*backend.MFAVerifyUpdateResult, error)
	verifyRemove   func(req backend.MFACodeRequest) (*backend.MFASuccessResult, error)
	removeRecovery func(req backend.MFARecoveryRequest) (*backend.MFASuccessResult, error)
}

func (f *fakeBackend) record(method string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, method)
}

func (f *fakeBackend) recordReq(method string, req backend.MFARequest) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, method)
	f.reqs = append(f.reqs, req)
}

func (f *fakeBackend) recordCode(method string, req backend.MFACodeRequest) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, method)
	f.codes = append(f.codes, req)
}

func (f *fakeBackend) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string(nil), f.calls...)
}

func (f *fakeBackend) RequestCode(_ context.Context, req backend.MFARequest) (*backend.MFARequestResult, error) {
	f.recordReq("mfa_requestCode", req)
	if f.requestCode != nil {
		return f.requestCode(req)
	}

	return &backend.MFARequestResult{Success: true}, nil
}

func (f *fakeBackend) VerifyCode(_ context.Context, req backend.MFACodeRequest) (*backend.MFAVerifyResult, error) {
	f.recordCode("mfa_verifyCode", req)
	if f.verifyCode != nil {
		return f.verifyCode(req)
	}

	return &backend.MFAVerifyResult{Success: true, Token: "token-" + req.Type}, nil
}

func (f *fakeBackend) RequestTransactionCode(_ context.Context, req backend.MFARequest) (*backend.MFARequestResult, error) {
	f.recordReq("mfa_requestTransactionCode", req)
	if f.requestCode != nil {
		return f.requestCode(req)
	}

	return &backend.MFARequestResult{Success: true}, nil
}

func (f *fakeBackend) RequestUpdate(_ context.Context, req backend.MFARequest) (*backend.MFAUpdateResult, error) {
	f.recordReq("mfa_requestUpdate", req)
	if f.requestUpdate != nil {
		return f.requestUpdate(req)
	}

	return &backend.MFAUpdateResult{Success: true}, nil
}

func (f *fakeBackend) VerifyUpdate(_ context.Context, req backend.MFACodeRequest) (*backend.MFAVerifyUpdateResult, error) {
	f.recordCode("mfa_verifyUpdate", req)
	if f.verifyUpdate != nil {
		return f.verifyUpdate(req)
	}

	return &backend.MFAVerifyUpdateResult{Success: true}, nil
}

func (f *fakeBackend) RequestRemove(_ context.Context, req backend.MFARequest) (*backend.MFASuccessResult, error) {
	f.recordReq("mfa_requestRemove", req)
	return &backend.MFASuccessResult{Success: true}, nil
}

func (f *fakeBackend) VerifyRemove(_ context.Context, req backend.MFACodeRequest) (*backend.MFASuccessResult, error) {
	f.recordCode("mfa_verifyRemove", req)
	if f.verifyRemove != nil {
		return f.verifyRemove(req)
	}

	return &backend.MFASuccessResult{Success: true}, nil
}

func (f *fakeBackend) RegenerateTotpRecoveryCodes(_ context.Context, req backend.MFARequest) (*backend.MFARecoveryCodesResult, error) {
	f.recordReq("mfa_regenerateTotpRecoveryCodes", req)
	return &backend.MFARecoveryCodesResult{RecoveryCodes: []string{"r1", "r2"}}, nil
}

func (f *fakeBackend) RemoveTotpUsingRecoveryCode(_ context.Context, req backend.MFARecoveryRequest) (*backend.MFASuccessResult, error) {
	f.record("mfa_removeTotpUsingRecoveryCode")
	if f.removeRecovery != nil {
		return f.removeRecovery(req)
	}

	return &backend.MFASuccessResult{Success: true}, nil
}

var safeAddr = common.HexToAddress("0x4444444444444444444444444444444444444444")

func newOwner(t *testing.T) (*ecdsa.PrivateKey, provider.TypedDataSigner) {
	t.Helper()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	return key, provider.NewPrivateKeySigner(key)
}

func newSafe(owner common.Address, flags safe.MFAFlags) *safe.Multisig {
	return &safe.Multisig{Info: safe.Info{
		Owner:   owner,
		Address: safeAddr,
		Index:   1,
		MFA:     flags,
	}}
}

// rejectingSigner always reports the user dismissed the signature request.
type rejectingSigner struct {
	addr common.Address
}

func (s rejectingSigner) Address() common.Address { return s.addr }

func (s rejectingSigner) SignTypedData(context.Context, *apitypes.TypedData) ([]byte, error) {
	return nil, provider.ErrUserRejected
}
