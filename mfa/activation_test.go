package mfa_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avocado-safe/avocado-core/backend"
	"github.com/avocado-safe/avocado-core/chain/evm/provider"
	"github.com/avocado-safe/avocado-core/mfa"
	"github.com/avocado-safe/avocado-core/safe"
)

func TestEngine_ActivateTotp(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "123456", mfa.Config{})
	_, signer := newOwner(t)
	s := newSafe(signer.Address(), safe.MFAFlags{})

	_, err := h.engine.RequestActivate(t.Context(), s, signer, mfa.TypeTotp, "")
	require.ErrorIs(t, err, mfa.ErrTermsNotAccepted)

	require.NoError(t, h.engine.AcceptTerms(safeAddr))
	assert.True(t, h.engine.TermsAccepted(safeAddr))

	h.backend.requestUpdate = func(backend.MFARequest) (*backend.MFAUpdateResult, error) {
		return &backend.MFAUpdateResult{Success: true, Secret: "JBSWY3DPEHPK3PXP", URI: "otpauth://totp/Avocado"}, nil
	}
	h.backend.verifyUpdate = func(backend.MFACodeRequest) (*backend.MFAVerifyUpdateResult, error) {
		return &backend.MFAVerifyUpdateResult{Success: true, RecoveryCodes: []string{"a", "b"}}, nil
	}

	ch, err := h.engine.RequestActivate(t.Context(), s, signer, mfa.TypeTotp, "")
	require.NoError(t, err)
	assert.Equal(t, mfa.StateBackendAccepted, ch.Flow.State())
	assert.Equal(t, "JBSWY3DPEHPK3PXP", ch.Secret)
	assert.Equal(t, "", h.backend.reqs[0].Token)

	codes, err := h.engine.Confirm(t.Context(), ch, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, codes)
	assert.Equal(t, mfa.StateActive, ch.Flow.State())
	assert.True(t, s.MFA.Totp)

	require.Len(t, h.prompts, 1)
	assert.Equal(t, "otpauth://totp/Avocado", h.prompts[0].URI)
	assert.Equal(t, "123456", h.backend.codes[0].Code)
	assert.Equal(t, []string{"mfa_requestUpdate", "mfa_verifyUpdate"}, h.backend.Calls())

	_, err = h.engine.Confirm(t.Context(), ch, "123456")
	require.ErrorContains(t, err, "not awaiting a code")
}

func TestEngine_ActivateRequiresVerifiedFactor(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "123456", mfa.Config{})
	_, signer := newOwner(t)
	s := newSafe(signer.Address(), safe.MFAFlags{Totp: true})
	require.NoError(t, h.engine.AcceptTerms(safeAddr))

	ch, err := h.engine.RequestActivate(t.Context(), s, signer, mfa.TypeEmail, "owner@example.com")
	require.NoError(t, err)
	assert.Equal(t, []string{"mfa_verifyCode", "mfa_requestUpdate"}, h.backend.Calls())

	req := h.backend.reqs[0]
	assert.Equal(t, "token-totp", req.Token)
	assert.Equal(t, "email", req.Type)
	assert.Equal(t, "owner@example.com", req.Value)

	pd := mfa.PurposeData{
		Purpose: mfa.PurposeEmail,
		Owner:   signer.Address(),
		Index:   1,
		Type:    mfa.TypeEmail,
		Value:   "owner@example.com",
		Expiry:  epoch.Add(mfa.DefaultSignatureTTL),
	}
	td := pd.TypedData(mfa.DefaultAvocadoChainID)
	recovered, err := provider.RecoverTypedDataSigner(&td, req.Signature)
	require.NoError(t, err)
	assert.Equal(t, signer.Address(), recovered)

	_, err = h.engine.Confirm(t.Context(), ch, "999999")
	require.NoError(t, err)
	assert.True(t, s.MFA.Email)
}

func TestEngine_ConfirmRetriesAfterWrongCode(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "123456", mfa.Config{})
	_, signer := newOwner(t)
	s := newSafe(signer.Address(), safe.MFAFlags{})
	require.NoError(t, h.engine.AcceptTerms(safeAddr))

	h.backend.verifyUpdate = func(req backend.MFACodeRequest) (*backend.MFAVerifyUpdateResult, error) {
		return &backend.MFAVerifyUpdateResult{Success: req.Code == "222222"}, nil
	}

	ch, err := h.engine.RequestActivate(t.Context(), s, signer, mfa.TypePhone, "+15550100")
	require.NoError(t, err)

	_, err = h.engine.Confirm(t.Context(), ch, "111111")
	require.ErrorIs(t, err, mfa.ErrInvalidCode)
	assert.Equal(t, mfa.StateBackendAccepted, ch.Flow.State())
	assert.False(t, s.MFA.Phone)

	_, err = h.engine.Confirm(t.Context(), ch, "222222")
	require.NoError(t, err)
	assert.True(t, s.MFA.Phone)
}

func TestEngine_ActivateCancelled(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "123456", mfa.Config{})
	_, signer := newOwner(t)
	s := newSafe(signer.Address(), safe.MFAFlags{})
	require.NoError(t, h.engine.AcceptTerms(safeAddr))

	_, err := h.engine.RequestActivate(t.Context(), s, rejectingSigner{addr: signer.Address()}, mfa.TypePhone, "+15550100")
	require.ErrorIs(t, err, mfa.ErrUserCancelled)
	assert.Empty(t, h.backend.Calls())

	_, err = h.engine.RequestActivate(t.Context(), s, signer, mfa.TypeBackup, "")
	require.ErrorIs(t, err, mfa.ErrUnknownType)
}

func TestEngine_ConfirmCancelledPrompt(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "", mfa.Config{})
	_, signer := newOwner(t)
	s := newSafe(signer.Address(), safe.MFAFlags{})
	require.NoError(t, h.engine.AcceptTerms(safeAddr))

	ch, err := h.engine.RequestActivate(t.Context(), s, signer, mfa.TypeTotp, "")
	require.NoError(t, err)

	_, err = h.engine.Confirm(t.Context(), ch, "")
	require.ErrorIs(t, err, mfa.ErrUserCancelled)
	assert.Equal(t, mfa.StateCancelled, ch.Flow.State())
	assert.False(t, s.MFA.Totp)
}

func TestEngine_Deactivate(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "123456", mfa.Config{})
	_, signer := newOwner(t)
	s := newSafe(signer.Address(), safe.MFAFlags{Email: true})

	_, err := h.engine.RequestDeactivate(t.Context(), s, signer, mfa.TypeBackup)
	require.ErrorIs(t, err, mfa.ErrUnknownType)

	ch, err := h.engine.RequestDeactivate(t.Context(), s, signer, mfa.TypeEmail)
	require.NoError(t, err)
	assert.True(t, ch.Remove)
	assert.Equal(t, []string{"mfa_requestCode", "mfa_verifyCode", "mfa_requestRemove"}, h.backend.Calls())
	_, ok := h.engine.Token(safeAddr)
	assert.True(t, ok)

	_, err = h.engine.Confirm(t.Context(), ch, "123456")
	require.NoError(t, err)
	assert.False(t, s.MFA.Email)

	// The last factor is gone, so is the session token.
	_, ok = h.engine.Token(safeAddr)
	assert.False(t, ok)

	_, err = h.engine.RequestDeactivate(t.Context(), s, signer, mfa.TypeEmail)
	require.ErrorIs(t, err, mfa.ErrNoActiveFactor)
}

func TestEngine_RegenerateRecoveryCodes(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "123456", mfa.Config{})
	_, signer := newOwner(t)

	_, err := h.engine.RegenerateRecoveryCodes(t.Context(), newSafe(signer.Address(), safe.MFAFlags{Email: true}), signer)
	require.ErrorIs(t, err, mfa.ErrNoActiveFactor)

	codes, err := h.engine.RegenerateRecoveryCodes(t.Context(), newSafe(signer.Address(), safe.MFAFlags{Totp: true}), signer)
	require.NoError(t, err)
	assert.Equal(t, []string{"r1", "r2"}, codes)
	assert.Equal(t, []string{"mfa_verifyCode", "mfa_regenerateTotpRecoveryCodes"}, h.backend.Calls())
	assert.Equal(t, "token-totp", h.backend.reqs[0].Token)
}

func TestEngine_RemoveTotpWithRecoveryCode(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "123456", mfa.Config{})
	_, signer := newOwner(t)
	s := newSafe(signer.Address(), safe.MFAFlags{Totp: true})

	require.ErrorContains(t, h.engine.RemoveTotpWithRecoveryCode(t.Context(), s, ""), "recovery code is required")

	h.backend.removeRecovery = func(req backend.MFARecoveryRequest) (*backend.MFASuccessResult, error) {
		return &backend.MFASuccessResult{Success: req.RecoveryCode == "good"}, nil
	}
	require.ErrorIs(t, h.engine.RemoveTotpWithRecoveryCode(t.Context(), s, "bad"), mfa.ErrInvalidCode)
	assert.True(t, s.MFA.Totp)

	_, err := h.engine.StepUp(t.Context(), s, signer, 1)
	require.NoError(t, err)

	require.NoError(t, h.engine.RemoveTotpWithRecoveryCode(t.Context(), s, "good"))
	assert.False(t, s.MFA.Totp)
	_, ok := h.engine.Token(safeAddr)
	assert.False(t, ok)
}
