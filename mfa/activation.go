package mfa

import (
	"context"
	"errors"
	"fmt"

	"github.com/avocado-safe/avocado-core/backend"
	"github.com/avocado-safe/avocado-core/chain/evm/provider"
	"github.com/avocado-safe/avocado-core/safe"
)

// Change is a pending activation or removal of a factor awaiting the confirmation code.
type Change struct {
	Safe   safe.Safe
	Type   Type
	Remove bool
	Flow   *Flow
	// Secret and URI are set when activating TOTP.
	Secret string
	URI    string
}

// RequestActivate starts the activation of a factor. value is the phone number or email address
// and is ignored for TOTP. Safes with an active factor must verify one first.
func (e *Engine) RequestActivate(ctx context.Context, s safe.Safe, signer provider.TypedDataSigner, t Type, value string) (*Change, error) {
	purpose, err := activationPurpose(t)
	if err != nil {
		return nil, err
	}
	info := s.SafeInfo()
	if !e.TermsAccepted(info.Address) {
		return nil, ErrTermsNotAccepted
	}

	token, err := e.authorizeUpdate(ctx, s, signer)
	if err != nil {
		return nil, err
	}

	ch := &Change{Safe: s, Type: t, Flow: NewFlow()}
	req, err := e.signedRequest(ctx, s, signer, purpose, t, value)
	if err != nil {
		return nil, e.endChange(ch, err)
	}
	req.Token = token
	if err := ch.Flow.Transition(StateSignatureCollected); err != nil {
		return nil, err
	}

	res, err := e.backend.RequestUpdate(ctx, req)
	if err != nil {
		return nil, e.endChange(ch, err)
	}
	if !res.Success {
		return nil, e.endChange(ch, fmt.Errorf("backend refused to activate %s", t))
	}
	if err := ch.Flow.Transition(StateBackendAccepted); err != nil {
		return nil, err
	}
	ch.Secret, ch.URI = res.Secret, res.URI

	e.lggr.Infow("mfa activation requested", "safe", info.Address.Hex(), "type", t)

	return ch, nil
}

// RequestDeactivate starts the removal of an active factor. It always requires a verified
// code from an active factor first.
func (e *Engine) RequestDeactivate(ctx context.Context, s safe.Safe, signer provider.TypedDataSigner, t Type) (*Change, error) {
	if !t.Valid() || t == TypeBackup {
		return nil, ErrUnknownType
	}
	if !s.SafeInfo().MFA.Any() {
		return nil, ErrNoActiveFactor
	}

	token, err := e.authorizeUpdate(ctx, s, signer)
	if err != nil {
		return nil, err
	}

	ch := &Change{Safe: s, Type: t, Remove: true, Flow: NewFlow()}
	req, err := e.signedRequest(ctx, s, signer, PurposeRemoveMfa, t, "")
	if err != nil {
		return nil, e.endChange(ch, err)
	}
	req.Token = token
	if err := ch.Flow.Transition(StateSignatureCollected); err != nil {
		return nil, err
	}

	res, err := e.backend.RequestRemove(ctx, req)
	if err != nil {
		return nil, e.endChange(ch, err)
	}
	if !res.Success {
		return nil, e.endChange(ch, fmt.Errorf("backend refused to remove %s", t))
	}
	if err := ch.Flow.Transition(StateBackendAccepted); err != nil {
		return nil, err
	}

	return ch, nil
}

// Confirm completes a change with the code the user received. An empty code is prompted for.
// Activating TOTP returns its recovery codes. A wrong code leaves the change pending so it can
// be confirmed again.
func (e *Engine) Confirm(ctx context.Context, ch *Change, code string) ([]string, error) {
	if ch.Flow.State() != StateBackendAccepted {
		return nil, fmt.Errorf("change is %s, not awaiting a code", ch.Flow.State())
	}

	if code == "" {
		var err error
		code, err = e.prompt(ctx, Prompt{Type: ch.Type, Purpose: PurposeRequestCode, Secret: ch.Secret, URI: ch.URI})
		if err != nil {
			return nil, e.endChange(ch, err)
		}
	}
	if err := ch.Flow.Transition(StateUserConfirmedCode); err != nil {
		return nil, err
	}

	info := ch.Safe.SafeInfo()
	req := backend.MFACodeRequest{
		Owner: info.Owner,
		Index: backend.IndexString(info.Index),
		Type:  string(ch.Type),
		Code:  code,
		Safe:  info.Address,
	}

	var (
		success       bool
		recoveryCodes []string
		err           error
	)
	if ch.Remove {
		var res *backend.MFASuccessResult
		if res, err = e.backend.VerifyRemove(ctx, req); err == nil {
			success = res.Success
		}
	} else {
		var res *backend.MFAVerifyUpdateResult
		if res, err = e.backend.VerifyUpdate(ctx, req); err == nil {
			success, recoveryCodes = res.Success, res.RecoveryCodes
		}
	}
	if err != nil || !success {
		_ = ch.Flow.Transition(StateBackendAccepted)
		if err == nil {
			err = ErrInvalidCode
		}

		return nil, err
	}
	if err := ch.Flow.Transition(StateActive); err != nil {
		return nil, err
	}

	e.applyChange(ch)
	e.lggr.Infow("mfa change confirmed", "safe", info.Address.Hex(), "type", ch.Type, "remove", ch.Remove)

	return recoveryCodes, nil
}

// applyChange mirrors a confirmed change on the in-memory safe.
func (e *Engine) applyChange(ch *Change) {
	flags := &ch.Safe.SafeInfo().MFA
	on := !ch.Remove
	switch ch.Type {
	case TypeTotp:
		flags.Totp = on
	case TypePhone:
		flags.Phone = on
	case TypeEmail:
		flags.Email = on
	}
	if !flags.Any() {
		_ = e.TerminateToken(ch.Safe.SafeInfo().Address)
	}
}

// RegenerateRecoveryCodes replaces the TOTP recovery codes after a verified code and an owner
// signature.
func (e *Engine) RegenerateRecoveryCodes(ctx context.Context, s safe.Safe, signer provider.TypedDataSigner) ([]string, error) {
	if !s.SafeInfo().MFA.Totp {
		return nil, fmt.Errorf("%w: totp", ErrNoActiveFactor)
	}

	token, err := e.authorizeUpdate(ctx, s, signer)
	if err != nil {
		return nil, err
	}

	req, err := e.signedRequest(ctx, s, signer, PurposeRegenerateRecoveryCodes, TypeTotp, "")
	if err != nil {
		return nil, err
	}
	req.Token = token

	res, err := e.backend.RegenerateTotpRecoveryCodes(ctx, req)
	if err != nil {
		return nil, err
	}

	return res.RecoveryCodes, nil
}

// RemoveTotpWithRecoveryCode removes TOTP from the safe with a recovery code. It is the account
// recovery path: possession of the code is the only proof, no signature or step-up is involved.
func (e *Engine) RemoveTotpWithRecoveryCode(ctx context.Context, s safe.Safe, recoveryCode string) error {
	if recoveryCode == "" {
		return errors.New("recovery code is required")
	}

	info := s.SafeInfo()
	res, err := e.backend.RemoveTotpUsingRecoveryCode(ctx, backend.MFARecoveryRequest{
		Owner:        info.Owner,
		Index:        backend.IndexString(info.Index),
		RecoveryCode: recoveryCode,
	})
	if err != nil {
		return err
	}
	if !res.Success {
		return ErrInvalidCode
	}

	info.MFA.Totp = false
	if !info.MFA.Any() {
		_ = e.TerminateToken(info.Address)
	}

	return nil
}

// authorizeUpdate runs AuthVerify when the safe already has an active factor and returns the
// issued token.
func (e *Engine) authorizeUpdate(ctx context.Context, s safe.Safe, signer provider.TypedDataSigner) (string, error) {
	if !s.SafeInfo().MFA.Any() {
		return "", nil
	}

	res, err := e.AuthVerify(ctx, s, signer, Scope{})
	if err != nil {
		return "", err
	}

	return res.Token, nil
}

func (e *Engine) endChange(ch *Change, err error) error {
	if IsCancelled(err) {
		_ = ch.Flow.Transition(StateCancelled)
		e.lggr.Debugw("mfa change cancelled", "type", ch.Type)

		return ErrUserCancelled
	}
	_ = ch.Flow.Transition(StateFailed)

	return err
}
