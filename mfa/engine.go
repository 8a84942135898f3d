package mfa

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/raulk/clock"
	"github.com/shopspring/decimal"

	"github.com/avocado-safe/avocado-core/backend"
	"github.com/avocado-safe/avocado-core/chain/evm/provider"
	"github.com/avocado-safe/avocado-core/pkg/logger"
	"github.com/avocado-safe/avocado-core/safe"
	"github.com/avocado-safe/avocado-core/session"
)

const (
	DefaultMaxFallbackDepth = 3
	DefaultSignatureTTL     = 10 * time.Minute
	DefaultTokenTTL         = 30 * time.Minute
	DefaultAvocadoChainID   = 634
)

// Backend is the subset of the Avocado backend the engine calls.
type Backend interface {
	RequestCode(ctx context.Context, req backend.MFARequest) (*backend.MFARequestResult, error)
	VerifyCode(ctx context.Context, req backend.MFACodeRequest) (*backend.MFAVerifyResult, error)
	RequestTransactionCode(ctx context.Context, req backend.MFARequest) (*backend.MFARequestResult, error)
	RequestUpdate(ctx context.Context, req backend.MFARequest) (*backend.MFAUpdateResult, error)
	VerifyUpdate(ctx context.Context, req backend.MFACodeRequest) (*backend.MFAVerifyUpdateResult, error)
	RequestRemove(ctx context.Context, req backend.MFARequest) (*backend.MFASuccessResult, error)
	VerifyRemove(ctx context.Context, req backend.MFACodeRequest) (*backend.MFASuccessResult, error)
	RegenerateTotpRecoveryCodes(ctx context.Context, req backend.MFARequest) (*backend.MFARecoveryCodesResult, error)
	RemoveTotpUsingRecoveryCode(ctx context.Context, req backend.MFARecoveryRequest) (*backend.MFASuccessResult, error)
}

// Config configures an Engine.
type Config struct {
	AvocadoChainID   uint64
	MaxFallbackDepth int
	// SignatureTTL is the validity of signed purpose payloads.
	SignatureTTL time.Duration
	// TokenTTL is used when the backend issues a token without expiry.
	TokenTTL time.Duration
	// PromptTimeout bounds every code prompt. Zero waits for the caller context.
	PromptTimeout time.Duration
	// StepUpThreshold is the transaction value in USD from which step-up is required. Zero
	// requires step-up for every transaction of a safe with an active factor.
	StepUpThreshold decimal.Decimal
	Clock           clock.Clock
}

// Engine runs MFA flows.
type Engine struct {
	backend  Backend
	store    session.Store
	prompter CodePrompter
	cfg      Config
	lggr     logger.Logger
}

// NewEngine returns an Engine.
func NewEngine(b Backend, store session.Store, prompter CodePrompter, cfg Config, lggr logger.Logger) *Engine {
	if cfg.AvocadoChainID == 0 {
		cfg.AvocadoChainID = DefaultAvocadoChainID
	}
	if cfg.MaxFallbackDepth <= 0 {
		cfg.MaxFallbackDepth = DefaultMaxFallbackDepth
	}
	if cfg.SignatureTTL <= 0 {
		cfg.SignatureTTL = DefaultSignatureTTL
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = DefaultTokenTTL
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}

	return &Engine{backend: b, store: store, prompter: prompter, cfg: cfg, lggr: lggr.Named("mfa")}
}

// PreferredType returns the factor the user prefers, if it is active on the safe. Otherwise
// the first active factor is returned.
func (e *Engine) PreferredType(s safe.Safe) (Type, error) {
	active := ActiveTypes(s)
	if len(active) == 0 {
		return "", ErrNoActiveFactor
	}

	pref, err := e.store.Get(session.MFAPreferredTypeKey)
	if err == nil && slices.Contains(active, Type(pref)) {
		return Type(pref), nil
	}

	return active[0], nil
}

// SetPreferredType persists the preferred factor.
func (e *Engine) SetPreferredType(t Type) error {
	if !t.Valid() || t == TypeBackup {
		return ErrUnknownType
	}

	return e.store.Set(session.MFAPreferredTypeKey, string(t))
}

// AcceptTerms records the user accepted the MFA terms for the safe.
func (e *Engine) AcceptTerms(safeAddr common.Address) error {
	return e.store.Set(session.MFATermsAcceptedKey(safeAddr), "true")
}

// TermsAccepted reports whether the user accepted the MFA terms for the safe.
func (e *Engine) TermsAccepted(safeAddr common.Address) bool {
	v, err := e.store.Get(session.MFATermsAcceptedKey(safeAddr))
	return err == nil && v == "true"
}

// Token returns the session token of the safe if it has not expired.
func (e *Engine) Token(safeAddr common.Address) (string, bool) {
	token, err := e.store.Get(session.TransactionTokenKey(safeAddr))
	if err != nil || token == "" {
		return "", false
	}

	raw, err := e.store.Get(session.TransactionTokenExpiryKey(safeAddr))
	if err != nil {
		return "", false
	}
	expiry, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || !e.cfg.Clock.Now().Before(time.Unix(expiry, 0)) {
		return "", false
	}

	return token, true
}

// TerminateToken drops the session token of the safe.
func (e *Engine) TerminateToken(safeAddr common.Address) error {
	return e.store.Delete(session.TransactionTokenKey(safeAddr), session.TransactionTokenExpiryKey(safeAddr))
}

func (e *Engine) storeToken(safeAddr common.Address, res *backend.MFAVerifyResult) error {
	if res.Token == "" {
		return nil
	}

	expiry := e.cfg.Clock.Now().Add(e.cfg.TokenTTL)
	if res.ExpiresAt > 0 {
		expiry = time.Unix(res.ExpiresAt, 0)
	}

	if err := e.store.Set(session.TransactionTokenKey(safeAddr), res.Token); err != nil {
		return err
	}

	return e.store.Set(session.TransactionTokenExpiryKey(safeAddr), strconv.FormatInt(expiry.Unix(), 10))
}

// NeedsStepUp reports whether a transaction of valueUSD on the safe must pass step-up.
func (e *Engine) NeedsStepUp(s safe.Safe, valueUSD decimal.Decimal) bool {
	if !s.SafeInfo().MFA.Any() {
		return false
	}
	if e.cfg.StepUpThreshold.IsPositive() && valueUSD.LessThan(e.cfg.StepUpThreshold) {
		return false
	}
	_, ok := e.Token(s.SafeInfo().Address)

	return !ok
}

// StepUp returns a session token for transacting on the safe, verifying a code when no valid
// token is cached. It returns an empty token for safes without an active factor.
func (e *Engine) StepUp(ctx context.Context, s safe.Safe, signer provider.TypedDataSigner, chainID uint64) (string, error) {
	info := s.SafeInfo()
	if !info.MFA.Any() {
		return "", nil
	}
	if token, ok := e.Token(info.Address); ok {
		return token, nil
	}

	res, err := e.AuthVerify(ctx, s, signer, Scope{Transaction: true, ChainID: chainID})
	if err != nil {
		return "", err
	}

	return res.Token, nil
}

// Scope selects how AuthVerify requests codes.
type Scope struct {
	// Transaction requests a transaction code bound to ChainID.
	Transaction bool
	ChainID     uint64
}

// AuthVerify verifies a fresh code for the preferred factor of the safe. When the backend asks
// to fall back to another factor the flow restarts with it, at most MaxFallbackDepth times.
// Backup factors are never used.
func (e *Engine) AuthVerify(ctx context.Context, s safe.Safe, signer provider.TypedDataSigner, scope Scope) (*backend.MFAVerifyResult, error) {
	preferred, err := e.PreferredType(s)
	if err != nil {
		return nil, err
	}

	order := []Type{preferred}
	for _, t := range ActiveTypes(s) {
		if t != preferred {
			order = append(order, t)
		}
	}

	tried := map[Type]bool{}
	next := preferred
	for range e.cfg.MaxFallbackDepth {
		tried[next] = true
		flow := NewFlow()

		res, err := e.verifyOnce(ctx, s, signer, next, scope, flow)
		if err == nil {
			if err := e.storeToken(s.SafeInfo().Address, res); err != nil {
				return nil, fmt.Errorf("failed to store mfa token: %w", err)
			}

			return res, nil
		}
		if IsCancelled(err) {
			_ = flow.Transition(StateCancelled)
			e.lggr.Debugw("mfa verification cancelled", "type", next)

			return nil, ErrUserCancelled
		}
		_ = flow.Transition(StateFailed)

		fallback, ok := fallbackOf(err)
		if !ok {
			return nil, err
		}
		e.lggr.Infow("backend requested mfa fallback", "from", next, "to", fallback)

		next = ""
		if fallback != TypeBackup && fallback.Valid() && !tried[fallback] {
			next = fallback
		} else {
			for _, t := range order {
				if !tried[t] {
					next = t
					break
				}
			}
		}
		if next == "" {
			return nil, ErrMFAFallbackExhausted
		}
	}

	return nil, ErrMFAFallbackExhausted
}

// fallbackError carries a fallback factor signalled in a successful response body.
type fallbackError struct {
	typ Type
}

func (e fallbackError) Error() string {
	return fmt.Sprintf("backend requested fallback to %s", e.typ)
}

func fallbackOf(err error) (Type, bool) {
	var fe fallbackError
	if errors.As(err, &fe) {
		return fe.typ, true
	}
	if t, ok := backend.FallbackMFAFromError(err); ok {
		return Type(t), true
	}

	return "", false
}

func (e *Engine) verifyOnce(ctx context.Context, s safe.Safe, signer provider.TypedDataSigner, t Type, scope Scope, flow *Flow) (*backend.MFAVerifyResult, error) {
	info := s.SafeInfo()

	// TOTP codes come from the authenticator app, nothing has to be sent.
	if t != TypeTotp {
		req, err := e.signedRequest(ctx, s, signer, PurposeRequestCode, t, "")
		if err != nil {
			return nil, err
		}

		var res *backend.MFARequestResult
		if scope.Transaction {
			req.ChainID = strconv.FormatUint(scope.ChainID, 10)
			req.Safe = info.Address
			res, err = e.backend.RequestTransactionCode(ctx, req)
		} else {
			res, err = e.backend.RequestCode(ctx, req)
		}
		if err != nil {
			return nil, err
		}
		if res.FallbackMFA != nil && res.FallbackMFA.Type != "" {
			return nil, fallbackError{typ: Type(res.FallbackMFA.Type)}
		}
		if err := flow.Transition(StateRequested); err != nil {
			return nil, err
		}
	}

	code, err := e.prompt(ctx, Prompt{Type: t, Purpose: PurposeRequestCode})
	if err != nil {
		return nil, err
	}
	if err := flow.Transition(StateVerifying); err != nil {
		return nil, err
	}

	res, err := e.backend.VerifyCode(ctx, backend.MFACodeRequest{
		Owner: info.Owner,
		Index: backend.IndexString(info.Index),
		Type:  string(t),
		Code:  code,
		Safe:  info.Address,
	})
	if err != nil {
		return nil, err
	}
	if res.FallbackMFA != nil && res.FallbackMFA.Type != "" {
		return nil, fallbackError{typ: Type(res.FallbackMFA.Type)}
	}
	if !res.Success {
		return nil, ErrInvalidCode
	}
	if err := flow.Transition(StateVerified); err != nil {
		return nil, err
	}

	return res, nil
}

func (e *Engine) prompt(ctx context.Context, p Prompt) (string, error) {
	if e.prompter == nil {
		return "", errors.New("no code prompter configured")
	}
	if e.cfg.PromptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.PromptTimeout)
		defer cancel()
	}

	code, err := e.prompter.PromptCode(ctx, p)
	if err != nil {
		return "", err
	}
	if code == "" {
		return "", ErrUserCancelled
	}

	return code, nil
}

// signedRequest signs the purpose payload with the owner signer.
func (e *Engine) signedRequest(ctx context.Context, s safe.Safe, signer provider.TypedDataSigner, purpose Purpose, t Type, value string) (backend.MFARequest, error) {
	info := s.SafeInfo()
	if signer.Address() != info.Owner {
		return backend.MFARequest{}, fmt.Errorf("mfa requests must be signed by the owner %s, got %s", info.Owner.Hex(), signer.Address().Hex())
	}

	pd := PurposeData{
		Purpose: purpose,
		Owner:   info.Owner,
		Index:   info.Index,
		Type:    t,
		Value:   value,
		Expiry:  e.cfg.Clock.Now().Add(e.cfg.SignatureTTL),
	}
	td := pd.TypedData(e.cfg.AvocadoChainID)

	sig, err := signer.SignTypedData(ctx, &td)
	if err != nil {
		if errors.Is(err, provider.ErrUserRejected) {
			return backend.MFARequest{}, ErrUserCancelled
		}

		return backend.MFARequest{}, fmt.Errorf("failed to sign %s: %w", purpose, err)
	}

	return backend.MFARequest{
		Owner:     info.Owner,
		Index:     backend.IndexString(info.Index),
		Type:      string(t),
		Value:     value,
		Message:   td.Message,
		Signature: sig,
	}, nil
}
