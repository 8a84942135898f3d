// Package multisig orchestrates signing, quorum tracking and execution of safe casts.
//
// Legacy safes sign and broadcast in one step. Multisig casts become proposals stored by the
// proposals API: every signer rebuilds the identical cast, adds a confirmation, and once the
// confirmations reach the on-chain threshold the proposal is executed exactly once.
package multisig

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/raulk/clock"
	"github.com/shopspring/decimal"
	mcmstypes "github.com/smartcontractkit/mcms/types"

	"github.com/avocado-safe/avocado-core/backend"
	"github.com/avocado-safe/avocado-core/chain/evm"
	"github.com/avocado-safe/avocado-core/chain/evm/provider"
	"github.com/avocado-safe/avocado-core/mfa"
	"github.com/avocado-safe/avocado-core/payload"
	"github.com/avocado-safe/avocado-core/payload/metadata"
	"github.com/avocado-safe/avocado-core/pkg/logger"
	"github.com/avocado-safe/avocado-core/safe"
	"github.com/avocado-safe/avocado-core/session"
	"github.com/avocado-safe/avocado-core/signers"
)

// DefaultPollInterval is the proposal polling interval of WaitForQuorum.
const DefaultPollInterval = 5 * time.Second

var (
	ErrAlreadyBroadcast = errors.New("proposal was already broadcast")
	ErrNonceConsumed    = errors.New("safe nonce was already consumed")
	ErrQuorumNotReached = errors.New("proposal has not reached quorum")
	ErrNotSigner        = errors.New("account is not a signer of the safe on this chain")
	ErrDigestMismatch   = errors.New("rebuilt cast does not match the proposal hash")
	ErrProposalClosed   = errors.New("proposal is closed")
)

// Builder builds and signs casts.
type Builder interface {
	AvocadoChainID() uint64
	BuildAndSign(ctx context.Context, s safe.Safe, req payload.Request, signer provider.TypedDataSigner) (*payload.TypedData, []byte, error)
	Release(s safe.Safe, chainID uint64, nonce *big.Int)
}

// Resolver resolves the threshold of a safe.
type Resolver interface {
	ForChain(ctx context.Context, s safe.Safe, chainID uint64) signers.RequiredSigners
	InvalidateAll()
}

// Proposals stores proposals and their confirmations.
type Proposals interface {
	Create(ctx context.Context, safe common.Address, req backend.CreateProposalRequest) (*backend.Proposal, error)
	Confirm(ctx context.Context, safe common.Address, id string, req backend.ConfirmProposalRequest) (*backend.Proposal, error)
	Get(ctx context.Context, safe common.Address, id string) (*backend.Proposal, error)
	Update(ctx context.Context, safe common.Address, id string, req backend.UpdateProposalRequest) (*backend.Proposal, error)
}

// Broadcaster submits signed casts.
type Broadcaster interface {
	Broadcast(ctx context.Context, params backend.BroadcastParams) (common.Hash, error)
	MultisigBroadcast(ctx context.Context, params backend.BroadcastParams) (common.Hash, error)
}

// StepUp gates signing behind MFA.
type StepUp interface {
	NeedsStepUp(s safe.Safe, valueUSD decimal.Decimal) bool
	StepUp(ctx context.Context, s safe.Safe, signer provider.TypedDataSigner, chainID uint64) (string, error)
	Token(safeAddr common.Address) (string, bool)
	TerminateToken(safeAddr common.Address) error
}

// Deps are the services an Orchestrator drives. MFA and Store are optional.
type Deps struct {
	Builder     Builder
	Resolver    Resolver
	Proposals   Proposals
	Broadcaster Broadcaster
	MFA         StepUp
	Store       session.Store
}

// Config configures an Orchestrator.
type Config struct {
	PollInterval time.Duration
	Clock        clock.Clock
	// ChainName names chains in errors. Nil uses the chain-selectors name.
	ChainName func(chainID uint64) string
	Metrics   *Metrics
}

// Request describes a cast to submit.
type Request struct {
	ChainID  uint64
	Actions  []safe.Action
	Metadata []byte
	// Nonce overrides the live nonce read.
	Nonce      *big.Int
	IsGasTopup bool
	// ValueUSD is compared against the MFA step-up threshold.
	ValueUSD decimal.Decimal
	Options  payload.Options
}

// Result is the outcome of an orchestration call. A user declining a prompt yields Cancelled
// and no error.
type Result struct {
	Success         bool
	Cancelled       bool
	State           State
	Proposal        *backend.Proposal
	TransactionHash common.Hash
}

// Orchestrator drives casts from signing to execution.
type Orchestrator struct {
	builder     Builder
	resolver    Resolver
	proposals   Proposals
	broadcaster Broadcaster
	mfa         StepUp
	store       session.Store
	cfg         Config
	lggr        logger.Logger

	mu      sync.Mutex
	tracked map[string]*tracked
	safes   map[common.Address]struct{}
}

// New returns an Orchestrator.
func New(deps Deps, cfg Config, lggr logger.Logger) (*Orchestrator, error) {
	if deps.Builder == nil || deps.Resolver == nil || deps.Proposals == nil || deps.Broadcaster == nil {
		return nil, errors.New("builder, resolver, proposals and broadcaster are required")
	}
	if deps.Store == nil {
		deps.Store = session.NewMemoryStore()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.ChainName == nil {
		cfg.ChainName = evm.Chains{}.Name
	}
	if cfg.Metrics == nil {
		m, err := NewMetrics(nil)
		if err != nil {
			return nil, err
		}
		cfg.Metrics = m
	}

	return &Orchestrator{
		builder:     deps.Builder,
		resolver:    deps.Resolver,
		proposals:   deps.Proposals,
		broadcaster: deps.Broadcaster,
		mfa:         deps.MFA,
		store:       deps.Store,
		cfg:         cfg,
		lggr:        lggr.Named("multisig"),
		tracked:     map[string]*tracked{},
		safes:       map[common.Address]struct{}{},
	}, nil
}

// Submit signs a new cast. Legacy safes broadcast it right away. Multisig safes store it as a
// proposal carrying the first confirmation.
func (o *Orchestrator) Submit(ctx context.Context, s safe.Safe, signer provider.TypedDataSigner, req Request) (Result, error) {
	return o.submit(ctx, s, signer, req, "")
}

// Reject proposes a no-op cast at the nonce of p. Executing it consumes the nonce so p can
// never execute.
func (o *Orchestrator) Reject(ctx context.Context, s safe.Safe, signer provider.TypedDataSigner, p *backend.Proposal) (Result, error) {
	if _, ok := s.(*safe.Multisig); !ok {
		return Result{}, errors.New("only multisig proposals can be rejected")
	}
	if p.RejectionOf != "" {
		return Result{}, fmt.Errorf("proposal %s is already a rejection", p.ID)
	}
	if st, _ := o.observe(p); st.Terminal() {
		return Result{State: st}, fmt.Errorf("proposal %s: %w", p.ID, ErrProposalClosed)
	}

	md, err := metadata.Encode(metadata.Rejection{ProposalID: p.ID})
	if err != nil {
		return Result{}, err
	}

	return o.submit(ctx, s, signer, Request{
		ChainID:  p.ChainID,
		Actions:  []safe.Action{{Target: s.SafeInfo().Address, Value: new(big.Int)}},
		Metadata: md,
		Nonce:    big.NewInt(p.Nonce),
	}, p.ID)
}

func (o *Orchestrator) submit(ctx context.Context, s safe.Safe, signer provider.TypedDataSigner, req Request, rejectionOf string) (Result, error) {
	info := s.SafeInfo()
	o.remember(info.Address)

	if !info.IsSigner(req.ChainID, signer.Address()) {
		return Result{}, o.chainErr(req.ChainID, ErrNotSigner)
	}

	token, cancelled, err := o.stepUp(ctx, s, signer, req.ChainID, req.ValueUSD)
	if err != nil {
		return Result{}, err
	}
	if cancelled {
		return Result{Cancelled: true, State: StateDraft}, nil
	}

	opts := req.Options
	if req.Nonce != nil {
		opts.Nonce = req.Nonce
	}
	if req.Metadata != nil {
		opts.Metadata = req.Metadata
	}

	td, sig, err := o.builder.BuildAndSign(ctx, s, payload.Request{ChainID: req.ChainID, Actions: req.Actions, Options: opts}, signer)
	if err != nil {
		if mfa.IsCancelled(err) {
			o.lggr.Debugw("signature declined", "safe", info.Address.Hex(), "chainID", req.ChainID)
			return Result{Cancelled: true, State: StateAwaitingFirstSignature}, nil
		}

		return Result{}, o.chainErr(req.ChainID, fmt.Errorf("failed to build cast: %w", err))
	}
	sig, err = canonicalSignature(sig)
	if err != nil {
		return Result{}, o.chainErr(req.ChainID, err)
	}
	if rejectionOf == "" {
		o.checkNonce(signer.Address(), req.ChainID, td.Input.Nonce)
	}

	var res Result
	switch v := s.(type) {
	case *safe.Legacy:
		res, err = o.broadcastLegacy(ctx, v, signer.Address(), td, sig, token)
	case *safe.Multisig:
		res, err = o.propose(ctx, v, signer.Address(), td, sig, token, req.IsGasTopup, rejectionOf)
	default:
		err = fmt.Errorf("unsupported safe kind %s", s.Kind())
	}
	if err != nil && opts.Nonce == nil {
		o.builder.Release(s, req.ChainID, td.Input.Nonce)
	}

	return res, err
}

func (o *Orchestrator) broadcastLegacy(ctx context.Context, s *safe.Legacy, signer common.Address, td *payload.TypedData, sig []byte, token string) (Result, error) {
	chainID := td.Input.ChainID
	hash, err := o.broadcaster.Broadcast(ctx, backend.BroadcastParams{
		Signatures:    []backend.SignatureParams{{Signature: sig, Signer: signer}},
		Message:       td.Message(),
		Owner:         s.Owner,
		Safe:          s.Address,
		Index:         backend.IndexString(s.Index),
		TargetChainID: strconv.FormatUint(chainID, 10),
		Token:         token,
	})
	if err != nil {
		return Result{State: StateFailed}, o.chainErr(chainID, o.broadcastErr(err))
	}

	o.cfg.Metrics.broadcast("success")
	o.cfg.Metrics.proposal(StateConfirmed)
	o.lggr.Infow("cast broadcast", "safe", s.Address.Hex(), "chainID", chainID, "nonce", td.Input.Nonce, "tx", hash.Hex())

	return Result{Success: true, State: StateConfirmed, TransactionHash: hash}, nil
}

func (o *Orchestrator) propose(ctx context.Context, s *safe.Multisig, signer common.Address, td *payload.TypedData, sig []byte, token string, gasTopup bool, rejectionOf string) (Result, error) {
	chainID := td.Input.ChainID
	rs := o.resolver.ForChain(ctx, s, chainID)
	if rs.Err != nil {
		o.lggr.Warnw("threshold read failed, proposing with the fail-open threshold",
			"safe", s.Address.Hex(), "chainID", chainID, "requiredSigners", rs.RequiredSignerCount, "err", rs.Err)
	}

	p, err := o.proposals.Create(ctx, s.Address, backend.CreateProposalRequest{
		ChainID:               chainID,
		Nonce:                 td.Input.Nonce.Int64(),
		Owner:                 s.Owner,
		Data:                  td.ProposalData(),
		Hash:                  td.Digest,
		Signer:                signer,
		Signature:             sig,
		ConfirmationsRequired: rs.RequiredSignerCount,
		RejectionOf:           rejectionOf,
		IsGasTopup:            gasTopup,
		Token:                 token,
	})
	if err != nil {
		return Result{}, o.chainErr(chainID, fmt.Errorf("failed to create proposal: %w", err))
	}

	st, snap := o.observe(p, o.confirmation(signer, sig))
	o.lggr.Infow("proposal created",
		"id", p.ID, "safe", s.Address.Hex(), "chainID", chainID, "nonce", p.Nonce, "state", st, "rejectionOf", rejectionOf)

	return Result{Success: true, State: st, Proposal: snap}, nil
}

// Confirm adds the signature of signer to p. The cast is rebuilt from the proposal data and
// must hash to the proposal hash. Confirming twice is a no-op.
func (o *Orchestrator) Confirm(ctx context.Context, s safe.Safe, signer provider.TypedDataSigner, p *backend.Proposal) (Result, error) {
	info := s.SafeInfo()
	o.remember(info.Address)

	if p.SafeAddress != info.Address {
		return Result{}, fmt.Errorf("proposal %s belongs to safe %s", p.ID, p.SafeAddress.Hex())
	}
	st, snap := o.observe(p)
	if st.Terminal() || st == StateBroadcasting {
		return Result{State: st, Proposal: snap}, fmt.Errorf("proposal %s: %w", p.ID, ErrProposalClosed)
	}
	if !info.IsSigner(p.ChainID, signer.Address()) {
		return Result{}, o.chainErr(p.ChainID, ErrNotSigner)
	}
	if slices.ContainsFunc(snap.Confirmations, func(c backend.Confirmation) bool { return c.Address == signer.Address() }) {
		return Result{Success: true, State: st, Proposal: snap}, nil
	}

	td, err := payload.FromProposal(p, o.builder.AvocadoChainID())
	if err != nil {
		return Result{}, o.chainErr(p.ChainID, err)
	}
	if p.Hash != (common.Hash{}) && td.Digest != p.Hash {
		return Result{}, o.chainErr(p.ChainID, fmt.Errorf("proposal %s: %w: got %s, want %s", p.ID, ErrDigestMismatch, td.Digest.Hex(), p.Hash.Hex()))
	}

	token, cancelled, err := o.stepUp(ctx, s, signer, p.ChainID, decimal.Zero)
	if err != nil {
		return Result{}, err
	}
	if cancelled {
		return Result{Cancelled: true, State: st, Proposal: snap}, nil
	}

	sig, err := payload.Sign(ctx, td, signer)
	if err != nil {
		if mfa.IsCancelled(err) {
			o.lggr.Debugw("confirmation declined", "id", p.ID)
			return Result{Cancelled: true, State: st, Proposal: snap}, nil
		}

		return Result{}, o.chainErr(p.ChainID, err)
	}
	sig, err = canonicalSignature(sig)
	if err != nil {
		return Result{}, o.chainErr(p.ChainID, err)
	}

	updated, err := o.proposals.Confirm(ctx, info.Address, p.ID, backend.ConfirmProposalRequest{
		Signer:    signer.Address(),
		Signature: sig,
		Token:     token,
	})
	if err != nil {
		return Result{}, o.chainErr(p.ChainID, fmt.Errorf("failed to confirm proposal %s: %w", p.ID, err))
	}

	st, snap = o.observe(updated, o.confirmation(signer.Address(), sig))
	o.lggr.Infow("proposal confirmed", "id", p.ID, "signer", signer.Address().Hex(), "confirmations", len(snap.Confirmations), "state", st)

	return Result{Success: true, State: st, Proposal: snap}, nil
}

// WaitForQuorum polls the proposal until it is executable or closed. Poll failures are logged
// and retried on the next tick.
func (o *Orchestrator) WaitForQuorum(ctx context.Context, safeAddr common.Address, id string) (Result, error) {
	ticker := o.cfg.Clock.Ticker(o.cfg.PollInterval)
	defer ticker.Stop()

	for {
		p, err := o.proposals.Get(ctx, safeAddr, id)
		if err != nil {
			o.lggr.Warnw("failed to poll proposal", "id", id, "err", err)
		} else if st, snap := o.observe(p); st >= StateExecutable {
			return Result{Success: st != StateFailed && st != StateRejected, State: st, Proposal: snap}, nil
		}

		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// State returns the local state of a proposal.
func (o *Orchestrator) State(id string) (State, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	t, ok := o.tracked[id]
	if !ok {
		return StateDraft, false
	}

	return t.state, true
}

func (o *Orchestrator) stepUp(ctx context.Context, s safe.Safe, signer provider.TypedDataSigner, chainID uint64, valueUSD decimal.Decimal) (string, bool, error) {
	if o.mfa == nil {
		return "", false, nil
	}
	info := s.SafeInfo()
	// MFA factors belong to the owner, other signers are not gated.
	if signer.Address() != info.Owner || !o.mfa.NeedsStepUp(s, valueUSD) {
		token, _ := o.mfa.Token(info.Address)
		return token, false, nil
	}

	token, err := o.mfa.StepUp(ctx, s, signer, chainID)
	if err != nil {
		if mfa.IsCancelled(err) {
			o.lggr.Debugw("mfa step-up cancelled", "safe", info.Address.Hex())
			return "", true, nil
		}

		return "", false, o.chainErr(chainID, fmt.Errorf("mfa step-up failed: %w", err))
	}

	return token, false, nil
}

// checkNonce warns when the account signs a second cast on the same nonce, which leaves only
// one of them executable.
func (o *Orchestrator) checkNonce(account common.Address, chainID uint64, nonce *big.Int) {
	if nonce == nil || nonce.Sign() < 0 {
		return
	}

	key := session.NonceKey(account)
	cur := strconv.FormatUint(chainID, 10) + ":" + nonce.String()
	if prev, err := o.store.Get(key); err == nil && prev == cur {
		o.lggr.Warnw("account already signed a cast on this nonce", "account", account.Hex(), "chainID", chainID, "nonce", nonce)
	}
	if err := o.store.Set(key, cur); err != nil {
		o.lggr.Warnw("failed to persist signed nonce", "account", account.Hex(), "err", err)
	}
}

func (o *Orchestrator) observe(p *backend.Proposal, own ...backend.Confirmation) (State, *backend.Proposal) {
	o.mu.Lock()
	defer o.mu.Unlock()

	t, ok := o.tracked[p.ID]
	if !ok {
		t = &tracked{}
		o.tracked[p.ID] = t
	}
	before := t.state

	merged := *p
	merged.Confirmations = append(slices.Clone(p.Confirmations), own...)
	t.observe(&merged)
	if !ok || t.state != before {
		o.cfg.Metrics.proposal(t.state)
	}

	return t.state, t.snapshot()
}

func (o *Orchestrator) confirmation(signer common.Address, sig []byte) backend.Confirmation {
	return backend.Confirmation{Address: signer, Signature: sig, CreatedAt: o.cfg.Clock.Now()}
}

func (o *Orchestrator) remember(addr common.Address) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.safes[addr] = struct{}{}
}

func (o *Orchestrator) chainErr(chainID uint64, err error) error {
	return fmt.Errorf("chain %s (%d): %w", o.cfg.ChainName(chainID), chainID, err)
}

func (o *Orchestrator) broadcastErr(err error) error {
	if backend.IsNonceConsumed(err) {
		o.cfg.Metrics.broadcast("nonce_consumed")
		return fmt.Errorf("%w: %w", ErrNonceConsumed, err)
	}
	o.cfg.Metrics.broadcast("error")

	return fmt.Errorf("failed to broadcast: %w", err)
}

// canonicalSignature checks sig is a 65 byte signature and returns it with v in {27, 28}.
func canonicalSignature(sig []byte) ([]byte, error) {
	s, err := mcmstypes.NewSignatureFromBytes(sig)
	if err != nil {
		return nil, fmt.Errorf("invalid signature: %w", err)
	}
	if s.V < 27 {
		s.V += 27
	}
	if s.V != 27 && s.V != 28 {
		return nil, fmt.Errorf("invalid signature recovery id %d", s.V)
	}

	return s.ToBytes(), nil
}
