package multisig

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/avocado-safe/avocado-core/backend"
	"github.com/avocado-safe/avocado-core/payload"
	"github.com/avocado-safe/avocado-core/safe"
)

// Execute broadcasts an executable proposal. Within one Orchestrator a proposal is broadcast at
// most once: concurrent or repeated calls get ErrAlreadyBroadcast. A broadcast rejected because
// the nonce is consumed fails with ErrNonceConsumed, and with ErrAlreadyBroadcast too when the
// proposal itself was executed elsewhere.
func (o *Orchestrator) Execute(ctx context.Context, s safe.Safe, id string) (Result, error) {
	info := s.SafeInfo()
	o.remember(info.Address)

	p, err := o.proposals.Get(ctx, info.Address, id)
	if err != nil {
		return Result{}, fmt.Errorf("failed to fetch proposal %s: %w", id, err)
	}

	st, snap := o.observe(p)
	switch {
	case st == StateBroadcasting || st == StateConfirmed:
		o.cfg.Metrics.broadcast("duplicate")
		return Result{State: st, Proposal: snap}, fmt.Errorf("proposal %s: %w", id, ErrAlreadyBroadcast)
	case st.Terminal():
		return Result{State: st, Proposal: snap}, fmt.Errorf("proposal %s: %w", id, ErrProposalClosed)
	case st < StateExecutable:
		return Result{State: st, Proposal: snap}, fmt.Errorf("proposal %s has %d of %d confirmations: %w",
			id, len(snap.Confirmations), snap.ConfirmationsRequired, ErrQuorumNotReached)
	}

	snap, ok := o.begin(id)
	if !ok {
		o.cfg.Metrics.broadcast("duplicate")
		return Result{State: StateBroadcasting}, fmt.Errorf("proposal %s: %w", id, ErrAlreadyBroadcast)
	}
	chainID := snap.ChainID

	td, err := payload.FromProposal(snap, o.builder.AvocadoChainID())
	if err != nil {
		o.abort(id)
		return Result{State: StateExecutable, Proposal: snap}, o.chainErr(chainID, err)
	}

	sigs := o.signatures(info, td, snap)
	if !quorum(len(sigs), snap.ConfirmationsRequired) {
		o.abort(id)
		return Result{State: StateExecutable, Proposal: snap}, o.chainErr(chainID,
			fmt.Errorf("proposal %s has %d valid signatures of %d: %w", id, len(sigs), snap.ConfirmationsRequired, ErrQuorumNotReached))
	}

	var token string
	if o.mfa != nil {
		token, _ = o.mfa.Token(info.Address)
	}

	hash, err := o.broadcaster.MultisigBroadcast(ctx, backend.BroadcastParams{
		Signatures:    sigs,
		Message:       td.Message(),
		Owner:         info.Owner,
		Safe:          info.Address,
		Index:         backend.IndexString(info.Index),
		TargetChainID: strconv.FormatUint(chainID, 10),
		ProposalID:    id,
		Token:         token,
	})
	if err != nil {
		err = o.broadcastErr(err)
		if errors.Is(err, ErrNonceConsumed) {
			return o.nonceConsumed(ctx, info.Address, snap, err)
		}
		o.abort(id)

		return Result{State: StateExecutable, Proposal: snap}, o.chainErr(chainID, err)
	}

	o.cfg.Metrics.broadcast("success")
	o.finish(id, StateConfirmed)
	o.report(ctx, info.Address, id, backend.ProposalStatusSuccess, hash.Hex())
	if snap.RejectionOf != "" {
		o.finish(snap.RejectionOf, StateRejected)
		o.report(ctx, info.Address, snap.RejectionOf, backend.ProposalStatusRejected, "")
	}
	o.lggr.Infow("proposal executed", "id", id, "safe", info.Address.Hex(), "chainID", chainID, "nonce", snap.Nonce, "tx", hash.Hex())

	snap.Status = backend.ProposalStatusSuccess
	snap.TransactionHash = hash.Hex()

	return Result{Success: true, State: StateConfirmed, Proposal: snap, TransactionHash: hash}, nil
}

// nonceConsumed settles a proposal whose broadcast hit a consumed nonce. The stored proposal
// decides: an outcome recorded elsewhere stands and is never overwritten. Only a proposal still
// open there lost its nonce to another cast and is reported failed.
func (o *Orchestrator) nonceConsumed(ctx context.Context, safeAddr common.Address, snap *backend.Proposal, cause error) (Result, error) {
	id, chainID := snap.ID, snap.ChainID

	p, err := o.proposals.Get(ctx, safeAddr, id)
	if err != nil {
		o.abort(id)
		o.lggr.Warnw("failed to fetch proposal after its nonce was consumed", "id", id, "err", err)

		return Result{State: StateExecutable, Proposal: snap}, o.chainErr(chainID, cause)
	}

	switch p.Status {
	case backend.ProposalStatusBroadcasting, backend.ProposalStatusSuccess:
		st, cur := o.observe(p)
		o.cfg.Metrics.broadcast("duplicate")
		o.lggr.Infow("proposal was executed elsewhere", "id", id, "status", p.Status, "tx", p.TransactionHash)

		return Result{State: st, Proposal: cur}, o.chainErr(chainID, fmt.Errorf("proposal %s: %w: %w", id, ErrAlreadyBroadcast, cause))
	case backend.ProposalStatusFailed, backend.ProposalStatusRejected:
		st, cur := o.observe(p)

		return Result{State: st, Proposal: cur}, o.chainErr(chainID, fmt.Errorf("proposal %s: %w: %w", id, ErrProposalClosed, cause))
	}

	o.finish(id, StateFailed)
	o.report(ctx, safeAddr, id, backend.ProposalStatusFailed, "")

	return Result{State: StateFailed, Proposal: snap}, o.chainErr(chainID, cause)
}

// begin moves an executable proposal to broadcasting.
func (o *Orchestrator) begin(id string) (*backend.Proposal, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	t, ok := o.tracked[id]
	if !ok || t.state != StateExecutable {
		return nil, false
	}
	t.state = StateBroadcasting
	o.cfg.Metrics.proposal(StateBroadcasting)

	return t.snapshot(), true
}

// abort returns a proposal whose broadcast did not go out to executable.
func (o *Orchestrator) abort(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if t, ok := o.tracked[id]; ok && t.state == StateBroadcasting {
		t.state = StateExecutable
	}
}

func (o *Orchestrator) finish(id string, st State) {
	o.mu.Lock()
	defer o.mu.Unlock()

	t, ok := o.tracked[id]
	if !ok {
		t = &tracked{}
		o.tracked[id] = t
	}
	if !t.state.Terminal() {
		t.state = st
		o.cfg.Metrics.proposal(st)
	}
}

// signatures returns the confirmations that recover to a signer of the safe, ordered by signer.
func (o *Orchestrator) signatures(info *safe.Info, td *payload.TypedData, p *backend.Proposal) []backend.SignatureParams {
	out := make([]backend.SignatureParams, 0, len(p.Confirmations))
	for _, c := range p.Confirmations {
		recovered, err := td.Recover(c.Signature)
		if err != nil || recovered != c.Address || !info.IsSigner(p.ChainID, c.Address) {
			o.lggr.Warnw("dropping invalid confirmation", "id", p.ID, "signer", c.Address.Hex(), "err", err)
			continue
		}
		out = append(out, backend.SignatureParams{Signature: c.Signature, Signer: c.Address})
	}

	return out
}

// report records a broadcast outcome on the proposals API. The broadcast already happened, so
// failures are only logged.
func (o *Orchestrator) report(ctx context.Context, safeAddr common.Address, id, status, txHash string) {
	_, err := o.proposals.Update(ctx, safeAddr, id, backend.UpdateProposalRequest{Status: status, TransactionHash: txHash})
	if err != nil {
		o.lggr.Warnw("failed to record proposal outcome", "id", id, "status", status, "err", err)
	}
}
