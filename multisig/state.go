package multisig

import (
	"bytes"
	"fmt"
	"slices"

	"github.com/ethereum/go-ethereum/common"

	"github.com/avocado-safe/avocado-core/backend"
)

// State is the orchestration state of a proposal.
type State int

const (
	StateDraft State = iota
	StateAwaitingFirstSignature
	StatePending
	StateExecutable
	StateBroadcasting
	StateConfirmed
	StateFailed
	StateRejected
)

var stateNames = map[State]string{
	StateDraft:                  "draft",
	StateAwaitingFirstSignature: "awaiting-first-signature",
	StatePending:                "pending",
	StateExecutable:             "executable",
	StateBroadcasting:           "broadcasting",
	StateConfirmed:              "confirmed",
	StateFailed:                 "failed",
	StateRejected:               "rejected",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}

	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateConfirmed || s == StateFailed || s == StateRejected
}

// stateOf maps a stored proposal to a state. A pending proposal whose confirmations reached the
// requirement is executable.
func stateOf(p *backend.Proposal) State {
	switch p.Status {
	case backend.ProposalStatusExecutable:
		return StateExecutable
	case backend.ProposalStatusBroadcasting:
		return StateBroadcasting
	case backend.ProposalStatusSuccess:
		return StateConfirmed
	case backend.ProposalStatusFailed:
		return StateFailed
	case backend.ProposalStatusRejected:
		return StateRejected
	}

	if quorum(len(p.Confirmations), p.ConfirmationsRequired) {
		return StateExecutable
	}
	if len(p.Confirmations) == 0 {
		return StateAwaitingFirstSignature
	}

	return StatePending
}

func quorum(confirmations, required int) bool {
	return confirmations >= max(required, 1)
}

// merge advances from with an observed state. Terminal states are final and a proposal never
// moves back once it reached quorum.
func merge(from, observed State) State {
	if from.Terminal() {
		return from
	}
	if observed.Terminal() {
		return observed
	}

	return max(from, observed)
}

// tracked is the local view of a proposal. Confirmations only grow.
type tracked struct {
	state         State
	proposal      backend.Proposal
	confirmations map[common.Address]backend.Confirmation
}

// observe merges a fetched proposal into the local view.
func (t *tracked) observe(p *backend.Proposal) {
	if t.confirmations == nil {
		t.confirmations = map[common.Address]backend.Confirmation{}
	}
	for _, c := range p.Confirmations {
		if _, ok := t.confirmations[c.Address]; !ok {
			t.confirmations[c.Address] = c
		}
	}

	required := max(p.ConfirmationsRequired, t.proposal.ConfirmationsRequired)
	t.proposal = *p
	t.proposal.ConfirmationsRequired = required
	t.proposal.Confirmations = t.sortedConfirmations()

	observed := stateOf(p)
	if quorum(len(t.confirmations), t.proposal.ConfirmationsRequired) && observed < StateExecutable {
		observed = StateExecutable
	}
	t.state = merge(t.state, observed)
}

// sortedConfirmations returns the confirmations ordered by signer address, the order the safe
// expects signatures in.
func (t *tracked) sortedConfirmations() []backend.Confirmation {
	out := make([]backend.Confirmation, 0, len(t.confirmations))
	for _, c := range t.confirmations {
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b backend.Confirmation) int {
		return bytes.Compare(a.Address.Bytes(), b.Address.Bytes())
	})

	return out
}

func (t *tracked) snapshot() *backend.Proposal {
	p := t.proposal
	p.Confirmations = slices.Clone(t.proposal.Confirmations)
	p.Signers = slices.Clone(t.proposal.Signers)

	return &p
}
