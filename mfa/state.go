package mfa

import (
	"fmt"
	"slices"
	"sync"
)

// State is the state of an MFA flow.
type State int

const (
	StateIdle State = iota
	StateRequested
	StateVerifying
	StateVerified
	StateExpired
	StateSignatureCollected
	StateBackendAccepted
	StateUserConfirmedCode
	StateActive
	StateFailed
	StateCancelled
)

var stateNames = map[State]string{
	StateIdle:               "idle",
	StateRequested:          "requested",
	StateVerifying:          "verifying",
	StateVerified:           "verified",
	StateExpired:            "expired",
	StateSignatureCollected: "signature-collected",
	StateBackendAccepted:    "backend-accepted",
	StateUserConfirmedCode:  "user-confirmed-code",
	StateActive:             "active",
	StateFailed:             "failed",
	StateCancelled:          "cancelled",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}

	return fmt.Sprintf("state(%d)", int(s))
}

// Verification runs Idle, Requested, Verifying, Verified and finally Expired. Activation runs
// Idle, SignatureCollected, BackendAccepted, UserConfirmedCode, Active. Both may fail or be
// cancelled from any non-terminal state, and a failed code may be retried.
var transitions = map[State][]State{
	StateIdle:               {StateRequested, StateVerifying, StateSignatureCollected},
	StateRequested:          {StateVerifying, StateRequested},
	StateVerifying:          {StateVerified, StateRequested},
	StateVerified:           {StateExpired},
	StateExpired:            {StateIdle},
	StateSignatureCollected: {StateBackendAccepted},
	StateBackendAccepted:    {StateUserConfirmedCode, StateBackendAccepted},
	StateUserConfirmedCode:  {StateActive, StateBackendAccepted},
	StateActive:             {},
	StateFailed:             {StateIdle},
	StateCancelled:          {StateIdle},
}

// Flow tracks the state of one MFA flow and rejects illegal transitions.
type Flow struct {
	mu      sync.Mutex
	state   State
	history []State
}

// NewFlow returns a flow in StateIdle.
func NewFlow() *Flow {
	return &Flow{state: StateIdle, history: []State{StateIdle}}
}

// State returns the current state.
func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.state
}

// History returns every state the flow went through.
func (f *Flow) History() []State {
	f.mu.Lock()
	defer f.mu.Unlock()

	return slices.Clone(f.history)
}

// Transition moves the flow to next.
func (f *Flow) Transition(next State) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !canTransition(f.state, next) {
		return fmt.Errorf("illegal mfa transition %s -> %s", f.state, next)
	}
	f.state = next
	f.history = append(f.history, next)

	return nil
}

func canTransition(from, to State) bool {
	if to == StateFailed || to == StateCancelled {
		return from != StateActive && from != StateFailed && from != StateCancelled
	}

	return slices.Contains(transitions[from], to)
}
