// Package mfa implements the multi-factor step-up that gates sensitive safe operations.
//
// Every state-changing MFA request carries an owner signature over a purpose-bound payload.
// Safes with a verified factor must pass AuthVerify before activating or removing factors or
// transacting without a valid session token. A user cancelling a signature or a code prompt
// ends the flow with ErrUserCancelled, which callers treat as a silent no-op.
package mfa

import (
	"context"
	"errors"

	"github.com/avocado-safe/avocado-core/chain/evm/provider"
	"github.com/avocado-safe/avocado-core/safe"
)

// Type is an MFA factor.
type Type string

const (
	TypeTotp   Type = "totp"
	TypePhone  Type = "phone"
	TypeEmail  Type = "email"
	TypeBackup Type = "backup"
)

// ServerType is the numeric factor id used by the backend.
func (t Type) ServerType() int {
	switch t {
	case TypeTotp:
		return 1
	case TypePhone:
		return 2
	case TypeEmail:
		return 3
	case TypeBackup:
		return 4
	default:
		return 0
	}
}

// Valid reports whether t is a known factor.
func (t Type) Valid() bool {
	return t.ServerType() != 0
}

// Factor is a factor and whether the safe has it activated.
type Factor struct {
	Type      Type
	Activated bool
}

var (
	// ErrUserCancelled ends a flow the user abandoned. It is not a failure.
	ErrUserCancelled = errors.New("mfa flow cancelled by the user")
	// ErrMFAFallbackExhausted is returned when every factor was tried.
	ErrMFAFallbackExhausted = errors.New("no remaining mfa factor to fall back to")
	ErrNoActiveFactor       = errors.New("safe has no active mfa factor")
	ErrTermsNotAccepted     = errors.New("mfa terms have not been accepted")
	ErrInvalidCode          = errors.New("invalid mfa code")
	ErrUnknownType          = errors.New("unknown mfa type")
)

// IsCancelled reports whether err ends a flow silently.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrUserCancelled) || errors.Is(err, provider.ErrUserRejected)
}

// Prompt describes a code the user is asked for.
type Prompt struct {
	Type    Type
	Purpose Purpose
	// Secret and URI are set when activating TOTP.
	Secret string
	URI    string
}

// CodePrompter asks the user for a code. It returns ErrUserCancelled when the user dismissed
// the prompt.
type CodePrompter interface {
	PromptCode(ctx context.Context, p Prompt) (string, error)
}

// PromptFunc adapts a function to a CodePrompter.
type PromptFunc func(ctx context.Context, p Prompt) (string, error)

func (f PromptFunc) PromptCode(ctx context.Context, p Prompt) (string, error) {
	return f(ctx, p)
}

// Factors returns the factors of the safe in display order.
func Factors(s safe.Safe) []Factor {
	flags := s.SafeInfo().MFA

	return []Factor{
		{Type: TypeTotp, Activated: flags.Totp},
		{Type: TypePhone, Activated: flags.Phone},
		{Type: TypeEmail, Activated: flags.Email},
	}
}

// ActiveTypes returns the activated factors of the safe.
func ActiveTypes(s safe.Safe) []Type {
	var out []Type
	for _, f := range Factors(s) {
		if f.Activated {
			out = append(out, f.Type)
		}
	}

	return out
}
