package services

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"

	"github.com/avocado-safe/avocado-core/backend"
	"github.com/avocado-safe/avocado-core/config"
	"github.com/avocado-safe/avocado-core/connector"
	"github.com/avocado-safe/avocado-core/fee"
	"github.com/avocado-safe/avocado-core/mfa"
	"github.com/avocado-safe/avocado-core/multisig"
	"github.com/avocado-safe/avocado-core/pkg/logger"
	"github.com/avocado-safe/avocado-core/safe"
	"github.com/avocado-safe/avocado-core/signers"
)

// Load loads the config at path, falling back to environment variables, and builds the
// services from it.
func Load(ctx context.Context, path string, lggr logger.Logger, opts ...Option) (*Services, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	return New(ctx, cfg, lggr, opts...)
}

// Safe fetches the safe at address.
func (s *Services) Safe(ctx context.Context, address common.Address) (safe.Safe, error) {
	return s.Reader.Safe(ctx, address)
}

// ComputeAddress returns the deterministic safe address of owner.
func (s *Services) ComputeAddress(ctx context.Context, owner common.Address, index uint32, legacy bool) (common.Address, error) {
	return s.Reader.ComputeAddress(ctx, owner, index, legacy)
}

// RequiredSigners resolves the signer threshold of the safe on every configured chain.
func (s *Services) RequiredSigners(ctx context.Context, sf safe.Safe) []signers.RequiredSigners {
	return s.Resolver.RequiredSigners(ctx, sf)
}

// EstimateFees estimates the requests and checks them against the gas balance of the owner.
// The verdict covers the estimates that succeeded. A newer estimate for the same safe aborts this
// one.
func (s *Services) EstimateFees(ctx context.Context, sf safe.Safe, reqs []fee.Request) (fee.Result, fee.Verdict, error) {
	res, err := s.Fee.Latest(ctx, safe.Identity(sf), sf, reqs)
	if err != nil {
		return fee.Result{}, fee.Verdict{}, err
	}

	verdict, err := s.Fee.Affordability(ctx, sf, res.Data)
	if err != nil {
		return res, fee.Verdict{}, err
	}

	return res, verdict, nil
}

// Proposal fetches a proposal of the safe.
func (s *Services) Proposal(ctx context.Context, safeAddr common.Address, id string) (*backend.Proposal, error) {
	return s.Proposals.Get(ctx, safeAddr, id)
}

// ConfirmProposal adds the confirmation of the configured signer to the proposal.
func (s *Services) ConfirmProposal(ctx context.Context, sf safe.Safe, p *backend.Proposal) (multisig.Result, error) {
	signer, err := s.Signer()
	if err != nil {
		return multisig.Result{}, err
	}

	return s.Multisig.Confirm(ctx, sf, signer, p)
}

// ExecuteProposal broadcasts a proposal which reached quorum.
func (s *Services) ExecuteProposal(ctx context.Context, sf safe.Safe, id string) (multisig.Result, error) {
	return s.Multisig.Execute(ctx, sf, id)
}

// WaitForQuorum polls the proposal until it can be executed.
func (s *Services) WaitForQuorum(ctx context.Context, safeAddr common.Address, id string) (multisig.Result, error) {
	return s.Multisig.WaitForQuorum(ctx, safeAddr, id)
}

// VerifyMFA runs a step-up verification for the configured signer.
func (s *Services) VerifyMFA(ctx context.Context, sf safe.Safe) (*backend.MFAVerifyResult, error) {
	signer, err := s.Signer()
	if err != nil {
		return nil, err
	}

	return s.MFA.AuthVerify(ctx, sf, signer, mfa.Scope{})
}

// SetPreferredMFA stores the factor verification starts with.
func (s *Services) SetPreferredMFA(t mfa.Type) error {
	return s.MFA.SetPreferredType(t)
}

// RemoveTotp removes the TOTP factor of the safe with a recovery code.
func (s *Services) RemoveTotp(ctx context.Context, sf safe.Safe, recoveryCode string) error {
	return s.MFA.RemoveTotpWithRecoveryCode(ctx, sf, recoveryCode)
}

// ChainName returns the display name of a chain.
func (s *Services) ChainName(chainID uint64) string {
	return s.Chains.Name(chainID)
}

// TxURL returns the block explorer link of a transaction, or an empty string when the chain has
// no explorer configured.
func (s *Services) TxURL(chainID uint64, hash common.Hash) string {
	return s.Chains.TxURL(chainID, hash.Hex())
}

// ConnectWallet pairs with the wallet set with WithWallet. Until DisconnectWallet, Signer returns
// its first account.
func (s *Services) ConnectWallet(ctx context.Context) (*connector.Session, error) {
	if s.pairer == nil {
		return nil, errors.New("no wallet configured")
	}

	w, err := connector.Pair(ctx, s.pairer, s.Config.Connector.PairTimeout)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	prev := s.wallet
	s.wallet = w
	s.mu.Unlock()

	if prev != nil {
		return w, s.Events.Publish(ctx, connector.Event{Kind: connector.AccountsChanged, Accounts: w.Accounts})
	}

	return w, nil
}

// DisconnectWallet drops the connected wallet and ends the MFA sessions opened while it was
// connected.
func (s *Services) DisconnectWallet(ctx context.Context) error {
	s.mu.Lock()
	s.wallet = nil
	s.mu.Unlock()

	return s.Events.Publish(ctx, connector.Event{Kind: connector.Disconnected})
}
