package backend

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"
)

// SafeRecord is a safe as stored by the Avocado backend.
type SafeRecord struct {
	ID            int64          `json:"id"`
	SafeAddress   common.Address `json:"safe_address"`
	OwnerAddress  common.Address `json:"owner_address"`
	Multisig      int            `json:"multisig"`
	MultisigIndex uint32         `json:"multisig_index"`
	// Signers are the registered signers per chain id (decimal string keys).
	Signers       map[string][]common.Address `json:"signers"`
	BackupSigners []common.Address            `json:"backup_signers"`
	// Deployed and Version are keyed by chain id (decimal string keys).
	Deployed         map[string]bool   `json:"deployed"`
	Version          map[string]string `json:"version"`
	MFAEmailVerified bool              `json:"mfa_email_verified"`
	MFAPhoneVerified bool              `json:"mfa_phone_verified"`
	MFATotpVerified  bool              `json:"mfa_totp_verified"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// EstimateFeeParams is the request of the fee estimation methods.
type EstimateFeeParams struct {
	// Message is the typed data message the signers will sign.
	Message       map[string]any `json:"message"`
	Owner         common.Address `json:"owner"`
	Safe          common.Address `json:"safe"`
	Index         string         `json:"index"`
	TargetChainID string         `json:"targetChainId"`
}

// FeeEstimate is the raw fee returned by the backend. Fee and Multiplier are wei denominated
// integers encoded as hex or decimal strings.
type FeeEstimate struct {
	Fee        string    `json:"fee"`
	Multiplier string    `json:"multiplier"`
	Discount   *Discount `json:"discount,omitempty"`
}

// Discount is a promotion applied by the backend to an estimate.
type Discount struct {
	// Amount is the discount rate in [0, 1].
	Amount  decimal.Decimal `json:"amount"`
	Name    string          `json:"name"`
	Program string          `json:"program"`
}

// SignatureParams is one signer's signature as submitted to the backend.
type SignatureParams struct {
	Signature hexutil.Bytes  `json:"signature"`
	Signer    common.Address `json:"signer"`
}

// BroadcastParams is the request of txn_broadcast and txn_multisigBroadcast.
type BroadcastParams struct {
	Signatures    []SignatureParams `json:"signatures"`
	Message       map[string]any    `json:"message"`
	Owner         common.Address    `json:"owner"`
	Safe          common.Address    `json:"safe"`
	Index         string            `json:"index"`
	TargetChainID string            `json:"targetChainId"`
	// ProposalID links a multisig broadcast to its proposal.
	ProposalID string `json:"proposalId,omitempty"`
	// Token is the MFA session token when step-up was required.
	Token  string `json:"token,omitempty"`
	DryRun bool   `json:"dryRun"`
}

// MFARequest is the common request of the MFA methods that require an owner signature.
type MFARequest struct {
	Owner common.Address `json:"owner"`
	Index string         `json:"index"`
	Type  string         `json:"type"`
	// Value is the phone number or email address for activation requests.
	Value string `json:"value,omitempty"`
	// Message is the signed purpose payload and Signature the owner signature over it.
	Message   map[string]any `json:"message,omitempty"`
	Signature hexutil.Bytes  `json:"signature,omitempty"`
	// ChainID and Safe scope transaction codes.
	ChainID string         `json:"chainId,omitempty"`
	Safe    common.Address `json:"safe,omitempty"`
	Token   string         `json:"token,omitempty"`
}

// MFACodeRequest submits a code received out of band.
type MFACodeRequest struct {
	Owner common.Address `json:"owner"`
	Index string         `json:"index"`
	Type  string         `json:"type"`
	Code  string         `json:"code"`
	// Safe scopes a session token to a safe.
	Safe common.Address `json:"safe,omitempty"`
}

// MFARecoveryRequest removes TOTP with a recovery code. It carries no signature.
type MFARecoveryRequest struct {
	Owner        common.Address `json:"owner"`
	Index        string         `json:"index"`
	RecoveryCode string         `json:"recoveryCode"`
}

// FallbackMFA tells the caller to retry with another factor.
type FallbackMFA struct {
	Type string `json:"type"`
}

// MFARequestResult is returned when a code was requested.
type MFARequestResult struct {
	Success     bool         `json:"success"`
	FallbackMFA *FallbackMFA `json:"fallbackMfa,omitempty"`
}

// MFAVerifyResult is returned when a code was verified.
type MFAVerifyResult struct {
	Success bool `json:"success"`
	// Token and ExpiresAt are set when the backend issued a session token.
	Token       string       `json:"token,omitempty"`
	ExpiresAt   int64        `json:"expiresAt,omitempty"`
	FallbackMFA *FallbackMFA `json:"fallbackMfa,omitempty"`
}

// MFAUpdateResult is returned by mfa_requestUpdate. Secret and URI are set for TOTP.
type MFAUpdateResult struct {
	Success bool   `json:"success"`
	Secret  string `json:"secret,omitempty"`
	URI     string `json:"uri,omitempty"`
}

// MFAVerifyUpdateResult is returned by mfa_verifyUpdate. RecoveryCodes are set for TOTP.
type MFAVerifyUpdateResult struct {
	Success       bool     `json:"success"`
	RecoveryCodes []string `json:"recoveryCodes,omitempty"`
}

// MFARecoveryCodesResult is returned by mfa_regenerateTotpRecoveryCodes.
type MFARecoveryCodesResult struct {
	RecoveryCodes []string `json:"recoveryCodes"`
}

// MFASuccessResult is returned by methods with no payload.
type MFASuccessResult struct {
	Success bool `json:"success"`
}

// Proposal statuses as reported by the proposals API.
const (
	ProposalStatusPending      = "pending"
	ProposalStatusExecutable   = "executable"
	ProposalStatusBroadcasting = "broadcasting"
	ProposalStatusSuccess      = "success"
	ProposalStatusFailed       = "failed"
	ProposalStatusRejected     = "rejected"
)

// Proposal is a pending multisig transaction as stored by the proposals API.
type Proposal struct {
	ID                    string           `json:"id"`
	ChainID               uint64           `json:"chain_id"`
	Nonce                 int64            `json:"nonce"`
	Owner                 common.Address   `json:"owner"`
	SafeAddress           common.Address   `json:"safe_address"`
	Signers               []common.Address `json:"signers"`
	Confirmations         []Confirmation   `json:"confirmations"`
	Data                  ProposalData     `json:"data"`
	Hash                  common.Hash      `json:"hash"`
	ConfirmationsRequired int              `json:"confirmations_required"`
	Status                string           `json:"status"`
	TransactionHash       string           `json:"transaction_hash,omitempty"`
	RejectionOf           string           `json:"rejection_of,omitempty"`
	IsGasTopup            bool             `json:"is_gas_topup"`
	CreatedAt             time.Time        `json:"created_at"`
	UpdatedAt             time.Time        `json:"updated_at"`
}

// Confirmation is one signer's signature on a proposal.
type Confirmation struct {
	Address   common.Address `json:"address"`
	Signature hexutil.Bytes  `json:"signature"`
	CreatedAt time.Time      `json:"created_at"`
}

// ProposalData is everything a signer needs to rebuild the signed message byte for byte.
// Integers are decimal strings.
type ProposalData struct {
	Actions    []ProposalAction `json:"actions"`
	ID         string           `json:"id"`
	AvoNonce   string           `json:"avoNonce"`
	Salt       common.Hash      `json:"salt"`
	Source     common.Address   `json:"source"`
	Metadata   hexutil.Bytes    `json:"metadata"`
	Gas        string           `json:"gas"`
	GasPrice   string           `json:"gasPrice"`
	ValidAfter string           `json:"validAfter"`
	ValidUntil string           `json:"validUntil"`
	Value      string           `json:"value"`
}

// ProposalAction is one action of a proposal.
type ProposalAction struct {
	Target    common.Address `json:"target"`
	Data      hexutil.Bytes  `json:"data"`
	Value     string         `json:"value"`
	Operation string         `json:"operation"`
}

// CreateProposalRequest creates a proposal with the first signature.
type CreateProposalRequest struct {
	ChainID               uint64         `json:"chain_id"`
	Nonce                 int64          `json:"nonce"`
	Owner                 common.Address `json:"owner"`
	Data                  ProposalData   `json:"data"`
	Hash                  common.Hash    `json:"hash"`
	Signer                common.Address `json:"signer"`
	Signature             hexutil.Bytes  `json:"signature"`
	ConfirmationsRequired int            `json:"confirmations_required"`
	RejectionOf           string         `json:"rejection_of,omitempty"`
	IsGasTopup            bool           `json:"is_gas_topup"`
	Token                 string         `json:"token,omitempty"`
}

// ConfirmProposalRequest adds a signature to a proposal.
type ConfirmProposalRequest struct {
	Signer    common.Address `json:"signer"`
	Signature hexutil.Bytes  `json:"signature"`
	Token     string         `json:"token,omitempty"`
}

// UpdateProposalRequest reports the outcome of a broadcast.
type UpdateProposalRequest struct {
	Status          string `json:"status"`
	TransactionHash string `json:"transaction_hash,omitempty"`
}

type listProposalsResponse struct {
	Data []Proposal `json:"data"`
}
