package provider

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// ErrUserRejected is returned by a TypedDataSigner when the holder of the key declined to sign,
// for example by dismissing the wallet prompt.
var ErrUserRejected = errors.New("user rejected the signature request")

// TypedDataSigner signs EIP-712 typed data on behalf of a single account.
//
// Implementations must return ErrUserRejected (possibly wrapped) when the user declines. The
// returned signature is 65 bytes with v in {27, 28}.
type TypedDataSigner interface {
	Address() common.Address
	SignTypedData(ctx context.Context, typedData *apitypes.TypedData) ([]byte, error)
}

// TypedDataHash returns the EIP-712 digest keccak256("\x19\x01" || domainSeparator || hashStruct(message)).
func TypedDataHash(typedData *apitypes.TypedData) ([]byte, error) {
	domain, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to get hash of typed data domain: %w", err)
	}

	dataHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to get hash of typed message: %w", err)
	}

	prefixedData := fmt.Appendf(nil, "\x19\x01%s%s", string(domain), string(dataHash))

	return crypto.Keccak256(prefixedData), nil
}

// RecoverTypedDataSigner returns the address which produced sig over the typed data.
func RecoverTypedDataSigner(typedData *apitypes.TypedData, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("invalid signature length %d", len(sig))
	}

	digest, err := TypedDataHash(typedData)
	if err != nil {
		return common.Address{}, err
	}

	rsv := make([]byte, len(sig))
	copy(rsv, sig)
	if rsv[64] >= 27 {
		rsv[64] -= 27
	}

	pubKey, err := crypto.SigToPub(digest, rsv)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover signer: %w", err)
	}

	return crypto.PubkeyToAddress(*pubKey), nil
}

// hashSigner signs typed data by hashing it locally and delegating the digest signature to
// signHash. It backs both the private key and the KMS signers.
type hashSigner struct {
	// address is the account which owns the signing key.
	address common.Address
	// signHash signs a 32 byte digest and returns a 65 byte [R || S || V] signature.
	signHash func([]byte) ([]byte, error)
}

func newHashSigner(address common.Address, signHashFunc func([]byte) ([]byte, error)) *hashSigner {
	return &hashSigner{
		address:  address,
		signHash: signHashFunc,
	}
}

// Address returns the account of the signer.
func (s *hashSigner) Address() common.Address {
	return s.address
}

// SignTypedData hashes the domain and message according to EIP-712 and signs the prefixed
// digest with signHash.
func (s *hashSigner) SignTypedData(ctx context.Context, typedData *apitypes.TypedData) ([]byte, error) {
	digest, err := TypedDataHash(typedData)
	if err != nil {
		return nil, err
	}

	sig, err := s.signHash(digest)
	if err != nil {
		return nil, fmt.Errorf("failed to sign hash of typed data: %w", err)
	}

	// crypto.Sign uses the traditional implementation where v is either 0 or 1,
	// while Ethereum uses newer implementation where v is either 27 or 28.
	if sig[64] < 27 {
		sig[64] += 27
	}

	return sig, nil
}

// NewPrivateKeySigner returns a TypedDataSigner backed by an in-memory private key.
func NewPrivateKeySigner(key *ecdsa.PrivateKey) TypedDataSigner {
	return newHashSigner(crypto.PubkeyToAddress(key.PublicKey), func(hash []byte) ([]byte, error) {
		return crypto.Sign(hash, key)
	})
}

// SignFunc is the signing capability handed over by a wallet connector. It returns cancelled
// when the user dismissed the prompt.
type SignFunc func(ctx context.Context, account common.Address, typedData *apitypes.TypedData) (sig []byte, cancelled bool, err error)

// ExternalSigner adapts a wallet connector signing capability to a TypedDataSigner.
type ExternalSigner struct {
	account common.Address
	sign    SignFunc
}

var _ TypedDataSigner = (*ExternalSigner)(nil)

// NewExternalSigner returns a signer delegating to a wallet connector.
func NewExternalSigner(account common.Address, sign SignFunc) *ExternalSigner {
	return &ExternalSigner{account: account, sign: sign}
}

// Address returns the connected account.
func (s *ExternalSigner) Address() common.Address {
	return s.account
}

// SignTypedData asks the wallet to sign. A cancelled prompt maps to ErrUserRejected.
func (s *ExternalSigner) SignTypedData(ctx context.Context, typedData *apitypes.TypedData) ([]byte, error) {
	sig, cancelled, err := s.sign(ctx, s.account, typedData)
	if cancelled {
		return nil, ErrUserRejected
	}
	if err != nil {
		return nil, fmt.Errorf("wallet failed to sign typed data: %w", err)
	}
	if len(sig) != crypto.SignatureLength {
		return nil, fmt.Errorf("wallet returned a signature of %d bytes", len(sig))
	}

	out := make([]byte, len(sig))
	copy(out, sig)
	if out[64] < 27 {
		out[64] += 27
	}

	return out, nil
}
