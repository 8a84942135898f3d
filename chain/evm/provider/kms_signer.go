package provider

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/asn1"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	kmslib "github.com/aws/aws-sdk-go/service/kms"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/avocado-safe/avocado-core/chain/internal/kms"
)

// KMSSigner signs safe payloads with an asymmetric secp256k1 key held in AWS KMS, for owners
// whose key must never leave KMS.
type KMSSigner struct {
	client kms.Client
	keyID  string

	mu sync.Mutex
	// pub is fetched once from KMS.
	pub *ecdsa.PublicKey
}

// NewKMSSigner connects to the KMS key. An empty awsProfile reads credentials from the
// environment.
func NewKMSSigner(keyID, keyRegion, awsProfile string) (*KMSSigner, error) {
	client, err := kms.NewClient(kms.ClientConfig{
		KeyID:      keyID,
		KeyRegion:  keyRegion,
		AWSProfile: awsProfile,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize KMS Client: %w", err)
	}

	return &KMSSigner{client: client, keyID: keyID}, nil
}

// PublicKey returns the public key of the KMS key.
func (s *KMSSigner) PublicKey() (*ecdsa.PublicKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pub != nil {
		return s.pub, nil
	}

	out, err := s.client.GetPublicKey(&kmslib.GetPublicKeyInput{KeyId: aws.String(s.keyID)})
	if err != nil {
		return nil, fmt.Errorf("cannot get public key of KMS key %s: %w", s.keyID, err)
	}

	var spki kms.SPKI
	if _, err := asn1.Unmarshal(out.PublicKey, &spki); err != nil {
		return nil, fmt.Errorf("cannot parse public key of KMS key %s: %w", s.keyID, err)
	}

	pub, err := crypto.UnmarshalPubkey(spki.SubjectPublicKey.Bytes)
	if err != nil {
		return nil, fmt.Errorf("KMS key %s is not a secp256k1 key: %w", s.keyID, err)
	}
	s.pub = pub

	return pub, nil
}

// Address returns the account address of the KMS key.
func (s *KMSSigner) Address() (common.Address, error) {
	pub, err := s.PublicKey()
	if err != nil {
		return common.Address{}, err
	}

	return crypto.PubkeyToAddress(*pub), nil
}

// SignHash signs a 32 byte digest and returns an [R || S || V] signature with v in {0, 1}.
func (s *KMSSigner) SignHash(hash []byte) ([]byte, error) {
	pub, err := s.PublicKey()
	if err != nil {
		return nil, err
	}

	out, err := s.client.Sign(&kmslib.SignInput{
		KeyId:            aws.String(s.keyID),
		SigningAlgorithm: aws.String(kmslib.SigningAlgorithmSpecEcdsaSha256),
		MessageType:      aws.String(kmslib.MessageTypeDigest),
		Message:          hash,
	})
	if err != nil {
		return nil, fmt.Errorf("KMS sign with key %s failed: %w", s.keyID, err)
	}

	sig, err := derToEVMSig(out.Signature, crypto.FromECDSAPub(pub), hash)
	if err != nil {
		return nil, fmt.Errorf("failed to convert KMS signature: %w", err)
	}

	return sig, nil
}

// TypedDataSigner returns a TypedDataSigner for the KMS key.
func (s *KMSSigner) TypedDataSigner() (TypedDataSigner, error) {
	addr, err := s.Address()
	if err != nil {
		return nil, err
	}

	return newHashSigner(addr, s.SignHash), nil
}

var (
	secp256k1N     = crypto.S256().Params().N
	secp256k1HalfN = new(big.Int).Rsh(secp256k1N, 1)
)

// derToEVMSig converts a DER encoded ECDSA signature into [R || S || V]. S is normalized to the
// lower half of the curve order and V is found by recovering pub.
func derToEVMSig(der, pub, hash []byte) ([]byte, error) {
	var sig kms.ECDSASig
	if _, err := asn1.Unmarshal(der, &sig); err != nil {
		return nil, fmt.Errorf("invalid DER signature: %w", err)
	}

	r := new(big.Int).SetBytes(sig.R.Bytes)
	sv := new(big.Int).SetBytes(sig.S.Bytes)
	if sv.Cmp(secp256k1HalfN) > 0 {
		sv.Sub(secp256k1N, sv)
	}

	return withRecoveryID(pub, hash, r, sv)
}

// withRecoveryID returns the 65 byte signature whose recovery id recovers pub.
func withRecoveryID(pub, hash []byte, r, s *big.Int) ([]byte, error) {
	if r.BitLen() > 256 || s.BitLen() > 256 {
		return nil, errors.New("signature component exceeds 32 bytes")
	}

	evmSig := make([]byte, 65)
	r.FillBytes(evmSig[:32])
	s.FillBytes(evmSig[32:64])

	for v := range byte(2) {
		evmSig[64] = v
		recovered, err := crypto.Ecrecover(hash, evmSig)
		if err != nil {
			return nil, fmt.Errorf("recover with v=%d: %w", v, err)
		}
		if bytes.Equal(recovered, pub) {
			return evmSig, nil
		}
	}

	return nil, errors.New("signature does not recover the KMS public key")
}
