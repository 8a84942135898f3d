package provider

import (
	"crypto/ecdsa"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/crypto"
)

// SignerGenerator creates the TypedDataSigner an operator signs safe payloads with. The
// concrete key source is chosen from configuration.
type SignerGenerator interface {
	Generate() (TypedDataSigner, error)
}

var (
	_ SignerGenerator = (*signerFromRaw)(nil)
	_ SignerGenerator = (*signerRandom)(nil)
	_ SignerGenerator = (*signerFromKMS)(nil)
)

// SignerFromRaw returns a generator which creates a signer from a hex encoded private key, with
// or without the 0x prefix.
func SignerFromRaw(privKey string) SignerGenerator {
	return &signerFromRaw{privKey: strings.TrimPrefix(privKey, "0x")}
}

type signerFromRaw struct {
	privKey string
}

// Generate parses the hex encoded private key.
func (g *signerFromRaw) Generate() (TypedDataSigner, error) {
	privKey, err := crypto.HexToECDSA(g.privKey)
	if err != nil {
		return nil, fmt.Errorf("failed to convert private key to ECDSA: %w", err)
	}

	return NewPrivateKeySigner(privKey), nil
}

// SignerRandom returns a generator backed by a random key. The key is created on the first call
// to Generate and reused afterwards.
func SignerRandom() SignerGenerator {
	return &signerRandom{}
}

type signerRandom struct {
	mu      sync.Mutex
	privKey *ecdsa.PrivateKey
}

// Generate returns a signer for the random key.
func (g *signerRandom) Generate() (TypedDataSigner, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.privKey == nil {
		privKey, err := crypto.GenerateKey()
		if err != nil {
			return nil, fmt.Errorf("failed to generate random private key: %w", err)
		}
		g.privKey = privKey
	}

	return NewPrivateKeySigner(g.privKey), nil
}

// SignerFromKMS creates a SignerGenerator that uses a KMS key.
//
// It requires the KMS key ID, region, and optionally an AWS profile name. If the AWS profile
// name is not provided, it defaults to using the environment variables to determine the AWS
// profile.
func SignerFromKMS(keyID, keyRegion, awsProfileName string) (SignerGenerator, error) {
	signer, err := NewKMSSigner(keyID, keyRegion, awsProfileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create KMS signer: %w", err)
	}

	return &signerFromKMS{signer: signer}, nil
}

// SignerFromKMSSigner creates a SignerGenerator from an existing KMSSigner instance.
func SignerFromKMSSigner(signer *KMSSigner) SignerGenerator {
	return &signerFromKMS{signer: signer}
}

type signerFromKMS struct {
	signer *KMSSigner
}

// Generate resolves the KMS key address and returns a signer for it.
func (g *signerFromKMS) Generate() (TypedDataSigner, error) {
	s, err := g.signer.TypedDataSigner()
	if err != nil {
		return nil, fmt.Errorf("failed to get typed data signer from KMS signer: %w", err)
	}

	return s, nil
}
