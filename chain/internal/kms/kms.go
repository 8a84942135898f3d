package kms

import (
	"encoding/asn1"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	kmslib "github.com/aws/aws-sdk-go/service/kms"
)

// Client is the subset of the AWS KMS API used to sign with an asymmetric secp256k1 key.
type Client interface {
	GetPublicKey(input *kmslib.GetPublicKeyInput) (*kmslib.GetPublicKeyOutput, error)
	Sign(input *kmslib.SignInput) (*kmslib.SignOutput, error)
}

// ClientConfig identifies the KMS key and how to authenticate with AWS.
type ClientConfig struct {
	// KeyID is the id or ARN of the KMS key.
	KeyID string
	// KeyRegion is the AWS region the key lives in.
	KeyRegion string
	// AWSProfile is the shared config profile. When empty, credentials are read from the
	// environment.
	AWSProfile string
}

func (c ClientConfig) validate() error {
	if c.KeyID == "" {
		return errors.New("KMS key ID is required")
	}
	if c.KeyRegion == "" {
		return errors.New("KMS key region is required")
	}

	return nil
}

// NewClient returns a KMS client for the configured region and profile.
func NewClient(cfg ClientConfig) (Client, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid KMS config: %w", err)
	}

	awsCfg := aws.NewConfig().WithRegion(cfg.KeyRegion)
	if cfg.AWSProfile != "" {
		awsCfg = awsCfg.WithCredentials(credentials.NewSharedCredentials("", cfg.AWSProfile))
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return kmslib.New(sess), nil
}

// SPKI is the ASN.1 SubjectPublicKeyInfo returned by KMS GetPublicKey.
type SPKI struct {
	AlgorithmIdentifier SPKIAlgorithmIdentifier
	SubjectPublicKey    asn1.BitString
}

// SPKIAlgorithmIdentifier identifies the key algorithm and curve.
type SPKIAlgorithmIdentifier struct {
	Algorithm  asn1.ObjectIdentifier
	Parameters asn1.ObjectIdentifier
}

// ECDSASig is the ASN.1 signature returned by KMS Sign.
type ECDSASig struct {
	R asn1.RawValue
	S asn1.RawValue
}
