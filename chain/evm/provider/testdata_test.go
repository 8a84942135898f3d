package provider

import (
	"crypto/ecdsa"
	"encoding/asn1"
	"encoding/hex"
	"math/big"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/stretchr/testify/require"

	"github.com/avocado-safe/avocado-core/chain/internal/kms"
)

var testAddr1 = common.HexToAddress("0xc1d6fEcd5D09Ad67cF5E0FC9633D89759DD84271")

// Variables used for testing the KMS provider.
var (
	testAWSProfile     = "default"
	testKMSKeyID       = "1234567-1234-1234-1234-123456789012"
	testKMSKeyRegion   = "ap-southeast-1"
	testKMSKeyIDAWSStr = aws.String(testKMSKeyID)
	// testKMSPublicKeyHex is a sample KMS public key in hex format. This is returned as the public key
	// from the KMS service when calling GetPublicKey for testKMSKeyID.
	testKMSPublicKeyHex = "3056301006072a8648ce3d020106052b8104000a034200043f20652b1dd7e8d448a1c9068247fae8940b70599df714a3947106c2411a7f1442ef26f3bb4ac7c5721177ea4a5c855317a25a4a01ae2d10f623c9f42de5d171"
)

var (
	oidECPublicKey = asn1.ObjectIdentifier{1, 2, 840, 10045, 2, 1}
	oidSecp256k1   = asn1.ObjectIdentifier{1, 3, 132, 0, 10}
)

// testKMSPublicKey returns the KMS public key in bytes.
func testKMSPublicKey(t *testing.T) []byte {
	t.Helper()

	b, err := hex.DecodeString(testKMSPublicKeyHex)
	require.NoError(t, err)

	return b
}

// testECDSAPublicKey returns the ECDSA public key from the KMS public key.
func testECDSAPublicKey(t *testing.T) *ecdsa.PublicKey {
	t.Helper()

	var spki kms.SPKI
	_, err := asn1.Unmarshal(testKMSPublicKey(t), &spki)
	require.NoError(t, err)

	pubKey, err := crypto.UnmarshalPubkey(spki.SubjectPublicKey.Bytes)
	require.NoError(t, err)

	return pubKey
}

// testLocalKMSKey generates a key and returns it with its KMS encoded public key, so that
// KMS signatures can be produced locally.
func testLocalKMSKey(t *testing.T) (*ecdsa.PrivateKey, []byte) {
	t.Helper()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	pub := crypto.FromECDSAPub(&key.PublicKey)
	spki, err := asn1.Marshal(kms.SPKI{
		AlgorithmIdentifier: kms.SPKIAlgorithmIdentifier{
			Algorithm:  oidECPublicKey,
			Parameters: oidSecp256k1,
		},
		SubjectPublicKey: asn1.BitString{Bytes: pub, BitLength: len(pub) * 8},
	})
	require.NoError(t, err)

	return key, spki
}

// testKMSSign signs the hash with key and returns the signature DER encoded the way KMS does.
func testKMSSign(t *testing.T, key *ecdsa.PrivateKey, hash []byte) []byte {
	t.Helper()

	sig, err := crypto.Sign(hash, key)
	require.NoError(t, err)

	return testDER(t, new(big.Int).SetBytes(sig[:32]), new(big.Int).SetBytes(sig[32:64]))
}

// testDER encodes r and s as an ASN.1 ECDSA signature.
func testDER(t *testing.T, r, s *big.Int) []byte {
	t.Helper()

	der, err := asn1.Marshal(struct {
		R *big.Int
		S *big.Int
	}{R: r, S: s})
	require.NoError(t, err)

	return der
}

// testMailTypedData returns a small valid typed data document.
func testMailTypedData() *apitypes.TypedData {
	return &apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
			},
			"Mail": []apitypes.Type{
				{Name: "contents", Type: "string"},
			},
		},
		PrimaryType: "Mail",
		Domain: apitypes.TypedDataDomain{
			Name: "Avocado",
		},
		Message: map[string]any{
			"contents": "hello",
		},
	}
}
