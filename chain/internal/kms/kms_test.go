package kms

import (
	"encoding/asn1"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		give    ClientConfig
		wantErr string
	}{
		{
			name: "credentials from environment",
			give: ClientConfig{KeyID: "alias/avocado-owner", KeyRegion: "eu-central-1"},
		},
		{
			name: "credentials from profile",
			give: ClientConfig{KeyID: "alias/avocado-owner", KeyRegion: "eu-central-1", AWSProfile: "signer"},
		},
		{
			name:    "no key id",
			give:    ClientConfig{KeyRegion: "eu-central-1"},
			wantErr: "invalid KMS config: KMS key ID is required",
		},
		{
			name:    "no region",
			give:    ClientConfig{KeyID: "alias/avocado-owner"},
			wantErr: "invalid KMS config: KMS key region is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := NewClient(tt.give)
			if tt.wantErr != "" {
				require.EqualError(t, err, tt.wantErr)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, got)
		})
	}
}

func TestECDSASig_Unmarshal(t *testing.T) {
	t.Parallel()

	// SEQUENCE { INTEGER 0x0102, INTEGER 0x00ff }
	der := []byte{0x30, 0x08, 0x02, 0x02, 0x01, 0x02, 0x02, 0x02, 0x00, 0xff}

	var sig ECDSASig
	rest, err := asn1.Unmarshal(der, &sig)
	require.NoError(t, err)
	assert.Empty(t, rest)

	assert.Equal(t, big.NewInt(0x0102), new(big.Int).SetBytes(sig.R.Bytes))
	assert.Equal(t, big.NewInt(0xff), new(big.Int).SetBytes(sig.S.Bytes))
}
