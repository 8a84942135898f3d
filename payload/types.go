package payload

import (
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// Format selects the typed data layout of a cast.
type Format int

const (
	// FormatLegacyV2 is the layout of legacy safes below 3.0.0.
	FormatLegacyV2 Format = iota
	// FormatV3 is the layout of legacy safes from 3.0.0 on.
	FormatV3
	// FormatMultisig is the v3 layout under the multisig domain.
	FormatMultisig
)

func (f Format) String() string {
	switch f {
	case FormatLegacyV2:
		return "legacy-v2"
	case FormatV3:
		return "v3"
	case FormatMultisig:
		return "multisig"
	default:
		return "unknown"
	}
}

var domainType = []apitypes.Type{
	{Name: "name", Type: "string"},
	{Name: "version", Type: "string"},
	{Name: "chainId", Type: "uint256"},
	{Name: "verifyingContract", Type: "address"},
	{Name: "salt", Type: "bytes32"},
}

var actionType = []apitypes.Type{
	{Name: "target", Type: "address"},
	{Name: "data", Type: "bytes"},
	{Name: "value", Type: "uint256"},
	{Name: "operation", Type: "uint256"},
}

func legacyV2Types() apitypes.Types {
	return apitypes.Types{
		"EIP712Domain": domainType,
		"Cast": {
			{Name: "actions", Type: "Action[]"},
			{Name: "params", Type: "CastParams"},
			{Name: "avoSafeNonce", Type: "uint256"},
		},
		"Action": actionType,
		"CastParams": {
			{Name: "validUntil", Type: "uint256"},
			{Name: "gas", Type: "uint256"},
			{Name: "source", Type: "address"},
			{Name: "id", Type: "uint256"},
			{Name: "metadata", Type: "bytes"},
		},
	}
}

func v3Types() apitypes.Types {
	return apitypes.Types{
		"EIP712Domain": domainType,
		"Cast": {
			{Name: "params", Type: "CastParams"},
			{Name: "forwardParams", Type: "CastForwardParams"},
		},
		"Action": actionType,
		"CastParams": {
			{Name: "actions", Type: "Action[]"},
			{Name: "id", Type: "uint256"},
			{Name: "avoNonce", Type: "int256"},
			{Name: "salt", Type: "bytes32"},
			{Name: "source", Type: "address"},
			{Name: "metadata", Type: "bytes"},
		},
		"CastForwardParams": {
			{Name: "gas", Type: "uint256"},
			{Name: "gasPrice", Type: "uint256"},
			{Name: "validAfter", Type: "uint256"},
			{Name: "validUntil", Type: "uint256"},
			{Name: "value", Type: "uint256"},
		},
	}
}
