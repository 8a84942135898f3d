package mfa

import (
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// Purpose is the action an owner signature authorizes.
type Purpose string

const (
	PurposeRequestCode             Purpose = "RequestCode"
	PurposeTotp                    Purpose = "Totp"
	PurposePhone                   Purpose = "Phone"
	PurposeEmail                   Purpose = "Email"
	PurposeRemoveMfa               Purpose = "RemoveMfa"
	PurposeRegenerateRecoveryCodes Purpose = "RegenerateRecoveryCodes"
)

const (
	DomainName    = "Avocado MFA"
	DomainVersion = "1.0.0"
)

// activationPurpose returns the purpose signed to activate t.
func activationPurpose(t Type) (Purpose, error) {
	switch t {
	case TypeTotp:
		return PurposeTotp, nil
	case TypePhone:
		return PurposePhone, nil
	case TypeEmail:
		return PurposeEmail, nil
	default:
		return "", ErrUnknownType
	}
}

// PurposeData is the signed payload of a purpose.
type PurposeData struct {
	Purpose Purpose
	Owner   common.Address
	Index   uint32
	Type    Type
	// Value is the phone number or email address being activated.
	Value  string
	Expiry time.Time
}

// TypedData returns the EIP-712 typed data of the payload.
func (p PurposeData) TypedData(chainID uint64) apitypes.TypedData {
	fields := []apitypes.Type{
		{Name: "owner", Type: "address"},
		{Name: "index", Type: "uint256"},
		{Name: "type", Type: "string"},
		{Name: "value", Type: "string"},
		{Name: "expiry", Type: "uint256"},
	}

	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
			},
			string(p.Purpose): fields,
		},
		PrimaryType: string(p.Purpose),
		Domain: apitypes.TypedDataDomain{
			Name:    DomainName,
			Version: DomainVersion,
			ChainId: math.NewHexOrDecimal256(int64(chainID)),
		},
		Message: apitypes.TypedDataMessage{
			"owner":  p.Owner.Hex(),
			"index":  strconv.FormatUint(uint64(p.Index), 10),
			"type":   string(p.Type),
			"value":  p.Value,
			"expiry": strconv.FormatInt(p.Expiry.Unix(), 10),
		},
	}
}
