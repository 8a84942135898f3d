package payload

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/avocado-safe/avocado-core/backend"
	"github.com/avocado-safe/avocado-core/chain/evm/provider"
	"github.com/avocado-safe/avocado-core/safe"
)

const (
	// AvocadoChainID is the chain id every cast is signed for. The target chain is carried by
	// the domain salt.
	AvocadoChainID uint64 = 634

	LegacyDomainName      = "Avocado-Safe"
	MultisigDomainName    = "Avocado-Safe-Multisig"
	MultisigDomainVersion = "3.0.0"
)

// NonSequentialNonce lets a multisig cast execute regardless of the current nonce. The salt
// keeps such casts unique.
var NonSequentialNonce = big.NewInt(-1)

var (
	ErrNoActions               = errors.New("at least one action is required")
	ErrNonSequentialNotAllowed = errors.New("non-sequential nonce is only supported by multisig safes")
	ErrSaltRequired            = errors.New("a non-sequential nonce requires a salt")
)

// Options are the optional cast parameters. Nil integers encode as zero.
type Options struct {
	// Nonce overrides the live nonce read.
	Nonce *big.Int
	// ID is the purpose tag: 0 cast, 1 cast with delegate-call or flashloan, 20 and 21
	// cross-chain. Nil derives 0 or 1 from the actions.
	ID         *big.Int
	Source     common.Address
	Metadata   []byte
	Salt       common.Hash
	Gas        *big.Int
	GasPrice   *big.Int
	ValidAfter *big.Int
	ValidUntil *big.Int
	Value      *big.Int
}

// Input is everything a cast is built from.
type Input struct {
	Format         Format
	Safe           common.Address
	ChainID        uint64
	AvocadoChainID uint64
	// Version is the domain version. It is ignored by FormatMultisig.
	Version string
	Nonce   *big.Int
	Actions []safe.Action
	Options Options
}

// TypedData is a built cast ready to be signed.
type TypedData struct {
	Input Input
	Data  apitypes.TypedData
	// Digest is the EIP-712 hash the signers sign.
	Digest common.Hash
}

// Assemble builds the typed data of a cast. It performs no network calls, so the same input
// always yields the same typed data and digest.
func Assemble(in Input) (*TypedData, error) {
	if len(in.Actions) == 0 {
		return nil, ErrNoActions
	}
	for _, a := range in.Actions {
		if err := a.Validate(); err != nil {
			return nil, err
		}
	}
	if in.Nonce == nil {
		return nil, errors.New("nonce is required")
	}
	if in.Nonce.Sign() < 0 {
		if in.Format != FormatMultisig || in.Nonce.Cmp(NonSequentialNonce) != 0 {
			return nil, ErrNonSequentialNotAllowed
		}
		if in.Options.Salt == (common.Hash{}) {
			return nil, ErrSaltRequired
		}
	}
	if in.AvocadoChainID == 0 {
		in.AvocadoChainID = AvocadoChainID
	}

	name, version := LegacyDomainName, in.Version
	if in.Format == FormatMultisig {
		name, version = MultisigDomainName, MultisigDomainVersion
	}
	if version == "" {
		return nil, errors.New("domain version is required")
	}

	td := apitypes.TypedData{
		PrimaryType: "Cast",
		Domain: apitypes.TypedDataDomain{
			Name:              name,
			Version:           version,
			ChainId:           math.NewHexOrDecimal256(int64(in.AvocadoChainID)),
			VerifyingContract: in.Safe.Hex(),
			Salt:              DomainSalt(in.ChainID).Hex(),
		},
	}

	actions := encodeActions(in.Actions)
	opts := in.Options
	id := opts.ID
	if id == nil {
		id = defaultID(in.Actions)
	}

	switch in.Format {
	case FormatLegacyV2:
		td.Types = legacyV2Types()
		td.Message = apitypes.TypedDataMessage{
			"actions": actions,
			"params": map[string]any{
				"validUntil": decimal(opts.ValidUntil),
				"gas":        decimal(opts.Gas),
				"source":     opts.Source.Hex(),
				"id":         decimal(id),
				"metadata":   hexutil.Encode(opts.Metadata),
			},
			"avoSafeNonce": decimal(in.Nonce),
		}
	case FormatV3, FormatMultisig:
		td.Types = v3Types()
		td.Message = apitypes.TypedDataMessage{
			"params": map[string]any{
				"actions":  actions,
				"id":       decimal(id),
				"avoNonce": decimal(in.Nonce),
				"salt":     opts.Salt.Hex(),
				"source":   opts.Source.Hex(),
				"metadata": hexutil.Encode(opts.Metadata),
			},
			"forwardParams": map[string]any{
				"gas":        decimal(opts.Gas),
				"gasPrice":   decimal(opts.GasPrice),
				"validAfter": decimal(opts.ValidAfter),
				"validUntil": decimal(opts.ValidUntil),
				"value":      decimal(opts.Value),
			},
		}
	default:
		return nil, fmt.Errorf("unknown format %d", in.Format)
	}

	digest, err := provider.TypedDataHash(&td)
	if err != nil {
		return nil, err
	}

	return &TypedData{Input: in, Data: td, Digest: common.BytesToHash(digest)}, nil
}

// DomainSalt is keccak256(abi.encode(uint256 chainID)).
func DomainSalt(chainID uint64) common.Hash {
	return crypto.Keccak256Hash(common.LeftPadBytes(new(big.Int).SetUint64(chainID).Bytes(), 32))
}

// Message returns the cast message as sent to the backend.
func (t *TypedData) Message() map[string]any {
	return t.Data.Message
}

// JSON encodes the typed data. Map keys are sorted so equal casts encode byte for byte equal.
func (t *TypedData) JSON() ([]byte, error) {
	return json.Marshal(t.Data)
}

// Recover returns the signer of sig and checks it signed this cast.
func (t *TypedData) Recover(sig []byte) (common.Address, error) {
	return provider.RecoverTypedDataSigner(&t.Data, sig)
}

// ProposalData returns the data a proposal stores so other signers can rebuild the cast.
func (t *TypedData) ProposalData() backend.ProposalData {
	in := t.Input
	opts := in.Options
	id := opts.ID
	if id == nil {
		id = defaultID(in.Actions)
	}

	actions := make([]backend.ProposalAction, 0, len(in.Actions))
	for _, a := range in.Actions {
		actions = append(actions, backend.ProposalAction{
			Target:    a.Target,
			Data:      common.CopyBytes(a.Data),
			Value:     a.ValueOrZero().String(),
			Operation: strconv.FormatUint(uint64(a.Operation), 10),
		})
	}

	return backend.ProposalData{
		Actions:    actions,
		ID:         decimal(id),
		AvoNonce:   decimal(in.Nonce),
		Salt:       opts.Salt,
		Source:     opts.Source,
		Metadata:   common.CopyBytes(opts.Metadata),
		Gas:        decimal(opts.Gas),
		GasPrice:   decimal(opts.GasPrice),
		ValidAfter: decimal(opts.ValidAfter),
		ValidUntil: decimal(opts.ValidUntil),
		Value:      decimal(opts.Value),
	}
}

// FromProposal rebuilds the multisig cast a proposal was created from.
func FromProposal(p *backend.Proposal, avocadoChainID uint64) (*TypedData, error) {
	d := p.Data

	actions := make([]safe.Action, 0, len(d.Actions))
	for i, a := range d.Actions {
		value, err := parseBig(a.Value)
		if err != nil {
			return nil, fmt.Errorf("action %d value: %w", i, err)
		}
		op, err := strconv.ParseUint(orZero(a.Operation), 10, 8)
		if err != nil {
			return nil, fmt.Errorf("action %d operation: %w", i, err)
		}
		actions = append(actions, safe.Action{
			Target:    a.Target,
			Data:      common.CopyBytes(a.Data),
			Value:     value,
			Operation: safe.Operation(op),
		})
	}

	var parseErr error
	parse := func(name, raw string) *big.Int {
		v, err := parseBig(raw)
		if err != nil && parseErr == nil {
			parseErr = fmt.Errorf("proposal %s %s: %w", p.ID, name, err)
		}

		return v
	}

	nonce := parse("avoNonce", d.AvoNonce)
	opts := Options{
		ID:         parse("id", d.ID),
		Source:     d.Source,
		Metadata:   common.CopyBytes(d.Metadata),
		Salt:       d.Salt,
		Gas:        parse("gas", d.Gas),
		GasPrice:   parse("gasPrice", d.GasPrice),
		ValidAfter: parse("validAfter", d.ValidAfter),
		ValidUntil: parse("validUntil", d.ValidUntil),
		Value:      parse("value", d.Value),
	}
	if parseErr != nil {
		return nil, parseErr
	}

	return Assemble(Input{
		Format:         FormatMultisig,
		Safe:           p.SafeAddress,
		ChainID:        p.ChainID,
		AvocadoChainID: avocadoChainID,
		Nonce:          nonce,
		Actions:        actions,
		Options:        opts,
	})
}

func encodeActions(actions []safe.Action) []any {
	out := make([]any, 0, len(actions))
	for _, a := range actions {
		out = append(out, map[string]any{
			"target":    a.Target.Hex(),
			"data":      hexutil.Encode(a.Data),
			"value":     a.ValueOrZero().String(),
			"operation": strconv.FormatUint(uint64(a.Operation), 10),
		})
	}

	return out
}

func defaultID(actions []safe.Action) *big.Int {
	for _, a := range actions {
		if a.Operation != safe.OperationCall {
			return big.NewInt(1)
		}
	}

	return new(big.Int)
}

func decimal(v *big.Int) string {
	if v == nil {
		return "0"
	}

	return v.String()
}

func parseBig(s string) (*big.Int, error) {
	v, ok := math.ParseBig256(orZero(s))
	if !ok {
		return nil, fmt.Errorf("invalid integer %q", s)
	}

	return v, nil
}

func orZero(s string) string {
	if s == "" {
		return "0"
	}

	return s
}
