// Package metadata encodes the attribution records attached to a cast.
//
// The envelope is abi.encode(bytes[]). Each record is abi.encode(bytes32 type, uint8 version,
// bytes data) where type is the right padded record name and data is the record payload encoded
// with the schema of that type and version. Decoding never fails: unknown types and malformed
// records decode to Unknown.
package metadata

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Kind is the record type.
type Kind string

const (
	KindTransfer  Kind = "transfer"
	KindBridge    Kind = "bridge"
	KindSwap      Kind = "swap"
	KindGasTopup  Kind = "gas-topup"
	KindUpgrade   Kind = "upgrade"
	KindDapp      Kind = "dapp"
	KindPermit2   Kind = "permit2"
	KindDeploy    Kind = "deploy"
	KindImport    Kind = "import"
	KindRejection Kind = "rejection"
	KindMulti     Kind = "multi"
	KindUnknown   Kind = "unknown"
)

// Version is the schema version written by Encode.
const Version uint8 = 1

// Record is one metadata record.
type Record interface {
	Kind() Kind
}

type (
	Transfer struct {
		Token    common.Address
		Amount   *big.Int
		Receiver common.Address
	}

	Bridge struct {
		FromToken common.Address
		ToToken   common.Address
		Amount    *big.Int
		ToChainID *big.Int
		Receiver  common.Address
		BridgeFee *big.Int
	}

	Swap struct {
		SellToken  common.Address
		BuyToken   common.Address
		SellAmount *big.Int
		BuyAmount  *big.Int
		Receiver   common.Address
		Protocol   string
	}

	GasTopup struct {
		Token    common.Address
		Amount   *big.Int
		OnBehalf common.Address
	}

	Upgrade struct {
		Version        string
		Implementation common.Address
	}

	Dapp struct {
		Name string
		URL  string
	}

	Permit2 struct {
		Token      common.Address
		Spender    common.Address
		Amount     *big.Int
		Expiration *big.Int
	}

	Deploy struct{}

	Import struct {
		Protocol   string
		ValueInUSD *big.Int
	}

	// Rejection marks a cast rejecting the proposal with ProposalID.
	Rejection struct {
		ProposalID string
	}

	// Multi groups records describing a batched cast.
	Multi struct {
		Records []Record
	}

	// Unknown is a record of an unknown type or version, or one that failed to decode.
	Unknown struct {
		Type    [32]byte
		Version uint8
		Data    []byte
	}
)

func (Transfer) Kind() Kind  { return KindTransfer }
func (Bridge) Kind() Kind    { return KindBridge }
func (Swap) Kind() Kind      { return KindSwap }
func (GasTopup) Kind() Kind  { return KindGasTopup }
func (Upgrade) Kind() Kind   { return KindUpgrade }
func (Dapp) Kind() Kind      { return KindDapp }
func (Permit2) Kind() Kind   { return KindPermit2 }
func (Deploy) Kind() Kind    { return KindDeploy }
func (Import) Kind() Kind    { return KindImport }
func (Rejection) Kind() Kind { return KindRejection }
func (Multi) Kind() Kind     { return KindMulti }
func (Unknown) Kind() Kind   { return KindUnknown }

var (
	envelopeArgs = arguments("bytes[]")
	recordArgs   = arguments("bytes32", "uint8", "bytes")
)

// Encode encodes records into the envelope. No records encode to an empty byte slice.
func Encode(records ...Record) ([]byte, error) {
	if len(records) == 0 {
		return []byte{}, nil
	}

	encoded, err := encodeRecords(records)
	if err != nil {
		return nil, err
	}

	return envelopeArgs.Pack(encoded)
}

func encodeRecords(records []Record) ([][]byte, error) {
	out := make([][]byte, 0, len(records))
	for _, r := range records {
		b, err := encodeRecord(r)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s metadata: %w", r.Kind(), err)
		}
		out = append(out, b)
	}

	return out, nil
}

func encodeRecord(r Record) ([]byte, error) {
	if u, ok := r.(Unknown); ok {
		return recordArgs.Pack(u.Type, u.Version, u.Data)
	}

	s, ok := schemas[r.Kind()]
	if !ok {
		return nil, errors.New("no schema")
	}

	values, err := s.values(r)
	if err != nil {
		return nil, err
	}

	data, err := s.args.Pack(values...)
	if err != nil {
		return nil, err
	}

	return recordArgs.Pack(typeName(r.Kind()), Version, data)
}

// Decode decodes an envelope. Empty input yields no records.
func Decode(b []byte) []Record {
	if len(b) == 0 {
		return nil
	}

	out, err := envelopeArgs.Unpack(b)
	if err != nil || len(out) != 1 {
		return []Record{Unknown{Data: bytes.Clone(b)}}
	}

	raw, ok := out[0].([][]byte)
	if !ok {
		return []Record{Unknown{Data: bytes.Clone(b)}}
	}

	return decodeRecords(raw)
}

func decodeRecords(raw [][]byte) []Record {
	records := make([]Record, 0, len(raw))
	for _, r := range raw {
		records = append(records, decodeRecord(r))
	}

	return records
}

func decodeRecord(b []byte) Record {
	out, err := recordArgs.Unpack(b)
	if err != nil || len(out) != 3 {
		return Unknown{Data: bytes.Clone(b)}
	}

	typ, _ := out[0].([32]byte)
	version, _ := out[1].(uint8)
	data, _ := out[2].([]byte)
	unknown := Unknown{Type: typ, Version: version, Data: data}

	s, ok := schemas[kindOf(typ)]
	if !ok || version != Version {
		return unknown
	}

	values, err := s.args.Unpack(data)
	if err != nil || len(values) != len(s.args) {
		return unknown
	}

	r, err := s.record(values)
	if err != nil {
		return unknown
	}

	return r
}

// Describe returns the kinds of the records, flattening Multi.
func Describe(records []Record) []Kind {
	var out []Kind
	for _, r := range records {
		if m, ok := r.(Multi); ok {
			out = append(out, Describe(m.Records)...)
			continue
		}
		out = append(out, r.Kind())
	}

	return out
}

// RejectionOf returns the rejected proposal id when records contain a rejection.
func RejectionOf(records []Record) (string, bool) {
	for _, r := range records {
		switch v := r.(type) {
		case Rejection:
			return v.ProposalID, true
		case Multi:
			if id, ok := RejectionOf(v.Records); ok {
				return id, true
			}
		}
	}

	return "", false
}

func typeName(k Kind) [32]byte {
	return toBytes32(string(k))
}

func kindOf(typ [32]byte) Kind {
	return Kind(fromBytes32(typ))
}

func toBytes32(s string) [32]byte {
	var out [32]byte
	copy(out[:], s)

	return out
}

func fromBytes32(b [32]byte) string {
	return string(bytes.TrimRight(b[:], "\x00"))
}

func arguments(types ...string) abi.Arguments {
	args := make(abi.Arguments, 0, len(types))
	for _, t := range types {
		typ, err := abi.NewType(t, "", nil)
		if err != nil {
			panic(err)
		}
		args = append(args, abi.Argument{Type: typ})
	}

	return args
}
