package metadata

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

type schema struct {
	args   abi.Arguments
	values func(Record) ([]any, error)
	record func([]any) (Record, error)
}

var errMismatch = errors.New("record does not match schema")

var schemas = map[Kind]schema{
	KindTransfer: {
		args: arguments("address", "uint256", "address"),
		values: func(r Record) ([]any, error) {
			v, ok := r.(Transfer)
			if !ok {
				return nil, errMismatch
			}

			return []any{v.Token, bigOrZero(v.Amount), v.Receiver}, nil
		},
		record: func(in []any) (Record, error) {
			var v Transfer
			if err := scan(in, &v.Token, &v.Amount, &v.Receiver); err != nil {
				return nil, err
			}

			return v, nil
		},
	},
	KindBridge: {
		args: arguments("address", "address", "uint256", "uint256", "address", "uint256"),
		values: func(r Record) ([]any, error) {
			v, ok := r.(Bridge)
			if !ok {
				return nil, errMismatch
			}

			return []any{v.FromToken, v.ToToken, bigOrZero(v.Amount), bigOrZero(v.ToChainID), v.Receiver, bigOrZero(v.BridgeFee)}, nil
		},
		record: func(in []any) (Record, error) {
			var v Bridge
			if err := scan(in, &v.FromToken, &v.ToToken, &v.Amount, &v.ToChainID, &v.Receiver, &v.BridgeFee); err != nil {
				return nil, err
			}

			return v, nil
		},
	},
	KindSwap: {
		args: arguments("address", "address", "uint256", "uint256", "address", "bytes32"),
		values: func(r Record) ([]any, error) {
			v, ok := r.(Swap)
			if !ok {
				return nil, errMismatch
			}

			return []any{v.SellToken, v.BuyToken, bigOrZero(v.SellAmount), bigOrZero(v.BuyAmount), v.Receiver, toBytes32(v.Protocol)}, nil
		},
		record: func(in []any) (Record, error) {
			var v Swap
			if err := scan(in, &v.SellToken, &v.BuyToken, &v.SellAmount, &v.BuyAmount, &v.Receiver, &v.Protocol); err != nil {
				return nil, err
			}

			return v, nil
		},
	},
	KindGasTopup: {
		args: arguments("address", "uint256", "address"),
		values: func(r Record) ([]any, error) {
			v, ok := r.(GasTopup)
			if !ok {
				return nil, errMismatch
			}

			return []any{v.Token, bigOrZero(v.Amount), v.OnBehalf}, nil
		},
		record: func(in []any) (Record, error) {
			var v GasTopup
			if err := scan(in, &v.Token, &v.Amount, &v.OnBehalf); err != nil {
				return nil, err
			}

			return v, nil
		},
	},
	KindUpgrade: {
		args: arguments("bytes32", "address"),
		values: func(r Record) ([]any, error) {
			v, ok := r.(Upgrade)
			if !ok {
				return nil, errMismatch
			}

			return []any{toBytes32(v.Version), v.Implementation}, nil
		},
		record: func(in []any) (Record, error) {
			var v Upgrade
			if err := scan(in, &v.Version, &v.Implementation); err != nil {
				return nil, err
			}

			return v, nil
		},
	},
	KindDapp: {
		args: arguments("string", "string"),
		values: func(r Record) ([]any, error) {
			v, ok := r.(Dapp)
			if !ok {
				return nil, errMismatch
			}

			return []any{v.Name, v.URL}, nil
		},
		record: func(in []any) (Record, error) {
			var v Dapp
			if err := scan(in, &v.Name, &v.URL); err != nil {
				return nil, err
			}

			return v, nil
		},
	},
	KindPermit2: {
		args: arguments("address", "address", "uint160", "uint48"),
		values: func(r Record) ([]any, error) {
			v, ok := r.(Permit2)
			if !ok {
				return nil, errMismatch
			}

			return []any{v.Token, v.Spender, bigOrZero(v.Amount), bigOrZero(v.Expiration)}, nil
		},
		record: func(in []any) (Record, error) {
			var v Permit2
			if err := scan(in, &v.Token, &v.Spender, &v.Amount, &v.Expiration); err != nil {
				return nil, err
			}

			return v, nil
		},
	},
	KindDeploy: {
		args:   abi.Arguments{},
		values: func(Record) ([]any, error) { return nil, nil },
		record: func([]any) (Record, error) { return Deploy{}, nil },
	},
	KindImport: {
		args: arguments("bytes32", "uint256"),
		values: func(r Record) ([]any, error) {
			v, ok := r.(Import)
			if !ok {
				return nil, errMismatch
			}

			return []any{toBytes32(v.Protocol), bigOrZero(v.ValueInUSD)}, nil
		},
		record: func(in []any) (Record, error) {
			var v Import
			if err := scan(in, &v.Protocol, &v.ValueInUSD); err != nil {
				return nil, err
			}

			return v, nil
		},
	},
	KindRejection: {
		args: arguments("string"),
		values: func(r Record) ([]any, error) {
			v, ok := r.(Rejection)
			if !ok {
				return nil, errMismatch
			}

			return []any{v.ProposalID}, nil
		},
		record: func(in []any) (Record, error) {
			var v Rejection
			if err := scan(in, &v.ProposalID); err != nil {
				return nil, err
			}

			return v, nil
		},
	},
}

// Multi nests records and refers back to the codec, so it is registered at init.
func init() {
	schemas[KindMulti] = schema{
		args: arguments("bytes[]"),
		values: func(r Record) ([]any, error) {
			v, ok := r.(Multi)
			if !ok {
				return nil, errMismatch
			}

			encoded, err := encodeRecords(v.Records)
			if err != nil {
				return nil, err
			}

			return []any{encoded}, nil
		},
		record: func(in []any) (Record, error) {
			raw, ok := in[0].([][]byte)
			if !ok {
				return nil, errMismatch
			}

			return Multi{Records: decodeRecords(raw)}, nil
		},
	}
}

// scan copies unpacked values into dst pointers.
func scan(in []any, dst ...any) error {
	if len(in) != len(dst) {
		return errMismatch
	}

	for i, d := range dst {
		switch p := d.(type) {
		case *common.Address:
			v, ok := in[i].(common.Address)
			if !ok {
				return fmt.Errorf("field %d: %w", i, errMismatch)
			}
			*p = v
		case **big.Int:
			v, ok := in[i].(*big.Int)
			if !ok {
				return fmt.Errorf("field %d: %w", i, errMismatch)
			}
			*p = v
		case *string:
			switch v := in[i].(type) {
			case string:
				*p = v
			case [32]byte:
				*p = fromBytes32(v)
			default:
				return fmt.Errorf("field %d: %w", i, errMismatch)
			}
		default:
			return fmt.Errorf("field %d: unsupported destination %T", i, d)
		}
	}

	return nil
}

func bigOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}

	return v
}
