package safe

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Operation is the call type of an action.
type Operation uint8

const (
	OperationCall         Operation = 0
	OperationDelegateCall Operation = 1
	// OperationFlashloan is reserved by the contracts.
	OperationFlashloan Operation = 2
)

// Action is one call executed by a safe.
type Action struct {
	Target    common.Address
	Data      []byte
	Value     *big.Int
	Operation Operation
}

// Validate checks the operation is known and the value is not negative.
func (a Action) Validate() error {
	if a.Operation > OperationFlashloan {
		return fmt.Errorf("action to %s: unknown operation %d", a.Target.Hex(), a.Operation)
	}
	if a.Value != nil && a.Value.Sign() < 0 {
		return fmt.Errorf("action to %s: negative value", a.Target.Hex())
	}

	return nil
}

// ValueOrZero returns the value, or zero when unset.
func (a Action) ValueOrZero() *big.Int {
	if a.Value == nil {
		return new(big.Int)
	}

	return new(big.Int).Set(a.Value)
}
