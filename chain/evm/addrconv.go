package evm

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// ParseAddress converts an EVM address string, with or without the 0x prefix, to an address.
func ParseAddress(address string) (common.Address, error) {
	if !common.IsHexAddress(address) {
		return common.Address{}, fmt.Errorf("invalid EVM address format: %s", address)
	}

	return common.HexToAddress(address), nil
}

// ParseAddresses converts a list of EVM address strings, stopping at the first invalid entry.
func ParseAddresses(addresses []string) ([]common.Address, error) {
	out := make([]common.Address, 0, len(addresses))
	for _, a := range addresses {
		addr, err := ParseAddress(a)
		if err != nil {
			return nil, err
		}
		out = append(out, addr)
	}

	return out, nil
}
