package safe

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const walletABIJSON = `[
	{"type":"function","name":"requiredSigners","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
	{"type":"function","name":"signers","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address[]"}]},
	{"type":"function","name":"avoNonce","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint88"}]},
	{"type":"function","name":"DOMAIN_SEPARATOR_VERSION","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]}
]`

const factoryABIJSON = `[
	{"type":"function","name":"computeAddress","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"computeAvocado","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"index","type":"uint32"}],"outputs":[{"name":"","type":"address"}]}
]`

var (
	// WalletABI covers the views of the safe implementation the core reads.
	WalletABI = mustParseABI(walletABIJSON)
	// FactoryABI covers the deterministic address views of the factory.
	FactoryABI = mustParseABI(factoryABIJSON)
)

func mustParseABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(err)
	}

	return parsed
}
