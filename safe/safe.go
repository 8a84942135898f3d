// Package safe models Avocado safes and reads their on-chain state.
//
// A safe is either a Legacy safe, a single-owner wallet signed by its owner only, or a Multisig
// safe with a per-chain signer set and threshold. Callers switch on the concrete type:
//
//	switch s := v.(type) {
//	case *safe.Legacy:
//	case *safe.Multisig:
//	}
package safe

import (
	"errors"
	"fmt"
	"slices"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/avocado-safe/avocado-core/backend"
)

// Kind identifies the safe variant.
type Kind int

const (
	KindLegacy Kind = iota
	KindMultisig
)

func (k Kind) String() string {
	switch k {
	case KindLegacy:
		return "legacy"
	case KindMultisig:
		return "multisig"
	default:
		return "unknown"
	}
}

// MFAFlags records which MFA factors the safe has verified.
type MFAFlags struct {
	Email bool
	Phone bool
	Totp  bool
}

// Any reports whether at least one factor is verified.
func (f MFAFlags) Any() bool {
	return f.Email || f.Phone || f.Totp
}

// Info holds the fields common to every safe variant.
type Info struct {
	Owner   common.Address
	Address common.Address
	// Index is the multisig index used to derive the address. Legacy safes use 0.
	Index uint32
	// Signers are the registered signers per chain id.
	Signers       map[uint64][]common.Address
	BackupSigners []common.Address
	MFA           MFAFlags
	// Deployed and Versions are keyed by chain id.
	Deployed map[uint64]bool
	Versions map[uint64]string
}

// Safe is implemented by *Legacy and *Multisig only.
type Safe interface {
	Kind() Kind
	SafeInfo() *Info

	sealed()
}

// Legacy is a single-owner safe.
type Legacy struct {
	Info
}

// Multisig is a safe governed by a signer set and threshold per chain.
type Multisig struct {
	Info
}

var (
	_ Safe = (*Legacy)(nil)
	_ Safe = (*Multisig)(nil)
)

func (*Legacy) Kind() Kind          { return KindLegacy }
func (l *Legacy) SafeInfo() *Info   { return &l.Info }
func (*Multisig) Kind() Kind        { return KindMultisig }
func (m *Multisig) SafeInfo() *Info { return &m.Info }

func (*Legacy) sealed()   {}
func (*Multisig) sealed() {}

// String describes the safe for logs and errors.
func (i *Info) String() string {
	return fmt.Sprintf("safe %s (owner %s, index %d)", i.Address.Hex(), i.Owner.Hex(), i.Index)
}

// SignersOn returns the signers registered on the chain, always including the owner.
func (i *Info) SignersOn(chainID uint64) []common.Address {
	out := slices.Clone(i.Signers[chainID])
	if !slices.Contains(out, i.Owner) {
		out = append([]common.Address{i.Owner}, out...)
	}

	return out
}

// IsSigner reports whether addr may sign for the safe on the chain.
func (i *Info) IsSigner(chainID uint64, addr common.Address) bool {
	return slices.Contains(i.SignersOn(chainID), addr)
}

// IsBackupSigner reports whether addr is a backup signer of the safe.
func (i *Info) IsBackupSigner(addr common.Address) bool {
	return slices.Contains(i.BackupSigners, addr)
}

// Identity is the cache key of a safe: its address and multisig index.
func Identity(s Safe) string {
	info := s.SafeInfo()
	return info.Address.Hex() + "/" + strconv.FormatUint(uint64(info.Index), 10)
}

// FromRecord converts a backend record into its variant.
func FromRecord(rec *backend.SafeRecord) (Safe, error) {
	if rec == nil {
		return nil, errors.New("nil safe record")
	}

	info := Info{
		Owner:         rec.OwnerAddress,
		Address:       rec.SafeAddress,
		Index:         rec.MultisigIndex,
		Signers:       make(map[uint64][]common.Address, len(rec.Signers)),
		BackupSigners: slices.Clone(rec.BackupSigners),
		MFA: MFAFlags{
			Email: rec.MFAEmailVerified,
			Phone: rec.MFAPhoneVerified,
			Totp:  rec.MFATotpVerified,
		},
		Deployed: make(map[uint64]bool, len(rec.Deployed)),
		Versions: make(map[uint64]string, len(rec.Version)),
	}

	for k, v := range rec.Signers {
		id, err := parseChainKey(k)
		if err != nil {
			return nil, err
		}
		info.Signers[id] = slices.Clone(v)
	}
	for k, v := range rec.Deployed {
		id, err := parseChainKey(k)
		if err != nil {
			return nil, err
		}
		info.Deployed[id] = v
	}
	for k, v := range rec.Version {
		id, err := parseChainKey(k)
		if err != nil {
			return nil, err
		}
		info.Versions[id] = v
	}

	if rec.Multisig > 0 {
		return &Multisig{Info: info}, nil
	}

	return &Legacy{Info: info}, nil
}

func parseChainKey(k string) (uint64, error) {
	id, err := strconv.ParseUint(k, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid chain id key %q in safe record: %w", k, err)
	}

	return id, nil
}
