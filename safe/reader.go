package safe

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/sync/singleflight"

	"github.com/avocado-safe/avocado-core/backend"
	"github.com/avocado-safe/avocado-core/chain/evm"
	"github.com/avocado-safe/avocado-core/pkg/logger"
)

// UnknownVersion is reported when the implementation version could not be read.
const UnknownVersion = "0.0.0"

const defaultAddressCacheSize = 256

// safeFetchTimeout bounds a shared safe fetch once it no longer follows its first caller.
const safeFetchTimeout = 30 * time.Second

// Backend fetches safe records.
type Backend interface {
	GetSafe(ctx context.Context, address common.Address) (*backend.SafeRecord, error)
	GetSafes(ctx context.Context, owner common.Address) ([]backend.SafeRecord, error)
}

// ReaderConfig configures a Reader.
type ReaderConfig struct {
	Chains evm.Chains
	// FactoryAddress is the factory answering computeAddress and computeAvocado. It is deployed at
	// the same address on every chain.
	FactoryAddress common.Address
	// AddressChainID is the chain the factory views are called on.
	AddressChainID uint64
	// LegacyNonceSlot is the storage slot of the legacy avoSafeNonce.
	LegacyNonceSlot common.Hash
	// AddressCacheSize bounds the computed address cache. Zero uses the default.
	AddressCacheSize int
}

// Version is the implementation version of a safe on one chain.
type Version struct {
	Version  string
	Deployed bool
}

// Reader resolves safes from the backend and reads their on-chain state.
type Reader struct {
	backend Backend
	cfg     ReaderConfig
	lggr    logger.Logger

	safeGroup singleflight.Group
	addrCache *lru.Cache
}

// NewReader returns a Reader.
func NewReader(b Backend, cfg ReaderConfig, lggr logger.Logger) (*Reader, error) {
	size := cfg.AddressCacheSize
	if size <= 0 {
		size = defaultAddressCacheSize
	}
	cache, err := lru.New(size)
	if err != nil {
		return nil, err
	}

	return &Reader{
		backend:   b,
		cfg:       cfg,
		lggr:      lggr.Named("safe"),
		addrCache: cache,
	}, nil
}

// Chains returns the configured chains.
func (r *Reader) Chains() evm.Chains {
	return r.cfg.Chains
}

// Safe fetches the safe at address. Concurrent calls for the same address share one request,
// which outlives a caller giving up so the others still get its result.
func (r *Reader) Safe(ctx context.Context, address common.Address) (Safe, error) {
	ch := r.safeGroup.DoChan(address.Hex(), func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), safeFetchTimeout)
		defer cancel()

		rec, err := r.backend.GetSafe(fctx, address)
		if err != nil {
			return nil, err
		}

		return FromRecord(rec)
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("failed to fetch safe %s: %w", address.Hex(), ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, fmt.Errorf("failed to fetch safe %s: %w", address.Hex(), res.Err)
		}

		return res.Val.(Safe), nil
	}
}

// Safes fetches every safe of owner.
func (r *Reader) Safes(ctx context.Context, owner common.Address) ([]Safe, error) {
	recs, err := r.backend.GetSafes(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch safes of %s: %w", owner.Hex(), err)
	}

	out := make([]Safe, 0, len(recs))
	for i := range recs {
		s, err := FromRecord(&recs[i])
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}

	return out, nil
}

// ComputeAddress returns the deterministic safe address of owner. Index 0 with legacy set uses the
// legacy computeAddress view, any other request uses computeAvocado.
func (r *Reader) ComputeAddress(ctx context.Context, owner common.Address, index uint32, legacy bool) (common.Address, error) {
	key := fmt.Sprintf("%s/%d/%t", owner.Hex(), index, legacy)
	if v, ok := r.addrCache.Get(key); ok {
		return v.(common.Address), nil
	}

	ch, err := r.cfg.Chains.Get(r.cfg.AddressChainID)
	if err != nil {
		return common.Address{}, err
	}
	factory := bind.NewBoundContract(r.cfg.FactoryAddress, FactoryABI, ch.Client, nil, nil)

	var out []any
	if legacy {
		err = factory.Call(&bind.CallOpts{Context: ctx}, &out, "computeAddress", owner)
	} else {
		err = factory.Call(&bind.CallOpts{Context: ctx}, &out, "computeAvocado", owner, index)
	}
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to compute safe address of %s on %s: %w", owner.Hex(), ch, err)
	}

	addr, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("unexpected factory output %T", out[0])
	}
	r.addrCache.Add(key, addr)

	return addr, nil
}

// RequiredSigners reads the signature threshold of a multisig safe.
func (r *Reader) RequiredSigners(ctx context.Context, chainID uint64, address common.Address) (int, error) {
	var out []any
	if err := r.call(ctx, chainID, address, &out, "requiredSigners"); err != nil {
		return 0, err
	}

	n, ok := out[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("unexpected requiredSigners output %T", out[0])
	}

	return int(n), nil
}

// OnchainSigners reads the signer set of a multisig safe.
func (r *Reader) OnchainSigners(ctx context.Context, chainID uint64, address common.Address) ([]common.Address, error) {
	var out []any
	if err := r.call(ctx, chainID, address, &out, "signers"); err != nil {
		return nil, err
	}

	signers, ok := out[0].([]common.Address)
	if !ok {
		return nil, fmt.Errorf("unexpected signers output %T", out[0])
	}

	return signers, nil
}

// Nonce reads the current sequential nonce of the safe on the chain.
func (r *Reader) Nonce(ctx context.Context, s Safe, chainID uint64) (*big.Int, error) {
	switch v := s.(type) {
	case *Legacy:
		return r.LegacyNonce(ctx, chainID, v.Address)
	case *Multisig:
		return r.MultisigNonce(ctx, chainID, v.Address)
	default:
		return nil, fmt.Errorf("unsupported safe type %T", s)
	}
}

// MultisigNonce reads avoNonce of a multisig safe. Undeployed safes start at zero.
func (r *Reader) MultisigNonce(ctx context.Context, chainID uint64, address common.Address) (*big.Int, error) {
	var out []any
	err := r.call(ctx, chainID, address, &out, "avoNonce")
	if errors.Is(err, bind.ErrNoCode) {
		return new(big.Int), nil
	}
	if err != nil {
		return nil, err
	}

	n, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected avoNonce output %T", out[0])
	}

	return n, nil
}

// LegacyNonce reads the nonce slot of a legacy safe. Undeployed safes read as zero.
func (r *Reader) LegacyNonce(ctx context.Context, chainID uint64, address common.Address) (*big.Int, error) {
	ch, err := r.cfg.Chains.Get(chainID)
	if err != nil {
		return nil, err
	}

	raw, err := ch.Client.StorageAt(ctx, address, r.cfg.LegacyNonceSlot, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to read nonce of %s on %s: %w", address.Hex(), ch, err)
	}

	return new(big.Int).SetBytes(raw), nil
}

// Version reads the implementation version of the safe. Any failure, including an undeployed
// safe, yields UnknownVersion and Deployed false.
func (r *Reader) Version(ctx context.Context, chainID uint64, address common.Address) Version {
	var out []any
	if err := r.call(ctx, chainID, address, &out, "DOMAIN_SEPARATOR_VERSION"); err != nil {
		r.lggr.Debugw("failed to read safe version", "chainID", chainID, "safe", address.Hex(), "err", err)
		return Version{Version: UnknownVersion}
	}

	v, ok := out[0].(string)
	if !ok || v == "" {
		return Version{Version: UnknownVersion}
	}

	return Version{Version: v, Deployed: true}
}

func (r *Reader) call(ctx context.Context, chainID uint64, address common.Address, out *[]any, method string, args ...any) error {
	ch, err := r.cfg.Chains.Get(chainID)
	if err != nil {
		return err
	}

	contract := bind.NewBoundContract(address, WalletABI, ch.Client, nil, nil)
	if err := contract.Call(&bind.CallOpts{Context: ctx}, out, method, args...); err != nil {
		return fmt.Errorf("%s of %s on %s: %w", method, address.Hex(), ch, err)
	}

	return nil
}
