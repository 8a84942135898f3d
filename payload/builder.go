// Package payload builds the EIP-712 typed data of Avocado casts.
package payload

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/ethereum/go-ethereum/common"

	"github.com/avocado-safe/avocado-core/chain/evm/provider"
	"github.com/avocado-safe/avocado-core/internal/keylock"
	"github.com/avocado-safe/avocado-core/pkg/logger"
	"github.com/avocado-safe/avocado-core/safe"
)

// DefaultLatestVersion is used for legacy safes whose version cannot be read.
const DefaultLatestVersion = "3.0.0"

var v3 = semver.MustParse("3.0.0")

// ChainReader reads the live state a cast depends on.
type ChainReader interface {
	Nonce(ctx context.Context, s safe.Safe, chainID uint64) (*big.Int, error)
	Version(ctx context.Context, chainID uint64, address common.Address) safe.Version
}

// Config configures a Builder.
type Config struct {
	// AvocadoChainID is the domain chain id. Zero uses AvocadoChainID.
	AvocadoChainID uint64
	// LatestVersion is the domain version of undeployed legacy safes. Empty uses
	// DefaultLatestVersion.
	LatestVersion string
}

// Request describes the cast to build.
type Request struct {
	ChainID uint64
	Actions []safe.Action
	Options Options
}

// Builder builds casts from live chain state. Nonce reads, building and signing for one safe on
// one chain are serialized.
//
// A nonce signed by BuildAndSign stays reserved until the live nonce moves past it, so casts
// signed before the previous one landed on chain get the next nonce. Release gives back the
// nonce of a cast that was never submitted.
type Builder struct {
	reader ChainReader
	cfg    Config
	locks  keylock.Map
	lggr   logger.Logger

	mu sync.Mutex
	// reserved is the highest nonce signed per safe and chain.
	reserved map[string]*big.Int
}

// NewBuilder returns a Builder.
func NewBuilder(reader ChainReader, cfg Config, lggr logger.Logger) *Builder {
	if cfg.AvocadoChainID == 0 {
		cfg.AvocadoChainID = AvocadoChainID
	}
	if cfg.LatestVersion == "" {
		cfg.LatestVersion = DefaultLatestVersion
	}

	return &Builder{reader: reader, cfg: cfg, lggr: lggr.Named("payload"), reserved: map[string]*big.Int{}}
}

// AvocadoChainID returns the domain chain id.
func (b *Builder) AvocadoChainID() uint64 {
	return b.cfg.AvocadoChainID
}

// Build reads the nonce and version of the safe and builds the cast.
func (b *Builder) Build(ctx context.Context, s safe.Safe, req Request) (*TypedData, error) {
	if len(req.Actions) == 0 {
		return nil, ErrNoActions
	}

	unlock, err := b.lock(ctx, s, req.ChainID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	return b.build(ctx, s, req)
}

// BuildAndSign builds the cast and signs it while holding the lock of the safe and chain, so no
// other cast can be built on the same nonce in the meantime. The recovered signer is checked
// against the signer address.
func (b *Builder) BuildAndSign(ctx context.Context, s safe.Safe, req Request, signer provider.TypedDataSigner) (*TypedData, []byte, error) {
	if len(req.Actions) == 0 {
		return nil, nil, ErrNoActions
	}

	unlock, err := b.lock(ctx, s, req.ChainID)
	if err != nil {
		return nil, nil, err
	}
	defer unlock()

	td, err := b.build(ctx, s, req)
	if err != nil {
		return nil, nil, err
	}

	sig, err := Sign(ctx, td, signer)
	if err != nil {
		return nil, nil, err
	}
	if req.Options.Nonce == nil {
		b.reserve(key(s, req.ChainID), td.Input.Nonce)
	}

	return td, sig, nil
}

// Release gives back a nonce reserved by BuildAndSign when its cast was not submitted. Only the
// latest reservation can be released; earlier ones are left to expire with the live nonce.
func (b *Builder) Release(s safe.Safe, chainID uint64, nonce *big.Int) {
	if nonce == nil {
		return
	}
	k := key(s, chainID)

	b.mu.Lock()
	defer b.mu.Unlock()

	r, ok := b.reserved[k]
	if !ok {
		return
	}
	if r.Cmp(nonce) != 0 {
		b.lggr.Warnw("cannot release nonce, a later cast holds a reservation",
			"safe", s.SafeInfo().Address.Hex(), "chainID", chainID, "nonce", nonce, "reserved", r)
		return
	}
	b.reserved[k] = new(big.Int).Sub(r, big.NewInt(1))
}

func (b *Builder) reserve(k string, nonce *big.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if r, ok := b.reserved[k]; !ok || r.Cmp(nonce) < 0 {
		b.reserved[k] = new(big.Int).Set(nonce)
	}
}

// next returns the nonce to build with given the live one: live, unless a cast signed on or
// after it has not landed yet.
func (b *Builder) next(k string, live *big.Int) *big.Int {
	b.mu.Lock()
	defer b.mu.Unlock()

	r, ok := b.reserved[k]
	if !ok {
		return live
	}
	if r.Cmp(live) < 0 {
		delete(b.reserved, k)
		return live
	}

	return new(big.Int).Add(r, big.NewInt(1))
}

// Sign signs td and checks the signature recovers to the signer.
func Sign(ctx context.Context, td *TypedData, signer provider.TypedDataSigner) ([]byte, error) {
	sig, err := signer.SignTypedData(ctx, &td.Data)
	if err != nil {
		return nil, err
	}

	recovered, err := td.Recover(sig)
	if err != nil {
		return nil, err
	}
	if recovered != signer.Address() {
		return nil, fmt.Errorf("signature recovers to %s, expected %s", recovered.Hex(), signer.Address().Hex())
	}

	return sig, nil
}

func (b *Builder) lock(ctx context.Context, s safe.Safe, chainID uint64) (func(), error) {
	return b.locks.Lock(ctx, key(s, chainID))
}

func key(s safe.Safe, chainID uint64) string {
	return safe.Identity(s) + "@" + strconv.FormatUint(chainID, 10)
}

func (b *Builder) build(ctx context.Context, s safe.Safe, req Request) (*TypedData, error) {
	info := s.SafeInfo()

	format, version, err := b.format(ctx, s, req.ChainID)
	if err != nil {
		return nil, err
	}

	nonce := req.Options.Nonce
	if nonce == nil {
		live, err := b.reader.Nonce(ctx, s, req.ChainID)
		if err != nil {
			return nil, fmt.Errorf("failed to read nonce: %w", err)
		}
		nonce = b.next(key(s, req.ChainID), live)
	}

	td, err := Assemble(Input{
		Format:         format,
		Safe:           info.Address,
		ChainID:        req.ChainID,
		AvocadoChainID: b.cfg.AvocadoChainID,
		Version:        version,
		Nonce:          nonce,
		Actions:        req.Actions,
		Options:        req.Options,
	})
	if err != nil {
		return nil, err
	}

	b.lggr.Debugw("built cast",
		"safe", info.Address.Hex(), "chainID", req.ChainID, "format", format.String(),
		"nonce", nonce.String(), "digest", td.Digest.Hex())

	return td, nil
}

// format selects the layout from the safe kind and, for legacy safes, the live implementation
// version.
func (b *Builder) format(ctx context.Context, s safe.Safe, chainID uint64) (Format, string, error) {
	switch v := s.(type) {
	case *safe.Multisig:
		return FormatMultisig, MultisigDomainVersion, nil
	case *safe.Legacy:
		version := b.reader.Version(ctx, chainID, v.Address)
		raw := version.Version
		if !version.Deployed || raw == safe.UnknownVersion {
			raw = b.cfg.LatestVersion
		}

		parsed, err := semver.NewVersion(raw)
		if err != nil {
			return 0, "", fmt.Errorf("invalid safe version %q: %w", raw, err)
		}
		if parsed.LessThan(v3) {
			return FormatLegacyV2, raw, nil
		}

		return FormatV3, raw, nil
	default:
		return 0, "", errors.New("unsupported safe type")
	}
}
