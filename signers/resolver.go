// Package signers resolves how many signatures a safe needs on every chain.
//
// Threshold reads fail open: when requiredSigners() cannot be read the threshold is 1, so a
// transient RPC failure never blocks a user from transacting. The read error is kept on the
// result for callers that want to surface it.
package signers

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/avocado-safe/avocado-core/internal/fanout"
	"github.com/avocado-safe/avocado-core/pkg/logger"
	"github.com/avocado-safe/avocado-core/safe"
)

// DefaultReadTimeout bounds each per-chain threshold read.
const DefaultReadTimeout = 5 * time.Second

// ThresholdReader reads the on-chain threshold of a multisig safe.
type ThresholdReader interface {
	RequiredSigners(ctx context.Context, chainID uint64, address common.Address) (int, error)
}

// RequiredSigners is the signature requirement of a safe on one chain.
type RequiredSigners struct {
	ChainID             uint64
	RequiredSignerCount int
	SignerCount         int
	Signers             []common.Address
	// Err is the threshold read error when the fail-open default was used.
	Err error
}

// Config configures a Resolver.
type Config struct {
	ChainIDs    []uint64
	ReadTimeout time.Duration
	// Concurrency bounds parallel chain reads. Zero reads every chain at once.
	Concurrency int
}

// Resolver resolves and caches the required signers of safes.
type Resolver struct {
	reader ThresholdReader
	cfg    Config
	lggr   logger.Logger

	mu    sync.Mutex
	cache map[string]map[uint64]RequiredSigners
}

// NewResolver returns a Resolver over the configured chains.
func NewResolver(reader ThresholdReader, cfg Config, lggr logger.Logger) *Resolver {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	cfg.ChainIDs = slices.Clone(cfg.ChainIDs)
	slices.Sort(cfg.ChainIDs)

	return &Resolver{
		reader: reader,
		cfg:    cfg,
		lggr:   lggr.Named("signers"),
		cache:  map[string]map[uint64]RequiredSigners{},
	}
}

// ChainIDs returns the configured chains in ascending order.
func (r *Resolver) ChainIDs() []uint64 {
	return slices.Clone(r.cfg.ChainIDs)
}

// RequiredSigners resolves the requirement of the safe on every configured chain. Chains are
// read in parallel and a failing chain never affects the others. Results follow ChainIDs order.
func (r *Resolver) RequiredSigners(ctx context.Context, s safe.Safe) []RequiredSigners {
	results := fanout.AllSettled(ctx, r.cfg.Concurrency, r.cfg.ChainIDs,
		func(ctx context.Context, chainID uint64) (RequiredSigners, error) {
			return r.ForChain(ctx, s, chainID), nil
		})

	out := make([]RequiredSigners, 0, len(results))
	for _, res := range results {
		if res.Err != nil {
			out = append(out, r.failOpen(s, res.Item, res.Err))
			continue
		}
		out = append(out, res.Value)
	}

	return out
}

// ForChain resolves the requirement of the safe on one chain.
func (r *Resolver) ForChain(ctx context.Context, s safe.Safe, chainID uint64) RequiredSigners {
	info := s.SafeInfo()

	switch s.(type) {
	case *safe.Legacy:
		return RequiredSigners{
			ChainID:             chainID,
			RequiredSignerCount: 1,
			SignerCount:         1,
			Signers:             []common.Address{info.Owner},
		}
	case *safe.Multisig:
	default:
		return RequiredSigners{ChainID: chainID, RequiredSignerCount: 1, SignerCount: 1}
	}

	key := safe.Identity(s)
	if cached, ok := r.cached(key, chainID); ok {
		return cached
	}

	readCtx, cancel := context.WithTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	required, err := r.reader.RequiredSigners(readCtx, chainID, info.Address)
	if err != nil {
		return r.failOpen(s, chainID, err)
	}
	if required < 1 {
		required = 1
	}

	signers := info.SignersOn(chainID)
	res := RequiredSigners{
		ChainID:             chainID,
		RequiredSignerCount: required,
		SignerCount:         max(1, len(signers)),
		Signers:             signers,
	}
	r.store(key, res)

	return res
}

func (r *Resolver) failOpen(s safe.Safe, chainID uint64, err error) RequiredSigners {
	info := s.SafeInfo()
	r.lggr.Warnw("failed to read required signers, defaulting to 1",
		"safe", info.Address.Hex(), "chainID", chainID, "err", err)

	signers := info.SignersOn(chainID)

	return RequiredSigners{
		ChainID:             chainID,
		RequiredSignerCount: 1,
		SignerCount:         max(1, len(signers)),
		Signers:             signers,
		Err:                 err,
	}
}

// Invalidate drops the cached requirements of the safe.
func (r *Resolver) Invalidate(s safe.Safe) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.cache, safe.Identity(s))
}

// InvalidateAll drops every cached requirement.
func (r *Resolver) InvalidateAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	clear(r.cache)
}

func (r *Resolver) cached(key string, chainID uint64) (RequiredSigners, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	res, ok := r.cache[key][chainID]
	if ok {
		res.Signers = slices.Clone(res.Signers)
	}

	return res, ok
}

func (r *Resolver) store(key string, res RequiredSigners) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cache[key] == nil {
		r.cache[key] = map[uint64]RequiredSigners{}
	}
	res.Signers = slices.Clone(res.Signers)
	r.cache[key][res.ChainID] = res
}

// IsAccountCanSign reports whether candidate may sign for the safe on the chain: the owner
// always can, other accounts must be registered signers of a multisig safe on that chain.
func IsAccountCanSign(s safe.Safe, chainID uint64, candidate common.Address) bool {
	info := s.SafeInfo()
	if candidate == info.Owner {
		return true
	}
	if _, ok := s.(*safe.Multisig); !ok {
		return false
	}

	return slices.Contains(info.Signers[chainID], candidate)
}

// AuthorisedNetworks returns the configured chains on which candidate may sign for the safe.
func (r *Resolver) AuthorisedNetworks(s safe.Safe, candidate common.Address) []uint64 {
	var out []uint64
	for _, id := range r.cfg.ChainIDs {
		if IsAccountCanSign(s, id, candidate) {
			out = append(out, id)
		}
	}

	return out
}
