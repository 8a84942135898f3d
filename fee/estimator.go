package fee

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/raulk/clock"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"

	"github.com/avocado-safe/avocado-core/backend"
	"github.com/avocado-safe/avocado-core/chain/evm"
	"github.com/avocado-safe/avocado-core/internal/fanout"
	"github.com/avocado-safe/avocado-core/internal/supersede"
	"github.com/avocado-safe/avocado-core/payload"
	"github.com/avocado-safe/avocado-core/pkg/logger"
	"github.com/avocado-safe/avocado-core/safe"
)

// Backend estimates fees and reads gas balances.
type Backend interface {
	EstimateFee(ctx context.Context, multisig bool, params backend.EstimateFeeParams) (*backend.FeeEstimate, error)
	GasBalance(ctx context.Context, owner common.Address) (*big.Int, error)
}

// Builder builds the cast an estimate is requested for.
type Builder interface {
	Build(ctx context.Context, s safe.Safe, req payload.Request) (*payload.TypedData, error)
}

// Request is one cast to estimate.
type Request struct {
	ChainID uint64
	Actions []safe.Action
	Options payload.Options
}

// Result holds the estimates that succeeded, in request order, and the combined errors of the
// ones that failed, each prefixed with the chain name.
type Result struct {
	Data []Estimate
	Err  error
}

// Config configures an Estimator.
type Config struct {
	// ChainName names chains in errors. Nil uses the chain-selectors name.
	ChainName  func(chainID uint64) string
	Promotions []Promotion
	Clock      clock.Clock
	// Concurrency bounds parallel estimates. Zero estimates every request at once.
	Concurrency int
}

// Estimator estimates the fees of casts on many chains.
type Estimator struct {
	backend Backend
	builder Builder
	cfg     Config
	lggr    logger.Logger

	latest supersede.Group
}

// NewEstimator returns an Estimator.
func NewEstimator(b Backend, builder Builder, cfg Config, lggr logger.Logger) *Estimator {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.ChainName == nil {
		cfg.ChainName = evm.Chains{}.Name
	}

	return &Estimator{backend: b, builder: builder, cfg: cfg, lggr: lggr.Named("fee")}
}

// Estimate estimates every request concurrently. A failing request never discards the others.
func (e *Estimator) Estimate(ctx context.Context, s safe.Safe, reqs []Request) Result {
	results := fanout.AllSettled(ctx, e.cfg.Concurrency, reqs, func(ctx context.Context, req Request) (Estimate, error) {
		return e.estimate(ctx, s, req)
	})

	var out Result
	for _, res := range results {
		if res.Err != nil {
			out.Err = multierr.Append(out.Err, fmt.Errorf("%s: %w", e.cfg.ChainName(res.Item.ChainID), res.Err))
			continue
		}
		out.Data = append(out.Data, res.Value)
	}
	if out.Err != nil {
		e.lggr.Warnw("fee estimation partially failed", "safe", s.SafeInfo().Address.Hex(), "err", out.Err)
	}

	return out
}

// Latest runs Estimate as the current request for key. A newer call with the same key aborts
// this one, which then returns supersede.ErrSuperseded.
func (e *Estimator) Latest(ctx context.Context, key string, s safe.Safe, reqs []Request) (Result, error) {
	return supersede.Run(ctx, &e.latest, key, func(ctx context.Context) (Result, error) {
		res := e.Estimate(ctx, s, reqs)
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}

		return res, nil
	})
}

func (e *Estimator) estimate(ctx context.Context, s safe.Safe, req Request) (Estimate, error) {
	td, err := e.builder.Build(ctx, s, payload.Request(req))
	if err != nil {
		return Estimate{}, err
	}

	info := s.SafeInfo()
	_, multisig := s.(*safe.Multisig)
	raw, err := e.backend.EstimateFee(ctx, multisig, backend.EstimateFeeParams{
		Message:       td.Message(),
		Owner:         info.Owner,
		Safe:          info.Address,
		Index:         backend.IndexString(info.Index),
		TargetChainID: fmt.Sprintf("%d", req.ChainID),
	})
	if err != nil {
		return Estimate{}, err
	}

	return Compute(req.ChainID, raw, e.cfg.Promotions, e.cfg.Clock)
}

// Balance returns the prepaid gas balance of owner.
func (e *Estimator) Balance(ctx context.Context, owner common.Address) (decimal.Decimal, error) {
	wei, err := e.backend.GasBalance(ctx, owner)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to read gas balance: %w", err)
	}

	return FromWei(wei), nil
}

// Affordability reads the gas balance of the safe owner and checks it against the estimates.
func (e *Estimator) Affordability(ctx context.Context, s safe.Safe, estimates []Estimate) (Verdict, error) {
	balance, err := e.Balance(ctx, s.SafeInfo().Owner)
	if err != nil {
		return Verdict{}, err
	}

	return Check(balance, estimates), nil
}
