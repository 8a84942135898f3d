package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"slices"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/google/uuid"

	"github.com/avocado-safe/avocado-core/pkg/logger"
)

// healthCheckTimeout bounds the eth_blockNumber probe run after dialing.
const healthCheckTimeout = 2 * time.Second

// RetryConfig bounds how hard a MultiClient tries each endpoint.
type RetryConfig struct {
	// Attempts and Delay apply per endpoint before failing over to the next one.
	Attempts uint
	Delay    time.Duration
	// Timeout bounds one call when the caller's context has no deadline.
	Timeout time.Duration

	DialAttempts uint
	DialDelay    time.Duration
	DialTimeout  time.Duration
}

// DefaultRetryConfig tries each endpoint once.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Attempts:     1,
		Delay:        time.Second,
		Timeout:      10 * time.Second,
		DialAttempts: 1,
		DialDelay:    time.Second,
		DialTimeout:  10 * time.Second,
	}
}

// WithRetryConfig overrides DefaultRetryConfig.
func WithRetryConfig(cfg RetryConfig) func(*MultiClient) {
	return func(mc *MultiClient) {
		mc.retry = cfg
	}
}

type endpoint struct {
	name   string
	client *ethclient.Client
}

var _ OnchainClient = (*MultiClient)(nil)

// MultiClient is a read-only chain client over several RPC endpoints. Calls go to the primary
// endpoint first and fail over in order. The endpoint which answered is promoted to primary.
// Reverts are returned as is, since every endpoint would answer the same.
type MultiClient struct {
	chainName string
	retry     RetryConfig
	lggr      logger.Logger

	mu sync.Mutex
	// endpoints[0] is the primary.
	endpoints []endpoint
}

// NewMultiClient dials every RPC of cfg, skipping the ones which cannot be dialed or fail the
// health check. At least one endpoint must be usable.
func NewMultiClient(lggr logger.Logger, cfg RPCConfig, opts ...func(*MultiClient)) (*MultiClient, error) {
	if len(cfg.RPCs) == 0 {
		return nil, errors.New("no RPCs provided, need at least one")
	}

	name := cfg.Name
	if name == "" {
		name = canonicalName(cfg.ChainID)
	}

	mc := &MultiClient{chainName: name, retry: DefaultRetryConfig(), lggr: lggr}
	for _, opt := range opts {
		opt(mc)
	}

	for _, r := range cfg.RPCs {
		client, err := mc.dial(r)
		if err != nil {
			lggr.Warnw("Skipping RPC", "chain", name, "chainID", cfg.ChainID, "rpc", r.Name, "err", err)
			continue
		}
		mc.endpoints = append(mc.endpoints, endpoint{name: r.Name, client: client})
	}

	if len(mc.endpoints) == 0 {
		return nil, fmt.Errorf("no usable RPC for chain %s", name)
	}

	return mc, nil
}

func (mc *MultiClient) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return call(ctx, mc, "eth_call", func(ctx context.Context, c *ethclient.Client) ([]byte, error) {
		return c.CallContract(ctx, msg, blockNumber)
	})
}

func (mc *MultiClient) CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error) {
	return call(ctx, mc, "eth_getCode", func(ctx context.Context, c *ethclient.Client) ([]byte, error) {
		return c.CodeAt(ctx, account, blockNumber)
	})
}

func (mc *MultiClient) StorageAt(ctx context.Context, account common.Address, key common.Hash, blockNumber *big.Int) ([]byte, error) {
	return call(ctx, mc, "eth_getStorageAt", func(ctx context.Context, c *ethclient.Client) ([]byte, error) {
		return c.StorageAt(ctx, account, key, blockNumber)
	})
}

func (mc *MultiClient) BlockNumber(ctx context.Context) (uint64, error) {
	return call(ctx, mc, "eth_blockNumber", func(ctx context.Context, c *ethclient.Client) (uint64, error) {
		return c.BlockNumber(ctx)
	})
}

// Close closes every endpoint.
func (mc *MultiClient) Close() {
	for _, ep := range mc.snapshot() {
		ep.client.Close()
	}
}

func call[T any](ctx context.Context, mc *MultiClient, method string, fn func(context.Context, *ethclient.Client) (T, error)) (T, error) {
	var (
		zero  T
		errs  error
		trace = uuid.NewString()
	)

	for _, ep := range mc.snapshot() {
		var out T
		err := retry.Do(func() error {
			cctx, cancel := withDefaultTimeout(ctx, mc.retry.Timeout)
			defer cancel()

			var err error
			out, err = fn(cctx, ep.client)

			return err
		},
			retry.Context(ctx),
			retry.Attempts(mc.retry.Attempts),
			retry.Delay(mc.retry.Delay),
			retry.LastErrorOnly(true),
			retry.RetryIf(retryable),
			retry.OnRetry(func(n uint, err error) {
				mc.lggr.Debugw("Retrying RPC call", "trace", trace, "chain", mc.chainName, "rpc", ep.name,
					"method", method, "attempt", n+1, "err", err)
			}),
		)
		if err == nil {
			mc.promote(ep)
			return out, nil
		}
		if !retryable(err) {
			return zero, err
		}
		if ctx.Err() != nil {
			return zero, errors.Join(err, ctx.Err())
		}

		mc.lggr.Warnw("RPC call failed, failing over", "trace", trace, "chain", mc.chainName, "rpc", ep.name,
			"method", method, "err", err)
		errs = errors.Join(errs, fmt.Errorf("rpc %s: %w", ep.name, err))
	}

	return zero, fmt.Errorf("%s failed on every RPC of chain %s: %w", method, mc.chainName, errs)
}

// retryable reports whether another attempt could succeed. An error carrying revert data is the
// outcome of the call itself.
func retryable(err error) bool {
	var de rpc.DataError
	if errors.As(err, &de) && de.ErrorData() != nil {
		return false
	}

	return true
}

func (mc *MultiClient) dial(r RPC) (*ethclient.Client, error) {
	url, err := r.ToEndpoint()
	if err != nil {
		return nil, err
	}

	var client *ethclient.Client
	err = retry.Do(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), mc.retry.DialTimeout)
		defer cancel()

		c, err := ethclient.DialContext(ctx, url)
		if err != nil {
			return err
		}

		hctx, hcancel := context.WithTimeout(ctx, healthCheckTimeout)
		defer hcancel()
		if _, err := c.BlockNumber(hctx); err != nil {
			c.Close()
			return fmt.Errorf("health check failed: %w", err)
		}
		client = c

		return nil
	},
		retry.Attempts(mc.retry.DialAttempts),
		retry.Delay(mc.retry.DialDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, fmt.Errorf("dial rpc %s of chain %s: %w", r.Name, mc.chainName, err)
	}

	return client, nil
}

// withDefaultTimeout applies timeout unless parent already has a deadline.
func withDefaultTimeout(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := parent.Deadline(); ok {
		return context.WithCancel(parent)
	}

	return context.WithTimeout(parent, timeout)
}

// promote moves ep to the front, keeping the order of the others.
func (mc *MultiClient) promote(ep endpoint) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	i := slices.IndexFunc(mc.endpoints, func(e endpoint) bool { return e.client == ep.client })
	if i <= 0 {
		return
	}

	mc.endpoints = slices.Insert(slices.Delete(mc.endpoints, i, i+1), 0, ep)
}

func (mc *MultiClient) snapshot() []endpoint {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	return slices.Clone(mc.endpoints)
}
