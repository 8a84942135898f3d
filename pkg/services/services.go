// Package services builds the Avocado services from configuration.
package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/raulk/clock"

	"github.com/avocado-safe/avocado-core/backend"
	"github.com/avocado-safe/avocado-core/chain/evm"
	evmprov "github.com/avocado-safe/avocado-core/chain/evm/provider"
	"github.com/avocado-safe/avocado-core/config"
	"github.com/avocado-safe/avocado-core/config/network"
	"github.com/avocado-safe/avocado-core/connector"
	"github.com/avocado-safe/avocado-core/fee"
	"github.com/avocado-safe/avocado-core/mfa"
	"github.com/avocado-safe/avocado-core/multisig"
	"github.com/avocado-safe/avocado-core/payload"
	"github.com/avocado-safe/avocado-core/pkg/logger"
	"github.com/avocado-safe/avocado-core/safe"
	"github.com/avocado-safe/avocado-core/session"
	"github.com/avocado-safe/avocado-core/signers"
)

// Services holds every service of the core, wired together.
type Services struct {
	Config    *config.Config
	Chains    evm.Chains
	Backend   *backend.Client
	Proposals *backend.ProposalsClient
	Reader    *safe.Reader
	Builder   *payload.Builder
	Resolver  *signers.Resolver
	Fee       *fee.Estimator
	MFA       *mfa.Engine
	Multisig  *multisig.Orchestrator
	Store     session.Store
	// Events carries wallet connector events to the multisig orchestrator.
	Events *connector.Bus

	pairer connector.Pairer
	mu     sync.Mutex
	wallet *connector.Session

	closers []func()
}

// Option customizes how services are built.
type Option func(*options)

type options struct {
	prompter  mfa.CodePrompter
	registry  prometheus.Registerer
	clock     clock.Clock
	proposals []backend.ProposalsOption
	pairer    connector.Pairer
}

// WithPrompter sets the prompter MFA codes are asked with. Without it every code prompt is
// cancelled.
func WithPrompter(p mfa.CodePrompter) Option {
	return func(o *options) {
		o.prompter = p
	}
}

// WithRegistry registers the multisig metrics with reg.
func WithRegistry(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registry = reg
	}
}

// WithClock replaces the wall clock.
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

// WithProposalsOptions configures the proposals API client.
func WithProposalsOptions(opts ...backend.ProposalsOption) Option {
	return func(o *options) {
		o.proposals = append(o.proposals, opts...)
	}
}

// WithWallet sets the external wallet ConnectWallet pairs with.
func WithWallet(p connector.Pairer) Option {
	return func(o *options) {
		o.pairer = p
	}
}

var noPrompter = mfa.PromptFunc(func(context.Context, mfa.Prompt) (string, error) {
	return "", mfa.ErrUserCancelled
})

// New validates cfg, dials the configured chains and the backend, and wires the services.
func New(ctx context.Context, cfg *config.Config, lggr logger.Logger, opts ...Option) (*Services, error) {
	o := options{prompter: noPrompter, clock: clock.New()}
	for _, opt := range opts {
		opt(&o)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	s := &Services{Config: cfg, pairer: o.pairer}
	ok := false
	defer func() {
		if !ok {
			s.Close()
		}
	}()

	netCfg, err := network.Load(cfg.Avocado.NetworksPaths,
		network.WithURLTransformer(network.ExpandEnv),
	)
	if err != nil {
		return nil, err
	}

	s.Chains, err = netCfg.LoadChains(ctx, lggr)
	if err != nil {
		return nil, err
	}

	client, rc, err := backend.Dial(ctx, cfg.Backend.RPCURL, lggr)
	if err != nil {
		return nil, err
	}
	s.Backend = client
	s.closers = append(s.closers, rc.Close)

	s.Proposals = backend.NewProposalsClient(cfg.Backend.ProposalsURL, lggr, o.proposals...)

	factory, err := cfg.Avocado.Factory()
	if err != nil {
		return nil, err
	}
	s.Reader, err = safe.NewReader(client, safe.ReaderConfig{
		Chains:          s.Chains,
		FactoryAddress:  factory,
		AddressChainID:  cfg.Avocado.ChainID,
		LegacyNonceSlot: cfg.Avocado.NonceSlot(),
	}, lggr)
	if err != nil {
		return nil, fmt.Errorf("failed to create safe reader: %w", err)
	}

	s.Builder = payload.NewBuilder(s.Reader, payload.Config{
		AvocadoChainID: cfg.Avocado.ChainID,
		LatestVersion:  cfg.Avocado.LegacyLatestVersion,
	}, lggr)

	s.Resolver = signers.NewResolver(s.Reader, signers.Config{
		ChainIDs:    s.Chains.IDs(),
		ReadTimeout: cfg.Signers.ReadTimeout,
		Concurrency: cfg.Signers.Concurrency,
	}, lggr)

	promotions, err := cfg.Fee.FeePromotions()
	if err != nil {
		return nil, err
	}
	s.Fee = fee.NewEstimator(client, s.Builder, fee.Config{
		ChainName:   s.Chains.Name,
		Promotions:  promotions,
		Clock:       o.clock,
		Concurrency: cfg.Fee.Concurrency,
	}, lggr)

	if cfg.Session.Path != "" {
		s.Store, err = session.OpenFileStore(cfg.Session.Path)
		if err != nil {
			return nil, err
		}
	} else {
		s.Store = session.NewMemoryStore()
	}

	threshold, err := cfg.MFA.Threshold()
	if err != nil {
		return nil, err
	}
	s.MFA = mfa.NewEngine(client, s.Store, o.prompter, mfa.Config{
		AvocadoChainID:   cfg.Avocado.ChainID,
		MaxFallbackDepth: cfg.MFA.MaxFallbackDepth,
		SignatureTTL:     cfg.MFA.SignatureTTL,
		TokenTTL:         cfg.MFA.TokenTTL,
		PromptTimeout:    cfg.MFA.PromptTimeout,
		StepUpThreshold:  threshold,
		Clock:            o.clock,
	}, lggr)

	metrics, err := multisig.NewMetrics(o.registry)
	if err != nil {
		return nil, err
	}
	s.Multisig, err = multisig.New(multisig.Deps{
		Builder:     s.Builder,
		Resolver:    s.Resolver,
		Proposals:   s.Proposals,
		Broadcaster: client,
		MFA:         s.MFA,
		Store:       s.Store,
	}, multisig.Config{
		PollInterval: cfg.Multisig.PollInterval,
		Clock:        o.clock,
		ChainName:    s.Chains.Name,
		Metrics:      metrics,
	}, lggr)
	if err != nil {
		return nil, err
	}

	s.Events = connector.NewBus(lggr)
	events, _ := s.Events.Subscribe(eventsBuffer)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := s.Multisig.Watch(context.WithoutCancel(ctx), events); err != nil {
			lggr.Warnw("connector watch stopped", "err", err)
		}
	}()
	s.closers = append(s.closers, func() {
		s.Events.Close()
		<-done
	})

	ok = true

	return s, nil
}

const eventsBuffer = 16

// Signer returns the first account of the connected wallet, or the signer configured for the
// operator when no wallet is connected.
func (s *Services) Signer() (evmprov.TypedDataSigner, error) {
	s.mu.Lock()
	w := s.wallet
	s.mu.Unlock()
	if w != nil {
		return w.Signer(w.Accounts[0])
	}

	gen, err := s.Config.Signer.Generator()
	if err != nil {
		return nil, err
	}

	return gen.Generate()
}

// Close stops the connector watch and releases the backend connection.
func (s *Services) Close() {
	for _, c := range s.closers {
		c()
	}
	s.closers = nil
}
