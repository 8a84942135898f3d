package multisig

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/avocado-safe/avocado-core/connector"
)

// Watch reacts to wallet connector events until ctx is done or events is closed. A disconnect
// terminates the MFA sessions of every safe the orchestrator worked with, an account change drops
// the cached thresholds.
func (o *Orchestrator) Watch(ctx context.Context, events <-chan connector.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			o.handle(ev)
		}
	}
}

func (o *Orchestrator) handle(ev connector.Event) {
	switch ev.Kind {
	case connector.Disconnected:
		o.mu.Lock()
		safes := o.safes
		o.safes = make(map[common.Address]struct{})
		o.mu.Unlock()

		if o.mfa == nil {
			return
		}
		for addr := range safes {
			if err := o.mfa.TerminateToken(addr); err != nil {
				o.lggr.Warnw("failed to terminate mfa session", "safe", addr.Hex(), "err", err)
			}
		}
		o.lggr.Infow("wallet disconnected", "safes", len(safes))
	case connector.AccountsChanged:
		o.resolver.InvalidateAll()
		o.lggr.Infow("wallet accounts changed", "accounts", len(ev.Accounts))
	case connector.ChainChanged:
		o.lggr.Infow("wallet chain changed", "chainID", ev.ChainID)
	}
}
