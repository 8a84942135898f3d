// Package connector carries wallet connector events to the services that react to them and
// pairs external wallets with a bounded timeout.
package connector

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/avocado-safe/avocado-core/chain/evm/provider"
	"github.com/avocado-safe/avocado-core/pkg/logger"
)

// EventKind is the kind of a connector event.
type EventKind int

const (
	ChainChanged EventKind = iota + 1
	AccountsChanged
	Disconnected
)

func (k EventKind) String() string {
	switch k {
	case ChainChanged:
		return "chain-changed"
	case AccountsChanged:
		return "accounts-changed"
	case Disconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is emitted by a wallet connector. ChainID is set for ChainChanged and Accounts for
// AccountsChanged.
type Event struct {
	Kind     EventKind
	ChainID  uint64
	Accounts []common.Address
}

// ErrClosed is returned when publishing on a closed Bus.
var ErrClosed = errors.New("connector bus closed")

// Bus delivers every published event to every subscriber in publish order.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
	closed bool
	lggr   logger.Logger
}

// NewBus returns an empty Bus.
func NewBus(lggr logger.Logger) *Bus {
	return &Bus{subs: map[int]chan Event{}, lggr: lggr.Named("connector")}
}

// Subscribe returns a channel receiving the events published from now on and a function
// ending the subscription. The channel is closed when the subscription ends or the bus closes.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
}

// Publish delivers ev to every subscriber, waiting for slow subscribers until ctx is done.
func (b *Bus) Publish(ctx context.Context, ev Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrClosed
	}

	b.lggr.Debugw("connector event", "kind", ev.Kind, "chainID", ev.ChainID, "accounts", len(ev.Accounts))
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return nil
}

// Close ends every subscription.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}

// DefaultPairTimeout bounds a wallet pairing round trip.
const DefaultPairTimeout = 5 * time.Second

// ErrPairTimeout is returned when the wallet did not answer in time.
var ErrPairTimeout = errors.New("wallet pairing timed out")

// Session is a paired wallet.
type Session struct {
	Accounts []common.Address
	ChainID  uint64
	// Sign is the signing capability of the wallet.
	Sign provider.SignFunc
}

// Signer returns a typed-data signer for one of the session accounts.
func (s *Session) Signer(account common.Address) (*provider.ExternalSigner, error) {
	if !slices.Contains(s.Accounts, account) {
		return nil, fmt.Errorf("account %s is not connected", account.Hex())
	}
	if s.Sign == nil {
		return nil, errors.New("wallet session cannot sign")
	}

	return provider.NewExternalSigner(account, s.Sign), nil
}

// Pairer pairs with an external wallet.
type Pairer interface {
	Pair(ctx context.Context) (*Session, error)
}

// Pair pairs with the wallet, abandoning the attempt after timeout. A zero timeout uses
// DefaultPairTimeout.
func Pair(ctx context.Context, p Pairer, timeout time.Duration) (*Session, error) {
	if timeout <= 0 {
		timeout = DefaultPairTimeout
	}
	ctx, cancel := context.WithTimeoutCause(ctx, timeout, ErrPairTimeout)
	defer cancel()

	type result struct {
		s   *Session
		err error
	}
	done := make(chan result, 1)
	go func() {
		s, err := p.Pair(ctx)
		done <- result{s, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			if errors.Is(context.Cause(ctx), ErrPairTimeout) {
				return nil, ErrPairTimeout
			}

			return nil, fmt.Errorf("failed to pair wallet: %w", r.err)
		}
		if len(r.s.Accounts) == 0 {
			return nil, errors.New("wallet returned no accounts")
		}

		return r.s, nil
	case <-ctx.Done():
		if errors.Is(context.Cause(ctx), ErrPairTimeout) {
			return nil, ErrPairTimeout
		}

		return nil, ctx.Err()
	}
}
