// Package supersede keeps at most one in-flight request per logical query key. Starting a new
// request for a key aborts the previous one, so a slow stale response can never overwrite the
// result of a newer request.
package supersede

import (
	"context"
	"errors"
	"sync"
)

// ErrSuperseded is returned by Run when a newer request for the same key started before the
// current one finished.
var ErrSuperseded = errors.New("superseded by a newer request")

// Group tracks the in-flight request of every key. The zero value is ready to use.
type Group struct {
	mu       sync.Mutex
	seq      uint64
	inflight map[string]inflight
}

type inflight struct {
	seq    uint64
	cancel context.CancelCauseFunc
}

// Begin cancels the in-flight request for key, if any, and returns the context of the new
// request. done must be called when the request finishes; it releases the key only if no newer
// request replaced it.
func (g *Group) Begin(ctx context.Context, key string) (context.Context, func()) {
	ctx, cancel := context.WithCancelCause(ctx)

	g.mu.Lock()
	if g.inflight == nil {
		g.inflight = make(map[string]inflight)
	}
	if prev, ok := g.inflight[key]; ok {
		prev.cancel(ErrSuperseded)
	}
	g.seq++
	seq := g.seq
	g.inflight[key] = inflight{seq: seq, cancel: cancel}
	g.mu.Unlock()

	done := func() {
		g.mu.Lock()
		if cur, ok := g.inflight[key]; ok && cur.seq == seq {
			delete(g.inflight, key)
		}
		g.mu.Unlock()
		cancel(context.Canceled)
	}

	return ctx, done
}

// InFlight reports whether a request for key is running.
func (g *Group) InFlight(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	_, ok := g.inflight[key]

	return ok
}

// Run executes fn as the current request for key. If a newer request for the key starts before
// fn returns, Run returns ErrSuperseded and discards fn's result.
func Run[T any](ctx context.Context, g *Group, key string, fn func(context.Context) (T, error)) (T, error) {
	rctx, done := g.Begin(ctx, key)
	defer done()

	out, err := fn(rctx)
	if errors.Is(context.Cause(rctx), ErrSuperseded) {
		var zero T
		return zero, ErrSuperseded
	}

	return out, err
}
