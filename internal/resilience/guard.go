package resilience

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/flanker/internal/announce"
	"github.com/MrWong99/flanker/internal/flagstore"
)

// GuardedStore is a [flagstore.Store] whose calls pass through a
// [CircuitBreaker]. While the breaker is open every call fails immediately
// with an error wrapping both [flagstore.ErrUnavailable] and
// [ErrCircuitOpen].
type GuardedStore struct {
	inner flagstore.Store
	cb    *CircuitBreaker
}

var _ flagstore.Store = (*GuardedStore)(nil)

// GuardStore wraps s with cb.
func GuardStore(s flagstore.Store, cb *CircuitBreaker) *GuardedStore {
	return &GuardedStore{inner: s, cb: cb}
}

// Get implements [flagstore.Store.Get].
func (g *GuardedStore) Get(ctx context.Context, key string) (int, bool, error) {
	var (
		v  int
		ok bool
	)
	err := g.cb.Execute(func() error {
		var err error
		v, ok, err = g.inner.Get(ctx, key)
		return err
	})
	return v, ok, g.wrap("get", err)
}

// Set implements [flagstore.Store.Set].
func (g *GuardedStore) Set(ctx context.Context, key string, value int) error {
	return g.wrap("set", g.cb.Execute(func() error { return g.inner.Set(ctx, key, value) }))
}

// Delete implements [flagstore.Store.Delete].
func (g *GuardedStore) Delete(ctx context.Context, key string) error {
	return g.wrap("delete", g.cb.Execute(func() error { return g.inner.Delete(ctx, key) }))
}

// Ping reports the inner store's reachability, bypassing the breaker so a
// recovered backend turns ready before the breaker closes. Stores without a
// Ping method report an open breaker as unavailable.
func (g *GuardedStore) Ping(ctx context.Context) error {
	if p, ok := g.inner.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	if g.cb.State() == StateOpen {
		return fmt.Errorf("resilience: %w: %w", flagstore.ErrUnavailable, ErrCircuitOpen)
	}
	return nil
}

func (g *GuardedStore) wrap(op string, err error) error {
	if errors.Is(err, ErrCircuitOpen) {
		return fmt.Errorf("resilience: store %s: %w: %w", op, flagstore.ErrUnavailable, err)
	}
	return err
}

// guardedAnnouncer passes announcements through a breaker.
type guardedAnnouncer struct {
	inner announce.Announcer
	cb    *CircuitBreaker
}

// GuardAnnouncer wraps a with cb. While the breaker is open announcements
// are dropped with [ErrCircuitOpen].
func GuardAnnouncer(a announce.Announcer, cb *CircuitBreaker) announce.Announcer {
	return &guardedAnnouncer{inner: a, cb: cb}
}

func (g *guardedAnnouncer) Announce(ctx context.Context, e announce.Event) error {
	return g.cb.Execute(func() error { return g.inner.Announce(ctx, e) })
}
