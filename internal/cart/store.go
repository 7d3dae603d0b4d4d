// Package cart holds the authoritative in-memory cart and keeps it
// mirrored to durable storage.
//
// Mutations are applied synchronously and are immediately visible to
// readers and subscribers. Persistence happens afterwards on a single
// writer goroutine, so storage never sees an older cart after a newer one.
package cart

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/gomarketplace/cart-engine/internal/metrics"
	"github.com/gomarketplace/cart-engine/internal/model"
)

// ErrNoStore is the panic value raised when the cart is used outside an
// active Store: a nil store, a closed store, or a context without one.
var ErrNoStore = errors.New("cart: used outside an active cart store")

// Persister loads and saves whole carts. *persist.Bridge implements it.
type Persister interface {
	Load(ctx context.Context) model.Cart
	Save(ctx context.Context, cart model.Cart) error
}

// Store is the single owner of cart state. It is safe for concurrent use;
// the mutex covers read-modify-write of the cart and the hand-off to the
// writer, so the submission order matches the mutation order.
type Store struct {
	mu     sync.Mutex
	items  model.Cart
	loaded bool
	closed bool
	early  []func(model.Cart) model.Cart // mutations made before the load finished

	subs    map[int]chan model.Cart
	nextSub int

	ready  chan struct{}
	w      *writer
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store's logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a store with an empty cart and starts loading the persisted
// cart in the background. The load runs exactly once. Mutations made
// before it finishes are applied at once and replayed on top of the
// loaded cart; nothing is written to storage until the load is done.
//
// ctx scopes the load and the writes; cancelling it does not stop the
// store, use Close for that.
func New(ctx context.Context, p Persister, opts ...Option) *Store {
	s := &Store{
		items:  model.Cart{},
		subs:   make(map[int]chan model.Cart),
		ready:  make(chan struct{}),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	bg := context.WithoutCancel(ctx)
	s.w = newWriter(bg, p, s.logger)
	go s.w.run()
	go s.load(bg, p)
	return s
}

func (s *Store) load(ctx context.Context, p Persister) {
	defer close(s.ready)
	persisted := p.Load(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.loaded = true
	if s.closed {
		return
	}

	cart := persisted
	for _, fn := range s.early {
		cart = fn(cart)
	}
	replayed := len(s.early)
	s.early = nil

	s.items = cart
	s.observeLocked()
	if replayed > 0 {
		s.w.submit(cart)
	}
	s.w.resume()

	s.logger.Info("cart loaded",
		"persisted_items", len(persisted),
		"replayed_mutations", replayed,
		"items", len(cart),
	)
}

// Ready is closed once the persisted cart has been loaded.
func (s *Store) Ready() <-chan struct{} {
	s.requireStore()
	return s.ready
}

// Products returns a snapshot of the current cart. It never waits on
// storage.
func (s *Store) Products() model.Cart {
	s.requireStore()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		panic(ErrNoStore)
	}
	return s.items.Clone()
}

// AddToCart adds one unit of p. When the id is already in the cart only
// the quantity changes: the stored title, image and price are kept and
// those carried by p are ignored. New ids are appended with quantity 1.
func (s *Store) AddToCart(p model.Product) model.Cart {
	cart := s.mutate("add", func(c model.Cart) model.Cart { return c.Add(p) })
	s.logger.Debug("cart item added", "id", p.ID, "items", len(cart))
	return cart
}

// Increment adds one unit to the item with id. Unknown ids leave the cart
// unchanged; a write is still scheduled.
func (s *Store) Increment(id string) model.Cart {
	cart := s.mutate("increment", func(c model.Cart) model.Cart { return c.Increment(id) })
	s.logger.Debug("cart item incremented", "id", id)
	return cart
}

// Decrement removes one unit from the item with id, stopping at zero.
// Items are never removed. Unknown ids leave the cart unchanged; a write
// is still scheduled.
func (s *Store) Decrement(id string) model.Cart {
	cart := s.mutate("decrement", func(c model.Cart) model.Cart { return c.Decrement(id) })
	s.logger.Debug("cart item decremented", "id", id)
	return cart
}

func (s *Store) mutate(op string, fn func(model.Cart) model.Cart) model.Cart {
	s.requireStore()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		panic(ErrNoStore)
	}

	next := fn(s.items)
	s.items = next
	if !s.loaded {
		s.early = append(s.early, fn)
	}
	s.observeLocked()
	s.w.submit(next)

	metrics.CartMutations.WithLabelValues(op).Inc()
	return next.Clone()
}

// Subscribe registers an observer. The channel receives the current cart
// immediately and then every new cart. A slow reader only sees the most
// recent cart. The returned func unsubscribes and closes the channel;
// Close does the same for every subscriber.
func (s *Store) Subscribe() (<-chan model.Cart, func()) {
	s.requireStore()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		panic(ErrNoStore)
	}

	id := s.nextSub
	s.nextSub++
	ch := make(chan model.Cart, 1)
	ch <- s.items.Clone()
	s.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() { s.unsubscribe(id) })
	}
}

func (s *Store) unsubscribe(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.subs[id]; ok {
		delete(s.subs, id)
		close(ch)
	}
}

// observeLocked publishes s.items to subscribers and gauges.
func (s *Store) observeLocked() {
	for _, ch := range s.subs {
		snap := s.items.Clone()
		select {
		case ch <- snap:
		default:
			// Replace the unread stale snapshot.
			select {
			case <-ch:
			default:
			}
			ch <- snap
		}
	}
	metrics.CartLineItems.Set(float64(len(s.items)))
	metrics.CartUnits.Set(float64(s.items.TotalUnits()))
}

// Flush blocks until every cart produced before the call has reached
// storage or been superseded by a newer cart that has.
func (s *Store) Flush(ctx context.Context) error {
	s.requireStore()
	return s.w.flush(ctx)
}

// Close ends the store's lifetime. Subscriptions are closed, pending
// writes are drained until ctx expires, and any later use of the store
// panics with ErrNoStore. Closing twice is a no-op.
func (s *Store) Close(ctx context.Context) error {
	s.requireStore()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
	loaded := s.loaded
	s.mu.Unlock()

	if !loaded {
		s.logger.Warn("cart store closed before load finished, pending writes dropped")
	}
	return s.w.close(ctx)
}

func (s *Store) requireStore() {
	if s == nil {
		panic(ErrNoStore)
	}
}
