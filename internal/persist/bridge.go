// Package persist mirrors a cart into a key-value store under one fixed
// key. The whole cart is written on every save; there are no deltas.
package persist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/gomarketplace/cart-engine/internal/model"
	"github.com/gomarketplace/cart-engine/internal/store"
)

// DefaultKey is the storage key the cart blob lives under.
const DefaultKey = "@GoMarketplace:products"

var tracer = otel.Tracer("github.com/gomarketplace/cart-engine/internal/persist")

// Bridge encodes carts into a store.Store and back.
type Bridge struct {
	st     store.Store
	key    string
	logger *slog.Logger
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithKey overrides DefaultKey. Empty keys are ignored.
func WithKey(key string) Option {
	return func(b *Bridge) {
		if key != "" {
			b.key = key
		}
	}
}

// WithLogger sets the logger used for recovered load failures.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bridge) {
		if l != nil {
			b.logger = l
		}
	}
}

// NewBridge creates a bridge over st.
func NewBridge(st store.Store, opts ...Option) *Bridge {
	b := &Bridge{
		st:     st,
		key:    DefaultKey,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Key returns the storage key in use.
func (b *Bridge) Key() string { return b.key }

// Load returns the persisted cart. A missing, unreadable or corrupt blob
// yields an empty cart; the failure is logged, never returned.
func (b *Bridge) Load(ctx context.Context) model.Cart {
	ctx, span := tracer.Start(ctx, "persist.Load",
		trace.WithAttributes(attribute.String("cart.key", b.key)))
	defer span.End()

	data, err := b.st.Get(ctx, b.key)
	if errors.Is(err, store.ErrNotFound) {
		span.SetAttributes(attribute.Bool("cart.found", false))
		return model.Cart{}
	}
	if err != nil {
		span.RecordError(err)
		b.logger.Warn("cart load failed, starting empty", "key", b.key, "err", err)
		return model.Cart{}
	}

	cart, err := Decode(data)
	if err != nil {
		span.RecordError(err)
		b.logger.Warn("persisted cart is corrupt, starting empty",
			"key", b.key,
			"bytes", len(data),
			"err", err,
		)
		return model.Cart{}
	}

	span.SetAttributes(
		attribute.Bool("cart.found", true),
		attribute.Int("cart.items", len(cart)),
	)
	return cart
}

// Save overwrites the stored blob with the entire cart.
func (b *Bridge) Save(ctx context.Context, cart model.Cart) error {
	ctx, span := tracer.Start(ctx, "persist.Save",
		trace.WithAttributes(
			attribute.String("cart.key", b.key),
			attribute.Int("cart.items", len(cart)),
		))
	defer span.End()

	data, err := Encode(cart)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "encode")
		return fmt.Errorf("encode cart: %w", err)
	}

	if err := b.st.Set(ctx, b.key, data); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "store set")
		return fmt.Errorf("save cart: %w", err)
	}
	return nil
}
