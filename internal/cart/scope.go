package cart

import (
	"context"
	"net/http"
)

type ctxKey struct{}

// WithStore returns a context carrying s. Handlers and other consumers
// obtain the store through FromContext rather than a package global.
func WithStore(ctx context.Context, s *Store) context.Context {
	if s == nil {
		panic(ErrNoStore)
	}
	return context.WithValue(ctx, ctxKey{}, s)
}

// FromContext returns the store carried by ctx. It panics with ErrNoStore
// when there is none: reaching for the cart outside a store's scope is a
// programming error.
func FromContext(ctx context.Context) *Store {
	s, _ := ctx.Value(ctxKey{}).(*Store)
	if s == nil {
		panic(ErrNoStore)
	}
	return s
}

// Middleware scopes every request to s.
func Middleware(s *Store) func(http.Handler) http.Handler {
	if s == nil {
		panic(ErrNoStore)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(WithStore(r.Context(), s)))
		})
	}
}
