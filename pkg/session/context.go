package session

import (
	"context"
	"errors"
)

// StoreKey is the context key for storing the request's session store.
type StoreKey struct{}

// ErrStoreNotInContext is returned when no store is found in context.
var ErrStoreNotInContext = errors.New("session store not found in context")

// StoreFromContext retrieves a store from the context.
// Returns the store and true if found, or nil and false if not present.
func StoreFromContext(ctx context.Context) (*Store, bool) {
	st, ok := ctx.Value(StoreKey{}).(*Store)
	return st, ok
}

// MustStoreFromContext retrieves a store from context and panics if not found.
// Prefer StoreFromContext with explicit error handling in production code.
func MustStoreFromContext(ctx context.Context) *Store {
	st, ok := StoreFromContext(ctx)
	if !ok {
		panic(ErrStoreNotInContext)
	}
	return st
}

// ContextWithStore adds a store to the context.
func ContextWithStore(ctx context.Context, st *Store) context.Context {
	return context.WithValue(ctx, StoreKey{}, st)
}
