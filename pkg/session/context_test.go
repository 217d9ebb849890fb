package session

import (
	"context"
	"testing"
)

func TestStoreContext(t *testing.T) {
	ctx := context.Background()

	if _, ok := StoreFromContext(ctx); ok {
		t.Error("StoreFromContext() on empty context should report false")
	}

	st := NewStore(NewMemoryBackend(0))
	ctx = ContextWithStore(ctx, st)

	got, ok := StoreFromContext(ctx)
	if !ok || got != st {
		t.Errorf("StoreFromContext() = %v, %v", got, ok)
	}
	if MustStoreFromContext(ctx) != st {
		t.Error("MustStoreFromContext() returned a different store")
	}
}

func TestMustStoreFromContext_Panics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("MustStoreFromContext() should panic without a store")
		}
	}()
	MustStoreFromContext(context.Background())
}
