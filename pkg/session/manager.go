package session

import (
	"context"
	"sync"
)

// Manager hands out one initialized Store per namespace over a shared backend.
// Only the store returned for a namespace writes to that namespace's key.
// Manager is safe for concurrent use.
type Manager struct {
	backend Backend
	opts    []Option
	stores  map[string]*Store
	mu      sync.Mutex
}

// NewManager creates a new manager with the given storage backend.
func NewManager(backend Backend, opts ...Option) *Manager {
	return &Manager{
		backend: backend,
		opts:    opts,
		stores:  make(map[string]*Store),
	}
}

// Open returns the store for namespace, initializing it on first use.
// If initialization only failed to persist the default collection, the
// store is returned together with the *PersistenceError.
func (m *Manager) Open(ctx context.Context, namespace string) (*Store, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if st, ok := m.stores[namespace]; ok {
		return st, nil
	}

	st := NewStore(m.backend, m.opts...)
	if err := st.Initialize(ctx, namespace); err != nil {
		if !IsWarning(err) {
			return nil, err
		}
		m.stores[namespace] = st
		return st, err
	}
	m.stores[namespace] = st
	return st, nil
}

// Reset discards namespace's persisted data and returns a fresh store for it.
func (m *Manager) Reset(ctx context.Context, namespace string) (*Store, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.stores[namespace]
	if !ok {
		st = NewStore(m.backend, m.opts...)
	}
	if err := st.Reset(ctx, namespace); err != nil {
		if !IsWarning(err) {
			return nil, err
		}
		m.stores[namespace] = st
		return st, err
	}
	m.stores[namespace] = st
	return st, nil
}

// Namespaces returns the namespaces opened so far.
func (m *Manager) Namespaces() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, 0, len(m.stores))
	for ns := range m.stores {
		out = append(out, ns)
	}
	return out
}

// Close drops cached stores and closes the backend.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stores = make(map[string]*Store)
	return m.backend.Close()
}
