package session

import (
	"context"
	"fmt"
	"sync"
)

// MemoryBackend implements Backend with an in-process key-value map.
// It stores the encoded bytes, not the collection, so it behaves like any
// other byte-oriented medium. An optional quota caps the total number of
// stored bytes across namespaces.
type MemoryBackend struct {
	mu     sync.RWMutex
	data   map[string][]byte
	quota  int
	closed bool
}

// NewMemoryBackend creates an empty in-memory backend.
// A quota <= 0 means unlimited.
func NewMemoryBackend(quota int) *MemoryBackend {
	return &MemoryBackend{
		data:  make(map[string][]byte),
		quota: quota,
	}
}

// Name returns "memory".
func (m *MemoryBackend) Name() string { return "memory" }

// Load reads the collection stored under namespace.
func (m *MemoryBackend) Load(ctx context.Context, namespace string) (*Collection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStorageClosed
	}
	data, ok := m.data[namespace]
	if !ok {
		return nil, ErrNotFound
	}
	return Unmarshal(namespace, data)
}

// Save overwrites the collection stored under namespace.
func (m *MemoryBackend) Save(ctx context.Context, namespace string, c *Collection) error {
	data, err := Marshal(c)
	if err != nil {
		return persistErr(m, namespace, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStorageClosed
	}
	if m.quota > 0 {
		used := len(data)
		for ns, v := range m.data {
			if ns != namespace {
				used += len(v)
			}
		}
		if used > m.quota {
			return persistErr(m, namespace, fmt.Errorf("quota exceeded: %d > %d bytes", used, m.quota))
		}
	}
	m.data[namespace] = data
	return nil
}

// Delete removes the namespace.
func (m *MemoryBackend) Delete(ctx context.Context, namespace string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStorageClosed
	}
	delete(m.data, namespace)
	return nil
}

// Raw returns the stored bytes for namespace.
func (m *MemoryBackend) Raw(namespace string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.data[namespace]
	if !ok {
		return nil, false
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, true
}

// SetRaw stores bytes under namespace without validation.
func (m *MemoryBackend) SetRaw(namespace string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[namespace] = append([]byte(nil), data...)
}

// Close marks the backend closed.
func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
