package session

import (
	"context"
	"errors"
	"fmt"
)

// Common errors for store and backend operations.
var (
	// ErrNotFound is returned by a backend when a namespace has no persisted collection.
	ErrNotFound = errors.New("namespace not found")
	// ErrSessionNotFound is returned when an operation names a session id that is not in the collection.
	ErrSessionNotFound = errors.New("session not found")
	// ErrLastSession is returned when deleting the only remaining session.
	ErrLastSession = errors.New("cannot delete the last session")
	// ErrNotInitialized is returned when the store is used before Initialize.
	ErrNotInitialized = errors.New("session store is not initialized")
	// ErrStorageClosed is returned when operating on a closed storage backend.
	ErrStorageClosed = errors.New("storage backend is closed")
)

// CorruptDataError reports persisted bytes that do not decode into a valid Collection.
type CorruptDataError struct {
	Namespace string
	Err       error
}

func (e *CorruptDataError) Error() string {
	return fmt.Sprintf("corrupt session data for %q: %v", e.Namespace, e.Err)
}

func (e *CorruptDataError) Unwrap() error { return e.Err }

// PersistenceError reports a write that the storage medium rejected.
// When returned by a Store mutation the in-memory change has still been applied.
type PersistenceError struct {
	Namespace string
	Backend   string
	Err       error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %q to %s backend: %v", e.Namespace, e.Backend, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// IsWarning reports whether err only signals a failed durable write.
// The operation that returned it took effect in memory.
func IsWarning(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}

// IsCorrupt reports whether err wraps a CorruptDataError.
func IsCorrupt(err error) bool {
	var ce *CorruptDataError
	return errors.As(err, &ce)
}

// Backend abstracts collection persistence.
// Implementations must be safe for concurrent use and must encode with
// Marshal so that equal collections produce equal bytes.
type Backend interface {
	// Name identifies the backend in logs and metrics.
	Name() string

	// Load reads the collection stored under namespace.
	// Returns ErrNotFound if nothing is stored and *CorruptDataError if the
	// stored bytes are not a valid collection.
	Load(ctx context.Context, namespace string) (*Collection, error)

	// Save overwrites the collection stored under namespace.
	// Medium failures are reported as *PersistenceError.
	Save(ctx context.Context, namespace string, c *Collection) error

	// Delete removes the namespace. Deleting a missing namespace is not an error.
	Delete(ctx context.Context, namespace string) error

	// Close releases any resources held by the backend.
	Close() error
}

// Pinger is implemented by backends that can report connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

func persistErr(b Backend, namespace string, err error) error {
	return &PersistenceError{Namespace: namespace, Backend: b.Name(), Err: err}
}
