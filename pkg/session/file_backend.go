package session

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ErrInvalidPathComponent is returned when a path component contains unsafe characters.
var ErrInvalidPathComponent = errors.New("invalid path component: contains path separator or traversal sequence")

// validatePathComponent checks that a string is safe to use as a path component.
// It rejects empty strings, path separators, and traversal sequences.
func validatePathComponent(s string) error {
	if s == "" {
		return errors.New("path component cannot be empty")
	}
	if strings.ContainsAny(s, `/\`) || strings.Contains(s, "..") {
		return ErrInvalidPathComponent
	}
	return nil
}

// FileBackend implements Backend with one JSON document per namespace.
// Storage layout:
//
//	~/.scanstore/sessions/
//	  ├── scanSessions-default.json
//	  └── scanSessions-alice%40example.com.json
//
// Writes go to a temporary file that is renamed over the target, so a
// crash never leaves a half-written collection behind.
type FileBackend struct {
	baseDir string
	mu      sync.RWMutex
	closed  bool
}

// NewFileBackend creates a new file-based storage backend.
// If baseDir is empty, uses ~/.scanstore/sessions.
func NewFileBackend(baseDir string) (*FileBackend, error) {
	if baseDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("get home directory: %w", err)
		}
		baseDir = filepath.Join(home, ".scanstore", "sessions")
	}

	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("create base directory: %w", err)
	}

	return &FileBackend{baseDir: baseDir}, nil
}

// Name returns "file".
func (f *FileBackend) Name() string { return "file" }

// BaseDir returns the directory holding the namespace files.
func (f *FileBackend) BaseDir() string { return f.baseDir }

func (f *FileBackend) path(namespace string) (string, error) {
	name := url.PathEscape(namespace)
	if err := validatePathComponent(name); err != nil {
		return "", fmt.Errorf("invalid namespace %q: %w", namespace, err)
	}
	return filepath.Join(f.baseDir, name+".json"), nil
}

// Load reads the collection stored under namespace.
func (f *FileBackend) Load(ctx context.Context, namespace string) (*Collection, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.closed {
		return nil, ErrStorageClosed
	}

	p, err := f.path(namespace)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(p) // #nosec G304 - namespace escaped and validated
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read namespace file: %w", err)
	}
	return Unmarshal(namespace, data)
}

// Save overwrites the collection stored under namespace.
func (f *FileBackend) Save(ctx context.Context, namespace string, c *Collection) error {
	data, err := Marshal(c)
	if err != nil {
		return persistErr(f, namespace, err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrStorageClosed
	}

	p, err := f.path(namespace)
	if err != nil {
		return persistErr(f, namespace, err)
	}

	tmp, err := os.CreateTemp(f.baseDir, ".tmp-*")
	if err != nil {
		return persistErr(f, namespace, fmt.Errorf("create temp file: %w", err))
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return persistErr(f, namespace, fmt.Errorf("write temp file: %w", err))
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return persistErr(f, namespace, fmt.Errorf("sync temp file: %w", err))
	}
	if err := tmp.Close(); err != nil {
		return persistErr(f, namespace, fmt.Errorf("close temp file: %w", err))
	}
	if err := os.Rename(tmpName, p); err != nil {
		return persistErr(f, namespace, fmt.Errorf("rename into place: %w", err))
	}
	return nil
}

// Delete removes the namespace file.
func (f *FileBackend) Delete(ctx context.Context, namespace string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrStorageClosed
	}

	p, err := f.path(namespace)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove namespace file: %w", err)
	}
	return nil
}

// Ping checks that the base directory is still reachable.
func (f *FileBackend) Ping(ctx context.Context) error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.closed {
		return ErrStorageClosed
	}
	info, err := os.Stat(f.baseDir)
	if err != nil {
		return fmt.Errorf("stat base directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", f.baseDir)
	}
	return nil
}

// Close releases resources held by the backend.
func (f *FileBackend) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}
