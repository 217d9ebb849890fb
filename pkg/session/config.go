package session

import (
	"context"
	"fmt"
)

// Config holds storage configuration from YAML.
type Config struct {
	// Backend specifies the storage backend type.
	// Options: "memory", "file", "redis", "sqlite", "firestore"
	// Default: "file"
	Backend string `yaml:"backend"`

	// BaseDir is the base directory for file-based storage.
	// Default: ~/.scanstore/sessions
	BaseDir string `yaml:"base_dir"`

	// Quota caps the bytes held by the memory backend (0 = unlimited).
	Quota int `yaml:"quota"`

	// SQLitePath is the database file for the sqlite backend.
	SQLitePath string `yaml:"sqlite_path"`

	// Redis contains redis backend settings.
	Redis RedisConfig `yaml:"redis,omitempty"`

	// Firestore contains firestore backend settings.
	Firestore FirestoreConfig `yaml:"firestore,omitempty"`
}

// DefaultConfig returns the default storage configuration.
func DefaultConfig() Config {
	return Config{
		Backend:    "file",
		SQLitePath: "scanstore.db",
		Redis: RedisConfig{
			Prefix: defaultRedisPrefix,
		},
		Firestore: FirestoreConfig{
			Collection: "scan_sessions",
		},
	}
}

// NewBackend opens the backend selected by cfg.Backend.
func NewBackend(ctx context.Context, cfg Config) (Backend, error) {
	switch cfg.Backend {
	case "", "file":
		return NewFileBackend(cfg.BaseDir)
	case "memory":
		return NewMemoryBackend(cfg.Quota), nil
	case "redis":
		return NewRedisBackend(cfg.Redis)
	case "sqlite":
		return NewSQLiteBackend(cfg.SQLitePath)
	case "firestore":
		return NewFirestoreBackend(ctx, cfg.Firestore)
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
}
