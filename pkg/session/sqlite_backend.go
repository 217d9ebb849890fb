package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteBackend implements Backend with a single SQLite table keyed by namespace.
type SQLiteBackend struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewSQLiteBackend opens (or creates) the database at dataSourceName.
func NewSQLiteBackend(dataSourceName string) (*SQLiteBackend, error) {
	if dataSourceName == "" {
		return nil, errors.New("sqlite data source is required")
	}

	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err = db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	b := &SQLiteBackend{db: db}
	if err = b.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return b, nil
}

func (b *SQLiteBackend) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS scan_sessions (
        namespace TEXT PRIMARY KEY,
        payload TEXT NOT NULL,
        updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
    );
    `
	_, err := b.db.Exec(schema)
	return err
}

// Name returns "sqlite".
func (b *SQLiteBackend) Name() string { return "sqlite" }

func (b *SQLiteBackend) isClosed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.closed
}

// Load reads the collection stored under namespace.
func (b *SQLiteBackend) Load(ctx context.Context, namespace string) (*Collection, error) {
	if b.isClosed() {
		return nil, ErrStorageClosed
	}

	var payload string
	err := b.db.QueryRowContext(ctx, "SELECT payload FROM scan_sessions WHERE namespace = ?", namespace).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query namespace: %w", err)
	}
	return Unmarshal(namespace, []byte(payload))
}

// Save overwrites the collection stored under namespace.
func (b *SQLiteBackend) Save(ctx context.Context, namespace string, c *Collection) error {
	if b.isClosed() {
		return ErrStorageClosed
	}

	data, err := Marshal(c)
	if err != nil {
		return persistErr(b, namespace, err)
	}

	_, err = b.db.ExecContext(ctx, `
        INSERT INTO scan_sessions (namespace, payload, updated_at) VALUES (?, ?, ?)
        ON CONFLICT(namespace) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at
    `, namespace, string(data), time.Now().UTC())
	if err != nil {
		return persistErr(b, namespace, fmt.Errorf("failed to upsert namespace: %w", err))
	}
	return nil
}

// Delete removes the namespace row.
func (b *SQLiteBackend) Delete(ctx context.Context, namespace string) error {
	if b.isClosed() {
		return ErrStorageClosed
	}
	if _, err := b.db.ExecContext(ctx, "DELETE FROM scan_sessions WHERE namespace = ?", namespace); err != nil {
		return fmt.Errorf("failed to delete namespace: %w", err)
	}
	return nil
}

// Ping checks the database connection.
func (b *SQLiteBackend) Ping(ctx context.Context) error {
	if b.isClosed() {
		return ErrStorageClosed
	}
	return b.db.PingContext(ctx)
}

// Close closes the database.
func (b *SQLiteBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	return b.db.Close()
}
