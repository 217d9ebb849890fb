package session

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreConfig holds Firestore connection configuration.
type FirestoreConfig struct {
	// ProjectID is the GCP project (required).
	ProjectID string `yaml:"project_id"`
	// CredentialsFile is an optional service account file; otherwise
	// Application Default Credentials are used.
	CredentialsFile string `yaml:"credentials_file"`
	// Collection is the Firestore collection name (default: "scan_sessions").
	Collection string `yaml:"collection"`
}

// FirestoreBackend implements Backend with one Firestore document per namespace.
// The document stores the encoded collection as a string so the persisted
// bytes are identical to every other backend.
type FirestoreBackend struct {
	client     *firestore.Client
	collection string
	mu         sync.RWMutex
	closed     bool
}

type firestoreDoc struct {
	Payload   string    `firestore:"payload"`
	UpdatedAt time.Time `firestore:"updated_at"`
}

// NewFirestoreBackend creates a Firestore client for cfg.ProjectID.
func NewFirestoreBackend(ctx context.Context, cfg FirestoreConfig) (*FirestoreBackend, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("firestore project ID is required")
	}

	var clientOpts []option.ClientOption
	if cfg.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := firestore.NewClient(ctx, cfg.ProjectID, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}
	return NewFirestoreBackendFromClient(client, cfg.Collection), nil
}

// NewFirestoreBackendFromClient wraps an existing client.
func NewFirestoreBackendFromClient(client *firestore.Client, collection string) *FirestoreBackend {
	if collection == "" {
		collection = "scan_sessions"
	}
	return &FirestoreBackend{client: client, collection: collection}
}

// Name returns "firestore".
func (b *FirestoreBackend) Name() string { return "firestore" }

func (b *FirestoreBackend) doc(namespace string) *firestore.DocumentRef {
	// Document IDs may not contain '/'.
	return b.client.Collection(b.collection).Doc(url.PathEscape(namespace))
}

func (b *FirestoreBackend) isClosed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.closed
}

// Load reads the collection stored under namespace.
func (b *FirestoreBackend) Load(ctx context.Context, namespace string) (*Collection, error) {
	if b.isClosed() {
		return nil, ErrStorageClosed
	}

	snap, err := b.doc(namespace).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get namespace document: %w", err)
	}

	var doc firestoreDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, &CorruptDataError{Namespace: namespace, Err: err}
	}
	return Unmarshal(namespace, []byte(doc.Payload))
}

// Save overwrites the collection stored under namespace.
func (b *FirestoreBackend) Save(ctx context.Context, namespace string, c *Collection) error {
	if b.isClosed() {
		return ErrStorageClosed
	}

	data, err := Marshal(c)
	if err != nil {
		return persistErr(b, namespace, err)
	}

	doc := firestoreDoc{Payload: string(data), UpdatedAt: time.Now().UTC()}
	if _, err := b.doc(namespace).Set(ctx, doc); err != nil {
		return persistErr(b, namespace, err)
	}
	return nil
}

// Delete removes the namespace document.
func (b *FirestoreBackend) Delete(ctx context.Context, namespace string) error {
	if b.isClosed() {
		return ErrStorageClosed
	}
	if _, err := b.doc(namespace).Delete(ctx); err != nil && status.Code(err) != codes.NotFound {
		return fmt.Errorf("delete namespace document: %w", err)
	}
	return nil
}

// Close releases the Firestore client.
func (b *FirestoreBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	return b.client.Close()
}
