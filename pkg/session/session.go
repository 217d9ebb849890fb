package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/google/uuid"
	tracing "github.com/mamasecure/scanstore/internal/observability"
	"github.com/mamasecure/scanstore/pkg/observability"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Store is the authoritative in-memory state of one namespace's sessions.
// Every successful mutation is written through to the backend before the
// call returns. Store is safe for concurrent use; a single lock orders
// mutations, so writes reach the backend in the order they were applied.
type Store struct {
	backend Backend
	newID   func() string

	mu          sync.RWMutex
	initialized bool
	namespace   string
	sessions    []Session
	activeID    string
}

// Option configures a Store.
type Option func(*Store)

// WithIDGenerator overrides the session id generator (default: UUID v4).
func WithIDGenerator(fn func() string) Option {
	return func(s *Store) {
		s.newID = fn
	}
}

// NewStore creates an uninitialized store on top of backend.
func NewStore(backend Backend, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Backend returns the storage backend.
func (s *Store) Backend() Backend {
	return s.backend
}

// Initialize loads namespace from the backend and makes it current.
// A namespace with no persisted data, or with an empty collection, starts
// with one default session which is persisted immediately. Calling
// Initialize again for the current namespace is a no-op. A failed load
// leaves the store uninitialized.
func (s *Store) Initialize(ctx context.Context, namespace string) (err error) {
	ctx, span := startSpan(ctx, "session.Initialize", namespace)
	defer func() { endSpan(span, "initialize", err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialized && s.namespace == namespace {
		return nil
	}

	c, err := s.backend.Load(ctx, namespace)
	switch {
	case err == nil && len(c.Sessions) > 0:
		s.setState(namespace, c.Sessions)
		return nil
	case err == nil, errors.Is(err, ErrNotFound):
		s.clearState()
		s.setState(namespace, []Session{s.newSession()})
		return s.persist(ctx)
	}

	s.clearState()
	if IsCorrupt(err) {
		log.Printf("[SessionStore] WARNING: %v", err)
		return err
	}
	return fmt.Errorf("load namespace %q: %w", namespace, err)
}

// Reset discards whatever is persisted for namespace and starts it over
// with one default session. It is the recovery path after Initialize
// reports corrupt data.
func (s *Store) Reset(ctx context.Context, namespace string) (err error) {
	ctx, span := startSpan(ctx, "session.Reset", namespace)
	defer func() { endSpan(span, "reset", err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.backend.Delete(ctx, namespace); err != nil {
		return fmt.Errorf("reset namespace %q: %w", namespace, err)
	}
	log.Printf("[SessionStore] Reset namespace %s", namespace)
	s.setState(namespace, []Session{s.newSession()})
	return s.persist(ctx)
}

// Namespace returns the current namespace, or "" before Initialize.
func (s *Store) Namespace() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.namespace
}

// Sessions returns a copy of the sessions, newest first.
func (s *Store) Sessions() []Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Session, len(s.sessions))
	for i, sess := range s.sessions {
		out[i] = sess.Clone()
	}
	return out
}

// Session returns a copy of the session with the given id.
func (s *Store) Session(id string) (Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return Session{}, ErrNotInitialized
	}
	i := s.indexOf(id)
	if i < 0 {
		return Session{}, ErrSessionNotFound
	}
	return s.sessions[i].Clone(), nil
}

// ActiveID returns the id of the active session, or "" before Initialize.
func (s *Store) ActiveID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeID
}

// Active returns a copy of the active session.
func (s *Store) Active() (Session, error) {
	return s.Session(s.ActiveID())
}

// CreateSession inserts a new default session at the head and activates it.
func (s *Store) CreateSession(ctx context.Context) (sess Session, err error) {
	ctx, span := startSpan(ctx, "session.CreateSession", s.Namespace())
	defer func() { endSpan(span, "create", err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return Session{}, ErrNotInitialized
	}

	created := s.newSession()
	s.sessions = append([]Session{created}, s.sessions...)
	s.activeID = created.ID
	return created.Clone(), s.persist(ctx)
}

// SetActive makes id the active session. Nothing is written.
func (s *Store) SetActive(id string) (err error) {
	defer func() { observability.RecordSessionOperation("set_active", operationResult(err)) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return ErrNotInitialized
	}
	if s.indexOf(id) < 0 {
		return ErrSessionNotFound
	}
	s.activeID = id
	return nil
}

// RenameSession sets the label of session id to the trimmed label.
// A label that trims to empty, or equals the current one, changes nothing.
func (s *Store) RenameSession(ctx context.Context, id, label string) (err error) {
	ctx, span := startSpan(ctx, "session.RenameSession", s.Namespace())
	defer func() { endSpan(span, "rename", err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return ErrNotInitialized
	}
	i := s.indexOf(id)
	if i < 0 {
		return ErrSessionNotFound
	}

	label = strings.TrimSpace(label)
	if label == "" || label == s.sessions[i].Label {
		return nil
	}
	s.sessions[i].Label = label
	return s.persist(ctx)
}

// DeleteSession removes session id. The last remaining session cannot be
// deleted. Deleting the active session activates the first remaining one.
func (s *Store) DeleteSession(ctx context.Context, id string) (err error) {
	ctx, span := startSpan(ctx, "session.DeleteSession", s.Namespace())
	defer func() { endSpan(span, "delete", err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return ErrNotInitialized
	}
	if len(s.sessions) <= 1 {
		return ErrLastSession
	}
	i := s.indexOf(id)
	if i < 0 {
		return ErrSessionNotFound
	}

	remaining := make([]Session, 0, len(s.sessions)-1)
	remaining = append(remaining, s.sessions[:i]...)
	remaining = append(remaining, s.sessions[i+1:]...)
	s.sessions = remaining
	if s.activeID == id {
		s.activeID = s.sessions[0].ID
	}
	return s.persist(ctx)
}

// AppendScan appends a record to the tail of session id.
// The first scan of a session that still has the default label renames it
// to the first 20 characters of the input.
func (s *Store) AppendScan(ctx context.Context, id, input string, result ScanResult) (err error) {
	ctx, span := startSpan(ctx, "session.AppendScan", s.Namespace())
	defer func() { endSpan(span, "append_scan", err) }()

	if err := result.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return ErrNotInitialized
	}
	i := s.indexOf(id)
	if i < 0 {
		return ErrSessionNotFound
	}

	sess := &s.sessions[i]
	first := len(sess.Scans) == 0
	sess.Scans = append(sess.Scans, ScanRecord{Input: input, Result: result.Clone()})
	if first && sess.Label == DefaultLabel && input != "" {
		sess.Label = autoLabel(input)
	}
	observability.RecordScan(string(result.Status))
	return s.persist(ctx)
}

// setState replaces the current state. Callers hold s.mu.
func (s *Store) setState(namespace string, sessions []Session) {
	s.namespace = namespace
	s.sessions = sessions
	s.activeID = sessions[0].ID
	s.initialized = true
}

// clearState drops the current namespace. Callers hold s.mu.
func (s *Store) clearState() {
	s.namespace = ""
	s.sessions = nil
	s.activeID = ""
	s.initialized = false
}

// persist writes the current sessions to the backend. Callers hold s.mu.
// Any failure is returned as *PersistenceError; the in-memory state is kept.
func (s *Store) persist(ctx context.Context) error {
	err := s.backend.Save(ctx, s.namespace, &Collection{Sessions: s.sessions})
	if err == nil {
		return nil
	}

	var pe *PersistenceError
	if !errors.As(err, &pe) {
		pe = &PersistenceError{Namespace: s.namespace, Backend: s.backend.Name(), Err: err}
	}
	observability.RecordPersistenceFailure(s.backend.Name())
	log.Printf("[SessionStore] WARNING: sessions for %s may not survive a reload: %v", s.namespace, pe)
	return pe
}

func (s *Store) newSession() Session {
	id := s.newID()
	for s.indexOf(id) >= 0 {
		id = s.newID()
	}
	return Session{ID: id, Label: DefaultLabel, Scans: []ScanRecord{}}
}

func (s *Store) indexOf(id string) int {
	for i := range s.sessions {
		if s.sessions[i].ID == id {
			return i
		}
	}
	return -1
}

// autoLabel derives a session label from the first scan input.
func autoLabel(input string) string {
	runes := []rune(input)
	if len(runes) > autoLabelLength {
		runes = runes[:autoLabelLength]
	}
	return string(runes)
}

func operationResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case IsWarning(err):
		return "warning"
	default:
		return "error"
	}
}

func startSpan(ctx context.Context, name, namespace string) (context.Context, trace.Span) {
	return tracing.StartSpanWithOtel(ctx, name, trace.WithAttributes(attribute.String("namespace", namespace)))
}

func endSpan(span trace.Span, op string, err error) {
	if err != nil {
		span.RecordError(err)
	}
	span.End()
	observability.RecordSessionOperation(op, operationResult(err))
}
