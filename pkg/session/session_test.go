package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testNamespace = "scanSessions-default"

func seqIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("s%d", n)
	}
}

func newTestStore(t *testing.T) (*Store, *MemoryBackend) {
	t.Helper()
	backend := NewMemoryBackend(0)
	st := NewStore(backend, WithIDGenerator(seqIDs()))
	require.NoError(t, st.Initialize(context.Background(), testNamespace))
	return st, backend
}

func scamResult() ScanResult {
	return ScanResult{Status: StatusScam, Confidence: 91, Explanation: []string{"urgent tone"}, Sources: []string{"FTC"}}
}

func safeResult() ScanResult {
	return ScanResult{Status: StatusSafe, Confidence: 96}
}

func TestInitialize_NewUserFirstLoad(t *testing.T) {
	st, backend := newTestStore(t)

	sessions := st.Sessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, DefaultLabel, sessions[0].Label)
	assert.Empty(t, sessions[0].Scans)
	assert.Equal(t, sessions[0].ID, st.ActiveID())
	assert.Equal(t, testNamespace, st.Namespace())

	raw, ok := backend.Raw(testNamespace)
	require.True(t, ok, "default collection should be persisted immediately")
	assert.JSONEq(t, `{"sessions":[{"id":"s1","label":"New Scan","scans":[]}]}`, string(raw))
}

func TestInitialize_Idempotent(t *testing.T) {
	st, backend := newTestStore(t)
	ctx := context.Background()

	before := st.Sessions()
	rawBefore, _ := backend.Raw(testNamespace)

	require.NoError(t, st.Initialize(ctx, testNamespace))

	assert.Equal(t, before, st.Sessions())
	rawAfter, _ := backend.Raw(testNamespace)
	assert.Equal(t, rawBefore, rawAfter)

	// A second store over the same backend sees the same single session.
	other := NewStore(backend, WithIDGenerator(seqIDs()))
	require.NoError(t, other.Initialize(ctx, testNamespace))
	assert.Equal(t, before, other.Sessions())
}

func TestInitialize_ReloadActivatesFirstSession(t *testing.T) {
	st, backend := newTestStore(t)
	ctx := context.Background()

	created, err := st.CreateSession(ctx)
	require.NoError(t, err)
	require.NoError(t, st.SetActive("s1"))

	reloaded := NewStore(backend)
	require.NoError(t, reloaded.Initialize(ctx, testNamespace))
	assert.Equal(t, created.ID, reloaded.ActiveID())
}

func TestInitialize_SwitchNamespace(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.AppendScan(ctx, "s1", "hello", safeResult()))
	require.NoError(t, st.Initialize(ctx, "scanSessions-alice"))

	assert.Equal(t, "scanSessions-alice", st.Namespace())
	sessions := st.Sessions()
	require.Len(t, sessions, 1)
	assert.Empty(t, sessions[0].Scans)
}

func TestInitialize_CorruptData(t *testing.T) {
	backend := NewMemoryBackend(0)
	backend.SetRaw(testNamespace, []byte(`{"sessions": [`))
	st := NewStore(backend)
	ctx := context.Background()

	err := st.Initialize(ctx, testNamespace)
	require.Error(t, err)

	var ce *CorruptDataError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, testNamespace, ce.Namespace)
	assert.ErrorIs(t, st.SetActive("x"), ErrNotInitialized)

	// The corrupt bytes are left alone until the caller resets.
	raw, _ := backend.Raw(testNamespace)
	assert.Equal(t, `{"sessions": [`, string(raw))

	require.NoError(t, st.Reset(ctx, testNamespace))
	require.Len(t, st.Sessions(), 1)
	assert.Equal(t, DefaultLabel, st.Sessions()[0].Label)

	_, err = backend.Load(ctx, testNamespace)
	assert.NoError(t, err)
}

func TestInitialize_EmptyCollectionStartsOver(t *testing.T) {
	backend := NewMemoryBackend(0)
	backend.SetRaw(testNamespace, []byte(`{"sessions":[]}`))
	st := NewStore(backend, WithIDGenerator(seqIDs()))

	require.NoError(t, st.Initialize(context.Background(), testNamespace))

	sessions := st.Sessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, DefaultLabel, sessions[0].Label)
	assert.Equal(t, "s1", st.ActiveID())

	raw, _ := backend.Raw(testNamespace)
	assert.JSONEq(t, `{"sessions":[{"id":"s1","label":"New Scan","scans":[]}]}`, string(raw))
}

func TestInitialize_FailedSwitchLeavesStoreUninitialized(t *testing.T) {
	backend := NewMemoryBackend(0)
	backend.SetRaw("scanSessions-b", []byte("nope"))
	st := NewStore(backend, WithIDGenerator(seqIDs()))
	ctx := context.Background()

	require.NoError(t, st.Initialize(ctx, "scanSessions-a"))
	err := st.Initialize(ctx, "scanSessions-b")
	require.True(t, IsCorrupt(err))

	assert.Empty(t, st.Namespace())
	assert.Empty(t, st.Sessions())
	assert.ErrorIs(t, st.SetActive("s1"), ErrNotInitialized)

	// The namespace that did load is still intact in storage.
	require.NoError(t, st.Initialize(ctx, "scanSessions-a"))
	assert.Equal(t, "s1", st.ActiveID())
}

func TestUninitializedStore(t *testing.T) {
	st := NewStore(NewMemoryBackend(0))
	ctx := context.Background()

	_, err := st.CreateSession(ctx)
	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.ErrorIs(t, st.RenameSession(ctx, "a", "b"), ErrNotInitialized)
	assert.ErrorIs(t, st.DeleteSession(ctx, "a"), ErrNotInitialized)
	assert.ErrorIs(t, st.AppendScan(ctx, "a", "b", safeResult()), ErrNotInitialized)
	_, err = st.Active()
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestCreateSession_NewestFirst(t *testing.T) {
	st, backend := newTestStore(t)
	ctx := context.Background()

	created, err := st.CreateSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, "s2", created.ID)
	assert.Equal(t, DefaultLabel, created.Label)
	assert.Equal(t, created.ID, st.ActiveID())

	sessions := st.Sessions()
	require.Len(t, sessions, 2)
	assert.Equal(t, "s2", sessions[0].ID)
	assert.Equal(t, "s1", sessions[1].ID)

	loaded, err := backend.Load(ctx, testNamespace)
	require.NoError(t, err)
	assert.Equal(t, sessions, loaded.Sessions)
}

func TestSetActive(t *testing.T) {
	st, backend := newTestStore(t)
	ctx := context.Background()

	_, err := st.CreateSession(ctx)
	require.NoError(t, err)
	rawBefore, _ := backend.Raw(testNamespace)

	require.NoError(t, st.SetActive("s1"))
	assert.Equal(t, "s1", st.ActiveID())

	err = st.SetActive("missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.Equal(t, "s1", st.ActiveID())

	rawAfter, _ := backend.Raw(testNamespace)
	assert.Equal(t, rawBefore, rawAfter, "switching sessions must not write")
}

func TestRenameSession(t *testing.T) {
	tests := []struct {
		name      string
		label     string
		wantLabel string
	}{
		{name: "plain", label: "Bank texts", wantLabel: "Bank texts"},
		{name: "trimmed", label: "  Bank texts \n", wantLabel: "Bank texts"},
		{name: "whitespace only is a no-op", label: "   ", wantLabel: DefaultLabel},
		{name: "empty is a no-op", label: "", wantLabel: DefaultLabel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st, backend := newTestStore(t)
			ctx := context.Background()

			require.NoError(t, st.RenameSession(ctx, "s1", tt.label))

			sess, err := st.Session("s1")
			require.NoError(t, err)
			assert.Equal(t, tt.wantLabel, sess.Label)

			loaded, err := backend.Load(ctx, testNamespace)
			require.NoError(t, err)
			assert.Equal(t, tt.wantLabel, loaded.Sessions[0].Label)
		})
	}

	t.Run("unknown id", func(t *testing.T) {
		st, _ := newTestStore(t)
		assert.ErrorIs(t, st.RenameSession(context.Background(), "nope", "x"), ErrSessionNotFound)
	})
}

func TestDeleteSession_LastSessionGuard(t *testing.T) {
	st, backend := newTestStore(t)
	ctx := context.Background()
	before := st.Sessions()
	rawBefore, _ := backend.Raw(testNamespace)

	err := st.DeleteSession(ctx, "s1")
	assert.ErrorIs(t, err, ErrLastSession)
	assert.Equal(t, before, st.Sessions())

	rawAfter, _ := backend.Raw(testNamespace)
	assert.Equal(t, rawBefore, rawAfter)
}

func TestDeleteSession_ReassignsActive(t *testing.T) {
	st, backend := newTestStore(t)
	ctx := context.Background()

	// Sessions are [B, A] with B active after creation.
	b, err := st.CreateSession(ctx)
	require.NoError(t, err)
	require.Equal(t, b.ID, st.ActiveID())

	require.NoError(t, st.DeleteSession(ctx, b.ID))
	assert.Equal(t, "s1", st.ActiveID())
	require.Len(t, st.Sessions(), 1)

	loaded, err := backend.Load(ctx, testNamespace)
	require.NoError(t, err)
	require.Len(t, loaded.Sessions, 1)
	assert.Equal(t, "s1", loaded.Sessions[0].ID)
}

func TestDeleteSession_KeepsActive(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()

	_, err := st.CreateSession(ctx)
	require.NoError(t, err)
	_, err = st.CreateSession(ctx)
	require.NoError(t, err)
	require.NoError(t, st.SetActive("s2"))

	require.NoError(t, st.DeleteSession(ctx, "s1"))
	assert.Equal(t, "s2", st.ActiveID())

	assert.ErrorIs(t, st.DeleteSession(ctx, "missing"), ErrSessionNotFound)
}

func TestAppendScan_Order(t *testing.T) {
	st, backend := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.AppendScan(ctx, "s1", "first input", scamResult()))
	require.NoError(t, st.AppendScan(ctx, "s1", "second input", safeResult()))

	want := []ScanRecord{
		{Input: "first input", Result: scamResult()},
		{Input: "second input", Result: ScanResult{Status: StatusSafe, Confidence: 96, Explanation: []string{}, Sources: []string{}}},
	}
	sess, err := st.Session("s1")
	require.NoError(t, err)
	assert.Equal(t, want, sess.Scans)

	loaded, err := backend.Load(ctx, testNamespace)
	require.NoError(t, err)
	assert.Equal(t, want, loaded.Sessions[0].Scans)
}

func TestAppendScan_AutoLabelOnce(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.AppendScan(ctx, "s1", "free bitcoin now", scamResult()))
	sess, _ := st.Session("s1")
	assert.Equal(t, "free bitcoin now", sess.Label)

	require.NoError(t, st.AppendScan(ctx, "s1", "another input", safeResult()))
	sess, _ = st.Session("s1")
	assert.Equal(t, "free bitcoin now", sess.Label)
}

func TestAppendScan_AutoLabelTruncates(t *testing.T) {
	st, _ := newTestStore(t)

	input := "click this link to claim your prize today"
	require.NoError(t, st.AppendScan(context.Background(), "s1", input, scamResult()))

	sess, _ := st.Session("s1")
	assert.Equal(t, input[:20], sess.Label)
}

func TestAppendScan_AutoLabelCountsCharacters(t *testing.T) {
	st, _ := newTestStore(t)

	input := strings.Repeat("é", 25)
	require.NoError(t, st.AppendScan(context.Background(), "s1", input, scamResult()))

	sess, _ := st.Session("s1")
	assert.Equal(t, strings.Repeat("é", 20), sess.Label)
}

func TestAppendScan_AutoLabelKeepsBlankPrefix(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()

	input := strings.Repeat(" ", 20) + "free bitcoin"
	require.NoError(t, st.AppendScan(ctx, "s1", input, scamResult()))
	require.NoError(t, st.AppendScan(ctx, "s1", "second", safeResult()))

	sess, _ := st.Session("s1")
	assert.Equal(t, strings.Repeat(" ", 20), sess.Label)
}

func TestAppendScan_CustomLabelKept(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.RenameSession(ctx, "s1", "Mum's phone"))
	require.NoError(t, st.AppendScan(ctx, "s1", "free bitcoin now", scamResult()))

	sess, _ := st.Session("s1")
	assert.Equal(t, "Mum's phone", sess.Label)
}

func TestAppendScan_Errors(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()

	assert.ErrorIs(t, st.AppendScan(ctx, "missing", "x", safeResult()), ErrSessionNotFound)
	assert.Error(t, st.AppendScan(ctx, "s1", "x", ScanResult{Status: "maybe"}))
	assert.Error(t, st.AppendScan(ctx, "s1", "x", ScanResult{Status: StatusSafe, Confidence: 101}))

	sess, _ := st.Session("s1")
	assert.Empty(t, sess.Scans)
	assert.Equal(t, DefaultLabel, sess.Label)
}

func TestSessions_ReturnsCopies(t *testing.T) {
	st, _ := newTestStore(t)
	require.NoError(t, st.AppendScan(context.Background(), "s1", "hello", scamResult()))

	sessions := st.Sessions()
	sessions[0].Label = "mutated"
	sessions[0].Scans[0].Result.Explanation[0] = "mutated"

	sess, _ := st.Session("s1")
	assert.Equal(t, "hello", sess.Label)
	assert.Equal(t, "urgent tone", sess.Scans[0].Result.Explanation[0])
}

func TestPersistenceFailure_IsWarning(t *testing.T) {
	backend := NewMemoryBackend(200)
	st := NewStore(backend, WithIDGenerator(seqIDs()))
	ctx := context.Background()
	require.NoError(t, st.Initialize(ctx, testNamespace))

	big := strings.Repeat("x", 500)
	err := st.AppendScan(ctx, "s1", big, scamResult())
	require.Error(t, err)
	assert.True(t, IsWarning(err))

	var pe *PersistenceError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "memory", pe.Backend)

	// The in-memory mutation stands.
	sess, _ := st.Session("s1")
	require.Len(t, sess.Scans, 1)
	assert.Equal(t, big, sess.Scans[0].Input)

	// The durable copy does not have it.
	loaded, err := backend.Load(ctx, testNamespace)
	require.NoError(t, err)
	assert.Empty(t, loaded.Sessions[0].Scans)
}

type brokenBackend struct {
	*MemoryBackend
}

func (b brokenBackend) Save(context.Context, string, *Collection) error {
	return errors.New("disk on fire")
}

func TestPersistenceFailure_WrapsPlainErrors(t *testing.T) {
	st := NewStore(brokenBackend{NewMemoryBackend(0)})

	err := st.Initialize(context.Background(), testNamespace)
	require.Error(t, err)
	assert.True(t, IsWarning(err))
	assert.Contains(t, err.Error(), "disk on fire")

	// Initialization still took effect in memory.
	assert.Len(t, st.Sessions(), 1)
	_, err = st.Active()
	assert.NoError(t, err)
}

func TestInvariants_RandomOperations(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 200; i++ {
		sessions := st.Sessions()
		target := sessions[i%len(sessions)].ID
		switch i % 5 {
		case 0:
			_, _ = st.CreateSession(ctx)
		case 1:
			_ = st.DeleteSession(ctx, target)
		case 2:
			_ = st.AppendScan(ctx, target, fmt.Sprintf("input %d", i), safeResult())
		case 3:
			_ = st.RenameSession(ctx, target, fmt.Sprintf("label %d", i))
		case 4:
			_ = st.DeleteSession(ctx, st.ActiveID())
		}

		sessions = st.Sessions()
		require.NotEmpty(t, sessions)

		seen := make(map[string]bool)
		for _, s := range sessions {
			require.False(t, seen[s.ID], "duplicate id %s", s.ID)
			seen[s.ID] = true
		}
		require.True(t, seen[st.ActiveID()], "active id must name an existing session")
	}
}
