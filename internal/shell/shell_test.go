package shell

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/mamasecure/scanstore/pkg/classify"
	"github.com/mamasecure/scanstore/pkg/scan"
	"github.com/mamasecure/scanstore/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestShell(t *testing.T, quota int) (*Shell, *session.Store, *bytes.Buffer) {
	t.Helper()
	n := 0
	st := session.NewStore(session.NewMemoryBackend(quota), session.WithIDGenerator(func() string {
		n++
		return fmt.Sprintf("s%d", n)
	}))
	err := st.Initialize(context.Background(), "scanSessions-default")
	if quota == 0 {
		require.NoError(t, err)
	}
	var out bytes.Buffer
	p := scan.NewPipeline(st, classify.NewHeuristic())
	t.Cleanup(func() { _ = p.Close(context.Background()) })
	return New(p, &out), st, &out
}

func TestExecute_Scan(t *testing.T) {
	sh, st, out := newTestShell(t, 0)

	require.NoError(t, sh.Execute(context.Background(), "win a free scam cruise"))
	assert.Contains(t, out.String(), "SCAM (96% confidence)")
	assert.Contains(t, out.String(), "Sources: ScamWatch.org")

	sess, err := st.Active()
	require.NoError(t, err)
	require.Len(t, sess.Scans, 1)
	assert.Equal(t, "win a free scam crui", sess.Label)
}

func TestExecute_ScanKeepsRawInput(t *testing.T) {
	sh, st, _ := newTestShell(t, 0)

	require.NoError(t, sh.Execute(context.Background(), "  hello there  "))
	sess, err := st.Active()
	require.NoError(t, err)
	require.Len(t, sess.Scans, 1)
	assert.Equal(t, "  hello there  ", sess.Scans[0].Input)
}

func TestExecute_BlankInput(t *testing.T) {
	sh, st, out := newTestShell(t, 0)

	require.NoError(t, sh.Execute(context.Background(), "   "))
	assert.Empty(t, out.String())
	sess, _ := st.Active()
	assert.Empty(t, sess.Scans)
}

func TestExecute_SessionCommands(t *testing.T) {
	sh, st, out := newTestShell(t, 0)
	ctx := context.Background()

	require.NoError(t, sh.Execute(ctx, "/new"))
	assert.Equal(t, "s2", st.ActiveID())

	out.Reset()
	require.NoError(t, sh.Execute(ctx, "/list"))
	assert.Equal(t, "* 1. New Scan (0 scans)\n  2. New Scan (0 scans)\n", out.String())

	require.NoError(t, sh.Execute(ctx, "/switch 2"))
	assert.Equal(t, "s1", st.ActiveID())

	require.NoError(t, sh.Execute(ctx, "/switch s2"))
	assert.Equal(t, "s2", st.ActiveID())

	require.NoError(t, sh.Execute(ctx, "/rename 2 Bank texts"))
	sess, err := st.Session("s1")
	require.NoError(t, err)
	assert.Equal(t, "Bank texts", sess.Label)

	require.NoError(t, sh.Execute(ctx, "/delete 1"))
	assert.Len(t, st.Sessions(), 1)
	assert.Equal(t, "s1", st.ActiveID())

	err = sh.Execute(ctx, "/delete 1")
	assert.ErrorIs(t, err, session.ErrLastSession)
}

func TestExecute_Show(t *testing.T) {
	sh, _, out := newTestShell(t, 0)
	ctx := context.Background()

	require.NoError(t, sh.Execute(ctx, "/show"))
	assert.Contains(t, out.String(), "no scans yet")

	require.NoError(t, sh.Execute(ctx, "hello there"))
	out.Reset()
	require.NoError(t, sh.Execute(ctx, "/show"))
	assert.Contains(t, out.String(), "> hello there")
	assert.Contains(t, out.String(), "SAFE (91% confidence)")
}

func TestExecute_Errors(t *testing.T) {
	sh, _, _ := newTestShell(t, 0)
	ctx := context.Background()

	tests := []struct {
		input string
		is    error
	}{
		{"/switch 5", session.ErrSessionNotFound},
		{"/switch nope", session.ErrSessionNotFound},
		{"/switch", nil},
		{"/rename 1", nil},
		{"/bogus", nil},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			err := sh.Execute(ctx, tt.input)
			require.Error(t, err)
			if tt.is != nil {
				assert.ErrorIs(t, err, tt.is)
			}
		})
	}

	assert.ErrorIs(t, sh.Execute(ctx, "/quit"), ErrQuit)
}

func TestExecute_PersistenceWarningIsPrinted(t *testing.T) {
	sh, st, out := newTestShell(t, 10)

	require.NoError(t, sh.Execute(context.Background(), "/new"))
	assert.Contains(t, out.String(), "Warning:")
	assert.Len(t, st.Sessions(), 2)
}
