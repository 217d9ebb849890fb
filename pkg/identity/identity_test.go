package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNamespace(t *testing.T) {
	tests := []struct {
		name string
		id   string
		want string
	}{
		{"guest", "", "scanSessions-default"},
		{"email", "alice@example.com", "scanSessions-alice@example.com"},
		{"kept verbatim", " Bob ", "scanSessions- Bob "},
		{"literal default", "default", "scanSessions-default"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Namespace(tt.id))
			assert.Equal(t, Namespace(tt.id), Namespace(tt.id))
		})
	}
}

func TestNamespace_DistinctIdentifiers(t *testing.T) {
	ids := []string{"a", "A", "a ", "alice", "alice@example.com", "bob"}
	seen := make(map[string]string)
	for _, id := range ids {
		ns := Namespace(id)
		if prev, ok := seen[ns]; ok {
			t.Errorf("Namespace(%q) collides with Namespace(%q)", id, prev)
		}
		seen[ns] = id
	}
}

func TestResolve(t *testing.T) {
	assert.Equal(t, "scanSessions-default", Resolve(User{}))
	assert.Equal(t, "scanSessions-default", Resolve(User{Name: "mallory"}))
	assert.Equal(t, "scanSessions-default", Resolve(User{Authenticated: true}))
	assert.Equal(t, "scanSessions-carol", Resolve(User{Name: "carol", Authenticated: true}))
}

func TestIdentifier(t *testing.T) {
	id, ok := Identifier(Namespace("dave"))
	assert.True(t, ok)
	assert.Equal(t, "dave", id)

	_, ok = Identifier("other-dave")
	assert.False(t, ok)

	assert.True(t, IsGuest(Namespace("")))
	assert.False(t, IsGuest(Namespace("dave")))
}
