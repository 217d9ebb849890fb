// Package identity maps a user identity to the namespace key under which
// that user's scan sessions are persisted.
package identity

import "strings"

const (
	// NamespacePrefix is prepended to every namespace key.
	NamespacePrefix = "scanSessions-"

	// Guest is the identifier used when no user is known.
	Guest = "default"
)

// User is the identity attached to a request or shell.
type User struct {
	Name          string
	Authenticated bool
}

// Namespace returns the storage namespace for userIdentifier. An empty
// identifier maps to the guest namespace. The identifier is used verbatim,
// so distinct identifiers never share a namespace.
func Namespace(userIdentifier string) string {
	if userIdentifier == "" {
		userIdentifier = Guest
	}
	return NamespacePrefix + userIdentifier
}

// Resolve returns the namespace for u. Unauthenticated users share the
// guest namespace regardless of the name they carry.
func Resolve(u User) string {
	if !u.Authenticated {
		return Namespace("")
	}
	return Namespace(u.Name)
}

// IsGuest reports whether namespace is the guest namespace.
func IsGuest(namespace string) bool {
	return namespace == Namespace("")
}

// Identifier returns the user identifier encoded in namespace, or false if
// namespace does not carry the prefix.
func Identifier(namespace string) (string, bool) {
	return strings.CutPrefix(namespace, NamespacePrefix)
}
