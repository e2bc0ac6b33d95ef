// Package gateway defines the operations the client core consumes from the
// hosted realtime store and identity service.
package gateway

import (
	"context"

	"github.com/google/uuid"
)

// Store is a JSON-shaped tree addressed by slash-separated paths.
type Store interface {
	// Get reads the value at path. An absent path yields a snapshot whose
	// Exists reports false, not an error.
	Get(ctx context.Context, path string) (Snapshot, error)
	// Set replaces the value at path. A nil value deletes it.
	Set(ctx context.Context, path string, value any) error
	// Update applies every path -> value pair atomically. Nil values delete.
	// Paths must not overlap.
	Update(ctx context.Context, updates map[string]any) error
	// Delete removes the value at path.
	Delete(ctx context.Context, path string) error
	// Subscribe delivers the current snapshot of path, then a fresh snapshot
	// after every change to that subtree. Bursts may be coalesced. The
	// returned function detaches the handler and is idempotent.
	Subscribe(path string, fn func(Snapshot)) (func(), error)
	// NewKey returns a fresh, time-ordered unique key.
	NewKey() string
}

// Identity is an authenticated user as seen by the identity service.
type Identity struct {
	UID         string `json:"uid"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
}

// Auth is the identity service.
type Auth interface {
	SignIn(ctx context.Context, email, password string) (Identity, error)
	SignUp(ctx context.Context, email, password, displayName string) (Identity, error)
	SignOut(ctx context.Context) error
	// Current returns the signed-in identity, if any.
	Current() (Identity, bool)
	// OnIdentityChanged registers fn for sign-in/sign-out transitions.
	OnIdentityChanged(fn func(id Identity, signedIn bool)) func()
	// DeleteIdentity removes the current identity and signs out.
	DeleteIdentity(ctx context.Context) error
}

// Gateway is the full backend surface: storage plus identity.
type Gateway interface {
	Store
	Auth
}

// Link is implemented by gateways that reach the store over a connection
// that can drop and come back. fn is called with false when the
// connection is lost and with true once it is restored, identity and
// subscriptions included.
type Link interface {
	OnConnectionChanged(fn func(connected bool)) func()
}

// NewKey returns a UUIDv7 string. Its text form sorts by creation time.
func NewKey() string {
	return uuid.Must(uuid.NewV7()).String()
}

const serverValueKey = ".sv"

// ServerTimestamp is a placeholder the store replaces with its own clock,
// in epoch milliseconds, when the write is applied.
func ServerTimestamp() map[string]any {
	return map[string]any{serverValueKey: "timestamp"}
}

// IsServerTimestamp reports whether v is the ServerTimestamp placeholder.
func IsServerTimestamp(v any) bool {
	m, ok := v.(map[string]any)
	if !ok || len(m) != 1 {
		return false
	}
	s, _ := m[serverValueKey].(string)
	return s == "timestamp"
}
