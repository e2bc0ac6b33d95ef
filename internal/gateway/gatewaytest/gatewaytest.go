// Package gatewaytest provides in-memory gateways for tests.
package gatewaytest

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/crypto/bcrypt"

	"github.com/Taiwoayodeji/ChatGifs/internal/gateway"
	"github.com/Taiwoayodeji/ChatGifs/internal/gateway/treestore"
)

// NewStore opens an in-memory tree store closed at test cleanup.
func NewStore(t *testing.T, clk clock.Clock) *treestore.Store {
	t.Helper()
	s, err := treestore.OpenInMemory(treestore.Options{Clock: clk, BcryptCost: bcrypt.MinCost})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// SignedIn creates an account plus its users/{uid} record and returns a
// session signed in as that user.
func SignedIn(t *testing.T, s *treestore.Store, email, name string) (*treestore.Session, gateway.Identity) {
	t.Helper()
	ctx := context.Background()
	sess := s.NewSession()
	id, err := sess.SignUp(ctx, email, "password", name)
	if err != nil {
		t.Fatal(err)
	}
	err = sess.Set(ctx, gateway.Join("users", id.UID), map[string]any{
		"email":     email,
		"fullName":  name,
		"createdAt": s.Now(),
	})
	if err != nil {
		t.Fatal(err)
	}
	return sess, id
}

// MakeFriends writes both friend entries directly.
func MakeFriends(t *testing.T, g gateway.Store, a, b string) {
	t.Helper()
	now := time.Now().UnixMilli()
	err := g.Update(context.Background(), map[string]any{
		gateway.Join("users", a, "friends", b): map[string]any{"id": b, "createdAt": now},
		gateway.Join("users", b, "friends", a): map[string]any{"id": a, "createdAt": now},
	})
	if err != nil {
		t.Fatal(err)
	}
}

// Eventually polls cond until it holds or two seconds pass.
func Eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met: %s", msg)
}
