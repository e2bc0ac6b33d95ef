package wsgateway

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/Taiwoayodeji/ChatGifs/internal/gateway"
	"github.com/Taiwoayodeji/ChatGifs/internal/gateway/gatewaytest"
	"github.com/Taiwoayodeji/ChatGifs/internal/model"
)

func startHub(t *testing.T) string {
	t.Helper()
	_, url := startHubServer(t)
	return url
}

func startHubServer(t *testing.T) (*Server, string) {
	t.Helper()
	srv := NewServer(gatewaytest.NewStore(t, nil), nil)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})
	return srv, wsURL(ts)
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + RealtimePath
}

func dial(t *testing.T, url string, opts ...Option) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := Dial(ctx, url, nil, opts...)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestSignUpAndReadWrite(t *testing.T) {
	url := startHub(t)
	c := dial(t, url)
	ctx := context.Background()

	changes := make(chan bool, 4)
	c.OnIdentityChanged(func(_ gateway.Identity, signedIn bool) { changes <- signedIn })

	id, err := c.SignUp(ctx, "a@example.com", "password", "Alice")
	if err != nil {
		t.Fatal(err)
	}
	if cur, ok := c.Current(); !ok || cur.UID != id.UID {
		t.Fatalf("current = %+v, %v", cur, ok)
	}
	if !<-changes {
		t.Error("expected signed-in notification")
	}

	path := gateway.Join("users", id.UID)
	if err := c.Set(ctx, path, map[string]any{"fullName": "Alice", "createdAt": gateway.ServerTimestamp()}); err != nil {
		t.Fatal(err)
	}
	snap, err := c.Get(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	if name := snap.Child("fullName").Value; name != "Alice" {
		t.Errorf("fullName = %v", name)
	}
	if _, ok := model.Int64(snap.Child("createdAt").Value); !ok {
		t.Errorf("createdAt not resolved: %v", snap.Child("createdAt").Value)
	}

	missing, err := c.Get(ctx, "users/nobody")
	if err != nil {
		t.Fatal(err)
	}
	if missing.Exists() {
		t.Error("missing path reported as existing")
	}

	if err := c.SignOut(ctx); err != nil {
		t.Fatal(err)
	}
	if signedIn := <-changes; signedIn {
		t.Error("expected signed-out notification")
	}
	if _, err := c.Get(ctx, path); !errors.Is(err, model.Unauthenticated) {
		t.Errorf("get after sign out = %v, want unauthenticated", err)
	}
}

func TestErrorKindsCrossTheWire(t *testing.T) {
	url := startHub(t)
	c := dial(t, url)
	ctx := context.Background()

	if _, err := c.SignUp(ctx, "not-an-email", "password", "X"); !errors.Is(err, model.Invalid) {
		t.Errorf("bad email = %v, want invalid", err)
	}
	if _, err := c.SignIn(ctx, "ghost@example.com", "password"); !errors.Is(err, model.Unauthenticated) {
		t.Errorf("unknown account = %v, want unauthenticated", err)
	}
	if _, err := c.Now(ctx); err != nil {
		t.Errorf("now = %v", err)
	}
}

func TestSubscriptionPushes(t *testing.T) {
	url := startHub(t)
	writer := dial(t, url)
	reader := dial(t, url)
	ctx := context.Background()

	if _, err := writer.SignUp(ctx, "w@example.com", "password", "W"); err != nil {
		t.Fatal(err)
	}
	if _, err := reader.SignUp(ctx, "r@example.com", "password", "R"); err != nil {
		t.Fatal(err)
	}

	snaps := make(chan gateway.Snapshot, 16)
	unsub, err := reader.Subscribe("messages/c1", func(s gateway.Snapshot) { snaps <- s })
	if err != nil {
		t.Fatal(err)
	}

	if err := writer.Set(ctx, "messages/c1/m1", map[string]any{"content": "hi"}); err != nil {
		t.Fatal(err)
	}
	deadline := time.After(3 * time.Second)
	for {
		select {
		case s := <-snaps:
			if s.Child("m1").Exists() {
				goto pushed
			}
		case <-deadline:
			t.Fatal("no push for the write")
		}
	}
pushed:
	unsub()
	unsub()
	// The unsubscribe round trip has completed, so the next write is not
	// delivered.
	if err := writer.Set(ctx, "messages/c1/m2", map[string]any{"content": "again"}); err != nil {
		t.Fatal(err)
	}
	timeout := time.After(200 * time.Millisecond)
	for {
		select {
		case s := <-snaps:
			if s.Child("m2").Exists() {
				t.Fatalf("push after unsubscribe: %+v", s)
			}
		case <-timeout:
			return
		}
	}
}

func TestClosedClientFailsTransient(t *testing.T) {
	url := startHub(t)
	c := dial(t, url)
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Now(context.Background()); !errors.Is(err, model.Transient) {
		t.Errorf("call on closed client = %v, want transient", err)
	}
}

func fastRedial() backoff.BackOff { return backoff.NewConstantBackOff(20 * time.Millisecond) }

func expectLink(t *testing.T, links <-chan bool, want bool) {
	t.Helper()
	select {
	case got := <-links:
		if got != want {
			t.Fatalf("connected = %v, want %v", got, want)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("no connection change to %v", want)
	}
}

func TestReconnectRestoresIdentityAndSubscriptions(t *testing.T) {
	srv, url := startHubServer(t)
	c := dial(t, url, WithBackoff(fastRedial))
	ctx := context.Background()

	links := make(chan bool, 4)
	c.OnConnectionChanged(func(up bool) { links <- up })
	changes := make(chan bool, 4)
	c.OnIdentityChanged(func(_ gateway.Identity, signedIn bool) { changes <- signedIn })

	id, err := c.SignUp(ctx, "a@example.com", "password", "Alice")
	if err != nil {
		t.Fatal(err)
	}
	<-changes
	path := gateway.Join("users", id.UID)
	snaps := make(chan gateway.Snapshot, 16)
	if _, err := c.Subscribe(path, func(s gateway.Snapshot) { snaps <- s }); err != nil {
		t.Fatal(err)
	}

	srv.Close()
	expectLink(t, links, false)
	expectLink(t, links, true)
	if !c.Connected() {
		t.Error("client reports disconnected after recovery")
	}

	if cur, ok := c.Current(); !ok || cur.UID != id.UID {
		t.Fatalf("current after reconnect = %+v, %v", cur, ok)
	}
	select {
	case signedIn := <-changes:
		t.Fatalf("identity notification %v on a resumed session", signedIn)
	default:
	}
	// Writes need the resumed identity on the hub side.
	if err := c.Set(ctx, path, map[string]any{"fullName": "Alice B"}); err != nil {
		t.Fatal(err)
	}
	deadline := time.After(3 * time.Second)
	for {
		select {
		case s := <-snaps:
			if s.Child("fullName").Value == "Alice B" {
				return
			}
		case <-deadline:
			t.Fatal("subscription not restored after reconnect")
		}
	}
}

func TestExpiredSessionSignsOutOnReconnect(t *testing.T) {
	store := gatewaytest.NewStore(t, nil)
	var hub atomic.Pointer[Server]
	hub.Store(NewServer(store, nil))
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.Load().ServeRealtime(w, r)
	}))
	t.Cleanup(func() {
		hub.Load().Close()
		ts.Close()
	})
	c := dial(t, wsURL(ts), WithBackoff(fastRedial))
	ctx := context.Background()

	links := make(chan bool, 4)
	c.OnConnectionChanged(func(up bool) { links <- up })
	changes := make(chan bool, 4)
	c.OnIdentityChanged(func(_ gateway.Identity, signedIn bool) { changes <- signedIn })
	if _, err := c.SignUp(ctx, "a@example.com", "password", "Alice"); err != nil {
		t.Fatal(err)
	}
	<-changes

	// A restarted hub has no record of the resume token.
	hub.Swap(NewServer(store, nil)).Close()
	expectLink(t, links, false)
	select {
	case signedIn := <-changes:
		if signedIn {
			t.Fatal("expected signed-out notification")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("expired session was not reported")
	}
	expectLink(t, links, true)
	if _, ok := c.Current(); ok {
		t.Error("still signed in after the hub forgot the session")
	}
	if _, err := c.SignIn(ctx, "a@example.com", "password"); err != nil {
		t.Fatalf("sign in after expiry = %v", err)
	}
}

func TestSignOutRevokesResumeToken(t *testing.T) {
	srv := NewServer(gatewaytest.NewStore(t, nil), nil)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})
	c := dial(t, wsURL(ts))
	ctx := context.Background()
	if _, err := c.SignUp(ctx, "a@example.com", "password", "Alice"); err != nil {
		t.Fatal(err)
	}
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()
	if token == "" {
		t.Fatal("sign up returned no resume token")
	}
	if _, ok := srv.resume(token); !ok {
		t.Fatal("hub did not record the token")
	}
	if err := c.SignOut(ctx); err != nil {
		t.Fatal(err)
	}
	if _, ok := srv.resume(token); ok {
		t.Error("token still valid after sign out")
	}
	if _, err := c.call(ctx, Request{Op: opResume, Token: token}); !errors.Is(err, model.Unauthenticated) {
		t.Errorf("resume with revoked token = %v, want unauthenticated", err)
	}
}

func TestHealthz(t *testing.T) {
	srv := NewServer(gatewaytest.NewStore(t, nil), nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "ok") {
		t.Errorf("healthz = %d %q", rec.Code, rec.Body.String())
	}
}
