package daemon

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Taiwoayodeji/ChatGifs/internal/api"
	"github.com/Taiwoayodeji/ChatGifs/internal/client"
	"github.com/Taiwoayodeji/ChatGifs/internal/config"
	"github.com/Taiwoayodeji/ChatGifs/internal/gateway/gatewaytest"
	"github.com/Taiwoayodeji/ChatGifs/internal/gateway/wsgateway"
	"github.com/Taiwoayodeji/ChatGifs/internal/model"
	"github.com/Taiwoayodeji/ChatGifs/internal/profile"
)

// shortTemp keeps socket paths under the 104-char Unix socket limit.
func shortTemp(t *testing.T, pattern string) string {
	t.Helper()
	dir, err := os.MkdirTemp("/tmp", pattern)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return dir
}

func testConfig(hubURL, gifURL string) *config.Config {
	cfg := config.Default()
	cfg.Backend = config.Backend{Mode: config.BackendHub, URL: hubURL}
	cfg.Timing.ConversationRefresh = config.Duration{Duration: 50 * time.Millisecond}
	cfg.Timing.PresencePoll = config.Duration{Duration: 50 * time.Millisecond}
	cfg.Timing.StatusFlush = config.Duration{Duration: 100 * time.Millisecond}
	cfg.Timing.Heartbeat = config.Duration{Duration: time.Second}
	cfg.Timing.ReloadRetryDelay = config.Duration{Duration: 10 * time.Millisecond}
	cfg.Gif.BaseURL = gifURL
	cfg.Gif.APIKey = "test"
	return cfg
}

func startHub(t *testing.T) string {
	t.Helper()
	srv := wsgateway.NewServer(gatewaytest.NewStore(t, nil), nil)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})
	return "ws" + strings.TrimPrefix(ts.URL, "http") + wsgateway.RealtimePath
}

func startGifProvider(t *testing.T) string {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[{"id":"g1","title":"cat","images":{"fixed_height":{"url":"https://media.giphy.com/g1.gif","width":"200","height":"150"}}}]}`))
	}))
	t.Cleanup(ts.Close)
	return ts.URL
}

func startDaemon(t *testing.T, name string, cfg *config.Config) *client.Client {
	t.Helper()
	socketPath := filepath.Join(shortTemp(t, "cg-sock-*"), "d.sock")
	app := fx.New(
		Module(Params{Profile: name, SocketPath: socketPath, Config: cfg, Logger: zap.NewNop()}),
		fx.NopLogger,
	)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.Start(ctx); err != nil {
		t.Fatalf("start daemon %s: %v", name, err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = app.Stop(ctx)
	})

	c, err := client.New(socketPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func call(t *testing.T, c *client.Client, method string, args map[string]any) map[string]any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	out, err := c.Call(ctx, method, args)
	if err != nil {
		t.Fatalf("%s: %v", method, err)
	}
	return out
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func waitStatus(t *testing.T, c *client.Client, want string) {
	t.Helper()
	eventually(t, "status "+want, func() bool {
		return call(t, c, api.MethodStatus, nil)["status"] == want
	})
}

func list(m map[string]any, key string) []map[string]any {
	raw, _ := m[key].([]any)
	out := make([]map[string]any, 0, len(raw))
	for _, item := range raw {
		if obj, ok := item.(map[string]any); ok {
			out = append(out, obj)
		}
	}
	return out
}

func TestFxModuleWiring(t *testing.T) {
	t.Setenv(profile.EnvHome, shortTemp(t, "cg-home-*"))
	p := Params{Profile: "fxtest", SocketPath: "/tmp/unused.sock", Config: config.Default(), Logger: zap.NewNop()}
	if err := fx.ValidateApp(Module(p), fx.NopLogger); err != nil {
		t.Fatalf("fx graph does not resolve: %v", err)
	}
}

func TestSecondDaemonRefusesProfile(t *testing.T) {
	t.Setenv(profile.EnvHome, shortTemp(t, "cg-home-*"))
	cfg := config.Default()
	cfg.Backend.DataDir = filepath.Join(shortTemp(t, "cg-tree-*"), "tree")
	c := startDaemon(t, "main", cfg)
	waitStatus(t, c, "SIGNED_OUT")

	app := fx.New(
		Module(Params{Profile: "main", SocketPath: filepath.Join(shortTemp(t, "cg-sock-*"), "d.sock"), Config: cfg, Logger: zap.NewNop()}),
		fx.NopLogger,
	)
	if err := app.Err(); err == nil {
		t.Fatal("second daemon on the same profile should fail to build")
	}
}

func TestDaemonEndToEnd(t *testing.T) {
	t.Setenv(profile.EnvHome, shortTemp(t, "cg-home-*"))
	cfg := testConfig(startHub(t), startGifProvider(t))
	alice := startDaemon(t, "alice", cfg)
	bob := startDaemon(t, "bob", cfg)
	waitStatus(t, alice, "SIGNED_OUT")
	waitStatus(t, bob, "SIGNED_OUT")

	// Signed out calls are rejected with the model kind intact.
	if _, err := alice.Call(context.Background(), api.MethodListFriends, nil); !errors.Is(err, model.Unauthenticated) {
		t.Fatalf("signed out ListFriends = %v", err)
	}

	aUser := call(t, alice, api.MethodSignUp, map[string]any{"email": "alice@example.com", "password": "password", "full_name": "Alice"})
	bUser := call(t, bob, api.MethodSignUp, map[string]any{"email": "bob@example.com", "password": "password", "full_name": "Bob"})
	aID := aUser["user"].(map[string]any)["id"].(string)
	bID := bUser["user"].(map[string]any)["id"].(string)
	waitStatus(t, alice, "READY")
	waitStatus(t, bob, "READY")

	// Friend request, accepted by the receiver.
	call(t, alice, api.MethodSendFriendRequest, map[string]any{"receiver_id": bID})
	reqs := list(call(t, bob, api.MethodListFriendRequests, nil), "requests")
	if len(reqs) != 1 || reqs[0]["direction"] != "incoming" || reqs[0]["sender_id"] != aID {
		t.Fatalf("bob's requests = %v", reqs)
	}
	call(t, bob, api.MethodAcceptFriendRequest, map[string]any{"request_id": reqs[0]["id"]})
	friends := list(call(t, alice, api.MethodListFriends, nil), "friends")
	if len(friends) != 1 || friends[0]["id"] != bID {
		t.Fatalf("alice's friends = %v", friends)
	}

	// Conversation and a queued GIF message.
	conv := call(t, alice, api.MethodCreateConversation, map[string]any{"participants": []any{bID}})
	cid := conv["conversation"].(map[string]any)["id"].(string)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, _, err := alice.Watch(ctx, "message.")
	if err != nil {
		t.Fatal(err)
	}
	sent := call(t, alice, api.MethodSendMessage, map[string]any{
		"conversation_id": cid, "content": "https://media.giphy.com/g1.gif", "type": "gif",
	})
	if sent["client_msg_id"] == "" {
		t.Fatalf("send = %v", sent)
	}
	deadline := time.After(5 * time.Second)
	for acked := false; !acked; {
		select {
		case evt := <-events:
			if evt.Kind == "message.send_failed" {
				t.Fatalf("send failed: %v", evt.Payload)
			}
			acked = evt.Kind == "message.send_ack"
		case <-deadline:
			t.Fatal("no send ack")
		}
	}

	// Bob sees the conversation as unread until he opens it.
	unread := func(want bool) func() bool {
		return func() bool {
			for _, c := range list(call(t, bob, api.MethodListConversations, nil), "conversations") {
				if c["id"] == cid {
					return c["unread"] == want
				}
			}
			return false
		}
	}
	eventually(t, "unread conversation", unread(true))
	call(t, bob, api.MethodOpenConversation, map[string]any{"conversation_id": cid})
	eventually(t, "streamed message", func() bool {
		return len(list(call(t, bob, api.MethodListMessages, map[string]any{"conversation_id": cid}), "messages")) == 1
	})
	call(t, bob, api.MethodCloseConversation, nil)
	eventually(t, "conversation read", unread(false))

	online := call(t, bob, api.MethodCheckOnline, map[string]any{"user_id": aID})
	if online["online"] != true {
		t.Errorf("alice online = %v", online)
	}

	gifs := list(call(t, bob, api.MethodSearchGifs, map[string]any{"query": "cats"}), "gifs")
	if len(gifs) != 1 || gifs[0]["url"] != "https://media.giphy.com/g1.gif" {
		t.Errorf("gifs = %v", gifs)
	}

	call(t, bob, api.MethodSetPreference, map[string]any{"key": "theme", "value": "dark"})
	call(t, bob, api.MethodSetPreference, map[string]any{"key": "active_tab", "value": "friends"})
	prefs := call(t, bob, api.MethodGetPreferences, nil)
	if prefs["theme"] != "dark" || prefs["active_tab"] != "friends" {
		t.Errorf("prefs = %v", prefs)
	}
	if _, err := bob.Call(context.Background(), api.MethodSetPreference, map[string]any{"key": "theme", "value": "neon"}); !errors.Is(err, model.Invalid) {
		t.Errorf("bad theme = %v, want invalid", err)
	}

	if _, err := alice.Call(context.Background(), api.MethodAcceptFriendRequest, map[string]any{"request_id": "nope"}); !errors.Is(err, model.NotFound) {
		t.Errorf("unknown request = %v, want not found", err)
	}

	call(t, alice, api.MethodSignOut, nil)
	waitStatus(t, alice, "SIGNED_OUT")
	eventually(t, "alice offline", func() bool {
		return call(t, bob, api.MethodCheckOnline, map[string]any{"user_id": aID})["online"] == false
	})
}
