package outbox

import (
	"context"
	"errors"
	"path/filepath"
	stdsync "sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Taiwoayodeji/ChatGifs/internal/bus"
	"github.com/Taiwoayodeji/ChatGifs/internal/model"
	"github.com/Taiwoayodeji/ChatGifs/internal/store"
)

// mockSender records calls and returns configurable results.
type mockSender struct {
	mu    stdsync.Mutex
	uid   string
	calls  []sendCall
	err    error
	onSend func()
}

type sendCall struct {
	ConversationID string
	Content        string
	Type           model.MessageType
}

func (m *mockSender) UserID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.uid
}

func (m *mockSender) SendMessage(_ context.Context, cid, content string, typ model.MessageType) (model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, sendCall{ConversationID: cid, Content: content, Type: typ})
	if m.onSend != nil {
		m.onSend()
	}
	if m.err != nil {
		return model.Message{}, m.err
	}
	return model.Message{ID: "server-" + cid, ConversationID: cid, Content: content, Type: typ}, nil
}

func (m *mockSender) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func testDB(t *testing.T) *store.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func waitEvent(t *testing.T, ch <-chan bus.Event) bus.Event {
	t.Helper()
	select {
	case evt := <-ch:
		return evt
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for event")
	}
	return bus.Event{}
}

func TestSenderProcessesPendingMessages(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	clk := clock.NewMock()
	mock := &mockSender{uid: "u1"}
	logger, _ := zap.NewDevelopment()
	s := NewSender(db, mock, b, clk, logger)

	ch, unsub := b.Subscribe("message.send_ack", 10)
	defer unsub()

	clientID, err := s.Queue("c1", "https://media.giphy.com/x.gif", model.MessageGIF)
	if err != nil {
		t.Fatal(err)
	}

	s.Start(context.Background())
	defer s.Stop()
	clk.Add(DrainInterval)

	evt := waitEvent(t, ch)
	payload := evt.Payload.(map[string]string)
	if payload["client_msg_id"] != clientID || payload["server_msg_id"] != "server-c1" {
		t.Errorf("payload = %v", payload)
	}
	if !evt.Timestamp.Equal(clk.Now()) {
		t.Errorf("event timestamp = %v, want %v", evt.Timestamp, clk.Now())
	}
	if mock.callCount() != 1 {
		t.Fatalf("got %d send calls, want 1", mock.callCount())
	}
	if c := mock.calls[0]; c.ConversationID != "c1" || c.Type != model.MessageGIF {
		t.Errorf("call = %+v", c)
	}

	entry, err := db.OutboxEntryByClientID(clientID)
	if err != nil {
		t.Fatal(err)
	}
	if entry.Status != store.OutboxSent || entry.ServerMsgID != "server-c1" {
		t.Errorf("entry = %+v", entry)
	}
}

func TestSenderHandlesFailure(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	clk := clock.NewMock()
	mock := &mockSender{uid: "u1", err: model.Errorf(model.NotFound, "send message", "conversation c1 not found")}
	s := NewSender(db, mock, b, clk, nil)

	ch, unsub := b.Subscribe("message.send_failed", 10)
	defer unsub()

	if _, err := s.Queue("c1", "hello", model.MessageText); err != nil {
		t.Fatal(err)
	}
	s.Start(context.Background())
	defer s.Stop()
	clk.Add(DrainInterval)

	if evt := waitEvent(t, ch); evt.Kind != "message.send_failed" {
		t.Errorf("event kind = %q, want message.send_failed", evt.Kind)
	}

	// Failed entries are not retried.
	clk.Add(DrainInterval)
	time.Sleep(50 * time.Millisecond)
	if mock.callCount() != 1 {
		t.Errorf("got %d send calls, want 1", mock.callCount())
	}
	pending, err := db.PendingOutbox("u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Errorf("got %d pending, want 0 (should be marked failed)", len(pending))
	}
}

func TestSenderKeepsMessagesAcrossSignOut(t *testing.T) {
	db := testDB(t)
	clk := clock.NewMock()
	mock := &mockSender{uid: "u1", err: model.ErrNotSignedIn}
	s := NewSender(db, mock, nil, clk, nil)

	clientID, err := s.Queue("c1", "hello", model.MessageText)
	if err != nil {
		t.Fatal(err)
	}
	s.Start(context.Background())
	defer s.Stop()
	clk.Add(DrainInterval)

	deadline := time.Now().Add(2 * time.Second)
	for mock.callCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	s.Stop()

	entry, err := db.OutboxEntryByClientID(clientID)
	if err != nil {
		t.Fatal(err)
	}
	if entry.Status != store.OutboxQueued {
		t.Errorf("status = %q, want queued", entry.Status)
	}
}

func TestSenderLogsOutboxWriteFailures(t *testing.T) {
	for _, tc := range []struct {
		name string
		err  error
		want string
	}{
		{"signed out", model.ErrNotSignedIn, "failed to requeue"},
		{"send failed", model.Errorf(model.NotFound, "send message", "conversation c1 not found"), "failed to mark failed"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			db := testDB(t)
			clk := clock.NewMock()
			core, logs := observer.New(zap.ErrorLevel)
			sent := make(chan struct{})
			// The database goes away between the send and the status write.
			mock := &mockSender{uid: "u1", err: tc.err, onSend: func() {
				_ = db.Close()
				close(sent)
			}}
			s := NewSender(db, mock, nil, clk, zap.New(core))

			if _, err := s.Queue("c1", "hello", model.MessageText); err != nil {
				t.Fatal(err)
			}
			s.Start(context.Background())
			clk.Add(DrainInterval)
			select {
			case <-sent:
			case <-time.After(2 * time.Second):
				t.Fatal("message never sent")
			}
			s.Stop()

			if n := logs.FilterMessage(tc.want).Len(); n != 1 {
				t.Errorf("%q logged %d times, want 1", tc.want, n)
			}
		})
	}
}

func TestQueueValidates(t *testing.T) {
	db := testDB(t)
	s := NewSender(db, &mockSender{}, nil, nil, nil)
	if _, err := s.Queue("c1", "x", model.MessageText); !errors.Is(err, model.Unauthenticated) {
		t.Errorf("signed out err = %v", err)
	}

	s = NewSender(db, &mockSender{uid: "u1"}, nil, nil, nil)
	for _, tc := range []struct {
		cid string
		typ model.MessageType
	}{
		{"", model.MessageText},
		{"a/b", model.MessageText},
		{"c1", "sticker"},
	} {
		if _, err := s.Queue(tc.cid, "x", tc.typ); !errors.Is(err, model.Invalid) {
			t.Errorf("Queue(%q, %q) err = %v, want Invalid", tc.cid, tc.typ, err)
		}
	}
}
