package freshness

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/Taiwoayodeji/ChatGifs/internal/model"
	"github.com/Taiwoayodeji/ChatGifs/internal/store"
)

func gif(sender string, ts int64) model.Message {
	return model.Message{ID: sender, SenderID: sender, Type: model.MessageGIF, Timestamp: ts, ConversationID: "c1"}
}

func TestHasUnread(t *testing.T) {
	text := gif("bob", 300)
	text.Type = model.MessageText

	tests := []struct {
		name       string
		msgs       []model.Message
		lastOpened int64
		open       bool
		want       bool
	}{
		{"no messages", nil, 0, false, false},
		{"gif after open", []model.Message{gif("bob", 200)}, 100, false, true},
		{"gif before open", []model.Message{gif("bob", 50)}, 100, false, false},
		{"equal to open time", []model.Message{gif("bob", 100)}, 100, false, false},
		{"own gif", []model.Message{gif("me", 200)}, 100, false, false},
		{"currently open", []model.Message{gif("bob", 200)}, 100, true, false},
		{"never opened", []model.Message{gif("bob", 1)}, 0, false, true},
		{"latest is text", []model.Message{gif("bob", 200), text}, 100, false, false},
		{"latest wins regardless of order", []model.Message{gif("bob", 200), gif("me", 150)}, 100, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HasUnread("c1", tt.msgs, tt.lastOpened, "me", tt.open); got != tt.want {
				t.Errorf("HasUnread = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSummaryUnread(t *testing.T) {
	conv := model.Conversation{ID: "c1", LastMessage: &model.LastMessage{Type: model.MessageGIF, Timestamp: 10, SenderID: "bob"}}
	if !SummaryUnread(conv, 0, "me", false) {
		t.Error("unopened conversation with a gif should be unread")
	}
	if SummaryUnread(conv, 10, "me", false) {
		t.Error("opened at the message time should be read")
	}
	if SummaryUnread(model.Conversation{ID: "c2"}, 0, "me", false) {
		t.Error("conversation without lastMessage should be read")
	}
}

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestTrackerPersistsAcrossRestart(t *testing.T) {
	db := testDB(t)
	clk := clock.NewMock()
	clk.Set(time.UnixMilli(1_000))

	tr := NewTracker(db, clk, nil)
	if err := tr.MarkOpened("c1"); err != model.ErrNotSignedIn {
		t.Fatalf("signed out MarkOpened = %v", err)
	}
	if err := tr.Load("me"); err != nil {
		t.Fatal(err)
	}
	if err := tr.MarkOpened("c1"); err != nil {
		t.Fatal(err)
	}

	restarted := NewTracker(db, clk, nil)
	if err := restarted.Load("me"); err != nil {
		t.Fatal(err)
	}
	if !restarted.IsOpened("c1") || restarted.LastOpenedAt("c1") != 1_000 {
		t.Errorf("after restart: opened=%v at=%d", restarted.IsOpened("c1"), restarted.LastOpenedAt("c1"))
	}
	if restarted.IsOpened("c2") {
		t.Error("c2 was never opened")
	}
}

func TestUnreadLifecycle(t *testing.T) {
	db := testDB(t)
	clk := clock.NewMock()
	clk.Set(time.UnixMilli(1_000))
	tr := NewTracker(db, clk, nil)
	if err := tr.Load("me"); err != nil {
		t.Fatal(err)
	}
	conv := model.Conversation{ID: "c1"}

	// Opened, then closed; a friend's gif arrives later.
	if err := tr.MarkOpened("c1"); err != nil {
		t.Fatal(err)
	}
	msgs := []model.Message{gif("bob", 2_000)}
	if !tr.Unread(conv, msgs, "") {
		t.Fatal("gif after last open should be unread")
	}
	if tr.Unread(conv, msgs, "c1") {
		t.Fatal("open conversation is never unread")
	}

	// Arriving while open advances last seen, so closing keeps it read.
	if err := tr.ObserveMessage(msgs[0], "c1"); err != nil {
		t.Fatal(err)
	}
	if tr.Unread(conv, msgs, "") {
		t.Error("message seen while open reported unread")
	}

	// Own messages never count.
	msgs = append(msgs, gif("me", 3_000))
	if tr.Unread(conv, msgs, "") {
		t.Error("own gif reported unread")
	}

	// Messages for other conversations do not move this one.
	other := gif("bob", 9_000)
	other.ConversationID = "c2"
	if err := tr.ObserveMessage(other, "c1"); err != nil {
		t.Fatal(err)
	}
	if tr.LastOpenedAt("c2") != 0 {
		t.Error("message for a closed conversation advanced last seen")
	}
}
