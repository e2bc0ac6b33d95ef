package sync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/Taiwoayodeji/ChatGifs/internal/bus"
	"github.com/Taiwoayodeji/ChatGifs/internal/gateway"
	"github.com/Taiwoayodeji/ChatGifs/internal/gateway/gatewaytest"
	"github.com/Taiwoayodeji/ChatGifs/internal/model"
)

func msg(sender string, ts int64, content string) map[string]any {
	return map[string]any{"senderId": sender, "content": content, "type": "text", "timestamp": ts}
}

func TestDecodeSnapshotSortsAndDropsInvalid(t *testing.T) {
	snap := gateway.Snapshot{Path: "messages/c1", Value: map[string]any{
		"k1": msg("a", 300, "third"),
		"k2": msg("b", 100, "first"),
		"k3": map[string]any{"senderId": "a", "content": "no timestamp", "type": "text"},
		"k4": msg("a", 200, "second-a"),
		"k5": msg("b", 200, "second-b"),
		"k6": map[string]any{"senderId": "a", "content": "x", "type": "video", "timestamp": 1},
	}}
	got := DecodeSnapshot("c1", snap, nil)
	want := []string{"first", "second-a", "second-b", "third"}
	if len(got) != len(want) {
		t.Fatalf("got %d messages, want %d", len(got), len(want))
	}
	for i, w := range want {
		if got[i].Content != w {
			t.Errorf("position %d = %q, want %q", i, got[i].Content, w)
		}
		if got[i].ConversationID != "c1" {
			t.Errorf("conversation id = %q", got[i].ConversationID)
		}
	}
}

func TestSubscribeDeliversOrderedSnapshots(t *testing.T) {
	s := gatewaytest.NewStore(t, nil)
	sess, _ := gatewaytest.SignedIn(t, s, "a@example.com", "A")
	ctx := context.Background()
	r := NewReconciler(sess, bus.New(), nil, nil)

	updates := make(chan []model.Message, 16)
	if err := r.Subscribe("c1", func(cid string, msgs []model.Message) {
		if cid != "c1" {
			t.Errorf("update for %q", cid)
		}
		updates <- msgs
	}); err != nil {
		t.Fatal(err)
	}
	defer r.Unsubscribe()

	if got := waitUpdate(t, updates); len(got) != 0 {
		t.Fatalf("initial = %d messages, want 0", len(got))
	}

	// Inserted newest first.
	for i, ts := range []int64{500, 300, 100, 400} {
		if err := s.Set(ctx, gateway.Join("messages", "c1", string(rune('a'+i))), msg("x", ts, "m")); err != nil {
			t.Fatal(err)
		}
	}
	deadline := time.After(2 * time.Second)
	for {
		var got []model.Message
		select {
		case got = <-updates:
		case <-deadline:
			t.Fatal("never saw all four messages")
		}
		for i := 1; i < len(got); i++ {
			if got[i].Timestamp < got[i-1].Timestamp {
				t.Fatalf("emission out of order: %v", got)
			}
		}
		if len(got) == 4 {
			break
		}
	}
}

func TestResubscribeDropsOldConversation(t *testing.T) {
	s := gatewaytest.NewStore(t, nil)
	sess, _ := gatewaytest.SignedIn(t, s, "a@example.com", "A")
	ctx := context.Background()
	r := NewReconciler(sess, nil, nil, nil)

	seen := make(chan string, 32)
	record := func(cid string, _ []model.Message) { seen <- cid }
	if err := r.Subscribe("c1", record); err != nil {
		t.Fatal(err)
	}
	if err := r.Subscribe("c2", record); err != nil {
		t.Fatal(err)
	}
	if r.Active() != "c2" {
		t.Fatalf("active = %q, want c2", r.Active())
	}

	// Drain initial deliveries.
	time.Sleep(100 * time.Millisecond)
	for len(seen) > 0 {
		<-seen
	}

	if err := s.Set(ctx, "messages/c1/m1", msg("x", 1, "old")); err != nil {
		t.Fatal(err)
	}
	if err := s.Set(ctx, "messages/c2/m1", msg("x", 1, "new")); err != nil {
		t.Fatal(err)
	}
	select {
	case cid := <-seen:
		if cid != "c2" {
			t.Fatalf("delivery for %s after switching to c2", cid)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no delivery for c2")
	}

	r.Unsubscribe()
	r.Unsubscribe()
	if r.Active() != "" {
		t.Errorf("active after unsubscribe = %q", r.Active())
	}
}

func TestCacheIsolatesConversations(t *testing.T) {
	c := NewCache()
	c.Replace("c2", []model.Message{{ID: "x", ConversationID: "c2", Timestamp: 5}})
	c.Replace("c1", []model.Message{{ID: "a", ConversationID: "c1", Timestamp: 1}})
	c.Replace("c1", []model.Message{
		{ID: "a", ConversationID: "c1", Timestamp: 1},
		{ID: "b", ConversationID: "c1", Timestamp: 2},
	})

	if got := c.Messages("c2"); len(got) != 1 || got[0].ID != "x" {
		t.Errorf("c2 = %+v, want untouched", got)
	}
	if latest, ok := c.Latest("c1"); !ok || latest.ID != "b" {
		t.Errorf("latest c1 = %+v, %v", latest, ok)
	}

	// Returned slices are copies.
	got := c.Messages("c1")
	got[0].ID = "mutated"
	if c.Messages("c1")[0].ID != "a" {
		t.Error("cache shares memory with caller")
	}

	c.Drop("c1")
	if c.Has("c1") || !c.Has("c2") {
		t.Error("Drop touched the wrong conversation")
	}
}

func TestSendMessageWritesSummary(t *testing.T) {
	s := gatewaytest.NewStore(t, nil)
	sess, me := gatewaytest.SignedIn(t, s, "a@example.com", "A")
	ctx := context.Background()
	if err := s.Set(ctx, "conversations/c1", map[string]any{
		"participants": []any{me.UID, "bob"}, "createdAt": 1,
	}); err != nil {
		t.Fatal(err)
	}
	r := NewReconciler(sess, nil, nil, nil)

	sent, err := r.SendMessage(ctx, "c1", "https://media.giphy.com/x.gif", model.MessageGIF)
	if err != nil {
		t.Fatal(err)
	}
	if sent.Timestamp == 0 || sent.SenderID != me.UID {
		t.Errorf("sent = %+v", sent)
	}
	snap, _ := s.Get(ctx, "conversations/c1")
	conv, err := model.DecodeConversation("c1", snap.Value)
	if err != nil {
		t.Fatal(err)
	}
	if conv.LastMessage == nil || conv.LastMessage.Type != model.MessageGIF || conv.LastMessage.SenderID != me.UID {
		t.Errorf("lastMessage = %+v", conv.LastMessage)
	}
	if conv.UpdatedAt != sent.Timestamp {
		t.Errorf("updatedAt = %d, want %d", conv.UpdatedAt, sent.Timestamp)
	}

	for _, tc := range []struct {
		name    string
		cid     string
		content string
		typ     model.MessageType
		kind    model.Kind
	}{
		{"empty", "c1", "   ", model.MessageText, model.Invalid},
		{"bad type", "c1", "hi", "sticker", model.Invalid},
		{"missing conversation", "nope", "hi", model.MessageText, model.NotFound},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := r.SendMessage(ctx, tc.cid, tc.content, tc.typ); !errors.Is(err, tc.kind) {
				t.Errorf("err = %v, want %v", err, tc.kind)
			}
		})
	}
}

func TestRepairParticipantsBeforeSend(t *testing.T) {
	clk := clock.NewMock()
	clk.Set(time.UnixMilli(1_700_000_000_000))
	s := gatewaytest.NewStore(t, clk)
	sess, me := gatewaytest.SignedIn(t, s, "a@example.com", "A")
	ctx := context.Background()
	b := bus.New()
	repaired, unsub := b.Subscribe("conversation.repaired", 4)
	defer unsub()
	r := NewReconciler(sess, b, clk, nil)

	if err := s.Set(ctx, "conversations/c1", map[string]any{
		"participants": []any{"bob", "carol"}, "createdAt": 1,
	}); err != nil {
		t.Fatal(err)
	}
	conv, _ := s.Get(ctx, "conversations/c1")
	changed, err := r.RepairParticipants(ctx, conv, me.UID)
	if err != nil {
		t.Fatal(err)
	}
	if !changed {
		t.Fatal("expected a repair")
	}
	conv, _ = s.Get(ctx, "conversations/c1")
	list, _ := model.StringList(conv.Child("participants").Value)
	if len(list) != 3 || list[2] != me.UID {
		t.Errorf("participants = %v", list)
	}
	select {
	case evt := <-repaired:
		if !evt.Timestamp.Equal(clk.Now()) {
			t.Errorf("event timestamp = %v, want the injected clock's %v", evt.Timestamp, clk.Now())
		}
	case <-time.After(time.Second):
		t.Error("no conversation.repaired event")
	}

	changed, err = r.RepairParticipants(ctx, conv, me.UID)
	if err != nil || changed {
		t.Errorf("second repair = %v, %v; want no-op", changed, err)
	}

	// Malformed participants are rebuilt, then the send proceeds.
	if err := s.Set(ctx, "conversations/c2", map[string]any{
		"participants": map[string]any{"0": "bob"}, "createdAt": 1,
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := r.SendMessage(ctx, "c2", "hello", model.MessageText); err != nil {
		t.Fatal(err)
	}
	conv, _ = s.Get(ctx, "conversations/c2")
	list, ok := model.StringList(conv.Child("participants").Value)
	if !ok || len(list) != 2 || list[0] != "bob" || list[1] != me.UID {
		t.Errorf("rebuilt participants = %v", list)
	}
}

func waitUpdate(t *testing.T, ch <-chan []model.Message) []model.Message {
	t.Helper()
	select {
	case m := <-ch:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for update")
	}
	return nil
}
