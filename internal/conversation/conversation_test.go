package conversation

import (
	"context"
	"errors"
	"testing"

	"github.com/Taiwoayodeji/ChatGifs/internal/gateway"
	"github.com/Taiwoayodeji/ChatGifs/internal/gateway/gatewaytest"
	"github.com/Taiwoayodeji/ChatGifs/internal/model"
)

func TestIDIgnoresOrderAndDuplicates(t *testing.T) {
	a := ID([]string{"u2", "u1"})
	b := ID([]string{"u1", "u2", "u1"})
	if a != b {
		t.Errorf("ID differs: %s vs %s", a, b)
	}
	if a == ID([]string{"u1", "u3"}) {
		t.Error("different sets produced the same id")
	}
	if !gateway.ValidSegment(a) {
		t.Errorf("id %q is not a valid path segment", a)
	}
}

func TestCreateTwiceYieldsOneConversation(t *testing.T) {
	s := gatewaytest.NewStore(t, nil)
	aSess, a := gatewaytest.SignedIn(t, s, "a@example.com", "A")
	_, b := gatewaytest.SignedIn(t, s, "b@example.com", "B")
	gatewaytest.MakeFriends(t, s, a.UID, b.UID)
	idx := NewIndex(aSess, nil)
	ctx := context.Background()

	first, err := idx.CreateConversation(ctx, []string{b.UID})
	if err != nil {
		t.Fatal(err)
	}
	second, err := idx.CreateConversation(ctx, []string{b.UID})
	if err != nil {
		t.Fatal(err)
	}
	if first.ID != second.ID {
		t.Errorf("ids differ: %s vs %s", first.ID, second.ID)
	}

	list, err := idx.ListConversationsForUser(ctx, a.UID)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Fatalf("conversations = %d, want exactly 1", len(list))
	}
	if !list[0].HasParticipant(a.UID) || !list[0].HasParticipant(b.UID) {
		t.Errorf("participants = %v", list[0].Participants)
	}
	for _, uid := range []string{a.UID, b.UID} {
		snap, _ := s.Get(ctx, gateway.Join("userConversations", uid, first.ID))
		if snap.Value != true {
			t.Errorf("index entry for %s = %v", uid, snap.Value)
		}
	}
}

func TestCreateRequiresFriendship(t *testing.T) {
	s := gatewaytest.NewStore(t, nil)
	aSess, _ := gatewaytest.SignedIn(t, s, "a@example.com", "A")
	_, b := gatewaytest.SignedIn(t, s, "b@example.com", "B")
	idx := NewIndex(aSess, nil)
	ctx := context.Background()

	if _, err := idx.CreateConversation(ctx, []string{b.UID}); !errors.Is(err, model.Invalid) {
		t.Errorf("non-friend err = %v, want Invalid", err)
	}
	if _, err := idx.CreateConversation(ctx, nil); !errors.Is(err, model.Invalid) {
		t.Errorf("no participants err = %v, want Invalid", err)
	}
	anon := NewIndex(s.NewSession(), nil)
	if _, err := anon.CreateConversation(ctx, []string{b.UID}); !errors.Is(err, model.Unauthenticated) {
		t.Errorf("signed out err = %v, want Unauthenticated", err)
	}
}

func TestListSortsByRecencyAndSkipsMalformed(t *testing.T) {
	s := gatewaytest.NewStore(t, nil)
	ctx := context.Background()

	seed := map[string]any{
		"conversations/old":    map[string]any{"participants": []any{"me", "x"}, "createdAt": 100},
		"conversations/new":    map[string]any{"participants": []any{"me", "y"}, "createdAt": 50, "updatedAt": 500},
		"conversations/tie-b":  map[string]any{"participants": []any{"me", "z"}, "createdAt": 200},
		"conversations/tie-a":  map[string]any{"participants": []any{"me", "w"}, "createdAt": 200},
		"conversations/other":  map[string]any{"participants": []any{"x", "y"}, "createdAt": 900},
		"conversations/broken": map[string]any{"participants": "me", "createdAt": 1000},
	}
	if err := s.Update(ctx, seed); err != nil {
		t.Fatal(err)
	}

	idx := NewIndex(s.NewSession(), nil)
	list, err := idx.ListConversationsForUser(ctx, "me")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"new", "tie-a", "tie-b", "old"}
	if len(list) != len(want) {
		t.Fatalf("got %d conversations, want %d", len(list), len(want))
	}
	for i, id := range want {
		if list[i].ID != id {
			t.Errorf("position %d = %s, want %s", i, list[i].ID, id)
		}
	}
}

func TestDeleteConversationRemovesEverything(t *testing.T) {
	s := gatewaytest.NewStore(t, nil)
	aSess, a := gatewaytest.SignedIn(t, s, "a@example.com", "A")
	bSess, b := gatewaytest.SignedIn(t, s, "b@example.com", "B")
	cSess, _ := gatewaytest.SignedIn(t, s, "c@example.com", "C")
	gatewaytest.MakeFriends(t, s, a.UID, b.UID)
	ctx := context.Background()

	conv, err := NewIndex(aSess, nil).CreateConversation(ctx, []string{b.UID})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Set(ctx, gateway.Join("messages", conv.ID, "m1"), map[string]any{"content": "hi"}); err != nil {
		t.Fatal(err)
	}

	if err := NewIndex(cSess, nil).DeleteConversation(ctx, conv.ID); !errors.Is(err, model.NotFound) {
		t.Errorf("outsider delete err = %v, want NotFound", err)
	}
	if err := NewIndex(bSess, nil).DeleteConversation(ctx, conv.ID); err != nil {
		t.Fatal(err)
	}
	for _, p := range []string{
		gateway.Join("conversations", conv.ID),
		gateway.Join("messages", conv.ID),
		gateway.Join("userConversations", a.UID, conv.ID),
		gateway.Join("userConversations", b.UID, conv.ID),
	} {
		snap, _ := s.Get(ctx, p)
		if snap.Exists() {
			t.Errorf("%s still present", p)
		}
	}
	if err := NewIndex(bSess, nil).DeleteConversation(ctx, conv.ID); !errors.Is(err, model.NotFound) {
		t.Errorf("second delete err = %v, want NotFound", err)
	}
}
