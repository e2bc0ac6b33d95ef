// Package conversation maintains the set of conversations a user takes
// part in.
package conversation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"slices"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/Taiwoayodeji/ChatGifs/internal/gateway"
	"github.com/Taiwoayodeji/ChatGifs/internal/model"
)

const defaultName = "New Chat"

// Index reads and writes conversations/{id} and the per-user
// userConversations/{uid}/{id} entries.
type Index struct {
	gw     gateway.Gateway
	logger *zap.Logger
}

func NewIndex(gw gateway.Gateway, logger *zap.Logger) *Index {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Index{gw: gw, logger: logger.Named("conversation")}
}

// ID derives the conversation id for a participant set. Order and
// duplicates do not matter.
func ID(participants []string) string {
	set := normalizeParticipants(participants)
	sum := sha256.Sum256([]byte(strings.Join(set, "\x00")))
	return "dm-" + hex.EncodeToString(sum[:])[:20]
}

func normalizeParticipants(ids []string) []string {
	out := slices.Clone(ids)
	sort.Strings(out)
	return slices.Compact(out)
}

func path(id string) string { return gateway.Join("conversations", id) }

// ListConversationsForUser scans every conversation and keeps those uid
// takes part in, most recently active first. Records that fail to decode
// are skipped.
func (x *Index) ListConversationsForUser(ctx context.Context, uid string) ([]model.Conversation, error) {
	snap, err := x.gw.Get(ctx, "conversations")
	if err != nil {
		return nil, model.Wrap(model.Transient, "list conversations", err)
	}
	var out []model.Conversation
	for _, child := range snap.Children() {
		c, err := model.DecodeConversation(child.Key(), child.Value)
		if err != nil {
			x.logger.Warn("skipping malformed conversation", zap.String("conversation_id", child.Key()), zap.Error(err))
			continue
		}
		if c.HasParticipant(uid) {
			out = append(out, c)
		}
	}
	SortByRecency(out)
	return out, nil
}

// SortByRecency orders by updatedAt (or createdAt) descending, then id.
func SortByRecency(cs []model.Conversation) {
	sort.SliceStable(cs, func(i, j int) bool {
		a, b := cs[i].RecencyKey(), cs[j].RecencyKey()
		if a != b {
			return a > b
		}
		return cs[i].ID < cs[j].ID
	})
}

// Get reads one conversation.
func (x *Index) Get(ctx context.Context, id string) (model.Conversation, error) {
	const op = "get conversation"
	if !gateway.ValidSegment(id) {
		return model.Conversation{}, model.Errorf(model.Invalid, op, "invalid conversation id")
	}
	snap, err := x.gw.Get(ctx, path(id))
	if err != nil {
		return model.Conversation{}, model.Wrap(model.Transient, op, err)
	}
	if !snap.Exists() {
		return model.Conversation{}, model.Errorf(model.NotFound, op, "conversation %s not found", id)
	}
	return model.DecodeConversation(id, snap.Value)
}

// FindExisting returns the conversation for exactly this participant set,
// if one has been created.
func (x *Index) FindExisting(ctx context.Context, participants []string) (model.Conversation, bool, error) {
	c, err := x.Get(ctx, ID(participants))
	switch model.KindOf(err) {
	case 0:
		return c, true, nil
	case model.NotFound:
		return model.Conversation{}, false, nil
	default:
		return model.Conversation{}, false, err
	}
}

// CreateConversation opens a conversation between the caller and others.
// Every other participant must be the caller's friend. Creating the same
// participant set twice returns the first conversation; concurrent creates
// converge on the same record because the id is derived from the set.
func (x *Index) CreateConversation(ctx context.Context, others []string) (model.Conversation, error) {
	const op = "create conversation"
	me, ok := x.gw.Current()
	if !ok {
		return model.Conversation{}, model.ErrNotSignedIn
	}
	participants := normalizeParticipants(append(slices.Clone(others), me.UID))
	if len(participants) < 2 {
		return model.Conversation{}, model.Errorf(model.Invalid, op, "a conversation needs another participant")
	}
	for _, p := range participants {
		if !gateway.ValidSegment(p) {
			return model.Conversation{}, model.Errorf(model.Invalid, op, "invalid participant %q", p)
		}
	}

	friends, err := x.gw.Get(ctx, gateway.Join("users", me.UID, "friends"))
	if err != nil {
		return model.Conversation{}, model.Wrap(model.Transient, op, err)
	}
	for _, p := range participants {
		if p != me.UID && !friends.Child(p).Exists() {
			return model.Conversation{}, model.Errorf(model.Invalid, op, "can only create conversations with friends")
		}
	}

	existing, found, err := x.FindExisting(ctx, participants)
	if err != nil && model.KindOf(err) != model.Invalid {
		return model.Conversation{}, err
	}
	if found {
		return existing, nil
	}

	id := ID(participants)
	list := make([]any, len(participants))
	for i, p := range participants {
		list[i] = p
	}
	// Fields, not the whole node: an existing lastMessage must survive.
	updates := map[string]any{
		gateway.Join(path(id), "id"):           id,
		gateway.Join(path(id), "name"):         defaultName,
		gateway.Join(path(id), "participants"): list,
		gateway.Join(path(id), "createdAt"):    gateway.ServerTimestamp(),
	}
	for _, p := range participants {
		updates[gateway.Join("userConversations", p, id)] = true
	}
	if err := x.gw.Update(ctx, updates); err != nil {
		return model.Conversation{}, model.Wrap(model.Transient, op, err)
	}
	x.logger.Info("conversation created", zap.String("conversation_id", id), zap.Int("participants", len(participants)))
	return x.Get(ctx, id)
}

// DeleteConversation removes the conversation, its messages, and every
// participant's index entry. Only a participant may delete it.
func (x *Index) DeleteConversation(ctx context.Context, id string) error {
	const op = "delete conversation"
	me, ok := x.gw.Current()
	if !ok {
		return model.ErrNotSignedIn
	}
	if !gateway.ValidSegment(id) {
		return model.Errorf(model.Invalid, op, "invalid conversation id")
	}
	snap, err := x.gw.Get(ctx, path(id))
	if err != nil {
		return model.Wrap(model.Transient, op, err)
	}
	if !snap.Exists() {
		return model.Errorf(model.NotFound, op, "conversation %s not found", id)
	}
	participants, _ := model.StringList(snap.Child("participants").Value)
	if len(participants) > 0 && !slices.Contains(participants, me.UID) {
		return model.Errorf(model.NotFound, op, "conversation %s not found", id)
	}
	if !slices.Contains(participants, me.UID) {
		participants = append(participants, me.UID)
	}

	updates := map[string]any{
		path(id):                     nil,
		gateway.Join("messages", id): nil,
	}
	for _, p := range participants {
		if gateway.ValidSegment(p) {
			updates[gateway.Join("userConversations", p, id)] = nil
		}
	}
	if err := x.gw.Update(ctx, updates); err != nil {
		return model.Wrap(model.Transient, op, err)
	}
	x.logger.Info("conversation deleted", zap.String("conversation_id", id))
	return nil
}
