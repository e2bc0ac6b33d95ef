package coordinator

import (
	"context"
	"slices"

	"go.uber.org/zap"

	"github.com/Taiwoayodeji/ChatGifs/internal/model"
)

// Friends returns the cached friends list.
func (c *Coordinator) Friends() []model.User {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.friends)
}

// Requests returns the cached pending friend requests.
func (c *Coordinator) Requests() []model.FriendRequest {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.requests)
}

// Conversations returns the cached conversation list with unread flags.
func (c *Coordinator) Conversations() []Summary {
	c.mu.RLock()
	convs := slices.Clone(c.conversations)
	active := c.active
	c.mu.RUnlock()

	out := make([]Summary, len(convs))
	for i, conv := range convs {
		// Cached messages are only current while newer than the summary.
		msgs := c.cache.Messages(conv.ID)
		if n := len(msgs); n > 0 && conv.LastMessage != nil && msgs[n-1].Timestamp < conv.LastMessage.Timestamp {
			msgs = nil
		}
		out[i] = Summary{Conversation: conv, Unread: c.Freshness.Unread(conv, msgs, active)}
	}
	return out
}

// Online reports the last flushed presence of a friend.
func (c *Coordinator) Online(uid string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.online[uid]
}

// Active returns the open conversation id, or "".
func (c *Coordinator) Active() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.active
}

// Messages returns the cached messages of a conversation.
func (c *Coordinator) Messages(conversationID string) []model.Message {
	return c.cache.Messages(conversationID)
}

// OpenConversation makes conversationID the active conversation, marks it
// opened and starts streaming its messages.
func (c *Coordinator) OpenConversation(ctx context.Context, conversationID string) error {
	uid := c.UserID()
	if uid == "" {
		return model.ErrNotSignedIn
	}
	conv, err := c.Index.Get(ctx, conversationID)
	if err != nil {
		return err
	}
	if !conv.HasParticipant(uid) {
		return model.Errorf(model.NotFound, "open conversation", "conversation %s not found", conversationID)
	}

	c.mu.Lock()
	c.active = conversationID
	c.mu.Unlock()
	if err := c.Freshness.MarkOpened(conversationID); err != nil {
		c.Logger.Warn("failed to persist opened conversation", zap.String("conversation_id", conversationID), zap.Error(err))
	}
	if err := c.Reconciler.Subscribe(conversationID, c.onMessages); err != nil {
		c.mu.Lock()
		if c.active == conversationID {
			c.active = ""
		}
		c.mu.Unlock()
		return err
	}
	c.publish("conversation.opened", conversationID)
	return nil
}

// CloseConversation detaches the message stream. The cached messages stay
// so the conversation's unread state can still be derived.
func (c *Coordinator) CloseConversation() {
	c.Reconciler.Unsubscribe()
	c.mu.Lock()
	prev := c.active
	c.active = ""
	c.mu.Unlock()
	if prev != "" {
		c.publish("conversation.closed", prev)
	}
}

func (c *Coordinator) onMessages(conversationID string, msgs []model.Message) {
	if c.Active() != conversationID {
		return
	}
	if n := len(msgs); n > 0 {
		if err := c.Freshness.ObserveMessage(msgs[n-1], conversationID); err != nil {
			c.Logger.Warn("failed to record last seen", zap.String("conversation_id", conversationID), zap.Error(err))
		}
	}
	c.cache.Replace(conversationID, msgs)
	c.publish("messages.updated", map[string]any{"conversation_id": conversationID, "count": len(msgs)})
}

// SendMessage writes a message and refreshes the conversation list so the
// new lastMessage shows up without waiting for the next tick.
func (c *Coordinator) SendMessage(ctx context.Context, conversationID, content string, typ model.MessageType) (model.Message, error) {
	msg, err := c.Reconciler.SendMessage(ctx, conversationID, content, typ)
	if err != nil {
		return model.Message{}, err
	}
	if err := c.RefreshConversations(ctx); err != nil {
		c.Logger.Debug("refresh after send failed", zap.Error(err))
	}
	return msg, nil
}

// CreateConversation opens or creates the conversation with others.
func (c *Coordinator) CreateConversation(ctx context.Context, others []string) (model.Conversation, error) {
	conv, err := c.Index.CreateConversation(ctx, others)
	if err != nil {
		return model.Conversation{}, err
	}
	if err := c.RefreshConversations(ctx); err != nil {
		c.Logger.Debug("refresh after create failed", zap.Error(err))
	}
	return conv, nil
}

// DeleteConversation removes the conversation and clears it locally,
// closing it first when it is the active one.
func (c *Coordinator) DeleteConversation(ctx context.Context, conversationID string) error {
	if err := c.Index.DeleteConversation(ctx, conversationID); err != nil {
		return err
	}
	if c.Active() == conversationID {
		c.CloseConversation()
	}
	c.cache.Drop(conversationID)
	c.mu.Lock()
	c.conversations = slices.DeleteFunc(c.conversations, func(conv model.Conversation) bool {
		return conv.ID == conversationID
	})
	uid := c.user
	c.mu.Unlock()
	if c.Local != nil && uid != "" {
		if err := c.Local.ForgetConversation(uid, conversationID); err != nil {
			c.Logger.Warn("failed to forget conversation", zap.String("conversation_id", conversationID), zap.Error(err))
		}
	}
	c.publish("conversations.updated", conversationID)
	return nil
}

// SendFriendRequest sends a request and reloads the social cache.
func (c *Coordinator) SendFriendRequest(ctx context.Context, receiverID string) (model.FriendRequest, error) {
	req, err := c.Social.SendFriendRequest(ctx, receiverID)
	if err != nil {
		return model.FriendRequest{}, err
	}
	c.reloadAfter(ctx)
	return req, nil
}

func (c *Coordinator) AcceptFriendRequest(ctx context.Context, requestID string) error {
	if err := c.Social.AcceptFriendRequest(ctx, requestID); err != nil {
		return err
	}
	c.reloadAfter(ctx)
	return nil
}

func (c *Coordinator) RejectFriendRequest(ctx context.Context, requestID string) error {
	if err := c.Social.RejectFriendRequest(ctx, requestID); err != nil {
		return err
	}
	c.reloadAfter(ctx)
	return nil
}

func (c *Coordinator) RemoveFriend(ctx context.Context, friendID string) error {
	if err := c.Social.RemoveFriend(ctx, friendID); err != nil {
		return err
	}
	c.mu.Lock()
	delete(c.online, friendID)
	delete(c.queued, friendID)
	c.mu.Unlock()
	c.reloadAfter(ctx)
	return nil
}

// reloadAfter refreshes the social cache after a successful mutation. The
// mutation already succeeded, so a failed reload is only logged.
func (c *Coordinator) reloadAfter(ctx context.Context) {
	if err := c.ReloadSocial(ctx); err != nil {
		c.Logger.Warn("reload after mutation failed", zap.Error(err))
	}
}

// CheckOnline reads a user's presence now, bypassing the flush queue.
func (c *Coordinator) CheckOnline(ctx context.Context, uid string) bool {
	return c.Presence.CheckOnlineStatus(ctx, uid)
}
