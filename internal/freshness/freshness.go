// Package freshness derives per-conversation unread signals from locally
// persisted open/seen times.
package freshness

import (
	"fmt"
	"sync"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/Taiwoayodeji/ChatGifs/internal/model"
)

// HasUnread reports whether the newest message of a conversation is a GIF
// from someone else that arrived after lastOpenedAt, while the conversation
// is not open. lastOpenedAt of zero means never opened.
func HasUnread(conversationID string, messages []model.Message, lastOpenedAt int64, currentUserID string, isCurrentlyOpen bool) bool {
	if isCurrentlyOpen || len(messages) == 0 {
		return false
	}
	latest := messages[0]
	for _, m := range messages[1:] {
		if m.Timestamp >= latest.Timestamp {
			latest = m
		}
	}
	if latest.ConversationID != "" && latest.ConversationID != conversationID {
		return false
	}
	return qualifies(latest.Type, latest.SenderID, latest.Timestamp, lastOpenedAt, currentUserID)
}

// SummaryUnread applies the HasUnread rule to a conversation's lastMessage,
// for conversations whose messages are not loaded.
func SummaryUnread(conv model.Conversation, lastOpenedAt int64, currentUserID string, isCurrentlyOpen bool) bool {
	if isCurrentlyOpen || conv.LastMessage == nil {
		return false
	}
	lm := conv.LastMessage
	return qualifies(lm.Type, lm.SenderID, lm.Timestamp, lastOpenedAt, currentUserID)
}

func qualifies(typ model.MessageType, sender string, ts, lastOpenedAt int64, me string) bool {
	return typ == model.MessageGIF && sender != me && ts > lastOpenedAt
}

// Persister stores freshness state across restarts. *store.DB implements it.
type Persister interface {
	MarkOpened(userID, conversationID string, openedAt int64) error
	OpenedConversations(userID string) (map[string]int64, error)
	SetLastSeen(userID, conversationID string, seenAt int64) error
	LastSeen(userID string) (map[string]int64, error)
}

// Tracker keeps one user's freshness state in memory and writes every
// change through to the Persister. Neither map is ever compacted.
type Tracker struct {
	p      Persister
	clock  clock.Clock
	logger *zap.Logger

	mu       sync.Mutex
	userID   string
	opened   map[string]int64
	lastSeen map[string]int64
}

func NewTracker(p Persister, clk clock.Clock, logger *zap.Logger) *Tracker {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		p:        p,
		clock:    clk,
		logger:   logger.Named("freshness"),
		opened:   make(map[string]int64),
		lastSeen: make(map[string]int64),
	}
}

// Load replaces the in-memory state with userID's persisted state. An
// empty userID clears it.
func (t *Tracker) Load(userID string) error {
	opened := make(map[string]int64)
	seen := make(map[string]int64)
	if userID != "" {
		var err error
		if opened, err = t.p.OpenedConversations(userID); err != nil {
			return fmt.Errorf("load opened conversations: %w", err)
		}
		if seen, err = t.p.LastSeen(userID); err != nil {
			return fmt.Errorf("load last seen: %w", err)
		}
	}
	t.mu.Lock()
	t.userID, t.opened, t.lastSeen = userID, opened, seen
	t.mu.Unlock()
	t.logger.Debug("freshness loaded", zap.String("user_id", userID), zap.Int("opened", len(opened)))
	return nil
}

// MarkOpened records now as the last-opened time of conversationID and
// persists it before returning.
func (t *Tracker) MarkOpened(conversationID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.userID == "" {
		return model.ErrNotSignedIn
	}
	now := t.clock.Now().UnixMilli()
	if err := t.p.MarkOpened(t.userID, conversationID, now); err != nil {
		return fmt.Errorf("mark opened: %w", err)
	}
	t.opened[conversationID] = now
	return nil
}

// ObserveMessage advances the last-seen time when msg belongs to the open
// conversation. Messages elsewhere leave the state alone.
func (t *Tracker) ObserveMessage(msg model.Message, openConversationID string) error {
	if msg.ConversationID == "" || msg.ConversationID != openConversationID {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.userID == "" || msg.Timestamp <= t.lastSeen[msg.ConversationID] {
		return nil
	}
	if err := t.p.SetLastSeen(t.userID, msg.ConversationID, msg.Timestamp); err != nil {
		return fmt.Errorf("set last seen: %w", err)
	}
	t.lastSeen[msg.ConversationID] = msg.Timestamp
	return nil
}

// IsOpened reports whether the conversation was ever opened.
func (t *Tracker) IsOpened(conversationID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.opened[conversationID]
	return ok
}

// LastOpenedAt is the later of the open time and the newest message seen
// while open. Zero means never opened.
func (t *Tracker) LastOpenedAt(conversationID string) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return max(t.opened[conversationID], t.lastSeen[conversationID])
}

// Unread evaluates HasUnread against the tracked state, using messages when
// loaded and the conversation summary otherwise.
func (t *Tracker) Unread(conv model.Conversation, messages []model.Message, openConversationID string) bool {
	t.mu.Lock()
	me := t.userID
	t.mu.Unlock()
	isOpen := conv.ID == openConversationID
	last := t.LastOpenedAt(conv.ID)
	if len(messages) > 0 {
		return HasUnread(conv.ID, messages, last, me, isOpen)
	}
	return SummaryUnread(conv, last, me, isOpen)
}
