package sync

import (
	"slices"
	stdsync "sync"

	"github.com/Taiwoayodeji/ChatGifs/internal/model"
)

// Cache holds message lists for several conversations. Each write
// replaces exactly one conversation's slice.
type Cache struct {
	mu   stdsync.RWMutex
	msgs map[string][]model.Message
}

func NewCache() *Cache {
	return &Cache{msgs: make(map[string][]model.Message)}
}

// Replace swaps the messages of conversationID and leaves every other
// conversation untouched.
func (c *Cache) Replace(conversationID string, msgs []model.Message) {
	c.mu.Lock()
	c.msgs[conversationID] = slices.Clone(msgs)
	c.mu.Unlock()
}

// Messages returns a copy of one conversation's messages.
func (c *Cache) Messages(conversationID string) []model.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.msgs[conversationID])
}

// Latest returns the newest cached message of a conversation.
func (c *Cache) Latest(conversationID string) (model.Message, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	msgs := c.msgs[conversationID]
	if len(msgs) == 0 {
		return model.Message{}, false
	}
	return msgs[len(msgs)-1], true
}

// Has reports whether the conversation has been loaded.
func (c *Cache) Has(conversationID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.msgs[conversationID]
	return ok
}

func (c *Cache) Drop(conversationID string) {
	c.mu.Lock()
	delete(c.msgs, conversationID)
	c.mu.Unlock()
}

func (c *Cache) Reset() {
	c.mu.Lock()
	c.msgs = make(map[string][]model.Message)
	c.mu.Unlock()
}
