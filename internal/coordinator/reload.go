package coordinator

import (
	"context"
	"maps"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/Taiwoayodeji/ChatGifs/internal/model"
	"github.com/Taiwoayodeji/ChatGifs/internal/status"
)

// ReloadSocial reloads friends and pending requests. Transient failures are
// retried after a fixed delay up to the configured cap; on final failure
// the previous friends and requests stay in place.
func (c *Coordinator) ReloadSocial(ctx context.Context) error {
	if c.UserID() == "" {
		return model.ErrNotSignedIn
	}
	if n, err := c.Social.ReconcileRequests(ctx); err != nil {
		c.Logger.Warn("request repair failed", zap.Error(err))
	} else if n > 0 {
		c.Logger.Info("repaired friend requests", zap.Int("count", n))
	}

	var (
		friends  []model.User
		requests []model.FriendRequest
	)
	load := func() error {
		var err error
		if friends, err = c.Social.ListFriends(ctx); err != nil {
			return classify(err)
		}
		if requests, err = c.Social.ListFriendRequests(ctx); err != nil {
			return classify(err)
		}
		return nil
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.cfg.ReloadRetryDelay), uint64(c.cfg.ReloadRetryMax)),
		ctx,
	)
	err := backoff.RetryNotify(load, policy, func(err error, wait time.Duration) {
		c.Logger.Warn("social reload failed, retrying", zap.Error(err), zap.Duration("wait", wait))
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.friends, c.requests = friends, requests
	c.mu.Unlock()
	c.publish("friends.updated", len(friends))
	c.publish("requests.updated", len(requests))
	return nil
}

// classify stops retries for anything a second attempt cannot fix.
func classify(err error) error {
	if model.IsTransient(err) {
		return err
	}
	return backoff.Permanent(err)
}

// RefreshConversations relists the user's conversations. A failure keeps
// the previous list.
func (c *Coordinator) RefreshConversations(ctx context.Context) error {
	uid := c.UserID()
	if uid == "" {
		return model.ErrNotSignedIn
	}
	convs, err := c.Index.ListConversationsForUser(ctx, uid)
	if err != nil {
		return err
	}
	c.mu.Lock()
	if c.user != uid {
		c.mu.Unlock()
		return nil
	}
	c.conversations = convs
	c.mu.Unlock()
	c.publish("conversations.updated", len(convs))
	return nil
}

// refreshTick is the scheduled conversation refresh. While degraded it
// also retries the social reload once.
func (c *Coordinator) refreshTick(ctx context.Context) error {
	if c.Status.Current() == status.Degraded {
		if err := c.ReloadSocial(ctx); err == nil {
			c.transition(status.Ready)
		}
	}
	return c.RefreshConversations(ctx)
}

// pollPresence checks every friend and queues the results for the next
// flush.
func (c *Coordinator) pollPresence(ctx context.Context) error {
	c.mu.RLock()
	ids := make([]string, len(c.friends))
	for i, f := range c.friends {
		ids[i] = f.ID
	}
	c.mu.RUnlock()

	results := make(map[string]bool, len(ids))
	for _, id := range ids {
		results[id] = c.Presence.CheckOnlineStatus(ctx, id)
	}
	c.mu.Lock()
	maps.Copy(c.queued, results)
	c.mu.Unlock()
	return nil
}

// flushPresence applies queued presence results and publishes the ones
// that changed.
func (c *Coordinator) flushPresence(context.Context) error {
	c.mu.Lock()
	changed := make(map[string]bool)
	for id, online := range c.queued {
		if prev, ok := c.online[id]; !ok || prev != online {
			changed[id] = online
		}
		c.online[id] = online
	}
	c.queued = make(map[string]bool)
	c.mu.Unlock()

	if len(changed) > 0 {
		c.publish("presence.changed", changed)
	}
	return nil
}

func (c *Coordinator) heartbeat(ctx context.Context) error {
	uid := c.UserID()
	if uid == "" {
		return nil
	}
	return c.Presence.MarkOnline(ctx, uid)
}
