// Package coordinator owns the client's view of the signed-in user's data.
// Friends, requests, conversations, the active conversation, the message
// cache and friend presence are only mutated here.
package coordinator

import (
	"context"
	stdsync "sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/Taiwoayodeji/ChatGifs/internal/bus"
	"github.com/Taiwoayodeji/ChatGifs/internal/conversation"
	"github.com/Taiwoayodeji/ChatGifs/internal/freshness"
	"github.com/Taiwoayodeji/ChatGifs/internal/gateway"
	"github.com/Taiwoayodeji/ChatGifs/internal/model"
	"github.com/Taiwoayodeji/ChatGifs/internal/presence"
	"github.com/Taiwoayodeji/ChatGifs/internal/schedule"
	"github.com/Taiwoayodeji/ChatGifs/internal/social"
	"github.com/Taiwoayodeji/ChatGifs/internal/status"
	"github.com/Taiwoayodeji/ChatGifs/internal/sync"
)

// Config holds the cadences of the scheduled reconciliation tasks.
type Config struct {
	ConversationRefresh time.Duration
	PresencePoll        time.Duration
	StatusFlush         time.Duration
	Heartbeat           time.Duration
	ReloadRetryDelay    time.Duration
	ReloadRetryMax      int
}

func DefaultConfig() Config {
	return Config{
		ConversationRefresh: 1500 * time.Millisecond,
		PresencePoll:        1500 * time.Millisecond,
		StatusFlush:         5 * time.Second,
		Heartbeat:           time.Minute,
		ReloadRetryDelay:    3 * time.Second,
		ReloadRetryMax:      1,
	}
}

// LocalState is per-user data kept on this device. *store.DB implements it.
type LocalState interface {
	ForgetConversation(userID, conversationID string) error
}

// Deps are the components the coordinator drives.
type Deps struct {
	Gateway    gateway.Gateway
	Bus        *bus.Bus
	Clock      clock.Clock
	Logger     *zap.Logger
	Status     *status.Machine
	Presence   *presence.Tracker
	Social     *social.Manager
	Index      *conversation.Index
	Reconciler *sync.Reconciler
	Freshness  *freshness.Tracker
	Local      LocalState
}

// Summary is a conversation as listed to the user.
type Summary struct {
	model.Conversation
	Unread bool
}

type identityChange struct {
	id       gateway.Identity
	signedIn bool
}

type Coordinator struct {
	Deps
	cfg   Config
	sched *schedule.Scheduler
	cache *sync.Cache

	changes   chan identityChange
	links     chan bool
	unsubID   func()
	unsubLink func()
	done      chan struct{}
	stopOnce stdsync.Once
	ctx      context.Context
	cancel   context.CancelFunc

	mu            stdsync.RWMutex
	user          string
	friends       []model.User
	requests      []model.FriendRequest
	conversations []model.Conversation
	active        string
	online        map[string]bool
	queued        map[string]bool
}

func New(deps Deps, cfg Config) *Coordinator {
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	deps.Logger = deps.Logger.Named("coordinator")
	if deps.Status == nil {
		deps.Status = status.NewMachine(deps.Bus)
	}
	def := DefaultConfig()
	if cfg.ConversationRefresh <= 0 {
		cfg.ConversationRefresh = def.ConversationRefresh
	}
	if cfg.PresencePoll <= 0 {
		cfg.PresencePoll = def.PresencePoll
	}
	if cfg.StatusFlush <= 0 {
		cfg.StatusFlush = def.StatusFlush
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = def.Heartbeat
	}
	if cfg.ReloadRetryDelay <= 0 {
		cfg.ReloadRetryDelay = def.ReloadRetryDelay
	}
	if cfg.ReloadRetryMax < 0 {
		cfg.ReloadRetryMax = 0
	}
	return &Coordinator{
		Deps:    deps,
		cfg:     cfg,
		sched:   schedule.New(deps.Clock, deps.Logger),
		cache:   sync.NewCache(),
		changes: make(chan identityChange, 8),
		links:   make(chan bool, 8),
		done:    make(chan struct{}),
		online:  make(map[string]bool),
		queued:  make(map[string]bool),
	}
}

// Start begins following identity changes. A session already signed in is
// loaded right away.
func (c *Coordinator) Start(ctx context.Context) error {
	c.ctx, c.cancel = context.WithCancel(ctx)
	if err := c.Status.Transition(status.SignedOut); err != nil {
		return err
	}
	c.unsubID = c.Gateway.OnIdentityChanged(func(id gateway.Identity, signedIn bool) {
		select {
		case c.changes <- identityChange{id: id, signedIn: signedIn}:
		case <-c.done:
		}
	})
	if link, ok := c.Gateway.(gateway.Link); ok {
		c.unsubLink = link.OnConnectionChanged(func(up bool) {
			select {
			case c.links <- up:
			case <-c.done:
			}
		})
	}
	go c.run()
	if id, ok := c.Gateway.Current(); ok {
		c.changes <- identityChange{id: id, signedIn: true}
	}
	return nil
}

// Stop halts scheduled work and detaches every subscription.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() {
		if c.unsubID != nil {
			c.unsubID()
		}
		if c.unsubLink != nil {
			c.unsubLink()
		}
		close(c.done)
		if c.cancel != nil {
			c.cancel()
		}
		c.sched.Stop()
		c.Reconciler.Unsubscribe()
	})
}

// run applies identity and connection changes one at a time.
func (c *Coordinator) run() {
	for {
		select {
		case ch := <-c.changes:
			if ch.signedIn {
				c.signedIn(c.ctx, ch.id)
			} else {
				c.signedOut(ch.id)
			}
		case up := <-c.links:
			c.linkChanged(c.ctx, up)
		case <-c.done:
			return
		}
	}
}

func (c *Coordinator) signedIn(ctx context.Context, id gateway.Identity) {
	log := c.Logger.With(zap.String("user_id", id.UID))
	if c.UserID() != "" {
		c.signedOut(gateway.Identity{UID: c.UserID()})
	}
	c.transition(status.SigningIn)

	c.mu.Lock()
	c.user = id.UID
	c.mu.Unlock()
	if err := c.Freshness.Load(id.UID); err != nil {
		log.Error("failed to load freshness state", zap.Error(err))
	}
	c.transition(status.Syncing)

	if err := c.Presence.MarkOnline(ctx, id.UID); err != nil {
		log.Warn("mark online failed", zap.Error(err))
	}
	healthy := true
	if err := c.ReloadSocial(ctx); err != nil {
		log.Warn("social reload failed", zap.Error(err))
		healthy = false
	}
	if err := c.RefreshConversations(ctx); err != nil {
		log.Warn("conversation refresh failed", zap.Error(err))
		healthy = false
	}

	c.sched.Start(ctx,
		schedule.Task{Name: "conversation_refresh", Every: c.cfg.ConversationRefresh, Run: c.refreshTick},
		schedule.Task{Name: "presence_poll", Every: c.cfg.PresencePoll, Run: c.pollPresence},
		schedule.Task{Name: "status_flush", Every: c.cfg.StatusFlush, Run: c.flushPresence},
		schedule.Task{Name: "heartbeat", Every: c.cfg.Heartbeat, Run: c.heartbeat},
	)
	if healthy {
		c.transition(status.Ready)
	} else {
		c.transition(status.Degraded)
	}
	log.Info("signed in", zap.Bool("healthy", healthy))
}

func (c *Coordinator) signedOut(id gateway.Identity) {
	c.sched.Stop()
	c.Reconciler.Unsubscribe()
	c.cache.Reset()

	c.mu.Lock()
	c.user = ""
	c.friends, c.requests, c.conversations = nil, nil, nil
	c.active = ""
	c.online = make(map[string]bool)
	c.queued = make(map[string]bool)
	c.mu.Unlock()

	if err := c.Freshness.Load(""); err != nil {
		c.Logger.Warn("failed to clear freshness state", zap.Error(err))
	}
	c.transition(status.SignedOut)
	c.Logger.Info("signed out", zap.String("user_id", id.UID))
}

// linkChanged follows the gateway connection. A drop degrades the
// session; on recovery the social graph and conversations are reloaded
// since pushes may have been missed while down.
func (c *Coordinator) linkChanged(ctx context.Context, up bool) {
	c.publish("gateway.connection_changed", map[string]bool{"connected": up})
	uid := c.UserID()
	if uid == "" {
		return
	}
	log := c.Logger.With(zap.String("user_id", uid))
	if !up {
		log.Warn("gateway connection lost")
		if c.Status.Current() != status.Degraded {
			c.transition(status.Degraded)
		}
		return
	}
	if err := c.Presence.MarkOnline(ctx, uid); err != nil {
		log.Warn("mark online failed", zap.Error(err))
	}
	if err := c.ReloadSocial(ctx); err != nil {
		log.Warn("social reload failed", zap.Error(err))
		return
	}
	if err := c.RefreshConversations(ctx); err != nil {
		log.Warn("conversation refresh failed", zap.Error(err))
		return
	}
	if c.Status.Current() == status.Degraded {
		c.transition(status.Ready)
	}
	log.Info("gateway connection restored")
}

func (c *Coordinator) transition(to status.State) {
	if err := c.Status.Transition(to); err != nil {
		c.Logger.Warn("status transition rejected", zap.String("to", string(to)), zap.Error(err))
	}
}

func (c *Coordinator) publish(kind string, payload any) {
	if c.Bus == nil {
		return
	}
	c.Bus.Publish(bus.Event{Kind: kind, Timestamp: c.Clock.Now(), Payload: payload})
}

// UserID returns the signed-in user's id, or "".
func (c *Coordinator) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.user
}
