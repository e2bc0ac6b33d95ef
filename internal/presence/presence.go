// Package presence tracks whether users are online. Liveness is derived
// from the stored flag plus a freshness window, so a client that vanishes
// without signing out lapses to offline on its own.
package presence

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/Taiwoayodeji/ChatGifs/internal/gateway"
	"github.com/Taiwoayodeji/ChatGifs/internal/metrics"
	"github.com/Taiwoayodeji/ChatGifs/internal/model"
)

// DefaultTTL is how long an online flag stays believable without a refresh.
const DefaultTTL = 5 * time.Minute

// Tracker reads and writes presence fields on users/{uid}.
type Tracker struct {
	store  gateway.Store
	clock  clock.Clock
	ttl    time.Duration
	logger *zap.Logger
}

func NewTracker(store gateway.Store, clk clock.Clock, ttl time.Duration, logger *zap.Logger) *Tracker {
	if clk == nil {
		clk = clock.New()
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{store: store, clock: clk, ttl: ttl, logger: logger.Named("presence")}
}

// MarkOnline sets isOnline and refreshes lastOnlineUpdate.
func (t *Tracker) MarkOnline(ctx context.Context, uid string) error {
	return t.write(ctx, uid, true)
}

// MarkOffline clears isOnline and records lastSeen.
func (t *Tracker) MarkOffline(ctx context.Context, uid string) error {
	return t.write(ctx, uid, false)
}

func (t *Tracker) write(ctx context.Context, uid string, online bool) error {
	if uid == "" {
		return model.ErrNotSignedIn
	}
	now := t.clock.Now().UnixMilli()
	base := gateway.Join("users", uid)
	updates := map[string]any{
		gateway.Join(base, "isOnline"):         online,
		gateway.Join(base, "lastOnlineUpdate"): now,
	}
	if !online {
		updates[gateway.Join(base, "lastSeen")] = now
	}
	if err := t.store.Update(ctx, updates); err != nil {
		t.logger.Warn("presence write failed", zap.String("uid", uid), zap.Bool("online", online), zap.Error(err))
		return model.Wrap(model.Transient, "presence", err)
	}
	return nil
}

// Live applies the liveness rule to a decoded record at time now.
func (t *Tracker) Live(p model.Presence, now time.Time) bool {
	return p.IsOnline && now.UnixMilli()-p.LastOnlineUpdate < t.ttl.Milliseconds()
}

// CheckOnlineStatus reads the record once. Missing records and read
// failures both report offline.
func (t *Tracker) CheckOnlineStatus(ctx context.Context, uid string) bool {
	snap, err := t.store.Get(ctx, gateway.Join("users", uid))
	if err != nil {
		t.logger.Warn("presence read failed", zap.String("uid", uid), zap.Error(err))
		metrics.PresenceChecks.WithLabelValues("error").Inc()
		return false
	}
	live := snap.Exists() && t.Live(model.DecodePresence(snap.Value), t.clock.Now())
	if live {
		metrics.PresenceChecks.WithLabelValues("online").Inc()
	} else {
		metrics.PresenceChecks.WithLabelValues("offline").Inc()
	}
	return live
}

// SubscribeToStatus calls fn whenever the computed liveness of uid flips.
// The starting state is offline, so a user already online produces one
// call right away. A lapse of the TTL with no write produces nothing;
// callers poll CheckOnlineStatus for that.
func (t *Tracker) SubscribeToStatus(uid string, fn func(online bool)) (func(), error) {
	last := false
	return t.store.Subscribe(gateway.Join("users", uid), func(snap gateway.Snapshot) {
		live := snap.Exists() && t.Live(model.DecodePresence(snap.Value), t.clock.Now())
		if live == last {
			return
		}
		last = live
		fn(live)
	})
}
