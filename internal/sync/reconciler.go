// Package sync turns pushed message snapshots into ordered message lists
// and writes outgoing messages.
package sync

import (
	"fmt"
	"sort"
	stdsync "sync"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/Taiwoayodeji/ChatGifs/internal/bus"
	"github.com/Taiwoayodeji/ChatGifs/internal/gateway"
	"github.com/Taiwoayodeji/ChatGifs/internal/metrics"
	"github.com/Taiwoayodeji/ChatGifs/internal/model"
)

// UpdateFunc receives the full, ordered message list of one conversation.
type UpdateFunc func(conversationID string, msgs []model.Message)

// Reconciler holds at most one live message subscription.
type Reconciler struct {
	gw     gateway.Gateway
	bus    *bus.Bus
	clock  clock.Clock
	logger *zap.Logger

	mu     stdsync.Mutex
	active string
	gen    uint64
	unsub  func()
}

// NewReconciler creates a new reconciler. clk stamps the events it
// publishes.
func NewReconciler(gw gateway.Gateway, b *bus.Bus, clk clock.Clock, logger *zap.Logger) *Reconciler {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{gw: gw, bus: b, clock: clk, logger: logger.Named("sync")}
}

// Subscribe attaches to messages/{conversationID}, replacing any previous
// subscription. onUpdate runs once with the current messages and again
// after every change. Deliveries for a replaced subscription are dropped.
func (r *Reconciler) Subscribe(conversationID string, onUpdate UpdateFunc) error {
	if !gateway.ValidSegment(conversationID) {
		return model.Errorf(model.Invalid, "subscribe", "invalid conversation id")
	}
	r.Unsubscribe()

	r.mu.Lock()
	r.gen++
	gen := r.gen
	r.active = conversationID
	r.mu.Unlock()

	unsub, err := r.gw.Subscribe(gateway.Join("messages", conversationID), func(snap gateway.Snapshot) {
		if !r.current(gen) {
			return
		}
		onUpdate(conversationID, DecodeSnapshot(conversationID, snap, r.logger))
	})
	if err != nil {
		r.mu.Lock()
		if r.gen == gen {
			r.active = ""
		}
		r.mu.Unlock()
		return model.Wrap(model.Transient, "subscribe", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gen != gen {
		// Replaced while attaching.
		unsub()
		return nil
	}
	r.unsub = unsub
	r.logger.Debug("subscribed", zap.String("conversation_id", conversationID))
	return nil
}

// Unsubscribe detaches the live subscription, if any. Safe to call twice.
func (r *Reconciler) Unsubscribe() {
	r.mu.Lock()
	unsub := r.unsub
	r.unsub = nil
	if r.active != "" {
		r.gen++
	}
	r.active = ""
	r.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

// Active returns the subscribed conversation id, or "".
func (r *Reconciler) Active() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

func (r *Reconciler) current(gen uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gen == gen
}

// DecodeSnapshot decodes every child of a messages/{id} snapshot, drops
// the ones that fail validation, and sorts by timestamp. Equal timestamps
// keep key order, which is creation order for generated keys.
func DecodeSnapshot(conversationID string, snap gateway.Snapshot, logger *zap.Logger) []model.Message {
	kids := snap.Children()
	msgs := make([]model.Message, 0, len(kids))
	for _, child := range kids {
		m, err := model.DecodeMessage(conversationID, child.Key(), child.Value)
		if err != nil {
			metrics.MessagesDropped.Inc()
			if logger != nil {
				logger.Debug("dropping malformed message", zap.String("path", child.Path), zap.Error(err))
			}
			continue
		}
		msgs = append(msgs, m)
	}
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Timestamp < msgs[j].Timestamp
	})
	return msgs
}

func messagePath(conversationID, id string) string {
	return fmt.Sprintf("messages/%s/%s", conversationID, id)
}
