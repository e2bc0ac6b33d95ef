package outbox

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/Taiwoayodeji/ChatGifs/internal/bus"
	"github.com/Taiwoayodeji/ChatGifs/internal/gateway"
	"github.com/Taiwoayodeji/ChatGifs/internal/metrics"
	"github.com/Taiwoayodeji/ChatGifs/internal/model"
	"github.com/Taiwoayodeji/ChatGifs/internal/store"
)

// DrainInterval is how often the outbox is checked for queued messages.
const DrainInterval = 500 * time.Millisecond

// MessageSender writes a message to the gateway as the signed-in user.
type MessageSender interface {
	UserID() string
	SendMessage(ctx context.Context, conversationID, content string, typ model.MessageType) (model.Message, error)
}

// Sender drains the outbox and hands queued messages to the gateway.
type Sender struct {
	db     *store.DB
	sender MessageSender
	bus    *bus.Bus
	clock  clock.Clock
	logger *zap.Logger
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSender creates a new outbox sender.
func NewSender(db *store.DB, sender MessageSender, b *bus.Bus, clk clock.Clock, logger *zap.Logger) *Sender {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sender{
		db:     db,
		sender: sender,
		bus:    b,
		clock:  clk,
		logger: logger.Named("outbox"),
	}
}

// Queue validates and stores a message for sending. It returns the client
// message id the send_ack or send_failed event will carry.
func (s *Sender) Queue(conversationID, content string, typ model.MessageType) (string, error) {
	const op = "queue message"
	uid := s.sender.UserID()
	if uid == "" {
		return "", model.ErrNotSignedIn
	}
	if !gateway.ValidSegment(conversationID) {
		return "", model.Errorf(model.Invalid, op, "invalid conversation id")
	}
	if !typ.Valid() {
		return "", model.Errorf(model.Invalid, op, "unknown message type %q", typ)
	}
	clientMsgID := gateway.NewKey()
	if err := s.db.QueueOutbox(clientMsgID, uid, conversationID, content, string(typ)); err != nil {
		return "", model.Wrap(model.Transient, op, err)
	}
	s.updateGauge()
	s.publish("message.queued", map[string]string{"client_msg_id": clientMsgID, "conversation_id": conversationID})
	return clientMsgID, nil
}

// Start recovers entries left in flight by a crash and begins polling.
func (s *Sender) Start(ctx context.Context) {
	if n, err := s.db.ResetSendingOutbox(); err != nil {
		s.logger.Error("failed to reset in-flight outbox entries", zap.Error(err))
	} else if n > 0 {
		s.logger.Info("requeued in-flight outbox entries", zap.Int64("count", n))
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	ticker := s.clock.Ticker(DrainInterval)
	go s.loop(ctx, ticker)
}

// Stop stops the sender loop and waits for it to exit.
func (s *Sender) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
		s.cancel = nil
	}
}

func (s *Sender) loop(ctx context.Context, ticker *clock.Ticker) {
	defer close(s.done)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.processPending(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Sender) processPending(ctx context.Context) {
	uid := s.sender.UserID()
	if uid == "" {
		return
	}
	pending, err := s.db.PendingOutbox(uid)
	if err != nil {
		s.logger.Error("failed to read outbox", zap.Error(err))
		return
	}
	defer s.updateGauge()

	for _, entry := range pending {
		log := s.logger.With(zap.String("client_msg_id", entry.ClientMsgID), zap.String("conversation_id", entry.ConversationID))
		if err := s.db.MarkOutboxSending(entry.ClientMsgID); err != nil {
			log.Error("failed to mark sending", zap.Error(err))
			continue
		}
		s.publish("message.sending", map[string]string{"client_msg_id": entry.ClientMsgID, "conversation_id": entry.ConversationID})

		msg, err := s.sender.SendMessage(ctx, entry.ConversationID, entry.Content, model.MessageType(entry.MessageType))
		if err != nil {
			if model.KindOf(err) == model.Unauthenticated {
				// Signed out mid-drain; keep it for the next session.
				if err := s.db.RequeueOutbox(entry.ClientMsgID, err.Error()); err != nil {
					log.Error("failed to requeue", zap.Error(err))
				}
				return
			}
			log.Error("failed to send message", zap.Error(err))
			if err := s.db.MarkOutboxFailed(entry.ClientMsgID, err.Error()); err != nil {
				log.Error("failed to mark failed", zap.Error(err))
			}
			s.publish("message.send_failed", map[string]string{
				"client_msg_id":   entry.ClientMsgID,
				"conversation_id": entry.ConversationID,
				"error":           err.Error(),
			})
			continue
		}

		if err := s.db.MarkOutboxSent(entry.ClientMsgID, msg.ID); err != nil {
			log.Error("failed to mark sent", zap.Error(err))
		}
		log.Info("outbox message delivered", zap.String("server_msg_id", msg.ID))
		s.publish("message.send_ack", map[string]string{
			"client_msg_id":   entry.ClientMsgID,
			"conversation_id": entry.ConversationID,
			"server_msg_id":   msg.ID,
		})
	}
}

func (s *Sender) updateGauge() {
	if n, err := s.db.CountOutbox(); err == nil {
		metrics.OutboxQueued.Set(float64(n))
	}
}

func (s *Sender) publish(kind string, payload map[string]string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(bus.Event{Kind: kind, Timestamp: s.clock.Now(), Payload: payload})
}
