package sync

import (
	"context"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/Taiwoayodeji/ChatGifs/internal/bus"
	"github.com/Taiwoayodeji/ChatGifs/internal/gateway"
	"github.com/Taiwoayodeji/ChatGifs/internal/metrics"
	"github.com/Taiwoayodeji/ChatGifs/internal/model"
)

// MaxContentLen bounds message content, which is text or a GIF URL.
const MaxContentLen = 4096

// SendMessage appends a message to the conversation and refreshes its
// lastMessage and updatedAt in the same write. Timestamps come from the
// gateway clock.
func (r *Reconciler) SendMessage(ctx context.Context, conversationID, content string, typ model.MessageType) (model.Message, error) {
	const op = "send message"
	me, ok := r.gw.Current()
	if !ok {
		return model.Message{}, model.ErrNotSignedIn
	}
	if !gateway.ValidSegment(conversationID) {
		return model.Message{}, model.Errorf(model.Invalid, op, "invalid conversation id")
	}
	if !typ.Valid() {
		return model.Message{}, model.Errorf(model.Invalid, op, "unknown message type %q", typ)
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return model.Message{}, model.Errorf(model.Invalid, op, "message is empty")
	}
	if len(content) > MaxContentLen {
		return model.Message{}, model.Errorf(model.Invalid, op, "message is too long")
	}

	conv, err := r.gw.Get(ctx, gateway.Join("conversations", conversationID))
	if err != nil {
		return model.Message{}, model.Wrap(model.Transient, op, err)
	}
	if !conv.Exists() {
		return model.Message{}, model.Errorf(model.NotFound, op, "conversation %s not found", conversationID)
	}
	if _, err := r.RepairParticipants(ctx, conv, me.UID); err != nil {
		return model.Message{}, err
	}

	id := r.gw.NewKey()
	base := gateway.Join("conversations", conversationID)
	err = r.gw.Update(ctx, map[string]any{
		messagePath(conversationID, id): map[string]any{
			"senderId":       me.UID,
			"content":        content,
			"type":           string(typ),
			"timestamp":      gateway.ServerTimestamp(),
			"conversationId": conversationID,
		},
		gateway.Join(base, "lastMessage"): map[string]any{
			"content":   content,
			"type":      string(typ),
			"timestamp": gateway.ServerTimestamp(),
			"senderId":  me.UID,
		},
		gateway.Join(base, "updatedAt"): gateway.ServerTimestamp(),
	})
	if err != nil {
		return model.Message{}, model.Wrap(model.Transient, op, err)
	}
	metrics.MessagesSent.WithLabelValues(string(typ)).Inc()

	snap, err := r.gw.Get(ctx, messagePath(conversationID, id))
	if err != nil {
		return model.Message{}, model.Wrap(model.Transient, op, err)
	}
	msg, err := model.DecodeMessage(conversationID, id, snap.Value)
	if err != nil {
		// Written but not yet readable back; report what was sent.
		msg = model.Message{ID: id, SenderID: me.UID, Content: content, Type: typ, ConversationID: conversationID}
	}
	r.logger.Info("message sent", zap.String("conversation_id", conversationID), zap.String("msg_id", id), zap.String("type", string(typ)))
	return msg, nil
}

// RepairParticipants rewrites the participants list of conv when it is
// missing, malformed, or lacks uid, appending uid. It reports whether a
// repair was written.
func (r *Reconciler) RepairParticipants(ctx context.Context, conv gateway.Snapshot, uid string) (bool, error) {
	raw := conv.Child("participants").Value
	list, ok := model.StringList(raw)
	if ok && slices.Contains(list, uid) {
		return false, nil
	}
	if !ok {
		list = salvageParticipants(raw)
	}
	if !slices.Contains(list, uid) {
		list = append(list, uid)
	}
	values := make([]any, len(list))
	for i, p := range list {
		values[i] = p
	}

	cid := conv.Key()
	err := r.gw.Update(ctx, map[string]any{
		gateway.Join(conv.Path, "participants"):     values,
		gateway.Join("userConversations", uid, cid): true,
	})
	if err != nil {
		return false, model.Wrap(model.Transient, "repair participants", err)
	}
	r.logger.Warn("repaired conversation participants", zap.String("conversation_id", cid), zap.Strings("participants", list))
	if r.bus != nil {
		r.bus.Publish(bus.Event{
			Kind:      "conversation.repaired",
			Timestamp: r.clock.Now(),
			Payload:   map[string]string{"conversation_id": cid, "user_id": uid},
		})
	}
	return true, nil
}

// salvageParticipants keeps whatever string ids a malformed participants
// value still carries, such as an index-keyed object.
func salvageParticipants(v any) []string {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	var out []string
	for _, k := range model.SortedKeys(m) {
		if s, ok := m[k].(string); ok && s != "" && !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}
