package api

import (
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/Taiwoayodeji/ChatGifs/internal/coordinator"
	"github.com/Taiwoayodeji/ChatGifs/internal/gif"
	"github.com/Taiwoayodeji/ChatGifs/internal/model"
	"github.com/Taiwoayodeji/ChatGifs/internal/status"
)

func userFields(u model.User, online bool) map[string]any {
	m := map[string]any{
		"id":        u.ID,
		"email":     u.Email,
		"full_name": u.FullName,
		"online":    online,
	}
	if u.Avatar != "" {
		m["avatar"] = u.Avatar
	}
	if u.CreatedAt != 0 {
		m["created_at"] = u.CreatedAt
	}
	if u.LastSeen != 0 {
		m["last_seen"] = u.LastSeen
	}
	return m
}

func requestFields(r model.FriendRequest) map[string]any {
	return map[string]any{
		"id":             r.ID,
		"sender_id":      r.SenderID,
		"receiver_id":    r.ReceiverID,
		"sender_name":    r.SenderName,
		"receiver_name":  r.ReceiverName,
		"sender_email":   r.SenderEmail,
		"receiver_email": r.ReceiverEmail,
		"status":         string(r.Status),
		"timestamp":      r.Timestamp,
		"direction":      string(r.Direction),
	}
}

func conversationFields(c model.Conversation) map[string]any {
	m := map[string]any{
		"id":           c.ID,
		"name":         c.Name,
		"participants": anyList(c.Participants),
		"created_at":   c.CreatedAt,
		"updated_at":   c.UpdatedAt,
	}
	if lm := c.LastMessage; lm != nil {
		m["last_message"] = map[string]any{
			"content":   lm.Content,
			"type":      string(lm.Type),
			"timestamp": lm.Timestamp,
			"sender_id": lm.SenderID,
		}
	}
	return m
}

func summaryFields(s coordinator.Summary) map[string]any {
	m := conversationFields(s.Conversation)
	m["unread"] = s.Unread
	return m
}

func messageFields(m model.Message) map[string]any {
	return map[string]any{
		"id":              m.ID,
		"sender_id":       m.SenderID,
		"content":         m.Content,
		"type":            string(m.Type),
		"timestamp":       m.Timestamp,
		"conversation_id": m.ConversationID,
	}
}

func gifFields(g gif.GIF) map[string]any {
	return map[string]any{
		"id":          g.ID,
		"title":       g.Title,
		"url":         g.URL,
		"width":       g.Width,
		"height":      g.Height,
		"preview_url": g.PreviewURL,
	}
}

func anyList[T ~string](xs []T) []any {
	out := make([]any, len(xs))
	for i, x := range xs {
		out[i] = string(x)
	}
	return out
}

func listOf[T any](xs []T, fields func(T) map[string]any) []any {
	out := make([]any, len(xs))
	for i, x := range xs {
		out[i] = fields(x)
	}
	return out
}

// eventPayload converts a bus payload into a structpb value. Unknown
// payload types fall back to their string form.
func eventPayload(p any) *structpb.Value {
	var v any
	switch t := p.(type) {
	case nil:
		return structpb.NewNullValue()
	case status.StatusChange:
		v = map[string]any{"from": string(t.From), "to": string(t.To)}
	case map[string]string:
		m := make(map[string]any, len(t))
		for k, s := range t {
			m[k] = s
		}
		v = m
	case map[string]bool:
		m := make(map[string]any, len(t))
		for k, b := range t {
			m[k] = b
		}
		v = m
	default:
		v = t
	}
	val, err := structpb.NewValue(v)
	if err != nil {
		return structpb.NewStringValue(fmt.Sprint(p))
	}
	return val
}

func reply(fields map[string]any) (*structpb.Struct, error) {
	if fields == nil {
		fields = map[string]any{}
	}
	return structpb.NewStruct(fields)
}

func str(in *structpb.Struct, key string) string {
	if in == nil {
		return ""
	}
	return in.GetFields()[key].GetStringValue()
}

func strList(in *structpb.Struct, key string) []string {
	if in == nil {
		return nil
	}
	v := in.GetFields()[key]
	if s := v.GetStringValue(); s != "" {
		return []string{s}
	}
	var out []string
	for _, item := range v.GetListValue().GetValues() {
		if s := item.GetStringValue(); s != "" {
			out = append(out, s)
		}
	}
	return out
}
