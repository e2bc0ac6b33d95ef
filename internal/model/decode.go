package model

import (
	"encoding/json"
	"math"
	"sort"
)

// Decoders turn raw gateway values (JSON-shaped: map[string]any, []any,
// string, float64, bool) into entities. They fail closed with Invalid when a
// required field is missing or has the wrong shape.

func asObject(op string, v any) (map[string]any, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, Errorf(Invalid, op, "record is not an object")
	}
	return m, nil
}

func requiredString(op string, m map[string]any, key string) (string, error) {
	s, ok := m[key].(string)
	if !ok || s == "" {
		return "", Errorf(Invalid, op, "field %q missing or not a string", key)
	}
	return s, nil
}

func optionalString(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

// Int64 converts a JSON-shaped number to int64.
func Int64(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	}
	return 0, false
}

func requiredInt(op string, m map[string]any, key string) (int64, error) {
	n, ok := Int64(m[key])
	if !ok {
		return 0, Errorf(Invalid, op, "field %q missing or not a number", key)
	}
	return n, nil
}

func optionalInt(m map[string]any, key string) int64 {
	n, _ := Int64(m[key])
	return n
}

// StringList decodes a list of non-empty strings. ok is false when v is not
// a list or any element is not a non-empty string.
func StringList(v any) ([]string, bool) {
	raw, ok := v.([]any)
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(raw))
	for _, e := range raw {
		s, ok := e.(string)
		if !ok || s == "" {
			return nil, false
		}
		out = append(out, s)
	}
	return out, true
}

// DecodeUser decodes users/{id}. Presence fields and friends are optional.
func DecodeUser(id string, v any) (User, error) {
	const op = "decode user"
	m, err := asObject(op, v)
	if err != nil {
		return User{}, err
	}
	email, err := requiredString(op, m, "email")
	if err != nil {
		return User{}, err
	}
	u := User{
		ID:               id,
		Email:            email,
		FullName:         optionalString(m, "fullName"),
		Avatar:           optionalString(m, "avatar"),
		CreatedAt:        optionalInt(m, "createdAt"),
		LastOnlineUpdate: optionalInt(m, "lastOnlineUpdate"),
		LastSeen:         optionalInt(m, "lastSeen"),
		Friends:          DecodeFriends(m["friends"]),
	}
	u.IsOnline, _ = m["isOnline"].(bool)
	return u, nil
}

// DecodeFriends decodes a friends map, skipping malformed entries.
func DecodeFriends(v any) map[string]Friend {
	out := make(map[string]Friend)
	m, ok := v.(map[string]any)
	if !ok {
		return out
	}
	for id, raw := range m {
		f := Friend{ID: id}
		if e, ok := raw.(map[string]any); ok {
			f.CreatedAt = optionalInt(e, "createdAt")
		}
		out[id] = f
	}
	return out
}

// Presence is the liveness-relevant part of a user record.
type Presence struct {
	IsOnline         bool
	LastOnlineUpdate int64
	LastSeen         int64
}

// DecodePresence is lenient: a missing or malformed record reads as offline.
func DecodePresence(v any) Presence {
	m, ok := v.(map[string]any)
	if !ok {
		return Presence{}
	}
	p := Presence{
		LastOnlineUpdate: optionalInt(m, "lastOnlineUpdate"),
		LastSeen:         optionalInt(m, "lastSeen"),
	}
	p.IsOnline, _ = m["isOnline"].(bool)
	return p
}

// DecodeConversation decodes conversations/{id}.
func DecodeConversation(id string, v any) (Conversation, error) {
	const op = "decode conversation"
	m, err := asObject(op, v)
	if err != nil {
		return Conversation{}, err
	}
	participants, ok := StringList(m["participants"])
	if !ok || len(participants) < 2 {
		return Conversation{}, Errorf(Invalid, op, "participants missing or malformed")
	}
	createdAt, err := requiredInt(op, m, "createdAt")
	if err != nil {
		return Conversation{}, err
	}
	c := Conversation{
		ID:           id,
		Name:         optionalString(m, "name"),
		Participants: participants,
		CreatedAt:    createdAt,
		UpdatedAt:    optionalInt(m, "updatedAt"),
	}
	if c.Name == "" {
		c.Name = "Chat"
	}
	if lm, ok := m["lastMessage"].(map[string]any); ok {
		c.LastMessage = &LastMessage{
			Content:   optionalString(lm, "content"),
			Type:      MessageType(optionalString(lm, "type")),
			Timestamp: optionalInt(lm, "timestamp"),
			SenderID:  optionalString(lm, "senderId"),
		}
	}
	return c, nil
}

// DecodeMessage decodes messages/{conversationID}/{id}.
func DecodeMessage(conversationID, id string, v any) (Message, error) {
	const op = "decode message"
	m, err := asObject(op, v)
	if err != nil {
		return Message{}, err
	}
	sender, err := requiredString(op, m, "senderId")
	if err != nil {
		return Message{}, err
	}
	content, err := requiredString(op, m, "content")
	if err != nil {
		return Message{}, err
	}
	ts, err := requiredInt(op, m, "timestamp")
	if err != nil {
		return Message{}, err
	}
	typ := MessageType(optionalString(m, "type"))
	if !typ.Valid() {
		return Message{}, Errorf(Invalid, op, "unknown message type %q", typ)
	}
	return Message{
		ID:             id,
		SenderID:       sender,
		Content:        content,
		Type:           typ,
		Timestamp:      ts,
		ConversationID: conversationID,
	}, nil
}

// DecodeFriendRequest decodes one stored copy of a friend request.
func DecodeFriendRequest(id string, v any) (FriendRequest, error) {
	const op = "decode friend request"
	m, err := asObject(op, v)
	if err != nil {
		return FriendRequest{}, err
	}
	sender, err := requiredString(op, m, "senderId")
	if err != nil {
		return FriendRequest{}, err
	}
	receiver, err := requiredString(op, m, "receiverId")
	if err != nil {
		return FriendRequest{}, err
	}
	status := RequestStatus(optionalString(m, "status"))
	switch status {
	case RequestPending, RequestAccepted, RequestRejected:
	default:
		return FriendRequest{}, Errorf(Invalid, op, "unknown status %q", status)
	}
	if rid := optionalString(m, "id"); rid != "" {
		id = rid
	}
	ts := optionalInt(m, "timestamp")
	if ts == 0 {
		ts = optionalInt(m, "createdAt")
	}
	return FriendRequest{
		ID:            id,
		SenderID:      sender,
		ReceiverID:    receiver,
		SenderName:    optionalString(m, "senderName"),
		ReceiverName:  optionalString(m, "receiverName"),
		SenderEmail:   optionalString(m, "senderEmail"),
		ReceiverEmail: optionalString(m, "receiverEmail"),
		Status:        status,
		Timestamp:     ts,
	}, nil
}

// Record encodes the request for storage. Direction is never stored.
func (r FriendRequest) Record() map[string]any {
	return map[string]any{
		"id":            r.ID,
		"senderId":      r.SenderID,
		"receiverId":    r.ReceiverID,
		"senderName":    r.SenderName,
		"receiverName":  r.ReceiverName,
		"senderEmail":   r.SenderEmail,
		"receiverEmail": r.ReceiverEmail,
		"status":        string(r.Status),
		"timestamp":     r.Timestamp,
	}
}

// SortedKeys returns the keys of a JSON object in ascending order.
func SortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
