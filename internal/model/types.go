package model

import "slices"

// MessageType is the content kind of a message.
type MessageType string

const (
	MessageText MessageType = "text"
	MessageGIF  MessageType = "gif"
)

// Valid reports whether t is a known message type.
func (t MessageType) Valid() bool {
	return t == MessageText || t == MessageGIF
}

// RequestStatus is the lifecycle state of a friend request.
type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestAccepted RequestStatus = "accepted"
	RequestRejected RequestStatus = "rejected"
)

// Terminal reports whether no further transition is allowed.
func (s RequestStatus) Terminal() bool {
	return s == RequestAccepted || s == RequestRejected
}

// Direction tells which side of a friend request the caller is on.
type Direction string

const (
	Incoming Direction = "incoming"
	Outgoing Direction = "outgoing"
)

// Friend is one entry of a user's embedded friends map.
type Friend struct {
	ID        string
	CreatedAt int64
}

// User is the mirrored per-user record, including presence fields.
type User struct {
	ID               string
	Email            string
	FullName         string
	Avatar           string
	CreatedAt        int64
	IsOnline         bool
	LastOnlineUpdate int64
	LastSeen         int64
	Friends          map[string]Friend
}

// IsFriend reports whether id is in the user's friends map.
func (u User) IsFriend(id string) bool {
	_, ok := u.Friends[id]
	return ok
}

// LastMessage is the denormalized summary kept on a conversation.
type LastMessage struct {
	Content   string
	Type      MessageType
	Timestamp int64
	SenderID  string
}

// Conversation is a chat between participants.
type Conversation struct {
	ID           string
	Name         string
	Participants []string
	CreatedAt    int64
	UpdatedAt    int64
	LastMessage  *LastMessage
}

// HasParticipant reports whether uid takes part in the conversation.
func (c Conversation) HasParticipant(uid string) bool {
	return slices.Contains(c.Participants, uid)
}

// RecencyKey is updatedAt, falling back to createdAt.
func (c Conversation) RecencyKey() int64 {
	if c.UpdatedAt != 0 {
		return c.UpdatedAt
	}
	return c.CreatedAt
}

// Others returns the participants other than uid.
func (c Conversation) Others(uid string) []string {
	out := make([]string, 0, len(c.Participants))
	for _, p := range c.Participants {
		if p != uid {
			out = append(out, p)
		}
	}
	return out
}

// Message is an immutable chat message.
type Message struct {
	ID             string
	SenderID       string
	Content        string
	Type           MessageType
	Timestamp      int64
	ConversationID string
}

// FriendRequest is stored twice: in the receiver's inbox and the sender's
// sent collection. Direction is only set on listed requests.
type FriendRequest struct {
	ID            string
	SenderID      string
	ReceiverID    string
	SenderName    string
	ReceiverName  string
	SenderEmail   string
	ReceiverEmail string
	Status        RequestStatus
	Timestamp     int64
	Direction     Direction
}

// Counterpart returns the id of the other side relative to uid.
func (r FriendRequest) Counterpart(uid string) string {
	if r.SenderID == uid {
		return r.ReceiverID
	}
	return r.SenderID
}

// Links reports whether the request connects a and b in either direction.
func (r FriendRequest) Links(a, b string) bool {
	return (r.SenderID == a && r.ReceiverID == b) || (r.SenderID == b && r.ReceiverID == a)
}
