package store

// Outbox statuses.
const (
	OutboxQueued  = "queued"
	OutboxSending = "sending"
	OutboxSent    = "sent"
	OutboxFailed  = "failed"
)

// OutboxEntry represents a message waiting to be written to the gateway.
type OutboxEntry struct {
	ID             int64
	ClientMsgID    string
	UserID         string
	ConversationID string
	Content        string
	MessageType    string
	Status         string
	Attempts       int
	ErrorMessage   string
	ServerMsgID    string
	CreatedAt      int64
}

// GlobalScope is the preference scope shared by every user of a profile.
const GlobalScope = ""

// Well-known preference keys.
const (
	PrefTheme     = "theme"
	PrefActiveTab = "active_tab"
)
