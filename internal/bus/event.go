package bus

import "time"

// Event is a domain event published on the bus. For the gateway tree store
// Kind is the written path; for the client core it is a dotted event name
// such as "presence.changed".
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
