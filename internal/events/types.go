package events

import "time"

// Event enumerates the topics published by the copier core.
type Event string

const (
	EventAccountsChanged        Event = "accounts_changed"
	EventPendingAccountsChanged Event = "pending_accounts_changed"
	EventCopierStatusChanged    Event = "copier_status_changed"
	EventHeartbeat              Event = "heartbeat"
)

// Topics lists every topic a client may subscribe to.
var Topics = []Event{
	EventAccountsChanged,
	EventPendingAccountsChanged,
	EventCopierStatusChanged,
	EventHeartbeat,
}

// Heartbeat is the no-op keepalive payload.
type Heartbeat struct {
	Time time.Time `json:"time"`
}

// Replayer provides the latest known payload for a topic so a new
// subscriber does not wait for the next change.
type Replayer interface {
	Replay(e Event) (any, bool)
}
