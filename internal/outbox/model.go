package outbox

import "time"

type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

// Message is a row waiting to be published; it is written in the same
// transaction as the aggregate change it announces.
type Message struct {
	ID          int64
	AggregateID string
	Topic       string
	EventType   string
	Payload     []byte
	Headers     map[string]string
	Status      Status
	Attempts    int
	LastError   *string
	CreatedAt   time.Time
}
