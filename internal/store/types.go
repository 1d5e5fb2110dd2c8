package store

import "time"

// Journal statuses of an outbound send.
const (
	OutboxQueued  = "queued"
	OutboxSending = "sending"
	OutboxSent    = "sent"
	OutboxFailed  = "failed"
)

// OutboxEntry is one journaled outbound send.
type OutboxEntry struct {
	ID             int64
	ClientMsgID    string
	AccountID      string
	ConversationID string
	Recipient      string
	Body           string
	Status         string
	SessionID      string
	ServerMsgID    string
	ErrorKind      string
	ErrorMessage   string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
