package model

import (
	"strings"
	"time"
)

// ConversationSummary is one entry of an account's chat list.
type ConversationSummary struct {
	ID                 string    `json:"id"`
	ContactDisplayName string    `json:"contactDisplayName"`
	ContactAddress     string    `json:"contactAddress"`
	ContactRoutingID   string    `json:"contactRoutingId"`
	LastMessagePreview string    `json:"lastMessagePreview"`
	LastMessageAt      time.Time `json:"lastMessageAt"`
	UnreadCount        int       `json:"unreadCount"`
	IsGroup            bool      `json:"isGroupConversation"`
	GroupDisplayName   *string   `json:"groupDisplayName"`
	IsPinned           bool      `json:"isPinned"`
	IsArchived         bool      `json:"isArchived"`
}

// ContentKind classifies a message body.
type ContentKind string

const (
	ContentText     ContentKind = "text"
	ContentImage    ContentKind = "image"
	ContentVideo    ContentKind = "video"
	ContentAudio    ContentKind = "audio"
	ContentDocument ContentKind = "document"
	ContentSticker  ContentKind = "sticker"
)

// UnmarshalText accepts the gateway's upper-case spelling.
func (k *ContentKind) UnmarshalText(b []byte) error {
	*k = ContentKind(strings.ToLower(string(b)))
	return nil
}

// DeliveryStatus is the delivery state of an outbound message.
type DeliveryStatus string

const (
	StatusPending   DeliveryStatus = "pending"
	StatusSent      DeliveryStatus = "sent"
	StatusDelivered DeliveryStatus = "delivered"
	StatusRead      DeliveryStatus = "read"
	// StatusFailed marks a provisional record whose send was rejected.
	// It sits outside the PENDING→READ ordering.
	StatusFailed DeliveryStatus = "failed"
)

// Rank orders statuses PENDING < SENT < DELIVERED < READ.
// Unknown and failed statuses rank -1.
func (s DeliveryStatus) Rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	default:
		return -1
	}
}

// UnmarshalText accepts the gateway's upper-case spelling.
func (s *DeliveryStatus) UnmarshalText(b []byte) error {
	*s = DeliveryStatus(strings.ToLower(string(b)))
	return nil
}

// Advances reports whether moving from cur to s is a forward step.
func (s DeliveryStatus) Advances(cur DeliveryStatus) bool {
	return s.Rank() > cur.Rank() && cur != StatusFailed
}

// MessageRecord is one entry of a conversation's timeline.
type MessageRecord struct {
	ID                string         `json:"id"`
	ServerMessageID   string         `json:"serverMessageId,omitempty"`
	SenderAddress     string         `json:"senderAddress"`
	SenderDisplayName *string        `json:"senderDisplayName"`
	BodyText          string         `json:"bodyText"`
	ContentKind       ContentKind    `json:"contentKind"`
	MediaURI          *string        `json:"mediaUri"`
	MediaCaption      *string        `json:"mediaCaption"`
	QuotedMessageID   *string        `json:"quotedMessageId"`
	QuotedPreview     *string        `json:"quotedPreview"`
	IsOutbound        bool           `json:"isOutbound"`
	DeliveryStatus    DeliveryStatus `json:"deliveryStatus"`
	OccurredAt        time.Time      `json:"occurredAt"`
}

// Provisional reports whether the server has not yet confirmed the record.
func (m *MessageRecord) Provisional() bool {
	return m.ServerMessageID == ""
}

// PaginationCursor is the offset/limit window attached to a list.
type PaginationCursor struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
	Total  int `json:"total"`
}

// HasMore reports whether another page follows this one.
func (p *PaginationCursor) HasMore() bool {
	if p == nil {
		return false
	}
	return p.Offset+p.Limit < p.Total
}

// Next returns the offset of the following page.
func (p *PaginationCursor) Next() int {
	return p.Offset + p.Limit
}

// Page is one page of items plus its cursor. Pagination is nil when the
// source did not send one.
type Page[T any] struct {
	Items      []T
	Pagination *PaginationCursor
}

// SentMessage is the server confirmation of an outbound send.
type SentMessage struct {
	SessionID       string    `json:"sessionId"`
	From            string    `json:"from"`
	To              string    `json:"to"`
	Message         string    `json:"message"`
	ServerMessageID string    `json:"messageId"`
	OccurredAt      time.Time `json:"occurredAt"`
}
