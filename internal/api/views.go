package api

import (
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/matheus3301/wppsync/internal/model"
	"github.com/matheus3301/wppsync/internal/store"
)

// StatusView answers Status and Reconnect.
type StatusView struct {
	Profile            string     `json:"profile"`
	State              string     `json:"state"`
	Mode               string     `json:"mode"`
	AccountID          string     `json:"accountId"`
	ActiveConversation string     `json:"activeConversation,omitempty"`
	Chats              int        `json:"chats"`
	LastConnected      *time.Time `json:"lastConnected,omitempty"`
	UptimeMs           int64      `json:"uptimeMs"`
}

// ChatsView is the conversation list as last reduced.
type ChatsView struct {
	Phase         string                      `json:"phase"`
	Conversations []model.ConversationSummary `json:"conversations"`
	Pagination    *model.PaginationCursor     `json:"pagination,omitempty"`
	HasMore       bool                        `json:"hasMore"`
	Error         string                      `json:"error,omitempty"`
}

// MessagesView is the open conversation's timeline, newest first.
type MessagesView struct {
	ConversationID string                  `json:"conversationId"`
	Phase          string                  `json:"phase"`
	Messages       []model.MessageRecord   `json:"messages"`
	Pagination     *model.PaginationCursor `json:"pagination,omitempty"`
	HasMore        bool                    `json:"hasMore"`
	Error          string                  `json:"error,omitempty"`
}

// SendView reports a coordinated send.
type SendView struct {
	LocalID         string `json:"localId"`
	ServerMessageID string `json:"serverMessageId,omitempty"`
	Failure         string `json:"failure,omitempty"`
}

// OutboundEntry is one journaled send.
type OutboundEntry struct {
	LocalID         string    `json:"localId"`
	Recipient       string    `json:"recipient"`
	Body            string    `json:"body"`
	Status          string    `json:"status"`
	ServerMessageID string    `json:"serverMessageId,omitempty"`
	ErrorKind       string    `json:"errorKind,omitempty"`
	ErrorMessage    string    `json:"errorMessage,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
}

// OutboundView lists the journal of one conversation.
type OutboundView struct {
	ConversationID string          `json:"conversationId"`
	Entries        []OutboundEntry `json:"entries"`
}

// EventView is one bus event on the WatchEvents stream.
type EventView struct {
	EventID          string `json:"eventId"`
	Profile          string `json:"profile"`
	Kind             string `json:"kind"`
	OccurredAtUnixMs int64  `json:"occurredAtUnixMs"`
	Payload          any    `json:"payload,omitempty"`
}

// Requests.
type (
	ListChatsRequest struct {
		Refresh bool `json:"refresh,omitempty"`
	}
	ConversationRequest struct {
		ConversationID string `json:"conversationId"`
	}
	SendTextRequest struct {
		AccountID      string `json:"accountId,omitempty"`
		ConversationID string `json:"conversationId"`
		To             string `json:"to"`
		Body           string `json:"body"`
	}
	OutboundRequest struct {
		ConversationID string `json:"conversationId"`
		Limit          int    `json:"limit,omitempty"`
	}
	UpdateTokenRequest struct {
		Token string `json:"token"`
	}
	WatchRequest struct {
		Namespace string `json:"namespace,omitempty"`
	}
	Empty struct{}
)

func outboundEntries(entries []store.OutboxEntry) []OutboundEntry {
	out := make([]OutboundEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, OutboundEntry{
			LocalID:         e.ClientMsgID,
			Recipient:       e.Recipient,
			Body:            e.Body,
			Status:          e.Status,
			ServerMessageID: e.ServerMsgID,
			ErrorKind:       e.ErrorKind,
			ErrorMessage:    e.ErrorMessage,
			CreatedAt:       e.CreatedAt,
		})
	}
	return out
}

// ToStruct converts a JSON-encodable view into a Struct.
func ToStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	s := new(structpb.Struct)
	if err := protojson.Unmarshal(b, s); err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	return s, nil
}

// FromStruct decodes s into v. A nil Struct leaves v untouched.
func FromStruct(s *structpb.Struct, v any) error {
	if s == nil {
		return nil
	}
	b, err := protojson.Marshal(s)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode %T: %w", v, err)
	}
	return nil
}
