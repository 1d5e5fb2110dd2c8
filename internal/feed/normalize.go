package feed

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/matheus3301/wppsync/internal/model"
)

// FormatError reports a push payload whose shape is not one of the known
// variants. It never aborts the feed; the update degrades to empty.
type FormatError struct {
	Event string
	Shape string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("feed: unrecognized %s payload (%s)", e.Event, e.Shape)
}

// ListUpdate is the canonical form of a chat:list push.
type ListUpdate struct {
	Conversations []model.ConversationSummary
	Pagination    *model.PaginationCursor
	FormatErr     *FormatError
}

// HistoryUpdate is the canonical form of a chat:history push.
type HistoryUpdate struct {
	ConversationID string
	Messages       []model.MessageRecord
	Pagination     *model.PaginationCursor
	FormatErr      *FormatError
}

// StatusUpdate is the canonical form of a message:status push.
type StatusUpdate struct {
	ServerMessageID string
	Status          model.DeliveryStatus
}

// listShape enumerates the chat:list variants the gateway has been seen to send.
type listShape int

const (
	shapeUnrecognized listShape = iota
	shapeBareArray
	shapeChatsField
	shapeConversationsField
	shapeDataArray
	shapeDataObject
)

func (s listShape) String() string {
	switch s {
	case shapeBareArray:
		return "array"
	case shapeChatsField:
		return "object.chats"
	case shapeConversationsField:
		return "object.conversations"
	case shapeDataArray:
		return "object.data[]"
	case shapeDataObject:
		return "object.data{}"
	default:
		return "unrecognized"
	}
}

func detectListShape(root gjson.Result) listShape {
	switch {
	case root.IsArray():
		return shapeBareArray
	case !root.IsObject():
		return shapeUnrecognized
	case root.Get("chats").IsArray():
		return shapeChatsField
	case root.Get("conversations").IsArray():
		return shapeConversationsField
	case root.Get("data").IsArray():
		return shapeDataArray
	case root.Get("data.chats").IsArray(), root.Get("data.conversations").IsArray():
		return shapeDataObject
	default:
		return shapeUnrecognized
	}
}

// NormalizeConversationList maps every known chat:list shape onto a
// ListUpdate. Unknown shapes yield an empty list and a FormatError.
func NormalizeConversationList(raw []byte) ListUpdate {
	if !gjson.ValidBytes(raw) {
		return emptyList(&FormatError{Event: EventList, Shape: "invalid json"})
	}
	root := gjson.ParseBytes(raw)

	var items, pagination gjson.Result
	shape := detectListShape(root)
	switch shape {
	case shapeBareArray:
		items = root
	case shapeChatsField:
		items, pagination = root.Get("chats"), root.Get("pagination")
	case shapeConversationsField:
		items, pagination = root.Get("conversations"), root.Get("pagination")
	case shapeDataArray:
		items, pagination = root.Get("data"), root.Get("pagination")
	case shapeDataObject:
		data := root.Get("data")
		items = data.Get("chats")
		if !items.IsArray() {
			items = data.Get("conversations")
		}
		pagination = data.Get("pagination")
		if !pagination.Exists() {
			pagination = root.Get("pagination")
		}
	default:
		return emptyList(&FormatError{Event: EventList, Shape: describe(root)})
	}

	conversations := []model.ConversationSummary{}
	if err := json.Unmarshal([]byte(items.Raw), &conversations); err != nil {
		return emptyList(&FormatError{Event: EventList, Shape: shape.String() + ": " + err.Error()})
	}
	return ListUpdate{
		Conversations: conversations,
		Pagination:    decodePagination(pagination),
	}
}

// NormalizeHistory maps a chat:history push onto a HistoryUpdate. The
// payload must name its conversation; messages may sit under messages,
// data, or data.messages.
func NormalizeHistory(raw []byte) HistoryUpdate {
	root := gjson.ParseBytes(raw)
	if !root.IsObject() {
		return HistoryUpdate{FormatErr: &FormatError{Event: EventHistory, Shape: describe(root)}}
	}

	convID := root.Get("conversationId").String()
	if convID == "" {
		convID = root.Get("data.conversationId").String()
	}
	if convID == "" {
		return HistoryUpdate{FormatErr: &FormatError{Event: EventHistory, Shape: "missing conversationId"}}
	}

	var items gjson.Result
	for _, path := range []string{"messages", "data", "data.messages"} {
		if r := root.Get(path); r.IsArray() {
			items = r
			break
		}
	}
	if !items.Exists() {
		return HistoryUpdate{ConversationID: convID, FormatErr: &FormatError{Event: EventHistory, Shape: describe(root)}}
	}

	messages := []model.MessageRecord{}
	if err := json.Unmarshal([]byte(items.Raw), &messages); err != nil {
		return HistoryUpdate{ConversationID: convID, FormatErr: &FormatError{Event: EventHistory, Shape: err.Error()}}
	}

	pagination := root.Get("pagination")
	if !pagination.Exists() {
		pagination = root.Get("data.pagination")
	}
	return HistoryUpdate{
		ConversationID: convID,
		Messages:       messages,
		Pagination:     decodePagination(pagination),
	}
}

// NormalizeStatus reads a message:status push. ok is false when the
// payload lacks an id or carries an unknown status.
func NormalizeStatus(raw []byte) (StatusUpdate, bool) {
	root := gjson.ParseBytes(raw)
	id := root.Get("serverMessageId").String()
	if id == "" {
		id = root.Get("messageId").String()
	}
	s := model.DeliveryStatus(strings.ToLower(root.Get("status").String()))
	if id == "" || s.Rank() < 0 {
		return StatusUpdate{}, false
	}
	return StatusUpdate{ServerMessageID: id, Status: s}, true
}

func decodePagination(r gjson.Result) *model.PaginationCursor {
	if !r.IsObject() {
		return nil
	}
	return &model.PaginationCursor{
		Limit:  int(r.Get("limit").Int()),
		Offset: int(r.Get("offset").Int()),
		Total:  int(r.Get("total").Int()),
	}
}

func emptyList(ferr *FormatError) ListUpdate {
	return ListUpdate{Conversations: []model.ConversationSummary{}, FormatErr: ferr}
}

// describe summarizes a payload for logs without echoing its content.
func describe(r gjson.Result) string {
	if !r.IsObject() {
		return r.Type.String()
	}
	var keys []string
	r.ForEach(func(k, _ gjson.Result) bool {
		keys = append(keys, k.String())
		return len(keys) < 8
	})
	return "object{" + strings.Join(keys, ",") + "}"
}

func describeRaw(raw []byte) string {
	if !gjson.ValidBytes(raw) {
		return "invalid json"
	}
	return describe(gjson.ParseBytes(raw))
}
