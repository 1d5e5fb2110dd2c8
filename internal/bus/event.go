package bus

import "time"

// Event is a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds. Subscribers filter by prefix, so "channel." matches all
// connection events.
const (
	KindChannelState     = "channel.state_changed"
	KindFeedFormatError  = "feed.format_error"
	KindChatListUpdated  = "chatlist.updated"
	KindTimelineUpdated  = "timeline.updated"
	KindMessageSendAck   = "message.send_ack"
	KindMessageSendFail  = "message.send_failed"
	KindEngineModeChange = "sync.mode_changed"
)

// NewEvent stamps an event with the current time.
func NewEvent(kind string, payload any) Event {
	return Event{Kind: kind, Timestamp: time.Now(), Payload: payload}
}
