package channel

import (
	"encoding/json"
	"fmt"
)

// Handshake and lifecycle events. Domain events (chat:list, ...) are owned
// by the packages that emit or consume them.
const (
	EventAuth      = "auth"
	EventConnect   = "connect"
	EventAuthError = "auth_error"
)

// Frame is the JSON envelope carried by every text message on the channel.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type authData struct {
	Token string `json:"token"`
}

type errorData struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

func encodeFrame(event string, data any) ([]byte, error) {
	f := Frame{Event: event}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", event, err)
		}
		f.Data = raw
	}
	return json.Marshal(f)
}

func decodeFrame(p []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(p, &f); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	if f.Event == "" {
		return Frame{}, fmt.Errorf("decode frame: missing event")
	}
	return f, nil
}

// reasonOf pulls a human-readable reason out of an error payload.
func reasonOf(data json.RawMessage) string {
	var e errorData
	if len(data) > 0 && json.Unmarshal(data, &e) == nil {
		if e.Message != "" {
			return e.Message
		}
		if e.Error != "" {
			return e.Error
		}
	}
	return "rejected"
}
