package channel

import (
	"context"
	"fmt"
	"net/http"

	"github.com/coder/websocket"
)

// Conn abstracts the websocket so the manager can be tested without a
// server. *websocket.Conn satisfies it.
type Conn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// Dialer opens a raw connection to the live endpoint.
type Dialer interface {
	Dial(ctx context.Context, endpoint, token string) (Conn, error)
}

// WebsocketDialer dials the gateway with coder/websocket.
type WebsocketDialer struct {
	HTTPClient *http.Client
	ReadLimit  int64
}

// Dial opens the websocket, presenting token as a bearer header. An HTTP
// 401/403 on upgrade is reported as an AuthError.
func (d WebsocketDialer) Dial(ctx context.Context, endpoint, token string) (Conn, error) {
	c, resp, err := websocket.Dial(ctx, endpoint, &websocket.DialOptions{ //nolint:bodyclose // websocket.Dial closes the response body internally
		HTTPClient: d.HTTPClient,
		HTTPHeader: http.Header{
			"Authorization": []string{"Bearer " + token},
		},
	})
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, &AuthError{Reason: resp.Status}
		}
		return nil, fmt.Errorf("dialing live channel: %w", err)
	}
	if d.ReadLimit > 0 {
		c.SetReadLimit(d.ReadLimit)
	}
	return c, nil
}
