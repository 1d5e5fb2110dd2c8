package channel

import (
	"errors"

	"github.com/coder/websocket"
)

var (
	// ErrMissingCredential is returned by Connect when no valid credential is stored.
	ErrMissingCredential = errors.New("channel: no valid credential")
	// ErrNotConnected is returned by Emit while the channel is not connected.
	ErrNotConnected = errors.New("channel: not connected")
	// ErrSuperseded is returned by a connect attempt that was overtaken by
	// Disconnect or a newer Connect.
	ErrSuperseded = errors.New("channel: connect attempt superseded")
)

// AuthError reports a handshake the gateway rejected. It is terminal for
// the current credential.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	return "channel: authentication rejected: " + e.Reason
}

type dropKind int

const (
	dropUnexpected dropKind = iota
	dropServerClosed
	dropAuth
)

func classifyDrop(err error) dropKind {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return dropAuth
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusPolicyViolation:
		return dropAuth
	case websocket.StatusNormalClosure:
		return dropServerClosed
	}
	return dropUnexpected
}
