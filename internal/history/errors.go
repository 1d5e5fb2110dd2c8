package history

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidPage is returned, without a request, for limit <= 0 or offset < 0.
	ErrInvalidPage = errors.New("history: limit must be positive and offset non-negative")
	// ErrNoResponse means the gateway answered with an empty or undecodable body.
	ErrNoResponse = errors.New("history: empty or malformed response")
)

// APIError is a structured rejection from the gateway.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	switch {
	case e.Code != "" && e.Message != "":
		return fmt.Sprintf("gateway rejected request (%d %s): %s", e.StatusCode, e.Code, e.Message)
	case e.Message != "":
		return fmt.Sprintf("gateway rejected request (%d): %s", e.StatusCode, e.Message)
	case e.Code != "":
		return fmt.Sprintf("gateway rejected request (%d): %s", e.StatusCode, e.Code)
	default:
		return fmt.Sprintf("gateway rejected request (%d)", e.StatusCode)
	}
}

// NetworkError wraps a transport-level failure.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}
