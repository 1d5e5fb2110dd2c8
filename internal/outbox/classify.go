package outbox

import (
	"errors"

	"github.com/matheus3301/wppsync/internal/history"
)

// ErrMissingSessionID is returned when the account has no connected session.
var ErrMissingSessionID = errors.New("outbox: account has no connected session")

// FailureKind distinguishes send failures for display.
type FailureKind string

const (
	FailureNone           FailureKind = ""
	FailureMissingSession FailureKind = "missing_session_id"
	FailureAPI            FailureKind = "api_error"
	FailureNetwork        FailureKind = "network_error"
	FailureNoResponse     FailureKind = "no_response"
	// FailureInterrupted marks a send the daemon stopped before it resolved.
	FailureInterrupted FailureKind = "interrupted"
)

// Classify maps a send error onto its FailureKind. Errors it does not
// recognize count as transport failures.
func Classify(err error) FailureKind {
	var apiErr *history.APIError
	switch {
	case err == nil:
		return FailureNone
	case errors.Is(err, ErrMissingSessionID):
		return FailureMissingSession
	case errors.As(err, &apiErr):
		return FailureAPI
	case errors.Is(err, history.ErrNoResponse):
		return FailureNoResponse
	default:
		return FailureNetwork
	}
}
