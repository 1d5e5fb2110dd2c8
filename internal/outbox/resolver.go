package outbox

import (
	"context"
	"strings"

	"github.com/matheus3301/wppsync/internal/history"
)

// SessionResolver yields the current session id of an account, or "" when
// the account has none.
type SessionResolver interface {
	SessionFor(ctx context.Context, accountID string) (string, error)
}

// StaticResolver maps account ids to session ids from configuration.
type StaticResolver map[string]string

func (r StaticResolver) SessionFor(_ context.Context, accountID string) (string, error) {
	return r[accountID], nil
}

// AccountLookup is the gateway call behind GatewayResolver.
type AccountLookup interface {
	AccountSession(ctx context.Context, accountID string) (history.AccountSession, error)
}

// GatewayResolver asks the gateway for the account's session and only
// returns it while the session is CONNECTED.
type GatewayResolver struct {
	Lookup AccountLookup
}

func (r GatewayResolver) SessionFor(ctx context.Context, accountID string) (string, error) {
	s, err := r.Lookup.AccountSession(ctx, accountID)
	if err != nil {
		return "", err
	}
	if !strings.EqualFold(s.Status, "connected") {
		return "", nil
	}
	return s.SessionID, nil
}

// ChainResolver tries each resolver in order and returns the first session
// found. A lookup error is only returned if no later resolver succeeds.
type ChainResolver []SessionResolver

func (c ChainResolver) SessionFor(ctx context.Context, accountID string) (string, error) {
	var lastErr error
	for _, r := range c {
		id, err := r.SessionFor(ctx, accountID)
		if err != nil {
			lastErr = err
			continue
		}
		if id != "" {
			return id, nil
		}
	}
	return "", lastErr
}
