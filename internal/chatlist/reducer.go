package chatlist

import (
	"slices"

	"github.com/matheus3301/wppsync/internal/model"
)

// Phase is the lifecycle of one account's list.
type Phase string

const (
	PhaseIdle    Phase = "idle"
	PhaseLoading Phase = "loading"
	PhaseReady   Phase = "ready"
	PhaseErrored Phase = "errored"
)

// Source tells which path delivered a page.
type Source string

const (
	SourceLive  Source = "live"
	SourceFetch Source = "fetch"
)

// State is the value owned by a Synchronizer. Reduce never mutates a State
// in place, so a State may be shared once returned.
type State struct {
	Phase          Phase
	Conversations  []model.ConversationSummary
	Pagination     *model.PaginationCursor
	FetchSucceeded bool
	LastErr        error
}

// Event is an input to Reduce.
type Event interface {
	chatlistEvent()
}

type (
	// RefreshRequested starts a load. A ready list stays visible.
	RefreshRequested struct{}
	// PageReceived carries one page from the live feed or a fetch.
	PageReceived struct {
		Source Source
		Page   model.Page[model.ConversationSummary]
	}
	// FormatErrored reports an unrecognized live payload.
	FormatErrored struct{ Err error }
	// FetchFailed reports a failed request/response fetch.
	FetchFailed struct{ Err error }
	// MarkedRead zeroes the unread count of one conversation.
	MarkedRead struct{ ConversationID string }
)

func (RefreshRequested) chatlistEvent() {}
func (PageReceived) chatlistEvent()     {}
func (FormatErrored) chatlistEvent()    {}
func (FetchFailed) chatlistEvent()      {}
func (MarkedRead) chatlistEvent()       {}

// Reduce applies e to s and returns the new state.
func Reduce(s State, e Event) State {
	switch e := e.(type) {
	case RefreshRequested:
		if s.Phase != PhaseReady {
			s.Phase = PhaseLoading
		}
	case PageReceived:
		s.Conversations, s.Pagination = Merge(s.Conversations, e.Page)
		s.Phase = PhaseReady
		s.LastErr = nil
		if e.Source == SourceFetch {
			s.FetchSucceeded = true
		}
	case FormatErrored:
		s.LastErr = e.Err
		if s.Phase == PhaseLoading && !s.FetchSucceeded {
			s.Phase = PhaseErrored
		}
	case FetchFailed:
		s.LastErr = e.Err
		if s.Phase == PhaseLoading {
			s.Phase = PhaseErrored
		}
	case MarkedRead:
		i := slices.IndexFunc(s.Conversations, func(c model.ConversationSummary) bool { return c.ID == e.ConversationID })
		if i < 0 || s.Conversations[i].UnreadCount == 0 {
			return s
		}
		s.Conversations = slices.Clone(s.Conversations)
		s.Conversations[i].UnreadCount = 0
	}
	return s
}

// Merge applies the list merge rule: a page at offset 0, or without a
// cursor, replaces cur; any later page appends the conversations whose id
// is not already present. Server order is kept in both cases.
func Merge(cur []model.ConversationSummary, page model.Page[model.ConversationSummary]) ([]model.ConversationSummary, *model.PaginationCursor) {
	if page.Pagination == nil || page.Pagination.Offset == 0 {
		return appendNew(nil, page.Items), page.Pagination
	}
	return appendNew(slices.Clone(cur), page.Items), page.Pagination
}

func appendNew(dst, items []model.ConversationSummary) []model.ConversationSummary {
	if dst == nil {
		dst = make([]model.ConversationSummary, 0, len(items))
	}
	seen := make(map[string]struct{}, len(dst)+len(items))
	for _, c := range dst {
		seen[c.ID] = struct{}{}
	}
	for _, c := range items {
		if _, dup := seen[c.ID]; dup {
			continue
		}
		seen[c.ID] = struct{}{}
		dst = append(dst, c)
	}
	return dst
}
