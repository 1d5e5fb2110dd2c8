package timeline

import (
	"maps"
	"slices"

	"github.com/matheus3301/wppsync/internal/model"
)

// Phase is the lifecycle of the open conversation's timeline.
type Phase string

const (
	PhaseIdle    Phase = "idle"
	PhaseLoading Phase = "loading"
	PhaseReady   Phase = "ready"
	PhaseErrored Phase = "errored"
)

// State is the timeline of the active conversation, newest first.
type State struct {
	ConversationID string
	Phase          Phase
	Messages       []model.MessageRecord
	Pagination     *model.PaginationCursor
	LastErr        error
	// Early holds the highest status pushed for a server id before any
	// record carried it, e.g. a receipt that beat the send response.
	Early map[string]model.DeliveryStatus
}

// Event is an input to Reduce.
type Event interface {
	timelineEvent()
}

type (
	// ConversationChanged discards the timeline and starts loading id.
	ConversationChanged struct{ ConversationID string }
	// PageReceived carries a page fetched or pushed for ConversationID.
	PageReceived struct {
		ConversationID string
		Page           model.Page[model.MessageRecord]
	}
	// FetchFailed reports a failed fetch for ConversationID.
	FetchFailed struct {
		ConversationID string
		Err            error
	}
	// OptimisticInserted prepends a provisional outbound record.
	OptimisticInserted struct {
		ConversationID string
		Record         model.MessageRecord
	}
	// StatusReconciled advances the status of the record with ServerMessageID.
	StatusReconciled struct {
		ServerMessageID string
		Status          model.DeliveryStatus
	}
	// SendConfirmed binds a provisional record to its server id.
	SendConfirmed struct {
		LocalID string
		Sent    model.SentMessage
	}
	// SendFailed marks a provisional record as failed.
	SendFailed struct{ LocalID string }
)

func (ConversationChanged) timelineEvent() {}
func (PageReceived) timelineEvent()        {}
func (FetchFailed) timelineEvent()         {}
func (OptimisticInserted) timelineEvent()  {}
func (StatusReconciled) timelineEvent()    {}
func (SendConfirmed) timelineEvent()       {}
func (SendFailed) timelineEvent()          {}

// Reduce applies e to s and returns the new state. Results tagged with a
// conversation other than the active one are dropped.
func Reduce(s State, e Event) State {
	switch e := e.(type) {
	case ConversationChanged:
		return State{ConversationID: e.ConversationID, Phase: PhaseLoading}

	case PageReceived:
		if e.ConversationID != s.ConversationID {
			return s
		}
		s.Messages, s.Pagination = Merge(s.Messages, e.Page)
		s.Messages, s.Early = applyEarly(s.Messages, s.Early)
		s.Phase = PhaseReady
		s.LastErr = nil

	case FetchFailed:
		if e.ConversationID != s.ConversationID {
			return s
		}
		s.LastErr = e.Err
		if s.Phase == PhaseLoading {
			s.Phase = PhaseErrored
		}

	case OptimisticInserted:
		if e.ConversationID != s.ConversationID || indexByID(s.Messages, e.Record.ID) >= 0 {
			return s
		}
		s.Messages = append([]model.MessageRecord{e.Record}, s.Messages...)

	case StatusReconciled:
		i := indexByServerID(s.Messages, e.ServerMessageID)
		if i < 0 {
			if e.ServerMessageID != "" && e.Status.Rank() > s.Early[e.ServerMessageID].Rank() {
				s.Early = maps.Clone(s.Early)
				if s.Early == nil {
					s.Early = make(map[string]model.DeliveryStatus)
				}
				s.Early[e.ServerMessageID] = e.Status
			}
			return s
		}
		if !e.Status.Advances(s.Messages[i].DeliveryStatus) {
			return s
		}
		s.Messages = slices.Clone(s.Messages)
		s.Messages[i].DeliveryStatus = e.Status

	case SendConfirmed:
		i := indexByID(s.Messages, e.LocalID)
		if i < 0 {
			return s
		}
		msgs := slices.Clone(s.Messages)
		if j := indexByServerID(msgs, e.Sent.ServerMessageID); j >= 0 && j != i {
			// The server copy arrived first; the provisional one is a duplicate.
			if model.StatusSent.Advances(msgs[j].DeliveryStatus) {
				msgs[j].DeliveryStatus = model.StatusSent
			}
			s.Messages, s.Early = applyEarly(slices.Delete(msgs, i, i+1), s.Early)
			return s
		}
		msgs[i].ServerMessageID = e.Sent.ServerMessageID
		if !e.Sent.OccurredAt.IsZero() {
			msgs[i].OccurredAt = e.Sent.OccurredAt
		}
		if model.StatusSent.Advances(msgs[i].DeliveryStatus) {
			msgs[i].DeliveryStatus = model.StatusSent
		}
		s.Messages, s.Early = applyEarly(msgs, s.Early)

	case SendFailed:
		i := indexByID(s.Messages, e.LocalID)
		if i < 0 || !s.Messages[i].Provisional() {
			return s
		}
		s.Messages = slices.Clone(s.Messages)
		s.Messages[i].DeliveryStatus = model.StatusFailed
	}
	return s
}

// Merge applies the timeline merge rule. A page at offset 0 (or without a
// cursor) replaces the server records but keeps unconfirmed provisional
// records at the head; a later page appends records not already present.
// A record's status never moves backwards across a merge.
func Merge(cur []model.MessageRecord, page model.Page[model.MessageRecord]) ([]model.MessageRecord, *model.PaginationCursor) {
	incoming := make([]model.MessageRecord, 0, len(page.Items))
	for _, m := range page.Items {
		if m.ServerMessageID == "" {
			m.ServerMessageID = m.ID
		}
		if j := indexByServerID(cur, m.ServerMessageID); j >= 0 && cur[j].DeliveryStatus.Advances(m.DeliveryStatus) {
			m.DeliveryStatus = cur[j].DeliveryStatus
		}
		incoming = append(incoming, m)
	}

	if page.Pagination == nil || page.Pagination.Offset == 0 {
		out := make([]model.MessageRecord, 0, len(incoming))
		for _, m := range cur {
			if m.Provisional() && indexByID(incoming, m.ID) < 0 {
				out = append(out, m)
			}
		}
		return appendNew(out, incoming), page.Pagination
	}
	return appendNew(slices.Clone(cur), incoming), page.Pagination
}

// applyEarly folds held statuses into records that now carry their server
// id. msgs must already be a private copy.
func applyEarly(msgs []model.MessageRecord, early map[string]model.DeliveryStatus) ([]model.MessageRecord, map[string]model.DeliveryStatus) {
	if len(early) == 0 {
		return msgs, early
	}
	early = maps.Clone(early)
	for i := range msgs {
		st, ok := early[msgs[i].ServerMessageID]
		if !ok {
			continue
		}
		if st.Advances(msgs[i].DeliveryStatus) {
			msgs[i].DeliveryStatus = st
		}
		delete(early, msgs[i].ServerMessageID)
	}
	return msgs, early
}

func appendNew(dst, items []model.MessageRecord) []model.MessageRecord {
	for _, m := range items {
		if indexByID(dst, m.ID) >= 0 || indexByServerID(dst, m.ServerMessageID) >= 0 {
			continue
		}
		dst = append(dst, m)
	}
	return dst
}

func indexByID(msgs []model.MessageRecord, id string) int {
	return slices.IndexFunc(msgs, func(m model.MessageRecord) bool { return m.ID == id })
}

func indexByServerID(msgs []model.MessageRecord, serverID string) int {
	if serverID == "" {
		return -1
	}
	return slices.IndexFunc(msgs, func(m model.MessageRecord) bool { return m.ServerMessageID == serverID })
}
