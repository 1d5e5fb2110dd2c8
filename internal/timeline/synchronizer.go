package timeline

import (
	"context"
	"maps"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/matheus3301/wppsync/internal/bus"
	"github.com/matheus3301/wppsync/internal/feed"
	"github.com/matheus3301/wppsync/internal/model"
)

// Fetcher fetches pages of a conversation's messages.
type Fetcher interface {
	FetchMessagePage(ctx context.Context, conversationID string, limit, offset int) (model.Page[model.MessageRecord], error)
}

// Changed is published on the bus after every state change.
type Changed struct {
	ConversationID string
	Phase          Phase
	Count          int
	Err            string
}

// Synchronizer owns the timeline of the one open conversation.
type Synchronizer struct {
	pageSize int
	fetcher  Fetcher
	bus      *bus.Bus
	logger   *zap.Logger

	mu    sync.Mutex
	state State
	// gen counts Open calls; fetch results from an older Open are dropped.
	gen uint64
}

// New creates a synchronizer with no open conversation.
func New(pageSize int, f Fetcher, b *bus.Bus, logger *zap.Logger) *Synchronizer {
	return &Synchronizer{
		pageSize: pageSize,
		fetcher:  f,
		bus:      b,
		logger:   logger,
		state:    State{Phase: PhaseIdle},
	}
}

// Active returns the open conversation id, or "".
func (s *Synchronizer) Active() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.ConversationID
}

// State returns a copy of the current state.
func (s *Synchronizer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state
	st.Messages = slices.Clone(st.Messages)
	st.Early = maps.Clone(st.Early)
	return st
}

// Open switches to conversationID, discarding the previous timeline even
// when reopening the same conversation, and fetches its first page.
func (s *Synchronizer) Open(ctx context.Context, conversationID string) error {
	var gen uint64
	s.update(ConversationChanged{ConversationID: conversationID}, func() bool {
		s.gen++
		gen = s.gen
		return true
	})
	return s.fetch(ctx, gen, conversationID, 0, true)
}

// LoadMore fetches and appends the next older page. It is a no-op at the
// end of the timeline or with no open conversation.
func (s *Synchronizer) LoadMore(ctx context.Context) error {
	s.mu.Lock()
	id, p, gen := s.state.ConversationID, s.state.Pagination, s.gen
	s.mu.Unlock()
	if id == "" || !p.HasMore() {
		return nil
	}
	return s.fetch(ctx, gen, id, p.Next(), true)
}

// Poll refetches the first page of the open conversation. Failures leave
// the state untouched.
func (s *Synchronizer) Poll(ctx context.Context) error {
	s.mu.Lock()
	id, gen := s.state.ConversationID, s.gen
	s.mu.Unlock()
	if id == "" {
		return nil
	}
	return s.fetch(ctx, gen, id, 0, false)
}

// Reconcile advances the delivery status of the record with serverMessageID.
// Regressive or unknown updates are ignored.
func (s *Synchronizer) Reconcile(serverMessageID string, st model.DeliveryStatus) {
	s.apply(StatusReconciled{ServerMessageID: serverMessageID, Status: st})
}

// InsertOptimistic prepends a provisional record to conversationID's
// timeline if it is the open one.
func (s *Synchronizer) InsertOptimistic(conversationID string, rec model.MessageRecord) {
	s.apply(OptimisticInserted{ConversationID: conversationID, Record: rec})
}

// ConfirmSend binds the provisional record localID to the server's copy.
func (s *Synchronizer) ConfirmSend(localID string, sent model.SentMessage) {
	s.apply(SendConfirmed{LocalID: localID, Sent: sent})
}

// FailSend marks the provisional record localID as failed. It stays in the
// timeline.
func (s *Synchronizer) FailSend(localID string) {
	s.apply(SendFailed{LocalID: localID})
}

// HandleHistoryPush applies a chat:history push.
func (s *Synchronizer) HandleHistoryPush(u feed.HistoryUpdate) {
	if u.FormatErr != nil {
		return
	}
	s.apply(PageReceived{
		ConversationID: u.ConversationID,
		Page:           model.Page[model.MessageRecord]{Items: u.Messages, Pagination: u.Pagination},
	})
}

// HandleStatusPush applies a message:status push.
func (s *Synchronizer) HandleStatusPush(u feed.StatusUpdate) {
	s.Reconcile(u.ServerMessageID, u.Status)
}

func (s *Synchronizer) fetch(ctx context.Context, gen uint64, conversationID string, offset int, recordFailure bool) error {
	page, err := s.fetcher.FetchMessagePage(ctx, conversationID, s.pageSize, offset)
	if err != nil {
		if recordFailure {
			s.applyFor(gen, FetchFailed{ConversationID: conversationID, Err: err})
		}
		return err
	}
	s.applyFor(gen, PageReceived{ConversationID: conversationID, Page: page})
	return nil
}

// applyFor applies the result of a fetch started under gen, unless the
// conversation was opened again since.
func (s *Synchronizer) applyFor(gen uint64, e Event) {
	s.update(e, func() bool {
		if gen != s.gen {
			s.logger.Debug("dropping result of superseded open", zap.Uint64("gen", gen))
			return false
		}
		return true
	})
}

func (s *Synchronizer) apply(e Event) {
	s.update(e, nil)
}

// update reduces e into the state. guard runs under the lock and can veto
// the event.
func (s *Synchronizer) update(e Event, guard func() bool) {
	s.mu.Lock()
	if guard != nil && !guard() {
		s.mu.Unlock()
		return
	}
	prev := s.state.ConversationID
	s.state = Reduce(s.state, e)
	st := s.state
	s.mu.Unlock()

	if pr, ok := e.(PageReceived); ok && pr.ConversationID != prev {
		s.logger.Debug("dropping page for inactive conversation",
			zap.String("conversation", pr.ConversationID),
			zap.String("active", prev),
		)
		return
	}

	c := Changed{ConversationID: st.ConversationID, Phase: st.Phase, Count: len(st.Messages)}
	if st.LastErr != nil {
		c.Err = st.LastErr.Error()
	}
	s.bus.Publish(bus.NewEvent(bus.KindTimelineUpdated, c))
}
