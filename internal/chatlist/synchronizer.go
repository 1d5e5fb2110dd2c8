package chatlist

import (
	"context"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/matheus3301/wppsync/internal/bus"
	"github.com/matheus3301/wppsync/internal/feed"
	"github.com/matheus3301/wppsync/internal/model"
)

// Fetcher is the request/response side used for fallbacks and paging.
type Fetcher interface {
	FetchConversationPage(ctx context.Context, accountID string, limit, offset int) (model.Page[model.ConversationSummary], error)
	MarkRead(ctx context.Context, conversationID string) error
}

// Feed requests pushes over the live channel.
type Feed interface {
	RequestConversationList(ctx context.Context, accountID string, limit, offset int) error
}

// Liveness reports whether the live channel is up.
type Liveness interface {
	Connected() bool
}

// Changed is published on the bus after every state change.
type Changed struct {
	AccountID  string
	Phase      Phase
	Count      int
	Pagination *model.PaginationCursor
	Err        string
}

// Synchronizer owns the conversation list of one account. All mutation
// goes through Reduce under mu, in the order results arrive.
type Synchronizer struct {
	accountID string
	pageSize  int
	fetcher   Fetcher
	feed      Feed
	live      Liveness
	bus       *bus.Bus
	logger    *zap.Logger

	mu    sync.Mutex
	state State
}

// New creates an idle synchronizer for accountID.
func New(accountID string, pageSize int, f Fetcher, fd Feed, live Liveness, b *bus.Bus, logger *zap.Logger) *Synchronizer {
	return &Synchronizer{
		accountID: accountID,
		pageSize:  pageSize,
		fetcher:   f,
		feed:      fd,
		live:      live,
		bus:       b,
		logger:    logger.With(zap.String("account", accountID)),
		state:     State{Phase: PhaseIdle},
	}
}

// AccountID returns the account this list belongs to.
func (s *Synchronizer) AccountID() string {
	return s.accountID
}

// State returns a copy of the current state.
func (s *Synchronizer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state
	st.Conversations = slices.Clone(st.Conversations)
	return st
}

// Refresh reloads the first page. With the live channel up the page is
// requested as a push; otherwise, or if the request cannot be sent, it is
// fetched directly.
func (s *Synchronizer) Refresh(ctx context.Context) error {
	s.apply(RefreshRequested{})
	if s.live.Connected() {
		err := s.feed.RequestConversationList(ctx, s.accountID, s.pageSize, 0)
		if err == nil {
			return nil
		}
		s.logger.Debug("live list request failed, fetching instead", zap.Error(err))
	}
	return s.fetch(ctx, 0, true)
}

// LoadMore fetches and appends the next page. It is a no-op at the end of
// the list.
func (s *Synchronizer) LoadMore(ctx context.Context) error {
	s.mu.Lock()
	p := s.state.Pagination
	s.mu.Unlock()
	if !p.HasMore() {
		return nil
	}
	return s.fetch(ctx, p.Next(), true)
}

// MarkRead zeroes the unread count locally, then tells the gateway. A
// failed call is returned but the local change stays.
func (s *Synchronizer) MarkRead(ctx context.Context, conversationID string) error {
	s.apply(MarkedRead{ConversationID: conversationID})
	if err := s.fetcher.MarkRead(ctx, conversationID); err != nil {
		s.logger.Warn("mark read failed", zap.String("conversation", conversationID), zap.Error(err))
		return err
	}
	return nil
}

// Poll refetches the first page. Failures leave the state untouched.
func (s *Synchronizer) Poll(ctx context.Context) error {
	return s.fetch(ctx, 0, false)
}

// HandleFeedUpdate applies a normalized chat:list push.
func (s *Synchronizer) HandleFeedUpdate(u feed.ListUpdate) {
	if u.FormatErr != nil {
		s.apply(FormatErrored{Err: u.FormatErr})
		return
	}
	s.apply(PageReceived{
		Source: SourceLive,
		Page:   model.Page[model.ConversationSummary]{Items: u.Conversations, Pagination: u.Pagination},
	})
}

func (s *Synchronizer) fetch(ctx context.Context, offset int, recordFailure bool) error {
	page, err := s.fetcher.FetchConversationPage(ctx, s.accountID, s.pageSize, offset)
	if err != nil {
		if recordFailure {
			s.apply(FetchFailed{Err: err})
		}
		return err
	}
	s.apply(PageReceived{Source: SourceFetch, Page: page})
	return nil
}

func (s *Synchronizer) apply(e Event) {
	s.mu.Lock()
	s.state = Reduce(s.state, e)
	st := s.state
	s.mu.Unlock()

	c := Changed{
		AccountID:  s.accountID,
		Phase:      st.Phase,
		Count:      len(st.Conversations),
		Pagination: st.Pagination,
	}
	if st.LastErr != nil {
		c.Err = st.LastErr.Error()
	}
	s.bus.Publish(bus.NewEvent(bus.KindChatListUpdated, c))
}
