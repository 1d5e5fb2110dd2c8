package feed

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/wppsync/internal/bus"
	"github.com/matheus3301/wppsync/internal/channel"
)

// Live channel events owned by the feed.
const (
	EventGetList    = "chat:get-list"
	EventGetHistory = "chat:get-history"
	EventList       = "chat:list"
	EventHistory    = "chat:history"
	EventStatus     = "message:status"
)

// Channel is the part of channel.Manager the feed depends on.
type Channel interface {
	Emit(ctx context.Context, event string, data any) error
	On(event string, h channel.Handler)
}

type listRequest struct {
	AccountID string `json:"accountId"`
	Limit     int    `json:"limit"`
	Offset    int    `json:"offset"`
}

type historyRequest struct {
	ConversationID string `json:"conversationId"`
	Limit          int    `json:"limit"`
	Offset         int    `json:"offset"`
}

// Subscriber requests snapshots over the live channel and delivers the
// normalized pushes to one handler per event kind.
type Subscriber struct {
	ch     Channel
	bus    *bus.Bus
	logger *zap.Logger

	retryDelays []time.Duration
	sleep       func(ctx context.Context, d time.Duration) error

	mu        sync.Mutex
	onList    func(ListUpdate)
	onHistory func(HistoryUpdate)
	onStatus  func(StatusUpdate)
}

// NewSubscriber wires the push handlers onto ch.
func NewSubscriber(ch Channel, b *bus.Bus, logger *zap.Logger) *Subscriber {
	s := &Subscriber{
		ch:          ch,
		bus:         b,
		logger:      logger,
		retryDelays: []time.Duration{time.Second, 2 * time.Second, 3 * time.Second},
		sleep:       sleepCtx,
	}
	ch.On(EventList, s.handleList)
	ch.On(EventHistory, s.handleHistory)
	ch.On(EventStatus, s.handleStatus)
	return s
}

// RequestConversationList asks the gateway to push a chat list page. While
// the channel is down the emit is retried after 1s, 2s and 3s; after that
// ErrNotConnected is returned and the request is dropped.
func (s *Subscriber) RequestConversationList(ctx context.Context, accountID string, limit, offset int) error {
	return s.emitWithRetry(ctx, EventGetList, listRequest{AccountID: accountID, Limit: limit, Offset: offset})
}

// RequestHistory asks the gateway to push one page of a conversation's
// messages. Retries as RequestConversationList.
func (s *Subscriber) RequestHistory(ctx context.Context, conversationID string, limit, offset int) error {
	return s.emitWithRetry(ctx, EventGetHistory, historyRequest{ConversationID: conversationID, Limit: limit, Offset: offset})
}

// OnConversationListUpdate sets the chat list handler, replacing any previous one.
func (s *Subscriber) OnConversationListUpdate(h func(ListUpdate)) {
	s.mu.Lock()
	s.onList = h
	s.mu.Unlock()
}

// OnHistoryUpdate sets the history handler, replacing any previous one.
func (s *Subscriber) OnHistoryUpdate(h func(HistoryUpdate)) {
	s.mu.Lock()
	s.onHistory = h
	s.mu.Unlock()
}

// OnStatusUpdate sets the delivery status handler, replacing any previous one.
func (s *Subscriber) OnStatusUpdate(h func(StatusUpdate)) {
	s.mu.Lock()
	s.onStatus = h
	s.mu.Unlock()
}

func (s *Subscriber) emitWithRetry(ctx context.Context, event string, data any) error {
	err := s.ch.Emit(ctx, event, data)
	for i := 0; errors.Is(err, channel.ErrNotConnected) && i < len(s.retryDelays); i++ {
		if serr := s.sleep(ctx, s.retryDelays[i]); serr != nil {
			return serr
		}
		err = s.ch.Emit(ctx, event, data)
	}
	if errors.Is(err, channel.ErrNotConnected) {
		s.logger.Debug("live channel down, request dropped", zap.String("event", event))
	}
	return err
}

func (s *Subscriber) handleList(data json.RawMessage) {
	u := NormalizeConversationList(data)
	if u.FormatErr != nil {
		s.reportFormatError(u.FormatErr)
	}
	s.mu.Lock()
	h := s.onList
	s.mu.Unlock()
	if h != nil {
		h(u)
	}
}

// handleHistory drops updates it cannot attribute to a conversation.
func (s *Subscriber) handleHistory(data json.RawMessage) {
	u := NormalizeHistory(data)
	if u.FormatErr != nil {
		s.reportFormatError(u.FormatErr)
		return
	}
	s.mu.Lock()
	h := s.onHistory
	s.mu.Unlock()
	if h != nil {
		h(u)
	}
}

func (s *Subscriber) handleStatus(data json.RawMessage) {
	u, ok := NormalizeStatus(data)
	if !ok {
		s.reportFormatError(&FormatError{Event: EventStatus, Shape: describeRaw(data)})
		return
	}
	s.mu.Lock()
	h := s.onStatus
	s.mu.Unlock()
	if h != nil {
		h(u)
	}
}

func (s *Subscriber) reportFormatError(ferr *FormatError) {
	s.logger.Warn("unrecognized push payload", zap.String("event", ferr.Event), zap.String("shape", ferr.Shape))
	s.bus.Publish(bus.NewEvent(bus.KindFeedFormatError, ferr))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
