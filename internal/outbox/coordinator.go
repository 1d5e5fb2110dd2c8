package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/matheus3301/wppsync/internal/bus"
	"github.com/matheus3301/wppsync/internal/model"
	"github.com/matheus3301/wppsync/internal/store"
)

// Gateway is the request/response send endpoint.
type Gateway interface {
	SendMessage(ctx context.Context, sessionID, to, body string) (model.SentMessage, error)
}

// Timeline receives the optimistic record and its outcome.
type Timeline interface {
	InsertOptimistic(conversationID string, rec model.MessageRecord)
	ConfirmSend(localID string, sent model.SentMessage)
	FailSend(localID string)
}

// Ack is the payload of a message.send_ack event.
type Ack struct {
	LocalID         string
	ConversationID  string
	ServerMessageID string
}

// Failure is the payload of a message.send_failed event.
type Failure struct {
	LocalID        string
	ConversationID string
	Kind           FailureKind
	Error          string
}

// Outcome reports one coordinated send.
type Outcome struct {
	LocalID string
	Sent    model.SentMessage
	Failure FailureKind
}

// Coordinator submits outbound messages over the request/response path and
// keeps the timeline and the send journal in step with the result.
type Coordinator struct {
	gw       Gateway
	sessions SessionResolver
	timeline Timeline
	db       *store.DB
	bus      *bus.Bus
	logger   *zap.Logger

	now   func() time.Time
	newID func() string
}

// NewCoordinator creates a coordinator. db may be nil to skip journaling.
func NewCoordinator(gw Gateway, sessions SessionResolver, tl Timeline, db *store.DB, b *bus.Bus, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		gw:       gw,
		sessions: sessions,
		timeline: tl,
		db:       db,
		bus:      b,
		logger:   logger,
		now:      time.Now,
		newID:    func() string { return "local-" + uuid.NewString() },
	}
}

// Send submits one message through sessionID. An empty sessionID fails
// with ErrMissingSessionID before any request is made.
func (c *Coordinator) Send(ctx context.Context, sessionID, to, body string) (model.SentMessage, error) {
	if sessionID == "" {
		return model.SentMessage{}, ErrMissingSessionID
	}
	sent, err := c.gw.SendMessage(ctx, sessionID, to, body)
	if err != nil {
		return model.SentMessage{}, fmt.Errorf("send to %s: %w", to, err)
	}
	return sent, nil
}

// SendText is the full outbound flow for one conversation: show a
// provisional record, resolve the account's session, send, then confirm or
// fail the record. A failed record stays in the timeline marked FAILED.
func (c *Coordinator) SendText(ctx context.Context, accountID, conversationID, to, body string) (Outcome, error) {
	out := Outcome{LocalID: c.newID()}
	log := c.logger.With(zap.String("local_id", out.LocalID), zap.String("conversation", conversationID))

	c.timeline.InsertOptimistic(conversationID, model.MessageRecord{
		ID:             out.LocalID,
		BodyText:       body,
		ContentKind:    model.ContentText,
		IsOutbound:     true,
		DeliveryStatus: model.StatusPending,
		OccurredAt:     c.now(),
	})
	c.journal(log, func(db *store.DB) error {
		return db.QueueOutbox(store.OutboxEntry{
			ClientMsgID:    out.LocalID,
			AccountID:      accountID,
			ConversationID: conversationID,
			Recipient:      to,
			Body:           body,
		})
	})

	sessionID, err := c.sessions.SessionFor(ctx, accountID)
	if err != nil {
		return c.fail(log, out, conversationID, fmt.Errorf("resolve session for %s: %w", accountID, err))
	}
	if sessionID != "" {
		c.journal(log, func(db *store.DB) error { return db.MarkOutboxSending(out.LocalID, sessionID) })
	}

	sent, err := c.Send(ctx, sessionID, to, body)
	if err != nil {
		return c.fail(log, out, conversationID, err)
	}

	out.Sent = sent
	c.timeline.ConfirmSend(out.LocalID, sent)
	c.journal(log, func(db *store.DB) error { return db.MarkOutboxSent(out.LocalID, sent.ServerMessageID) })
	log.Info("message sent", zap.String("server_msg_id", sent.ServerMessageID))
	c.bus.Publish(bus.NewEvent(bus.KindMessageSendAck, Ack{
		LocalID:         out.LocalID,
		ConversationID:  conversationID,
		ServerMessageID: sent.ServerMessageID,
	}))
	return out, nil
}

// RecoverInterrupted fails every send a previous run left queued or
// sending. Their outcome is unknown, so they are never resent.
func (c *Coordinator) RecoverInterrupted() (int, error) {
	if c.db == nil {
		return 0, nil
	}
	entries, err := c.db.InterruptedOutbox()
	if err != nil {
		return 0, fmt.Errorf("list interrupted sends: %w", err)
	}
	for _, e := range entries {
		if err := c.db.MarkOutboxFailed(e.ClientMsgID, string(FailureInterrupted), "daemon stopped before the send resolved"); err != nil {
			return 0, fmt.Errorf("fail interrupted send %s: %w", e.ClientMsgID, err)
		}
		c.logger.Warn("interrupted send marked failed",
			zap.String("local_id", e.ClientMsgID),
			zap.String("conversation", e.ConversationID),
			zap.String("was", e.Status))
	}
	return len(entries), nil
}

// Outbound returns the journaled sends of a conversation, newest first.
func (c *Coordinator) Outbound(conversationID string, limit int) ([]store.OutboxEntry, error) {
	if c.db == nil {
		return nil, nil
	}
	return c.db.OutboxForConversation(conversationID, limit)
}

func (c *Coordinator) fail(log *zap.Logger, out Outcome, conversationID string, err error) (Outcome, error) {
	out.Failure = Classify(err)
	c.timeline.FailSend(out.LocalID)
	c.journal(log, func(db *store.DB) error { return db.MarkOutboxFailed(out.LocalID, string(out.Failure), err.Error()) })
	log.Warn("message send failed", zap.String("kind", string(out.Failure)), zap.Error(err))
	c.bus.Publish(bus.NewEvent(bus.KindMessageSendFail, Failure{
		LocalID:        out.LocalID,
		ConversationID: conversationID,
		Kind:           out.Failure,
		Error:          err.Error(),
	}))
	return out, err
}

// journal writes are best effort; the send result is authoritative.
func (c *Coordinator) journal(log *zap.Logger, fn func(*store.DB) error) {
	if c.db == nil {
		return
	}
	if err := fn(c.db); err != nil {
		log.Error("send journal write failed", zap.Error(err))
	}
}
