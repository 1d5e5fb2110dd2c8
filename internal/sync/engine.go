package sync

import (
	"context"
	gosync "sync"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/wppsync/internal/bus"
	"github.com/matheus3301/wppsync/internal/history"
	"github.com/matheus3301/wppsync/internal/status"
	"github.com/matheus3301/wppsync/internal/timeline"
)

// Mode is how the engine keeps lists fresh.
type Mode string

const (
	ModePolling Mode = "polling"
	ModeLive    Mode = "live"
)

// Poll keys used with the history poller.
const (
	pollChats    = "chats"
	pollTimeline = "timeline"
)

// ChatList is the conversation list side the engine drives.
type ChatList interface {
	Refresh(ctx context.Context) error
	Poll(ctx context.Context) error
}

// Timeline is the message history side the engine drives.
type Timeline interface {
	Open(ctx context.Context, conversationID string) error
	Poll(ctx context.Context) error
}

// ModeChange is the payload of sync.mode_changed events.
type ModeChange struct {
	From Mode
	To   Mode
}

// Engine switches between the live feed and request/response polling as
// the channel state changes. It subscribes to "channel." and "timeline."
// events on the bus.
type Engine struct {
	chats       ChatList
	timeline    Timeline
	poller      *history.Poller
	checkpoints *Reconciler
	bus         *bus.Bus
	logger      *zap.Logger
	cancel      context.CancelFunc

	mu   gosync.Mutex
	mode Mode
}

// NewEngine creates a new sync engine. checkpoints may be nil.
func NewEngine(chats ChatList, tl Timeline, poller *history.Poller, checkpoints *Reconciler, b *bus.Bus, logger *zap.Logger) *Engine {
	return &Engine{
		chats:       chats,
		timeline:    tl,
		poller:      poller,
		checkpoints: checkpoints,
		bus:         b,
		logger:      logger,
	}
}

// Start begins in polling mode, since the channel starts disconnected, and
// follows channel state changes until Stop.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	states, unsubStates := e.bus.Subscribe("channel.", 64)
	timelines, unsubTimelines := e.bus.Subscribe("timeline.", 64)

	e.goPolling(ctx)

	go func() {
		defer unsubStates()
		defer unsubTimelines()
		for {
			select {
			case evt := <-states:
				e.handleState(ctx, evt)
			case evt := <-timelines:
				e.handleTimeline(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the engine and every poll loop.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.poller.StopAll()
}

// Mode returns the current freshness mode.
func (e *Engine) Mode() Mode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mode
}

// Restore reopens the conversation that was active when the daemon last
// ran. Its timeline is fetched again, never read from disk.
func (e *Engine) Restore(ctx context.Context) error {
	if e.checkpoints == nil {
		return nil
	}
	id, err := e.checkpoints.ActiveConversation()
	if err != nil || id == "" {
		return err
	}
	e.logger.Info("restoring active conversation", zap.String("conversation", id))
	return e.timeline.Open(ctx, id)
}

func (e *Engine) handleState(ctx context.Context, evt bus.Event) {
	change, ok := evt.Payload.(status.Change)
	if !ok {
		return
	}
	switch change.To {
	case status.Connected:
		e.goLive(ctx)
	case status.Disconnected, status.Error:
		e.goPolling(ctx)
	}
}

func (e *Engine) handleTimeline(evt bus.Event) {
	c, ok := evt.Payload.(timeline.Changed)
	if !ok || e.checkpoints == nil || c.ConversationID == "" {
		return
	}
	if err := e.checkpoints.SaveActiveConversation(c.ConversationID); err != nil {
		e.logger.Error("failed to save active conversation", zap.Error(err))
	}
}

func (e *Engine) goLive(ctx context.Context) {
	if !e.setMode(ModeLive) {
		return
	}
	e.poller.Stop(pollChats)
	e.poller.Stop(pollTimeline)
	if e.checkpoints != nil {
		if err := e.checkpoints.MarkConnected(time.Now()); err != nil {
			e.logger.Error("failed to record connection time", zap.Error(err))
		}
	}
	go func() {
		if err := e.chats.Refresh(ctx); err != nil {
			e.logger.Warn("refresh after reconnect failed", zap.Error(err))
		}
	}()
}

func (e *Engine) goPolling(ctx context.Context) {
	if !e.setMode(ModePolling) {
		return
	}
	e.poller.Start(ctx, pollChats, e.chats.Poll)
	e.poller.Start(ctx, pollTimeline, e.timeline.Poll)
}

// setMode reports whether the mode actually changed.
func (e *Engine) setMode(m Mode) bool {
	e.mu.Lock()
	from := e.mode
	if from == m {
		e.mu.Unlock()
		return false
	}
	e.mode = m
	e.mu.Unlock()

	e.logger.Info("sync mode changed", zap.String("from", string(from)), zap.String("to", string(m)))
	e.bus.Publish(bus.NewEvent(bus.KindEngineModeChange, ModeChange{From: from, To: m}))
	return true
}
