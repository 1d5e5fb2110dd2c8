package feed

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/wppsync/internal/bus"
	"github.com/matheus3301/wppsync/internal/channel"
)

type emitted struct {
	event string
	data  any
}

// fakeChannel fails the first `down` emits with ErrNotConnected.
type fakeChannel struct {
	mu       sync.Mutex
	down     int
	emits    []emitted
	handlers map[string]channel.Handler
}

func newFakeChannel(down int) *fakeChannel {
	return &fakeChannel{down: down, handlers: map[string]channel.Handler{}}
}

func (c *fakeChannel) Emit(_ context.Context, event string, data any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.emits = append(c.emits, emitted{event, data})
	if c.down > 0 {
		c.down--
		return channel.ErrNotConnected
	}
	return nil
}

func (c *fakeChannel) On(event string, h channel.Handler) {
	c.mu.Lock()
	c.handlers[event] = h
	c.mu.Unlock()
}

func (c *fakeChannel) push(event, raw string) {
	c.mu.Lock()
	h := c.handlers[event]
	c.mu.Unlock()
	h(json.RawMessage(raw))
}

func newTestSubscriber(ch *fakeChannel) (*Subscriber, *[]time.Duration) {
	s := NewSubscriber(ch, bus.New(), zap.NewNop())
	var slept []time.Duration
	s.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return s, &slept
}

func TestRequestConversationListEmits(t *testing.T) {
	ch := newFakeChannel(0)
	s, slept := newTestSubscriber(ch)

	if err := s.RequestConversationList(context.Background(), "42", 50, 0); err != nil {
		t.Fatalf("RequestConversationList: %v", err)
	}
	if len(ch.emits) != 1 || ch.emits[0].event != EventGetList {
		t.Fatalf("emits = %+v", ch.emits)
	}
	if req := ch.emits[0].data.(listRequest); req != (listRequest{AccountID: "42", Limit: 50, Offset: 0}) {
		t.Errorf("request = %+v", req)
	}
	if len(*slept) != 0 {
		t.Errorf("slept %v on a connected channel", *slept)
	}
}

func TestRequestRetriesWhileDisconnected(t *testing.T) {
	ch := newFakeChannel(2)
	s, slept := newTestSubscriber(ch)

	if err := s.RequestHistory(context.Background(), "c1", 50, 0); err != nil {
		t.Fatalf("RequestHistory: %v", err)
	}
	if len(ch.emits) != 3 {
		t.Errorf("emits = %d, want 3", len(ch.emits))
	}
	want := []time.Duration{time.Second, 2 * time.Second}
	if len(*slept) != 2 || (*slept)[0] != want[0] || (*slept)[1] != want[1] {
		t.Errorf("slept = %v, want %v", *slept, want)
	}
}

func TestRequestGivesUpAfterThreeRetries(t *testing.T) {
	ch := newFakeChannel(100)
	s, slept := newTestSubscriber(ch)

	err := s.RequestConversationList(context.Background(), "42", 50, 0)
	if !errors.Is(err, channel.ErrNotConnected) {
		t.Fatalf("err = %v, want ErrNotConnected", err)
	}
	if len(ch.emits) != 4 {
		t.Errorf("emits = %d, want 4", len(ch.emits))
	}
	if len(*slept) != 3 || (*slept)[2] != 3*time.Second {
		t.Errorf("slept = %v, want [1s 2s 3s]", *slept)
	}
}

func TestRequestStopsOnCancel(t *testing.T) {
	ch := newFakeChannel(100)
	s := NewSubscriber(ch, bus.New(), zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := s.RequestConversationList(ctx, "42", 50, 0); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(ch.emits) != 1 {
		t.Errorf("emits = %d, want 1", len(ch.emits))
	}
}

func TestListHandlerReplaced(t *testing.T) {
	ch := newFakeChannel(0)
	s, _ := newTestSubscriber(ch)

	var first, second int
	s.OnConversationListUpdate(func(ListUpdate) { first++ })
	s.OnConversationListUpdate(func(ListUpdate) { second++ })
	ch.push(EventList, `[{"id":"a"}]`)

	if first != 0 || second != 1 {
		t.Errorf("first = %d, second = %d; want 0, 1", first, second)
	}
}

func TestUnrecognizedListReportsFormatError(t *testing.T) {
	ch := newFakeChannel(0)
	b := bus.New()
	s := NewSubscriber(ch, b, zap.NewNop())
	events, unsub := b.Subscribe("feed.", 4)
	defer unsub()

	var got ListUpdate
	calls := 0
	s.OnConversationListUpdate(func(u ListUpdate) { got = u; calls++ })
	ch.push(EventList, `{"foo":"bar"}`)

	if calls != 1 {
		t.Fatalf("handler calls = %d, want 1", calls)
	}
	if got.FormatErr == nil || len(got.Conversations) != 0 {
		t.Errorf("update = %+v, want empty with format error", got)
	}
	select {
	case evt := <-events:
		if evt.Kind != bus.KindFeedFormatError {
			t.Errorf("event kind = %s", evt.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("no format error event")
	}
}

func TestHistoryAndStatusDispatch(t *testing.T) {
	ch := newFakeChannel(0)
	s, _ := newTestSubscriber(ch)

	var hist []HistoryUpdate
	var stat []StatusUpdate
	s.OnHistoryUpdate(func(u HistoryUpdate) { hist = append(hist, u) })
	s.OnStatusUpdate(func(u StatusUpdate) { stat = append(stat, u) })

	ch.push(EventHistory, `{"conversationId":"c1","data":[{"id":"m1"}]}`)
	ch.push(EventHistory, `{"data":[{"id":"m1"}]}`)
	ch.push(EventStatus, `{"serverMessageId":"s1","status":"read"}`)
	ch.push(EventStatus, `{"serverMessageId":"s1","status":"??"}`)

	if len(hist) != 1 || hist[0].ConversationID != "c1" {
		t.Errorf("history updates = %+v", hist)
	}
	if len(stat) != 1 || stat[0].ServerMessageID != "s1" {
		t.Errorf("status updates = %+v", stat)
	}
}
