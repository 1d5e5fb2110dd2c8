package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("channel.", 10)
	defer unsub()

	b.Publish(NewEvent(KindChannelState, "connected"))

	select {
	case evt := <-ch:
		if evt.Kind != KindChannelState {
			t.Errorf("got kind %q, want %s", evt.Kind, KindChannelState)
		}
		if evt.Timestamp.IsZero() {
			t.Error("timestamp not set")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestNamespaceFiltering(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("chatlist.", 10)
	defer unsub()

	b.Publish(NewEvent(KindChannelState, nil))
	b.Publish(NewEvent(KindChatListUpdated, nil))

	select {
	case evt := <-ch:
		if evt.Kind != KindChatListUpdated {
			t.Errorf("got kind %q, want %s", evt.Kind, KindChatListUpdated)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	select {
	case evt := <-ch:
		t.Errorf("unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("channel.", 10)
	unsub()
	unsub()

	if n := b.Subscribers(); n != 0 {
		t.Fatalf("subscribers = %d, want 0", n)
	}

	b.Publish(NewEvent(KindChannelState, nil))

	select {
	case evt := <-ch:
		t.Errorf("received event after unsubscribe: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDropOnFullBuffer(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("message.", 1)
	defer unsub()

	b.Publish(NewEvent(KindMessageSendAck, "one"))
	b.Publish(NewEvent(KindMessageSendAck, "two"))

	evt := <-ch
	if evt.Payload != "one" {
		t.Errorf("got %v, want one", evt.Payload)
	}
	select {
	case evt := <-ch:
		t.Errorf("second event should have been dropped, got %v", evt)
	default:
	}
}

func TestNilBusPublish(t *testing.T) {
	var b *Bus
	b.Publish(NewEvent(KindChannelState, nil))
}
