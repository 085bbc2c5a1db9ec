package eventbus

import (
	"testing"
	"time"
)

func TestPublishFanOut(t *testing.T) {
	b := New()
	a, unsubA := b.Subscribe(4)
	c, unsubC := b.Subscribe(4)
	defer unsubA()
	defer unsubC()

	b.Publish(Event{Type: TypeRelaySucceeded, Data: RelayOutcome{AvatarID: "avtr_x", Status: 200}})

	for _, ch := range []<-chan Event{a, c} {
		select {
		case e := <-ch:
			if e.Type != TypeRelaySucceeded || e.Time.IsZero() {
				t.Fatalf("unexpected event %+v", e)
			}
			if out, ok := e.Data.(RelayOutcome); !ok || out.AvatarID != "avtr_x" {
				t.Fatalf("unexpected payload %#v", e.Data)
			}
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}
}

func TestPublishDropsForSlowSubscriber(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: "one"})
	b.Publish(Event{Type: "two"}) // dropped, buffer full

	if e := <-ch; e.Type != "one" {
		t.Fatalf("got %q, want one", e.Type)
	}
	select {
	case e := <-ch:
		t.Fatalf("unexpected second event %q", e.Type)
	default:
	}
}

func TestPublishAfterUnsubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub() // idempotent

	b.Publish(Event{Type: "late"})
	if _, ok := <-ch; ok {
		t.Fatal("expected closed channel")
	}
}
