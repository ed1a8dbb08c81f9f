package notifier

import (
	"testing"
	"time"
)

type blockingSink struct{}

func (blockingSink) Notify(Event) bool { return false }

func TestPublishDropsWhenSinkRejects(t *testing.T) {
	t.Parallel()
	r := New()
	r.Register("blocking", blockingSink{})

	r.Publish(Event{Kind: EventRisk, Message: "rejected"})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if r.DroppedEvents() == 1 {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("DroppedEvents = %d, want 1", r.DroppedEvents())
}

func TestChanSinkDropsWhenFull(t *testing.T) {
	t.Parallel()
	sink := NewChanSink(1)
	if !sink.Notify(Event{Kind: EventOpportunity}) {
		t.Fatal("first notify should be accepted")
	}
	if sink.Notify(Event{Kind: EventOpportunity}) {
		t.Fatal("second notify should be dropped: channel full")
	}
	<-sink.Events()
}

func TestTelegramSinkNilSendDrops(t *testing.T) {
	t.Parallel()
	sink := NewTelegramSink(nil)
	if sink.Notify(Event{Kind: EventSummary}) {
		t.Fatal("unconfigured telegram sink must drop")
	}
}

func TestUnregisterStopsDelivery(t *testing.T) {
	t.Parallel()
	r := New()
	ch := NewChanSink(4)
	r.Register("chan", ch)
	r.Unregister("chan")

	r.Publish(Event{Kind: EventSummary})
	select {
	case <-ch.Events():
		t.Fatal("unregistered sink should not receive events")
	case <-time.After(50 * time.Millisecond):
	}
}
