package events

import (
	"sync"
	"testing"
	"time"
)

func TestNilBus(t *testing.T) {
	var b *Bus
	b.Publish(Event{Source: SourceAgent, Kind: KindTurnStart})
	b.Emit(SourceAgent, KindTurnStart, "alice", nil)
	if got := b.SubscriberCount(); got != 0 {
		t.Errorf("SubscriberCount() on nil bus = %d, want 0", got)
	}
}

func TestPublishStampsTime(t *testing.T) {
	b := New()
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	b.now = func() time.Time { return fixed }

	ch := b.Subscribe(1, nil)
	defer b.Unsubscribe(ch)

	b.Emit(SourceDialog, KindQuestion, "alice", map[string]any{"field": "salary"})
	select {
	case got := <-ch:
		if !got.Timestamp.Equal(fixed) {
			t.Errorf("Timestamp = %v, want %v", got.Timestamp, fixed)
		}
		if got.Data["field"] != "salary" || got.Subject != "alice" {
			t.Errorf("event = %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestSubjectFilter(t *testing.T) {
	b := New()
	alice := b.Subscribe(4, ForSubject("alice"))
	all := b.Subscribe(4, nil)
	defer b.Unsubscribe(alice)
	defer b.Unsubscribe(all)

	b.Emit(SourceAgent, KindTurnStart, "bob", nil)
	b.Emit(SourceAgent, KindTurnStart, "alice", nil)

	if got := len(alice); got != 1 {
		t.Errorf("alice received %d events, want 1", got)
	}
	if got := len(all); got != 2 {
		t.Errorf("unfiltered received %d events, want 2", got)
	}
}

func TestSlowSubscriberDropsEvents(t *testing.T) {
	b := New()
	ch := b.Subscribe(1, nil)
	defer b.Unsubscribe(ch)

	for range 10 {
		b.Emit(SourceAgent, KindToolCall, "alice", nil)
	}
	if got := len(ch); got != 1 {
		t.Errorf("buffered = %d, want 1", got)
	}
}

func TestUnsubscribeClosesAndIsIdempotent(t *testing.T) {
	b := New()
	ch := b.Subscribe(1, nil)
	b.Unsubscribe(ch)
	b.Unsubscribe(ch)

	if _, ok := <-ch; ok {
		t.Error("channel should be closed")
	}
	if b.SubscriberCount() != 0 {
		t.Errorf("SubscriberCount() = %d, want 0", b.SubscriberCount())
	}
}

func TestConcurrentPublish(t *testing.T) {
	b := New()
	ch := b.Subscribe(1000, nil)
	defer b.Unsubscribe(ch)

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				b.Emit(SourceAgent, KindNodeEnter, "alice", nil)
			}
		}()
	}
	wg.Wait()
	if got := len(ch); got != 500 {
		t.Errorf("received %d events, want 500", got)
	}
}
