package events

import (
	"context"
	"testing"
	"time"
)

func recv(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatal("channel closed")
		}
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func TestLocalBusDeliversToTopicSubscribers(t *testing.T) {
	bus := NewLocalBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, _ := bus.Subscribe(ctx, "form-a")
	b, _ := bus.Subscribe(ctx, "form-b")

	ev, err := New("form-a", TypeProgress, map[string]int{"progress": 42})
	if err != nil {
		t.Fatal(err)
	}
	if err := bus.Publish(ctx, ev); err != nil {
		t.Fatalf("Publish error: %v", err)
	}

	got := recv(t, a)
	if got.Type != TypeProgress || string(got.Data) != `{"progress":42}` {
		t.Fatalf("unexpected event %+v", got)
	}
	select {
	case ev := <-b:
		t.Fatalf("form-b subscriber got %+v", ev)
	default:
	}
}

func TestLocalBusUnsubscribeOnCancel(t *testing.T) {
	bus := NewLocalBus()
	ctx, cancel := context.WithCancel(context.Background())
	ch, _ := bus.Subscribe(ctx, "form")
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}

	// publishing after the subscriber left must not panic
	ev, _ := New("form", TypeStage, "Persisted")
	if err := bus.Publish(context.Background(), ev); err != nil {
		t.Fatal(err)
	}
}

func TestLocalBusKeepsStageAndToastBehindProgress(t *testing.T) {
	bus := NewLocalBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, _ := bus.Subscribe(ctx, "form")

	// Nobody reads while the burst is published.
	for i := 0; i < progressBacklog+subscriberBuffer+100; i++ {
		ev, _ := New("form", TypeProgress, map[string]int{"progress": i})
		if err := bus.Publish(ctx, ev); err != nil {
			t.Fatal(err)
		}
	}
	toast, _ := New("form", TypeToast, map[string]string{"level": "success", "message": "Article added successfully"})
	stage, _ := New("form", TypeStage, map[string]string{"stage": "Persisted"})
	_ = bus.Publish(ctx, toast)
	_ = bus.Publish(ctx, stage)

	var got []Event
	for {
		ev := recv(t, ch)
		got = append(got, ev)
		if ev.Type == TypeStage {
			break
		}
	}
	if n := len(got); n < 2 || got[n-2].Type != TypeToast {
		t.Fatalf("toast missing before the stage event; got %d events", n)
	}
}

func TestSubscriberBacklogLimits(t *testing.T) {
	s := newSubscriber(func() {})
	progress, _ := New("form", TypeProgress, 1)
	stage, _ := New("form", TypeStage, "Uploading")

	for i := 0; i < progressBacklog; i++ {
		if !s.push(progress) {
			t.Fatalf("progress %d refused below the backlog", i)
		}
	}
	if s.push(progress) {
		t.Fatal("progress accepted past the backlog")
	}
	if !s.push(stage) {
		t.Fatal("stage refused while only progress is capped")
	}

	for len(s.queue) < maxBacklog {
		s.push(stage)
	}
	if s.push(stage) {
		t.Fatal("event accepted past maxBacklog")
	}

	if q := s.take(); len(q) != maxBacklog {
		t.Fatalf("take returned %d events", len(q))
	}
	if !s.push(progress) {
		t.Fatal("progress refused after the queue was drained")
	}
}

func TestLocalBusClose(t *testing.T) {
	bus := NewLocalBus()
	ch, _ := bus.Subscribe(context.Background(), "form")
	if err := bus.Close(); err != nil {
		t.Fatal(err)
	}
	if _, ok := <-ch; ok {
		t.Fatal("expected closed channel after Close")
	}
	late, _ := bus.Subscribe(context.Background(), "form")
	if _, ok := <-late; ok {
		t.Fatal("subscribe after Close should return a closed channel")
	}
}
