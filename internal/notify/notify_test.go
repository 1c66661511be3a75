package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/quillpress/articles/internal/events"
)

func TestBusNotifierPublishesToast(t *testing.T) {
	bus := events.NewLocalBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, _ := bus.Subscribe(ctx, "form-1")

	NewBusNotifier(bus, zap.NewNop()).Notify(ctx, "form-1", Notification{Level: LevelSuccess, Message: "Article added successfully"})

	select {
	case ev := <-ch:
		if ev.Type != events.TypeToast {
			t.Fatalf("type = %q, want toast", ev.Type)
		}
		var n Notification
		if err := json.Unmarshal(ev.Data, &n); err != nil {
			t.Fatal(err)
		}
		if n.Level != LevelSuccess || n.Message != "Article added successfully" {
			t.Fatalf("unexpected notification %+v", n)
		}
	case <-time.After(time.Second):
		t.Fatal("no toast event")
	}
}

type failingBus struct{ events.Bus }

func (failingBus) Publish(context.Context, events.Event) error { return errors.New("redis down") }

func TestBusNotifierLogsPublishFailure(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	NewBusNotifier(failingBus{}, zap.New(core)).Notify(context.Background(), "form-1", Notification{Level: LevelError, Message: "x"})

	if logs.FilterMessage("notify: toast not delivered").Len() != 1 {
		t.Fatal("expected a warning for the failed publish")
	}
}

func TestWriterAlerter(t *testing.T) {
	var buf bytes.Buffer
	var a Alerter = NewWriterAlerter(&buf)
	a.Alert("Please fill all the fields")
	if buf.String() != "alert: Please fill all the fields\n" {
		t.Fatalf("output = %q", buf.String())
	}
}

func TestAlertFunc(t *testing.T) {
	var got string
	AlertFunc(func(m string) { got = m }).Alert("hi")
	if got != "hi" {
		t.Fatalf("got %q", got)
	}
}

func TestLogNotifierLevels(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	n := NewLogNotifier(zap.New(core))

	n.Notify(context.Background(), "f", Notification{Level: LevelSuccess, Message: "ok"})
	n.Notify(context.Background(), "f", Notification{Level: LevelError, Message: "bad"})

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].Level != zap.InfoLevel || entries[1].Level != zap.ErrorLevel {
		t.Errorf("levels = %v, %v", entries[0].Level, entries[1].Level)
	}
	if entries[1].ContextMap()["message"] != "bad" {
		t.Errorf("fields = %v", entries[1].ContextMap())
	}
}

type recordingNotifier struct{ got []Notification }

func (r *recordingNotifier) Notify(_ context.Context, _ string, n Notification) {
	r.got = append(r.got, n)
}

func TestMultiFansOut(t *testing.T) {
	a, b := &recordingNotifier{}, &recordingNotifier{}
	Multi{a, b}.Notify(context.Background(), "f", Notification{Level: LevelInfo, Message: "m"})
	if len(a.got) != 1 || len(b.got) != 1 {
		t.Fatalf("a=%v b=%v", a.got, b.got)
	}
}
