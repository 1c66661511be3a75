// Package notify delivers user-facing messages: fire-and-forget toasts and
// blocking alerts.
package notify

import (
	"context"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/quillpress/articles/internal/events"
)

// Level is the toast severity.
type Level string

const (
	LevelSuccess Level = "success"
	LevelError   Level = "error"
	LevelWarning Level = "warning"
	LevelInfo    Level = "info"
)

// Notification is one toast.
type Notification struct {
	Level   Level  `json:"level"`
	Message string `json:"message"`
}

// Notifier shows a toast to whoever watches target (a form ID). Delivery
// failures are the notifier's problem, never the caller's.
type Notifier interface {
	Notify(ctx context.Context, target string, n Notification)
}

// Alerter shows a blocking message and returns once it has been delivered.
type Alerter interface {
	Alert(message string)
}

// AlertFunc adapts a function to Alerter.
type AlertFunc func(message string)

// Alert calls f(message).
func (f AlertFunc) Alert(message string) { f(message) }

// BusNotifier publishes toasts as events on the form's topic.
type BusNotifier struct {
	bus    events.Bus
	logger *zap.Logger
}

// NewBusNotifier creates a notifier backed by bus.
func NewBusNotifier(bus events.Bus, logger *zap.Logger) *BusNotifier {
	return &BusNotifier{bus: bus, logger: logger}
}

// Notify publishes a toast event; publish errors are logged.
func (n *BusNotifier) Notify(ctx context.Context, target string, msg Notification) {
	ev, err := events.New(target, events.TypeToast, msg)
	if err == nil {
		err = n.bus.Publish(ctx, ev)
	}
	if err != nil {
		n.logger.Warn("notify: toast not delivered",
			zap.String("target", target),
			zap.String("level", string(msg.Level)),
			zap.Error(err))
	}
}

// WriterAlerter prints alerts to w, one per line.
type WriterAlerter struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterAlerter creates an Alerter writing to w.
func NewWriterAlerter(w io.Writer) *WriterAlerter {
	return &WriterAlerter{w: w}
}

// Alert writes the message.
func (a *WriterAlerter) Alert(message string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	fmt.Fprintf(a.w, "alert: %s\n", message)
}

// LogNotifier writes toasts to the log instead of showing them.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a notifier that logs every toast.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify logs msg at a level matching its severity.
func (n *LogNotifier) Notify(_ context.Context, target string, msg Notification) {
	fields := []zap.Field{zap.String("target", target), zap.String("message", msg.Message)}
	switch msg.Level {
	case LevelError:
		n.logger.Error("toast", fields...)
	case LevelWarning:
		n.logger.Warn("toast", fields...)
	default:
		n.logger.Info("toast", fields...)
	}
}

// Multi fans a toast out to every notifier in order.
type Multi []Notifier

// Notify calls Notify on each notifier.
func (m Multi) Notify(ctx context.Context, target string, msg Notification) {
	for _, n := range m {
		n.Notify(ctx, target, msg)
	}
}
