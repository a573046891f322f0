package notify

import (
	"errors"
	"fmt"
	"time"

	"github.com/hochfrequenz/claude-batch-orchestrator/internal/config"
	"github.com/hochfrequenz/claude-batch-orchestrator/internal/events"
	"github.com/hochfrequenz/claude-batch-orchestrator/internal/logging"
)

// NotificationType represents the type of notification
type NotificationType int

const (
	NotifyInfo NotificationType = iota
	NotifySuccess
	NotifyWarning
	NotifyError
)

// Notification represents a notification to be sent
type Notification struct {
	Title   string
	Message string
	Type    NotificationType
	RunID   string // Optional run reference
	BatchID int    // Optional batch reference
	TaskID  string // Optional task reference
	At      time.Time
}

// Notifier is the interface for sending notifications
type Notifier interface {
	Send(n Notification) error
}

// MultiNotifier sends to multiple notifiers
type MultiNotifier struct {
	notifiers []Notifier
}

// NewMultiNotifier creates a notifier that sends to all provided notifiers
func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

// Send sends the notification to all notifiers and joins their errors
func (m *MultiNotifier) Send(n Notification) error {
	var errs []error
	for _, notifier := range m.notifiers {
		if err := notifier.Send(n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NoopNotifier does nothing (for testing or disabled notifications)
type NoopNotifier struct{}

func (NoopNotifier) Send(n Notification) error { return nil }

// FromConfig builds the notifiers enabled in config
func FromConfig(cfg config.NotificationsConfig) Notifier {
	var ns []Notifier
	if cfg.Desktop {
		ns = append(ns, NewDesktopNotifier())
	}
	if cfg.SlackWebhook != "" {
		ns = append(ns, NewSlackNotifier(cfg.SlackWebhook))
	}
	if len(ns) == 0 {
		return NoopNotifier{}
	}
	return NewMultiNotifier(ns...)
}

// EventSink turns batch completions and error events into notifications
type EventSink struct {
	notifier Notifier
	logger   *logging.Logger
}

// NewEventSink wraps a Notifier as an events.Sink
func NewEventSink(n Notifier, logger *logging.Logger) *EventSink {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &EventSink{notifier: n, logger: logger}
}

// Emit sends a notification for batch.complete and error-severity events
func (s *EventSink) Emit(e events.Event) {
	n, ok := FromEvent(e)
	if !ok {
		return
	}
	if err := s.notifier.Send(n); err != nil {
		s.logger.Warn("notification failed", "type", e.Type, "error", err)
	}
}

// FromEvent maps an event to a notification, if it warrants one
func FromEvent(e events.Event) (Notification, bool) {
	n := Notification{RunID: e.RunID, BatchID: e.BatchID, TaskID: e.TaskID, Message: e.Message, At: e.Timestamp}
	switch {
	case e.Type == events.TypeBatchComplete:
		status, _ := e.Data["status"].(string)
		n.Title = fmt.Sprintf("Batch %d %s", e.BatchID, status)
		n.Type = NotifySuccess
		if status != "complete" {
			n.Type = NotifyError
		}
	case e.Severity == events.SeverityError:
		n.Title = fmt.Sprintf("Batch %d: %s", e.BatchID, e.Type)
		n.Type = NotifyError
	default:
		return Notification{}, false
	}
	return n, true
}
