// Package events records what the batch engine does: an append-only JSONL log
// per run and a websocket stream of the same events
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Severity grades an event
type Severity string

const (
	SeverityInfo  Severity = "info"
	SeverityWarn  Severity = "warn"
	SeverityError Severity = "error"
)

// Event types emitted by the batch engine
const (
	TypeReportFailed      = "report.failed"
	TypeScopeViolation    = "scope.violation"
	TypeScopeRescoped     = "scope.rescoped"
	TypeValidatorBlocked  = "validator.blocked"
	TypeBudgetBreach      = "budget.breach"
	TypeMergeConflict     = "merge.conflict"
	TypeIntegrationDoctor = "integration_doctor.result"
	TypeDoctorCanary      = "doctor_canary.result"
	TypeFastForward       = "fast_forward.result"
	TypeDoctorRecheck     = "doctor.recheck"
	TypeLedgerWrite       = "ledger.write"
	TypeArchiveFailed     = "archive.failed"
	TypeCleanupFailed     = "cleanup.failed"
	TypeBatchComplete     = "batch.complete"
)

// Event is one entry of the run event log
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Severity  Severity       `json:"severity"`
	RunID     string         `json:"run_id"`
	BatchID   int            `json:"batch_id,omitempty"`
	TaskID    string         `json:"task_id,omitempty"`
	Message   string         `json:"message,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// New builds an info event with a fresh id and timestamp
func New(eventType, runID string, batchID int) Event {
	return Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Severity:  SeverityInfo,
		RunID:     runID,
		BatchID:   batchID,
		Timestamp: time.Now().UTC(),
	}
}

// Sink receives events. Emit must not block the caller for long and never fails;
// sinks log their own delivery problems.
type Sink interface {
	Emit(e Event)
}

// Multi fans events out to several sinks
type Multi []Sink

// Emit forwards e to every sink
func (m Multi) Emit(e Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(e)
		}
	}
}

// Discard drops every event
type Discard struct{}

// Emit does nothing
func (Discard) Emit(Event) {}

// Recorder keeps events in memory
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Emit stores e
func (r *Recorder) Emit(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of the recorded events
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// OfType returns the recorded events of one type
func (r *Recorder) OfType(eventType string) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}
