// Package outbox implements the transactional outbox: domain events are
// appended in the same unit of work as the state change they describe, and
// a separate relay later hands them to external sinks.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event types recorded by the engine.
const (
	BedAdded            = "bed.added"
	AdmissionAdmitted   = "admission.admitted"
	AdmissionReassigned = "admission.reassigned"
	AdmissionDischarged = "admission.discharged"
	RecordCreated       = "record.created"
	PrescriptionCreated = "prescription.created"
	StockAdjusted       = "stock.adjusted"
	TaskClaimed         = "task.claimed"
	TaskStatusChanged   = "task.status_changed"
	LabResultRecorded   = "lab.result_recorded"
	BillGenerated       = "bill.generated"
	PaymentReceived     = "payment.received"
	AssignmentCreated   = "assignment.created"
	AssignmentEnded     = "assignment.ended"
)

type Event struct {
	ID            uuid.UUID       `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   uuid.UUID       `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	CreatedAt     time.Time       `json:"created_at"`
	PublishedAt   *time.Time      `json:"published_at,omitempty"`
	Attempts      int             `json:"attempts"`
	LastError     *string         `json:"last_error,omitempty"`
}

// Key is the partition key sinks use so events of one aggregate stay ordered.
func (e *Event) Key() string {
	return e.AggregateType + "-" + e.AggregateID.String()
}

// NewEvent marshals payload into a new unpublished event.
func NewEvent(aggregateType string, aggregateID uuid.UUID, eventType string, payload interface{}) (*Event, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return &Event{
		ID:            uuid.New(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       b,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

// Recorder appends an event inside the unit of work carried by ctx.
type Recorder interface {
	Record(ctx context.Context, e *Event) error
}

// Emit builds and records an event in one step.
func Emit(ctx context.Context, r Recorder, aggregateType string, aggregateID uuid.UUID, eventType string, payload interface{}) error {
	e, err := NewEvent(aggregateType, aggregateID, eventType, payload)
	if err != nil {
		return err
	}
	if err := r.Record(ctx, e); err != nil {
		return fmt.Errorf("record %s event: %w", eventType, err)
	}
	return nil
}

// Discard drops every event. Services default to it when no outbox is wired.
type Discard struct{}

func (Discard) Record(context.Context, *Event) error { return nil }

// Store is the relay's view of the outbox table.
type Store interface {
	Recorder
	// ClaimPending returns up to limit unpublished events with fewer than
	// maxAttempts failures, locking them for the caller's unit of work.
	ClaimPending(ctx context.Context, limit, maxAttempts int) ([]*Event, error)
	MarkPublished(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
	PendingCount(ctx context.Context) (int, error)
}
