// Package events carries intake workflow events to the in-process dashboard,
// websocket subscribers and, when configured, an AMQP exchange.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event types emitted by the intake workflow.
const (
	TypeImageCaptured       = "intake.image_captured"
	TypeExtractionProgress  = "intake.extraction_progress"
	TypeExtractionCompleted = "intake.extraction_completed"
	TypeExtractionFailed    = "intake.extraction_failed"
	TypeDraftConfirmed      = "intake.draft_confirmed"
	TypePatientMatched      = "intake.patient_matched"
	TypePatientUnmatched    = "intake.patient_unmatched"
	TypePatientRegistered   = "patient.registered"
	TypeMedicalInfoSaved    = "patient.medical_information_saved"
	TypeSessionDiscarded    = "intake.session_discarded"
)

// Event is a single workflow notification.
type Event struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	SessionID   string          `json:"session_id,omitempty"`
	PatientID   string          `json:"patient_id,omitempty"`
	PatientName string          `json:"patient_name,omitempty"`
	Actor       string          `json:"actor,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
	Data        json.RawMessage `json:"data,omitempty"`
}

// New builds an event with a fresh id and timestamp. data is marshalled to
// JSON; a nil data leaves the payload empty.
func New(eventType, sessionID string, data interface{}) Event {
	e := Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		SessionID: sessionID,
		Timestamp: time.Now().UTC(),
	}
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			e.Data = b
		}
	}
	return e
}

// Topic is the websocket topic an event is broadcast on.
func (e Event) Topic() string {
	if e.SessionID == "" {
		return DashboardTopic
	}
	return SessionTopic(e.SessionID)
}

// DashboardTopic is the websocket topic shared by every operator.
const DashboardTopic = "dashboard"

// SessionTopic names the websocket topic for one intake session.
func SessionTopic(sessionID string) string {
	return "intake:" + sessionID
}

// Publisher delivers events to a sink.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Multi fans an event out to every publisher and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, event Event) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Handler consumes events delivered through a Bus.
type Handler func(ctx context.Context, event Event)

// Bus delivers events synchronously to in-process subscribers.
type Bus struct {
	mu       sync.RWMutex
	handlers []Handler
}

func NewBus() *Bus {
	return &Bus{}
}

func (b *Bus) Subscribe(h Handler) {
	b.mu.Lock()
	b.handlers = append(b.handlers, h)
	b.mu.Unlock()
}

func (b *Bus) Publish(ctx context.Context, event Event) error {
	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	for _, h := range handlers {
		h(ctx, event)
	}
	return nil
}
