// Package booking implements the conversational appointment-booking
// engine: deterministic field extraction over inbound message fragments,
// a per-conversation dialogue state machine, and the durable session
// state that carries a booking from first contact to a confirmed
// calendar reservation.
package booking

import (
	"crypto/sha1"
	"encoding/hex"
	"time"
)

// Step identifies the dialogue position of a session.
type Step string

const (
	StepCollectIdentity     Step = "collect_identity"
	StepCollectService      Step = "collect_service"
	StepCollectProfessional Step = "collect_professional"
	StepCollectDatetime     Step = "collect_datetime"
	StepAwaitConfirmation   Step = "await_confirmation"
	StepCompleted           Step = "completed"
	StepAbandoned           Step = "abandoned"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

// Field names one collectable booking field.
type Field string

const (
	FieldPatientName  Field = "patient_name"
	FieldPatientPhone Field = "patient_phone"
	FieldService      Field = "service"
	FieldProfessional Field = "professional"
	FieldDate         Field = "date"
	FieldTime         Field = "time"
)

// fieldOrder is the canonical solicitation order of the dialogue.
var fieldOrder = []Field{
	FieldPatientName,
	FieldPatientPhone,
	FieldService,
	FieldProfessional,
	FieldDate,
	FieldTime,
}

// Fields is the partial record collected so far. An empty string means
// "not yet known", never "invalid".
type Fields struct {
	PatientName    string `json:"patient_name,omitempty"`
	PatientPhone   string `json:"patient_phone,omitempty"`
	ServiceID      string `json:"service_id,omitempty"`
	ProfessionalID string `json:"professional_id,omitempty"`
	Date           string `json:"date,omitempty"` // normalized DD/MM/YYYY
	Time           string `json:"time,omitempty"` // normalized HH:MM
}

// Get returns the stored value for a field.
func (f Fields) Get(field Field) string {
	switch field {
	case FieldPatientName:
		return f.PatientName
	case FieldPatientPhone:
		return f.PatientPhone
	case FieldService:
		return f.ServiceID
	case FieldProfessional:
		return f.ProfessionalID
	case FieldDate:
		return f.Date
	case FieldTime:
		return f.Time
	}
	return ""
}

// Set stores a value for a field.
func (f *Fields) Set(field Field, value string) {
	switch field {
	case FieldPatientName:
		f.PatientName = value
	case FieldPatientPhone:
		f.PatientPhone = value
	case FieldService:
		f.ServiceID = value
	case FieldProfessional:
		f.ProfessionalID = value
	case FieldDate:
		f.Date = value
	case FieldTime:
		f.Time = value
	}
}

// FirstMissing returns the first field, in solicitation order, that has
// no value yet, and whether any field is missing at all.
func (f Fields) FirstMissing() (Field, bool) {
	for _, field := range fieldOrder {
		if f.Get(field) == "" {
			return field, true
		}
	}
	return "", false
}

// Session is the durable per-conversation booking state. One active
// session exists per conversation key at any time; the store enforces
// this with a version token.
type Session struct {
	ConversationKey string    `json:"conversation_key"`
	CurrentStep     Step      `json:"current_step"`
	Fields          Fields    `json:"fields"`
	RawBuffer       []string  `json:"raw_buffer,omitempty"`
	Status          Status    `json:"status"`
	Version         int64     `json:"version"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
	ExpiresAt       time.Time `json:"expires_at"`
}

// NewSession builds a fresh active session for the conversation key.
func NewSession(conversationKey string, now time.Time, ttl time.Duration) *Session {
	return &Session{
		ConversationKey: conversationKey,
		CurrentStep:     StepCollectIdentity,
		Status:          StatusActive,
		CreatedAt:       now.UTC(),
		UpdatedAt:       now.UTC(),
		ExpiresAt:       now.UTC().Add(ttl),
	}
}

// Expired reports whether the session's idle deadline has passed.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// StepForFields derives the dialogue step from which fields are still
// missing. A full single-message payload short-circuits straight to
// confirmation this way.
func StepForFields(f Fields) Step {
	missing, ok := f.FirstMissing()
	if !ok {
		return StepAwaitConfirmation
	}
	switch missing {
	case FieldPatientName, FieldPatientPhone:
		return StepCollectIdentity
	case FieldService:
		return StepCollectService
	case FieldProfessional:
		return StepCollectProfessional
	default:
		return StepCollectDatetime
	}
}

// IdempotencyKey derives the stable reservation key for this session.
// It depends only on the conversation key and the session's creation
// instant, so a redelivered confirmation always reserves under the
// same key.
func (s *Session) IdempotencyKey() string {
	sum := sha1.Sum([]byte(s.ConversationKey + "|" + s.CreatedAt.UTC().Format(time.RFC3339Nano)))
	return hex.EncodeToString(sum[:])
}
