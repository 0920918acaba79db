// Package scheduling owns appointments: the durable record of a booked
// slot, the conflict check, and the two-phase write against the remote
// calendar service.
package scheduling

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrSlotTaken indicates the requested window overlaps an existing
// commitment. Not retryable with the same slot.
var ErrSlotTaken = errors.New("scheduling: slot already taken")

// ErrRemoteCalendar wraps failures of the calendar service (timeouts
// included). Retryable: the idempotency key makes a repeat safe.
var ErrRemoteCalendar = errors.New("scheduling: calendar service unavailable")

// ErrNotFound indicates the appointment does not exist.
var ErrNotFound = errors.New("scheduling: appointment not found")

// AppointmentStatus tracks the two-phase write.
type AppointmentStatus string

const (
	// StatusPending means the local row exists but the remote event is
	// not confirmed yet. The recovery anchor for interrupted writes.
	StatusPending AppointmentStatus = "pending"
	// StatusConfirmed means the remote event was created.
	StatusConfirmed AppointmentStatus = "confirmed"
	// StatusFailed means the remote create failed; a retry may resume.
	StatusFailed AppointmentStatus = "failed"
	// StatusCancelled means the appointment was cancelled.
	StatusCancelled AppointmentStatus = "cancelled"
)

// Intent is a fully collected, not-yet-committed booking.
type Intent struct {
	PatientName      string
	PatientPhone     string
	ServiceID        string
	ServiceName      string
	ProfessionalID   string
	ProfessionalName string
	Start            time.Time
	DurationMin      int
}

// End derives the slot end from the service duration.
func (i Intent) End() time.Time {
	return i.Start.Add(time.Duration(i.DurationMin) * time.Minute)
}

// Appointment is the durable booking record. The ID doubles as the
// booking reference stamped onto the remote calendar event.
type Appointment struct {
	ID              uuid.UUID
	IdempotencyKey  string
	PatientName     string
	PatientPhone    string
	ServiceID       string
	ProfessionalID  string
	ScheduledStart  time.Time
	ScheduledEnd    time.Time
	CalendarEventID string
	Status          AppointmentStatus
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
