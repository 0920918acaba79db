package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/lucasdmc/atendeai-lify-admin-sub001/pkg/logging"
)

// CalendarEvent is the adapter's view of a remote calendar entry.
// BookingRef carries the appointment ID stamped onto the event, which
// is how an interrupted two-phase write recognizes its own event on
// retry.
type CalendarEvent struct {
	ID          string
	Summary     string
	Description string
	Start       time.Time
	End         time.Time
	BookingRef  string
}

// CalendarAPI abstracts the remote calendar service.
type CalendarAPI interface {
	CreateEvent(ctx context.Context, event CalendarEvent) (string, error)
	DeleteEvent(ctx context.Context, eventID string) error
	ListEvents(ctx context.Context, from, to time.Time) ([]CalendarEvent, error)
}

// Adapter performs the two-phase reservation: a pending row locally,
// then the remote event, then confirmation. Reserve is idempotent over
// the key, so a redelivered confirmation never books twice.
type Adapter struct {
	repo     *Repository
	calendar CalendarAPI
	logger   *logging.Logger
	tracer   trace.Tracer
	timeout  time.Duration
}

// NewAdapter wires the reservation adapter. timeout bounds each remote
// calendar call; an expired deadline surfaces as ErrRemoteCalendar.
func NewAdapter(repo *Repository, calendar CalendarAPI, timeout time.Duration, logger *logging.Logger) *Adapter {
	if repo == nil {
		panic("scheduling: repository cannot be nil")
	}
	if calendar == nil {
		panic("scheduling: calendar API cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Adapter{
		repo:     repo,
		calendar: calendar,
		logger:   logger,
		tracer:   otel.Tracer("atendeai.internal.scheduling"),
		timeout:  timeout,
	}
}

// Reserve books the intent under the idempotency key.
//
// Repeat calls with a key that already produced a confirmed appointment
// return that appointment without touching the calendar. A pending or
// failed row from an interrupted earlier attempt is resumed: if the
// remote event already exists (matched by booking ref) it is adopted,
// otherwise the create is retried. Slot conflicts return ErrSlotTaken
// and leave no new state behind; remote failures return
// ErrRemoteCalendar with the pending row kept as the resume anchor.
func (a *Adapter) Reserve(ctx context.Context, intent Intent, idempotencyKey string) (*Appointment, error) {
	ctx, span := a.tracer.Start(ctx, "scheduling.reserve")
	defer span.End()

	existing, err := a.repo.GetByIdempotencyKey(ctx, idempotencyKey)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if existing != nil {
		switch existing.Status {
		case StatusConfirmed:
			return existing, nil
		case StatusPending, StatusFailed:
			return a.resume(ctx, existing, intent)
		case StatusCancelled:
			return nil, fmt.Errorf("scheduling: reservation %s was cancelled", existing.ID)
		}
	}

	start, end := intent.Start, intent.End()
	taken, err := a.slotTaken(ctx, intent.ProfessionalID, start, end)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if taken {
		return nil, ErrSlotTaken
	}

	appt := &Appointment{
		ID:             uuid.New(),
		IdempotencyKey: idempotencyKey,
		PatientName:    intent.PatientName,
		PatientPhone:   intent.PatientPhone,
		ServiceID:      intent.ServiceID,
		ProfessionalID: intent.ProfessionalID,
		ScheduledStart: start,
		ScheduledEnd:   end,
	}
	if err := a.repo.InsertPending(ctx, appt); err != nil {
		// A racing reservation can win the exclusion constraint between
		// the overlap check and this insert; that is a conflict, not an
		// infrastructure failure.
		if errors.Is(err, ErrSlotTaken) {
			return nil, ErrSlotTaken
		}
		span.RecordError(err)
		return nil, err
	}

	return a.commitRemote(ctx, appt, intent)
}

// resume picks up an interrupted write. The remote side may or may not
// hold the event already; the booking ref on the event settles it.
func (a *Adapter) resume(ctx context.Context, appt *Appointment, intent Intent) (*Appointment, error) {
	a.logger.Info("resuming interrupted reservation",
		"appointment_id", appt.ID, "status", string(appt.Status))

	eventID, err := a.findEventByRef(ctx, appt)
	if err != nil {
		return nil, err
	}
	if eventID != "" {
		if err := a.repo.MarkConfirmed(ctx, appt.ID, eventID); err != nil {
			return nil, err
		}
		appt.Status = StatusConfirmed
		appt.CalendarEventID = eventID
		return appt, nil
	}
	return a.commitRemote(ctx, appt, intent)
}

// commitRemote creates the remote event and confirms the local row.
func (a *Adapter) commitRemote(ctx context.Context, appt *Appointment, intent Intent) (*Appointment, error) {
	event := CalendarEvent{
		Summary:     fmt.Sprintf("%s - %s", intent.ServiceName, intent.PatientName),
		Description: fmt.Sprintf("Paciente: %s\nTelefone: %s\nProfissional: %s", intent.PatientName, intent.PatientPhone, intent.ProfessionalName),
		Start:       appt.ScheduledStart,
		End:         appt.ScheduledEnd,
		BookingRef:  appt.ID.String(),
	}

	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	eventID, err := a.calendar.CreateEvent(callCtx, event)
	if err != nil {
		if markErr := a.repo.MarkFailed(ctx, appt.ID); markErr != nil {
			a.logger.Error("failed to mark appointment failed", "error", markErr, "appointment_id", appt.ID)
		}
		a.logger.Error("remote event create failed", "error", err, "appointment_id", appt.ID)
		return nil, fmt.Errorf("%w: %v", ErrRemoteCalendar, err)
	}

	if err := a.repo.MarkConfirmed(ctx, appt.ID, eventID); err != nil {
		// The remote event exists; the booking ref lets a retry adopt it.
		return nil, err
	}
	appt.Status = StatusConfirmed
	appt.CalendarEventID = eventID
	return appt, nil
}

// Cancel releases an appointment and its remote event. Idempotent:
// cancelling an already-cancelled appointment is a no-op.
func (a *Adapter) Cancel(ctx context.Context, id uuid.UUID) error {
	ctx, span := a.tracer.Start(ctx, "scheduling.cancel")
	defer span.End()

	appt, err := a.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if appt.Status == StatusCancelled {
		return nil
	}

	if appt.CalendarEventID != "" {
		callCtx, cancel := context.WithTimeout(ctx, a.timeout)
		defer cancel()
		if err := a.calendar.DeleteEvent(callCtx, appt.CalendarEventID); err != nil {
			span.RecordError(err)
			return fmt.Errorf("%w: %v", ErrRemoteCalendar, err)
		}
	}
	return a.repo.MarkCancelled(ctx, appt.ID)
}

// slotTaken checks both the local ledger and the remote calendar, so a
// block created directly on the calendar still counts.
func (a *Adapter) slotTaken(ctx context.Context, professionalID string, start, end time.Time) (bool, error) {
	overlap, err := a.repo.HasOverlap(ctx, professionalID, start, end)
	if err != nil {
		return false, err
	}
	if overlap {
		return true, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	events, err := a.calendar.ListEvents(callCtx, start, end)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRemoteCalendar, err)
	}
	for _, ev := range events {
		if ev.BookingRef != "" {
			// Our own events are already covered by the local overlap
			// check, keyed to the professional.
			continue
		}
		if ev.Start.Before(end) && ev.End.After(start) {
			return true, nil
		}
	}
	return false, nil
}

// findEventByRef scans the appointment's window for an event carrying
// its booking ref.
func (a *Adapter) findEventByRef(ctx context.Context, appt *Appointment) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	events, err := a.calendar.ListEvents(callCtx, appt.ScheduledStart, appt.ScheduledEnd)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRemoteCalendar, err)
	}
	ref := appt.ID.String()
	for _, ev := range events {
		if ev.BookingRef == ref {
			return ev.ID, nil
		}
	}
	return "", nil
}
