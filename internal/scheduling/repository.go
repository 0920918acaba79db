package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type dbQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository provides persistence for appointments.
type Repository struct {
	db dbQuerier
}

// NewRepository creates a repository backed by a pgx pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	if pool == nil {
		panic("scheduling: pgx pool required")
	}
	return &Repository{db: pool}
}

// NewRepositoryWithQuerier allows injecting mocks for tests.
func NewRepositoryWithQuerier(q dbQuerier) *Repository {
	return &Repository{db: q}
}

const appointmentColumns = `
	id, idempotency_key, patient_name, patient_phone, service_id,
	professional_id, scheduled_start, scheduled_end,
	COALESCE(calendar_event_id, ''), status, created_at, updated_at`

// exclusionViolation is the SQLSTATE raised by the appointments overlap
// exclusion constraint.
const exclusionViolation = "23P01"

// InsertPending creates the local row that anchors the two-phase write.
// The database's overlap exclusion constraint is the authoritative
// double-booking guard: when two concurrent reservations race past the
// application-side check, the loser's insert comes back as ErrSlotTaken.
func (r *Repository) InsertPending(ctx context.Context, appt *Appointment) error {
	now := time.Now().UTC()
	appt.Status = StatusPending
	appt.CreatedAt = now
	appt.UpdatedAt = now

	_, err := r.db.Exec(ctx, `
		INSERT INTO appointments (
			id, idempotency_key, patient_name, patient_phone, service_id,
			professional_id, scheduled_start, scheduled_end, status,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, appt.ID, appt.IdempotencyKey, appt.PatientName, appt.PatientPhone,
		appt.ServiceID, appt.ProfessionalID, appt.ScheduledStart, appt.ScheduledEnd,
		appt.Status, appt.CreatedAt, appt.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == exclusionViolation {
			return ErrSlotTaken
		}
		return fmt.Errorf("scheduling: insert pending appointment: %w", err)
	}
	return nil
}

// GetByIdempotencyKey returns the appointment reserved under the key,
// or nil when none exists.
func (r *Repository) GetByIdempotencyKey(ctx context.Context, key string) (*Appointment, error) {
	appt, err := r.scanOne(r.db.QueryRow(ctx, `
		SELECT`+appointmentColumns+`
		FROM appointments
		WHERE idempotency_key = $1
	`, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return appt, err
}

// Get returns the appointment by ID.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := r.scanOne(r.db.QueryRow(ctx, `
		SELECT`+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return appt, err
}

// HasOverlap reports whether the professional already holds a pending
// or confirmed appointment intersecting [start, end).
func (r *Repository) HasOverlap(ctx context.Context, professionalID string, start, end time.Time) (bool, error) {
	var exists int
	err := r.db.QueryRow(ctx, `
		SELECT 1 FROM appointments
		WHERE professional_id = $1
		  AND status IN ('pending', 'confirmed')
		  AND scheduled_start < $3
		  AND scheduled_end > $2
		LIMIT 1
	`, professionalID, start, end).Scan(&exists)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("scheduling: check overlap: %w", err)
	}
	return true, nil
}

// MarkConfirmed completes the two-phase write.
func (r *Repository) MarkConfirmed(ctx context.Context, id uuid.UUID, calendarEventID string) error {
	return r.setStatus(ctx, `
		UPDATE appointments
		SET status = 'confirmed', calendar_event_id = $2, updated_at = $3
		WHERE id = $1
	`, id, calendarEventID, time.Now().UTC())
}

// MarkFailed records a remote create failure so a retry can detect the
// interrupted write.
func (r *Repository) MarkFailed(ctx context.Context, id uuid.UUID) error {
	return r.setStatus(ctx, `
		UPDATE appointments
		SET status = 'failed', updated_at = $2
		WHERE id = $1
	`, id, time.Now().UTC())
}

// MarkCancelled cancels the appointment. Idempotent.
func (r *Repository) MarkCancelled(ctx context.Context, id uuid.UUID) error {
	return r.setStatus(ctx, `
		UPDATE appointments
		SET status = 'cancelled', updated_at = $2
		WHERE id = $1
	`, id, time.Now().UTC())
}

// ListConfirmedBetween returns confirmed appointments starting inside
// the window. Used by the calendar sync pass.
func (r *Repository) ListConfirmedBetween(ctx context.Context, from, to time.Time) ([]Appointment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT`+appointmentColumns+`
		FROM appointments
		WHERE status = 'confirmed'
		  AND scheduled_start >= $1
		  AND scheduled_start < $2
		ORDER BY scheduled_start
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("scheduling: list confirmed: %w", err)
	}
	defer rows.Close()

	var out []Appointment
	for rows.Next() {
		var appt Appointment
		if err := rows.Scan(
			&appt.ID, &appt.IdempotencyKey, &appt.PatientName, &appt.PatientPhone,
			&appt.ServiceID, &appt.ProfessionalID, &appt.ScheduledStart, &appt.ScheduledEnd,
			&appt.CalendarEventID, &appt.Status, &appt.CreatedAt, &appt.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scheduling: scan appointment: %w", err)
		}
		out = append(out, appt)
	}
	return out, rows.Err()
}

func (r *Repository) setStatus(ctx context.Context, query string, args ...any) error {
	ct, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("scheduling: update appointment: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) scanOne(row pgx.Row) (*Appointment, error) {
	var appt Appointment
	err := row.Scan(
		&appt.ID, &appt.IdempotencyKey, &appt.PatientName, &appt.PatientPhone,
		&appt.ServiceID, &appt.ProfessionalID, &appt.ScheduledStart, &appt.ScheduledEnd,
		&appt.CalendarEventID, &appt.Status, &appt.CreatedAt, &appt.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scheduling: scan appointment: %w", err)
	}
	return &appt, nil
}
