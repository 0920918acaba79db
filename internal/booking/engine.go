package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lucasdmc/atendeai-lify-admin-sub001/internal/catalog"
	"github.com/lucasdmc/atendeai-lify-admin-sub001/internal/observability/metrics"
	"github.com/lucasdmc/atendeai-lify-admin-sub001/internal/scheduling"
	"github.com/lucasdmc/atendeai-lify-admin-sub001/pkg/logging"
)

// saveAttempts bounds the reload-and-remerge loop on session version
// conflicts before degrading to an infrastructure error.
const saveAttempts = 3

// Reserver finalizes a booking intent into a calendar reservation.
type Reserver interface {
	Reserve(ctx context.Context, intent scheduling.Intent, idempotencyKey string) (*scheduling.Appointment, error)
}

// Notifier informs clinic operators about reservation outcomes.
// Implementations must not block the patient flow on failure.
type Notifier interface {
	NotifyBookingConfirmed(ctx context.Context, intent scheduling.Intent, appt *scheduling.Appointment)
	NotifyReservationFailure(ctx context.Context, intent scheduling.Intent, cause error)
}

// Engine drives the booking dialogue: it loads the session, runs the
// extractor over the fragment buffer, merges fields with correction
// semantics, advances the step, and finalizes through the reserver.
// Every transition is persisted before the reply is returned, so a
// redelivered message against an unchanged session re-derives the same
// response.
type Engine struct {
	store     SessionStore
	extractor *Extractor
	directory catalog.Directory
	reserver  Reserver
	notifier  Notifier
	logger    *logging.Logger
	metrics   *metrics.BookingMetrics
	loc       *time.Location
	ttl       time.Duration
	nowFn     func() time.Time
}

// NewEngine wires the dialogue driver.
func NewEngine(store SessionStore, extractor *Extractor, directory catalog.Directory, reserver Reserver, ttl time.Duration, loc *time.Location, logger *logging.Logger, m *metrics.BookingMetrics) *Engine {
	if store == nil {
		panic("booking: session store cannot be nil")
	}
	if extractor == nil {
		panic("booking: extractor cannot be nil")
	}
	if directory == nil {
		panic("booking: directory cannot be nil")
	}
	if reserver == nil {
		panic("booking: reserver cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if loc == nil {
		loc = time.UTC
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Engine{
		store:     store,
		extractor: extractor,
		directory: directory,
		reserver:  reserver,
		logger:    logger,
		metrics:   m,
		loc:       loc,
		ttl:       ttl,
		nowFn:     time.Now,
	}
}

// SetNotifier attaches an optional operator notifier.
func (e *Engine) SetNotifier(n Notifier) {
	e.notifier = n
}

// HandleMessage processes one inbound fragment for the conversation and
// returns the reply to deliver. The session store's compare-and-swap is
// what serializes concurrent fragments for the same key: a losing
// writer reloads and re-applies its merge against the fresher state.
func (e *Engine) HandleMessage(ctx context.Context, conversationKey, text string) (*OutboundResult, error) {
	var lastErr error
	for attempt := 1; attempt <= saveAttempts; attempt++ {
		sess, err := e.loadOrCreate(ctx, conversationKey)
		if err != nil {
			e.logger.Error("failed to load booking session", "error", err, "conversation_key", conversationKey)
			return e.systemError(conversationKey), nil
		}

		result, err := e.process(ctx, sess, text)
		if err != nil {
			e.logger.Error("failed to process inbound fragment", "error", err, "conversation_key", conversationKey)
			return e.systemError(conversationKey), nil
		}

		sess.UpdatedAt = e.nowFn().UTC()
		sess.ExpiresAt = sess.UpdatedAt.Add(e.ttl)
		if err := e.store.Save(ctx, sess); err != nil {
			if errors.Is(err, ErrVersionConflict) {
				lastErr = err
				e.logger.Debug("session version conflict, remerging", "conversation_key", conversationKey, "attempt", attempt)
				continue
			}
			e.logger.Error("failed to persist booking session", "error", err, "conversation_key", conversationKey)
			return e.systemError(conversationKey), nil
		}

		e.metrics.ObserveReply(string(result.Kind))
		return result, nil
	}

	e.logger.Error("session remerge exhausted", "error", lastErr, "conversation_key", conversationKey)
	return e.systemError(conversationKey), nil
}

// loadOrCreate returns the active session for the key, or a fresh one
// when none exists, the previous one reached a terminal status, or the
// idle deadline lapsed. The fresh session inherits the stored version
// token so the compare-and-swap still fences concurrent creators.
func (e *Engine) loadOrCreate(ctx context.Context, conversationKey string) (*Session, error) {
	sess, err := e.store.Load(ctx, conversationKey)
	if err != nil {
		return nil, err
	}
	if sess != nil && sess.Status == StatusActive && !sess.Expired(e.nowFn()) {
		return sess, nil
	}

	fresh := NewSession(conversationKey, e.nowFn(), e.ttl)
	if sess != nil {
		fresh.Version = sess.Version
	}
	return fresh, nil
}

func (e *Engine) process(ctx context.Context, sess *Session, text string) (*OutboundResult, error) {
	if sess.CurrentStep == StepAwaitConfirmation && isAffirmative(text) {
		return e.finalize(ctx, sess)
	}
	if isCancellation(text) {
		e.abandon(sess)
		return e.reply(sess, ReplyCancelled, cancelledText), nil
	}

	sess.RawBuffer = append(sess.RawBuffer, text)
	wasAwaiting := sess.CurrentStep == StepAwaitConfirmation

	ext, err := e.extractor.Extract(ctx, sess.Fields, sess.RawBuffer)
	if err != nil {
		return nil, err
	}
	sess.RawBuffer = sess.RawBuffer[ext.Consumed:]
	if err := e.merge(ctx, sess, ext.Patch); err != nil {
		return nil, err
	}
	sess.CurrentStep = StepForFields(sess.Fields)

	e.metrics.ObserveExtraction(extractionOutcome(ext))

	if len(ext.Ambiguities) > 0 {
		return e.reply(sess, ReplyDisambiguation, disambiguationText(ext.Ambiguities[0])), nil
	}
	if ext.Rejection != nil {
		return e.reply(sess, ReplyClarification, clarificationText(*ext.Rejection)), nil
	}

	if sess.CurrentStep == StepAwaitConfirmation {
		if wasAwaiting && !ext.Found() {
			// Not an affirmative, not a correction: the patient is saying
			// something else entirely, which reads as giving up.
			sess.RawBuffer = nil
			e.abandon(sess)
			return e.reply(sess, ReplyCancelled, cancelledText), nil
		}
		serviceName, professionalName, err := e.resolveNames(ctx, sess.Fields)
		if err != nil {
			return nil, err
		}
		return e.reply(sess, ReplyConfirmationRequest, confirmationText(sess.Fields, serviceName, professionalName)), nil
	}

	missing, _ := sess.Fields.FirstMissing()
	return e.reply(sess, ReplyPrompt, promptText(missing)), nil
}

// merge applies extracted values in canonical field order. Re-sending
// the same value is a no-op; a different value is a correction. A
// service correction invalidates a professional who no longer offers
// the new service, sending the dialogue back to collect_professional.
func (e *Engine) merge(ctx context.Context, sess *Session, patch map[Field]string) error {
	for _, field := range fieldOrder {
		value, ok := patch[field]
		if !ok {
			continue
		}
		old := sess.Fields.Get(field)
		if old == value {
			continue
		}
		sess.Fields.Set(field, value)

		if field == FieldService && old != "" && sess.Fields.ProfessionalID != "" {
			pro, err := e.directory.GetProfessional(ctx, sess.Fields.ProfessionalID)
			if err != nil && !errors.Is(err, catalog.ErrNotFound) {
				return fmt.Errorf("booking: revalidate professional: %w", err)
			}
			if pro == nil || !pro.Offers(value) {
				sess.Fields.ProfessionalID = ""
			}
		}
	}
	return nil
}

// finalize turns the collected fields into a reservation. Conflict and
// adapter failures leave the session at await_confirmation with every
// field intact; only a successful reservation completes the session.
func (e *Engine) finalize(ctx context.Context, sess *Session) (*OutboundResult, error) {
	intent, serviceName, professionalName, err := e.buildIntent(ctx, sess.Fields)
	if err != nil {
		return nil, err
	}

	appt, err := e.reserver.Reserve(ctx, intent, sess.IdempotencyKey())
	if err != nil {
		if errors.Is(err, scheduling.ErrSlotTaken) {
			e.metrics.ObserveReservation("conflict")
			return e.reply(sess, ReplySlotTaken, slotTakenText(sess.Fields)), nil
		}
		e.metrics.ObserveReservation("error")
		e.logger.Error("reservation failed", "error", err, "conversation_key", sess.ConversationKey)
		if e.notifier != nil {
			e.notifier.NotifyReservationFailure(ctx, intent, err)
		}
		return e.reply(sess, ReplySystemError, systemErrorText), nil
	}

	e.metrics.ObserveReservation("confirmed")
	if e.notifier != nil {
		e.notifier.NotifyBookingConfirmed(ctx, intent, appt)
	}
	sess.Status = StatusCompleted
	sess.CurrentStep = StepCompleted
	sess.RawBuffer = nil

	result := e.reply(sess, ReplyConfirmed, confirmedText(sess.Fields, serviceName, professionalName))
	result.Appointment = appt
	return result, nil
}

func (e *Engine) buildIntent(ctx context.Context, f Fields) (scheduling.Intent, string, string, error) {
	svc, err := e.directory.GetService(ctx, f.ServiceID)
	if err != nil {
		return scheduling.Intent{}, "", "", fmt.Errorf("booking: load service %s: %w", f.ServiceID, err)
	}
	pro, err := e.directory.GetProfessional(ctx, f.ProfessionalID)
	if err != nil {
		return scheduling.Intent{}, "", "", fmt.Errorf("booking: load professional %s: %w", f.ProfessionalID, err)
	}

	start, err := time.ParseInLocation("02/01/2006 15:04", f.Date+" "+f.Time, e.loc)
	if err != nil {
		return scheduling.Intent{}, "", "", fmt.Errorf("booking: parse start time: %w", err)
	}

	return scheduling.Intent{
		PatientName:      f.PatientName,
		PatientPhone:     f.PatientPhone,
		ServiceID:        svc.ID,
		ServiceName:      svc.Name,
		ProfessionalID:   pro.ID,
		ProfessionalName: pro.Name,
		Start:            start,
		DurationMin:      svc.DurationMin,
	}, svc.Name, pro.Name, nil
}

func (e *Engine) resolveNames(ctx context.Context, f Fields) (string, string, error) {
	svc, err := e.directory.GetService(ctx, f.ServiceID)
	if err != nil {
		return "", "", fmt.Errorf("booking: load service %s: %w", f.ServiceID, err)
	}
	pro, err := e.directory.GetProfessional(ctx, f.ProfessionalID)
	if err != nil {
		return "", "", fmt.Errorf("booking: load professional %s: %w", f.ProfessionalID, err)
	}
	return svc.Name, pro.Name, nil
}

func (e *Engine) abandon(sess *Session) {
	sess.Status = StatusCancelled
	sess.CurrentStep = StepAbandoned
	sess.RawBuffer = nil
}

func (e *Engine) reply(sess *Session, kind ReplyKind, text string) *OutboundResult {
	return &OutboundResult{
		ConversationKey: sess.ConversationKey,
		Kind:            kind,
		Text:            text,
	}
}

func (e *Engine) systemError(conversationKey string) *OutboundResult {
	e.metrics.ObserveReply(string(ReplySystemError))
	return &OutboundResult{
		ConversationKey: conversationKey,
		Kind:            ReplySystemError,
		Text:            systemErrorText,
	}
}

func extractionOutcome(ext Extraction) string {
	switch {
	case len(ext.Ambiguities) > 0:
		return "ambiguous"
	case ext.Rejection != nil:
		return "invalid_shape"
	case ext.Found():
		return "fields_found"
	default:
		return "empty"
	}
}
