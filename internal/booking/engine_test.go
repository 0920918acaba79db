package booking

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/lucasdmc/atendeai-lify-admin-sub001/internal/scheduling"
)

// memSessionStore mirrors the Redis store's compare-and-swap contract
// so engine tests exercise the real retry path.
type memSessionStore struct {
	mu         sync.Mutex
	sessions   map[string]Session
	saves      int
	conflicts  int    // inject this many ErrVersionConflict before committing
	beforeSave func() // runs once, before the next CAS check
}

func newMemSessionStore() *memSessionStore {
	return &memSessionStore{sessions: make(map[string]Session)}
}

func (m *memSessionStore) takeHook() func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	hook := m.beforeSave
	m.beforeSave = nil
	return hook
}

func (m *memSessionStore) Load(_ context.Context, conversationKey string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.sessions[conversationKey]
	if !ok {
		return nil, nil
	}
	cp := stored
	cp.RawBuffer = append([]string(nil), stored.RawBuffer...)
	return &cp, nil
}

func (m *memSessionStore) Save(_ context.Context, session *Session) error {
	if hook := m.takeHook(); hook != nil {
		hook()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if m.conflicts > 0 {
		m.conflicts--
		return ErrVersionConflict
	}
	stored, ok := m.sessions[session.ConversationKey]
	if ok && stored.Version != session.Version {
		return ErrVersionConflict
	}
	if !ok && session.Version != 0 {
		return ErrVersionConflict
	}
	next := *session
	next.Version = session.Version + 1
	next.RawBuffer = append([]string(nil), session.RawBuffer...)
	m.sessions[session.ConversationKey] = next
	session.Version = next.Version
	return nil
}

type reserveCall struct {
	intent scheduling.Intent
	key    string
}

type fakeReserver struct {
	mu    sync.Mutex
	calls []reserveCall
	err   error
}

func (f *fakeReserver) Reserve(_ context.Context, intent scheduling.Intent, idempotencyKey string) (*scheduling.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, reserveCall{intent: intent, key: idempotencyKey})
	if f.err != nil {
		return nil, f.err
	}
	return &scheduling.Appointment{
		ID:             uuid.New(),
		IdempotencyKey: idempotencyKey,
		Status:         scheduling.StatusConfirmed,
	}, nil
}

type fakeNotifier struct {
	confirmed []scheduling.Intent
	failures  []error
}

func (f *fakeNotifier) NotifyBookingConfirmed(_ context.Context, intent scheduling.Intent, _ *scheduling.Appointment) {
	f.confirmed = append(f.confirmed, intent)
}

func (f *fakeNotifier) NotifyReservationFailure(_ context.Context, _ scheduling.Intent, cause error) {
	f.failures = append(f.failures, cause)
}

type engineFixture struct {
	engine   *Engine
	store    *memSessionStore
	reserver *fakeReserver
	loc      *time.Location
	now      time.Time
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	loc, err := time.LoadLocation("America/Sao_Paulo")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}

	fx := &engineFixture{
		store:    newMemSessionStore(),
		reserver: &fakeReserver{},
		loc:      loc,
		now:      time.Date(2026, 6, 1, 12, 0, 0, 0, loc),
	}
	nowFn := func() time.Time { return fx.now }

	directory := testDirectory()
	extractor := NewExtractor(directory, loc)
	extractor.nowFn = nowFn

	fx.engine = NewEngine(fx.store, extractor, directory, fx.reserver, 30*time.Minute, loc, nil, nil)
	fx.engine.nowFn = nowFn
	return fx
}

func (fx *engineFixture) handle(t *testing.T, key, text string) *OutboundResult {
	t.Helper()
	result, err := fx.engine.HandleMessage(context.Background(), key, text)
	if err != nil {
		t.Fatalf("HandleMessage(%q): %v", text, err)
	}
	if result == nil {
		t.Fatalf("HandleMessage(%q) returned nil result", text)
	}
	return result
}

func TestEngineFullPayloadThenConfirm(t *testing.T) {
	fx := newEngineFixture(t)
	const key = "wa:5547997192447"

	result := fx.handle(t, key, fullPayload)
	if result.Kind != ReplyConfirmationRequest {
		t.Fatalf("expected confirmation request, got %s: %s", result.Kind, result.Text)
	}
	for _, want := range []string{"Lucas Cantoni", "Endoscopia Digestiva", "Carlos Siqueira", "04/07/2026", "16:30"} {
		if !strings.Contains(result.Text, want) {
			t.Errorf("confirmation text missing %q:\n%s", want, result.Text)
		}
	}

	result = fx.handle(t, key, "sim")
	if result.Kind != ReplyConfirmed {
		t.Fatalf("expected confirmed, got %s: %s", result.Kind, result.Text)
	}
	if result.Appointment == nil {
		t.Fatal("confirmed reply must carry the appointment")
	}

	if len(fx.reserver.calls) != 1 {
		t.Fatalf("expected 1 reservation, got %d", len(fx.reserver.calls))
	}
	call := fx.reserver.calls[0]
	if call.intent.ServiceID != "svc-endo" || call.intent.ProfessionalID != "pro-carlos" {
		t.Fatalf("unexpected intent: %+v", call.intent)
	}
	wantStart := time.Date(2026, 7, 4, 16, 30, 0, 0, fx.loc)
	if !call.intent.Start.Equal(wantStart) {
		t.Fatalf("intent start = %v, want %v", call.intent.Start, wantStart)
	}
	if call.intent.DurationMin != 30 {
		t.Fatalf("intent duration = %d, want 30", call.intent.DurationMin)
	}
	if len(call.key) != 40 {
		t.Fatalf("idempotency key %q is not a sha1 hex digest", call.key)
	}
}

func TestEngineSequentialFragments(t *testing.T) {
	fx := newEngineFixture(t)
	const key = "wa:5547997192447"

	steps := []struct {
		text string
		kind ReplyKind
	}{
		{"Lucas Cantoni", ReplyPrompt},
		{"47997192447", ReplyPrompt},
		{"Endoscopia Digestiva", ReplyPrompt},
		{"Dr. Carlos", ReplyPrompt},
		{"04/07", ReplyPrompt},
		{"16:30", ReplyConfirmationRequest},
	}
	for _, step := range steps {
		result := fx.handle(t, key, step.text)
		if result.Kind != step.kind {
			t.Fatalf("after %q: kind = %s, want %s (%s)", step.text, result.Kind, step.kind, result.Text)
		}
	}

	result := fx.handle(t, key, "confirmar")
	if result.Kind != ReplyConfirmed {
		t.Fatalf("expected confirmed, got %s", result.Kind)
	}
	if len(fx.reserver.calls) != 1 {
		t.Fatalf("expected 1 reservation, got %d", len(fx.reserver.calls))
	}
	if fx.reserver.calls[0].intent.ProfessionalName != "Carlos Siqueira" {
		t.Fatalf("unexpected professional: %+v", fx.reserver.calls[0].intent)
	}
}

func TestEngineServiceCorrectionClearsProfessional(t *testing.T) {
	fx := newEngineFixture(t)
	const key = "wa:5547997192447"

	fx.handle(t, key, fullPayload)

	// Carlos does not perform colonoscopia, so the correction sends the
	// dialogue back to professional selection.
	result := fx.handle(t, key, "Colonoscopia")
	if result.Kind != ReplyPrompt {
		t.Fatalf("expected prompt after correction, got %s: %s", result.Kind, result.Text)
	}
	if !strings.Contains(result.Text, "profissional") {
		t.Fatalf("expected professional prompt, got: %s", result.Text)
	}

	result = fx.handle(t, key, "Ana Paula")
	if result.Kind != ReplyConfirmationRequest {
		t.Fatalf("expected confirmation request, got %s: %s", result.Kind, result.Text)
	}
	for _, want := range []string{"Colonoscopia", "Ana Paula"} {
		if !strings.Contains(result.Text, want) {
			t.Errorf("confirmation text missing %q:\n%s", want, result.Text)
		}
	}

	fx.handle(t, key, "sim")
	if len(fx.reserver.calls) != 1 {
		t.Fatalf("expected 1 reservation, got %d", len(fx.reserver.calls))
	}
	intent := fx.reserver.calls[0].intent
	if intent.ServiceID != "svc-colo" || intent.ProfessionalID != "pro-ana" || intent.DurationMin != 45 {
		t.Fatalf("unexpected intent after correction: %+v", intent)
	}
}

func TestEngineSlotTakenKeepsSession(t *testing.T) {
	fx := newEngineFixture(t)
	const key = "wa:5547997192447"

	fx.handle(t, key, fullPayload)

	fx.reserver.err = scheduling.ErrSlotTaken
	result := fx.handle(t, key, "sim")
	if result.Kind != ReplySlotTaken {
		t.Fatalf("expected slot_taken, got %s: %s", result.Kind, result.Text)
	}

	// The session survives: a bare clock fragment corrects the time and
	// re-enters confirmation.
	result = fx.handle(t, key, "17:00")
	if result.Kind != ReplyConfirmationRequest {
		t.Fatalf("expected confirmation request, got %s: %s", result.Kind, result.Text)
	}
	if !strings.Contains(result.Text, "17:00") {
		t.Fatalf("expected corrected time in confirmation: %s", result.Text)
	}

	fx.reserver.err = nil
	result = fx.handle(t, key, "sim")
	if result.Kind != ReplyConfirmed {
		t.Fatalf("expected confirmed, got %s", result.Kind)
	}

	if len(fx.reserver.calls) != 2 {
		t.Fatalf("expected 2 reservation attempts, got %d", len(fx.reserver.calls))
	}
	if fx.reserver.calls[0].key != fx.reserver.calls[1].key {
		t.Fatal("retry within one session must reuse the idempotency key")
	}
	wantStart := time.Date(2026, 7, 4, 17, 0, 0, 0, fx.loc)
	if !fx.reserver.calls[1].intent.Start.Equal(wantStart) {
		t.Fatalf("second attempt start = %v, want %v", fx.reserver.calls[1].intent.Start, wantStart)
	}
}

func TestEngineCancellationResetsConversation(t *testing.T) {
	fx := newEngineFixture(t)
	const key = "wa:5547997192447"

	fx.handle(t, key, "Lucas Cantoni")
	result := fx.handle(t, key, "cancelar")
	if result.Kind != ReplyCancelled {
		t.Fatalf("expected cancelled, got %s", result.Kind)
	}

	// The next contact starts from scratch.
	result = fx.handle(t, key, "Maria Souza")
	if result.Kind != ReplyPrompt || !strings.Contains(result.Text, "telefone") {
		t.Fatalf("expected fresh identity flow, got %s: %s", result.Kind, result.Text)
	}
	if len(fx.reserver.calls) != 0 {
		t.Fatalf("cancellation must never reserve, got %d calls", len(fx.reserver.calls))
	}
}

func TestEngineAbandonsOnUnrelatedReplyAtConfirmation(t *testing.T) {
	fx := newEngineFixture(t)
	const key = "wa:5547997192447"

	fx.handle(t, key, fullPayload)
	result := fx.handle(t, key, "quero falar com um atendente")
	if result.Kind != ReplyCancelled {
		t.Fatalf("expected cancelled, got %s: %s", result.Kind, result.Text)
	}
	if len(fx.reserver.calls) != 0 {
		t.Fatal("abandonment must never reserve")
	}
}

func TestEngineConcurrentFragmentsBothSurvive(t *testing.T) {
	fx := newEngineFixture(t)
	const key = "wa:5547997192447"

	fx.handle(t, key, "Lucas Cantoni")

	// A second worker lands the phone fragment between this worker's
	// load and save; the losing save must remerge on the fresher state
	// instead of overwriting it.
	fx.store.beforeSave = func() {
		fx.handle(t, key, "47997192447")
	}
	result := fx.handle(t, key, "Endoscopia Digestiva")
	if result.Kind != ReplyPrompt {
		t.Fatalf("expected prompt, got %s: %s", result.Kind, result.Text)
	}
	if !strings.Contains(result.Text, "profissional") {
		t.Fatalf("expected professional prompt after remerge, got: %s", result.Text)
	}

	stored := fx.store.sessions[key]
	if stored.Fields.PatientName != "Lucas Cantoni" ||
		stored.Fields.PatientPhone != "47997192447" ||
		stored.Fields.ServiceID != "svc-endo" {
		t.Fatalf("concurrent merge lost a field: %+v", stored.Fields)
	}
}

func TestEngineExpiredSessionStartsFresh(t *testing.T) {
	fx := newEngineFixture(t)
	const key = "wa:5547997192447"

	result := fx.handle(t, key, "Lucas Cantoni")
	if result.Kind != ReplyPrompt || !strings.Contains(result.Text, "telefone") {
		t.Fatalf("expected phone prompt, got %s: %s", result.Kind, result.Text)
	}

	// Past the idle deadline the stored session is dead; the next
	// fragment opens a blank one, so a bare phone number no longer fits
	// the solicited field.
	fx.now = fx.now.Add(31 * time.Minute)
	result = fx.handle(t, key, "47997192447")
	if result.Kind != ReplyClarification || !strings.Contains(result.Text, "nome") {
		t.Fatalf("expected fresh-session name clarification, got %s: %s", result.Kind, result.Text)
	}

	stored := fx.store.sessions[key]
	if stored.Fields.PatientName != "" || stored.Fields.PatientPhone != "" {
		t.Fatalf("expired session fields leaked into the fresh one: %+v", stored.Fields)
	}
}

func TestEngineRetriesOnVersionConflict(t *testing.T) {
	fx := newEngineFixture(t)
	const key = "wa:5547997192447"

	fx.store.conflicts = 1
	result := fx.handle(t, key, fullPayload)
	if result.Kind != ReplyConfirmationRequest {
		t.Fatalf("expected confirmation request after remerge, got %s", result.Kind)
	}
	if fx.store.saves != 2 {
		t.Fatalf("expected 2 save attempts, got %d", fx.store.saves)
	}
}

func TestEngineReservationFailureNotifiesAndRetains(t *testing.T) {
	fx := newEngineFixture(t)
	notifier := &fakeNotifier{}
	fx.engine.SetNotifier(notifier)
	const key = "wa:5547997192447"

	fx.handle(t, key, fullPayload)

	fx.reserver.err = errors.New("calendar unreachable")
	result := fx.handle(t, key, "sim")
	if result.Kind != ReplySystemError {
		t.Fatalf("expected system_error, got %s", result.Kind)
	}
	if len(notifier.failures) != 1 {
		t.Fatalf("expected 1 failure notification, got %d", len(notifier.failures))
	}

	// Session fields are intact; a later confirm retries under the same
	// idempotency key.
	fx.reserver.err = nil
	result = fx.handle(t, key, "sim")
	if result.Kind != ReplyConfirmed {
		t.Fatalf("expected confirmed, got %s", result.Kind)
	}
	if len(notifier.confirmed) != 1 {
		t.Fatalf("expected 1 confirmation notification, got %d", len(notifier.confirmed))
	}
	if len(fx.reserver.calls) != 2 || fx.reserver.calls[0].key != fx.reserver.calls[1].key {
		t.Fatalf("expected key-stable retry, got %+v", fx.reserver.calls)
	}
}
