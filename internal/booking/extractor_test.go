package booking

import (
	"context"
	"testing"
	"time"

	"github.com/lucasdmc/atendeai-lify-admin-sub001/internal/catalog"
)

func testDirectory() *catalog.InMemoryDirectory {
	services := []catalog.Service{
		{ID: "svc-endo", Name: "Endoscopia Digestiva", DurationMin: 30, Active: true},
		{ID: "svc-colo", Name: "Colonoscopia", DurationMin: 45, Active: true},
		{ID: "svc-consulta", Name: "Consulta Clínica", DurationMin: 30, Active: true},
	}
	professionals := []catalog.Professional{
		{ID: "pro-carlos", Name: "Carlos Siqueira", ServiceIDs: []string{"svc-endo", "svc-consulta"}, Active: true},
		{ID: "pro-ana", Name: "Ana Paula", ServiceIDs: []string{"svc-colo", "svc-consulta"}, Active: true},
		{ID: "pro-anaclara", Name: "Ana Clara", ServiceIDs: []string{"svc-consulta"}, Active: true},
	}
	return catalog.NewInMemoryDirectory(services, professionals)
}

func testExtractor(t *testing.T) *Extractor {
	t.Helper()
	loc, err := time.LoadLocation("America/Sao_Paulo")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	e := NewExtractor(testDirectory(), loc)
	e.nowFn = func() time.Time {
		return time.Date(2026, 6, 1, 12, 0, 0, 0, loc)
	}
	return e
}

const fullPayload = "Lucas Cantoni\n47997192447\nEndoscopia Digestiva\nDr. Carlos\n04/07\n16:30"

func TestExtractFullPayload(t *testing.T) {
	e := testExtractor(t)

	ext, err := e.Extract(context.Background(), Fields{}, []string{fullPayload})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ext.Consumed != 1 {
		t.Fatalf("expected 1 consumed fragment, got %d", ext.Consumed)
	}
	if ext.Rejection != nil || len(ext.Ambiguities) != 0 {
		t.Fatalf("expected clean extraction, got %+v", ext)
	}

	want := map[Field]string{
		FieldPatientName:  "Lucas Cantoni",
		FieldPatientPhone: "47997192447",
		FieldService:      "svc-endo",
		FieldProfessional: "pro-carlos",
		FieldDate:         "04/07/2026",
		FieldTime:         "16:30",
	}
	for field, value := range want {
		if got := ext.Patch[field]; got != value {
			t.Errorf("field %s = %q, want %q", field, got, value)
		}
	}
}

func TestExtractSequentialFragments(t *testing.T) {
	e := testExtractor(t)
	ctx := context.Background()

	fields := Fields{}
	fragments := []string{
		"Lucas Cantoni",
		"47997192447",
		"Endoscopia Digestiva",
		"Dr. Carlos",
		"04/07",
		"16:30",
	}
	for _, fragment := range fragments {
		ext, err := e.Extract(ctx, fields, []string{fragment})
		if err != nil {
			t.Fatalf("unexpected error on %q: %v", fragment, err)
		}
		if ext.Rejection != nil || len(ext.Ambiguities) != 0 {
			t.Fatalf("fragment %q rejected: %+v", fragment, ext)
		}
		for field, value := range ext.Patch {
			fields.Set(field, value)
		}
	}

	if fields.ServiceID != "svc-endo" || fields.ProfessionalID != "pro-carlos" {
		t.Fatalf("unexpected catalog resolution: %+v", fields)
	}
	if fields.Date != "04/07/2026" || fields.Time != "16:30" {
		t.Fatalf("unexpected datetime normalization: %+v", fields)
	}
	if StepForFields(fields) != StepAwaitConfirmation {
		t.Fatalf("expected await_confirmation, got %s", StepForFields(fields))
	}
}

func TestExtractUnknownServiceRejected(t *testing.T) {
	e := testExtractor(t)
	current := Fields{PatientName: "Lucas", PatientPhone: "47997192447"}

	ext, err := e.Extract(context.Background(), current, []string{"Ressonância"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ext.Rejection == nil || ext.Rejection.Field != FieldService {
		t.Fatalf("expected service rejection, got %+v", ext)
	}
	if ext.Rejection.Reason != RejectUnrecognized {
		t.Fatalf("expected unrecognized, got %s", ext.Rejection.Reason)
	}
	if len(ext.Patch) != 0 {
		t.Fatalf("rejected fragment must not patch fields: %+v", ext.Patch)
	}
}

func TestExtractProfessionalMismatch(t *testing.T) {
	e := testExtractor(t)
	// Ana Paula does not perform endoscopia.
	current := Fields{PatientName: "Lucas", PatientPhone: "47997192447", ServiceID: "svc-endo"}

	ext, err := e.Extract(context.Background(), current, []string{"Ana Paula"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ext.Rejection == nil || ext.Rejection.Reason != RejectMismatch {
		t.Fatalf("expected mismatch rejection, got %+v", ext)
	}
}

func TestExtractAmbiguousProfessional(t *testing.T) {
	e := testExtractor(t)
	// Both Ana Paula and Ana Clara offer consulta.
	current := Fields{PatientName: "Lucas", PatientPhone: "47997192447", ServiceID: "svc-consulta"}

	ext, err := e.Extract(context.Background(), current, []string{"Ana"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ext.Ambiguities) != 1 {
		t.Fatalf("expected ambiguity, got %+v", ext)
	}
	amb := ext.Ambiguities[0]
	if amb.Field != FieldProfessional || len(amb.Candidates) != 2 {
		t.Fatalf("unexpected ambiguity: %+v", amb)
	}
	if _, ok := ext.Patch[FieldProfessional]; ok {
		t.Fatal("ambiguous match must never set the field")
	}

	// A fuller name resolves it.
	ext, err = e.Extract(context.Background(), current, []string{"Ana Clara"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ext.Patch[FieldProfessional] != "pro-anaclara" {
		t.Fatalf("expected pro-anaclara, got %+v", ext.Patch)
	}
}

func TestExtractTimeCorrectionWhileSoliciting(t *testing.T) {
	e := testExtractor(t)
	// Time already set; a bare clock fragment replaces it even though the
	// dialogue currently solicits nothing else.
	current := Fields{
		PatientName: "Lucas", PatientPhone: "47997192447",
		ServiceID: "svc-endo", ProfessionalID: "pro-carlos",
		Date: "04/07/2026", Time: "16:30",
	}

	ext, err := e.Extract(context.Background(), current, []string{"17:00"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ext.Patch[FieldTime] != "17:00" {
		t.Fatalf("expected corrected time, got %+v", ext.Patch)
	}
}

func TestExtractServiceCorrectionByName(t *testing.T) {
	e := testExtractor(t)
	current := Fields{
		PatientName: "Lucas", PatientPhone: "47997192447",
		ServiceID: "svc-endo", ProfessionalID: "pro-carlos",
		Date: "04/07/2026", Time: "16:30",
	}

	ext, err := e.Extract(context.Background(), current, []string{"Colonoscopia"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ext.Patch[FieldService] != "svc-colo" {
		t.Fatalf("expected service correction, got %+v", ext.Patch)
	}
}

func TestExtractLeavesConfirmationVocabularyAlone(t *testing.T) {
	e := testExtractor(t)
	current := Fields{
		PatientName: "Lucas", PatientPhone: "47997192447",
		ServiceID: "svc-endo", ProfessionalID: "pro-carlos",
		Date: "04/07/2026", Time: "16:30",
	}

	ext, err := e.Extract(context.Background(), current, []string{"tanto faz"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ext.Found() || ext.Rejection != nil || len(ext.Ambiguities) != 0 {
		t.Fatalf("expected empty extraction, got %+v", ext)
	}
}

func TestNormalizeDate(t *testing.T) {
	loc, _ := time.LoadLocation("America/Sao_Paulo")
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, loc)

	tests := []struct {
		input string
		want  string
		ok    bool
	}{
		{"04/07", "04/07/2026", true},
		{"4/7", "04/07/2026", true},
		// Already passed this year: next occurrence.
		{"15/01", "15/01/2027", true},
		{"04/07/2027", "04/07/2027", true},
		{"31/02", "", false},
		{"2026-07-04", "", false},
		{"amanhã", "", false},
	}
	for _, tc := range tests {
		got, ok := normalizeDate(tc.input, now)
		if ok != tc.ok || got != tc.want {
			t.Errorf("normalizeDate(%q) = (%q, %v), want (%q, %v)", tc.input, got, ok, tc.want, tc.ok)
		}
	}
}

func TestNormalizeClock(t *testing.T) {
	tests := []struct {
		input string
		want  string
		ok    bool
	}{
		{"16:30", "16:30", true},
		{"9:05", "09:05", true},
		{"24:00", "", false},
		{"16h30", "", false},
		{"16:30:00", "", false},
	}
	for _, tc := range tests {
		got, ok := normalizeClock(tc.input)
		if ok != tc.ok || got != tc.want {
			t.Errorf("normalizeClock(%q) = (%q, %v), want (%q, %v)", tc.input, got, ok, tc.want, tc.ok)
		}
	}
}

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		input string
		want  string
		ok    bool
	}{
		{"47997192447", "47997192447", true},
		{"(47) 99719-2447", "47997192447", true},
		{"+55 47 99719-2447", "5547997192447", true},
		{"1234567", "", false},
		{"telefone 47997192447", "", false},
	}
	for _, tc := range tests {
		got, ok := normalizePhone(tc.input)
		if ok != tc.ok || got != tc.want {
			t.Errorf("normalizePhone(%q) = (%q, %v), want (%q, %v)", tc.input, got, ok, tc.want, tc.ok)
		}
	}
}
