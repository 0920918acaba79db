package booking

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/lucasdmc/atendeai-lify-admin-sub001/internal/catalog"
)

// RejectReason classifies why a fragment failed validation.
type RejectReason string

const (
	// RejectUnrecognized means the fragment did not validate against the
	// solicited field's shape (malformed date, unknown service name, ...).
	RejectUnrecognized RejectReason = "unrecognized"
	// RejectMismatch means the professional exists but does not offer the
	// session's chosen service.
	RejectMismatch RejectReason = "mismatch"
)

// Ambiguity records a name that matched more than one catalog entry.
// It must be surfaced to the user, never resolved silently.
type Ambiguity struct {
	Field      Field
	Query      string
	Candidates []string
}

// Rejection records a fragment that could not be used for the field it
// was solicited for.
type Rejection struct {
	Field    Field
	Fragment string
	Reason   RejectReason
}

// Extraction is the tagged result of one extraction pass. Patch holds
// only fields that were positively extracted; absence means "still
// unknown", never a guess.
type Extraction struct {
	Patch       map[Field]string
	Consumed    int
	Ambiguities []Ambiguity
	Rejection   *Rejection
}

// Found reports whether the pass produced at least one field value.
func (e Extraction) Found() bool { return len(e.Patch) > 0 }

// Extractor parses inbound fragments into booking fields using
// positional and pattern heuristics. It is stateless; callers own the
// buffer and the merge.
type Extractor struct {
	directory catalog.Directory
	loc       *time.Location
	nowFn     func() time.Time
}

// NewExtractor builds an extractor resolving names against the given
// directory and interpreting dates in the clinic's timezone.
func NewExtractor(directory catalog.Directory, loc *time.Location) *Extractor {
	if directory == nil {
		panic("booking: directory cannot be nil")
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Extractor{directory: directory, loc: loc, nowFn: time.Now}
}

// fullShapeLines is the line count of the single-message payload:
// name, phone, service, professional, date, time.
const fullShapeLines = 6

// Extract runs one pass over the fragment buffer. current tells the
// extractor which fields are already known so it can solicit the next
// missing one and recognize corrections to set ones. Fragments are
// processed head-first; Consumed says how many the caller must drop
// from the session's buffer.
func (e *Extractor) Extract(ctx context.Context, current Fields, buffer []string) (Extraction, error) {
	out := Extraction{Patch: make(map[Field]string)}
	work := current

	for _, fragment := range buffer {
		fragment = strings.TrimSpace(fragment)
		if fragment == "" {
			out.Consumed++
			continue
		}

		if lines, ok := splitFullShape(fragment); ok {
			stop, err := e.consumeFullShape(ctx, lines, &work, &out)
			if err != nil {
				return Extraction{}, err
			}
			out.Consumed++
			if stop {
				return out, nil
			}
			continue
		}

		// Unambiguous pattern corrections (a new time, date or phone for a
		// field already set) win over whatever is being solicited.
		if matched := patternCorrection(fragment, e.nowFn().In(e.loc), &work, &out); matched {
			continue
		}

		missing, hasMissing := work.FirstMissing()
		if !hasMissing {
			// Everything collected: the fragment is either a name-based
			// correction or not ours to consume (confirmation vocabulary is
			// the engine's business).
			matched, stop, err := e.nameCorrection(ctx, fragment, &work, &out)
			if err != nil {
				return Extraction{}, err
			}
			if !matched || stop {
				return out, nil
			}
			continue
		}

		stop, err := e.consumeSequential(ctx, fragment, missing, &work, &out)
		if err != nil {
			return Extraction{}, err
		}
		if stop {
			return out, nil
		}
	}

	return out, nil
}

// consumeFullShape validates the six positional lines and applies every
// field that resolves. Returns stop=true when an ambiguity or rejection
// ends the pass.
func (e *Extractor) consumeFullShape(ctx context.Context, lines []string, work *Fields, out *Extraction) (bool, error) {
	apply(work, out, FieldPatientName, strings.TrimSpace(lines[0]))
	if phone, ok := normalizePhone(lines[1]); ok {
		apply(work, out, FieldPatientPhone, phone)
	}
	if date, ok := normalizeDate(lines[4], e.nowFn().In(e.loc)); ok {
		apply(work, out, FieldDate, date)
	}
	if clock, ok := normalizeClock(lines[5]); ok {
		apply(work, out, FieldTime, clock)
	}

	stop, err := e.resolveService(ctx, lines[2], work, out)
	if err != nil || stop {
		return stop, err
	}
	return e.resolveProfessional(ctx, lines[3], work, out)
}

func (e *Extractor) consumeSequential(ctx context.Context, fragment string, missing Field, work *Fields, out *Extraction) (bool, error) {
	switch missing {
	case FieldPatientName:
		if looksLikeName(fragment) {
			out.Consumed++
			apply(work, out, FieldPatientName, fragment)
			return false, nil
		}
	case FieldPatientPhone:
		if phone, ok := normalizePhone(fragment); ok {
			out.Consumed++
			apply(work, out, FieldPatientPhone, phone)
			return false, nil
		}
	case FieldService:
		out.Consumed++
		return e.resolveService(ctx, fragment, work, out)
	case FieldProfessional:
		out.Consumed++
		return e.resolveProfessional(ctx, fragment, work, out)
	case FieldDate:
		if date, ok := normalizeDate(fragment, e.nowFn().In(e.loc)); ok {
			out.Consumed++
			apply(work, out, FieldDate, date)
			return false, nil
		}
	case FieldTime:
		if clock, ok := normalizeClock(fragment); ok {
			out.Consumed++
			apply(work, out, FieldTime, clock)
			return false, nil
		}
	}

	// Not the solicited field: maybe the patient is renaming the service
	// or professional they already picked.
	matched, stop, err := e.nameCorrection(ctx, fragment, work, out)
	if err != nil {
		return true, err
	}
	if matched {
		return stop, nil
	}

	out.Consumed++
	out.Rejection = &Rejection{Field: missing, Fragment: fragment, Reason: RejectUnrecognized}
	return true, nil
}

// patternCorrection reads the fragment as a replacement time, date or
// phone when that field already holds a value. These shapes are
// unambiguous, so they are safe to honor at any step.
func patternCorrection(fragment string, now time.Time, work *Fields, out *Extraction) bool {
	if work.Time != "" {
		if clock, ok := normalizeClock(fragment); ok {
			out.Consumed++
			apply(work, out, FieldTime, clock)
			return true
		}
	}
	if work.Date != "" {
		if date, ok := normalizeDate(fragment, now); ok {
			out.Consumed++
			apply(work, out, FieldDate, date)
			return true
		}
	}
	if work.PatientPhone != "" {
		if phone, ok := normalizePhone(fragment); ok {
			out.Consumed++
			apply(work, out, FieldPatientPhone, phone)
			return true
		}
	}
	return false
}

// nameCorrection reads the fragment as a new service or professional
// name for a field already set. Free-text patient names are deliberately
// not recognized here: any text would qualify, so a name is only
// corrected by re-sending the full payload.
func (e *Extractor) nameCorrection(ctx context.Context, fragment string, work *Fields, out *Extraction) (matched, stop bool, err error) {
	if work.ServiceID != "" {
		services, err := e.directory.FindServices(ctx, fragment)
		if err != nil {
			return false, true, fmt.Errorf("booking: find services: %w", err)
		}
		if len(services) == 1 {
			out.Consumed++
			apply(work, out, FieldService, services[0].ID)
			return true, false, nil
		}
		if len(services) > 1 {
			out.Consumed++
			out.Ambiguities = append(out.Ambiguities, Ambiguity{
				Field:      FieldService,
				Query:      fragment,
				Candidates: serviceNames(services),
			})
			return true, true, nil
		}
	}
	if work.ProfessionalID != "" {
		pros, err := e.directory.FindProfessionals(ctx, fragment)
		if err != nil {
			return false, true, fmt.Errorf("booking: find professionals: %w", err)
		}
		if len(pros) > 0 {
			out.Consumed++
			stop, err := e.pickProfessional(fragment, pros, work, out)
			return true, stop, err
		}
	}
	return false, false, nil
}

func (e *Extractor) resolveService(ctx context.Context, query string, work *Fields, out *Extraction) (bool, error) {
	query = strings.TrimSpace(query)
	services, err := e.directory.FindServices(ctx, query)
	if err != nil {
		return true, fmt.Errorf("booking: find services: %w", err)
	}
	switch len(services) {
	case 0:
		out.Rejection = &Rejection{Field: FieldService, Fragment: query, Reason: RejectUnrecognized}
		return true, nil
	case 1:
		apply(work, out, FieldService, services[0].ID)
		return false, nil
	default:
		out.Ambiguities = append(out.Ambiguities, Ambiguity{
			Field:      FieldService,
			Query:      query,
			Candidates: serviceNames(services),
		})
		return true, nil
	}
}

func (e *Extractor) resolveProfessional(ctx context.Context, query string, work *Fields, out *Extraction) (bool, error) {
	query = strings.TrimSpace(query)
	pros, err := e.directory.FindProfessionals(ctx, query)
	if err != nil {
		return true, fmt.Errorf("booking: find professionals: %w", err)
	}
	if len(pros) == 0 {
		out.Rejection = &Rejection{Field: FieldProfessional, Fragment: query, Reason: RejectUnrecognized}
		return true, nil
	}
	return e.pickProfessional(query, pros, work, out)
}

// pickProfessional narrows name matches by the session's service, when
// one is chosen. A single survivor is a positive match; several are an
// ambiguity; none means every namesake works a different service.
func (e *Extractor) pickProfessional(query string, pros []catalog.Professional, work *Fields, out *Extraction) (bool, error) {
	candidates := pros
	if work.ServiceID != "" {
		var offering []catalog.Professional
		for _, pro := range pros {
			if pro.Offers(work.ServiceID) {
				offering = append(offering, pro)
			}
		}
		if len(offering) == 0 {
			out.Rejection = &Rejection{Field: FieldProfessional, Fragment: query, Reason: RejectMismatch}
			return true, nil
		}
		candidates = offering
	}

	if len(candidates) == 1 {
		apply(work, out, FieldProfessional, candidates[0].ID)
		return false, nil
	}
	out.Ambiguities = append(out.Ambiguities, Ambiguity{
		Field:      FieldProfessional,
		Query:      query,
		Candidates: professionalNames(candidates),
	})
	return true, nil
}

func apply(work *Fields, out *Extraction, field Field, value string) {
	if value == "" {
		return
	}
	work.Set(field, value)
	out.Patch[field] = value
}

func serviceNames(services []catalog.Service) []string {
	names := make([]string, 0, len(services))
	for _, svc := range services {
		names = append(names, svc.Name)
	}
	return names
}

func professionalNames(pros []catalog.Professional) []string {
	names := make([]string, 0, len(pros))
	for _, pro := range pros {
		names = append(names, pro.Name)
	}
	return names
}

// splitFullShape reports whether the fragment is the single-message
// payload: exactly six non-empty lines whose structural lines (phone,
// date, time) each validate, with a plausible free-text name on top.
func splitFullShape(fragment string) ([]string, bool) {
	raw := strings.Split(fragment, "\n")
	lines := make([]string, 0, len(raw))
	for _, line := range raw {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) != fullShapeLines {
		return nil, false
	}
	if !looksLikeName(lines[0]) {
		return nil, false
	}
	if _, ok := normalizePhone(lines[1]); !ok {
		return nil, false
	}
	if !dateRe.MatchString(lines[4]) {
		return nil, false
	}
	if _, ok := normalizeClock(lines[5]); !ok {
		return nil, false
	}
	return lines, true
}

var (
	dateRe  = regexp.MustCompile(`^\d{1,2}/\d{1,2}(/\d{4})?$`)
	clockRe = regexp.MustCompile(`^(\d{1,2}):(\d{2})$`)
	phoneRe = regexp.MustCompile(`^\+?[\d\s().-]+$`)
)

// normalizePhone strips formatting and accepts digit sequences of
// plausible Brazilian length (8 to 13 digits).
func normalizePhone(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" || !phoneRe.MatchString(s) {
		return "", false
	}
	var digits strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	d := digits.String()
	if len(d) < 8 || len(d) > 13 {
		return "", false
	}
	return d, true
}

// normalizeDate parses DD/MM or DD/MM/YYYY and returns DD/MM/YYYY. A
// yearless date resolves to the next occurrence: this year, or next
// year when the day has already passed.
func normalizeDate(s string, now time.Time) (string, bool) {
	s = strings.TrimSpace(s)
	if !dateRe.MatchString(s) {
		return "", false
	}
	parts := strings.Split(s, "/")

	candidate := s
	if len(parts) == 2 {
		candidate = s + "/" + now.Format("2006")
	}
	parsed, err := time.ParseInLocation("2/1/2006", candidate, now.Location())
	if err != nil {
		return "", false
	}
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	if len(parts) == 2 && parsed.Before(today) {
		parsed = parsed.AddDate(1, 0, 0)
	}
	return parsed.Format("02/01/2006"), true
}

// normalizeClock parses H:MM or HH:MM into HH:MM.
func normalizeClock(s string) (string, bool) {
	m := clockRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return "", false
	}
	hour := m[1]
	if len(hour) == 1 {
		hour = "0" + hour
	}
	parsed, err := time.Parse("15:04", hour+":"+m[2])
	if err != nil {
		return "", false
	}
	return parsed.Format("15:04"), true
}

// looksLikeName accepts free text that contains letters and is not
// mistakable for one of the structured fields.
func looksLikeName(s string) bool {
	s = strings.TrimSpace(s)
	if len(s) < 2 {
		return false
	}
	if _, ok := normalizePhone(s); ok {
		return false
	}
	if dateRe.MatchString(s) || clockRe.MatchString(s) {
		return false
	}
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || r > 127 {
			return true
		}
	}
	return false
}
