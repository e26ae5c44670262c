package patients

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/healthtrack/healthtrack/internal/platform/apperr"
)

// OrderField is one entry of an ?ordering= parameter.
type OrderField struct {
	Name string
	Desc bool
}

// Sortable columns per list, keyed by the public ordering name.
var (
	patientOrdering = map[string]string{
		"date_of_birth": "p.date_of_birth",
		"created_at":    "p.created_at",
	}
	assessmentOrdering = map[string]string{
		"assessment_date": "a.assessment_date",
		"assessment_type": "a.assessment_type",
		"patient":         "a.patient_id",
		"final_score":     "a.final_score",
	}
	patientAssessmentOrdering = map[string]string{
		"assessment_date": "a.assessment_date",
		"assessment_type": "a.assessment_type",
		"final_score":     "a.final_score",
	}
)

// ParseOrdering reads a comma-separated list of names, each optionally
// prefixed with "-". Names outside allowed are dropped; so are repeats.
func ParseOrdering(raw string, allowed map[string]string) []OrderField {
	var out []OrderField
	seen := map[string]bool{}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		desc := strings.HasPrefix(part, "-")
		name := strings.TrimPrefix(part, "-")
		if _, ok := allowed[name]; !ok || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, OrderField{Name: name, Desc: desc})
	}
	return out
}

// orderBy renders an ORDER BY clause from already allow-listed fields,
// falling back to def and always ending with idColumn for a stable order.
func orderBy(fields []OrderField, allowed map[string]string, def, idColumn string) string {
	if len(fields) == 0 {
		fields = []OrderField{{Name: def}}
	}
	parts := make([]string, 0, len(fields)+1)
	for _, f := range fields {
		col, ok := allowed[f.Name]
		if !ok {
			continue
		}
		if f.Desc {
			col += " DESC"
		}
		parts = append(parts, col)
	}
	parts = append(parts, idColumn)
	return "ORDER BY " + strings.Join(parts, ", ")
}

// where accumulates SQL predicates with positional arguments.
type where struct {
	clauses []string
	args    []any
}

func (w *where) add(clause string, args ...any) {
	for _, a := range args {
		w.args = append(w.args, a)
		clause = strings.Replace(clause, "?", fmt.Sprintf("$%d", len(w.args)), 1)
	}
	w.clauses = append(w.clauses, clause)
}

func (w *where) sql() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return "WHERE " + strings.Join(w.clauses, " AND ")
}

// -- Patients --

type PatientFilter struct {
	Gender   *Gender
	Search   string
	Ordering []OrderField
}

func PatientFilterFromQuery(q url.Values) (PatientFilter, error) {
	verr := apperr.Validation()
	var f PatientFilter

	if raw := q.Get("gender"); raw != "" {
		g := Gender(raw)
		if g.IsValid() {
			f.Gender = &g
		} else {
			verr.Add("gender", "Select a valid choice. "+raw+" is not one of the available choices.")
		}
	}
	f.Search = strings.TrimSpace(q.Get("search"))
	f.Ordering = ParseOrdering(q.Get("ordering"), patientOrdering)

	if err := verr.Err(); err != nil {
		return PatientFilter{}, err
	}
	return f, nil
}

// whereSQL scopes to the clinician. A search term replaces the gender filter.
func (f PatientFilter) whereSQL(clinicianID uuid.UUID) (string, []any) {
	var w where
	w.add("p.clinician_id = ?", clinicianID)
	if f.Search != "" {
		w.add("to_tsvector('simple', p.first_name || ' ' || p.last_name) @@ plainto_tsquery('simple', ?)", f.Search)
	} else if f.Gender != nil {
		w.add("p.gender = ?", string(*f.Gender))
	}
	return w.sql(), w.args
}

func (f PatientFilter) orderSQL() string {
	return orderBy(f.Ordering, patientOrdering, "created_at", "p.id")
}

// -- Assessments --

type AssessmentFilter struct {
	Type       *AssessmentType
	DateAfter  *time.Time
	DateBefore *time.Time
	// PatientID is ?patient= on the top-level list and the path id on the
	// nested list.
	PatientID *uuid.UUID
	Ordering  []OrderField

	nested bool
}

// AssessmentFilterFromQuery parses the top-level list parameters, or the
// nested list parameters when nested is set (no ?patient=, no ordering by
// patient).
func AssessmentFilterFromQuery(q url.Values, nested bool) (AssessmentFilter, error) {
	verr := apperr.Validation()
	f := AssessmentFilter{nested: nested}

	if raw := q.Get("assessment_type"); raw != "" {
		t := AssessmentType(raw)
		if t.IsValid() {
			f.Type = &t
		} else {
			verr.Add("assessment_type", "Select a valid choice. "+raw+" is not one of the available choices.")
		}
	}

	for _, p := range []struct {
		key string
		dst **time.Time
	}{
		{"assessment_date_after", &f.DateAfter},
		{"assessment_date_before", &f.DateBefore},
	} {
		raw := q.Get(p.key)
		if raw == "" {
			continue
		}
		d, ok := parseDate(raw)
		if !ok {
			verr.Add(p.key, "Enter a valid date.")
			continue
		}
		*p.dst = &d
	}

	allowed := assessmentOrdering
	if nested {
		allowed = patientAssessmentOrdering
	} else if raw := q.Get("patient"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			verr.Add("patient", "Select a valid choice. That choice is not one of the available choices.")
		} else {
			f.PatientID = &id
		}
	}
	f.Ordering = ParseOrdering(q.Get("ordering"), allowed)

	if err := verr.Err(); err != nil {
		return AssessmentFilter{}, err
	}
	return f, nil
}

// whereSQL scopes to the author. Date bounds cover whole calendar days:
// after is >= its midnight, before is < the following midnight.
func (f AssessmentFilter) whereSQL(clinicianID uuid.UUID) (string, []any) {
	var w where
	w.add("a.clinician_id = ?", clinicianID)
	if f.PatientID != nil {
		w.add("a.patient_id = ?", *f.PatientID)
	}
	if f.Type != nil {
		w.add("a.assessment_type = ?", string(*f.Type))
	}
	if f.DateAfter != nil {
		w.add("a.assessment_date >= ?", *f.DateAfter)
	}
	if f.DateBefore != nil {
		w.add("a.assessment_date < ?", f.DateBefore.AddDate(0, 0, 1))
	}
	return w.sql(), w.args
}

func (f AssessmentFilter) orderSQL() string {
	allowed := assessmentOrdering
	if f.nested {
		allowed = patientAssessmentOrdering
	}
	return orderBy(f.Ordering, allowed, "assessment_date", "a.id")
}
