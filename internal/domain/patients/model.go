package patients

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
	GenderOther  Gender = "other"
)

var genderLabels = map[Gender]string{
	GenderMale:   "Male",
	GenderFemale: "Female",
	GenderOther:  "Other",
}

func (g Gender) IsValid() bool {
	_, ok := genderLabels[g]
	return ok
}

func (g Gender) Label() string {
	return genderLabels[g]
}

type AssessmentType string

const (
	AssessmentCognitive AssessmentType = "cognitive"
	AssessmentPhysical  AssessmentType = "physical"
	AssessmentMental    AssessmentType = "mental"
	AssessmentEmotional AssessmentType = "emotional"
)

var assessmentTypeLabels = map[AssessmentType]string{
	AssessmentCognitive: "Cognitive Status",
	AssessmentPhysical:  "Physical Ability",
	AssessmentMental:    "Mental Health",
	AssessmentEmotional: "Emotional Well-being",
}

func (t AssessmentType) IsValid() bool {
	_, ok := assessmentTypeLabels[t]
	return ok
}

func (t AssessmentType) Label() string {
	return assessmentTypeLabels[t]
}

const (
	MinFinalScore = 1.0
	MaxFinalScore = 10.0
)

// Address maps to the address table. It belongs to at most one Patient and
// is deleted together with it.
type Address struct {
	ID         uuid.UUID `db:"id" json:"-"`
	AddressOne string    `db:"address_one" json:"address_one"`
	AddressTwo *string   `db:"address_two" json:"address_two"`
	Country    *string   `db:"country" json:"country"`
	City       *string   `db:"city" json:"city"`
	PostalCode *string   `db:"postal_code" json:"postal_code"`
}

// String returns the first ten words of AddressOne, with "..." appended
// when words were dropped.
func (a *Address) String() string {
	words := strings.Fields(a.AddressOne)
	if len(words) <= 10 {
		return strings.Join(words, " ")
	}
	return strings.Join(words[:10], " ") + "..."
}

// Patient maps to the patient table. ClinicianEmail and Address are
// populated by reads that join their tables.
type Patient struct {
	ID             uuid.UUID  `db:"id"`
	ClinicianID    uuid.UUID  `db:"clinician_id"`
	ClinicianEmail string     `db:"-"`
	FirstName      string     `db:"first_name"`
	LastName       string     `db:"last_name"`
	AddressID      *uuid.UUID `db:"address_id"`
	Address        *Address   `db:"-"`
	Gender         Gender     `db:"gender"`
	PhoneNumber    string     `db:"phone_number"`
	DateOfBirth    time.Time  `db:"date_of_birth"`
	CreatedAt      time.Time  `db:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at"`
}

func (p *Patient) FullName() string {
	return p.FirstName + " " + p.LastName
}

// Age is the number of completed years between DateOfBirth and now,
// compared as calendar dates.
func (p *Patient) Age(now time.Time) int {
	by, bm, bd := p.DateOfBirth.Date()
	ny, nm, nd := now.Date()
	age := ny - by
	if nm < bm || (nm == bm && nd < bd) {
		age--
	}
	return age
}

func (p *Patient) OwnedBy(clinicianID uuid.UUID) bool {
	return p.ClinicianID == clinicianID
}

// Assessment maps to the assessment table. PatientFullName is populated by
// list reads that join the patient.
type Assessment struct {
	ID              uuid.UUID      `db:"id"`
	ClinicianID     uuid.UUID      `db:"clinician_id"`
	PatientID       uuid.UUID      `db:"patient_id"`
	PatientFullName string         `db:"-"`
	AssessmentType  AssessmentType `db:"assessment_type"`
	AssessmentDate  time.Time      `db:"assessment_date"`
	FinalScore      float64        `db:"final_score"`
	Question        *string        `db:"question"`
}

func (a *Assessment) AuthoredBy(clinicianID uuid.UUID) bool {
	return a.ClinicianID == clinicianID
}
