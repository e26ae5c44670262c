package patients

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/nyaruka/phonenumbers"

	"github.com/healthtrack/healthtrack/internal/platform/apperr"
)

const (
	msgRequired     = "This field is required."
	msgNull         = "This field may not be null."
	msgBlank        = "This field may not be blank."
	msgPhone        = "Enter a valid phone number."
	msgDate         = "Date has wrong format. Use one of these formats instead: YYYY-MM-DD."
	msgDateTime     = "Datetime has wrong format. Use one of these formats instead: YYYY-MM-DDThh:mm[:ss[.uuuuuu]][+HH:MM|-HH:MM|Z]."
	msgScoreMin     = "Ensure this value is greater than or equal to 1.0."
	msgScoreMax     = "Ensure this value is less than or equal to 10.0."
	msgScoreDecimal = "Ensure that there are no more than 2 decimal places."
	msgPhoneTaken   = "patient with this phone number already exists."

	maxNameLen       = 255
	maxAddressLen    = 400
	maxCityLen       = 255
	maxPostalCodeLen = 30

	dateLayout = "2006-01-02"
)

func msgMaxLen(n int) string {
	return fmt.Sprintf("Ensure this field has no more than %d characters.", n)
}

func msgChoice(v string) string {
	return fmt.Sprintf("%q is not a valid choice.", v)
}

// text trims s and records blank/length errors. It returns the trimmed value.
func text(verr *apperr.Error, field, s string, max int, allowBlank bool) string {
	s = strings.TrimSpace(s)
	if s == "" && !allowBlank {
		verr.Add(field, msgBlank)
		return s
	}
	if utf8.RuneCountInString(s) > max {
		verr.Add(field, msgMaxLen(max))
	}
	return s
}

// NormalizePhone parses an international phone number and returns its E.164
// form. Numbers must carry a leading "+" and country code.
func NormalizePhone(raw string) (string, bool) {
	num, err := phonenumbers.Parse(strings.TrimSpace(raw), "")
	if err != nil || !phonenumbers.IsValidNumber(num) {
		return "", false
	}
	return phonenumbers.Format(num, phonenumbers.E164), true
}

// NormalizeCountry upper-cases an ISO 3166-1 alpha-2 code and reports
// whether it names a known region.
func NormalizeCountry(raw string) (string, bool) {
	code := strings.ToUpper(strings.TrimSpace(raw))
	return code, phonenumbers.GetSupportedRegions()[code]
}

func parseDate(s string) (time.Time, bool) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// parseDateTime accepts RFC 3339 timestamps and bare dates (midnight UTC).
func parseDateTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02T15:04", dateLayout} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func checkScore(verr *apperr.Error, field string, v float64) {
	switch {
	case math.IsNaN(v) || v < MinFinalScore:
		verr.Add(field, msgScoreMin)
	case v > MaxFinalScore:
		verr.Add(field, msgScoreMax)
	}
	if scaled := v * 100; math.Abs(scaled-math.Round(scaled)) > 1e-6 {
		verr.Add(field, msgScoreDecimal)
	}
}

// -- Address --

// AddressInput is the nested address of a patient create request.
type AddressInput struct {
	AddressOne string  `json:"address_one"`
	AddressTwo *string `json:"address_two"`
	Country    *string `json:"country"`
	City       *string `json:"city"`
	PostalCode *string `json:"postal_code"`
}

func (in *AddressInput) validate() *apperr.Error {
	verr := apperr.Validation()
	if strings.TrimSpace(in.AddressOne) == "" {
		verr.Add("address_one", msgRequired)
	} else {
		in.AddressOne = text(verr, "address_one", in.AddressOne, maxAddressLen, false)
	}
	in.AddressTwo = optionalText(verr, "address_two", in.AddressTwo, maxAddressLen)
	in.City = optionalText(verr, "city", in.City, maxCityLen)
	in.PostalCode = optionalText(verr, "postal_code", in.PostalCode, maxPostalCodeLen)
	in.Country = optionalCountry(verr, "country", in.Country)
	return verr
}

func (in *AddressInput) toAddress() *Address {
	return &Address{
		AddressOne: in.AddressOne,
		AddressTwo: in.AddressTwo,
		Country:    in.Country,
		City:       in.City,
		PostalCode: in.PostalCode,
	}
}

func optionalText(verr *apperr.Error, field string, s *string, max int) *string {
	if s == nil {
		return nil
	}
	v := text(verr, field, *s, max, true)
	return &v
}

// optionalCountry stores a blank country as NULL.
func optionalCountry(verr *apperr.Error, field string, s *string) *string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	code, ok := NormalizeCountry(*s)
	if !ok {
		verr.Add(field, msgChoice(*s))
		return nil
	}
	return &code
}

// AddressPatch carries the address keys of a patient update. Nullable
// columns use Optional so an explicit null clears the stored value.
type AddressPatch struct {
	AddressOne Optional[string] `json:"address_one"`
	AddressTwo Optional[string] `json:"address_two"`
	Country    Optional[string] `json:"country"`
	City       Optional[string] `json:"city"`
	PostalCode Optional[string] `json:"postal_code"`
}

func (p *AddressPatch) validate(full bool) *apperr.Error {
	verr := apperr.Validation()
	switch {
	case p.AddressOne.Null:
		verr.Add("address_one", msgNull)
	case p.AddressOne.Set:
		p.AddressOne.Value = text(verr, "address_one", p.AddressOne.Value, maxAddressLen, false)
	case full:
		verr.Add("address_one", msgRequired)
	}
	if p.AddressTwo.Present() {
		p.AddressTwo.Value = text(verr, "address_two", p.AddressTwo.Value, maxAddressLen, true)
	}
	if p.City.Present() {
		p.City.Value = text(verr, "city", p.City.Value, maxCityLen, true)
	}
	if p.PostalCode.Present() {
		p.PostalCode.Value = text(verr, "postal_code", p.PostalCode.Value, maxPostalCodeLen, true)
	}
	if p.Country.Present() {
		if strings.TrimSpace(p.Country.Value) == "" {
			p.Country = Optional[string]{Set: true, Null: true}
		} else if code, ok := NormalizeCountry(p.Country.Value); ok {
			p.Country.Value = code
		} else {
			verr.Add("country", msgChoice(p.Country.Value))
		}
	}
	return verr
}

// Apply merges the set keys into a. Unset keys leave a unchanged.
func (p *AddressPatch) Apply(a *Address) {
	if p.AddressOne.Present() {
		a.AddressOne = p.AddressOne.Value
	}
	if p.AddressTwo.Set {
		a.AddressTwo = p.AddressTwo.Ptr()
	}
	if p.Country.Set {
		a.Country = p.Country.Ptr()
	}
	if p.City.Set {
		a.City = p.City.Ptr()
	}
	if p.PostalCode.Set {
		a.PostalCode = p.PostalCode.Ptr()
	}
}

// NewAddress builds a fresh Address from the patch, for patients that had
// none. address_one must be present.
func (p *AddressPatch) NewAddress() (*Address, error) {
	if !p.AddressOne.Present() {
		return nil, apperr.Invalid("address.address_one", msgRequired)
	}
	a := &Address{}
	p.Apply(a)
	return a, nil
}

// -- Patient --

// PatientInput is the body of a patient create request.
type PatientInput struct {
	FirstName   string        `json:"first_name"`
	LastName    string        `json:"last_name"`
	Address     *AddressInput `json:"address"`
	Gender      *string       `json:"gender"`
	PhoneNumber string        `json:"phone_number"`
	DateOfBirth string        `json:"date_of_birth"`
}

// Validate checks and normalizes the input, returning the patient and
// optional address to insert.
func (in *PatientInput) Validate() (*Patient, *Address, error) {
	verr := apperr.Validation()
	p := &Patient{Gender: GenderOther}

	requiredText := func(field, s string, max int) string {
		if strings.TrimSpace(s) == "" {
			verr.Add(field, msgRequired)
			return ""
		}
		return text(verr, field, s, max, false)
	}
	p.FirstName = requiredText("first_name", in.FirstName, maxNameLen)
	p.LastName = requiredText("last_name", in.LastName, maxNameLen)

	if in.Gender != nil {
		g := Gender(*in.Gender)
		if !g.IsValid() {
			verr.Add("gender", msgChoice(*in.Gender))
		}
		p.Gender = g
	}

	if strings.TrimSpace(in.PhoneNumber) == "" {
		verr.Add("phone_number", msgRequired)
	} else if phone, ok := NormalizePhone(in.PhoneNumber); ok {
		p.PhoneNumber = phone
	} else {
		verr.Add("phone_number", msgPhone)
	}

	if strings.TrimSpace(in.DateOfBirth) == "" {
		verr.Add("date_of_birth", msgRequired)
	} else if dob, ok := parseDate(in.DateOfBirth); ok {
		p.DateOfBirth = dob
	} else {
		verr.Add("date_of_birth", msgDate)
	}

	var addr *Address
	if in.Address != nil {
		verr.Merge("address", in.Address.validate())
		addr = in.Address.toAddress()
	}

	if err := verr.Err(); err != nil {
		return nil, nil, err
	}
	return p, addr, nil
}

// PatientPatch is the body of PUT and PATCH patient requests.
type PatientPatch struct {
	FirstName   Optional[string] `json:"first_name"`
	LastName    Optional[string] `json:"last_name"`
	Address     *AddressPatch    `json:"address"`
	Gender      Optional[string] `json:"gender"`
	PhoneNumber Optional[string] `json:"phone_number"`
	DateOfBirth Optional[string] `json:"date_of_birth"`

	addressNull bool
	dob         time.Time
}

// UnmarshalJSON records an explicit "address": null, which the nil Address
// pointer cannot tell apart from an absent key.
func (p *PatientPatch) UnmarshalJSON(data []byte) error {
	type fields PatientPatch
	if err := json.Unmarshal(data, (*fields)(p)); err != nil {
		return err
	}
	var keys struct {
		Address json.RawMessage `json:"address"`
	}
	if err := json.Unmarshal(data, &keys); err != nil {
		return err
	}
	p.addressNull = bytes.Equal(bytes.TrimSpace(keys.Address), []byte("null"))
	return nil
}

// Validate checks the keys present in the patch. With full set (PUT) every
// required key must be present, including address.address_one.
func (p *PatientPatch) Validate(full bool) error {
	verr := apperr.Validation()

	required := func(field string, o *Optional[string], max int) {
		switch {
		case o.Null:
			verr.Add(field, msgNull)
		case o.Set:
			o.Value = text(verr, field, o.Value, max, false)
		case full:
			verr.Add(field, msgRequired)
		}
	}
	required("first_name", &p.FirstName, maxNameLen)
	required("last_name", &p.LastName, maxNameLen)

	switch {
	case p.Gender.Null:
		verr.Add("gender", msgNull)
	case p.Gender.Set && !Gender(p.Gender.Value).IsValid():
		verr.Add("gender", msgChoice(p.Gender.Value))
	}

	switch {
	case p.PhoneNumber.Null:
		verr.Add("phone_number", msgNull)
	case p.PhoneNumber.Set:
		if phone, ok := NormalizePhone(p.PhoneNumber.Value); ok {
			p.PhoneNumber.Value = phone
		} else {
			verr.Add("phone_number", msgPhone)
		}
	case full:
		verr.Add("phone_number", msgRequired)
	}

	switch {
	case p.DateOfBirth.Null:
		verr.Add("date_of_birth", msgNull)
	case p.DateOfBirth.Set:
		if dob, ok := parseDate(p.DateOfBirth.Value); ok {
			p.dob = dob
		} else {
			verr.Add("date_of_birth", msgDate)
		}
	case full:
		verr.Add("date_of_birth", msgRequired)
	}

	switch {
	case p.addressNull:
		verr.Add("address", msgNull)
	case p.Address != nil:
		verr.Merge("address", p.Address.validate(full))
	case full:
		verr.Add("address", msgRequired)
	}

	return verr.Err()
}

// Apply merges the validated patch into pt. Address changes are applied
// separately through AddressPatch.
func (p *PatientPatch) Apply(pt *Patient) {
	if p.FirstName.Present() {
		pt.FirstName = p.FirstName.Value
	}
	if p.LastName.Present() {
		pt.LastName = p.LastName.Value
	}
	if p.Gender.Present() {
		pt.Gender = Gender(p.Gender.Value)
	}
	if p.PhoneNumber.Present() {
		pt.PhoneNumber = p.PhoneNumber.Value
	}
	if p.DateOfBirth.Present() {
		pt.DateOfBirth = p.dob
	}
}

// -- Assessment --

// AssessmentInput is the body of an assessment create request.
type AssessmentInput struct {
	AssessmentType string   `json:"assessment_type"`
	AssessmentDate *string  `json:"assessment_date"`
	FinalScore     *float64 `json:"final_score"`
	Question       *string  `json:"question"`
}

// Validate returns the assessment to insert. AssessmentDate defaults to now.
func (in *AssessmentInput) Validate(clinicianID, patientID uuid.UUID, now time.Time) (*Assessment, error) {
	verr := apperr.Validation()
	a := &Assessment{
		ClinicianID:    clinicianID,
		PatientID:      patientID,
		AssessmentDate: now.UTC(),
		Question:       in.Question,
	}

	switch t := AssessmentType(strings.TrimSpace(in.AssessmentType)); {
	case t == "":
		verr.Add("assessment_type", msgRequired)
	case !t.IsValid():
		verr.Add("assessment_type", msgChoice(in.AssessmentType))
	default:
		a.AssessmentType = t
	}

	if in.AssessmentDate != nil {
		if d, ok := parseDateTime(*in.AssessmentDate); ok {
			a.AssessmentDate = d
		} else {
			verr.Add("assessment_date", msgDateTime)
		}
	}

	if in.FinalScore == nil {
		verr.Add("final_score", msgRequired)
	} else {
		checkScore(verr, "final_score", *in.FinalScore)
		a.FinalScore = *in.FinalScore
	}

	if err := verr.Err(); err != nil {
		return nil, err
	}
	return a, nil
}

// AssessmentPatch is the body of PUT and PATCH assessment requests. The
// author and patient are never changed by an update.
type AssessmentPatch struct {
	AssessmentType Optional[string]  `json:"assessment_type"`
	AssessmentDate Optional[string]  `json:"assessment_date"`
	FinalScore     Optional[float64] `json:"final_score"`
	Question       Optional[string]  `json:"question"`

	date time.Time
}

func (p *AssessmentPatch) Validate(full bool) error {
	verr := apperr.Validation()

	switch {
	case p.AssessmentType.Null:
		verr.Add("assessment_type", msgNull)
	case p.AssessmentType.Set:
		if !AssessmentType(p.AssessmentType.Value).IsValid() {
			verr.Add("assessment_type", msgChoice(p.AssessmentType.Value))
		}
	case full:
		verr.Add("assessment_type", msgRequired)
	}

	switch {
	case p.AssessmentDate.Null:
		verr.Add("assessment_date", msgNull)
	case p.AssessmentDate.Set:
		if d, ok := parseDateTime(p.AssessmentDate.Value); ok {
			p.date = d
		} else {
			verr.Add("assessment_date", msgDateTime)
		}
	}

	switch {
	case p.FinalScore.Null:
		verr.Add("final_score", msgNull)
	case p.FinalScore.Set:
		checkScore(verr, "final_score", p.FinalScore.Value)
	case full:
		verr.Add("final_score", msgRequired)
	}

	return verr.Err()
}

func (p *AssessmentPatch) Apply(a *Assessment) {
	if p.AssessmentType.Present() {
		a.AssessmentType = AssessmentType(p.AssessmentType.Value)
	}
	if p.AssessmentDate.Present() {
		a.AssessmentDate = p.date
	}
	if p.FinalScore.Present() {
		a.FinalScore = p.FinalScore.Value
	}
	if p.Question.Set {
		a.Question = p.Question.Ptr()
	}
}
