package patients

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/healthtrack/healthtrack/internal/platform/apperr"
)

func TestOptional_UnmarshalJSON(t *testing.T) {
	var body struct {
		City    Optional[string]  `json:"city"`
		Country Optional[string]  `json:"country"`
		Score   Optional[float64] `json:"score"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"city": null, "score": 4.5}`), &body))

	assert.True(t, body.City.Set)
	assert.True(t, body.City.Null)
	assert.False(t, body.City.Present())
	assert.Nil(t, body.City.Ptr())

	assert.False(t, body.Country.Set)
	assert.Nil(t, body.Country.Ptr())

	assert.True(t, body.Score.Present())
	assert.Equal(t, 4.5, *body.Score.Ptr())
}

func TestOptional_TypeMismatch(t *testing.T) {
	var o Optional[string]
	assert.Error(t, json.Unmarshal([]byte(`12`), &o))
}

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"+33612345678", "+33612345678", true},
		{"+33 6 12 34 56 78", "+33612345678", true},
		{"0612345678", "", false},
		{"12345", "", false},
		{"+1", "", false},
		{"not a phone", "", false},
	}
	for _, tt := range tests {
		got, ok := NormalizePhone(tt.in)
		if ok != tt.ok || got != tt.want {
			t.Errorf("NormalizePhone(%q) = (%q, %v), want (%q, %v)", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestNormalizeCountry(t *testing.T) {
	code, ok := NormalizeCountry(" gb ")
	assert.True(t, ok)
	assert.Equal(t, "GB", code)

	_, ok = NormalizeCountry("XX")
	assert.False(t, ok)
}

func TestParseDateTime(t *testing.T) {
	for _, s := range []string{"2024-02-01T09:30:00Z", "2024-02-01T10:30:00+01:00", "2024-02-01T09:30:00", "2024-02-01T09:30"} {
		got, ok := parseDateTime(s)
		require.True(t, ok, s)
		assert.Equal(t, 9, got.Hour(), s)
		assert.Equal(t, 30, got.Minute(), s)
	}
	got, ok := parseDateTime("2024-02-01")
	require.True(t, ok)
	assert.Zero(t, got.Hour())

	_, ok = parseDateTime("01/02/2024")
	assert.False(t, ok)
}

func TestAddressPatch_Validate(t *testing.T) {
	p := AddressPatch{Country: Some(" fr "), City: Some("  Lyon ")}
	require.False(t, p.validate(false).HasErrors())
	assert.Equal(t, "FR", p.Country.Value)
	assert.Equal(t, "Lyon", p.City.Value)

	blank := AddressPatch{Country: Some("")}
	require.False(t, blank.validate(false).HasErrors())
	assert.True(t, blank.Country.Null)

	full := AddressPatch{}
	assert.Contains(t, full.validate(true).Fields, "address_one")

	null := AddressPatch{AddressOne: Optional[string]{Set: true, Null: true}}
	assert.Contains(t, null.validate(false).Fields, "address_one")
}

func TestAddressPatch_Apply(t *testing.T) {
	a := &Address{AddressOne: "1 Main St", City: strPtr("Lyon"), PostalCode: strPtr("69001")}
	p := AddressPatch{
		AddressTwo: Some("Floor 2"),
		PostalCode: Optional[string]{Set: true, Null: true},
	}
	p.Apply(a)

	assert.Equal(t, "1 Main St", a.AddressOne)
	assert.Equal(t, "Lyon", *a.City)
	assert.Equal(t, "Floor 2", *a.AddressTwo)
	assert.Nil(t, a.PostalCode)
}

func TestAddressPatch_NewAddress(t *testing.T) {
	_, err := (&AddressPatch{City: Some("Nice")}).NewAddress()
	requireField(t, err, "address.address_one")

	a, err := (&AddressPatch{AddressOne: Some("2 Rue"), City: Some("Nice")}).NewAddress()
	require.NoError(t, err)
	assert.Equal(t, "2 Rue", a.AddressOne)
	assert.Equal(t, "Nice", *a.City)
}

func TestPatientPatch_NullAddress(t *testing.T) {
	var patch PatientPatch
	require.NoError(t, json.Unmarshal([]byte(`{"first_name": "Ada", "address": null}`), &patch))
	assert.Nil(t, patch.Address)
	assert.True(t, patch.FirstName.Present())

	var ae *apperr.Error
	require.ErrorAs(t, patch.Validate(false), &ae)
	assert.Equal(t, []string{msgNull}, ae.Fields["address"])

	var absent PatientPatch
	require.NoError(t, json.Unmarshal([]byte(`{"first_name": "Ada"}`), &absent))
	assert.NoError(t, absent.Validate(false))
}

func TestUnknownKeys(t *testing.T) {
	body := []byte(`{"first_name": "A", "ssn": 1, "address": {"city": "Lyon", "x": 1, "y": {}}, "gender": null}`)
	assert.Equal(t, []string{"address.x", "address.y", "ssn"}, unknownKeys(body, reflect.TypeOf(&PatientPatch{}), ""))

	assert.Empty(t, unknownKeys([]byte(`{"address": null}`), reflect.TypeOf(&PatientPatch{}), ""))
	assert.Empty(t, unknownKeys([]byte(`{"question": "q", "final_score": 5}`), reflect.TypeOf(&AssessmentInput{}), ""))
}

func TestPatientInput_Validate(t *testing.T) {
	in := PatientInput{
		FirstName:   " Ada ",
		LastName:    "Lovelace",
		PhoneNumber: "+33 6 12 34 56 78",
		DateOfBirth: "1815-12-10",
		Address:     &AddressInput{AddressOne: "St James's Square", Country: strPtr(""), AddressTwo: strPtr(" ")},
	}
	p, addr, err := in.Validate()
	require.NoError(t, err)
	assert.Equal(t, "Ada", p.FirstName)
	assert.Equal(t, GenderOther, p.Gender)
	assert.Equal(t, "+33612345678", p.PhoneNumber)
	assert.Equal(t, date(1815, 12, 10), p.DateOfBirth)
	require.NotNil(t, addr)
	assert.Nil(t, addr.Country)
	assert.Equal(t, "", *addr.AddressTwo)
}

func TestPatientInput_CollectsAllErrors(t *testing.T) {
	_, _, err := (&PatientInput{Gender: strPtr("x")}).Validate()
	requireKindFields(t, err, "first_name", "last_name", "gender", "phone_number", "date_of_birth")
}

func TestAssessmentInput_Validate(t *testing.T) {
	clinician, patient := uuid.New(), uuid.New()
	in := AssessmentInput{
		AssessmentType: "cognitive",
		AssessmentDate: strPtr("2024-01-05"),
		FinalScore:     floatPtr(9.75),
		Question:       strPtr("Orientation to time and place"),
	}
	a, err := in.Validate(clinician, patient, fixedNow)
	require.NoError(t, err)
	assert.Equal(t, clinician, a.ClinicianID)
	assert.Equal(t, patient, a.PatientID)
	assert.Equal(t, date(2024, 1, 5), a.AssessmentDate)
	assert.Equal(t, 9.75, a.FinalScore)
}

func TestAssessmentPatch_Validate(t *testing.T) {
	assert.NoError(t, (&AssessmentPatch{}).Validate(false))

	err := (&AssessmentPatch{}).Validate(true)
	requireKindFields(t, err, "assessment_type", "final_score")

	err = (&AssessmentPatch{
		AssessmentType: Optional[string]{Set: true, Null: true},
		AssessmentDate: Optional[string]{Set: true, Null: true},
		FinalScore:     Some(0.5),
	}).Validate(false)
	requireKindFields(t, err, "assessment_type", "assessment_date", "final_score")
}

func requireKindFields(t *testing.T, err error, fields ...string) {
	t.Helper()
	for _, f := range fields {
		requireField(t, err, f)
	}
}
