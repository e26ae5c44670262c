package patients

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/healthtrack/healthtrack/internal/platform/apperr"
	"github.com/healthtrack/healthtrack/internal/platform/auth"
	"github.com/healthtrack/healthtrack/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/patient/", h.ListPatients)
	api.POST("/patient/", h.CreatePatient)
	api.GET("/patient/:id/", h.GetPatient)
	api.PUT("/patient/:id/", h.UpdatePatient)
	api.PATCH("/patient/:id/", h.PatchPatient)
	api.DELETE("/patient/:id/", h.DeletePatient)

	api.GET("/patient/:id/assessment/", h.ListPatientAssessments)
	api.POST("/patient/:id/assessment/create", h.CreateAssessment)
	api.GET("/patient/:id/assessment/:assessment_id/", h.GetAssessment)
	api.PUT("/patient/:id/assessment/:assessment_id/", h.UpdateAssessment)
	api.PATCH("/patient/:id/assessment/:assessment_id/", h.PatchAssessment)
	api.DELETE("/patient/:id/assessment/:assessment_id/", h.DeleteAssessment)

	api.GET("/assessment/", h.ListAssessments)
	api.GET("/assessment/:assessment_id/", h.GetAssessment)
	api.PUT("/assessment/:assessment_id/", h.UpdateAssessment)
	api.PATCH("/assessment/:assessment_id/", h.PatchAssessment)
	api.DELETE("/assessment/:assessment_id/", h.DeleteAssessment)
}

// -- Views --

type addressView struct {
	AddressOne string  `json:"address_one"`
	AddressTwo *string `json:"address_two"`
	Country    *string `json:"country"`
	City       *string `json:"city"`
	PostalCode *string `json:"postal_code"`
}

type patientListItem struct {
	ID          uuid.UUID `json:"id"`
	FirstName   string    `json:"first_name"`
	LastName    string    `json:"last_name"`
	Gender      Gender    `json:"gender"`
	PhoneNumber string    `json:"phone_number"`
	DateOfBirth string    `json:"date_of_birth"`
	Age         int       `json:"age"`
}

type patientDetail struct {
	ID          uuid.UUID    `json:"id"`
	Clinician   string       `json:"clinician"`
	FirstName   string       `json:"first_name"`
	LastName    string       `json:"last_name"`
	Address     *addressView `json:"address"`
	Gender      Gender       `json:"gender"`
	PhoneNumber string       `json:"phone_number"`
	DateOfBirth string       `json:"date_of_birth"`
	FullName    string       `json:"full_name"`
	Age         int          `json:"age"`
}

type assessmentListItem struct {
	ID             uuid.UUID      `json:"id"`
	Patient        string         `json:"patient"`
	AssessmentType AssessmentType `json:"assessment_type"`
	AssessmentDate time.Time      `json:"assessment_date"`
	FinalScore     float64        `json:"final_score"`
}

type assessmentDetail struct {
	ID             uuid.UUID      `json:"id"`
	AssessmentType AssessmentType `json:"assessment_type"`
	AssessmentDate time.Time      `json:"assessment_date"`
	FinalScore     float64        `json:"final_score"`
	Question       *string        `json:"question"`
}

func newPatientListItem(p *Patient, now time.Time) patientListItem {
	return patientListItem{
		ID:          p.ID,
		FirstName:   p.FirstName,
		LastName:    p.LastName,
		Gender:      p.Gender,
		PhoneNumber: p.PhoneNumber,
		DateOfBirth: p.DateOfBirth.Format(dateLayout),
		Age:         p.Age(now),
	}
}

func newPatientDetail(p *Patient, now time.Time) patientDetail {
	v := patientDetail{
		ID:          p.ID,
		Clinician:   p.ClinicianEmail,
		FirstName:   p.FirstName,
		LastName:    p.LastName,
		Gender:      p.Gender,
		PhoneNumber: p.PhoneNumber,
		DateOfBirth: p.DateOfBirth.Format(dateLayout),
		FullName:    p.FullName(),
		Age:         p.Age(now),
	}
	if a := p.Address; a != nil {
		v.Address = &addressView{
			AddressOne: a.AddressOne,
			AddressTwo: a.AddressTwo,
			Country:    a.Country,
			City:       a.City,
			PostalCode: a.PostalCode,
		}
	}
	return v
}

func newAssessmentListItem(a *Assessment) assessmentListItem {
	return assessmentListItem{
		ID:             a.ID,
		Patient:        a.PatientFullName,
		AssessmentType: a.AssessmentType,
		AssessmentDate: a.AssessmentDate.UTC(),
		FinalScore:     a.FinalScore,
	}
}

func newAssessmentDetail(a *Assessment) assessmentDetail {
	return assessmentDetail{
		ID:             a.ID,
		AssessmentType: a.AssessmentType,
		AssessmentDate: a.AssessmentDate.UTC(),
		FinalScore:     a.FinalScore,
		Question:       a.Question,
	}
}

// -- Request helpers --

// decodeStrict decodes the request body into dst and rejects keys dst does
// not declare, reporting nested ones by dotted path ("address.x"). An empty
// body decodes as {}.
func decodeStrict(c echo.Context, dst any) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		var tooLarge *echo.HTTPError
		if errors.As(err, &tooLarge) {
			return tooLarge
		}
		return echo.NewHTTPError(http.StatusBadRequest, map[string]string{"detail": "JSON parse error - " + err.Error()})
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}

	if err := json.Unmarshal(body, dst); err != nil {
		var typeErr *json.UnmarshalTypeError
		if !errors.As(err, &typeErr) {
			return echo.NewHTTPError(http.StatusBadRequest, map[string]string{"detail": "JSON parse error - " + err.Error()})
		}
		if typeErr.Field == "" {
			return apperr.Invalid("non_field_errors", "Invalid data. Expected a dictionary, but got "+typeErr.Value+".")
		}
		return apperr.Invalid(typeErr.Field, "Incorrect type. Expected "+typeErr.Type.String()+", got "+typeErr.Value+".")
	}

	unknown := unknownKeys(body, reflect.TypeOf(dst), "")
	if len(unknown) == 0 {
		return nil
	}
	verr := apperr.Validation()
	for _, key := range unknown {
		verr.Add(key, "Unknown field.")
	}
	return verr.Err()
}

// elemTyper is implemented by Optional so the key walk can see through it.
type elemTyper interface {
	elemType() reflect.Type
}

var elemTyperType = reflect.TypeOf((*elemTyper)(nil)).Elem()

// unknownKeys lists, sorted, the object keys in raw that t has no json field
// for. Nested objects are checked against the matching field's type.
func unknownKeys(raw json.RawMessage, t reflect.Type, prefix string) []string {
	for {
		if t.Kind() == reflect.Pointer {
			t = t.Elem()
			continue
		}
		if t.Implements(elemTyperType) {
			t = reflect.Zero(t).Interface().(elemTyper).elemType()
			continue
		}
		break
	}
	if t.Kind() != reflect.Struct {
		return nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil
	}

	fields := make(map[string]reflect.Type, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		switch name {
		case "-":
			continue
		case "":
			name = f.Name
		}
		fields[name] = f.Type
	}

	var out []string
	for key, value := range obj {
		ft, ok := fields[key]
		if !ok {
			out = append(out, prefix+key)
			continue
		}
		out = append(out, unknownKeys(value, ft, prefix+key+".")...)
	}
	sort.Strings(out)
	return out
}

func pathID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusNotFound, map[string]string{"detail": msgNotFound})
	}
	return id, nil
}

// assessmentRef reads the assessment id and, on nested routes, the patient id.
func assessmentRef(c echo.Context) (AssessmentRef, error) {
	id, err := pathID(c, "assessment_id")
	if err != nil {
		return AssessmentRef{}, err
	}
	ref := AssessmentRef{ID: id}
	if c.Param("id") != "" {
		pid, err := pathID(c, "id")
		if err != nil {
			return AssessmentRef{}, err
		}
		ref.PatientID = &pid
	}
	return ref, nil
}

func clinicianID(c echo.Context) uuid.UUID {
	return auth.ClinicianIDFromContext(c.Request().Context())
}

// -- Patient Handlers --

func (h *Handler) ListPatients(c echo.Context) error {
	page, err := pagination.FromContext(c)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	f, err := PatientFilterFromQuery(c.QueryParams())
	if err != nil {
		return apperr.ToHTTP(err)
	}
	patients, total, err := h.svc.ListPatients(c.Request().Context(), clinicianID(c), f, page)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	now := h.svc.Now()
	items := make([]patientListItem, 0, len(patients))
	for _, p := range patients {
		items = append(items, newPatientListItem(p, now))
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, page))
}

func (h *Handler) CreatePatient(c echo.Context) error {
	var in PatientInput
	if err := decodeStrict(c, &in); err != nil {
		return apperr.ToHTTP(err)
	}
	p, err := h.svc.CreatePatient(c.Request().Context(), clinicianID(c), in)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, newPatientDetail(p, h.svc.Now()))
}

func (h *Handler) GetPatient(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	p, err := h.svc.GetPatient(c.Request().Context(), clinicianID(c), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, newPatientDetail(p, h.svc.Now()))
}

func (h *Handler) UpdatePatient(c echo.Context) error {
	return h.updatePatient(c, true)
}

func (h *Handler) PatchPatient(c echo.Context) error {
	return h.updatePatient(c, false)
}

func (h *Handler) updatePatient(c echo.Context, full bool) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var patch PatientPatch
	if err := decodeStrict(c, &patch); err != nil {
		return apperr.ToHTTP(err)
	}
	p, err := h.svc.UpdatePatient(c.Request().Context(), clinicianID(c), id, patch, full)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, newPatientDetail(p, h.svc.Now()))
}

func (h *Handler) DeletePatient(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	if err := h.svc.DeletePatient(c.Request().Context(), clinicianID(c), id); err != nil {
		return apperr.ToHTTP(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Assessment Handlers --

func (h *Handler) ListAssessments(c echo.Context) error {
	page, err := pagination.FromContext(c)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	f, err := AssessmentFilterFromQuery(c.QueryParams(), false)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	items, total, err := h.svc.ListAssessments(c.Request().Context(), clinicianID(c), f, page)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(assessmentList(items), total, page))
}

func (h *Handler) ListPatientAssessments(c echo.Context) error {
	patientID, err := pathID(c, "id")
	if err != nil {
		return err
	}
	page, err := pagination.FromContext(c)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	f, err := AssessmentFilterFromQuery(c.QueryParams(), true)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	items, total, err := h.svc.ListPatientAssessments(c.Request().Context(), clinicianID(c), patientID, f, page)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(assessmentList(items), total, page))
}

func assessmentList(items []*Assessment) []assessmentListItem {
	out := make([]assessmentListItem, 0, len(items))
	for _, a := range items {
		out = append(out, newAssessmentListItem(a))
	}
	return out
}

func (h *Handler) CreateAssessment(c echo.Context) error {
	patientID, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var in AssessmentInput
	if err := decodeStrict(c, &in); err != nil {
		return apperr.ToHTTP(err)
	}
	a, err := h.svc.CreateAssessment(c.Request().Context(), clinicianID(c), patientID, in)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, newAssessmentDetail(a))
}

func (h *Handler) GetAssessment(c echo.Context) error {
	ref, err := assessmentRef(c)
	if err != nil {
		return err
	}
	a, err := h.svc.GetAssessment(c.Request().Context(), clinicianID(c), ref)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, newAssessmentDetail(a))
}

func (h *Handler) UpdateAssessment(c echo.Context) error {
	return h.updateAssessment(c, true)
}

func (h *Handler) PatchAssessment(c echo.Context) error {
	return h.updateAssessment(c, false)
}

func (h *Handler) updateAssessment(c echo.Context, full bool) error {
	ref, err := assessmentRef(c)
	if err != nil {
		return err
	}
	var patch AssessmentPatch
	if err := decodeStrict(c, &patch); err != nil {
		return apperr.ToHTTP(err)
	}
	a, err := h.svc.UpdateAssessment(c.Request().Context(), clinicianID(c), ref, patch, full)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, newAssessmentDetail(a))
}

func (h *Handler) DeleteAssessment(c echo.Context) error {
	ref, err := assessmentRef(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteAssessment(c.Request().Context(), clinicianID(c), ref); err != nil {
		return apperr.ToHTTP(err)
	}
	return c.NoContent(http.StatusNoContent)
}
