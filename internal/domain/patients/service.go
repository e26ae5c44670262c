package patients

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/healthtrack/healthtrack/internal/platform/apperr"
	"github.com/healthtrack/healthtrack/internal/platform/db"
	"github.com/healthtrack/healthtrack/internal/platform/metrics"
	"github.com/healthtrack/healthtrack/pkg/pagination"
)

const (
	msgNotFound           = "Not found."
	msgPatientNotFound    = "Patient not found."
	msgAssessmentNotFound = "Assessment not found."
	msgForbidden          = "You do not have permission to perform this action."

	phoneConstraint = "patient_phone_number_key"
)

// Options tunes a Service. The zero value is usable.
type Options struct {
	// RequirePatientOwner restricts assessment creation to the clinician
	// who owns the patient.
	RequirePatientOwner bool
	Logger              *zerolog.Logger
	Metrics             *metrics.Metrics
	// Now overrides the clock, for tests.
	Now func() time.Time
}

type Service struct {
	addresses   AddressRepository
	patients    PatientRepository
	assessments AssessmentRepository
	tx          TxRunner

	requireOwner bool
	logger       zerolog.Logger
	metrics      *metrics.Metrics
	now          func() time.Time
}

func NewService(addresses AddressRepository, patients PatientRepository, assessments AssessmentRepository, tx TxRunner, opts Options) *Service {
	s := &Service{
		addresses:    addresses,
		patients:     patients,
		assessments:  assessments,
		tx:           tx,
		requireOwner: opts.RequirePatientOwner,
		logger:       zerolog.Nop(),
		metrics:      opts.Metrics,
		now:          opts.Now,
	}
	if opts.Logger != nil {
		s.logger = opts.Logger.With().Str("component", "patients").Logger()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Now is the clock used for derived fields such as age.
func (s *Service) Now() time.Time {
	return s.now()
}

func requireClinician(clinicianID uuid.UUID) error {
	if clinicianID == uuid.Nil {
		return apperr.Unauthenticated()
	}
	return nil
}

// translate maps repository errors onto the domain taxonomy. notFound is
// the detail reported when the row is missing.
func translate(err error, notFound string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, db.ErrNotFound) {
		return apperr.NotFound(notFound)
	}
	if constraint, ok := db.UniqueViolation(err); ok && constraint == phoneConstraint {
		return apperr.Invalid("phone_number", msgPhoneTaken)
	}
	return err
}

// -- Patients --

func (s *Service) CreatePatient(ctx context.Context, clinicianID uuid.UUID, in PatientInput) (*Patient, error) {
	if err := requireClinician(clinicianID); err != nil {
		return nil, err
	}
	p, addr, err := in.Validate()
	if err != nil {
		return nil, err
	}
	p.ClinicianID = clinicianID

	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if addr != nil {
			if err := s.addresses.Create(ctx, addr); err != nil {
				return err
			}
			p.AddressID = &addr.ID
		}
		return s.patients.Create(ctx, p)
	})
	if err != nil {
		return nil, translate(err, msgPatientNotFound)
	}
	s.metrics.IncPatientsCreated()
	s.logger.Debug().
		Str("patient_id", p.ID.String()).
		Bool("with_address", addr != nil).
		Msg("patient created")

	return s.reload(ctx, p.ID)
}

// GetPatient returns NotFound for unknown ids and Forbidden for patients of
// other clinicians.
func (s *Service) GetPatient(ctx context.Context, clinicianID, patientID uuid.UUID) (*Patient, error) {
	if err := requireClinician(clinicianID); err != nil {
		return nil, err
	}
	p, err := s.patients.GetByID(ctx, patientID)
	if err != nil {
		return nil, translate(err, msgPatientNotFound)
	}
	if !p.OwnedBy(clinicianID) {
		return nil, apperr.Forbidden(msgForbidden)
	}
	return p, nil
}

// UpdatePatient merges patch into the patient and its address in one
// transaction. With full set every required key must be present.
func (s *Service) UpdatePatient(ctx context.Context, clinicianID, patientID uuid.UUID, patch PatientPatch, full bool) (*Patient, error) {
	p, err := s.GetPatient(ctx, clinicianID, patientID)
	if err != nil {
		return nil, err
	}
	if err := patch.Validate(full); err != nil {
		return nil, err
	}

	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if patch.Address != nil {
			if p.Address != nil {
				patch.Address.Apply(p.Address)
				if err := s.addresses.Update(ctx, p.Address); err != nil {
					return fmt.Errorf("update address: %w", err)
				}
			} else {
				addr, err := patch.Address.NewAddress()
				if err != nil {
					return err
				}
				if err := s.addresses.Create(ctx, addr); err != nil {
					return err
				}
				p.Address = addr
				p.AddressID = &addr.ID
			}
		}
		patch.Apply(p)
		return s.patients.Update(ctx, p)
	})
	if err != nil {
		return nil, translate(err, msgPatientNotFound)
	}
	s.logger.Debug().
		Str("patient_id", p.ID.String()).
		Bool("full", full).
		Bool("address", patch.Address != nil).
		Msg("patient updated")

	return s.reload(ctx, p.ID)
}

// DeletePatient removes the patient together with its assessments and
// address.
func (s *Service) DeletePatient(ctx context.Context, clinicianID, patientID uuid.UUID) error {
	p, err := s.GetPatient(ctx, clinicianID, patientID)
	if err != nil {
		return err
	}

	var removed int64
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		n, err := s.assessments.DeleteByPatient(ctx, p.ID)
		if err != nil {
			return err
		}
		removed = n
		if err := s.patients.Delete(ctx, p.ID); err != nil {
			return err
		}
		if p.AddressID != nil {
			return s.addresses.Delete(ctx, *p.AddressID)
		}
		return nil
	})
	if err != nil {
		return translate(err, msgPatientNotFound)
	}
	s.metrics.IncPatientsDeleted()
	s.logger.Debug().
		Str("patient_id", p.ID.String()).
		Int64("assessments_removed", removed).
		Msg("patient deleted")
	return nil
}

func (s *Service) ListPatients(ctx context.Context, clinicianID uuid.UUID, f PatientFilter, page pagination.Params) ([]*Patient, int, error) {
	if err := requireClinician(clinicianID); err != nil {
		return nil, 0, err
	}
	return s.patients.List(ctx, clinicianID, f, page)
}

func (s *Service) reload(ctx context.Context, id uuid.UUID) (*Patient, error) {
	p, err := s.patients.GetByID(ctx, id)
	if err != nil {
		return nil, translate(err, msgPatientNotFound)
	}
	return p, nil
}

// -- Assessments --

// AssessmentRef addresses an assessment either directly or under a patient.
// When PatientID is set the assessment must belong to that patient.
type AssessmentRef struct {
	ID        uuid.UUID
	PatientID *uuid.UUID
}

// CreateAssessment records an assessment against an existing patient,
// authored by the caller.
func (s *Service) CreateAssessment(ctx context.Context, clinicianID, patientID uuid.UUID, in AssessmentInput) (*Assessment, error) {
	if err := requireClinician(clinicianID); err != nil {
		return nil, err
	}
	p, err := s.patients.GetByID(ctx, patientID)
	if err != nil {
		return nil, translate(err, msgPatientNotFound)
	}
	if s.requireOwner && !p.OwnedBy(clinicianID) {
		return nil, apperr.Forbidden(msgForbidden)
	}

	a, err := in.Validate(clinicianID, p.ID, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.assessments.Create(ctx, a); err != nil {
		return nil, translate(err, msgAssessmentNotFound)
	}
	a.PatientFullName = p.FullName()

	s.metrics.IncAssessmentsCreated(string(a.AssessmentType))
	s.logger.Debug().
		Str("assessment_id", a.ID.String()).
		Str("patient_id", p.ID.String()).
		Bool("patient_owner", p.OwnedBy(clinicianID)).
		Msg("assessment created")
	return a, nil
}

// GetAssessment returns NotFound when ref matches nothing and Forbidden when
// the caller is not the author.
func (s *Service) GetAssessment(ctx context.Context, clinicianID uuid.UUID, ref AssessmentRef) (*Assessment, error) {
	if err := requireClinician(clinicianID); err != nil {
		return nil, err
	}
	a, err := s.assessments.GetByID(ctx, ref.ID)
	if err != nil {
		return nil, translate(err, msgAssessmentNotFound)
	}
	if ref.PatientID != nil && a.PatientID != *ref.PatientID {
		return nil, apperr.NotFound(msgAssessmentNotFound)
	}
	if !a.AuthoredBy(clinicianID) {
		return nil, apperr.Forbidden(msgForbidden)
	}
	return a, nil
}

func (s *Service) UpdateAssessment(ctx context.Context, clinicianID uuid.UUID, ref AssessmentRef, patch AssessmentPatch, full bool) (*Assessment, error) {
	a, err := s.GetAssessment(ctx, clinicianID, ref)
	if err != nil {
		return nil, err
	}
	if err := patch.Validate(full); err != nil {
		return nil, err
	}
	patch.Apply(a)
	if err := s.assessments.Update(ctx, a); err != nil {
		return nil, translate(err, msgAssessmentNotFound)
	}
	return a, nil
}

func (s *Service) DeleteAssessment(ctx context.Context, clinicianID uuid.UUID, ref AssessmentRef) error {
	a, err := s.GetAssessment(ctx, clinicianID, ref)
	if err != nil {
		return err
	}
	return translate(s.assessments.Delete(ctx, a.ID), msgAssessmentNotFound)
}

func (s *Service) ListAssessments(ctx context.Context, clinicianID uuid.UUID, f AssessmentFilter, page pagination.Params) ([]*Assessment, int, error) {
	if err := requireClinician(clinicianID); err != nil {
		return nil, 0, err
	}
	return s.assessments.List(ctx, clinicianID, f, page)
}

// ListPatientAssessments lists the caller's assessments of one patient. An
// unknown patient yields an empty list.
func (s *Service) ListPatientAssessments(ctx context.Context, clinicianID, patientID uuid.UUID, f AssessmentFilter, page pagination.Params) ([]*Assessment, int, error) {
	if err := requireClinician(clinicianID); err != nil {
		return nil, 0, err
	}
	f.PatientID = &patientID
	f.nested = true
	return s.assessments.List(ctx, clinicianID, f, page)
}
