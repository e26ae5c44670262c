package patients

import (
	"context"

	"github.com/google/uuid"

	"github.com/healthtrack/healthtrack/pkg/pagination"
)

// Repositories return db.ErrNotFound for lookups that match no row and join
// the transaction carried by ctx, if any.

type AddressRepository interface {
	Create(ctx context.Context, a *Address) error
	Update(ctx context.Context, a *Address) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type PatientRepository interface {
	Create(ctx context.Context, p *Patient) error
	// GetByID loads the patient with its clinician email and address.
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	Update(ctx context.Context, p *Patient) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, clinicianID uuid.UUID, f PatientFilter, page pagination.Params) ([]*Patient, int, error)
}

type AssessmentRepository interface {
	Create(ctx context.Context, a *Assessment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Assessment, error)
	Update(ctx context.Context, a *Assessment) error
	Delete(ctx context.Context, id uuid.UUID) error
	DeleteByPatient(ctx context.Context, patientID uuid.UUID) (int64, error)
	// List fills PatientFullName on every row.
	List(ctx context.Context, clinicianID uuid.UUID, f AssessmentFilter, page pagination.Params) ([]*Assessment, int, error)
}

// TxRunner runs fn in one transaction; *db.TxRunner satisfies it.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}
