package patients

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/healthtrack/healthtrack/internal/platform/db"
	"github.com/healthtrack/healthtrack/pkg/pagination"
)

// -- Address Repository --

type addressRepoPG struct {
	pool *pgxpool.Pool
}

func NewAddressRepo(pool *pgxpool.Pool) AddressRepository {
	return &addressRepoPG{pool: pool}
}

const addressCols = `id, address_one, address_two, country, city, postal_code`

func (r *addressRepoPG) Create(ctx context.Context, a *Address) error {
	a.ID = uuid.New()
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO address (`+addressCols+`)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		a.ID, a.AddressOne, a.AddressTwo, a.Country, a.City, a.PostalCode,
	)
	if err != nil {
		return fmt.Errorf("address create: %w", err)
	}
	return nil
}

func (r *addressRepoPG) Update(ctx context.Context, a *Address) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE address SET address_one=$2, address_two=$3, country=$4, city=$5, postal_code=$6
		WHERE id = $1`,
		a.ID, a.AddressOne, a.AddressTwo, a.Country, a.City, a.PostalCode,
	)
	if err != nil {
		return fmt.Errorf("address update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return db.ErrNotFound
	}
	return nil
}

func (r *addressRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM address WHERE id = $1`, id); err != nil {
		return fmt.Errorf("address delete: %w", err)
	}
	return nil
}

// -- Patient Repository --

type patientRepoPG struct {
	pool *pgxpool.Pool
}

func NewPatientRepo(pool *pgxpool.Pool) PatientRepository {
	return &patientRepoPG{pool: pool}
}

const patientCols = `p.id, p.clinician_id, p.first_name, p.last_name, p.address_id, p.gender,
	p.phone_number, p.date_of_birth, p.created_at, p.updated_at`

func (r *patientRepoPG) Create(ctx context.Context, p *Patient) error {
	p.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO patient (id, clinician_id, first_name, last_name, address_id, gender, phone_number, date_of_birth)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at`,
		p.ID, p.ClinicianID, p.FirstName, p.LastName, p.AddressID, string(p.Gender), p.PhoneNumber, p.DateOfBirth,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("patient create: %w", err)
	}
	return nil
}

func (r *patientRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	var (
		p    Patient
		a    Address
		aID  *uuid.UUID
		aOne *string
	)
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+patientCols+`, c.email,
			ad.id, ad.address_one, ad.address_two, ad.country, ad.city, ad.postal_code
		FROM patient p
		JOIN clinician c ON c.id = p.clinician_id
		LEFT JOIN address ad ON ad.id = p.address_id
		WHERE p.id = $1`, id,
	).Scan(
		&p.ID, &p.ClinicianID, &p.FirstName, &p.LastName, &p.AddressID, &p.Gender,
		&p.PhoneNumber, &p.DateOfBirth, &p.CreatedAt, &p.UpdatedAt, &p.ClinicianEmail,
		&aID, &aOne, &a.AddressTwo, &a.Country, &a.City, &a.PostalCode,
	)
	if err != nil {
		return nil, db.NotFound(err)
	}
	if aID != nil {
		a.ID = *aID
		if aOne != nil {
			a.AddressOne = *aOne
		}
		p.Address = &a
	}
	return &p, nil
}

func (r *patientRepoPG) Update(ctx context.Context, p *Patient) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE patient SET
			first_name=$2, last_name=$3, address_id=$4, gender=$5, phone_number=$6, date_of_birth=$7,
			updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		p.ID, p.FirstName, p.LastName, p.AddressID, string(p.Gender), p.PhoneNumber, p.DateOfBirth,
	).Scan(&p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("patient update: %w", db.NotFound(err))
	}
	return nil
}

func (r *patientRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM patient WHERE id = $1`, id); err != nil {
		return fmt.Errorf("patient delete: %w", err)
	}
	return nil
}

func (r *patientRepoPG) List(ctx context.Context, clinicianID uuid.UUID, f PatientFilter, page pagination.Params) ([]*Patient, int, error) {
	whereSQL, args := f.whereSQL(clinicianID)
	q := db.Conn(ctx, r.pool)

	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM patient p `+whereSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("patient count: %w", err)
	}

	rows, err := q.Query(ctx, `SELECT `+patientCols+` FROM patient p `+whereSQL+` `+f.orderSQL()+` `+page.SQL(), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("patient list: %w", err)
	}
	defer rows.Close()

	var out []*Patient
	for rows.Next() {
		p, err := scanPatientRow(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, p)
	}
	return out, total, rows.Err()
}

func scanPatientRow(rows pgx.Rows) (*Patient, error) {
	var p Patient
	err := rows.Scan(
		&p.ID, &p.ClinicianID, &p.FirstName, &p.LastName, &p.AddressID, &p.Gender,
		&p.PhoneNumber, &p.DateOfBirth, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// -- Assessment Repository --

type assessmentRepoPG struct {
	pool *pgxpool.Pool
}

func NewAssessmentRepo(pool *pgxpool.Pool) AssessmentRepository {
	return &assessmentRepoPG{pool: pool}
}

const assessmentCols = `a.id, a.clinician_id, a.patient_id, a.assessment_type, a.assessment_date, a.final_score, a.question`

func (r *assessmentRepoPG) Create(ctx context.Context, a *Assessment) error {
	a.ID = uuid.New()
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO assessment (id, clinician_id, patient_id, assessment_type, assessment_date, final_score, question)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.ID, a.ClinicianID, a.PatientID, string(a.AssessmentType), a.AssessmentDate, a.FinalScore, a.Question,
	)
	if err != nil {
		return fmt.Errorf("assessment create: %w", err)
	}
	return nil
}

func (r *assessmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Assessment, error) {
	var a Assessment
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+assessmentCols+` FROM assessment a WHERE a.id = $1`, id).
		Scan(&a.ID, &a.ClinicianID, &a.PatientID, &a.AssessmentType, &a.AssessmentDate, &a.FinalScore, &a.Question)
	if err != nil {
		return nil, db.NotFound(err)
	}
	return &a, nil
}

func (r *assessmentRepoPG) Update(ctx context.Context, a *Assessment) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE assessment SET assessment_type=$2, assessment_date=$3, final_score=$4, question=$5
		WHERE id = $1`,
		a.ID, string(a.AssessmentType), a.AssessmentDate, a.FinalScore, a.Question,
	)
	if err != nil {
		return fmt.Errorf("assessment update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return db.ErrNotFound
	}
	return nil
}

func (r *assessmentRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM assessment WHERE id = $1`, id); err != nil {
		return fmt.Errorf("assessment delete: %w", err)
	}
	return nil
}

func (r *assessmentRepoPG) DeleteByPatient(ctx context.Context, patientID uuid.UUID) (int64, error) {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM assessment WHERE patient_id = $1`, patientID)
	if err != nil {
		return 0, fmt.Errorf("assessment delete by patient: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *assessmentRepoPG) List(ctx context.Context, clinicianID uuid.UUID, f AssessmentFilter, page pagination.Params) ([]*Assessment, int, error) {
	whereSQL, args := f.whereSQL(clinicianID)
	q := db.Conn(ctx, r.pool)

	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM assessment a `+whereSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("assessment count: %w", err)
	}

	rows, err := q.Query(ctx, `
		SELECT `+assessmentCols+`, p.first_name || ' ' || p.last_name
		FROM assessment a
		JOIN patient p ON p.id = a.patient_id
		`+whereSQL+` `+f.orderSQL()+` `+page.SQL(), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("assessment list: %w", err)
	}
	defer rows.Close()

	var out []*Assessment
	for rows.Next() {
		var a Assessment
		if err := rows.Scan(&a.ID, &a.ClinicianID, &a.PatientID, &a.AssessmentType, &a.AssessmentDate,
			&a.FinalScore, &a.Question, &a.PatientFullName); err != nil {
			return nil, 0, err
		}
		out = append(out, &a)
	}
	return out, total, rows.Err()
}
