package clinician

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/healthtrack/healthtrack/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) Upsert(ctx context.Context, c *Clinician) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO clinician (id, email, first_name, last_name)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			email      = EXCLUDED.email,
			first_name = COALESCE(EXCLUDED.first_name, clinician.first_name),
			last_name  = COALESCE(EXCLUDED.last_name, clinician.last_name),
			updated_at = NOW()
		RETURNING clinic_name, created_at, updated_at`,
		c.ID, c.Email, c.FirstName, c.LastName,
	).Scan(&c.ClinicName, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert clinician: %w", err)
	}
	return nil
}
