package clinician

import (
	"context"
)

type Repository interface {
	// Upsert inserts c or refreshes email and names of an existing row.
	// Empty optional names never overwrite stored values.
	Upsert(ctx context.Context, c *Clinician) error
}
