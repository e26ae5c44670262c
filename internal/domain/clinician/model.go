package clinician

import (
	"time"

	"github.com/google/uuid"
)

// Clinician mirrors an identity-provider user. Rows are keyed by the token
// subject and refreshed from claims on authenticated requests.
type Clinician struct {
	ID         uuid.UUID `db:"id" json:"id"`
	Email      string    `db:"email" json:"email"`
	FirstName  *string   `db:"first_name" json:"first_name,omitempty"`
	LastName   *string   `db:"last_name" json:"last_name,omitempty"`
	ClinicName *string   `db:"clinic_name" json:"clinic_name,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}
