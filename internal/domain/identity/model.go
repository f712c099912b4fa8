package identity

import (
	"time"

	"github.com/google/uuid"
)

// User maps to the app_user table. Guardians open documentation requests,
// therapists write them, admins review them.
type User struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	Name          string     `db:"name" json:"name"`
	Email         string     `db:"email" json:"email"`
	PasswordHash  string     `db:"password_hash" json:"-"`
	Role          string     `db:"role" json:"role"`
	SpecialtyID   *uuid.UUID `db:"specialty_id" json:"specialty_id,omitempty"`
	LicenseNumber *string    `db:"license_number" json:"license_number,omitempty"`
	SignatureRef  *string    `db:"signature_ref" json:"signature_ref,omitempty"`
	Active        bool       `db:"active" json:"active"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
}

// Patient maps to the patient table. Each patient is tied to the guardian
// who requests documentation on their behalf.
type Patient struct {
	ID           uuid.UUID  `db:"id" json:"id"`
	GuardianID   uuid.UUID  `db:"guardian_id" json:"guardian_id"`
	FirstName    string     `db:"first_name" json:"first_name"`
	LastName     string     `db:"last_name" json:"last_name"`
	BirthDate    *time.Time `db:"birth_date" json:"birth_date,omitempty"`
	TherapyType  *string    `db:"therapy_type" json:"therapy_type,omitempty"`
	Shift        *string    `db:"shift" json:"shift,omitempty"`
	Observations *string    `db:"observations" json:"observations,omitempty"`
	Active       bool       `db:"active" json:"active"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// FullName returns the patient's display name.
func (p *Patient) FullName() string {
	if p.LastName == "" {
		return p.FirstName
	}
	return p.FirstName + " " + p.LastName
}
