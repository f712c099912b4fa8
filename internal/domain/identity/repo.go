package identity

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a user or patient does not exist.
var ErrNotFound = errors.New("not found")

// UserRepository persists users.
type UserRepository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	Update(ctx context.Context, u *User) error
	SetSignatureRef(ctx context.Context, id uuid.UUID, ref *string) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, role string, limit, offset int) ([]*User, int, error)
}

// PatientRepository persists patients.
type PatientRepository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	Update(ctx context.Context, p *Patient) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, limit, offset int) ([]*Patient, int, error)
	ListByGuardian(ctx context.Context, guardianID uuid.UUID, limit, offset int) ([]*Patient, int, error)
}
