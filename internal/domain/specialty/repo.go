package specialty

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("specialty not found")

// Repository persists specialties.
type Repository interface {
	Create(ctx context.Context, s *Specialty) error
	GetByID(ctx context.Context, id uuid.UUID) (*Specialty, error)
	Update(ctx context.Context, s *Specialty) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context) ([]*Specialty, error)
}
