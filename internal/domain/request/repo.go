package request

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrVersionConflict is returned by UpdateVersioned when the record changed
// since it was read.
var ErrVersionConflict = errors.New("request version conflict")

// Filter narrows List results. Zero-value fields are ignored.
type Filter struct {
	RequesterID *uuid.UUID
	AuthorID    *uuid.UUID
	PatientID   *uuid.UUID
	Status      Status
	Category    Category
}

// Repository is the record store contract the engine depends on.
type Repository interface {
	Create(ctx context.Context, r *Request) error
	GetByID(ctx context.Context, id uuid.UUID) (*Request, error)
	// UpdateVersioned persists r only if the stored version_id still equals
	// r.VersionID, then bumps it. A stale version returns ErrVersionConflict.
	UpdateVersioned(ctx context.Context, r *Request) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, f Filter, limit, offset int) ([]*Request, int, error)
}
