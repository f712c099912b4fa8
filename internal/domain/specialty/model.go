package specialty

import (
	"time"

	"github.com/google/uuid"
)

// Specialty maps to the specialty table. Therapists reference one; report
// requests name the specialty the guardian wants the report from.
type Specialty struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
