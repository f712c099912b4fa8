package request

import (
	"time"

	"github.com/google/uuid"
)

// Category selects which payload fields are relevant. Immutable after
// creation.
type Category string

const (
	CategoryReport               Category = "REPORT"
	CategoryDeclaration          Category = "DECLARATION"
	CategoryAbsenceJustification Category = "ABSENCE_JUSTIFICATION"
	CategoryRecordUpdate         Category = "RECORD_UPDATE"
	CategoryDismissal            Category = "DISMISSAL"
	CategoryAccessory            Category = "ACCESSORY"
)

var validCategories = map[Category]bool{
	CategoryReport:               true,
	CategoryDeclaration:          true,
	CategoryAbsenceJustification: true,
	CategoryRecordUpdate:         true,
	CategoryDismissal:            true,
	CategoryAccessory:            true,
}

// SigningMode is the reviewer's policy for how an attached document becomes
// signed.
type SigningMode string

const (
	SignDeferToAuthor             SigningMode = "DEFER_TO_AUTHOR"
	SignAsReviewer                SigningMode = "SIGN_AS_REVIEWER"
	SignWithStoredAuthorSignature SigningMode = "SIGN_WITH_STORED_AUTHOR_SIGNATURE"
)

var validSigningModes = map[SigningMode]bool{
	SignDeferToAuthor:             true,
	SignAsReviewer:                true,
	SignWithStoredAuthorSignature: true,
}

// Payload carries category-specific fields supplied at creation. The state
// machine does not interpret them beyond presence checks.
type Payload struct {
	Purpose          string     `json:"purpose,omitempty"`
	ConsultationDate *time.Time `json:"consultation_date,omitempty"`
	SpecialtyID      *uuid.UUID `json:"specialty_id,omitempty"`
	AbsenceStart     *time.Time `json:"absence_start,omitempty"`
	AbsenceEnd       *time.Time `json:"absence_end,omitempty"`
	Reason           string     `json:"reason,omitempty"`
	Notes            string     `json:"notes,omitempty"`
	AttachmentRef    string     `json:"attachment_ref,omitempty"`
}

// Request is the central workflow entity, mapped to the request table.
type Request struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	PatientID      uuid.UUID  `db:"patient_id" json:"patient_id"`
	RequesterID    uuid.UUID  `db:"requester_id" json:"requester_id"`
	AuthorID       *uuid.UUID `db:"author_id" json:"author_id,omitempty"`
	Category       Category   `db:"category" json:"category"`
	Status         Status     `db:"status" json:"status"`
	Payload        Payload    `db:"payload" json:"payload"`
	RequestDate    time.Time  `db:"request_date" json:"request_date"`
	CompletionDate *time.Time `db:"completion_date" json:"completion_date,omitempty"`
	AuthorContent  *string    `db:"author_content" json:"author_content,omitempty"`
	ReviewerNotes  *string    `db:"reviewer_notes" json:"reviewer_notes,omitempty"`
	DocumentRef    *string    `db:"document_ref" json:"document_ref,omitempty"`
	IsSigned       bool       `db:"is_signed" json:"is_signed"`
	VersionID      int64      `db:"version_id" json:"version_id"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

// AttachOptions are the inputs to AttachDocument: either an uploaded blob
// reference or a request to invoke the document generator, plus the signing
// mode driving the target state.
type AttachOptions struct {
	DocumentRef string      `json:"document_ref,omitempty"`
	Generate    bool        `json:"generate,omitempty"`
	Mode        SigningMode `json:"signing_mode"`
}
