package request

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/theradocs/theradocs/internal/platform/auth"
	"github.com/theradocs/theradocs/internal/platform/docgen"
	"github.com/theradocs/theradocs/internal/platform/signature"
)

// Person is the slice of a user record the engine needs.
type Person struct {
	Name      string
	Role      string
	License   string
	Specialty string
}

// PatientInfo is the slice of a patient record the engine needs.
type PatientInfo struct {
	Name       string
	Record     string
	GuardianID uuid.UUID
}

// Directory resolves the references a request carries. A missing record
// yields (nil, nil); errors are reserved for lookup failures.
type Directory interface {
	User(ctx context.Context, id uuid.UUID) (*Person, error)
	Patient(ctx context.Context, id uuid.UUID) (*PatientInfo, error)
}

// Service is the workflow engine. It owns the status field of every request
// and is the only code that moves it.
type Service struct {
	repo       Repository
	dir        Directory
	gen        docgen.Generator
	signatures signature.Provider
}

func NewService(repo Repository, dir Directory, gen docgen.Generator, signatures signature.Provider) *Service {
	return &Service{repo: repo, dir: dir, gen: gen, signatures: signatures}
}

// actor returns the authenticated user's id.
func actor(ctx context.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(auth.UserIDFromContext(ctx))
	if err != nil {
		return uuid.Nil, ErrForbidden
	}
	return id, nil
}

func requireRole(ctx context.Context, role string) error {
	if !auth.HasRole(ctx, role) {
		return ErrForbidden
	}
	return nil
}

// requireAuthor checks that the acting user is the request's assigned
// author. Authoring steps cannot be performed on someone else's behalf.
func requireAuthor(ctx context.Context, req *Request) error {
	if err := requireRole(ctx, auth.RoleTherapist); err != nil {
		return err
	}
	id, err := actor(ctx)
	if err != nil {
		return err
	}
	if req.AuthorID == nil || *req.AuthorID != id {
		return ErrForbidden
	}
	return nil
}

// CreateRequest opens a new request in CREATED on behalf of the
// authenticated guardian.
func (s *Service) CreateRequest(ctx context.Context, patientID uuid.UUID, category Category, payload Payload) (*Request, error) {
	if err := requireRole(ctx, auth.RoleGuardian); err != nil {
		return nil, err
	}
	requesterID, err := actor(ctx)
	if err != nil {
		return nil, err
	}
	if !validCategories[category] {
		return nil, validationFailed("category", "is not a known category")
	}
	if err := validatePayload(category, payload); err != nil {
		return nil, err
	}

	patient, err := s.dir.Patient(ctx, patientID)
	if err != nil {
		return nil, collaboratorFailed("directory", err)
	}
	if patient == nil {
		return nil, validationFailed("patient_id", "does not reference an existing patient")
	}
	if patient.GuardianID != requesterID {
		return nil, validationFailed("patient_id", "patient is not under the requester's guardianship")
	}

	req := &Request{
		PatientID:   patientID,
		RequesterID: requesterID,
		Category:    category,
		Status:      StatusCreated,
		Payload:     payload,
		RequestDate: time.Now().UTC(),
	}
	if err := s.repo.Create(ctx, req); err != nil {
		return nil, collaboratorFailed("record store", err)
	}
	return req, nil
}

func validatePayload(category Category, p Payload) error {
	switch category {
	case CategoryReport:
		if p.Purpose == "" {
			return validationFailed("purpose", "is required for reports")
		}
	case CategoryAbsenceJustification:
		if p.AbsenceStart == nil || p.AbsenceEnd == nil {
			return validationFailed("absence_start/absence_end", "are required for absence justifications")
		}
		if p.AbsenceEnd.Before(*p.AbsenceStart) {
			return validationFailed("absence_end", "precedes absence_start")
		}
		if p.Reason == "" {
			return validationFailed("reason", "is required for absence justifications")
		}
	case CategoryDismissal:
		if p.Reason == "" {
			return validationFailed("reason", "is required for dismissal notices")
		}
	default:
		if p.Notes == "" {
			return validationFailed("notes", "are required for this category")
		}
	}
	return nil
}

// transition runs a single atomic read-validate-persist cycle: load the
// record, check the event against the transition table, check the acting
// role, then persist whatever apply did to the record. A lost write race is
// reported as an invalid transition against the fresh state.
func (s *Service) transition(ctx context.Context, requestID uuid.UUID, ev Event, guard func(*Request) error, apply func(*Request) error) (*Request, error) {
	req, err := s.load(ctx, requestID)
	if err != nil {
		return nil, err
	}

	r := transitions[ev]
	if !r.allows(req.Status) {
		return nil, invalidTransition(req.Status, ev, "")
	}
	if err := requireRole(ctx, r.Actor); err != nil {
		return nil, err
	}
	if guard != nil {
		if err := guard(req); err != nil {
			return nil, err
		}
	}
	if r.To != "" {
		req.Status = r.To
	}
	if err := apply(req); err != nil {
		return nil, err
	}

	if err := s.repo.UpdateVersioned(ctx, req); err != nil {
		if err == ErrVersionConflict {
			fresh, rerr := s.load(ctx, requestID)
			if rerr != nil {
				return nil, rerr
			}
			return nil, invalidTransition(fresh.Status, ev, "request was modified concurrently")
		}
		if err == ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, collaboratorFailed("record store", err)
	}
	return req, nil
}

func (s *Service) load(ctx context.Context, requestID uuid.UUID) (*Request, error) {
	req, err := s.repo.GetByID(ctx, requestID)
	if err != nil {
		if err == ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, collaboratorFailed("record store", err)
	}
	return req, nil
}

// AssignAuthor moves CREATED to AUTHOR_ASSIGNED, binding the therapist who
// will write the content.
func (s *Service) AssignAuthor(ctx context.Context, requestID, authorID uuid.UUID) (*Request, error) {
	if err := requireRole(ctx, auth.RoleAdmin); err != nil {
		return nil, err
	}
	author, err := s.dir.User(ctx, authorID)
	if err != nil {
		return nil, collaboratorFailed("directory", err)
	}
	if author == nil {
		return nil, validationFailed("author_id", "does not reference an existing user")
	}
	if author.Role != auth.RoleTherapist {
		return nil, validationFailed("author_id", "must reference a therapist")
	}

	return s.transition(ctx, requestID, EventAssignAuthor, nil, func(req *Request) error {
		req.AuthorID = &authorID
		return nil
	})
}

// SaveDraft stores work-in-progress content without a status change.
func (s *Service) SaveDraft(ctx context.Context, requestID uuid.UUID, text string) (*Request, error) {
	req, err := s.load(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if err := requireAuthor(ctx, req); err != nil {
		return nil, err
	}
	if !draftable[req.Status] {
		return nil, invalidTransition(req.Status, "saveDraft", "content is no longer editable")
	}

	req.AuthorContent = &text
	if err := s.repo.UpdateVersioned(ctx, req); err != nil {
		if err == ErrVersionConflict {
			return nil, invalidTransition(req.Status, "saveDraft", "request was modified concurrently")
		}
		if err == ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, collaboratorFailed("record store", err)
	}
	return req, nil
}

// SubmitContent hands the author's text to the reviewer. Resubmission after
// a rejection clears the previous reviewer notes.
func (s *Service) SubmitContent(ctx context.Context, requestID uuid.UUID, text string) (*Request, error) {
	if text == "" {
		return nil, validationFailed("text", "must not be empty")
	}
	return s.transition(ctx, requestID, EventSubmitContent,
		func(req *Request) error { return requireAuthor(ctx, req) },
		func(req *Request) error {
			req.AuthorContent = &text
			req.ReviewerNotes = nil
			return nil
		})
}

// ApproveContent unlocks the document stage. Pure status move.
func (s *Service) ApproveContent(ctx context.Context, requestID uuid.UUID) (*Request, error) {
	return s.transition(ctx, requestID, EventApproveContent, nil, func(*Request) error { return nil })
}

// RejectContent sends the request back to the author with notes.
func (s *Service) RejectContent(ctx context.Context, requestID uuid.UUID, notes string) (*Request, error) {
	return s.transition(ctx, requestID, EventRejectContent, nil, func(req *Request) error {
		req.ReviewerNotes = &notes
		return nil
	})
}

// AttachDocument binds the document artifact and branches on signing mode:
// deferral hands the request to the author for signing; the two reviewer-
// signed modes terminate the workflow immediately.
func (s *Service) AttachDocument(ctx context.Context, requestID uuid.UUID, opts AttachOptions) (*Request, error) {
	if err := requireRole(ctx, auth.RoleAdmin); err != nil {
		return nil, err
	}
	if !validSigningModes[opts.Mode] {
		return nil, validationFailed("signing_mode", "is not a known mode")
	}
	if opts.Generate == (opts.DocumentRef != "") {
		return nil, validationFailed("document_ref", "exactly one of document_ref or generate must be given")
	}

	return s.transition(ctx, requestID, EventAttachDocument, nil, func(req *Request) error {
		signed := opts.Mode != SignDeferToAuthor

		var signatureRef string
		if opts.Mode == SignWithStoredAuthorSignature {
			if req.AuthorID == nil {
				return validationFailed("signing_mode", "request has no author to take a signature from")
			}
			ref, ok, err := s.signatures.BoundSignature(ctx, req.AuthorID.String())
			if err != nil {
				return collaboratorFailed("signature provider", err)
			}
			if !ok {
				return validationFailed("signing_mode", "author has no stored signature")
			}
			signatureRef = ref
		}

		ref := opts.DocumentRef
		if opts.Generate {
			generated, err := s.generate(ctx, req, signed, signatureRef)
			if err != nil {
				return err
			}
			ref = generated
		}

		req.DocumentRef = &ref
		if signed {
			now := time.Now().UTC()
			req.IsSigned = true
			req.CompletionDate = &now
			req.Status = StatusAccepted
		} else {
			req.Status = StatusPendingSignature
		}
		return nil
	})
}

// generate assembles the renderer input from the directory and invokes the
// document generator.
func (s *Service) generate(ctx context.Context, req *Request, signed bool, signatureRef string) (string, error) {
	data := docgen.DocumentData{
		RequestID:    req.ID.String(),
		Category:     string(req.Category),
		IssuedAt:     time.Now().UTC(),
		Signed:       signed,
		SignatureRef: signatureRef,
	}
	if req.AuthorContent != nil {
		data.Content = *req.AuthorContent
	}

	patient, err := s.dir.Patient(ctx, req.PatientID)
	if err != nil {
		return "", collaboratorFailed("directory", err)
	}
	if patient != nil {
		data.PatientName = patient.Name
		data.PatientRecord = patient.Record
	}
	requester, err := s.dir.User(ctx, req.RequesterID)
	if err != nil {
		return "", collaboratorFailed("directory", err)
	}
	if requester != nil {
		data.RequesterName = requester.Name
	}
	if req.AuthorID != nil {
		author, err := s.dir.User(ctx, *req.AuthorID)
		if err != nil {
			return "", collaboratorFailed("directory", err)
		}
		if author != nil {
			data.AuthorName = author.Name
			data.AuthorLicense = author.License
			data.Specialty = author.Specialty
		}
	}

	ref, err := s.gen.Generate(ctx, data)
	if err != nil {
		return "", collaboratorFailed("document generator", err)
	}
	return ref, nil
}

// SignDocument records the author's signature on a deferred document. A
// missing stored signature image does not block the signed flag.
func (s *Service) SignDocument(ctx context.Context, requestID uuid.UUID) (*Request, error) {
	return s.transition(ctx, requestID, EventSignDocument,
		func(req *Request) error { return requireAuthor(ctx, req) },
		func(req *Request) error {
			if _, _, err := s.signatures.BoundSignature(ctx, req.AuthorID.String()); err != nil {
				return collaboratorFailed("signature provider", err)
			}
			req.IsSigned = true
			return nil
		})
}

// AcceptFinal terminates the workflow; the document becomes downloadable by
// the requester.
func (s *Service) AcceptFinal(ctx context.Context, requestID uuid.UUID) (*Request, error) {
	return s.transition(ctx, requestID, EventAcceptFinal, nil, func(req *Request) error {
		now := time.Now().UTC()
		req.CompletionDate = &now
		return nil
	})
}

// RejectFinal discards the signed artifact and sends the request back to
// the authoring loop.
func (s *Service) RejectFinal(ctx context.Context, requestID uuid.UUID, notes string) (*Request, error) {
	return s.transition(ctx, requestID, EventRejectFinal, nil, func(req *Request) error {
		req.ReviewerNotes = &notes
		req.DocumentRef = nil
		req.IsSigned = false
		return nil
	})
}

// DeleteRequest permanently removes a request. Administrative override, not
// a workflow transition; allowed from any state.
func (s *Service) DeleteRequest(ctx context.Context, requestID uuid.UUID) error {
	if err := requireRole(ctx, auth.RoleAdmin); err != nil {
		return err
	}
	err := s.repo.Delete(ctx, requestID)
	if err == ErrNotFound {
		return ErrNotFound
	}
	if err != nil {
		return collaboratorFailed("record store", err)
	}
	return nil
}

// GetRequest returns a request subject to visibility: admins see all,
// authors their assignments, guardians their own submissions. A record the
// caller may not see reads as not found.
func (s *Service) GetRequest(ctx context.Context, requestID uuid.UUID) (*Request, error) {
	req, err := s.load(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if !s.visible(ctx, req) {
		return nil, ErrNotFound
	}
	return req, nil
}

func (s *Service) visible(ctx context.Context, req *Request) bool {
	if auth.HasRole(ctx, auth.RoleAdmin) {
		return true
	}
	id, err := actor(ctx)
	if err != nil {
		return false
	}
	if auth.HasRole(ctx, auth.RoleTherapist) && req.AuthorID != nil && *req.AuthorID == id {
		return true
	}
	if auth.HasRole(ctx, auth.RoleGuardian) && req.RequesterID == id {
		return true
	}
	return false
}

// ListRequests lists requests; non-admin callers are constrained to their
// own slice of the data regardless of the supplied filter.
func (s *Service) ListRequests(ctx context.Context, f Filter, limit, offset int) ([]*Request, int, error) {
	if !auth.HasRole(ctx, auth.RoleAdmin) {
		id, err := actor(ctx)
		if err != nil {
			return nil, 0, ErrForbidden
		}
		switch {
		case auth.HasRole(ctx, auth.RoleTherapist):
			f.AuthorID = &id
			f.RequesterID = nil
		case auth.HasRole(ctx, auth.RoleGuardian):
			f.RequesterID = &id
			f.AuthorID = nil
		default:
			return nil, 0, ErrForbidden
		}
	}
	items, total, err := s.repo.List(ctx, f, limit, offset)
	if err != nil {
		return nil, 0, collaboratorFailed("record store", err)
	}
	return items, total, nil
}
