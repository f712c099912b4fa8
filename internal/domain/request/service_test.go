package request

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/theradocs/theradocs/internal/platform/auth"
	"github.com/theradocs/theradocs/internal/platform/docgen"
	"github.com/theradocs/theradocs/internal/platform/signature"
)

type mockRepo struct {
	mu    sync.Mutex
	items map[uuid.UUID]*Request
}

func newMockRepo() *mockRepo {
	return &mockRepo{items: map[uuid.UUID]*Request{}}
}

func (m *mockRepo) Create(_ context.Context, r *Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	r.VersionID = 1
	cp := *r
	m.items[r.ID] = &cp
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *mockRepo) UpdateVersioned(_ context.Context, r *Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.items[r.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.VersionID != r.VersionID {
		return ErrVersionConflict
	}
	r.VersionID++
	cp := *r
	m.items[r.ID] = &cp
	return nil
}

func (m *mockRepo) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[id]; !ok {
		return ErrNotFound
	}
	delete(m.items, id)
	return nil
}

func (m *mockRepo) List(_ context.Context, f Filter, limit, offset int) ([]*Request, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Request
	for _, r := range m.items {
		if f.RequesterID != nil && r.RequesterID != *f.RequesterID {
			continue
		}
		if f.AuthorID != nil && (r.AuthorID == nil || *r.AuthorID != *f.AuthorID) {
			continue
		}
		if f.PatientID != nil && r.PatientID != *f.PatientID {
			continue
		}
		if f.Status != "" && r.Status != f.Status {
			continue
		}
		if f.Category != "" && r.Category != f.Category {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	return out, len(out), nil
}

type mockDirectory struct {
	users    map[uuid.UUID]*Person
	patients map[uuid.UUID]*PatientInfo
	err      error
}

func (m *mockDirectory) User(_ context.Context, id uuid.UUID) (*Person, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.users[id], nil
}

func (m *mockDirectory) Patient(_ context.Context, id uuid.UUID) (*PatientInfo, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.patients[id], nil
}

type mockGenerator struct {
	mu    sync.Mutex
	calls int
	err   error
	last  docgen.DocumentData
}

func (g *mockGenerator) Generate(_ context.Context, data docgen.DocumentData) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return "", g.err
	}
	g.calls++
	g.last = data
	return fmt.Sprintf("blob-%d", g.calls), nil
}

type failingSignatures struct{ err error }

func (f failingSignatures) BoundSignature(context.Context, string) (string, bool, error) {
	return "", false, f.err
}

type fixture struct {
	svc  *Service
	repo *mockRepo
	dir  *mockDirectory
	gen  *mockGenerator

	adminID    uuid.UUID
	authorID   uuid.UUID
	guardianID uuid.UUID
	patientID  uuid.UUID

	admin    context.Context
	author   context.Context
	guardian context.Context
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:       newMockRepo(),
		gen:        &mockGenerator{},
		adminID:    uuid.New(),
		authorID:   uuid.New(),
		guardianID: uuid.New(),
		patientID:  uuid.New(),
	}
	f.dir = &mockDirectory{
		users: map[uuid.UUID]*Person{
			f.adminID:    {Name: "Dana Reyes", Role: auth.RoleAdmin},
			f.authorID:   {Name: "Sam Ortiz", Role: auth.RoleTherapist, License: "CRP-12345", Specialty: "Speech Therapy"},
			f.guardianID: {Name: "Lee Whitfield", Role: auth.RoleGuardian},
		},
		patients: map[uuid.UUID]*PatientInfo{
			f.patientID: {Name: "Alex Whitfield", Record: "PR-0042", GuardianID: f.guardianID},
		},
	}
	f.svc = NewService(f.repo, f.dir, f.gen, signature.Static{f.authorID.String(): "sig-blob-1"})
	f.admin = auth.WithIdentity(context.Background(), f.adminID.String(), auth.RoleAdmin)
	f.author = auth.WithIdentity(context.Background(), f.authorID.String(), auth.RoleTherapist)
	f.guardian = auth.WithIdentity(context.Background(), f.guardianID.String(), auth.RoleGuardian)
	return f
}

func (f *fixture) create(t *testing.T) *Request {
	t.Helper()
	req, err := f.svc.CreateRequest(f.guardian, f.patientID, CategoryReport, Payload{Purpose: "school enrollment"})
	if err != nil {
		t.Fatalf("CreateRequest: %v", err)
	}
	return req
}

func (f *fixture) toPendingReview(t *testing.T, id uuid.UUID) *Request {
	t.Helper()
	if _, err := f.svc.AssignAuthor(f.admin, id, f.authorID); err != nil {
		t.Fatalf("AssignAuthor: %v", err)
	}
	req, err := f.svc.SubmitContent(f.author, id, "clinical findings and progress notes")
	if err != nil {
		t.Fatalf("SubmitContent: %v", err)
	}
	return req
}

func (f *fixture) toPendingDocument(t *testing.T, id uuid.UUID) *Request {
	t.Helper()
	f.toPendingReview(t, id)
	req, err := f.svc.ApproveContent(f.admin, id)
	if err != nil {
		t.Fatalf("ApproveContent: %v", err)
	}
	return req
}

func (f *fixture) toSigned(t *testing.T, id uuid.UUID) *Request {
	t.Helper()
	f.toPendingDocument(t, id)
	if _, err := f.svc.AttachDocument(f.admin, id, AttachOptions{Generate: true, Mode: SignDeferToAuthor}); err != nil {
		t.Fatalf("AttachDocument: %v", err)
	}
	req, err := f.svc.SignDocument(f.author, id)
	if err != nil {
		t.Fatalf("SignDocument: %v", err)
	}
	return req
}

func TestCreateRequest_InitialState(t *testing.T) {
	f := newFixture(t)
	req := f.create(t)
	if req.Status != StatusCreated {
		t.Fatalf("status = %s, want %s", req.Status, StatusCreated)
	}
	if req.RequesterID != f.guardianID {
		t.Errorf("requester = %s, want %s", req.RequesterID, f.guardianID)
	}
	if req.RequestDate.IsZero() {
		t.Error("request date not set")
	}
	if req.CompletionDate != nil {
		t.Error("completion date set on a new request")
	}
	if req.VersionID != 1 {
		t.Errorf("version = %d, want 1", req.VersionID)
	}
}

func TestCreateRequest_UnknownCategory(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CreateRequest(f.guardian, f.patientID, Category("MEMO"), Payload{Notes: "x"})
	var vf *ValidationError
	if !errors.As(err, &vf) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
}

func TestCreateRequest_UnknownPatient(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CreateRequest(f.guardian, uuid.New(), CategoryReport, Payload{Purpose: "x"})
	var vf *ValidationError
	if !errors.As(err, &vf) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
}

func TestCreateRequest_OtherGuardiansPatient(t *testing.T) {
	f := newFixture(t)
	otherID := uuid.New()
	f.dir.users[otherID] = &Person{Name: "Morgan Vale", Role: auth.RoleGuardian}
	other := auth.WithIdentity(context.Background(), otherID.String(), auth.RoleGuardian)

	_, err := f.svc.CreateRequest(other, f.patientID, CategoryReport, Payload{Purpose: "school enrollment"})
	var vf *ValidationError
	if !errors.As(err, &vf) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
	if vf.Field != "patient_id" {
		t.Errorf("field = %q, want patient_id", vf.Field)
	}
}

func TestCreateRequest_RequiresGuardian(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CreateRequest(f.author, f.patientID, CategoryReport, Payload{Purpose: "x"})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("err = %v, want ErrForbidden", err)
	}
}

func TestCreateRequest_PayloadByCategory(t *testing.T) {
	f := newFixture(t)
	start := time.Now()
	end := start.AddDate(0, 0, 3)
	bad := end.AddDate(0, 0, -30)

	cases := []struct {
		name     string
		category Category
		payload  Payload
		wantErr  bool
	}{
		{"report missing purpose", CategoryReport, Payload{}, true},
		{"absence missing dates", CategoryAbsenceJustification, Payload{Reason: "flu"}, true},
		{"absence inverted dates", CategoryAbsenceJustification, Payload{AbsenceStart: &end, AbsenceEnd: &bad, Reason: "flu"}, true},
		{"absence ok", CategoryAbsenceJustification, Payload{AbsenceStart: &start, AbsenceEnd: &end, Reason: "flu"}, false},
		{"dismissal missing reason", CategoryDismissal, Payload{}, true},
		{"declaration missing notes", CategoryDeclaration, Payload{}, true},
		{"declaration ok", CategoryDeclaration, Payload{Notes: "attendance declaration"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.CreateRequest(f.guardian, f.patientID, tc.category, tc.payload)
			if tc.wantErr {
				var vf *ValidationError
				if !errors.As(err, &vf) {
					t.Fatalf("err = %v, want ValidationError", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestAssignAuthor(t *testing.T) {
	f := newFixture(t)
	req := f.create(t)

	got, err := f.svc.AssignAuthor(f.admin, req.ID, f.authorID)
	if err != nil {
		t.Fatalf("AssignAuthor: %v", err)
	}
	if got.Status != StatusAuthorAssigned {
		t.Errorf("status = %s, want %s", got.Status, StatusAuthorAssigned)
	}
	if got.AuthorID == nil || *got.AuthorID != f.authorID {
		t.Errorf("author = %v, want %s", got.AuthorID, f.authorID)
	}
}

func TestAssignAuthor_UnknownAuthor(t *testing.T) {
	f := newFixture(t)
	req := f.create(t)
	_, err := f.svc.AssignAuthor(f.admin, req.ID, uuid.New())
	var vf *ValidationError
	if !errors.As(err, &vf) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
}

func TestAssignAuthor_NotATherapist(t *testing.T) {
	f := newFixture(t)
	req := f.create(t)
	_, err := f.svc.AssignAuthor(f.admin, req.ID, f.guardianID)
	var vf *ValidationError
	if !errors.As(err, &vf) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
}

func TestAssignAuthor_WrongState(t *testing.T) {
	f := newFixture(t)
	req := f.create(t)
	f.toPendingReview(t, req.ID)

	_, err := f.svc.AssignAuthor(f.admin, req.ID, f.authorID)
	var it *InvalidTransitionError
	if !errors.As(err, &it) {
		t.Fatalf("err = %v, want InvalidTransitionError", err)
	}
	if it.Current != StatusPendingContentReview {
		t.Errorf("current = %s, want %s", it.Current, StatusPendingContentReview)
	}
}

func TestSaveDraft_KeepsStatus(t *testing.T) {
	f := newFixture(t)
	req := f.create(t)
	if _, err := f.svc.AssignAuthor(f.admin, req.ID, f.authorID); err != nil {
		t.Fatalf("AssignAuthor: %v", err)
	}

	got, err := f.svc.SaveDraft(f.author, req.ID, "half-written content")
	if err != nil {
		t.Fatalf("SaveDraft: %v", err)
	}
	if got.Status != StatusAuthorAssigned {
		t.Errorf("status = %s, want %s", got.Status, StatusAuthorAssigned)
	}
	if got.AuthorContent == nil || *got.AuthorContent != "half-written content" {
		t.Errorf("content = %v", got.AuthorContent)
	}
}

func TestSaveDraft_OtherTherapist(t *testing.T) {
	f := newFixture(t)
	req := f.create(t)
	if _, err := f.svc.AssignAuthor(f.admin, req.ID, f.authorID); err != nil {
		t.Fatalf("AssignAuthor: %v", err)
	}

	other := auth.WithIdentity(context.Background(), uuid.NewString(), auth.RoleTherapist)
	if _, err := f.svc.SaveDraft(other, req.ID, "x"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("err = %v, want ErrForbidden", err)
	}
}

func TestSaveDraft_AfterApproval(t *testing.T) {
	f := newFixture(t)
	req := f.create(t)
	f.toPendingDocument(t, req.ID)

	_, err := f.svc.SaveDraft(f.author, req.ID, "late edit")
	var it *InvalidTransitionError
	if !errors.As(err, &it) {
		t.Fatalf("err = %v, want InvalidTransitionError", err)
	}
}

func TestSubmitContent_EmptyText(t *testing.T) {
	f := newFixture(t)
	req := f.create(t)
	if _, err := f.svc.AssignAuthor(f.admin, req.ID, f.authorID); err != nil {
		t.Fatalf("AssignAuthor: %v", err)
	}

	_, err := f.svc.SubmitContent(f.author, req.ID, "")
	var vf *ValidationError
	if !errors.As(err, &vf) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
}

func TestRejectResubmitRoundTrip(t *testing.T) {
	f := newFixture(t)
	req := f.create(t)
	f.toPendingReview(t, req.ID)

	rejected, err := f.svc.RejectContent(f.admin, req.ID, "missing session dates")
	if err != nil {
		t.Fatalf("RejectContent: %v", err)
	}
	if rejected.Status != StatusContentRejected {
		t.Fatalf("status = %s, want %s", rejected.Status, StatusContentRejected)
	}
	if rejected.ReviewerNotes == nil || *rejected.ReviewerNotes != "missing session dates" {
		t.Errorf("notes = %v", rejected.ReviewerNotes)
	}

	resubmitted, err := f.svc.SubmitContent(f.author, req.ID, "revised findings with session dates")
	if err != nil {
		t.Fatalf("SubmitContent after rejection: %v", err)
	}
	if resubmitted.Status != StatusPendingContentReview {
		t.Errorf("status = %s, want %s", resubmitted.Status, StatusPendingContentReview)
	}
	if resubmitted.ReviewerNotes != nil {
		t.Error("reviewer notes survived resubmission")
	}
	if resubmitted.ID != req.ID || resubmitted.RequesterID != req.RequesterID {
		t.Error("identity fields changed across the rejection cycle")
	}
	if resubmitted.AuthorID == nil || *resubmitted.AuthorID != f.authorID {
		t.Error("author lost across the rejection cycle")
	}
}

func TestAttachDocument_DeferToAuthor(t *testing.T) {
	f := newFixture(t)
	req := f.create(t)
	f.toPendingDocument(t, req.ID)

	got, err := f.svc.AttachDocument(f.admin, req.ID, AttachOptions{DocumentRef: "blob-ext-1", Mode: SignDeferToAuthor})
	if err != nil {
		t.Fatalf("AttachDocument: %v", err)
	}
	if got.Status != StatusPendingSignature {
		t.Errorf("status = %s, want %s", got.Status, StatusPendingSignature)
	}
	if got.IsSigned {
		t.Error("deferred document marked signed")
	}
	if got.DocumentRef == nil || *got.DocumentRef != "blob-ext-1" {
		t.Errorf("document ref = %v", got.DocumentRef)
	}
	if got.CompletionDate != nil {
		t.Error("completion date set before acceptance")
	}
}

func TestAttachDocument_SignAsReviewer(t *testing.T) {
	f := newFixture(t)
	req := f.create(t)
	f.toPendingDocument(t, req.ID)

	got, err := f.svc.AttachDocument(f.admin, req.ID, AttachOptions{Generate: true, Mode: SignAsReviewer})
	if err != nil {
		t.Fatalf("AttachDocument: %v", err)
	}
	if got.Status != StatusAccepted {
		t.Errorf("status = %s, want %s", got.Status, StatusAccepted)
	}
	if !got.IsSigned {
		t.Error("not marked signed")
	}
	if got.DocumentRef == nil || *got.DocumentRef == "" {
		t.Error("no document ref after generation")
	}
	if got.CompletionDate == nil {
		t.Error("no completion date on acceptance")
	}
}

func TestAttachDocument_GeneratorInput(t *testing.T) {
	f := newFixture(t)
	req := f.create(t)
	f.toPendingDocument(t, req.ID)

	if _, err := f.svc.AttachDocument(f.admin, req.ID, AttachOptions{Generate: true, Mode: SignAsReviewer}); err != nil {
		t.Fatalf("AttachDocument: %v", err)
	}
	data := f.gen.last
	if data.PatientName != "Alex Whitfield" || data.PatientRecord != "PR-0042" {
		t.Errorf("patient fields = %q / %q", data.PatientName, data.PatientRecord)
	}
	if data.AuthorName != "Sam Ortiz" || data.AuthorLicense != "CRP-12345" {
		t.Errorf("author fields = %q / %q", data.AuthorName, data.AuthorLicense)
	}
	if data.Content != "clinical findings and progress notes" {
		t.Errorf("content = %q", data.Content)
	}
	if !data.Signed {
		t.Error("generator not told the document is signed")
	}
}

func TestAttachDocument_StoredAuthorSignature(t *testing.T) {
	f := newFixture(t)
	req := f.create(t)
	f.toPendingDocument(t, req.ID)

	got, err := f.svc.AttachDocument(f.admin, req.ID, AttachOptions{Generate: true, Mode: SignWithStoredAuthorSignature})
	if err != nil {
		t.Fatalf("AttachDocument: %v", err)
	}
	if got.Status != StatusAccepted || !got.IsSigned {
		t.Errorf("status = %s signed = %v", got.Status, got.IsSigned)
	}
	if f.gen.last.SignatureRef != "sig-blob-1" {
		t.Errorf("signature ref = %q, want sig-blob-1", f.gen.last.SignatureRef)
	}
}

func TestAttachDocument_StoredSignatureMissing(t *testing.T) {
	f := newFixture(t)
	f.svc = NewService(f.repo, f.dir, f.gen, signature.Static{})
	req := f.create(t)
	f.toPendingDocument(t, req.ID)

	_, err := f.svc.AttachDocument(f.admin, req.ID, AttachOptions{Generate: true, Mode: SignWithStoredAuthorSignature})
	var vf *ValidationError
	if !errors.As(err, &vf) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
	got, err := f.svc.GetRequest(f.admin, req.ID)
	if err != nil {
		t.Fatalf("GetRequest: %v", err)
	}
	if got.Status != StatusPendingDocument || got.DocumentRef != nil {
		t.Error("failed attach left a partial mutation behind")
	}
}

func TestAttachDocument_ExactlyOneSource(t *testing.T) {
	f := newFixture(t)
	req := f.create(t)
	f.toPendingDocument(t, req.ID)

	for _, opts := range []AttachOptions{
		{Mode: SignDeferToAuthor},
		{DocumentRef: "blob-ext-1", Generate: true, Mode: SignDeferToAuthor},
	} {
		_, err := f.svc.AttachDocument(f.admin, req.ID, opts)
		var vf *ValidationError
		if !errors.As(err, &vf) {
			t.Fatalf("opts %+v: err = %v, want ValidationError", opts, err)
		}
	}
}

func TestAttachDocument_UnknownMode(t *testing.T) {
	f := newFixture(t)
	req := f.create(t)
	f.toPendingDocument(t, req.ID)

	_, err := f.svc.AttachDocument(f.admin, req.ID, AttachOptions{Generate: true, Mode: SigningMode("NOTARIZE")})
	var vf *ValidationError
	if !errors.As(err, &vf) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
}

func TestAttachDocument_GeneratorFailureKeepsState(t *testing.T) {
	f := newFixture(t)
	req := f.create(t)
	f.toPendingDocument(t, req.ID)

	f.gen.err = errors.New("renderer unavailable")
	_, err := f.svc.AttachDocument(f.admin, req.ID, AttachOptions{Generate: true, Mode: SignAsReviewer})
	var cf *CollaboratorError
	if !errors.As(err, &cf) {
		t.Fatalf("err = %v, want CollaboratorError", err)
	}

	got, err := f.svc.GetRequest(f.admin, req.ID)
	if err != nil {
		t.Fatalf("GetRequest: %v", err)
	}
	if got.Status != StatusPendingDocument {
		t.Fatalf("status after failure = %s, want %s", got.Status, StatusPendingDocument)
	}

	// Retry after the collaborator recovers.
	f.gen.err = nil
	if _, err := f.svc.AttachDocument(f.admin, req.ID, AttachOptions{Generate: true, Mode: SignAsReviewer}); err != nil {
		t.Fatalf("retry: %v", err)
	}
}

func TestSignDocument(t *testing.T) {
	f := newFixture(t)
	req := f.create(t)
	got := f.toSigned(t, req.ID)

	if got.Status != StatusSigned {
		t.Errorf("status = %s, want %s", got.Status, StatusSigned)
	}
	if !got.IsSigned {
		t.Error("not marked signed")
	}
	if got.DocumentRef == nil || *got.DocumentRef == "" {
		t.Error("signed without a document ref")
	}
}

func TestSignDocument_NoStoredSignatureStillSigns(t *testing.T) {
	f := newFixture(t)
	f.svc = NewService(f.repo, f.dir, f.gen, signature.Static{})
	req := f.create(t)
	f.toPendingDocument(t, req.ID)
	if _, err := f.svc.AttachDocument(f.admin, req.ID, AttachOptions{Generate: true, Mode: SignDeferToAuthor}); err != nil {
		t.Fatalf("AttachDocument: %v", err)
	}

	got, err := f.svc.SignDocument(f.author, req.ID)
	if err != nil {
		t.Fatalf("SignDocument: %v", err)
	}
	if !got.IsSigned {
		t.Error("missing stored signature blocked the signed flag")
	}
}

func TestSignDocument_ProviderFailure(t *testing.T) {
	f := newFixture(t)
	f.svc = NewService(f.repo, f.dir, f.gen, failingSignatures{err: errors.New("store down")})
	req := f.create(t)
	f.toPendingDocument(t, req.ID)
	if _, err := f.svc.AttachDocument(f.admin, req.ID, AttachOptions{DocumentRef: "blob-ext-1", Mode: SignDeferToAuthor}); err != nil {
		t.Fatalf("AttachDocument: %v", err)
	}

	_, err := f.svc.SignDocument(f.author, req.ID)
	var cf *CollaboratorError
	if !errors.As(err, &cf) {
		t.Fatalf("err = %v, want CollaboratorError", err)
	}
}

func TestAcceptFinal(t *testing.T) {
	f := newFixture(t)
	req := f.create(t)
	f.toSigned(t, req.ID)

	got, err := f.svc.AcceptFinal(f.admin, req.ID)
	if err != nil {
		t.Fatalf("AcceptFinal: %v", err)
	}
	if got.Status != StatusAccepted {
		t.Errorf("status = %s, want %s", got.Status, StatusAccepted)
	}
	if got.CompletionDate == nil {
		t.Error("no completion date on acceptance")
	}
}

func TestRejectFinal_DiscardsDocument(t *testing.T) {
	f := newFixture(t)
	req := f.create(t)
	f.toSigned(t, req.ID)

	got, err := f.svc.RejectFinal(f.admin, req.ID, "wrong template used")
	if err != nil {
		t.Fatalf("RejectFinal: %v", err)
	}
	if got.Status != StatusContentRejected {
		t.Errorf("status = %s, want %s", got.Status, StatusContentRejected)
	}
	if got.DocumentRef != nil || got.IsSigned {
		t.Error("rejected artifact not discarded")
	}
	if got.CompletionDate != nil {
		t.Error("completion date set on a rejected request")
	}

	// The second cycle produces a fresh artifact, not the discarded one.
	if _, err := f.svc.SubmitContent(f.author, req.ID, "corrected content"); err != nil {
		t.Fatalf("SubmitContent: %v", err)
	}
	if _, err := f.svc.ApproveContent(f.admin, req.ID); err != nil {
		t.Fatalf("ApproveContent: %v", err)
	}
	again, err := f.svc.AttachDocument(f.admin, req.ID, AttachOptions{Generate: true, Mode: SignAsReviewer})
	if err != nil {
		t.Fatalf("AttachDocument: %v", err)
	}
	if again.DocumentRef == nil || *again.DocumentRef == "blob-1" {
		t.Errorf("second cycle reused the discarded document ref: %v", again.DocumentRef)
	}
}

func TestDeleteRequest(t *testing.T) {
	f := newFixture(t)
	req := f.create(t)
	f.toSigned(t, req.ID)

	if err := f.svc.DeleteRequest(f.admin, req.ID); err != nil {
		t.Fatalf("DeleteRequest: %v", err)
	}
	if _, err := f.svc.GetRequest(f.admin, req.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if err := f.svc.DeleteRequest(f.admin, req.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete err = %v, want ErrNotFound", err)
	}
}

func TestGetRequest_Visibility(t *testing.T) {
	f := newFixture(t)
	req := f.create(t)
	if _, err := f.svc.AssignAuthor(f.admin, req.ID, f.authorID); err != nil {
		t.Fatalf("AssignAuthor: %v", err)
	}

	if _, err := f.svc.GetRequest(f.guardian, req.ID); err != nil {
		t.Errorf("requester denied their own request: %v", err)
	}
	if _, err := f.svc.GetRequest(f.author, req.ID); err != nil {
		t.Errorf("author denied their assignment: %v", err)
	}
	stranger := auth.WithIdentity(context.Background(), uuid.NewString(), auth.RoleGuardian)
	if _, err := f.svc.GetRequest(stranger, req.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("stranger err = %v, want ErrNotFound", err)
	}
}

func TestListRequests_ScopedByRole(t *testing.T) {
	f := newFixture(t)
	mine := f.create(t)
	otherGuardian := uuid.New()
	other := &Request{
		PatientID:   f.patientID,
		RequesterID: otherGuardian,
		Category:    CategoryReport,
		Status:      StatusCreated,
		Payload:     Payload{Purpose: "x"},
		RequestDate: time.Now(),
	}
	if err := f.repo.Create(context.Background(), other); err != nil {
		t.Fatalf("seed: %v", err)
	}

	items, total, err := f.svc.ListRequests(f.guardian, Filter{}, 20, 0)
	if err != nil {
		t.Fatalf("ListRequests: %v", err)
	}
	if total != 1 || len(items) != 1 || items[0].ID != mine.ID {
		t.Errorf("guardian sees %d requests, want only their own", total)
	}

	_, total, err = f.svc.ListRequests(f.admin, Filter{}, 20, 0)
	if err != nil {
		t.Fatalf("ListRequests admin: %v", err)
	}
	if total != 2 {
		t.Errorf("admin sees %d requests, want 2", total)
	}
}

func TestConcurrentApprove_ExactlyOneWins(t *testing.T) {
	f := newFixture(t)
	req := f.create(t)
	f.toPendingReview(t, req.ID)

	const workers = 8
	errs := make(chan error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.ApproveContent(f.admin, req.ID)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var wins, conflicts int
	for err := range errs {
		if err == nil {
			wins++
			continue
		}
		var it *InvalidTransitionError
		if !errors.As(err, &it) {
			t.Fatalf("unexpected error: %v", err)
		}
		conflicts++
	}
	if wins != 1 {
		t.Fatalf("wins = %d, want exactly 1", wins)
	}
	if conflicts != workers-1 {
		t.Fatalf("conflicts = %d, want %d", conflicts, workers-1)
	}

	got, err := f.svc.GetRequest(f.admin, req.ID)
	if err != nil {
		t.Fatalf("GetRequest: %v", err)
	}
	if got.Status != StatusPendingDocument {
		t.Fatalf("status = %s, want %s", got.Status, StatusPendingDocument)
	}
}

func TestCompletionDateOnlyWhenAccepted(t *testing.T) {
	f := newFixture(t)
	req := f.create(t)
	f.toPendingDocument(t, req.ID)

	mid, err := f.svc.AttachDocument(f.admin, req.ID, AttachOptions{Generate: true, Mode: SignDeferToAuthor})
	if err != nil {
		t.Fatalf("AttachDocument: %v", err)
	}
	if mid.CompletionDate != nil {
		t.Error("completion date set before acceptance")
	}
	if _, err := f.svc.SignDocument(f.author, req.ID); err != nil {
		t.Fatalf("SignDocument: %v", err)
	}
	final, err := f.svc.AcceptFinal(f.admin, req.ID)
	if err != nil {
		t.Fatalf("AcceptFinal: %v", err)
	}
	if final.CompletionDate == nil {
		t.Error("no completion date after acceptance")
	}
}
