package identity

import (
	"context"
	"fmt"
	"net/mail"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/theradocs/theradocs/internal/platform/auth"
)

var validRoles = map[string]bool{
	auth.RoleGuardian:  true,
	auth.RoleTherapist: true,
	auth.RoleAdmin:     true,
}

type Service struct {
	users    UserRepository
	patients PatientRepository
}

func NewService(users UserRepository, patients PatientRepository) *Service {
	return &Service{users: users, patients: patients}
}

// -- Users --

func (s *Service) CreateUser(ctx context.Context, u *User) error {
	if u.Name == "" {
		return fmt.Errorf("name is required")
	}
	if _, err := mail.ParseAddress(u.Email); err != nil {
		return fmt.Errorf("valid email is required")
	}
	if !validRoles[u.Role] {
		return fmt.Errorf("role must be one of guardian, therapist, admin")
	}
	if u.Role != auth.RoleTherapist && u.SpecialtyID != nil {
		return fmt.Errorf("only therapists carry a specialty")
	}
	u.Active = true
	return s.users.Create(ctx, u)
}

func (s *Service) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.users.GetByID(ctx, id)
}

func (s *Service) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return s.users.GetByEmail(ctx, email)
}

func (s *Service) UpdateUser(ctx context.Context, u *User) error {
	if u.Name == "" {
		return fmt.Errorf("name is required")
	}
	if !validRoles[u.Role] {
		return fmt.Errorf("role must be one of guardian, therapist, admin")
	}
	return s.users.Update(ctx, u)
}

func (s *Service) DeleteUser(ctx context.Context, id uuid.UUID) error {
	return s.users.Delete(ctx, id)
}

func (s *Service) ListUsers(ctx context.Context, role string, limit, offset int) ([]*User, int, error) {
	if role != "" && !validRoles[role] {
		return nil, 0, fmt.Errorf("unknown role %q", role)
	}
	return s.users.List(ctx, role, limit, offset)
}

// SetPassword hashes and stores a new password for the user.
func (s *Service) SetPassword(ctx context.Context, userID uuid.UUID, plain string) error {
	if len(plain) < 8 {
		return fmt.Errorf("password must be at least 8 characters")
	}
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	u.PasswordHash = string(hash)
	return s.users.Update(ctx, u)
}

// CheckPassword verifies a login attempt against the stored hash.
func (s *Service) CheckPassword(ctx context.Context, email, plain string) (*User, error) {
	u, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(plain)); err != nil {
		return nil, fmt.Errorf("invalid credentials")
	}
	return u, nil
}

// BindSignature stores the blob reference of a therapist's signature image.
// Passing an empty ref unbinds it.
func (s *Service) BindSignature(ctx context.Context, userID uuid.UUID, blobRef string) error {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if u.Role != auth.RoleTherapist {
		return fmt.Errorf("only therapists bind signatures")
	}
	var ref *string
	if blobRef != "" {
		ref = &blobRef
	}
	return s.users.SetSignatureRef(ctx, userID, ref)
}

// SignatureRef resolves a user's stored signature blob reference. An empty
// string means no signature is bound. Satisfies signature.Source.
func (s *Service) SignatureRef(ctx context.Context, userID string) (string, error) {
	id, err := uuid.Parse(userID)
	if err != nil {
		return "", fmt.Errorf("invalid user id %q", userID)
	}
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	if u.SignatureRef == nil {
		return "", nil
	}
	return *u.SignatureRef, nil
}

// -- Patients --

func (s *Service) CreatePatient(ctx context.Context, p *Patient) error {
	if p.FirstName == "" {
		return fmt.Errorf("first_name is required")
	}
	if p.GuardianID == uuid.Nil {
		return fmt.Errorf("guardian_id is required")
	}
	guardian, err := s.users.GetByID(ctx, p.GuardianID)
	if err != nil {
		return fmt.Errorf("guardian lookup: %w", err)
	}
	if guardian.Role != auth.RoleGuardian {
		return fmt.Errorf("guardian_id must reference a guardian user")
	}
	p.Active = true
	return s.patients.Create(ctx, p)
}

func (s *Service) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.patients.GetByID(ctx, id)
}

func (s *Service) UpdatePatient(ctx context.Context, p *Patient) error {
	if p.FirstName == "" {
		return fmt.Errorf("first_name is required")
	}
	return s.patients.Update(ctx, p)
}

func (s *Service) DeletePatient(ctx context.Context, id uuid.UUID) error {
	return s.patients.Delete(ctx, id)
}

func (s *Service) ListPatients(ctx context.Context, limit, offset int) ([]*Patient, int, error) {
	return s.patients.List(ctx, limit, offset)
}

func (s *Service) ListPatientsByGuardian(ctx context.Context, guardianID uuid.UUID, limit, offset int) ([]*Patient, int, error) {
	return s.patients.ListByGuardian(ctx, guardianID, limit, offset)
}
