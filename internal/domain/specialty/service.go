package specialty

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) Create(ctx context.Context, sp *Specialty) error {
	sp.Name = strings.TrimSpace(sp.Name)
	if sp.Name == "" {
		return fmt.Errorf("name is required")
	}
	return s.repo.Create(ctx, sp)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Specialty, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) Update(ctx context.Context, sp *Specialty) error {
	sp.Name = strings.TrimSpace(sp.Name)
	if sp.Name == "" {
		return fmt.Errorf("name is required")
	}
	return s.repo.Update(ctx, sp)
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	return s.repo.Delete(ctx, id)
}

func (s *Service) List(ctx context.Context) ([]*Specialty, error) {
	return s.repo.List(ctx)
}
