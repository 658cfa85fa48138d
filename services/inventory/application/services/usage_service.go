package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/ghuser/toolcrib/services/inventory/domain/models"
	"github.com/ghuser/toolcrib/services/inventory/domain/repositories"
)

// UsageService is the read side of the usage ledger.
type UsageService struct {
	repo repositories.UsageRepository
}

// NewUsageService returns a UsageService.
func NewUsageService(repo repositories.UsageRepository) *UsageService {
	return &UsageService{repo: repo}
}

// Get returns one ledger entry.
func (s *UsageService) Get(ctx context.Context, id uuid.UUID) (*models.UsageRecord, error) {
	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get usage: %w", err)
	}
	return rec, nil
}

// List returns one page of ledger entries newest first plus the total count.
func (s *UsageService) List(ctx context.Context, f repositories.UsageFilter) ([]*models.UsageRecord, int, error) {
	f.QueryOpts = NormalizePage(f.QueryOpts)
	recs, total, err := s.repo.List(ctx, f)
	if err != nil {
		return nil, 0, fmt.Errorf("list usage: %w", err)
	}
	return recs, total, nil
}
