package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	pkgcache "github.com/ghuser/toolcrib/pkg/cache"
	"github.com/ghuser/toolcrib/pkg/logger"
	"github.com/ghuser/toolcrib/services/inventory/domain"
	"github.com/ghuser/toolcrib/services/inventory/domain/models"
	"github.com/ghuser/toolcrib/services/inventory/domain/repositories"
	domainsvcs "github.com/ghuser/toolcrib/services/inventory/domain/services"
)

// Pagination bounds applied to every list endpoint.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// UpdateEquipmentCommand carries the fields of an administrative edit.
// Nil fields are left unchanged. Kind may be supplied but must match.
type UpdateEquipmentCommand struct {
	Name          *string
	Category      *string
	Location      *string
	Unit          *string
	Kind          *models.Kind
	TotalQuantity *int
	MinStock      *int
	Status        *models.Status
}

// EquipmentService manages the equipment catalog. Reads go through the Redis
// cache when one is configured; every mutation drops the cached row.
type EquipmentService struct {
	repo  repositories.EquipmentRepository
	cache *pkgcache.EquipmentCache
	log   logger.Logger
}

// NewEquipmentService returns an EquipmentService. equipmentCache may be nil.
func NewEquipmentService(repo repositories.EquipmentRepository, equipmentCache *pkgcache.EquipmentCache, log logger.Logger) *EquipmentService {
	return &EquipmentService{repo: repo, cache: equipmentCache, log: log}
}

// Create validates and persists a new item with every unit available.
func (s *EquipmentService) Create(ctx context.Context, p models.EquipmentParams) (*models.Equipment, error) {
	eq, err := models.NewEquipment(p)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidEquipment, err)
	}
	if err := s.repo.Save(ctx, eq); err != nil {
		return nil, fmt.Errorf("save equipment: %w", err)
	}
	s.log.InfoContext(ctx, "equipment created", "equipment_id", eq.ID, "kind", eq.Kind, "total", eq.TotalQuantity)
	return eq, nil
}

// Get retrieves an item using a read-through cache:
//  1. Check Redis first.
//  2. On a miss (or cache error), query the repository.
//  3. Warm the cache asynchronously with the result, unless the row was
//     invalidated after the repository read.
func (s *EquipmentService) Get(ctx context.Context, id uuid.UUID) (*models.Equipment, error) {
	gen := int64(-1)
	if s.cache != nil {
		cached, err := s.cache.Get(ctx, id)
		if err == nil {
			return fromCachedEquipment(cached), nil
		}
		if !errors.Is(err, redis.Nil) {
			s.log.WarnContext(ctx, "equipment cache read failed", "equipment_id", id, "error", err)
		} else if gen, err = s.cache.Generation(ctx, id); err != nil {
			gen = -1
			s.log.WarnContext(ctx, "equipment cache read failed", "equipment_id", id, "error", err)
		}
	}

	eq, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get equipment: %w", err)
	}

	if gen >= 0 {
		warm := toCachedEquipment(eq)
		cacheCtx := context.WithoutCancel(ctx)
		go s.warm(cacheCtx, gen, warm)
	}
	return eq, nil
}

func (s *EquipmentService) warm(ctx context.Context, gen int64, eq *pkgcache.CachedEquipment) {
	err := s.cache.SetAt(ctx, gen, eq)
	switch {
	case errors.Is(err, pkgcache.ErrStaleSnapshot):
		s.log.DebugContext(ctx, "equipment cache warm skipped, row changed", "equipment_id", eq.ID)
	case err != nil:
		s.log.WarnContext(ctx, "equipment cache write failed", "equipment_id", eq.ID, "error", err)
	}
}

// List returns one page of items plus the total match count.
func (s *EquipmentService) List(ctx context.Context, f repositories.EquipmentFilter) ([]*models.Equipment, int, error) {
	f.QueryOpts = NormalizePage(f.QueryOpts)
	f.Search = strings.TrimSpace(f.Search)
	items, total, err := s.repo.List(ctx, f)
	if err != nil {
		return nil, 0, fmt.Errorf("list equipment: %w", err)
	}
	return items, total, nil
}

// Update applies an administrative edit under the row lock. Changing the
// total keeps the units out on loan: available moves by the same delta and
// never drops below zero.
func (s *EquipmentService) Update(ctx context.Context, id uuid.UUID, cmd UpdateEquipmentCommand) (*models.Equipment, error) {
	eq, err := s.repo.Update(ctx, id, func(eq *models.Equipment) error {
		return applyUpdate(eq, cmd)
	})
	if err != nil {
		return nil, fmt.Errorf("update equipment: %w", err)
	}
	s.Invalidate(ctx, id)
	s.log.InfoContext(ctx, "equipment updated",
		"equipment_id", id,
		"total", eq.TotalQuantity,
		"available", eq.AvailableQuantity,
		"status", eq.Status,
	)
	return eq, nil
}

// Delete removes an item. Items with active loans cannot be deleted.
func (s *EquipmentService) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete equipment: %w", err)
	}
	s.Invalidate(ctx, id)
	s.log.InfoContext(ctx, "equipment deleted", "equipment_id", id)
	return nil
}

// Invalidate drops cached rows. Failures are logged; the TTL bounds staleness.
func (s *EquipmentService) Invalidate(ctx context.Context, ids ...uuid.UUID) {
	if s.cache == nil || len(ids) == 0 {
		return
	}
	if err := s.cache.Delete(ctx, ids...); err != nil {
		s.log.WarnContext(ctx, "equipment cache invalidate failed", "error", err)
	}
}

func applyUpdate(eq *models.Equipment, cmd UpdateEquipmentCommand) error {
	if cmd.Kind != nil && *cmd.Kind != eq.Kind {
		return fmt.Errorf("%w: kind cannot be changed", domain.ErrInvalidEquipment)
	}
	if cmd.Name != nil {
		name := strings.TrimSpace(*cmd.Name)
		if name == "" || len(name) > 255 {
			return fmt.Errorf("%w: name must be 1-255 characters", domain.ErrInvalidEquipment)
		}
		eq.Name = name
	}
	if cmd.Category != nil {
		eq.Category = strings.TrimSpace(*cmd.Category)
	}
	if cmd.Location != nil {
		eq.Location = strings.TrimSpace(*cmd.Location)
	}
	if cmd.Unit != nil {
		eq.Unit = strings.TrimSpace(*cmd.Unit)
	}
	if cmd.MinStock != nil {
		if *cmd.MinStock < 0 {
			return fmt.Errorf("%w: min stock must not be negative", domain.ErrInvalidEquipment)
		}
		eq.MinStock = *cmd.MinStock
	}
	if cmd.TotalQuantity != nil {
		if err := domainsvcs.ResizeTotal(eq, *cmd.TotalQuantity); err != nil {
			return err
		}
	}
	if cmd.Status != nil {
		switch st := *cmd.Status; {
		case !st.Valid():
			return fmt.Errorf("%w: unknown status %q", domain.ErrInvalidEquipment, st)
		case st.Manual() && eq.Kind != models.KindBorrowable:
			return fmt.Errorf("%w: status %q only applies to borrowable items", domain.ErrInvalidEquipment, st)
		case st.Manual():
			eq.Status = st
		default:
			// Quantity-driven statuses are always derived.
			eq.Status = models.StatusAvailable
		}
	}
	domainsvcs.RefreshStatus(eq)
	return nil
}

// NormalizePage applies the default page size, caps it at MaxPageSize and
// clamps negative offsets.
func NormalizePage(opts repositories.QueryOpts) repositories.QueryOpts {
	if opts.Limit <= 0 {
		opts.Limit = DefaultPageSize
	}
	if opts.Limit > MaxPageSize {
		opts.Limit = MaxPageSize
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	return opts
}

func toCachedEquipment(eq *models.Equipment) *pkgcache.CachedEquipment {
	return &pkgcache.CachedEquipment{
		ID:                eq.ID,
		Name:              eq.Name,
		Category:          eq.Category,
		Location:          eq.Location,
		Unit:              eq.Unit,
		Kind:              string(eq.Kind),
		Status:            string(eq.Status),
		TotalQuantity:     eq.TotalQuantity,
		AvailableQuantity: eq.AvailableQuantity,
		MinStock:          eq.MinStock,
		CreatedAt:         eq.CreatedAt,
		UpdatedAt:         eq.UpdatedAt,
	}
}

func fromCachedEquipment(c *pkgcache.CachedEquipment) *models.Equipment {
	return &models.Equipment{
		ID:                c.ID,
		Name:              c.Name,
		Category:          c.Category,
		Location:          c.Location,
		Unit:              c.Unit,
		Kind:              models.Kind(c.Kind),
		Status:            models.Status(c.Status),
		TotalQuantity:     c.TotalQuantity,
		AvailableQuantity: c.AvailableQuantity,
		MinStock:          c.MinStock,
		CreatedAt:         c.CreatedAt,
		UpdatedAt:         c.UpdatedAt,
	}
}
