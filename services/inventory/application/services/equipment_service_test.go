package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	pkgcache "github.com/ghuser/toolcrib/pkg/cache"
	"github.com/ghuser/toolcrib/pkg/logger"
	"github.com/ghuser/toolcrib/services/inventory/domain"
	"github.com/ghuser/toolcrib/services/inventory/domain/models"
	"github.com/ghuser/toolcrib/services/inventory/domain/repositories"
	"github.com/ghuser/toolcrib/services/inventory/infrastructure/persistence/memory"
)

func ptr[T any](v T) *T { return &v }

func TestEquipmentService_Create(t *testing.T) {
	svc := NewEquipmentService(memory.NewStore().Equipment(), nil, logger.Nop())

	tests := []struct {
		name    string
		params  models.EquipmentParams
		wantErr error
	}{
		{"borrowable", models.EquipmentParams{Name: "Drill", Kind: models.KindBorrowable, TotalQuantity: 4}, nil},
		{"consumable", models.EquipmentParams{Name: "Tape", Kind: models.KindConsumable, TotalQuantity: 10, MinStock: 2}, nil},
		{"blank name", models.EquipmentParams{Name: "  ", Kind: models.KindBorrowable}, domain.ErrInvalidEquipment},
		{"unknown kind", models.EquipmentParams{Name: "Thing", Kind: "rentable"}, domain.ErrInvalidEquipment},
		{"negative total", models.EquipmentParams{Name: "Thing", Kind: models.KindBorrowable, TotalQuantity: -1}, domain.ErrInvalidEquipment},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eq, err := svc.Create(context.Background(), tt.params)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Create() error = %v, want %v", err, tt.wantErr)
			}
			if err == nil && eq.AvailableQuantity != tt.params.TotalQuantity {
				t.Fatalf("available = %d, want %d", eq.AvailableQuantity, tt.params.TotalQuantity)
			}
		})
	}
}

func TestEquipmentService_UpdateKeepsLoanedUnits(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	svc := NewEquipmentService(store.Equipment(), nil, logger.Nop())
	reservations := NewReservationService(store, nil, svc, testPolicy, logger.Nop())
	eq := seedEquipment(t, store, models.KindBorrowable, 5, 0)

	if _, err := reservations.Borrow(ctx, BorrowCommand{EquipmentID: eq.ID, Actor: alice, Quantity: 2}); err != nil {
		t.Fatal(err)
	}

	got, err := svc.Update(ctx, eq.ID, UpdateEquipmentCommand{TotalQuantity: ptr(3)})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got.TotalQuantity != 3 || got.AvailableQuantity != 1 || got.Status != models.StatusAvailable {
		t.Fatalf("total=%d available=%d status=%s", got.TotalQuantity, got.AvailableQuantity, got.Status)
	}

	got, err = svc.Update(ctx, eq.ID, UpdateEquipmentCommand{TotalQuantity: ptr(1)})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got.AvailableQuantity != 0 || got.Status != models.StatusOutOfStock {
		t.Fatalf("available=%d status=%s", got.AvailableQuantity, got.Status)
	}
}

func TestEquipmentService_UpdateRules(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	svc := NewEquipmentService(store.Equipment(), nil, logger.Nop())
	tool := seedEquipment(t, store, models.KindBorrowable, 5, 0)
	tape := seedEquipment(t, store, models.KindConsumable, 10, 2)

	tests := []struct {
		name    string
		id      uuid.UUID
		cmd     UpdateEquipmentCommand
		wantErr error
		check   func(t *testing.T, eq *models.Equipment)
	}{
		{
			name:    "missing item",
			id:      uuid.New(),
			cmd:     UpdateEquipmentCommand{Name: ptr("x")},
			wantErr: domain.ErrEquipmentNotFound,
		},
		{
			name:    "kind is immutable",
			id:      tool.ID,
			cmd:     UpdateEquipmentCommand{Kind: ptr(models.KindConsumable)},
			wantErr: domain.ErrInvalidEquipment,
		},
		{
			name:    "consumable cannot grow",
			id:      tape.ID,
			cmd:     UpdateEquipmentCommand{TotalQuantity: ptr(11)},
			wantErr: domain.ErrInvalidEquipment,
		},
		{
			name:    "manual status needs borrowable",
			id:      tape.ID,
			cmd:     UpdateEquipmentCommand{Status: ptr(models.StatusMaintenance)},
			wantErr: domain.ErrInvalidEquipment,
		},
		{
			name: "consumable shrink derives low stock",
			id:   tape.ID,
			cmd:  UpdateEquipmentCommand{TotalQuantity: ptr(2)},
			check: func(t *testing.T, eq *models.Equipment) {
				if eq.TotalQuantity != 2 || eq.AvailableQuantity != 2 || eq.Status != models.StatusLowStock {
					t.Fatalf("total=%d available=%d status=%s", eq.TotalQuantity, eq.AvailableQuantity, eq.Status)
				}
			},
		},
		{
			name: "maintenance survives resize",
			id:   tool.ID,
			cmd:  UpdateEquipmentCommand{Status: ptr(models.StatusMaintenance), TotalQuantity: ptr(6), Name: ptr(" Big drill ")},
			check: func(t *testing.T, eq *models.Equipment) {
				if eq.Status != models.StatusMaintenance || eq.AvailableQuantity != 6 || eq.Name != "Big drill" {
					t.Fatalf("status=%s available=%d name=%q", eq.Status, eq.AvailableQuantity, eq.Name)
				}
			},
		},
		{
			name: "derived status clears maintenance",
			id:   tool.ID,
			cmd:  UpdateEquipmentCommand{Status: ptr(models.StatusAvailable)},
			check: func(t *testing.T, eq *models.Equipment) {
				if eq.Status != models.StatusAvailable {
					t.Fatalf("status = %s", eq.Status)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eq, err := svc.Update(ctx, tt.id, tt.cmd)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Update() error = %v, want %v", err, tt.wantErr)
			}
			if tt.check != nil {
				tt.check(t, eq)
			}
		})
	}
}

func TestEquipmentService_DeleteRefusedWhileLoaned(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	svc := NewEquipmentService(store.Equipment(), nil, logger.Nop())
	reservations := NewReservationService(store, nil, nil, testPolicy, logger.Nop())
	eq := seedEquipment(t, store, models.KindBorrowable, 1, 0)

	res, err := reservations.Borrow(ctx, BorrowCommand{EquipmentID: eq.ID, Actor: alice, Quantity: 1})
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.Delete(ctx, eq.ID); !errors.Is(err, domain.ErrEquipmentInUse) {
		t.Fatalf("Delete() error = %v, want ErrEquipmentInUse", err)
	}
	if _, err := reservations.Return(ctx, ReturnCommand{UsageID: res.Usage.ID}); err != nil {
		t.Fatal(err)
	}
	if err := svc.Delete(ctx, eq.ID); err != nil {
		t.Fatalf("Delete() after return: %v", err)
	}
	if _, err := svc.Get(ctx, eq.ID); !errors.Is(err, domain.ErrEquipmentNotFound) {
		t.Fatalf("Get() after delete: %v", err)
	}
}

func TestEquipmentService_ListClampsPageSize(t *testing.T) {
	store := memory.NewStore()
	svc := NewEquipmentService(store.Equipment(), nil, logger.Nop())
	for i := 0; i < 3; i++ {
		seedEquipment(t, store, models.KindBorrowable, i+1, 0)
	}

	items, total, err := svc.List(context.Background(), repositories.EquipmentFilter{QueryOpts: repositories.QueryOpts{Limit: 1000, Offset: -5}})
	if err != nil {
		t.Fatal(err)
	}
	if total != 3 || len(items) != 3 {
		t.Fatalf("total=%d len=%d", total, len(items))
	}
}

func TestNormalizePage(t *testing.T) {
	tests := []struct {
		in, want repositories.QueryOpts
	}{
		{repositories.QueryOpts{}, repositories.QueryOpts{Limit: DefaultPageSize}},
		{repositories.QueryOpts{Limit: 500, Offset: 10}, repositories.QueryOpts{Limit: MaxPageSize, Offset: 10}},
		{repositories.QueryOpts{Limit: 5, Offset: -1}, repositories.QueryOpts{Limit: 5}},
	}
	for _, tt := range tests {
		if got := NormalizePage(tt.in); got != tt.want {
			t.Errorf("NormalizePage(%+v) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}

// racingEquipmentRepo runs afterRead once, after GetByID has read the row
// and before it returns it.
type racingEquipmentRepo struct {
	repositories.EquipmentRepository
	afterRead func()
}

func (r *racingEquipmentRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Equipment, error) {
	eq, err := r.EquipmentRepository.GetByID(ctx, id)
	if hook := r.afterRead; hook != nil {
		r.afterRead = nil
		hook()
	}
	return eq, err
}

func TestEquipmentService_GetDoesNotWarmSupersededRow(t *testing.T) {
	ctx := context.Background()
	equipmentCache := pkgcache.NewEquipmentCache(newTestRedis(t))
	store := memory.NewStore()
	repo := &racingEquipmentRepo{EquipmentRepository: store.Equipment()}
	svc := NewEquipmentService(repo, equipmentCache, logger.Nop())
	eq := seedEquipment(t, store, models.KindBorrowable, 5, 0)
	t.Cleanup(func() { _ = equipmentCache.Delete(context.Background(), eq.ID) })

	repo.afterRead = func() {
		if _, err := svc.Update(ctx, eq.ID, UpdateEquipmentCommand{TotalQuantity: ptr(9)}); err != nil {
			t.Errorf("Update: %v", err)
		}
	}
	stale, err := svc.Get(ctx, eq.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stale.TotalQuantity != 5 {
		t.Fatalf("first Get read total %d, want the pre-update 5", stale.TotalQuantity)
	}

	// The background warm must never publish the pre-update row.
	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) {
		cached, err := equipmentCache.Get(ctx, eq.ID)
		if err == nil && cached.TotalQuantity != 9 {
			t.Fatalf("cache holds superseded row: total %d", cached.TotalQuantity)
		}
		if err != nil && !errors.Is(err, redis.Nil) {
			t.Fatal(err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	got, err := svc.Get(ctx, eq.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.TotalQuantity != 9 || got.AvailableQuantity != 9 {
		t.Fatalf("Get after update = total %d available %d, want 9/9", got.TotalQuantity, got.AvailableQuantity)
	}
}
