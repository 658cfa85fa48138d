package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ghuser/toolcrib/pkg/database"
	"github.com/ghuser/toolcrib/pkg/logger"
	"github.com/ghuser/toolcrib/pkg/migrator"
	"github.com/ghuser/toolcrib/services/inventory/domain"
	"github.com/ghuser/toolcrib/services/inventory/domain/models"
	"github.com/ghuser/toolcrib/services/inventory/domain/repositories"
	domainsvcs "github.com/ghuser/toolcrib/services/inventory/domain/services"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"lock timeout", &pgconn.PgError{Code: database.CodeLockNotAvailable}, domain.ErrConcurrencyConflict},
		{"deadlock", fmt.Errorf("exec: %w", &pgconn.PgError{Code: database.CodeDeadlockDetected}), domain.ErrConcurrencyConflict},
		{"domain error passes through", domain.ErrInsufficientStock, domain.ErrInsufficientStock},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classify("op", tt.err); !errors.Is(got, tt.want) {
				t.Fatalf("classify() = %v, want %v", got, tt.want)
			}
		})
	}
	if classify("op", nil) != nil {
		t.Fatal("nil must stay nil")
	}
}

func TestPageClause(t *testing.T) {
	args := []any{"x"}
	got := pageClause(repositories.QueryOpts{Limit: 10, Offset: 20}, &args)
	if got != " LIMIT $2 OFFSET $3" {
		t.Fatalf("clause = %q", got)
	}
	if len(args) != 3 || args[1] != 10 || args[2] != 20 {
		t.Fatalf("args = %v", args)
	}
	if got := pageClause(repositories.QueryOpts{}, &args); got != "" {
		t.Fatalf("empty opts clause = %q", got)
	}
}

// openTestDB connects to DATABASE_URL and applies the inventory migrations.
func openTestDB(t *testing.T) *database.Database {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set")
	}
	ctx := context.Background()
	db, err := database.NewPool(ctx, url, logger.Nop())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(db.Close)
	if err := migrator.Up(ctx, db.DB(), os.DirFS("../../../../../migrations/inventory")); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestLedger_Integration_NoOversell(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	equipment := NewEquipmentRepository(db, time.Second)
	ledger := NewLedger(db, nil, 5*time.Second)

	eq, _ := models.NewEquipment(models.EquipmentParams{Name: "Oscilloscope", Kind: models.KindBorrowable, TotalQuantity: 10})
	if err := equipment.Save(ctx, eq); err != nil {
		t.Fatal(err)
	}

	var granted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := ledger.Run(ctx, func(tx repositories.LedgerTx) error {
				locked, err := tx.LockEquipment(ctx, eq.ID)
				if err != nil {
					return err
				}
				if err := domainsvcs.ApplyBorrow(locked, 1); err != nil {
					return err
				}
				if err := tx.SaveEquipment(ctx, locked); err != nil {
					return err
				}
				return tx.AppendUsage(ctx, models.NewBorrowRecord(locked, models.Actor{UserID: fmt.Sprintf("u%d", i)}, 1, "", nil, time.Now().UTC()))
			})
			if err == nil {
				granted.Add(1)
			} else if !errors.Is(err, domain.ErrInsufficientStock) {
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if granted.Load() != 10 {
		t.Fatalf("granted %d borrows, want 10", granted.Load())
	}
	got, err := equipment.GetByID(ctx, eq.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.AvailableQuantity != 0 || got.Status != models.StatusOutOfStock {
		t.Fatalf("available=%d status=%s", got.AvailableQuantity, got.Status)
	}

	if err := equipment.Delete(ctx, eq.ID); !errors.Is(err, domain.ErrEquipmentInUse) {
		t.Fatalf("delete with active loans: %v", err)
	}
}
