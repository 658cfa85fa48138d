package services

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ghuser/toolcrib/services/inventory/domain"
	"github.com/ghuser/toolcrib/services/inventory/domain/models"
)

func borrowable(total, available int) *models.Equipment {
	eq := &models.Equipment{
		ID:                uuid.New(),
		Name:              "Drill",
		Kind:              models.KindBorrowable,
		TotalQuantity:     total,
		AvailableQuantity: available,
		MinStock:          1,
	}
	eq.Status = eq.DerivedStatus()
	return eq
}

func consumable(total, minStock int) *models.Equipment {
	eq := &models.Equipment{
		ID:                uuid.New(),
		Name:              "Cable ties",
		Kind:              models.KindConsumable,
		TotalQuantity:     total,
		AvailableQuantity: total,
		MinStock:          minStock,
	}
	eq.Status = eq.DerivedStatus()
	return eq
}

func intp(n int) *int { return &n }

func TestApplyBorrow(t *testing.T) {
	tests := []struct {
		name       string
		eq         *models.Equipment
		qty        int
		wantErr    error
		wantAvail  int
		wantStatus models.Status
	}{
		{"partial", borrowable(5, 5), 3, nil, 2, models.StatusAvailable},
		{"drains to zero", borrowable(5, 2), 2, nil, 0, models.StatusOutOfStock},
		{"below min stock stays available", borrowable(5, 5), 4, nil, 1, models.StatusAvailable},
		{"insufficient", borrowable(5, 2), 3, domain.ErrInsufficientStock, 2, models.StatusAvailable},
		{"zero quantity", borrowable(5, 5), 0, domain.ErrInvalidQuantity, 5, models.StatusAvailable},
		{"consumable", consumable(10, 3), 1, domain.ErrWrongKind, 10, models.StatusAvailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ApplyBorrow(tt.eq, tt.qty)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if tt.eq.AvailableQuantity != tt.wantAvail {
				t.Errorf("available = %d, want %d", tt.eq.AvailableQuantity, tt.wantAvail)
			}
			if tt.eq.Status != tt.wantStatus {
				t.Errorf("status = %s, want %s", tt.eq.Status, tt.wantStatus)
			}
		})
	}
}

func TestApplyWithdraw(t *testing.T) {
	tests := []struct {
		name       string
		eq         *models.Equipment
		qty        int
		wantErr    error
		wantTotal  int
		wantStatus models.Status
	}{
		{"above min stock", consumable(10, 3), 2, nil, 8, models.StatusAvailable},
		{"reaches min stock", consumable(10, 3), 7, nil, 3, models.StatusLowStock},
		{"drains", consumable(2, 3), 2, nil, 0, models.StatusOutOfStock},
		{"insufficient", consumable(2, 0), 3, domain.ErrInsufficientStock, 2, models.StatusAvailable},
		{"negative quantity", consumable(2, 0), -1, domain.ErrInvalidQuantity, 2, models.StatusAvailable},
		{"borrowable", borrowable(5, 5), 1, domain.ErrWrongKind, 5, models.StatusAvailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ApplyWithdraw(tt.eq, tt.qty)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if tt.eq.TotalQuantity != tt.wantTotal {
				t.Errorf("total = %d, want %d", tt.eq.TotalQuantity, tt.wantTotal)
			}
			if tt.eq.AvailableQuantity != tt.eq.TotalQuantity {
				t.Errorf("consumable available %d drifted from total %d", tt.eq.AvailableQuantity, tt.eq.TotalQuantity)
			}
			if tt.eq.Status != tt.wantStatus {
				t.Errorf("status = %s, want %s", tt.eq.Status, tt.wantStatus)
			}
		})
	}
}

func TestWithdraw_ConsumableScenario(t *testing.T) {
	eq := consumable(10, 3)
	if err := ApplyWithdraw(eq, 8); err != nil {
		t.Fatal(err)
	}
	if eq.TotalQuantity != 2 || eq.Status != models.StatusLowStock {
		t.Fatalf("after first withdraw: total=%d status=%s", eq.TotalQuantity, eq.Status)
	}
	if err := ApplyWithdraw(eq, 2); err != nil {
		t.Fatal(err)
	}
	if eq.TotalQuantity != 0 || eq.Status != models.StatusOutOfStock {
		t.Fatalf("after second withdraw: total=%d status=%s", eq.TotalQuantity, eq.Status)
	}
}

func TestApplyReturn(t *testing.T) {
	now := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

	newLoan := func(eq *models.Equipment, qty int) *models.UsageRecord {
		if err := ApplyBorrow(eq, qty); err != nil {
			t.Fatalf("setup borrow: %v", err)
		}
		return models.NewBorrowRecord(eq, models.Actor{UserID: "u1"}, qty, "", nil, now.Add(-time.Hour))
	}

	t.Run("full return restores and clears out_of_stock", func(t *testing.T) {
		eq := borrowable(3, 3)
		rec := newLoan(eq, 3)
		if eq.Status != models.StatusOutOfStock {
			t.Fatalf("setup: status = %s", eq.Status)
		}
		n, err := ApplyReturn(eq, rec, nil, "all good", now)
		if err != nil {
			t.Fatal(err)
		}
		if n != 3 || eq.AvailableQuantity != 3 || eq.Status != models.StatusAvailable {
			t.Fatalf("n=%d available=%d status=%s", n, eq.AvailableQuantity, eq.Status)
		}
		if rec.State != models.StateReturned || rec.ReturnedAt == nil || !rec.ReturnedAt.Equal(now) {
			t.Fatalf("record not closed: %+v", rec)
		}
		if rec.ReturnQuantity != 3 || rec.Note != "all good" {
			t.Fatalf("return details not stored: %+v", rec)
		}
	})

	t.Run("partial return closes the record", func(t *testing.T) {
		eq := borrowable(5, 5)
		rec := newLoan(eq, 4)
		n, err := ApplyReturn(eq, rec, intp(1), "one lost", now)
		if err != nil {
			t.Fatal(err)
		}
		if n != 1 || eq.AvailableQuantity != 2 || rec.State != models.StateReturned {
			t.Fatalf("n=%d available=%d state=%s", n, eq.AvailableQuantity, rec.State)
		}
	})

	t.Run("capped at total after resize", func(t *testing.T) {
		eq := borrowable(5, 5)
		rec := newLoan(eq, 4)
		if err := ResizeTotal(eq, 2); err != nil {
			t.Fatal(err)
		}
		if _, err := ApplyReturn(eq, rec, nil, "", now); err != nil {
			t.Fatal(err)
		}
		if eq.AvailableQuantity != 2 {
			t.Fatalf("available = %d, want capped at 2", eq.AvailableQuantity)
		}
	})

	failures := []struct {
		name    string
		rec     func(eq *models.Equipment) *models.UsageRecord
		qty     *int
		wantErr error
	}{
		{"over return", func(eq *models.Equipment) *models.UsageRecord { return newLoan(eq, 2) }, intp(3), domain.ErrOverReturn},
		{"zero quantity", func(eq *models.Equipment) *models.UsageRecord { return newLoan(eq, 2) }, intp(0), domain.ErrInvalidQuantity},
		{"withdraw record", func(eq *models.Equipment) *models.UsageRecord {
			return models.NewWithdrawRecord(eq, models.Actor{UserID: "u1"}, 1, "", "", now)
		}, nil, domain.ErrWrongOperation},
		{"already returned", func(eq *models.Equipment) *models.UsageRecord {
			rec := newLoan(eq, 1)
			rec.State = models.StateReturned
			return rec
		}, nil, domain.ErrAlreadyReturned},
	}
	for _, tt := range failures {
		t.Run(tt.name, func(t *testing.T) {
			eq := borrowable(5, 5)
			rec := tt.rec(eq)
			beforeEq := *eq
			beforeRec := *rec
			_, err := ApplyReturn(eq, rec, tt.qty, "", now)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if *eq != beforeEq {
				t.Errorf("equipment mutated on failure: %+v", eq)
			}
			if rec.State != beforeRec.State || rec.ReturnQuantity != beforeRec.ReturnQuantity || rec.ReturnedAt != beforeRec.ReturnedAt {
				t.Errorf("record mutated on failure: %+v", rec)
			}
		})
	}
}

func TestBorrowReturnScenario(t *testing.T) {
	now := time.Now().UTC()
	a := borrowable(5, 5)

	if err := ApplyBorrow(a, 3); err != nil {
		t.Fatal(err)
	}
	user1 := models.NewBorrowRecord(a, models.Actor{UserID: "user1"}, 3, "", nil, now)
	if a.AvailableQuantity != 2 || a.Status != models.StatusAvailable {
		t.Fatalf("after borrow 3: available=%d status=%s", a.AvailableQuantity, a.Status)
	}

	if err := ApplyWithdraw(a, 1); !errors.Is(err, domain.ErrWrongKind) {
		t.Fatalf("withdraw on borrowable: %v", err)
	}

	if err := ApplyBorrow(a, 2); err != nil {
		t.Fatal(err)
	}
	if a.AvailableQuantity != 0 || a.Status != models.StatusOutOfStock {
		t.Fatalf("after borrow 2: available=%d status=%s", a.AvailableQuantity, a.Status)
	}

	if _, err := ApplyReturn(a, user1, intp(3), "", now); err != nil {
		t.Fatal(err)
	}
	if a.AvailableQuantity != 3 || a.Status != models.StatusAvailable {
		t.Fatalf("after return: available=%d status=%s", a.AvailableQuantity, a.Status)
	}
}

func TestResizeTotal(t *testing.T) {
	tests := []struct {
		name      string
		eq        *models.Equipment
		newTotal  int
		wantErr   error
		wantAvail int
	}{
		{"grow keeps loans out", borrowable(5, 2), 8, nil, 5},
		{"shrink keeps loans out", borrowable(5, 4), 3, nil, 2},
		{"shrink below loans clamps at zero", borrowable(5, 1), 2, nil, 0},
		{"negative", borrowable(5, 5), -1, domain.ErrInvalidEquipment, 5},
		{"consumable cannot grow", consumable(5, 1), 6, domain.ErrInvalidEquipment, 5},
		{"consumable shrink", consumable(5, 1), 3, nil, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ResizeTotal(tt.eq, tt.newTotal)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if tt.eq.AvailableQuantity != tt.wantAvail {
				t.Errorf("available = %d, want %d", tt.eq.AvailableQuantity, tt.wantAvail)
			}
		})
	}
}

func TestRefreshStatus_KeepsManualStatus(t *testing.T) {
	eq := borrowable(5, 0)
	eq.Status = models.StatusMaintenance
	RefreshStatus(eq)
	if eq.Status != models.StatusMaintenance {
		t.Fatalf("status = %s, want maintenance", eq.Status)
	}

	eq.Status = models.StatusAvailable
	RefreshStatus(eq)
	if eq.Status != models.StatusOutOfStock {
		t.Fatalf("status = %s, want out_of_stock", eq.Status)
	}
}
