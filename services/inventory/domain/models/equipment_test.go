package models

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ghuser/toolcrib/services/inventory/domain"
)

func TestNewEquipment(t *testing.T) {
	t.Run("all units available", func(t *testing.T) {
		eq, err := NewEquipment(EquipmentParams{Name: " Drill ", Kind: KindBorrowable, TotalQuantity: 5, MinStock: 1})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if eq.ID == uuid.Nil {
			t.Fatal("expected generated ID")
		}
		if eq.Name != "Drill" {
			t.Errorf("expected trimmed name, got %q", eq.Name)
		}
		if eq.AvailableQuantity != 5 || eq.Status != StatusAvailable {
			t.Errorf("got available=%d status=%s", eq.AvailableQuantity, eq.Status)
		}
	})

	t.Run("consumable at min stock starts low", func(t *testing.T) {
		eq, err := NewEquipment(EquipmentParams{Name: "Tape", Kind: KindConsumable, TotalQuantity: 3, MinStock: 3})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if eq.Status != StatusLowStock {
			t.Errorf("expected low_stock, got %s", eq.Status)
		}
	})

	invalid := []struct {
		name string
		p    EquipmentParams
	}{
		{"empty name", EquipmentParams{Name: "  ", Kind: KindBorrowable}},
		{"unknown kind", EquipmentParams{Name: "x", Kind: "rental"}},
		{"negative total", EquipmentParams{Name: "x", Kind: KindBorrowable, TotalQuantity: -1}},
		{"negative min stock", EquipmentParams{Name: "x", Kind: KindConsumable, MinStock: -1}},
	}
	for _, tt := range invalid {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewEquipment(tt.p); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestDerivedStatus(t *testing.T) {
	tests := []struct {
		name string
		eq   Equipment
		want Status
	}{
		{"borrowable with stock", Equipment{Kind: KindBorrowable, TotalQuantity: 5, AvailableQuantity: 1}, StatusAvailable},
		{"borrowable exhausted", Equipment{Kind: KindBorrowable, TotalQuantity: 5, AvailableQuantity: 0}, StatusOutOfStock},
		{"borrowable below min stays available", Equipment{Kind: KindBorrowable, TotalQuantity: 5, AvailableQuantity: 1, MinStock: 3}, StatusAvailable},
		{"consumable above min", Equipment{Kind: KindConsumable, TotalQuantity: 4, AvailableQuantity: 4, MinStock: 3}, StatusAvailable},
		{"consumable at min", Equipment{Kind: KindConsumable, TotalQuantity: 3, AvailableQuantity: 3, MinStock: 3}, StatusLowStock},
		{"consumable empty", Equipment{Kind: KindConsumable, TotalQuantity: 0, MinStock: 3}, StatusOutOfStock},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.eq.DerivedStatus(); got != tt.want {
				t.Errorf("DerivedStatus() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestUsageRecord_SnapshotsAndOverdue(t *testing.T) {
	eq := &Equipment{ID: uuid.New(), Name: "Ladder", Kind: KindBorrowable}
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	due := now.Add(48 * time.Hour)

	rec := NewBorrowRecord(eq, Actor{UserID: "u1"}, 2, "site visit", &due, now)
	if rec.UserName != "u1" {
		t.Errorf("expected user name to default to user ID, got %q", rec.UserName)
	}
	if rec.EquipmentName != "Ladder" || rec.State != StateActive {
		t.Errorf("unexpected record: %+v", rec)
	}

	eq.Name = "Step ladder"
	if rec.EquipmentName != "Ladder" {
		t.Error("snapshot must not follow rename")
	}

	if rec.Overdue(now.Add(time.Hour)) {
		t.Error("not overdue before due time")
	}
	if !rec.Overdue(due.Add(time.Minute)) {
		t.Error("expected overdue after due time")
	}

	clone := rec.Clone()
	*clone.ExpectedReturnAt = now
	if !rec.ExpectedReturnAt.Equal(due) {
		t.Error("Clone must deep copy time pointers")
	}

	w := NewWithdrawRecord(eq, Actor{UserID: "u2", UserName: "Ann"}, 1, "", "JOB-7", now)
	if w.State != StateCompleted || w.IsActiveBorrow() {
		t.Errorf("withdraw record must be completed, got %s", w.State)
	}
}

func TestParseQuantity(t *testing.T) {
	tests := []struct {
		raw     string
		want    int
		wantErr bool
	}{
		{"3", 3, false},
		{" 12 ", 12, false},
		{"3.0", 3, false},
		{"1e2", 100, false},
		{"0", 0, true},
		{"-2", 0, true},
		{"2.5", 0, true},
		{"abc", 0, true},
		{"", 0, true},
		{"99999999999", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseQuantity(tt.raw)
			if tt.wantErr {
				if !errors.Is(err, domain.ErrInvalidQuantity) {
					t.Fatalf("expected ErrInvalidQuantity, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}
