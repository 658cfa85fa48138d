// Package services contains stateless domain services for the inventory
// bounded context. They mutate aggregates handed to them and never touch
// storage; callers are responsible for holding the row locks.
package services

import (
	"fmt"
	"time"

	"github.com/ghuser/toolcrib/services/inventory/domain"
	"github.com/ghuser/toolcrib/services/inventory/domain/models"
)

// ApplyBorrow reserves qty units of a borrowable item.
func ApplyBorrow(eq *models.Equipment, qty int) error {
	if eq.Kind != models.KindBorrowable {
		return fmt.Errorf("%w: %s is %s", domain.ErrWrongKind, eq.Name, eq.Kind)
	}
	if qty <= 0 {
		return fmt.Errorf("%w: %d", domain.ErrInvalidQuantity, qty)
	}
	if eq.AvailableQuantity < qty {
		return fmt.Errorf("%w: requested %d, available %d", domain.ErrInsufficientStock, qty, eq.AvailableQuantity)
	}

	eq.AvailableQuantity -= qty
	if eq.AvailableQuantity == 0 {
		eq.Status = models.StatusOutOfStock
	}
	return nil
}

// ApplyWithdraw permanently removes qty units of a consumable item.
func ApplyWithdraw(eq *models.Equipment, qty int) error {
	if eq.Kind != models.KindConsumable {
		return fmt.Errorf("%w: %s is %s", domain.ErrWrongKind, eq.Name, eq.Kind)
	}
	if qty <= 0 {
		return fmt.Errorf("%w: %d", domain.ErrInvalidQuantity, qty)
	}
	if eq.AvailableQuantity < qty {
		return fmt.Errorf("%w: requested %d, available %d", domain.ErrInsufficientStock, qty, eq.AvailableQuantity)
	}

	eq.TotalQuantity -= qty
	eq.AvailableQuantity -= qty
	switch {
	case eq.TotalQuantity <= 0:
		eq.Status = models.StatusOutOfStock
	case eq.TotalQuantity <= eq.MinStock:
		eq.Status = models.StatusLowStock
	}
	return nil
}

// ValidateReturn checks that rec can be returned with the requested quantity
// and resolves the default. A nil qty means the whole borrowed quantity.
func ValidateReturn(rec *models.UsageRecord, qty *int) (int, error) {
	if rec.Operation != models.OperationBorrow {
		return 0, domain.ErrWrongOperation
	}
	if rec.State != models.StateActive {
		return 0, domain.ErrAlreadyReturned
	}
	n := rec.Quantity
	if qty != nil {
		n = *qty
	}
	if n <= 0 {
		return 0, fmt.Errorf("%w: %d", domain.ErrInvalidQuantity, n)
	}
	if n > rec.Quantity {
		return 0, fmt.Errorf("%w: returning %d of %d", domain.ErrOverReturn, n, rec.Quantity)
	}
	return n, nil
}

// ApplyReturn closes rec and puts the returned units back on eq. A partial
// return still closes the record; units not returned stay out of stock.
func ApplyReturn(eq *models.Equipment, rec *models.UsageRecord, qty *int, note string, now time.Time) (int, error) {
	n, err := ValidateReturn(rec, qty)
	if err != nil {
		return 0, err
	}

	eq.AvailableQuantity = min(eq.AvailableQuantity+n, eq.TotalQuantity)
	if eq.Status == models.StatusOutOfStock && eq.AvailableQuantity > 0 {
		eq.Status = models.StatusAvailable
	}

	rec.State = models.StateReturned
	rec.ReturnedAt = &now
	rec.ReturnQuantity = n
	rec.Note = note
	return n, nil
}

// ResizeTotal changes the pool size while preserving units out on loan:
// newAvailable = max(0, oldAvailable + (newTotal - oldTotal)).
// Consumables cannot grow.
func ResizeTotal(eq *models.Equipment, newTotal int) error {
	if newTotal < 0 {
		return fmt.Errorf("%w: total quantity must not be negative", domain.ErrInvalidEquipment)
	}
	if eq.Kind == models.KindConsumable && newTotal > eq.TotalQuantity {
		return fmt.Errorf("%w: consumable total can only decrease (%d -> %d)",
			domain.ErrInvalidEquipment, eq.TotalQuantity, newTotal)
	}

	delta := newTotal - eq.TotalQuantity
	eq.TotalQuantity = newTotal
	eq.AvailableQuantity = max(0, eq.AvailableQuantity+delta)
	return nil
}

// RefreshStatus re-derives a quantity-driven status after an administrative
// edit. Operator-set statuses (in_use, maintenance) are kept.
func RefreshStatus(eq *models.Equipment) {
	if eq.Status.Manual() && eq.Kind == models.KindBorrowable {
		return
	}
	eq.Status = eq.DerivedStatus()
}
