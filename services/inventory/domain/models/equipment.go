package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind determines which reservation operations are legal for an item.
// It is fixed at creation.
type Kind string

const (
	KindBorrowable Kind = "borrowable"
	KindConsumable Kind = "consumable"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == KindBorrowable || k == KindConsumable
}

// Status is the stock status shown to users.
type Status string

const (
	StatusAvailable   Status = "available"
	StatusLowStock    Status = "low_stock"
	StatusOutOfStock  Status = "out_of_stock"
	StatusInUse       Status = "in_use"
	StatusMaintenance Status = "maintenance"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusAvailable, StatusLowStock, StatusOutOfStock, StatusInUse, StatusMaintenance:
		return true
	}
	return false
}

// Manual reports whether s is set by an operator rather than derived from
// quantities.
func (s Status) Manual() bool {
	return s == StatusInUse || s == StatusMaintenance
}

// Equipment is the aggregate the reservation engine mutates.
//
// Invariants: 0 <= AvailableQuantity <= TotalQuantity. For consumables
// AvailableQuantity == TotalQuantity and TotalQuantity never grows.
type Equipment struct {
	ID                uuid.UUID
	Name              string
	Category          string
	Location          string
	Unit              string
	Kind              Kind
	TotalQuantity     int
	AvailableQuantity int
	MinStock          int
	Status            Status
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// EquipmentParams holds the caller-supplied fields of a new item.
type EquipmentParams struct {
	Name          string
	Category      string
	Location      string
	Unit          string
	Kind          Kind
	TotalQuantity int
	MinStock      int
}

// NewEquipment constructs an item with every unit available and a derived status.
func NewEquipment(p EquipmentParams) (*Equipment, error) {
	name := strings.TrimSpace(p.Name)
	switch {
	case name == "":
		return nil, fmt.Errorf("name is required")
	case len(name) > 255:
		return nil, fmt.Errorf("name must be at most 255 characters")
	case !p.Kind.Valid():
		return nil, fmt.Errorf("kind must be %q or %q", KindBorrowable, KindConsumable)
	case p.TotalQuantity < 0:
		return nil, fmt.Errorf("total quantity must not be negative")
	case p.MinStock < 0:
		return nil, fmt.Errorf("min stock must not be negative")
	}

	now := time.Now().UTC()
	eq := &Equipment{
		ID:                uuid.New(),
		Name:              name,
		Category:          strings.TrimSpace(p.Category),
		Location:          strings.TrimSpace(p.Location),
		Unit:              strings.TrimSpace(p.Unit),
		Kind:              p.Kind,
		TotalQuantity:     p.TotalQuantity,
		AvailableQuantity: p.TotalQuantity,
		MinStock:          p.MinStock,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	eq.Status = eq.DerivedStatus()
	return eq, nil
}

// DerivedStatus computes the quantity-driven status. Borrowable items only
// signal out_of_stock; consumables also signal low_stock at or below MinStock.
func (e *Equipment) DerivedStatus() Status {
	if e.Kind == KindConsumable {
		switch {
		case e.TotalQuantity <= 0:
			return StatusOutOfStock
		case e.TotalQuantity <= e.MinStock:
			return StatusLowStock
		}
		return StatusAvailable
	}
	if e.AvailableQuantity <= 0 {
		return StatusOutOfStock
	}
	return StatusAvailable
}

// InUse returns how many units are currently out on loan.
func (e *Equipment) InUse() int {
	return e.TotalQuantity - e.AvailableQuantity
}

// Clone returns a copy safe to mutate independently.
func (e *Equipment) Clone() *Equipment {
	c := *e
	return &c
}
