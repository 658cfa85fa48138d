package models

import (
	"time"

	"github.com/google/uuid"
)

// Operation is the kind of ledger entry.
type Operation string

const (
	OperationBorrow   Operation = "borrow"
	OperationWithdraw Operation = "withdraw"
)

// UsageState is the lifecycle state of a ledger entry. Borrow records move
// Active -> Returned; Withdraw records are Completed on creation.
type UsageState string

const (
	StateActive    UsageState = "active"
	StateReturned  UsageState = "returned"
	StateCompleted UsageState = "completed"
)

// UsageRecord is one entry in the usage ledger. EquipmentName and UserName
// are snapshots taken at creation and never follow later renames.
// Quantity is fixed at creation.
type UsageRecord struct {
	ID            uuid.UUID
	EquipmentID   uuid.UUID
	EquipmentName string
	UserID        string
	UserName      string
	Operation     Operation
	Quantity      int
	State         UsageState
	Purpose       string
	JobReference  string
	CreatedAt     time.Time

	ExpectedReturnAt *time.Time
	ReturnedAt       *time.Time
	ReturnQuantity   int
	Note             string
}

// Actor identifies who performs a reservation.
type Actor struct {
	UserID   string
	UserName string
}

// displayName falls back to the user ID when no name was supplied.
func (a Actor) displayName() string {
	if a.UserName == "" {
		return a.UserID
	}
	return a.UserName
}

// NewBorrowRecord creates an Active borrow entry against eq.
func NewBorrowRecord(eq *Equipment, by Actor, qty int, purpose string, expectedReturn *time.Time, now time.Time) *UsageRecord {
	return &UsageRecord{
		ID:               uuid.New(),
		EquipmentID:      eq.ID,
		EquipmentName:    eq.Name,
		UserID:           by.UserID,
		UserName:         by.displayName(),
		Operation:        OperationBorrow,
		Quantity:         qty,
		State:            StateActive,
		Purpose:          purpose,
		CreatedAt:        now,
		ExpectedReturnAt: expectedReturn,
	}
}

// NewWithdrawRecord creates a Completed withdraw entry against eq.
func NewWithdrawRecord(eq *Equipment, by Actor, qty int, purpose, jobReference string, now time.Time) *UsageRecord {
	return &UsageRecord{
		ID:            uuid.New(),
		EquipmentID:   eq.ID,
		EquipmentName: eq.Name,
		UserID:        by.UserID,
		UserName:      by.displayName(),
		Operation:     OperationWithdraw,
		Quantity:      qty,
		State:         StateCompleted,
		Purpose:       purpose,
		JobReference:  jobReference,
		CreatedAt:     now,
	}
}

// IsActiveBorrow reports whether r is an outstanding loan.
func (r *UsageRecord) IsActiveBorrow() bool {
	return r.Operation == OperationBorrow && r.State == StateActive
}

// Overdue reports whether r is an active loan past its expected return time.
func (r *UsageRecord) Overdue(now time.Time) bool {
	return r.IsActiveBorrow() && r.ExpectedReturnAt != nil && now.After(*r.ExpectedReturnAt)
}

// Clone returns a deep copy.
func (r *UsageRecord) Clone() *UsageRecord {
	c := *r
	if r.ExpectedReturnAt != nil {
		t := *r.ExpectedReturnAt
		c.ExpectedReturnAt = &t
	}
	if r.ReturnedAt != nil {
		t := *r.ReturnedAt
		c.ReturnedAt = &t
	}
	return &c
}
