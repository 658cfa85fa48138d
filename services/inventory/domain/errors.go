package domain

import "errors"

// Sentinel errors for the inventory domain. Use errors.Is() to check these.
var (
	// ErrEquipmentNotFound indicates the requested equipment item does not exist.
	ErrEquipmentNotFound = errors.New("equipment not found")

	// ErrUsageNotFound indicates the requested usage record does not exist.
	ErrUsageNotFound = errors.New("usage record not found")

	// ErrWrongKind indicates the operation is not legal for the item's kind,
	// e.g. borrowing a consumable or withdrawing a borrowable item.
	ErrWrongKind = errors.New("operation not allowed for this equipment kind")

	// ErrInvalidQuantity indicates a quantity that is not a positive integer.
	ErrInvalidQuantity = errors.New("quantity must be a positive integer")

	// ErrInsufficientStock indicates availableQuantity is below the requested quantity.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrAlreadyReturned indicates the borrow record is no longer active.
	ErrAlreadyReturned = errors.New("usage record already returned")

	// ErrWrongOperation indicates a return was attempted on a withdraw record.
	ErrWrongOperation = errors.New("only borrow records can be returned")

	// ErrOverReturn indicates returnQuantity exceeds the borrowed quantity.
	ErrOverReturn = errors.New("return quantity exceeds borrowed quantity")

	// ErrConcurrencyConflict indicates transaction contention; safe to retry.
	ErrConcurrencyConflict = errors.New("concurrent update conflict")

	// ErrStoreUnavailable indicates the backing store could not be reached.
	ErrStoreUnavailable = errors.New("inventory store unavailable")

	// ErrEquipmentAlreadyExists indicates an item with the same ID already exists.
	ErrEquipmentAlreadyExists = errors.New("equipment already exists")

	// ErrEquipmentInUse indicates the item still has active loans.
	ErrEquipmentInUse = errors.New("equipment has active loans")

	// ErrInvalidEquipment indicates an equipment payload violates domain constraints.
	ErrInvalidEquipment = errors.New("invalid equipment")

	// ErrMissingUser indicates a reservation without a user id.
	ErrMissingUser = errors.New("user id is required")
)

// Stable machine-readable failure kinds returned to API clients.
const (
	KindNotFound            = "NotFound"
	KindWrongKind           = "WrongKind"
	KindInvalidQuantity     = "InvalidQuantity"
	KindInsufficientStock   = "InsufficientStock"
	KindAlreadyReturned     = "AlreadyReturned"
	KindWrongOperation      = "WrongOperation"
	KindOverReturn          = "OverReturn"
	KindConcurrencyConflict = "ConcurrencyConflict"
	KindStoreUnavailable    = "StoreUnavailable"
	KindAlreadyExists       = "AlreadyExists"
	KindInUse               = "InUse"
	KindInvalidEquipment    = "InvalidEquipment"
	KindMissingUser         = "MissingUser"
	KindInternal            = "Internal"
)

var kinds = []struct {
	err  error
	kind string
}{
	{ErrEquipmentNotFound, KindNotFound},
	{ErrUsageNotFound, KindNotFound},
	{ErrWrongKind, KindWrongKind},
	{ErrInvalidQuantity, KindInvalidQuantity},
	{ErrInsufficientStock, KindInsufficientStock},
	{ErrAlreadyReturned, KindAlreadyReturned},
	{ErrWrongOperation, KindWrongOperation},
	{ErrOverReturn, KindOverReturn},
	{ErrConcurrencyConflict, KindConcurrencyConflict},
	{ErrStoreUnavailable, KindStoreUnavailable},
	{ErrEquipmentAlreadyExists, KindAlreadyExists},
	{ErrEquipmentInUse, KindInUse},
	{ErrInvalidEquipment, KindInvalidEquipment},
	{ErrMissingUser, KindMissingUser},
}

// KindOf returns the stable kind of err, or KindInternal when err wraps no
// inventory sentinel.
func KindOf(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}
