package repositories

import (
	"context"

	"github.com/google/uuid"

	"github.com/ghuser/toolcrib/services/inventory/domain/models"
)

// QueryOpts contains pagination parameters for list queries.
type QueryOpts struct {
	Limit  int // Maximum number of records to return
	Offset int // Number of records to skip
}

// EquipmentFilter narrows an equipment listing. Zero values match everything.
type EquipmentFilter struct {
	Kind     models.Kind
	Status   models.Status
	Category string
	Search   string // case-insensitive substring of the name
	QueryOpts
}

// UsageFilter narrows a usage history listing. Zero values match everything.
type UsageFilter struct {
	UserID      string
	EquipmentID uuid.UUID
	Operation   models.Operation
	State       models.UsageState
	QueryOpts
}

// EquipmentRepository is the persistence interface for the Equipment aggregate.
// The domain layer owns this interface; infrastructure implements it.
type EquipmentRepository interface {
	Save(ctx context.Context, eq *models.Equipment) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Equipment, error)

	// List returns one page of items ordered by name plus the total match count.
	List(ctx context.Context, f EquipmentFilter) ([]*models.Equipment, int, error)

	// Update applies mutate to the current row while holding the row lock and
	// persists the result. Returning an error from mutate aborts the update.
	Update(ctx context.Context, id uuid.UUID, mutate func(*models.Equipment) error) (*models.Equipment, error)

	// Delete removes an item. Returns ErrEquipmentInUse while active loans
	// reference it.
	Delete(ctx context.Context, id uuid.UUID) error
}

// UsageRepository is the read side of the usage ledger.
type UsageRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.UsageRecord, error)

	// List returns one page of records newest first plus the total match count.
	List(ctx context.Context, f UsageFilter) ([]*models.UsageRecord, int, error)

	// ListActiveBorrows returns every active borrow record for the given users,
	// or for all users when none are given.
	ListActiveBorrows(ctx context.Context, userIDs ...string) ([]*models.UsageRecord, error)
}

// Ledger runs a reservation as one atomic unit. Everything done through the
// LedgerTx is committed together when fn returns nil and discarded otherwise.
type Ledger interface {
	Run(ctx context.Context, fn func(tx LedgerTx) error) error
}

// LedgerTx is the view of the store inside a Ledger unit. Lock methods hold
// the row until the unit ends, so concurrent units on the same equipment or
// usage record are serialized.
type LedgerTx interface {
	LockEquipment(ctx context.Context, id uuid.UUID) (*models.Equipment, error)
	LockUsage(ctx context.Context, id uuid.UUID) (*models.UsageRecord, error)
	SaveEquipment(ctx context.Context, eq *models.Equipment) error
	AppendUsage(ctx context.Context, rec *models.UsageRecord) error
	SaveUsage(ctx context.Context, rec *models.UsageRecord) error
}
