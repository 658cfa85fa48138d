package postgres

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ghuser/toolcrib/pkg/database"
	"github.com/ghuser/toolcrib/services/inventory/domain"
	"github.com/ghuser/toolcrib/services/inventory/domain/models"
)

const equipmentColumns = `id, name, category, location, unit, kind,
	total_quantity, available_quantity, min_stock, status, created_at, updated_at`

const usageColumns = `id, equipment_id, equipment_name, user_id, user_name, operation,
	quantity, state, purpose, job_reference, created_at,
	expected_return_at, returned_at, return_quantity, note`

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanEquipment(row rowScanner) (*models.Equipment, error) {
	var (
		eq     models.Equipment
		kind   string
		status string
	)
	if err := row.Scan(
		&eq.ID, &eq.Name, &eq.Category, &eq.Location, &eq.Unit, &kind,
		&eq.TotalQuantity, &eq.AvailableQuantity, &eq.MinStock, &status,
		&eq.CreatedAt, &eq.UpdatedAt,
	); err != nil {
		return nil, err
	}
	eq.Kind = models.Kind(kind)
	eq.Status = models.Status(status)
	return &eq, nil
}

func scanUsage(row rowScanner) (*models.UsageRecord, error) {
	var (
		rec            models.UsageRecord
		operation      string
		state          string
		expectedReturn sql.NullTime
		returnedAt     sql.NullTime
	)
	if err := row.Scan(
		&rec.ID, &rec.EquipmentID, &rec.EquipmentName, &rec.UserID, &rec.UserName, &operation,
		&rec.Quantity, &state, &rec.Purpose, &rec.JobReference, &rec.CreatedAt,
		&expectedReturn, &returnedAt, &rec.ReturnQuantity, &rec.Note,
	); err != nil {
		return nil, err
	}
	rec.Operation = models.Operation(operation)
	rec.State = models.UsageState(state)
	rec.ExpectedReturnAt = timePtr(expectedReturn)
	rec.ReturnedAt = timePtr(returnedAt)
	return &rec, nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// classify maps driver errors onto the domain taxonomy. Errors that already
// carry a domain kind pass through untouched.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if domain.KindOf(err) != domain.KindInternal {
		return err
	}
	switch {
	case database.IsContention(err):
		return fmt.Errorf("%s: %w: %w", op, domain.ErrConcurrencyConflict, err)
	case database.IsUnavailable(err):
		return fmt.Errorf("%s: %w: %w", op, domain.ErrStoreUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func notFound(err error, sentinel error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return sentinel
	}
	return err
}
