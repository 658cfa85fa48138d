package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/ghuser/toolcrib/pkg/database"
	"github.com/ghuser/toolcrib/services/inventory/domain"
	"github.com/ghuser/toolcrib/services/inventory/domain/models"
	"github.com/ghuser/toolcrib/services/inventory/domain/repositories"
)

var _ repositories.UsageRepository = (*UsageRepository)(nil)

// UsageRepository implements the read side of the usage ledger.
type UsageRepository struct {
	db *database.Database
}

// NewUsageRepository returns a UsageRepository backed by the given pool.
func NewUsageRepository(db *database.Database) *UsageRepository {
	return &UsageRepository{db: db}
}

// GetByID returns the record or ErrUsageNotFound.
func (r *UsageRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.UsageRecord, error) {
	row := r.db.DB().QueryRowContext(ctx, `SELECT `+usageColumns+` FROM usage_records WHERE id = $1`, id)
	rec, err := scanUsage(row)
	if err != nil {
		return nil, classify("query usage", notFound(err, domain.ErrUsageNotFound))
	}
	return rec, nil
}

// List returns a page of records newest first and the total match count.
func (r *UsageRepository) List(ctx context.Context, f repositories.UsageFilter) ([]*models.UsageRecord, int, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.UserID != "" {
		add("user_id = $%d", f.UserID)
	}
	if f.EquipmentID != uuid.Nil {
		add("equipment_id = $%d", f.EquipmentID)
	}
	if f.Operation != "" {
		add("operation = $%d", string(f.Operation))
	}
	if f.State != "" {
		add("state = $%d", string(f.State))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.db.DB().QueryRowContext(ctx, `SELECT count(*) FROM usage_records`+clause, args...).Scan(&total); err != nil {
		return nil, 0, classify("count usage", err)
	}

	query := `SELECT ` + usageColumns + ` FROM usage_records` + clause +
		` ORDER BY created_at DESC, id` + pageClause(f.QueryOpts, &args)
	recs, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return recs, total, nil
}

// ListActiveBorrows returns active borrow records for userIDs, or for every
// user when userIDs is empty.
func (r *UsageRepository) ListActiveBorrows(ctx context.Context, userIDs ...string) ([]*models.UsageRecord, error) {
	query := `SELECT ` + usageColumns + ` FROM usage_records
		WHERE operation = 'borrow' AND state = 'active'`
	var args []any
	if len(userIDs) > 0 {
		query += ` AND user_id = ANY($1)`
		args = append(args, userIDs)
	}
	query += ` ORDER BY created_at DESC, id`
	return r.query(ctx, query, args...)
}

func (r *UsageRepository) query(ctx context.Context, query string, args ...any) ([]*models.UsageRecord, error) {
	rows, err := r.db.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify("query usage", err)
	}
	defer rows.Close() //nolint:errcheck

	var recs []*models.UsageRecord
	for rows.Next() {
		rec, err := scanUsage(rows)
		if err != nil {
			return nil, classify("scan usage", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate usage", err)
	}
	return recs, nil
}
