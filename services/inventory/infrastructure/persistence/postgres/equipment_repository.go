package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ghuser/toolcrib/pkg/database"
	"github.com/ghuser/toolcrib/services/inventory/domain"
	"github.com/ghuser/toolcrib/services/inventory/domain/models"
	"github.com/ghuser/toolcrib/services/inventory/domain/repositories"
)

var _ repositories.EquipmentRepository = (*EquipmentRepository)(nil)

// EquipmentRepository implements repositories.EquipmentRepository against PostgreSQL.
type EquipmentRepository struct {
	db          *database.Database
	lockTimeout time.Duration
}

// NewEquipmentRepository returns an EquipmentRepository backed by the given pool.
// lockTimeout bounds row lock waits in Update and Delete.
func NewEquipmentRepository(db *database.Database, lockTimeout time.Duration) *EquipmentRepository {
	return &EquipmentRepository{db: db, lockTimeout: lockTimeout}
}

// Save inserts a new item. Returns ErrEquipmentAlreadyExists on primary key conflicts.
func (r *EquipmentRepository) Save(ctx context.Context, eq *models.Equipment) error {
	_, err := r.db.DB().ExecContext(ctx, `
		INSERT INTO equipment (`+equipmentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		eq.ID, eq.Name, eq.Category, eq.Location, eq.Unit, string(eq.Kind),
		eq.TotalQuantity, eq.AvailableQuantity, eq.MinStock, string(eq.Status),
		eq.CreatedAt, eq.UpdatedAt,
	)
	if database.IsUniqueViolation(err) {
		return domain.ErrEquipmentAlreadyExists
	}
	return classify("insert equipment", err)
}

// GetByID returns the item or ErrEquipmentNotFound.
func (r *EquipmentRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Equipment, error) {
	row := r.db.DB().QueryRowContext(ctx, `SELECT `+equipmentColumns+` FROM equipment WHERE id = $1`, id)
	eq, err := scanEquipment(row)
	if err != nil {
		return nil, classify("query equipment", notFound(err, domain.ErrEquipmentNotFound))
	}
	return eq, nil
}

// List returns a page of items ordered by name and the total match count.
func (r *EquipmentRepository) List(ctx context.Context, f repositories.EquipmentFilter) ([]*models.Equipment, int, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.Kind != "" {
		add("kind = $%d", string(f.Kind))
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	if f.Category != "" {
		add("category = $%d", f.Category)
	}
	if f.Search != "" {
		add("name ILIKE '%%' || $%d || '%%'", f.Search)
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.db.DB().QueryRowContext(ctx, `SELECT count(*) FROM equipment`+clause, args...).Scan(&total); err != nil {
		return nil, 0, classify("count equipment", err)
	}

	query := `SELECT ` + equipmentColumns + ` FROM equipment` + clause + ` ORDER BY name, id` + pageClause(f.QueryOpts, &args)
	rows, err := r.db.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, classify("query equipment", err)
	}
	defer rows.Close() //nolint:errcheck

	var items []*models.Equipment
	for rows.Next() {
		eq, err := scanEquipment(rows)
		if err != nil {
			return nil, 0, classify("scan equipment", err)
		}
		items = append(items, eq)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, classify("iterate equipment", err)
	}
	return items, total, nil
}

// Update locks the row, applies mutate and writes the result back in one transaction.
func (r *EquipmentRepository) Update(ctx context.Context, id uuid.UUID, mutate func(*models.Equipment) error) (*models.Equipment, error) {
	var updated *models.Equipment
	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		eq, err := lockEquipment(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := mutate(eq); err != nil {
			return err
		}
		eq.ID = id
		if err := saveEquipment(ctx, tx, eq); err != nil {
			return err
		}
		updated = eq
		return nil
	}, database.WithLockTimeout(r.lockTimeout))
	if err != nil {
		return nil, classify("update equipment", err)
	}
	return updated, nil
}

// Delete removes the item unless an active loan still references it.
func (r *EquipmentRepository) Delete(ctx context.Context, id uuid.UUID) error {
	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := lockEquipment(ctx, tx, id); err != nil {
			return err
		}
		var inUse bool
		if err := tx.QueryRowContext(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM usage_records
				WHERE equipment_id = $1 AND operation = 'borrow' AND state = 'active'
			)`, id).Scan(&inUse); err != nil {
			return fmt.Errorf("check active loans: %w", err)
		}
		if inUse {
			return domain.ErrEquipmentInUse
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM equipment WHERE id = $1`, id); err != nil {
			return fmt.Errorf("delete equipment: %w", err)
		}
		return nil
	}, database.WithLockTimeout(r.lockTimeout))
	return classify("delete equipment", err)
}

func lockEquipment(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*models.Equipment, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+equipmentColumns+` FROM equipment WHERE id = $1 FOR UPDATE`, id)
	eq, err := scanEquipment(row)
	if err != nil {
		return nil, classify("lock equipment", notFound(err, domain.ErrEquipmentNotFound))
	}
	return eq, nil
}

func saveEquipment(ctx context.Context, tx *sql.Tx, eq *models.Equipment) error {
	eq.UpdatedAt = time.Now().UTC()
	res, err := tx.ExecContext(ctx, `
		UPDATE equipment SET
			name = $2, category = $3, location = $4, unit = $5,
			total_quantity = $6, available_quantity = $7, min_stock = $8,
			status = $9, updated_at = $10
		WHERE id = $1`,
		eq.ID, eq.Name, eq.Category, eq.Location, eq.Unit,
		eq.TotalQuantity, eq.AvailableQuantity, eq.MinStock,
		string(eq.Status), eq.UpdatedAt,
	)
	if err != nil {
		return classify("save equipment", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrEquipmentNotFound
	}
	return nil
}

// pageClause appends LIMIT/OFFSET placeholders for opts to args.
func pageClause(opts repositories.QueryOpts, args *[]any) string {
	var b strings.Builder
	if opts.Limit > 0 {
		*args = append(*args, opts.Limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(*args))
	}
	if opts.Offset > 0 {
		*args = append(*args, opts.Offset)
		fmt.Fprintf(&b, " OFFSET $%d", len(*args))
	}
	return b.String()
}
