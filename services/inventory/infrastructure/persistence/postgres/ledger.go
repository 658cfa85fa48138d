package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"

	"github.com/ghuser/toolcrib/pkg/database"
	"github.com/ghuser/toolcrib/pkg/events"
	"github.com/ghuser/toolcrib/services/inventory/domain"
	domainevents "github.com/ghuser/toolcrib/services/inventory/domain/events"
	"github.com/ghuser/toolcrib/services/inventory/domain/models"
	"github.com/ghuser/toolcrib/services/inventory/domain/repositories"
)

var _ repositories.Ledger = (*Ledger)(nil)

// TxPublisherFactory builds a publisher bound to a transaction.
// *events.EventBus satisfies it.
type TxPublisherFactory interface {
	NewTxPublisher(tx *sql.Tx) (message.Publisher, error)
}

// Ledger runs reservations as PostgreSQL transactions. Rows are locked with
// SELECT ... FOR UPDATE under a per-transaction lock_timeout, and usage
// changes are written to the change feed through the transactional publisher
// so they commit or roll back with the reservation.
type Ledger struct {
	db          *database.Database
	bus         TxPublisherFactory
	lockTimeout time.Duration
}

// NewLedger returns a Ledger. bus may be nil, in which case no change feed
// is written.
func NewLedger(db *database.Database, bus TxPublisherFactory, lockTimeout time.Duration) *Ledger {
	return &Ledger{db: db, bus: bus, lockTimeout: lockTimeout}
}

// Run executes fn in one transaction.
func (l *Ledger) Run(ctx context.Context, fn func(tx repositories.LedgerTx) error) error {
	err := l.db.WithTx(ctx, func(tx *sql.Tx) error {
		ltx := &ledgerTx{tx: tx}
		if err := fn(ltx); err != nil {
			return err
		}
		return l.publish(ctx, tx, ltx.changes)
	}, database.WithLockTimeout(l.lockTimeout))
	return classify("ledger", err)
}

func (l *Ledger) publish(ctx context.Context, tx *sql.Tx, changes []domainevents.UsageChangedEvent) error {
	if l.bus == nil || len(changes) == 0 {
		return nil
	}
	msgs := make([]*message.Message, 0, len(changes))
	for _, c := range changes {
		msg, err := events.NewJSONMessage(c.EventID.String(), c.Version, c)
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
	}
	events.InjectTrace(ctx, msgs...)

	pub, err := l.bus.NewTxPublisher(tx)
	if err != nil {
		return fmt.Errorf("create publisher: %w", err)
	}
	if err := pub.Publish(domainevents.TopicUsageChanged, msgs...); err != nil {
		return fmt.Errorf("publish usage changes: %w", err)
	}
	return nil
}

// ledgerTx implements repositories.LedgerTx on a *sql.Tx.
type ledgerTx struct {
	tx      *sql.Tx
	changes []domainevents.UsageChangedEvent
}

func (t *ledgerTx) LockEquipment(ctx context.Context, id uuid.UUID) (*models.Equipment, error) {
	return lockEquipment(ctx, t.tx, id)
}

func (t *ledgerTx) LockUsage(ctx context.Context, id uuid.UUID) (*models.UsageRecord, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+usageColumns+` FROM usage_records WHERE id = $1 FOR UPDATE`, id)
	rec, err := scanUsage(row)
	if err != nil {
		return nil, classify("lock usage", notFound(err, domain.ErrUsageNotFound))
	}
	return rec, nil
}

func (t *ledgerTx) SaveEquipment(ctx context.Context, eq *models.Equipment) error {
	return saveEquipment(ctx, t.tx, eq)
}

func (t *ledgerTx) AppendUsage(ctx context.Context, rec *models.UsageRecord) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO usage_records (`+usageColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		rec.ID, rec.EquipmentID, rec.EquipmentName, rec.UserID, rec.UserName, string(rec.Operation),
		rec.Quantity, string(rec.State), rec.Purpose, rec.JobReference, rec.CreatedAt,
		nullTime(rec.ExpectedReturnAt), nullTime(rec.ReturnedAt), rec.ReturnQuantity, rec.Note,
	)
	if err != nil {
		return classify("append usage", err)
	}
	t.record(domainevents.ChangeAdded, rec)
	return nil
}

func (t *ledgerTx) SaveUsage(ctx context.Context, rec *models.UsageRecord) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE usage_records SET
			state = $2, returned_at = $3, return_quantity = $4, note = $5
		WHERE id = $1`,
		rec.ID, string(rec.State), nullTime(rec.ReturnedAt), rec.ReturnQuantity, rec.Note,
	)
	if err != nil {
		return classify("save usage", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrUsageNotFound
	}
	t.record(domainevents.ChangeModified, rec)
	return nil
}

func (t *ledgerTx) record(change string, rec *models.UsageRecord) {
	t.changes = append(t.changes, domainevents.UsageChangedEvent{
		EventID:     uuid.New(),
		Version:     domainevents.UsageChangedVersion,
		Change:      change,
		UsageID:     rec.ID,
		EquipmentID: rec.EquipmentID,
		UserID:      rec.UserID,
		Operation:   string(rec.Operation),
		State:       string(rec.State),
		Quantity:    rec.Quantity,
		OccurredAt:  time.Now().UTC(),
	})
}
