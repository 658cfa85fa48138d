// Package memory provides an in-memory implementation of the inventory
// persistence interfaces used for tests and ephemeral environments.
//
// Reservations lock the equipment and usage keys they touch for the whole
// unit, stage their writes, and publish them together on success, which gives
// the same per-id serialization as row locks in PostgreSQL.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ghuser/toolcrib/services/inventory/domain"
	domainevents "github.com/ghuser/toolcrib/services/inventory/domain/events"
	"github.com/ghuser/toolcrib/services/inventory/domain/models"
	"github.com/ghuser/toolcrib/services/inventory/domain/repositories"
)

// Compile-time contract assertions.
var (
	_ repositories.Ledger              = (*Store)(nil)
	_ repositories.EquipmentRepository = (*EquipmentRepository)(nil)
	_ repositories.UsageRepository     = (*UsageRepository)(nil)
)

// ChangeFunc receives the usage changes of a committed unit.
type ChangeFunc func(ctx context.Context, changes []domainevents.UsageChangedEvent)

// Option configures a Store.
type Option func(*Store)

// WithLockTimeout makes lock waits longer than d fail with
// ErrConcurrencyConflict, mirroring lock_timeout in PostgreSQL.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) { s.lockTimeout = d }
}

// WithChangeFeed registers fn to be called after every committed unit that
// touched usage records.
func WithChangeFeed(fn ChangeFunc) Option {
	return func(s *Store) { s.onCommit = fn }
}

// WithClock overrides the clock used for event timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store holds equipment and usage records in maps guarded by mu. Per-key
// locks serialize units on the same equipment or usage record.
type Store struct {
	mu        sync.RWMutex
	equipment map[uuid.UUID]models.Equipment
	usage     map[uuid.UUID]models.UsageRecord

	locks       *keyLocks
	lockTimeout time.Duration
	onCommit    ChangeFunc
	now         func() time.Time
}

// NewStore returns an empty Store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		equipment: make(map[uuid.UUID]models.Equipment),
		usage:     make(map[uuid.UUID]models.UsageRecord),
		locks:     newKeyLocks(),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Equipment returns the equipment repository view of the store.
func (s *Store) Equipment() *EquipmentRepository {
	return &EquipmentRepository{s: s}
}

// Usage returns the usage repository view of the store.
func (s *Store) Usage() *UsageRepository {
	return &UsageRepository{s: s}
}

// Run executes fn as one atomic unit.
func (s *Store) Run(ctx context.Context, fn func(tx repositories.LedgerTx) error) error {
	tx := &memTx{
		s:         s,
		held:      make(map[string]struct{}),
		equipment: make(map[uuid.UUID]*models.Equipment),
		usage:     make(map[uuid.UUID]*models.UsageRecord),
	}
	defer tx.release()

	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("ledger: %w", err)
	}

	s.mu.Lock()
	for id, eq := range tx.equipment {
		s.equipment[id] = *eq
	}
	for id, rec := range tx.usage {
		s.usage[id] = *rec.Clone()
	}
	s.mu.Unlock()

	if s.onCommit != nil && len(tx.changes) > 0 {
		s.onCommit(ctx, tx.changes)
	}
	return nil
}

func (s *Store) lock(ctx context.Context, key string) error {
	lockCtx := ctx
	if s.lockTimeout > 0 {
		var cancel context.CancelFunc
		lockCtx, cancel = context.WithTimeout(ctx, s.lockTimeout)
		defer cancel()
	}
	if err := s.locks.lock(lockCtx, key); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("lock %s: %w", key, ctx.Err())
		}
		return fmt.Errorf("lock %s: %w", key, domain.ErrConcurrencyConflict)
	}
	return nil
}

// memTx is a unit of work. Reads return clones; writes are staged until Run
// commits.
type memTx struct {
	s         *Store
	held      map[string]struct{}
	equipment map[uuid.UUID]*models.Equipment
	usage     map[uuid.UUID]*models.UsageRecord
	changes   []domainevents.UsageChangedEvent
}

func equipmentKey(id uuid.UUID) string { return "equipment:" + id.String() }
func usageKey(id uuid.UUID) string     { return "usage:" + id.String() }

func (tx *memTx) acquire(ctx context.Context, key string) error {
	if _, ok := tx.held[key]; ok {
		return nil
	}
	if err := tx.s.lock(ctx, key); err != nil {
		return err
	}
	tx.held[key] = struct{}{}
	return nil
}

func (tx *memTx) release() {
	for key := range tx.held {
		tx.s.locks.unlock(key)
	}
}

func (tx *memTx) LockEquipment(ctx context.Context, id uuid.UUID) (*models.Equipment, error) {
	if err := tx.acquire(ctx, equipmentKey(id)); err != nil {
		return nil, err
	}
	if staged, ok := tx.equipment[id]; ok {
		return staged.Clone(), nil
	}
	tx.s.mu.RLock()
	eq, ok := tx.s.equipment[id]
	tx.s.mu.RUnlock()
	if !ok {
		return nil, domain.ErrEquipmentNotFound
	}
	return &eq, nil
}

func (tx *memTx) LockUsage(ctx context.Context, id uuid.UUID) (*models.UsageRecord, error) {
	if err := tx.acquire(ctx, usageKey(id)); err != nil {
		return nil, err
	}
	if staged, ok := tx.usage[id]; ok {
		return staged.Clone(), nil
	}
	tx.s.mu.RLock()
	rec, ok := tx.s.usage[id]
	tx.s.mu.RUnlock()
	if !ok {
		return nil, domain.ErrUsageNotFound
	}
	return rec.Clone(), nil
}

func (tx *memTx) SaveEquipment(_ context.Context, eq *models.Equipment) error {
	if _, ok := tx.held[equipmentKey(eq.ID)]; !ok {
		return fmt.Errorf("save equipment %s: not locked in this unit", eq.ID)
	}
	c := eq.Clone()
	c.UpdatedAt = tx.s.now()
	tx.equipment[eq.ID] = c
	return nil
}

func (tx *memTx) AppendUsage(_ context.Context, rec *models.UsageRecord) error {
	tx.s.mu.RLock()
	_, exists := tx.s.usage[rec.ID]
	tx.s.mu.RUnlock()
	if _, staged := tx.usage[rec.ID]; exists || staged {
		return fmt.Errorf("append usage %s: duplicate id", rec.ID)
	}
	tx.usage[rec.ID] = rec.Clone()
	tx.changes = append(tx.changes, tx.change(domainevents.ChangeAdded, rec))
	return nil
}

func (tx *memTx) SaveUsage(_ context.Context, rec *models.UsageRecord) error {
	if _, ok := tx.held[usageKey(rec.ID)]; !ok {
		return fmt.Errorf("save usage %s: not locked in this unit", rec.ID)
	}
	tx.usage[rec.ID] = rec.Clone()
	tx.changes = append(tx.changes, tx.change(domainevents.ChangeModified, rec))
	return nil
}

func (tx *memTx) change(kind string, rec *models.UsageRecord) domainevents.UsageChangedEvent {
	return domainevents.UsageChangedEvent{
		EventID:     uuid.New(),
		Version:     domainevents.UsageChangedVersion,
		Change:      kind,
		UsageID:     rec.ID,
		EquipmentID: rec.EquipmentID,
		UserID:      rec.UserID,
		Operation:   string(rec.Operation),
		State:       string(rec.State),
		Quantity:    rec.Quantity,
		OccurredAt:  tx.s.now(),
	}
}

// EquipmentRepository implements repositories.EquipmentRepository over a Store.
type EquipmentRepository struct{ s *Store }

func (r *EquipmentRepository) Save(_ context.Context, eq *models.Equipment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.equipment[eq.ID]; ok {
		return domain.ErrEquipmentAlreadyExists
	}
	r.s.equipment[eq.ID] = *eq
	return nil
}

func (r *EquipmentRepository) GetByID(_ context.Context, id uuid.UUID) (*models.Equipment, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	eq, ok := r.s.equipment[id]
	if !ok {
		return nil, domain.ErrEquipmentNotFound
	}
	return &eq, nil
}

func (r *EquipmentRepository) List(_ context.Context, f repositories.EquipmentFilter) ([]*models.Equipment, int, error) {
	r.s.mu.RLock()
	var out []*models.Equipment
	search := strings.ToLower(f.Search)
	for _, eq := range r.s.equipment {
		switch {
		case f.Kind != "" && eq.Kind != f.Kind:
			continue
		case f.Status != "" && eq.Status != f.Status:
			continue
		case f.Category != "" && eq.Category != f.Category:
			continue
		case search != "" && !strings.Contains(strings.ToLower(eq.Name), search):
			continue
		}
		out = append(out, eq.Clone())
	}
	r.s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return paginate(out, f.QueryOpts), len(out), nil
}

func (r *EquipmentRepository) Update(ctx context.Context, id uuid.UUID, mutate func(*models.Equipment) error) (*models.Equipment, error) {
	key := equipmentKey(id)
	if err := r.s.lock(ctx, key); err != nil {
		return nil, err
	}
	defer r.s.locks.unlock(key)

	r.s.mu.RLock()
	eq, ok := r.s.equipment[id]
	r.s.mu.RUnlock()
	if !ok {
		return nil, domain.ErrEquipmentNotFound
	}
	if err := mutate(&eq); err != nil {
		return nil, err
	}
	eq.ID = id
	eq.UpdatedAt = r.s.now()

	r.s.mu.Lock()
	r.s.equipment[id] = eq
	r.s.mu.Unlock()
	return eq.Clone(), nil
}

func (r *EquipmentRepository) Delete(ctx context.Context, id uuid.UUID) error {
	key := equipmentKey(id)
	if err := r.s.lock(ctx, key); err != nil {
		return err
	}
	defer r.s.locks.unlock(key)

	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.equipment[id]; !ok {
		return domain.ErrEquipmentNotFound
	}
	for _, rec := range r.s.usage {
		if rec.EquipmentID == id && rec.IsActiveBorrow() {
			return domain.ErrEquipmentInUse
		}
	}
	delete(r.s.equipment, id)
	return nil
}

// UsageRepository implements repositories.UsageRepository over a Store.
type UsageRepository struct{ s *Store }

func (r *UsageRepository) GetByID(_ context.Context, id uuid.UUID) (*models.UsageRecord, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	rec, ok := r.s.usage[id]
	if !ok {
		return nil, domain.ErrUsageNotFound
	}
	return rec.Clone(), nil
}

func (r *UsageRepository) List(_ context.Context, f repositories.UsageFilter) ([]*models.UsageRecord, int, error) {
	r.s.mu.RLock()
	var out []*models.UsageRecord
	for _, rec := range r.s.usage {
		switch {
		case f.UserID != "" && rec.UserID != f.UserID:
			continue
		case f.EquipmentID != uuid.Nil && rec.EquipmentID != f.EquipmentID:
			continue
		case f.Operation != "" && rec.Operation != f.Operation:
			continue
		case f.State != "" && rec.State != f.State:
			continue
		}
		out = append(out, rec.Clone())
	}
	r.s.mu.RUnlock()

	sortNewestFirst(out)
	return paginate(out, f.QueryOpts), len(out), nil
}

func (r *UsageRepository) ListActiveBorrows(_ context.Context, userIDs ...string) ([]*models.UsageRecord, error) {
	want := make(map[string]struct{}, len(userIDs))
	for _, id := range userIDs {
		want[id] = struct{}{}
	}

	r.s.mu.RLock()
	var out []*models.UsageRecord
	for _, rec := range r.s.usage {
		if !rec.IsActiveBorrow() {
			continue
		}
		if len(want) > 0 {
			if _, ok := want[rec.UserID]; !ok {
				continue
			}
		}
		out = append(out, rec.Clone())
	}
	r.s.mu.RUnlock()

	sortNewestFirst(out)
	return out, nil
}

func sortNewestFirst(recs []*models.UsageRecord) {
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].CreatedAt.After(recs[j].CreatedAt)
		}
		return recs[i].ID.String() < recs[j].ID.String()
	})
}

func paginate[T any](items []T, opts repositories.QueryOpts) []T {
	if opts.Offset >= len(items) {
		return []T{}
	}
	items = items[max(0, opts.Offset):]
	if opts.Limit > 0 && opts.Limit < len(items) {
		items = items[:opts.Limit]
	}
	return items
}
