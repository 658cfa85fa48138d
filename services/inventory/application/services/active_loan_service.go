package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/gocarina/gocsv"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-retry"

	pkgcache "github.com/ghuser/toolcrib/pkg/cache"
	"github.com/ghuser/toolcrib/pkg/logger"
	domainevents "github.com/ghuser/toolcrib/services/inventory/domain/events"
	"github.com/ghuser/toolcrib/services/inventory/domain/models"
	"github.com/ghuser/toolcrib/services/inventory/domain/repositories"
	domainsvcs "github.com/ghuser/toolcrib/services/inventory/domain/services"
)

const (
	readModelRetries    = 3
	readModelRetryDelay = 10 * time.Millisecond
)

// ActiveLoanService maintains the per-user view of outstanding loans. The
// view is derived from the ledger and kept in Redis as a disposable read
// model; without a cache every read is computed from the ledger.
type ActiveLoanService struct {
	usage     repositories.UsageRepository
	cache     *pkgcache.ActiveLoanCache
	equipment EquipmentInvalidator
	notifier  Notifier
	log       logger.Logger
	now       func() time.Time
}

// NewActiveLoanService returns an ActiveLoanService. loanCache, equipment and
// notifier may be nil.
func NewActiveLoanService(usage repositories.UsageRepository, loanCache *pkgcache.ActiveLoanCache, equipment EquipmentInvalidator, notifier Notifier, log logger.Logger) *ActiveLoanService {
	return &ActiveLoanService{
		usage:     usage,
		cache:     loanCache,
		equipment: equipment,
		notifier:  notifier,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Groups returns every user's active loans, most recently active user first.
// A cold read model is rebuilt from the ledger on the way.
func (s *ActiveLoanService) Groups(ctx context.Context) ([]models.ActiveLoanGroup, error) {
	if s.cache != nil {
		cached, err := s.cache.All(ctx)
		switch {
		case err == nil:
			groups := make([]models.ActiveLoanGroup, 0, len(cached))
			for _, c := range cached {
				groups = append(groups, fromCachedGroup(c))
			}
			domainsvcs.SortGroups(groups)
			return groups, nil
		case errors.Is(err, redis.Nil):
			groups, _, err := s.reconcile(ctx)
			return groups, err
		default:
			s.log.WarnContext(ctx, "active loan cache read failed", "error", err)
		}
	}
	return s.build(ctx)
}

// ForUser returns the active loans of one user. A user without loans gets an
// empty group rather than an error.
func (s *ActiveLoanService) ForUser(ctx context.Context, userID string) (*models.ActiveLoanGroup, error) {
	if s.cache != nil {
		cached, err := s.cache.Get(ctx, userID)
		if err == nil {
			g := fromCachedGroup(*cached)
			return &g, nil
		}
		if !errors.Is(err, redis.Nil) {
			s.log.WarnContext(ctx, "active loan cache read failed", "user_id", userID, "error", err)
		}
	}

	groups, err := s.build(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(groups) == 0 {
		return &models.ActiveLoanGroup{UserID: userID, Items: []models.UsageRecord{}}, nil
	}
	return &groups[0], nil
}

// Rebuild recomputes the groups of the given users from the latest ledger
// snapshot and replaces their cache entries. Users left without loans are
// removed. Calling it twice with the same input yields the same read model.
func (s *ActiveLoanService) Rebuild(ctx context.Context, userIDs ...string) error {
	if s.cache == nil || len(userIDs) == 0 {
		return nil
	}
	_, err := s.writeReadModel(ctx, func(ctx context.Context, gen int64) ([]models.ActiveLoanGroup, error) {
		groups, err := s.build(ctx, userIDs...)
		if err != nil {
			return nil, err
		}
		present := make(map[string]struct{}, len(groups))
		cached := make([]pkgcache.CachedLoanGroup, 0, len(groups))
		for _, g := range groups {
			present[g.UserID] = struct{}{}
			cached = append(cached, toCachedGroup(g))
		}
		var emptied []string
		for _, id := range userIDs {
			if _, ok := present[id]; !ok && !slices.Contains(emptied, id) {
				emptied = append(emptied, id)
			}
		}
		return groups, s.cache.ReplaceUsers(ctx, gen, cached, emptied)
	})
	if err != nil {
		return fmt.Errorf("rebuild active loans: %w", err)
	}
	return nil
}

// Reconcile rebuilds the whole read model from the ledger and returns the
// number of users holding loans.
func (s *ActiveLoanService) Reconcile(ctx context.Context) (int, error) {
	_, n, err := s.reconcile(ctx)
	return n, err
}

func (s *ActiveLoanService) reconcile(ctx context.Context) ([]models.ActiveLoanGroup, int, error) {
	if s.cache == nil {
		groups, err := s.build(ctx)
		return groups, len(groups), err
	}
	var (
		built     bool
		ledgerErr error
	)
	groups, err := s.writeReadModel(ctx, func(ctx context.Context, gen int64) ([]models.ActiveLoanGroup, error) {
		groups, err := s.build(ctx)
		if err != nil {
			ledgerErr = err
			return nil, err
		}
		built = true
		cached := make([]pkgcache.CachedLoanGroup, 0, len(groups))
		for _, g := range groups {
			cached = append(cached, toCachedGroup(g))
		}
		return groups, s.cache.ReplaceAll(ctx, gen, cached)
	})
	if ledgerErr != nil {
		return nil, 0, ledgerErr
	}
	if err != nil {
		s.log.WarnContext(ctx, "active loan cache write failed", "error", err)
		if !built {
			if groups, err = s.build(ctx); err != nil {
				return nil, 0, err
			}
		}
	}
	return groups, len(groups), nil
}

// writeReadModel takes the cache generation, then runs write, which reads the
// ledger and writes the read model at that generation. A stale snapshot
// means a newer write landed meanwhile; the whole read-and-write starts over.
// The groups of the last attempt are returned even when its write failed.
func (s *ActiveLoanService) writeReadModel(ctx context.Context, write func(context.Context, int64) ([]models.ActiveLoanGroup, error)) ([]models.ActiveLoanGroup, error) {
	var groups []models.ActiveLoanGroup
	backoff := retry.WithMaxRetries(readModelRetries, retry.NewExponential(readModelRetryDelay))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		gen, err := s.cache.Generation(ctx)
		if err != nil {
			return err
		}
		var werr error
		groups, werr = write(ctx, gen)
		if errors.Is(werr, pkgcache.ErrStaleSnapshot) {
			return retry.RetryableError(werr)
		}
		return werr
	})
	return groups, err
}

// HandleUsageChanged consumes one change-feed message: it rebuilds the
// affected user's group and drops the cached equipment row. Duplicate and
// out-of-order deliveries are harmless because the rebuild reads the ledger.
func (s *ActiveLoanService) HandleUsageChanged(ctx context.Context, msg *message.Message) error {
	var ev domainevents.UsageChangedEvent
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		s.log.ErrorContext(ctx, "usage change: malformed payload, dropping", "message_id", msg.UUID, "error", err)
		return nil
	}
	if s.equipment != nil && ev.EquipmentID != uuid.Nil {
		s.equipment.Invalidate(ctx, ev.EquipmentID)
	}
	if ev.UserID == "" {
		return nil
	}
	if err := s.Rebuild(ctx, ev.UserID); err != nil {
		return fmt.Errorf("usage change %s: %w", ev.EventID, err)
	}
	s.log.DebugContext(ctx, "active loans rebuilt", "user_id", ev.UserID, "change", ev.Change, "usage_id", ev.UsageID)
	return nil
}

// Overdue returns active loans past their expected return time, oldest first.
func (s *ActiveLoanService) Overdue(ctx context.Context) ([]*models.UsageRecord, error) {
	recs, err := s.usage.ListActiveBorrows(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active borrows: %w", err)
	}
	now := s.now()
	var out []*models.UsageRecord
	for _, r := range recs {
		if r.Overdue(now) {
			out = append(out, r)
		}
	}
	slices.SortFunc(out, func(a, b *models.UsageRecord) int {
		return a.ExpectedReturnAt.Compare(*b.ExpectedReturnAt)
	})
	return out, nil
}

// NotifyOverdue sends an overdue notification for every overdue loan and
// returns how many were found.
func (s *ActiveLoanService) NotifyOverdue(ctx context.Context) (int, error) {
	recs, err := s.Overdue(ctx)
	if err != nil {
		return 0, err
	}
	now := s.now()
	for _, r := range recs {
		s.log.WarnContext(ctx, "loan overdue",
			"usage_id", r.ID,
			"user_id", r.UserID,
			"equipment_id", r.EquipmentID,
			"expected_return_at", r.ExpectedReturnAt,
		)
		if s.notifier != nil {
			s.notifier.Notify(ctx, domainevents.NotificationEvent{
				EventID:       uuid.New(),
				Kind:          domainevents.NotifyOverdue,
				EquipmentID:   r.EquipmentID,
				EquipmentName: r.EquipmentName,
				UserID:        r.UserID,
				UserName:      r.UserName,
				UsageID:       r.ID,
				Quantity:      r.Quantity,
				OccurredAt:    now,
			})
		}
	}
	return len(recs), nil
}

// loanRow is one CSV line of the active-loan export.
type loanRow struct {
	UserID           string `csv:"user_id"`
	UserName         string `csv:"user_name"`
	UsageID          string `csv:"usage_id"`
	EquipmentID      string `csv:"equipment_id"`
	EquipmentName    string `csv:"equipment_name"`
	Quantity         int    `csv:"quantity"`
	Purpose          string `csv:"purpose"`
	BorrowedAt       string `csv:"borrowed_at"`
	ExpectedReturnAt string `csv:"expected_return_at"`
	Overdue          bool   `csv:"overdue"`
}

// ExportCSV writes every active loan as CSV, grouped by user in the same
// order as Groups. It always reads the ledger, never the cache.
func (s *ActiveLoanService) ExportCSV(ctx context.Context, w io.Writer) error {
	groups, err := s.build(ctx)
	if err != nil {
		return err
	}
	now := s.now()
	rows := make([]*loanRow, 0)
	for _, g := range groups {
		for _, it := range g.Items {
			row := &loanRow{
				UserID:        g.UserID,
				UserName:      g.UserName,
				UsageID:       it.ID.String(),
				EquipmentID:   it.EquipmentID.String(),
				EquipmentName: it.EquipmentName,
				Quantity:      it.Quantity,
				Purpose:       it.Purpose,
				BorrowedAt:    it.CreatedAt.UTC().Format(time.RFC3339),
				Overdue:       it.Overdue(now),
			}
			if it.ExpectedReturnAt != nil {
				row.ExpectedReturnAt = it.ExpectedReturnAt.UTC().Format(time.RFC3339)
			}
			rows = append(rows, row)
		}
	}
	if err := gocsv.Marshal(rows, w); err != nil {
		return fmt.Errorf("export active loans: %w", err)
	}
	return nil
}

func (s *ActiveLoanService) build(ctx context.Context, userIDs ...string) ([]models.ActiveLoanGroup, error) {
	recs, err := s.usage.ListActiveBorrows(ctx, userIDs...)
	if err != nil {
		return nil, fmt.Errorf("list active borrows: %w", err)
	}
	return domainsvcs.BuildActiveLoanGroups(recs), nil
}

func toCachedGroup(g models.ActiveLoanGroup) pkgcache.CachedLoanGroup {
	loans := make([]pkgcache.CachedLoan, 0, len(g.Items))
	for _, it := range g.Items {
		loans = append(loans, pkgcache.CachedLoan{
			UsageID:          it.ID,
			EquipmentID:      it.EquipmentID,
			EquipmentName:    it.EquipmentName,
			Quantity:         it.Quantity,
			Purpose:          it.Purpose,
			BorrowedAt:       it.CreatedAt,
			ExpectedReturnAt: it.ExpectedReturnAt,
		})
	}
	return pkgcache.CachedLoanGroup{
		UserID:       g.UserID,
		UserName:     g.UserName,
		LastActiveAt: g.LastActiveAt,
		Loans:        loans,
	}
}

func fromCachedGroup(c pkgcache.CachedLoanGroup) models.ActiveLoanGroup {
	items := make([]models.UsageRecord, 0, len(c.Loans))
	for _, l := range c.Loans {
		items = append(items, models.UsageRecord{
			ID:               l.UsageID,
			EquipmentID:      l.EquipmentID,
			EquipmentName:    l.EquipmentName,
			UserID:           c.UserID,
			UserName:         c.UserName,
			Operation:        models.OperationBorrow,
			Quantity:         l.Quantity,
			State:            models.StateActive,
			Purpose:          l.Purpose,
			CreatedAt:        l.BorrowedAt,
			ExpectedReturnAt: l.ExpectedReturnAt,
		})
	}
	return models.ActiveLoanGroup{
		UserID:       c.UserID,
		UserName:     c.UserName,
		Items:        items,
		LastActiveAt: c.LastActiveAt,
	}
}
