package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/ghuser/toolcrib/pkg/logger"
	"github.com/ghuser/toolcrib/services/inventory/domain"
	domainevents "github.com/ghuser/toolcrib/services/inventory/domain/events"
	"github.com/ghuser/toolcrib/services/inventory/domain/models"
	"github.com/ghuser/toolcrib/services/inventory/domain/repositories"
	domainsvcs "github.com/ghuser/toolcrib/services/inventory/domain/services"
)

const instrumentationName = "github.com/ghuser/toolcrib/services/inventory"

// RetryPolicy bounds how often a reservation is retried after losing a lock
// race. MaxRetries counts retries after the first attempt.
type RetryPolicy struct {
	MaxRetries uint64
	BaseDelay  time.Duration
}

// EquipmentInvalidator drops cached equipment rows after a reservation.
type EquipmentInvalidator interface {
	Invalidate(ctx context.Context, ids ...uuid.UUID)
}

// BorrowCommand asks for Quantity units of a borrowable item.
type BorrowCommand struct {
	EquipmentID      uuid.UUID
	Actor            models.Actor
	Quantity         int
	Purpose          string
	ExpectedReturnAt *time.Time
}

// BorrowResult is the outcome of a committed borrow.
type BorrowResult struct {
	Usage     *models.UsageRecord
	Equipment *models.Equipment
}

// WithdrawCommand asks to consume Quantity units of a consumable item.
type WithdrawCommand struct {
	EquipmentID  uuid.UUID
	Actor        models.Actor
	Quantity     int
	Purpose      string
	JobReference string
}

// WithdrawResult is the outcome of a committed withdraw. Remaining is the
// item's total quantity after the withdraw.
type WithdrawResult struct {
	Usage     *models.UsageRecord
	Equipment *models.Equipment
	Remaining int
}

// ReturnCommand closes an active borrow. A nil Quantity returns everything
// that was borrowed.
type ReturnCommand struct {
	UsageID  uuid.UUID
	Quantity *int
	Note     string
}

// ReturnResult is the outcome of a committed return.
type ReturnResult struct {
	Usage     *models.UsageRecord
	Equipment *models.Equipment
	Returned  int
}

// ReservationService applies Borrow, Withdraw and Return atomically through
// the Ledger. Conflicts from lock timeouts or serialization failures are
// retried with exponential backoff; every other failure is returned as is.
type ReservationService struct {
	ledger   repositories.Ledger
	notifier Notifier
	cache    EquipmentInvalidator
	policy   RetryPolicy
	log      logger.Logger
	now      func() time.Time

	tracer       trace.Tracer
	reservations metric.Int64Counter
	conflicts    metric.Int64Counter
}

// NewReservationService wires a ReservationService. notifier and cache may be nil.
func NewReservationService(ledger repositories.Ledger, notifier Notifier, cache EquipmentInvalidator, policy RetryPolicy, log logger.Logger) *ReservationService {
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = 10 * time.Millisecond
	}
	meter := otel.Meter(instrumentationName)
	reservations, _ := meter.Int64Counter("inventory.reservations",
		metric.WithDescription("Reservation attempts by operation and outcome"))
	conflicts, _ := meter.Int64Counter("inventory.reservation_conflicts",
		metric.WithDescription("Reservation attempts that lost a lock race"))

	return &ReservationService{
		ledger:       ledger,
		notifier:     notifier,
		cache:        cache,
		policy:       policy,
		log:          log,
		now:          func() time.Time { return time.Now().UTC() },
		tracer:       otel.Tracer(instrumentationName),
		reservations: reservations,
		conflicts:    conflicts,
	}
}

// Borrow reserves units of a borrowable item for a user.
func (s *ReservationService) Borrow(ctx context.Context, cmd BorrowCommand) (res *BorrowResult, err error) {
	ctx, span := s.tracer.Start(ctx, "ReservationService.Borrow", trace.WithAttributes(
		attribute.String("equipment.id", cmd.EquipmentID.String()),
		attribute.Int("quantity", cmd.Quantity),
	))
	defer func() { s.finish(ctx, span, "borrow", err) }()

	if err := validateActor(cmd.Actor); err != nil {
		return nil, err
	}
	if cmd.Quantity <= 0 {
		return nil, fmt.Errorf("%w: %d", domain.ErrInvalidQuantity, cmd.Quantity)
	}

	var before models.Status
	err = s.run(ctx, "borrow", func(tx repositories.LedgerTx) error {
		eq, err := tx.LockEquipment(ctx, cmd.EquipmentID)
		if err != nil {
			return err
		}
		before = eq.Status
		if err := domainsvcs.ApplyBorrow(eq, cmd.Quantity); err != nil {
			return err
		}
		now := s.now()
		eq.UpdatedAt = now
		rec := models.NewBorrowRecord(eq, cmd.Actor, cmd.Quantity, strings.TrimSpace(cmd.Purpose), cmd.ExpectedReturnAt, now)
		if err := tx.SaveEquipment(ctx, eq); err != nil {
			return err
		}
		if err := tx.AppendUsage(ctx, rec); err != nil {
			return err
		}
		res = &BorrowResult{Usage: rec, Equipment: eq}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("borrow: %w", err)
	}

	s.log.InfoContext(ctx, "equipment borrowed",
		"usage_id", res.Usage.ID,
		"equipment_id", res.Equipment.ID,
		"user_id", res.Usage.UserID,
		"quantity", res.Usage.Quantity,
		"available", res.Equipment.AvailableQuantity,
	)
	s.afterCommit(ctx, res.Equipment)
	s.notify(ctx, notification(domainevents.NotifyBorrow, res.Equipment, res.Usage, res.Usage.Quantity, res.Usage.CreatedAt))
	s.notifyStock(ctx, before, res.Equipment, res.Usage)
	return res, nil
}

// Withdraw permanently removes units of a consumable item.
func (s *ReservationService) Withdraw(ctx context.Context, cmd WithdrawCommand) (res *WithdrawResult, err error) {
	ctx, span := s.tracer.Start(ctx, "ReservationService.Withdraw", trace.WithAttributes(
		attribute.String("equipment.id", cmd.EquipmentID.String()),
		attribute.Int("quantity", cmd.Quantity),
	))
	defer func() { s.finish(ctx, span, "withdraw", err) }()

	if err := validateActor(cmd.Actor); err != nil {
		return nil, err
	}
	if cmd.Quantity <= 0 {
		return nil, fmt.Errorf("%w: %d", domain.ErrInvalidQuantity, cmd.Quantity)
	}

	var before models.Status
	err = s.run(ctx, "withdraw", func(tx repositories.LedgerTx) error {
		eq, err := tx.LockEquipment(ctx, cmd.EquipmentID)
		if err != nil {
			return err
		}
		before = eq.Status
		if err := domainsvcs.ApplyWithdraw(eq, cmd.Quantity); err != nil {
			return err
		}
		now := s.now()
		eq.UpdatedAt = now
		rec := models.NewWithdrawRecord(eq, cmd.Actor, cmd.Quantity,
			strings.TrimSpace(cmd.Purpose), strings.TrimSpace(cmd.JobReference), now)
		if err := tx.SaveEquipment(ctx, eq); err != nil {
			return err
		}
		if err := tx.AppendUsage(ctx, rec); err != nil {
			return err
		}
		res = &WithdrawResult{Usage: rec, Equipment: eq, Remaining: eq.TotalQuantity}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("withdraw: %w", err)
	}

	s.log.InfoContext(ctx, "equipment withdrawn",
		"usage_id", res.Usage.ID,
		"equipment_id", res.Equipment.ID,
		"user_id", res.Usage.UserID,
		"quantity", res.Usage.Quantity,
		"remaining", res.Remaining,
	)
	s.afterCommit(ctx, res.Equipment)
	s.notify(ctx, notification(domainevents.NotifyWithdraw, res.Equipment, res.Usage, res.Usage.Quantity, res.Usage.CreatedAt))
	s.notifyStock(ctx, before, res.Equipment, res.Usage)
	return res, nil
}

// Return closes an active borrow and puts the returned units back in stock.
// The usage record is locked before the equipment row; every unit that
// touches both takes them in that order.
func (s *ReservationService) Return(ctx context.Context, cmd ReturnCommand) (res *ReturnResult, err error) {
	ctx, span := s.tracer.Start(ctx, "ReservationService.Return", trace.WithAttributes(
		attribute.String("usage.id", cmd.UsageID.String()),
	))
	defer func() { s.finish(ctx, span, "return", err) }()

	err = s.run(ctx, "return", func(tx repositories.LedgerTx) error {
		rec, err := tx.LockUsage(ctx, cmd.UsageID)
		if err != nil {
			return err
		}
		if _, err := domainsvcs.ValidateReturn(rec, cmd.Quantity); err != nil {
			return err
		}
		eq, err := tx.LockEquipment(ctx, rec.EquipmentID)
		if err != nil {
			return err
		}
		now := s.now()
		n, err := domainsvcs.ApplyReturn(eq, rec, cmd.Quantity, strings.TrimSpace(cmd.Note), now)
		if err != nil {
			return err
		}
		eq.UpdatedAt = now
		if err := tx.SaveEquipment(ctx, eq); err != nil {
			return err
		}
		if err := tx.SaveUsage(ctx, rec); err != nil {
			return err
		}
		res = &ReturnResult{Usage: rec, Equipment: eq, Returned: n}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("return: %w", err)
	}

	s.log.InfoContext(ctx, "equipment returned",
		"usage_id", res.Usage.ID,
		"equipment_id", res.Equipment.ID,
		"user_id", res.Usage.UserID,
		"returned", res.Returned,
		"available", res.Equipment.AvailableQuantity,
	)
	s.afterCommit(ctx, res.Equipment)
	s.notify(ctx, notification(domainevents.NotifyReturn, res.Equipment, res.Usage, res.Returned, *res.Usage.ReturnedAt))
	return res, nil
}

// run executes fn through the ledger, retrying only on ErrConcurrencyConflict.
func (s *ReservationService) run(ctx context.Context, op string, fn func(tx repositories.LedgerTx) error) error {
	attempt := 0
	backoff := retry.WithMaxRetries(s.policy.MaxRetries, retry.NewExponential(s.policy.BaseDelay))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		err := s.ledger.Run(ctx, fn)
		if err == nil || !errors.Is(err, domain.ErrConcurrencyConflict) {
			return err
		}
		s.conflicts.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", op)))
		s.log.WarnContext(ctx, "reservation conflict, retrying",
			"operation", op,
			"attempt", attempt,
			"max_retries", s.policy.MaxRetries,
		)
		return retry.RetryableError(err)
	})
}

func (s *ReservationService) finish(ctx context.Context, span trace.Span, op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = domain.KindOf(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	}
	s.reservations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", op),
		attribute.String("outcome", outcome),
	))
	span.End()
}

func (s *ReservationService) afterCommit(ctx context.Context, eq *models.Equipment) {
	if s.cache != nil {
		s.cache.Invalidate(ctx, eq.ID)
	}
}

func (s *ReservationService) notify(ctx context.Context, ev domainevents.NotificationEvent) {
	if s.notifier != nil {
		s.notifier.Notify(ctx, ev)
	}
}

// notifyStock emits a stock alert when the reservation moved the item into
// low_stock or out_of_stock.
func (s *ReservationService) notifyStock(ctx context.Context, before models.Status, eq *models.Equipment, rec *models.UsageRecord) {
	if eq.Status == before {
		return
	}
	switch eq.Status {
	case models.StatusLowStock:
		s.notify(ctx, notification(domainevents.NotifyLowStock, eq, rec, rec.Quantity, rec.CreatedAt))
	case models.StatusOutOfStock:
		s.notify(ctx, notification(domainevents.NotifyOutOfStock, eq, rec, rec.Quantity, rec.CreatedAt))
	}
}

func validateActor(a models.Actor) error {
	if strings.TrimSpace(a.UserID) == "" {
		return domain.ErrMissingUser
	}
	return nil
}
