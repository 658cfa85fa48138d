package services

import (
	"fmt"
	"time"

	"github.com/ghuser/toolcrib/pkg/app"
	"github.com/ghuser/toolcrib/pkg/cache"
	"github.com/ghuser/toolcrib/services/inventory/infrastructure/persistence/postgres"
)

// Services is the application-layer service container for this bounded context.
// It wires domain services with their infrastructure implementations.
type Services struct {
	Equipment   *EquipmentService
	Usage       *UsageService
	Reservation *ReservationService
	ActiveLoans *ActiveLoanService

	closers []func(time.Duration) error
}

// New wires all inventory application services with infrastructure from the
// Application container. Notifications go to the event bus when one is
// configured and to the log otherwise.
func New(a *app.Application) (*Services, error) {
	cfg := a.Config
	equipmentRepo := postgres.NewEquipmentRepository(a.Db, cfg.ReservationLockTimeout)
	usageRepo := postgres.NewUsageRepository(a.Db)

	var ledger *postgres.Ledger
	if a.EventBus != nil {
		ledger = postgres.NewLedger(a.Db, a.EventBus, cfg.ReservationLockTimeout)
	} else {
		ledger = postgres.NewLedger(a.Db, nil, cfg.ReservationLockTimeout)
	}

	var (
		equipmentCache *cache.EquipmentCache
		loanCache      *cache.ActiveLoanCache
	)
	if a.Redis != nil {
		equipmentCache = cache.NewEquipmentCache(a.Redis)
		loanCache = cache.NewActiveLoanCache(a.Redis)
	}

	s := &Services{}
	var notifier Notifier = NewLogNotifier(a.Logger)
	if a.EventBus != nil {
		bus, err := NewBusNotifier(a.EventBus, cfg.NotifyWorkers, a.Logger)
		if err != nil {
			return nil, fmt.Errorf("inventory services: %w", err)
		}
		notifier = bus
		s.closers = append(s.closers, bus.Close)
	}

	s.Equipment = NewEquipmentService(equipmentRepo, equipmentCache, a.Logger)
	s.Usage = NewUsageService(usageRepo)
	s.Reservation = NewReservationService(ledger, notifier, s.Equipment, RetryPolicy{
		MaxRetries: cfg.ReservationMaxRetries,
		BaseDelay:  cfg.ReservationRetryBaseDelay,
	}, a.Logger)
	s.ActiveLoans = NewActiveLoanService(usageRepo, loanCache, s.Equipment, notifier, a.Logger)
	return s, nil
}

// Close drains background notification workers, waiting at most timeout.
func (s *Services) Close(timeout time.Duration) error {
	for _, c := range s.closers {
		if err := c(timeout); err != nil {
			return err
		}
	}
	return nil
}
