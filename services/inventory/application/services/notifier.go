package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"github.com/ghuser/toolcrib/pkg/events"
	"github.com/ghuser/toolcrib/pkg/logger"
	domainevents "github.com/ghuser/toolcrib/services/inventory/domain/events"
	"github.com/ghuser/toolcrib/services/inventory/domain/models"
)

const notifyPublishTimeout = 5 * time.Second

// Notifier receives reservation notifications after the reservation has
// committed. Implementations must not block the caller and must never fail
// the reservation; delivery errors are only logged.
type Notifier interface {
	Notify(ctx context.Context, ev domainevents.NotificationEvent)
}

// LogNotifier writes notifications to the application log.
type LogNotifier struct {
	log logger.Logger
}

// NewLogNotifier returns a LogNotifier.
func NewLogNotifier(log logger.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

// Notify logs ev at INFO.
func (n *LogNotifier) Notify(ctx context.Context, ev domainevents.NotificationEvent) {
	n.log.InfoContext(ctx, "inventory notification",
		"kind", ev.Kind,
		"equipment_id", ev.EquipmentID,
		"equipment_name", ev.EquipmentName,
		"user_id", ev.UserID,
		"quantity", ev.Quantity,
		"remaining", ev.Remaining,
	)
}

// BusNotifier publishes notifications to the event bus from a bounded ants
// pool. When every worker is busy the notification is dropped and logged.
type BusNotifier struct {
	pool *ants.Pool
	bus  events.Publisher
	log  logger.Logger
}

// NewBusNotifier starts a pool of size workers publishing to bus.
func NewBusNotifier(bus events.Publisher, workers int, log logger.Logger) (*BusNotifier, error) {
	if workers <= 0 {
		workers = 1
	}
	pool, err := ants.NewPool(workers,
		ants.WithNonblocking(true),
		ants.WithPanicHandler(func(p any) {
			log.Error("notifier: worker panic", "panic", p)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("notifier: new pool: %w", err)
	}
	return &BusNotifier{pool: pool, bus: bus, log: log}, nil
}

// Notify queues ev for publishing. The request context is detached so the
// publish outlives the HTTP request but keeps its trace.
func (n *BusNotifier) Notify(ctx context.Context, ev domainevents.NotificationEvent) {
	pubCtx := context.WithoutCancel(ctx)
	err := n.pool.Submit(func() {
		ctx, cancel := context.WithTimeout(pubCtx, notifyPublishTimeout)
		defer cancel()

		msg, err := events.NewJSONMessage(ev.EventID.String(), 1, ev)
		if err != nil {
			n.log.ErrorContext(ctx, "notifier: encode", "error", err, "kind", ev.Kind)
			return
		}
		if err := n.bus.Publish(ctx, domainevents.TopicNotification, msg); err != nil {
			n.log.ErrorContext(ctx, "notifier: publish", "error", err, "kind", ev.Kind)
		}
	})
	if err != nil {
		n.log.WarnContext(ctx, "notifier: dropped notification", "error", err, "kind", ev.Kind)
	}
}

// Close waits up to timeout for queued notifications to be published.
func (n *BusNotifier) Close(timeout time.Duration) error {
	return n.pool.ReleaseTimeout(timeout)
}

func notification(kind domainevents.NotificationKind, eq *models.Equipment, rec *models.UsageRecord, qty int, at time.Time) domainevents.NotificationEvent {
	ev := domainevents.NotificationEvent{
		EventID:       uuid.New(),
		Kind:          kind,
		EquipmentID:   eq.ID,
		EquipmentName: eq.Name,
		Quantity:      qty,
		Remaining:     eq.AvailableQuantity,
		Unit:          eq.Unit,
		OccurredAt:    at,
	}
	if eq.Kind == models.KindConsumable {
		ev.Remaining = eq.TotalQuantity
	}
	if rec != nil {
		ev.UsageID = rec.ID
		ev.UserID = rec.UserID
		ev.UserName = rec.UserName
	}
	return ev
}
