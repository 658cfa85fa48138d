package events

import (
	"time"

	"github.com/google/uuid"
)

// TopicNotification carries user-facing notifications to the delivery worker.
const TopicNotification = "inventory.notification"

// NotificationKind names what happened.
type NotificationKind string

const (
	NotifyBorrow     NotificationKind = "borrow"
	NotifyWithdraw   NotificationKind = "withdraw"
	NotifyReturn     NotificationKind = "return"
	NotifyLowStock   NotificationKind = "low_stock"
	NotifyOutOfStock NotificationKind = "out_of_stock"
	NotifyOverdue    NotificationKind = "overdue"
)

// NotificationEvent is the fire-and-forget payload sent after a reservation.
// Delivery failures never affect the reservation that produced it.
type NotificationEvent struct {
	EventID       uuid.UUID        `json:"event_id"`
	Kind          NotificationKind `json:"kind"`
	EquipmentID   uuid.UUID        `json:"equipment_id"`
	EquipmentName string           `json:"equipment_name"`
	UserID        string           `json:"user_id,omitempty"`
	UserName      string           `json:"user_name,omitempty"`
	UsageID       uuid.UUID        `json:"usage_id"`
	Quantity      int              `json:"quantity"`
	Remaining     int              `json:"remaining"`
	Unit          string           `json:"unit,omitempty"`
	OccurredAt    time.Time        `json:"occurred_at"`
}
