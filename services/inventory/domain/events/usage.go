package events

import (
	"time"

	"github.com/google/uuid"
)

// TopicUsageChanged carries every insert or state change of a usage record.
// It is the change feed the active-loan aggregator consumes.
const TopicUsageChanged = "inventory.usage.changed"

// Change kinds carried by UsageChangedEvent.
const (
	ChangeAdded    = "added"
	ChangeModified = "modified"
	ChangeRemoved  = "removed"
)

// UsageChangedEvent is published in the same transaction as the ledger write.
// Consumers treat it as a hint: they re-read the ledger for UserID rather than
// applying the payload as a delta.
type UsageChangedEvent struct {
	EventID     uuid.UUID `json:"event_id"`
	Version     int       `json:"version"`
	Change      string    `json:"change"`
	UsageID     uuid.UUID `json:"usage_id"`
	EquipmentID uuid.UUID `json:"equipment_id"`
	UserID      string    `json:"user_id"`
	Operation   string    `json:"operation"`
	State       string    `json:"state"`
	Quantity    int       `json:"quantity"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// UsageChangedVersion is the current schema version of UsageChangedEvent.
const UsageChangedVersion = 1
