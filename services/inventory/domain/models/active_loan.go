package models

import "time"

// ActiveLoanGroup is the derived per-user view of outstanding loans.
// Items are newest first; LastActiveAt is the newest CreatedAt among them.
type ActiveLoanGroup struct {
	UserID       string
	UserName     string
	Items        []UsageRecord
	LastActiveAt time.Time
}

// TotalQuantity sums the quantities on loan in the group.
func (g ActiveLoanGroup) TotalQuantity() int {
	n := 0
	for _, it := range g.Items {
		n += it.Quantity
	}
	return n
}
