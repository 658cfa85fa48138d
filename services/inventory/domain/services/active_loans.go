package services

import (
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/ghuser/toolcrib/services/inventory/domain/models"
)

// BuildActiveLoanGroups derives the per-user active loan view from a snapshot
// of usage records. Records that are not active borrows are ignored and
// duplicate IDs keep the first occurrence, so the result depends only on the
// snapshot content and not on how many change notifications produced it.
//
// Groups are sorted by LastActiveAt descending, ties by UserID ascending.
// Items within a group are newest first, ties by ID.
func BuildActiveLoanGroups(records []*models.UsageRecord) []models.ActiveLoanGroup {
	seen := make(map[uuid.UUID]struct{}, len(records))
	byUser := make(map[string]*models.ActiveLoanGroup)

	for _, r := range records {
		if r == nil || !r.IsActiveBorrow() {
			continue
		}
		if _, dup := seen[r.ID]; dup {
			continue
		}
		seen[r.ID] = struct{}{}

		g, ok := byUser[r.UserID]
		if !ok {
			g = &models.ActiveLoanGroup{UserID: r.UserID}
			byUser[r.UserID] = g
		}
		g.Items = append(g.Items, *r.Clone())
	}

	groups := make([]models.ActiveLoanGroup, 0, len(byUser))
	for _, g := range byUser {
		sortItems(g.Items)
		newest := g.Items[0]
		g.LastActiveAt = newest.CreatedAt
		g.UserName = newest.UserName
		groups = append(groups, *g)
	}
	SortGroups(groups)
	return groups
}

// SortGroups orders groups by LastActiveAt descending, ties by UserID ascending.
func SortGroups(groups []models.ActiveLoanGroup) {
	sort.SliceStable(groups, func(i, j int) bool {
		a, b := groups[i], groups[j]
		if !a.LastActiveAt.Equal(b.LastActiveAt) {
			return a.LastActiveAt.After(b.LastActiveAt)
		}
		return a.UserID < b.UserID
	})
}

func sortItems(items []models.UsageRecord) {
	sort.Slice(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return strings.Compare(a.ID.String(), b.ID.String()) < 0
	})
}
