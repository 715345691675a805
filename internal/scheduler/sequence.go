package scheduler

import (
	"slices"
	"time"

	"feedbridge/internal/model"
)

// DeliveredSet answers whether an entry identifier was already delivered.
type DeliveredSet interface {
	Has(id string) bool
}

// Diff returns the entries not yet delivered, oldest first.
//
// Entries without a publication time sort as if published at now, so they
// follow every entry with a past timestamp. Entries with equal timestamps
// keep their document order. An identifier repeated within one document is
// kept only once.
func Diff(entries []model.Entry, delivered DeliveredSet, now time.Time) []model.Entry {
	fresh := make([]model.Entry, 0, len(entries))
	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if delivered.Has(e.ID) {
			continue
		}
		if _, dup := seen[e.ID]; dup {
			continue
		}
		seen[e.ID] = struct{}{}
		fresh = append(fresh, e)
	}

	slices.SortStableFunc(fresh, func(a, b model.Entry) int {
		return sortKey(a, now).Compare(sortKey(b, now))
	})
	return fresh
}

func sortKey(e model.Entry, now time.Time) time.Time {
	if e.Published.IsZero() {
		return now
	}
	return e.Published
}
