package state

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Ledger is the in-memory Delivered-ID set shared by all feed loops.
//
// Marks are visible immediately; Persist writes the whole ledger to the
// backing Store. Persist calls are serialised and each one snapshots the
// ledger after taking the write lock, so a slow save can never overwrite a
// newer one with older data.
type Ledger struct {
	store Store
	log   *slog.Logger

	mu        sync.RWMutex
	delivered map[string]map[string]struct{}

	saveMu sync.Mutex
}

// OpenLedger loads the persisted state from store.
//
// A corrupt document is treated as empty state and logged as a warning,
// unless strict is set, in which case the error is returned.
func OpenLedger(ctx context.Context, store Store, strict bool, log *slog.Logger) (*Ledger, error) {
	snap, err := store.Load(ctx)
	if err != nil {
		if !errors.Is(err, ErrStateCorrupt) || strict {
			return nil, fmt.Errorf("load state: %w", err)
		}
		log.Warn("delivery state is unreadable, starting from empty state; every entry currently in the feeds will be delivered again",
			"error", err)
		snap = nil
	}

	l := &Ledger{
		store:     store,
		log:       log,
		delivered: make(map[string]map[string]struct{}, len(snap)),
	}
	for feed, ids := range snap {
		set := make(map[string]struct{}, len(ids))
		for _, id := range ids {
			set[id] = struct{}{}
		}
		l.delivered[feed] = set
	}
	return l, nil
}

// Has reports whether id was delivered for feed.
func (l *Ledger) Has(feed, id string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.delivered[feed][id]
	return ok
}

// Delivered returns a copy of the identifiers delivered for feed.
func (l *Ledger) Delivered(feed string) IDSet {
	l.mu.RLock()
	defer l.mu.RUnlock()
	src := l.delivered[feed]
	out := make(IDSet, len(src))
	for id := range src {
		out[id] = struct{}{}
	}
	return out
}

// Mark records id as delivered for feed.
func (l *Ledger) Mark(feed, id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	set, ok := l.delivered[feed]
	if !ok {
		set = make(map[string]struct{})
		l.delivered[feed] = set
	}
	set[id] = struct{}{}
}

// Count returns how many identifiers are recorded for feed.
func (l *Ledger) Count(feed string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.delivered[feed])
}

// Snapshot returns a sorted copy of the whole ledger, including feeds that
// are no longer configured.
func (l *Ledger) Snapshot() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	snap := make(Snapshot, len(l.delivered))
	for feed, set := range l.delivered {
		snap[feed] = sortedIDs(set)
	}
	return snap
}

// Persist writes the current ledger to the store.
func (l *Ledger) Persist(ctx context.Context) error {
	l.saveMu.Lock()
	defer l.saveMu.Unlock()

	if err := l.store.Save(ctx, l.Snapshot()); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	l.log.Debug("state saved")
	return nil
}
