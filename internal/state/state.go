// Package state persists which feed entries have already been delivered.
package state

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrStateCorrupt is returned by Load when a persisted document exists but
// cannot be parsed.
var ErrStateCorrupt = errors.New("state corrupt")

// Snapshot maps a feed name to the identifiers delivered for it.
type Snapshot map[string][]string

// Store is a durable backend for delivery state.
type Store interface {
	// Load returns the persisted state. A missing document is an empty state.
	Load(ctx context.Context) (Snapshot, error)
	// Save durably writes the whole state. A crash during Save must leave the
	// previous state readable.
	Save(ctx context.Context, snap Snapshot) error
	Close() error
}

// Supported backend drivers.
const (
	DriverFile     = "file"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config selects and configures a Store backend.
type Config struct {
	Driver string
	Path   string
	DSN    string
	Strict bool
}

// OpenStore opens the backend selected by cfg.Driver.
func OpenStore(ctx context.Context, cfg Config) (Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", DriverFile:
		return NewFile(cfg.Path), nil
	case DriverSQLite:
		return NewSQLite(cfg.Path)
	case DriverPostgres:
		return NewPostgres(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown state driver %q", cfg.Driver)
	}
}

// IDSet is a set of entry identifiers.
type IDSet map[string]struct{}

// Has reports whether id is in the set.
func (s IDSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

func sortedIDs(set map[string]struct{}) []string {
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
