// Package resolver maps configured room aliases to concrete room IDs.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrUnresolved is wrapped by every ResolutionError.
var ErrUnresolved = errors.New("room unresolved")

// ResolutionError reports that a room alias could not be joined or resolved.
type ResolutionError struct {
	Alias string
	Err   error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolve room %s: %v", e.Alias, e.Err)
}

func (e *ResolutionError) Unwrap() []error {
	return []error{ErrUnresolved, e.Err}
}

// Rooms is the subset of a chat transport the resolver needs.
type Rooms interface {
	JoinRoom(ctx context.Context, alias string) (string, error)
	ResolveAlias(ctx context.Context, alias string) (string, error)
}

type result struct {
	roomID string
	err    error
}

// Resolver caches alias resolutions for the process lifetime.
//
// ResolveAll must complete before Lookup is called from other goroutines;
// after that the cache is read-only and needs no locking.
type Resolver struct {
	rooms Rooms
	log   *slog.Logger
	cache map[string]result
}

// New creates a Resolver backed by rooms.
func New(rooms Rooms, log *slog.Logger) *Resolver {
	return &Resolver{
		rooms: rooms,
		log:   log,
		cache: make(map[string]result),
	}
}

// ResolveAll resolves each distinct alias once. Failures are cached and
// logged; they do not stop the remaining aliases. It returns the number of
// aliases that failed.
func (r *Resolver) ResolveAll(ctx context.Context, aliases []string) int {
	failed := 0
	for _, alias := range aliases {
		if _, done := r.cache[alias]; done {
			continue
		}
		roomID, err := r.Resolve(ctx, alias)
		r.cache[alias] = result{roomID: roomID, err: err}
		if err != nil {
			failed++
			r.log.Error("resolve room", "room", alias, "error", err)
			continue
		}
		r.log.Info("room resolved", "room", alias, "room_id", roomID)
	}
	return failed
}

// Resolve joins the room and returns the ID the join yielded. If the join
// fails or yields no ID, the alias is resolved explicitly instead.
// It does not consult or fill the cache.
func (r *Resolver) Resolve(ctx context.Context, alias string) (string, error) {
	roomID, joinErr := r.rooms.JoinRoom(ctx, alias)
	if joinErr == nil && roomID != "" {
		return roomID, nil
	}
	if joinErr != nil {
		r.log.Warn("join room failed, trying alias resolution", "room", alias, "error", joinErr)
	} else {
		r.log.Warn("join returned no room id, trying alias resolution", "room", alias)
	}

	roomID, err := r.rooms.ResolveAlias(ctx, alias)
	if err != nil {
		if joinErr != nil {
			err = errors.Join(joinErr, err)
		}
		return "", &ResolutionError{Alias: alias, Err: err}
	}
	if roomID == "" {
		return "", &ResolutionError{Alias: alias, Err: errors.New("alias resolved to an empty room id")}
	}
	return roomID, nil
}

// Lookup returns the cached resolution for alias.
func (r *Resolver) Lookup(alias string) (string, error) {
	res, ok := r.cache[alias]
	if !ok {
		return "", &ResolutionError{Alias: alias, Err: errors.New("alias was not resolved at startup")}
	}
	return res.roomID, res.err
}
