// Package scheduler runs one independent polling loop per configured feed.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"feedbridge/internal/model"
)

// Rooms maps configured room aliases to concrete room IDs.
type Rooms interface {
	ResolveAll(ctx context.Context, aliases []string) int
	Lookup(alias string) (string, error)
}

// Scheduler supervises the feed loops.
type Scheduler struct {
	feeds []model.Feed
	rooms Rooms
	cfg   LoopConfig
	log   *slog.Logger

	mu    sync.RWMutex
	loops []*FeedLoop
	index map[string]*FeedLoop

	ready chan struct{}
}

// New creates a Scheduler for feeds.
func New(feeds []model.Feed, rooms Rooms, cfg LoopConfig) *Scheduler {
	return &Scheduler{
		feeds: feeds,
		rooms: rooms,
		cfg:   cfg,
		log:   cfg.Log,
		index: make(map[string]*FeedLoop, len(feeds)),
		ready: make(chan struct{}),
	}
}

// Ready is closed once every feed loop has been started.
func (s *Scheduler) Ready() <-chan struct{} {
	return s.ready
}

// Run resolves every destination room once, then polls each feed in its own
// goroutine until ctx is cancelled. It returns after all loops have exited.
//
// A feed whose room cannot be resolved is reported as stopped; the other
// feeds run normally.
func (s *Scheduler) Run(ctx context.Context) error {
	aliases := make([]string, 0, len(s.feeds))
	for _, f := range s.feeds {
		aliases = append(aliases, f.Room)
	}
	if failed := s.rooms.ResolveAll(ctx, aliases); failed > 0 {
		s.log.Warn("some rooms could not be resolved, their feeds will not run", "failed", failed)
	}

	var wg sync.WaitGroup
	for _, feed := range s.feeds {
		roomID, resolveErr := s.rooms.Lookup(feed.Room)

		loop, err := NewFeedLoop(feed, roomID, s.cfg)
		if err != nil {
			s.log.Error("create feed loop", "feed", feed.Name, "error", err)
			continue
		}
		s.register(loop)

		if resolveErr != nil {
			loop.Stop(resolveErr)
			s.log.Error("feed stopped", "feed", feed.Name, "room", feed.Room, "error", resolveErr)
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			s.runLoop(ctx, loop)
		}()
	}
	close(s.ready)
	s.log.Info("scheduler started", "feeds", len(s.feeds))

	wg.Wait()
	s.log.Info("scheduler stopped")
	return nil
}

// runLoop runs one feed loop and confines a panic to that feed.
func (s *Scheduler) runLoop(ctx context.Context, loop *FeedLoop) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic: %v", r)
			loop.Stop(err)
			s.log.Error("feed loop crashed", "feed", loop.feed.Name, "error", err, "stack", string(debug.Stack()))
		}
	}()
	loop.Run(ctx)
}

func (s *Scheduler) register(loop *FeedLoop) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loops = append(s.loops, loop)
	s.index[loop.feed.Name] = loop
}

// Statuses returns the status of every feed loop in configuration order.
func (s *Scheduler) Statuses() []model.FeedStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.FeedStatus, 0, len(s.loops))
	for _, l := range s.loops {
		out = append(out, l.Status())
	}
	return out
}

// Status returns the status of the named feed.
func (s *Scheduler) Status(name string) (model.FeedStatus, bool) {
	s.mu.RLock()
	l, ok := s.index[name]
	s.mu.RUnlock()
	if !ok {
		return model.FeedStatus{}, false
	}
	return l.Status(), true
}

// Trigger cuts the named feed's sleep short. It reports false if the feed
// is unknown or stopped.
func (s *Scheduler) Trigger(name string) bool {
	s.mu.RLock()
	l, ok := s.index[name]
	s.mu.RUnlock()
	if !ok || l.Status().Stopped {
		return false
	}
	l.Trigger()
	return true
}
