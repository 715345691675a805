package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"feedbridge/internal/chat"
	"feedbridge/internal/filter"
	"feedbridge/internal/model"
)

// Phase is the step a feed loop is currently in.
type Phase string

// Feed loop phases.
const (
	PhaseFetching   Phase = "fetching"
	PhaseDiffing    Phase = "diffing"
	PhaseDelivering Phase = "delivering"
	PhasePersisting Phase = "persisting"
	PhaseSleeping   Phase = "sleeping"
	PhaseStopped    Phase = "stopped"
)

// DefaultSendPacing is the minimum gap between two sends of the same feed.
const DefaultSendPacing = 2 * time.Second

// DefaultMaxRejects is how many polls in a row an entry may be rejected by
// the chat network before the loop stops trying to send it.
const DefaultMaxRejects = 3

// Fetcher downloads a feed document and returns its entries in document order.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]model.Entry, error)
}

// Ledger is the shared delivery record.
type Ledger interface {
	Has(feed, id string) bool
	Mark(feed, id string)
	Count(feed string) int
	Persist(ctx context.Context) error
}

// feedView narrows a Ledger to one feed.
type feedView struct {
	ledger Ledger
	feed   string
}

func (v feedView) Has(id string) bool { return v.ledger.Has(v.feed, id) }

// cronParser accepts standard five-field expressions and descriptors such as @hourly.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule parses a feed's cron schedule.
func ParseSchedule(spec string) (cron.Schedule, error) {
	s, err := cronParser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", spec, err)
	}
	return s, nil
}

// LoopConfig holds what a FeedLoop needs besides its feed.
type LoopConfig struct {
	Fetcher         Fetcher
	Ledger          Ledger
	Dispatcher      *Dispatcher
	DefaultInterval time.Duration
	SendPacing      time.Duration
	MaxRejects      int
	Log             *slog.Logger
}

// FeedLoop polls one feed and delivers its new entries to one room.
type FeedLoop struct {
	feed     model.Feed
	roomID   string
	fetcher  Fetcher
	ledger   Ledger
	dispatch *Dispatcher
	filters  *filter.Set
	schedule cron.Schedule
	interval time.Duration
	limiter  *rate.Limiter
	trigger  chan struct{}
	now      func() time.Time
	log      *slog.Logger

	// rejects counts refused sends per entry ID. Only the Run goroutine
	// touches it.
	rejects    map[string]int
	maxRejects int

	mu     sync.Mutex
	status model.FeedStatus
}

// NewFeedLoop creates a loop for feed that delivers to roomID.
func NewFeedLoop(feed model.Feed, roomID string, cfg LoopConfig) (*FeedLoop, error) {
	filters, err := filter.Compile(feed.Filters)
	if err != nil {
		return nil, fmt.Errorf("compile filters for feed %s: %w", feed.Name, err)
	}

	var schedule cron.Schedule
	if feed.Schedule != "" {
		schedule, err = ParseSchedule(feed.Schedule)
		if err != nil {
			return nil, fmt.Errorf("feed %s: %w", feed.Name, err)
		}
	}

	pacing := cfg.SendPacing
	if pacing <= 0 {
		pacing = DefaultSendPacing
	}
	maxRejects := cfg.MaxRejects
	if maxRejects <= 0 {
		maxRejects = DefaultMaxRejects
	}

	return &FeedLoop{
		feed:     feed,
		roomID:   roomID,
		fetcher:  cfg.Fetcher,
		ledger:   cfg.Ledger,
		dispatch: cfg.Dispatcher,
		filters:  filters,
		schedule: schedule,
		interval: feed.PollInterval(cfg.DefaultInterval),
		limiter:  rate.NewLimiter(rate.Every(pacing), 1),
		trigger:  make(chan struct{}, 1),
		now:      time.Now,
		log:      cfg.Log.With("feed", feed.Name, "room", feed.Room),

		rejects:    make(map[string]int),
		maxRejects: maxRejects,

		status: model.FeedStatus{
			Name:   feed.Name,
			URL:    feed.URL,
			Room:   feed.Room,
			RoomID: roomID,
			Phase:  string(PhaseFetching),
		},
	}, nil
}

// Run polls the feed until ctx is cancelled.
func (l *FeedLoop) Run(ctx context.Context) {
	for {
		_ = l.Poll(ctx)

		wait := l.nextWait()
		l.setSleeping(wait)
		l.log.Debug("sleeping", "duration", wait)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-l.trigger:
			timer.Stop()
			l.log.Info("poll triggered")
		case <-timer.C:
		}
	}
}

// Poll runs one fetch, diff, deliver and persist cycle.
//
// A fetch error ends the cycle before anything is delivered. A send error
// stops delivery of the remaining entries; entries delivered before it stay
// marked and are persisted. An entry the chat network rejects (chat.ErrRejected)
// on MaxRejects polls in a row is passed over from then on without being
// marked, so it cannot hold back the entries after it. The returned error
// joins every send and persist error of the cycle.
func (l *FeedLoop) Poll(ctx context.Context) error {
	l.setPhase(PhaseFetching)
	entries, err := l.fetcher.Fetch(ctx, l.feed.URL)
	if err != nil {
		l.log.Warn("fetch feed", "url", l.feed.URL, "error", err)
		l.finishPoll(err)
		return err
	}

	l.setPhase(PhaseDiffing)
	matched := l.filters.Apply(entries)
	fresh := Diff(matched, feedView{ledger: l.ledger, feed: l.feed.Name}, l.now())
	l.pruneRejects(fresh)
	l.log.Debug("feed checked", "entries", len(entries), "matched", len(matched), "new", len(fresh))

	l.setPhase(PhaseDelivering)
	sent, sendErr := l.deliver(ctx, fresh)
	if sent > 0 {
		l.log.Info("delivered entries", "count", sent, "pending", len(fresh)-sent)
	}

	var persistErr error
	if sent > 0 {
		l.setPhase(PhasePersisting)
		// Persist even when shutting down so delivered entries are not re-sent.
		if err := l.ledger.Persist(context.WithoutCancel(ctx)); err != nil {
			persistErr = err
			l.log.Error("persist state", "error", err)
		}
	}

	err = errors.Join(sendErr, persistErr)
	l.finishPoll(err)
	return err
}

// deliver sends entries in order, marking each before the next is attempted.
func (l *FeedLoop) deliver(ctx context.Context, entries []model.Entry) (int, error) {
	sent := 0
	var skipped []error
	for _, e := range entries {
		if l.rejects[e.ID] >= l.maxRejects {
			continue
		}
		if err := l.limiter.Wait(ctx); err != nil {
			return sent, errors.Join(append(skipped, fmt.Errorf("wait for send slot: %w", err))...)
		}
		err := l.dispatch.Deliver(ctx, l.roomID, e)
		if err == nil {
			delete(l.rejects, e.ID)
			l.ledger.Mark(l.feed.Name, e.ID)
			sent++
			continue
		}
		if !errors.Is(err, chat.ErrRejected) {
			l.log.Error("deliver entry", "room_id", l.roomID, "entry", e.ID, "error", err)
			return sent, errors.Join(append(skipped, err)...)
		}

		l.rejects[e.ID]++
		if l.rejects[e.ID] < l.maxRejects {
			l.log.Error("entry rejected, will retry next poll", "room_id", l.roomID, "entry", e.ID,
				"attempt", l.rejects[e.ID], "max", l.maxRejects, "error", err)
			return sent, errors.Join(append(skipped, err)...)
		}
		l.log.Error("entry rejected too often, skipping it", "room_id", l.roomID, "entry", e.ID,
			"attempts", l.rejects[e.ID], "error", err)
		skipped = append(skipped, err)
	}
	return sent, errors.Join(skipped...)
}

// pruneRejects forgets entries that are no longer pending.
func (l *FeedLoop) pruneRejects(pending []model.Entry) {
	if len(l.rejects) == 0 {
		return
	}
	keep := make(map[string]bool, len(pending))
	for _, e := range pending {
		keep[e.ID] = true
	}
	for id := range l.rejects {
		if !keep[id] {
			delete(l.rejects, id)
		}
	}
}

// Trigger asks the loop to poll now instead of finishing its sleep.
// It reports false if a trigger is already pending.
func (l *FeedLoop) Trigger() bool {
	select {
	case l.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// Status returns the loop's current status.
func (l *FeedLoop) Status() model.FeedStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	st := l.status
	st.Delivered = l.ledger.Count(l.feed.Name)
	return st
}

// Stop marks the loop as permanently stopped with err.
func (l *FeedLoop) Stop(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.status.Phase = string(PhaseStopped)
	l.status.Stopped = true
	l.status.NextPoll = time.Time{}
	if err != nil {
		l.status.LastError = err.Error()
	}
}

func (l *FeedLoop) nextWait() time.Duration {
	if l.schedule == nil {
		return l.interval
	}
	now := l.now()
	next := l.schedule.Next(now)
	if next.IsZero() {
		return l.interval
	}
	return next.Sub(now)
}

func (l *FeedLoop) setPhase(p Phase) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.status.Phase = string(p)
}

func (l *FeedLoop) setSleeping(wait time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.status.Phase = string(PhaseSleeping)
	l.status.NextPoll = l.now().Add(wait)
}

func (l *FeedLoop) finishPoll(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.status.Polls++
	l.status.LastPoll = l.now()
	l.status.LastError = ""
	if err != nil {
		l.status.LastError = err.Error()
	}
}
