package cron

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/alpex29/infinitic/client"
	"github.com/alpex29/infinitic/entity"
	"github.com/alpex29/infinitic/id"
)

// Dispatcher starts entities. *client.Client implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, kind entity.Kind, name string, input entity.Data, opts ...client.DispatchOption) (id.ID, error)
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithTickInterval sets how often the scheduler checks for due entries.
func WithTickInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if d > 0 {
			s.tickInterval = d
		}
	}
}

// cronParser supports standard 5-field cron and descriptors like "@every 30s".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule parses a cron expression.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	return cronParser.Parse(expr)
}

type scheduled struct {
	entry    Entry
	schedule cronlib.Schedule
}

// Scheduler fires cron entries on a tick loop.
type Scheduler struct {
	dispatcher Dispatcher
	logger     *slog.Logger

	tickInterval time.Duration

	mu      sync.Mutex
	entries map[string]*scheduled

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler creates a Scheduler.
func NewScheduler(dispatcher Dispatcher, logger *slog.Logger, opts ...SchedulerOption) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		dispatcher:   dispatcher,
		logger:       logger,
		tickInterval: time.Second,
		entries:      make(map[string]*scheduled),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add registers or replaces an entry. Its first run is the next schedule
// time after now.
func (s *Scheduler) Add(e Entry) error {
	if e.Name == "" {
		return errors.New("cron: entry name is required")
	}
	if e.TaskName == "" {
		return fmt.Errorf("cron: entry %q has no task name", e.Name)
	}
	if _, err := entity.ParseKind(string(e.Kind)); err != nil {
		return fmt.Errorf("cron: entry %q: %w", e.Name, err)
	}
	sched, err := ParseSchedule(e.Schedule)
	if err != nil {
		return fmt.Errorf("cron: entry %q: parse schedule %q: %w", e.Name, e.Schedule, err)
	}

	next := sched.Next(time.Now().UTC())
	e.NextRunAt = &next

	s.mu.Lock()
	s.entries[e.Name] = &scheduled{entry: e, schedule: sched}
	s.mu.Unlock()
	return nil
}

// Remove deletes an entry. Removing an unknown entry is a no-op.
func (s *Scheduler) Remove(name string) {
	s.mu.Lock()
	delete(s.entries, name)
	s.mu.Unlock()
}

// Entries returns a snapshot of all entries ordered by name.
func (s *Scheduler) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(s.entries))
	for _, sc := range s.entries {
		out = append(out, sc.entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Start launches the tick loop. It returns immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.cancel != nil {
		return nil
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.tickLoop(runCtx, s.done)

	s.logger.Info("cron scheduler started",
		slog.Duration("tick_interval", s.tickInterval),
		slog.Int("entries", len(s.Entries())),
	)
	return nil
}

// Stop stops the tick loop and waits for an in-flight tick.
func (s *Scheduler) Stop(_ context.Context) error {
	s.runMu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.runMu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	s.logger.Info("cron scheduler stopped")
	return nil
}

func (s *Scheduler) tickLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, time.Now().UTC())
		}
	}
}

// tick fires every entry due at now.
func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	s.mu.Lock()
	var due []*scheduled
	for _, sc := range s.entries {
		if sc.entry.NextRunAt != nil && !sc.entry.NextRunAt.After(now) {
			due = append(due, sc)
		}
	}
	s.mu.Unlock()

	for _, sc := range due {
		s.fire(ctx, sc, now)
	}
}

func (s *Scheduler) fire(ctx context.Context, sc *scheduled, now time.Time) {
	e := sc.entry
	var opts []client.DispatchOption
	if e.Options.Timeout > 0 {
		opts = append(opts, client.WithTimeout(e.Options.Timeout))
	}
	if e.Options.Retry.Kind != "" {
		opts = append(opts, client.WithRetry(e.Options.Retry))
	}

	entityID, err := s.dispatcher.Dispatch(ctx, e.Kind, e.TaskName, e.Input, opts...)

	s.mu.Lock()
	defer s.mu.Unlock()
	// The entry may have been removed or replaced while dispatching.
	if s.entries[e.Name] != sc {
		return
	}
	next := sc.schedule.Next(now)
	sc.entry.NextRunAt = &next
	if err != nil {
		sc.entry.LastError = err.Error()
		s.logger.Error("cron dispatch failed",
			slog.String("cron_name", e.Name),
			slog.String("task_name", e.TaskName),
			slog.String("error", err.Error()),
		)
		return
	}
	sc.entry.LastRunAt = &now
	sc.entry.LastID = entityID
	sc.entry.LastError = ""
	s.logger.Debug("cron fired",
		slog.String("cron_name", e.Name),
		slog.String("entity_id", entityID.String()),
		slog.Time("next_run_at", next),
	)
}
