package schedule

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/contalink/bandeja/internal/domain"
)

// DefaultInterval is the scheduler tick period.
const DefaultInterval = 10 * time.Second

// Store is the persistence surface the loop needs.
type Store interface {
	// ListEligible returns the active records that carry a complete
	// recurrence configuration.
	ListEligible(ctx context.Context) ([]domain.Notification, error)
	// UpdateRepeatState conditionally writes the post-fire repeat state. It
	// returns domain.ErrConcurrentEdit when the record's counter no longer
	// equals expectedSent.
	UpdateRepeatState(ctx context.Context, id int64, expectedSent, newSent int, lastFiredAt *time.Time, active bool) error
}

// Dispatcher fans a due notification out to connected sessions.
type Dispatcher interface {
	Deliver(n domain.Notification, target domain.Target, now time.Time) int
}

// Scheduler runs the delivery loop: every tick it loads the eligible
// records, evaluates each one, and dispatches and persists the ones that are
// due. Failures on one record never stop the rest of the batch, and a failed
// tick never stops the loop.
type Scheduler struct {
	log      zerolog.Logger
	store    Store
	dispatch Dispatcher
	interval time.Duration
	now      func() time.Time
	done     chan struct{}
}

// New creates a scheduler. A non-positive interval falls back to
// DefaultInterval.
func New(log zerolog.Logger, store Store, dispatch Dispatcher, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{
		log:      log.With().Str("component", "scheduler").Logger(),
		store:    store,
		dispatch: dispatch,
		interval: interval,
		now:      time.Now,
		done:     make(chan struct{}),
	}
}

// Start begins ticking in the background until ctx is cancelled. The first
// tick runs immediately. An in-flight tick always runs to completion; Wait
// blocks until the loop has fully stopped.
func (s *Scheduler) Start(ctx context.Context) {
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.Tick(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Tick(ctx)
			}
		}
	}()
}

// Wait blocks until the loop started by Start has exited.
func (s *Scheduler) Wait() {
	<-s.done
}

// Tick evaluates every eligible record once.
func (s *Scheduler) Tick(ctx context.Context) {
	now := s.now()
	records, err := s.store.ListEligible(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to load eligible notifications")
		return
	}
	for _, n := range records {
		s.process(ctx, n, now)
	}
}

func (s *Scheduler) process(ctx context.Context, n domain.Notification, now time.Time) {
	d := Evaluate(n, now)

	if !d.Fire {
		if d.DayReset {
			// Persist the rollover even when nothing fires, so the counter
			// is reset exactly once per day.
			err := s.store.UpdateRepeatState(ctx, n.ID, n.RepeatsSent, 0, n.LastFiredAt, n.Active)
			if err != nil && !errors.Is(err, domain.ErrConcurrentEdit) {
				s.log.Error().Err(err).Int64("id", n.ID).Time("at", now).
					Msg("failed to reset daily repeat counter")
			}
		}
		return
	}

	delivered := s.dispatch.Deliver(n, n.Target(), now)

	err := s.store.UpdateRepeatState(ctx, n.ID, n.RepeatsSent, d.RepeatsSent, d.LastFiredAt, d.Active)
	switch {
	case errors.Is(err, domain.ErrConcurrentEdit):
		s.log.Warn().Int64("id", n.ID).Time("at", now).
			Msg("repeat state changed concurrently, skipping record this tick")
		return
	case err != nil:
		s.log.Error().Err(err).Int64("id", n.ID).Time("at", now).
			Msg("failed to persist repeat state")
		return
	}

	s.log.Info().
		Int64("id", n.ID).
		Str("tipo", string(n.Kind)).
		Int("delivered", delivered).
		Int("repeticoes", d.RepeatsSent).
		Bool("ativo", d.Active).
		Msg("notification fired")
}
