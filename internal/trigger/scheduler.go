package trigger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"

	"github.com/roach88/scenekeeper/internal/engine"
)

// ErrInvalidSchedule is returned for a cron expression gronx rejects.
var ErrInvalidSchedule = errors.New("invalid schedule")

// retryDelay is how long the scheduler waits after failing to compute the
// next tick.
const retryDelay = 30 * time.Second

// Enqueuer accepts triggers. Enqueue returns false once the intake is
// closed, which stops the source.
type Enqueuer interface {
	Enqueue(t engine.Trigger) bool
}

// Scheduler enqueues a timer trigger at every tick of a cron expression.
type Scheduler struct {
	expr  string
	sink  Enqueuer
	now   func() time.Time
	after func(time.Duration) <-chan time.Time
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithSchedulerClock replaces the wall clock and timer. Tests use it.
func WithSchedulerClock(now func() time.Time, after func(time.Duration) <-chan time.Time) SchedulerOption {
	return func(s *Scheduler) {
		s.now = now
		s.after = after
	}
}

// NewScheduler creates a scheduler for a five-field cron expression.
func NewScheduler(expr string, sink Enqueuer, opts ...SchedulerOption) (*Scheduler, error) {
	if !gronx.IsValid(expr) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSchedule, expr)
	}
	s := &Scheduler{
		expr:  expr,
		sink:  sink,
		now:   time.Now,
		after: time.After,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Next returns the first tick strictly after t.
func (s *Scheduler) Next(t time.Time) (time.Time, error) {
	next, err := gronx.NextTickAfter(s.expr, t, false)
	if err != nil {
		return time.Time{}, fmt.Errorf("next tick of %q: %w", s.expr, err)
	}
	return next, nil
}

// Run sleeps until each tick and enqueues a timer trigger stamped with the
// tick time. It returns nil when ctx is cancelled or the intake closes.
func (s *Scheduler) Run(ctx context.Context) error {
	slog.Info("scheduler started", "schedule", s.expr)
	defer slog.Info("scheduler stopped")

	for {
		now := s.now()
		next, err := s.Next(now)
		wait := retryDelay
		if err != nil {
			slog.Error("schedule tick failed", "schedule", s.expr, "error", err)
		} else {
			wait = max(next.Sub(now), 0)
			slog.Debug("next scheduled pass", "at", next, "in", wait)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-s.after(wait):
		}
		if err != nil {
			continue
		}

		if !s.sink.Enqueue(engine.Trigger{Source: engine.TriggerTimer, At: next}) {
			return nil
		}
	}
}
