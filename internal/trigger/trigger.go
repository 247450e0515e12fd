package trigger

import (
	"context"
	"fmt"
	"time"

	"clinicsched/internal/metrics"
	"clinicsched/internal/model"
	"clinicsched/internal/quarter"
	"clinicsched/internal/schederr"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// ConfigStore persists the global auto-generation switch and run stats.
type ConfigStore interface {
	GetAutoScheduleConfig(ctx context.Context) (*model.AutoScheduleConfig, error)
	RecordAutoScheduleRun(ctx context.Context, stats model.RunStats) error
}

// RoomDirectory lists the rooms eligible for generation.
type RoomDirectory interface {
	ListActiveRooms(ctx context.Context) ([]model.Room, error)
}

// QuarterGenerator builds every monthly schedule of a quarter for one room.
type QuarterGenerator interface {
	GenerateQuarter(ctx context.Context, room *model.Room, q quarter.YearQuarter, shiftNames []string) *schederr.BatchReport
}

// Policy decides whether end-of-month generation should fire and for which
// quarters. It holds no side effects; the Runner does the walking.
type Policy struct {
	cal *quarter.Calendar
}

// NewPolicy creates a trigger policy on the given civil calendar.
func NewPolicy(cal *quarter.Calendar) *Policy {
	return &Policy{cal: cal}
}

// ShouldRun reports whether generation should fire: only when the global
// flag is on and now is the civil last day of a month.
func (p *Policy) ShouldRun(now time.Time, enabled bool) bool {
	return enabled && p.cal.IsLastDayOfMonth(now)
}

// TargetQuarters returns the quarters to generate, in order. On an ordinary
// month end both the running quarter and the one after it are candidates;
// on a quarter's last day the ending quarter is skipped and only the
// following one is attempted, so a quarter starting tomorrow is never
// generated under its predecessor's rules.
func (p *Policy) TargetQuarters(now time.Time) []quarter.YearQuarter {
	current := p.cal.Of(now)
	if p.cal.IsLastDayOfQuarter(now) {
		return []quarter.YearQuarter{current.Next()}
	}
	return []quarter.YearQuarter{current, current.Next()}
}

// Runner fires the policy on a daily cron cadence and walks active rooms.
type Runner struct {
	policy    *Policy
	config    ConfigStore
	rooms     RoomDirectory
	generator QuarterGenerator
	cron      *cron.Cron
	logger    zerolog.Logger
	now       func() time.Time
}

// NewRunner creates a Runner. The cron schedule evaluates in the calendar's
// civil timezone so "last day of month" flips at local midnight.
func NewRunner(policy *Policy, config ConfigStore, rooms RoomDirectory, generator QuarterGenerator, logger zerolog.Logger) *Runner {
	return &Runner{
		policy:    policy,
		config:    config,
		rooms:     rooms,
		generator: generator,
		cron: cron.New(
			cron.WithLocation(policy.cal.Location()),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		logger: logger,
		now:    time.Now,
	}
}

// WithClock overrides the wall clock, for tests.
func (r *Runner) WithClock(now func() time.Time) *Runner {
	r.now = now
	return r
}

// Start registers the daily check and starts the cron loop.
func (r *Runner) Start() error {
	// 23:00 local: late enough that manual daytime edits settled, early
	// enough to finish before the month flips.
	if _, err := r.cron.AddFunc("0 23 * * *", func() {
		if err := r.RunOnce(context.Background()); err != nil {
			r.logger.Error().Err(err).Msg("auto-generation run failed")
		}
	}); err != nil {
		return fmt.Errorf("register auto-generation job: %w", err)
	}
	r.cron.Start()
	r.logger.Info().Msg("auto-generation runner started")
	return nil
}

// Stop stops the cron loop and waits for a running job to finish.
func (r *Runner) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
	r.logger.Info().Msg("auto-generation runner stopped")
}

// RunOnce evaluates the policy for the current instant and, when it fires,
// generates the target quarters for every active room. Per-room failures
// are aggregated into the persisted run stats, never aborting the batch; a
// config-store failure is fatal because the enabled flag is unknowable.
func (r *Runner) RunOnce(ctx context.Context) error {
	cfg, err := r.config.GetAutoScheduleConfig(ctx)
	if err != nil {
		return fmt.Errorf("load auto-schedule config: %w", err)
	}

	now := r.now().In(r.policy.cal.Location())
	if !r.policy.ShouldRun(now, cfg.Enabled) {
		if !cfg.Enabled {
			r.logger.Debug().Msg("auto-generation disabled")
		}
		return nil
	}

	targets := r.policy.TargetQuarters(now)
	rooms, err := r.rooms.ListActiveRooms(ctx)
	if err != nil {
		return fmt.Errorf("list rooms for auto-generation: %w", err)
	}

	report := &schederr.BatchReport{}
	for _, room := range rooms {
		if !room.AutoScheduleEnabled {
			report.AddSkip(room.ID, schederr.ReasonAutoDisabled)
			continue
		}
		for _, q := range targets {
			report.Merge(r.generator.GenerateQuarter(ctx, &room, q, nil))
		}
	}

	ok, skipped, failed := report.Counts()
	stats := model.RunStats{Succeeded: ok, Skipped: skipped, Failed: failed, RanAt: now}
	if err := r.config.RecordAutoScheduleRun(ctx, stats); err != nil {
		return fmt.Errorf("record auto-generation run: %w", err)
	}
	if failed > 0 {
		metrics.IncAutoRuns("partial")
	} else {
		metrics.IncAutoRuns("ok")
	}

	r.logger.Info().
		Int("succeeded", ok).
		Int("skipped", skipped).
		Int("failed", failed).
		Int("rooms", len(rooms)).
		Msg("auto-generation run complete")
	return nil
}
