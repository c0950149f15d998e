// Package scheduler drives the periodic coaching jobs. It holds no
// business logic: it fans the same engine entry points manual callers
// use across every known owner, on a configured weekly cadence.
package scheduler

import (
	"context"
	"log"
	"time"

	"sarthi/internal/config"
	"sarthi/internal/engine"
)

type Scheduler struct {
	Engine engine.Engine
	Config *config.Config
	Logf   func(format string, args ...any)
	Now    func() time.Time
}

func New(e engine.Engine, cfg *config.Config) *Scheduler {
	return &Scheduler{Engine: e, Config: cfg, Logf: log.Printf, Now: time.Now}
}

// Result counts one batch pass over all users.
type Result struct {
	UsersProcessed          int `json:"users_processed"`
	SnapshotsWritten        int `json:"snapshots_written"`
	SkippedDueToPreferences int `json:"skipped_due_to_preferences"`
	Failed                  int `json:"failed"`
}

// RunWeeklyPlans runs the weekly snapshot job for every user. A failing
// user is logged and skipped; the batch always finishes.
func (s *Scheduler) RunWeeklyPlans(ctx context.Context) (Result, error) {
	return s.runForAll(ctx, "weekly_plan", func(ctx context.Context, owner string) (engine.SnapshotResult, error) {
		return s.Engine.RunWeeklyPlan(ctx, owner, false)
	})
}

// RunInterventions runs the slippage check for every user.
func (s *Scheduler) RunInterventions(ctx context.Context) (Result, error) {
	return s.runForAll(ctx, "interventions", func(ctx context.Context, owner string) (engine.SnapshotResult, error) {
		return s.Engine.RunInterventions(ctx, owner, false)
	})
}

func (s *Scheduler) runForAll(ctx context.Context, job string, run func(context.Context, string) (engine.SnapshotResult, error)) (Result, error) {
	started := s.now()
	owners, err := s.Engine.Repo.ListUserIDs(ctx)
	if err != nil {
		return Result{}, err
	}
	var res Result
	for _, owner := range owners {
		out, err := run(ctx, owner)
		if err != nil {
			res.Failed++
			s.logf("job %s: user %s failed: %v", job, owner, err)
			continue
		}
		res.UsersProcessed++
		switch {
		case out.Skipped:
			res.SkippedDueToPreferences++
		case !out.Reused:
			res.SnapshotsWritten++
		}
	}
	s.logf("job %s complete: users=%d snapshots=%d skipped=%d failed=%d duration=%s",
		job, res.UsersProcessed, res.SnapshotsWritten, res.SkippedDueToPreferences, res.Failed, time.Since(started).Round(time.Millisecond))
	return res, nil
}

// Run blocks, firing each job at its configured weekday and time until
// the context is canceled.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.Config.Scheduler.Enabled {
		s.logf("scheduler disabled; no jobs will run")
		<-ctx.Done()
		return ctx.Err()
	}
	if s.Config.Scheduler.RunOnStartup {
		s.logf("running jobs once on startup")
		if _, err := s.RunWeeklyPlans(ctx); err != nil {
			s.logf("startup weekly_plan job: %v", err)
		}
		if _, err := s.RunInterventions(ctx); err != nil {
			s.logf("startup interventions job: %v", err)
		}
	}

	cfg := s.Config.Scheduler
	for {
		now := s.now()
		nextWeekly := nextFiring(now, time.Weekday(cfg.WeeklyDay), cfg.WeeklyHour, cfg.WeeklyMinute)
		nextIntervention := nextFiring(now, time.Weekday(cfg.InterventionDay), cfg.InterventionHour, cfg.InterventionMinute)
		next := nextWeekly
		weekly := true
		if nextIntervention.Before(nextWeekly) {
			next = nextIntervention
			weekly = false
		}

		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		if weekly {
			if _, err := s.RunWeeklyPlans(ctx); err != nil {
				s.logf("weekly_plan job: %v", err)
			}
		} else {
			if _, err := s.RunInterventions(ctx); err != nil {
				s.logf("interventions job: %v", err)
			}
		}
	}
}

// nextFiring is the next wall-clock instant matching the weekday and
// time of day, always strictly after now.
func nextFiring(now time.Time, day time.Weekday, hour, minute int) time.Time {
	t := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	daysAhead := (int(day) - int(now.Weekday()) + 7) % 7
	t = t.AddDate(0, 0, daysAhead)
	if !t.After(now) {
		t = t.AddDate(0, 0, 7)
	}
	return t
}

func (s *Scheduler) logf(format string, args ...any) {
	if s.Logf != nil {
		s.Logf(format, args...)
		return
	}
	log.Printf(format, args...)
}

func (s *Scheduler) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
