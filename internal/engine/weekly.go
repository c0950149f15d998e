package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"sarthi/internal/domain"
	"sarthi/internal/ledger"
	"sarthi/internal/repo"
)

// SnapshotResult is the outcome of a weekly plan or intervention run.
// Exactly one of Skipped or Entry is meaningful; Reused marks the
// idempotent path that returned an existing entry untouched.
type SnapshotResult struct {
	Skipped bool
	Reason  string
	Reused  bool
	Entry   domain.ActionEntry
}

// RunWeeklyPlan computes and persists the focus snapshot for the
// upcoming week. Manual callers and the batch driver share this exact
// entry point. At most one snapshot exists per (owner, week) unless
// force appends a fresh one.
func (e Engine) RunWeeklyPlan(ctx context.Context, owner string, force bool) (SnapshotResult, error) {
	if reason, err := e.guardWeeklyPlans(ctx, owner); err != nil {
		return SnapshotResult{}, err
	} else if reason != "" {
		return SnapshotResult{Skipped: true, Reason: reason}, nil
	}

	now := e.now().UTC()
	start, end := upcomingWeek(now)
	weekStart, weekEnd := weekWindow(start, end)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return SnapshotResult{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.EnsureUser(ctx, tx, owner, e.nowRFC3339()); err != nil {
		return SnapshotResult{}, err
	}

	// Check-and-insert stays inside one tx so a concurrent runner for
	// the same week observes the winner's row instead of duplicating.
	if existing, err := e.Repo.LatestActionForWeek(ctx, tx, owner, domain.ActionWeeklyPlanGenerated, weekStart); err == nil {
		if !force {
			if err := tx.Commit(); err != nil {
				return SnapshotResult{}, err
			}
			return SnapshotResult{Reused: true, Entry: existing}, nil
		}
	} else if !errors.Is(err, repo.ErrNotFound) {
		return SnapshotResult{}, err
	}

	stats, err := e.weekStats(ctx, tx, owner, now.AddDate(0, 0, -6).Format(dayFormat), now.Format(dayFormat))
	if err != nil {
		return SnapshotResult{}, err
	}
	resolutions, err := e.Repo.ListResolutionsTx(ctx, tx, owner, "active")
	if err != nil {
		return SnapshotResult{}, err
	}

	suggested, err := e.suggestTasks(ctx, tx, owner, resolutions, weekStart)
	if err != nil {
		return SnapshotResult{}, err
	}
	payload := domain.WeeklyPlanPayload{
		Week:            domain.WeekWindow{Start: weekStart, End: weekEnd},
		CompletionRate:  stats.rate,
		TotalTasks:      stats.total,
		CompletedTasks:  stats.completed,
		MicroResolution: microResolution(stats.rate, stats.total, resolutions),
		SuggestedTasks:  suggested,
	}

	nowStr := e.nowRFC3339()
	for _, s := range suggested {
		day, tod, dur := s.ScheduledDay, s.ScheduledTime, s.DurationMinutes
		t := domain.Task{
			ID:              uuid.NewString(),
			Owner:           owner,
			ResolutionID:    s.ResolutionID,
			Title:           s.Title,
			ScheduledDay:    &day,
			ScheduledTime:   &tod,
			DurationMinutes: &dur,
			CreatedAt:       nowStr,
			UpdatedAt:       nowStr,
		}
		if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
			return SnapshotResult{}, err
		}
		payload.CreatedTaskIDs = append(payload.CreatedTaskIDs, t.ID)
	}

	entry, err := e.writer().Append(ctx, tx, owner, domain.ActionWeeklyPlanGenerated, payload, ledger.WithWeek(weekStart))
	if err != nil {
		return SnapshotResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return SnapshotResult{}, err
	}
	return SnapshotResult{Entry: entry}, nil
}

type weekStats struct {
	total     int
	completed int
	rate      float64
	missed    int
	pending   []domain.Task
}

// weekStats aggregates the owner's active tasks for active resolutions
// scheduled inside [dayFrom, dayTo].
func (e Engine) weekStats(ctx context.Context, tx *sql.Tx, owner, dayFrom, dayTo string) (weekStats, error) {
	draft := false
	tasks, err := e.Repo.ListTasksTx(ctx, tx, repo.TaskFilters{
		Owner: owner, Draft: &draft, ScheduledOnly: true, DayFrom: dayFrom, DayTo: dayTo,
	})
	if err != nil {
		return weekStats{}, err
	}
	active, err := e.activeResolutionIDs(ctx, tx, owner)
	if err != nil {
		return weekStats{}, err
	}
	var s weekStats
	today := e.now().UTC().Format(dayFormat)
	for _, t := range tasks {
		if t.ResolutionID != nil && !active[*t.ResolutionID] {
			continue
		}
		s.total++
		if t.Completed {
			s.completed++
			continue
		}
		s.pending = append(s.pending, t)
		if t.ScheduledDay != nil && *t.ScheduledDay < today {
			s.missed++
		}
	}
	if s.total > 0 {
		s.rate = float64(s.completed) / float64(s.total)
	}
	return s, nil
}

func (e Engine) activeResolutionIDs(ctx context.Context, tx *sql.Tx, owner string) (map[string]bool, error) {
	resolutions, err := e.Repo.ListResolutionsTx(ctx, tx, owner, "active")
	if err != nil {
		return nil, err
	}
	ids := make(map[string]bool, len(resolutions))
	for _, r := range resolutions {
		ids[r.ID] = true
	}
	return ids, nil
}

func microResolution(rate float64, total int, resolutions []domain.Resolution) domain.MicroResolution {
	focus := "your goals"
	if len(resolutions) > 0 {
		focus = fmt.Sprintf("%q", resolutions[0].Title)
	}
	switch {
	case total == 0:
		return domain.MicroResolution{
			Title:   "Starter week",
			WhyThis: fmt.Sprintf("No tracked tasks yet, so this week is about getting %s moving.", focus),
		}
	case rate < 0.5:
		return domain.MicroResolution{
			Title:   "Reset week",
			WhyThis: fmt.Sprintf("Less than half of last week's tasks got done, so this week restarts small on %s.", focus),
		}
	case rate >= 0.8:
		return domain.MicroResolution{
			Title:   "Momentum week",
			WhyThis: fmt.Sprintf("Last week went well; keep the streak on %s going.", focus),
		}
	default:
		return domain.MicroResolution{
			Title:   "Steady week",
			WhyThis: fmt.Sprintf("Decent progress last week; hold the pace on %s.", focus),
		}
	}
}

// suggestTasks prefers carrying over incomplete tasks into the target
// week, padding with fresh per-resolution work until the configured
// minimum, capped at the maximum.
func (e Engine) suggestTasks(ctx context.Context, tx *sql.Tx, owner string, resolutions []domain.Resolution, weekStart string) ([]domain.SuggestedTask, error) {
	minTasks := e.Config.Planner.MinSuggestedTasks
	maxTasks := e.Config.Planner.MaxSuggestedTasks
	if minTasks < 1 {
		minTasks = 3
	}
	if maxTasks < minTasks {
		maxTasks = minTasks + 2
	}

	var out []domain.SuggestedTask
	draft := false
	completed := false
	today := e.now().UTC().Format(dayFormat)
	pending, err := e.Repo.ListTasksTx(ctx, tx, repo.TaskFilters{
		Owner: owner, Draft: &draft, Completed: &completed, ScheduledOnly: true, DayTo: today,
	})
	if err != nil {
		return nil, err
	}
	for _, t := range pending {
		if len(out) >= maxTasks {
			break
		}
		dur := 30
		if t.DurationMinutes != nil {
			dur = *t.DurationMinutes
		}
		out = append(out, domain.SuggestedTask{
			Title:           t.Title,
			ScheduledDay:    shiftIntoWeek(weekStart, len(out)),
			ScheduledTime:   periodTime(len(out)),
			DurationMinutes: dur,
			ResolutionID:    t.ResolutionID,
			CarriedOver:     true,
		})
	}

	i := 0
	for len(out) < minTasks {
		title := "Pick one small step and do it"
		var rid *string
		if len(resolutions) > 0 {
			r := resolutions[i%len(resolutions)]
			title = fmt.Sprintf("Make progress on %q", r.Title)
			id := r.ID
			rid = &id
		}
		out = append(out, domain.SuggestedTask{
			Title:           title,
			ScheduledDay:    shiftIntoWeek(weekStart, len(out)),
			ScheduledTime:   periodTime(len(out)),
			DurationMinutes: 25,
			ResolutionID:    rid,
		})
		i++
	}
	return out, nil
}

// shiftIntoWeek spreads the i-th suggestion across the target week.
func shiftIntoWeek(weekStart string, i int) string {
	d, err := parseDay(weekStart)
	if err != nil {
		return weekStart
	}
	return d.AddDate(0, 0, i%7).Format(dayFormat)
}

// periodTime cycles morning, afternoon, evening.
func periodTime(i int) string {
	switch i % 3 {
	case 0:
		return "09:00"
	case 1:
		return "13:00"
	default:
		return "19:00"
	}
}

// GetLatestWeeklyPlan returns the newest snapshot or ErrNotFound.
func (e Engine) GetLatestWeeklyPlan(ctx context.Context, owner string) (domain.ActionEntry, error) {
	return e.Repo.LatestAction(ctx, owner, domain.ActionWeeklyPlanGenerated)
}

// ListWeeklyPlanHistory returns snapshots newest-first.
func (e Engine) ListWeeklyPlanHistory(ctx context.Context, owner string, limit int) ([]domain.ActionEntry, error) {
	if limit < 1 || limit > 100 {
		limit = 20
	}
	return e.Repo.ListActionHistory(ctx, owner, domain.ActionWeeklyPlanGenerated, limit)
}

// GetWeeklyPlanHistoryItem fetches one snapshot; entries of any other
// action type read as absent.
func (e Engine) GetWeeklyPlanHistoryItem(ctx context.Context, owner, id string) (domain.ActionEntry, error) {
	entry, err := e.Repo.GetActionEntry(ctx, owner, id)
	if err != nil {
		return domain.ActionEntry{}, err
	}
	if entry.ActionType != domain.ActionWeeklyPlanGenerated {
		return domain.ActionEntry{}, repo.ErrNotFound
	}
	return entry, nil
}

// DecodeWeeklyPayload parses a weekly snapshot entry's payload.
func DecodeWeeklyPayload(entry domain.ActionEntry) (domain.WeeklyPlanPayload, error) {
	var p domain.WeeklyPlanPayload
	if err := json.Unmarshal([]byte(entry.PayloadJSON), &p); err != nil {
		return p, fmt.Errorf("decode weekly payload: %w", err)
	}
	return p, nil
}
