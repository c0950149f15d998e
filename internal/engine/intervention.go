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

const keepOnReduceScope = 3

func remediationOptions() []domain.RemediationOption {
	return []domain.RemediationOption{
		{Key: "reduce_scope", Label: "Reduce scope", Detail: fmt.Sprintf("Keep the %d most pressing tasks and move the rest out of this week", keepOnReduceScope)},
		{Key: "reschedule", Label: "Reschedule", Detail: "Move missed tasks to open slots later this week"},
		{Key: "get_back_on_track", Label: "Get back on track", Detail: "Keep the plan as is and recommit"},
		{Key: "reflect", Label: "Reflect", Detail: "Add a short reflection session to figure out what is blocking you"},
		{Key: "adjust_goal", Label: "Adjust the goal", Detail: "Give your resolutions two more weeks of runway"},
		{Key: "pause", Label: "Pause coaching", Detail: "Stop weekly plans and check-ins until you resume"},
	}
}

// RunInterventions evaluates the current week for slippage and records
// the verdict. Idempotent per (owner, week) like the weekly snapshot.
func (e Engine) RunInterventions(ctx context.Context, owner string, force bool) (SnapshotResult, error) {
	if reason, err := e.guardInterventions(ctx, owner); err != nil {
		return SnapshotResult{}, err
	} else if reason != "" {
		return SnapshotResult{Skipped: true, Reason: reason}, nil
	}

	now := e.now().UTC()
	start, end := currentWeek(now)
	weekStart, weekEnd := weekWindow(start, end)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return SnapshotResult{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.EnsureUser(ctx, tx, owner, e.nowRFC3339()); err != nil {
		return SnapshotResult{}, err
	}

	if existing, err := e.Repo.LatestActionForWeek(ctx, tx, owner, domain.ActionInterventionGenerated, weekStart); err == nil {
		if !force {
			if err := tx.Commit(); err != nil {
				return SnapshotResult{}, err
			}
			return SnapshotResult{Reused: true, Entry: existing}, nil
		}
	} else if !errors.Is(err, repo.ErrNotFound) {
		return SnapshotResult{}, err
	}

	payload, err := e.evaluateWeek(ctx, tx, owner, weekStart, weekEnd)
	if err != nil {
		return SnapshotResult{}, err
	}
	entry, err := e.writer().Append(ctx, tx, owner, domain.ActionInterventionGenerated, payload, ledger.WithWeek(weekStart))
	if err != nil {
		return SnapshotResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return SnapshotResult{}, err
	}
	return SnapshotResult{Entry: entry}, nil
}

func (e Engine) evaluateWeek(ctx context.Context, tx *sql.Tx, owner, weekStart, weekEnd string) (domain.InterventionPayload, error) {
	stats, err := e.weekStats(ctx, tx, owner, weekStart, weekEnd)
	if err != nil {
		return domain.InterventionPayload{}, err
	}
	thresholdRate := e.Config.Slippage.CompletionRate
	thresholdMissed := e.Config.Slippage.MissedScheduled
	flagged := (stats.total > 0 && stats.rate < thresholdRate) || stats.missed > thresholdMissed

	payload := domain.InterventionPayload{
		Week:            domain.WeekWindow{Start: weekStart, End: weekEnd},
		CompletionRate:  stats.rate,
		TotalTasks:      stats.total,
		CompletedTasks:  stats.completed,
		MissedScheduled: stats.missed,
		Flagged:         flagged,
	}
	if flagged {
		payload.Card = &domain.InterventionCard{
			Title: "This week needs a nudge",
			Message: fmt.Sprintf("You finished %d of %d tasks so far and %d scheduled ones slipped past their day. Pick how you want to handle it.",
				stats.completed, stats.total, stats.missed),
			Options: remediationOptions(),
		}
	}
	return payload, nil
}

type RespondResult struct {
	Message  string
	Changes  []string
	Snapshot *domain.InterventionPayload
}

// RespondIntervention executes the option the user picked from the
// current week's card, recording every concrete change it makes.
func (e Engine) RespondIntervention(ctx context.Context, owner, optionKey string) (RespondResult, error) {
	now := e.now().UTC()
	start, end := currentWeek(now)
	weekStart, weekEnd := weekWindow(start, end)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return RespondResult{}, err
	}
	defer tx.Rollback()

	entry, err := e.Repo.LatestActionForWeek(ctx, tx, owner, domain.ActionInterventionGenerated, weekStart)
	if err != nil {
		return RespondResult{}, err
	}
	card, err := decodeCard(entry)
	if err != nil {
		return RespondResult{}, err
	}
	if card == nil {
		return RespondResult{}, repo.ErrNotFound
	}
	if !optionOffered(card, optionKey) {
		return RespondResult{}, validationErr("option_key", "%q is not one of this week's options", optionKey)
	}

	message, changes, err := e.applyOption(ctx, tx, owner, optionKey, weekStart, weekEnd)
	if err != nil {
		return RespondResult{}, err
	}

	executed := domain.InterventionExecutedPayload{
		Week:      domain.WeekWindow{Start: weekStart, End: weekEnd},
		OptionKey: optionKey,
		Message:   message,
		Changes:   changes,
	}
	if _, err := e.writer().Append(ctx, tx, owner, domain.ActionInterventionExecuted, executed, ledger.WithWeek(weekStart)); err != nil {
		return RespondResult{}, err
	}

	result := RespondResult{Message: message, Changes: changes}
	if optionKey != "pause" {
		snapshot, err := e.evaluateWeek(ctx, tx, owner, weekStart, weekEnd)
		if err != nil {
			return RespondResult{}, err
		}
		result.Snapshot = &snapshot
	}
	if err := tx.Commit(); err != nil {
		return RespondResult{}, err
	}
	return result, nil
}

func decodeCard(entry domain.ActionEntry) (*domain.InterventionCard, error) {
	var p domain.InterventionPayload
	if err := json.Unmarshal([]byte(entry.PayloadJSON), &p); err != nil {
		return nil, fmt.Errorf("decode intervention payload: %w", err)
	}
	if !p.Flagged {
		return nil, nil
	}
	return p.Card, nil
}

// DecodeInterventionPayload parses an intervention entry's payload.
func DecodeInterventionPayload(entry domain.ActionEntry) (domain.InterventionPayload, error) {
	var p domain.InterventionPayload
	if err := json.Unmarshal([]byte(entry.PayloadJSON), &p); err != nil {
		return p, fmt.Errorf("decode intervention payload: %w", err)
	}
	return p, nil
}

func optionOffered(card *domain.InterventionCard, key string) bool {
	for _, opt := range card.Options {
		if opt.Key == key {
			return true
		}
	}
	return false
}

func (e Engine) applyOption(ctx context.Context, tx *sql.Tx, owner, optionKey, weekStart, weekEnd string) (string, []string, error) {
	switch optionKey {
	case "reduce_scope":
		return e.reduceScope(ctx, tx, owner, weekStart, weekEnd)
	case "reschedule":
		return e.rescheduleMissed(ctx, tx, owner, weekStart, weekEnd)
	case "reflect":
		return e.addReflection(ctx, tx, owner)
	case "pause":
		return e.pauseCoaching(ctx, tx, owner)
	case "adjust_goal":
		return e.extendResolutions(ctx, tx, owner)
	case "get_back_on_track":
		return "Plan unchanged. One task at a time.", nil, nil
	default:
		return "", nil, validationErr("option_key", "unknown option %q", optionKey)
	}
}

// reduceScope keeps the earliest few pending tasks this week and clears
// the schedule of the rest so the week stops looking impossible.
func (e Engine) reduceScope(ctx context.Context, tx *sql.Tx, owner, weekStart, weekEnd string) (string, []string, error) {
	pending, err := e.pendingWeekTasks(ctx, tx, owner, weekStart, weekEnd)
	if err != nil {
		return "", nil, err
	}
	now := e.nowRFC3339()
	var changes []string
	for i := keepOnReduceScope; i < len(pending); i++ {
		t := pending[i]
		t.ScheduledDay = nil
		t.ScheduledTime = nil
		t.UpdatedAt = now
		if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
			return "", nil, err
		}
		changes = append(changes, fmt.Sprintf("Moved %q out of this week", t.Title))
	}
	if len(changes) == 0 {
		return "Your week is already lean; nothing to trim.", nil, nil
	}
	return fmt.Sprintf("Trimmed the week down to %d task(s).", keepOnReduceScope), changes, nil
}

// rescheduleMissed moves past-due tasks to the nearest open slot later
// in the week, nudging by 30 minutes when a slot is taken.
func (e Engine) rescheduleMissed(ctx context.Context, tx *sql.Tx, owner, weekStart, weekEnd string) (string, []string, error) {
	pending, err := e.pendingWeekTasks(ctx, tx, owner, weekStart, weekEnd)
	if err != nil {
		return "", nil, err
	}
	today := e.now().UTC().Format(dayFormat)
	taken := map[string]bool{}
	for _, t := range pending {
		if t.ScheduledDay != nil && t.ScheduledTime != nil {
			taken[*t.ScheduledDay+" "+*t.ScheduledTime] = true
		}
	}

	now := e.nowRFC3339()
	var changes []string
	for _, t := range pending {
		if t.ScheduledDay == nil || *t.ScheduledDay >= today {
			continue
		}
		day := today
		if day < weekStart {
			day = weekStart
		}
		tod := "19:00"
		if t.ScheduledTime != nil {
			tod = *t.ScheduledTime
		}
		day, tod = openSlot(day, weekEnd, tod, taken)
		delete(taken, *t.ScheduledDay+" "+orEmpty(t.ScheduledTime))
		taken[day+" "+tod] = true
		t.ScheduledDay = &day
		t.ScheduledTime = &tod
		t.UpdatedAt = now
		if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
			return "", nil, err
		}
		changes = append(changes, fmt.Sprintf("Rescheduled %q to %s %s", t.Title, day, tod))
	}
	if len(changes) == 0 {
		return "Nothing to reschedule; no tasks have slipped.", nil, nil
	}
	return fmt.Sprintf("Rescheduled %d task(s) into the rest of the week.", len(changes)), changes, nil
}

// openSlot scans forward through the week for a free day/time pair.
func openSlot(day, weekEnd, tod string, taken map[string]bool) (string, string) {
	for d := day; d <= weekEnd; d = nextDay(d) {
		t := tod
		for hops := 0; hops < 8; hops++ {
			if !taken[d+" "+t] {
				return d, t
			}
			t = addMinutes(t, 30)
		}
	}
	return weekEnd, tod
}

func (e Engine) addReflection(ctx context.Context, tx *sql.Tx, owner string) (string, []string, error) {
	now := e.nowRFC3339()
	day := e.now().UTC().Format(dayFormat)
	tod := "20:00"
	dur := 10
	t := domain.Task{
		ID:              uuid.NewString(),
		Owner:           owner,
		Title:           "Reflect on this week",
		ScheduledDay:    &day,
		ScheduledTime:   &tod,
		DurationMinutes: &dur,
		Note:            "What got in the way? What would make next week easier?",
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
		return "", nil, err
	}
	return "Added a short reflection session for tonight.", []string{fmt.Sprintf("Created %q at %s", t.Title, tod)}, nil
}

func (e Engine) pauseCoaching(ctx context.Context, tx *sql.Tx, owner string) (string, []string, error) {
	prefs, err := e.Repo.GetPreferencesTx(ctx, tx, owner)
	if err != nil {
		return "", nil, err
	}
	prefs.CoachingPaused = true
	prefs.UpdatedAt = e.nowRFC3339()
	if err := e.Repo.UpsertPreferences(ctx, tx, prefs); err != nil {
		return "", nil, err
	}
	return "Coaching paused. Resume whenever you're ready.", []string{"Set coaching_paused=true"}, nil
}

func (e Engine) extendResolutions(ctx context.Context, tx *sql.Tx, owner string) (string, []string, error) {
	resolutions, err := e.Repo.ListResolutionsTx(ctx, tx, owner, "active")
	if err != nil {
		return "", nil, err
	}
	now := e.nowRFC3339()
	var changes []string
	for _, r := range resolutions {
		weeks := clampInt(r.DurationWeeks+2, minDurationWeeks, maxDurationWeeks)
		if weeks == r.DurationWeeks {
			continue
		}
		if err := e.Repo.UpdateResolutionDuration(ctx, tx, owner, r.ID, weeks, now); err != nil {
			return "", nil, err
		}
		changes = append(changes, fmt.Sprintf("Extended %q from %d to %d weeks", r.Title, r.DurationWeeks, weeks))
	}
	if len(changes) == 0 {
		return "No active resolutions could be extended.", nil, nil
	}
	return "Gave your goals more runway.", changes, nil
}

func (e Engine) pendingWeekTasks(ctx context.Context, tx *sql.Tx, owner, weekStart, weekEnd string) ([]domain.Task, error) {
	draft := false
	completed := false
	return e.Repo.ListTasksTx(ctx, tx, repo.TaskFilters{
		Owner: owner, Draft: &draft, Completed: &completed, ScheduledOnly: true, DayFrom: weekStart, DayTo: weekEnd,
	})
}

func orEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// GetLatestIntervention returns the newest intervention entry.
func (e Engine) GetLatestIntervention(ctx context.Context, owner string) (domain.ActionEntry, error) {
	return e.Repo.LatestAction(ctx, owner, domain.ActionInterventionGenerated)
}
