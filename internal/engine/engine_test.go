package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"sarthi/internal/config"
	"sarthi/internal/db"
	"sarthi/internal/domain"
	"sarthi/internal/engine"
	"sarthi/internal/migrate"
	"sarthi/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

// Monday, so the current week starts today and the upcoming week on the 22nd.
var testNow = time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default())
	eng.Now = func() time.Time { return testNow }
	return testEnv{Engine: eng, Ctx: context.Background()}
}

// activeResolution drives intake, decompose and accept in one go and
// returns the activated resolution plus its week-1 tasks.
func activeResolution(t *testing.T, env testEnv, text string) (domain.Resolution, []domain.Task) {
	t.Helper()
	res, err := env.Engine.Intake(env.Ctx, "alice", text, nil)
	if err != nil {
		t.Fatalf("intake: %v", err)
	}
	if _, _, err := env.Engine.Decompose(env.Ctx, "alice", res.ID, nil, false); err != nil {
		t.Fatalf("decompose: %v", err)
	}
	result, err := env.Engine.Approve(env.Ctx, "alice", res.ID, "accept", nil)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	return result.Resolution, result.ActivatedTasks
}

func TestIntakeClassification(t *testing.T) {
	env := newTestEnv(t)
	cases := []struct {
		text     string
		rtype    string
		category string
	}{
		{"Go to the gym three times a week", "health", "Health"},
		{"Save 500 a month for the house", "finance", "Finance"},
		{"Learn guitar and play one full song", "learning", "Skills"},
		{"Journal every morning before work", "habit", "Lifestyle"},
		{"Build and launch my portfolio site", "project", "Career"},
		{"Be more present with my family", "other", "Personal"},
	}
	for _, c := range cases {
		res, err := env.Engine.Intake(env.Ctx, "alice", c.text, nil)
		if err != nil {
			t.Fatalf("intake %q: %v", c.text, err)
		}
		if res.Type != c.rtype || res.Category != c.category {
			t.Fatalf("%q classified as %s/%s, want %s/%s", c.text, res.Type, res.Category, c.rtype, c.category)
		}
		if res.Status != "draft" {
			t.Fatalf("new resolution should be draft, got %s", res.Status)
		}
		if res.DurationWeeks != 8 {
			t.Fatalf("default duration = %d, want 8", res.DurationWeeks)
		}
	}
}

func TestIntakeValidationAndClamping(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.Intake(env.Ctx, "alice", "hi", nil)
	var verr engine.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error for short goal, got %v", err)
	}

	weeks := 100
	res, err := env.Engine.Intake(env.Ctx, "alice", "Run a marathon next year", &weeks)
	if err != nil {
		t.Fatal(err)
	}
	if res.DurationWeeks != 52 {
		t.Fatalf("duration clamped to %d, want 52", res.DurationWeeks)
	}
	weeks = 1
	res, err = env.Engine.Intake(env.Ctx, "alice", "Run a marathon next year", &weeks)
	if err != nil {
		t.Fatal(err)
	}
	if res.DurationWeeks != 4 {
		t.Fatalf("duration clamped to %d, want 4", res.DurationWeeks)
	}
}

func TestDecomposeDeterministic(t *testing.T) {
	env := newTestEnv(t)
	res, err := env.Engine.Intake(env.Ctx, "alice", "Learn guitar and play one full song", nil)
	if err != nil {
		t.Fatal(err)
	}
	plan1, tasks1, err := env.Engine.Decompose(env.Ctx, "alice", res.ID, nil, false)
	if err != nil {
		t.Fatalf("first decompose: %v", err)
	}
	if len(plan1) != 8 {
		t.Fatalf("plan has %d weeks, want 8", len(plan1))
	}
	if len(tasks1) != 5 {
		t.Fatalf("week-1 has %d tasks, want 5", len(tasks1))
	}
	for _, task := range tasks1 {
		if !task.Draft {
			t.Fatalf("task %q should be a draft", task.Title)
		}
		if task.ScheduledDay == nil || task.ScheduledTime == nil {
			t.Fatalf("task %q missing schedule", task.Title)
		}
	}

	// A second call without regenerate is a pure read.
	plan2, tasks2, err := env.Engine.Decompose(env.Ctx, "alice", res.ID, nil, false)
	if err != nil {
		t.Fatalf("second decompose: %v", err)
	}
	if len(plan2) != len(plan1) {
		t.Fatalf("plan changed size: %d vs %d", len(plan2), len(plan1))
	}
	want := map[string]bool{}
	for _, task := range tasks1 {
		want[task.ID] = true
	}
	if len(tasks2) != len(tasks1) {
		t.Fatalf("tasks duplicated: %d vs %d", len(tasks2), len(tasks1))
	}
	for _, task := range tasks2 {
		if !want[task.ID] {
			t.Fatalf("second call produced new task %s", task.ID)
		}
	}
}

func TestDecomposeWeeksOverride(t *testing.T) {
	env := newTestEnv(t)
	res, err := env.Engine.Intake(env.Ctx, "alice", "Learn guitar and play one full song", nil)
	if err != nil {
		t.Fatal(err)
	}
	for _, bad := range []int{3, 13} {
		w := bad
		var verr engine.ValidationError
		if _, _, err := env.Engine.Decompose(env.Ctx, "alice", res.ID, &w, false); !errors.As(err, &verr) {
			t.Fatalf("weeks=%d should fail validation, got %v", bad, err)
		}
	}
	w := 4
	plan, _, err := env.Engine.Decompose(env.Ctx, "alice", res.ID, &w, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(plan) != 4 {
		t.Fatalf("plan has %d weeks, want 4", len(plan))
	}
	if plan[0].Week != 1 || plan[3].Week != 4 {
		t.Fatalf("plan weeks not sequential: %+v", plan)
	}
}

func TestApproveAcceptActivates(t *testing.T) {
	env := newTestEnv(t)
	res, err := env.Engine.Intake(env.Ctx, "alice", "Learn guitar and play one full song", nil)
	if err != nil {
		t.Fatal(err)
	}
	_, drafts, err := env.Engine.Decompose(env.Ctx, "alice", res.ID, nil, false)
	if err != nil {
		t.Fatal(err)
	}
	title := "Practice scales instead"
	edits := []engine.TaskEdit{{TaskID: drafts[0].ID, Title: &title}}
	result, err := env.Engine.Approve(env.Ctx, "alice", res.ID, "accept", edits)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if result.Resolution.Status != "active" {
		t.Fatalf("status = %s, want active", result.Resolution.Status)
	}
	if len(result.ActivatedTasks) != len(drafts) {
		t.Fatalf("activated %d tasks, want %d", len(result.ActivatedTasks), len(drafts))
	}
	edited := false
	for _, task := range result.ActivatedTasks {
		if task.Draft {
			t.Fatalf("task %q still draft after accept", task.Title)
		}
		if task.ID == drafts[0].ID && task.Title == title {
			edited = true
		}
	}
	if !edited {
		t.Fatalf("edit was not applied")
	}

	entry, err := env.Engine.Repo.LatestAction(env.Ctx, "alice", domain.ActionResolutionApproved)
	if err != nil {
		t.Fatalf("approval entry: %v", err)
	}
	if !entry.UndoAvailable {
		t.Fatalf("approval entry should be undoable")
	}

	// Any further decision against an active resolution is a no-op.
	again, err := env.Engine.Approve(env.Ctx, "alice", res.ID, "reject", nil)
	if err != nil {
		t.Fatalf("repeat decision: %v", err)
	}
	if again.Resolution.Status != "active" {
		t.Fatalf("repeat decision changed status to %s", again.Resolution.Status)
	}
}

func TestApproveRejectKeepsDraft(t *testing.T) {
	env := newTestEnv(t)
	res, err := env.Engine.Intake(env.Ctx, "alice", "Learn guitar and play one full song", nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := env.Engine.Decompose(env.Ctx, "alice", res.ID, nil, false); err != nil {
		t.Fatal(err)
	}
	result, err := env.Engine.Approve(env.Ctx, "alice", res.ID, "reject", nil)
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if result.Resolution.Status != "draft" {
		t.Fatalf("reject should leave the resolution draft, got %s", result.Resolution.Status)
	}
	if _, err := env.Engine.Repo.LatestAction(env.Ctx, "alice", domain.ActionResolutionRejected); err != nil {
		t.Fatalf("rejection entry: %v", err)
	}
}

func TestApproveUnknownEditRejected(t *testing.T) {
	env := newTestEnv(t)
	res, err := env.Engine.Intake(env.Ctx, "alice", "Learn guitar and play one full song", nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := env.Engine.Decompose(env.Ctx, "alice", res.ID, nil, false); err != nil {
		t.Fatal(err)
	}
	title := "x"
	_, err = env.Engine.Approve(env.Ctx, "alice", res.ID, "accept", []engine.TaskEdit{{TaskID: "nope", Title: &title}})
	var verr engine.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error for unknown task edit, got %v", err)
	}
	got, err := env.Engine.Repo.GetResolution(env.Ctx, "alice", res.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != "draft" {
		t.Fatalf("failed accept must not activate, got %s", got.Status)
	}
}

func TestWeeklyPlanIdempotent(t *testing.T) {
	env := newTestEnv(t)
	clock := testNow
	env.Engine.Now = func() time.Time { return clock }
	activeResolution(t, env, "Learn guitar and play one full song")

	first, err := env.Engine.RunWeeklyPlan(env.Ctx, "alice", false)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if first.Skipped || first.Reused {
		t.Fatalf("first run should write a fresh entry: %+v", first)
	}
	payload, err := engine.DecodeWeeklyPayload(first.Entry)
	if err != nil {
		t.Fatal(err)
	}
	if payload.Week.Start != "2024-01-22" || payload.Week.End != "2024-01-28" {
		t.Fatalf("snapshot targets %s..%s, want the upcoming week", payload.Week.Start, payload.Week.End)
	}
	if n := len(payload.SuggestedTasks); n < 3 || n > 5 {
		t.Fatalf("suggested %d tasks, want 3..5", n)
	}
	if len(payload.CreatedTaskIDs) != len(payload.SuggestedTasks) {
		t.Fatalf("created %d tasks for %d suggestions", len(payload.CreatedTaskIDs), len(payload.SuggestedTasks))
	}
	if payload.MicroResolution.Title == "" {
		t.Fatalf("missing micro-resolution")
	}

	second, err := env.Engine.RunWeeklyPlan(env.Ctx, "alice", false)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if !second.Reused || second.Entry.ID != first.Entry.ID {
		t.Fatalf("second run should return the existing entry, got %+v", second)
	}

	clock = clock.Add(time.Minute)
	forced, err := env.Engine.RunWeeklyPlan(env.Ctx, "alice", true)
	if err != nil {
		t.Fatalf("forced run: %v", err)
	}
	if forced.Reused || forced.Entry.ID == first.Entry.ID {
		t.Fatalf("force should append a new entry")
	}
	// Latest wins after a forced regeneration.
	latest, err := env.Engine.GetLatestWeeklyPlan(env.Ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if latest.ID != forced.Entry.ID {
		t.Fatalf("latest = %s, want forced entry %s", latest.ID, forced.Entry.ID)
	}
}

func TestWeeklyPlanSkippedWhenPaused(t *testing.T) {
	env := newTestEnv(t)
	activeResolution(t, env, "Learn guitar and play one full song")
	_, err := env.Engine.UpdatePreferences(env.Ctx, "alice", domain.Preferences{
		CoachingPaused: true, WeeklyPlansEnabled: true, InterventionsEnabled: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	res, err := env.Engine.RunWeeklyPlan(env.Ctx, "alice", false)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Skipped || res.Reason != engine.ReasonCoachingPaused {
		t.Fatalf("expected pause skip, got %+v", res)
	}
	// Interventions honor the same pause.
	iv, err := env.Engine.RunInterventions(env.Ctx, "alice", false)
	if err != nil {
		t.Fatal(err)
	}
	if !iv.Skipped || iv.Reason != engine.ReasonCoachingPaused {
		t.Fatalf("expected pause skip for interventions, got %+v", iv)
	}
}

func TestWeeklyPlansDisabledFlag(t *testing.T) {
	env := newTestEnv(t)
	activeResolution(t, env, "Learn guitar and play one full song")
	_, err := env.Engine.UpdatePreferences(env.Ctx, "alice", domain.Preferences{
		WeeklyPlansEnabled: false, InterventionsEnabled: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	res, err := env.Engine.RunWeeklyPlan(env.Ctx, "alice", false)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Skipped || res.Reason != engine.ReasonWeeklyPlansDisabled {
		t.Fatalf("expected weekly_plans_disabled skip, got %+v", res)
	}
	// Interventions remain enabled independently.
	iv, err := env.Engine.RunInterventions(env.Ctx, "alice", false)
	if err != nil {
		t.Fatal(err)
	}
	if iv.Skipped {
		t.Fatalf("interventions should still run: %+v", iv)
	}
}

func TestInterventionFlagsSlippedWeek(t *testing.T) {
	env := newTestEnv(t)
	_, tasks := activeResolution(t, env, "Learn guitar and play one full song")
	if len(tasks) != 5 {
		t.Fatalf("expected 5 activated tasks, got %d", len(tasks))
	}

	// Nothing completed yet, so the completion rate sits at zero.
	run, err := env.Engine.RunInterventions(env.Ctx, "alice", false)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	payload, err := engine.DecodeInterventionPayload(run.Entry)
	if err != nil {
		t.Fatal(err)
	}
	if !payload.Flagged {
		t.Fatalf("week should be flagged: %+v", payload)
	}
	if payload.Card == nil || len(payload.Card.Options) == 0 {
		t.Fatalf("flagged week must carry a card with options")
	}
	keys := map[string]bool{}
	for _, opt := range payload.Card.Options {
		keys[opt.Key] = true
	}
	for _, want := range []string{"reduce_scope", "reschedule", "get_back_on_track", "reflect", "adjust_goal", "pause"} {
		if !keys[want] {
			t.Fatalf("missing option %s", want)
		}
	}
}

func TestInterventionCleanWeekNotFlagged(t *testing.T) {
	env := newTestEnv(t)
	_, tasks := activeResolution(t, env, "Learn guitar and play one full song")
	for _, task := range tasks {
		if _, err := env.Engine.CompleteTask(env.Ctx, "alice", task.ID, true); err != nil {
			t.Fatalf("complete: %v", err)
		}
	}
	run, err := env.Engine.RunInterventions(env.Ctx, "alice", false)
	if err != nil {
		t.Fatal(err)
	}
	payload, err := engine.DecodeInterventionPayload(run.Entry)
	if err != nil {
		t.Fatal(err)
	}
	if payload.Flagged || payload.Card != nil {
		t.Fatalf("clean week must not be flagged: %+v", payload)
	}
	// No card means nothing to respond to.
	_, err = env.Engine.RespondIntervention(env.Ctx, "alice", "reduce_scope")
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRespondReduceScope(t *testing.T) {
	env := newTestEnv(t)
	activeResolution(t, env, "Learn guitar and play one full song")
	if _, err := env.Engine.RunInterventions(env.Ctx, "alice", false); err != nil {
		t.Fatal(err)
	}
	result, err := env.Engine.RespondIntervention(env.Ctx, "alice", "reduce_scope")
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if len(result.Changes) != 2 {
		t.Fatalf("5 pending tasks should yield 2 deferrals, got %v", result.Changes)
	}
	if result.Snapshot == nil || result.Snapshot.TotalTasks != 3 {
		t.Fatalf("post-change snapshot should count 3 scheduled tasks: %+v", result.Snapshot)
	}
	if _, err := env.Engine.Repo.LatestAction(env.Ctx, "alice", domain.ActionInterventionExecuted); err != nil {
		t.Fatalf("executed entry: %v", err)
	}
}

func TestRespondRejectsUnofferedOption(t *testing.T) {
	env := newTestEnv(t)
	activeResolution(t, env, "Learn guitar and play one full song")
	if _, err := env.Engine.RunInterventions(env.Ctx, "alice", false); err != nil {
		t.Fatal(err)
	}
	_, err := env.Engine.RespondIntervention(env.Ctx, "alice", "give_up")
	var verr engine.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestRespondPauseStopsCoaching(t *testing.T) {
	env := newTestEnv(t)
	activeResolution(t, env, "Learn guitar and play one full song")
	if _, err := env.Engine.RunInterventions(env.Ctx, "alice", false); err != nil {
		t.Fatal(err)
	}
	result, err := env.Engine.RespondIntervention(env.Ctx, "alice", "pause")
	if err != nil {
		t.Fatal(err)
	}
	if result.Snapshot != nil {
		t.Fatalf("pause should not recompute a snapshot")
	}
	prefs, err := env.Engine.GetPreferences(env.Ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if !prefs.CoachingPaused {
		t.Fatalf("pause option did not set the flag")
	}
	res, err := env.Engine.RunWeeklyPlan(env.Ctx, "alice", false)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Skipped {
		t.Fatalf("weekly plan should skip after pause")
	}
}

func TestRespondAdjustGoalExtendsRunway(t *testing.T) {
	env := newTestEnv(t)
	res, _ := activeResolution(t, env, "Learn guitar and play one full song")
	if _, err := env.Engine.RunInterventions(env.Ctx, "alice", false); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.RespondIntervention(env.Ctx, "alice", "adjust_goal"); err != nil {
		t.Fatal(err)
	}
	got, err := env.Engine.Repo.GetResolution(env.Ctx, "alice", res.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.DurationWeeks != res.DurationWeeks+2 {
		t.Fatalf("duration = %d, want %d", got.DurationWeeks, res.DurationWeeks+2)
	}
}

func TestAgentLogPagination(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 5; i++ {
		_, err := env.Engine.UpdatePreferences(env.Ctx, "alice", domain.Preferences{
			WeeklyPlansEnabled: i%2 == 0, InterventionsEnabled: true,
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	seen := map[string]bool{}
	cursor := ""
	pages := 0
	for {
		page, err := env.Engine.ListAgentLog(env.Ctx, "alice", cursor, 2, "")
		if err != nil {
			t.Fatalf("page %d: %v", pages, err)
		}
		for _, entry := range page.Items {
			if seen[entry.ID] {
				t.Fatalf("entry %s returned twice", entry.ID)
			}
			seen[entry.ID] = true
		}
		pages++
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	if len(seen) != 5 {
		t.Fatalf("walk saw %d entries, want 5", len(seen))
	}
	if pages != 3 {
		t.Fatalf("walk took %d pages, want 3", pages)
	}
}

func TestAgentLogPaginationStableAcrossAppends(t *testing.T) {
	env := newTestEnv(t)
	clock := testNow
	env.Engine.Now = func() time.Time { return clock }
	for i := 0; i < 5; i++ {
		clock = clock.Add(time.Minute)
		if _, err := env.Engine.UpdatePreferences(env.Ctx, "alice", domain.Preferences{
			WeeklyPlansEnabled: i%2 == 0, InterventionsEnabled: true,
		}); err != nil {
			t.Fatal(err)
		}
	}
	all, err := env.Engine.ListAgentLog(env.Ctx, "alice", "", 50, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(all.Items) != 5 {
		t.Fatalf("setup wrote %d entries, want 5", len(all.Items))
	}

	first, err := env.Engine.ListAgentLog(env.Ctx, "alice", "", 2, "")
	if err != nil {
		t.Fatal(err)
	}
	seen := map[string]int{}
	for _, entry := range first.Items {
		seen[entry.ID]++
	}

	// A new entry lands between page reads; the walk from the cursor
	// must still cover the original entries exactly once.
	clock = clock.Add(time.Minute)
	if _, err := env.Engine.UpdatePreferences(env.Ctx, "alice", domain.Preferences{InterventionsEnabled: true}); err != nil {
		t.Fatal(err)
	}

	cursor := first.NextCursor
	for cursor != "" {
		page, err := env.Engine.ListAgentLog(env.Ctx, "alice", cursor, 2, "")
		if err != nil {
			t.Fatal(err)
		}
		for _, entry := range page.Items {
			seen[entry.ID]++
		}
		cursor = page.NextCursor
	}
	for _, entry := range all.Items {
		if seen[entry.ID] != 1 {
			t.Fatalf("entry %s seen %d times", entry.ID, seen[entry.ID])
		}
	}
	if len(seen) != len(all.Items) {
		t.Fatalf("walk saw %d entries, want %d", len(seen), len(all.Items))
	}
}

func TestAgentLogBadInput(t *testing.T) {
	env := newTestEnv(t)
	var verr engine.ValidationError
	if _, err := env.Engine.ListAgentLog(env.Ctx, "alice", "!!!", 10, ""); !errors.As(err, &verr) {
		t.Fatalf("malformed cursor should fail validation, got %v", err)
	}
	if _, err := env.Engine.ListAgentLog(env.Ctx, "alice", "", 1000, ""); !errors.As(err, &verr) {
		t.Fatalf("oversized limit should fail validation, got %v", err)
	}
}

func TestAgentLogTypeFilter(t *testing.T) {
	env := newTestEnv(t)
	activeResolution(t, env, "Learn guitar and play one full song")
	if _, err := env.Engine.RunWeeklyPlan(env.Ctx, "alice", false); err != nil {
		t.Fatal(err)
	}
	page, err := env.Engine.ListAgentLog(env.Ctx, "alice", "", 50, domain.ActionWeeklyPlanGenerated)
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Items) != 1 {
		t.Fatalf("filter returned %d entries, want 1", len(page.Items))
	}
	if page.Items[0].ActionType != domain.ActionWeeklyPlanGenerated {
		t.Fatalf("wrong action type %s", page.Items[0].ActionType)
	}
}

func TestUpdateTaskValidation(t *testing.T) {
	env := newTestEnv(t)
	_, tasks := activeResolution(t, env, "Learn guitar and play one full song")
	bad := "25:99"
	_, err := env.Engine.UpdateTask(env.Ctx, "alice", tasks[0].ID, engine.TaskUpdate{ScheduledTime: &bad})
	var verr engine.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error for bad time, got %v", err)
	}
	_, err = env.Engine.UpdateTask(env.Ctx, "alice", "missing", engine.TaskUpdate{})
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDecomposeAfterActivationIsReadOnly(t *testing.T) {
	env := newTestEnv(t)
	res, tasks := activeResolution(t, env, "Learn guitar and play one full song")

	plan, got, err := env.Engine.Decompose(env.Ctx, "alice", res.ID, nil, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(plan) != 8 || len(got) != len(tasks) {
		t.Fatalf("read back %d milestones and %d tasks, want 8 and %d", len(plan), len(got), len(tasks))
	}
	for _, tk := range got {
		if tk.Draft {
			t.Fatalf("active resolution returned draft task %s", tk.ID)
		}
	}

	// Accepting with no prior plan is legal; a later decompose must not
	// mint draft tasks nothing can ever approve.
	bare, err := env.Engine.Intake(env.Ctx, "alice", "Journal every morning before work", nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Approve(env.Ctx, "alice", bare.ID, "accept", nil); err != nil {
		t.Fatal(err)
	}
	plan, got, err = env.Engine.Decompose(env.Ctx, "alice", bare.ID, nil, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(plan) != 0 || len(got) != 0 {
		t.Fatalf("plan-less active resolution returned %d milestones and %d tasks", len(plan), len(got))
	}
	draft := true
	drafts, err := env.Engine.ListTasks(env.Ctx, "alice", engine.TaskListOptions{ResolutionID: bare.ID, Draft: &draft})
	if err != nil {
		t.Fatal(err)
	}
	if len(drafts) != 0 {
		t.Fatalf("decompose left %d draft tasks under an active resolution", len(drafts))
	}
	var verr engine.ValidationError
	if _, _, err := env.Engine.Decompose(env.Ctx, "alice", bare.ID, nil, true); !errors.As(err, &verr) {
		t.Fatalf("regenerate on active should fail validation, got %v", err)
	}
}

func TestWeeklyPlanCarriesOverPendingTasks(t *testing.T) {
	env := newTestEnv(t)
	_, tasks := activeResolution(t, env, "Learn guitar and play one full song")

	res, err := env.Engine.RunWeeklyPlan(env.Ctx, "alice", false)
	if err != nil {
		t.Fatal(err)
	}
	payload, err := engine.DecodeWeeklyPayload(res.Entry)
	if err != nil {
		t.Fatal(err)
	}
	titles := map[string]bool{}
	for _, tk := range tasks {
		titles[tk.Title] = true
	}
	carried := 0
	for _, s := range payload.SuggestedTasks {
		if !s.CarriedOver {
			continue
		}
		carried++
		if !titles[s.Title] {
			t.Fatalf("carried-over suggestion %q matches no existing task", s.Title)
		}
		if s.ScheduledDay < payload.Week.Start {
			t.Fatalf("carried-over task scheduled before the target week: %s", s.ScheduledDay)
		}
	}
	if carried == 0 {
		t.Fatalf("no carried-over tasks in %+v", payload.SuggestedTasks)
	}
}

func TestWeeklyPlanConcurrentRunnersShareSnapshot(t *testing.T) {
	env := newTestEnv(t)
	activeResolution(t, env, "Learn guitar and play one full song")

	var wg sync.WaitGroup
	results := make([]engine.SnapshotResult, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = env.Engine.RunWeeklyPlan(env.Ctx, "alice", false)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("runner %d: %v", i, err)
		}
	}
	if results[0].Entry.ID != results[1].Entry.ID {
		t.Fatalf("runners produced different snapshots: %s vs %s", results[0].Entry.ID, results[1].Entry.ID)
	}
	if results[0].Reused == results[1].Reused {
		t.Fatalf("exactly one runner should reuse the other's snapshot: %+v %+v", results[0], results[1])
	}
}

func TestUndoApprovalRevertsActivation(t *testing.T) {
	env := newTestEnv(t)
	res, tasks := activeResolution(t, env, "Learn guitar and play one full song")

	page, err := env.Engine.ListAgentLog(env.Ctx, "alice", "", 50, domain.ActionResolutionApproved)
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Items) != 1 || !page.Items[0].UndoAvailable {
		t.Fatalf("expected one undoable approval entry, got %+v", page.Items)
	}

	entry, err := env.Engine.UndoAction(env.Ctx, "alice", page.Items[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if entry.UndoneAt == nil {
		t.Fatalf("undo did not stamp undone_at")
	}
	got, err := env.Engine.Repo.GetResolution(env.Ctx, "alice", res.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != "draft" {
		t.Fatalf("resolution status = %s, want draft", got.Status)
	}
	draft := true
	drafts, err := env.Engine.ListTasks(env.Ctx, "alice", engine.TaskListOptions{ResolutionID: res.ID, Draft: &draft})
	if err != nil {
		t.Fatal(err)
	}
	if len(drafts) != len(tasks) {
		t.Fatalf("%d tasks back in draft, want %d", len(drafts), len(tasks))
	}

	var verr engine.ValidationError
	if _, err := env.Engine.UndoAction(env.Ctx, "alice", entry.ID); !errors.As(err, &verr) {
		t.Fatalf("second undo should fail validation, got %v", err)
	}

	// The plan is editable again and can be re-accepted.
	result, err := env.Engine.Approve(env.Ctx, "alice", res.ID, "accept", nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.Resolution.Status != "active" || len(result.ActivatedTasks) != len(tasks) {
		t.Fatalf("re-accept gave %s with %d tasks", result.Resolution.Status, len(result.ActivatedTasks))
	}
}
