package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"sarthi/internal/domain"
	"sarthi/internal/repo"
)

const (
	minPlanWeeks = 4
	maxPlanWeeks = 12
)

type phaseTemplate struct {
	focus    string
	criteria []string
}

// Four rolling phases; plans longer than four weeks repeat the middle
// phases and always close on consolidation.
var planPhases = []phaseTemplate{
	{"Lay the foundation for %q", []string{"First session completed", "Obstacles written down", "Time blocked in calendar"}},
	{"Build consistency on %q", []string{"At least 3 sessions this week", "No more than one skipped day"}},
	{"Expand effort on %q", []string{"Session length or difficulty increased", "One stretch attempt made"}},
	{"Consolidate progress on %q", []string{"Week reviewed against success criteria", "Next phase sketched"}},
}

type taskTemplate struct {
	title    string
	occurs   []int // day offsets from Monday
	duration int   // minutes
}

var weekOneTemplates = map[string][]taskTemplate{
	"habit": {
		{"Do %q", []int{0, 2, 4}, 15},
		{"Prepare tomorrow's trigger for %q", []int{5}, 10},
		{"Review the week", []int{6}, 15},
	},
	"health": {
		{"Session: %q", []int{0, 2, 4}, 30},
		{"Plan meals and rest around %q", []int{5}, 20},
		{"Review the week", []int{6}, 15},
	},
	"learning": {
		{"Practice: %q", []int{0, 2, 4}, 30},
		{"Find one resource for %q", []int{5}, 20},
		{"Review notes", []int{6}, 15},
	},
	"project": {
		{"Work block: %q", []int{0, 2, 4}, 45},
		{"Define next milestone for %q", []int{5}, 30},
		{"Review progress", []int{6}, 15},
	},
	"finance": {
		{"Track spending for %q", []int{0, 2, 4}, 10},
		{"Review accounts", []int{5}, 20},
		{"Set next week's budget", []int{6}, 15},
	},
	"other": {
		{"Work on %q", []int{0, 2, 4}, 30},
		{"Remove one blocker for %q", []int{5}, 20},
		{"Review the week", []int{6}, 15},
	},
}

func preferredTime(rtype string) string {
	switch rtype {
	case "habit", "health":
		return "07:30"
	default:
		return "19:00"
	}
}

// Decompose expands a resolution into a milestone plan plus week-1
// draft tasks. Derived only from the stored resolution, so two calls
// without regenerate return the same artifacts: the second call takes
// the read path and never duplicates.
func (e Engine) Decompose(ctx context.Context, owner, resolutionID string, weeksOverride *int, regenerate bool) ([]domain.Milestone, []domain.Task, error) {
	res, err := e.Repo.GetResolution(ctx, owner, resolutionID)
	if err != nil {
		return nil, nil, err
	}
	if weeksOverride != nil && (*weeksOverride < minPlanWeeks || *weeksOverride > maxPlanWeeks) {
		return nil, nil, validationErr("weeks", "must be between %d and %d", minPlanWeeks, maxPlanWeeks)
	}
	if res.Status == "active" {
		if regenerate {
			return nil, nil, validationErr("regenerate", "resolution is already active")
		}
		// Active resolutions are read-only here. New drafts under an
		// active resolution would be unapprovable forever.
		tasks, err := e.activeTasks(ctx, owner, res.ID)
		if err != nil {
			return nil, nil, err
		}
		return res.Plan, tasks, nil
	}

	draft := true
	existing, err := e.Repo.ListTasks(ctx, repo.TaskFilters{Owner: owner, ResolutionID: resolutionID, Draft: &draft})
	if err != nil {
		return nil, nil, err
	}
	if !regenerate && len(res.Plan) > 0 && len(existing) > 0 {
		return res.Plan, existing, nil
	}

	weeks := clampInt(res.DurationWeeks, minPlanWeeks, maxPlanWeeks)
	if weeksOverride != nil {
		weeks = *weeksOverride
	}
	plan := buildPlan(res.Title, res.Type, weeks)
	tasks := e.buildWeekOne(res)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback()
	if err := e.Repo.ReplaceMilestones(ctx, tx, res.ID, plan); err != nil {
		return nil, nil, err
	}
	if err := e.Repo.DeleteDraftTasks(ctx, tx, owner, res.ID); err != nil {
		return nil, nil, err
	}
	for _, t := range tasks {
		if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
			return nil, nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}
	return plan, tasks, nil
}

func buildPlan(title, rtype string, weeks int) []domain.Milestone {
	plan := make([]domain.Milestone, 0, weeks)
	for w := 1; w <= weeks; w++ {
		tmpl := phaseFor(w, weeks)
		criteria := make([]string, len(tmpl.criteria))
		copy(criteria, tmpl.criteria)
		plan = append(plan, domain.Milestone{
			Week:            w,
			Focus:           fmt.Sprintf(tmpl.focus, title),
			SuccessCriteria: criteria,
		})
	}
	return plan
}

func phaseFor(week, weeks int) phaseTemplate {
	switch {
	case week == 1:
		return planPhases[0]
	case week == weeks:
		return planPhases[3]
	default:
		// Alternate consistency and expansion through the middle.
		return planPhases[1+(week%2)]
	}
}

func (e Engine) buildWeekOne(res domain.Resolution) []domain.Task {
	templates, ok := weekOneTemplates[res.Type]
	if !ok {
		templates = weekOneTemplates["other"]
	}
	created, err := time.Parse(time.RFC3339, res.CreatedAt)
	if err != nil {
		created = e.now().UTC()
	}
	weekStart := mondayOnOrAfter(created)
	now := e.nowRFC3339()
	tod := preferredTime(res.Type)

	maxSubstantial := e.Config.Planner.MaxSubstantialPerDay
	if maxSubstantial < 1 {
		maxSubstantial = 2
	}
	substantial := map[string]int{}
	taken := map[string]bool{}
	var tasks []domain.Task
	for _, tmpl := range templates {
		title := tmpl.title
		if strings.Contains(title, "%q") {
			title = fmt.Sprintf(tmpl.title, res.Title)
		}
		for _, offset := range tmpl.occurs {
			day := weekStart.AddDate(0, 0, offset)
			d, t := placeSlot(day.Format(dayFormat), tod, tmpl.duration, taken, substantial, maxSubstantial)
			dur := tmpl.duration
			id := uuid.NewString()
			rid := res.ID
			tasks = append(tasks, domain.Task{
				ID:              id,
				Owner:           res.Owner,
				ResolutionID:    &rid,
				Title:           title,
				ScheduledDay:    &d,
				ScheduledTime:   &t,
				DurationMinutes: &dur,
				Draft:           true,
				CreatedAt:       now,
				UpdatedAt:       now,
			})
		}
	}
	return tasks
}

// placeSlot nudges a proposed day/time by 30-minute steps until the
// slot is free, spilling to the next day when the day is saturated
// with substantial work.
func placeSlot(day, tod string, duration int, taken map[string]bool, substantial map[string]int, maxSubstantial int) (string, string) {
	for hops := 0; hops < 7; hops++ {
		if duration >= 30 && substantial[day] >= maxSubstantial {
			day = nextDay(day)
			continue
		}
		t := tod
		for taken[day+" "+t] {
			t = addMinutes(t, 30)
		}
		taken[day+" "+t] = true
		if duration >= 30 {
			substantial[day]++
		}
		return day, t
	}
	taken[day+" "+tod] = true
	return day, tod
}

func nextDay(day string) string {
	d, err := time.Parse(dayFormat, day)
	if err != nil {
		return day
	}
	return d.AddDate(0, 0, 1).Format(dayFormat)
}

func addMinutes(tod string, mins int) string {
	t, err := time.Parse(timeFormat, tod)
	if err != nil {
		return tod
	}
	return t.Add(time.Duration(mins) * time.Minute).Format(timeFormat)
}

func mondayOnOrAfter(t time.Time) time.Time {
	t = t.UTC().Truncate(24 * time.Hour)
	offset := (8 - int(t.Weekday())) % 7
	return t.AddDate(0, 0, offset)
}
