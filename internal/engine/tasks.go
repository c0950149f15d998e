package engine

import (
	"context"

	"sarthi/internal/domain"
	"sarthi/internal/repo"
)

// TaskUpdate mutates one owned task. Draft tasks stay editable too;
// approval flips their flag, not this path.
type TaskUpdate struct {
	Title           *string
	ScheduledDay    *string
	ScheduledTime   *string
	DurationMinutes *int
	Completed       *bool
	Note            *string
}

// UpdateTask applies a read-modify-write in one tx so concurrent edit
// and completion requests cannot drop each other's fields.
func (e Engine) UpdateTask(ctx context.Context, owner, taskID string, upd TaskUpdate) (domain.Task, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, owner, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	edit := TaskEdit{TaskID: taskID, Title: upd.Title, ScheduledDay: upd.ScheduledDay, ScheduledTime: upd.ScheduledTime, DurationMinutes: upd.DurationMinutes}
	if err := applyEdit(&t, edit); err != nil {
		return domain.Task{}, err
	}
	if upd.Completed != nil {
		t.Completed = *upd.Completed
	}
	if upd.Note != nil {
		t.Note = *upd.Note
	}
	t.UpdatedAt = e.nowRFC3339()
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// CompleteTask toggles the completion flag.
func (e Engine) CompleteTask(ctx context.Context, owner, taskID string, completed bool) (domain.Task, error) {
	return e.UpdateTask(ctx, owner, taskID, TaskUpdate{Completed: &completed})
}

type TaskListOptions struct {
	ResolutionID string
	WeekStart    string
	Draft        *bool
}

// ListTasks returns the owner's tasks, optionally narrowed to one
// resolution or one week.
func (e Engine) ListTasks(ctx context.Context, owner string, opts TaskListOptions) ([]domain.Task, error) {
	f := repo.TaskFilters{Owner: owner, ResolutionID: opts.ResolutionID, Draft: opts.Draft}
	if opts.WeekStart != "" {
		start, err := parseDay(opts.WeekStart)
		if err != nil {
			return nil, validationErr("week_start", "%q is not a valid date", opts.WeekStart)
		}
		f.ScheduledOnly = true
		f.DayFrom = opts.WeekStart
		f.DayTo = start.AddDate(0, 0, 6).Format(dayFormat)
	}
	return e.Repo.ListTasks(ctx, f)
}
