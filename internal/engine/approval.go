package engine

import (
	"context"
	"time"

	"sarthi/internal/domain"
	"sarthi/internal/ledger"
	"sarthi/internal/repo"
)

// TaskEdit overrides fields of one draft task during approval. Only
// the non-nil fields are applied.
type TaskEdit struct {
	TaskID          string  `json:"task_id"`
	Title           *string `json:"title,omitempty"`
	ScheduledDay    *string `json:"scheduled_day,omitempty"`
	ScheduledTime   *string `json:"scheduled_time,omitempty"`
	DurationMinutes *int    `json:"duration_minutes,omitempty"`
}

type ApprovalResult struct {
	Resolution     domain.Resolution
	ActivatedTasks []domain.Task
}

// Approve runs one decision through the draft/active state machine.
// Decisions against an already-active resolution are idempotent no-ops
// returning current state, so retries never error.
func (e Engine) Approve(ctx context.Context, owner, resolutionID, decision string, edits []TaskEdit) (ApprovalResult, error) {
	switch decision {
	case "accept", "reject", "regenerate":
	default:
		return ApprovalResult{}, validationErr("decision", "must be accept, reject or regenerate")
	}

	res, err := e.Repo.GetResolution(ctx, owner, resolutionID)
	if err != nil {
		return ApprovalResult{}, err
	}
	if res.Status == "active" {
		tasks, err := e.activeTasks(ctx, owner, res.ID)
		if err != nil {
			return ApprovalResult{}, err
		}
		return ApprovalResult{Resolution: res, ActivatedTasks: tasks}, nil
	}

	switch decision {
	case "accept":
		return e.accept(ctx, res, edits)
	case "reject":
		return e.reject(ctx, res)
	default:
		_, _, err := e.Decompose(ctx, owner, res.ID, nil, true)
		if err != nil {
			return ApprovalResult{}, err
		}
		res, err = e.Repo.GetResolution(ctx, owner, res.ID)
		return ApprovalResult{Resolution: res}, err
	}
}

func (e Engine) accept(ctx context.Context, res domain.Resolution, edits []TaskEdit) (ApprovalResult, error) {
	now := e.nowRFC3339()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return ApprovalResult{}, err
	}
	defer tx.Rollback()

	// Re-read inside the tx; a concurrent accept may have committed
	// since the outer read.
	res, err = e.Repo.GetResolutionTx(ctx, tx, res.Owner, res.ID)
	if err != nil {
		return ApprovalResult{}, err
	}
	if res.Status == "active" {
		notDraft := false
		tasks, err := e.Repo.ListTasksTx(ctx, tx, repo.TaskFilters{Owner: res.Owner, ResolutionID: res.ID, Draft: &notDraft})
		if err != nil {
			return ApprovalResult{}, err
		}
		return ApprovalResult{Resolution: res, ActivatedTasks: tasks}, nil
	}

	draft := true
	drafts, err := e.Repo.ListTasksTx(ctx, tx, repo.TaskFilters{Owner: res.Owner, ResolutionID: res.ID, Draft: &draft})
	if err != nil {
		return ApprovalResult{}, err
	}
	byID := make(map[string]*domain.Task, len(drafts))
	for i := range drafts {
		byID[drafts[i].ID] = &drafts[i]
	}
	for _, edit := range edits {
		t, ok := byID[edit.TaskID]
		if !ok {
			return ApprovalResult{}, validationErr("task_edits", "task %s is not a draft of this resolution", edit.TaskID)
		}
		if err := applyEdit(t, edit); err != nil {
			return ApprovalResult{}, err
		}
	}

	var activated []domain.Task
	for i := range drafts {
		drafts[i].Draft = false
		drafts[i].UpdatedAt = now
		if err := e.Repo.UpdateTask(ctx, tx, drafts[i]); err != nil {
			return ApprovalResult{}, err
		}
		activated = append(activated, drafts[i])
	}
	if err := e.Repo.UpdateResolutionStatus(ctx, tx, res.Owner, res.ID, "active", now); err != nil {
		return ApprovalResult{}, err
	}
	payload := domain.ApprovalPayload{ResolutionID: res.ID, Title: res.Title, Decision: "accept", Tasks: activated}
	if _, err := e.writer().Append(ctx, tx, res.Owner, domain.ActionResolutionApproved, payload, ledger.WithUndo()); err != nil {
		return ApprovalResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return ApprovalResult{}, err
	}
	res.Status = "active"
	res.UpdatedAt = now
	return ApprovalResult{Resolution: res, ActivatedTasks: activated}, nil
}

func (e Engine) reject(ctx context.Context, res domain.Resolution) (ApprovalResult, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return ApprovalResult{}, err
	}
	defer tx.Rollback()
	payload := domain.ApprovalPayload{ResolutionID: res.ID, Title: res.Title, Decision: "reject"}
	if _, err := e.writer().Append(ctx, tx, res.Owner, domain.ActionResolutionRejected, payload); err != nil {
		return ApprovalResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return ApprovalResult{}, err
	}
	return ApprovalResult{Resolution: res}, nil
}

func applyEdit(t *domain.Task, edit TaskEdit) error {
	if edit.Title != nil {
		if *edit.Title == "" {
			return validationErr("task_edits", "title must not be empty")
		}
		t.Title = *edit.Title
	}
	if edit.ScheduledDay != nil {
		if _, err := time.Parse(dayFormat, *edit.ScheduledDay); err != nil {
			return validationErr("task_edits", "scheduled_day %q is not a valid date", *edit.ScheduledDay)
		}
		t.ScheduledDay = edit.ScheduledDay
	}
	if edit.ScheduledTime != nil {
		if _, err := time.Parse(timeFormat, *edit.ScheduledTime); err != nil {
			return validationErr("task_edits", "scheduled_time %q is not a valid HH:MM time", *edit.ScheduledTime)
		}
		t.ScheduledTime = edit.ScheduledTime
	}
	if edit.DurationMinutes != nil {
		if *edit.DurationMinutes < 1 {
			return validationErr("task_edits", "duration_minutes must be positive")
		}
		t.DurationMinutes = edit.DurationMinutes
	}
	return nil
}

func (e Engine) activeTasks(ctx context.Context, owner, resolutionID string) ([]domain.Task, error) {
	draft := false
	return e.Repo.ListTasks(ctx, repo.TaskFilters{Owner: owner, ResolutionID: resolutionID, Draft: &draft})
}
