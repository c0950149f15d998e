package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"sarthi/internal/domain"
	"sarthi/internal/ledger"
	"sarthi/internal/repo"
)

const (
	defaultLogLimit = 50
	maxLogLimit     = 100
)

type ActionPage struct {
	Items      []domain.ActionEntry
	NextCursor string
}

// ListAgentLog pages the owner's ledger newest-first. The cursor is
// opaque to callers; a malformed one is a validation failure, never a
// silent empty page.
func (e Engine) ListAgentLog(ctx context.Context, owner, cursorToken string, limit int, actionType string) (ActionPage, error) {
	if limit == 0 {
		limit = defaultLogLimit
	}
	if limit < 1 || limit > maxLogLimit {
		return ActionPage{}, validationErr("limit", "must be between 1 and %d", maxLogLimit)
	}
	filters := repo.ActionFilters{Owner: owner, ActionType: actionType, Limit: limit + 1}
	if cursorToken != "" {
		cursor, err := ledger.DecodeCursor(cursorToken)
		if err != nil {
			return ActionPage{}, validationErr("cursor", "malformed cursor")
		}
		filters.CursorCreatedAt = cursor.CreatedAt
		filters.CursorID = cursor.ID
	}
	items, err := e.Repo.ListActionEntries(ctx, filters)
	if err != nil {
		return ActionPage{}, err
	}
	page := ActionPage{Items: items}
	if len(items) > limit {
		page.Items = items[:limit]
		page.NextCursor = ledger.EncodeCursor(items[limit-1])
	}
	return page, nil
}

// GetAgentLogItem fetches one entry; foreign ids read as absent.
func (e Engine) GetAgentLogItem(ctx context.Context, owner, id string) (domain.ActionEntry, error) {
	return e.Repo.GetActionEntry(ctx, owner, id)
}

// UndoAction reverses an undoable ledger entry. The entry is never
// rewritten; it gains an undone_at stamp and the rows the action
// touched go back to their pre-action state.
func (e Engine) UndoAction(ctx context.Context, owner, id string) (domain.ActionEntry, error) {
	entry, err := e.Repo.GetActionEntry(ctx, owner, id)
	if err != nil {
		return domain.ActionEntry{}, err
	}
	if !entry.UndoAvailable {
		return domain.ActionEntry{}, validationErr("id", "action %s cannot be undone", id)
	}
	if entry.UndoneAt != nil {
		return domain.ActionEntry{}, validationErr("id", "action %s was already undone", id)
	}

	now := e.nowRFC3339()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ActionEntry{}, err
	}
	defer tx.Rollback()
	// Rows-affected guard inside MarkActionUndone makes a double undo
	// race lose cleanly.
	if err := e.Repo.MarkActionUndone(ctx, tx, owner, id, now); err != nil {
		return domain.ActionEntry{}, err
	}
	if entry.ActionType == domain.ActionResolutionApproved {
		if err := e.revertApproval(ctx, tx, owner, entry, now); err != nil {
			return domain.ActionEntry{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.ActionEntry{}, err
	}
	entry.UndoneAt = &now
	return entry, nil
}

// revertApproval sends the resolution and the exact tasks the approval
// activated back to draft, so the plan can be edited and re-approved.
func (e Engine) revertApproval(ctx context.Context, tx *sql.Tx, owner string, entry domain.ActionEntry, now string) error {
	var p domain.ApprovalPayload
	if err := json.Unmarshal([]byte(entry.PayloadJSON), &p); err != nil {
		return fmt.Errorf("decode approval payload: %w", err)
	}
	if err := e.Repo.UpdateResolutionStatus(ctx, tx, owner, p.ResolutionID, "draft", now); err != nil {
		return err
	}
	for _, activated := range p.Tasks {
		t, err := e.Repo.GetTaskTx(ctx, tx, owner, activated.ID)
		if errors.Is(err, repo.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		t.Draft = true
		t.UpdatedAt = now
		if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
			return err
		}
	}
	return nil
}
