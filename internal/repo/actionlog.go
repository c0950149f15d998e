package repo

import (
	"context"
	"database/sql"
	"strings"

	"sarthi/internal/domain"
)

const actionCols = `id,owner,action_type,payload_json,reason,undo_available,undone_at,week_start,created_at`

func scanAction(scan func(...any) error) (domain.ActionEntry, error) {
	var e domain.ActionEntry
	var undoAvailable int
	var undoneAt, weekStart sql.NullString
	err := scan(&e.ID, &e.Owner, &e.ActionType, &e.PayloadJSON, &e.Reason, &undoAvailable, &undoneAt, &weekStart, &e.CreatedAt)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	if err != nil {
		return e, err
	}
	e.UndoAvailable = undoAvailable != 0
	if undoneAt.Valid {
		e.UndoneAt = &undoneAt.String
	}
	if weekStart.Valid {
		e.WeekStart = &weekStart.String
	}
	return e, nil
}

func (r Repo) InsertActionEntry(ctx context.Context, tx *sql.Tx, e domain.ActionEntry) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO agent_actions(`+actionCols+`) VALUES (?,?,?,?,?,?,?,?,?)`,
		e.ID, e.Owner, e.ActionType, e.PayloadJSON, e.Reason, boolInt(e.UndoAvailable), nullableStringPtr(e.UndoneAt), nullableStringPtr(e.WeekStart), e.CreatedAt)
	return err
}

func (r Repo) GetActionEntry(ctx context.Context, owner, id string) (domain.ActionEntry, error) {
	return scanAction(r.DB.QueryRowContext(ctx, `SELECT `+actionCols+` FROM agent_actions WHERE id=? AND owner=?`, id, owner).Scan)
}

// LatestActionForWeek is the idempotency lookup: the newest entry of the
// given type keyed to the given week start. Call inside the same tx as
// the insert so check-and-insert is atomic.
func (r Repo) LatestActionForWeek(ctx context.Context, tx *sql.Tx, owner, actionType, weekStart string) (domain.ActionEntry, error) {
	return scanAction(tx.QueryRowContext(ctx, `SELECT `+actionCols+` FROM agent_actions WHERE owner=? AND action_type=? AND week_start=? ORDER BY created_at DESC, id DESC LIMIT 1`,
		owner, actionType, weekStart).Scan)
}

// LatestAction returns the newest entry of the given type regardless of week.
func (r Repo) LatestAction(ctx context.Context, owner, actionType string) (domain.ActionEntry, error) {
	return scanAction(r.DB.QueryRowContext(ctx, `SELECT `+actionCols+` FROM agent_actions WHERE owner=? AND action_type=? ORDER BY created_at DESC, id DESC LIMIT 1`,
		owner, actionType).Scan)
}

type ActionFilters struct {
	Owner           string
	ActionType      string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

// ListActionEntries pages the ledger newest-first on the
// (created_at DESC, id DESC) keyset. Pass Limit+1 to detect more pages.
func (r Repo) ListActionEntries(ctx context.Context, f ActionFilters) ([]domain.ActionEntry, error) {
	clauses := []string{"owner=?"}
	args := []any{f.Owner}
	if f.ActionType != "" {
		clauses = append(clauses, "action_type=?")
		args = append(args, f.ActionType)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	query := `SELECT ` + actionCols + ` FROM agent_actions WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.ActionEntry
	for rows.Next() {
		e, err := scanAction(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListActionHistory returns entries of one type newest-first, capped.
func (r Repo) ListActionHistory(ctx context.Context, owner, actionType string, limit int) ([]domain.ActionEntry, error) {
	return r.ListActionEntries(ctx, ActionFilters{Owner: owner, ActionType: actionType, Limit: limit})
}

// MarkActionUndone stamps undone_at on an undoable entry. Payloads are
// never rewritten.
func (r Repo) MarkActionUndone(ctx context.Context, tx *sql.Tx, owner, id, now string) error {
	res, err := tx.ExecContext(ctx, `UPDATE agent_actions SET undone_at=? WHERE id=? AND owner=? AND undo_available=1 AND undone_at IS NULL`, now, id, owner)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
