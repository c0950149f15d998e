package repo

import (
	"context"
	"database/sql"
	"strings"

	"sarthi/internal/domain"
)

const taskCols = `id,owner,resolution_id,title,scheduled_day,scheduled_time,duration_minutes,completed,draft,note,created_at,updated_at`

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO tasks(`+taskCols+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.Owner, nullableStringPtr(t.ResolutionID), t.Title, nullableStringPtr(t.ScheduledDay), nullableStringPtr(t.ScheduledTime),
		nullableIntPtr(t.DurationMinutes), boolInt(t.Completed), boolInt(t.Draft), t.Note, t.CreatedAt, t.UpdatedAt)
	return err
}

func (r Repo) UpdateTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET title=?, scheduled_day=?, scheduled_time=?, duration_minutes=?, completed=?, draft=?, note=?, updated_at=? WHERE id=? AND owner=?`,
		t.Title, nullableStringPtr(t.ScheduledDay), nullableStringPtr(t.ScheduledTime), nullableIntPtr(t.DurationMinutes),
		boolInt(t.Completed), boolInt(t.Draft), t.Note, t.UpdatedAt, t.ID, t.Owner)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanTask(scan func(...any) error) (domain.Task, error) {
	var t domain.Task
	var resolutionID, day, tod sql.NullString
	var duration sql.NullInt64
	var completed, draft int
	err := scan(&t.ID, &t.Owner, &resolutionID, &t.Title, &day, &tod, &duration, &completed, &draft, &t.Note, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if resolutionID.Valid {
		t.ResolutionID = &resolutionID.String
	}
	if day.Valid {
		t.ScheduledDay = &day.String
	}
	if tod.Valid {
		t.ScheduledTime = &tod.String
	}
	if duration.Valid {
		d := int(duration.Int64)
		t.DurationMinutes = &d
	}
	t.Completed = completed != 0
	t.Draft = draft != 0
	return t, nil
}

func (r Repo) GetTaskTx(ctx context.Context, tx *sql.Tx, owner, id string) (domain.Task, error) {
	return scanTask(tx.QueryRowContext(ctx, `SELECT `+taskCols+` FROM tasks WHERE id=? AND owner=?`, id, owner).Scan)
}

type TaskFilters struct {
	Owner        string
	ResolutionID string
	Draft        *bool
	Completed    *bool
	// DayFrom/DayTo bound scheduled_day inclusively (ISO dates).
	DayFrom string
	DayTo   string
	// ScheduledOnly keeps rows with a scheduled_day set.
	ScheduledOnly bool
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	return r.listTasks(ctx, r.DB.QueryContext, f)
}

func (r Repo) ListTasksTx(ctx context.Context, tx *sql.Tx, f TaskFilters) ([]domain.Task, error) {
	return r.listTasks(ctx, tx.QueryContext, f)
}

func (r Repo) listTasks(ctx context.Context, query queryFn, f TaskFilters) ([]domain.Task, error) {
	clauses := []string{"owner=?"}
	args := []any{f.Owner}
	if f.ResolutionID != "" {
		clauses = append(clauses, "resolution_id=?")
		args = append(args, f.ResolutionID)
	}
	if f.Draft != nil {
		clauses = append(clauses, "draft=?")
		args = append(args, boolInt(*f.Draft))
	}
	if f.Completed != nil {
		clauses = append(clauses, "completed=?")
		args = append(args, boolInt(*f.Completed))
	}
	if f.ScheduledOnly {
		clauses = append(clauses, "scheduled_day IS NOT NULL")
	}
	if f.DayFrom != "" {
		clauses = append(clauses, "scheduled_day >= ?")
		args = append(args, f.DayFrom)
	}
	if f.DayTo != "" {
		clauses = append(clauses, "scheduled_day <= ?")
		args = append(args, f.DayTo)
	}
	q := `SELECT ` + taskCols + ` FROM tasks WHERE ` + strings.Join(clauses, " AND ") +
		` ORDER BY scheduled_day ASC, scheduled_time ASC, created_at ASC, id ASC`
	rows, err := query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// DeleteDraftTasks removes a resolution's draft tasks (regeneration path).
func (r Repo) DeleteDraftTasks(ctx context.Context, tx *sql.Tx, owner, resolutionID string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE owner=? AND resolution_id=? AND draft=1`, owner, resolutionID)
	return err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
