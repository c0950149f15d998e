package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"sarthi/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func nullableIntPtr(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

// EnsureUser upserts the user row. Idempotent; safe to call before
// every write on behalf of an owner.
func (r Repo) EnsureUser(ctx context.Context, tx *sql.Tx, id, now string) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO users(id,created_at) VALUES (?,?) ON CONFLICT(id) DO NOTHING`, id, now)
	return err
}

func (r Repo) ListUserIDs(ctx context.Context) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id FROM users ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r Repo) InsertResolution(ctx context.Context, tx *sql.Tx, res domain.Resolution) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO resolutions(id,owner,title,type,category,duration_weeks,status,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		res.ID, res.Owner, res.Title, res.Type, res.Category, res.DurationWeeks, res.Status, res.CreatedAt, res.UpdatedAt)
	return err
}

func scanResolution(scan func(...any) error) (domain.Resolution, error) {
	var res domain.Resolution
	err := scan(&res.ID, &res.Owner, &res.Title, &res.Type, &res.Category, &res.DurationWeeks, &res.Status, &res.CreatedAt, &res.UpdatedAt)
	if err == sql.ErrNoRows {
		return res, ErrNotFound
	}
	return res, err
}

const resolutionCols = `id,owner,title,type,category,duration_weeks,status,created_at,updated_at`

// GetResolution fetches an owner's resolution with its milestone plan.
func (r Repo) GetResolution(ctx context.Context, owner, id string) (domain.Resolution, error) {
	res, err := scanResolution(r.DB.QueryRowContext(ctx, `SELECT `+resolutionCols+` FROM resolutions WHERE id=? AND owner=?`, id, owner).Scan)
	if err != nil {
		return res, err
	}
	res.Plan, err = r.ListMilestones(ctx, id)
	return res, err
}

func (r Repo) GetResolutionTx(ctx context.Context, tx *sql.Tx, owner, id string) (domain.Resolution, error) {
	res, err := scanResolution(tx.QueryRowContext(ctx, `SELECT `+resolutionCols+` FROM resolutions WHERE id=? AND owner=?`, id, owner).Scan)
	if err != nil {
		return res, err
	}
	res.Plan, err = r.listMilestones(ctx, tx.QueryContext, id)
	return res, err
}

func (r Repo) ListResolutions(ctx context.Context, owner, status string) ([]domain.Resolution, error) {
	return r.listResolutions(ctx, r.DB.QueryContext, owner, status)
}

func (r Repo) ListResolutionsTx(ctx context.Context, tx *sql.Tx, owner, status string) ([]domain.Resolution, error) {
	return r.listResolutions(ctx, tx.QueryContext, owner, status)
}

func (r Repo) listResolutions(ctx context.Context, query queryFn, owner, status string) ([]domain.Resolution, error) {
	q := `SELECT ` + resolutionCols + ` FROM resolutions WHERE owner=?`
	args := []any{owner}
	if status != "" {
		q += ` AND status=?`
		args = append(args, status)
	}
	q += ` ORDER BY created_at DESC, id DESC`
	rows, err := query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Resolution
	for rows.Next() {
		res, err := scanResolution(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

func (r Repo) UpdateResolutionStatus(ctx context.Context, tx *sql.Tx, owner, id, status, now string) error {
	res, err := tx.ExecContext(ctx, `UPDATE resolutions SET status=?, updated_at=? WHERE id=? AND owner=?`, status, now, id, owner)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) UpdateResolutionDuration(ctx context.Context, tx *sql.Tx, owner, id string, weeks int, now string) error {
	res, err := tx.ExecContext(ctx, `UPDATE resolutions SET duration_weeks=?, updated_at=? WHERE id=? AND owner=?`, weeks, now, id, owner)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ReplaceMilestones swaps a resolution's plan atomically within the tx.
func (r Repo) ReplaceMilestones(ctx context.Context, tx *sql.Tx, resolutionID string, plan []domain.Milestone) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM milestones WHERE resolution_id=?`, resolutionID); err != nil {
		return err
	}
	for _, m := range plan {
		criteria, err := json.Marshal(m.SuccessCriteria)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO milestones(resolution_id,week,focus,criteria_json) VALUES (?,?,?,?)`,
			resolutionID, m.Week, m.Focus, string(criteria)); err != nil {
			return err
		}
	}
	return nil
}

type queryFn func(ctx context.Context, query string, args ...any) (*sql.Rows, error)

func (r Repo) ListMilestones(ctx context.Context, resolutionID string) ([]domain.Milestone, error) {
	return r.listMilestones(ctx, r.DB.QueryContext, resolutionID)
}

func (r Repo) listMilestones(ctx context.Context, query queryFn, resolutionID string) ([]domain.Milestone, error) {
	rows, err := query(ctx, `SELECT week,focus,criteria_json FROM milestones WHERE resolution_id=? ORDER BY week ASC`, resolutionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var plan []domain.Milestone
	for rows.Next() {
		var m domain.Milestone
		var criteria string
		if err := rows.Scan(&m.Week, &m.Focus, &criteria); err != nil {
			return nil, err
		}
		if criteria != "" {
			_ = json.Unmarshal([]byte(criteria), &m.SuccessCriteria)
		}
		plan = append(plan, m)
	}
	return plan, rows.Err()
}
