package repo

import (
	"context"
	"database/sql"

	"sarthi/internal/domain"
)

// Device token registry for the push collaborator. Registration is an
// upsert so clients can re-send the same token on every launch.
func (r Repo) UpsertNotificationToken(ctx context.Context, tx *sql.Tx, t domain.NotificationToken) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO notification_tokens(owner,token,platform,created_at) VALUES (?,?,?,?)
ON CONFLICT(owner,token) DO UPDATE SET platform=excluded.platform`,
		t.Owner, t.Token, t.Platform, t.CreatedAt)
	return err
}

func (r Repo) DeleteNotificationToken(ctx context.Context, owner, token string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM notification_tokens WHERE owner=? AND token=?`, owner, token)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListNotificationTokens(ctx context.Context, owner string) ([]domain.NotificationToken, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT owner,token,platform,created_at FROM notification_tokens WHERE owner=? ORDER BY created_at ASC, token ASC`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.NotificationToken
	for rows.Next() {
		var t domain.NotificationToken
		if err := rows.Scan(&t.Owner, &t.Token, &t.Platform, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
