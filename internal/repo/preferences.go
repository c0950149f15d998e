package repo

import (
	"context"
	"database/sql"

	"sarthi/internal/domain"
)

// GetPreferences reads the owner's autonomy flags. A missing row means
// the user never touched settings: everything enabled, not paused.
func (r Repo) GetPreferences(ctx context.Context, owner string) (domain.Preferences, error) {
	return r.getPreferences(ctx, r.DB.QueryRowContext, owner)
}

func (r Repo) GetPreferencesTx(ctx context.Context, tx *sql.Tx, owner string) (domain.Preferences, error) {
	return r.getPreferences(ctx, tx.QueryRowContext, owner)
}

func (r Repo) getPreferences(ctx context.Context, queryRow func(context.Context, string, ...any) *sql.Row, owner string) (domain.Preferences, error) {
	p := domain.Preferences{Owner: owner, WeeklyPlansEnabled: true, InterventionsEnabled: true}
	var paused, weekly, interventions int
	err := queryRow(ctx, `SELECT coaching_paused,weekly_plans_enabled,interventions_enabled,updated_at FROM preferences WHERE owner=?`, owner).
		Scan(&paused, &weekly, &interventions, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, nil
	}
	if err != nil {
		return p, err
	}
	p.CoachingPaused = paused != 0
	p.WeeklyPlansEnabled = weekly != 0
	p.InterventionsEnabled = interventions != 0
	return p, nil
}

func (r Repo) UpsertPreferences(ctx context.Context, tx *sql.Tx, p domain.Preferences) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO preferences(owner,coaching_paused,weekly_plans_enabled,interventions_enabled,updated_at) VALUES (?,?,?,?,?)
ON CONFLICT(owner) DO UPDATE SET coaching_paused=excluded.coaching_paused, weekly_plans_enabled=excluded.weekly_plans_enabled, interventions_enabled=excluded.interventions_enabled, updated_at=excluded.updated_at`,
		p.Owner, boolInt(p.CoachingPaused), boolInt(p.WeeklyPlansEnabled), boolInt(p.InterventionsEnabled), p.UpdatedAt)
	return err
}
