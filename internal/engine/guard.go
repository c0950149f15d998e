package engine

import (
	"context"

	"sarthi/internal/domain"
	"sarthi/internal/ledger"
)

// Skip reasons returned when the preference guard blocks a job.
const (
	ReasonCoachingPaused        = "coaching_paused"
	ReasonWeeklyPlansDisabled   = "weekly_plans_disabled"
	ReasonInterventionsDisabled = "interventions_disabled"
)

// guardWeeklyPlans re-reads the owner's flags and returns a non-empty
// skip reason when weekly planning must not run. Fresh read every call:
// jobs must never act on stale flags.
func (e Engine) guardWeeklyPlans(ctx context.Context, owner string) (string, error) {
	prefs, err := e.Repo.GetPreferences(ctx, owner)
	if err != nil {
		return "", err
	}
	if prefs.CoachingPaused {
		return ReasonCoachingPaused, nil
	}
	if !prefs.WeeklyPlansEnabled {
		return ReasonWeeklyPlansDisabled, nil
	}
	return "", nil
}

func (e Engine) guardInterventions(ctx context.Context, owner string) (string, error) {
	prefs, err := e.Repo.GetPreferences(ctx, owner)
	if err != nil {
		return "", err
	}
	if prefs.CoachingPaused {
		return ReasonCoachingPaused, nil
	}
	if !prefs.InterventionsEnabled {
		return ReasonInterventionsDisabled, nil
	}
	return "", nil
}

// UpdatePreferences is the external preferences collaborator surface.
// The coaching jobs only ever read these flags.
func (e Engine) UpdatePreferences(ctx context.Context, owner string, p domain.Preferences) (domain.Preferences, error) {
	now := e.nowRFC3339()
	p.Owner = owner
	p.UpdatedAt = now

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Preferences{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.EnsureUser(ctx, tx, owner, now); err != nil {
		return domain.Preferences{}, err
	}
	if err := e.Repo.UpsertPreferences(ctx, tx, p); err != nil {
		return domain.Preferences{}, err
	}
	payload := domain.PreferencesPayload{
		CoachingPaused:       p.CoachingPaused,
		WeeklyPlansEnabled:   p.WeeklyPlansEnabled,
		InterventionsEnabled: p.InterventionsEnabled,
	}
	if _, err := e.writer().Append(ctx, tx, owner, domain.ActionPreferencesUpdated, payload, ledger.WithReason("user settings change")); err != nil {
		return domain.Preferences{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Preferences{}, err
	}
	return p, nil
}

// GetPreferences reads the owner's current flags.
func (e Engine) GetPreferences(ctx context.Context, owner string) (domain.Preferences, error) {
	return e.Repo.GetPreferences(ctx, owner)
}
