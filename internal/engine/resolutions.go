package engine

import (
	"context"

	"sarthi/internal/domain"
)

// GetResolution returns an owned resolution with plan and tasks.
func (e Engine) GetResolution(ctx context.Context, owner, id string) (domain.Resolution, []domain.Task, error) {
	res, err := e.Repo.GetResolution(ctx, owner, id)
	if err != nil {
		return domain.Resolution{}, nil, err
	}
	tasks, err := e.ListTasks(ctx, owner, TaskListOptions{ResolutionID: id})
	if err != nil {
		return domain.Resolution{}, nil, err
	}
	return res, tasks, nil
}

// ListResolutions returns the owner's resolutions, optionally filtered
// by status.
func (e Engine) ListResolutions(ctx context.Context, owner, status string) ([]domain.Resolution, error) {
	if status != "" && status != "draft" && status != "active" {
		return nil, validationErr("status", "must be draft or active")
	}
	return e.Repo.ListResolutions(ctx, owner, status)
}

// RegisterNotificationToken stores a device token for the push
// collaborator. Upsert: re-registering is harmless.
func (e Engine) RegisterNotificationToken(ctx context.Context, owner, token, platform string) (domain.NotificationToken, error) {
	if token == "" {
		return domain.NotificationToken{}, validationErr("token", "must not be empty")
	}
	switch platform {
	case "ios", "android", "web":
	default:
		return domain.NotificationToken{}, validationErr("platform", "must be ios, android or web")
	}
	now := e.nowRFC3339()
	t := domain.NotificationToken{Owner: owner, Token: token, Platform: platform, CreatedAt: now}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.NotificationToken{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.EnsureUser(ctx, tx, owner, now); err != nil {
		return domain.NotificationToken{}, err
	}
	if err := e.Repo.UpsertNotificationToken(ctx, tx, t); err != nil {
		return domain.NotificationToken{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.NotificationToken{}, err
	}
	return t, nil
}

// DeleteNotificationToken removes a registered device token.
func (e Engine) DeleteNotificationToken(ctx context.Context, owner, token string) error {
	return e.Repo.DeleteNotificationToken(ctx, owner, token)
}
