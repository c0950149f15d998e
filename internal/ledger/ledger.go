// Package ledger writes and reads the append-only agent action trail.
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"sarthi/internal/domain"
	"sarthi/internal/repo"
)

type Writer struct {
	Repo repo.Repo
	Now  func() time.Time
}

// Append serializes the payload and inserts the entry inside the
// caller's transaction, so business mutation and audit row commit or
// roll back together. Returns the stored entry.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, owner, actionType string, payload any, opts ...Option) (domain.ActionEntry, error) {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return domain.ActionEntry{}, fmt.Errorf("marshal %s payload: %w", actionType, err)
	}
	e := domain.ActionEntry{
		ID:          uuid.NewString(),
		Owner:       owner,
		ActionType:  actionType,
		PayloadJSON: string(data),
		CreatedAt:   now().UTC().Format(time.RFC3339),
	}
	for _, opt := range opts {
		opt(&e)
	}
	if err := w.Repo.InsertActionEntry(ctx, tx, e); err != nil {
		return domain.ActionEntry{}, fmt.Errorf("append %s: %w", actionType, err)
	}
	return e, nil
}

type Option func(*domain.ActionEntry)

func WithReason(reason string) Option {
	return func(e *domain.ActionEntry) { e.Reason = reason }
}

func WithUndo() Option {
	return func(e *domain.ActionEntry) { e.UndoAvailable = true }
}

// WithWeek keys the entry to an ISO week for idempotency lookups.
func WithWeek(weekStart string) Option {
	return func(e *domain.ActionEntry) { e.WeekStart = &weekStart }
}
