package server

import (
	"encoding/json"

	"sarthi/internal/domain"
	"sarthi/internal/engine"
	"sarthi/internal/ledger"
)

// Request payloads

type CreateResolutionRequest struct {
	Text          string `json:"text" minLength:"5" maxLength:"300" example:"Learn guitar and play one full song"`
	DurationWeeks *int   `json:"duration_weeks,omitempty" minimum:"1" maximum:"52"`
}

type DecomposeRequest struct {
	Weeks      *int `json:"weeks,omitempty" minimum:"4" maximum:"12"`
	Regenerate bool `json:"regenerate,omitempty"`
}

type ApproveRequest struct {
	Decision  string            `json:"decision" enum:"accept,reject,regenerate"`
	TaskEdits []engine.TaskEdit `json:"task_edits,omitempty"`
}

type UpdateTaskRequest struct {
	Title           *string `json:"title,omitempty"`
	ScheduledDay    *string `json:"scheduled_day,omitempty" format:"date"`
	ScheduledTime   *string `json:"scheduled_time,omitempty" example:"19:00"`
	DurationMinutes *int    `json:"duration_minutes,omitempty" minimum:"1"`
	Completed       *bool   `json:"completed,omitempty"`
	Note            *string `json:"note,omitempty"`
}

type RunRequest struct {
	Force bool `json:"force,omitempty"`
}

type RespondInterventionRequest struct {
	OptionKey string `json:"option_key" enum:"reduce_scope,reschedule,get_back_on_track,reflect,adjust_goal,pause"`
}

type PreferencesRequest struct {
	CoachingPaused       bool `json:"coaching_paused"`
	WeeklyPlansEnabled   bool `json:"weekly_plans_enabled"`
	InterventionsEnabled bool `json:"interventions_enabled"`
}

type RegisterTokenRequest struct {
	Token    string `json:"token" minLength:"1"`
	Platform string `json:"platform" enum:"ios,android,web"`
}

// Response payloads

type ResolutionResponse struct {
	Resolution domain.Resolution `json:"resolution"`
	Tasks      []domain.Task     `json:"tasks,omitempty"`
}

type ResolutionListResponse struct {
	Items []domain.Resolution `json:"items"`
}

type DecomposeResponse struct {
	Plan       []domain.Milestone `json:"plan"`
	Week1Tasks []domain.Task      `json:"week1_tasks"`
}

type ApproveResponse struct {
	Status         string        `json:"status" enum:"draft,active"`
	ActivatedTasks []domain.Task `json:"activated_tasks,omitempty"`
}

type TaskListResponse struct {
	Items []domain.Task `json:"items"`
}

type TaskResponse struct {
	Task domain.Task `json:"task"`
}

// SnapshotResponse renders the outcome of a weekly plan or intervention
// run: either a skip with its reason, or the stored entry.
type SnapshotResponse struct {
	Skipped bool            `json:"skipped"`
	Reason  string          `json:"reason,omitempty" example:"coaching_paused"`
	Reused  bool            `json:"reused,omitempty"`
	Entry   *ActionEntryDTO `json:"entry,omitempty"`
}

// ActionEntryDTO is a ledger entry with its payload decoded for
// transport and a derived human summary.
type ActionEntryDTO struct {
	ID            string  `json:"id"`
	ActionType    string  `json:"action_type"`
	Payload       any     `json:"payload"`
	Reason        string  `json:"reason,omitempty"`
	Summary       string  `json:"summary"`
	UndoAvailable bool    `json:"undo_available"`
	UndoneAt      *string `json:"undone_at,omitempty"`
	CreatedAt     string  `json:"created_at" format:"date-time"`
}

type AgentLogResponse struct {
	Items      []ActionEntryDTO `json:"items"`
	NextCursor string           `json:"next_cursor,omitempty"`
}

type RespondInterventionResponse struct {
	Message  string                      `json:"message"`
	Changes  []string                    `json:"changes"`
	Snapshot *domain.InterventionPayload `json:"snapshot,omitempty"`
}

func toEntryDTO(e domain.ActionEntry) ActionEntryDTO {
	var payload any
	if err := json.Unmarshal([]byte(e.PayloadJSON), &payload); err != nil {
		payload = e.PayloadJSON
	}
	return ActionEntryDTO{
		ID:            e.ID,
		ActionType:    e.ActionType,
		Payload:       payload,
		Reason:        e.Reason,
		Summary:       ledger.Summarize(e),
		UndoAvailable: e.UndoAvailable,
		UndoneAt:      e.UndoneAt,
		CreatedAt:     e.CreatedAt,
	}
}

func snapshotResponse(res engine.SnapshotResult) SnapshotResponse {
	out := SnapshotResponse{Skipped: res.Skipped, Reason: res.Reason, Reused: res.Reused}
	if !res.Skipped {
		dto := toEntryDTO(res.Entry)
		out.Entry = &dto
	}
	return out
}
