package domain

type User struct {
	ID        string `json:"id"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Resolution struct {
	ID            string      `json:"id"`
	Owner         string      `json:"owner"`
	Title         string      `json:"title"`
	Type          string      `json:"type" enum:"habit,project,learning,health,finance,other"`
	Category      string      `json:"category"`
	DurationWeeks int         `json:"duration_weeks"`
	Status        string      `json:"status" enum:"draft,active"`
	Plan          []Milestone `json:"plan,omitempty"`
	CreatedAt     string      `json:"created_at" format:"date-time"`
	UpdatedAt     string      `json:"updated_at" format:"date-time"`
}

// Milestone is one week of a resolution plan. Immutable once generated
// except through a full plan regeneration.
type Milestone struct {
	Week            int      `json:"week"`
	Focus           string   `json:"focus"`
	SuccessCriteria []string `json:"success_criteria"`
}

type Task struct {
	ID              string  `json:"id"`
	Owner           string  `json:"owner"`
	ResolutionID    *string `json:"resolution_id,omitempty"`
	Title           string  `json:"title"`
	ScheduledDay    *string `json:"scheduled_day,omitempty" format:"date"`
	ScheduledTime   *string `json:"scheduled_time,omitempty"`
	DurationMinutes *int    `json:"duration_minutes,omitempty"`
	Completed       bool    `json:"completed"`
	Draft           bool    `json:"draft"`
	Note            string  `json:"note,omitempty"`
	CreatedAt       string  `json:"created_at" format:"date-time"`
	UpdatedAt       string  `json:"updated_at" format:"date-time"`
}

// Preferences are the per-user autonomy flags consulted before any
// coaching job runs. Missing rows read as the zero-value-with-defaults
// form returned by the repo (everything enabled, not paused).
type Preferences struct {
	Owner                string `json:"owner"`
	CoachingPaused       bool   `json:"coaching_paused"`
	WeeklyPlansEnabled   bool   `json:"weekly_plans_enabled"`
	InterventionsEnabled bool   `json:"interventions_enabled"`
	UpdatedAt            string `json:"updated_at" format:"date-time"`
}

type NotificationToken struct {
	Owner     string `json:"owner"`
	Token     string `json:"token"`
	Platform  string `json:"platform" enum:"ios,android,web"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Closed set of ledger action types.
const (
	ActionWeeklyPlanGenerated   = "weekly_plan_generated"
	ActionInterventionGenerated = "intervention_generated"
	ActionInterventionExecuted  = "intervention_executed"
	ActionResolutionApproved    = "resolution_approved"
	ActionResolutionRejected    = "resolution_rejected"
	ActionPreferencesUpdated    = "preferences_updated"
)

// ActionEntry is one row of the agent action ledger. PayloadJSON holds
// the serialized per-action payload; WeekStart is denormalized from
// weekly payloads so idempotency checks stay a single indexed query.
type ActionEntry struct {
	ID            string  `json:"id"`
	Owner         string  `json:"owner"`
	ActionType    string  `json:"action_type"`
	PayloadJSON   string  `json:"-"`
	Reason        string  `json:"reason,omitempty"`
	UndoAvailable bool    `json:"undo_available"`
	UndoneAt      *string `json:"undone_at,omitempty" format:"date-time"`
	WeekStart     *string `json:"week_start,omitempty" format:"date"`
	CreatedAt     string  `json:"created_at" format:"date-time"`
}

// WeekWindow is an ISO week identified by its Monday.
type WeekWindow struct {
	Start string `json:"week_start" format:"date"`
	End   string `json:"week_end" format:"date"`
}

// WeeklyPlanPayload is the payload of a weekly_plan_generated entry.
type WeeklyPlanPayload struct {
	Week            WeekWindow      `json:"week"`
	CompletionRate  float64         `json:"completion_rate"`
	TotalTasks      int             `json:"total_tasks"`
	CompletedTasks  int             `json:"completed_tasks"`
	MicroResolution MicroResolution `json:"micro_resolution"`
	SuggestedTasks  []SuggestedTask `json:"suggested_tasks"`
	CreatedTaskIDs  []string        `json:"created_task_ids,omitempty"`
}

type MicroResolution struct {
	Title   string `json:"title"`
	WhyThis string `json:"why_this"`
}

type SuggestedTask struct {
	Title           string  `json:"title"`
	ScheduledDay    string  `json:"scheduled_day" format:"date"`
	ScheduledTime   string  `json:"scheduled_time"`
	DurationMinutes int     `json:"duration_minutes"`
	ResolutionID    *string `json:"resolution_id,omitempty"`
	CarriedOver     bool    `json:"carried_over"`
}

// InterventionPayload is the payload of an intervention_generated entry.
type InterventionPayload struct {
	Week            WeekWindow        `json:"week"`
	CompletionRate  float64           `json:"completion_rate"`
	TotalTasks      int               `json:"total_tasks"`
	CompletedTasks  int               `json:"completed_tasks"`
	MissedScheduled int               `json:"missed_scheduled"`
	Flagged         bool              `json:"flagged"`
	Card            *InterventionCard `json:"card,omitempty"`
}

type InterventionCard struct {
	Title   string              `json:"title"`
	Message string              `json:"message"`
	Options []RemediationOption `json:"options"`
}

type RemediationOption struct {
	Key    string `json:"key" enum:"reduce_scope,reschedule,get_back_on_track,reflect,adjust_goal,pause"`
	Label  string `json:"label"`
	Detail string `json:"detail"`
}

// InterventionExecutedPayload records which option ran and what changed.
type InterventionExecutedPayload struct {
	Week      WeekWindow `json:"week"`
	OptionKey string     `json:"option_key"`
	Message   string     `json:"message"`
	Changes   []string   `json:"changes"`
}

// ApprovalPayload is shared by resolution_approved and resolution_rejected.
type ApprovalPayload struct {
	ResolutionID string `json:"resolution_id"`
	Title        string `json:"title"`
	Decision     string `json:"decision"`
	Tasks        []Task `json:"tasks,omitempty"`
}

// PreferencesPayload is the payload of a preferences_updated entry.
type PreferencesPayload struct {
	CoachingPaused       bool `json:"coaching_paused"`
	WeeklyPlansEnabled   bool `json:"weekly_plans_enabled"`
	InterventionsEnabled bool `json:"interventions_enabled"`
}
