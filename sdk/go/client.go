package sarthisdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Sarthi HTTP API client.
type Client struct {
	BaseURL     string
	Owner       string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, owner string) *Client {
	return &Client{
		BaseURL: baseURL,
		Owner:   owner,
		Timeout: 10 * time.Second,
	}
}

// Resolution represents the API resolution model (partial).
type Resolution struct {
	ID            string      `json:"id"`
	Title         string      `json:"title"`
	Type          string      `json:"type"`
	Category      string      `json:"category"`
	DurationWeeks int         `json:"duration_weeks"`
	Status        string      `json:"status"`
	Plan          []Milestone `json:"plan,omitempty"`
}

// Milestone is one week of a resolution plan.
type Milestone struct {
	Week            int      `json:"week"`
	Focus           string   `json:"focus"`
	SuccessCriteria []string `json:"success_criteria"`
}

// Task represents the API task model (partial).
type Task struct {
	ID              string  `json:"id"`
	ResolutionID    string  `json:"resolution_id"`
	Title           string  `json:"title"`
	ScheduledDay    *string `json:"scheduled_day"`
	ScheduledTime   *string `json:"scheduled_time"`
	DurationMinutes *int    `json:"duration_minutes"`
	Draft           bool    `json:"draft"`
	Completed       bool    `json:"completed"`
}

// ActionEntry is one ledger entry with its decoded payload.
type ActionEntry struct {
	ID            string         `json:"id"`
	ActionType    string         `json:"action_type"`
	Payload       map[string]any `json:"payload"`
	Reason        string         `json:"reason,omitempty"`
	Summary       string         `json:"summary"`
	UndoAvailable bool           `json:"undo_available"`
	CreatedAt     string         `json:"created_at"`
}

// Snapshot is the outcome of a weekly plan or intervention run.
type Snapshot struct {
	Skipped bool         `json:"skipped"`
	Reason  string       `json:"reason,omitempty"`
	Reused  bool         `json:"reused,omitempty"`
	Entry   *ActionEntry `json:"entry,omitempty"`
}

// Preferences holds the coaching flags.
type Preferences struct {
	CoachingPaused       bool `json:"coaching_paused"`
	WeeklyPlansEnabled   bool `json:"weekly_plans_enabled"`
	InterventionsEnabled bool `json:"interventions_enabled"`
}

// PaginatedEntries wraps ledger listings with cursors.
type PaginatedEntries struct {
	Items      []ActionEntry `json:"items"`
	NextCursor string        `json:"next_cursor"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateResolution submits free-form goal text.
func (c *Client) CreateResolution(ctx context.Context, text string, durationWeeks *int) (Resolution, error) {
	body := map[string]any{"text": text}
	if durationWeeks != nil {
		body["duration_weeks"] = *durationWeeks
	}
	var resp struct {
		Resolution Resolution `json:"resolution"`
	}
	err := c.do(ctx, http.MethodPost, c.userPath("resolutions"), body, &resp)
	return resp.Resolution, err
}

// Decompose expands a resolution into milestones and week-1 draft tasks.
func (c *Client) Decompose(ctx context.Context, resolutionID string, weeks *int, regenerate bool) ([]Milestone, []Task, error) {
	body := map[string]any{"regenerate": regenerate}
	if weeks != nil {
		body["weeks"] = *weeks
	}
	var resp struct {
		Plan       []Milestone `json:"plan"`
		Week1Tasks []Task      `json:"week1_tasks"`
	}
	endpoint := c.userPath(fmt.Sprintf("resolutions/%s/decompose", url.PathEscape(resolutionID)))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp.Plan, resp.Week1Tasks, err
}

// Approve accepts, rejects or regenerates a draft plan. Edits are
// passed through as-is, keyed by task_id.
func (c *Client) Approve(ctx context.Context, resolutionID, decision string, edits []map[string]any) (string, []Task, error) {
	body := map[string]any{"decision": decision}
	if len(edits) > 0 {
		body["task_edits"] = edits
	}
	var resp struct {
		Status         string `json:"status"`
		ActivatedTasks []Task `json:"activated_tasks"`
	}
	endpoint := c.userPath(fmt.Sprintf("resolutions/%s/approve", url.PathEscape(resolutionID)))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp.Status, resp.ActivatedTasks, err
}

// Tasks lists tasks, optionally narrowed to one week.
func (c *Client) Tasks(ctx context.Context, weekStart string) ([]Task, error) {
	endpoint := c.userPath("tasks")
	if weekStart != "" {
		endpoint = fmt.Sprintf("%s?week_start=%s", endpoint, url.QueryEscape(weekStart))
	}
	var resp struct {
		Items []Task `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

// CompleteTask marks a task done.
func (c *Client) CompleteTask(ctx context.Context, taskID string) (Task, error) {
	var resp struct {
		Task Task `json:"task"`
	}
	endpoint := c.userPath(fmt.Sprintf("tasks/%s", url.PathEscape(taskID)))
	err := c.do(ctx, http.MethodPatch, endpoint, map[string]any{"completed": true}, &resp)
	return resp.Task, err
}

// RunWeeklyPlan generates (or returns) the snapshot for the coming week.
func (c *Client) RunWeeklyPlan(ctx context.Context, force bool) (Snapshot, error) {
	var resp Snapshot
	err := c.do(ctx, http.MethodPost, c.userPath("weekly-plan/run"), map[string]any{"force": force}, &resp)
	return resp, err
}

// LatestWeeklyPlan fetches the most recent snapshot.
func (c *Client) LatestWeeklyPlan(ctx context.Context) (ActionEntry, error) {
	var resp ActionEntry
	err := c.do(ctx, http.MethodGet, c.userPath("weekly-plan/latest"), nil, &resp)
	return resp, err
}

// RunInterventions evaluates the current week for slippage.
func (c *Client) RunInterventions(ctx context.Context, force bool) (Snapshot, error) {
	var resp Snapshot
	err := c.do(ctx, http.MethodPost, c.userPath("interventions/run"), map[string]any{"force": force}, &resp)
	return resp, err
}

// RespondIntervention executes a remediation option from this week's card.
func (c *Client) RespondIntervention(ctx context.Context, optionKey string) (string, []string, error) {
	var resp struct {
		Message string   `json:"message"`
		Changes []string `json:"changes"`
	}
	err := c.do(ctx, http.MethodPost, c.userPath("interventions/respond"), map[string]any{"option_key": optionKey}, &resp)
	return resp.Message, resp.Changes, err
}

// AgentLog returns a page of the agent action ledger.
func (c *Client) AgentLog(ctx context.Context, limit int, cursor string) (PaginatedEntries, error) {
	endpoint := c.userPath("agent-log")
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	if cursor != "" {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint = fmt.Sprintf("%s%scursor=%s", endpoint, sep, url.QueryEscape(cursor))
	}
	var resp PaginatedEntries
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// UndoEntry reverses an undoable ledger entry.
func (c *Client) UndoEntry(ctx context.Context, entryID string) (ActionEntry, error) {
	var resp ActionEntry
	endpoint := c.userPath(fmt.Sprintf("agent-log/%s/undo", url.PathEscape(entryID)))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// Preferences fetches the current coaching flags.
func (c *Client) Preferences(ctx context.Context) (Preferences, error) {
	var resp Preferences
	err := c.do(ctx, http.MethodGet, c.userPath("preferences"), nil, &resp)
	return resp, err
}

// UpdatePreferences replaces the coaching flags.
func (c *Client) UpdatePreferences(ctx context.Context, p Preferences) (Preferences, error) {
	var resp Preferences
	err := c.do(ctx, http.MethodPut, c.userPath("preferences"), p, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) userPath(p string) string {
	owner := url.PathEscape(c.Owner)
	return fmt.Sprintf("v1/users/%s/%s", owner, strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
