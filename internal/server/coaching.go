package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"sarthi/internal/domain"
	"sarthi/internal/engine"
)

type snapshotBody struct {
	Body SnapshotResponse `json:"body"`
}

type entryBody struct {
	Body ActionEntryDTO `json:"body"`
}

func registerWeeklyPlans(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "run-weekly-plan",
		Method:      http.MethodPost,
		Path:        "/users/{owner}/weekly-plan/run",
		Summary:     "Generate (or return) this user's snapshot for the coming week",
	}, func(ctx context.Context, input *struct {
		Owner string     `path:"owner"`
		Body  RunRequest `json:"body"`
	}) (*snapshotBody, error) {
		res, err := e.RunWeeklyPlan(ctx, input.Owner, input.Body.Force)
		if err != nil {
			return nil, handleError(err)
		}
		return &snapshotBody{Body: snapshotResponse(res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-weekly-plan-latest",
		Method:      http.MethodGet,
		Path:        "/users/{owner}/weekly-plan/latest",
		Summary:     "Latest weekly snapshot",
	}, func(ctx context.Context, input *struct {
		Owner string `path:"owner"`
	}) (*entryBody, error) {
		entry, err := e.GetLatestWeeklyPlan(ctx, input.Owner)
		if err != nil {
			return nil, handleError(err)
		}
		return &entryBody{Body: toEntryDTO(entry)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-weekly-plan-history",
		Method:      http.MethodGet,
		Path:        "/users/{owner}/weekly-plan/history",
		Summary:     "Past weekly snapshots, newest first",
	}, func(ctx context.Context, input *struct {
		Owner string `path:"owner"`
		Limit int    `query:"limit" minimum:"1" maximum:"100" default:"20"`
	}) (*struct {
		Body AgentLogResponse `json:"body"`
	}, error) {
		entries, err := e.ListWeeklyPlanHistory(ctx, input.Owner, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		resp := AgentLogResponse{Items: make([]ActionEntryDTO, 0, len(entries))}
		for _, entry := range entries {
			resp.Items = append(resp.Items, toEntryDTO(entry))
		}
		return &struct {
			Body AgentLogResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-weekly-plan-history-item",
		Method:      http.MethodGet,
		Path:        "/users/{owner}/weekly-plan/history/{id}",
		Summary:     "One past weekly snapshot",
	}, func(ctx context.Context, input *struct {
		Owner string `path:"owner"`
		ID    string `path:"id"`
	}) (*entryBody, error) {
		entry, err := e.GetWeeklyPlanHistoryItem(ctx, input.Owner, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &entryBody{Body: toEntryDTO(entry)}, nil
	})
}

func registerInterventions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "run-interventions",
		Method:      http.MethodPost,
		Path:        "/users/{owner}/interventions/run",
		Summary:     "Evaluate the current week for slippage",
	}, func(ctx context.Context, input *struct {
		Owner string     `path:"owner"`
		Body  RunRequest `json:"body"`
	}) (*snapshotBody, error) {
		res, err := e.RunInterventions(ctx, input.Owner, input.Body.Force)
		if err != nil {
			return nil, handleError(err)
		}
		return &snapshotBody{Body: snapshotResponse(res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "respond-intervention",
		Method:      http.MethodPost,
		Path:        "/users/{owner}/interventions/respond",
		Summary:     "Execute a remediation option from this week's card",
	}, func(ctx context.Context, input *struct {
		Owner string                     `path:"owner"`
		Body  RespondInterventionRequest `json:"body"`
	}) (*struct {
		Body RespondInterventionResponse `json:"body"`
	}, error) {
		res, err := e.RespondIntervention(ctx, input.Owner, input.Body.OptionKey)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RespondInterventionResponse `json:"body"`
		}{Body: RespondInterventionResponse{Message: res.Message, Changes: res.Changes, Snapshot: res.Snapshot}}, nil
	})
}

func registerAgentLog(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-agent-log",
		Method:      http.MethodGet,
		Path:        "/users/{owner}/agent-log",
		Summary:     "Page through the agent action ledger",
	}, func(ctx context.Context, input *struct {
		Owner      string `path:"owner"`
		Cursor     string `query:"cursor"`
		Limit      int    `query:"limit" minimum:"1" maximum:"100" default:"50"`
		ActionType string `query:"action_type" enum:",weekly_plan_generated,intervention_generated,intervention_executed,resolution_approved,resolution_rejected,preferences_updated"`
	}) (*struct {
		Body AgentLogResponse `json:"body"`
	}, error) {
		page, err := e.ListAgentLog(ctx, input.Owner, input.Cursor, input.Limit, input.ActionType)
		if err != nil {
			return nil, handleError(err)
		}
		resp := AgentLogResponse{Items: make([]ActionEntryDTO, 0, len(page.Items)), NextCursor: page.NextCursor}
		for _, entry := range page.Items {
			resp.Items = append(resp.Items, toEntryDTO(entry))
		}
		return &struct {
			Body AgentLogResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-agent-log-item",
		Method:      http.MethodGet,
		Path:        "/users/{owner}/agent-log/{id}",
		Summary:     "One ledger entry",
	}, func(ctx context.Context, input *struct {
		Owner string `path:"owner"`
		ID    string `path:"id"`
	}) (*entryBody, error) {
		entry, err := e.GetAgentLogItem(ctx, input.Owner, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &entryBody{Body: toEntryDTO(entry)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "undo-agent-log-item",
		Method:      http.MethodPost,
		Path:        "/users/{owner}/agent-log/{id}/undo",
		Summary:     "Undo an undoable ledger entry",
	}, func(ctx context.Context, input *struct {
		Owner string `path:"owner"`
		ID    string `path:"id"`
	}) (*entryBody, error) {
		entry, err := e.UndoAction(ctx, input.Owner, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &entryBody{Body: toEntryDTO(entry)}, nil
	})
}

func registerPreferences(api huma.API, e engine.Engine) {
	type prefsBody struct {
		Body domain.Preferences `json:"body"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "get-preferences",
		Method:      http.MethodGet,
		Path:        "/users/{owner}/preferences",
		Summary:     "Current coaching flags",
	}, func(ctx context.Context, input *struct {
		Owner string `path:"owner"`
	}) (*prefsBody, error) {
		p, err := e.GetPreferences(ctx, input.Owner)
		if err != nil {
			return nil, handleError(err)
		}
		return &prefsBody{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-preferences",
		Method:      http.MethodPut,
		Path:        "/users/{owner}/preferences",
		Summary:     "Update coaching flags",
	}, func(ctx context.Context, input *struct {
		Owner string             `path:"owner"`
		Body  PreferencesRequest `json:"body"`
	}) (*prefsBody, error) {
		p, err := e.UpdatePreferences(ctx, input.Owner, domain.Preferences{
			CoachingPaused:       input.Body.CoachingPaused,
			WeeklyPlansEnabled:   input.Body.WeeklyPlansEnabled,
			InterventionsEnabled: input.Body.InterventionsEnabled,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &prefsBody{Body: p}, nil
	})
}

func registerNotificationTokens(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "register-notification-token",
		Method:        http.MethodPost,
		Path:          "/users/{owner}/notification-tokens",
		Summary:       "Register a device token",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Owner string               `path:"owner"`
		Body  RegisterTokenRequest `json:"body"`
	}) (*struct {
		Body domain.NotificationToken `json:"body"`
	}, error) {
		t, err := e.RegisterNotificationToken(ctx, input.Owner, input.Body.Token, input.Body.Platform)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.NotificationToken `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-notification-token",
		Method:        http.MethodDelete,
		Path:          "/users/{owner}/notification-tokens/{token}",
		Summary:       "Remove a device token",
		DefaultStatus: http.StatusNoContent,
	}, func(ctx context.Context, input *struct {
		Owner string `path:"owner"`
		Token string `path:"token"`
	}) (*struct{}, error) {
		if err := e.DeleteNotificationToken(ctx, input.Owner, input.Token); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}
