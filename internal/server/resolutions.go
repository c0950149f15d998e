package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"sarthi/internal/engine"
)

func registerResolutions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-resolution",
		Method:        http.MethodPost,
		Path:          "/users/{owner}/resolutions",
		Summary:       "Create a resolution from free-form goal text",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Owner string                  `path:"owner"`
		Body  CreateResolutionRequest `json:"body"`
	}) (*struct {
		Body ResolutionResponse `json:"body"`
	}, error) {
		res, err := e.Intake(ctx, input.Owner, input.Body.Text, input.Body.DurationWeeks)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ResolutionResponse `json:"body"`
		}{Body: ResolutionResponse{Resolution: res}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-resolutions",
		Method:      http.MethodGet,
		Path:        "/users/{owner}/resolutions",
		Summary:     "List resolutions",
	}, func(ctx context.Context, input *struct {
		Owner  string `path:"owner"`
		Status string `query:"status" enum:"draft,active"`
	}) (*struct {
		Body ResolutionListResponse `json:"body"`
	}, error) {
		items, err := e.ListResolutions(ctx, input.Owner, input.Status)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ResolutionListResponse `json:"body"`
		}{Body: ResolutionListResponse{Items: items}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-resolution",
		Method:      http.MethodGet,
		Path:        "/users/{owner}/resolutions/{id}",
		Summary:     "Get a resolution with its plan and tasks",
	}, func(ctx context.Context, input *struct {
		Owner string `path:"owner"`
		ID    string `path:"id"`
	}) (*struct {
		Body ResolutionResponse `json:"body"`
	}, error) {
		res, tasks, err := e.GetResolution(ctx, input.Owner, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ResolutionResponse `json:"body"`
		}{Body: ResolutionResponse{Resolution: res, Tasks: tasks}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "decompose-resolution",
		Method:      http.MethodPost,
		Path:        "/users/{owner}/resolutions/{id}/decompose",
		Summary:     "Expand a resolution into milestones and week-1 draft tasks",
	}, func(ctx context.Context, input *struct {
		Owner string           `path:"owner"`
		ID    string           `path:"id"`
		Body  DecomposeRequest `json:"body"`
	}) (*struct {
		Body DecomposeResponse `json:"body"`
	}, error) {
		plan, tasks, err := e.Decompose(ctx, input.Owner, input.ID, input.Body.Weeks, input.Body.Regenerate)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DecomposeResponse `json:"body"`
		}{Body: DecomposeResponse{Plan: plan, Week1Tasks: tasks}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "approve-resolution",
		Method:      http.MethodPost,
		Path:        "/users/{owner}/resolutions/{id}/approve",
		Summary:     "Accept, reject or regenerate a draft plan",
	}, func(ctx context.Context, input *struct {
		Owner string         `path:"owner"`
		ID    string         `path:"id"`
		Body  ApproveRequest `json:"body"`
	}) (*struct {
		Body ApproveResponse `json:"body"`
	}, error) {
		result, err := e.Approve(ctx, input.Owner, input.ID, input.Body.Decision, input.Body.TaskEdits)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ApproveResponse `json:"body"`
		}{Body: ApproveResponse{Status: result.Resolution.Status, ActivatedTasks: result.ActivatedTasks}}, nil
	})
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/users/{owner}/tasks",
		Summary:     "List tasks, optionally narrowed to one week",
	}, func(ctx context.Context, input *struct {
		Owner        string `path:"owner"`
		WeekStart    string `query:"week_start" format:"date"`
		ResolutionID string `query:"resolution_id"`
	}) (*struct {
		Body TaskListResponse `json:"body"`
	}, error) {
		items, err := e.ListTasks(ctx, input.Owner, engine.TaskListOptions{WeekStart: input.WeekStart, ResolutionID: input.ResolutionID})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskListResponse `json:"body"`
		}{Body: TaskListResponse{Items: items}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task",
		Method:      http.MethodPatch,
		Path:        "/users/{owner}/tasks/{id}",
		Summary:     "Edit or complete a task",
	}, func(ctx context.Context, input *struct {
		Owner string            `path:"owner"`
		ID    string            `path:"id"`
		Body  UpdateTaskRequest `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		t, err := e.UpdateTask(ctx, input.Owner, input.ID, engine.TaskUpdate{
			Title:           input.Body.Title,
			ScheduledDay:    input.Body.ScheduledDay,
			ScheduledTime:   input.Body.ScheduledTime,
			DurationMinutes: input.Body.DurationMinutes,
			Completed:       input.Body.Completed,
			Note:            input.Body.Note,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: TaskResponse{Task: t}}, nil
	})
}
