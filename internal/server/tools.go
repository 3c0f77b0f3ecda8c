package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"huddle/internal/engine"
)

func registerTools(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-tool",
		Method:        http.MethodPost,
		Path:          "/tools",
		Summary:       "Register a tool binding",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body CreateToolRequest `json:"body"`
	}) (*struct {
		Body ToolResponse `json:"body"`
	}, error) {
		tb, err := e.CreateToolBinding(ctx, engine.ToolCreateOptions{
			Name:           input.Body.Name,
			Command:        input.Body.Command,
			Args:           input.Body.Args,
			Env:            input.Body.Env,
			DefaultEnabled: input.Body.DefaultEnabled,
			ActorID:        "api",
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ToolResponse `json:"body"`
		}{Body: toolResponse(tb)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tools",
		Method:      http.MethodGet,
		Path:        "/tools",
		Summary:     "List tool bindings",
		Errors:      []int{http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Enabled bool `query:"enabled" doc:"Only bindings currently enabled"`
	}) (*struct {
		Body []ToolResponse `json:"body"`
	}, error) {
		items, err := e.ListToolBindings(ctx, input.Enabled)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]ToolResponse, 0, len(items))
		for _, tb := range items {
			res = append(res, toolResponse(tb))
		}
		return &struct {
			Body []ToolResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-tool-enabled",
		Method:      http.MethodPatch,
		Path:        "/tools/{tool_id}",
		Summary:     "Enable or disable a tool binding",
		Errors:      []int{http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		ToolID string `path:"tool_id"`
		Body   struct {
			Enabled bool `json:"enabled"`
		} `json:"body"`
	}) (*struct {
		Body ToolResponse `json:"body"`
	}, error) {
		tb, err := e.SetToolBindingEnabled(ctx, input.ToolID, input.Body.Enabled, "api")
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ToolResponse `json:"body"`
		}{Body: toolResponse(tb)}, nil
	})
}
