package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"huddle/internal/domain"
	"huddle/internal/events"
)

// ToolCreateOptions are parameters for registering a tool binding.
type ToolCreateOptions struct {
	Name           string
	Command        string
	Args           []string
	Env            map[string]string
	DefaultEnabled bool
	ActorID        string
}

func (e Engine) CreateToolBinding(ctx context.Context, opts ToolCreateOptions) (domain.ToolBinding, error) {
	if opts.Name == "" {
		return domain.ToolBinding{}, fmt.Errorf("tool name is required")
	}
	if opts.Command == "" {
		return domain.ToolBinding{}, fmt.Errorf("tool command is required")
	}
	now := e.now().UTC().Format(time.RFC3339)
	tb := domain.ToolBinding{
		ID:             uuid.NewString(),
		Name:           opts.Name,
		Command:        opts.Command,
		Args:           opts.Args,
		Env:            opts.Env,
		DefaultEnabled: opts.DefaultEnabled,
		Enabled:        opts.DefaultEnabled,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := e.Repo.InsertToolBinding(ctx, tb); err != nil {
		return domain.ToolBinding{}, fmt.Errorf("insert tool binding: %w", err)
	}
	if err := e.Events.Append(ctx, "tool.create", "", "tool_binding", tb.ID, opts.ActorID, events.EventPayload{"name": tb.Name}); err != nil {
		return domain.ToolBinding{}, err
	}
	return tb, nil
}

func (e Engine) ListToolBindings(ctx context.Context, onlyEnabled bool) ([]domain.ToolBinding, error) {
	return e.Repo.ListToolBindings(ctx, onlyEnabled)
}

func (e Engine) SetToolBindingEnabled(ctx context.Context, id string, enabled bool, actorID string) (domain.ToolBinding, error) {
	now := e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.SetToolBindingEnabled(ctx, id, enabled, now); err != nil {
		return domain.ToolBinding{}, err
	}
	if err := e.Events.Append(ctx, "tool.enable", "", "tool_binding", id, actorID, events.EventPayload{"enabled": enabled}); err != nil {
		return domain.ToolBinding{}, err
	}
	return e.Repo.GetToolBinding(ctx, id)
}
