package runtime

import (
	"context"
	"fmt"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
)

// Docker drives a local Docker daemon.
type Docker struct {
	cli *client.Client
}

func NewDocker() (*Docker, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("connect to docker daemon: %w", err)
	}
	return &Docker{cli: cli}, nil
}

func (d *Docker) Create(ctx context.Context, spec Spec) (string, error) {
	cfg := &container.Config{
		Image:  spec.Image,
		Cmd:    spec.Cmd,
		Env:    spec.Env,
		Labels: spec.Labels,
	}
	// Containers stay around after exit so the reconciler can still read
	// exit codes; cleanup is a separate concern.
	hostCfg := &container.HostConfig{
		Binds:      spec.Binds,
		AutoRemove: false,
	}
	resp, err := d.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, spec.Name)
	if err != nil {
		return "", fmt.Errorf("create container: %w", err)
	}
	return resp.ID, nil
}

func (d *Docker) Start(ctx context.Context, id string) error {
	if err := d.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return fmt.Errorf("start container %s: %w", id, err)
	}
	return nil
}

func (d *Docker) Inspect(ctx context.Context, id string) (Status, error) {
	info, err := d.cli.ContainerInspect(ctx, id)
	if err != nil {
		return Status{}, fmt.Errorf("inspect container %s: %w", id, err)
	}
	if info.State == nil {
		return Status{}, fmt.Errorf("inspect container %s: no state", id)
	}
	return Status{Running: info.State.Running, ExitCode: info.State.ExitCode}, nil
}

func (d *Docker) Stop(ctx context.Context, id string) error {
	err := d.cli.ContainerStop(ctx, id, container.StopOptions{})
	if err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("stop container %s: %w", id, err)
	}
	return nil
}
