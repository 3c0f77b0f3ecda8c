// Package runtime abstracts the container runtime the worker processes run
// in. The engine only needs create/start/inspect/stop, so the interface is
// kept that small and a test double can stand in for a real daemon.
package runtime

import "context"

// Spec describes one worker container.
type Spec struct {
	Name   string
	Image  string
	Cmd    []string
	Env    []string
	Binds  []string
	Labels map[string]string
}

// Status is the observed state of a container.
type Status struct {
	Running  bool
	ExitCode int
}

type Runtime interface {
	// Create builds a container from spec and returns its handle.
	Create(ctx context.Context, spec Spec) (string, error)
	Start(ctx context.Context, id string) error
	// Inspect reports whether the container is running and, once exited,
	// its exit code. An unknown container is an error.
	Inspect(ctx context.Context, id string) (Status, error)
	// Stop halts the container. Stopping an already-stopped or removed
	// container is not an error.
	Stop(ctx context.Context, id string) error
}
