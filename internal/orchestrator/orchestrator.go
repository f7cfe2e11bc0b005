// Package orchestrator wraps the container runtime the deployed services
// run under. The lifecycle manager only needs two opaque calls: restart a
// service and ask whether it is running.
package orchestrator

import "context"

// Orchestrator restarts and inspects service containers.
type Orchestrator interface {
	// Restart restarts the named container. Blocks until the runtime
	// acknowledges the restart.
	Restart(ctx context.Context, service string) error

	// IsRunning reports whether the named container is currently running.
	IsRunning(ctx context.Context, service string) (bool, error)
}
