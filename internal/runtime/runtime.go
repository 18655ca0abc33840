// Package runtime wraps the container engine CLI. Every call is a
// blocking, timeout-bounded subprocess invocation; the engine is
// treated as a black box and its stderr is summarized into errors.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Default bounds for engine invocations. Create covers an image pull on
// a cold cache, so it gets a longer leash than the rest.
const (
	DefaultTimeout       = 30 * time.Second
	DefaultCreateTimeout = 120 * time.Second
)

var (
	// ErrUnavailable is returned when the container engine daemon
	// cannot be reached.
	ErrUnavailable = errors.New("container engine is not available")

	// ErrContainerNotFound is returned when an operation targets a
	// container that does not exist.
	ErrContainerNotFound = errors.New("container not found")
)

// CreateOpts configures provisioning of a drone container and its data
// volume.
type CreateOpts struct {
	Name          string            // container name
	Image         string            // sandbox image
	ContainerPort int               // port the sandbox agent listens on
	RepoPath      string            // optional host repo dir, mounted read-write
	Env           map[string]string // extra environment variables
}

// ExecResult carries the outcome of a command run inside a container.
type ExecResult struct {
	ExitCode int    `json:"exitCode"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
}

// PortMapping pairs a container port with the host port the engine
// mapped it to.
type PortMapping struct {
	ContainerPort int `json:"containerPort"`
	HostPort      int `json:"hostPort"`
}

// Runtime is the interface over container engine operations the hub
// needs. The production implementation shells out to the engine CLI;
// tests substitute fakes.
type Runtime interface {
	// Create provisions a container and its data volume. The container
	// port is published on an ephemeral loopback host port.
	Create(ctx context.Context, opts CreateOpts) error

	// Start starts a stopped container.
	Start(ctx context.Context, name string) error

	// Rename renames a container. The data volume keeps its name.
	Rename(ctx context.Context, oldName, newName string) error

	// Remove force-removes a container, and unless keepVolume is set,
	// its data volume. Removing an absent container is not an error.
	Remove(ctx context.Context, name string, keepVolume bool) error

	// Exec runs a command inside a running container and captures its
	// output. A non-zero exit code is reported in the result, not as
	// an error.
	Exec(ctx context.Context, name string, cmd []string) (ExecResult, error)

	// Running reports whether the named container exists and is running.
	Running(ctx context.Context, name string) (bool, error)

	// HostPort returns the loopback host port mapped to containerPort.
	HostPort(ctx context.Context, name string, containerPort int) (int, error)

	// Ports lists all container→host port mappings for the container.
	Ports(ctx context.Context, name string) ([]PortMapping, error)

	// MigrateVolume copies a data volume's contents into a freshly
	// created volume. The source volume is left in place.
	MigrateVolume(ctx context.Context, oldVolume, newVolume string) error
}

// VolumeName returns the deterministic data volume name for a drone.
func VolumeName(droneName string) string {
	return droneName + "-data"
}

// summarize trims engine diagnostic output to a single error-friendly
// line.
func summarize(stderr string) string {
	s, _, _ := strings.Cut(strings.TrimSpace(stderr), "\n")
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	if s == "" {
		return "no diagnostic output"
	}
	return s
}

// wrapExecErr converts a subprocess failure into a runtime error that
// carries the engine's diagnostic summary.
func wrapExecErr(verb, stderr string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("runtime: %s: timed out: %s", verb, summarize(stderr))
	}
	return fmt.Errorf("runtime: %s: %s: %w", verb, summarize(stderr), err)
}
