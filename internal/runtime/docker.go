package runtime

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Docker implements Runtime using the docker CLI via os/exec.
type Docker struct {
	// Binary is the engine CLI to invoke. Defaults to "docker"; podman
	// is drop-in compatible for the subcommands used here.
	Binary string

	// Timeout bounds every invocation except Create, which uses
	// CreateTimeout. Zero means the package defaults.
	Timeout       time.Duration
	CreateTimeout time.Duration
}

func (d *Docker) binary() string {
	if d.Binary == "" {
		return "docker"
	}
	return d.Binary
}

func (d *Docker) timeout() time.Duration {
	if d.Timeout > 0 {
		return d.Timeout
	}
	return DefaultTimeout
}

func (d *Docker) createTimeout() time.Duration {
	if d.CreateTimeout > 0 {
		return d.CreateTimeout
	}
	return DefaultCreateTimeout
}

// run executes an engine CLI invocation bounded by timeout and returns
// captured stdout and stderr.
func (d *Docker) run(ctx context.Context, timeout time.Duration, args ...string) (string, string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, d.binary(), args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	if ctx.Err() != nil {
		err = ctx.Err()
	}
	return stdout.String(), stderr.String(), err
}

// Preflight checks that the engine daemon is reachable.
func (d *Docker) Preflight(ctx context.Context) error {
	if _, _, err := d.run(ctx, d.timeout(), "info", "--format", "{{.ServerVersion}}"); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return nil
}

// createArgs builds the docker run arguments for provisioning a drone.
func createArgs(opts CreateOpts) []string {
	args := []string{
		"run", "-d",
		"--name", opts.Name,
		"--label", "dronehub.managed=true",
		"-v", VolumeName(opts.Name) + ":/workspace",
		"-p", fmt.Sprintf("127.0.0.1::%d", opts.ContainerPort),
	}
	if opts.RepoPath != "" {
		args = append(args, "-v", opts.RepoPath+":/workspace/repo")
	}
	keys := make([]string, 0, len(opts.Env))
	for k := range opts.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "-e", k+"="+opts.Env[k])
	}
	args = append(args, opts.Image)
	return args
}

// Create provisions the container and its data volume. The volume is
// created implicitly by the -v mount; the container port is published
// on an ephemeral loopback host port.
func (d *Docker) Create(ctx context.Context, opts CreateOpts) error {
	if opts.Name == "" {
		return fmt.Errorf("runtime: create: name is required")
	}
	if opts.Image == "" {
		return fmt.Errorf("runtime: create: image is required")
	}
	if opts.ContainerPort <= 0 {
		return fmt.Errorf("runtime: create: container port is required")
	}
	if _, stderr, err := d.run(ctx, d.createTimeout(), createArgs(opts)...); err != nil {
		return wrapExecErr("create "+opts.Name, stderr, err)
	}
	return nil
}

// Start starts a stopped container.
func (d *Docker) Start(ctx context.Context, name string) error {
	if _, stderr, err := d.run(ctx, d.timeout(), "start", name); err != nil {
		if isNoSuchContainer(stderr) {
			return fmt.Errorf("%s: %w", name, ErrContainerNotFound)
		}
		return wrapExecErr("start "+name, stderr, err)
	}
	return nil
}

// Rename renames the container. The data volume keeps its old name;
// volume migration is a separate, explicit operation.
func (d *Docker) Rename(ctx context.Context, oldName, newName string) error {
	if _, stderr, err := d.run(ctx, d.timeout(), "rename", oldName, newName); err != nil {
		if isNoSuchContainer(stderr) {
			return fmt.Errorf("%s: %w", oldName, ErrContainerNotFound)
		}
		return wrapExecErr(fmt.Sprintf("rename %s -> %s", oldName, newName), stderr, err)
	}
	return nil
}

// Remove force-removes the container and, unless keepVolume is set, its
// data volume. Absent containers and volumes are treated as already
// removed.
func (d *Docker) Remove(ctx context.Context, name string, keepVolume bool) error {
	if _, stderr, err := d.run(ctx, d.timeout(), "rm", "-f", name); err != nil {
		if !isNoSuchContainer(stderr) {
			return wrapExecErr("remove "+name, stderr, err)
		}
	}
	if keepVolume {
		return nil
	}
	if _, stderr, err := d.run(ctx, d.timeout(), "volume", "rm", VolumeName(name)); err != nil {
		if !isNoSuchVolume(stderr) {
			return wrapExecErr("remove volume "+VolumeName(name), stderr, err)
		}
	}
	return nil
}

// Exec runs a command inside the container. Exit codes are data, not
// errors; only engine-level failures (missing container, timeout)
// return an error.
func (d *Docker) Exec(ctx context.Context, name string, cmd []string) (ExecResult, error) {
	if len(cmd) == 0 {
		return ExecResult{}, fmt.Errorf("runtime: exec: command is required")
	}
	running, err := d.Running(ctx, name)
	if err != nil {
		return ExecResult{}, err
	}
	if !running {
		return ExecResult{}, fmt.Errorf("%s: %w", name, ErrContainerNotFound)
	}

	args := append([]string{"exec", name}, cmd...)
	ctx, cancel := context.WithTimeout(ctx, d.timeout())
	defer cancel()

	c := exec.CommandContext(ctx, d.binary(), args...)
	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	runErr := c.Run()
	res := ExecResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if runErr == nil {
		return res, nil
	}
	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}
	if ctx.Err() != nil {
		return res, wrapExecErr("exec in "+name, stderr.String(), ctx.Err())
	}
	return res, wrapExecErr("exec in "+name, stderr.String(), runErr)
}

// Running reports whether the container exists and is in the running
// state. A missing container is (false, nil), not an error.
func (d *Docker) Running(ctx context.Context, name string) (bool, error) {
	stdout, stderr, err := d.run(ctx, d.timeout(), "inspect", "--format", "{{.State.Running}}", name)
	if err != nil {
		if isNoSuchContainer(stderr) {
			return false, nil
		}
		return false, wrapExecErr("inspect "+name, stderr, err)
	}
	return strings.TrimSpace(stdout) == "true", nil
}

// HostPort returns the loopback host port the engine mapped to
// containerPort.
func (d *Docker) HostPort(ctx context.Context, name string, containerPort int) (int, error) {
	stdout, stderr, err := d.run(ctx, d.timeout(), "port", name, fmt.Sprintf("%d/tcp", containerPort))
	if err != nil {
		if isNoSuchContainer(stderr) {
			return 0, fmt.Errorf("%s: %w", name, ErrContainerNotFound)
		}
		return 0, wrapExecErr("port "+name, stderr, err)
	}
	port, err := parseHostPort(stdout)
	if err != nil {
		return 0, fmt.Errorf("runtime: port %s: %w", name, err)
	}
	return port, nil
}

// Ports lists every published port mapping for the container by parsing
// `docker port` output.
func (d *Docker) Ports(ctx context.Context, name string) ([]PortMapping, error) {
	stdout, stderr, err := d.run(ctx, d.timeout(), "port", name)
	if err != nil {
		if isNoSuchContainer(stderr) {
			return nil, fmt.Errorf("%s: %w", name, ErrContainerNotFound)
		}
		return nil, wrapExecErr("port "+name, stderr, err)
	}
	return parsePortMappings(stdout)
}

// MigrateVolume creates newVolume and copies oldVolume's contents into
// it using a throwaway helper container. The source volume is left in
// place so a failed migration loses nothing.
func (d *Docker) MigrateVolume(ctx context.Context, oldVolume, newVolume string) error {
	if _, stderr, err := d.run(ctx, d.timeout(), "volume", "create", newVolume); err != nil {
		return wrapExecErr("create volume "+newVolume, stderr, err)
	}
	args := []string{
		"run", "--rm",
		"-v", oldVolume + ":/from:ro",
		"-v", newVolume + ":/to",
		"busybox", "sh", "-c", "cp -a /from/. /to/",
	}
	if _, stderr, err := d.run(ctx, d.createTimeout(), args...); err != nil {
		// Clean up the half-filled target; the source is untouched.
		d.run(ctx, d.timeout(), "volume", "rm", newVolume)
		return wrapExecErr(fmt.Sprintf("migrate volume %s -> %s", oldVolume, newVolume), stderr, err)
	}
	return nil
}

// parseHostPort extracts the port from docker port output such as
// "127.0.0.1:49153" (possibly multiple lines for v4/v6).
func parseHostPort(out string) (int, error) {
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		line = strings.TrimSpace(line)
		idx := strings.LastIndex(line, ":")
		if idx < 0 {
			continue
		}
		port, err := strconv.Atoi(line[idx+1:])
		if err != nil || port <= 0 {
			continue
		}
		return port, nil
	}
	return 0, fmt.Errorf("no host port in output %q", strings.TrimSpace(out))
}

// parsePortMappings parses full `docker port` output, lines like
// "7777/tcp -> 127.0.0.1:49153".
func parsePortMappings(out string) ([]PortMapping, error) {
	var mappings []PortMapping
	seen := map[int]bool{}
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		spec, addr, ok := strings.Cut(line, " -> ")
		if !ok {
			continue
		}
		portStr, _, _ := strings.Cut(spec, "/")
		containerPort, err := strconv.Atoi(portStr)
		if err != nil {
			continue
		}
		hostPort, err := parseHostPort(addr)
		if err != nil {
			continue
		}
		if seen[containerPort] {
			continue
		}
		seen[containerPort] = true
		mappings = append(mappings, PortMapping{ContainerPort: containerPort, HostPort: hostPort})
	}
	sort.Slice(mappings, func(i, j int) bool { return mappings[i].ContainerPort < mappings[j].ContainerPort })
	return mappings, nil
}

// isNoSuchContainer matches the engine's diagnostics for an absent
// container across docker and podman wording.
func isNoSuchContainer(stderr string) bool {
	s := strings.ToLower(stderr)
	return strings.Contains(s, "no such container") ||
		strings.Contains(s, "no such object") ||
		strings.Contains(s, "no container with name")
}

func isNoSuchVolume(stderr string) bool {
	s := strings.ToLower(stderr)
	return strings.Contains(s, "no such volume") || strings.Contains(s, "volume not found")
}
