// Package hive is the lifecycle orchestrator: it sequences container
// runtime operations and registry updates for drone create, rename,
// and remove, and owns the compensation logic that keeps the two
// systems consistent when one of them fails.
//
// The registry's write lock is never held across a runtime call. Every
// operation follows the same bracket: invoke the runtime first, then
// acquire the store, update, release. Rename therefore cannot be a
// single atomic commit; its registry failure path triggers an explicit
// compensating container rename instead.
package hive

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"github.com/zulandar/dronehub/internal/audit"
	"github.com/zulandar/dronehub/internal/registry"
	"github.com/zulandar/dronehub/internal/runtime"
	"github.com/zulandar/dronehub/internal/telegraph"
)

// nameRe matches names the container engine accepts, lowercased for
// stable DNS-ish addressing.
var nameRe = regexp.MustCompile(`^[a-z0-9][a-z0-9_.-]{0,62}$`)

// Orchestrator drives drone lifecycle operations.
type Orchestrator struct {
	store  registry.Store
	rt     runtime.Runtime
	trail  *audit.Log         // optional
	notify telegraph.Notifier // optional

	image       string
	defaultPort int
}

// Options configures an Orchestrator.
type Options struct {
	Image       string // default sandbox image
	DefaultPort int    // container port used when a create spec has none
	Audit       *audit.Log
	Notifier    telegraph.Notifier
}

// New creates an Orchestrator over the given store and runtime.
func New(store registry.Store, rt runtime.Runtime, opts Options) *Orchestrator {
	if opts.DefaultPort == 0 {
		opts.DefaultPort = 7777
	}
	return &Orchestrator{
		store:       store,
		rt:          rt,
		trail:       opts.Audit,
		notify:      opts.Notifier,
		image:       opts.Image,
		defaultPort: opts.DefaultPort,
	}
}

// CreateSpec describes a drone to provision.
type CreateSpec struct {
	Name          string `json:"name"`
	Group         string `json:"group,omitempty"`
	RepoPath      string `json:"repoPath,omitempty"`
	ContainerPort int    `json:"containerPort,omitempty"`
	Image         string `json:"image,omitempty"`
}

// Create provisions a container plus data volume and registers the
// drone. A failed runtime provision leaves no registry entry; a failed
// registry write tears the fresh container back down so no orphan
// container outlives the error.
func (o *Orchestrator) Create(ctx context.Context, spec CreateSpec) (*registry.Drone, error) {
	started := time.Now()

	if err := validateName(spec.Name); err != nil {
		return nil, err
	}
	if spec.Group != "" && spec.Group == registry.Ungrouped {
		return nil, fmt.Errorf("group %q: %w", spec.Group, ErrReservedName)
	}
	if spec.ContainerPort == 0 {
		spec.ContainerPort = o.defaultPort
	}
	if spec.Image == "" {
		spec.Image = o.image
	}

	// Cheap pre-check before touching the runtime. The authoritative
	// check is re-run inside the update mutator.
	reg, err := o.store.Read()
	if err != nil {
		return nil, err
	}
	if reg.DroneByName(spec.Name) != nil {
		return nil, fmt.Errorf("%s: %w", spec.Name, ErrDroneExists)
	}

	id, err := newID("drn")
	if err != nil {
		return nil, err
	}
	token, err := newToken()
	if err != nil {
		return nil, err
	}

	err = o.rt.Create(ctx, runtime.CreateOpts{
		Name:          spec.Name,
		Image:         spec.Image,
		ContainerPort: spec.ContainerPort,
		RepoPath:      spec.RepoPath,
		Env:           map[string]string{"DRONE_TOKEN": token},
	})
	if err != nil {
		o.record("create", id, spec.Name, audit.OutcomeError, err.Error(), started)
		return nil, err
	}

	hostPort, hpErr := o.rt.HostPort(ctx, spec.Name, spec.ContainerPort)
	if hpErr != nil {
		// The container may still be coming up; the port is refreshed
		// on status reads and reconcile passes.
		hostPort = 0
	}

	drone := &registry.Drone{
		ID:            id,
		Name:          spec.Name,
		Group:         spec.Group,
		RepoPath:      spec.RepoPath,
		ContainerPort: spec.ContainerPort,
		HostPort:      hostPort,
		Token:         token,
		CreatedAt:     time.Now(),
		Phase:         registry.PhaseStarting,
	}

	_, err = o.store.Update(func(r *registry.Registry) error {
		if r.DroneByName(spec.Name) != nil {
			return fmt.Errorf("%s: %w", spec.Name, ErrDroneExists)
		}
		if spec.Group != "" && r.GroupByName(spec.Group) == nil {
			// Implicit group creation on first assignment.
			now := time.Now()
			r.PutGroup(&registry.Group{Name: spec.Group, CreatedAt: now, UpdatedAt: now})
		}
		r.PutDrone(drone)
		return nil
	})
	if err != nil {
		// Tear the container down so the failed create leaves nothing
		// behind on either side.
		if rmErr := o.rt.Remove(ctx, spec.Name, false); rmErr != nil {
			log.Printf("hive: cleanup after failed create of %s: %v", spec.Name, rmErr)
		}
		o.record("create", id, spec.Name, audit.OutcomeError, err.Error(), started)
		return nil, err
	}

	o.record("create", id, spec.Name, audit.OutcomeOK, "", started)
	o.event(ctx, telegraph.Event{
		Title:    fmt.Sprintf("Drone %s created", spec.Name),
		Severity: telegraph.SeveritySuccess,
		Fields:   droneFields(drone),
	})
	return drone, nil
}

// RenameOpts configures a rename.
type RenameOpts struct {
	// StartMode, when "running", ensures the container is started
	// after a successful rename. Empty or "stopped" leaves the
	// container's run state alone.
	StartMode string

	// MigrateVolumeName, when set, copies the drone's data volume into
	// a volume of this name after the container rename succeeds.
	MigrateVolumeName string
}

// Rename renames a drone across both systems. The forward action is
// the container rename; the registry write is the dependent step. If
// the registry write fails, the container is renamed back so the
// caller observes the drone untouched under its old name. If that
// compensating rename also fails, a CompensationError escalates the
// condition instead of swallowing it.
func (o *Orchestrator) Rename(ctx context.Context, oldName, newName string, opts RenameOpts) error {
	started := time.Now()

	if err := validateName(newName); err != nil {
		return err
	}
	if opts.StartMode != "" && opts.StartMode != "running" && opts.StartMode != "stopped" {
		return fmt.Errorf("start mode %q: %w", opts.StartMode, ErrInvalidName)
	}

	reg, err := o.store.Read()
	if err != nil {
		return err
	}
	// Resolve by the record's own name, never by map key.
	drone := reg.DroneByName(oldName)
	if drone == nil {
		return fmt.Errorf("%s: %w", oldName, ErrDroneNotFound)
	}
	if reg.DroneByName(newName) != nil {
		return fmt.Errorf("%s: %w", newName, ErrDroneExists)
	}

	// Forward action: rename the container. Runs outside any registry
	// lock.
	if err := o.rt.Rename(ctx, oldName, newName); err != nil {
		o.record("rename", drone.ID, oldName, audit.OutcomeError, err.Error(), started)
		return err
	}

	if opts.MigrateVolumeName != "" {
		if err := o.rt.MigrateVolume(ctx, runtime.VolumeName(oldName), opts.MigrateVolumeName); err != nil {
			return o.compensateRename(ctx, drone.ID, oldName, newName, err, started)
		}
	}

	// Dependent step: commit the new name, self-healing the map key.
	_, err = o.store.Update(func(r *registry.Registry) error {
		d := r.DroneByName(oldName)
		if d == nil {
			return fmt.Errorf("%s: %w", oldName, ErrDroneNotFound)
		}
		d.Name = newName
		r.PutDrone(d)
		return nil
	})
	if err != nil {
		return o.compensateRename(ctx, drone.ID, oldName, newName, err, started)
	}

	if opts.StartMode == "running" {
		if err := o.rt.Start(ctx, newName); err != nil {
			log.Printf("hive: start %s after rename: %v", newName, err)
		}
	}

	o.record("rename", drone.ID, newName, audit.OutcomeOK, oldName+" -> "+newName, started)
	o.event(ctx, telegraph.Event{
		Title:    fmt.Sprintf("Drone %s renamed to %s", oldName, newName),
		Severity: telegraph.SeveritySuccess,
	})
	return nil
}

// compensateRename renames the container back to oldName after the
// dependent step failed. Success yields a RolledBackError; failure
// escalates to a CompensationError.
func (o *Orchestrator) compensateRename(ctx context.Context, id, oldName, newName string, cause error, started time.Time) error {
	if compErr := o.rt.Rename(ctx, newName, oldName); compErr != nil {
		fatal := &CompensationError{Op: "rename " + oldName, Cause: cause, CompErr: compErr}
		o.record("rename", id, oldName, audit.OutcomeFatal, fatal.Error(), started)
		o.event(ctx, telegraph.Event{
			Title:    fmt.Sprintf("Drone %s rename needs manual intervention", oldName),
			Body:     fatal.Error(),
			Severity: telegraph.SeverityError,
		})
		return fatal
	}
	o.record("rename", id, oldName, audit.OutcomeRolledBack, cause.Error(), started)
	o.event(ctx, telegraph.Event{
		Title:    fmt.Sprintf("Drone %s rename rolled back", oldName),
		Body:     cause.Error(),
		Severity: telegraph.SeverityWarning,
	})
	return &RolledBackError{Op: "rename " + oldName + " -> " + newName, Err: cause}
}

// RemoveOpts configures a remove.
type RemoveOpts struct {
	KeepVolume bool
}

// Remove tears down the container (and, unless KeepVolume is set, its
// data volume) and deletes the registry record. Remove is idempotent:
// removing a drone that is already gone succeeds as a no-op.
func (o *Orchestrator) Remove(ctx context.Context, ref string, opts RemoveOpts) error {
	started := time.Now()

	reg, err := o.store.Read()
	if err != nil {
		return err
	}
	drone := reg.ResolveDrone(ref)
	if drone == nil {
		// Already removed, or never existed. Sweep any stray container
		// under that name, then succeed.
		if err := o.rt.Remove(ctx, ref, opts.KeepVolume); err != nil {
			log.Printf("hive: sweep %s: %v", ref, err)
		}
		return nil
	}

	if err := o.rt.Remove(ctx, drone.Name, opts.KeepVolume); err != nil {
		o.record("remove", drone.ID, drone.Name, audit.OutcomeError, err.Error(), started)
		return err
	}

	_, err = o.store.Update(func(r *registry.Registry) error {
		r.DeleteDrone(drone.ID)
		return nil
	})
	if err != nil {
		o.record("remove", drone.ID, drone.Name, audit.OutcomeError, err.Error(), started)
		return err
	}

	o.record("remove", drone.ID, drone.Name, audit.OutcomeOK, "", started)
	o.event(ctx, telegraph.Event{
		Title:    fmt.Sprintf("Drone %s removed", drone.Name),
		Severity: telegraph.SeverityInfo,
	})
	return nil
}

// DroneStatus is the read-through view of one drone: the registry
// record plus live runtime observations.
type DroneStatus struct {
	registry.Drone
	Running bool `json:"running"`
}

// Status resolves a drone by ID or name and enriches the record with
// the container's live state. It never mutates the registry.
func (o *Orchestrator) Status(ctx context.Context, ref string) (*DroneStatus, error) {
	reg, err := o.store.Read()
	if err != nil {
		return nil, err
	}
	drone := reg.ResolveDrone(ref)
	if drone == nil {
		return nil, fmt.Errorf("%s: %w", ref, ErrDroneNotFound)
	}

	st := &DroneStatus{Drone: *drone}
	running, err := o.rt.Running(ctx, drone.Name)
	if err == nil {
		st.Running = running
	}
	if running {
		if hp, err := o.rt.HostPort(ctx, drone.Name, drone.ContainerPort); err == nil {
			st.HostPort = hp
		}
	}
	return st, nil
}

// List returns all registered drones.
func (o *Orchestrator) List(ctx context.Context) ([]*registry.Drone, error) {
	reg, err := o.store.Read()
	if err != nil {
		return nil, err
	}
	var out []*registry.Drone
	for _, d := range reg.Drones {
		out = append(out, d)
	}
	return out, nil
}

// Exec runs a command inside a drone's container.
func (o *Orchestrator) Exec(ctx context.Context, ref string, cmd []string) (runtime.ExecResult, error) {
	reg, err := o.store.Read()
	if err != nil {
		return runtime.ExecResult{}, err
	}
	drone := reg.ResolveDrone(ref)
	if drone == nil {
		return runtime.ExecResult{}, fmt.Errorf("%s: %w", ref, ErrDroneNotFound)
	}
	return o.rt.Exec(ctx, drone.Name, cmd)
}

// FSEntry is one directory listing entry inside a drone.
type FSEntry struct {
	Name string `json:"name"`
	Dir  bool   `json:"dir"`
}

// FSList lists a directory inside a drone's container.
func (o *Orchestrator) FSList(ctx context.Context, ref, path string) ([]FSEntry, error) {
	if path == "" {
		path = "/workspace"
	}
	res, err := o.Exec(ctx, ref, []string{"ls", "-1Ap", path})
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("hive: list %s: %s", path, strings.TrimSpace(res.Stderr))
	}
	var entries []FSEntry
	for _, line := range strings.Split(res.Stdout, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasSuffix(line, "/") {
			entries = append(entries, FSEntry{Name: strings.TrimSuffix(line, "/"), Dir: true})
		} else {
			entries = append(entries, FSEntry{Name: line})
		}
	}
	return entries, nil
}

// Ports returns the drone's live port mappings.
func (o *Orchestrator) Ports(ctx context.Context, ref string) ([]runtime.PortMapping, error) {
	reg, err := o.store.Read()
	if err != nil {
		return nil, err
	}
	drone := reg.ResolveDrone(ref)
	if drone == nil {
		return nil, fmt.Errorf("%s: %w", ref, ErrDroneNotFound)
	}
	return o.rt.Ports(ctx, drone.Name)
}

// Reconcile advances boot phases by observing the runtime: starting
// drones whose containers are up move to seeding (repo drones) or
// running; seeding drones whose workspace answers a probe move to
// running. Called periodically by the serve loop.
func (o *Orchestrator) Reconcile(ctx context.Context) error {
	reg, err := o.store.Read()
	if err != nil {
		return err
	}

	type change struct {
		id      string
		phase   registry.Phase
		message string
		port    int
	}
	var changes []change

	for _, d := range reg.Drones {
		switch d.Phase {
		case registry.PhaseStarting:
			running, err := o.rt.Running(ctx, d.Name)
			if err != nil || !running {
				continue
			}
			next := registry.PhaseRunning
			if d.RepoPath != "" {
				next = registry.PhaseSeeding
			}
			hp := d.HostPort
			if p, err := o.rt.HostPort(ctx, d.Name, d.ContainerPort); err == nil {
				hp = p
			}
			changes = append(changes, change{id: d.ID, phase: next, port: hp})

		case registry.PhaseSeeding:
			res, err := o.rt.Exec(ctx, d.Name, []string{"test", "-d", "/workspace/repo"})
			if err != nil {
				continue
			}
			if res.ExitCode == 0 {
				changes = append(changes, change{id: d.ID, phase: registry.PhaseRunning, port: d.HostPort})
			} else {
				changes = append(changes, change{
					id:      d.ID,
					phase:   registry.PhaseError,
					message: "repo mount missing in workspace",
					port:    d.HostPort,
				})
			}
		}
	}

	if len(changes) == 0 {
		return nil
	}
	_, err = o.store.Update(func(r *registry.Registry) error {
		for _, c := range changes {
			d := r.DroneByID(c.id)
			if d == nil {
				continue
			}
			d.Phase = c.phase
			d.Message = c.message
			if c.port != 0 {
				d.HostPort = c.port
			}
			r.PutDrone(d)
		}
		return nil
	})
	return err
}

// record appends to the audit trail, best-effort.
func (o *Orchestrator) record(op, id, name, outcome, detail string, started time.Time) {
	if o.trail == nil {
		return
	}
	err := o.trail.Append(audit.Record{
		Op:         op,
		DroneID:    id,
		DroneName:  name,
		Outcome:    outcome,
		Detail:     detail,
		DurationMS: time.Since(started).Milliseconds(),
	})
	if err != nil {
		log.Printf("hive: audit %s %s: %v", op, name, err)
	}
}

// event notifies chat platforms, best-effort.
func (o *Orchestrator) event(ctx context.Context, evt telegraph.Event) {
	if o.notify == nil {
		return
	}
	if err := o.notify.Send(ctx, evt); err != nil {
		log.Printf("hive: notify %q: %v", evt.Title, err)
	}
}

func droneFields(d *registry.Drone) []telegraph.Field {
	fields := []telegraph.Field{
		{Name: "id", Value: d.ID, Short: true},
		{Name: "port", Value: fmt.Sprintf("%d", d.ContainerPort), Short: true},
	}
	if d.Group != "" {
		fields = append(fields, telegraph.Field{Name: "group", Value: d.Group, Short: true})
	}
	return fields
}

// validateName checks drone and group name charset and length.
func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("empty name: %w", ErrInvalidName)
	}
	if !nameRe.MatchString(name) {
		return fmt.Errorf("%q: %w", name, ErrInvalidName)
	}
	return nil
}

// newID returns a prefixed random identifier, e.g. "drn-1a2b3c4d".
func newID(prefix string) (string, error) {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("hive: generate id: %w", err)
	}
	return prefix + "-" + hex.EncodeToString(b), nil
}

// newToken returns a per-drone credential.
func newToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("hive: generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
