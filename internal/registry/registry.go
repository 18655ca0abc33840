// Package registry is the hub's authoritative store of drone and group
// records, persisted as a single JSON document on disk.
package registry

import (
	"time"
)

// Ungrouped is the reserved sentinel for drones that belong to no group.
// It is never a real group record and can never be created, renamed to,
// or deleted.
const Ungrouped = "ungrouped"

// Phase describes where a drone is in its boot lifecycle, as tracked by
// the hub (not the container runtime).
type Phase string

const (
	PhaseCreating Phase = "creating"
	PhaseStarting Phase = "starting"
	PhaseSeeding  Phase = "seeding"
	PhaseRunning  Phase = "running"
	PhaseError    Phase = "error"
)

// Drone is the registry record for one sandbox container.
//
// ID is allocated at creation and never changes. Name is the unique
// display and lookup key, mutable only via rename. ContainerPort is
// fixed at creation; HostPort is whatever the runtime mapped it to and
// is zero until the container is running.
type Drone struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Group         string    `json:"group,omitempty"`
	RepoPath      string    `json:"repoPath,omitempty"`
	ContainerPort int       `json:"containerPort"`
	HostPort      int       `json:"hostPort,omitempty"`
	Token         string    `json:"token"`
	CreatedAt     time.Time `json:"createdAt"`
	Chats         []string  `json:"chats,omitempty"`
	Phase         Phase     `json:"hubPhase"`
	Message       string    `json:"hubMessage,omitempty"`
}

// Group is a named collection of drones. Its existence is independent
// of membership: an empty group stays until explicitly deleted.
type Group struct {
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Registry is the full on-disk document.
//
// The drone map key should equal the record's Name, but lookups never
// assume it does: external tooling and old bugs can desynchronize the
// two, so the key is treated as an index and resolution always goes by
// the record's own Name/ID fields.
type Registry struct {
	Drones map[string]*Drone `json:"drones"`
	Groups map[string]*Group `json:"groups"`
}

// NewRegistry returns an empty registry with initialized maps.
func NewRegistry() *Registry {
	return &Registry{
		Drones: map[string]*Drone{},
		Groups: map[string]*Group{},
	}
}

// DroneByName finds the drone whose Name field equals name, tolerating
// key/name drift. It prefers an exact key match when that record's Name
// also matches, otherwise scans all records.
func (r *Registry) DroneByName(name string) *Drone {
	if d, ok := r.Drones[name]; ok && d.Name == name {
		return d
	}
	for _, d := range r.Drones {
		if d.Name == name {
			return d
		}
	}
	return nil
}

// DroneByID finds the drone whose ID field equals id.
func (r *Registry) DroneByID(id string) *Drone {
	for _, d := range r.Drones {
		if d.ID == id {
			return d
		}
	}
	return nil
}

// ResolveDrone finds a drone by ID first, then by name.
func (r *Registry) ResolveDrone(ref string) *Drone {
	if d := r.DroneByID(ref); d != nil {
		return d
	}
	return r.DroneByName(ref)
}

// PutDrone stores d under its Name, removing any stale entries for the
// same ID stored under other keys. This is the self-healing step that
// keeps the map key converging back to the record's Name.
func (r *Registry) PutDrone(d *Drone) {
	if r.Drones == nil {
		r.Drones = map[string]*Drone{}
	}
	for key, existing := range r.Drones {
		if existing.ID == d.ID && key != d.Name {
			delete(r.Drones, key)
		}
	}
	r.Drones[d.Name] = d
}

// DeleteDrone removes every entry whose record ID matches, regardless
// of what key it is stored under. Returns true if anything was removed.
func (r *Registry) DeleteDrone(id string) bool {
	removed := false
	for key, d := range r.Drones {
		if d.ID == id {
			delete(r.Drones, key)
			removed = true
		}
	}
	return removed
}

// GroupByName finds a group record, tolerating key/name drift like
// DroneByName.
func (r *Registry) GroupByName(name string) *Group {
	if g, ok := r.Groups[name]; ok && g.Name == name {
		return g
	}
	for _, g := range r.Groups {
		if g.Name == name {
			return g
		}
	}
	return nil
}

// PutGroup stores g under its Name, pruning drifted keys.
func (r *Registry) PutGroup(g *Group) {
	if r.Groups == nil {
		r.Groups = map[string]*Group{}
	}
	for key, existing := range r.Groups {
		if existing.Name == g.Name && key != g.Name {
			delete(r.Groups, key)
		}
	}
	r.Groups[g.Name] = g
}

// DeleteGroup removes the group record for name. Member drones are not
// touched; cascading is the orchestrator's job.
func (r *Registry) DeleteGroup(name string) bool {
	removed := false
	for key, g := range r.Groups {
		if g.Name == name {
			delete(r.Groups, key)
			removed = true
		}
	}
	return removed
}

// Members returns the drones whose Group field equals name.
func (r *Registry) Members(name string) []*Drone {
	var out []*Drone
	for _, d := range r.Drones {
		if d.Group == name {
			out = append(out, d)
		}
	}
	return out
}

// MemberCount computes group membership at read time by scanning the
// drones map. There is no stored counter.
func (r *Registry) MemberCount(name string) int {
	n := 0
	for _, d := range r.Drones {
		if d.Group == name {
			n++
		}
	}
	return n
}
