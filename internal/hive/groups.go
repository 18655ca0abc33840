package hive

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/zulandar/dronehub/internal/registry"
	"github.com/zulandar/dronehub/internal/telegraph"
)

// GroupInfo is a group record plus its membership count, computed at
// read time from the drones map. There is no stored counter to drift.
type GroupInfo struct {
	Name       string    `json:"name"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
	TotalCount int       `json:"totalCount"`
}

// CreateGroup inserts a group record. Creating a name that already
// exists is a conflict (ErrGroupExists), not an idempotent no-op.
func (o *Orchestrator) CreateGroup(ctx context.Context, name string) (*registry.Group, error) {
	if name == registry.Ungrouped {
		return nil, fmt.Errorf("%s: %w", name, ErrReservedName)
	}
	if err := validateName(name); err != nil {
		return nil, err
	}

	now := time.Now()
	group := &registry.Group{Name: name, CreatedAt: now, UpdatedAt: now}
	_, err := o.store.Update(func(r *registry.Registry) error {
		if r.GroupByName(name) != nil {
			return fmt.Errorf("%s: %w", name, ErrGroupExists)
		}
		r.PutGroup(group)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return group, nil
}

// RenameGroup renames a group and remaps every member drone's group
// field within the same registry transaction. The ungrouped sentinel
// is not a legal source or target.
func (o *Orchestrator) RenameGroup(ctx context.Context, oldName, newName string) error {
	if oldName == registry.Ungrouped || newName == registry.Ungrouped {
		return fmt.Errorf("%s: %w", registry.Ungrouped, ErrReservedName)
	}
	if err := validateName(newName); err != nil {
		return err
	}

	_, err := o.store.Update(func(r *registry.Registry) error {
		g := r.GroupByName(oldName)
		if g == nil {
			return fmt.Errorf("%s: %w", oldName, ErrGroupNotFound)
		}
		if r.GroupByName(newName) != nil {
			return fmt.Errorf("%s: %w", newName, ErrGroupExists)
		}
		r.DeleteGroup(oldName)
		g.Name = newName
		g.UpdatedAt = time.Now()
		r.PutGroup(g)
		for _, d := range r.Members(oldName) {
			d.Group = newName
			r.PutDrone(d)
		}
		return nil
	})
	return err
}

// DeleteGroup removes the group record and cascades a full remove to
// every member drone. Returns the number of drones removed. An empty
// group deletes cleanly with a zero count.
func (o *Orchestrator) DeleteGroup(ctx context.Context, name string) (int, error) {
	if name == registry.Ungrouped {
		return 0, fmt.Errorf("%s: %w", name, ErrReservedName)
	}

	reg, err := o.store.Read()
	if err != nil {
		return 0, err
	}
	if reg.GroupByName(name) == nil {
		return 0, fmt.Errorf("%s: %w", name, ErrGroupNotFound)
	}

	removed := 0
	for _, d := range reg.Members(name) {
		if err := o.Remove(ctx, d.ID, RemoveOpts{}); err != nil {
			return removed, fmt.Errorf("hive: cascade remove %s: %w", d.Name, err)
		}
		removed++
	}

	_, err = o.store.Update(func(r *registry.Registry) error {
		r.DeleteGroup(name)
		return nil
	})
	if err != nil {
		return removed, err
	}

	o.event(ctx, telegraph.Event{
		Title:    fmt.Sprintf("Group %s deleted", name),
		Body:     fmt.Sprintf("%d drones removed", removed),
		Severity: telegraph.SeverityInfo,
	})
	return removed, nil
}

// ListGroups returns all groups with derived member counts, sorted by
// name.
func (o *Orchestrator) ListGroups(ctx context.Context) ([]GroupInfo, error) {
	reg, err := o.store.Read()
	if err != nil {
		return nil, err
	}
	var out []GroupInfo
	for _, g := range reg.Groups {
		out = append(out, GroupInfo{
			Name:       g.Name,
			CreatedAt:  g.CreatedAt,
			UpdatedAt:  g.UpdatedAt,
			TotalCount: reg.MemberCount(g.Name),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// AssignGroup moves a drone into a group (or out of all groups when
// name is empty or the ungrouped sentinel). The group is created
// implicitly on first assignment.
func (o *Orchestrator) AssignGroup(ctx context.Context, ref, name string) error {
	if name == registry.Ungrouped {
		name = ""
	}
	if name != "" {
		if err := validateName(name); err != nil {
			return err
		}
	}
	_, err := o.store.Update(func(r *registry.Registry) error {
		d := r.ResolveDrone(ref)
		if d == nil {
			return fmt.Errorf("%s: %w", ref, ErrDroneNotFound)
		}
		if name != "" && r.GroupByName(name) == nil {
			now := time.Now()
			r.PutGroup(&registry.Group{Name: name, CreatedAt: now, UpdatedAt: now})
		}
		d.Group = name
		r.PutDrone(d)
		return nil
	})
	return err
}
