package registry

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func tempStore(t *testing.T) *FileStore {
	t.Helper()
	return Open(filepath.Join(t.TempDir(), "registry.json"))
}

func TestRead_MissingFile(t *testing.T) {
	s := tempStore(t)
	reg, err := s.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(reg.Drones) != 0 || len(reg.Groups) != 0 {
		t.Errorf("missing file should read as empty registry, got %+v", reg)
	}
}

func TestUpdate_PersistsAndReturnsNewState(t *testing.T) {
	s := tempStore(t)

	reg, err := s.Update(func(r *Registry) error {
		r.PutDrone(&Drone{ID: "drn-1", Name: "alpha", ContainerPort: 7777, CreatedAt: time.Now()})
		return nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if reg.DroneByName("alpha") == nil {
		t.Fatal("returned state missing drone alpha")
	}

	// A fresh read observes the committed state.
	reread, err := s.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	d := reread.DroneByName("alpha")
	if d == nil || d.ContainerPort != 7777 {
		t.Errorf("reread drone = %+v, want containerPort 7777", d)
	}
}

func TestUpdate_MutatorErrorLeavesStateIntact(t *testing.T) {
	s := tempStore(t)
	if _, err := s.Update(func(r *Registry) error {
		r.PutDrone(&Drone{ID: "drn-1", Name: "alpha"})
		return nil
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	wantErr := os.ErrInvalid
	if _, err := s.Update(func(r *Registry) error {
		r.DeleteDrone("drn-1")
		return wantErr
	}); err == nil {
		t.Fatal("expected mutator error to propagate")
	}

	reg, err := s.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if reg.DroneByName("alpha") == nil {
		t.Error("failed mutation must not be committed")
	}
}

func TestUpdate_NoTempFileLeftBehind(t *testing.T) {
	dir := t.TempDir()
	s := Open(filepath.Join(dir, "registry.json"))
	if _, err := s.Update(func(r *Registry) error {
		r.PutGroup(&Group{Name: "backend", CreatedAt: time.Now()})
		return nil
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if e.Name() != "registry.json" {
			t.Errorf("unexpected leftover file %q", e.Name())
		}
	}
}

func TestUpdate_ConcurrentWritersSerialize(t *testing.T) {
	s := tempStore(t)

	const writers = 16
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := s.Update(func(r *Registry) error {
				r.PutGroup(&Group{Name: groupName(n), CreatedAt: time.Now()})
				return nil
			})
			if err != nil {
				t.Errorf("writer %d: %v", n, err)
			}
		}(i)
	}
	wg.Wait()

	reg, err := s.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(reg.Groups) != writers {
		t.Errorf("groups = %d, want %d (lost update)", len(reg.Groups), writers)
	}
}

func groupName(n int) string {
	return "grp-" + string(rune('a'+n%26)) + string(rune('a'+n/26))
}

func TestLoad_CorruptDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := Open(path).Read(); err == nil {
		t.Fatal("expected parse error for corrupt document")
	}
}

func TestDroneByName_ToleratesKeyDrift(t *testing.T) {
	reg := NewRegistry()
	// Record stored under a stale key that no longer equals its name.
	reg.Drones["old-key"] = &Drone{ID: "drn-1", Name: "actual"}

	if d := reg.DroneByName("actual"); d == nil || d.ID != "drn-1" {
		t.Errorf("DroneByName(actual) = %+v, want drn-1", d)
	}
	if d := reg.DroneByName("old-key"); d != nil {
		t.Errorf("stale key must not resolve, got %+v", d)
	}
}

func TestPutDrone_SelfHealsDriftedKey(t *testing.T) {
	reg := NewRegistry()
	reg.Drones["stale"] = &Drone{ID: "drn-1", Name: "renamed"}

	reg.PutDrone(&Drone{ID: "drn-1", Name: "renamed"})

	if _, ok := reg.Drones["stale"]; ok {
		t.Error("stale key should be pruned")
	}
	if _, ok := reg.Drones["renamed"]; !ok {
		t.Error("record should be stored under its name")
	}
}

func TestDeleteDrone_RemovesAllKeysForID(t *testing.T) {
	reg := NewRegistry()
	reg.Drones["a"] = &Drone{ID: "drn-1", Name: "b"}
	reg.Drones["b"] = &Drone{ID: "drn-1", Name: "b"}
	reg.Drones["c"] = &Drone{ID: "drn-2", Name: "c"}

	if !reg.DeleteDrone("drn-1") {
		t.Fatal("DeleteDrone returned false")
	}
	if len(reg.Drones) != 1 {
		t.Errorf("drones = %d, want 1", len(reg.Drones))
	}
	if reg.DroneByID("drn-2") == nil {
		t.Error("unrelated drone removed")
	}
}

func TestMemberCount_ComputedAtReadTime(t *testing.T) {
	reg := NewRegistry()
	reg.PutGroup(&Group{Name: "backend"})
	reg.PutDrone(&Drone{ID: "drn-1", Name: "a", Group: "backend"})
	reg.PutDrone(&Drone{ID: "drn-2", Name: "b", Group: "backend"})
	reg.PutDrone(&Drone{ID: "drn-3", Name: "c"})

	if n := reg.MemberCount("backend"); n != 2 {
		t.Errorf("MemberCount = %d, want 2", n)
	}

	reg.DeleteDrone("drn-1")
	reg.DeleteDrone("drn-2")
	if n := reg.MemberCount("backend"); n != 0 {
		t.Errorf("MemberCount after removals = %d, want 0", n)
	}
	if reg.GroupByName("backend") == nil {
		t.Error("empty group must survive losing its last member")
	}
}

func TestMemStore_FailWritesDoesNotCommit(t *testing.T) {
	s := NewMemStore()
	if _, err := s.Update(func(r *Registry) error {
		r.PutDrone(&Drone{ID: "drn-1", Name: "alpha"})
		return nil
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	s.FailWrites = true
	if _, err := s.Update(func(r *Registry) error {
		d := r.DroneByName("alpha")
		d.Name = "beta"
		r.PutDrone(d)
		return nil
	}); err == nil {
		t.Fatal("expected write failure")
	}
	s.FailWrites = false

	reg, _ := s.Read()
	if reg.DroneByName("alpha") == nil {
		t.Error("failed write must leave prior state intact")
	}
	if reg.DroneByName("beta") != nil {
		t.Error("failed write leaked partial state")
	}
}

func TestDocumentShape(t *testing.T) {
	reg := NewRegistry()
	reg.PutDrone(&Drone{ID: "drn-1", Name: "alpha", ContainerPort: 7777, Phase: PhaseRunning})
	data, err := json.Marshal(reg)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	for _, want := range []string{`"drones"`, `"groups"`, `"hubPhase":"running"`, `"containerPort":7777`} {
		if !strings.Contains(string(data), want) {
			t.Errorf("document missing %s: %s", want, data)
		}
	}
}
