package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/zulandar/dronehub/internal/audit"
	"github.com/zulandar/dronehub/internal/hive"
	"github.com/zulandar/dronehub/internal/preview"
	"github.com/zulandar/dronehub/internal/registry"
	"github.com/zulandar/dronehub/internal/repo"
	"github.com/zulandar/dronehub/internal/runtime"
)

const testToken = "hub-test-token"

// stubRuntime is an in-memory runtime.Runtime for handler tests.
type stubRuntime struct {
	mu         sync.Mutex
	containers map[string]*stubContainer
	nextPort   int
}

type stubContainer struct {
	running  bool
	port     int
	hostPort int
}

func newStubRuntime() *stubRuntime {
	return &stubRuntime{containers: map[string]*stubContainer{}, nextPort: 41000}
}

func (r *stubRuntime) Create(ctx context.Context, opts runtime.CreateOpts) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextPort++
	r.containers[opts.Name] = &stubContainer{running: true, port: opts.ContainerPort, hostPort: r.nextPort}
	return nil
}

func (r *stubRuntime) Start(ctx context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.containers[name]
	if !ok {
		return fmt.Errorf("%s: %w", name, runtime.ErrContainerNotFound)
	}
	c.running = true
	return nil
}

func (r *stubRuntime) Rename(ctx context.Context, oldName, newName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.containers[oldName]
	if !ok {
		return fmt.Errorf("%s: %w", oldName, runtime.ErrContainerNotFound)
	}
	delete(r.containers, oldName)
	r.containers[newName] = c
	return nil
}

func (r *stubRuntime) Remove(ctx context.Context, name string, keepVolume bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.containers, name)
	return nil
}

func (r *stubRuntime) Exec(ctx context.Context, name string, cmd []string) (runtime.ExecResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.containers[name]; !ok {
		return runtime.ExecResult{}, fmt.Errorf("%s: %w", name, runtime.ErrContainerNotFound)
	}
	if len(cmd) > 0 && cmd[0] == "echo" {
		return runtime.ExecResult{Stdout: strings.Join(cmd[1:], " ") + "\n"}, nil
	}
	return runtime.ExecResult{}, nil
}

func (r *stubRuntime) Running(ctx context.Context, name string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.containers[name]
	return ok && c.running, nil
}

func (r *stubRuntime) HostPort(ctx context.Context, name string, containerPort int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.containers[name]
	if !ok {
		return 0, fmt.Errorf("%s: %w", name, runtime.ErrContainerNotFound)
	}
	return c.hostPort, nil
}

func (r *stubRuntime) Ports(ctx context.Context, name string) ([]runtime.PortMapping, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.containers[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, runtime.ErrContainerNotFound)
	}
	return []runtime.PortMapping{{ContainerPort: c.port, HostPort: c.hostPort}}, nil
}

func (r *stubRuntime) MigrateVolume(ctx context.Context, oldVolume, newVolume string) error {
	return nil
}

// setHostPort rewires one container's host port, simulating an engine
// restart or pointing it at a live test listener.
func (r *stubRuntime) setHostPort(name string, port int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.containers[name]; ok {
		c.hostPort = port
	}
}

type testServer struct {
	router *gin.Engine
	store  *registry.MemStore
	rt     *stubRuntime
	srv    *Server
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := registry.NewMemStore()
	rt := newStubRuntime()
	trail, err := audit.Open(":memory:")
	if err != nil {
		t.Fatalf("audit.Open: %v", err)
	}
	orch := hive.New(store, rt, hive.Options{Image: "test/sandbox:latest", Audit: trail})

	srv, err := newServer(StartOpts{
		Hive:   orch,
		Store:  store,
		Audit:  trail,
		Prober: preview.NewProber(0),
		Token:  testToken,
	})
	if err != nil {
		t.Fatalf("newServer: %v", err)
	}

	router := gin.New()
	srv.registerRoutes(router)
	return &testServer{router: router, store: store, rt: rt, srv: srv}
}

// do issues an authenticated request and decodes the JSON body.
func (ts *testServer) do(t *testing.T, method, path, body string) (int, map[string]interface{}) {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Authorization", "Bearer "+testToken)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)

	var out map[string]interface{}
	if len(w.Body.Bytes()) > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
			t.Fatalf("decode %s %s response %q: %v", method, path, w.Body.String(), err)
		}
	}
	return w.Code, out
}

func (ts *testServer) createDrone(t *testing.T, name string) {
	t.Helper()
	code, body := ts.do(t, http.MethodPost, "/api/drones", `{"name":"`+name+`"}`)
	if code != http.StatusCreated {
		t.Fatalf("create %s: code = %d, body = %v", name, code, body)
	}
}

func TestHealthzNeedsNoAuth(t *testing.T) {
	ts := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("code = %d, want 200", w.Code)
	}
}

func TestAuthRejectsMissingAndWrongToken(t *testing.T) {
	ts := newTestServer(t)
	for _, header := range []string{"", "Bearer wrong", "Basic abc"} {
		req := httptest.NewRequest(http.MethodGet, "/api/drones", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		w := httptest.NewRecorder()
		ts.router.ServeHTTP(w, req)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("header %q: code = %d, want 401", header, w.Code)
		}
		if !strings.Contains(w.Body.String(), `"ok":false`) {
			t.Errorf("header %q: body = %s", header, w.Body.String())
		}
	}
}

func TestCreateListStatus(t *testing.T) {
	ts := newTestServer(t)
	ts.createDrone(t, "alpha")

	code, body := ts.do(t, http.MethodGet, "/api/drones", "")
	if code != http.StatusOK {
		t.Fatalf("list: code = %d", code)
	}
	drones := body["drones"].([]interface{})
	if len(drones) != 1 {
		t.Fatalf("drones = %v", drones)
	}
	first := drones[0].(map[string]interface{})
	if first["name"] != "alpha" {
		t.Errorf("name = %v", first["name"])
	}

	code, body = ts.do(t, http.MethodGet, "/api/drones/alpha/status", "")
	if code != http.StatusOK {
		t.Fatalf("status: code = %d, body = %v", code, body)
	}
	drone := body["drone"].(map[string]interface{})
	if drone["running"] != true {
		t.Errorf("running = %v", drone["running"])
	}
	if drone["containerPort"] != float64(7777) {
		t.Errorf("containerPort = %v", drone["containerPort"])
	}
}

func TestCreateInvalidName(t *testing.T) {
	ts := newTestServer(t)
	code, body := ts.do(t, http.MethodPost, "/api/drones", `{"name":"Bad Name!"}`)
	if code != http.StatusBadRequest {
		t.Errorf("code = %d, want 400", code)
	}
	if body["ok"] != false {
		t.Errorf("body = %v", body)
	}
}

func TestStatusUnknownDrone(t *testing.T) {
	ts := newTestServer(t)
	code, body := ts.do(t, http.MethodGet, "/api/drones/ghost/status", "")
	if code != http.StatusNotFound {
		t.Errorf("code = %d, body = %v", code, body)
	}
}

func TestRenameRoundTrip(t *testing.T) {
	ts := newTestServer(t)
	ts.createDrone(t, "alpha")

	code, body := ts.do(t, http.MethodPost, "/api/drones/alpha/rename", `{"newName":"beta"}`)
	if code != http.StatusOK {
		t.Fatalf("rename: code = %d, body = %v", code, body)
	}

	if code, _ := ts.do(t, http.MethodGet, "/api/drones/alpha/status", ""); code != http.StatusNotFound {
		t.Errorf("old name: code = %d, want 404", code)
	}
	if code, _ := ts.do(t, http.MethodGet, "/api/drones/beta/status", ""); code != http.StatusOK {
		t.Errorf("new name: code = %d, want 200", code)
	}
}

func TestRenameTargetTaken(t *testing.T) {
	ts := newTestServer(t)
	ts.createDrone(t, "alpha")
	ts.createDrone(t, "beta")

	code, _ := ts.do(t, http.MethodPost, "/api/drones/alpha/rename", `{"newName":"beta"}`)
	if code != http.StatusConflict {
		t.Errorf("code = %d, want 409", code)
	}
}

func TestRenameRolledBackMapsTo502(t *testing.T) {
	ts := newTestServer(t)
	ts.createDrone(t, "alpha")
	ts.store.FailWrites = true

	code, body := ts.do(t, http.MethodPost, "/api/drones/alpha/rename", `{"newName":"beta"}`)
	if code != http.StatusBadGateway {
		t.Fatalf("code = %d, body = %v", code, body)
	}
	if body["code"] != "rolled_back" {
		t.Errorf("code field = %v", body["code"])
	}

	ts.store.FailWrites = false
	if code, _ := ts.do(t, http.MethodGet, "/api/drones/alpha/status", ""); code != http.StatusOK {
		t.Errorf("alpha should still resolve after rollback, code = %d", code)
	}
}

func TestExec(t *testing.T) {
	ts := newTestServer(t)
	ts.createDrone(t, "alpha")

	code, body := ts.do(t, http.MethodPost, "/api/drones/alpha/exec", `{"cmd":["echo","hi"]}`)
	if code != http.StatusOK {
		t.Fatalf("code = %d, body = %v", code, body)
	}
	if body["stdout"] != "hi\n" {
		t.Errorf("stdout = %v", body["stdout"])
	}

	code, _ = ts.do(t, http.MethodPost, "/api/drones/alpha/exec", `{"cmd":[]}`)
	if code != http.StatusBadRequest {
		t.Errorf("empty cmd: code = %d, want 400", code)
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	ts := newTestServer(t)
	ts.createDrone(t, "alpha")

	if code, _ := ts.do(t, http.MethodDelete, "/api/drones/alpha", ""); code != http.StatusOK {
		t.Fatalf("remove: code = %d", code)
	}
	if code, _ := ts.do(t, http.MethodDelete, "/api/drones/alpha", ""); code != http.StatusOK {
		t.Errorf("second remove: code = %d, want 200", code)
	}
	if code, _ := ts.do(t, http.MethodGet, "/api/drones/alpha/status", ""); code != http.StatusNotFound {
		t.Errorf("status after remove: code = %d, want 404", code)
	}
}

func TestGroupLifecycle(t *testing.T) {
	ts := newTestServer(t)

	code, _ := ts.do(t, http.MethodPost, "/api/groups", `{"name":"squad"}`)
	if code != http.StatusCreated {
		t.Fatalf("create group: code = %d", code)
	}
	code, _ = ts.do(t, http.MethodPost, "/api/groups", `{"name":"squad"}`)
	if code != http.StatusConflict {
		t.Errorf("duplicate group: code = %d, want 409", code)
	}

	code, body := ts.do(t, http.MethodGet, "/api/groups", "")
	if code != http.StatusOK {
		t.Fatalf("list groups: code = %d", code)
	}
	groups := body["groups"].([]interface{})
	if len(groups) != 1 {
		t.Fatalf("groups = %v", groups)
	}

	code, _ = ts.do(t, http.MethodPost, "/api/groups/squad/rename", `{"newName":"crew"}`)
	if code != http.StatusOK {
		t.Fatalf("rename group: code = %d", code)
	}

	code, body = ts.do(t, http.MethodDelete, "/api/groups/crew", "")
	if code != http.StatusOK {
		t.Fatalf("delete group: code = %d", code)
	}
	if body["removed"] != float64(0) {
		t.Errorf("removed = %v", body["removed"])
	}
}

func TestDeleteGroupCascades(t *testing.T) {
	ts := newTestServer(t)
	code, _ := ts.do(t, http.MethodPost, "/api/drones", `{"name":"alpha","group":"squad"}`)
	if code != http.StatusCreated {
		t.Fatalf("create: code = %d", code)
	}
	code, _ = ts.do(t, http.MethodPost, "/api/drones", `{"name":"beta","group":"squad"}`)
	if code != http.StatusCreated {
		t.Fatalf("create: code = %d", code)
	}

	code, body := ts.do(t, http.MethodDelete, "/api/groups/squad", "")
	if code != http.StatusOK {
		t.Fatalf("delete group: code = %d, body = %v", code, body)
	}
	if body["removed"] != float64(2) {
		t.Errorf("removed = %v, want 2", body["removed"])
	}
	if code, _ := ts.do(t, http.MethodGet, "/api/drones/alpha/status", ""); code != http.StatusNotFound {
		t.Errorf("alpha survived cascade, code = %d", code)
	}
}

func TestAssignGroupImplicitlyCreates(t *testing.T) {
	ts := newTestServer(t)
	ts.createDrone(t, "alpha")

	code, _ := ts.do(t, http.MethodPost, "/api/drones/alpha/group", `{"group":"night-shift"}`)
	if code != http.StatusOK {
		t.Fatalf("assign: code = %d", code)
	}
	code, body := ts.do(t, http.MethodGet, "/api/groups", "")
	if code != http.StatusOK {
		t.Fatalf("list groups: code = %d", code)
	}
	groups := body["groups"].([]interface{})
	if len(groups) != 1 {
		t.Fatalf("groups = %v", groups)
	}
	g := groups[0].(map[string]interface{})
	if g["name"] != "night-shift" || g["totalCount"] != float64(1) {
		t.Errorf("group = %v", g)
	}
}

func TestPorts(t *testing.T) {
	ts := newTestServer(t)
	ts.createDrone(t, "alpha")

	code, body := ts.do(t, http.MethodGet, "/api/drones/alpha/ports", "")
	if code != http.StatusOK {
		t.Fatalf("ports: code = %d, body = %v", code, body)
	}
	ports := body["ports"].([]interface{})
	if len(ports) != 1 {
		t.Fatalf("ports = %v", ports)
	}
	p := ports[0].(map[string]interface{})
	if p["containerPort"] != float64(7777) {
		t.Errorf("containerPort = %v", p["containerPort"])
	}
	if !strings.Contains(p["previewPath"].(string), "/preview/7777/") {
		t.Errorf("previewPath = %v", p["previewPath"])
	}
	if p["reachability"] != string(preview.ReachChecking) {
		t.Errorf("reachability = %v, want checking before first probe", p["reachability"])
	}
}

func TestRepoEndpointsWithoutRepoAttached(t *testing.T) {
	ts := newTestServer(t)
	ts.createDrone(t, "alpha")

	code, body := ts.do(t, http.MethodGet, "/api/drones/alpha/repo/pull-requests", "")
	if code != http.StatusBadRequest {
		t.Errorf("pull-requests: code = %d, body = %v", code, body)
	}
	code, _ = ts.do(t, http.MethodGet, "/api/drones/alpha/repo/pull-requests/3/changes", "")
	if code != http.StatusBadRequest {
		t.Errorf("changes: code = %d, want 400", code)
	}
}

func TestRepoEndpointsUnknownDroneIs404(t *testing.T) {
	ts := newTestServer(t)
	code, _ := ts.do(t, http.MethodGet, "/api/drones/ghost/repo/pull-requests", "")
	if code != http.StatusNotFound {
		t.Errorf("code = %d, want 404", code)
	}
}

type stubRepoReader struct {
	prs   []repo.PullRequest
	files []repo.ChangedFile
}

func (r *stubRepoReader) PullRequests(ctx context.Context, state string) ([]repo.PullRequest, error) {
	return r.prs, nil
}

func (r *stubRepoReader) Changes(ctx context.Context, number int) ([]repo.ChangedFile, error) {
	return r.files, nil
}

func TestRepoPullRequests(t *testing.T) {
	ts := newTestServer(t)
	ts.srv.newRepoReader = func(ctx context.Context, repoPath, token string) (repoReader, error) {
		return &stubRepoReader{
			prs:   []repo.PullRequest{{Number: 7, Title: "Add probe", State: "open"}},
			files: []repo.ChangedFile{{Filename: "main.go", Status: "modified"}},
		}, nil
	}
	code, _ := ts.do(t, http.MethodPost, "/api/drones", `{"name":"alpha","repoPath":"/tmp/somerepo"}`)
	if code != http.StatusCreated {
		t.Fatalf("create: code = %d", code)
	}

	code, body := ts.do(t, http.MethodGet, "/api/drones/alpha/repo/pull-requests", "")
	if code != http.StatusOK {
		t.Fatalf("pull-requests: code = %d, body = %v", code, body)
	}
	prs := body["pullRequests"].([]interface{})
	if len(prs) != 1 || prs[0].(map[string]interface{})["number"] != float64(7) {
		t.Errorf("pullRequests = %v", prs)
	}

	code, body = ts.do(t, http.MethodGet, "/api/drones/alpha/repo/pull-requests/7/changes", "")
	if code != http.StatusOK {
		t.Fatalf("changes: code = %d", code)
	}
	files := body["files"].([]interface{})
	if len(files) != 1 || files[0].(map[string]interface{})["filename"] != "main.go" {
		t.Errorf("files = %v", files)
	}
}

func TestPreviewProxiesToHostPort(t *testing.T) {
	ts := newTestServer(t)
	ts.createDrone(t, "alpha")

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" {
			t.Error("auth header leaked to upstream")
		}
		fmt.Fprintf(w, "path=%s", r.URL.Path)
	}))
	defer upstream.Close()

	u, _ := url.Parse(upstream.URL)
	port, _ := strconv.Atoi(u.Port())
	ts.rt.setHostPort("alpha", port)

	req := httptest.NewRequest(http.MethodGet, "/api/drones/alpha/preview/7777/hello/world", nil)
	req.Header.Set("Authorization", "Bearer "+testToken)
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("code = %d, body = %s", w.Code, w.Body.String())
	}
	if w.Body.String() != "path=/hello/world" {
		t.Errorf("body = %q", w.Body.String())
	}
}

func TestPreviewUnknownContainerPort(t *testing.T) {
	ts := newTestServer(t)
	ts.createDrone(t, "alpha")

	code, body := ts.do(t, http.MethodGet, "/api/drones/alpha/preview/9999/", "")
	if code != http.StatusBadGateway {
		t.Errorf("code = %d, body = %v", code, body)
	}
}

func TestEventsListsAuditTrail(t *testing.T) {
	ts := newTestServer(t)
	ts.createDrone(t, "alpha")

	code, body := ts.do(t, http.MethodGet, "/api/events", "")
	if code != http.StatusOK {
		t.Fatalf("events: code = %d", code)
	}
	events := body["events"].([]interface{})
	if len(events) == 0 {
		t.Fatal("expected at least one event after create")
	}
	first := events[0].(map[string]interface{})
	if first["op"] != "create" || first["outcome"] != "ok" {
		t.Errorf("event = %v", first)
	}
}

func TestUnknownRouteIsJSON404(t *testing.T) {
	ts := newTestServer(t)
	code, body := ts.do(t, http.MethodGet, "/api/nope", "")
	if code != http.StatusNotFound {
		t.Errorf("code = %d", code)
	}
	if body["ok"] != false {
		t.Errorf("body = %v", body)
	}
}
