package rpc

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/UXPLIMA/uxrcoder-hub/internal/artifacts"
	"github.com/UXPLIMA/uxrcoder-hub/internal/baseline"
	"github.com/UXPLIMA/uxrcoder-hub/internal/derived"
	"github.com/UXPLIMA/uxrcoder-hub/internal/idempotency"
	"github.com/UXPLIMA/uxrcoder-hub/internal/locks"
	"github.com/UXPLIMA/uxrcoder-hub/internal/scenegraph"
)

type testEnv struct {
	srv *Server
	ts  *httptest.Server
	dir string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	graph := scenegraph.New()
	srv := NewServer(Deps{
		Graph:     graph,
		Derived:   derived.New(graph),
		Locks:     locks.NewManager(),
		Idem:      idempotency.NewCache(),
		Artifacts: artifacts.NewStore(filepath.Join(dir, ".uxr-tests"), filepath.Join(dir, ".uxr-debug")),
		Baselines: baseline.NewStore(filepath.Join(dir, ".uxr-tests", "baselines")),
		Version:   "test",
		Workspace: dir,
		Log:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		srv.Close()
	})
	return &testEnv{srv: srv, ts: ts, dir: dir}
}

// request sends rawBody (may be empty) and decodes the JSON response into a
// generic map.
func (e *testEnv) request(t *testing.T, method, path, rawBody string) (int, map[string]any) {
	t.Helper()
	var body io.Reader
	if rawBody != "" {
		body = strings.NewReader(rawBody)
	}
	req, err := http.NewRequest(method, e.ts.URL+path, body)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	return e.do(t, req)
}

func (e *testEnv) do(t *testing.T, req *http.Request) (int, map[string]any) {
	t.Helper()
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	var decoded map[string]any
	if len(data) > 0 {
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Fatalf("decode response %q: %v", data, err)
		}
	}
	return resp.StatusCode, decoded
}

// seedTree pushes a three-instance tree through the editor sync endpoint.
func (e *testEnv) seedTree(t *testing.T) {
	t.Helper()
	status, resp := e.request(t, http.MethodPost, "/sync", `{
		"isInitial": true,
		"instances": [
			{"id": "ws", "className": "DataModel", "name": "Workspace", "children": ["f1"]},
			{"id": "f1", "className": "Folder", "name": "Stages", "parentId": "ws", "children": ["p1"]},
			{"id": "p1", "className": "Part", "name": "Floor", "parentId": "f1",
			 "properties": {"Anchored": true, "Transparency": 0.5}}
		]
	}`)
	if status != http.StatusOK {
		t.Fatalf("seed sync status = %d, body %v", status, resp)
	}
	if resp["success"] != true {
		t.Fatalf("seed sync success = %v", resp["success"])
	}
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)

	status, resp := env.request(t, http.MethodGet, "/health", "")
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if resp["status"] != "healthy" || resp["version"] != "test" {
		t.Errorf("health = %v", resp)
	}
	if resp["instanceCount"] != float64(0) {
		t.Errorf("instanceCount = %v, want 0", resp["instanceCount"])
	}
	agent, ok := resp["agent"].(map[string]any)
	if !ok {
		t.Fatalf("agent pointers missing: %v", resp)
	}
	for _, key := range []string{"bootstrap", "capabilities", "command", "tests", "stream"} {
		if agent[key] == nil {
			t.Errorf("agent.%s missing", key)
		}
	}
}

func TestFullSyncThenSnapshot(t *testing.T) {
	env := newTestEnv(t)
	env.seedTree(t)

	status, snap := env.request(t, http.MethodGet, "/agent/snapshot", "")
	if status != http.StatusOK {
		t.Fatalf("snapshot status = %d", status)
	}
	if snap["count"] != float64(3) {
		t.Fatalf("snapshot count = %v, want 3", snap["count"])
	}
	instances := snap["instances"].([]any)
	first := instances[0].(map[string]any)
	if first["pathString"] != "Workspace" {
		t.Errorf("first pathString = %v", first["pathString"])
	}

	// Replaying the same tree is a no-op diff.
	status, resp := env.request(t, http.MethodPost, "/sync", `{
		"instances": [
			{"id": "ws", "className": "DataModel", "name": "Workspace", "children": ["f1"]},
			{"id": "f1", "className": "Folder", "name": "Stages", "parentId": "ws", "children": ["p1"]},
			{"id": "p1", "className": "Part", "name": "Floor", "parentId": "f1",
			 "properties": {"Anchored": true, "Transparency": 0.5}}
		]
	}`)
	if status != http.StatusOK || resp["changesApplied"] != float64(0) {
		t.Errorf("replay sync: status %d changesApplied %v", status, resp["changesApplied"])
	}

	// Filtered snapshot.
	status, snap = env.request(t, http.MethodGet, "/agent/snapshot?className=Part", "")
	if status != http.StatusOK || snap["count"] != float64(1) {
		t.Errorf("filtered snapshot: status %d count %v", status, snap["count"])
	}
}

func TestSyncDeltaSkipsUnresolvable(t *testing.T) {
	env := newTestEnv(t)
	env.seedTree(t)

	status, resp := env.request(t, http.MethodPost, "/sync/delta", `{
		"changes": [
			{"kind": "update", "id": "p1", "properties": {"Transparency": 0.9}},
			{"kind": "delete", "id": "ghost"}
		]
	}`)
	if status != http.StatusOK {
		t.Fatalf("delta status = %d", status)
	}
	if resp["applied"] != float64(1) {
		t.Errorf("applied = %v, want 1", resp["applied"])
	}
	skipped := resp["skipped"].([]any)
	if len(skipped) != 1 {
		t.Fatalf("skipped = %v", skipped)
	}
	if skipped[0].(map[string]any)["index"] != float64(1) {
		t.Errorf("skipped index = %v", skipped[0])
	}

	// Editor-applied changes never enter the pending buffer.
	status, changes := env.request(t, http.MethodGet, "/changes", "")
	if status != http.StatusOK || changes["count"] != float64(0) {
		t.Errorf("pending after delta: status %d count %v", status, changes["count"])
	}
}

func TestCommandPendingConfirmCycle(t *testing.T) {
	env := newTestEnv(t)
	env.seedTree(t)

	status, resp := env.request(t, http.MethodPost, "/agent/command", `{
		"op": "create", "className": "Part", "name": "Wall",
		"parentPath": ["Workspace", "Stages"]
	}`)
	if status != http.StatusOK {
		t.Fatalf("command status = %d, body %v", status, resp)
	}
	if resp["success"] != true || resp["id"] == nil {
		t.Fatalf("command response = %v", resp)
	}

	status, pending := env.request(t, http.MethodGet, "/changes", "")
	if status != http.StatusOK || pending["count"] != float64(1) {
		t.Fatalf("pending: status %d body %v", status, pending)
	}
	entry := pending["changes"].([]any)[0].(map[string]any)
	if entry["redelivered"] == true {
		t.Errorf("first delivery marked redelivered")
	}
	change := entry["change"].(map[string]any)
	if change["kind"] != "create" || change["name"] != "Wall" {
		t.Errorf("pending change = %v", change)
	}

	// A second poll before confirmation re-delivers.
	_, pending = env.request(t, http.MethodGet, "/changes", "")
	entry = pending["changes"].([]any)[0].(map[string]any)
	if entry["redelivered"] != true {
		t.Errorf("second delivery not marked redelivered")
	}

	status, confirmed := env.request(t, http.MethodPost, "/changes/confirm",
		fmt.Sprintf(`{"ids": [%q, "bogus"]}`, entry["id"]))
	if status != http.StatusOK {
		t.Fatalf("confirm status = %d", status)
	}
	if confirmed["confirmed"] != float64(1) || confirmed["unknown"] != float64(1) {
		t.Errorf("confirm = %v", confirmed)
	}

	_, pending = env.request(t, http.MethodGet, "/changes", "")
	if pending["count"] != float64(0) {
		t.Errorf("pending after confirm = %v", pending["count"])
	}
}

func TestCommandIdempotentReplay(t *testing.T) {
	env := newTestEnv(t)
	env.seedTree(t)

	body := `{"op": "create", "className": "Folder", "name": "Props", "parentId": "ws"}`
	send := func() (int, map[string]any) {
		req, err := http.NewRequest(http.MethodPost, env.ts.URL+"/agent/command", strings.NewReader(body))
		if err != nil {
			t.Fatalf("build request: %v", err)
		}
		req.Header.Set(IdempotencyHeader, "replay-key-1")
		return env.do(t, req)
	}

	status1, resp1 := send()
	status2, resp2 := send()
	if status1 != http.StatusOK || status2 != http.StatusOK {
		t.Fatalf("statuses = %d, %d", status1, status2)
	}
	if resp1["id"] != resp2["id"] || resp1["revision"] != resp2["revision"] {
		t.Errorf("replay diverged: %v vs %v", resp1, resp2)
	}

	_, snap := env.request(t, http.MethodGet, "/agent/snapshot", "")
	if snap["count"] != float64(4) {
		t.Errorf("instance count after replay = %v, want 4", snap["count"])
	}
}

func TestCommandErrorStatuses(t *testing.T) {
	env := newTestEnv(t)
	env.seedTree(t)

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantReason string
	}{
		{
			name:       "unknown op",
			body:       `{"op": "teleport", "id": "p1"}`,
			wantStatus: http.StatusBadRequest,
			wantReason: "validation_failed",
		},
		{
			name:       "target not found",
			body:       `{"op": "delete", "id": "nope"}`,
			wantStatus: http.StatusNotFound,
			wantReason: "not_found",
		},
		{
			name:       "stale base revision",
			body:       `{"op": "delete", "id": "p1", "baseRevision": 999}`,
			wantStatus: http.StatusConflict,
			wantReason: "revision_mismatch",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, resp := env.request(t, http.MethodPost, "/agent/command", tt.body)
			if status != tt.wantStatus {
				t.Fatalf("status = %d, want %d (%v)", status, tt.wantStatus, resp)
			}
			conflict, _ := resp["conflict"].(map[string]any)
			if conflict == nil || conflict["reason"] != tt.wantReason {
				t.Errorf("conflict = %v, want reason %s", resp["conflict"], tt.wantReason)
			}
		})
	}
}

func TestBatchTransactionalOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	env.seedTree(t)

	// Second command fails; the transaction rolls the first back.
	status, resp := env.request(t, http.MethodPost, "/agent/commands", `{
		"transactional": true,
		"commands": [
			{"op": "create", "className": "Part", "name": "A", "parentId": "f1"},
			{"op": "delete", "id": "missing"}
		]
	}`)
	if status != http.StatusNotFound {
		t.Fatalf("batch status = %d, body %v", status, resp)
	}
	if resp["success"] != false {
		t.Errorf("batch success = %v", resp["success"])
	}
	_, snap := env.request(t, http.MethodGet, "/agent/snapshot", "")
	if snap["count"] != float64(3) {
		t.Errorf("count after rollback = %v, want 3", snap["count"])
	}

	// Same batch without the bad entry commits.
	status, resp = env.request(t, http.MethodPost, "/agent/commands", `{
		"transactional": true,
		"commands": [
			{"op": "create", "className": "Part", "name": "A", "parentId": "f1"}
		]
	}`)
	if status != http.StatusOK || resp["success"] != true {
		t.Fatalf("batch status = %d, body %v", status, resp)
	}
	_, snap = env.request(t, http.MethodGet, "/agent/snapshot", "")
	if snap["count"] != float64(4) {
		t.Errorf("count after commit = %v, want 4", snap["count"])
	}
}

func TestSchemaEndpoints(t *testing.T) {
	env := newTestEnv(t)
	env.seedTree(t)

	status, resp := env.request(t, http.MethodGet, "/agent/schema/properties", "")
	if status != http.StatusOK {
		t.Fatalf("properties status = %d", status)
	}
	classes := resp["classes"].(map[string]any)
	if classes["Part"] == nil || classes["Folder"] == nil {
		t.Errorf("classes = %v", classes)
	}

	status, resp = env.request(t, http.MethodGet, "/agent/schema/properties?className=Part", "")
	if status != http.StatusOK {
		t.Fatalf("filtered properties status = %d", status)
	}
	cs := resp["schema"].(map[string]any)
	if cs["className"] != "Part" {
		t.Errorf("schema className = %v", cs["className"])
	}
	props := cs["properties"].(map[string]any)
	if props["Anchored"] == nil || props["Transparency"] == nil {
		t.Errorf("inferred properties = %v", props)
	}

	status, _ = env.request(t, http.MethodGet, "/agent/schema/properties?className=Ghost", "")
	if status != http.StatusNotFound {
		t.Errorf("unknown class status = %d, want 404", status)
	}

	status, resp = env.request(t, http.MethodGet, "/agent/schema/commands", "")
	if status != http.StatusOK {
		t.Fatalf("commands schema status = %d", status)
	}
	hash, _ := resp["hash"].(string)
	if hash == "" || resp["schema"] == nil {
		t.Fatalf("commands schema = %v", resp)
	}

	// Capabilities carries the same hash so agents can detect drift.
	_, caps := env.request(t, http.MethodGet, "/agent/capabilities", "")
	if caps["commandSchemaHash"] != hash {
		t.Errorf("capability hash %v != schema hash %v", caps["commandSchemaHash"], hash)
	}
	if caps["schemaVersion"] != float64(capabilitySchemaVersion) {
		t.Errorf("schemaVersion = %v", caps["schemaVersion"])
	}
}

func TestBootstrapFlags(t *testing.T) {
	env := newTestEnv(t)
	env.seedTree(t)

	status, resp := env.request(t, http.MethodGet, "/agent/bootstrap", "")
	if status != http.StatusOK {
		t.Fatalf("bootstrap status = %d", status)
	}
	if resp["health"] == nil || resp["capabilities"] == nil {
		t.Fatalf("bootstrap base = %v", resp)
	}
	if resp["snapshot"] != nil || resp["schema"] != nil {
		t.Errorf("bootstrap included optional sections unrequested")
	}

	status, resp = env.request(t, http.MethodGet,
		"/agent/bootstrap?includeSnapshot=true&includeSchema=true&className=Part", "")
	if status != http.StatusOK {
		t.Fatalf("bootstrap status = %d", status)
	}
	snap := resp["snapshot"].(map[string]any)
	if snap["count"] != float64(1) {
		t.Errorf("bootstrap snapshot count = %v, want 1 (Part filter)", snap["count"])
	}
	schemaMap := resp["schema"].(map[string]any)
	if len(schemaMap) != 1 || schemaMap["Part"] == nil {
		t.Errorf("bootstrap schema = %v", schemaMap)
	}
}

func TestLocksEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.seedTree(t)

	if d := env.srv.locks.Acquire("agent-a", [][]string{{"Workspace", "Stages"}}, time.Minute); d != nil {
		t.Fatalf("acquire denied: %v", d)
	}

	status, resp := env.request(t, http.MethodGet, "/agent/locks", "")
	if status != http.StatusOK {
		t.Fatalf("locks status = %d", status)
	}
	if resp["count"] != float64(1) {
		t.Fatalf("lock count = %v, body %v", resp["count"], resp)
	}
	lock := resp["locks"].([]any)[0].(map[string]any)
	if lock["owner"] != "agent-a" || lock["pathString"] != "Workspace.Stages" {
		t.Errorf("lock = %v", lock)
	}

	// A locked command from another owner surfaces contention.
	status, cmdResp := env.request(t, http.MethodPost, "/agent/command", `{
		"op": "update", "id": "p1", "property": "Transparency", "value": 1
	}`)
	if status != http.StatusLocked {
		t.Fatalf("locked command status = %d, body %v", status, cmdResp)
	}

	_, resp = env.request(t, http.MethodGet, "/agent/locks?includeLocks=false", "")
	if resp["locks"] != nil {
		t.Errorf("includeLocks=false still returned locks")
	}
	contention := resp["contention"].([]any)
	if len(contention) == 0 {
		t.Errorf("contention empty after denial")
	}
}

func TestDebugExportWritesBundle(t *testing.T) {
	env := newTestEnv(t)
	env.seedTree(t)

	status, resp := env.request(t, http.MethodPost, "/agent/debug/export", `{"label": "Bug 42"}`)
	if status != http.StatusOK {
		t.Fatalf("export status = %d, body %v", status, resp)
	}
	path, _ := resp["path"].(string)
	if path == "" {
		t.Fatalf("export path missing: %v", resp)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read bundle: %v", err)
	}
	var bundle map[string]any
	if err := json.Unmarshal(data, &bundle); err != nil {
		t.Fatalf("bundle not JSON: %v", err)
	}
	for _, key := range []string{"snapshot", "schemas", "locks", "runs", "capabilities"} {
		if _, ok := bundle[key]; !ok {
			t.Errorf("bundle missing %s", key)
		}
	}
	if !strings.Contains(filepath.Base(path), "Bug-42") {
		t.Errorf("label not in filename: %s", path)
	}
}

func TestDebugProfile(t *testing.T) {
	env := newTestEnv(t)
	env.seedTree(t)

	status, resp := env.request(t, http.MethodGet, "/agent/debug/profile", "")
	if status != http.StatusOK {
		t.Fatalf("profile status = %d", status)
	}
	timings := resp["timings"].(map[string]any)
	for _, key := range []string{"indexListingMs", "schemaInferMs", "snapshotFetchMs"} {
		if _, ok := timings[key]; !ok {
			t.Errorf("timing %s missing", key)
		}
	}
	graph := resp["graph"].(map[string]any)
	if graph["instances"] != float64(3) {
		t.Errorf("profile instances = %v", graph["instances"])
	}
	requests := resp["requests"].(map[string]any)
	routes := requests["routes"].([]any)
	if len(routes) == 0 {
		t.Errorf("request metrics empty")
	}
}

func TestPanicRecoveryIsOpaque(t *testing.T) {
	env := newTestEnv(t)

	h := env.srv.recoverer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if !strings.Contains(resp["error"], "boom") {
		t.Errorf("error = %q, want the panic message", resp["error"])
	}
	if strings.Contains(rec.Body.String(), "goroutine") {
		t.Errorf("response leaked a stack trace")
	}
}
