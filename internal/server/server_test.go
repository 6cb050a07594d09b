package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"wiptrack/internal/config"
	"wiptrack/internal/db"
	"wiptrack/internal/engine"
	"wiptrack/internal/gateway"
	"wiptrack/internal/migrate"
	"wiptrack/internal/repo"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	gw := gateway.NewSQLite(conn, "tester")
	gw.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	cfg := config.Default("proj-1")
	e := engine.New(gw, cfg)
	e.Now = gw.Now
	if _, err := e.ImportProject(context.Background(), engine.ProjectImport{
		ID:                      "proj-1",
		Name:                    "Warehouse refit",
		EstimatedHours:          100,
		EstimatedLaborCost:      5000,
		EstimatedBillableAmount: 15000,
		Tasks: []engine.TaskImport{
			{ID: "t-1", Name: "survey", EstimatedHours: 20, HourlyRate: 50},
			{ID: "t-2", Name: "install", EstimatedHours: 30, HourlyRate: 50},
			{ID: "t-3", Name: "handover", EstimatedHours: 50, HourlyRate: 50},
		},
	}); err != nil {
		t.Fatalf("import project: %v", err)
	}
	handler, err := New(Config{Engine: e, Repo: repo.Repo{DB: conn}, BasePath: "/v0"})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func TestBoardEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/projects/proj-1/board", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("board status %d: %s", res.StatusCode, string(data))
	}
	var b BoardResponse
	if err := json.Unmarshal(data, &b); err != nil {
		t.Fatalf("unmarshal board: %v", err)
	}
	if b.ProjectID != "proj-1" {
		t.Fatalf("project id: %q", b.ProjectID)
	}
	if len(b.Pending) != 3 || len(b.InProgress) != 0 || len(b.Completed) != 0 {
		t.Fatalf("bucket sizes: %d/%d/%d", len(b.Pending), len(b.InProgress), len(b.Completed))
	}
}

func TestMoveTaskEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/projects/proj-1/tasks/t-2/move", map[string]any{
		"destination":       "in_progress",
		"destination_index": 0,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("move status %d: %s", res.StatusCode, string(data))
	}
	var out MoveTaskResponse
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal move: %v", err)
	}
	if out.Task.Status != "in_progress" {
		t.Fatalf("task status: %q", out.Task.Status)
	}
	// Half credit for 30 estimated hours, blended rate 150/h.
	if out.Snapshot.ActualHoursWorked != 15 || out.Snapshot.ActualBillableAmount != 2250 {
		t.Fatalf("snapshot: %+v", out.Snapshot)
	}
}

func TestMoveTaskUnknownBucket(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/projects/proj-1/tasks/t-2/move", map[string]any{
		"destination":       "archived",
		"destination_index": 0,
	})
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", res.StatusCode, string(data))
	}
}

func TestRecordActualsEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	// Pending tasks reject actuals.
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/projects/proj-1/tasks/t-1/actuals", map[string]any{
		"actual_hours": 5,
	})
	if res.StatusCode == http.StatusOK {
		t.Fatalf("pending task accepted actuals: %s", string(data))
	}

	doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/projects/proj-1/tasks/t-1/move", map[string]any{
		"destination":       "completed",
		"destination_index": 0,
	})
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/projects/proj-1/tasks/t-1/actuals", map[string]any{
		"actual_hours": 25,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("actuals status %d: %s", res.StatusCode, string(data))
	}
	var out MoveTaskResponse
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Task.ActualHours == nil || *out.Task.ActualHours != 25 {
		t.Fatalf("actual hours: %+v", out.Task.ActualHours)
	}
	if out.Task.ActualCost == nil || *out.Task.ActualCost != 1250 {
		t.Fatalf("derived cost: %+v", out.Task.ActualCost)
	}
	if out.Snapshot.ActualHoursWorked != 25 {
		t.Fatalf("snapshot hours: %v", out.Snapshot.ActualHoursWorked)
	}
}

func TestWIPEndpoints(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/projects/proj-1/wip", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("wip status %d: %s", res.StatusCode, string(data))
	}
	var s SnapshotResponse
	if err := json.Unmarshal(data, &s); err != nil {
		t.Fatalf("unmarshal snapshot: %v", err)
	}
	if s.ProjectID != "proj-1" || s.ActualHoursWorked != 0 {
		t.Fatalf("initial snapshot: %+v", s)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/projects/proj-1/wip/recalculate", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("recalculate status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/wip", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list status %d: %s", res.StatusCode, string(data))
	}
	var all []SnapshotResponse
	if err := json.Unmarshal(data, &all); err != nil {
		t.Fatalf("unmarshal list: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("snapshot count: %d", len(all))
	}
}

func TestUnknownProjectReturnsEnvelope(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/projects/ghost/wip", nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if envelope.Error.Code != "not_found" {
		t.Fatalf("error code: %q (%s)", envelope.Error.Code, string(data))
	}
}

func TestImportEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/projects/import", map[string]any{
		"id":                        "proj-2",
		"name":                      "Office fitout",
		"estimated_hours":           40,
		"estimated_labor_cost":      2000,
		"estimated_billable_amount": 6000,
		"tasks": []map[string]any{
			{"name": "demolition", "estimated_hours": 40, "hourly_rate": 50},
		},
	})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("import status %d: %s", res.StatusCode, string(data))
	}
	var p ProjectResponse
	if err := json.Unmarshal(data, &p); err != nil {
		t.Fatalf("unmarshal project: %v", err)
	}
	if p.EstimatedGrossMargin != 4000 {
		t.Fatalf("derived margin: %v", p.EstimatedGrossMargin)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/projects", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list status %d: %s", res.StatusCode, string(data))
	}
	var items []ProjectResponse
	if err := json.Unmarshal(data, &items); err != nil {
		t.Fatalf("unmarshal list: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("project count: %d", len(items))
	}
}
