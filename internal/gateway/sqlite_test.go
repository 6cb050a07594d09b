package gateway_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"wiptrack/internal/db"
	"wiptrack/internal/domain"
	"wiptrack/internal/gateway"
	"wiptrack/internal/migrate"
	"wiptrack/internal/repo"
)

func newGateway(t *testing.T) (*gateway.SQLite, context.Context) {
	t.Helper()
	dir := t.TempDir()
	if _, err := db.EnsureWorkspace(dir); err != nil {
		t.Fatalf("workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	gw := gateway.NewSQLite(conn, "tester")
	gw.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	return gw, context.Background()
}

func seedProject(t *testing.T, gw *gateway.SQLite, ctx context.Context) {
	t.Helper()
	p := domain.Project{
		ID:                      "proj-1",
		Name:                    "Warehouse refit",
		EstimatedHours:          100,
		EstimatedLaborCost:      5000,
		EstimatedBillableAmount: 15000,
		EstimatedGrossMargin:    10000,
		CreatedAt:               "2024-01-01T00:00:00Z",
	}
	tasks := []domain.TaskEstimate{
		{ID: "t-1", ProjectID: "proj-1", Name: "survey", EstimatedHours: 20, HourlyRate: 50, EstimatedCost: 1000, Status: domain.StatusPending, CreatedAt: "2024-01-01T00:00:00Z", UpdatedAt: "2024-01-01T00:00:00Z"},
		{ID: "t-2", ProjectID: "proj-1", Name: "install", EstimatedHours: 30, HourlyRate: 50, EstimatedCost: 1500, Status: domain.StatusPending, CreatedAt: "2024-01-01T00:00:00Z", UpdatedAt: "2024-01-01T00:00:00Z"},
	}
	initial := domain.WIPSnapshot{ProjectID: "proj-1", UpdatedAt: "2024-01-01T00:00:00Z"}
	if err := gw.ImportProject(ctx, p, tasks, initial); err != nil {
		t.Fatalf("import: %v", err)
	}
}

func TestFetchRoundTrip(t *testing.T) {
	gw, ctx := newGateway(t)
	seedProject(t, gw, ctx)

	p, err := gw.FetchProject(ctx, "proj-1")
	if err != nil {
		t.Fatalf("fetch project: %v", err)
	}
	if p.Name != "Warehouse refit" || p.EstimatedGrossMargin != 10000 {
		t.Fatalf("project round-trip: %+v", p)
	}

	tasks, err := gw.FetchTaskEstimates(ctx, "proj-1")
	if err != nil {
		t.Fatalf("fetch tasks: %v", err)
	}
	if len(tasks) != 2 || tasks[0].ID != "t-1" || tasks[1].ID != "t-2" {
		t.Fatalf("task round-trip: %+v", tasks)
	}
}

func TestFetchUnknownProject(t *testing.T) {
	gw, ctx := newGateway(t)
	if _, err := gw.FetchProject(ctx, "ghost"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := gw.FetchTaskEstimates(ctx, "ghost"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestUpdateTaskStatusAppendsEvent(t *testing.T) {
	gw, ctx := newGateway(t)
	seedProject(t, gw, ctx)

	if err := gw.UpdateTaskStatus(ctx, "t-1", domain.StatusInProgress); err != nil {
		t.Fatalf("update status: %v", err)
	}
	task, err := gw.Repo.GetTask(ctx, "t-1")
	if err != nil || task.Status != domain.StatusInProgress {
		t.Fatalf("status not persisted: %+v err=%v", task, err)
	}
	events, err := gw.Repo.LatestEvents(ctx, 10, "proj-1", "task.moved", "", "")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 1 || events[0].EntityID != "t-1" || events[0].ActorID != "tester" {
		t.Fatalf("event not appended: %+v", events)
	}
}

func TestUpdateTaskStatusUnknownTask(t *testing.T) {
	gw, ctx := newGateway(t)
	seedProject(t, gw, ctx)
	if err := gw.UpdateTaskStatus(ctx, "ghost", domain.StatusCompleted); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestUpdateTaskActuals(t *testing.T) {
	gw, ctx := newGateway(t)
	seedProject(t, gw, ctx)

	hours, cost := 12.5, 625.0
	if err := gw.UpdateTaskActuals(ctx, "t-2", &hours, &cost); err != nil {
		t.Fatalf("update actuals: %v", err)
	}
	task, _ := gw.Repo.GetTask(ctx, "t-2")
	if task.ActualHours == nil || *task.ActualHours != 12.5 {
		t.Fatalf("hours not persisted: %+v", task.ActualHours)
	}
	if task.ActualCost == nil || *task.ActualCost != 625 {
		t.Fatalf("cost not persisted: %+v", task.ActualCost)
	}
	events, _ := gw.Repo.LatestEvents(ctx, 10, "proj-1", "task.actuals.recorded", "", "")
	if len(events) != 1 {
		t.Fatalf("event not appended: %+v", events)
	}
}

func TestWriteWIPSnapshotOverwrites(t *testing.T) {
	gw, ctx := newGateway(t)
	seedProject(t, gw, ctx)

	first := domain.WIPSnapshot{
		ActualHoursWorked:    10,
		ActualLaborCost:      500,
		ActualBillableAmount: 1500,
		ActualGrossMargin:    1000,
		CompletionPercentage: 10,
		UpdatedAt:            "2024-01-02T00:00:00Z",
	}
	if err := gw.WriteWIPSnapshot(ctx, "proj-1", first); err != nil {
		t.Fatalf("write snapshot: %v", err)
	}
	second := first
	second.ActualHoursWorked = 20
	second.CompletionPercentage = 20
	second.UpdatedAt = "2024-01-03T00:00:00Z"
	if err := gw.WriteWIPSnapshot(ctx, "proj-1", second); err != nil {
		t.Fatalf("overwrite snapshot: %v", err)
	}

	stored, err := gw.Repo.GetSnapshot(ctx, "proj-1")
	if err != nil {
		t.Fatalf("get snapshot: %v", err)
	}
	if stored.ActualHoursWorked != 20 || stored.UpdatedAt != "2024-01-03T00:00:00Z" {
		t.Fatalf("snapshot not overwritten wholesale: %+v", stored)
	}

	all, err := gw.FetchWIPSnapshots(ctx)
	if err != nil {
		t.Fatalf("list snapshots: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected single snapshot row, got %d", len(all))
	}
}

func TestImportProjectIsAtomic(t *testing.T) {
	gw, ctx := newGateway(t)
	seedProject(t, gw, ctx)

	// Re-import with the same project id must fail and leave nothing behind.
	err := gw.ImportProject(ctx, domain.Project{ID: "proj-1", Name: "dup", CreatedAt: "2024-01-01T00:00:00Z"},
		[]domain.TaskEstimate{{ID: "t-9", ProjectID: "proj-1", Name: "x", Status: domain.StatusPending, CreatedAt: "2024-01-01T00:00:00Z", UpdatedAt: "2024-01-01T00:00:00Z"}},
		domain.WIPSnapshot{UpdatedAt: "2024-01-01T00:00:00Z"})
	var pe *gateway.PersistenceError
	if !errors.As(err, &pe) {
		t.Fatalf("expected persistence error, got %v", err)
	}
	if _, err := gw.Repo.GetTask(ctx, "t-9"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("partial import leaked: %v", err)
	}
}
