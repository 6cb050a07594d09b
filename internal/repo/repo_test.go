package repo_test

import (
	"context"
	"errors"
	"testing"

	"wiptrack/internal/db"
	"wiptrack/internal/domain"
	"wiptrack/internal/migrate"
	"wiptrack/internal/repo"
)

func newRepo(t *testing.T) (repo.Repo, context.Context) {
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
	return repo.Repo{DB: conn}, context.Background()
}

func seed(t *testing.T, r repo.Repo, ctx context.Context) {
	t.Helper()
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()
	p := domain.Project{ID: "proj-1", Name: "refit", CreatedAt: "2024-01-01T00:00:00Z"}
	if err := r.InsertProjectTx(ctx, tx, p); err != nil {
		t.Fatalf("insert project: %v", err)
	}
	tasks := []domain.TaskEstimate{
		{ID: "t-1", ProjectID: "proj-1", Name: "a", Status: domain.StatusPending, CreatedAt: "2024-01-01T00:00:00Z", UpdatedAt: "2024-01-01T00:00:00Z"},
		{ID: "t-2", ProjectID: "proj-1", Name: "b", Status: domain.StatusInProgress, CreatedAt: "2024-01-01T00:00:01Z", UpdatedAt: "2024-01-01T00:00:01Z"},
		{ID: "t-3", ProjectID: "proj-1", Name: "c", Status: domain.StatusPending, CreatedAt: "2024-01-01T00:00:02Z", UpdatedAt: "2024-01-01T00:00:02Z"},
	}
	for _, task := range tasks {
		if err := r.InsertTaskTx(ctx, tx, task); err != nil {
			t.Fatalf("insert task: %v", err)
		}
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func TestListTasksOrderAndFilter(t *testing.T) {
	r, ctx := newRepo(t)
	seed(t, r, ctx)

	all, err := r.ListTasks(ctx, repo.TaskFilters{ProjectID: "proj-1"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 || all[0].ID != "t-1" || all[2].ID != "t-3" {
		t.Fatalf("order: %+v", all)
	}

	pending, err := r.ListTasks(ctx, repo.TaskFilters{ProjectID: "proj-1", Status: domain.StatusPending})
	if err != nil {
		t.Fatalf("filter: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("pending count: %d", len(pending))
	}
}

func TestUpdateMissingTaskIsNotFound(t *testing.T) {
	r, ctx := newRepo(t)
	seed(t, r, ctx)

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()
	if err := r.UpdateTaskStatusTx(ctx, tx, "ghost", domain.StatusCompleted, "2024-01-02T00:00:00Z"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCountTasksByStatus(t *testing.T) {
	r, ctx := newRepo(t)
	seed(t, r, ctx)

	counts, err := r.CountTasksByStatus(ctx, "proj-1")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if counts[domain.StatusPending] != 2 || counts[domain.StatusInProgress] != 1 || counts[domain.StatusCompleted] != 0 {
		t.Fatalf("counts: %+v", counts)
	}
}

func TestSingleProject(t *testing.T) {
	r, ctx := newRepo(t)
	if _, err := r.SingleProject(ctx); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("empty store: %v", err)
	}
	seed(t, r, ctx)
	p, err := r.SingleProject(ctx)
	if err != nil || p.ID != "proj-1" {
		t.Fatalf("single: %+v %v", p, err)
	}
}
