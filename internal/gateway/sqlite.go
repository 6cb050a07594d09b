package gateway

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"wiptrack/internal/domain"
	"wiptrack/internal/events"
	"wiptrack/internal/repo"
)

// SQLite implements Gateway over the local store. Writes are transactional
// and append an audit event alongside the mutation.
type SQLite struct {
	DB      *sql.DB
	Repo    repo.Repo
	Events  events.Writer
	ActorID string
	Now     func() time.Time
}

func NewSQLite(db *sql.DB, actorID string) *SQLite {
	return &SQLite{
		DB:      db,
		Repo:    repo.Repo{DB: db},
		Events:  events.Writer{DB: db},
		ActorID: actorID,
		Now:     time.Now,
	}
}

func (g *SQLite) now() time.Time {
	if g.Now != nil {
		return g.Now()
	}
	return time.Now()
}

func (g *SQLite) actor() string {
	if g.ActorID == "" {
		return "local-user"
	}
	return g.ActorID
}

func (g *SQLite) FetchProject(ctx context.Context, projectID string) (domain.Project, error) {
	return g.Repo.GetProject(ctx, projectID)
}

func (g *SQLite) FetchTaskEstimates(ctx context.Context, projectID string) ([]domain.TaskEstimate, error) {
	if _, err := g.Repo.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	return g.Repo.ListTasks(ctx, repo.TaskFilters{ProjectID: projectID})
}

func (g *SQLite) UpdateTaskStatus(ctx context.Context, taskID string, status domain.Status) error {
	t, err := g.Repo.GetTask(ctx, taskID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return err
		}
		return &PersistenceError{Op: "update-task-status", Key: taskID, Err: err}
	}
	tx, err := g.DB.BeginTx(ctx, nil)
	if err != nil {
		return &PersistenceError{Op: "update-task-status", Key: taskID, Err: err}
	}
	defer tx.Rollback()
	now := g.now().UTC().Format(time.RFC3339)
	if err := g.Repo.UpdateTaskStatusTx(ctx, tx, taskID, status, now); err != nil {
		return &PersistenceError{Op: "update-task-status", Key: taskID, Err: err}
	}
	if err := g.Events.Append(ctx, tx, events.TypeTaskMoved, t.ProjectID, "task", taskID, g.actor(), events.EventPayload{
		"from_status": t.Status,
		"to_status":   status,
	}); err != nil {
		return &PersistenceError{Op: "update-task-status", Key: taskID, Err: err}
	}
	if err := tx.Commit(); err != nil {
		return &PersistenceError{Op: "update-task-status", Key: taskID, Err: err}
	}
	return nil
}

func (g *SQLite) UpdateTaskActuals(ctx context.Context, taskID string, actualHours, actualCost *float64) error {
	t, err := g.Repo.GetTask(ctx, taskID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return err
		}
		return &PersistenceError{Op: "update-task-actuals", Key: taskID, Err: err}
	}
	tx, err := g.DB.BeginTx(ctx, nil)
	if err != nil {
		return &PersistenceError{Op: "update-task-actuals", Key: taskID, Err: err}
	}
	defer tx.Rollback()
	now := g.now().UTC().Format(time.RFC3339)
	if err := g.Repo.UpdateTaskActualsTx(ctx, tx, taskID, actualHours, actualCost, now); err != nil {
		return &PersistenceError{Op: "update-task-actuals", Key: taskID, Err: err}
	}
	payload := events.EventPayload{}
	if actualHours != nil {
		payload["actual_hours"] = *actualHours
	}
	if actualCost != nil {
		payload["actual_cost"] = *actualCost
	}
	if err := g.Events.Append(ctx, tx, events.TypeActualsRecorded, t.ProjectID, "task", taskID, g.actor(), payload); err != nil {
		return &PersistenceError{Op: "update-task-actuals", Key: taskID, Err: err}
	}
	if err := tx.Commit(); err != nil {
		return &PersistenceError{Op: "update-task-actuals", Key: taskID, Err: err}
	}
	return nil
}

func (g *SQLite) WriteWIPSnapshot(ctx context.Context, projectID string, snapshot domain.WIPSnapshot) error {
	snapshot.ProjectID = projectID
	tx, err := g.DB.BeginTx(ctx, nil)
	if err != nil {
		return &PersistenceError{Op: "write-wip-snapshot", Key: projectID, Err: err}
	}
	defer tx.Rollback()
	if err := g.Repo.UpsertSnapshotTx(ctx, tx, snapshot); err != nil {
		return &PersistenceError{Op: "write-wip-snapshot", Key: projectID, Err: err}
	}
	if err := g.Events.Append(ctx, tx, events.TypeWIPRecalculated, projectID, "wip_snapshot", projectID, g.actor(), events.EventPayload{
		"actual_hours_worked":   snapshot.ActualHoursWorked,
		"completion_percentage": snapshot.CompletionPercentage,
	}); err != nil {
		return &PersistenceError{Op: "write-wip-snapshot", Key: projectID, Err: err}
	}
	if err := tx.Commit(); err != nil {
		return &PersistenceError{Op: "write-wip-snapshot", Key: projectID, Err: err}
	}
	return nil
}

func (g *SQLite) FetchWIPSnapshots(ctx context.Context) ([]domain.WIPSnapshot, error) {
	return g.Repo.ListSnapshots(ctx)
}

// ImportProject seeds a project, its task estimates and the initial snapshot
// in one transaction.
func (g *SQLite) ImportProject(ctx context.Context, p domain.Project, tasks []domain.TaskEstimate, initial domain.WIPSnapshot) error {
	tx, err := g.DB.BeginTx(ctx, nil)
	if err != nil {
		return &PersistenceError{Op: "import-project", Key: p.ID, Err: err}
	}
	defer tx.Rollback()
	if err := g.Repo.InsertProjectTx(ctx, tx, p); err != nil {
		return &PersistenceError{Op: "import-project", Key: p.ID, Err: err}
	}
	for _, t := range tasks {
		if err := g.Repo.InsertTaskTx(ctx, tx, t); err != nil {
			return &PersistenceError{Op: "import-project", Key: t.ID, Err: err}
		}
	}
	initial.ProjectID = p.ID
	if err := g.Repo.UpsertSnapshotTx(ctx, tx, initial); err != nil {
		return &PersistenceError{Op: "import-project", Key: p.ID, Err: err}
	}
	if err := g.Events.Append(ctx, tx, events.TypeProjectImported, p.ID, "project", p.ID, g.actor(), events.EventPayload{
		"name":       p.Name,
		"task_count": len(tasks),
	}); err != nil {
		return &PersistenceError{Op: "import-project", Key: p.ID, Err: err}
	}
	if err := tx.Commit(); err != nil {
		return &PersistenceError{Op: "import-project", Key: p.ID, Err: err}
	}
	return nil
}
