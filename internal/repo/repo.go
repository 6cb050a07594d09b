package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"wiptrack/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const projectColumns = `id,name,COALESCE(client_name,'') AS client_name,estimated_hours,estimated_labor_cost,estimated_billable_amount,estimated_gross_margin,created_at`

func scanProject(row *sql.Row) (domain.Project, error) {
	var p domain.Project
	err := row.Scan(&p.ID, &p.Name, &p.ClientName, &p.EstimatedHours, &p.EstimatedLaborCost, &p.EstimatedBillableAmount, &p.EstimatedGrossMargin, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}

func (r Repo) InsertProjectTx(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO projects(id,name,client_name,estimated_hours,estimated_labor_cost,estimated_billable_amount,estimated_gross_margin,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		p.ID, p.Name, nullable(p.ClientName), p.EstimatedHours, p.EstimatedLaborCost, p.EstimatedBillableAmount, p.EstimatedGrossMargin, p.CreatedAt)
	return err
}

func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	return scanProject(r.DB.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=?`, id))
}

// SingleProject returns the only project in the store, used to resolve an
// implicit project id for single-project workspaces.
func (r Repo) SingleProject(ctx context.Context) (domain.Project, error) {
	projects, err := r.ListProjects(ctx)
	if err != nil {
		return domain.Project{}, err
	}
	if len(projects) == 0 {
		return domain.Project{}, ErrNotFound
	}
	if len(projects) > 1 {
		return domain.Project{}, fmt.Errorf("multiple projects exist; specify --project")
	}
	return projects[0], nil
}

func (r Repo) ListProjects(ctx context.Context) ([]domain.Project, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+projectColumns+` FROM projects ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		var p domain.Project
		if err := rows.Scan(&p.ID, &p.Name, &p.ClientName, &p.EstimatedHours, &p.EstimatedLaborCost, &p.EstimatedBillableAmount, &p.EstimatedGrossMargin, &p.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

const taskColumns = `id,project_id,name,estimated_hours,hourly_rate,estimated_cost,actual_hours,actual_cost,worker_id,status,created_at,updated_at`

func scanTask(scan func(dest ...any) error) (domain.TaskEstimate, error) {
	var t domain.TaskEstimate
	var actualHours, actualCost sql.NullFloat64
	var workerID sql.NullString
	err := scan(&t.ID, &t.ProjectID, &t.Name, &t.EstimatedHours, &t.HourlyRate, &t.EstimatedCost, &actualHours, &actualCost, &workerID, &t.Status, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return t, err
	}
	if actualHours.Valid {
		t.ActualHours = &actualHours.Float64
	}
	if actualCost.Valid {
		t.ActualCost = &actualCost.Float64
	}
	if workerID.Valid {
		t.WorkerID = &workerID.String
	}
	return t, nil
}

func (r Repo) InsertTaskTx(ctx context.Context, tx *sql.Tx, t domain.TaskEstimate) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO task_estimates(`+taskColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.ProjectID, t.Name, t.EstimatedHours, t.HourlyRate, t.EstimatedCost,
		nullableFloatPtr(t.ActualHours), nullableFloatPtr(t.ActualCost), nullableStringPtr(t.WorkerID),
		string(t.Status), t.CreatedAt, t.UpdatedAt)
	return err
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.TaskEstimate, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM task_estimates WHERE id=?`, id)
	t, err := scanTask(row.Scan)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	return t, err
}

type TaskFilters struct {
	ProjectID string
	Status    domain.Status
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.TaskEstimate, error) {
	var clauses []string
	var args []any
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, string(f.Status))
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + taskColumns + ` FROM task_estimates ` + where + ` ORDER BY created_at ASC, id ASC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TaskEstimate
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) UpdateTaskStatusTx(ctx context.Context, tx *sql.Tx, id string, status domain.Status, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE task_estimates SET status=?, updated_at=? WHERE id=?`, string(status), updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) UpdateTaskActualsTx(ctx context.Context, tx *sql.Tx, id string, actualHours, actualCost *float64, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE task_estimates SET actual_hours=?, actual_cost=?, updated_at=? WHERE id=?`,
		nullableFloatPtr(actualHours), nullableFloatPtr(actualCost), updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

const snapshotColumns = `project_id,actual_hours_worked,actual_labor_cost,actual_billable_amount,actual_gross_margin,completion_percentage,updated_at`

func scanSnapshot(scan func(dest ...any) error) (domain.WIPSnapshot, error) {
	var s domain.WIPSnapshot
	err := scan(&s.ProjectID, &s.ActualHoursWorked, &s.ActualLaborCost, &s.ActualBillableAmount, &s.ActualGrossMargin, &s.CompletionPercentage, &s.UpdatedAt)
	return s, err
}

// UpsertSnapshotTx overwrites the live snapshot wholesale; there is exactly
// one row per project and no partial-field updates.
func (r Repo) UpsertSnapshotTx(ctx context.Context, tx *sql.Tx, s domain.WIPSnapshot) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO wip_snapshots(`+snapshotColumns+`) VALUES (?,?,?,?,?,?,?)
ON CONFLICT(project_id) DO UPDATE SET
  actual_hours_worked=excluded.actual_hours_worked,
  actual_labor_cost=excluded.actual_labor_cost,
  actual_billable_amount=excluded.actual_billable_amount,
  actual_gross_margin=excluded.actual_gross_margin,
  completion_percentage=excluded.completion_percentage,
  updated_at=excluded.updated_at`,
		s.ProjectID, s.ActualHoursWorked, s.ActualLaborCost, s.ActualBillableAmount, s.ActualGrossMargin, s.CompletionPercentage, s.UpdatedAt)
	return err
}

func (r Repo) GetSnapshot(ctx context.Context, projectID string) (domain.WIPSnapshot, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+snapshotColumns+` FROM wip_snapshots WHERE project_id=?`, projectID)
	s, err := scanSnapshot(row.Scan)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	return s, err
}

func (r Repo) ListSnapshots(ctx context.Context) ([]domain.WIPSnapshot, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+snapshotColumns+` FROM wip_snapshots ORDER BY project_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.WIPSnapshot
	for rows.Next() {
		s, err := scanSnapshot(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// SnapshotOverview pairs a snapshot with its project name for listing views.
type SnapshotOverview struct {
	domain.WIPSnapshot
	ProjectName string `json:"project_name"`
}

func (r Repo) ListSnapshotOverviews(ctx context.Context) ([]SnapshotOverview, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT s.project_id,s.actual_hours_worked,s.actual_labor_cost,s.actual_billable_amount,s.actual_gross_margin,s.completion_percentage,s.updated_at,p.name
FROM wip_snapshots s JOIN projects p ON p.id=s.project_id ORDER BY p.name ASC, s.project_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []SnapshotOverview
	for rows.Next() {
		var o SnapshotOverview
		if err := rows.Scan(&o.ProjectID, &o.ActualHoursWorked, &o.ActualLaborCost, &o.ActualBillableAmount, &o.ActualGrossMargin, &o.CompletionPercentage, &o.UpdatedAt, &o.ProjectName); err != nil {
			return nil, err
		}
		res = append(res, o)
	}
	return res, rows.Err()
}

func (r Repo) LatestEvents(ctx context.Context, limit int, projectID, evtType, entityKind, entityID string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if projectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, projectID)
	}
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,project_id,entity_kind,entity_id,actor_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var projectID, entityID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &projectID, &e.EntityKind, &entityID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		if projectID.Valid {
			e.ProjectID = projectID.String
		}
		if entityID.Valid {
			e.EntityID = entityID.String
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func (r Repo) CountTasksByStatus(ctx context.Context, projectID string) (map[domain.Status]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, count(*) FROM task_estimates WHERE project_id=? GROUP BY status`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[domain.Status]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		res[domain.Status(status)] = count
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func nullableFloatPtr(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
