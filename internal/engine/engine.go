package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"wiptrack/internal/board"
	"wiptrack/internal/config"
	"wiptrack/internal/domain"
	"wiptrack/internal/gateway"
	"wiptrack/internal/wip"
)

// Engine orchestrates user-driven board mutations end-to-end with
// optimistic-update semantics: apply locally, persist, recalculate on
// success, roll back on failure. It is not re-entrant for the same project;
// a second move must wait for the first's gateway round-trip to resolve.
type Engine struct {
	Gateway gateway.Gateway
	Config  *config.Config
	Now     func() time.Time
}

func New(gw gateway.Gateway, cfg *config.Config) Engine {
	return Engine{
		Gateway: gw,
		Config:  cfg,
		Now:     time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// LoadBoard fetches and partitions the project's task estimates.
func (e Engine) LoadBoard(ctx context.Context, projectID string) (*board.Board, error) {
	return board.Load(ctx, e.Gateway, projectID)
}

// MoveRequest describes a user-initiated move of one task to a destination
// bucket. The destination bucket implies the task's new status; the index is
// display ordering only.
type MoveRequest struct {
	TaskID           string
	DestinationIndex int
	Destination      domain.Status
}

// ApplyMove runs a move end-to-end: the board mutates immediately and stays
// mutated only if the gateway confirms the status change, in which case the
// project's WIP snapshot is recalculated and overwritten. On a gateway
// failure the staged move is rolled back and the error returned; the board
// then equals the last gateway-confirmed state.
func (e Engine) ApplyMove(ctx context.Context, b *board.Board, req MoveRequest) (domain.WIPSnapshot, error) {
	if !domain.ValidStatus(req.Destination) {
		return domain.WIPSnapshot{}, &board.InvariantError{Reason: fmt.Sprintf("unknown destination bucket %q", req.Destination)}
	}
	from, fromIdx, ok := b.Locate(req.TaskID)
	if !ok {
		return domain.WIPSnapshot{}, &board.InvariantError{Reason: fmt.Sprintf("task %s not on board", req.TaskID)}
	}
	staged, err := b.Move(req.TaskID, from, fromIdx, req.Destination, req.DestinationIndex)
	if err != nil {
		return domain.WIPSnapshot{}, err
	}
	if staged.NoOp() {
		return e.currentSnapshot(ctx, b.ProjectID())
	}
	if from == req.Destination {
		// Same-bucket reorder changes display ordering only; the status is
		// unchanged, so there is nothing to persist or recalculate.
		staged.Commit()
		return e.currentSnapshot(ctx, b.ProjectID())
	}
	if err := e.Gateway.UpdateTaskStatus(ctx, req.TaskID, req.Destination); err != nil {
		staged.Rollback()
		return domain.WIPSnapshot{}, err
	}
	staged.Commit()
	return e.Recalculate(ctx, b.ProjectID())
}

// RecordActuals is the validation boundary for direct numeric entry of a
// task's actual hours and cost. Inputs must be non-negative finite numbers,
// and actuals may only be recorded while the task is in progress or
// completed.
func (e Engine) RecordActuals(ctx context.Context, b *board.Board, taskID string, actualHours, actualCost *float64) (domain.WIPSnapshot, error) {
	t, ok := b.Task(taskID)
	if !ok {
		return domain.WIPSnapshot{}, &board.InvariantError{Reason: fmt.Sprintf("task %s not on board", taskID)}
	}
	if t.Status == domain.StatusPending {
		return domain.WIPSnapshot{}, fmt.Errorf("task %s is pending; actuals require in_progress or completed", taskID)
	}
	if actualHours == nil && actualCost == nil {
		return domain.WIPSnapshot{}, fmt.Errorf("actual_hours or actual_cost is required")
	}
	if err := validateActual("actual_hours", actualHours); err != nil {
		return domain.WIPSnapshot{}, err
	}
	if err := validateActual("actual_cost", actualCost); err != nil {
		return domain.WIPSnapshot{}, err
	}
	// An entry updates only the figures it carries; an omitted figure keeps
	// the task's previously recorded value instead of clearing it.
	if actualHours == nil {
		actualHours = t.ActualHours
	}
	if actualCost == nil {
		actualCost = t.ActualCost
	}
	if actualHours != nil && actualCost == nil {
		// Keep the cost identity until a cost is entered directly.
		cost := *actualHours * t.HourlyRate
		actualCost = &cost
	}
	if err := e.Gateway.UpdateTaskActuals(ctx, taskID, actualHours, actualCost); err != nil {
		return domain.WIPSnapshot{}, err
	}
	t.ActualHours = actualHours
	t.ActualCost = actualCost
	t.UpdatedAt = e.now().UTC().Format(time.RFC3339)
	if err := b.SetTask(t); err != nil {
		return domain.WIPSnapshot{}, err
	}
	return e.Recalculate(ctx, b.ProjectID())
}

func validateActual(field string, v *float64) error {
	if v == nil {
		return nil
	}
	if math.IsNaN(*v) || math.IsInf(*v, 0) {
		return fmt.Errorf("%s must be a finite number", field)
	}
	if *v < 0 {
		return fmt.Errorf("%s must not be negative", field)
	}
	return nil
}

// Recalculate recomputes the project's WIP aggregate from the persisted task
// set and overwrites the snapshot wholesale.
func (e Engine) Recalculate(ctx context.Context, projectID string) (domain.WIPSnapshot, error) {
	p, err := e.Gateway.FetchProject(ctx, projectID)
	if err != nil {
		return domain.WIPSnapshot{}, err
	}
	tasks, err := e.Gateway.FetchTaskEstimates(ctx, projectID)
	if err != nil {
		return domain.WIPSnapshot{}, err
	}
	snapshot := wip.Recalculate(p, tasks, wip.DefaultOptions(e.Config, e.now()))
	if err := e.Gateway.WriteWIPSnapshot(ctx, projectID, snapshot); err != nil {
		return domain.WIPSnapshot{}, err
	}
	return snapshot, nil
}

func (e Engine) currentSnapshot(ctx context.Context, projectID string) (domain.WIPSnapshot, error) {
	snapshots, err := e.Gateway.FetchWIPSnapshots(ctx)
	if err != nil {
		return domain.WIPSnapshot{}, err
	}
	for _, s := range snapshots {
		if s.ProjectID == projectID {
			return s, nil
		}
	}
	return domain.WIPSnapshot{ProjectID: projectID}, nil
}

// TaskImport is one planned unit of work in a project import.
type TaskImport struct {
	ID             string  `json:"id,omitempty" yaml:"id"`
	Name           string  `json:"name" yaml:"name"`
	EstimatedHours float64 `json:"estimated_hours" yaml:"estimated_hours"`
	HourlyRate     float64 `json:"hourly_rate" yaml:"hourly_rate"`
	WorkerID       string  `json:"worker_id,omitempty" yaml:"worker_id"`
}

// ProjectImport seeds a project and its decomposed task estimates, standing
// in for the external estimation workflow that normally creates them.
type ProjectImport struct {
	ID                      string       `json:"id" yaml:"id"`
	Name                    string       `json:"name" yaml:"name"`
	ClientName              string       `json:"client_name,omitempty" yaml:"client_name"`
	EstimatedHours          float64      `json:"estimated_hours" yaml:"estimated_hours"`
	EstimatedLaborCost      float64      `json:"estimated_labor_cost" yaml:"estimated_labor_cost"`
	EstimatedBillableAmount float64      `json:"estimated_billable_amount" yaml:"estimated_billable_amount"`
	Tasks                   []TaskImport `json:"tasks" yaml:"tasks"`
}

// Importer is implemented by gateways that can seed projects. The base
// Gateway interface is read/update-only because project and task creation
// belong to the external estimation workflow.
type Importer interface {
	ImportProject(ctx context.Context, p domain.Project, tasks []domain.TaskEstimate, initial domain.WIPSnapshot) error
}

// ImportProject validates the estimate identities and writes the project,
// its tasks and a zeroed snapshot through the gateway.
func (e Engine) ImportProject(ctx context.Context, spec ProjectImport) (domain.Project, error) {
	imp, ok := e.Gateway.(Importer)
	if !ok {
		return domain.Project{}, errors.New("gateway does not support project import")
	}
	if spec.ID == "" {
		return domain.Project{}, errors.New("project id is required")
	}
	if spec.Name == "" {
		return domain.Project{}, errors.New("project name is required")
	}
	if spec.EstimatedHours < 0 || spec.EstimatedLaborCost < 0 || spec.EstimatedBillableAmount < 0 {
		return domain.Project{}, errors.New("project estimates must not be negative")
	}
	now := e.now().UTC().Format(time.RFC3339)
	p := domain.Project{
		ID:                      spec.ID,
		Name:                    spec.Name,
		ClientName:              spec.ClientName,
		EstimatedHours:          spec.EstimatedHours,
		EstimatedLaborCost:      spec.EstimatedLaborCost,
		EstimatedBillableAmount: spec.EstimatedBillableAmount,
		EstimatedGrossMargin:    spec.EstimatedBillableAmount - spec.EstimatedLaborCost,
		CreatedAt:               now,
	}
	tasks := make([]domain.TaskEstimate, 0, len(spec.Tasks))
	for i, ti := range spec.Tasks {
		if ti.Name == "" {
			return domain.Project{}, fmt.Errorf("task %d: name is required", i)
		}
		if ti.EstimatedHours < 0 || ti.HourlyRate < 0 {
			return domain.Project{}, fmt.Errorf("task %s: estimates must not be negative", ti.Name)
		}
		id := ti.ID
		if id == "" {
			id = uuid.NewSHA1(uuid.NameSpaceOID, []byte(spec.ID+"|"+ti.Name+"|"+now)).String()
		}
		tasks = append(tasks, domain.TaskEstimate{
			ID:             id,
			ProjectID:      spec.ID,
			Name:           ti.Name,
			EstimatedHours: ti.EstimatedHours,
			HourlyRate:     ti.HourlyRate,
			EstimatedCost:  ti.EstimatedHours * ti.HourlyRate,
			WorkerID:       optionalString(ti.WorkerID),
			Status:         domain.StatusPending,
			CreatedAt:      now,
			UpdatedAt:      now,
		})
	}
	initial := wip.Recalculate(p, tasks, wip.DefaultOptions(e.Config, e.now()))
	if err := imp.ImportProject(ctx, p, tasks, initial); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
