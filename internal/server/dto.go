package server

import (
	"encoding/json"

	"wiptrack/internal/board"
	"wiptrack/internal/domain"
	"wiptrack/internal/engine"
)

// Request payloads

type MoveTaskRequest struct {
	Destination      string `json:"destination" enum:"pending,in_progress,completed"`
	DestinationIndex int    `json:"destination_index" minimum:"0"`
}

type RecordActualsRequest struct {
	ActualHours *float64 `json:"actual_hours,omitempty" minimum:"0"`
	ActualCost  *float64 `json:"actual_cost,omitempty" minimum:"0"`
}

type ImportProjectRequest struct {
	ID                      string              `json:"id"`
	Name                    string              `json:"name"`
	ClientName              *string             `json:"client_name,omitempty"`
	EstimatedHours          float64             `json:"estimated_hours" minimum:"0"`
	EstimatedLaborCost      float64             `json:"estimated_labor_cost" minimum:"0"`
	EstimatedBillableAmount float64             `json:"estimated_billable_amount" minimum:"0"`
	Tasks                   []ImportTaskRequest `json:"tasks"`
}

type ImportTaskRequest struct {
	ID             *string `json:"id,omitempty"`
	Name           string  `json:"name"`
	EstimatedHours float64 `json:"estimated_hours" minimum:"0"`
	HourlyRate     float64 `json:"hourly_rate" minimum:"0"`
	WorkerID       *string `json:"worker_id,omitempty"`
}

// Response payloads

type ProjectResponse struct {
	ID                      string  `json:"id"`
	Name                    string  `json:"name"`
	ClientName              string  `json:"client_name,omitempty"`
	EstimatedHours          float64 `json:"estimated_hours"`
	EstimatedLaborCost      float64 `json:"estimated_labor_cost"`
	EstimatedBillableAmount float64 `json:"estimated_billable_amount"`
	EstimatedGrossMargin    float64 `json:"estimated_gross_margin"`
	CreatedAt               string  `json:"created_at" format:"date-time"`
}

type TaskResponse struct {
	ID             string   `json:"id"`
	ProjectID      string   `json:"project_id"`
	Name           string   `json:"name"`
	EstimatedHours float64  `json:"estimated_hours"`
	HourlyRate     float64  `json:"hourly_rate"`
	EstimatedCost  float64  `json:"estimated_cost"`
	ActualHours    *float64 `json:"actual_hours,omitempty"`
	ActualCost     *float64 `json:"actual_cost,omitempty"`
	WorkerID       *string  `json:"worker_id,omitempty"`
	Status         string   `json:"status" enum:"pending,in_progress,completed"`
	CreatedAt      string   `json:"created_at" format:"date-time"`
	UpdatedAt      string   `json:"updated_at" format:"date-time"`
}

type BoardResponse struct {
	ProjectID  string         `json:"project_id"`
	Pending    []TaskResponse `json:"pending"`
	InProgress []TaskResponse `json:"in_progress"`
	Completed  []TaskResponse `json:"completed"`
}

type SnapshotResponse struct {
	ProjectID            string  `json:"project_id"`
	ActualHoursWorked    float64 `json:"actual_hours_worked"`
	ActualLaborCost      float64 `json:"actual_labor_cost"`
	ActualBillableAmount float64 `json:"actual_billable_amount"`
	ActualGrossMargin    float64 `json:"actual_gross_margin"`
	CompletionPercentage float64 `json:"completion_percentage"`
	UpdatedAt            string  `json:"updated_at" format:"date-time"`
}

type MoveTaskResponse struct {
	Task     TaskResponse     `json:"task"`
	Snapshot SnapshotResponse `json:"snapshot"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	ProjectID  string         `json:"project_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// Conversion helpers

func projectResponse(p domain.Project) ProjectResponse {
	return ProjectResponse(p)
}

func mapProjects(in []domain.Project) []ProjectResponse {
	res := make([]ProjectResponse, 0, len(in))
	for _, p := range in {
		res = append(res, projectResponse(p))
	}
	return res
}

func taskResponse(t domain.TaskEstimate) TaskResponse {
	return TaskResponse{
		ID:             t.ID,
		ProjectID:      t.ProjectID,
		Name:           t.Name,
		EstimatedHours: t.EstimatedHours,
		HourlyRate:     t.HourlyRate,
		EstimatedCost:  t.EstimatedCost,
		ActualHours:    t.ActualHours,
		ActualCost:     t.ActualCost,
		WorkerID:       t.WorkerID,
		Status:         string(t.Status),
		CreatedAt:      t.CreatedAt,
		UpdatedAt:      t.UpdatedAt,
	}
}

func mapTasks(in []domain.TaskEstimate) []TaskResponse {
	res := make([]TaskResponse, 0, len(in))
	for _, t := range in {
		res = append(res, taskResponse(t))
	}
	return res
}

func boardResponse(b *board.Board) BoardResponse {
	return BoardResponse{
		ProjectID:  b.ProjectID(),
		Pending:    mapTasks(b.Bucket(domain.StatusPending)),
		InProgress: mapTasks(b.Bucket(domain.StatusInProgress)),
		Completed:  mapTasks(b.Bucket(domain.StatusCompleted)),
	}
}

func snapshotResponse(s domain.WIPSnapshot) SnapshotResponse {
	return SnapshotResponse(s)
}

func mapSnapshots(in []domain.WIPSnapshot) []SnapshotResponse {
	res := make([]SnapshotResponse, 0, len(in))
	for _, s := range in {
		res = append(res, snapshotResponse(s))
	}
	return res
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		ProjectID:  e.ProjectID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

func importSpec(req ImportProjectRequest) engine.ProjectImport {
	spec := engine.ProjectImport{
		ID:                      req.ID,
		Name:                    req.Name,
		ClientName:              stringOrEmpty(req.ClientName),
		EstimatedHours:          req.EstimatedHours,
		EstimatedLaborCost:      req.EstimatedLaborCost,
		EstimatedBillableAmount: req.EstimatedBillableAmount,
	}
	for _, t := range req.Tasks {
		spec.Tasks = append(spec.Tasks, engine.TaskImport{
			ID:             stringOrEmpty(t.ID),
			Name:           t.Name,
			EstimatedHours: t.EstimatedHours,
			HourlyRate:     t.HourlyRate,
			WorkerID:       stringOrEmpty(t.WorkerID),
		})
	}
	return spec
}

// JSON helpers

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var tmp any
	if err := json.Unmarshal([]byte(raw), &tmp); err != nil {
		return nil
	}
	if obj, ok := tmp.(map[string]any); ok {
		return obj
	}
	return nil
}

func stringOrEmpty(in *string) string {
	if in == nil {
		return ""
	}
	return *in
}
