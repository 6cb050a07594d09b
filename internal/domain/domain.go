package domain

// Status is the lifecycle state of a task estimate. It mirrors the board
// bucket the task lives in; every status change corresponds to a bucket move.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// Statuses lists the buckets in board display order.
var Statuses = []Status{StatusPending, StatusInProgress, StatusCompleted}

// ValidStatus reports whether s names a known bucket.
func ValidStatus(s Status) bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted:
		return true
	}
	return false
}

type Project struct {
	ID                      string  `json:"id"`
	Name                    string  `json:"name"`
	ClientName              string  `json:"client_name,omitempty"`
	EstimatedHours          float64 `json:"estimated_hours"`
	EstimatedLaborCost      float64 `json:"estimated_labor_cost"`
	EstimatedBillableAmount float64 `json:"estimated_billable_amount"`
	EstimatedGrossMargin    float64 `json:"estimated_gross_margin"`
	CreatedAt               string  `json:"created_at" format:"date-time"`
}

// BlendedRate is the project-level average billing rate used to price actual
// hours. Returns 0 when the project has no estimated hours, since a project
// with no estimate has no defined rate.
func (p Project) BlendedRate() float64 {
	if p.EstimatedHours == 0 {
		return 0
	}
	return p.EstimatedBillableAmount / p.EstimatedHours
}

type TaskEstimate struct {
	ID             string   `json:"id"`
	ProjectID      string   `json:"project_id"`
	Name           string   `json:"name"`
	EstimatedHours float64  `json:"estimated_hours"`
	HourlyRate     float64  `json:"hourly_rate"`
	EstimatedCost  float64  `json:"estimated_cost"`
	ActualHours    *float64 `json:"actual_hours,omitempty"`
	ActualCost     *float64 `json:"actual_cost,omitempty"`
	WorkerID       *string  `json:"worker_id,omitempty"`
	Status         Status   `json:"status" enum:"pending,in_progress,completed"`
	CreatedAt      string   `json:"created_at" format:"date-time"`
	UpdatedAt      string   `json:"updated_at" format:"date-time"`
}

// HasActuals reports whether any actual figure has been recorded.
func (t TaskEstimate) HasActuals() bool {
	return t.ActualHours != nil || t.ActualCost != nil
}

type WIPSnapshot struct {
	ProjectID            string  `json:"project_id"`
	ActualHoursWorked    float64 `json:"actual_hours_worked"`
	ActualLaborCost      float64 `json:"actual_labor_cost"`
	ActualBillableAmount float64 `json:"actual_billable_amount"`
	ActualGrossMargin    float64 `json:"actual_gross_margin"`
	CompletionPercentage float64 `json:"completion_percentage"`
	UpdatedAt            string  `json:"updated_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
