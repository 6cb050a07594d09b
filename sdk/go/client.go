package wiptracksdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal WIP tracking HTTP API client.
type Client struct {
	BaseURL     string
	ProjectID   string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, projectID string) *Client {
	return &Client{
		BaseURL:   baseURL,
		ProjectID: projectID,
		Timeout:   10 * time.Second,
	}
}

// Project represents the API project model.
type Project struct {
	ID                      string  `json:"id"`
	Name                    string  `json:"name"`
	ClientName              string  `json:"client_name,omitempty"`
	EstimatedHours          float64 `json:"estimated_hours"`
	EstimatedLaborCost      float64 `json:"estimated_labor_cost"`
	EstimatedBillableAmount float64 `json:"estimated_billable_amount"`
	EstimatedGrossMargin    float64 `json:"estimated_gross_margin"`
	CreatedAt               string  `json:"created_at"`
}

// Task represents the API task estimate model.
type Task struct {
	ID             string   `json:"id"`
	ProjectID      string   `json:"project_id"`
	Name           string   `json:"name"`
	EstimatedHours float64  `json:"estimated_hours"`
	HourlyRate     float64  `json:"hourly_rate"`
	EstimatedCost  float64  `json:"estimated_cost"`
	ActualHours    *float64 `json:"actual_hours,omitempty"`
	ActualCost     *float64 `json:"actual_cost,omitempty"`
	Status         string   `json:"status"`
}

// Board is a project's tasks partitioned by status.
type Board struct {
	ProjectID  string `json:"project_id"`
	Pending    []Task `json:"pending"`
	InProgress []Task `json:"in_progress"`
	Completed  []Task `json:"completed"`
}

// Snapshot represents a project's WIP financial position.
type Snapshot struct {
	ProjectID            string  `json:"project_id"`
	ActualHoursWorked    float64 `json:"actual_hours_worked"`
	ActualLaborCost      float64 `json:"actual_labor_cost"`
	ActualBillableAmount float64 `json:"actual_billable_amount"`
	ActualGrossMargin    float64 `json:"actual_gross_margin"`
	CompletionPercentage float64 `json:"completion_percentage"`
	UpdatedAt            string  `json:"updated_at"`
}

// MoveResult pairs the moved task with the recalculated snapshot.
type MoveResult struct {
	Task     Task     `json:"task"`
	Snapshot Snapshot `json:"snapshot"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	ProjectID  string         `json:"project_id"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Board returns the project's task board.
func (c *Client) Board(ctx context.Context) (Board, error) {
	var resp Board
	err := c.do(ctx, http.MethodGet, c.projectPath("board"), nil, &resp)
	return resp, err
}

// MoveTask moves a task to a destination bucket at the given index.
func (c *Client) MoveTask(ctx context.Context, taskID, destination string, index int) (MoveResult, error) {
	body := map[string]any{
		"destination":       destination,
		"destination_index": index,
	}
	var resp MoveResult
	endpoint := c.projectPath(fmt.Sprintf("tasks/%s/move", url.PathEscape(taskID)))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// RecordActuals records actual hours and cost on a task. Nil fields are left
// unchanged server-side.
func (c *Client) RecordActuals(ctx context.Context, taskID string, hours, cost *float64) (MoveResult, error) {
	body := map[string]any{}
	if hours != nil {
		body["actual_hours"] = *hours
	}
	if cost != nil {
		body["actual_cost"] = *cost
	}
	var resp MoveResult
	endpoint := c.projectPath(fmt.Sprintf("tasks/%s/actuals", url.PathEscape(taskID)))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// Snapshot returns the project's current WIP snapshot.
func (c *Client) Snapshot(ctx context.Context) (Snapshot, error) {
	var resp Snapshot
	err := c.do(ctx, http.MethodGet, c.projectPath("wip"), nil, &resp)
	return resp, err
}

// Recalculate forces a fresh snapshot from persisted state.
func (c *Client) Recalculate(ctx context.Context) (Snapshot, error) {
	var resp Snapshot
	err := c.do(ctx, http.MethodPost, c.projectPath("wip/recalculate"), nil, &resp)
	return resp, err
}

// Snapshots returns snapshots for all projects.
func (c *Client) Snapshots(ctx context.Context) ([]Snapshot, error) {
	var resp []Snapshot
	err := c.do(ctx, http.MethodGet, "v0/wip", nil, &resp)
	return resp, err
}

// Events returns recent events for the project.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := c.projectPath("events")
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) projectPath(p string) string {
	project := url.PathEscape(c.ProjectID)
	return fmt.Sprintf("v0/projects/%s/%s", project, strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
