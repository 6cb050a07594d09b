// Package gateway defines the persistence boundary the board and controller
// operate against. The store behind it is the single source of truth for
// projects, task estimates and WIP snapshots; everything in front of it is
// an optimistic local view.
package gateway

import (
	"context"
	"fmt"

	"wiptrack/internal/domain"
)

type Gateway interface {
	FetchProject(ctx context.Context, projectID string) (domain.Project, error)
	FetchTaskEstimates(ctx context.Context, projectID string) ([]domain.TaskEstimate, error)
	UpdateTaskStatus(ctx context.Context, taskID string, status domain.Status) error
	UpdateTaskActuals(ctx context.Context, taskID string, actualHours, actualCost *float64) error
	WriteWIPSnapshot(ctx context.Context, projectID string, snapshot domain.WIPSnapshot) error
	FetchWIPSnapshots(ctx context.Context) ([]domain.WIPSnapshot, error)
}

// PersistenceError marks a failed gateway write. Callers roll the optimistic
// mutation back and surface the failure as transient.
type PersistenceError struct {
	Op  string
	Key string
	Err error
}

func (e *PersistenceError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("persistence %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("persistence %s failed for %s: %v", e.Op, e.Key, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
