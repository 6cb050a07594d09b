// Package board holds the in-memory bucketed view of one project's task
// estimates. Bucket membership mirrors each task's status; ordering inside a
// bucket is display-only and never persisted.
package board

import (
	"context"
	"fmt"

	"wiptrack/internal/domain"
	"wiptrack/internal/gateway"
)

// LoadError marks a failed board load. Recoverable by retry; the caller shows
// an error state and keeps no partial data.
type LoadError struct {
	ProjectID string
	Err       error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load board for project %s: %v", e.ProjectID, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// InvariantError marks a move that referenced a task not present at the
// stated bucket/index. This is a programming-error class failure, not a
// recoverable user error.
type InvariantError struct {
	Reason string
}

func (e *InvariantError) Error() string {
	return "board invariant violated: " + e.Reason
}

// Board is the partition of one project's task estimates into the three
// status buckets. It has a single writer per project per session; no locking
// is provided.
type Board struct {
	projectID string
	buckets   map[domain.Status][]string
	tasks     map[string]domain.TaskEstimate
}

// Load fetches all task estimates for the project through the gateway and
// partitions them by status.
func Load(ctx context.Context, gw gateway.Gateway, projectID string) (*Board, error) {
	tasks, err := gw.FetchTaskEstimates(ctx, projectID)
	if err != nil {
		return nil, &LoadError{ProjectID: projectID, Err: err}
	}
	return New(projectID, tasks), nil
}

// New partitions the given tasks into buckets. Input order is preserved
// within each bucket; unknown statuses land in pending.
func New(projectID string, tasks []domain.TaskEstimate) *Board {
	b := &Board{
		projectID: projectID,
		buckets: map[domain.Status][]string{
			domain.StatusPending:    {},
			domain.StatusInProgress: {},
			domain.StatusCompleted:  {},
		},
		tasks: make(map[string]domain.TaskEstimate, len(tasks)),
	}
	for _, t := range tasks {
		status := t.Status
		if !domain.ValidStatus(status) {
			status = domain.StatusPending
			t.Status = status
		}
		b.buckets[status] = append(b.buckets[status], t.ID)
		b.tasks[t.ID] = t
	}
	return b
}

func (b *Board) ProjectID() string { return b.projectID }

// Task returns the current copy of a task on the board.
func (b *Board) Task(id string) (domain.TaskEstimate, bool) {
	t, ok := b.tasks[id]
	return t, ok
}

// Bucket returns the tasks in a bucket in display order.
func (b *Board) Bucket(status domain.Status) []domain.TaskEstimate {
	ids := b.buckets[status]
	res := make([]domain.TaskEstimate, 0, len(ids))
	for _, id := range ids {
		res = append(res, b.tasks[id])
	}
	return res
}

// Tasks returns every task on the board, bucket by bucket in display order.
func (b *Board) Tasks() []domain.TaskEstimate {
	var res []domain.TaskEstimate
	for _, status := range domain.Statuses {
		res = append(res, b.Bucket(status)...)
	}
	return res
}

// Locate finds the bucket and index currently holding the task.
func (b *Board) Locate(taskID string) (domain.Status, int, bool) {
	t, ok := b.tasks[taskID]
	if !ok {
		return "", 0, false
	}
	for i, id := range b.buckets[t.Status] {
		if id == taskID {
			return t.Status, i, true
		}
	}
	return "", 0, false
}

// StagedMove is an applied-but-unconfirmed move. The board already shows the
// new state; Commit finalizes it, Rollback restores the exact prior position
// of the affected task without touching the rest of the board.
type StagedMove struct {
	board   *Board
	taskID  string
	from    domain.Status
	fromIdx int
	to      domain.Status
	toIdx   int
	settled bool
	noop    bool
}

// TaskID identifies the staged task.
func (m *StagedMove) TaskID() string { return m.taskID }

// To is the destination bucket, which implies the task's new status.
func (m *StagedMove) To() domain.Status { return m.to }

// NoOp reports whether the move changed nothing.
func (m *StagedMove) NoOp() bool { return m.noop }

// Commit finalizes the optimistic move.
func (m *StagedMove) Commit() {
	m.settled = true
}

// Rollback undoes the optimistic move, returning the task to its original
// bucket and index. Safe to call at most once; after Commit it is a no-op.
func (m *StagedMove) Rollback() {
	if m.settled || m.noop {
		return
	}
	m.settled = true
	status, idx, ok := m.board.Locate(m.taskID)
	if !ok {
		return
	}
	m.board.remove(status, idx)
	m.board.insert(m.from, m.fromIdx, m.taskID)
	t := m.board.tasks[m.taskID]
	t.Status = m.from
	m.board.tasks[m.taskID] = t
}

// Move removes the task from fromBucket at fromIndex and inserts it into
// toBucket at toIndex, updating the task's status to match its new bucket.
// Transitions are unrestricted in any direction; a task may move backward to
// correct a mistake. The returned StagedMove supports confirm/rollback.
func (b *Board) Move(taskID string, from domain.Status, fromIndex int, to domain.Status, toIndex int) (*StagedMove, error) {
	if !domain.ValidStatus(from) || !domain.ValidStatus(to) {
		return nil, &InvariantError{Reason: fmt.Sprintf("unknown bucket %q or %q", from, to)}
	}
	src := b.buckets[from]
	if fromIndex < 0 || fromIndex >= len(src) {
		return nil, &InvariantError{Reason: fmt.Sprintf("index %d out of range for bucket %s", fromIndex, from)}
	}
	if src[fromIndex] != taskID {
		return nil, &InvariantError{Reason: fmt.Sprintf("task %s not at %s[%d]", taskID, from, fromIndex)}
	}
	if from == to && fromIndex == toIndex {
		return &StagedMove{board: b, taskID: taskID, from: from, fromIdx: fromIndex, to: to, toIdx: toIndex, noop: true}, nil
	}
	b.remove(from, fromIndex)
	if toIndex < 0 || toIndex > len(b.buckets[to]) {
		b.insert(from, fromIndex, taskID)
		return nil, &InvariantError{Reason: fmt.Sprintf("index %d out of range for bucket %s", toIndex, to)}
	}
	b.insert(to, toIndex, taskID)
	t := b.tasks[taskID]
	t.Status = to
	b.tasks[taskID] = t
	return &StagedMove{board: b, taskID: taskID, from: from, fromIdx: fromIndex, to: to, toIdx: toIndex}, nil
}

// SetTask replaces the board's copy of a task, keeping bucket membership in
// sync if the stored status differs.
func (b *Board) SetTask(t domain.TaskEstimate) error {
	cur, ok := b.tasks[t.ID]
	if !ok {
		return &InvariantError{Reason: fmt.Sprintf("task %s not on board", t.ID)}
	}
	if cur.Status != t.Status {
		status, idx, _ := b.Locate(t.ID)
		b.remove(status, idx)
		b.buckets[t.Status] = append(b.buckets[t.Status], t.ID)
	}
	b.tasks[t.ID] = t
	return nil
}

func (b *Board) remove(status domain.Status, index int) {
	ids := b.buckets[status]
	b.buckets[status] = append(ids[:index:index], ids[index+1:]...)
}

func (b *Board) insert(status domain.Status, index int, taskID string) {
	ids := b.buckets[status]
	ids = append(ids, "")
	copy(ids[index+1:], ids[index:])
	ids[index] = taskID
	b.buckets[status] = ids
}
