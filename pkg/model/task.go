// Package model defines the core data types shared by the sync and
// telemetry engine: tasks, derived statistics, link state and health
// metrics. All types are plain values; copies handed out by the engine
// are safe to retain.
package model

import "time"

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "PENDING"
	TaskAccepted   TaskStatus = "ACCEPTED"
	TaskInProgress TaskStatus = "IN_PROGRESS"
	TaskCompleted  TaskStatus = "COMPLETED"
	TaskCancelled  TaskStatus = "CANCELLED"
)

// Terminal reports whether no further lifecycle transitions are expected.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskCancelled
}

// Valid reports whether s is a known status value. Unknown values can
// arrive from a peer running a newer protocol revision.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskPending, TaskAccepted, TaskInProgress, TaskCompleted, TaskCancelled:
		return true
	}
	return false
}

// TaskPriority orders tasks for display.
type TaskPriority string

const (
	PriorityLow    TaskPriority = "LOW"
	PriorityMedium TaskPriority = "MEDIUM"
	PriorityHigh   TaskPriority = "HIGH"
)

// Task is a unit of assigned work mirrored from the authoritative peer.
// Tasks are never physically deleted by the engine; cancellation is a
// status transition and pruning is an external concern.
type Task struct {
	ID          string       `json:"id"`
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	Status      TaskStatus   `json:"status"`
	Priority    TaskPriority `json:"priority"`
	Progress    float64      `json:"progress"`
	DueAt       *time.Time   `json:"due_at,omitempty"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// Normalize repairs the progress/status contract on a task arriving from
// outside the engine: Completed implies progress 1.0 and progress 1.0
// implies Completed, unless the task is cancelled. Remote peers are
// allowed to violate this; local state never should.
func (t *Task) Normalize() {
	switch {
	case t.Status == TaskCompleted:
		t.Progress = 1.0
	case t.Progress >= 1.0 && t.Status != TaskCancelled:
		t.Status = TaskCompleted
		t.Progress = 1.0
	case t.Progress < 0:
		t.Progress = 0
	}
}

// Overdue reports whether the task's due date has passed without the
// task reaching a terminal state.
func (t *Task) Overdue(now time.Time) bool {
	return t.DueAt != nil && t.DueAt.Before(now) && !t.Status.Terminal()
}

// TaskStatistics is a pure projection of the current task set. It is
// recomputed on every store mutation and never persisted independently.
type TaskStatistics struct {
	Total     int `json:"total"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Overdue   int `json:"overdue"`
}

// ComputeStatistics derives statistics from a task set as of now.
func ComputeStatistics(tasks []Task, now time.Time) TaskStatistics {
	var s TaskStatistics
	s.Total = len(tasks)
	for i := range tasks {
		t := &tasks[i]
		switch t.Status {
		case TaskAccepted, TaskInProgress:
			s.Active++
		case TaskCompleted:
			s.Completed++
		}
		if t.Overdue(now) {
			s.Overdue++
		}
	}
	return s
}
