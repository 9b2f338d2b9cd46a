package engine

import (
	"sync"

	"github.com/google/uuid"

	"github.com/ruggierom/affindb/pkg/core/types"
)

// TaskStatus defines the possible states of an asynchronous benchmark task.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

// Task represents one asynchronous benchmark sweep. Its ID is stable; the
// status, report and error are read through accessors because the sweep
// goroutine updates them concurrently.
type Task struct {
	// ID uniquely identifies the task for later polling.
	ID string

	mu     sync.RWMutex
	status TaskStatus
	report []types.BenchmarkResult
	err    string
}

// Status returns the task's current state.
func (t *Task) Status() TaskStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

// Report returns the benchmark results. It is nil until the task completes.
func (t *Task) Report() []types.BenchmarkResult {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.report
}

// Err returns the failure message, or "" if the task has not failed.
func (t *Task) Err() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.err
}

func (t *Task) setStatus(status TaskStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = status
}

func (t *Task) complete(report []types.BenchmarkResult) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = TaskStatusCompleted
	t.report = report
}

func (t *Task) fail(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = TaskStatusFailed
	t.err = err.Error()
}

// taskManager tracks all asynchronous tasks for the lifetime of the engine.
type taskManager struct {
	mu    sync.RWMutex
	tasks map[string]*Task
}

func newTaskManager() *taskManager {
	return &taskManager{
		tasks: make(map[string]*Task),
	}
}

// newTask creates a pending task, registers it and returns it.
func (tm *taskManager) newTask() *Task {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	task := &Task{
		ID:     uuid.New().String(),
		status: TaskStatusPending,
	}
	tm.tasks[task.ID] = task
	return task
}

// get safely retrieves a task by its ID.
func (tm *taskManager) get(id string) (*Task, bool) {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	task, found := tm.tasks[id]
	return task, found
}
