package storage

import (
	"time"

	"github.com/ignatij/goscout/pkg/models"
	"github.com/pkg/errors"
)

var ErrNotFound = errors.New("not found")

// JobStore persists queue bookkeeping.
type JobStore interface {
	SaveJob(j models.Job) error
	UpdateJob(j models.Job) error
	GetJob(id string) (models.Job, error)
	ListUnfinishedJobs() ([]models.Job, error)
	DeleteJob(id string) error
}

// Store defines the storage operations for GoScout.
type Store interface {
	// Scout operations
	SaveScout(s models.Scout) error
	GetScout(id string) (models.Scout, error)
	ListScouts() ([]models.Scout, error)
	ListScoutsByStatus(statuses ...models.ScoutStatus) ([]models.Scout, error)
	UpdateScoutStatus(id string, status models.ScoutStatus) error

	// Todo operations
	SaveTodo(t models.Todo) error
	GetTodo(id string) (models.Todo, error)
	// ListTodos returns the todos of a scout in creation order.
	ListTodos(scoutID string) ([]models.Todo, error)
	ListTodosByStatus(status models.TodoStatus) ([]models.Todo, error)
	// CompareAndSetTodoStatus moves a todo from one status to another and
	// reports false when the todo was not in the expected status.
	CompareAndSetTodoStatus(id string, from, to models.TodoStatus) (bool, error)
	MarkTodoRunning(id string, at time.Time) error
	CompleteTodo(id string, result models.TaskResult, completedAt time.Time, next *time.Time) error
	// FailTodo records the error and increments retry_count, never past max_retries.
	FailTodo(id string, errMsg string) (models.Todo, error)
	// ResetTodo moves a todo in status from back to PENDING for a fresh run,
	// clearing its error. Run history (last_run_at, retry_count) is kept.
	ResetTodo(id string, from models.TodoStatus) (bool, error)

	// Summary operations
	// SaveSummary reports false when a summary already exists for the same
	// (scout, todo) pair, or a final summary already exists for the scout.
	SaveSummary(s models.Summary) (bool, error)
	ListSummaries(scoutID string) ([]models.Summary, error)
	HasFinalSummary(scoutID string) (bool, error)

	// Log operations
	AppendLog(l models.LogEntry) error
	// ListLogs returns the newest scout-level and todo-level logs first.
	ListLogs(scoutID string, limit int) ([]models.LogEntry, error)
	ListTodoLogs(todoID string, limit int) ([]models.LogEntry, error)

	JobStore

	Begin() (Store, error)
	Commit() error
	Rollback() error
	Close() error
}
