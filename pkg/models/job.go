package models

import "time"

type JobState string

const (
	WaitingJobState   JobState = "waiting"
	ActiveJobState    JobState = "active"
	DelayedJobState   JobState = "delayed"
	CompletedJobState JobState = "completed"
	FailedJobState    JobState = "failed"
)

// Finished reports whether no further attempts will be made.
func (s JobState) Finished() bool {
	return s == CompletedJobState || s == FailedJobState
}

// Job is the queue's bookkeeping record for one enqueued descriptor.
type Job struct {
	ID           string         `json:"id" db:"id"`
	TodoID       string         `json:"todoId" db:"todo_id"`
	ScoutID      string         `json:"scoutId" db:"scout_id"`
	Lane         string         `json:"lane" db:"lane"`
	Payload      TaskDescriptor `json:"data" db:"payload"`
	State        JobState       `json:"state" db:"state"`
	AttemptsMade int            `json:"attemptsMade" db:"attempts_made"`
	MaxAttempts  int            `json:"maxAttempts" db:"max_attempts"`
	LastError    string         `json:"failedReason,omitempty" db:"last_error"`
	CreatedAt    time.Time      `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time      `json:"updatedAt" db:"updated_at"`
	FinishedAt   *time.Time     `json:"finishedAt,omitempty" db:"finished_at"`
}
