package models

import "time"

// Performance describes one dispatch attempt.
type Performance struct {
	ExecutionTimeMs int64     `json:"executionTime"`
	Success         bool      `json:"success"`
	AgentType       AgentType `json:"agentType"`
	TaskType        TaskType  `json:"taskType"`
	ErrorClass      string    `json:"errorClass,omitempty"`
}

type LogData struct {
	Performance *Performance `json:"performance,omitempty"`
	Status      TodoStatus   `json:"status,omitempty"`
	Error       string       `json:"error,omitempty"`
	Attempt     int          `json:"attempt,omitempty"`
}

// LogEntry is an append-only observability record.
type LogEntry struct {
	ID        string    `json:"id" db:"id"`
	ScoutID   string    `json:"scoutId" db:"scout_id"`
	TodoID    *string   `json:"todoId,omitempty" db:"todo_id"`
	AgentType AgentType `json:"agentType,omitempty" db:"agent_type"`
	Message   string    `json:"message" db:"message"`
	Data      LogData   `json:"data" db:"data"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}
