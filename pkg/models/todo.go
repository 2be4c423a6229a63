package models

import "time"

type AgentType string

const (
	ActionAgent            AgentType = "ACTION_SCOUT"
	BrowserAutomationAgent AgentType = "BROWSER_AUTOMATION"
	SearchAgent            AgentType = "SEARCH_AGENT"
	PlexAgent              AgentType = "PLEX_AGENT" // advanced search
	ResearchAgent          AgentType = "RESEARCH_AGENT"
	SummaryAgent           AgentType = "SUMMARY_AGENT"
)

// AgentTypes lists every agent type in prompt order.
var AgentTypes = []AgentType{ActionAgent, BrowserAutomationAgent, SearchAgent, PlexAgent, ResearchAgent, SummaryAgent}

func (a AgentType) Valid() bool {
	for _, known := range AgentTypes {
		if a == known {
			return true
		}
	}
	return false
}

type TaskType string

const (
	SingleRunTask       TaskType = "SINGLE_RUN"
	RecurringTask       TaskType = "CONTINUOUSLY_RUNNING"
	ConditionalTask     TaskType = "RUN_ON_CONDITION"
	AnalysisTask        TaskType = "THINKING_RESEARCH"
	FailureRecoveryTask TaskType = "FAILED_TASK_RECOVERY"
)

var TaskTypes = []TaskType{SingleRunTask, RecurringTask, ConditionalTask, AnalysisTask, FailureRecoveryTask}

func (t TaskType) Valid() bool {
	for _, known := range TaskTypes {
		if t == known {
			return true
		}
	}
	return false
}

type TodoStatus string

const (
	PendingTodoStatus    TodoStatus = "PENDING"
	InProgressTodoStatus TodoStatus = "IN_PROGRESS"
	CompletedTodoStatus  TodoStatus = "COMPLETED"
	FailedTodoStatus     TodoStatus = "FAILED"
)

type ActionKind string

const (
	ActAction     ActionKind = "act"
	ObserveAction ActionKind = "observe"
	ExtractAction ActionKind = "extract"
)

func (k ActionKind) Valid() bool {
	return k == ActAction || k == ObserveAction || k == ExtractAction
}

// Action is one step of a browser automation script.
type Action struct {
	Type        ActionKind `json:"type"`
	Description string     `json:"description"`
}

// DefaultMaxRetries bounds RetryCount for todos that don't set their own limit.
const DefaultMaxRetries = 3

// Todo is a single schedulable unit of work inside a scout.
type Todo struct {
	ID           string      `json:"id" db:"id"`
	ScoutID      string      `json:"scoutId" db:"scout_id"`
	UserID       string      `json:"userId" db:"user_id"`
	Title        string      `json:"title" db:"title"`
	Description  string      `json:"description" db:"description"`
	AgentType    AgentType   `json:"agentType" db:"agent_type"`
	TaskType     TaskType    `json:"taskType" db:"task_type"`
	Status       TodoStatus  `json:"status" db:"status"`
	Condition    *Condition  `json:"condition,omitempty" db:"condition"`
	GoTo         StringList  `json:"goTo" db:"go_to"`
	Search       StringList  `json:"search" db:"search"`
	Actions      ActionList  `json:"actions" db:"actions"`
	Result       *TaskResult `json:"resultData,omitempty" db:"result_data"`
	ErrorMessage string      `json:"errorMessage,omitempty" db:"error_message"`
	RetryCount   int         `json:"retryCount" db:"retry_count"`
	MaxRetries   int         `json:"maxRetries" db:"max_retries"`
	ScheduledFor *time.Time  `json:"scheduledFor,omitempty" db:"scheduled_for"` // next run of a recurring todo
	CreatedAt    time.Time   `json:"createdAt" db:"created_at"`
	LastRunAt    *time.Time  `json:"lastRunAt,omitempty" db:"last_run_at"`
	CompletedAt  *time.Time  `json:"completedAt,omitempty" db:"completed_at"`
}

// RetryLimit returns MaxRetries, or DefaultMaxRetries when unset.
func (t Todo) RetryLimit() int {
	if t.MaxRetries <= 0 {
		return DefaultMaxRetries
	}
	return t.MaxRetries
}

// Descriptor builds the queue payload for t.
func (t Todo) Descriptor(freq NotificationFrequency) TaskDescriptor {
	return TaskDescriptor{
		TodoID:                t.ID,
		Title:                 t.Title,
		Description:           t.Description,
		AgentType:             t.AgentType,
		TaskType:              t.TaskType,
		UserID:                t.UserID,
		ScoutID:               t.ScoutID,
		Condition:             t.Condition,
		GoTo:                  t.GoTo,
		Search:                t.Search,
		Actions:               t.Actions,
		ResultData:            t.Result,
		NotificationFrequency: freq,
	}
}
