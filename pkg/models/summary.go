package models

import "time"

const (
	IndividualSummaryType = "individual_todo_summary"
	TodoSummaryType       = "todo_summary"
	FinalSummaryType      = "final_summary"
)

// SummaryData is the structured metadata attached to a summary.
type SummaryData struct {
	SummaryType         string    `json:"summaryType"`
	AgentType           AgentType `json:"agentType,omitempty"`
	TaskType            TaskType  `json:"taskType,omitempty"`
	ResultType          AgentType `json:"resultType,omitempty"`
	RelatedTodos        []string  `json:"relatedTodos,omitempty"`
	TodosAnalyzed       int       `json:"todosAnalyzed,omitempty"`
	IndividualSummaries int       `json:"individualSummaries,omitempty"`
	ScoutQuery          string    `json:"scoutQuery,omitempty"`
	Fallback            bool      `json:"fallback,omitempty"`
}

// Summary is an immutable write-up. A nil TodoID marks the scout's final summary.
type Summary struct {
	ID        string      `json:"id" db:"id"`
	ScoutID   string      `json:"scoutId" db:"scout_id"`
	TodoID    *string     `json:"todoId,omitempty" db:"todo_id"`
	UserID    string      `json:"userId" db:"user_id"`
	Title     string      `json:"title" db:"title"`
	Content   string      `json:"content" db:"content"`
	Data      SummaryData `json:"data" db:"data"`
	CreatedAt time.Time   `json:"createdAt" db:"created_at"`
}

// IsFinal reports whether s is the scout-level synthesis.
func (s Summary) IsFinal() bool {
	return s.TodoID == nil && s.Data.SummaryType == FinalSummaryType
}
