package service

import (
	"time"

	"github.com/ignatij/goscout/pkg/models"
)

const (
	// DataChangeWindow is how recent a sibling completion must be for data_change.
	DataChangeWindow = 24 * time.Hour
	// DefaultMaxFailures is the failure_count threshold when none is configured.
	DefaultMaxFailures = 3
	// AnalysisMinCompleted is how many siblings must be done before an analysis runs.
	AnalysisMinCompleted = 2
)

// IsEligible decides whether a pending todo may be submitted now. siblings
// are the other todos of the same scout; an entry with todo's own id is ignored.
func IsEligible(todo models.Todo, siblings []models.Todo, now time.Time) bool {
	others := make([]models.Todo, 0, len(siblings))
	for _, s := range siblings {
		if s.ID != todo.ID {
			others = append(others, s)
		}
	}

	switch todo.TaskType {
	case models.SingleRunTask:
		// a run that failed and was reset by cleanup may go again
		return todo.LastRunAt == nil || (todo.RetryCount > 0 && todo.RetryCount < todo.RetryLimit())
	case models.RecurringTask:
		return todo.ScheduledFor == nil || !now.Before(*todo.ScheduledFor)
	case models.ConditionalTask:
		return EvaluateCondition(todo.Condition, others, now)
	case models.AnalysisTask:
		return countStatus(others, models.CompletedTodoStatus) >= AnalysisMinCompleted
	case models.FailureRecoveryTask:
		return countStatus(others, models.FailedTodoStatus) >= 1
	}
	return false
}

// EvaluateCondition checks a RUN_ON_CONDITION gate against scout state.
// A missing or unknown condition never holds.
func EvaluateCondition(cond *models.Condition, siblings []models.Todo, now time.Time) bool {
	if cond == nil {
		return false
	}
	p := cond.Parameters
	switch cond.Type {
	case models.PriceThresholdCondition:
		if p.Threshold == nil {
			return false
		}
		price, ok := LatestPrice(siblings)
		if !ok {
			return false
		}
		switch p.Comparison {
		case models.LessThan:
			return price < *p.Threshold
		case models.GreaterThan:
			return price > *p.Threshold
		}
		return false
	case models.DataChangeCondition:
		for _, s := range siblings {
			if s.Status == models.CompletedTodoStatus && s.CompletedAt != nil && now.Sub(*s.CompletedAt) <= DataChangeWindow {
				return true
			}
		}
		return false
	case models.TimeBasedCondition:
		if p.ScheduledTime == "" {
			return false
		}
		at, err := time.Parse(time.RFC3339, p.ScheduledTime)
		if err != nil {
			return false
		}
		return !now.Before(at)
	case models.FailureCountCondition:
		max := p.MaxFailures
		if max <= 0 {
			max = DefaultMaxFailures
		}
		return countStatus(siblings, models.FailedTodoStatus) >= max
	}
	return false
}

// LatestPrice returns the typed price of the most recently completed browser
// automation todo. It reports false when that result carries no price.
func LatestPrice(todos []models.Todo) (float64, bool) {
	var latest *models.Todo
	for i := range todos {
		t := &todos[i]
		if t.AgentType != models.BrowserAutomationAgent || t.Status != models.CompletedTodoStatus || t.Result == nil {
			continue
		}
		if latest == nil || completedAfter(t, latest) {
			latest = t
		}
	}
	if latest == nil {
		return 0, false
	}
	return latest.Result.Price()
}

func completedAfter(a, b *models.Todo) bool {
	if a.CompletedAt == nil {
		return false
	}
	if b.CompletedAt == nil {
		return true
	}
	return a.CompletedAt.After(*b.CompletedAt)
}

func countStatus(todos []models.Todo, status models.TodoStatus) int {
	n := 0
	for _, t := range todos {
		if t.Status == status {
			n++
		}
	}
	return n
}
