package service_test

import (
	"testing"
	"time"

	"github.com/ignatij/goscout/pkg/models"
	"github.com/ignatij/goscout/pkg/service"
	"github.com/stretchr/testify/assert"
)

func browserTodo(id string, price float64, completedAt time.Time) models.Todo {
	t := newTodo(nil, "s1", id, models.BrowserAutomationAgent, models.SingleRunTask, models.CompletedTodoStatus)
	t.CompletedAt = &completedAt
	t.Result = &models.TaskResult{
		Type:        models.BrowserAutomationAgent,
		Browser:     &models.BrowserResponse{Success: true, Data: &models.BrowserData{Price: ptr(price)}},
		CompletedAt: completedAt,
	}
	return t
}

func priceGate(threshold float64, comparison string) *models.Condition {
	return &models.Condition{
		Type:       models.PriceThresholdCondition,
		Parameters: models.ConditionParams{Threshold: ptr(threshold), Comparison: comparison},
	}
}

func TestIsEligible(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("SingleRunOnlyBeforeFirstRun", func(t *testing.T) {
		todo := newTodo(nil, "s1", "t1", models.SearchAgent, models.SingleRunTask, models.PendingTodoStatus)
		assert.True(t, service.IsEligible(todo, nil, now))
		todo.LastRunAt = ptr(now.Add(-time.Minute))
		assert.False(t, service.IsEligible(todo, nil, now))
	})

	t.Run("SingleRunRetriedWhileBudgetLeft", func(t *testing.T) {
		todo := newTodo(nil, "s1", "t1", models.SearchAgent, models.SingleRunTask, models.PendingTodoStatus)
		todo.LastRunAt = ptr(now.Add(-time.Minute))
		todo.RetryCount = 1
		assert.True(t, service.IsEligible(todo, nil, now))
		todo.RetryCount = todo.RetryLimit()
		assert.False(t, service.IsEligible(todo, nil, now))
	})

	t.Run("RecurringFollowsSchedule", func(t *testing.T) {
		todo := newTodo(nil, "s1", "t1", models.SearchAgent, models.RecurringTask, models.PendingTodoStatus)
		assert.True(t, service.IsEligible(todo, nil, now))
		todo.ScheduledFor = ptr(now.Add(time.Hour))
		assert.False(t, service.IsEligible(todo, nil, now))
		todo.ScheduledFor = ptr(now)
		assert.True(t, service.IsEligible(todo, nil, now))
	})

	t.Run("PriceThresholdUsesLatestBrowserPrice", func(t *testing.T) {
		todo := newTodo(nil, "s1", "t1", models.ActionAgent, models.ConditionalTask, models.PendingTodoStatus)
		todo.Condition = priceGate(500, models.LessThan)

		cheap := []models.Todo{browserTodo("b1", 450, now.Add(-time.Hour))}
		assert.True(t, service.IsEligible(todo, cheap, now))

		expensive := []models.Todo{browserTodo("b1", 600, now.Add(-time.Hour))}
		assert.False(t, service.IsEligible(todo, expensive, now))

		// the newest completion wins
		both := []models.Todo{browserTodo("b1", 450, now.Add(-2*time.Hour)), browserTodo("b2", 600, now.Add(-time.Hour))}
		assert.False(t, service.IsEligible(todo, both, now))

		// strict comparison
		equal := []models.Todo{browserTodo("b1", 500, now.Add(-time.Hour))}
		assert.False(t, service.IsEligible(todo, equal, now))

		todo.Condition = priceGate(500, models.GreaterThan)
		assert.True(t, service.IsEligible(todo, expensive, now))
	})

	t.Run("PriceThresholdWithoutPriceIsIneligible", func(t *testing.T) {
		todo := newTodo(nil, "s1", "t1", models.ActionAgent, models.ConditionalTask, models.PendingTodoStatus)
		todo.Condition = priceGate(500, models.LessThan)
		assert.False(t, service.IsEligible(todo, nil, now))

		noPrice := browserTodo("b1", 0, now)
		noPrice.Result.Browser.Data.Price = nil
		assert.False(t, service.IsEligible(todo, []models.Todo{noPrice}, now))

		pending := browserTodo("b2", 100, now)
		pending.Status = models.PendingTodoStatus
		assert.False(t, service.IsEligible(todo, []models.Todo{pending}, now))
	})

	t.Run("DataChangeWithinWindow", func(t *testing.T) {
		todo := newTodo(nil, "s1", "t1", models.SearchAgent, models.ConditionalTask, models.PendingTodoStatus)
		todo.Condition = &models.Condition{Type: models.DataChangeCondition}

		recent := newTodo(nil, "s1", "t2", models.SearchAgent, models.SingleRunTask, models.CompletedTodoStatus)
		recent.CompletedAt = ptr(now.Add(-time.Hour))
		assert.True(t, service.IsEligible(todo, []models.Todo{recent}, now))

		recent.CompletedAt = ptr(now.Add(-48 * time.Hour))
		assert.False(t, service.IsEligible(todo, []models.Todo{recent}, now))
	})

	t.Run("TimeBased", func(t *testing.T) {
		todo := newTodo(nil, "s1", "t1", models.SearchAgent, models.ConditionalTask, models.PendingTodoStatus)
		todo.Condition = &models.Condition{Type: models.TimeBasedCondition, Parameters: models.ConditionParams{
			ScheduledTime: now.Add(-time.Minute).Format(time.RFC3339),
		}}
		assert.True(t, service.IsEligible(todo, nil, now))

		todo.Condition.Parameters.ScheduledTime = now.Add(time.Minute).Format(time.RFC3339)
		assert.False(t, service.IsEligible(todo, nil, now))

		todo.Condition.Parameters.ScheduledTime = "tomorrow"
		assert.False(t, service.IsEligible(todo, nil, now))
	})

	t.Run("FailureCount", func(t *testing.T) {
		todo := newTodo(nil, "s1", "t1", models.ResearchAgent, models.ConditionalTask, models.PendingTodoStatus)
		todo.Condition = &models.Condition{Type: models.FailureCountCondition, Parameters: models.ConditionParams{MaxFailures: 2}}
		failed := []models.Todo{
			newTodo(nil, "s1", "f1", models.SearchAgent, models.SingleRunTask, models.FailedTodoStatus),
		}
		assert.False(t, service.IsEligible(todo, failed, now))
		failed = append(failed, newTodo(nil, "s1", "f2", models.SearchAgent, models.SingleRunTask, models.FailedTodoStatus))
		assert.True(t, service.IsEligible(todo, failed, now))

		todo.Condition.Parameters.MaxFailures = 0
		assert.False(t, service.IsEligible(todo, failed, now))
	})

	t.Run("ConditionalWithoutConditionIsIneligible", func(t *testing.T) {
		todo := newTodo(nil, "s1", "t1", models.SearchAgent, models.ConditionalTask, models.PendingTodoStatus)
		assert.False(t, service.IsEligible(todo, nil, now))
		todo.Condition = &models.Condition{Type: "weather"}
		assert.False(t, service.IsEligible(todo, nil, now))
	})

	t.Run("AnalysisNeedsTwoCompletedSiblings", func(t *testing.T) {
		todo := newTodo(nil, "s1", "t1", models.PlexAgent, models.AnalysisTask, models.PendingTodoStatus)
		siblings := []models.Todo{
			newTodo(nil, "s1", "a", models.SearchAgent, models.SingleRunTask, models.CompletedTodoStatus),
			newTodo(nil, "s1", "b", models.SearchAgent, models.SingleRunTask, models.InProgressTodoStatus),
		}
		assert.False(t, service.IsEligible(todo, siblings, now))

		siblings[1].Status = models.CompletedTodoStatus
		assert.True(t, service.IsEligible(todo, siblings, now))
	})

	t.Run("FailureRecoveryNeedsAFailedSibling", func(t *testing.T) {
		todo := newTodo(nil, "s1", "t1", models.ResearchAgent, models.FailureRecoveryTask, models.PendingTodoStatus)
		assert.False(t, service.IsEligible(todo, []models.Todo{todo}, now))

		// the todo itself does not count as a sibling
		self := todo
		self.Status = models.FailedTodoStatus
		assert.False(t, service.IsEligible(todo, []models.Todo{self}, now))

		failed := newTodo(nil, "s1", "f1", models.SearchAgent, models.SingleRunTask, models.FailedTodoStatus)
		assert.True(t, service.IsEligible(todo, []models.Todo{todo, failed}, now))
	})

	t.Run("UnknownTaskTypeIsIneligible", func(t *testing.T) {
		todo := newTodo(nil, "s1", "t1", models.SearchAgent, "SOMETIMES", models.PendingTodoStatus)
		assert.False(t, service.IsEligible(todo, nil, now))
	})
}
