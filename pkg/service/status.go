package service

import (
	"context"

	"github.com/ignatij/goscout/pkg/models"
	"github.com/pkg/errors"
)

const (
	scoutLogLimit = 10
	todoLogLimit  = 5
)

// AgentStats aggregates the dispatch attempts of one agent type.
type AgentStats struct {
	Count        int     `json:"count"`
	SuccessCount int     `json:"successCount"`
	TotalTime    int64   `json:"totalTime"`
	SuccessRate  float64 `json:"successRate"`
	AverageTime  float64 `json:"averageTime"`
}

// Performance is derived from the performance records in scout logs.
// Times are in milliseconds and rates in percent.
type Performance struct {
	AverageExecutionTime float64                         `json:"averageExecutionTime"`
	SuccessRate          float64                         `json:"successRate"`
	TotalExecutions      int                             `json:"totalExecutions"`
	AgentTypeBreakdown   map[models.AgentType]AgentStats `json:"agentTypeBreakdown"`
}

type TodoReport struct {
	models.Todo
	Progress   int               `json:"progress"`
	RecentLogs []models.LogEntry `json:"logs"`
}

type SummaryReport struct {
	models.Summary
	IsFinalSummary bool `json:"isFinalSummary"`
}

// StatusReport is the full read view of a scout.
type StatusReport struct {
	Scout       models.Scout      `json:"scout"`
	Progress    Progress          `json:"progress"`
	Performance Performance       `json:"performance"`
	Todos       []TodoReport      `json:"todos"`
	Summaries   []SummaryReport   `json:"summaries"`
	Logs        []models.LogEntry `json:"logs"`
}

// TodoProgress maps a status to a completion percentage.
func TodoProgress(status models.TodoStatus) int {
	switch status {
	case models.CompletedTodoStatus:
		return 100
	case models.InProgressTodoStatus:
		return 50
	}
	return 0
}

// ComputePerformance folds the performance records found in logs.
func ComputePerformance(logs []models.LogEntry) Performance {
	perf := Performance{AgentTypeBreakdown: map[models.AgentType]AgentStats{}}
	var total int64
	successes := 0
	for _, l := range logs {
		p := l.Data.Performance
		if p == nil {
			continue
		}
		perf.TotalExecutions++
		total += p.ExecutionTimeMs
		stats := perf.AgentTypeBreakdown[p.AgentType]
		stats.Count++
		stats.TotalTime += p.ExecutionTimeMs
		if p.Success {
			successes++
			stats.SuccessCount++
		}
		perf.AgentTypeBreakdown[p.AgentType] = stats
	}
	if perf.TotalExecutions == 0 {
		return perf
	}
	perf.AverageExecutionTime = float64(total) / float64(perf.TotalExecutions)
	perf.SuccessRate = float64(successes) / float64(perf.TotalExecutions) * 100
	for agent, stats := range perf.AgentTypeBreakdown {
		stats.SuccessRate = float64(stats.SuccessCount) / float64(stats.Count) * 100
		stats.AverageTime = float64(stats.TotalTime) / float64(stats.Count)
		perf.AgentTypeBreakdown[agent] = stats
	}
	return perf
}

// Status builds the status report of a scout.
func (s *ScoutService) Status(ctx context.Context, scoutID string) (StatusReport, error) {
	scout, err := s.store.GetScout(scoutID)
	if err != nil {
		return StatusReport{}, err
	}
	todos, err := s.store.ListTodos(scoutID)
	if err != nil {
		return StatusReport{}, errors.Wrapf(err, "load todos of scout %s", scoutID)
	}
	allLogs, err := s.store.ListLogs(scoutID, 0)
	if err != nil {
		return StatusReport{}, errors.Wrapf(err, "load logs of scout %s", scoutID)
	}
	summaries, err := s.store.ListSummaries(scoutID)
	if err != nil {
		return StatusReport{}, errors.Wrapf(err, "load summaries of scout %s", scoutID)
	}

	report := StatusReport{
		Scout:       scout,
		Progress:    Rollup(statusesOf(todos), scout.Status),
		Performance: ComputePerformance(allLogs),
		Todos:       make([]TodoReport, len(todos)),
		Summaries:   make([]SummaryReport, len(summaries)),
	}
	// the rollup must not override the stored status in a read view
	report.Progress.Status = scout.Status
	for i, t := range todos {
		logs, err := s.store.ListTodoLogs(t.ID, todoLogLimit)
		if err != nil {
			s.logger.Errorf("Failed to load logs of todo %s: %v", t.ID, err)
		}
		report.Todos[i] = TodoReport{Todo: t, Progress: TodoProgress(t.Status), RecentLogs: logs}
	}
	for i, sm := range summaries {
		report.Summaries[i] = SummaryReport{Summary: sm, IsFinalSummary: sm.IsFinal()}
	}
	if len(allLogs) > scoutLogLimit {
		report.Logs = allLogs[:scoutLogLimit]
	} else {
		report.Logs = allLogs
	}
	return report, nil
}
