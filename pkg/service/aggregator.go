package service

import (
	"context"

	"github.com/ignatij/goscout/pkg/events"
	"github.com/ignatij/goscout/pkg/models"
	"github.com/ignatij/goscout/pkg/storage"
	"github.com/pkg/errors"
)

// FailedFractionLimit is the share of failed todos that fails a scout.
const FailedFractionLimit = 0.5

// Progress is the rollup of a scout's todos.
type Progress struct {
	TotalTodos         int                `json:"totalTodos"`
	CompletedTodos     int                `json:"completedTodos"`
	FailedTodos        int                `json:"failedTodos"`
	InProgressTodos    int                `json:"inProgressTodos"`
	PendingTodos       int                `json:"pendingTodos"`
	ProgressPercentage float64            `json:"progressPercentage"`
	Status             models.ScoutStatus `json:"status"`
}

// Rollup derives scout progress from todo statuses. It depends only on the
// multiset of statuses, so repeated or reordered calls agree.
func Rollup(statuses []models.TodoStatus, current models.ScoutStatus) Progress {
	p := Progress{TotalTodos: len(statuses), Status: current}
	for _, s := range statuses {
		switch s {
		case models.CompletedTodoStatus:
			p.CompletedTodos++
		case models.FailedTodoStatus:
			p.FailedTodos++
		case models.InProgressTodoStatus:
			p.InProgressTodos++
		case models.PendingTodoStatus:
			p.PendingTodos++
		}
	}
	if p.TotalTodos == 0 {
		return p
	}
	total := float64(p.TotalTodos)
	p.ProgressPercentage = float64(p.CompletedTodos) / total * 100

	switch {
	case p.CompletedTodos == p.TotalTodos:
		p.Status = models.CompletedScoutStatus
	case p.FailedTodos > 0 && float64(p.FailedTodos)/total >= FailedFractionLimit:
		p.Status = models.FailedScoutStatus
	case p.CompletedTodos > 0 || p.InProgressTodos > 0:
		p.Status = models.InProgressScoutStatus
	}
	return p
}

func statusesOf(todos []models.Todo) []models.TodoStatus {
	out := make([]models.TodoStatus, len(todos))
	for i, t := range todos {
		out[i] = t.Status
	}
	return out
}

// Aggregator keeps scout status in line with its todos and publishes the
// resulting state to live subscribers.
type Aggregator struct {
	store  storage.Store
	hub    events.Publisher
	logger Logger
}

func NewAggregator(store storage.Store, hub events.Publisher, logger Logger) *Aggregator {
	return &Aggregator{store: store, hub: hub, logger: logger}
}

// Recompute rolls the scout's todos up, persists a status change and
// publishes a scout_update event.
func (a *Aggregator) Recompute(ctx context.Context, scoutID string) (Progress, error) {
	scout, err := a.store.GetScout(scoutID)
	if err != nil {
		return Progress{}, errors.Wrapf(err, "load scout %s", scoutID)
	}
	todos, err := a.store.ListTodos(scoutID)
	if err != nil {
		return Progress{}, errors.Wrapf(err, "load todos of scout %s", scoutID)
	}
	p := Rollup(statusesOf(todos), scout.Status)
	if p.Status != scout.Status {
		if err := a.store.UpdateScoutStatus(scoutID, p.Status); err != nil {
			return p, persistenceError(err, "update scout %s status", scoutID)
		}
		a.logger.Infof("Scout %s status %s -> %s (%.1f%% complete)", scoutID, scout.Status, p.Status, p.ProgressPercentage)
		scout.Status = p.Status
	}
	a.publish(scout, todos, p)
	return p, nil
}

// Notify publishes the current state of a scout without changing it.
func (a *Aggregator) Notify(ctx context.Context, scoutID string) {
	scout, err := a.store.GetScout(scoutID)
	if err != nil {
		a.logger.Errorf("Failed to load scout %s for notification: %v", scoutID, err)
		return
	}
	todos, err := a.store.ListTodos(scoutID)
	if err != nil {
		a.logger.Errorf("Failed to load todos of scout %s for notification: %v", scoutID, err)
		return
	}
	a.publish(scout, todos, Rollup(statusesOf(todos), scout.Status))
}

func (a *Aggregator) publish(scout models.Scout, todos []models.Todo, p Progress) {
	if a.hub == nil {
		return
	}
	logs, err := a.store.ListLogs(scout.ID, RecentLogLimit)
	if err != nil {
		a.logger.Errorf("Failed to load recent logs of scout %s: %v", scout.ID, err)
	}
	a.hub.Publish(scout.ID, buildEvent(events.ScoutUpdate, scout, todos, p, logs))
}

// RecentLogLimit is how many logs ride along with an update event.
const RecentLogLimit = 5

func buildEvent(kind string, scout models.Scout, todos []models.Todo, p Progress, logs []models.LogEntry) events.Event {
	ev := events.Event{
		Type: kind,
		Scout: events.ScoutView{
			ID:        scout.ID,
			UserQuery: scout.UserQuery,
			Status:    scout.Status,
			Progress: events.Progress{
				TotalTodos:         p.TotalTodos,
				CompletedTodos:     p.CompletedTodos,
				ProgressPercentage: p.ProgressPercentage,
			},
		},
		Todos:      make([]events.TodoView, len(todos)),
		RecentLogs: logs,
	}
	for i, t := range todos {
		ev.Todos[i] = events.TodoView{ID: t.ID, Title: t.Title, Status: t.Status, AgentType: t.AgentType}
	}
	return ev
}
