package service

import (
	"context"
	"math"
	"time"

	"github.com/ignatij/goscout/pkg/models"
	"github.com/ignatij/goscout/pkg/storage"
	"github.com/pkg/errors"
)

const (
	ActionProcess   = "process"
	ActionSummarize = "summarize"
	ActionCleanup   = "cleanup"
	ActionRearm     = "rearm"

	// FinalSummaryMinCompleted and FinalSummaryFraction gate the final summary.
	FinalSummaryMinCompleted = 2
	FinalSummaryFraction     = 0.7
)

// Actions lists the names RunAction accepts.
var Actions = []string{ActionProcess, ActionSummarize, ActionCleanup, ActionRearm}

// PassResult reports what one scheduler action did.
type PassResult struct {
	Action   string `json:"action"`
	Scouts   int    `json:"scoutsProcessed"`
	Affected int    `json:"affected"`
	Errors   int    `json:"errors"`
}

type SchedulerOptions struct {
	// RearmRecurring makes Run reset due recurring todos every tick.
	RearmRecurring bool
	// RetryFailed makes Run reset retryable failed todos every tick.
	RetryFailed bool
}

// Scheduler is the periodic driver: it submits eligible todos, triggers
// final summaries and resets todos that may run again. It never executes
// todos itself.
type Scheduler struct {
	store      storage.Store
	queue      Enqueuer
	summarizer *Summarizer
	aggregator *Aggregator
	recorder   Recorder
	opts       SchedulerOptions
	logger     Logger
	now        Clock
}

func NewScheduler(
	store storage.Store,
	queue Enqueuer,
	summarizer *Summarizer,
	aggregator *Aggregator,
	recorder Recorder,
	opts SchedulerOptions,
	logger Logger) *Scheduler {
	if recorder == nil {
		recorder = NopRecorder{}
	}
	return &Scheduler{
		store:      store,
		queue:      queue,
		summarizer: summarizer,
		aggregator: aggregator,
		recorder:   recorder,
		opts:       opts,
		logger:     logger,
		now:        time.Now,
	}
}

// Run executes a pass every interval until ctx is done.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	s.logger.Infof("Scheduler started (interval %s)", interval)
	for {
		s.tick(ctx)
		select {
		case <-ctx.Done():
			s.logger.Infof("Scheduler stopped: %v", ctx.Err())
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	actions := []string{}
	if s.opts.RetryFailed {
		actions = append(actions, ActionCleanup)
	}
	if s.opts.RearmRecurring {
		actions = append(actions, ActionRearm)
	}
	actions = append(actions, ActionProcess, ActionSummarize)
	for _, action := range actions {
		if ctx.Err() != nil {
			return
		}
		if _, err := s.RunAction(ctx, action); err != nil {
			s.logger.Errorf("Scheduler %s pass failed: %v", action, err)
		}
	}
}

// RunAction runs one named pass.
func (s *Scheduler) RunAction(ctx context.Context, action string) (PassResult, error) {
	started := s.now()
	var res PassResult
	var err error
	switch action {
	case ActionProcess:
		res, err = s.ProcessScouts(ctx)
	case ActionSummarize:
		res, err = s.GenerateSummaries(ctx)
	case ActionCleanup:
		res, err = s.RetryFailed(ctx)
	case ActionRearm:
		res, err = s.Rearm(ctx)
	default:
		return PassResult{}, errors.Wrapf(ErrValidation, "unknown scheduler action %q", action)
	}
	s.recorder.RecordSchedulerPass(ctx, action, res.Affected, s.now().Sub(started))
	return res, err
}

// ProcessScouts submits every eligible PENDING todo of IN_PROGRESS scouts.
// A todo is moved to IN_PROGRESS before it is enqueued so the next pass
// cannot submit it again; a failed enqueue moves it back.
func (s *Scheduler) ProcessScouts(ctx context.Context) (PassResult, error) {
	res := PassResult{Action: ActionProcess}
	scouts, err := s.store.ListScoutsByStatus(models.InProgressScoutStatus)
	if err != nil {
		return res, errors.Wrap(err, "list in-progress scouts")
	}
	for _, scout := range scouts {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		n, err := s.processScout(ctx, scout)
		res.Scouts++
		res.Affected += n
		if err != nil {
			res.Errors++
			s.logger.Errorf("Failed to process scout %s: %v", scout.ID, err)
		}
	}
	return res, nil
}

func (s *Scheduler) processScout(ctx context.Context, scout models.Scout) (int, error) {
	todos, err := s.store.ListTodos(scout.ID)
	if err != nil {
		return 0, errors.Wrap(err, "list todos")
	}
	now := s.now()
	enqueued := 0
	for _, todo := range todos {
		if todo.Status != models.PendingTodoStatus || !IsEligible(todo, todos, now) {
			continue
		}
		ok, err := s.store.CompareAndSetTodoStatus(todo.ID, models.PendingTodoStatus, models.InProgressTodoStatus)
		if err != nil {
			s.logger.Errorf("Failed to claim todo %s: %v", todo.ID, err)
			continue
		}
		if !ok {
			continue
		}
		h, err := s.queue.Enqueue(ctx, todo.Descriptor(scout.NotificationFrequency))
		if err != nil {
			s.logger.Errorf("Failed to enqueue todo %s: %v", todo.ID, err)
			if _, revertErr := s.store.CompareAndSetTodoStatus(todo.ID, models.InProgressTodoStatus, models.PendingTodoStatus); revertErr != nil {
				s.logger.Errorf("Failed to release todo %s: %v", todo.ID, revertErr)
			}
			continue
		}
		s.logger.Infof("Queued todo %s (%s/%s) as job %s", todo.ID, todo.AgentType, todo.TaskType, h.ID)
		enqueued++
	}
	if enqueued > 0 && s.aggregator != nil {
		if _, err := s.aggregator.Recompute(ctx, scout.ID); err != nil {
			return enqueued, err
		}
	}
	return enqueued, nil
}

// ReadyForFinalSummary reports whether completed todos reach
// max(FinalSummaryMinCompleted, FinalSummaryFraction * total).
func ReadyForFinalSummary(completed, total int) bool {
	if total == 0 {
		return false
	}
	need := math.Max(FinalSummaryMinCompleted, FinalSummaryFraction*float64(total))
	return float64(completed) >= need
}

// GenerateSummaries writes the final summary of every scout that crossed
// the completion threshold and has none yet.
func (s *Scheduler) GenerateSummaries(ctx context.Context) (PassResult, error) {
	res := PassResult{Action: ActionSummarize}
	scouts, err := s.store.ListScoutsByStatus(models.InProgressScoutStatus, models.CompletedScoutStatus)
	if err != nil {
		return res, errors.Wrap(err, "list scouts")
	}
	for _, scout := range scouts {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		res.Scouts++
		has, err := s.store.HasFinalSummary(scout.ID)
		if err != nil {
			res.Errors++
			s.logger.Errorf("Failed to check final summary of scout %s: %v", scout.ID, err)
			continue
		}
		if has {
			continue
		}
		todos, err := s.store.ListTodos(scout.ID)
		if err != nil {
			res.Errors++
			s.logger.Errorf("Failed to list todos of scout %s: %v", scout.ID, err)
			continue
		}
		if !ReadyForFinalSummary(countStatus(todos, models.CompletedTodoStatus), len(todos)) {
			continue
		}
		if _, err := s.summarizer.SummarizeScout(ctx, scout.ID); err != nil {
			if errors.Is(err, ErrAlreadySummarized) {
				continue
			}
			res.Errors++
			s.logger.Errorf("Failed to summarize scout %s: %v", scout.ID, err)
			continue
		}
		s.logger.Infof("Final summary generated for scout %s", scout.ID)
		res.Affected++
	}
	return res, nil
}

// RetryFailed moves FAILED todos that still have retries left back to PENDING.
// Todos whose job is still waiting, active or delayed in the queue are left
// to the queue's own retries.
func (s *Scheduler) RetryFailed(ctx context.Context) (PassResult, error) {
	res := PassResult{Action: ActionCleanup}
	failed, err := s.store.ListTodosByStatus(models.FailedTodoStatus)
	if err != nil {
		return res, errors.Wrap(err, "list failed todos")
	}
	if len(failed) == 0 {
		return res, nil
	}
	jobs, err := s.store.ListUnfinishedJobs()
	if err != nil {
		return res, errors.Wrap(err, "list unfinished jobs")
	}
	queued := make(map[string]bool, len(jobs))
	for _, j := range jobs {
		queued[j.TodoID] = true
	}
	touched := map[string]bool{}
	for _, todo := range failed {
		if todo.RetryCount >= todo.RetryLimit() {
			continue
		}
		if queued[todo.ID] {
			s.logger.Infof("Todo %s still has a job in the queue, not resetting", todo.ID)
			continue
		}
		ok, err := s.store.ResetTodo(todo.ID, models.FailedTodoStatus)
		if err != nil {
			res.Errors++
			s.logger.Errorf("Failed to reset todo %s: %v", todo.ID, err)
			continue
		}
		if ok {
			res.Affected++
			touched[todo.ScoutID] = true
		}
	}
	res.Scouts = len(touched)
	s.recomputeAll(ctx, touched)
	return res, nil
}

// Rearm moves completed recurring todos whose next run is due back to PENDING.
func (s *Scheduler) Rearm(ctx context.Context) (PassResult, error) {
	res := PassResult{Action: ActionRearm}
	done, err := s.store.ListTodosByStatus(models.CompletedTodoStatus)
	if err != nil {
		return res, errors.Wrap(err, "list completed todos")
	}
	now := s.now()
	touched := map[string]bool{}
	scoutStatus := map[string]models.ScoutStatus{}
	for _, todo := range done {
		if todo.TaskType != models.RecurringTask || todo.ScheduledFor == nil || now.Before(*todo.ScheduledFor) {
			continue
		}
		status, seen := scoutStatus[todo.ScoutID]
		if !seen {
			scout, err := s.store.GetScout(todo.ScoutID)
			if err != nil {
				res.Errors++
				s.logger.Errorf("Failed to load scout %s: %v", todo.ScoutID, err)
				continue
			}
			status = scout.Status
			scoutStatus[todo.ScoutID] = status
		}
		if status == models.FailedScoutStatus {
			continue
		}
		ok, err := s.store.ResetTodo(todo.ID, models.CompletedTodoStatus)
		if err != nil {
			res.Errors++
			s.logger.Errorf("Failed to rearm todo %s: %v", todo.ID, err)
			continue
		}
		if ok {
			res.Affected++
			touched[todo.ScoutID] = true
		}
	}
	res.Scouts = len(touched)
	s.recomputeAll(ctx, touched)
	return res, nil
}

func (s *Scheduler) recomputeAll(ctx context.Context, scoutIDs map[string]bool) {
	if s.aggregator == nil {
		return
	}
	for id := range scoutIDs {
		if _, err := s.aggregator.Recompute(ctx, id); err != nil {
			s.logger.Errorf("Failed to recompute scout %s: %v", id, err)
		}
	}
}
