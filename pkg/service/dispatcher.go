package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ignatij/goscout/pkg/backend"
	"github.com/ignatij/goscout/pkg/models"
	"github.com/ignatij/goscout/pkg/storage"
	"github.com/pkg/errors"
)

// ResearchFailedContent stands in for a research completion without text.
const ResearchFailedContent = "Research failed"

// Dispatcher executes one todo: it routes the descriptor to the backend of
// its agent type, records the outcome on the todo and triggers the
// per-todo summary and the scout rollup.
type Dispatcher struct {
	store      storage.Store
	ai         Completer
	browser    Automator
	summarizer *Summarizer
	aggregator *Aggregator
	recorder   Recorder
	cfg        AgentConfig
	logger     Logger
	now        Clock
}

func NewDispatcher(
	store storage.Store,
	ai Completer,
	browser Automator,
	summarizer *Summarizer,
	aggregator *Aggregator,
	recorder Recorder,
	cfg AgentConfig,
	logger Logger) *Dispatcher {
	if recorder == nil {
		recorder = NopRecorder{}
	}
	return &Dispatcher{
		store:      store,
		ai:         ai,
		browser:    browser,
		summarizer: summarizer,
		aggregator: aggregator,
		recorder:   recorder,
		cfg:        cfg.withDefaults(),
		logger:     logger,
		now:        time.Now,
	}
}

// HandleJob adapts Dispatch to the queue's handler signature.
func (d *Dispatcher) HandleJob(ctx context.Context, job models.Job) error {
	_, err := d.dispatch(ctx, job.Payload, job.AttemptsMade)
	return err
}

// Dispatch runs desc once and returns the result envelope. Errors are
// returned after the todo has been marked FAILED.
func (d *Dispatcher) Dispatch(ctx context.Context, desc models.TaskDescriptor) (models.TaskResult, error) {
	return d.dispatch(ctx, desc, 1)
}

func (d *Dispatcher) dispatch(ctx context.Context, desc models.TaskDescriptor, attempt int) (models.TaskResult, error) {
	if err := desc.Validate(); err != nil {
		return models.TaskResult{}, errors.Wrap(ErrValidation, err.Error())
	}
	todo, err := d.store.GetTodo(desc.TodoID)
	if errors.Is(err, storage.ErrNotFound) {
		return models.TaskResult{}, errors.Wrapf(ErrValidation, "todo %s does not exist", desc.TodoID)
	}
	if err != nil {
		return models.TaskResult{}, errors.Wrapf(err, "load todo %s", desc.TodoID)
	}
	// duplicate delivery of a finished todo is acknowledged without rerunning it
	if todo.Status == models.CompletedTodoStatus && todo.Result != nil {
		d.logger.Infof("Todo %s already completed, skipping duplicate delivery", todo.ID)
		return *todo.Result, nil
	}

	started := d.now()
	if !desc.AgentType.Valid() {
		err := errors.Wrapf(ErrUnknownAgentType, "%q", desc.AgentType)
		return models.TaskResult{}, d.onFailure(ctx, todo, desc, err, attempt, 0)
	}
	if err := d.store.MarkTodoRunning(todo.ID, started); err != nil {
		return models.TaskResult{}, persistenceError(err, "mark todo %s running", todo.ID)
	}
	if todo.Status != models.InProgressTodoStatus {
		d.recompute(ctx, todo.ScoutID)
	}
	d.logger.Infof("Dispatching todo %s (%s, attempt %d)", todo.ID, desc.AgentType, attempt)

	result, err := d.route(ctx, desc, todo)
	elapsed := d.now().Sub(started)
	if err != nil {
		return models.TaskResult{}, d.onFailure(ctx, todo, desc, err, attempt, elapsed)
	}
	if err := d.onSuccess(ctx, todo, desc, result, attempt, elapsed); err != nil {
		return models.TaskResult{}, err
	}
	return result, nil
}

// subject is the text an agent works on.
func subject(desc models.TaskDescriptor) string {
	if strings.TrimSpace(desc.Description) != "" {
		return desc.Description
	}
	return desc.Title
}

func (d *Dispatcher) route(ctx context.Context, desc models.TaskDescriptor, todo models.Todo) (models.TaskResult, error) {
	switch desc.AgentType {
	case models.ActionAgent:
		return d.completion(ctx, desc, "Execute action: ", d.cfg.Prompts.Action)
	case models.SearchAgent:
		return d.completion(ctx, desc, "Search for: ", d.cfg.Prompts.Search)
	case models.PlexAgent:
		return d.completion(ctx, desc, "Perform advanced research on: ", d.cfg.Prompts.Plex)
	case models.ResearchAgent:
		return d.research(ctx, desc)
	case models.BrowserAutomationAgent:
		return d.automate(ctx, desc)
	case models.SummaryAgent:
		return d.summarizeSiblings(ctx, desc, todo)
	}
	return models.TaskResult{}, errors.Wrapf(ErrUnknownAgentType, "%q", desc.AgentType)
}

func (d *Dispatcher) completion(ctx context.Context, desc models.TaskDescriptor, prefix, system string) (models.TaskResult, error) {
	c, err := d.ai.Complete(ctx, backend.CompletionRequest{
		Provider:     d.cfg.DefaultModel.Provider,
		ModelID:      d.cfg.DefaultModel.Model,
		Prompt:       prefix + subject(desc),
		SystemPrompt: system,
	})
	if err != nil {
		return models.TaskResult{}, err
	}
	return models.TaskResult{Type: desc.AgentType, Completion: &c, CompletedAt: d.now()}, nil
}

func (d *Dispatcher) research(ctx context.Context, desc models.TaskDescriptor) (models.TaskResult, error) {
	query := subject(desc)
	c, err := d.ai.Complete(ctx, backend.CompletionRequest{
		Provider:     d.cfg.ResearchModel.Provider,
		ModelID:      d.cfg.ResearchModel.Model,
		Prompt:       "Please provide comprehensive research on: " + query,
		SystemPrompt: d.cfg.Prompts.Research,
	})
	if err != nil {
		return models.TaskResult{}, err
	}
	content := c.Text()
	if strings.TrimSpace(content) == "" {
		d.logger.Infof("Research completion for todo %s had no text: %v", desc.TodoID, ErrParse)
		content = ResearchFailedContent
	}
	return models.TaskResult{
		Type:        models.ResearchAgent,
		Research:    &models.ResearchOutput{Query: query, Content: content},
		CompletedAt: d.now(),
	}, nil
}

func (d *Dispatcher) automate(ctx context.Context, desc models.TaskDescriptor) (models.TaskResult, error) {
	res, err := d.browser.Execute(ctx, backend.BrowserRequest{
		TodoID:      desc.TodoID,
		Title:       desc.Title,
		Description: desc.Description,
		GoTo:        desc.GoTo,
		Search:      desc.Search,
		Actions:     desc.Actions,
	})
	if err != nil {
		return models.TaskResult{}, err
	}
	return models.TaskResult{Type: models.BrowserAutomationAgent, Browser: &res, CompletedAt: d.now()}, nil
}

// summarizeSiblings runs a SUMMARY_AGENT todo over the scout's completed work.
// The write-up is stored as this todo's summary.
func (d *Dispatcher) summarizeSiblings(ctx context.Context, desc models.TaskDescriptor, todo models.Todo) (models.TaskResult, error) {
	todos, err := d.store.ListTodos(desc.ScoutID)
	if err != nil {
		return models.TaskResult{}, errors.Wrapf(err, "load todos of scout %s", desc.ScoutID)
	}
	var related []string
	var b strings.Builder
	b.WriteString("Summarize the results of these completed tasks:\n")
	for _, t := range completedInOrder(todos) {
		if t.ID == todo.ID {
			continue
		}
		related = append(related, t.ID)
		fmt.Fprintf(&b, "\n## %s\n%s\n", t.Title, excerpt(resultText(t)))
	}

	c, err := d.ai.Complete(ctx, backend.CompletionRequest{
		Provider:     d.cfg.DefaultModel.Provider,
		ModelID:      d.cfg.DefaultModel.Model,
		Prompt:       b.String(),
		SystemPrompt: d.cfg.Prompts.Summary,
	})
	if err != nil {
		return models.TaskResult{}, err
	}
	content := strings.TrimSpace(c.Text())
	if content == "" {
		d.logger.Infof("Summary completion for todo %s had no text: %v", todo.ID, ErrParse)
		content = fmt.Sprintf("Summary of %d completed tasks for %s.", len(related), desc.Title)
	}

	todoID := todo.ID
	saved, err := d.store.SaveSummary(models.Summary{
		ID:      uuid.NewString(),
		ScoutID: desc.ScoutID,
		TodoID:  &todoID,
		UserID:  desc.UserID,
		Title:   desc.Title,
		Content: content,
		Data: models.SummaryData{
			SummaryType:  models.TodoSummaryType,
			AgentType:    models.SummaryAgent,
			TaskType:     desc.TaskType,
			ResultType:   models.SummaryAgent,
			RelatedTodos: related,
		},
		CreatedAt: d.now(),
	})
	if err != nil {
		d.logger.Errorf("Failed to save summary of todo %s: %v", todo.ID, err)
	} else if !saved {
		d.logger.Infof("Todo %s already has a summary", todo.ID)
	}

	return models.TaskResult{
		Type:        models.SummaryAgent,
		Summary:     &models.SummaryOutput{Content: content, RelatedTodos: related},
		CompletedAt: d.now(),
	}, nil
}

// nextRun is the next scheduled run of a recurring todo.
func (d *Dispatcher) nextRun(todo models.Todo, desc models.TaskDescriptor, completedAt time.Time) *time.Time {
	if todo.TaskType != models.RecurringTask {
		return nil
	}
	freq := desc.NotificationFrequency
	if freq == "" {
		if scout, err := d.store.GetScout(todo.ScoutID); err == nil {
			freq = scout.NotificationFrequency
		}
	}
	next := completedAt.Add(freq.Interval())
	return &next
}

func (d *Dispatcher) onSuccess(ctx context.Context, todo models.Todo, desc models.TaskDescriptor, result models.TaskResult, attempt int, elapsed time.Duration) error {
	completedAt := result.CompletedAt
	if err := d.store.CompleteTodo(todo.ID, result, completedAt, d.nextRun(todo, desc, completedAt)); err != nil {
		return persistenceError(err, "complete todo %s", todo.ID)
	}
	d.recorder.RecordDispatch(ctx, desc.AgentType, true, elapsed)
	d.appendLog(todo, desc, "Task completed successfully", models.LogData{
		Status:  models.CompletedTodoStatus,
		Attempt: attempt,
		Performance: &models.Performance{
			ExecutionTimeMs: elapsed.Milliseconds(),
			Success:         true,
			AgentType:       desc.AgentType,
			TaskType:        desc.TaskType,
		},
	})

	if desc.AgentType != models.SummaryAgent && d.summarizer != nil {
		todo.Status = models.CompletedTodoStatus
		todo.Result = &result
		if _, err := d.summarizer.SummarizeTask(ctx, todo, result); err != nil && !errors.Is(err, ErrAlreadySummarized) {
			d.logger.Errorf("Failed to summarize todo %s: %v", todo.ID, err)
		}
	}
	d.recompute(ctx, todo.ScoutID)
	return nil
}

func (d *Dispatcher) onFailure(ctx context.Context, todo models.Todo, desc models.TaskDescriptor, cause error, attempt int, elapsed time.Duration) error {
	d.logger.Errorf("Todo %s (%s) attempt %d failed: %v", todo.ID, desc.AgentType, attempt, cause)
	failed, err := d.store.FailTodo(todo.ID, cause.Error())
	if err != nil {
		return persistenceError(err, "fail todo %s after %v", todo.ID, cause)
	}
	d.recorder.RecordDispatch(ctx, desc.AgentType, false, elapsed)
	d.appendLog(todo, desc, "Task failed: "+cause.Error(), models.LogData{
		Status:  models.FailedTodoStatus,
		Error:   cause.Error(),
		Attempt: attempt,
		Performance: &models.Performance{
			ExecutionTimeMs: elapsed.Milliseconds(),
			Success:         false,
			AgentType:       desc.AgentType,
			TaskType:        desc.TaskType,
			ErrorClass:      ErrorClass(cause),
		},
	})
	d.logger.Infof("Todo %s marked FAILED (retry %d/%d)", todo.ID, failed.RetryCount, failed.RetryLimit())
	d.recompute(ctx, todo.ScoutID)
	return cause
}

// appendLog is best-effort; a missing log never fails the job.
func (d *Dispatcher) appendLog(todo models.Todo, desc models.TaskDescriptor, msg string, data models.LogData) {
	todoID := todo.ID
	err := d.store.AppendLog(models.LogEntry{
		ID:        uuid.NewString(),
		ScoutID:   todo.ScoutID,
		TodoID:    &todoID,
		AgentType: desc.AgentType,
		Message:   msg,
		Data:      data,
		CreatedAt: d.now(),
	})
	if err != nil {
		d.logger.Errorf("Failed to write log for todo %s: %v", todo.ID, err)
	}
}

func (d *Dispatcher) recompute(ctx context.Context, scoutID string) {
	if d.aggregator == nil {
		return
	}
	if _, err := d.aggregator.Recompute(ctx, scoutID); err != nil {
		d.logger.Errorf("Failed to recompute scout %s: %v", scoutID, err)
	}
}
