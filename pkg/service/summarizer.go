package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ignatij/goscout/pkg/backend"
	"github.com/ignatij/goscout/pkg/models"
	"github.com/ignatij/goscout/pkg/storage"
	"github.com/pkg/errors"
)

// maxExcerpt caps how much of a result is quoted into prompts and fallbacks.
const maxExcerpt = 2000

// Notifier publishes the current state of a scout.
type Notifier interface {
	Notify(ctx context.Context, scoutID string)
}

// Summarizer writes per-todo and final scout summaries. When the AI backend
// cannot be used it falls back to templated text so completion never blocks.
type Summarizer struct {
	store    storage.Store
	ai       Completer
	notifier Notifier
	recorder Recorder
	cfg      AgentConfig
	logger   Logger
	now      Clock
}

func NewSummarizer(store storage.Store, ai Completer, notifier Notifier, recorder Recorder, cfg AgentConfig, logger Logger) *Summarizer {
	if recorder == nil {
		recorder = NopRecorder{}
	}
	return &Summarizer{
		store:    store,
		ai:       ai,
		notifier: notifier,
		recorder: recorder,
		cfg:      cfg.withDefaults(),
		logger:   logger,
		now:      time.Now,
	}
}

func excerpt(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxExcerpt {
		return s
	}
	return backend.Truncate(s, maxExcerpt) + "..."
}

// complete asks the default model and returns the text, or ErrParse when the
// completion is empty.
func (s *Summarizer) complete(ctx context.Context, system, prompt string) (string, error) {
	c, err := s.ai.Complete(ctx, backend.CompletionRequest{
		Provider:     s.cfg.DefaultModel.Provider,
		ModelID:      s.cfg.DefaultModel.Model,
		Prompt:       prompt,
		SystemPrompt: system,
	})
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(c.Text())
	if text == "" {
		return "", errors.Wrap(ErrParse, "empty completion")
	}
	return text, nil
}

func (s *Summarizer) hasTodoSummary(scoutID, todoID string) (bool, error) {
	summaries, err := s.store.ListSummaries(scoutID)
	if err != nil {
		return false, err
	}
	for _, sm := range summaries {
		if sm.TodoID != nil && *sm.TodoID == todoID {
			return true, nil
		}
	}
	return false, nil
}

// SummarizeTask writes the summary of one completed todo. It returns
// ErrAlreadySummarized when the todo already has one.
func (s *Summarizer) SummarizeTask(ctx context.Context, todo models.Todo, result models.TaskResult) (models.Summary, error) {
	exists, err := s.hasTodoSummary(todo.ScoutID, todo.ID)
	if err != nil {
		return models.Summary{}, errors.Wrapf(err, "load summaries of scout %s", todo.ScoutID)
	}
	if exists {
		return models.Summary{}, ErrAlreadySummarized
	}

	prompt := fmt.Sprintf("Task: %s\nDescription: %s\nAgent: %s\nTask type: %s\n\nResult:\n%s",
		todo.Title, todo.Description, todo.AgentType, todo.TaskType, excerpt(result.Text()))
	content, err := s.complete(ctx, s.cfg.Prompts.TaskSummary, prompt)
	fallback := false
	if err != nil {
		s.logger.Infof("Using templated summary for todo %s: %v", todo.ID, err)
		content = fmt.Sprintf("Summary for %s: Task completed successfully using %s. %s",
			todo.Title, todo.AgentType, excerpt(result.Text()))
		fallback = true
	}

	todoID := todo.ID
	summary := models.Summary{
		ID:      uuid.NewString(),
		ScoutID: todo.ScoutID,
		TodoID:  &todoID,
		UserID:  todo.UserID,
		Title:   "Summary: " + todo.Title,
		Content: strings.TrimSpace(content),
		Data: models.SummaryData{
			SummaryType: models.IndividualSummaryType,
			AgentType:   todo.AgentType,
			TaskType:    todo.TaskType,
			ResultType:  result.Type,
			Fallback:    fallback,
		},
		CreatedAt: s.now(),
	}
	saved, err := s.store.SaveSummary(summary)
	if err != nil {
		return models.Summary{}, persistenceError(err, "save summary of todo %s", todo.ID)
	}
	if !saved {
		return models.Summary{}, ErrAlreadySummarized
	}
	s.recorder.RecordSummary(ctx, models.IndividualSummaryType, fallback)
	return summary, nil
}

// SummarizeScout writes the final synthesis of a scout and marks it
// COMPLETED. It needs at least one completed todo and no final summary yet.
func (s *Summarizer) SummarizeScout(ctx context.Context, scoutID string) (models.Summary, error) {
	scout, err := s.store.GetScout(scoutID)
	if err != nil {
		return models.Summary{}, errors.Wrapf(err, "load scout %s", scoutID)
	}
	has, err := s.store.HasFinalSummary(scoutID)
	if err != nil {
		return models.Summary{}, errors.Wrapf(err, "check final summary of scout %s", scoutID)
	}
	if has {
		return models.Summary{}, ErrAlreadySummarized
	}
	todos, err := s.store.ListTodos(scoutID)
	if err != nil {
		return models.Summary{}, errors.Wrapf(err, "load todos of scout %s", scoutID)
	}
	completed := completedInOrder(todos)
	if len(completed) == 0 {
		return models.Summary{}, errors.Wrapf(ErrValidation, "scout %s has no completed todos", scoutID)
	}
	all, err := s.store.ListSummaries(scoutID)
	if err != nil {
		return models.Summary{}, errors.Wrapf(err, "load summaries of scout %s", scoutID)
	}
	var individual []models.Summary
	for _, sm := range all {
		if sm.TodoID != nil {
			individual = append(individual, sm)
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "User query: %s\n\nCompleted tasks:\n", scout.UserQuery)
	for _, t := range completed {
		fmt.Fprintf(&b, "- %s (%s): %s\n", t.Title, t.AgentType, excerpt(resultText(t)))
	}
	if len(individual) > 0 {
		b.WriteString("\nTask summaries:\n")
		for _, sm := range individual {
			fmt.Fprintf(&b, "- %s: %s\n", sm.Title, excerpt(sm.Content))
		}
	}

	content, err := s.complete(ctx, s.cfg.Prompts.FinalSummary, b.String())
	fallback := false
	if err != nil {
		s.logger.Infof("Using templated final summary for scout %s: %v", scoutID, err)
		content = templatedFinalSummary(scout, completed, len(todos), individual)
		fallback = true
	}

	summary := models.Summary{
		ID:      uuid.NewString(),
		ScoutID: scoutID,
		UserID:  scout.UserID,
		Title:   "Final Summary: " + scout.UserQuery,
		Content: content,
		Data: models.SummaryData{
			SummaryType:         models.FinalSummaryType,
			TodosAnalyzed:       len(completed),
			IndividualSummaries: len(individual),
			ScoutQuery:          scout.UserQuery,
			Fallback:            fallback,
		},
		CreatedAt: s.now(),
	}
	saved, err := s.store.SaveSummary(summary)
	if err != nil {
		return models.Summary{}, persistenceError(err, "save final summary of scout %s", scoutID)
	}
	if !saved {
		return models.Summary{}, ErrAlreadySummarized
	}
	if err := s.store.UpdateScoutStatus(scoutID, models.CompletedScoutStatus); err != nil {
		return summary, persistenceError(err, "complete scout %s", scoutID)
	}
	s.recorder.RecordSummary(ctx, models.FinalSummaryType, fallback)
	if err := s.store.AppendLog(models.LogEntry{
		ID:        uuid.NewString(),
		ScoutID:   scoutID,
		AgentType: models.SummaryAgent,
		Message:   fmt.Sprintf("Final summary generated from %d completed todos", len(completed)),
		CreatedAt: s.now(),
	}); err != nil {
		s.logger.Errorf("Failed to write final summary log for scout %s: %v", scoutID, err)
	}
	if s.notifier != nil {
		s.notifier.Notify(ctx, scoutID)
	}
	return summary, nil
}

func templatedFinalSummary(scout models.Scout, completed []models.Todo, total int, individual []models.Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Final summary for %q: %d of %d tasks completed.\n", scout.UserQuery, len(completed), total)
	if len(individual) > 0 {
		for _, sm := range individual {
			fmt.Fprintf(&b, "\n- %s: %s", sm.Title, excerpt(sm.Content))
		}
		return b.String()
	}
	for _, t := range completed {
		fmt.Fprintf(&b, "\n- %s: %s", t.Title, excerpt(resultText(t)))
	}
	return b.String()
}

// completedInOrder returns COMPLETED todos sorted by completion time.
func completedInOrder(todos []models.Todo) []models.Todo {
	var out []models.Todo
	for _, t := range todos {
		if t.Status == models.CompletedTodoStatus {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].CompletedAt, out[j].CompletedAt
		if a == nil || b == nil {
			return b != nil
		}
		return a.Before(*b)
	})
	return out
}

func resultText(t models.Todo) string {
	if t.Result == nil {
		return ""
	}
	return t.Result.Text()
}
