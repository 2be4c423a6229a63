package service_test

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ignatij/goscout/pkg/backend"
	"github.com/ignatij/goscout/pkg/models"
	"github.com/ignatij/goscout/pkg/queue"
	"github.com/ignatij/goscout/pkg/service"
	"github.com/ignatij/goscout/pkg/storage"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

type dispatchStack struct {
	store      storage.Store
	ai         *fakeAI
	browser    *fakeBrowser
	dispatcher *service.Dispatcher
}

func newDispatchStack() dispatchStack {
	store := storage.NewMemoryStore()
	ai := &fakeAI{}
	browser := &fakeBrowser{}
	cfg := service.DefaultAgentConfig()
	agg := service.NewAggregator(store, nil, testLogger{})
	summarizer := service.NewSummarizer(store, ai, agg, nil, cfg, testLogger{})
	d := service.NewDispatcher(store, ai, browser, summarizer, agg, nil, cfg, testLogger{})
	return dispatchStack{store: store, ai: ai, browser: browser, dispatcher: d}
}

func (s dispatchStack) seed(id string, agent models.AgentType, task models.TaskType) (models.Scout, models.Todo) {
	scout, err := s.store.GetScout("s1")
	if err != nil {
		scout = newScout(s.store, "s1")
	}
	return scout, newTodo(s.store, "s1", id, agent, task, models.PendingTodoStatus)
}

func individualSummaries(t *testing.T, store storage.Store, todoID string) []models.Summary {
	all, err := store.ListSummaries("s1")
	assert.NoError(t, err)
	var out []models.Summary
	for _, sm := range all {
		if sm.TodoID != nil && *sm.TodoID == todoID {
			out = append(out, sm)
		}
	}
	return out
}

func TestDispatcher_Routing(t *testing.T) {
	ctx := context.Background()

	completions := []struct {
		agent  models.AgentType
		prefix string
	}{
		{models.ActionAgent, "Execute action: "},
		{models.SearchAgent, "Search for: "},
		{models.PlexAgent, "Perform advanced research on: "},
	}
	for _, tc := range completions {
		t.Run(string(tc.agent), func(t *testing.T) {
			stack := newDispatchStack()
			scout, todo := stack.seed("t1", tc.agent, models.SingleRunTask)

			result, err := stack.dispatcher.Dispatch(ctx, todo.Descriptor(scout.NotificationFrequency))
			assert.NoError(t, err)
			assert.Equal(t, tc.agent, result.Type)
			assert.NotNil(t, result.Completion)

			calls := stack.ai.Calls()
			assert.NotEmpty(t, calls)
			assert.Equal(t, tc.prefix+"do t1", calls[0].Prompt)
			assert.Equal(t, service.DefaultAgentConfig().DefaultModel.Model, calls[0].ModelID)

			stored, err := stack.store.GetTodo("t1")
			assert.NoError(t, err)
			assert.Equal(t, models.CompletedTodoStatus, stored.Status)
			assert.NotNil(t, stored.CompletedAt)
			assert.NotNil(t, stored.LastRunAt)
			assert.Equal(t, "ok: "+tc.prefix+"do t1", stored.Result.Text())
			assert.Len(t, individualSummaries(t, stack.store, "t1"), 1)
		})
	}

	t.Run("Research", func(t *testing.T) {
		stack := newDispatchStack()
		scout, todo := stack.seed("t1", models.ResearchAgent, models.SingleRunTask)

		result, err := stack.dispatcher.Dispatch(ctx, todo.Descriptor(scout.NotificationFrequency))
		assert.NoError(t, err)
		assert.Equal(t, models.ResearchAgent, result.Type)
		assert.Equal(t, "do t1", result.Research.Query)

		call := stack.ai.Calls()[0]
		assert.Equal(t, "Please provide comprehensive research on: do t1", call.Prompt)
		assert.Equal(t, service.DefaultAgentConfig().ResearchModel.Model, call.ModelID)
	})

	t.Run("ResearchWithoutText", func(t *testing.T) {
		stack := newDispatchStack()
		stack.ai.reply = func(req backend.CompletionRequest) (models.Completion, error) {
			return models.Completion{}, nil
		}
		scout, todo := stack.seed("t1", models.ResearchAgent, models.SingleRunTask)

		result, err := stack.dispatcher.Dispatch(ctx, todo.Descriptor(scout.NotificationFrequency))
		assert.NoError(t, err)
		assert.Equal(t, service.ResearchFailedContent, result.Research.Content)
	})

	t.Run("BrowserAutomation", func(t *testing.T) {
		stack := newDispatchStack()
		stack.browser.reply = func(req backend.BrowserRequest) (models.BrowserResponse, error) {
			return models.BrowserResponse{Success: true, Data: &models.BrowserData{Price: ptr(42.5)}}, nil
		}
		scout, todo := stack.seed("t1", models.BrowserAutomationAgent, models.SingleRunTask)

		result, err := stack.dispatcher.Dispatch(ctx, todo.Descriptor(scout.NotificationFrequency))
		assert.NoError(t, err)
		price, ok := result.Price()
		assert.True(t, ok)
		assert.Equal(t, 42.5, price)
		assert.Len(t, stack.browser.calls, 1)
		assert.Equal(t, "t1", stack.browser.calls[0].TodoID)
	})

	t.Run("SummaryAgent", func(t *testing.T) {
		stack := newDispatchStack()
		newScout(stack.store, "s1")
		newTodo(stack.store, "s1", "done", models.SearchAgent, models.SingleRunTask, models.CompletedTodoStatus)
		todo := newTodo(stack.store, "s1", "t1", models.SummaryAgent, models.AnalysisTask, models.PendingTodoStatus)

		result, err := stack.dispatcher.Dispatch(ctx, todo.Descriptor(models.OnceADayFrequency))
		assert.NoError(t, err)
		assert.Equal(t, models.SummaryAgent, result.Type)
		assert.Equal(t, []string{"done"}, result.Summary.RelatedTodos)

		// the write-up is the todo's only summary
		summaries := individualSummaries(t, stack.store, "t1")
		assert.Len(t, summaries, 1)
		assert.Equal(t, models.TodoSummaryType, summaries[0].Data.SummaryType)
		assert.False(t, summaries[0].IsFinal())
	})
}

func TestDispatcher_DuplicateDelivery(t *testing.T) {
	ctx := context.Background()
	stack := newDispatchStack()
	scout, todo := stack.seed("t1", models.SearchAgent, models.SingleRunTask)
	desc := todo.Descriptor(scout.NotificationFrequency)

	first, err := stack.dispatcher.Dispatch(ctx, desc)
	assert.NoError(t, err)
	calls := len(stack.ai.Calls())

	second, err := stack.dispatcher.Dispatch(ctx, desc)
	assert.NoError(t, err)
	assert.Equal(t, first.Text(), second.Text())
	assert.Len(t, stack.ai.Calls(), calls)
	assert.Len(t, individualSummaries(t, stack.store, "t1"), 1)
}

func TestDispatcher_Failures(t *testing.T) {
	ctx := context.Background()

	t.Run("UnknownAgentType", func(t *testing.T) {
		stack := newDispatchStack()
		scout, todo := stack.seed("t1", "WIZARD_AGENT", models.SingleRunTask)

		_, err := stack.dispatcher.Dispatch(ctx, todo.Descriptor(scout.NotificationFrequency))
		assert.ErrorIs(t, err, service.ErrUnknownAgentType)
		assert.False(t, service.IsRetryable(err))
		assert.Empty(t, stack.ai.Calls())

		stored, _ := stack.store.GetTodo("t1")
		assert.Equal(t, models.FailedTodoStatus, stored.Status)
		assert.Equal(t, 1, stored.RetryCount)
		assert.Contains(t, stored.ErrorMessage, "WIZARD_AGENT")
	})

	t.Run("BackendUnavailable", func(t *testing.T) {
		stack := newDispatchStack()
		stack.ai.reply = func(req backend.CompletionRequest) (models.Completion, error) {
			return models.Completion{}, errors.Wrap(backend.ErrUnavailable, "status 502")
		}
		scout, todo := stack.seed("t1", models.SearchAgent, models.SingleRunTask)

		_, err := stack.dispatcher.Dispatch(ctx, todo.Descriptor(scout.NotificationFrequency))
		assert.ErrorIs(t, err, service.ErrBackendUnavailable)
		assert.True(t, service.IsRetryable(err))

		stored, _ := stack.store.GetTodo("t1")
		assert.Equal(t, models.FailedTodoStatus, stored.Status)
		assert.Equal(t, 1, stored.RetryCount)

		logs, err := stack.store.ListTodoLogs("t1", 1)
		assert.NoError(t, err)
		assert.Len(t, logs, 1)
		assert.Equal(t, "backend_unavailable", logs[0].Data.Performance.ErrorClass)
		assert.False(t, logs[0].Data.Performance.Success)

		scoutAfter, _ := stack.store.GetScout("s1")
		assert.Equal(t, models.FailedScoutStatus, scoutAfter.Status)
	})

	t.Run("RetryCountIsCapped", func(t *testing.T) {
		stack := newDispatchStack()
		stack.ai.reply = func(req backend.CompletionRequest) (models.Completion, error) {
			return models.Completion{}, backend.ErrUnavailable
		}
		scout, todo := stack.seed("t1", models.SearchAgent, models.SingleRunTask)
		for i := 0; i < 5; i++ {
			_, _ = stack.dispatcher.Dispatch(ctx, todo.Descriptor(scout.NotificationFrequency))
		}
		stored, _ := stack.store.GetTodo("t1")
		assert.Equal(t, models.DefaultMaxRetries, stored.RetryCount)
	})

	t.Run("MissingTodo", func(t *testing.T) {
		stack := newDispatchStack()
		newScout(stack.store, "s1")
		todo := newTodo(nil, "s1", "ghost", models.SearchAgent, models.SingleRunTask, models.PendingTodoStatus)

		_, err := stack.dispatcher.Dispatch(ctx, todo.Descriptor(models.OnceADayFrequency))
		assert.ErrorIs(t, err, service.ErrValidation)
		assert.False(t, service.IsRetryable(err))
	})

	t.Run("InvalidDescriptor", func(t *testing.T) {
		stack := newDispatchStack()
		_, todo := stack.seed("t1", models.SearchAgent, models.SingleRunTask)
		desc := todo.Descriptor(models.OnceADayFrequency)
		desc.Title = ""

		_, err := stack.dispatcher.Dispatch(ctx, desc)
		assert.ErrorIs(t, err, service.ErrValidation)
		stored, _ := stack.store.GetTodo("t1")
		assert.Equal(t, models.PendingTodoStatus, stored.Status)
	})
}

// lossyStore fails every log and summary write.
type lossyStore struct {
	storage.Store
}

func (lossyStore) AppendLog(models.LogEntry) error {
	return errors.New("log table unavailable")
}

func (lossyStore) SaveSummary(models.Summary) (bool, error) {
	return false, errors.New("summary table unavailable")
}

func TestDispatcher_SideEffectFailuresDoNotFailTheJob(t *testing.T) {
	store := lossyStore{Store: storage.NewMemoryStore()}
	ai := &fakeAI{}
	cfg := service.DefaultAgentConfig()
	agg := service.NewAggregator(store, nil, testLogger{})
	summarizer := service.NewSummarizer(store, ai, agg, nil, cfg, testLogger{})
	dispatcher := service.NewDispatcher(store, ai, &fakeBrowser{}, summarizer, agg, nil, cfg, testLogger{})

	scout := newScout(store, "s1")

	t.Run("Dispatch", func(t *testing.T) {
		todo := newTodo(store, "s1", "t1", models.SearchAgent, models.SingleRunTask, models.PendingTodoStatus)
		_, err := dispatcher.Dispatch(context.Background(), todo.Descriptor(scout.NotificationFrequency))
		assert.NoError(t, err)

		stored, err := store.GetTodo("t1")
		assert.NoError(t, err)
		assert.Equal(t, models.CompletedTodoStatus, stored.Status)
		assert.NotNil(t, stored.Result)
		summaries, _ := store.ListSummaries("s1")
		assert.Empty(t, summaries)
	})

	t.Run("ThroughQueue", func(t *testing.T) {
		todo := newTodo(store, "s1", "t2", models.PlexAgent, models.SingleRunTask, models.PendingTodoStatus)
		q := queue.New(store, dispatcher.HandleJob, testLogger{}, queue.Options{
			BackoffBase:    5 * time.Millisecond,
			AttemptTimeout: time.Second,
			ShouldRetry:    service.IsRetryable,
		})
		q.Start()
		defer q.Stop()

		h, err := q.Enqueue(context.Background(), todo.Descriptor(scout.NotificationFrequency))
		assert.NoError(t, err)
		assert.Eventually(t, func() bool {
			job, err := q.Job(h.ID)
			return err == nil && job.State.Finished()
		}, time.Second, 5*time.Millisecond)

		job, _ := q.Job(h.ID)
		assert.Equal(t, models.CompletedJobState, job.State)
		assert.Equal(t, 1, job.AttemptsMade)
		assert.Equal(t, models.CompletedTodoStatus, todoStatus(t, store, "t2"))
	})
}

func TestDispatcher_RecurringNextRun(t *testing.T) {
	stack := newDispatchStack()
	scout, todo := stack.seed("t1", models.SearchAgent, models.RecurringTask)

	result, err := stack.dispatcher.Dispatch(context.Background(), todo.Descriptor(scout.NotificationFrequency))
	assert.NoError(t, err)

	stored, _ := stack.store.GetTodo("t1")
	if assert.NotNil(t, stored.ScheduledFor) {
		assert.Equal(t, result.CompletedAt.Add(24*time.Hour), *stored.ScheduledFor)
	}
}

func TestDispatcher_RetriedThroughQueue(t *testing.T) {
	stack := newDispatchStack()
	var attempts int32
	stack.ai.reply = func(req backend.CompletionRequest) (models.Completion, error) {
		if strings.HasPrefix(req.Prompt, "Search for: ") && atomic.AddInt32(&attempts, 1) <= 2 {
			return models.Completion{}, errors.Wrap(backend.ErrUnavailable, "connection reset")
		}
		return models.NewCompletion("found it"), nil
	}
	scout, todo := stack.seed("t1", models.SearchAgent, models.SingleRunTask)

	q := queue.New(stack.store, stack.dispatcher.HandleJob, testLogger{}, queue.Options{
		BackoffBase:    5 * time.Millisecond,
		AttemptTimeout: time.Second,
		ShouldRetry:    service.IsRetryable,
	})
	q.Start()
	defer q.Stop()

	h, err := q.Enqueue(context.Background(), todo.Descriptor(scout.NotificationFrequency))
	assert.NoError(t, err)

	assert.Eventually(t, func() bool {
		job, err := q.Job(h.ID)
		return err == nil && job.State == models.CompletedJobState
	}, 2*time.Second, 5*time.Millisecond)

	stored, _ := stack.store.GetTodo("t1")
	assert.Equal(t, models.CompletedTodoStatus, stored.Status)
	assert.Equal(t, 2, stored.RetryCount)
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))

	job, _ := q.Job(h.ID)
	assert.Equal(t, 3, job.AttemptsMade)
}

func TestDispatcher_PermanentFailureIsNotRetried(t *testing.T) {
	stack := newDispatchStack()
	scout, todo := stack.seed("t1", "WIZARD_AGENT", models.SingleRunTask)

	q := queue.New(stack.store, stack.dispatcher.HandleJob, testLogger{}, queue.Options{
		BackoffBase:    5 * time.Millisecond,
		AttemptTimeout: time.Second,
		ShouldRetry:    service.IsRetryable,
	})
	q.Start()
	defer q.Stop()

	h, err := q.Enqueue(context.Background(), todo.Descriptor(scout.NotificationFrequency))
	assert.NoError(t, err)
	assert.Eventually(t, func() bool {
		job, err := q.Job(h.ID)
		return err == nil && job.State == models.FailedJobState
	}, 2*time.Second, 5*time.Millisecond)

	job, _ := q.Job(h.ID)
	assert.Equal(t, 1, job.AttemptsMade)
	assert.Contains(t, job.LastError, "unknown agent type")
}
