package service_test

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ignatij/goscout/pkg/backend"
	"github.com/ignatij/goscout/pkg/models"
	"github.com/ignatij/goscout/pkg/queue"
	"github.com/ignatij/goscout/pkg/storage"
)

type testLogger struct{}

func (l testLogger) Infof(format string, args ...interface{}) {
	// no-op
}

func (l testLogger) Errorf(format string, args ...interface{}) {
	// no-op
}

type fakeAI struct {
	mu    sync.Mutex
	calls []backend.CompletionRequest
	reply func(req backend.CompletionRequest) (models.Completion, error)
}

func (f *fakeAI) Complete(ctx context.Context, req backend.CompletionRequest) (models.Completion, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	reply := f.reply
	f.mu.Unlock()
	if reply == nil {
		return models.NewCompletion("ok: " + req.Prompt), nil
	}
	return reply(req)
}

func (f *fakeAI) Calls() []backend.CompletionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]backend.CompletionRequest(nil), f.calls...)
}

type fakeBrowser struct {
	mu    sync.Mutex
	calls []backend.BrowserRequest
	reply func(req backend.BrowserRequest) (models.BrowserResponse, error)
}

func (f *fakeBrowser) Execute(ctx context.Context, req backend.BrowserRequest) (models.BrowserResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	reply := f.reply
	f.mu.Unlock()
	if reply == nil {
		return models.BrowserResponse{Success: true, Data: &models.BrowserData{}}, nil
	}
	return reply(req)
}

type fakeQueue struct {
	mu  sync.Mutex
	got []models.TaskDescriptor
	err error
}

func (f *fakeQueue) Enqueue(ctx context.Context, d models.TaskDescriptor) (queue.JobHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return queue.JobHandle{}, f.err
	}
	f.got = append(f.got, d)
	return queue.JobHandle{ID: uuid.NewString(), TodoID: d.TodoID}, nil
}

func (f *fakeQueue) Enqueued() []models.TaskDescriptor {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.TaskDescriptor(nil), f.got...)
}

func newScout(store storage.Store, id string) models.Scout {
	now := time.Now()
	s := models.Scout{
		ID:                    id,
		UserID:                "user-1",
		UserQuery:             "cheap flights to Lisbon",
		NotificationFrequency: models.OnceADayFrequency,
		Status:                models.InProgressScoutStatus,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if err := store.SaveScout(s); err != nil {
		panic(err)
	}
	return s
}

func newTodo(store storage.Store, scoutID, id string, agent models.AgentType, task models.TaskType, status models.TodoStatus) models.Todo {
	t := models.Todo{
		ID:          id,
		ScoutID:     scoutID,
		UserID:      "user-1",
		Title:       "todo " + id,
		Description: "do " + id,
		AgentType:   agent,
		TaskType:    task,
		Status:      status,
		MaxRetries:  models.DefaultMaxRetries,
		CreatedAt:   time.Now(),
	}
	if status == models.CompletedTodoStatus {
		done := time.Now()
		t.CompletedAt = &done
		t.Result = &models.TaskResult{Type: agent, Completion: &models.Completion{}, CompletedAt: done}
		*t.Result.Completion = models.NewCompletion("result of " + id)
	}
	if store != nil {
		if err := store.SaveTodo(t); err != nil {
			panic(err)
		}
	}
	return t
}

func ptr[T any](v T) *T { return &v }
