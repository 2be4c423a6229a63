package storage

import (
	"sort"
	"sync"
	"time"

	"github.com/ignatij/goscout/pkg/models"
	"github.com/pkg/errors"
)

// memoryStore implements Store in memory. Transactions share the parent
// store, so Commit and Rollback are no-ops.
type memoryStore struct {
	mu        sync.RWMutex
	scouts    []models.Scout
	todos     []models.Todo
	summaries []models.Summary
	logs      []models.LogEntry
	jobs      map[string]models.Job
}

// NewMemoryStore returns an empty in-memory Store.
func NewMemoryStore() Store {
	return &memoryStore{jobs: make(map[string]models.Job)}
}

func (m *memoryStore) Begin() (Store, error) { return m, nil }
func (m *memoryStore) Commit() error          { return nil }
func (m *memoryStore) Rollback() error        { return nil }
func (m *memoryStore) Close() error           { return nil }

func (m *memoryStore) SaveScout(s models.Scout) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.scouts {
		if existing.ID == s.ID {
			return errors.Errorf("scout %s already exists", s.ID)
		}
	}
	m.scouts = append(m.scouts, s)
	return nil
}

func (m *memoryStore) GetScout(id string) (models.Scout, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.scouts {
		if s.ID == id {
			return s, nil
		}
	}
	return models.Scout{}, ErrNotFound
}

func (m *memoryStore) ListScouts() ([]models.Scout, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Scout, len(m.scouts))
	copy(out, m.scouts)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *memoryStore) ListScoutsByStatus(statuses ...models.ScoutStatus) ([]models.Scout, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Scout
	for _, s := range m.scouts {
		for _, st := range statuses {
			if s.Status == st {
				out = append(out, s)
				break
			}
		}
	}
	return out, nil
}

func (m *memoryStore) UpdateScoutStatus(id string, status models.ScoutStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, s := range m.scouts {
		if s.ID == id {
			m.scouts[i].Status = status
			m.scouts[i].UpdatedAt = time.Now()
			return nil
		}
	}
	return ErrNotFound
}

func (m *memoryStore) SaveTodo(t models.Todo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.todos {
		if existing.ID == t.ID {
			return errors.Errorf("todo %s already exists", t.ID)
		}
	}
	m.todos = append(m.todos, t)
	return nil
}

// todoIndex must be called with the lock held.
func (m *memoryStore) todoIndex(id string) int {
	for i, t := range m.todos {
		if t.ID == id {
			return i
		}
	}
	return -1
}

func (m *memoryStore) GetTodo(id string) (models.Todo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if i := m.todoIndex(id); i >= 0 {
		return m.todos[i], nil
	}
	return models.Todo{}, ErrNotFound
}

func (m *memoryStore) ListTodos(scoutID string) ([]models.Todo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Todo
	for _, t := range m.todos {
		if t.ScoutID == scoutID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *memoryStore) ListTodosByStatus(status models.TodoStatus) ([]models.Todo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Todo
	for _, t := range m.todos {
		if t.Status == status {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *memoryStore) CompareAndSetTodoStatus(id string, from, to models.TodoStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.todoIndex(id)
	if i < 0 {
		return false, ErrNotFound
	}
	if m.todos[i].Status != from {
		return false, nil
	}
	m.todos[i].Status = to
	return true, nil
}

func (m *memoryStore) MarkTodoRunning(id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.todoIndex(id)
	if i < 0 {
		return ErrNotFound
	}
	m.todos[i].Status = models.InProgressTodoStatus
	m.todos[i].LastRunAt = &at
	return nil
}

func (m *memoryStore) CompleteTodo(id string, result models.TaskResult, completedAt time.Time, next *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.todoIndex(id)
	if i < 0 {
		return ErrNotFound
	}
	m.todos[i].Status = models.CompletedTodoStatus
	m.todos[i].Result = &result
	m.todos[i].CompletedAt = &completedAt
	m.todos[i].ErrorMessage = ""
	m.todos[i].ScheduledFor = next
	return nil
}

func (m *memoryStore) FailTodo(id string, errMsg string) (models.Todo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.todoIndex(id)
	if i < 0 {
		return models.Todo{}, ErrNotFound
	}
	t := &m.todos[i]
	t.Status = models.FailedTodoStatus
	t.ErrorMessage = errMsg
	if t.RetryCount < t.RetryLimit() {
		t.RetryCount++
	}
	return *t, nil
}

func (m *memoryStore) ResetTodo(id string, from models.TodoStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.todoIndex(id)
	if i < 0 {
		return false, ErrNotFound
	}
	if m.todos[i].Status != from {
		return false, nil
	}
	m.todos[i].Status = models.PendingTodoStatus
	m.todos[i].ErrorMessage = ""
	return true, nil
}

func (m *memoryStore) SaveSummary(s models.Summary) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.summaries {
		if existing.ScoutID != s.ScoutID {
			continue
		}
		if s.TodoID == nil && existing.IsFinal() && s.Data.SummaryType == models.FinalSummaryType {
			return false, nil
		}
		if s.TodoID != nil && existing.TodoID != nil && *existing.TodoID == *s.TodoID {
			return false, nil
		}
	}
	m.summaries = append(m.summaries, s)
	return true, nil
}

func (m *memoryStore) ListSummaries(scoutID string) ([]models.Summary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Summary
	for _, s := range m.summaries {
		if s.ScoutID == scoutID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memoryStore) HasFinalSummary(scoutID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.summaries {
		if s.ScoutID == scoutID && s.IsFinal() {
			return true, nil
		}
	}
	return false, nil
}

func (m *memoryStore) AppendLog(l models.LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, l)
	return nil
}

// newestLogs walks logs backwards so the latest appended entry comes first.
func (m *memoryStore) newestLogs(limit int, match func(models.LogEntry) bool) []models.LogEntry {
	var out []models.LogEntry
	for i := len(m.logs) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		if match(m.logs[i]) {
			out = append(out, m.logs[i])
		}
	}
	return out
}

func (m *memoryStore) ListLogs(scoutID string, limit int) ([]models.LogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.newestLogs(limit, func(l models.LogEntry) bool { return l.ScoutID == scoutID }), nil
}

func (m *memoryStore) ListTodoLogs(todoID string, limit int) ([]models.LogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.newestLogs(limit, func(l models.LogEntry) bool { return l.TodoID != nil && *l.TodoID == todoID }), nil
}

func (m *memoryStore) SaveJob(j models.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[j.ID]; ok {
		return errors.Errorf("job %s already exists", j.ID)
	}
	m.jobs[j.ID] = j
	return nil
}

func (m *memoryStore) UpdateJob(j models.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[j.ID]; !ok {
		return ErrNotFound
	}
	m.jobs[j.ID] = j
	return nil
}

func (m *memoryStore) GetJob(id string) (models.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[id]
	if !ok {
		return models.Job{}, ErrNotFound
	}
	return j, nil
}

func (m *memoryStore) ListUnfinishedJobs() ([]models.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Job
	for _, j := range m.jobs {
		if !j.State.Finished() {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.Before(out[k].CreatedAt) })
	return out, nil
}

func (m *memoryStore) DeleteJob(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, id)
	return nil
}
