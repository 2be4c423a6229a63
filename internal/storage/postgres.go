package storage

import (
	"database/sql"
	"time"

	"github.com/ignatij/goscout/pkg/models"
	"github.com/ignatij/goscout/pkg/storage"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
)

type DBInterface interface {
	Get(dest interface{}, query string, args ...interface{}) error
	Select(dest interface{}, query string, args ...interface{}) error
	QueryRowx(query string, args ...interface{}) *sqlx.Row
	Exec(query string, args ...interface{}) (sql.Result, error)
}

type PostgresStore struct {
	db DBInterface
}

func NewPostgresStore(connStr string) (*PostgresStore, error) {
	db, err := sqlx.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Begin() (storage.Store, error) {
	if db, ok := s.db.(*sqlx.DB); ok {
		tx, err := db.Beginx()
		if err != nil {
			return nil, err
		}
		return &PostgresStore{db: tx}, nil
	}
	return nil, errors.New("cannot begin transaction on unknown type")
}

func (s *PostgresStore) Commit() error {
	if tx, ok := s.db.(*sqlx.Tx); ok {
		return tx.Commit()
	}
	return errors.New("cannot commit: not a transaction")
}

func (s *PostgresStore) Rollback() error {
	if tx, ok := s.db.(*sqlx.Tx); ok {
		return tx.Rollback()
	}
	return errors.New("cannot rollback: not a transaction")
}

func (s *PostgresStore) Close() error {
	if db, ok := s.db.(*sqlx.DB); ok {
		return db.Close()
	}
	return nil // No-op for *sqlx.Tx
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	return err
}

// affected reports whether the statement touched at least one row.
func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *PostgresStore) SaveScout(sc models.Scout) error {
	_, err := s.db.Exec(`
		INSERT INTO scouts (id, user_id, user_query, notification_frequency, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		sc.ID, sc.UserID, sc.UserQuery, sc.NotificationFrequency, sc.Status, sc.CreatedAt, sc.UpdatedAt)
	return errors.Wrapf(err, "save scout %s", sc.ID)
}

func (s *PostgresStore) GetScout(id string) (models.Scout, error) {
	var sc models.Scout
	if err := s.db.Get(&sc, "SELECT * FROM scouts WHERE id = $1", id); err != nil {
		return models.Scout{}, notFound(err)
	}
	return sc, nil
}

func (s *PostgresStore) ListScouts() ([]models.Scout, error) {
	scouts := []models.Scout{}
	if err := s.db.Select(&scouts, "SELECT * FROM scouts ORDER BY created_at DESC"); err != nil {
		return nil, err
	}
	return scouts, nil
}

func (s *PostgresStore) ListScoutsByStatus(statuses ...models.ScoutStatus) ([]models.Scout, error) {
	values := make([]string, len(statuses))
	for i, st := range statuses {
		values[i] = string(st)
	}
	scouts := []models.Scout{}
	err := s.db.Select(&scouts, "SELECT * FROM scouts WHERE status = ANY($1) ORDER BY created_at", pq.Array(values))
	if err != nil {
		return nil, err
	}
	return scouts, nil
}

func (s *PostgresStore) UpdateScoutStatus(id string, status models.ScoutStatus) error {
	res, err := s.db.Exec("UPDATE scouts SET status = $1, updated_at = CURRENT_TIMESTAMP WHERE id = $2", status, id)
	if err != nil {
		return err
	}
	if ok, err := affected(res); err != nil {
		return err
	} else if !ok {
		return storage.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SaveTodo(t models.Todo) error {
	if t.MaxRetries <= 0 {
		t.MaxRetries = models.DefaultMaxRetries
	}
	_, err := s.db.Exec(`
		INSERT INTO todos (id, scout_id, user_id, title, description, agent_type, task_type, status,
			condition, go_to, search, actions, result_data, error_message, retry_count, max_retries,
			scheduled_for, created_at, last_run_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`,
		t.ID, t.ScoutID, t.UserID, t.Title, t.Description, t.AgentType, t.TaskType, t.Status,
		t.Condition, t.GoTo, t.Search, t.Actions, t.Result, t.ErrorMessage, t.RetryCount, t.MaxRetries,
		t.ScheduledFor, t.CreatedAt, t.LastRunAt, t.CompletedAt)
	return errors.Wrapf(err, "save todo %s", t.ID)
}

func (s *PostgresStore) GetTodo(id string) (models.Todo, error) {
	var t models.Todo
	if err := s.db.Get(&t, "SELECT * FROM todos WHERE id = $1", id); err != nil {
		return models.Todo{}, notFound(err)
	}
	return t, nil
}

func (s *PostgresStore) ListTodos(scoutID string) ([]models.Todo, error) {
	todos := []models.Todo{}
	if err := s.db.Select(&todos, "SELECT * FROM todos WHERE scout_id = $1 ORDER BY created_at, id", scoutID); err != nil {
		return nil, err
	}
	return todos, nil
}

func (s *PostgresStore) ListTodosByStatus(status models.TodoStatus) ([]models.Todo, error) {
	todos := []models.Todo{}
	if err := s.db.Select(&todos, "SELECT * FROM todos WHERE status = $1 ORDER BY created_at, id", status); err != nil {
		return nil, err
	}
	return todos, nil
}

// exists distinguishes a missing todo from a status mismatch after a conditional update.
func (s *PostgresStore) exists(id string) error {
	var n int
	if err := s.db.Get(&n, "SELECT COUNT(*) FROM todos WHERE id = $1", id); err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CompareAndSetTodoStatus(id string, from, to models.TodoStatus) (bool, error) {
	res, err := s.db.Exec("UPDATE todos SET status = $1 WHERE id = $2 AND status = $3", to, id, from)
	if err != nil {
		return false, err
	}
	ok, err := affected(res)
	if err != nil || ok {
		return ok, err
	}
	return false, s.exists(id)
}

func (s *PostgresStore) MarkTodoRunning(id string, at time.Time) error {
	res, err := s.db.Exec("UPDATE todos SET status = $1, last_run_at = $2 WHERE id = $3",
		models.InProgressTodoStatus, at, id)
	if err != nil {
		return err
	}
	if ok, err := affected(res); err != nil {
		return err
	} else if !ok {
		return storage.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CompleteTodo(id string, result models.TaskResult, completedAt time.Time, next *time.Time) error {
	res, err := s.db.Exec(`
		UPDATE todos
		SET status = $1,
		result_data = $2,
		completed_at = $3,
		error_message = '',
		scheduled_for = $4
		WHERE id = $5`,
		models.CompletedTodoStatus, result, completedAt, next, id)
	if err != nil {
		return err
	}
	if ok, err := affected(res); err != nil {
		return err
	} else if !ok {
		return storage.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) FailTodo(id string, errMsg string) (models.Todo, error) {
	var t models.Todo
	err := s.db.Get(&t, `
		UPDATE todos
		SET status = $1,
		error_message = $2,
		retry_count = LEAST(retry_count + 1, max_retries)
		WHERE id = $3
		RETURNING *`,
		models.FailedTodoStatus, errMsg, id)
	if err != nil {
		return models.Todo{}, notFound(err)
	}
	return t, nil
}

func (s *PostgresStore) ResetTodo(id string, from models.TodoStatus) (bool, error) {
	res, err := s.db.Exec("UPDATE todos SET status = $1, error_message = '' WHERE id = $2 AND status = $3",
		models.PendingTodoStatus, id, from)
	if err != nil {
		return false, err
	}
	ok, err := affected(res)
	if err != nil || ok {
		return ok, err
	}
	return false, s.exists(id)
}

func (s *PostgresStore) SaveSummary(sm models.Summary) (bool, error) {
	res, err := s.db.Exec(`
		INSERT INTO summaries (id, scout_id, todo_id, user_id, title, content, data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT DO NOTHING`,
		sm.ID, sm.ScoutID, sm.TodoID, sm.UserID, sm.Title, sm.Content, sm.Data, sm.CreatedAt)
	if err != nil {
		return false, errors.Wrapf(err, "save summary for scout %s", sm.ScoutID)
	}
	return affected(res)
}

func (s *PostgresStore) ListSummaries(scoutID string) ([]models.Summary, error) {
	summaries := []models.Summary{}
	if err := s.db.Select(&summaries, "SELECT * FROM summaries WHERE scout_id = $1 ORDER BY created_at", scoutID); err != nil {
		return nil, err
	}
	return summaries, nil
}

func (s *PostgresStore) HasFinalSummary(scoutID string) (bool, error) {
	var exists bool
	err := s.db.Get(&exists, `
		SELECT EXISTS (
			SELECT 1 FROM summaries
			WHERE scout_id = $1 AND todo_id IS NULL AND data->>'summaryType' = $2
		)`, scoutID, models.FinalSummaryType)
	return exists, err
}

func (s *PostgresStore) AppendLog(l models.LogEntry) error {
	_, err := s.db.Exec(`
		INSERT INTO logs (id, scout_id, todo_id, agent_type, message, data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		l.ID, l.ScoutID, l.TodoID, l.AgentType, l.Message, l.Data, l.CreatedAt)
	return err
}

func (s *PostgresStore) ListLogs(scoutID string, limit int) ([]models.LogEntry, error) {
	logs := []models.LogEntry{}
	err := s.db.Select(&logs, "SELECT * FROM logs WHERE scout_id = $1 ORDER BY created_at DESC LIMIT $2", scoutID, limitOrAll(limit))
	if err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *PostgresStore) ListTodoLogs(todoID string, limit int) ([]models.LogEntry, error) {
	logs := []models.LogEntry{}
	err := s.db.Select(&logs, "SELECT * FROM logs WHERE todo_id = $1 ORDER BY created_at DESC LIMIT $2", todoID, limitOrAll(limit))
	if err != nil {
		return nil, err
	}
	return logs, nil
}

// limitOrAll maps a non-positive limit to NULL, which postgres treats as LIMIT ALL.
func limitOrAll(limit int) interface{} {
	if limit <= 0 {
		return nil
	}
	return limit
}

func (s *PostgresStore) SaveJob(j models.Job) error {
	_, err := s.db.Exec(`
		INSERT INTO jobs (id, todo_id, scout_id, lane, payload, state, attempts_made, max_attempts, last_error, created_at, updated_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		j.ID, j.TodoID, j.ScoutID, j.Lane, j.Payload, j.State, j.AttemptsMade, j.MaxAttempts, j.LastError, j.CreatedAt, j.UpdatedAt, j.FinishedAt)
	return errors.Wrapf(err, "save job %s", j.ID)
}

func (s *PostgresStore) UpdateJob(j models.Job) error {
	res, err := s.db.Exec(`
		UPDATE jobs
		SET state = $1, attempts_made = $2, last_error = $3, updated_at = $4, finished_at = $5
		WHERE id = $6`,
		j.State, j.AttemptsMade, j.LastError, j.UpdatedAt, j.FinishedAt, j.ID)
	if err != nil {
		return err
	}
	if ok, err := affected(res); err != nil {
		return err
	} else if !ok {
		return storage.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) GetJob(id string) (models.Job, error) {
	var j models.Job
	if err := s.db.Get(&j, "SELECT * FROM jobs WHERE id = $1", id); err != nil {
		return models.Job{}, notFound(err)
	}
	return j, nil
}

func (s *PostgresStore) ListUnfinishedJobs() ([]models.Job, error) {
	jobs := []models.Job{}
	err := s.db.Select(&jobs, "SELECT * FROM jobs WHERE state NOT IN ($1, $2) ORDER BY created_at",
		models.CompletedJobState, models.FailedJobState)
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

func (s *PostgresStore) DeleteJob(id string) error {
	_, err := s.db.Exec("DELETE FROM jobs WHERE id = $1", id)
	return err
}
