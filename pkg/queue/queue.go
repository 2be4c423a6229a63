// Package queue runs task descriptors through lane-bound worker pools with
// retry, exponential backoff and bounded job history.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ignatij/goscout/pkg/models"
	"github.com/ignatij/goscout/pkg/storage"
	"github.com/pkg/errors"
)

const (
	BrowserLane = "browser"
	DefaultLane = "default"

	DefaultMaxAttempts    = 3
	DefaultBackoffBase    = 2 * time.Second
	DefaultAttemptTimeout = 60 * time.Second
	DefaultKeepCompleted  = 10
	DefaultKeepFailed     = 5
	DefaultLaneBuffer     = 1024
)

var ErrStopped = errors.New("queue stopped")

type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// HandlerFunc processes one attempt of a job. job.AttemptsMade is the
// 1-based number of the current attempt.
type HandlerFunc func(ctx context.Context, job models.Job) error

type Options struct {
	// Concurrency per lane. Missing lanes get 1 worker for BrowserLane and 2 otherwise.
	Concurrency    map[string]int
	MaxAttempts    int
	BackoffBase    time.Duration
	AttemptTimeout time.Duration
	KeepCompleted  int
	KeepFailed     int
	LaneBuffer     int
	// LaneFor picks the lane of a descriptor. Defaults to LaneForAgent.
	LaneFor func(models.TaskDescriptor) string
	// ShouldRetry reports whether a failed attempt may be retried. Defaults to always.
	ShouldRetry func(error) bool
	// OnTransition is called after every job state change.
	OnTransition func(models.Job)
}

// LaneForAgent keeps browser automation on its own single-session lane.
func LaneForAgent(d models.TaskDescriptor) string {
	if d.AgentType == models.BrowserAutomationAgent {
		return BrowserLane
	}
	return DefaultLane
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = DefaultBackoffBase
	}
	if o.AttemptTimeout <= 0 {
		o.AttemptTimeout = DefaultAttemptTimeout
	}
	if o.KeepCompleted <= 0 {
		o.KeepCompleted = DefaultKeepCompleted
	}
	if o.KeepFailed <= 0 {
		o.KeepFailed = DefaultKeepFailed
	}
	if o.LaneBuffer <= 0 {
		o.LaneBuffer = DefaultLaneBuffer
	}
	if o.LaneFor == nil {
		o.LaneFor = LaneForAgent
	}
	if o.ShouldRetry == nil {
		o.ShouldRetry = func(error) bool { return true }
	}
	concurrency := map[string]int{BrowserLane: 1, DefaultLane: 2}
	for lane, n := range o.Concurrency {
		if n > 0 {
			concurrency[lane] = n
		}
	}
	o.Concurrency = concurrency
	return o
}

// Backoff returns the delay before the retry that follows attempt n (1-based).
func (o Options) Backoff(n int) time.Duration {
	base := o.BackoffBase
	if base <= 0 {
		base = DefaultBackoffBase
	}
	if n < 1 {
		n = 1
	}
	return base << uint(n-1)
}

// JobHandle identifies an enqueued job.
type JobHandle struct {
	ID     string `json:"jobId"`
	TodoID string `json:"todoId"`
	Lane   string `json:"lane"`
}

// Stats counts tracked jobs by state.
type Stats struct {
	Waiting   int `json:"waiting"`
	Active    int `json:"active"`
	Delayed   int `json:"delayed"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Queue is a durable FIFO job queue. Each lane has its own channel and pool
// of workers; job state is mirrored into a JobStore so Recover can pick up
// unfinished work after a restart.
type Queue struct {
	store   storage.JobStore
	handler HandlerFunc
	logger  Logger
	opts    Options

	lanes     map[string]chan string
	jobs      map[string]*models.Job
	completed []string
	failed    []string
	timers    map[string]*time.Timer
	mu        sync.Mutex

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

func New(store storage.JobStore, handler HandlerFunc, logger Logger, opts Options) *Queue {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		store:   store,
		handler: handler,
		logger:  logger,
		opts:    opts,
		lanes:   make(map[string]chan string),
		jobs:    make(map[string]*models.Job),
		timers:  make(map[string]*time.Timer),
		ctx:     ctx,
		cancel:  cancel,
	}
	for lane := range opts.Concurrency {
		q.lanes[lane] = make(chan string, opts.LaneBuffer)
	}
	return q
}

// Start launches the configured number of workers on every lane.
func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return
	}
	q.started = true
	for lane, n := range q.opts.Concurrency {
		for i := 0; i < n; i++ {
			q.wg.Add(1)
			go q.worker(q.lanes[lane])
		}
	}
}

// Stop cancels in-flight attempts and pending backoff timers, then waits for
// the workers. Interrupted jobs keep a non-final state for Recover.
func (q *Queue) Stop() {
	q.cancel()
	q.mu.Lock()
	for id, t := range q.timers {
		t.Stop()
		delete(q.timers, id)
	}
	q.mu.Unlock()
	q.wg.Wait()
}

// Enqueue validates d, persists a waiting job and pushes it onto its lane.
func (q *Queue) Enqueue(ctx context.Context, d models.TaskDescriptor) (JobHandle, error) {
	if err := d.Validate(); err != nil {
		return JobHandle{}, err
	}
	if q.ctx.Err() != nil {
		return JobHandle{}, ErrStopped
	}
	lane := q.laneFor(d)
	now := time.Now()
	job := models.Job{
		ID:          uuid.NewString(),
		TodoID:      d.TodoID,
		ScoutID:     d.ScoutID,
		Lane:        lane,
		Payload:     d,
		State:       models.WaitingJobState,
		MaxAttempts: q.opts.MaxAttempts,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := q.store.SaveJob(job); err != nil {
		return JobHandle{}, errors.Wrap(err, "persist job")
	}
	q.mu.Lock()
	q.jobs[job.ID] = &job
	q.mu.Unlock()
	q.notify(job)

	if err := q.push(ctx, lane, job.ID); err != nil {
		return JobHandle{}, err
	}
	return JobHandle{ID: job.ID, TodoID: job.TodoID, Lane: lane}, nil
}

// Recover re-enqueues jobs a previous process left unfinished.
func (q *Queue) Recover(ctx context.Context) (int, error) {
	jobs, err := q.store.ListUnfinishedJobs()
	if err != nil {
		return 0, errors.Wrap(err, "list unfinished jobs")
	}
	n := 0
	for i := range jobs {
		job := jobs[i]
		q.mu.Lock()
		_, tracked := q.jobs[job.ID]
		q.mu.Unlock()
		if tracked {
			continue
		}
		if job.Lane == "" || q.lanes[job.Lane] == nil {
			job.Lane = q.laneFor(job.Payload)
		}
		if job.MaxAttempts <= 0 {
			job.MaxAttempts = q.opts.MaxAttempts
		}
		job.State = models.WaitingJobState
		job.UpdatedAt = time.Now()
		q.mu.Lock()
		q.jobs[job.ID] = &job
		q.mu.Unlock()
		q.persist(job)
		if err := q.push(ctx, job.Lane, job.ID); err != nil {
			return n, err
		}
		n++
	}
	if n > 0 {
		q.logger.Infof("Recovered %d unfinished jobs", n)
	}
	return n, nil
}

// Stats returns the number of tracked jobs per state. Completed and failed
// counts only cover retained history.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	var s Stats
	for _, j := range q.jobs {
		switch j.State {
		case models.WaitingJobState:
			s.Waiting++
		case models.ActiveJobState:
			s.Active++
		case models.DelayedJobState:
			s.Delayed++
		case models.CompletedJobState:
			s.Completed++
		case models.FailedJobState:
			s.Failed++
		}
	}
	return s
}

// Job returns a snapshot of a tracked job, falling back to the store.
func (q *Queue) Job(id string) (models.Job, error) {
	q.mu.Lock()
	j, ok := q.jobs[id]
	var snapshot models.Job
	if ok {
		snapshot = *j
	}
	q.mu.Unlock()
	if ok {
		return snapshot, nil
	}
	return q.store.GetJob(id)
}

func (q *Queue) laneFor(d models.TaskDescriptor) string {
	lane := q.opts.LaneFor(d)
	if _, ok := q.lanes[lane]; !ok {
		return DefaultLane
	}
	return lane
}

func (q *Queue) push(ctx context.Context, lane, id string) error {
	select {
	case q.lanes[lane] <- id:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.ctx.Done():
		return ErrStopped
	}
}

func (q *Queue) worker(ch chan string) {
	defer q.wg.Done()
	for {
		select {
		case <-q.ctx.Done():
			return
		case id := <-ch:
			q.run(id)
		}
	}
}

func (q *Queue) run(id string) {
	q.mu.Lock()
	j, ok := q.jobs[id]
	if !ok || j.State.Finished() || j.State == models.ActiveJobState {
		q.mu.Unlock()
		return
	}
	j.State = models.ActiveJobState
	j.AttemptsMade++
	j.UpdatedAt = time.Now()
	job := *j
	q.mu.Unlock()
	q.persist(job)
	q.notify(job)

	ctx, cancel := context.WithTimeout(q.ctx, q.opts.AttemptTimeout)
	err := q.safeHandle(ctx, job)
	cancel()

	if err != nil && q.ctx.Err() != nil {
		// interrupted by Stop; leave the job for Recover
		q.update(id, func(j *models.Job) {
			j.State = models.WaitingJobState
			j.AttemptsMade--
		})
		return
	}

	switch {
	case err == nil:
		q.finish(id, models.CompletedJobState, "")
	case job.AttemptsMade < job.MaxAttempts && q.opts.ShouldRetry(err):
		delay := q.opts.Backoff(job.AttemptsMade)
		q.logger.Infof("Job %s (todo %s) attempt %d/%d failed: %v; retrying in %s",
			id, job.TodoID, job.AttemptsMade, job.MaxAttempts, err, delay)
		q.update(id, func(j *models.Job) {
			j.State = models.DelayedJobState
			j.LastError = err.Error()
		})
		q.schedule(id, job.Lane, delay)
	default:
		q.logger.Errorf("Job %s (todo %s) failed after %d attempts: %v", id, job.TodoID, job.AttemptsMade, err)
		q.finish(id, models.FailedJobState, err.Error())
	}
}

// safeHandle turns a handler panic into an attempt failure.
func (q *Queue) safeHandle(ctx context.Context, job models.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("handler panic: %v", r)
		}
	}()
	return q.handler(ctx, job)
}

func (q *Queue) schedule(id, lane string, delay time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.ctx.Err() != nil {
		return
	}
	q.timers[id] = time.AfterFunc(delay, func() {
		q.mu.Lock()
		delete(q.timers, id)
		q.mu.Unlock()
		q.update(id, func(j *models.Job) { j.State = models.WaitingJobState })
		if err := q.push(q.ctx, lane, id); err != nil {
			q.logger.Infof("Job %s not re-queued: %v", id, err)
		}
	})
}

func (q *Queue) update(id string, fn func(*models.Job)) {
	q.mu.Lock()
	j, ok := q.jobs[id]
	if !ok {
		q.mu.Unlock()
		return
	}
	fn(j)
	j.UpdatedAt = time.Now()
	job := *j
	q.mu.Unlock()
	q.persist(job)
	q.notify(job)
}

func (q *Queue) finish(id string, state models.JobState, lastErr string) {
	now := time.Now()
	q.update(id, func(j *models.Job) {
		j.State = state
		j.FinishedAt = &now
		if lastErr != "" {
			j.LastError = lastErr
		}
	})

	q.mu.Lock()
	var evicted []string
	if state == models.CompletedJobState {
		q.completed = append(q.completed, id)
		q.completed, evicted = trim(q.completed, q.opts.KeepCompleted)
	} else {
		q.failed = append(q.failed, id)
		q.failed, evicted = trim(q.failed, q.opts.KeepFailed)
	}
	for _, old := range evicted {
		delete(q.jobs, old)
	}
	q.mu.Unlock()

	for _, old := range evicted {
		if err := q.store.DeleteJob(old); err != nil {
			q.logger.Errorf("Failed to evict job %s: %v", old, err)
		}
	}
}

// trim keeps the newest keep ids and returns the rest as evicted.
func trim(ids []string, keep int) ([]string, []string) {
	if len(ids) <= keep {
		return ids, nil
	}
	cut := len(ids) - keep
	evicted := append([]string(nil), ids[:cut]...)
	return append([]string(nil), ids[cut:]...), evicted
}

func (q *Queue) persist(job models.Job) {
	if err := q.store.UpdateJob(job); err != nil {
		q.logger.Errorf("Failed to persist job %s state %s: %v", job.ID, job.State, err)
	}
}

func (q *Queue) notify(job models.Job) {
	if q.opts.OnTransition != nil {
		q.opts.OnTransition(job)
	}
}
