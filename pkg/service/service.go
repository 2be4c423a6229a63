package service

import (
	"context"
	"time"

	"github.com/ignatij/goscout/pkg/backend"
	"github.com/ignatij/goscout/pkg/models"
	"github.com/ignatij/goscout/pkg/queue"
)

// Logger defines the logging interface used across the services
type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Completer is the AI completion backend.
type Completer interface {
	Complete(ctx context.Context, req backend.CompletionRequest) (models.Completion, error)
}

// Automator is the browser automation backend.
type Automator interface {
	Execute(ctx context.Context, req backend.BrowserRequest) (models.BrowserResponse, error)
}

// Enqueuer submits descriptors to the job queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, d models.TaskDescriptor) (queue.JobHandle, error)
}

// Recorder receives operational measurements. The zero implementation is NopRecorder.
type Recorder interface {
	RecordDispatch(ctx context.Context, agent models.AgentType, success bool, elapsed time.Duration)
	RecordSchedulerPass(ctx context.Context, action string, affected int, elapsed time.Duration)
	RecordSummary(ctx context.Context, summaryType string, fallback bool)
}

type NopRecorder struct{}

func (NopRecorder) RecordDispatch(context.Context, models.AgentType, bool, time.Duration) {}
func (NopRecorder) RecordSchedulerPass(context.Context, string, int, time.Duration)      {}
func (NopRecorder) RecordSummary(context.Context, string, bool)                           {}

// Clock returns the current time; tests replace it.
type Clock func() time.Time
