// Package app wires the orchestration components into a runnable service.
package app

import (
	"context"
	"net/http"

	"github.com/ignatij/goscout/internal/config"
	internal_http "github.com/ignatij/goscout/internal/http"
	"github.com/ignatij/goscout/internal/log"
	"github.com/ignatij/goscout/internal/metrics"
	internal_storage "github.com/ignatij/goscout/internal/storage"
	"github.com/ignatij/goscout/pkg/backend"
	"github.com/ignatij/goscout/pkg/events"
	"github.com/ignatij/goscout/pkg/queue"
	"github.com/ignatij/goscout/pkg/service"
	"github.com/ignatij/goscout/pkg/storage"
	"github.com/pkg/errors"
)

type App struct {
	Config     config.Config
	Store      storage.Store
	Hub        *events.Hub
	Queue      *queue.Queue
	Dispatcher *service.Dispatcher
	Scheduler  *service.Scheduler
	Scouts     *service.ScoutService

	metrics        *metrics.Metrics
	metricsHandler http.Handler
}

// New builds every component from cfg. Nothing runs until Run or Start.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	log.SetLevel(cfg.LogLevel)

	store, err := internal_storage.InitStore(cfg.DatabaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "init store")
	}
	if cfg.DatabaseURL == "" {
		log.GetLogger().Warn("No database configured, using the in-memory store")
	}

	metricsHandler, err := metrics.InitMeterProvider(ctx, "goscout")
	if err != nil {
		store.Close()
		return nil, errors.Wrap(err, "init meter provider")
	}
	mt, err := metrics.New(metrics.Meter())
	if err != nil {
		store.Close()
		return nil, errors.Wrap(err, "init metrics")
	}

	hub := events.NewHub()
	hub.OnSubscribe = mt.SSEConnection
	hub.OnPublish = mt.SSEEvent
	hubLogger := log.Component("events")
	hub.OnError = func(scoutID string, err error) {
		hubLogger.Errorf("Failed to encode update for scout %s: %v", scoutID, err)
	}

	ai := backend.NewAIClient(cfg.Backends.AIWorkerURL, cfg.Backends.Timeout)
	browser := backend.NewBrowserClient(cfg.Backends.BrowserScoutURL, cfg.Backends.Timeout)

	aggregator := service.NewAggregator(store, hub, log.Component("aggregator"))
	summarizer := service.NewSummarizer(store, ai, aggregator, mt, cfg.Agents, log.Component("summarizer"))
	dispatcher := service.NewDispatcher(store, ai, browser, summarizer, aggregator, mt, cfg.Agents, log.Component("dispatcher"))

	opts := cfg.QueueOptions()
	opts.OnTransition = mt.JobTransition
	q := queue.New(store, dispatcher.HandleJob, log.Component("queue"), opts)
	mt.ObserveQueue(q.Stats)

	scheduler := service.NewScheduler(store, q, summarizer, aggregator, mt, service.SchedulerOptions{
		RearmRecurring: cfg.Scheduler.RearmRecurring,
		RetryFailed:    cfg.Scheduler.RetryFailed,
	}, log.Component("scheduler"))
	generator := service.NewGenerator(ai, cfg.Agents, log.Component("generator"))

	return &App{
		Config:         cfg,
		Store:          store,
		Hub:            hub,
		Queue:          q,
		Dispatcher:     dispatcher,
		Scheduler:      scheduler,
		Scouts:         service.NewScoutService(store, generator, hub, log.Component("scouts")),
		metrics:        mt,
		metricsHandler: metricsHandler,
	}, nil
}

// Handler is the HTTP API of the app.
func (a *App) Handler() http.Handler {
	return internal_http.NewHandler(internal_http.Deps{
		Scouts:    a.Scouts,
		Jobs:      a.Queue,
		Scheduler: a.Scheduler,
		Feed:      a.Hub,
		Metrics:   a.metricsHandler,
		Logger:    log.Component("http"),
	})
}

// Start launches the queue workers and re-enqueues unfinished jobs.
func (a *App) Start(ctx context.Context) error {
	a.Queue.Start()
	if _, err := a.Queue.Recover(ctx); err != nil {
		return errors.Wrap(err, "recover jobs")
	}
	return nil
}

// Run starts the workers, the scheduler loop and the HTTP server, and
// blocks until ctx is cancelled or the server fails.
func (a *App) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go a.Scheduler.Run(ctx, a.Config.Scheduler.Interval)

	return internal_http.StartServer(ctx, a.Config.Addr(), a.Handler(), log.Component("http"))
}

// Close stops the queue and releases the store.
func (a *App) Close() {
	a.Queue.Stop()
	if err := a.Store.Close(); err != nil {
		log.GetLogger().Errorf("Failed to close store: %v", err)
	}
}
