package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ignatij/goscout/pkg/events"
	"github.com/ignatij/goscout/pkg/models"
	"github.com/ignatij/goscout/pkg/queue"
	"github.com/ignatij/goscout/pkg/service"
	"github.com/ignatij/goscout/pkg/storage"
	"github.com/pkg/errors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// KeepAliveInterval is how often an idle update feed gets a comment line.
var KeepAliveInterval = 30 * time.Second

type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Scouts is the scout-facing service surface.
type Scouts interface {
	CreateScout(ctx context.Context, req service.CreateScoutRequest) (models.Scout, []models.Todo, error)
	ListScouts(ctx context.Context) ([]models.Scout, error)
	Status(ctx context.Context, scoutID string) (service.StatusReport, error)
	Snapshot(ctx context.Context, scoutID string) (events.Event, error)
}

// Jobs is the queue surface.
type Jobs interface {
	Enqueue(ctx context.Context, d models.TaskDescriptor) (queue.JobHandle, error)
	Stats() queue.Stats
	Job(id string) (models.Job, error)
}

type SchedulerRunner interface {
	RunAction(ctx context.Context, action string) (service.PassResult, error)
}

type Subscriber interface {
	Subscribe(scoutID string) (<-chan []byte, func())
}

// Deps are the components behind the routes. Metrics may be nil.
type Deps struct {
	Scouts    Scouts
	Jobs      Jobs
	Scheduler SchedulerRunner
	Feed      Subscriber
	Metrics   http.Handler
	Logger    Logger
}

// NewHandler builds the instrumented API handler.
func NewHandler(d Deps) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", HealthHandler)
	mux.HandleFunc("GET /scouts", listScoutsHandler(d))
	mux.HandleFunc("POST /scouts", createScoutHandler(d))
	mux.HandleFunc("GET /scouts/{id}", scoutStatusHandler(d))
	mux.HandleFunc("GET /scouts/{id}/updates", updatesHandler(d))
	mux.HandleFunc("POST /tasks", enqueueHandler(d))
	mux.HandleFunc("GET /queue/status", queueStatusHandler(d))
	mux.HandleFunc("GET /jobs/{id}", jobHandler(d))
	mux.HandleFunc("POST /scheduler", schedulerHandler(d))
	if d.Metrics != nil {
		mux.Handle("GET /metrics", d.Metrics)
	}
	return otelhttp.NewHandler(mux, "goscout")
}

// StartServer serves handler on addr until ctx is cancelled.
func StartServer(ctx context.Context, addr string, handler http.Handler, logger Logger) error {
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		logger.Infof("Starting GoScout server on %s", addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logger.Infof("Shutting down GoScout server")
		return srv.Shutdown(shutdownCtx)
	}
}

func HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func listScoutsHandler(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scouts, err := d.Scouts.ListScouts(r.Context())
		if err != nil {
			writeError(w, d.Logger, err)
			return
		}
		if scouts == nil {
			scouts = []models.Scout{}
		}
		writeJSON(w, http.StatusOK, scouts)
	}
}

func createScoutHandler(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req service.CreateScoutRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON body: %v", err))
			return
		}
		scout, todos, err := d.Scouts.CreateScout(r.Context(), req)
		if err != nil {
			writeError(w, d.Logger, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"scout": scout, "todos": todos})
	}
}

func scoutStatusHandler(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, err := d.Scouts.Status(r.Context(), r.PathValue("id"))
		if err != nil {
			writeError(w, d.Logger, err)
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}

func updatesHandler(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			writeJSONError(w, http.StatusInternalServerError, "streaming unsupported")
			return
		}
		scoutID := r.PathValue("id")
		ch, unsubscribe := d.Feed.Subscribe(scoutID)
		defer unsubscribe()

		snapshot, err := d.Scouts.Snapshot(r.Context(), scoutID)
		if err != nil {
			writeError(w, d.Logger, err)
			return
		}
		initial, err := json.Marshal(snapshot)
		if err != nil {
			writeError(w, d.Logger, err)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		_, _ = fmt.Fprintf(w, "data: %s\n\n", initial)
		flusher.Flush()

		keepalive := time.NewTicker(KeepAliveInterval)
		defer keepalive.Stop()
		ctx := r.Context()
		for {
			select {
			case <-ctx.Done():
				return
			case <-keepalive.C:
				_, _ = fmt.Fprint(w, ": keepalive\n\n")
				flusher.Flush()
			case msg, ok := <-ch:
				if !ok {
					return
				}
				_, _ = fmt.Fprintf(w, "data: %s\n\n", msg)
				flusher.Flush()
			}
		}
	}
}

func enqueueHandler(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var desc models.TaskDescriptor
		if err := json.NewDecoder(r.Body).Decode(&desc); err != nil {
			writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON body: %v", err))
			return
		}
		h, err := d.Jobs.Enqueue(r.Context(), desc)
		if err != nil {
			writeError(w, d.Logger, err)
			return
		}
		writeJSON(w, http.StatusAccepted, h)
	}
}

func queueStatusHandler(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, d.Jobs.Stats())
	}
}

func jobHandler(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := d.Jobs.Job(r.PathValue("id"))
		if err != nil {
			writeError(w, d.Logger, err)
			return
		}
		writeJSON(w, http.StatusOK, job)
	}
}

func schedulerHandler(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Action string `json:"action"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON body: %v", err))
			return
		}
		res, err := d.Scheduler.RunAction(r.Context(), body.Action)
		if err != nil {
			writeError(w, d.Logger, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func statusFor(err error) int {
	var descErr *models.DescriptorError
	switch {
	case errors.As(err, &descErr), service.IsValidation(err), errors.Is(err, service.ErrUnknownAgentType):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, queue.ErrStopped):
		return http.StatusServiceUnavailable
	case errors.Is(err, service.ErrBackendUnavailable), errors.Is(err, service.ErrParse):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, logger Logger, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError && logger != nil {
		logger.Errorf("Request failed: %v", err)
	}
	var descErr *models.DescriptorError
	if errors.As(err, &descErr) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(map[string]any{"error": err.Error(), "problems": descErr.Problems})
		return
	}
	writeJSONError(w, code, err.Error())
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func writeJSONError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": message})
}
