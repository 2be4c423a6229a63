package app_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ignatij/goscout/internal/app"
	"github.com/ignatij/goscout/internal/config"
	"github.com/ignatij/goscout/pkg/backend"
	"github.com/ignatij/goscout/pkg/models"
	"github.com/ignatij/goscout/pkg/service"
	"github.com/stretchr/testify/assert"
)

const plan = `{"tasks":[
	{"title":"Search fares","description":"Search fares to Lisbon","agentType":"SEARCH_AGENT","taskType":"SINGLE_RUN"},
	{"title":"Check airline site","description":"Read the current fare","agentType":"BROWSER_AUTOMATION","taskType":"SINGLE_RUN","goTo":["https://airline.example"],"actions":[{"type":"extract","description":"price"}]},
	{"title":"Alert on cheap fare","description":"Tell the user to book","agentType":"ACTION_SCOUT","taskType":"RUN_ON_CONDITION","condition":{"type":"price_threshold","parameters":{"threshold":500,"comparison":"less_than"}}}
]}`

func fakeAIWorker(t *testing.T) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req backend.CompletionRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		text := "answer for " + req.Prompt
		if req.ResponseFormat == backend.ResponseFormatJSON {
			text = plan
		}
		_ = json.NewEncoder(w).Encode(models.NewCompletion(text))
	}))
}

func fakeBrowserScout() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"success":true,"data":{"navigation":[],"searches":[],"actions":[],"extractedData":[],"price":450},"logs":["ok"]}`)
	}))
}

func newApp(t *testing.T) *app.App {
	ai := fakeAIWorker(t)
	browser := fakeBrowserScout()
	t.Cleanup(ai.Close)
	t.Cleanup(browser.Close)

	cfg := config.Default()
	cfg.Backends.AIWorkerURL = ai.URL
	cfg.Backends.BrowserScoutURL = browser.URL
	cfg.Backends.Timeout = 5 * time.Second
	cfg.Queue.BackoffBase = 10 * time.Millisecond

	a, err := app.New(context.Background(), cfg)
	assert.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

func TestApp_ScoutLifecycle(t *testing.T) {
	ctx := context.Background()
	a := newApp(t)
	assert.NoError(t, a.Start(ctx))

	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	body, _ := json.Marshal(service.CreateScoutRequest{UserID: "u1", UserQuery: "flights to Lisbon", NotificationFrequency: models.OnceADayFrequency})
	resp, err := http.Post(srv.URL+"/scouts", "application/json", bytes.NewReader(body))
	assert.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	var created struct {
		Scout models.Scout  `json:"scout"`
		Todos []models.Todo `json:"todos"`
	}
	assert.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	assert.Len(t, created.Todos, 3)
	scoutID := created.Scout.ID

	completed := func() int {
		todos, err := a.Store.ListTodos(scoutID)
		assert.NoError(t, err)
		n := 0
		for _, todo := range todos {
			if todo.Status == models.CompletedTodoStatus {
				n++
			}
		}
		return n
	}

	// the conditional todo waits for the browser price
	res, err := a.Scheduler.RunAction(ctx, service.ActionProcess)
	assert.NoError(t, err)
	assert.Equal(t, 2, res.Affected)
	assert.Eventually(t, func() bool { return completed() == 2 }, 5*time.Second, 10*time.Millisecond)

	res, err = a.Scheduler.RunAction(ctx, service.ActionProcess)
	assert.NoError(t, err)
	assert.Equal(t, 1, res.Affected)
	assert.Eventually(t, func() bool { return completed() == 3 }, 5*time.Second, 10*time.Millisecond)

	statusResp, err := http.Get(srv.URL + "/scouts/" + scoutID)
	assert.NoError(t, err)
	defer statusResp.Body.Close()
	var report service.StatusReport
	assert.NoError(t, json.NewDecoder(statusResp.Body).Decode(&report))
	assert.Equal(t, models.CompletedScoutStatus, report.Scout.Status)
	assert.Equal(t, 100.0, report.Progress.ProgressPercentage)
	assert.Equal(t, 3, report.Performance.TotalExecutions)

	schedResp, err := http.Post(srv.URL+"/scheduler", "application/json", strings.NewReader(`{"action":"summarize"}`))
	assert.NoError(t, err)
	defer schedResp.Body.Close()
	var pass service.PassResult
	assert.NoError(t, json.NewDecoder(schedResp.Body).Decode(&pass))
	assert.Equal(t, 1, pass.Affected)

	has, err := a.Store.HasFinalSummary(scoutID)
	assert.NoError(t, err)
	assert.True(t, has)

	metricsResp, err := http.Get(srv.URL + "/metrics")
	assert.NoError(t, err)
	defer metricsResp.Body.Close()
	out, _ := io.ReadAll(metricsResp.Body)
	assert.Contains(t, string(out), "goscout_dispatches")
}
