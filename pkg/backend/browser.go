package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/ignatij/goscout/pkg/models"
	"github.com/pkg/errors"
)

// BrowserRequest is the body of POST /execute on the automation service.
// With no GoTo, Search or Actions the service runs a web search on Title.
type BrowserRequest struct {
	TodoID      string            `json:"todoId"`
	Title       string            `json:"title"`
	Description string            `json:"description,omitempty"`
	GoTo        models.StringList `json:"goTo"`
	Search      models.StringList `json:"search"`
	Actions     models.ActionList `json:"actions"`
}

type BrowserClient struct {
	baseURL string
	client  *http.Client
}

func NewBrowserClient(baseURL string, timeout time.Duration) *BrowserClient {
	return &BrowserClient{baseURL: baseURL, client: newHTTPClient(timeout)}
}

// Execute runs one automation script. A reply with success=false is an error.
func (c *BrowserClient) Execute(ctx context.Context, req BrowserRequest) (models.BrowserResponse, error) {
	if req.GoTo == nil {
		req.GoTo = models.StringList{}
	}
	if req.Search == nil {
		req.Search = models.StringList{}
	}
	if req.Actions == nil {
		req.Actions = models.ActionList{}
	}
	raw, err := postJSON(ctx, c.client, endpoint(c.baseURL, "/execute"), req)
	if err != nil {
		return models.BrowserResponse{}, err
	}
	var res models.BrowserResponse
	if err := json.Unmarshal(raw, &res); err != nil {
		return models.BrowserResponse{}, errors.Wrapf(ErrUnavailable, "malformed automation response: %v", err)
	}
	if !res.Success {
		msg := res.Error
		if msg == "" {
			msg = "automation reported failure"
		}
		return res, errors.Wrap(ErrUnavailable, msg)
	}
	return res, nil
}
