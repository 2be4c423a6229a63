package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/ignatij/goscout/pkg/models"
	"github.com/pkg/errors"
)

// ResponseFormatJSON asks the provider for schema-constrained JSON output.
const ResponseFormatJSON = "json"

// CompletionRequest is the body of POST /task on the AI worker.
type CompletionRequest struct {
	Provider       string `json:"provider"`
	ModelID        string `json:"model_id"`
	Prompt         string `json:"prompt"`
	SystemPrompt   string `json:"system_prompt,omitempty"`
	ResponseFormat string `json:"response_format,omitempty"`
}

// AIClient talks to the AI worker gateway.
type AIClient struct {
	baseURL string
	client  *http.Client
}

func NewAIClient(baseURL string, timeout time.Duration) *AIClient {
	return &AIClient{baseURL: baseURL, client: newHTTPClient(timeout)}
}

// Complete sends req and normalizes whatever shape the provider replied with.
// A decodable body without any recognizable text yields an empty Completion.
func (c *AIClient) Complete(ctx context.Context, req CompletionRequest) (models.Completion, error) {
	raw, err := postJSON(ctx, c.client, endpoint(c.baseURL, "/task"), req)
	if err != nil {
		return models.Completion{}, err
	}
	return NormalizeCompletion(raw)
}

type gatewayResponse struct {
	Choices    []models.Choice `json:"choices"`
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	Result *struct {
		Response string `json:"response"`
	} `json:"result"`
	Response *string `json:"response"`
}

// NormalizeCompletion maps OpenAI style, Gemini style (candidates), Workers AI
// style (result.response) and bare {response} bodies to one Completion shape.
func NormalizeCompletion(raw []byte) (models.Completion, error) {
	var g gatewayResponse
	if err := json.Unmarshal(raw, &g); err != nil {
		return models.Completion{}, errors.Wrapf(ErrUnavailable, "malformed completion: %v", err)
	}
	switch {
	case len(g.Choices) > 0:
		return models.Completion{Choices: g.Choices}, nil
	case len(g.Candidates) > 0:
		var parts []string
		for _, p := range g.Candidates[0].Content.Parts {
			parts = append(parts, p.Text)
		}
		return models.NewCompletion(strings.Join(parts, "")), nil
	case g.Result != nil:
		return models.NewCompletion(g.Result.Response), nil
	case g.Response != nil:
		return models.NewCompletion(*g.Response), nil
	}
	return models.Completion{}, nil
}
