package models

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// ErrUnknownResultType is returned when decoding a result whose type tag is not a known agent type.
var ErrUnknownResultType = errors.New("unknown result type")

// Completion is the normalized AI backend response.
type Completion struct {
	Choices []Choice `json:"choices"`
}

type Choice struct {
	Message Message `json:"message"`
}

type Message struct {
	Content string `json:"content"`
}

// Text returns the content of the first choice, or "" when there is none.
func (c Completion) Text() string {
	if len(c.Choices) == 0 {
		return ""
	}
	return c.Choices[0].Message.Content
}

// NewCompletion wraps text as a single-choice completion.
func NewCompletion(text string) Completion {
	return Completion{Choices: []Choice{{Message: Message{Content: text}}}}
}

// BrowserData is what the automation backend collected. Price is set when
// an extraction step produced a numeric price.
type BrowserData struct {
	Navigation    []json.RawMessage `json:"navigation"`
	Searches      []json.RawMessage `json:"searches"`
	Actions       []json.RawMessage `json:"actions"`
	ExtractedData []json.RawMessage `json:"extractedData"`
	Price         *float64          `json:"price,omitempty"`
}

// BrowserResponse is the automation backend's reply to /execute.
type BrowserResponse struct {
	Success bool         `json:"success"`
	Data    *BrowserData `json:"data,omitempty"`
	Error   string       `json:"error,omitempty"`
	Logs    []string     `json:"logs,omitempty"`
}

type ResearchOutput struct {
	Query   string
	Content string
}

type SummaryOutput struct {
	Content      string
	RelatedTodos []string
}

// TaskResult is the result envelope of a dispatched todo. Exactly one of the
// variant fields is set, chosen by Type:
//
//	ACTION_SCOUT, SEARCH_AGENT, PLEX_AGENT -> Completion
//	RESEARCH_AGENT                         -> Research
//	BROWSER_AUTOMATION                     -> Browser
//	SUMMARY_AGENT                          -> Summary
type TaskResult struct {
	Type        AgentType
	Completion  *Completion
	Research    *ResearchOutput
	Browser     *BrowserResponse
	Summary     *SummaryOutput
	CompletedAt time.Time
}

type taskResultJSON struct {
	Type            AgentType       `json:"type"`
	Result          json.RawMessage `json:"result,omitempty"`
	ResearchQuery   string          `json:"researchQuery,omitempty"`
	ResearchContent string          `json:"researchContent,omitempty"`
	SummaryContent  string          `json:"summaryContent,omitempty"`
	RelatedTodos    []string        `json:"relatedTodos,omitempty"`
	CompletedAt     time.Time       `json:"completedAt"`
}

func (r TaskResult) MarshalJSON() ([]byte, error) {
	out := taskResultJSON{Type: r.Type, CompletedAt: r.CompletedAt}
	var err error
	switch r.Type {
	case ActionAgent, SearchAgent, PlexAgent:
		c := Completion{}
		if r.Completion != nil {
			c = *r.Completion
		}
		out.Result, err = json.Marshal(c)
	case BrowserAutomationAgent:
		b := BrowserResponse{}
		if r.Browser != nil {
			b = *r.Browser
		}
		out.Result, err = json.Marshal(b)
	case ResearchAgent:
		if r.Research != nil {
			out.ResearchQuery = r.Research.Query
			out.ResearchContent = r.Research.Content
		}
	case SummaryAgent:
		if r.Summary != nil {
			out.SummaryContent = r.Summary.Content
			out.RelatedTodos = r.Summary.RelatedTodos
		}
	default:
		return nil, errors.Wrapf(ErrUnknownResultType, "%q", r.Type)
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(out)
}

func (r *TaskResult) UnmarshalJSON(data []byte) error {
	var in taskResultJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	res := TaskResult{Type: in.Type, CompletedAt: in.CompletedAt}
	switch in.Type {
	case ActionAgent, SearchAgent, PlexAgent:
		var c Completion
		if len(in.Result) > 0 {
			if err := json.Unmarshal(in.Result, &c); err != nil {
				return errors.Wrap(err, "decode completion result")
			}
		}
		res.Completion = &c
	case BrowserAutomationAgent:
		var b BrowserResponse
		if len(in.Result) > 0 {
			if err := json.Unmarshal(in.Result, &b); err != nil {
				return errors.Wrap(err, "decode browser result")
			}
		}
		res.Browser = &b
	case ResearchAgent:
		res.Research = &ResearchOutput{Query: in.ResearchQuery, Content: in.ResearchContent}
	case SummaryAgent:
		res.Summary = &SummaryOutput{Content: in.SummaryContent, RelatedTodos: in.RelatedTodos}
	default:
		return errors.Wrapf(ErrUnknownResultType, "%q", in.Type)
	}
	*r = res
	return nil
}

// Text is the human-readable part of the result, used as summary input.
func (r TaskResult) Text() string {
	switch {
	case r.Completion != nil:
		return r.Completion.Text()
	case r.Research != nil:
		return r.Research.Content
	case r.Summary != nil:
		return r.Summary.Content
	case r.Browser != nil:
		b, err := json.Marshal(r.Browser)
		if err != nil {
			return ""
		}
		return string(b)
	}
	return ""
}

// Price returns the typed price reported by a browser automation result.
func (r TaskResult) Price() (float64, bool) {
	if r.Browser == nil || r.Browser.Data == nil || r.Browser.Data.Price == nil {
		return 0, false
	}
	return *r.Browser.Data.Price, true
}
