package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ignatij/goscout/pkg/backend"
	"github.com/ignatij/goscout/pkg/models"
	"github.com/pkg/errors"
)

// MinGeneratedTasks is the fewest valid todos a generated plan may contain.
const MinGeneratedTasks = 3

type generatedTask struct {
	Title       string            `json:"title"`
	Description string            `json:"description"`
	AgentType   models.AgentType  `json:"agentType"`
	TaskType    models.TaskType   `json:"taskType"`
	Condition   *models.Condition `json:"condition"`
	GoTo        []string          `json:"goTo"`
	Search      []string          `json:"search"`
	Actions     []models.Action   `json:"actions"`
}

type generatedPlan struct {
	Tasks []generatedTask `json:"tasks"`
}

func (t generatedTask) validate() error {
	switch {
	case strings.TrimSpace(t.Title) == "":
		return errors.New("missing title")
	case !t.AgentType.Valid():
		return errors.Errorf("unknown agentType %q", t.AgentType)
	case !t.TaskType.Valid():
		return errors.Errorf("unknown taskType %q", t.TaskType)
	case t.TaskType == models.ConditionalTask && (t.Condition == nil || !t.Condition.Type.Valid()):
		return errors.New("conditional task without a known condition")
	}
	for _, a := range t.Actions {
		if !a.Type.Valid() {
			return errors.Errorf("unknown action type %q", a.Type)
		}
	}
	return nil
}

// Generator turns a scout query into its initial todos.
type Generator struct {
	ai     Completer
	cfg    AgentConfig
	logger Logger
	now    Clock
}

func NewGenerator(ai Completer, cfg AgentConfig, logger Logger) *Generator {
	return &Generator{ai: ai, cfg: cfg.withDefaults(), logger: logger, now: time.Now}
}

// Generate asks the AI backend for a JSON plan. Output that is not a JSON
// plan yields the default todos; a plan with fewer than MinGeneratedTasks
// valid todos is an ErrParse failure.
func (g *Generator) Generate(ctx context.Context, scout models.Scout) ([]models.Todo, error) {
	c, err := g.ai.Complete(ctx, backend.CompletionRequest{
		Provider:       g.cfg.DefaultModel.Provider,
		ModelID:        g.cfg.DefaultModel.Model,
		Prompt:         fmt.Sprintf("User query: %s\nNotification frequency: %s", scout.UserQuery, scout.NotificationFrequency),
		SystemPrompt:   g.cfg.Prompts.TodoMaker,
		ResponseFormat: backend.ResponseFormatJSON,
	})
	if err != nil {
		return nil, errors.Wrap(err, "generate todos")
	}

	var plan generatedPlan
	if err := json.Unmarshal([]byte(strings.TrimSpace(c.Text())), &plan); err != nil || plan.Tasks == nil {
		g.logger.Infof("Todo plan for scout %s was not valid JSON, using default todos: %v", scout.ID, err)
		return g.build(scout, defaultTasks(scout.UserQuery)), nil
	}

	var valid []generatedTask
	for i, t := range plan.Tasks {
		if err := t.validate(); err != nil {
			g.logger.Infof("Dropping generated todo %d for scout %s: %v", i, scout.ID, err)
			continue
		}
		valid = append(valid, t)
	}
	if len(valid) < MinGeneratedTasks {
		return nil, errors.Wrapf(ErrParse, "insufficient sub-tasks: %d valid of %d, need %d", len(valid), len(plan.Tasks), MinGeneratedTasks)
	}
	return g.build(scout, valid), nil
}

func (g *Generator) build(scout models.Scout, tasks []generatedTask) []models.Todo {
	now := g.now()
	todos := make([]models.Todo, len(tasks))
	for i, t := range tasks {
		todos[i] = models.Todo{
			ID:          uuid.NewString(),
			ScoutID:     scout.ID,
			UserID:      scout.UserID,
			Title:       strings.TrimSpace(t.Title),
			Description: strings.TrimSpace(t.Description),
			AgentType:   t.AgentType,
			TaskType:    t.TaskType,
			Status:      models.PendingTodoStatus,
			Condition:   t.Condition,
			GoTo:        models.StringList(t.GoTo),
			Search:      models.StringList(t.Search),
			Actions:     models.ActionList(t.Actions),
			MaxRetries:  models.DefaultMaxRetries,
			// keep generation order stable when sorting by creation time
			CreatedAt: now.Add(time.Duration(i) * time.Microsecond),
		}
	}
	return todos
}

// defaultTasks is the plan used when the AI output cannot be parsed.
func defaultTasks(query string) []generatedTask {
	return []generatedTask{
		{
			Title:       "Research: " + query,
			Description: "Collect baseline information about " + query,
			AgentType:   models.ResearchAgent,
			TaskType:    models.SingleRunTask,
		},
		{
			Title:       "Search for updates on " + query,
			Description: "Search the web for the latest information about " + query,
			AgentType:   models.SearchAgent,
			TaskType:    models.RecurringTask,
			Search:      []string{query},
		},
		{
			Title:       "Notify on new findings for " + query,
			Description: "Report new information about " + query + " when fresh results arrive",
			AgentType:   models.ActionAgent,
			TaskType:    models.ConditionalTask,
			Condition:   &models.Condition{Type: models.DataChangeCondition},
		},
		{
			Title:       "Analyze findings for " + query,
			Description: "Analyze the collected results and highlight trends for " + query,
			AgentType:   models.SummaryAgent,
			TaskType:    models.AnalysisTask,
		},
		{
			Title:       "Recover failed searches for " + query,
			Description: "Try alternative sources for " + query + " when a task fails",
			AgentType:   models.PlexAgent,
			TaskType:    models.FailureRecoveryTask,
		},
	}
}
