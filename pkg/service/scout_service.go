package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ignatij/goscout/pkg/events"
	"github.com/ignatij/goscout/pkg/models"
	"github.com/ignatij/goscout/pkg/storage"
	"github.com/pkg/errors"
)

// MaxQueryLength bounds the natural-language query of a scout.
const MaxQueryLength = 2000

type CreateScoutRequest struct {
	UserID                string                       `json:"userId"`
	UserQuery             string                       `json:"userQuery"`
	NotificationFrequency models.NotificationFrequency `json:"notificationFrequency"`
}

func (r CreateScoutRequest) validate() error {
	var problems []string
	if strings.TrimSpace(r.UserID) == "" {
		problems = append(problems, "userId is required")
	}
	q := strings.TrimSpace(r.UserQuery)
	if q == "" {
		problems = append(problems, "userQuery is required")
	} else if len(q) > MaxQueryLength {
		problems = append(problems, fmt.Sprintf("userQuery is longer than %d characters", MaxQueryLength))
	}
	if r.NotificationFrequency != "" && !r.NotificationFrequency.Valid() {
		problems = append(problems, fmt.Sprintf("unknown notificationFrequency %q", r.NotificationFrequency))
	}
	if len(problems) > 0 {
		return errors.Wrap(ErrValidation, strings.Join(problems, "; "))
	}
	return nil
}

// ScoutService is the entry point for creating scouts and reading their state.
type ScoutService struct {
	store     storage.Store
	generator *Generator
	hub       events.Publisher
	logger    Logger
	now       Clock
}

func NewScoutService(store storage.Store, generator *Generator, hub events.Publisher, logger Logger) *ScoutService {
	return &ScoutService{store: store, generator: generator, hub: hub, logger: logger, now: time.Now}
}

// CreateScout stores a new scout together with its generated todos in one
// transaction.
func (s *ScoutService) CreateScout(ctx context.Context, req CreateScoutRequest) (scout models.Scout, todos []models.Todo, err error) {
	if err = req.validate(); err != nil {
		return models.Scout{}, nil, err
	}
	if req.NotificationFrequency == "" {
		req.NotificationFrequency = models.AIDecideFrequency
	}
	now := s.now()
	scout = models.Scout{
		ID:                    uuid.NewString(),
		UserID:                req.UserID,
		UserQuery:             strings.TrimSpace(req.UserQuery),
		NotificationFrequency: req.NotificationFrequency,
		Status:                models.InProgressScoutStatus,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	todos, err = s.generator.Generate(ctx, scout)
	if err != nil {
		s.logger.Errorf("Failed to generate todos for scout %s: %v", scout.ID, err)
		return models.Scout{}, nil, err
	}

	if err = s.save(scout, todos, now); err != nil {
		return models.Scout{}, nil, err
	}

	s.logger.Infof("Created scout %s with %d todos", scout.ID, len(todos))
	if s.hub != nil {
		s.hub.Publish(scout.ID, buildEvent(events.InitialStatus, scout, todos, Rollup(statusesOf(todos), scout.Status), nil))
	}
	return scout, todos, nil
}

// save writes the scout, its todos and the creation log in one transaction.
func (s *ScoutService) save(scout models.Scout, todos []models.Todo, now time.Time) (err error) {
	txStore, err := s.store.Begin()
	if err != nil {
		s.logger.Errorf("Failed to begin transaction for CreateScout: %v", err)
		return persistenceError(err, "begin transaction")
	}
	defer func() {
		if err != nil {
			if rollbackErr := txStore.Rollback(); rollbackErr != nil {
				s.logger.Errorf("Failed to rollback: %v", rollbackErr)
			}
			return
		}
		if commitErr := txStore.Commit(); commitErr != nil {
			s.logger.Errorf("Failed to commit: %v", commitErr)
			err = persistenceError(commitErr, "commit scout %s", scout.ID)
		}
	}()

	if err = txStore.SaveScout(scout); err != nil {
		return persistenceError(err, "save scout")
	}
	for _, t := range todos {
		if err = txStore.SaveTodo(t); err != nil {
			return persistenceError(err, "save todo %q", t.Title)
		}
	}
	if err = txStore.AppendLog(models.LogEntry{
		ID:        uuid.NewString(),
		ScoutID:   scout.ID,
		Message:   fmt.Sprintf("Scout created with %d todos", len(todos)),
		CreatedAt: now,
	}); err != nil {
		return persistenceError(err, "write creation log")
	}
	return nil
}

func (s *ScoutService) ListScouts(ctx context.Context) ([]models.Scout, error) {
	return s.store.ListScouts()
}

func (s *ScoutService) GetScout(ctx context.Context, id string) (models.Scout, error) {
	return s.store.GetScout(id)
}

// Snapshot is the initial_status event sent when a client starts following a scout.
func (s *ScoutService) Snapshot(ctx context.Context, scoutID string) (events.Event, error) {
	scout, err := s.store.GetScout(scoutID)
	if err != nil {
		return events.Event{}, err
	}
	todos, err := s.store.ListTodos(scoutID)
	if err != nil {
		return events.Event{}, errors.Wrapf(err, "load todos of scout %s", scoutID)
	}
	logs, err := s.store.ListLogs(scoutID, RecentLogLimit)
	if err != nil {
		s.logger.Errorf("Failed to load recent logs of scout %s: %v", scoutID, err)
	}
	return buildEvent(events.InitialStatus, scout, todos, Rollup(statusesOf(todos), scout.Status), logs), nil
}
