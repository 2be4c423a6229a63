package models

import (
	"fmt"
	"strings"
)

// TaskDescriptor is the queue payload for one todo execution.
type TaskDescriptor struct {
	TodoID                string                `json:"todoId"`
	Title                 string                `json:"title"`
	Description           string                `json:"description,omitempty"`
	AgentType             AgentType             `json:"agentType"`
	TaskType              TaskType              `json:"taskType"`
	UserID                string                `json:"userId"`
	ScoutID               string                `json:"scoutId"`
	Condition             *Condition            `json:"condition,omitempty"`
	GoTo                  StringList            `json:"goTo,omitempty"`
	Search                StringList            `json:"search,omitempty"`
	Actions               ActionList            `json:"actions,omitempty"`
	ResultData            *TaskResult           `json:"resultData,omitempty"`
	NotificationFrequency NotificationFrequency `json:"notificationFrequency,omitempty"`
}

// DescriptorError lists every problem found in a descriptor.
type DescriptorError struct {
	Problems []string
}

func (e *DescriptorError) Error() string {
	return fmt.Sprintf("invalid task descriptor: %s", strings.Join(e.Problems, "; "))
}

// Validate checks required fields and enum values. It returns a *DescriptorError.
// The agent type is only checked for presence; routing rejects unknown types.
func (d TaskDescriptor) Validate() error {
	var problems []string
	required := map[string]string{
		"todoId":  d.TodoID,
		"title":   d.Title,
		"userId":  d.UserID,
		"scoutId": d.ScoutID,
	}
	for _, name := range []string{"todoId", "title", "userId", "scoutId"} {
		if strings.TrimSpace(required[name]) == "" {
			problems = append(problems, name+" is required")
		}
	}
	if d.AgentType == "" {
		problems = append(problems, "agentType is required")
	}
	if d.TaskType == "" {
		problems = append(problems, "taskType is required")
	} else if !d.TaskType.Valid() {
		problems = append(problems, fmt.Sprintf("unknown taskType %q", d.TaskType))
	}
	if d.TaskType == ConditionalTask && d.Condition == nil {
		problems = append(problems, "condition is required for "+string(ConditionalTask))
	}
	for i, a := range d.Actions {
		if !a.Type.Valid() {
			problems = append(problems, fmt.Sprintf("actions[%d]: unknown type %q", i, a.Type))
		}
	}
	if d.NotificationFrequency != "" && !d.NotificationFrequency.Valid() {
		problems = append(problems, fmt.Sprintf("unknown notificationFrequency %q", d.NotificationFrequency))
	}
	if len(problems) > 0 {
		return &DescriptorError{Problems: problems}
	}
	return nil
}
