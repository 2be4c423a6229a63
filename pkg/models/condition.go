package models

type ConditionType string

const (
	PriceThresholdCondition ConditionType = "price_threshold"
	DataChangeCondition     ConditionType = "data_change"
	TimeBasedCondition      ConditionType = "time_based"
	FailureCountCondition   ConditionType = "failure_count"
)

func (c ConditionType) Valid() bool {
	switch c {
	case PriceThresholdCondition, DataChangeCondition, TimeBasedCondition, FailureCountCondition:
		return true
	}
	return false
}

const (
	LessThan    = "less_than"
	GreaterThan = "greater_than"
)

// ConditionParams holds the parameters used by the supported condition kinds.
// Fields that don't apply to a kind are left empty.
type ConditionParams struct {
	Threshold     *float64 `json:"threshold,omitempty"`
	Comparison    string   `json:"comparison,omitempty"`
	ScheduledTime string   `json:"scheduledTime,omitempty"` // RFC3339
	MaxFailures   int      `json:"maxFailures,omitempty"`
}

// Condition gates a RUN_ON_CONDITION todo.
type Condition struct {
	Type       ConditionType   `json:"type"`
	Parameters ConditionParams `json:"parameters"`
}
