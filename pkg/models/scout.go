package models

import "time"

type ScoutStatus string

const (
	InProgressScoutStatus ScoutStatus = "IN_PROGRESS"
	CompletedScoutStatus  ScoutStatus = "COMPLETED"
	FailedScoutStatus     ScoutStatus = "FAILED"
)

type NotificationFrequency string

const (
	EveryHourFrequency NotificationFrequency = "EVERY_HOUR"
	OnceADayFrequency  NotificationFrequency = "ONCE_A_DAY"
	OnceAWeekFrequency NotificationFrequency = "ONCE_A_WEEK"
	AIDecideFrequency  NotificationFrequency = "AI_DECIDE"
)

// Valid reports whether f is one of the known cadences.
func (f NotificationFrequency) Valid() bool {
	switch f {
	case EveryHourFrequency, OnceADayFrequency, OnceAWeekFrequency, AIDecideFrequency:
		return true
	}
	return false
}

// Interval is the time between two runs of a recurring todo for this cadence.
// AI_DECIDE and unknown values fall back to daily.
func (f NotificationFrequency) Interval() time.Duration {
	switch f {
	case EveryHourFrequency:
		return time.Hour
	case OnceAWeekFrequency:
		return 7 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// Scout is a monitoring campaign made of todos.
type Scout struct {
	ID                    string                `json:"id" db:"id"`
	UserID                string                `json:"userId" db:"user_id"`
	UserQuery             string                `json:"userQuery" db:"user_query"`
	NotificationFrequency NotificationFrequency `json:"notificationFrequency" db:"notification_frequency"`
	Status                ScoutStatus           `json:"status" db:"status"`
	CreatedAt             time.Time             `json:"createdAt" db:"created_at"`
	UpdatedAt             time.Time             `json:"updatedAt" db:"updated_at"`
}
