package service

import (
	"context"

	"github.com/ignatij/goscout/pkg/backend"
	"github.com/ignatij/goscout/pkg/models"
	"github.com/pkg/errors"
)

var (
	// ErrValidation marks malformed input. Never retried.
	ErrValidation = errors.New("validation error")
	// ErrBackendUnavailable marks network, status or payload failures of a backend. Retried.
	ErrBackendUnavailable = backend.ErrUnavailable
	// ErrUnknownAgentType fails a todo immediately. Never retried.
	ErrUnknownAgentType = errors.New("unknown agent type")
	// ErrParse marks AI output without the expected structure.
	ErrParse = errors.New("parse error")
	// ErrPersistence marks a failed storage write.
	ErrPersistence = errors.New("persistence error")
	// ErrAlreadySummarized is returned when the summary being generated already exists.
	ErrAlreadySummarized = errors.New("summary already exists")
)

// IsValidation reports whether err is a validation failure, including
// descriptor errors raised by the queue.
func IsValidation(err error) bool {
	var descErr *models.DescriptorError
	return errors.Is(err, ErrValidation) || errors.As(err, &descErr)
}

// IsRetryable reports whether the queue should attempt a failed job again.
func IsRetryable(err error) bool {
	return err != nil && !IsValidation(err) && !errors.Is(err, ErrUnknownAgentType)
}

// ErrorClass is the short error category recorded in performance logs.
func ErrorClass(err error) string {
	switch {
	case err == nil:
		return ""
	case IsValidation(err):
		return "validation"
	case errors.Is(err, ErrUnknownAgentType):
		return "unknown_agent_type"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, ErrBackendUnavailable):
		return "backend_unavailable"
	case errors.Is(err, ErrParse):
		return "parse"
	case errors.Is(err, ErrPersistence):
		return "persistence"
	}
	return "internal"
}

func persistenceError(err error, format string, args ...interface{}) error {
	return errors.Wrapf(ErrPersistence, format+": %v", append(args, err)...)
}
