package task

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound         = errors.New("task not found")
	ErrConflict         = errors.New("task was modified concurrently")
	ErrEmptyReason      = errors.New("rejection reason is required")
	ErrInvalidPlan      = errors.New("invalid plan")
	ErrEvidenceNotFound = errors.New("evidence is not attached to task")
)

// TransitionError is returned when a command is not allowed from the
// task's current stage.
type TransitionError struct {
	Op       string
	SKU      string
	Expected []Stage
	Actual   Stage
}

func (e *TransitionError) Error() string {
	names := make([]string, len(e.Expected))
	for i, s := range e.Expected {
		names[i] = s.String()
	}
	return fmt.Sprintf("cannot %s task %s: expected %s, got %s",
		e.Op, e.SKU, strings.Join(names, " or "), e.Actual)
}

// IsValidation reports whether err is a caller mistake that changed nothing.
func IsValidation(err error) bool {
	var te *TransitionError
	if errors.As(err, &te) {
		return true
	}
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrEmptyReason) ||
		errors.Is(err, ErrInvalidPlan) ||
		errors.Is(err, ErrEvidenceNotFound)
}
