package schedule

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrValidation is wrapped by every *ValidationError.
	ErrValidation = errors.New("invalid schedule")
	// ErrNotFound is returned when a schedule id does not exist.
	ErrNotFound = errors.New("schedule not found")
	// ErrRunInProgress is returned when an execution for the same schedule
	// is already underway.
	ErrRunInProgress = errors.New("schedule run already in progress")
	// ErrNotDue is returned to automatic triggers when the schedule was
	// deactivated or rescheduled after being picked up.
	ErrNotDue = errors.New("schedule is not due")
)

// ValidationError lists the offending fields of a rejected write.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s: %s", name, e.Fields[name]))
	}
	return fmt.Sprintf("%v: %s", ErrValidation, strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func (e *ValidationError) prefixed(prefix string) *ValidationError {
	fields := make(map[string]string, len(e.Fields))
	for name, msg := range e.Fields {
		fields[prefix+name] = msg
	}
	return &ValidationError{Fields: fields}
}

// GenerationError wraps a report renderer failure.
type GenerationError struct {
	Err error
}

func (e *GenerationError) Error() string { return fmt.Sprintf("report generation failed: %v", e.Err) }
func (e *GenerationError) Unwrap() error { return e.Err }

// DeliveryError wraps a mail delivery failure.
type DeliveryError struct {
	Err error
}

func (e *DeliveryError) Error() string { return fmt.Sprintf("report delivery failed: %v", e.Err) }
func (e *DeliveryError) Unwrap() error { return e.Err }

// SchedulerInternalError is raised while arming or disarming a timer. It is
// only ever logged; the pending sweep covers the affected schedule.
type SchedulerInternalError struct {
	ScheduleID uint
	Err        error
}

func (e *SchedulerInternalError) Error() string {
	return fmt.Sprintf("scheduler: schedule %d: %v", e.ScheduleID, e.Err)
}

func (e *SchedulerInternalError) Unwrap() error { return e.Err }
