package expr

import "fmt"

// ValidationError reports a rejected schedule option. The message names
// the offending schedule and field so it can be surfaced verbatim on a
// status channel.
type ValidationError struct {
	Schedule string
	Field    string
	Reason   string
}

func (e *ValidationError) Error() string {
	if e.Schedule == "" {
		return e.Reason
	}
	return fmt.Sprintf("Schedule '%s' - %s", e.Schedule, e.Reason)
}

func validationErr(schedule, field, format string, args ...any) error {
	return &ValidationError{
		Schedule: schedule,
		Field:    field,
		Reason:   fmt.Sprintf(format, args...),
	}
}
