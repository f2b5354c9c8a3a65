package registry

import "errors"

var (
	// ErrScheduleNotFound is returned when no task exists under the
	// requested name.
	ErrScheduleNotFound = errors.New("schedule not found")

	// ErrNoFutureOccurrence is returned when a date sequence holds no
	// instant after now.
	ErrNoFutureOccurrence = errors.New("no future occurrence")

	// ErrRegistryClosed is returned once the registry has been shut down.
	ErrRegistryClosed = errors.New("registry closed")
)
