package registry

import (
	"context"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/solar-scheduler/internal/expr"
	"github.com/t77yq/solar-scheduler/internal/model"
)

// Emitter delivers firing messages to the message-routing layer.
type Emitter interface {
	Send(msg *model.Message) error
}

// PropertyEvaluator resolves payloads whose value lives outside the
// schedule itself (flow/global context, jsonata expressions). A nil
// evaluator degrades those payload types to their raw value.
type PropertyEvaluator interface {
	Evaluate(ctx context.Context, kind model.PayloadType, value any) (any, error)
}

// Environment is the shared configuration a registry and its tasks run
// against: one timezone, one default solar location, one emitter.
type Environment struct {
	Logger          *zap.Logger
	TimeZone        string
	Location        *time.Location
	Use24HourFormat bool

	DefaultLocation     string
	DefaultLocationType model.LocationType

	Emitter   Emitter
	Evaluator PropertyEvaluator

	// CustomPayloads maps a payload name to its value for schedules
	// with payloadType "custom".
	CustomPayloads map[string]any
}

func (e *Environment) logger() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}

// NamedLogger returns a child of the environment's logger, falling back
// to a nop logger when none is configured.
func (e *Environment) NamedLogger(name string) *zap.Logger {
	return e.logger().Named(name)
}

func (e *Environment) timeLocation() *time.Location {
	if e.Location != nil {
		return e.Location
	}
	return time.Local
}

// Defaults returns the expression-normalizer defaults derived from the
// environment.
func (e *Environment) Defaults() expr.Defaults {
	return expr.Defaults{
		Location:     e.DefaultLocation,
		LocationType: e.DefaultLocationType,
		TimeLocation: e.timeLocation(),
	}
}

// ResolveLocation picks the coordinate a solar option should use.
func (e *Environment) ResolveLocation(opt *model.Option) string {
	if opt.LocationType == model.LocationEnv {
		if loc := os.Getenv("SCHEDULER_LOCATION"); loc != "" {
			return loc
		}
		return e.DefaultLocation
	}
	if opt.Location != "" {
		return opt.Location
	}
	return e.DefaultLocation
}
