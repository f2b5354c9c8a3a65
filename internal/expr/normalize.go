package expr

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/t77yq/solar-scheduler/internal/model"
	"github.com/t77yq/solar-scheduler/internal/solar"
)

// DefaultCronExpression fires every minute.
const DefaultCronExpression = "0 * * * * *"

// cronParser accepts 5 or 6 field expressions plus @descriptors, the
// same grammar the registry schedules with.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ValidateCron reports whether the expression parses as cron.
func ValidateCron(expression string) bool {
	_, err := cronParser.Parse(expression)
	return err == nil
}

// ParseCron parses a cron expression, evaluating it in the given
// timezone when one is set.
func ParseCron(expression, timeZone string) (cron.Schedule, error) {
	if timeZone != "" && !strings.HasPrefix(expression, "TZ=") && !strings.HasPrefix(expression, "CRON_TZ=") {
		expression = "CRON_TZ=" + timeZone + " " + expression
	}
	sched, err := cronParser.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("parse cron expression: %w", err)
	}
	return sched, nil
}

// Defaults supplies the configured fallback location for solar options
// that do not carry their own.
type Defaults struct {
	Location     string
	LocationType model.LocationType
	TimeLocation *time.Location
}

func (d Defaults) timeLocation() *time.Location {
	if d.TimeLocation != nil {
		return d.TimeLocation
	}
	return time.Local
}

// ApplyDefaults fills in the missing fields of an option in place:
// derives the expression type from the expression's shape when absent,
// migrates legacy sunrise/sunset type markers to their solar
// equivalents, and defaults name, topic, payload type, cron expression
// and the solar fields. index numbers the option within its batch and
// seeds the default name.
func ApplyDefaults(opt *model.Option, index int, def Defaults) {
	if opt == nil {
		return
	}
	switch opt.ExpressionType {
	case "":
		if IsDateSequence(opt.Expression, def.timeLocation()) {
			opt.ExpressionType = model.ExpressionDates
		} else {
			opt.ExpressionType = model.ExpressionCron
		}
	case model.ExpressionCron, model.ExpressionDates, model.ExpressionSolar:
	case "sunrise":
		if opt.SolarEvents == "" {
			opt.SolarEvents = "sunrise"
		}
		opt.ExpressionType = model.ExpressionSolar
	case "sunset":
		if opt.SolarEvents == "" {
			opt.SolarEvents = "sunset"
		}
		opt.ExpressionType = model.ExpressionSolar
	default:
		opt.ExpressionType = model.ExpressionCron
	}

	if opt.Name == "" {
		opt.Name = fmt.Sprintf("schedule%d", index+1)
	}
	if opt.Topic == "" {
		opt.Topic = opt.Name
	}
	if opt.PayloadType == "" {
		opt.PayloadType = opt.LegacyType
	}
	if opt.PayloadType == "" {
		if s, ok := opt.Payload.(string); ok && s != "" {
			opt.PayloadType = model.PayloadString
		}
	}
	if opt.PayloadType == "" {
		opt.PayloadType = model.PayloadDefault
	}
	opt.LegacyType = ""

	if opt.ExpressionType == model.ExpressionCron && opt.Expression == "" {
		opt.Expression = DefaultCronExpression
	}
	if opt.ExpressionType == model.ExpressionSolar {
		if opt.SolarType == "" {
			if opt.SolarEvents != "" {
				opt.SolarType = model.SolarSelected
			} else {
				opt.SolarType = model.SolarAll
			}
		}
		if opt.SolarEvents == "" {
			opt.SolarEvents = "sunrise,sunset"
		}
		if opt.Location == "" {
			opt.Location = def.Location
		}
		if def.LocationType != "" {
			opt.LocationType = def.LocationType
		} else if opt.LocationType == "" {
			opt.LocationType = model.LocationFixed
		}
	}
}

// Validate checks an option and returns a descriptive error on the
// first violation. It also settles the cron-versus-dates ambiguity:
// an expression that validates as cron is marked cron, otherwise a
// parseable date sequence is marked dates. This is the single gate run
// before any task is constructed or replaced.
func Validate(opt *model.Option, permitDefaults bool, def Defaults) error {
	if opt == nil {
		return &ValidationError{Reason: "Schedule options are undefined"}
	}
	if opt.Name == "" {
		return &ValidationError{Reason: "Schedule name property missing"}
	}
	switch opt.ExpressionType {
	case "", model.ExpressionCron, model.ExpressionDates:
		if opt.Expression == "" {
			return validationErr(opt.Name, "expression", "expression property missing")
		}
		if ValidateCron(opt.Expression) {
			opt.ExpressionType = model.ExpressionCron
		} else if IsDateSequence(opt.Expression, def.timeLocation()) {
			opt.ExpressionType = model.ExpressionDates
		} else {
			return validationErr(opt.Name, "expression",
				"expression '%s' must be either a cron expression, a date, an array of dates or a CSV of dates", opt.Expression)
		}
	case model.ExpressionSolar:
		if opt.LocationType != model.LocationFixed && opt.LocationType != model.LocationEnv {
			if opt.Location == "" {
				return validationErr(opt.Name, "location", "location property missing")
			}
		}
		if opt.SolarType != model.SolarSelected && opt.SolarType != model.SolarAll {
			return validationErr(opt.Name, "solarType",
				`solarType property invalid or missing. Must be either "all" or "selected"`)
		}
		if opt.SolarType == model.SolarSelected {
			if opt.SolarEvents == "" {
				return validationErr(opt.Name, "solarEvents", "solarEvents property missing")
			}
			events := strings.Split(opt.SolarEvents, ",")
			if len(events) == 0 {
				return validationErr(opt.Name, "solarEvents", "solarEvents property is empty")
			}
			for _, ev := range events {
				ev = strings.TrimSpace(ev)
				if !solar.IsPermitted(ev) {
					return validationErr(opt.Name, "solarEvents", "solarEvents entry '%s' is invalid", ev)
				}
			}
		}
	default:
		return validationErr(opt.Name, "expressionType",
			"invalid schedule type '%s'. Expected expressionType to be 'cron', 'dates' or 'solar'", opt.ExpressionType)
	}

	if permitDefaults && (opt.Payload == nil || opt.Payload == "") {
		switch opt.PayloadType {
		case model.PayloadNumber:
			opt.Payload = 0
		case model.PayloadString:
			opt.Payload = ""
		case model.PayloadBool:
			opt.Payload = false
		}
	}
	if !opt.PayloadType.Valid() {
		names := make([]string, len(model.PayloadTypes))
		for i, t := range model.PayloadTypes {
			names[i] = string(t)
		}
		return validationErr(opt.Name, "payloadType",
			"type property '%s' is not valid. Must be one of the following... %s", opt.PayloadType, strings.Join(names, ","))
	}
	return nil
}
