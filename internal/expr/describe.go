package expr

import (
	"fmt"
	"strings"
	"time"

	"github.com/hako/durafmt"
	crondesc "github.com/lnquy/cron"
	"github.com/robfig/cron/v3"

	"github.com/t77yq/solar-scheduler/internal/model"
	"github.com/t77yq/solar-scheduler/internal/solar"
)

// nextDateTimeout bounds a single cron next-date computation. Some
// field combinations never match and the engine would otherwise spin.
const nextDateTimeout = 3 * time.Second

const maxNextDates = 5

// Request carries everything needed to describe one expression.
type Request struct {
	Expression     string
	ExpressionType model.ExpressionType
	TimeZone       string
	Offset         int
	SolarType      model.SolarType
	SolarEvents    string

	// Time is the reference instant; zero means now. It is captured
	// once and every comparison in the call uses it.
	Time time.Time

	LocationType            model.LocationType
	DefaultLocation         string
	DefaultLocationType     model.LocationType
	IncludeSolarStateOffset bool
	Use24HourFormat         bool
}

// Description is the result of describing an expression.
type Description struct {
	Valid       bool        `json:"valid"`
	Description string      `json:"description"`
	NextDate    *time.Time  `json:"nextDate,omitempty"`
	NextDates   []time.Time `json:"nextDates,omitempty"`
	PrettyNext  string      `json:"prettyNext"`

	SolarState       *solar.State      `json:"solarState,omitempty"`
	SolarStateOffset *solar.State      `json:"solarStateOffset,omitempty"`
	SolarTimes       []solar.EventTime `json:"eventTimes,omitempty"`
	NextEvent        string            `json:"nextEvent,omitempty"`

	Offset    int       `json:"offset,omitempty"`
	Now       time.Time `json:"now"`
	NowOffset time.Time `json:"nowOffset,omitempty"`
}

// Describe produces the human description, next occurrence and next
// occurrence list for a cron, date-sequence or solar expression.
// Invalid input yields {Valid: false, Description: "Invalid expression"}
// rather than an error.
func Describe(req Request, def Defaults) *Description {
	now := req.Time
	if now.IsZero() {
		now = time.Now()
	}
	loc := def.timeLocation()
	if req.TimeZone != "" {
		if l, err := time.LoadLocation(req.TimeZone); err == nil {
			loc = l
		}
	}

	result := &Description{PrettyNext: "Never", Now: now}

	solarEvents := req.SolarEvents
	if req.SolarType == model.SolarAll {
		solarEvents = solar.EventsCSV()
	}

	var dates []time.Time
	dsOK := false
	exOK := false

	switch req.ExpressionType {
	case model.ExpressionSolar:
		locationType := req.LocationType
		if locationType == "" {
			locationType = req.DefaultLocationType
		}
		opt := &model.Option{
			Name:           "dummy",
			ExpressionType: model.ExpressionSolar,
			Location:       req.Expression,
			LocationType:   locationType,
			SolarType:      req.SolarType,
			SolarEvents:    solarEvents,
			Offset:         req.Offset,
			PayloadType:    model.PayloadDefault,
		}
		if opt.Location == "" {
			opt.Location = req.DefaultLocation
		}
		if err := Validate(opt, true, def); err != nil {
			result.Description = "Invalid expression"
			return result
		}
		lat, lon, err := solar.ParseLatLon(opt.Location)
		if err != nil {
			result.Description = "Invalid expression"
			return result
		}
		events, err := solar.ParseEvents(solarEvents)
		if err != nil {
			result.Description = "Invalid expression"
			return result
		}
		times, err := solar.Compute(lat, lon, events, now, req.Offset)
		if err != nil {
			result.Description = "Invalid expression"
			return result
		}
		state := times.State
		result.SolarState = &state
		result.SolarTimes = times.Events
		result.NextEvent = solar.Title(times.NextEvent)
		result.Offset = req.Offset
		result.NowOffset = now.Add(-time.Duration(req.Offset) * time.Minute)
		if req.IncludeSolarStateOffset && req.Offset != 0 {
			if shifted, err := solar.Compute(lat, lon, events, result.NowOffset, 0); err == nil {
				off := shifted.State
				result.SolarStateOffset = &off
			}
		}
		for _, et := range times.Events {
			dates = append(dates, et.TimeOffset)
		}
		dsOK = len(dates) > 0
		result.Valid = dsOK

	case model.ExpressionCron, "":
		exOK = ValidateCron(req.Expression)
		result.Valid = exOK
	default:
		dates, dsOK = ParseDateSequence(req.Expression, loc)
		result.Valid = dsOK
	}

	if !exOK && !dsOK {
		result.Description = "Invalid expression"
		result.Valid = false
		return result
	}

	if dsOK {
		future := FutureDates(dates, now)
		result.Description = "Date sequence with fixed dates"
		if len(future) > 0 {
			next := future[0]
			result.NextDate = &next
			result.PrettyNext = prettyNext(next.Sub(now))
			if result.NextEvent != "" {
				result.PrettyNext = result.NextEvent + " " + result.PrettyNext
			}
			if req.ExpressionType == model.ExpressionSolar {
				if req.SolarType == model.SolarAll {
					result.Description = "All Solar Events"
				} else {
					result.Description = "Solar Events: '" + strings.Join(strings.Split(solarEvents, ","), ", ") + "'"
				}
			} else {
				if len(future) == 1 {
					result.Description = "One time at " + FormatInZone(next, req.TimeZone, req.Use24HourFormat)
				} else {
					result.Description = fmt.Sprintf("%d Date Sequences starting at %s",
						len(future), FormatInZone(next, req.TimeZone, req.Use24HourFormat))
				}
				if len(future) > maxNextDates {
					future = future[:maxNextDates]
				}
				result.NextDates = future
			}
		}
	}

	if exOK {
		sched, err := ParseCron(req.Expression, req.TimeZone)
		if err != nil {
			result.Description = "Invalid expression"
			result.Valid = false
			return result
		}
		next, ok := NextWithTimeout(sched, now, nextDateTimeout)
		if !ok {
			result.Description = "Invalid expression"
			result.Valid = false
			return result
		}
		result.NextDate = &next
		result.PrettyNext = prettyNext(next.Sub(now))
		result.NextDates = nextNDates(sched, now, maxNextDates)
		result.Description = HumanizeCron(req.Expression, req.Use24HourFormat)
	}
	return result
}

// NextWithTimeout computes a schedule's next activation after ref,
// abandoning the computation after the timeout. ok is false when the
// schedule never fires again or the computation timed out.
func NextWithTimeout(sched cron.Schedule, ref time.Time, timeout time.Duration) (time.Time, bool) {
	done := make(chan time.Time, 1)
	go func() {
		done <- sched.Next(ref)
	}()
	select {
	case next := <-done:
		return next, !next.IsZero()
	case <-time.After(timeout):
		return time.Time{}, false
	}
}

func nextNDates(sched cron.Schedule, ref time.Time, n int) []time.Time {
	out := make([]time.Time, 0, n)
	t := ref
	for i := 0; i < n; i++ {
		next, ok := NextWithTimeout(sched, t, nextDateTimeout)
		if !ok {
			break
		}
		out = append(out, next)
		t = next
	}
	return out
}

// HumanizeCron renders a cron expression as English text.
func HumanizeCron(expression string, use24HourFormat bool) string {
	d, err := crondesc.NewDescriptor(crondesc.Use24HourTimeFormat(use24HourFormat))
	if err != nil {
		return fmt.Sprintf("Cannot parse expression '%s'", expression)
	}
	desc, err := d.ToDescription(expression, crondesc.Locale_en)
	if err != nil {
		return fmt.Sprintf("Cannot parse expression '%s'", expression)
	}
	return desc
}

func prettyNext(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return "in " + durafmt.Parse(d.Round(time.Second)).LimitFirstN(2).String()
}

// FormatInZone formats an instant in the given timezone for display.
// An unresolvable timezone yields a sentinel string instead of an error.
func FormatInZone(t time.Time, timeZone string, use24HourFormat bool) string {
	if t.IsZero() {
		return ""
	}
	loc := time.Local
	if timeZone != "" {
		l, err := time.LoadLocation(timeZone)
		if err != nil {
			return "Error. Check timezone setting"
		}
		loc = l
	}
	if use24HourFormat {
		return t.In(loc).Format("Jan 02, 2006 15:04:05 MST")
	}
	return t.In(loc).Format("Jan 02, 2006 03:04:05 PM MST")
}
