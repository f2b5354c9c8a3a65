package solar

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	// backwardScanDays bounds the search for each event's most recent
	// past occurrence.
	backwardScanDays = 3
	// forwardScanDays bounds the search for each event's next future
	// occurrence. Near the poles an event may not occur for months.
	forwardScanDays = 183
)

// ErrNoEvents is returned when no requested event resolves inside the
// scan bounds.
var ErrNoEvents = errors.New("no solar events resolved within scan bounds")

// EventTime is one concrete occurrence of a solar event. Time is the
// astronomical instant; TimeOffset has the caller's linear offset
// applied and is what scheduling compares against.
type EventTime struct {
	Event      Event     `json:"event"`
	Time       time.Time `json:"time"`
	TimeOffset time.Time `json:"timeOffset"`
}

// Times is the result of one ephemeris computation.
type Times struct {
	State               State       `json:"solarState"`
	NextEvent           Event       `json:"nextEvent"`
	NextEventTime       time.Time   `json:"nextEventTime"`
	NextEventTimeOffset time.Time   `json:"nextEventTimeOffset"`
	Events              []EventTime `json:"eventTimes"`
}

// Compute resolves, for each requested event, the nearest future
// occurrence relative to ref, and classifies the current solar state
// from the day's full event timeline. offsetMinutes shifts every
// instant linearly before comparison against ref. Unknown event names
// in events are ignored; an empty result is an error.
func Compute(lat, lon float64, events []Event, ref time.Time, offsetMinutes int) (*Times, error) {
	wanted := make(map[Event]bool, len(events))
	for _, e := range events {
		if IsPermitted(string(e)) {
			wanted[e] = true
		}
	}

	offset := time.Duration(offsetMinutes) * time.Minute
	dayStart := time.Date(ref.Year(), ref.Month(), ref.Day(), 0, 0, 0, 0, ref.Location())

	var timeline []EventTime

	// Scan backward for each event's most recent past occurrence.
	// Start one day ahead to catch events later in the scan day.
	pending := make(map[Event]bool, len(Events))
	for _, e := range Events {
		pending[e] = true
	}
	scan := dayStart.AddDate(0, 0, 1)
	for i := 0; i < backwardScanDays && len(pending) > 0; i++ {
		times := eventTimes(scan, lat, lon)
		for e := range pending {
			t, ok := times[e]
			if !ok {
				continue
			}
			shifted := t.Add(offset)
			if !shifted.After(ref) {
				timeline = append(timeline, EventTime{Event: e, Time: t, TimeOffset: shifted})
				delete(pending, e)
			}
		}
		scan = scan.AddDate(0, 0, -1)
	}

	// Scan forward for each event's nearest future occurrence. Start
	// one day behind to catch events earlier in the current day.
	for _, e := range Events {
		pending[e] = true
	}
	scan = dayStart.AddDate(0, 0, -1)
	for i := 0; i < forwardScanDays && len(pending) > 0; i++ {
		times := eventTimes(scan, lat, lon)
		for e := range pending {
			t, ok := times[e]
			if !ok {
				continue
			}
			shifted := t.Add(offset)
			if shifted.After(ref) {
				timeline = append(timeline, EventTime{Event: e, Time: t, TimeOffset: shifted})
				delete(pending, e)
			}
		}
		scan = scan.AddDate(0, 0, 1)
	}

	sort.Slice(timeline, func(i, j int) bool {
		return timeline[i].Time.Before(timeline[j].Time)
	})

	// Replay past events in temporal order to classify the current
	// phase. The walk uses unshifted instants: the offset moves firing
	// times, not the sun.
	var state State
	for _, et := range timeline {
		if !et.Time.Before(ref) {
			break
		}
		state.apply(et.Event)
	}
	state.finalize()

	var future []EventTime
	for _, et := range timeline {
		if et.TimeOffset.Before(ref) {
			continue
		}
		if wanted[et.Event] {
			future = append(future, et)
		}
	}
	if len(future) == 0 {
		return nil, fmt.Errorf("%w (lat=%.4f lon=%.4f)", ErrNoEvents, lat, lon)
	}

	sort.Slice(future, func(i, j int) bool {
		return future[i].TimeOffset.Before(future[j].TimeOffset)
	})

	return &Times{
		State:               state,
		NextEvent:           future[0].Event,
		NextEventTime:       future[0].Time,
		NextEventTimeOffset: future[0].TimeOffset,
		Events:              future,
	}, nil
}

// ParseLatLon parses a "lat,lon" coordinate pair in decimal degrees.
func ParseLatLon(s string) (lat, lon float64, err error) {
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid location '%s': expected \"lat,lon\"", s)
	}
	lat, err = strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid latitude '%s'", parts[0])
	}
	lon, err = strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid longitude '%s'", parts[1])
	}
	if lat < -90 || lat > 90 {
		return 0, 0, fmt.Errorf("latitude %.4f out of range", lat)
	}
	if lon < -180 || lon > 180 {
		return 0, 0, fmt.Errorf("longitude %.4f out of range", lon)
	}
	return lat, lon, nil
}
