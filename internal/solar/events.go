package solar

import (
	"fmt"
	"strings"
)

// Event names a solar instant for a given location and date.
type Event string

const (
	NightEnd               Event = "nightEnd"
	NauticalDawn           Event = "nauticalDawn"
	CivilDawn              Event = "civilDawn"
	Sunrise                Event = "sunrise"
	SunriseEnd             Event = "sunriseEnd"
	MorningGoldenHourEnd   Event = "morningGoldenHourEnd"
	SolarNoon              Event = "solarNoon"
	EveningGoldenHourStart Event = "eveningGoldenHourStart"
	SunsetStart            Event = "sunsetStart"
	Sunset                 Event = "sunset"
	CivilDusk              Event = "civilDusk"
	NauticalDusk           Event = "nauticalDusk"
	NightStart             Event = "nightStart"
	Nadir                  Event = "nadir"
)

// Events lists every permitted solar event in canonical order.
var Events = []Event{
	NightEnd,
	NauticalDawn,
	CivilDawn,
	Sunrise,
	SunriseEnd,
	MorningGoldenHourEnd,
	SolarNoon,
	EveningGoldenHourStart,
	SunsetStart,
	Sunset,
	CivilDusk,
	NauticalDusk,
	NightStart,
	Nadir,
}

var eventTitles = map[Event]string{
	NightEnd:               "Night End",
	NauticalDawn:           "Nautical Dawn",
	CivilDawn:              "Civil Dawn",
	Sunrise:                "Sunrise",
	SunriseEnd:             "Sunrise End",
	MorningGoldenHourEnd:   "Morning Golden Hour End",
	SolarNoon:              "Solar Noon",
	EveningGoldenHourStart: "Evening Golden Hour Start",
	SunsetStart:            "Sunset Start",
	Sunset:                 "Sunset",
	CivilDusk:              "Civil Dusk",
	NauticalDusk:           "Nautical Dusk",
	NightStart:             "Night Start",
	Nadir:                  "Nadir",
}

// IsPermitted reports whether name is one of the permitted solar events.
func IsPermitted(name string) bool {
	_, ok := eventTitles[Event(name)]
	return ok
}

// Title returns the display title for an event, or the raw name when
// the event is unknown.
func Title(e Event) string {
	if t, ok := eventTitles[e]; ok {
		return t
	}
	return string(e)
}

// EventsCSV returns all permitted events joined as a CSV, the form the
// "all" solar type expands to.
func EventsCSV() string {
	names := make([]string, len(Events))
	for i, e := range Events {
		names[i] = string(e)
	}
	return strings.Join(names, ",")
}

// ParseEvents splits a CSV of event names, rejecting unknown entries.
func ParseEvents(csv string) ([]Event, error) {
	parts := strings.Split(csv, ",")
	events := make([]Event, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if !IsPermitted(p) {
			return nil, fmt.Errorf("solar event '%s' is invalid", p)
		}
		events = append(events, Event(p))
	}
	return events, nil
}
