package model

import "time"

// Schedule is the denormalized projection of one schedule (or a paired
// start/end pair) maintained for UI display. The tracker mutates it on
// every start/run/stop of either half of a pair.
type Schedule struct {
	Name         string         `json:"name"`
	Topic        string         `json:"topic,omitempty"`
	Enabled      bool           `json:"enabled"`
	ScheduleType ExpressionType `json:"scheduleType,omitempty"`
	IsStatic     bool           `json:"isStatic,omitempty"`
	Description  string         `json:"description,omitempty"`

	StartCronExpression string `json:"startCronExpression,omitempty"`
	SolarEvent          string `json:"solarEvent,omitempty"`
	Offset              int    `json:"offset,omitempty"`

	PayloadValue any `json:"payloadValue,omitempty"`
	EndPayload   any `json:"endPayload,omitempty"`

	// Active-window tracking. HasEndTime marks an explicit end
	// schedule, HasDuration a computed end offset. DurationFixedTime
	// marks solar timespans whose other side is a fixed daily time.
	HasEndTime        bool    `json:"hasEndTime,omitempty"`
	HasDuration       bool    `json:"hasDuration,omitempty"`
	DurationFixedTime bool    `json:"durationFixedTime,omitempty"`
	Duration          float64 `json:"duration,omitempty"` // minutes

	// EndTime is the "HH:MM" close of an explicit end-time window; the
	// companion end task's cron expression is derived from it.
	EndTime string `json:"endTime,omitempty"`

	Active           *bool      `json:"active,omitempty"`
	CurrentStartTime *time.Time `json:"currentStartTime,omitempty"`

	NextDate        string     `json:"nextDate,omitempty"` // formatted in the configured zone
	NextDescription string     `json:"nextDescription,omitempty"`
	NextUTC         *time.Time `json:"nextUTC,omitempty"`

	NextEndDate        string     `json:"nextEndDate,omitempty"`
	NextEndDescription string     `json:"nextEndDescription,omitempty"`
	NextEndUTC         *time.Time `json:"nextEndUTC,omitempty"`

	// SolarEventStart is non-nil for solar timespans: true when the
	// solar event opens the window, false when it closes it.
	SolarEventStart *bool `json:"solarEventStart,omitempty"`
	// SolarEventTimespanTime is the fixed "HH:MM" side of a solar
	// timespan, when one side is not a solar event.
	SolarEventTimespanTime string `json:"solarEventTimespanTime,omitempty"`
}

// Export returns a copy stripped of the volatile next-occurrence and
// active-window fields, the form embedded in persisted snapshots.
func (s *Schedule) Export() *Schedule {
	cp := *s
	cp.Active = nil
	cp.CurrentStartTime = nil
	cp.NextDate = ""
	cp.NextDescription = ""
	cp.NextUTC = nil
	cp.NextEndDate = ""
	cp.NextEndDescription = ""
	cp.NextEndUTC = nil
	return &cp
}
