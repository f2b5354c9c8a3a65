package model

import (
	"time"

	"github.com/t77yq/solar-scheduler/internal/solar"
)

// TaskKind distinguishes configuration-defined tasks from runtime-added ones.
type TaskKind string

const (
	TaskStatic  TaskKind = "static"
	TaskDynamic TaskKind = "dynamic"
)

// TaskStatus is the status query result for one task.
type TaskStatus struct {
	Type            TaskKind   `json:"type"`
	Modified        bool       `json:"modified"`
	IsRunning       bool       `json:"isRunning"`
	Count           int        `json:"count"`
	Limit           int        `json:"limit"`
	NextDescription string     `json:"nextDescription,omitempty"`
	NextDate        *time.Time `json:"nextDate,omitempty"`
	NextDateTZ      string     `json:"nextDateTZ,omitempty"`
	NextDates       []string   `json:"nextDates,omitempty"`
	TimeZone        string     `json:"timeZone"`
	ServerTime      time.Time  `json:"serverTime"`
	ServerTimeZone  string     `json:"serverTimeZone"`
	Description     string     `json:"description,omitempty"`

	SolarState       *solar.State      `json:"solarState,omitempty"`
	SolarStateOffset *solar.State      `json:"solarStateOffset,omitempty"`
	SolarTimes       []solar.EventTime `json:"solarTimes,omitempty"`
	SolarEvent       string            `json:"solarEvent,omitempty"`
}

// ExportedTask is the serializable snapshot of one task, used both for
// the export command and the persisted state. Round-trips through a
// restore: name, count, isRunning and the expression fields survive.
type ExportedTask struct {
	Topic          string         `json:"topic"`
	Name           string         `json:"name"`
	PayloadType    PayloadType    `json:"payloadType"`
	Payload        any            `json:"payload,omitempty"`
	Limit          int            `json:"limit,omitempty"`
	ExpressionType ExpressionType `json:"expressionType"`
	Expression     string         `json:"expression,omitempty"`

	Location    string    `json:"location,omitempty"`
	SolarType   SolarType `json:"solarType,omitempty"`
	SolarEvents string    `json:"solarEvents,omitempty"`
	Offset      int       `json:"offset,omitempty"`

	Schedule              *Schedule `json:"schedule,omitempty"`
	EndSchedule           bool      `json:"endSchedule,omitempty"`
	ScheduleName          string    `json:"scheduleName,omitempty"`
	SolarTimespanSchedule bool      `json:"solarTimespanSchedule,omitempty"`
	SolarEventStart       *bool     `json:"solarEventStart,omitempty"`

	// Status fields, present when the export includes runtime state.
	IsDynamic bool `json:"isDynamic,omitempty"`
	Modified  bool `json:"modified,omitempty"`
	IsRunning bool `json:"isRunning,omitempty"`
	Count     int  `json:"count,omitempty"`
}

// Option rebuilds a schedule Option from an exported snapshot.
func (e *ExportedTask) Option() *Option {
	return &Option{
		Name:                  e.Name,
		Topic:                 e.Topic,
		ExpressionType:        e.ExpressionType,
		Expression:            e.Expression,
		Location:              e.Location,
		SolarType:             e.SolarType,
		SolarEvents:           e.SolarEvents,
		Offset:                e.Offset,
		PayloadType:           e.PayloadType,
		Payload:               e.Payload,
		Limit:                 e.Limit,
		Schedule:              e.Schedule,
		EndSchedule:           e.EndSchedule,
		ScheduleName:          e.ScheduleName,
		SolarTimespanSchedule: e.SolarTimespanSchedule,
		SolarEventStart:       e.SolarEventStart,
	}
}

// PersistedState is the snapshot written by the persistence bridge and
// read once at startup.
type PersistedState struct {
	DynamicSchedules []*ExportedTask `json:"dynamicSchedules"`
	StaticSchedules  []*ExportedTask `json:"staticSchedules"`
}

// FiringInfo describes the firing that produced a message.
type FiringInfo struct {
	TriggerTimestamp time.Time     `json:"triggerTimestamp"`
	Status           *TaskStatus   `json:"status,omitempty"`
	Config           *ExportedTask `json:"config,omitempty"`
	SolarEvent       string        `json:"solarEvent,omitempty"`
}

// Message is one emitted schedule firing.
type Message struct {
	ID             string      `json:"id"`
	Topic          string      `json:"topic"`
	Payload        any         `json:"payload"`
	Scheduler      *FiringInfo `json:"scheduler,omitempty"`
	ManualTrigger  bool        `json:"manualTrigger,omitempty"`
	IntervalTrigger bool       `json:"intervalTrigger,omitempty"`
	ScheduledEvent bool        `json:"scheduledEvent"`
}
