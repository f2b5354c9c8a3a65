package registry

import (
	"time"

	"github.com/robfig/cron/v3"

	"github.com/t77yq/solar-scheduler/internal/model"
	"github.com/t77yq/solar-scheduler/internal/solar"
)

// maxCount caps the fire counter.
const maxCount = 2147483647

// Task is one live scheduled unit: a parsed expression engine plus its
// lifecycle state. Tasks are owned exclusively by a Registry; all field
// access outside this package goes through registry methods.
type Task struct {
	Name string
	Opt  *model.Option

	// IsDynamic marks runtime-added tasks; static tasks come from
	// configuration.
	IsDynamic bool

	isRunning bool
	count     int
	modified  bool

	// cron engine state
	sched    cron.Schedule
	entryID  cron.EntryID
	hasEntry bool

	// date-sequence state: sorted instants, consumed front to back.
	seq []time.Time

	// solar state: events to watch plus the last computed timeline.
	solarEvents []solar.Event
	solarTimes  *solar.Times

	timer *time.Timer
}

// IsStatic reports whether the task came from configuration.
func (t *Task) IsStatic() bool { return !t.IsDynamic }

// IsRunning reports whether the task's timer is armed.
func (t *Task) IsRunning() bool { return t.isRunning }

// Count returns the number of times the task has fired.
func (t *Task) Count() int { return t.count }

// Limit returns the configured maximum fire count, 0 for unlimited.
func (t *Task) Limit() int { return t.Opt.Limit }

// Modified reports whether the task diverged from its configured
// definition (fired at least once, or was stopped/started by command).
func (t *Task) Modified() bool { return t.modified }

// SolarTimes returns the most recently computed solar timeline, nil
// for non-solar tasks or before the first arm.
func (t *Task) SolarTimes() *solar.Times { return t.solarTimes }

// finished reports whether the fire count has reached the limit.
func (t *Task) finished() bool {
	return t.Opt.Limit > 0 && t.count >= t.Opt.Limit
}

// diverged reports whether a static task carries runtime state worth
// persisting.
func (t *Task) diverged() bool {
	return t.modified || t.count > 0
}

func (t *Task) bumpCount() {
	if t.count < maxCount {
		t.count++
	}
}

func (t *Task) stopTimer() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

// kind classifies the task for status reporting.
func (t *Task) kind() model.TaskKind {
	if t.IsDynamic {
		return model.TaskDynamic
	}
	return model.TaskStatic
}

// Export snapshots the task into its serializable form.
func (t *Task) Export() *model.ExportedTask {
	opt := t.Opt
	e := &model.ExportedTask{
		Topic:          opt.Topic,
		Name:           opt.Name,
		PayloadType:    opt.PayloadType,
		Payload:        opt.Payload,
		Limit:          opt.Limit,
		ExpressionType: opt.ExpressionType,
		Expression:     opt.Expression,

		Location:    opt.Location,
		SolarType:   opt.SolarType,
		SolarEvents: opt.SolarEvents,
		Offset:      opt.Offset,

		EndSchedule:           opt.EndSchedule,
		ScheduleName:          opt.ScheduleName,
		SolarTimespanSchedule: opt.SolarTimespanSchedule,
		SolarEventStart:       opt.SolarEventStart,

		IsDynamic: t.IsDynamic,
		Modified:  t.modified,
		IsRunning: t.isRunning,
		Count:     t.count,
	}
	if opt.Schedule != nil {
		e.Schedule = opt.Schedule.Export()
	}
	return e
}
