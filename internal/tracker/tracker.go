package tracker

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/solar-scheduler/internal/expr"
	"github.com/t77yq/solar-scheduler/internal/model"
	"github.com/t77yq/solar-scheduler/internal/registry"
)

// EndTaskSuffix names the generated companion task that closes a
// paired schedule's active window.
const EndTaskSuffix = "_end_sched_type"

// Tracker maintains the denormalized Schedule records for paired
// start/end tasks and keeps their active-window state current. It
// receives every task lifecycle event from the registry.
type Tracker struct {
	logger *zap.Logger
	env    *registry.Environment
	reg    *registry.Registry

	mu        sync.Mutex
	schedules map[string]*model.Schedule
	order     []string

	onUpdate func(event string, s model.Schedule)
}

// New builds a tracker and installs it as the registry's hooks.
func New(env *registry.Environment, reg *registry.Registry) *Tracker {
	tr := &Tracker{
		logger:    env.NamedLogger("tracker"),
		env:       env,
		reg:       reg,
		schedules: make(map[string]*model.Schedule),
	}
	reg.SetHooks(tr)
	return tr
}

// SetOnUpdate installs a listener notified after every schedule record
// change, with a copy of the record.
func (tr *Tracker) SetOnUpdate(fn func(event string, s model.Schedule)) {
	tr.onUpdate = fn
}

// Schedule returns a copy of the named schedule record.
func (tr *Tracker) Schedule(name string) (model.Schedule, bool) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	s, ok := tr.schedules[name]
	if !ok {
		return model.Schedule{}, false
	}
	return *s, true
}

// Schedules returns copies of every record in creation order.
func (tr *Tracker) Schedules() []model.Schedule {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	out := make([]model.Schedule, 0, len(tr.order))
	for _, name := range tr.order {
		if s, ok := tr.schedules[name]; ok {
			out = append(out, *s)
		}
	}
	return out
}

// Remove drops a schedule record, called when its task is deleted.
func (tr *Tracker) Remove(name string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	delete(tr.schedules, name)
	for i, n := range tr.order {
		if n == name {
			tr.order = append(tr.order[:i], tr.order[i+1:]...)
			break
		}
	}
}

// update applies fn to the named record under the lock, then notifies
// the listener. Unknown names are ignored unless the record is being
// inserted.
func (tr *Tracker) update(name, event string, insert *model.Schedule, fn func(s *model.Schedule)) {
	tr.mu.Lock()
	s, ok := tr.schedules[name]
	if !ok {
		if insert == nil {
			tr.mu.Unlock()
			return
		}
		s = insert
		tr.schedules[name] = s
		tr.order = append(tr.order, name)
	}
	if fn != nil {
		fn(s)
	}
	snapshot := *s
	tr.mu.Unlock()
	if tr.onUpdate != nil {
		tr.onUpdate(event, snapshot)
	}
}

// nextStatus is the projection of one task's next occurrence used for
// schedule records.
type nextStatus struct {
	date        string
	description string
	utc         *time.Time
}

func (tr *Tracker) nextStatus(name string) nextStatus {
	st, err := tr.reg.Status(name)
	if err != nil || !st.IsRunning || st.NextDate == nil {
		return nextStatus{date: "Never", description: "Never"}
	}
	return nextStatus{
		date:        st.NextDateTZ,
		description: st.NextDescription,
		utc:         st.NextDate,
	}
}

// generateSchedule builds the initial record for a newly created task.
func (tr *Tracker) generateSchedule(t *registry.Task) *model.Schedule {
	opt := t.Opt
	req := expr.Request{
		Expression:          opt.Expression,
		ExpressionType:      opt.ExpressionType,
		TimeZone:            tr.env.TimeZone,
		Offset:              opt.Offset,
		SolarType:           opt.SolarType,
		SolarEvents:         opt.SolarEvents,
		LocationType:        opt.LocationType,
		DefaultLocation:     tr.env.DefaultLocation,
		DefaultLocationType: tr.env.DefaultLocationType,
		Use24HourFormat:     tr.env.Use24HourFormat,
	}
	if opt.ExpressionType == model.ExpressionSolar {
		req.Expression = tr.env.ResolveLocation(opt)
	}
	desc := expr.Describe(req, tr.env.Defaults())

	s := &model.Schedule{
		Name:         t.Name,
		Topic:        opt.Topic,
		Enabled:      !opt.DontStartTheTask,
		ScheduleType: opt.ExpressionType,
		IsStatic:     t.IsStatic(),
		Description:  desc.Description,
		PayloadValue: opt.Payload,
	}
	switch opt.ExpressionType {
	case model.ExpressionCron:
		s.StartCronExpression = opt.Expression
	case model.ExpressionSolar:
		s.SolarEvent = opt.SolarEvents
		s.Offset = opt.Offset
	}
	return s
}

// OnCreated registers a schedule record for plain tasks, adopting any
// caller-supplied window configuration (duration, fixed end time, solar
// timespan shape). Generated end tasks and solar timespan halves attach
// to an existing record instead.
func (tr *Tracker) OnCreated(t *registry.Task) {
	opt := t.Opt
	if opt.EndSchedule || opt.SolarTimespanSchedule {
		return
	}
	s := tr.generateSchedule(t)
	if cfg := opt.Schedule; cfg != nil {
		s.HasEndTime = cfg.HasEndTime
		s.EndTime = cfg.EndTime
		s.HasDuration = cfg.HasDuration
		s.Duration = cfg.Duration
		s.DurationFixedTime = cfg.DurationFixedTime
		s.EndPayload = cfg.EndPayload
		s.SolarEventStart = cfg.SolarEventStart
		s.SolarEventTimespanTime = cfg.SolarEventTimespanTime
	}
	opt.Schedule = s
	tr.update(t.Name, "add", s, nil)
	if s.HasEndTime && s.EndTime != "" {
		tr.generateEndTimeTask(t, s)
	}
}

// OnStarted refreshes the pair's next occurrences and, for
// duration-based solar schedules, regenerates the end task anchored to
// the upcoming event.
func (tr *Tracker) OnStarted(t *registry.Task) {
	opt := t.Opt
	if opt.Schedule != nil {
		sched := opt.Schedule
		st := tr.nextStatus(t.Name)
		tr.update(t.Name, "start", nil, func(s *model.Schedule) {
			s.Enabled = true
			if s.SolarEventStart != nil && !*s.SolarEventStart {
				s.NextEndDate = st.date
				s.NextEndDescription = st.description
				s.NextEndUTC = st.utc
			} else {
				s.NextDate = st.date
				s.NextDescription = st.description
				s.NextUTC = st.utc
			}
			if !s.HasDuration && !s.HasEndTime {
				s.Active = nil
				s.CurrentStartTime = nil
			} else if state := computePairState(s.NextUTC, s.NextEndUTC, s.Duration, time.Now()); state.Active != nil {
				s.Active = state.Active
				s.CurrentStartTime = state.CurrentStartTime
			}
		})
		if opt.ExpressionType == model.ExpressionSolar && sched.HasDuration && sched.Duration > 0 {
			if times := t.SolarTimes(); times != nil {
				duration := time.Duration(sched.Duration * float64(time.Minute))
				endAt := endAnchorForStart(times.NextEventTimeOffset, duration, time.Now())
				tr.regenerateEndTask(t, endAt)
			}
		}
	}

	if opt.EndSchedule {
		st := tr.nextStatus(t.Name)
		now := time.Now()
		tr.update(opt.ScheduleName, "started", nil, func(s *model.Schedule) {
			s.NextEndDate = st.date
			s.NextEndDescription = st.description
			s.NextEndUTC = st.utc
			state := computePairState(s.NextUTC, st.utc, s.Duration, now)
			if state.Active != nil {
				s.Active = state.Active
				s.CurrentStartTime = state.CurrentStartTime
			}
		})
	}

	if opt.SolarTimespanSchedule {
		st := tr.nextStatus(t.Name)
		now := time.Now()
		tr.update(opt.ScheduleName, "started", nil, func(s *model.Schedule) {
			if opt.SolarEventStart != nil && *opt.SolarEventStart {
				s.NextEndDate = st.date
				s.NextEndDescription = st.description
				s.NextEndUTC = st.utc
			} else {
				s.NextDate = st.date
				s.NextDescription = st.description
				s.NextUTC = st.utc
			}
			if state, ok := computeTimespanState(s.NextUTC, s.NextEndUTC, now); ok {
				s.Duration = state.Duration
				s.Active = state.Active
				s.CurrentStartTime = state.CurrentStartTime
			}
		})
	}
}

// OnRun marks the window open (or closed, when the firing half is the
// end) and re-anchors duration-based solar end tasks to the next event.
func (tr *Tracker) OnRun(t *registry.Task, firedAt time.Time, manual bool) {
	if manual {
		return
	}
	opt := t.Opt

	if opt.Schedule != nil && (opt.Schedule.HasEndTime || opt.Schedule.HasDuration || opt.Schedule.DurationFixedTime) {
		st := tr.nextStatus(t.Name)
		tr.update(t.Name, "run", nil, func(s *model.Schedule) {
			if s.DurationFixedTime && s.SolarEventStart != nil && !*s.SolarEventStart {
				s.NextEndDate = st.date
				s.NextEndDescription = st.description
				s.NextEndUTC = st.utc
				active := false
				s.Active = &active
				s.CurrentStartTime = nil
			} else {
				s.NextDate = st.date
				s.NextDescription = st.description
				s.NextUTC = st.utc
				active := true
				started := firedAt
				s.Active = &active
				s.CurrentStartTime = &started
			}
		})
	}

	if opt.EndSchedule {
		st := tr.nextStatus(t.Name)
		tr.update(opt.ScheduleName, "run", nil, func(s *model.Schedule) {
			s.NextEndDate = st.date
			s.NextEndDescription = st.description
			s.NextEndUTC = st.utc
			active := false
			s.Active = &active
			s.CurrentStartTime = nil
		})
	}

	if opt.SolarTimespanSchedule {
		st := tr.nextStatus(t.Name)
		tr.update(opt.ScheduleName, "run", nil, func(s *model.Schedule) {
			if opt.SolarEventStart != nil && *opt.SolarEventStart {
				s.NextEndDate = st.date
				s.NextEndDescription = st.description
				s.NextEndUTC = st.utc
				active := false
				s.Active = &active
				s.CurrentStartTime = nil
			} else {
				s.NextDate = st.date
				s.NextDescription = st.description
				s.NextUTC = st.utc
				active := true
				started := firedAt
				s.Active = &active
				s.CurrentStartTime = &started
			}
		})
	}

	if opt.ExpressionType == model.ExpressionSolar && opt.Schedule != nil {
		sched := opt.Schedule
		if sched.HasDuration && sched.Duration > 0 {
			// A fixed expression cannot represent "N minutes after a
			// shifting solar event", so the end task is rebuilt against
			// the freshly computed next occurrence.
			if times := t.SolarTimes(); times != nil {
				duration := time.Duration(sched.Duration * float64(time.Minute))
				tr.regenerateEndTask(t, times.NextEventTimeOffset.Add(duration))
			}
		}
		if sched.DurationFixedTime && sched.SolarEventTimespanTime != "" {
			tr.refreshTimespanPair(sched)
		}
	}
}

// OnStopped disables the record and closes any tracked window.
func (tr *Tracker) OnStopped(t *registry.Task) {
	opt := t.Opt
	if opt.Schedule == nil {
		return
	}
	st := tr.nextStatus(t.Name)
	tr.update(t.Name, "stop", nil, func(s *model.Schedule) {
		s.Enabled = false
		s.NextDate = st.date
		s.NextDescription = st.description
		if s.HasDuration || s.HasEndTime {
			active := false
			s.Active = &active
			s.CurrentStartTime = nil
		}
	})
}

// regenerateEndTask replaces the companion end task with one firing at
// endAt. The companion is transient: excluded from persistence and
// linked back to its start schedule by name.
func (tr *Tracker) regenerateEndTask(t *registry.Task, endAt time.Time) {
	sched := t.Opt.Schedule
	payload := sched.EndPayload
	if payload == nil {
		payload = false
	}
	endOpt := &model.Option{
		Name:             sched.Name + EndTaskSuffix,
		Topic:            t.Opt.Topic,
		ExpressionType:   model.ExpressionDates,
		Expression:       endAt.Format(time.RFC3339),
		PayloadType:      model.PayloadBool,
		Payload:          payload,
		DontStartTheTask: !sched.Enabled,
		ScheduleName:     sched.Name,
		EndSchedule:      true,
		NoExport:         true,
	}
	if err := tr.reg.Update(endOpt); err != nil {
		tr.logger.Warn("end task regeneration failed",
			zap.String("schedule", sched.Name), zap.Error(err))
	}
}

// generateEndTimeTask creates the companion for a schedule whose window
// closes at a fixed time of day, as a daily cron derived from EndTime.
func (tr *Tracker) generateEndTimeTask(t *registry.Task, sched *model.Schedule) {
	at, err := time.Parse("15:04", sched.EndTime)
	if err != nil {
		tr.logger.Warn("end time is not HH:MM",
			zap.String("schedule", sched.Name),
			zap.String("endTime", sched.EndTime))
		return
	}
	payload := sched.EndPayload
	if payload == nil {
		payload = false
	}
	endOpt := &model.Option{
		Name:             sched.Name + EndTaskSuffix,
		Topic:            t.Opt.Topic,
		ExpressionType:   model.ExpressionCron,
		Expression:       fmt.Sprintf("0 %d %d * * *", at.Minute(), at.Hour()),
		PayloadType:      model.PayloadBool,
		Payload:          payload,
		DontStartTheTask: !sched.Enabled,
		ScheduleName:     sched.Name,
		EndSchedule:      true,
		NoExport:         true,
	}
	if err := tr.reg.Update(endOpt); err != nil {
		tr.logger.Warn("end task creation failed",
			zap.String("schedule", sched.Name), zap.Error(err))
	}
}

// refreshTimespanPair refreshes the next end occurrence from the
// companion task and recomputes the signed duration between the pair's
// next instants.
func (tr *Tracker) refreshTimespanPair(sched *model.Schedule) {
	st := tr.nextStatus(sched.Name + EndTaskSuffix)
	tr.update(sched.Name, "update", nil, func(s *model.Schedule) {
		if s.SolarEventStart != nil && *s.SolarEventStart {
			s.NextEndDate = st.date
			s.NextEndDescription = st.description
			s.NextEndUTC = st.utc
		} else {
			s.NextDate = st.date
			s.NextDescription = st.description
			s.NextUTC = st.utc
		}
		if s.NextUTC != nil && s.NextEndUTC != nil {
			s.Duration = s.NextUTC.Sub(*s.NextEndUTC).Minutes()
		}
	})
}

// endAnchorForStart chooses the end instant for a freshly started
// duration schedule: today's occurrence of the event's time of day
// plus the duration, falling back to the event itself plus the
// duration when that has already passed.
func endAnchorForStart(eventTime time.Time, duration time.Duration, now time.Time) time.Time {
	day := now.UTC().Truncate(24 * time.Hour)
	ofDay := time.Duration(eventTime.UnixMilli()%int64(24*time.Hour/time.Millisecond)) * time.Millisecond
	at := day.Add(ofDay + duration)
	if at.Before(now) {
		at = eventTime.Add(duration)
	}
	return at
}
