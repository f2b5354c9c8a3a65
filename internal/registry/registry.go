package registry

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/t77yq/solar-scheduler/internal/expr"
	"github.com/t77yq/solar-scheduler/internal/model"
	"github.com/t77yq/solar-scheduler/internal/solar"
)

// nextOccurrenceTimeout bounds a single cron next-date computation.
const nextOccurrenceTimeout = 3 * time.Second

// Hooks receives task lifecycle notifications. Hooks run outside the
// registry lock and may call back into the registry.
type Hooks interface {
	OnCreated(t *Task)
	OnStarted(t *Task)
	OnRun(t *Task, firedAt time.Time, manual bool)
	OnStopped(t *Task)
}

// cronLogger adapts zap.Logger to cron.Logger
type cronLogger struct {
	logger *zap.Logger
}

func (l *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg)
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, zap.Error(err))
}

// Registry owns the set of live tasks for one scheduler configuration,
// indexed by unique name. One cron engine serves every cron task;
// date-sequence and solar tasks run on their own timers.
type Registry struct {
	env    *Environment
	logger *zap.Logger

	mu     sync.Mutex
	tasks  map[string]*Task
	order  []string
	closed bool

	cron *cron.Cron

	hooks      Hooks
	onMutation func()
}

// New creates a registry. Call Start before creating tasks.
func New(env *Environment) *Registry {
	logger := env.NamedLogger("registry")
	cl := &cronLogger{logger: logger.Named("cron")}
	return &Registry{
		env:    env,
		logger: logger,
		tasks:  make(map[string]*Task),
		cron: cron.New(
			cron.WithLocation(env.timeLocation()),
			cron.WithChain(cron.Recover(cl)),
		),
	}
}

// SetHooks installs the lifecycle listener. Must be called before any
// task is created.
func (r *Registry) SetHooks(h Hooks) { r.hooks = h }

// SetOnMutation installs the callback invoked after every mutation,
// used to request a persistence snapshot.
func (r *Registry) SetOnMutation(fn func()) { r.onMutation = fn }

// Start starts the shared cron engine.
func (r *Registry) Start() {
	r.cron.Start()
}

// Close stops every task and the cron engine. The registry cannot be
// reused afterward.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	for _, t := range r.tasks {
		r.stopEnginesLocked(t)
		t.isRunning = false
	}
	r.mu.Unlock()
	ctx := r.cron.Stop()
	<-ctx.Done()
}

func (r *Registry) mutation() {
	if r.onMutation != nil {
		r.onMutation()
	}
}

// cronTask adapts one task to cron.Job.
type cronTask struct {
	r    *Registry
	name string
}

func (j *cronTask) Run() { j.r.fire(j.name, false) }

// Create builds a task from an option: applies defaults, validates,
// constructs the expression engine and, unless the option suppresses
// it, starts the task. A rejected option is a recoverable error; the
// registry is unchanged.
func (r *Registry) Create(opt *model.Option, index int, isStatic bool) (*Task, error) {
	def := r.env.Defaults()
	expr.ApplyDefaults(opt, index, def)
	if err := expr.Validate(opt, true, def); err != nil {
		r.logger.Warn("schedule rejected", zap.Error(err))
		return nil, err
	}

	t := &Task{Name: opt.Name, Opt: opt, IsDynamic: !isStatic}
	if err := r.buildEngine(t); err != nil {
		r.logger.Warn("schedule rejected",
			zap.String("schedule", opt.Name), zap.Error(err))
		return nil, err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrRegistryClosed
	}
	if old, exists := r.tasks[t.Name]; exists {
		r.stopEnginesLocked(old)
	} else {
		r.order = append(r.order, t.Name)
	}
	r.tasks[t.Name] = t
	r.mu.Unlock()

	r.logger.Debug("schedule created",
		zap.String("schedule", t.Name),
		zap.String("expressionType", string(opt.ExpressionType)),
		zap.Bool("static", isStatic))

	if r.hooks != nil {
		r.hooks.OnCreated(t)
	}
	if !opt.DontStartTheTask {
		if err := r.StartTask(t.Name); err != nil {
			r.logger.Warn("schedule could not start",
				zap.String("schedule", t.Name), zap.Error(err))
		}
	}
	r.mutation()
	return t, nil
}

// buildEngine parses the option's expression into engine state.
func (r *Registry) buildEngine(t *Task) error {
	opt := t.Opt
	switch opt.ExpressionType {
	case model.ExpressionCron:
		sched, err := expr.ParseCron(opt.Expression, r.env.TimeZone)
		if err != nil {
			return err
		}
		t.sched = sched
	case model.ExpressionDates:
		seq, ok := expr.ParseDateSequence(opt.Expression, r.env.timeLocation())
		if !ok {
			return &expr.ValidationError{
				Schedule: opt.Name,
				Field:    "expression",
				Reason:   "expression '" + opt.Expression + "' is not a parseable date sequence",
			}
		}
		t.seq = seq
	case model.ExpressionSolar:
		location := r.env.ResolveLocation(opt)
		if _, _, err := solar.ParseLatLon(location); err != nil {
			return err
		}
		if opt.SolarType == model.SolarAll {
			t.solarEvents = solar.Events
		} else {
			events, err := solar.ParseEvents(opt.SolarEvents)
			if err != nil {
				return err
			}
			t.solarEvents = events
		}
	}
	return nil
}

// Update replaces tasks with new options. Every option is validated
// before any task is touched; thereafter each replacement is
// independent, so a later construction failure leaves earlier
// replacements in place. The replacement preserves the old task's fire
// count and static flag, and marks it as diverged from configuration.
func (r *Registry) Update(opts ...*model.Option) error {
	def := r.env.Defaults()
	for i, opt := range opts {
		expr.ApplyDefaults(opt, i, def)
		if err := expr.Validate(opt, true, def); err != nil {
			return err
		}
	}
	for i, opt := range opts {
		r.mu.Lock()
		var count int
		var modified, isStatic bool
		if old, exists := r.tasks[opt.Name]; exists {
			count = old.count
			isStatic = !old.IsDynamic
			// Replacing an existing task diverges it from whatever the
			// config file defined.
			modified = true
		}
		r.mu.Unlock()

		t, err := r.Create(opt, i, isStatic)
		if err != nil {
			return err
		}
		r.mu.Lock()
		t.count = count
		t.modified = modified
		r.mu.Unlock()
	}
	r.mutation()
	return nil
}

// Delete removes a task. Deleting an unknown name is a no-op.
func (r *Registry) Delete(name string) {
	r.mu.Lock()
	t, exists := r.tasks[name]
	if exists {
		r.stopEnginesLocked(t)
		t.isRunning = false
		delete(r.tasks, name)
		for i, n := range r.order {
			if n == name {
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}
	}
	r.mu.Unlock()
	if !exists {
		return
	}
	r.logger.Debug("schedule deleted", zap.String("schedule", name))
	r.mutation()
}

// DeleteAll removes every task matching the filter.
func (r *Registry) DeleteAll(filter Filter) {
	for _, t := range r.Tasks(filter) {
		r.Delete(t.Name)
	}
}

// StartTask starts a task, stopping it first to avoid a duplicate
// timer registration. Starting a finished task resets its count.
func (r *Registry) StartTask(name string) error {
	r.mu.Lock()
	t, ok := r.tasks[name]
	if !ok {
		r.mu.Unlock()
		return ErrScheduleNotFound
	}
	r.stopEnginesLocked(t)
	if t.finished() {
		t.count = 0
	}
	t.isRunning = true
	armed := r.armLocked(t, time.Now())
	if !armed {
		t.isRunning = false
	}
	r.mu.Unlock()

	if !armed {
		r.logger.Warn("schedule has no future occurrence", zap.String("schedule", name))
		return ErrNoFutureOccurrence
	}
	if r.hooks != nil {
		r.hooks.OnStarted(t)
	}
	r.mutation()
	return nil
}

// StopTask stops a task. resetCount distinguishes a stop command
// (count cleared) from a pause (count kept).
func (r *Registry) StopTask(name string, resetCount bool) error {
	r.mu.Lock()
	t, ok := r.tasks[name]
	if !ok {
		r.mu.Unlock()
		return ErrScheduleNotFound
	}
	r.stopEnginesLocked(t)
	t.isRunning = false
	if resetCount {
		t.count = 0
	}
	t.modified = true
	r.mu.Unlock()

	if r.hooks != nil {
		r.hooks.OnStopped(t)
	}
	r.mutation()
	return nil
}

// StartAll starts every task matching the filter.
func (r *Registry) StartAll(filter Filter) {
	for _, t := range r.Tasks(filter) {
		if err := r.StartTask(t.Name); err != nil {
			r.logger.Warn("bulk start skipped schedule",
				zap.String("schedule", t.Name), zap.Error(err))
		}
	}
}

// StopAll stops every task matching the filter.
func (r *Registry) StopAll(filter Filter, resetCount bool) {
	for _, t := range r.Tasks(filter) {
		_ = r.StopTask(t.Name, resetCount)
	}
}

// Trigger fires a task immediately. The manual firing does not advance
// the count and the task keeps its schedule.
func (r *Registry) Trigger(name string) error {
	r.mu.Lock()
	_, ok := r.tasks[name]
	r.mu.Unlock()
	if !ok {
		return ErrScheduleNotFound
	}
	r.fire(name, true)
	return nil
}

// Get returns the named task.
func (r *Registry) Get(name string) (*Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[name]
	return t, ok
}

// Tasks returns matching tasks in creation order.
func (r *Registry) Tasks(filter Filter) []*Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Task, 0, len(r.order))
	for _, name := range r.order {
		if t, ok := r.tasks[name]; ok && filter.Match(t) {
			out = append(out, t)
		}
	}
	return out
}

// SetCount overwrites a task's fire count, used when restoring
// persisted state.
func (r *Registry) SetCount(name string, count int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.tasks[name]; ok {
		t.count = count
		if count > 0 {
			t.modified = true
		}
	}
}

// Next returns the running, unfinished task whose next occurrence is
// soonest, or nil when none qualifies.
func (r *Registry) Next() *Task {
	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	var best *Task
	var bestAt time.Time
	for _, name := range r.order {
		t := r.tasks[name]
		if t == nil || !t.isRunning || t.finished() {
			continue
		}
		at, ok := r.nextOccurrenceLocked(t, now)
		if !ok {
			continue
		}
		if best == nil || at.Before(bestAt) {
			best, bestAt = t, at
		}
	}
	return best
}

// NextOccurrence returns a task's next firing instant.
func (r *Registry) NextOccurrence(name string) (time.Time, error) {
	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[name]
	if !ok {
		return time.Time{}, ErrScheduleNotFound
	}
	at, ok := r.nextOccurrenceLocked(t, now)
	if !ok {
		return time.Time{}, ErrNoFutureOccurrence
	}
	return at, nil
}

func (r *Registry) nextOccurrenceLocked(t *Task, now time.Time) (time.Time, bool) {
	switch t.Opt.ExpressionType {
	case model.ExpressionCron:
		return expr.NextWithTimeout(t.sched, now, nextOccurrenceTimeout)
	case model.ExpressionDates:
		for _, d := range t.seq {
			if !d.Before(now) {
				return d, true
			}
		}
		return time.Time{}, false
	case model.ExpressionSolar:
		if t.solarTimes != nil && t.solarTimes.NextEventTimeOffset.After(now) {
			return t.solarTimes.NextEventTimeOffset, true
		}
		times, err := r.computeSolar(t, now)
		if err != nil {
			return time.Time{}, false
		}
		return times.NextEventTimeOffset, true
	}
	return time.Time{}, false
}

func (r *Registry) computeSolar(t *Task, now time.Time) (*solar.Times, error) {
	location := r.env.ResolveLocation(t.Opt)
	lat, lon, err := solar.ParseLatLon(location)
	if err != nil {
		return nil, err
	}
	return solar.Compute(lat, lon, t.solarEvents, now, t.Opt.Offset)
}

// armLocked registers the task's next firing. Cron tasks join the
// shared engine; date and solar tasks get a one-shot timer.
func (r *Registry) armLocked(t *Task, now time.Time) bool {
	switch t.Opt.ExpressionType {
	case model.ExpressionCron:
		t.entryID = r.cron.Schedule(t.sched, &cronTask{r: r, name: t.Name})
		t.hasEntry = true
		return true
	case model.ExpressionDates:
		for _, d := range t.seq {
			if d.After(now) {
				r.armTimerLocked(t, d.Sub(now))
				return true
			}
		}
		return false
	case model.ExpressionSolar:
		times, err := r.computeSolar(t, now)
		if err != nil {
			r.logger.Warn("solar computation failed",
				zap.String("schedule", t.Name), zap.Error(err))
			return false
		}
		t.solarTimes = times
		r.armTimerLocked(t, times.NextEventTimeOffset.Sub(now))
		return true
	}
	return false
}

func (r *Registry) armTimerLocked(t *Task, d time.Duration) {
	if d < 0 {
		d = 0
	}
	name := t.Name
	t.timer = time.AfterFunc(d, func() { r.fire(name, false) })
}

func (r *Registry) stopEnginesLocked(t *Task) {
	if t.hasEntry {
		r.cron.Remove(t.entryID)
		t.hasEntry = false
	}
	t.stopTimer()
}

// fire is the single firing pipeline for every engine. The count
// increments before the send so any listener observing the task during
// the firing sees the post-increment value. When the count reaches the
// limit the stop is deferred off the engine tick.
func (r *Registry) fire(name string, manual bool) {
	r.mu.Lock()
	t, ok := r.tasks[name]
	if !ok || r.closed {
		r.mu.Unlock()
		return
	}
	if !manual && !t.isRunning {
		r.mu.Unlock()
		return
	}
	firedAt := time.Now()

	var solarEvent string
	if t.Opt.ExpressionType == model.ExpressionSolar && t.solarTimes != nil {
		solarEvent = solar.Title(t.solarTimes.NextEvent)
	}

	finished := false
	if !manual {
		t.bumpCount()
		t.modified = true
		finished = t.finished()

		// Re-arm the one-shot engines for the next occurrence.
		if !finished {
			switch t.Opt.ExpressionType {
			case model.ExpressionDates:
				t.stopTimer()
				if !r.armLocked(t, firedAt) {
					t.isRunning = false
					finished = true
				}
			case model.ExpressionSolar:
				t.stopTimer()
				if !r.armLocked(t, firedAt) {
					t.isRunning = false
					finished = true
				}
			}
		}
	}
	topic := t.Opt.Topic
	r.mu.Unlock()

	payload := r.resolvePayload(context.Background(), t, firedAt)
	msg := &model.Message{
		ID:             uuid.New().String(),
		Topic:          topic,
		Payload:        payload,
		ScheduledEvent: !manual,
		ManualTrigger:  manual,
		Scheduler: &model.FiringInfo{
			TriggerTimestamp: firedAt,
			SolarEvent:       solarEvent,
		},
	}
	if r.env.Emitter != nil {
		if err := r.env.Emitter.Send(msg); err != nil {
			r.logger.Error("send failed",
				zap.String("schedule", name),
				zap.String("topic", topic),
				zap.Error(err))
		}
	}
	if r.hooks != nil {
		r.hooks.OnRun(t, firedAt, manual)
	}
	if finished {
		go func() {
			_ = r.StopTask(name, false)
		}()
	}
	if !manual {
		r.mutation()
	}
}

// Refresh rebuilds every running task's timer against the current
// clock. The clock monitor calls this after detecting a jump.
func (r *Registry) Refresh() {
	now := time.Now()
	r.mu.Lock()
	for _, name := range r.order {
		t := r.tasks[name]
		if t == nil || !t.isRunning {
			continue
		}
		r.stopEnginesLocked(t)
		if !r.armLocked(t, now) {
			t.isRunning = false
		}
	}
	r.mu.Unlock()
	r.logger.Info("schedules refreshed after clock change")
}

// Status reports a task's runtime state plus a description of its
// expression.
func (r *Registry) Status(name string) (*model.TaskStatus, error) {
	r.mu.Lock()
	t, ok := r.tasks[name]
	if !ok {
		r.mu.Unlock()
		return nil, ErrScheduleNotFound
	}
	opt := t.Opt
	status := &model.TaskStatus{
		Type:           t.kind(),
		Modified:       t.modified,
		IsRunning:      t.isRunning,
		Count:          t.count,
		Limit:          opt.Limit,
		TimeZone:       r.env.TimeZone,
		ServerTime:     time.Now(),
		ServerTimeZone: time.Now().Format("MST"),
	}
	r.mu.Unlock()

	req := expr.Request{
		Expression:              opt.Expression,
		ExpressionType:          opt.ExpressionType,
		TimeZone:                r.env.TimeZone,
		Offset:                  opt.Offset,
		SolarType:               opt.SolarType,
		SolarEvents:             opt.SolarEvents,
		LocationType:            opt.LocationType,
		DefaultLocation:         r.env.DefaultLocation,
		DefaultLocationType:     r.env.DefaultLocationType,
		IncludeSolarStateOffset: true,
		Use24HourFormat:         r.env.Use24HourFormat,
	}
	if opt.ExpressionType == model.ExpressionSolar {
		req.Expression = r.env.ResolveLocation(opt)
	}
	desc := expr.Describe(req, r.env.Defaults())

	status.Description = desc.Description
	status.NextDescription = desc.PrettyNext
	status.NextDate = desc.NextDate
	if desc.NextDate != nil {
		status.NextDateTZ = expr.FormatInZone(*desc.NextDate, r.env.TimeZone, r.env.Use24HourFormat)
	}
	for _, d := range desc.NextDates {
		status.NextDates = append(status.NextDates,
			expr.FormatInZone(d, r.env.TimeZone, r.env.Use24HourFormat))
	}
	status.SolarState = desc.SolarState
	status.SolarStateOffset = desc.SolarStateOffset
	status.SolarTimes = desc.SolarTimes
	status.SolarEvent = desc.NextEvent
	return status, nil
}

// Export snapshots one task.
func (r *Registry) Export(name string) (*model.ExportedTask, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[name]
	if !ok {
		return nil, ErrScheduleNotFound
	}
	return t.Export(), nil
}

// ExportState snapshots every persistable task: all dynamic tasks plus
// static tasks whose runtime state diverged from configuration. Tasks
// marked NoExport are skipped.
func (r *Registry) ExportState() *model.PersistedState {
	r.mu.Lock()
	defer r.mu.Unlock()
	state := &model.PersistedState{
		DynamicSchedules: []*model.ExportedTask{},
		StaticSchedules:  []*model.ExportedTask{},
	}
	for _, name := range r.order {
		t := r.tasks[name]
		if t == nil || t.Opt.NoExport {
			continue
		}
		if t.IsDynamic {
			state.DynamicSchedules = append(state.DynamicSchedules, t.Export())
		} else if t.diverged() {
			state.StaticSchedules = append(state.StaticSchedules, t.Export())
		}
	}
	return state
}
