package tracker

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/t77yq/solar-scheduler/internal/model"
	"github.com/t77yq/solar-scheduler/internal/registry"
)

type recordEmitter struct {
	mu   sync.Mutex
	msgs []*model.Message
}

func (e *recordEmitter) Send(msg *model.Message) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.msgs = append(e.msgs, msg)
	return nil
}

func (e *recordEmitter) intervalMessages() []*model.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := []*model.Message{}
	for _, m := range e.msgs {
		if m.IntervalTrigger {
			out = append(out, m)
		}
	}
	return out
}

func newTestTracker(t *testing.T) (*Tracker, *registry.Registry, *registry.Environment) {
	t.Helper()
	env := &registry.Environment{
		Logger:          zap.NewNop(),
		TimeZone:        "UTC",
		Location:        time.UTC,
		Emitter:         &recordEmitter{},
		DefaultLocation: "51.5072,-0.1276",
	}
	reg := registry.New(env)
	tr := New(env, reg)
	reg.Start()
	t.Cleanup(reg.Close)
	return tr, reg, env
}

func TestScheduleRecordLifecycle(t *testing.T) {
	tr, reg, _ := newTestTracker(t)

	_, err := reg.Create(&model.Option{
		Name:       "porch",
		Topic:      "porch/light",
		Expression: "0 0 18 * * *",
		Payload:    true,
	}, 0, false)
	require.NoError(t, err)

	s, ok := tr.Schedule("porch")
	require.True(t, ok)
	assert.Equal(t, "porch", s.Name)
	assert.Equal(t, "porch/light", s.Topic)
	assert.True(t, s.Enabled)
	assert.Equal(t, model.ExpressionCron, s.ScheduleType)
	assert.Equal(t, "0 0 18 * * *", s.StartCronExpression)
	assert.NotEmpty(t, s.Description)
	assert.NotEmpty(t, s.NextDate)
	require.NotNil(t, s.NextUTC)
	assert.True(t, s.NextUTC.After(time.Now()))

	require.NoError(t, reg.StopTask("porch", true))
	s, _ = tr.Schedule("porch")
	assert.False(t, s.Enabled)
	assert.Equal(t, "Never", s.NextDescription)

	require.NoError(t, reg.StartTask("porch"))
	s, _ = tr.Schedule("porch")
	assert.True(t, s.Enabled)
	assert.NotEqual(t, "Never", s.NextDescription)

	reg.Delete("porch")
	tr.Remove("porch")
	_, ok = tr.Schedule("porch")
	assert.False(t, ok)
}

func TestGeneratedEndTaskHasNoOwnRecord(t *testing.T) {
	tr, reg, _ := newTestTracker(t)

	_, err := reg.Create(&model.Option{
		Name:         "shed" + EndTaskSuffix,
		Expression:   time.Now().Add(time.Hour).Format(time.RFC3339),
		EndSchedule:  true,
		ScheduleName: "shed",
		NoExport:     true,
	}, 0, false)
	require.NoError(t, err)

	_, ok := tr.Schedule("shed" + EndTaskSuffix)
	assert.False(t, ok, "companion tasks attach to the parent record")
}

func TestPairedScheduleActiveState(t *testing.T) {
	tr, reg, _ := newTestTracker(t)

	// Start fires in 23h, end fires in 1h: the window is open now. The
	// duration shape rides in on the option's schedule configuration.
	_, err := reg.Create(&model.Option{
		Name:       "heating",
		Topic:      "heating/on",
		Expression: time.Now().Add(23 * time.Hour).Format(time.RFC3339),
		Payload:    true,
		Schedule:   &model.Schedule{HasDuration: true, Duration: 60},
	}, 0, false)
	require.NoError(t, err)

	s, ok := tr.Schedule("heating")
	require.True(t, ok, "configured pairs get a record")
	assert.True(t, s.HasDuration)
	assert.Equal(t, float64(60), s.Duration)
	assert.Nil(t, s.Active, "no verdict before the end half exists")

	_, err = reg.Create(&model.Option{
		Name:         "heating" + EndTaskSuffix,
		Expression:   time.Now().Add(time.Hour).Format(time.RFC3339),
		EndSchedule:  true,
		ScheduleName: "heating",
		NoExport:     true,
	}, 0, false)
	require.NoError(t, err)

	s, _ = tr.Schedule("heating")
	require.NotNil(t, s.Active)
	assert.True(t, *s.Active)
	require.NotNil(t, s.CurrentStartTime)
	require.NotNil(t, s.NextEndUTC)
	assert.Equal(t, s.NextEndUTC.Add(-60*time.Minute).Unix(), s.CurrentStartTime.Unix())
}

func TestEndTimePairGeneration(t *testing.T) {
	tr, reg, _ := newTestTracker(t)

	_, err := reg.Create(&model.Option{
		Name:       "porch",
		Topic:      "porch/light",
		Expression: "0 0 18 * * *",
		Payload:    true,
		Schedule:   &model.Schedule{HasEndTime: true, EndTime: "23:30"},
	}, 0, false)
	require.NoError(t, err)

	end, ok := reg.Get("porch" + EndTaskSuffix)
	require.True(t, ok, "a daily end task is derived from the end time")
	assert.Equal(t, "0 30 23 * * *", end.Opt.Expression)
	assert.Equal(t, model.ExpressionCron, end.Opt.ExpressionType)
	assert.True(t, end.Opt.EndSchedule)
	assert.True(t, end.Opt.NoExport)
	assert.Equal(t, "porch", end.Opt.ScheduleName)
	assert.True(t, end.IsRunning())

	s, ok := tr.Schedule("porch")
	require.True(t, ok)
	assert.True(t, s.HasEndTime)
	require.NotNil(t, s.NextUTC)
	require.NotNil(t, s.NextEndUTC)
	assert.NotNil(t, s.Active, "both halves started, the window state is known")
}

func TestEndTimePairBadTimeSkipsCompanion(t *testing.T) {
	tr, reg, _ := newTestTracker(t)

	_, err := reg.Create(&model.Option{
		Name:       "yard",
		Expression: "0 0 18 * * *",
		Schedule:   &model.Schedule{HasEndTime: true, EndTime: "late"},
	}, 0, false)
	require.NoError(t, err)

	_, ok := reg.Get("yard" + EndTaskSuffix)
	assert.False(t, ok)
	s, ok := tr.Schedule("yard")
	require.True(t, ok)
	assert.True(t, s.HasEndTime)
}

func TestEndAnchorForStart(t *testing.T) {
	now := time.Date(2025, time.June, 15, 6, 0, 0, 0, time.UTC)
	duration := 2 * time.Hour

	t.Run("anchors to today's occurrence of the event time", func(t *testing.T) {
		// Yesterday's event at 18:30; today's occurrence plus the
		// duration is still ahead.
		event := time.Date(2025, time.June, 14, 18, 30, 0, 0, time.UTC)
		at := endAnchorForStart(event, duration, now)
		assert.Equal(t, time.Date(2025, time.June, 15, 20, 30, 0, 0, time.UTC), at)
	})

	t.Run("falls back to the event itself when today's slot passed", func(t *testing.T) {
		late := time.Date(2025, time.June, 15, 23, 0, 0, 0, time.UTC)
		event := time.Date(2025, time.June, 16, 4, 30, 0, 0, time.UTC)
		// Today's 04:30 + 2h = 06:30, already behind 23:00.
		at := endAnchorForStart(event, duration, late)
		assert.Equal(t, event.Add(duration), at)
	})
}

func TestSolarDurationRegeneratesEndTask(t *testing.T) {
	tr, reg, _ := newTestTracker(t)

	_, err := reg.Create(&model.Option{
		Name:           "patio",
		Topic:          "patio/light",
		ExpressionType: model.ExpressionSolar,
		SolarType:      model.SolarSelected,
		SolarEvents:    "sunset",
		LocationType:   model.LocationFixed,
		Schedule:       &model.Schedule{HasDuration: true, Duration: 30},
	}, 0, false)
	require.NoError(t, err)

	s, ok := tr.Schedule("patio")
	require.True(t, ok)
	assert.True(t, s.HasDuration)

	task, ok := reg.Get("patio" + EndTaskSuffix)
	require.True(t, ok, "a companion end task is generated")
	assert.True(t, task.Opt.EndSchedule)
	assert.Equal(t, "patio", task.Opt.ScheduleName)
	assert.True(t, task.Opt.NoExport)
	assert.Equal(t, model.ExpressionDates, task.Opt.ExpressionType)
}

func TestNilLoggerTolerated(t *testing.T) {
	env := &registry.Environment{
		TimeZone:        "UTC",
		Location:        time.UTC,
		Emitter:         &recordEmitter{},
		DefaultLocation: "51.5072,-0.1276",
	}
	reg := registry.New(env)
	tr := New(env, reg)
	require.NotNil(t, NewStateEmitter(env, tr, time.Minute))
	reg.Start()
	t.Cleanup(reg.Close)

	_, err := reg.Create(&model.Option{Name: "quiet", Expression: "0 0 12 * * *"}, 0, false)
	require.NoError(t, err)
	_, ok := tr.Schedule("quiet")
	assert.True(t, ok)
}

func TestStateEmitter(t *testing.T) {
	tr, reg, env := newTestTracker(t)
	em := env.Emitter.(*recordEmitter)

	_, err := reg.Create(&model.Option{
		Name:       "gate",
		Topic:      "gate/state",
		Expression: "0 0 12 * * *",
	}, 0, false)
	require.NoError(t, err)

	active := true
	tr.mu.Lock()
	tr.schedules["gate"].Active = &active
	tr.mu.Unlock()

	emitter := NewStateEmitter(env, tr, 20*time.Millisecond)
	emitter.Start()
	defer emitter.Stop()

	require.Eventually(t, func() bool {
		return len(em.intervalMessages()) >= 2
	}, 2*time.Second, 10*time.Millisecond)

	msg := em.intervalMessages()[0]
	assert.Equal(t, "gate/state", msg.Topic)
	assert.Equal(t, true, msg.Payload)
	assert.True(t, msg.IntervalTrigger)
	assert.False(t, msg.ScheduledEvent)
}
