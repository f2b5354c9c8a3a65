package registry

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/t77yq/solar-scheduler/internal/model"
)

// recordEmitter captures every message sent through it.
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

func (e *recordEmitter) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.msgs)
}

func (e *recordEmitter) messages() []*model.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*model.Message, len(e.msgs))
	copy(out, e.msgs)
	return out
}

func newTestRegistry(t *testing.T) (*Registry, *recordEmitter) {
	t.Helper()
	em := &recordEmitter{}
	env := &Environment{
		Logger:          zap.NewNop(),
		TimeZone:        "UTC",
		Location:        time.UTC,
		Emitter:         em,
		DefaultLocation: "51.5072,-0.1276",
	}
	r := New(env)
	r.Start()
	t.Cleanup(r.Close)
	return r, em
}

// datesExpr builds a date-sequence expression of instants offset from now.
func datesExpr(offsets ...time.Duration) string {
	now := time.Now()
	expr := ""
	for i, off := range offsets {
		if i > 0 {
			expr += ","
		}
		expr += now.Add(off).Format(time.RFC3339Nano)
	}
	return expr
}

func taskState(r *Registry, name string) (count int, running bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.tasks[name]; ok {
		return t.count, t.isRunning
	}
	return 0, false
}

func TestCreateRejectsInvalidOption(t *testing.T) {
	r, _ := newTestRegistry(t)
	_, err := r.Create(&model.Option{Name: "bad", Expression: "total nonsense"}, 0, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Schedule 'bad'")
	assert.Empty(t, r.Tasks(FilterAll))
}

func TestDatesTaskFiresAndExpires(t *testing.T) {
	r, em := newTestRegistry(t)

	opt := &model.Option{
		Name:       "blinds",
		Topic:      "blinds/down",
		Expression:  datesExpr(120*time.Millisecond, 280*time.Millisecond),
		PayloadType: model.PayloadBool,
		Payload:     true,
	}
	_, err := r.Create(opt, 0, false)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return em.count() == 2 },
		2*time.Second, 10*time.Millisecond)

	// With the sequence exhausted the task winds itself down.
	require.Eventually(t, func() bool {
		_, running := taskState(r, "blinds")
		return !running
	}, 2*time.Second, 10*time.Millisecond)

	count, _ := taskState(r, "blinds")
	assert.Equal(t, 2, count)

	msg := em.messages()[0]
	assert.Equal(t, "blinds/down", msg.Topic)
	assert.True(t, msg.ScheduledEvent)
	assert.False(t, msg.ManualTrigger)
	require.NotNil(t, msg.Scheduler)
	assert.False(t, msg.Scheduler.TriggerTimestamp.IsZero())
	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, true, msg.Payload)
}

func TestLimitStopsTask(t *testing.T) {
	r, em := newTestRegistry(t)

	opt := &model.Option{
		Name:       "limited",
		Expression: datesExpr(100*time.Millisecond, 220*time.Millisecond, 340*time.Millisecond),
		Limit:      2,
	}
	_, err := r.Create(opt, 0, false)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, running := taskState(r, "limited")
		return em.count() == 2 && !running
	}, 2*time.Second, 10*time.Millisecond)

	// The third date must not fire after the limit stop.
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, 2, em.count())

	count, _ := taskState(r, "limited")
	assert.Equal(t, 2, count, "stop on limit keeps the count")
}

func TestTriggerDoesNotAdvanceCount(t *testing.T) {
	r, em := newTestRegistry(t)

	opt := &model.Option{
		Name:             "manual",
		Expression:       "0 0 12 * * *",
		DontStartTheTask: true,
	}
	_, err := r.Create(opt, 0, false)
	require.NoError(t, err)

	require.NoError(t, r.Trigger("manual"))
	require.Eventually(t, func() bool { return em.count() == 1 },
		time.Second, 10*time.Millisecond)

	msg := em.messages()[0]
	assert.True(t, msg.ManualTrigger)
	assert.False(t, msg.ScheduledEvent)

	count, running := taskState(r, "manual")
	assert.Equal(t, 0, count)
	assert.False(t, running)

	assert.ErrorIs(t, r.Trigger("ghost"), ErrScheduleNotFound)
}

func TestStopVersusPause(t *testing.T) {
	r, _ := newTestRegistry(t)

	_, err := r.Create(&model.Option{Name: "job", Expression: "0 0 12 * * *"}, 0, false)
	require.NoError(t, err)

	r.mu.Lock()
	r.tasks["job"].count = 7
	r.mu.Unlock()

	require.NoError(t, r.StopTask("job", false))
	require.NoError(t, r.StopTask("job", false), "stopping a stopped task is fine")
	count, running := taskState(r, "job")
	assert.Equal(t, 7, count, "pause keeps the count")
	assert.False(t, running)

	require.NoError(t, r.StartTask("job"))
	require.NoError(t, r.StopTask("job", true))
	count, _ = taskState(r, "job")
	assert.Equal(t, 0, count, "stop clears the count")
}

func TestStartResetsFinishedCount(t *testing.T) {
	r, _ := newTestRegistry(t)

	_, err := r.Create(&model.Option{
		Name:             "job",
		Expression:       "0 0 12 * * *",
		Limit:            3,
		DontStartTheTask: true,
	}, 0, false)
	require.NoError(t, err)

	r.mu.Lock()
	r.tasks["job"].count = 3
	r.mu.Unlock()

	require.NoError(t, r.StartTask("job"))
	count, running := taskState(r, "job")
	assert.Equal(t, 0, count)
	assert.True(t, running)
}

func TestStartTaskNoFutureOccurrence(t *testing.T) {
	r, _ := newTestRegistry(t)

	past := time.Now().Add(-time.Hour).Format(time.RFC3339)
	_, err := r.Create(&model.Option{
		Name:             "stale",
		Expression:       past,
		DontStartTheTask: true,
	}, 0, false)
	require.NoError(t, err)

	assert.ErrorIs(t, r.StartTask("stale"), ErrNoFutureOccurrence)
	_, running := taskState(r, "stale")
	assert.False(t, running)
}

func TestUpdatePreservesCount(t *testing.T) {
	r, _ := newTestRegistry(t)

	opt := &model.Option{Name: "job", Expression: "0 0 12 * * *", DontStartTheTask: true}
	_, err := r.Create(opt, 0, false)
	require.NoError(t, err)

	r.mu.Lock()
	r.tasks["job"].count = 5
	r.tasks["job"].modified = true
	r.mu.Unlock()

	require.NoError(t, r.Update(&model.Option{
		Name:             "job",
		Expression:       "0 0 6 * * *",
		DontStartTheTask: true,
	}))

	r.mu.Lock()
	task := r.tasks["job"]
	count := task.count
	modified := task.modified
	expression := task.Opt.Expression
	r.mu.Unlock()

	assert.Equal(t, 5, count)
	assert.True(t, modified)
	assert.Equal(t, "0 0 6 * * *", expression)
	assert.Len(t, r.Tasks(FilterAll), 1)
}

func TestUpdateKeepsStaticTasksStatic(t *testing.T) {
	r, _ := newTestRegistry(t)

	_, err := r.Create(&model.Option{
		Name:             "cfg",
		Expression:       "0 0 12 * * *",
		DontStartTheTask: true,
	}, 0, true)
	require.NoError(t, err)

	require.NoError(t, r.Update(&model.Option{
		Name:             "cfg",
		Expression:       "0 0 6 * * *",
		DontStartTheTask: true,
	}))

	task, ok := r.Get("cfg")
	require.True(t, ok)
	assert.True(t, task.IsStatic())
	assert.True(t, task.Modified(), "a replaced config task counts as diverged")

	state := r.ExportState()
	assert.Empty(t, state.DynamicSchedules)
	require.Len(t, state.StaticSchedules, 1)
	assert.Equal(t, "0 0 6 * * *", state.StaticSchedules[0].Expression)
}

func TestUpdateRejectsBatchBeforeTouchingTasks(t *testing.T) {
	r, _ := newTestRegistry(t)

	_, err := r.Create(&model.Option{Name: "keep", Expression: "0 0 12 * * *", DontStartTheTask: true}, 0, false)
	require.NoError(t, err)

	err = r.Update(
		&model.Option{Name: "keep", Expression: "0 0 6 * * *", DontStartTheTask: true},
		&model.Option{Name: "bad", Expression: "not valid at"},
	)
	require.Error(t, err)

	r.mu.Lock()
	expression := r.tasks["keep"].Opt.Expression
	r.mu.Unlock()
	assert.Equal(t, "0 0 12 * * *", expression, "a rejected batch changes nothing")
}

func TestFilters(t *testing.T) {
	r, _ := newTestRegistry(t)

	mk := func(name string, isStatic, start bool) {
		_, err := r.Create(&model.Option{
			Name:             name,
			Expression:       "0 0 12 * * *",
			DontStartTheTask: !start,
		}, 0, isStatic)
		require.NoError(t, err)
	}
	mk("s1", true, true)
	mk("s2", true, false)
	mk("d1", false, true)
	mk("d2", false, true)
	mk("d3", false, false)

	assert.Len(t, r.Tasks(FilterAll), 5)
	assert.Len(t, r.Tasks(FilterStatic), 2)
	assert.Len(t, r.Tasks(FilterDynamic), 3)
	assert.Len(t, r.Tasks(FilterActive), 3)
	assert.Len(t, r.Tasks(FilterInactive), 2)
	assert.Len(t, r.Tasks(FilterActiveStatic), 1)
	assert.Len(t, r.Tasks(FilterActiveDynamic), 2)
	assert.Len(t, r.Tasks(FilterInactiveStatic), 1)
	assert.Len(t, r.Tasks(FilterInactiveDynamic), 1)

	r.StopAll(FilterDynamic, true)
	assert.Len(t, r.Tasks(FilterActive), 1)

	r.StartAll(FilterAll)
	assert.Len(t, r.Tasks(FilterActive), 5)

	r.DeleteAll(FilterStatic)
	assert.Len(t, r.Tasks(FilterAll), 3)
}

func TestNextPicksSoonestRunningTask(t *testing.T) {
	r, _ := newTestRegistry(t)

	_, err := r.Create(&model.Option{Name: "later", Expression: datesExpr(time.Hour)}, 0, false)
	require.NoError(t, err)
	_, err = r.Create(&model.Option{Name: "sooner", Expression: datesExpr(time.Minute)}, 0, false)
	require.NoError(t, err)
	_, err = r.Create(&model.Option{
		Name:             "stopped",
		Expression:       datesExpr(time.Second),
		DontStartTheTask: true,
	}, 0, false)
	require.NoError(t, err)

	next := r.Next()
	require.NotNil(t, next)
	assert.Equal(t, "sooner", next.Name)

	at, err := r.NextOccurrence("later")
	require.NoError(t, err)
	assert.True(t, at.After(time.Now()))

	_, err = r.NextOccurrence("ghost")
	assert.ErrorIs(t, err, ErrScheduleNotFound)
}

func TestExportState(t *testing.T) {
	r, _ := newTestRegistry(t)

	mk := func(name string, isStatic, noExport bool) {
		_, err := r.Create(&model.Option{
			Name:             name,
			Expression:       "0 0 12 * * *",
			NoExport:         noExport,
			DontStartTheTask: true,
		}, 0, isStatic)
		require.NoError(t, err)
	}
	mk("dyn", false, false)
	mk("hidden", false, true)
	mk("cfg", true, false)
	mk("cfg-touched", true, false)

	r.mu.Lock()
	r.tasks["cfg-touched"].count = 1
	r.mu.Unlock()

	state := r.ExportState()
	require.Len(t, state.DynamicSchedules, 1)
	assert.Equal(t, "dyn", state.DynamicSchedules[0].Name)
	require.Len(t, state.StaticSchedules, 1)
	assert.Equal(t, "cfg-touched", state.StaticSchedules[0].Name)
	assert.Equal(t, 1, state.StaticSchedules[0].Count)
}

func TestStatus(t *testing.T) {
	r, _ := newTestRegistry(t)

	_, err := r.Create(&model.Option{Name: "job", Expression: "0 0 12 * * *"}, 0, false)
	require.NoError(t, err)

	st, err := r.Status("job")
	require.NoError(t, err)
	assert.Equal(t, model.TaskDynamic, st.Type)
	assert.True(t, st.IsRunning)
	assert.Equal(t, 0, st.Count)
	assert.Equal(t, "UTC", st.TimeZone)
	require.NotNil(t, st.NextDate)
	assert.NotEmpty(t, st.NextDateTZ)
	assert.NotEmpty(t, st.Description)
	assert.Contains(t, st.NextDescription, "in ")

	_, err = r.Status("ghost")
	assert.ErrorIs(t, err, ErrScheduleNotFound)
}

func TestStatusSolar(t *testing.T) {
	r, _ := newTestRegistry(t)

	_, err := r.Create(&model.Option{
		Name:           "sun",
		ExpressionType: model.ExpressionSolar,
		SolarType:      model.SolarSelected,
		SolarEvents:    "sunrise,sunset",
		LocationType:   model.LocationFixed,
	}, 0, false)
	require.NoError(t, err)

	st, err := r.Status("sun")
	require.NoError(t, err)
	assert.NotNil(t, st.SolarState)
	assert.NotEmpty(t, st.SolarEvent)
	assert.Equal(t, "Solar Events: 'sunrise, sunset'", st.Description)
}

func TestDeleteUnknownIsNoop(t *testing.T) {
	r, _ := newTestRegistry(t)
	r.Delete("nothing")
	assert.Empty(t, r.Tasks(FilterAll))
}

func TestMutationCallbackFires(t *testing.T) {
	r, _ := newTestRegistry(t)

	var mu sync.Mutex
	mutations := 0
	r.SetOnMutation(func() {
		mu.Lock()
		mutations++
		mu.Unlock()
	})

	_, err := r.Create(&model.Option{Name: "job", Expression: "0 0 12 * * *"}, 0, false)
	require.NoError(t, err)
	r.Delete("job")

	mu.Lock()
	n := mutations
	mu.Unlock()
	assert.GreaterOrEqual(t, n, 2)
}

func TestManyTasksCreationOrder(t *testing.T) {
	r, _ := newTestRegistry(t)

	for i := 0; i < 10; i++ {
		_, err := r.Create(&model.Option{
			Name:             fmt.Sprintf("job%02d", i),
			Expression:       "0 0 12 * * *",
			DontStartTheTask: true,
		}, i, false)
		require.NoError(t, err)
	}
	tasks := r.Tasks(FilterAll)
	require.Len(t, tasks, 10)
	for i, task := range tasks {
		assert.Equal(t, fmt.Sprintf("job%02d", i), task.Name)
	}
}
