package tracker

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/t77yq/solar-scheduler/internal/model"
	"github.com/t77yq/solar-scheduler/internal/registry"
)

// StateEmitter periodically publishes each tracked schedule's active
// state on its topic, for consumers that want a level signal rather
// than edge-triggered start/end firings.
type StateEmitter struct {
	logger   *zap.Logger
	env      *registry.Environment
	tracker  *Tracker
	interval time.Duration

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewStateEmitter builds an emitter ticking at the given interval.
func NewStateEmitter(env *registry.Environment, tr *Tracker, interval time.Duration) *StateEmitter {
	if interval <= 0 {
		interval = time.Minute
	}
	return &StateEmitter{
		logger:   env.NamedLogger("state-emitter"),
		env:      env,
		tracker:  tr,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the tick loop.
func (e *StateEmitter) Start() {
	go func() {
		defer close(e.done)
		ticker := time.NewTicker(e.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				e.emit()
			case <-e.stop:
				return
			}
		}
	}()
}

// Stop halts the loop and waits for it to exit.
func (e *StateEmitter) Stop() {
	e.stopOnce.Do(func() { close(e.stop) })
	<-e.done
}

func (e *StateEmitter) emit() {
	if e.env.Emitter == nil {
		return
	}
	for _, s := range e.tracker.Schedules() {
		if s.Active == nil {
			continue
		}
		msg := &model.Message{
			ID:              uuid.New().String(),
			Topic:           s.Topic,
			Payload:         *s.Active,
			IntervalTrigger: true,
		}
		if err := e.env.Emitter.Send(msg); err != nil {
			e.logger.Warn("state emission failed",
				zap.String("schedule", s.Name), zap.Error(err))
		}
	}
}
