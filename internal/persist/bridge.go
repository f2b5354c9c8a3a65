package persist

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/solar-scheduler/internal/registry"
)

// DefaultSaveInterval is the debounce window between snapshot writes.
const DefaultSaveInterval = 2500 * time.Millisecond

// Bridge debounces registry snapshots into the store. Mutations call
// Request; a background tick performs at most one in-flight save,
// coalescing every request made during the window into a single write.
type Bridge struct {
	logger   *zap.Logger
	reg      *registry.Registry
	store    Store
	interval time.Duration

	mu     sync.Mutex
	dirty  bool
	saving bool

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewBridge wires the bridge as the registry's mutation listener.
func NewBridge(reg *registry.Registry, store Store, logger *zap.Logger, interval time.Duration) *Bridge {
	if interval <= 0 {
		interval = DefaultSaveInterval
	}
	b := &Bridge{
		logger:   logger.Named("persist"),
		reg:      reg,
		store:    store,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	reg.SetOnMutation(b.Request)
	return b
}

// Request marks that a save is needed. Cheap; callers may invoke it on
// every mutation.
func (b *Bridge) Request() {
	b.mu.Lock()
	b.dirty = true
	b.mu.Unlock()
}

// Start launches the debounce loop.
func (b *Bridge) Start() {
	go func() {
		defer close(b.done)
		ticker := time.NewTicker(b.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				b.flush()
			case <-b.stop:
				return
			}
		}
	}()
}

// Stop halts the loop and performs a final save when one is pending.
func (b *Bridge) Stop(ctx context.Context) {
	b.stopOnce.Do(func() { close(b.stop) })
	<-b.done
	b.mu.Lock()
	pending := b.dirty
	b.dirty = false
	b.mu.Unlock()
	if pending {
		if err := b.store.Save(ctx, b.reg.ExportState()); err != nil {
			b.logger.Error("final save failed", zap.Error(err))
		}
	}
}

func (b *Bridge) flush() {
	b.mu.Lock()
	if !b.dirty || b.saving {
		b.mu.Unlock()
		return
	}
	b.dirty = false
	b.saving = true
	b.mu.Unlock()

	state := b.reg.ExportState()
	err := b.store.Save(context.Background(), state)

	b.mu.Lock()
	b.saving = false
	b.mu.Unlock()

	if err != nil {
		b.logger.Error("snapshot save failed", zap.Error(err))
		return
	}
	b.logger.Debug("snapshot saved",
		zap.Int("dynamic", len(state.DynamicSchedules)),
		zap.Int("static", len(state.StaticSchedules)))
}

// Restore reads the snapshot once and rebuilds dynamic tasks, leaving
// tasks that were stopped at save time stopped. Static entries only
// override count and run state of configuration-defined tasks. A
// missing or corrupt snapshot restores nothing.
func (b *Bridge) Restore(ctx context.Context) error {
	state, err := b.store.Load(ctx)
	if err != nil {
		b.logger.Warn("snapshot unreadable, starting empty", zap.Error(err))
		return nil
	}
	if state == nil {
		b.logger.Info("no persisted state")
		return nil
	}

	for i, exported := range state.DynamicSchedules {
		opt := exported.Option()
		opt.DontStartTheTask = !exported.IsRunning
		if _, err := b.reg.Create(opt, i, false); err != nil {
			b.logger.Warn("persisted schedule rejected",
				zap.String("schedule", exported.Name), zap.Error(err))
			continue
		}
		b.reg.SetCount(opt.Name, exported.Count)
	}

	for _, exported := range state.StaticSchedules {
		t, ok := b.reg.Get(exported.Name)
		if !ok || !t.IsStatic() {
			continue
		}
		if !exported.IsRunning && t.IsRunning() {
			_ = b.reg.StopTask(exported.Name, false)
		}
		b.reg.SetCount(exported.Name, exported.Count)
	}

	b.logger.Info("persisted state restored",
		zap.Int("dynamic", len(state.DynamicSchedules)),
		zap.Int("static", len(state.StaticSchedules)))
	return nil
}
