package monitor

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultDriftThreshold is the clock jump size that triggers a refresh.
const DefaultDriftThreshold = 5000 * time.Millisecond

// ClockMonitor watches for system clock jumps: every second it
// compares elapsed wall time against the expected tick interval. A
// jump beyond the threshold (sleep, hibernate, manual clock change)
// desynchronizes pending timers, so the monitor triggers a refresh.
type ClockMonitor struct {
	logger    *zap.Logger
	threshold time.Duration
	onDrift   func()

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewClockMonitor builds a monitor calling onDrift after a jump.
func NewClockMonitor(logger *zap.Logger, threshold time.Duration, onDrift func()) *ClockMonitor {
	if threshold <= 0 {
		threshold = DefaultDriftThreshold
	}
	return &ClockMonitor{
		logger:    logger.Named("clock-monitor"),
		threshold: threshold,
		onDrift:   onDrift,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start launches the watch loop.
func (m *ClockMonitor) Start() {
	go m.loop()
}

// Stop halts the loop and waits for it to exit.
func (m *ClockMonitor) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
	<-m.done
}

func (m *ClockMonitor) loop() {
	defer close(m.done)
	const tick = time.Second
	last := time.Now()
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			now := time.Now()
			drift := now.Sub(last) - tick
			if drift < 0 {
				drift = -drift
			}
			if drift > m.threshold {
				m.logger.Warn("system clock jump detected",
					zap.Duration("drift", drift),
					zap.Time("lastTick", last),
					zap.Time("now", now))
				if m.onDrift != nil {
					m.onDrift()
				}
			}
			last = now
		case <-m.stop:
			return
		}
	}
}
