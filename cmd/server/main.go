package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/t77yq/solar-scheduler/internal/dispatch"
	"github.com/t77yq/solar-scheduler/internal/model"
	"github.com/t77yq/solar-scheduler/internal/monitor"
	"github.com/t77yq/solar-scheduler/internal/persist"
	"github.com/t77yq/solar-scheduler/internal/registry"
	"github.com/t77yq/solar-scheduler/internal/tracker"
)

func main() {
	// Initialize logger
	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	// Load configuration
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./config")
	viper.SetDefault("scheduler.timezone", "")
	viper.SetDefault("scheduler.use_24_hour_format", true)
	viper.SetDefault("scheduler.default_location_type", "fixed")
	viper.SetDefault("scheduler.state_emit_interval", time.Minute)
	viper.SetDefault("scheduler.clock_drift_threshold", monitor.DefaultDriftThreshold)
	viper.SetDefault("persistence.backend", "file")
	viper.SetDefault("persistence.path", "schedules.json")
	viper.SetDefault("persistence.save_interval", persist.DefaultSaveInterval)
	if err := viper.ReadInConfig(); err != nil {
		logger.Fatal("Failed to read config file", zap.Error(err))
	}

	timeZone := viper.GetString("scheduler.timezone")
	location := time.Local
	if timeZone != "" {
		location, err = time.LoadLocation(timeZone)
		if err != nil {
			logger.Fatal("Invalid timezone", zap.String("timezone", timeZone), zap.Error(err))
		}
	}

	// Connect to NATS
	opts := []nats.Option{
		nats.Name(viper.GetString("app.name")),
		nats.MaxReconnects(viper.GetInt("nats.max_reconnects")),
		nats.ReconnectWait(viper.GetDuration("nats.reconnect_wait")),
		nats.Timeout(viper.GetDuration("nats.connect_timeout")),
		nats.PingInterval(20 * time.Second),
		nats.MaxPingsOutstanding(5),
		nats.DrainTimeout(30 * time.Second),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			logger.Error("NATS connection error",
				zap.String("subject", sub.Subject),
				zap.Error(err))
		}),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected",
				zap.String("url", nc.ConnectedUrl()))
		}),
	}

	// Connect with retry
	var nc *nats.Conn
	maxRetries := 5
	for i := 0; i < maxRetries; i++ {
		nc, err = nats.Connect(viper.GetString("nats.urls.0"), opts...)
		if err == nil {
			break
		}
		logger.Warn("Failed to connect to NATS, retrying...",
			zap.Int("attempt", i+1),
			zap.Error(err))
		time.Sleep(time.Second * time.Duration(i+1))
	}
	if err != nil {
		logger.Fatal("Failed to connect to NATS after retries", zap.Error(err))
	}
	defer nc.Close()

	logger.Info("Connected to NATS successfully",
		zap.String("url", nc.ConnectedUrl()))

	// Build the scheduler environment
	env := &registry.Environment{
		Logger:              logger,
		TimeZone:            timeZone,
		Location:            location,
		Use24HourFormat:     viper.GetBool("scheduler.use_24_hour_format"),
		DefaultLocation:     viper.GetString("scheduler.default_location"),
		DefaultLocationType: model.LocationType(viper.GetString("scheduler.default_location_type")),
	}

	reg := registry.New(env)
	tr := tracker.New(env, reg)
	d := dispatch.New(env, reg, tr)

	var transportCfg dispatch.TransportConfig
	if err := viper.UnmarshalKey("transport", &transportCfg); err != nil {
		logger.Fatal("Invalid transport configuration", zap.Error(err))
	}
	transport := dispatch.NewTransport(nc, d, transportCfg, logger)
	env.Emitter = transport

	// Persistence store; a failure here disables persistence but
	// never scheduling.
	var storeCfg persist.Config
	if err := viper.UnmarshalKey("persistence", &storeCfg); err != nil {
		logger.Fatal("Invalid persistence configuration", zap.Error(err))
	}
	store, err := persist.Open(storeCfg, logger)
	if err != nil {
		logger.Warn("Persistence unavailable, continuing in-memory", zap.Error(err))
		store, _ = persist.Open(persist.Config{Backend: "none"}, logger)
	}
	defer store.Close()
	bridge := persist.NewBridge(reg, store, logger, viper.GetDuration("persistence.save_interval"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg.Start()

	// Static schedules from configuration
	var staticOptions []*model.Option
	if err := viper.UnmarshalKey("schedules", &staticOptions); err != nil {
		logger.Fatal("Invalid schedules configuration", zap.Error(err))
	}
	for i, opt := range staticOptions {
		if _, err := reg.Create(opt, i, true); err != nil {
			logger.Warn("Static schedule rejected",
				zap.Int("index", i), zap.Error(err))
		}
	}

	// Restore persisted dynamic schedules and counters
	if err := bridge.Restore(ctx); err != nil {
		logger.Warn("Restore failed", zap.Error(err))
	}
	bridge.Start()

	if err := transport.Start(ctx); err != nil {
		logger.Fatal("Failed to start transport", zap.Error(err))
	}

	clockMonitor := monitor.NewClockMonitor(logger,
		viper.GetDuration("scheduler.clock_drift_threshold"), reg.Refresh)
	clockMonitor.Start()

	stateEmitter := tracker.NewStateEmitter(env, tr,
		viper.GetDuration("scheduler.state_emit_interval"))
	stateEmitter.Start()

	logger.Info("Scheduler started",
		zap.String("timezone", timeZone),
		zap.Int("staticSchedules", len(staticOptions)))

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("Received shutdown signal", zap.String("signal", sig.String()))

	stateEmitter.Stop()
	clockMonitor.Stop()
	transport.Close()
	reg.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	bridge.Stop(shutdownCtx)

	if err := nc.Drain(); err != nil {
		logger.Warn("NATS drain failed", zap.Error(err))
	}
	logger.Info("Scheduler stopped")
}
