// Command wearsyncd runs the companion-device sync and telemetry engine
// as a standalone daemon. With no PEER_URL configured it runs against
// an in-process loopback peer and the simulated sensor platform, which
// is enough to exercise every engine path without hardware.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/taishanglaojun/wearsync/pkg/config"
	"github.com/taishanglaojun/wearsync/pkg/connectivity"
	"github.com/taishanglaojun/wearsync/pkg/engine"
	"github.com/taishanglaojun/wearsync/pkg/model"
	"github.com/taishanglaojun/wearsync/pkg/observability"
	"github.com/taishanglaojun/wearsync/pkg/sensors"
	"github.com/taishanglaojun/wearsync/pkg/store"
	"github.com/taishanglaojun/wearsync/pkg/taskstore"
	"github.com/taishanglaojun/wearsync/pkg/transport"

	"golang.org/x/time/rate"
)

func main() {
	cfg := config.Load()
	profile := config.LoadProfileOrDefault(cfg.ProfileDir, "watch")

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	obs, err := observability.New(ctx, &observability.Config{
		ServiceName:  "wearsync-engine",
		OTLPEndpoint: cfg.OTLPEndpoint,
		Enabled:      cfg.OTLPEndpoint != "",
		Insecure:     true,
		Interval:     30 * time.Second,
	})
	if err != nil {
		logger.Error("observability init failed", "error", err)
		os.Exit(1)
	}
	defer func() { _ = obs.Shutdown(context.Background()) }()

	backend, err := openBackend(cfg)
	if err != nil {
		logger.Error("storage init failed", "error", err)
		os.Exit(1)
	}
	tasks := taskstore.New(backend)
	defer func() { _ = tasks.Close() }()

	peer := openTransport(cfg, profile)

	link := connectivity.New(connectivity.Config{
		BackoffBase: profile.BackoffBase(),
		BackoffMax:  profile.BackoffMax(),
	}, peer, tasks, connectivity.WithObservability(obs))
	defer func() { _ = link.Close() }()

	sim := sensors.NewSimPlatform()
	defer sim.Shutdown()

	sensorMgr := sensors.New(sensors.Config{
		HeartRateStaleness: profile.HeartRateStaleness(),
		SessionRate:        rate.Limit(profile.SensorRateLimit),
		SessionBurst:       profile.SensorRateBurst,
	}, sim, sensors.WithObservability(obs))
	defer sensorMgr.Close()

	orch := engine.New(tasks, link, sensorMgr)

	if err := orch.RefreshData(ctx); err != nil {
		logger.Error("initial refresh failed, continuing offline", "error", err)
	}
	if err := sensorMgr.Start(ctx); err != nil {
		logger.Warn("passive telemetry unavailable", "error", err)
	}
	if err := orch.StartHeartRateMonitoring(ctx); err != nil {
		logger.Warn("heart rate monitoring unavailable", "error", err)
	}

	ticker := time.NewTicker(profile.SyncInterval())
	defer ticker.Stop()

	logger.Info("wearsync engine running",
		"device", cfg.DeviceID,
		"storage", cfg.StorageBackend,
		"sync_interval", profile.SyncInterval(),
	)

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			return
		case <-ticker.C:
			if err := orch.ForceSync(ctx); err != nil {
				logger.Warn("periodic sync failed", "error", err)
				continue
			}
			stats := orch.Statistics()
			totals := sensorMgr.TodaysHealthData()
			logger.Info("periodic sync",
				"tasks_total", stats.Total,
				"tasks_active", stats.Active,
				"steps", totals.Steps,
				"goal_met", orch.HealthGoalMet(),
			)
		}
	}
}

func openBackend(cfg *config.Config) (taskstore.Backend, error) {
	if strings.EqualFold(cfg.StorageBackend, "redis") {
		return store.NewRedisBackend(cfg.RedisAddr, "", 0), nil
	}
	return store.OpenSQLite(cfg.StoragePath)
}

func openTransport(cfg *config.Config, profile *config.DeviceProfile) connectivity.PeerTransport {
	if cfg.PeerURL == "" {
		lb := transport.NewLoopback()
		seedDemoTasks(lb)
		return lb
	}
	tcfg := transport.DefaultHTTPConfig(cfg.PeerURL, cfg.DeviceID, []byte(cfg.PairingSecret))
	tcfg.RequestTimeout = profile.RequestTimeout()
	tcfg.MaxRetries = profile.MaxRetries
	return transport.NewHTTPPeer(tcfg)
}

func seedDemoTasks(lb *transport.Loopback) {
	now := time.Now()
	due := now.Add(4 * time.Hour)
	lb.SeedTask(model.Task{
		ID:        "demo-morning-walk",
		Title:     "Morning walk",
		Status:    model.TaskPending,
		Priority:  model.PriorityMedium,
		DueAt:     &due,
		UpdatedAt: now,
	})
	lb.SeedTask(model.Task{
		ID:        "demo-stretch",
		Title:     "Stretch break",
		Status:    model.TaskPending,
		Priority:  model.PriorityLow,
		UpdatedAt: now,
	})
}

func logLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
