package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/castradar/sponsor-analytics/internal/automation"
	"github.com/castradar/sponsor-analytics/internal/catalog"
	"github.com/castradar/sponsor-analytics/internal/config"
	"github.com/castradar/sponsor-analytics/internal/database"
	"github.com/castradar/sponsor-analytics/internal/matchmaking"
	"github.com/castradar/sponsor-analytics/internal/pkg/distlock"
	"github.com/castradar/sponsor-analytics/internal/pkg/logger"
	"github.com/castradar/sponsor-analytics/internal/scheduler"
	"github.com/castradar/sponsor-analytics/internal/telemetry"
)

const (
	exitBootstrapFailure = 1
	exitConfigError      = 2
)

// The worker binary hosts the recurring side of the system: the smart
// scheduler with the automation jobs enabled, plus the RSS catalog
// syncer. The API binary shares the same job definitions but never
// fires them from the cron scan.
func main() {
	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		logger.Error("config load failed", "error", err)
		os.Exit(exitConfigError)
	}
	logger.SetLevel(logger.ParseLevel(os.Getenv("LOG_LEVEL")))

	db, err := database.Open(cfg.Database)
	if err != nil {
		logger.Error("database open failed", "error", err)
		os.Exit(exitBootstrapFailure)
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bootCtx, bootCancel := context.WithTimeout(ctx, 30*time.Second)
	err = db.Bootstrap(bootCtx)
	bootCancel()
	if err != nil {
		logger.Error("time-series bootstrap failed", "error", err)
		os.Exit(exitBootstrapFailure)
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr(),
			Password: cfg.Redis.Password,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, advisory locks fall back to postgres",
				"addr", cfg.Redis.Addr(), "error", err)
			redisClient = nil
		}
	}

	metrics := telemetry.NewMetrics()
	events := telemetry.NewRecorder(db)

	matches := matchmaking.NewStore(db, matchmaking.NewScorer(), metrics)
	locks := distlock.NewFactory(redisClient, db.Primary())
	recalc := matchmaking.NewRecalculator(matches, locks, metrics, events)
	jobs := automation.NewJobs(db, recalc, metrics, events)

	sched := scheduler.New(cfg.Scheduler, metrics, scheduler.NewTaskStore(db))
	if err := jobs.RegisterSchedules(sched, cfg.Automation.Enabled); err != nil {
		logger.Error("job registration failed", "error", err)
		os.Exit(exitBootstrapFailure)
	}
	if err := sched.Restore(ctx); err != nil {
		logger.Warn("job checkpoint restore failed, running from registration defaults", "error", err)
	}
	sched.Start()
	logger.Info("scheduler started", "automation_enabled", cfg.Automation.Enabled)

	var syncer *catalog.Syncer
	if cfg.Catalog.Enabled {
		syncer = catalog.NewSyncer(catalog.NewStore(db), cfg.Catalog)
		syncer.Start()
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)
	<-done

	logger.Info("shutting down worker")
	cancel()
	if syncer != nil {
		syncer.Stop()
	}
	sched.Stop()
	logger.Info("worker stopped")
}
