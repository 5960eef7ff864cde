package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/castradar/sponsor-analytics/internal/api"
	"github.com/castradar/sponsor-analytics/internal/attribution"
	"github.com/castradar/sponsor-analytics/internal/automation"
	"github.com/castradar/sponsor-analytics/internal/config"
	"github.com/castradar/sponsor-analytics/internal/database"
	"github.com/castradar/sponsor-analytics/internal/matchmaking"
	"github.com/castradar/sponsor-analytics/internal/pkg/distlock"
	"github.com/castradar/sponsor-analytics/internal/pkg/logger"
	"github.com/castradar/sponsor-analytics/internal/reports"
	"github.com/castradar/sponsor-analytics/internal/scheduler"
	"github.com/castradar/sponsor-analytics/internal/telemetry"
)

const (
	exitBootstrapFailure = 1
	exitConfigError      = 2
)

// checkPortAvailable verifies that the target port is not already in
// use, so a stale process fails fast instead of racing the listener.
func checkPortAvailable(host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("port %d is already in use (addr %s): %w", port, addr, err)
	}
	ln.Close()
	return nil
}

func main() {
	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		logger.Error("config load failed", "error", err)
		os.Exit(exitConfigError)
	}
	logger.SetLevel(logger.ParseLevel(os.Getenv("LOG_LEVEL")))

	host := cfg.Server.GetHost()
	port := cfg.Server.Port
	if port == 0 {
		port = 8080
	}
	if err := checkPortAvailable(host, port); err != nil {
		logger.Error("pre-flight check failed", "error", err)
		os.Exit(exitBootstrapFailure)
	}

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
			logger.Warn("redis unreachable, continuing without cache",
				"addr", cfg.Redis.Addr(), "error", err)
			redisClient = nil
		}
	}

	metrics := telemetry.NewMetrics()
	events := telemetry.NewRecorder(db)

	store := attribution.NewStore(db, metrics, events)
	calculator := attribution.NewCalculator(metrics)
	matches := matchmaking.NewStore(db, matchmaking.NewScorer(), metrics)
	matches.SetCache(database.NewCache(redisClient))
	locks := distlock.NewFactory(redisClient, db.Primary())
	recalc := matchmaking.NewRecalculator(matches, locks, metrics, events)
	jobs := automation.NewJobs(db, recalc, metrics, events)

	// The API instance hosts the scheduler for on-demand orchestration
	// only; recurring schedules fire from cmd/worker, which also owns
	// the checkpoint rows.
	sched := scheduler.New(cfg.Scheduler, metrics, nil)
	if err := jobs.RegisterSchedules(sched, false); err != nil {
		logger.Error("job registration failed", "error", err)
		os.Exit(exitBootstrapFailure)
	}
	sched.Start()

	h := api.NewHandlers(cfg, store, calculator, matches, jobs, sched, metrics)
	if cfg.Reports.Enabled {
		exporter, err := reports.NewS3Exporter(ctx, cfg.Reports)
		if err != nil {
			logger.Warn("report exporter unavailable, report routes disabled", "error", err)
		} else {
			h.SetReportExporter(reports.NewBuilder(store, calculator), exporter)
		}
	}
	router := api.SetupRoutes(h)

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", host, port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	done := make(chan os.Signal, 1)
	signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		logger.Error("server failed", "error", err)
		os.Exit(exitBootstrapFailure)
	case sig := <-done:
		logger.Info("shutting down", "signal", sig.String())
	}

	cancel()
	sched.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	logger.Info("server stopped")
}
