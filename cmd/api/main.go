package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bankfeed/internal/infrastructure/postgres/listener"
	"bankfeed/internal/interfaces/scheduler"
	"bankfeed/internal/shared/config"
	"bankfeed/internal/shared/telemetry"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Telemetry.Enabled {
		shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
			ServiceName:  cfg.Telemetry.ServiceName,
			Environment:  cfg.Telemetry.Environment,
			OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
			MetricsPort:  cfg.Telemetry.MetricsPort,
			SampleRatio:  cfg.Telemetry.SampleRatio,
		})
		if err != nil {
			return err
		}
		defer func() {
			tctx, tcancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer tcancel()
			if err := shutdownTelemetry(tctx); err != nil {
				log.Printf("Error shutting down telemetry: %v", err)
			}
		}()
		log.Println("Telemetry initialized")
	}

	deps, err := NewDependencies(ctx, cfg)
	if err != nil {
		return err
	}
	defer deps.Close()

	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched, err = scheduler.NewScheduler(scheduler.SchedulerConfig{
			Interval:     cfg.Scheduler.Interval,
			WorkerCount:  cfg.Scheduler.WorkerCount,
			JobDelay:     cfg.Scheduler.JobDelay,
			QueueSize:    cfg.Scheduler.QueueSize,
			RunOnStartup: cfg.Scheduler.RunOnStartup,
			JobProvider:  scheduler.EnrollmentJobs(deps.SyncService),
		})
		if err != nil {
			return err
		}
		sched.Start()
		log.Printf("Scheduler started, syncing every %s", cfg.Scheduler.Interval)
	} else {
		log.Println("Scheduler is disabled")
	}

	syncListener := listener.NewSyncListener(cfg.Database.ConnectionString(), syncRequestHandler(deps, sched))
	syncListener.Start(ctx)

	handler := SetupRoutes(deps, cfg)
	servers := StartServers(NewServerConfigFromConfig(handler, cfg))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var serveErr error
	select {
	case sig := <-quit:
		log.Printf("Received %s", sig)
	case serveErr = <-servers.Errors:
		log.Printf("Server failed: %v", serveErr)
	}

	cancel()
	GracefulShutdown(servers, syncListener, sched, shutdownTimeout)
	return serveErr
}

// syncRequestHandler turns a published sync request into a job. Jobs go
// through the scheduler's pool when it runs, otherwise they run inline.
func syncRequestHandler(deps *Dependencies, sched *scheduler.Scheduler) listener.Handler {
	return func(ctx context.Context, req listener.SyncRequest) {
		var job scheduler.Job
		if req.EnrollmentID != "" {
			job = scheduler.NewEnrollmentSyncJob(req.UserID, req.EnrollmentID, deps.SyncService)
		} else {
			job = scheduler.NewUserSyncJob(req.UserID, deps.SyncService)
		}

		if sched != nil {
			if err := sched.Submit(job); err != nil {
				log.Printf("Sync request for %s not queued: %v", job.Description(), err)
			}
			return
		}

		if err := job.Execute(ctx); err != nil {
			log.Printf("Sync request for %s failed: %v", job.Description(), err)
		}
	}
}
