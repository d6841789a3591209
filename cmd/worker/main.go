package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"dumpsite-dispatch/internal/app"
	"dumpsite-dispatch/internal/config"
	"dumpsite-dispatch/internal/releaser"
	"dumpsite-dispatch/internal/telemetry"
)

// The standalone release runner. It only makes sense with the Redis scheduler,
// which lets API processes arm releases that this process fires.
func main() {
	config.LoadDotEnv()
	cfg := config.Load()
	if cfg.SchedulerBackend != "redis" {
		log.Fatalf("release runner needs SCHEDULER_BACKEND=redis, got %q", cfg.SchedulerBackend)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	shutdownTracing, err := telemetry.InitTracing(ctx, cfg)
	if err != nil {
		log.Fatalf("init tracing: %v", err)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	a, err := app.Build(ctx, cfg)
	if err != nil {
		log.Fatalf("build app: %v", err)
	}
	defer a.Close()

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			log.Printf("metrics server stopped: %v", err)
		}
	}()

	processor := releaser.NewProcessor(cfg, a.Timers, a.Engine, a.Workers)
	log.Printf("release runner started poll=%s batch=%d backoff_initial=%s", cfg.ReleasePollInterval, cfg.ReleaseBatchSize, cfg.BackoffInitial)
	if err := processor.Run(ctx); err != nil && ctx.Err() == nil {
		log.Printf("release runner stopped: %v", err)
	}
}
