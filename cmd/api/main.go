package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	api "dumpsite-dispatch/internal/api"
	"dumpsite-dispatch/internal/app"
	"dumpsite-dispatch/internal/blob"
	"dumpsite-dispatch/internal/classifier"
	"dumpsite-dispatch/internal/config"
	"dumpsite-dispatch/internal/releaser"
	"dumpsite-dispatch/internal/report"
	"dumpsite-dispatch/internal/telemetry"
)

func main() {
	config.LoadDotEnv()
	cfg := config.Load()

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

	uploader, err := blob.NewFromConfig(ctx, cfg)
	if err != nil {
		log.Fatalf("init evidence storage: %v", err)
	}
	reports := report.NewService(a.Jobs, classifier.NewBrightness(), uploader,
		report.WithLimiter(a.Limiter),
		report.WithZones(cfg.Zones),
		report.WithThumbnailWidth(cfg.ThumbnailWidth),
	)

	// A local schedule lives in this process, so this process must also fire it.
	if cfg.SchedulerBackend != "redis" {
		proc := releaser.NewProcessor(cfg, a.Timers, a.Engine, a.Workers)
		go func() {
			if err := proc.Run(ctx); err != nil && ctx.Err() == nil {
				log.Printf("release runner stopped: %v", err)
			}
		}()
	}

	server := api.New(cfg, a.Engine, a.Workers, reports)
	httpServer := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Printf("api listening on :%s store=%s scheduler=%s", cfg.HTTPPort, cfg.StoreBackend, cfg.SchedulerBackend)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
}
