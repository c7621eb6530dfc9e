package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"synthpipe/internal/config"
	"synthpipe/internal/logger"
	"synthpipe/internal/pipeline"
	"synthpipe/internal/queue"
	"synthpipe/internal/store"
	"synthpipe/internal/telemetry"
	"synthpipe/internal/tracker"
	"synthpipe/internal/worker"
)

// Standalone runner for scaled-out deployments. It needs the Postgres
// mirror to hydrate job configurations submitted by the API process.
func main() {
	cfg := config.Load()
	log := logger.New(logger.Config{Level: "info", Service: "synthpipe-runner"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	var mirror pipeline.StatusMirror
	if cfg.PostgresDSN != "" {
		st, err := store.New(ctx, cfg.PostgresDSN)
		if err != nil {
			log.WithError(err).Fatal("connect postgres")
		}
		defer st.Close()
		if err := st.RunMigrations(ctx); err != nil {
			log.WithError(err).Fatal("migrations")
		}
		mirror = st
	} else {
		log.Warn("no POSTGRES_DSN; jobs submitted by other processes cannot be hydrated")
	}

	q := queue.NewRedisQueue(cfg)
	tr := tracker.New(cfg.HealthWindow)

	gen, err := worker.NewGenerator(ctx, cfg)
	if err != nil {
		log.WithError(err).Fatal("init generator")
	}

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			log.WithError(err).Warn("metrics server stopped")
		}
	}()

	runner := worker.NewRunner(cfg, q, tr, gen, mirror, log)
	log.WithField("poll", cfg.RunnerPollInterval.String()).Info("runner started")
	if err := runner.Run(ctx); err != nil && ctx.Err() == nil {
		log.WithError(err).Error("runner stopped")
	}
}
