package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"synthpipe/internal/api"
	"synthpipe/internal/config"
	"synthpipe/internal/logger"
	"synthpipe/internal/pipeline"
	"synthpipe/internal/queue"
	"synthpipe/internal/ratelimit"
	"synthpipe/internal/store"
	"synthpipe/internal/tracker"
	"synthpipe/internal/worker"
)

func main() {
	cfg := config.Load()
	log := logger.New(logger.Config{Level: "info", Service: "synthpipe-api"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	tr := tracker.New(cfg.HealthWindow)

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
	}

	var svc pipeline.Service
	switch cfg.PipelineMode {
	case config.ModeRemote:
		svc = pipeline.NewRemoteAdapter(cfg, tr, log)
	default:
		q := queue.NewRedisQueue(cfg)
		svc = pipeline.NewSimulator(cfg, tr, q, mirror, log)

		if cfg.EmbeddedRunner {
			gen, err := worker.NewGenerator(ctx, cfg)
			if err != nil {
				log.WithError(err).Fatal("init generator")
			}
			runner := worker.NewRunner(cfg, q, tr, gen, mirror, log)
			go func() {
				if err := runner.Run(ctx); err != nil && ctx.Err() == nil {
					log.WithError(err).Error("runner stopped")
				}
			}()
		}
	}

	var limiter *ratelimit.TokenBucket
	if cfg.RateLimitCapacity > 0 {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		limiter = ratelimit.NewTokenBucket(client, cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour)
	}

	server := api.New(svc, limiter, log)
	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: server.Router(),
	}

	log.WithField("port", cfg.HTTPPort).WithField("mode", cfg.PipelineMode).Info("api listening")
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("listen")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
}
