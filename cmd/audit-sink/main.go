package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/duashare/project/internal/app/auditlog"
	"github.com/duashare/project/internal/platform/dbpool"
	"github.com/duashare/project/internal/platform/env"
	"github.com/duashare/project/internal/platform/health"
	"github.com/duashare/project/internal/platform/logging"
	"github.com/duashare/project/internal/platform/metrics"
	"github.com/duashare/project/internal/platform/natsutil"
)

func main() {
	env.Load()
	logger := logging.New("audit-sink", env.String("LOG_LEVEL", "info"), env.String("LOG_FORMAT", "json"))

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := dbpool.New(runCtx, env.String("DATABASE_URL", env.DefaultDatabaseURL))
	if err != nil {
		logger.Fatal().Err(err).Msg("create postgres pool")
	}
	defer pool.Close()

	repo := auditlog.NewPostgresRepository(pool)
	if err := dbpool.WaitForSchema(runCtx, pool, repo, 30*time.Second, logger); err != nil {
		logger.Fatal().Err(err).Msg("prepare audit schema")
	}
	service := auditlog.NewService(repo)

	client, err := natsutil.ConnectJetStreamWithRetry(
		env.String("NATS_URL", env.DefaultNATSURL),
		"audit-sink",
		env.Duration("NATS_CONNECT_TIMEOUT", 20*time.Second),
		logger,
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect jetstream")
	}
	defer client.Close()

	sub, err := service.Subscribe(runCtx, client.JS, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("subscribe to change stream")
	}
	defer func() { _ = sub.Drain() }()
	logger.Info().Str("subject", sub.Subject).Str("consumer", auditlog.ConsumerName).Msg("audit sink listening")

	mux := http.NewServeMux()
	health.Mount(mux, health.NATS(client.Conn), health.Ping("postgres", pool))
	mux.Handle("/metrics", metrics.DefaultHandler())
	addr := env.String("AUDIT_SINK_ADDR", ":8082")
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("health server failed")
		}
	}()

	<-runCtx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
}
