package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/duashare/project/internal/app/backend"
	"github.com/duashare/project/internal/app/feedstream"
	"github.com/duashare/project/internal/app/prayers"
	"github.com/duashare/project/internal/platform/auth"
	"github.com/duashare/project/internal/platform/dbpool"
	"github.com/duashare/project/internal/platform/env"
	"github.com/duashare/project/internal/platform/health"
	"github.com/duashare/project/internal/platform/httpmw"
	"github.com/duashare/project/internal/platform/logging"
	"github.com/duashare/project/internal/platform/metrics"
	"github.com/duashare/project/internal/platform/natsutil"
	"github.com/duashare/project/internal/platform/session"
)

func main() {
	env.Load()
	logger := logging.New("feed-streamer", env.String("LOG_LEVEL", "info"), env.String("LOG_FORMAT", "json"))

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	streamerAddr := env.String("FEED_STREAMER_ADDR", env.DefaultStreamerAddr)
	shutdownTimeout := env.Duration("SHUTDOWN_TIMEOUT", 10*time.Second)

	pool, err := dbpool.New(runCtx, env.String("DATABASE_URL", env.DefaultDatabaseURL))
	if err != nil {
		logger.Fatal().Err(err).Msg("create postgres pool")
	}
	defer pool.Close()

	repo := prayers.NewPostgresRepository(pool)
	if err := dbpool.WaitForSchema(runCtx, pool, repo, 30*time.Second, logger); err != nil {
		logger.Fatal().Err(err).Msg("prepare prayers schema")
	}

	client, err := natsutil.ConnectJetStreamWithRetry(
		env.String("NATS_URL", env.DefaultNATSURL),
		"feed-streamer",
		env.Duration("NATS_CONNECT_TIMEOUT", 90*time.Second),
		logger,
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect jetstream")
	}
	defer client.Close()

	sessions := session.Open(
		env.String("REDIS_ADDR", ""),
		env.String("REDIS_USERNAME", ""),
		env.String("REDIS_PASSWORD", ""),
		env.Int("REDIS_DB", 0),
	)
	defer sessions.Close()

	admin := auth.NewAdminService(
		auth.NewPasswordGate(env.String("ADMIN_PASSWORD", ""), env.String("ADMIN_PASSWORD_BCRYPT", "")),
		auth.NewManager(env.String("JWT_SECRET", "dev-insecure-change-me"), env.Duration("SESSION_TTL", 12*time.Hour)),
		sessions,
	)

	publisher := natsutil.JetStreamPublisher{JS: client.JS}
	service := prayers.NewService(repo, publisher.Publish, logger)
	feedBackend := backend.NewClient(service, client.JS, logger)
	feedBackend.Reconnects = client.NotifyReconnect

	registry := feedstream.NewRegistry(feedBackend, logger)
	defer registry.Close()

	handler := feedstream.NewHandler(registry, admin, logger)
	handler.SecureCookie = env.Bool("SECURE_COOKIES", false)
	handler.LoadTimeout = env.Duration("FEED_LOAD_TIMEOUT", 5*time.Second)

	mux := http.NewServeMux()
	health.Mount(mux, health.NATS(client.Conn), health.Ping("postgres", pool), health.Ping("sessions", sessions))
	mux.Handle("/metrics", metrics.DefaultHandler())
	mux.Handle("/", handler.Router())

	server := &http.Server{
		Addr:              streamerAddr,
		Handler:           httpmw.RequestID(httpmw.Logger(logger)(mux)),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// No WriteTimeout: SSE responses stay open.
		IdleTimeout: 120 * time.Second,
		// Streams end when the process is asked to stop.
		BaseContext: func(net.Listener) context.Context { return runCtx },
	}

	logger.Info().Str("addr", streamerAddr).Msg("feed streamer listening")
	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		logger.Fatal().Err(err).Msg("http server failed")
	case <-runCtx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
}
