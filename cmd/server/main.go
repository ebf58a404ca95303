package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strings"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Tyrowin/gocollab/internal/access"
	"github.com/Tyrowin/gocollab/internal/activity"
	"github.com/Tyrowin/gocollab/internal/auth"
	"github.com/Tyrowin/gocollab/internal/config"
	"github.com/Tyrowin/gocollab/internal/server"
	"github.com/Tyrowin/gocollab/internal/store"
)

func main() {
	config.LoadDotEnv()
	cfg := config.NewConfigFromEnv()
	setupLogger(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("starting gocollab server", "port", cfg.Port, "presence", cfg.PresenceScope,
		"activity", cfg.Activity.Backend)

	ctx := context.Background()

	var pool *pgxpool.Pool
	var permissions access.PermissionStore
	var accessCache server.CacheReporter
	if cfg.DatabaseURL != "" {
		var err error
		pool, err = store.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		permissions = store.NewPostgres(pool)

		if cfg.RedisURL != "" {
			rdb, err := store.NewRedisClient(ctx, cfg.RedisURL)
			if err != nil {
				slog.Warn("redis unavailable, access checks will not be cached", "error", err)
			} else {
				cached := store.NewCachedPermissions(permissions, rdb, "", cfg.AccessCacheTTL)
				permissions, accessCache = cached, cached
				defer func() {
					if err := rdb.Close(); err != nil {
						slog.Warn("failed to close redis client", "error", err)
					}
				}()
			}
		}
	} else {
		slog.Warn("DATABASE_URL not set; only claim-scoped team and project joins will succeed")
	}

	sink, closeSink := newActivitySink(ctx, cfg, pool)
	queue := activity.NewQueue(sink, activity.QueueConfig{
		Size:    cfg.Activity.QueueSize,
		Workers: cfg.Activity.Workers,
		Timeout: cfg.Activity.Timeout,
	})
	if err := queue.Start(); err != nil {
		slog.Error("failed to start activity queue", "error", err)
		os.Exit(1)
	}

	collab := server.NewServer(*cfg, server.Options{
		Authenticator: auth.NewJWTAuthenticator(cfg.Auth.Secret, cfg.Auth.Issuer),
		Guard:         access.NewGuard(permissions, cfg.AccessCheckTimeout),
		Activity:      queue,
		AccessCache:   accessCache,
	})
	httpServer := server.CreateServer(cfg.Port, collab.SetupRoutes())

	go func() {
		if err := server.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Stages run in order: stop accepting, drop connections, then flush activity.
	ops := map[string]gfshutdown.Operation{"server": func(ctx context.Context) error {
		var errs []error
		if err := server.ShutdownServer(ctx, httpServer); err != nil {
			errs = append(errs, err)
		}
		if err := collab.Shutdown(cfg.ShutdownTimeout); err != nil {
			errs = append(errs, err)
		}
		if err := queue.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
		if closeSink != nil {
			closeSink()
		}
		if pool != nil {
			pool.Close()
		}
		return errors.Join(errs...)
	}}

	wait := gfshutdown.GracefulShutdown(ctx, cfg.ShutdownTimeout, ops)
	exitCode := <-wait
	slog.Info("server exited", "code", exitCode)
	if exitCode != 0 {
		os.Exit(exitCode)
	}
}

// newActivitySink builds the configured activity sink and returns a cleanup
// function for any connection it opened.
func newActivitySink(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) (activity.Sink, func()) {
	logSink := activity.LogSink{Logger: slog.Default()}

	switch cfg.Activity.Backend {
	case config.ActivityPostgres:
		if pool == nil {
			slog.Warn("postgres activity backend needs DATABASE_URL, logging activity instead")
			return logSink, nil
		}
		return activity.NewPostgresSink(pool), nil

	case config.ActivityMongo:
		client, coll, err := activity.ConnectMongo(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			slog.Warn("mongodb unavailable, logging activity instead", "error", err)
			return logSink, nil
		}
		return activity.NewMongoSink(coll), func() {
			if err := client.Disconnect(context.Background()); err != nil {
				slog.Warn("failed to disconnect from mongodb", "error", err)
			}
		}
	}
	return logSink, nil
}

func setupLogger(level string) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})))
}
