package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/repostdhq/repostd/internal/auth"
	"github.com/repostdhq/repostd/internal/classify"
	"github.com/repostdhq/repostd/internal/config"
	"github.com/repostdhq/repostd/internal/db"
	"github.com/repostdhq/repostd/internal/fanout"
	"github.com/repostdhq/repostd/internal/handlers"
	"github.com/repostdhq/repostd/internal/imagegen"
	"github.com/repostdhq/repostd/internal/ingest"
	"github.com/repostdhq/repostd/internal/listener"
	"github.com/repostdhq/repostd/internal/logger"
	"github.com/repostdhq/repostd/internal/platform"
	"github.com/repostdhq/repostd/internal/platform/telegram"
	"github.com/repostdhq/repostd/internal/prune"
	"github.com/repostdhq/repostd/internal/rewrite"
	"github.com/repostdhq/repostd/internal/server"
	"github.com/repostdhq/repostd/internal/session"
	"github.com/repostdhq/repostd/internal/store"
	"github.com/repostdhq/repostd/internal/workpool"
)

func runServe() {
	fx.New(
		fx.Provide(
			provideConfig,
			provideLogger,
			provideDBConn,
			provideStore,
			provideCredentials,
			providePool,
			provideClassifier,
			provideRewriter,
			provideImageGen,
			provideSender,
			provideDialer,
			provideFanoutRouter,
			provideIngestHandler,
			provideListeners,
			provideSessionManager,
			providePruneJob,
			providePingHandler,
			provideAuthHandler,
			provideAccountHandler,
			provideChannelHandler,
			provideTopicHandler,
			provideStatusHandler,
			provideServer,
		),
		fx.Invoke(
			applyMigrations,
			seedTopics,
			startPool,
			startSessions,
			startPrune,
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func provideConfig() (config.Config, error) {
	cfgPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideDBConn(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	conn, err := db.Open(context.Background(), cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { conn.Close(); return nil }})
	return conn, nil
}

func provideStore(log *slog.Logger, conn *pgxpool.Pool) *store.Store {
	return store.New(log, conn)
}

func provideCredentials(cfg config.Config) (*auth.Credentials, error) {
	return auth.NewCredentials(cfg.Admin.Username, cfg.Admin.Password)
}

func providePool(log *slog.Logger, cfg config.Config) *workpool.Pool {
	return workpool.New(log, cfg.Pool.Workers, cfg.Pool.QueueSize)
}

func provideClassifier(log *slog.Logger, cfg config.Config) *classify.Client {
	return classify.NewClient(log, cfg.Classifier)
}

func provideRewriter(log *slog.Logger, cfg config.Config) *rewrite.Client {
	return rewrite.NewClient(log, cfg.Rewriter)
}

func provideImageGen(log *slog.Logger, cfg config.Config) *imagegen.Client {
	return imagegen.NewClient(log, cfg.ImageGen)
}

func provideSender(log *slog.Logger, cfg config.Config) platform.Sender {
	return telegram.NewSender(log, cfg.Telegram.BotToken)
}

func provideDialer(log *slog.Logger) platform.Dialer {
	return telegram.NewDialer(log)
}

func provideFanoutRouter(log *slog.Logger, st *store.Store, sender platform.Sender, rewriter *rewrite.Client, images *imagegen.Client, pool *workpool.Pool) *fanout.Router {
	return fanout.NewRouter(log, st, sender, rewriter, images, pool)
}

func provideIngestHandler(log *slog.Logger, st *store.Store, classifier *classify.Client, router *fanout.Router, pool *workpool.Pool) *ingest.Handler {
	return ingest.NewHandler(log, st, classifier, router, pool)
}

func provideListeners(log *slog.Logger, handler *ingest.Handler) *listener.Registry {
	return listener.NewRegistry(log, handler.Handle)
}

func provideSessionManager(log *slog.Logger, st *store.Store, dialer platform.Dialer, listeners *listener.Registry, cfg config.Config) *session.Manager {
	return session.NewManager(log, st, dialer, listeners, cfg.Sessions.Dir)
}

func providePruneJob(log *slog.Logger, st *store.Store, cfg config.Config) (*prune.Job, error) {
	return prune.NewJob(log, st, cfg.Retention)
}

func providePingHandler(log *slog.Logger) *handlers.PingHandler {
	return handlers.NewPingHandler(log)
}

func provideAuthHandler(creds *auth.Credentials, cfg config.Config) *handlers.AuthHandler {
	return handlers.NewAuthHandler(creds, cfg.Auth.JWTSecret, cfg.Auth.ExpiresIn())
}

func provideAccountHandler(st *store.Store, sessions *session.Manager) *handlers.AccountHandler {
	return handlers.NewAccountHandler(st, sessions)
}

func provideChannelHandler(log *slog.Logger, st *store.Store, sessions *session.Manager, listeners *listener.Registry, sender platform.Sender) *handlers.ChannelHandler {
	return handlers.NewChannelHandler(log, st, sessions, listeners, sender)
}

func provideTopicHandler(st *store.Store) *handlers.TopicHandler {
	return handlers.NewTopicHandler(st)
}

func provideStatusHandler(sessions *session.Manager, listeners *listener.Registry) *handlers.StatusHandler {
	return handlers.NewStatusHandler(sessions, listeners)
}

func provideServer(cfg config.Config, pingHandler *handlers.PingHandler, authHandler *handlers.AuthHandler, accountHandler *handlers.AccountHandler, channelHandler *handlers.ChannelHandler, topicHandler *handlers.TopicHandler, statusHandler *handlers.StatusHandler) *server.Server {
	addr := cfg.Server.Addr
	if value := os.Getenv("HTTP_ADDR"); value != "" {
		addr = value
	}
	return server.NewServer(addr, cfg.Auth.JWTSecret, pingHandler, authHandler, accountHandler, channelHandler, topicHandler, statusHandler)
}

func applyMigrations(cfg config.Config, logger *slog.Logger) error {
	if err := db.Migrate(cfg.Postgres); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	logger.Info("migrations applied")
	return nil
}

func seedTopics(lc fx.Lifecycle, st *store.Store) {
	lc.Append(fx.Hook{OnStart: func(ctx context.Context) error {
		return st.SeedTopics(ctx, store.DefaultTopics)
	}})
}

func startPool(lc fx.Lifecycle, pool *workpool.Pool) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error { pool.Start(ctx); return nil },
		OnStop:  func(ctx context.Context) error { pool.Shutdown(); return nil },
	})
}

func startSessions(lc fx.Lifecycle, logger *slog.Logger, cfg config.Config, manager *session.Manager, listeners *listener.Registry) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := os.MkdirAll(cfg.Sessions.Dir, 0o700); err != nil {
				return fmt.Errorf("create sessions dir: %w", err)
			}
			go func() {
				if err := manager.RecoverAll(context.Background()); err != nil {
					logger.Error("session recovery failed", slog.Any("error", err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			manager.Shutdown(ctx)
			listeners.DetachAll()
			return nil
		},
	})
}

func startPrune(lc fx.Lifecycle, job *prune.Job) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error { return job.Start() },
		OnStop:  func(ctx context.Context) error { job.Stop(); return nil },
	})
}

func startServer(lc fx.Lifecycle, logger *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
