package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/elsehu/supportdesk/internal/assign"
	"github.com/elsehu/supportdesk/internal/config"
	"github.com/elsehu/supportdesk/internal/conversation"
	"github.com/elsehu/supportdesk/internal/dedupe"
	"github.com/elsehu/supportdesk/internal/handlers"
	"github.com/elsehu/supportdesk/internal/ingest"
	"github.com/elsehu/supportdesk/internal/logger"
	"github.com/elsehu/supportdesk/internal/media"
	"github.com/elsehu/supportdesk/internal/message"
	"github.com/elsehu/supportdesk/internal/metrics"
	"github.com/elsehu/supportdesk/internal/operator"
	"github.com/elsehu/supportdesk/internal/provider"
	"github.com/elsehu/supportdesk/internal/provider/evolution"
	"github.com/elsehu/supportdesk/internal/provider/meta"
	"github.com/elsehu/supportdesk/internal/realtime"
	"github.com/elsehu/supportdesk/internal/router"
	"github.com/elsehu/supportdesk/internal/server"
	"github.com/elsehu/supportdesk/internal/storage/localfs"
	"github.com/elsehu/supportdesk/internal/store"
	"github.com/elsehu/supportdesk/internal/sweep"
)

// Webhook replays arrive within seconds; ten minutes of memory is plenty
// and the store's unique index backstops anything older.
const (
	dedupeTTL     = 10 * time.Minute
	dedupeMaxSize = 65536
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the API server and background sweeps",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

func runServe() {
	fx.New(
		fx.Provide(
			provideConfig,
			provideLogger,
			provideDBPool,
			store.New,
			metrics.New,
			provideHub,
			provideDedupeCache,
			provideBlobStorage,
			evolution.NewClient,
			meta.NewClient,
			provideAdapterRegistry,
			provideMediaResolver,
			router.NewService,
			provideAssignService,
			provideIngestService,
			provideMessageService,
			provideOperatorService,
			provideConversationService,
			provideSweepService,
			provideRealtimeHandler,
			handlers.NewPingHandler,
			provideWebhookHandler,
			handlers.NewOperatorHandler,
			handlers.NewConversationHandler,
			provideMessageHandler,
			provideInstanceHandler,
			provideServer,
		),
		fx.Invoke(
			startSweeps,
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

func provideDBPool(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	pool, err := store.Open(ctx, cfg.Postgres)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { pool.Close(); return nil }})
	return pool, nil
}

func provideHub(lc fx.Lifecycle, log *slog.Logger) *realtime.Hub {
	hub := realtime.NewHub(log)
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { hub.Close(); return nil }})
	return hub
}

func provideDedupeCache(lc fx.Lifecycle) *dedupe.Cache {
	cache := dedupe.New(dedupeTTL, dedupeMaxSize)
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { cache.Close(); return nil }})
	return cache
}

func provideBlobStorage(log *slog.Logger, cfg config.Config) (*localfs.Provider, error) {
	return localfs.New(log, cfg.Storage.BasePath)
}

func provideAdapterRegistry() *provider.Registry {
	return provider.NewRegistry(evolution.NewAdapter(), meta.NewAdapter())
}

func provideMediaResolver(log *slog.Logger, evo *evolution.Client, blobs *localfs.Provider) *media.Resolver {
	return media.NewResolver(log, evo, blobs)
}

func provideAssignService(log *slog.Logger, st *store.Store) *assign.Service {
	return assign.NewService(log, st)
}

func provideIngestService(
	log *slog.Logger,
	registry *provider.Registry,
	st *store.Store,
	rt *router.Service,
	assigner *assign.Service,
	resolver *media.Resolver,
	cache *dedupe.Cache,
	hub *realtime.Hub,
	m *metrics.Metrics,
) *ingest.Service {
	return ingest.NewService(log, registry, st, rt, assigner, resolver, cache, hub, m)
}

func provideMessageService(log *slog.Logger, st *store.Store, blobs *localfs.Provider, evo *evolution.Client, mt *meta.Client, m *metrics.Metrics) *message.Service {
	return message.NewService(log, st, blobs, evo, mt, m)
}

func provideOperatorService(log *slog.Logger, cfg config.Config, st *store.Store, assigner *assign.Service, hub *realtime.Hub, m *metrics.Metrics) (*operator.Service, error) {
	tokenTTL, err := time.ParseDuration(cfg.Auth.JWTExpiresIn)
	if err != nil {
		return nil, fmt.Errorf("parse jwt_expires_in: %w", err)
	}
	return operator.NewService(log, st, assigner, hub, m, cfg.Auth.JWTSecret, tokenTTL), nil
}

func provideConversationService(log *slog.Logger, st *store.Store, rt *router.Service, hub *realtime.Hub, m *metrics.Metrics) *conversation.Service {
	return conversation.NewService(log, st, rt, hub, m)
}

func provideSweepService(log *slog.Logger, cfg config.Config, st *store.Store, rt *router.Service, blobs *localfs.Provider, hub *realtime.Hub, m *metrics.Metrics) *sweep.Service {
	return sweep.NewService(log, sweep.Config{
		ExpireSpec:       cfg.Sweep.ExpireSpec,
		MediaCleanupSpec: cfg.Sweep.MediaCleanupSpec,
		Inactivity:       time.Duration(cfg.Sweep.InactivityHours) * time.Hour,
		MediaRetention:   time.Duration(cfg.Storage.MediaRetentionDays) * 24 * time.Hour,
	}, st, rt, blobs, hub, m)
}

func provideRealtimeHandler(log *slog.Logger, cfg config.Config, hub *realtime.Hub, messages *message.Service, st *store.Store) *realtime.Handler {
	return realtime.NewHandler(log, hub, cfg.Auth.JWTSecret, messages, st)
}

func provideWebhookHandler(log *slog.Logger, ingestService *ingest.Service, cfg config.Config) *handlers.WebhookHandler {
	return handlers.NewWebhookHandler(log, ingestService, cfg.Webhooks.MetaVerifyToken)
}

func provideMessageHandler(log *slog.Logger, messages *message.Service, hub *realtime.Hub) *handlers.MessageHandler {
	return handlers.NewMessageHandler(log, messages, hub)
}

func provideInstanceHandler(log *slog.Logger, st *store.Store, evo *evolution.Client) *handlers.InstanceHandler {
	return handlers.NewInstanceHandler(log, st, evo)
}

func provideServer(
	log *slog.Logger,
	cfg config.Config,
	m *metrics.Metrics,
	pingHandler *handlers.PingHandler,
	webhookHandler *handlers.WebhookHandler,
	operatorHandler *handlers.OperatorHandler,
	conversationHandler *handlers.ConversationHandler,
	messageHandler *handlers.MessageHandler,
	instanceHandler *handlers.InstanceHandler,
	realtimeHandler *realtime.Handler,
) *server.Server {
	return server.NewServer(log, cfg.Server.Addr, cfg.Auth.JWTSecret, m,
		pingHandler, webhookHandler, operatorHandler, conversationHandler,
		messageHandler, instanceHandler, realtimeHandler)
}

func startSweeps(lc fx.Lifecycle, sweeps *sweep.Service) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error { return sweeps.Start() },
		OnStop:  func(ctx context.Context) error { return sweeps.Stop(ctx) },
	})
}

func startServer(lc fx.Lifecycle, logger *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner, cfg config.Config) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := store.Migrate(cfg.Postgres); err != nil {
				return err
			}
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
