package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/and161185/livesync/internal/cache"
	"github.com/and161185/livesync/internal/config"
	"github.com/and161185/livesync/internal/event"
	"github.com/and161185/livesync/internal/limiter"
	"github.com/and161185/livesync/internal/location"
	"github.com/and161185/livesync/internal/metrics"
	"github.com/and161185/livesync/internal/migrate"
	"github.com/and161185/livesync/internal/repository/postgres"
	"github.com/and161185/livesync/internal/server/httpapi"
	"github.com/and161185/livesync/internal/server/ws"
	"github.com/and161185/livesync/internal/service"
	"github.com/and161185/livesync/internal/syncer"
)

const shutdownTimeout = 10 * time.Second

func serveCmd() *cobra.Command {
	cfg := config.Default()
	var skipMigrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and WebSocket server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg.ApplyEnv()
			if err := cfg.Validate(); err != nil {
				return err
			}
			log, err := newLogger(cfg.Dev)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			log.Info("starting",
				zap.String("version", version),
				zap.String("buildDate", buildDate),
				zap.String("addr", cfg.Addr),
			)
			return serve(cmd.Context(), cfg, !skipMigrate, log)
		},
	}

	f := cmd.Flags()
	f.StringVar(&cfg.Addr, "addr", cfg.Addr, "HTTP listen address")
	f.StringVar(&cfg.HealthAddr, "health-addr", cfg.HealthAddr, "gRPC health listen address, empty disables")
	f.StringVar(&cfg.DSN, "dsn", cfg.DSN, "PostgreSQL DSN (env "+config.EnvDSN+")")
	f.StringVar(&cfg.RedisAddr, "redis-addr", cfg.RedisAddr, "Redis address of the event relay (env "+config.EnvRedisAddr+")")
	f.StringVar(&cfg.InternalJWTKey, "internal-jwt-key", cfg.InternalJWTKey, "HS256 key of internal API callers (env "+config.EnvInternalJWTKey+")")
	f.DurationVar(&cfg.LivenessTimeout, "liveness-timeout", cfg.LivenessTimeout, "close connections silent for this long")
	f.DurationVar(&cfg.KeepaliveInterval, "keepalive-interval", cfg.KeepaliveInterval, "interval of server keepalive frames")
	f.DurationVar(&cfg.HandshakeTimeout, "handshake-timeout", cfg.HandshakeTimeout, "per-frame read timeout during the handshake")
	f.DurationVar(&cfg.WriteTimeout, "write-timeout", cfg.WriteTimeout, "WebSocket write deadline")
	f.Int64Var(&cfg.MaxMessageSize, "max-message-size", cfg.MaxMessageSize, "largest accepted client frame in bytes")
	f.IntVar(&cfg.EventBuffer, "event-buffer", cfg.EventBuffer, "queued events per session before it is dropped")
	f.BoolVar(&cfg.Components.Account, "account", cfg.Components.Account, "enable the account component")
	f.BoolVar(&cfg.Components.Profile, "profile", cfg.Components.Profile, "enable the profile component")
	f.BoolVar(&cfg.Components.Chat, "chat", cfg.Components.Chat, "enable the chat component")
	f.DurationVar(&cfg.Limiter.Window, "limiter-window", cfg.Limiter.Window, "refresh token failure window")
	f.IntVar(&cfg.Limiter.MaxFails, "limiter-max-fails", cfg.Limiter.MaxFails, "failures in the window before lockout")
	f.DurationVar(&cfg.Limiter.BlockFor, "limiter-block", cfg.Limiter.BlockFor, "lockout duration")
	f.BoolVar(&cfg.Dev, "dev", cfg.Dev, "development logging and gRPC reflection")
	f.BoolVar(&skipMigrate, "skip-migrate", false, "do not apply migrations on start")
	return cmd
}

func serve(ctx context.Context, cfg config.Config, runMigrations bool, log *zap.Logger) error {
	if runMigrations {
		if err := migrate.Run(ctx, cfg.DSN, migrate.Up); err != nil {
			return fmt.Errorf("migrate up: %w", err)
		}
	}

	db, err := postgres.Open(ctx, cfg.DSN)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	accounts := postgres.NewAccountRepo(db)
	chat := postgres.NewChatRepo(db)
	tokens := postgres.NewTokenRepo(db)
	creds := postgres.NewCredentialRepo(db)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	// abort stops what already runs in g before a startup error is returned.
	abort := func(err error) error {
		cancel()
		_ = g.Wait()
		return err
	}

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	if cfg.HealthAddr != "" {
		if err := startHealth(gctx, g, cfg.HealthAddr, hs, cfg.Dev, log); err != nil {
			return err
		}
	}

	c := cache.New()
	loader := &cache.Loader{
		Accounts:   accounts,
		Tokens:     tokens,
		Index:      location.NewGrid(),
		Components: cfg.Components,
		Log:        log,
	}
	start := time.Now()
	if err := loader.LoadAll(ctx, c); err != nil {
		return abort(err)
	}
	log.Info("cache loaded", zap.Int("accounts", c.Len()), zap.Duration("took", time.Since(start)))

	manager := event.NewManager(cfg.EventBuffer, log)
	var bus event.Bus = manager
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer func() { _ = rdb.Close() }()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return abort(fmt.Errorf("redis ping: %w", err))
		}
		relay := event.NewRedisRelay(rdb, manager, log)
		bus = relay
		g.Go(func() error { return relay.Run(gctx) })
	}

	sessions := service.NewSessionService(tokens, c, manager, log)
	auth := service.NewAuthService(creds, tokens, c, loader, log)
	notifier := &syncer.Notifier{
		Accounts: accounts,
		Chat:     chat,
		Cache:    c,
		Bus:      bus,
		Index:    loader.Index,
		Push:     manager,
		Log:      log,
	}
	reconciler := &syncer.Reconciler{
		Accounts:   accounts,
		Chat:       chat,
		Cache:      c,
		Components: cfg.Components,
		Metrics:    m,
		Log:        log,
	}

	connect := ws.NewHandler(ws.Deps{
		Tokens:     c,
		Sessions:   sessions,
		Reconciler: reconciler,
		Bus:        bus,
		Limiter:    limiter.NewPG(db.Pool, cfg.Limiter.Window, cfg.Limiter.MaxFails, cfg.Limiter.BlockFor),
		Metrics:    m,
		Log:        log,
	}, ws.OptionsFromConfig(cfg))

	srv := &http.Server{
		Addr: cfg.Addr,
		Handler: httpapi.NewRouter(httpapi.Deps{
			Version:     version,
			Auth:        auth,
			Accounts:    notifier,
			Tokens:      c,
			Connect:     connect,
			Components:  cfg.Components,
			InternalKey: []byte(cfg.InternalJWTKey),
			Gatherer:    reg,
			Log:         log,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		manager.RunPushChecks(gctx, sessions.CheckPush)
		return nil
	})
	g.Go(func() error {
		log.Info("listening", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)

		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := connect.Shutdown(sctx); err != nil {
			log.Warn("websocket sessions did not finish", zap.Error(err))
		}
		return srv.Shutdown(sctx)
	})

	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("shutdown complete")
	return nil
}

// startHealth serves the gRPC health service on addr in g until ctx is done.
func startHealth(ctx context.Context, g *errgroup.Group, addr string, hs *health.Server, dev bool, log *zap.Logger) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen health: %w", err)
	}
	gs := grpc.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	if dev {
		reflection.Register(gs)
	}

	g.Go(func() error {
		log.Info("health listening", zap.String("addr", lis.Addr().String()))
		return gs.Serve(lis)
	})
	g.Go(func() error {
		<-ctx.Done()
		hs.Shutdown()
		gs.GracefulStop()
		return nil
	})
	return nil
}
