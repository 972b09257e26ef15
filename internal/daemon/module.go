// Package daemon composes the chat core into a running process: store,
// bus, outbox sender, profile refresher, and the HTTP/WebSocket gateway.
package daemon

import (
	"context"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/freelancehub/convo/internal/bus"
	"github.com/freelancehub/convo/internal/config"
	"github.com/freelancehub/convo/internal/directory"
	"github.com/freelancehub/convo/internal/gateway"
	"github.com/freelancehub/convo/internal/lock"
	"github.com/freelancehub/convo/internal/logging"
	"github.com/freelancehub/convo/internal/outbox"
	"github.com/freelancehub/convo/internal/profile"
	"github.com/freelancehub/convo/internal/session"
	"github.com/freelancehub/convo/internal/store"
	"github.com/freelancehub/convo/internal/stream"
	"github.com/freelancehub/convo/internal/typing"
)

// Params holds the resolved instance configuration passed to the fx module.
type Params struct {
	InstanceName string
	Listen       string // optional override; empty = use config
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideConfig,
			provideLock,
			provideStore,
			provideDirectory,
			provideStream,
			provideSender,
			provideTyping,
			provideProfileClient,
			provideRefresher,
			provideAuth,
			provideGateway,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	if err := session.EnsureDir(p.InstanceName); err != nil {
		return nil, err
	}
	return logging.New(session.LogDir(p.InstanceName), p.InstanceName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

// provideConfig loads the global config, creating it with defaults and a
// fresh JWT secret on first run.
func provideConfig(logger *zap.Logger) (*config.Config, error) {
	path := session.ConfigPath()
	cfg, err := config.Load(path)
	if err != nil {
		logger.Info("no config found, writing defaults", zap.String("path", path))
		cfg = config.Default()
	}
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = uuid.NewString()
		if err := config.Save(path, cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring instance lock", zap.String("instance", p.InstanceName))
	l, err := lock.Acquire(session.Dir(p.InstanceName))
	if err != nil {
		return nil, err
	}
	logger.Info("instance lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.DBPath(p.InstanceName)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideDirectory(db *store.DB, b *bus.Bus, logger *zap.Logger) *directory.Service {
	return directory.NewService(db, b, logger)
}

func provideStream(db *store.DB, b *bus.Bus, dir *directory.Service, logger *zap.Logger) *stream.Service {
	return stream.NewService(db, b, dir, logger)
}

func provideSender(db *store.DB, st *stream.Service, b *bus.Bus, logger *zap.Logger) *outbox.Sender {
	return outbox.NewSender(db, st, b, logger)
}

// provideTyping picks Redis presence when an address is configured, so
// indicators cross daemon instances; otherwise the in-process bus serves a
// single instance.
func provideTyping(cfg *config.Config, b *bus.Bus, logger *zap.Logger) typing.Publisher {
	if cfg.RedisAddr == "" {
		return typing.NewMemory(b)
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	logger.Info("typing presence via redis", zap.String("addr", cfg.RedisAddr))
	return typing.NewRedis(client, b, cfg.DebounceWindow(), logger)
}

func provideProfileClient(cfg *config.Config) *profile.Client {
	return profile.NewClient(cfg.ProfileBaseURL)
}

func provideRefresher(c *profile.Client, db *store.DB, b *bus.Bus, cfg *config.Config, logger *zap.Logger) *profile.Refresher {
	return profile.NewRefresher(c, db, b, cfg.BackoffPolicy(), logger)
}

func provideAuth(cfg *config.Config) *gateway.Auth {
	return gateway.NewAuth(cfg.JWTSecret)
}

func provideGateway(p Params, cfg *config.Config, auth *gateway.Auth, db *store.DB, b *bus.Bus,
	dir *directory.Service, st *stream.Service, tp typing.Publisher, pc *profile.Client, logger *zap.Logger) *gateway.Server {
	listen := p.Listen
	if listen == "" {
		listen = cfg.Listen
	}
	return gateway.NewServer(listen, auth, db, b, dir, st, tp, pc, logger)
}

func registerLifecycle(lc fx.Lifecycle, srv *gateway.Server, lk *lock.Lock, sender *outbox.Sender,
	refresher *profile.Refresher, tp typing.Publisher, db *store.DB, logger *zap.Logger) {
	bridge, _ := tp.(*typing.Redis)
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			if err := srv.Start(); err != nil {
				return err
			}
			sender.Start(context.Background())
			refresher.Start(context.Background())
			if bridge != nil {
				bridge.Start(context.Background())
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if bridge != nil {
				bridge.Stop()
			}
			refresher.Stop()
			sender.Stop()
			if err := srv.Stop(ctx); err != nil {
				logger.Warn("error stopping gateway", zap.Error(err))
			}
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
