// Package daemon composes the sync engine into a runnable per-session
// process: config, logging, cache store, connection manager, engine, queue
// processor and the retention cron, wired through fx lifecycle hooks.
package daemon

import (
	"context"

	"github.com/inboxd/inboxd/internal/bus"
	"github.com/inboxd/inboxd/internal/cache"
	"github.com/inboxd/inboxd/internal/config"
	"github.com/inboxd/inboxd/internal/conn"
	"github.com/inboxd/inboxd/internal/fetch"
	"github.com/inboxd/inboxd/internal/lock"
	"github.com/inboxd/inboxd/internal/logging"
	"github.com/inboxd/inboxd/internal/notify"
	"github.com/inboxd/inboxd/internal/outbox"
	"github.com/inboxd/inboxd/internal/sched"
	"github.com/inboxd/inboxd/internal/session"
	intsync "github.com/inboxd/inboxd/internal/sync"
	"github.com/robfig/cron/v3"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	ConfigPath  string // optional override; empty = default path
}

// Module returns the fx module for the daemon, composing all providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideScheduler,
			provideLock,
			provideCache,
			provideFetcher,
			provideManager,
			provideLoader,
			provideNotifier,
			provideEngine,
			provideProcessor,
			provideCron,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	path := p.ConfigPath
	if path == "" {
		path = session.ConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		// A missing config is not fatal: the daemon starts unauthenticated
		// and stays disconnected until credentials are saved.
		return config.Default(), nil
	}
	return cfg, nil
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideScheduler() sched.Scheduler {
	return sched.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.Dir(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

func provideCache(p Params, logger *zap.Logger) (*cache.Store, error) {
	dbPath := session.CacheDBPath(p.SessionName)
	store, err := cache.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := store.Migrate()
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("cache store initialized", zap.String("path", dbPath))
	return store, nil
}

func provideFetcher(cfg *config.Config, logger *zap.Logger) *fetch.Client {
	return fetch.NewClient(cfg.Server.APIURL, cfg.Auth.Token, cfg.Auth.AccountID, cfg.Sync.AckTimeout(), logger)
}

func provideManager(cfg *config.Config, b *bus.Bus, s sched.Scheduler, logger *zap.Logger) *conn.Manager {
	opts := conn.Options{
		SocketURL:         cfg.Server.SocketURL,
		Token:             cfg.Auth.Token,
		AccountID:         cfg.Auth.AccountID,
		SettleDelay:       cfg.Sync.SettleDelay(),
		ReconnectInterval: cfg.Sync.ReconnectInterval(),
		MaxRetries:        cfg.Sync.MaxConnectRetries,
	}
	return conn.NewManager(opts, conn.NewDialer(logger), b, s, logger)
}

func provideLoader(client *fetch.Client, cfg *config.Config, logger *zap.Logger) *intsync.Loader {
	return intsync.NewLoader(client, cfg.Sync.PageSize, logger)
}

func provideNotifier(logger *zap.Logger) notify.Notifier {
	return notify.NewLogNotifier(logger)
}

func provideEngine(cfg *config.Config, store *cache.Store, loader *intsync.Loader, m *conn.Manager, n notify.Notifier, b *bus.Bus, logger *zap.Logger) *intsync.Engine {
	opts := intsync.Options{
		AccountID:   cfg.Auth.AccountID,
		MatchWindow: cfg.Sync.MatchWindow(),
		AckTimeout:  cfg.Sync.AckTimeout(),
	}
	return intsync.NewEngine(opts, store, loader, m, n, b, logger)
}

func provideProcessor(cfg *config.Config, store *cache.Store, m *conn.Manager, b *bus.Bus, logger *zap.Logger) *outbox.Processor {
	return outbox.NewProcessor(store, m, b, cfg.Sync.AckTimeout(), cfg.Sync.Retention(), logger)
}

func provideCron(cfg *config.Config, store *cache.Store, logger *zap.Logger) *cron.Cron {
	c := cron.New()
	retention := cfg.Sync.Retention()
	_, _ = c.AddFunc("@hourly", func() {
		if err := store.CleanupQueue(retention); err != nil {
			logger.Warn("scheduled queue cleanup failed", zap.Error(err))
		}
	})
	return c
}

func registerLifecycle(lc fx.Lifecycle, lk *lock.Lock, store *cache.Store, m *conn.Manager, engine *intsync.Engine, proc *outbox.Processor, c *cron.Cron, b *bus.Bus, logger *zap.Logger) {
	var logoutUnsub func()

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			ctx := context.Background()

			engine.Start(ctx)
			proc.Start(ctx)
			c.Start()

			// A team-member logout for this account tears the session
			// down and drops the cached chat list; reconnecting requires
			// fresh credentials.
			logoutCh, unsub := b.Subscribe(bus.KindSessionForceLogout, 4)
			logoutUnsub = unsub
			go func() {
				for range logoutCh {
					m.Disconnect()
					if err := store.InvalidateChats(); err != nil {
						logger.Warn("failed to invalidate cached chats", zap.Error(err))
					}
				}
			}()

			m.Connect(ctx)
			return nil
		},
		OnStop: func(_ context.Context) error {
			c.Stop()
			m.Disconnect()
			proc.Stop()
			engine.Stop()
			if logoutUnsub != nil {
				logoutUnsub()
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
