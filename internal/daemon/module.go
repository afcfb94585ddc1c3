// Package daemon composes the sync engine: configuration, logging,
// the session lock, the REST client, the stream manager, the store and
// the warm-start cache, wired together as an fx application.
package daemon

import (
	"context"
	"errors"

	"github.com/edulink/chatsync/internal/api"
	"github.com/edulink/chatsync/internal/auth"
	"github.com/edulink/chatsync/internal/bus"
	"github.com/edulink/chatsync/internal/cache"
	"github.com/edulink/chatsync/internal/client"
	"github.com/edulink/chatsync/internal/config"
	"github.com/edulink/chatsync/internal/lock"
	"github.com/edulink/chatsync/internal/logging"
	"github.com/edulink/chatsync/internal/session"
	"github.com/edulink/chatsync/internal/status"
	"github.com/edulink/chatsync/internal/store"
	"github.com/edulink/chatsync/internal/stream"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
}

// Module returns the fx module for the daemon, composing all providers
// and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideConfig,
			provideBus,
			provideStateMachine,
			provideLock,
			provideTokenSource,
			provideAPIClient,
			provideCache,
			provideStore,
			provideSession,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName)
}

func provideConfig(logger *zap.Logger) *config.Config {
	cfg, err := config.Load(session.ConfigPath())
	if err != nil {
		logger.Info("no config file, using defaults", zap.Error(err))
		return config.Default()
	}
	return cfg
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
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

func provideTokenSource(p Params, cfg *config.Config) auth.TokenSource {
	path := cfg.TokenPath
	if path == "" {
		path = session.TokenPath(p.SessionName)
	}
	return auth.NewFileTokenSource(path)
}

func provideAPIClient(cfg *config.Config, tokens auth.TokenSource) *api.Client {
	return api.NewClient(cfg.APIBaseURL, tokens)
}

// provideCache opens the warm-start cache. The cache is best-effort:
// a failure here degrades to a cold start instead of refusing to run.
func provideCache(p Params, logger *zap.Logger) *cache.DB {
	path := session.CacheDBPath(p.SessionName)
	db, err := cache.Open(path)
	if err != nil {
		logger.Warn("cache unavailable, running cold", zap.Error(err))
		return nil
	}
	result, err := db.Migrate()
	if err != nil {
		logger.Warn("cache migration failed, running cold", zap.Error(err))
		_ = db.Close()
		return nil
	}
	if result.Changed {
		logger.Info("cache migrations applied", zap.Uint("version", result.Version))
	}
	logger.Info("cache initialized", zap.String("path", path))
	return db
}

// handlerProxy breaks the construction cycle between the dispatcher and
// the store: the dispatcher needs a frame handler before the store
// exists, the store needs the connection manager the dispatcher feeds.
type handlerProxy struct {
	h stream.Handler
}

func (p *handlerProxy) ApplyNewMessage(e stream.NewMessage)               { p.h.ApplyNewMessage(e) }
func (p *handlerProxy) ApplyReadReceipt(e stream.ReadReceipt)             { p.h.ApplyReadReceipt(e) }
func (p *handlerProxy) ApplyUnreadUpdate(e stream.UnreadUpdate)           { p.h.ApplyUnreadUpdate(e) }
func (p *handlerProxy) ApplyPresenceUpdate(e stream.PresenceUpdate)       { p.h.ApplyPresenceUpdate(e) }
func (p *handlerProxy) ApplyTyping(e stream.Typing)                       { p.h.ApplyTyping(e) }
func (p *handlerProxy) ApplyParticipantUpdate(e stream.ParticipantUpdate) { p.h.ApplyParticipantUpdate(e) }

func provideStore(cfg *config.Config, tokens auth.TokenSource, rest *api.Client, b *bus.Bus, machine *status.Machine, db *cache.DB, logger *zap.Logger) (*store.Store, *stream.Manager) {
	proxy := &handlerProxy{}
	dispatcher := stream.NewDispatcher(proxy, logger)
	manager := stream.NewManager(cfg.StreamBaseURL, tokens, dispatcher, machine, b, cfg.Reconnect, logger)
	st := store.New(rest, manager, tokens, b, db, logger)
	proxy.h = st
	return st, manager
}

func provideSession(p Params, st *store.Store, b *bus.Bus, logger *zap.Logger) *client.Session {
	return client.New(p.SessionName, st, b, logger)
}

func registerLifecycle(lc fx.Lifecycle, sess *client.Session, lk *lock.Lock, db *cache.DB, tokens auth.TokenSource, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			if !tokens.Valid() {
				logger.Info("no valid credential yet, waiting for auth layer")
			}
			// Initial load in the background: the daemon comes up even
			// when the server is briefly unreachable.
			go func() {
				if err := sess.Init(context.Background()); err != nil {
					if errors.Is(err, auth.ErrNoToken) {
						logger.Info("initial load skipped, not authenticated")
						return
					}
					logger.Warn("initial load failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			sess.Teardown()
			if db != nil {
				if err := db.Close(); err != nil {
					logger.Warn("error closing cache", zap.Error(err))
				}
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
