// Package daemon composes the sync core: config, session lock, flag store,
// stores, relay channel, REST client, engine and the supervision loop that
// owns reconnection.
package daemon

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/taskora/chatsync/internal/api"
	"github.com/taskora/chatsync/internal/bus"
	"github.com/taskora/chatsync/internal/channel"
	"github.com/taskora/chatsync/internal/config"
	"github.com/taskora/chatsync/internal/flagstore"
	"github.com/taskora/chatsync/internal/lock"
	"github.com/taskora/chatsync/internal/logging"
	"github.com/taskora/chatsync/internal/presence"
	"github.com/taskora/chatsync/internal/search"
	"github.com/taskora/chatsync/internal/session"
	"github.com/taskora/chatsync/internal/store"
	intsync "github.com/taskora/chatsync/internal/sync"
)

// Params holds the resolved invocation parameters passed to the fx module.
type Params struct {
	SessionName string
	ConfigPath  string // empty = default location under the base dir
	Token       string
	UserID      string
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
			provideLock,
			provideFlagStore,
			provideConversationStore,
			provideMessageStore,
			provideChannel,
			provideRestClient,
			provideEngine,
			providePresence,
			provideSearch,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	path := p.ConfigPath
	if path == "" {
		path = session.ConfigPath()
	}
	return config.Load(path)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName)
}

func provideBus() *bus.Bus {
	return bus.New()
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

func provideFlagStore(p Params, logger *zap.Logger) (*flagstore.DB, error) {
	dbPath := session.FlagDBPath(p.SessionName)
	db, err := flagstore.Open(dbPath)
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
	logger.Info("flag store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideConversationStore(db *flagstore.DB, b *bus.Bus, logger *zap.Logger) *store.ConversationStore {
	return store.NewConversationStore(b, db, logger)
}

func provideMessageStore(cfg *config.Config, b *bus.Bus) *store.MessageStore {
	return store.NewMessageStore(b, time.Duration(cfg.ReconcileWindowMs)*time.Millisecond)
}

func provideChannel(cfg *config.Config, b *bus.Bus, logger *zap.Logger) *channel.Conn {
	var opts []channel.Option
	if cfg.AckTimeoutMs > 0 {
		opts = append(opts, channel.WithAckTimeout(time.Duration(cfg.AckTimeoutMs)*time.Millisecond))
	}
	return channel.New(cfg.RelayURL, b, logger, opts...)
}

func provideRestClient(p Params, cfg *config.Config, logger *zap.Logger) *api.Client {
	return api.NewClient(cfg.APIBaseURL, p.Token, logger, api.WithPageSize(cfg.PageSize))
}

func provideEngine(conn *channel.Conn, client *api.Client, convs *store.ConversationStore, msgs *store.MessageStore, b *bus.Bus, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(conn, client, convs, msgs, b, logger)
}

func providePresence(b *bus.Bus) *presence.Tracker {
	return presence.NewTracker(b)
}

func provideSearch(cfg *config.Config, client *api.Client, b *bus.Bus, logger *zap.Logger) *search.Coordinator {
	return search.NewCoordinator(client, b, time.Duration(cfg.SearchDebounceMs)*time.Millisecond, logger)
}

func registerLifecycle(lc fx.Lifecycle, p Params, cfg *config.Config, lk *lock.Lock, db *flagstore.DB, convs *store.ConversationStore, conn *channel.Conn, engine *intsync.Engine, tracker *presence.Tracker, coord *search.Coordinator, b *bus.Bus, logger *zap.Logger) {
	superCtx, superCancel := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Restore device-local flags before any conversation page lands,
			// so the first upsert merges into flagged placeholders.
			flags, err := db.LoadAll()
			if err != nil {
				return err
			}
			convs.RestoreFlags(flags.Favorites, flags.Pins, flags.Archived)
			logger.Info("flags restored",
				zap.Int("favorites", len(flags.Favorites)),
				zap.Int("pins", len(flags.Pins)),
				zap.Int("archived", len(flags.Archived)))

			// Subscribers go up before the first dial so the connected event
			// is not missed.
			tracker.Start(superCtx)
			engine.Start(superCtx)
			coord.Start(superCtx)

			go supervise(superCtx, conn, b, cfg, channel.Credentials{Token: p.Token, UserID: p.UserID}, logger)
			return nil
		},
		OnStop: func(_ context.Context) error {
			superCancel()
			coord.Stop()
			engine.Stop()
			tracker.Stop()
			conn.Close()
			if err := db.Close(); err != nil {
				logger.Warn("error closing flag store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}

// supervise owns the reconnect loop: dial, wait for the drop, back off with
// jitter, dial again. The channel itself never reconnects on its own.
func supervise(ctx context.Context, conn *channel.Conn, b *bus.Bus, cfg *config.Config, creds channel.Credentials, logger *zap.Logger) {
	min := time.Duration(cfg.ReconnectMinMs) * time.Millisecond
	max := time.Duration(cfg.ReconnectMaxMs) * time.Millisecond

	drops, unsub := b.Subscribe(bus.KindChannelDisconnected, 8)
	defer unsub()

	backoff := min
	for {
		if err := conn.Dial(ctx, creds); err != nil {
			logger.Warn("relay dial failed", zap.Error(err), zap.Duration("retry_in", backoff))
			if !sleep(ctx, jitter(backoff)) {
				return
			}
			backoff *= 2
			if backoff > max {
				backoff = max
			}
			continue
		}
		backoff = min

		select {
		case <-drops:
			logger.Info("relay connection dropped", zap.Duration("retry_in", backoff))
			if !sleep(ctx, jitter(backoff)) {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func jitter(d time.Duration) time.Duration {
	return d/2 + time.Duration(rand.Int63n(int64(d)/2+1))
}

func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}
