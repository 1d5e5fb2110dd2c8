package daemon

import (
	"context"
	"errors"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/matheus3301/wppsync/internal/api"
	"github.com/matheus3301/wppsync/internal/bus"
	"github.com/matheus3301/wppsync/internal/channel"
	"github.com/matheus3301/wppsync/internal/chatlist"
	"github.com/matheus3301/wppsync/internal/config"
	"github.com/matheus3301/wppsync/internal/credential"
	"github.com/matheus3301/wppsync/internal/feed"
	"github.com/matheus3301/wppsync/internal/history"
	"github.com/matheus3301/wppsync/internal/logging"
	"github.com/matheus3301/wppsync/internal/outbox"
	"github.com/matheus3301/wppsync/internal/profile"
	"github.com/matheus3301/wppsync/internal/status"
	"github.com/matheus3301/wppsync/internal/store"
	intsync "github.com/matheus3301/wppsync/internal/sync"
	"github.com/matheus3301/wppsync/internal/timeline"
)

// Params holds the resolved profile and configuration passed to the fx module.
type Params struct {
	Profile    string
	Config     *config.Config
	SocketPath string // optional override for testing; empty = use default
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideCredentials,
			provideChannel,
			provideSubscriber,
			provideHistoryClient,
			providePoller,
			provideChatList,
			provideTimeline,
			provideCoordinator,
			provideReconciler,
			provideSyncEngine,
			provideConsole,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(profile.LogPath(p.Profile), p.Profile)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*profile.Lock, error) {
	if err := profile.EnsureDir(p.Profile); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.Profile))
	l, err := profile.Acquire(profile.Dir(p.Profile))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

// provideStore depends on the lock so the state file is never opened by
// two daemons.
func provideStore(p Params, _ *profile.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := profile.StatePath(p.Profile)
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

func provideCredentials(p Params) *credential.Store {
	return credential.NewStore(p.Config.Gateway.Token)
}

func provideChannel(p Params, creds *credential.Store, m *status.Machine, logger *zap.Logger) *channel.Manager {
	opts := channel.DefaultOptions()
	if d := p.Config.Sync.ConnectTimeout.Duration; d > 0 {
		opts.ConnectTimeout = d
	}
	if d := p.Config.Sync.RequestTimeout.Duration; d > 0 {
		opts.WriteTimeout = d
	}
	return channel.NewManager(channel.WebsocketDialer{}, creds, m, opts, logger.Named("channel"))
}

func provideSubscriber(mgr *channel.Manager, b *bus.Bus, logger *zap.Logger) *feed.Subscriber {
	return feed.NewSubscriber(mgr, b, logger.Named("feed"))
}

func provideHistoryClient(p Params, creds *credential.Store, logger *zap.Logger) *history.Client {
	return history.NewClient(p.Config.Gateway.BaseURL, creds, p.Config.Sync.RequestTimeout.Duration, logger.Named("history"))
}

func providePoller(p Params, logger *zap.Logger) *history.Poller {
	return history.NewPoller(p.Config.Sync.PollInterval.Duration, logger.Named("poller"))
}

func provideChatList(p Params, hc *history.Client, sub *feed.Subscriber, mgr *channel.Manager, b *bus.Bus, logger *zap.Logger) *chatlist.Synchronizer {
	s := chatlist.New(p.Config.Gateway.AccountID, p.Config.Sync.PageSize, hc, sub, mgr, b, logger.Named("chatlist"))
	sub.OnConversationListUpdate(s.HandleFeedUpdate)
	return s
}

func provideTimeline(p Params, hc *history.Client, sub *feed.Subscriber, b *bus.Bus, logger *zap.Logger) *timeline.Synchronizer {
	s := timeline.New(p.Config.Sync.PageSize, hc, b, logger.Named("timeline"))
	sub.OnHistoryUpdate(s.HandleHistoryPush)
	sub.OnStatusUpdate(s.HandleStatusPush)
	return s
}

func provideCoordinator(p Params, hc *history.Client, tl *timeline.Synchronizer, db *store.DB, b *bus.Bus, logger *zap.Logger) *outbox.Coordinator {
	sessions := outbox.ChainResolver{
		outbox.StaticResolver(p.Config.Sessions),
		outbox.GatewayResolver{Lookup: hc},
	}
	return outbox.NewCoordinator(hc, sessions, tl, db, b, logger.Named("outbox"))
}

func provideReconciler(db *store.DB) *intsync.Reconciler {
	return intsync.NewReconciler(db)
}

func provideSyncEngine(chats *chatlist.Synchronizer, tl *timeline.Synchronizer, poller *history.Poller, rec *intsync.Reconciler, b *bus.Bus, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(chats, tl, poller, rec, b, logger.Named("sync"))
}

func provideConsole(p Params, mgr *channel.Manager, chats *chatlist.Synchronizer, tl *timeline.Synchronizer, co *outbox.Coordinator, engine *intsync.Engine, rec *intsync.Reconciler, b *bus.Bus, logger *zap.Logger) *api.Console {
	return api.NewConsole(api.Deps{
		Profile:     p.Profile,
		LiveURL:     p.Config.Gateway.LiveURL,
		Channel:     mgr,
		Chats:       chats,
		Timeline:    tl,
		Sender:      co,
		Engine:      engine,
		Checkpoints: rec,
		Bus:         b,
		Logger:      logger.Named("api"),
	})
}

func registerLifecycle(lc fx.Lifecycle, p Params, srv *Server, lk *profile.Lock, db *store.DB, mgr *channel.Manager, co *outbox.Coordinator, engine *intsync.Engine, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			if n, err := co.RecoverInterrupted(); err != nil {
				logger.Error("could not recover interrupted sends", zap.Error(err))
			} else if n > 0 {
				logger.Info("recovered interrupted sends", zap.Int("count", n))
			}

			// The engine starts in polling mode and follows channel state from here.
			engine.Start(context.Background())

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			go func() {
				ctx := context.Background()
				if err := engine.Restore(ctx); err != nil {
					logger.Warn("could not restore active conversation", zap.Error(err))
				}
				err := mgr.Connect(ctx, p.Config.Gateway.LiveURL)
				switch {
				case errors.Is(err, channel.ErrMissingCredential):
					logger.Warn("no usable credential, waiting for a token update")
				case err != nil:
					logger.Warn("initial connect failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			engine.Stop()
			mgr.Disconnect()
			srv.Stop(ctx)
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			_ = logger.Sync()
			return nil
		},
	})
}
