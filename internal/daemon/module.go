package daemon

import (
	"context"

	"github.com/benbjohnson/clock"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Taiwoayodeji/ChatGifs/internal/account"
	"github.com/Taiwoayodeji/ChatGifs/internal/api"
	"github.com/Taiwoayodeji/ChatGifs/internal/bus"
	"github.com/Taiwoayodeji/ChatGifs/internal/config"
	"github.com/Taiwoayodeji/ChatGifs/internal/conversation"
	"github.com/Taiwoayodeji/ChatGifs/internal/coordinator"
	"github.com/Taiwoayodeji/ChatGifs/internal/freshness"
	"github.com/Taiwoayodeji/ChatGifs/internal/gateway"
	"github.com/Taiwoayodeji/ChatGifs/internal/gif"
	"github.com/Taiwoayodeji/ChatGifs/internal/lock"
	"github.com/Taiwoayodeji/ChatGifs/internal/logging"
	"github.com/Taiwoayodeji/ChatGifs/internal/outbox"
	"github.com/Taiwoayodeji/ChatGifs/internal/presence"
	"github.com/Taiwoayodeji/ChatGifs/internal/profile"
	"github.com/Taiwoayodeji/ChatGifs/internal/social"
	"github.com/Taiwoayodeji/ChatGifs/internal/status"
	"github.com/Taiwoayodeji/ChatGifs/internal/store"
	"github.com/Taiwoayodeji/ChatGifs/internal/sync"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	Profile    string
	SocketPath string // optional override for testing; empty = use default
	// Config overrides loading config.toml when set.
	Config *config.Config
	// Logger overrides the profile log file when set.
	Logger *zap.Logger
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideClock,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideBackend,
			provideGateway,
			providePresence,
			provideSocial,
			provideIndex,
			provideReconciler,
			provideFreshness,
			provideCoordinator,
			provideAccount,
			provideSender,
			provideGifs,
			provideService,
			NewServer,
			NewMetricsServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	if p.Config != nil {
		return p.Config, nil
	}
	cfg, err := config.LoadOrDefault(profile.ConfigPath())
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv(".env", profile.EnvPath())
	return cfg, nil
}

func provideLogger(p Params, cfg *config.Config) (*zap.Logger, error) {
	if p.Logger != nil {
		return p.Logger, nil
	}
	return logging.New(profile.LogPath(p.Profile), p.Profile, cfg.LogLevel)
}

func provideClock() clock.Clock {
	return clock.New()
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := profile.EnsureDir(p.Profile); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.Profile))
	l, err := lock.Acquire(profile.Dir(p.Profile))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

// The lock is a parameter so the database is never opened by a second
// daemon.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := profile.StateDBPath(p.Profile)
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

func provideGateway(b *Backend) gateway.Gateway {
	return b.Gateway
}

func providePresence(gw gateway.Gateway, clk clock.Clock, cfg *config.Config, logger *zap.Logger) *presence.Tracker {
	return presence.NewTracker(gw, clk, cfg.Timing.PresenceTTL.Duration, logger)
}

func provideSocial(gw gateway.Gateway, logger *zap.Logger) *social.Manager {
	return social.NewManager(gw, logger)
}

func provideIndex(gw gateway.Gateway, logger *zap.Logger) *conversation.Index {
	return conversation.NewIndex(gw, logger)
}

func provideReconciler(gw gateway.Gateway, b *bus.Bus, clk clock.Clock, logger *zap.Logger) *sync.Reconciler {
	return sync.NewReconciler(gw, b, clk, logger)
}

func provideFreshness(db *store.DB, clk clock.Clock, logger *zap.Logger) *freshness.Tracker {
	return freshness.NewTracker(db, clk, logger)
}

type coordinatorParams struct {
	fx.In

	Config     *config.Config
	Gateway    gateway.Gateway
	Bus        *bus.Bus
	Clock      clock.Clock
	Logger     *zap.Logger
	Status     *status.Machine
	Presence   *presence.Tracker
	Social     *social.Manager
	Index      *conversation.Index
	Reconciler *sync.Reconciler
	Freshness  *freshness.Tracker
	DB         *store.DB
}

func provideCoordinator(p coordinatorParams) *coordinator.Coordinator {
	return coordinator.New(coordinator.Deps{
		Gateway:    p.Gateway,
		Bus:        p.Bus,
		Clock:      p.Clock,
		Logger:     p.Logger,
		Status:     p.Status,
		Presence:   p.Presence,
		Social:     p.Social,
		Index:      p.Index,
		Reconciler: p.Reconciler,
		Freshness:  p.Freshness,
		Local:      p.DB,
	}, p.Config.CoordinatorConfig())
}

func provideAccount(gw gateway.Gateway, pr *presence.Tracker, index *conversation.Index, db *store.DB, logger *zap.Logger) *account.Service {
	return account.NewService(gw, pr, index, db, logger)
}

func provideSender(db *store.DB, c *coordinator.Coordinator, b *bus.Bus, clk clock.Clock, logger *zap.Logger) *outbox.Sender {
	return outbox.NewSender(db, c, b, clk, logger)
}

func provideGifs(cfg *config.Config, logger *zap.Logger) *gif.Client {
	if cfg.Gif.APIKey == "" {
		logger.Warn("no GIF provider key configured; set gif.api_key or " + config.EnvGiphyKey)
	}
	return gif.New(cfg.GifOptions(), logger)
}

type serviceParams struct {
	fx.In

	Params      Params
	Coordinator *coordinator.Coordinator
	Account     *account.Service
	Social      *social.Manager
	Outbox      *outbox.Sender
	Gifs        *gif.Client
	DB          *store.DB
	Status      *status.Machine
	Bus         *bus.Bus
	Logger      *zap.Logger
}

func provideService(p serviceParams) *api.Service {
	return api.NewService(api.Deps{
		Profile:     p.Params.Profile,
		Coordinator: p.Coordinator,
		Account:     p.Account,
		Social:      p.Social,
		Outbox:      p.Outbox,
		Gifs:        p.Gifs,
		DB:          p.DB,
		Status:      p.Status,
		Bus:         p.Bus,
		Logger:      p.Logger,
	})
}

type lifecycleParams struct {
	fx.In

	Lifecycle   fx.Lifecycle
	Server      *Server
	Metrics     *MetricsServer
	Lock        *lock.Lock
	DB          *store.DB
	Backend     *Backend
	Coordinator *coordinator.Coordinator
	Sender      *outbox.Sender
	Machine     *status.Machine
	Logger      *zap.Logger
}

func registerLifecycle(p lifecycleParams) {
	logger := p.Logger
	var cancel context.CancelFunc
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			var ctx context.Context
			ctx, cancel = context.WithCancel(context.Background())

			// Start gRPC server in background.
			go func() {
				if err := p.Server.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()
			p.Metrics.Start()

			if err := p.Coordinator.Start(ctx); err != nil {
				_ = p.Machine.Transition(status.Error)
				return err
			}
			p.Sender.Start(ctx)
			logger.Info("daemon started", zap.String("backend", p.Backend.Mode))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			p.Sender.Stop()
			p.Coordinator.Stop()
			if cancel != nil {
				cancel()
			}
			p.Server.Stop(ctx)
			p.Metrics.Stop(ctx)
			if err := p.Backend.Close(); err != nil {
				logger.Warn("error closing backend", zap.Error(err))
			}
			if err := p.DB.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := p.Lock.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
