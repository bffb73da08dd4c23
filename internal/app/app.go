// Package app wires the agent's components together and runs them.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker/v2"

	"github.com/utafrali/storefront/internal/actions"
	"github.com/utafrali/storefront/internal/api"
	"github.com/utafrali/storefront/internal/cache"
	"github.com/utafrali/storefront/internal/checkout"
	"github.com/utafrali/storefront/internal/config"
	"github.com/utafrali/storefront/internal/counter"
	"github.com/utafrali/storefront/internal/domain"
	"github.com/utafrali/storefront/internal/event"
	handler "github.com/utafrali/storefront/internal/handler/http"
	"github.com/utafrali/storefront/internal/notify"
	"github.com/utafrali/storefront/internal/session"
	"github.com/utafrali/storefront/internal/storage"
	filestore "github.com/utafrali/storefront/internal/storage/file"
	"github.com/utafrali/storefront/internal/storage/memory"
	redisstore "github.com/utafrali/storefront/internal/storage/redis"
	"github.com/utafrali/storefront/internal/tabsync"
	"github.com/utafrali/storefront/internal/ui"
	"github.com/utafrali/storefront/internal/wishlist"
	"github.com/utafrali/storefront/pkg/database"
	"github.com/utafrali/storefront/pkg/health"
	"github.com/utafrali/storefront/pkg/httpclient"
	pkgkafka "github.com/utafrali/storefront/pkg/kafka"
	"github.com/utafrali/storefront/pkg/tracing"
)

// idempotencyTTL is how long consumed backend event IDs are remembered.
const idempotencyTTL = 24 * time.Hour

// App wires together all dependencies and runs the agent.
type App struct {
	cfg        *config.Config
	logger     *slog.Logger
	instanceID string

	rdb     *redis.Client
	backend storage.Backend
	cache   *cache.Cache

	board    *ui.Board
	updater  *ui.Updater
	store    *counter.Store
	session  *session.Handler
	toasts   *notify.Recorder
	navi     *pageNavigator
	consumer *pkgkafka.Consumer

	comp components

	httpServer       *http.Server
	traceShutdown    func(context.Context) error
	cancelBackground context.CancelFunc
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	a := &App{
		cfg:        cfg,
		logger:     logger,
		instanceID: uuid.NewString(),
	}

	traceCfg := tracing.DefaultConfig(handler.ServiceName)
	traceCfg.Environment = cfg.Environment
	traceCfg.OTLPEndpoint = cfg.OTELEndpoint
	traceCfg.SampleRate = cfg.OTELSampleRate
	traceCfg.Enabled = cfg.OTELEnabled
	shutdown, err := tracing.InitTracer(ctx, traceCfg)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	a.traceShutdown = shutdown

	if err := a.openStorage(ctx); err != nil {
		_ = a.traceShutdown(context.Background())
		return nil, err
	}

	a.buildComponents()

	healthHandler := health.NewHandler(handler.ServiceName)
	a.registerChecks(healthHandler)

	bgCtx, bgCancel := context.WithCancel(context.Background())
	a.cancelBackground = bgCancel

	router := handler.NewRouter(bgCtx, handler.RouterConfig{
		InstanceID:     a.instanceID,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
	}, a.deps(healthHandler), logger)

	a.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	logger.Info("agent initialized",
		slog.String("instance_id", a.instanceID),
		slog.String("storage", cfg.StorageBackend),
		slog.String("storefront", cfg.BaseURL),
		slog.Bool("kafka", cfg.KafkaEnabled),
	)
	return a, nil
}

// openStorage opens the configured client-side storage area.
func (a *App) openStorage(ctx context.Context) error {
	switch a.cfg.StorageBackend {
	case config.StorageRedis:
		redisCfg := database.DefaultRedisConfig()
		redisCfg.Addr = a.cfg.RedisAddr
		redisCfg.Password = a.cfg.RedisPass
		redisCfg.DB = a.cfg.RedisDB
		rdb, err := database.NewRedisClient(ctx, redisCfg)
		if err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		if err := database.RegisterPoolMetrics(prometheus.DefaultRegisterer, rdb, "storage"); err != nil {
			a.logger.Warn("redis pool metrics not registered", slog.String("error", err.Error()))
		}
		a.logger.Info("connected to Redis",
			slog.String("addr", a.cfg.RedisAddr),
			slog.Int("db", a.cfg.RedisDB),
		)
		a.rdb = rdb
		a.backend = redisstore.New(rdb, a.cfg.StorageNamespace, a.logger)

	case config.StorageFile:
		backend, err := filestore.New(a.cfg.StorageDir, a.logger)
		if err != nil {
			return fmt.Errorf("open storage dir: %w", err)
		}
		a.backend = backend

	default:
		a.backend = memory.NewShared().View()
	}
	return nil
}

// components are the parts only the router and health checks reach.
type components struct {
	identity *api.IdentityResolver
	client   *api.Client
	counts   *httpclient.CircuitBreakerClient
	actions  *actions.Service
	wishlist *wishlist.Store
	checkout *checkout.Tracker
}

func (a *App) buildComponents() {
	cfg := a.cfg
	logger := a.logger

	a.cache = cache.New(a.backend, cfg.CacheTTL, logger)

	identity := api.NewIdentityResolver(a.backend, domain.Page{Path: cfg.PagePath}, cfg.SessionToken, logger)
	if cfg.Username != "" {
		identity.SetExplicit(cfg.Username)
	}

	// The jar plays the browser's cookie store; a fresh one never fails.
	jar, _ := cookiejar.New(nil)
	base := httpclient.New(httpclient.Config{
		Timeout:         cfg.RequestTimeout,
		MaxRetries:      cfg.MaxRetries,
		RetryBase:       cfg.RetryBase,
		MaxConnsPerHost: 16,
		Jar:             jar,
	}, logger)
	counts := httpclient.NewCircuitBreakerClient(base, httpclient.DefaultCircuitBreakerConfig("storefront-counts"), logger)

	countClient := api.NewCountClient(cfg.BaseURL, counts, identity, a.cache, logger)
	client := api.NewClient(api.Config{
		BaseURL:    cfg.BaseURL,
		CSRFHeader: cfg.CSRFHeader,
		CSRFToken:  cfg.CSRFToken,
	}, base, identity, logger)

	a.board = ui.NewBoard(1)
	a.updater = ui.NewUpdater(a.board, cfg.UpdateDebounce, logger)

	bus := event.NewBus(logger)
	tabs := tabsync.New(a.backend, bus, logger)
	a.store = counter.New(counter.Config{
		InitialRefreshDelay: cfg.InitialRefreshDelay,
		RefreshInterval:     cfg.RefreshInterval,
		RefreshDebounce:     cfg.SyncDebounce,
	}, a.cache, countClient, a.updater, logger, counter.WithSyncer(tabs))

	a.toasts = notify.NewRecorder(notify.DefaultRecorderSize, notify.NewLogNotifier(logger))

	a.navi = &pageNavigator{identity: identity, recorder: &session.RecordingNavigator{}, logger: logger}
	a.session = session.NewHandler(session.Config{
		LoginPath:     cfg.LoginPath,
		RedirectDelay: cfg.RedirectDelay,
	}, a.cache, a.toasts, a.navi, func() string { return identity.Page().Path }, logger)
	a.session.OnExpired(func(context.Context) {
		for _, k := range domain.Kinds {
			a.store.ApplyRemote(k, 0)
		}
	})
	client.OnSessionExpired(a.session.Handle)

	if cfg.KafkaEnabled {
		a.consumer = a.newConsumer(identity)
	}

	a.comp = components{
		identity: identity,
		client:   client,
		counts:   counts,
		actions: actions.New(actions.Config{
			AssumeSuccessOnServerError: cfg.AssumeSuccessOnServerError,
		}, client, a.store, a.toasts, bus, logger),
		wishlist: wishlist.New(a.backend, bus, client, a.toasts, logger),
		checkout: checkout.NewTracker(a.backend, nil, logger),
	}
}

// newConsumer subscribes the backend event bridge. Event IDs are shared
// through Redis when the agent already uses it.
func (a *App) newConsumer(identity *api.IdentityResolver) *pkgkafka.Consumer {
	bridge := event.NewBridge(a.store, identity.Identity, a.logger)

	var idem pkgkafka.IdempotencyStore = pkgkafka.NewMemoryIdempotencyStore(idempotencyTTL)
	if a.rdb != nil {
		idem = pkgkafka.NewRedisIdempotencyStore(a.rdb, "storefront:events:"+a.cfg.StorageNamespace, idempotencyTTL)
	}

	a.logger.Info("kafka consumer initialized",
		slog.Any("brokers", a.cfg.KafkaBrokers),
		slog.Any("topics", bridge.Topics()),
	)
	return pkgkafka.NewConsumer(pkgkafka.ConsumerConfig{
		Brokers:  a.cfg.KafkaBrokers,
		GroupID:  a.cfg.KafkaGroupID,
		Topics:   bridge.Topics(),
		MinBytes: 1,
		MaxBytes: 1 << 20,
	}, bridge.Handler(idem), a.logger)
}

func (a *App) registerChecks(h *health.Handler) {
	if a.rdb != nil {
		h.Register("redis", database.RedisChecker(a.rdb))
	} else {
		backend := a.backend
		h.Register("storage", func(ctx context.Context) error {
			_, _, err := backend.Get(ctx, domain.KeyCartCount)
			return err
		})
	}

	counts := a.comp.counts
	h.Register("storefront", func(context.Context) error {
		if counts.State() == gobreaker.StateOpen {
			return httpclient.ErrCircuitOpen
		}
		return nil
	})
}

func (a *App) deps(h *health.Handler) handler.Deps {
	return handler.Deps{
		Counters: a.store,
		Actions:  a.comp.actions,
		Wishlist: a.comp.wishlist,
		Pages:    a.comp.identity,
		Checkout: a.comp.checkout,
		Toasts:   a.toasts,
		Health:   h,
	}
}

// Handler returns the agent's HTTP surface.
func (a *App) Handler() http.Handler {
	return a.httpServer.Handler
}

// Store returns the counter store.
func (a *App) Store() *counter.Store {
	return a.store
}

// Board returns the badges the agent paints.
func (a *App) Board() *ui.Board {
	return a.board
}

// Navigations returns every page the agent was sent to, oldest first.
func (a *App) Navigations() []string {
	return a.navi.recorder.Targets()
}

// Start initializes the counter store and, when enabled, starts consuming
// backend events. Both stop when ctx is done.
func (a *App) Start(ctx context.Context) {
	a.store.Init(ctx)

	if a.consumer != nil {
		go func() {
			if err := a.consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Error("kafka consumer stopped", slog.String("error", err.Error()))
			}
		}()
	}
}

// Run starts the agent and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	a.Start(ctx)

	errCh := make(chan error, 1)

	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		_ = a.Shutdown()
		return err
	}

	return a.Shutdown()
}

// Shutdown gracefully stops all components. Queued storage writes are
// flushed before the backend closes.
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	// Graceful HTTP server shutdown with a 10-second deadline.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
	}
	a.cancelBackground()

	if a.consumer != nil {
		if err := a.consumer.Close(); err != nil {
			a.logger.Error("kafka consumer close error", slog.String("error", err.Error()))
		}
	}

	if err := a.store.Close(); err != nil {
		a.logger.Error("counter store close error", slog.String("error", err.Error()))
	}
	a.updater.Close()
	a.session.Close()

	if err := a.cache.Close(); err != nil {
		a.logger.Error("storage cache close error", slog.String("error", err.Error()))
	}
	if err := a.backend.Close(); err != nil {
		a.logger.Error("storage close error", slog.String("error", err.Error()))
	}
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.logger.Error("redis close error", slog.String("error", err.Error()))
		}
	}

	if err := a.traceShutdown(shutdownCtx); err != nil {
		a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
	}

	a.logger.Info("application shutdown complete")
	return nil
}

// pageNavigator follows redirects the way a browser follows
// location.href: the target becomes the current page.
type pageNavigator struct {
	identity *api.IdentityResolver
	recorder *session.RecordingNavigator
	logger   *slog.Logger
}

func (n *pageNavigator) Navigate(ctx context.Context, target string) {
	n.recorder.Navigate(ctx, target)
	path := target
	if u, err := url.Parse(target); err == nil && u.Path != "" {
		path = u.Path
	}
	n.identity.SetPage(domain.Page{Path: path})
	n.logger.InfoContext(ctx, "navigated", slog.String("target", target))
}
