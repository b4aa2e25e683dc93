// Package app wires the Pulse server runtime: config, logging, the event bus
// with its Redis broadcast bridge, HTTP routes, and the WebSocket feed gateway.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"pulse/cmd/internal/bus"
	"pulse/cmd/internal/feed"
	"pulse/cmd/internal/notify"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// App is the Pulse server runtime. It owns every long-lived dependency and
// tears them down in reverse wiring order on shutdown.
type App struct {
	cfg Config
	log Logger

	store     notify.Store
	dbPool    *pgxpool.Pool
	dbEnabled bool

	rdb redis.UniversalClient

	bridge   *bus.Bridge
	eventBus *bus.Bus
	source   *bus.RedisSource

	hub     *feed.Hub
	replay  *feed.Replay
	router  *feed.Router
	gateway *feed.Gateway

	api *apiHandler
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	if err := ValidateSecurityConfig(cfg); err != nil {
		return nil, err
	}

	store, dbPool, dbEnabled, err := newStore(context.Background(), cfg, log)
	if err != nil {
		return nil, err
	}

	var rdb redis.UniversalClient
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			closeStore(store, dbPool)
			return nil, err
		}
		client := redis.NewClient(opt)

		pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		err = client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			_ = client.Close()
			closeStore(store, dbPool)
			return nil, err
		}

		rdb = client
		log.Info("bus.redis.enabled", "channel", cfg.RedisChannel)
	} else {
		log.Info("bus.redis.disabled.single_instance")
	}

	// The bridge only exists when there is an external transport to relay to.
	var bridge *bus.Bridge
	if rdb != nil {
		bridge = bus.NewBridge(log, cfg.BridgeQueueSize, cfg.RelayTimeout,
			bus.NewRedisSink(rdb, cfg.RedisChannel))
	}

	eventBus := bus.New(log, cfg.InstanceID, bridge)

	var source *bus.RedisSource
	if rdb != nil {
		source = bus.NewRedisSource(log, rdb, cfg.RedisChannel, eventBus)
	}

	svc, err := notify.NewService(log, store, eventBus)
	if err != nil {
		closeStore(store, dbPool)
		return nil, err
	}

	hub := feed.NewHub(log)
	replay := feed.NewReplay(cfg.ReplayCapacity)
	router := feed.AttachHub(log, eventBus, hub, replay)

	verifier := newVerifier(cfg, log)

	gwCfg := feed.DefaultGatewayConfig()
	if len(cfg.WSOrigins) > 0 {
		gwCfg.OriginPatterns = cfg.WSOrigins
	}
	gateway := feed.NewGateway(log, hub, verifier, gwCfg)

	api := newAPIHandler(log, verifier, svc, replay)

	return &App{
		cfg:       cfg,
		log:       log,
		store:     store,
		dbPool:    dbPool,
		dbEnabled: dbEnabled,
		rdb:       rdb,
		bridge:    bridge,
		eventBus:  eventBus,
		source:    source,
		hub:       hub,
		replay:    replay,
		router:    router,
		gateway:   gateway,
		api:       api,
	}, nil
}

// Bus exposes the event bus for embedding callers (tools, tests).
func (a *App) Bus() *bus.Bus { return a.eventBus }

// Run starts the HTTP server and blocks until context cancellation or fatal
// server error.
func (a *App) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.dbPool, a.dbEnabled, a.rdb, a.gateway, a.api)

	handler := WithRequestLogging(mux, a.log)
	handler = WithCORS(handler, a.cfg.WSOrigins)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"instance_id", a.cfg.InstanceID,
		"db_enabled", a.dbEnabled,
		"redis_enabled", a.rdb != nil,
	)

	srcCtx, srcCancel := context.WithCancel(ctx)
	defer srcCancel()
	if a.source != nil {
		go a.pumpSource(srcCtx)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	a.closeDeps(srcCancel)
	a.log.Info("server.stopped")
	return nil
}

// pumpSource keeps the Redis subscription alive, retrying on failure until
// shutdown. A dropped subscription degrades to single-instance delivery only.
func (a *App) pumpSource(ctx context.Context) {
	for {
		err := a.source.Run(ctx)
		if ctx.Err() != nil {
			return
		}
		a.log.Warn("bus.redis.source.restart", "err", err)

		select {
		case <-ctx.Done():
			return
		case <-time.After(5 * time.Second):
		}
	}
}

// closeDeps tears down in reverse wiring order: stop producing broadcasts,
// detach the feed, then release storage and transports.
func (a *App) closeDeps(srcCancel context.CancelFunc) {
	srcCancel()

	if a.bridge != nil {
		a.bridge.Close()
	}
	a.router.Close()

	closeStore(a.store, a.dbPool)

	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.log.Error("redis.close.fail", "err", err)
		}
	}
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// newStore decides between Postgres-backed persistence and in-memory dev store.
func newStore(ctx context.Context, cfg Config, log Logger) (notify.Store, *pgxpool.Pool, bool, error) {
	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.inmemory_store")
		return notify.NewMemoryStore(), nil, false, nil
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return nil, nil, false, err
	}

	// Ownership model:
	// - app owns pool lifecycle
	// - PostgresStore.Close() is a no-op
	store, err := notify.NewPostgresStore(pool) // default schema "pulse"
	if err != nil {
		pool.Close()
		return nil, nil, false, err
	}

	log.Info("db.enabled.postgres_store")
	return store, pool, true, nil
}

func closeStore(store notify.Store, pool *pgxpool.Pool) {
	if store != nil {
		_ = store.Close()
	}
	if pool != nil {
		pool.Close()
	}
}
