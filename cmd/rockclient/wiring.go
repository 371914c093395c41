package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"
	"go.uber.org/zap"

	"github.com/avalanche-app/rockclient/internal/auth"
	"github.com/avalanche-app/rockclient/internal/device"
	"github.com/avalanche-app/rockclient/internal/events"
	"github.com/avalanche-app/rockclient/internal/httpclient"
	"github.com/avalanche-app/rockclient/internal/rate"
	"github.com/avalanche-app/rockclient/internal/resource"
	internalsecrets "github.com/avalanche-app/rockclient/internal/secrets"
	"github.com/avalanche-app/rockclient/internal/settings"
	"github.com/avalanche-app/rockclient/internal/store"
	"github.com/avalanche-app/rockclient/pkg/config"
	"github.com/avalanche-app/rockclient/pkg/model"
	"github.com/avalanche-app/rockclient/pkg/secrets"
	"github.com/avalanche-app/rockclient/pkg/utils"
)

// application holds the wired core shared by every command.
type application struct {
	store   store.ResourceStore
	fetcher *resource.Fetcher
	orch    *resource.Orchestrator
	auth    *auth.Manager
	bus     *events.Bus
	closers []func() error
}

// Close drains background work and releases connections in reverse order of creation.
func (a *application) Close(log *zap.Logger) {
	a.orch.Wait()
	a.bus.Wait()
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.Warn("shutdown.close_failed", zap.Error(err))
		}
	}
}

func build(ctx context.Context, cfg *config.Config, log *zap.Logger) (*application, error) {
	app := &application{}
	fail := func(err error) (*application, error) {
		for i := len(app.closers) - 1; i >= 0; i-- {
			_ = app.closers[i]()
		}
		return nil, err
	}

	// --- Resource store ---
	var sqliteDB *bun.DB
	var rdb *redis.Client
	switch cfg.ResourceStore {
	case config.BackendSQLite:
		db, err := store.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return fail(err)
		}
		sqliteDB = db
		app.store = store.NewSQLite(db, log)
	case config.BackendRedis:
		rs, err := store.NewRedis(cfg.RedisAddr, cfg.RedisDB, cfg.RedisPass, log)
		if err != nil {
			return fail(err)
		}
		rdb = rs.Client()
		app.store = rs
	case config.BackendPostgres:
		log.Info("store.postgres.connecting", zap.String("dsn", utils.MaskDSN(cfg.DatabaseURL)))
		ps, err := store.NewPostgres(ctx, cfg.DatabaseURL, store.PGPoolConfig{
			MaxConns:          int32(cfg.PGMaxConns),
			MinConns:          int32(cfg.PGMinConns),
			MaxConnLifetime:   cfg.PGMaxConnLifetime,
			MaxConnIdleTime:   cfg.PGMaxConnIdleTime,
			HealthCheckPeriod: cfg.PGHealthCheckPeriod,
		}, log)
		if err != nil {
			return fail(err)
		}
		app.store = ps
	default:
		return fail(fmt.Errorf("unknown RESOURCE_STORE %q", cfg.ResourceStore))
	}
	app.closers = append(app.closers, app.store.Close)
	if err := app.store.EnsureSchema(ctx); err != nil {
		return fail(err)
	}

	// --- Settings store ---
	var st settings.Store
	switch cfg.SettingsStore {
	case config.BackendMemory:
		st = settings.NewMemory()
	case config.BackendSQLite:
		if sqliteDB == nil {
			db, err := store.OpenSQLite(cfg.SQLitePath)
			if err != nil {
				return fail(err)
			}
			app.closers = append(app.closers, db.Close)
			sqliteDB = db
		}
		sq, err := settings.NewSQLite(ctx, sqliteDB)
		if err != nil {
			return fail(err)
		}
		st = sq
	case config.BackendRedis:
		if rdb == nil {
			rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB, Password: cfg.RedisPass})
			app.closers = append(app.closers, rdb.Close)
			if err := rdb.Ping(ctx).Err(); err != nil {
				return fail(fmt.Errorf("redis ping failed: %w", err))
			}
		}
		st = settings.NewRedis(rdb)
	default:
		return fail(fmt.Errorf("unknown SETTINGS_STORE %q", cfg.SettingsStore))
	}

	// --- Client identity ---
	var clientResolver internalsecrets.ClientResolver
	if cfg.ClientSecretName != "" {
		awsProvider, err := secrets.NewAWSProvider(ctx, cfg.AWSRegion)
		if err != nil {
			return fail(fmt.Errorf("failed to create AWS Secrets Manager provider: %w", err))
		}
		cache := secrets.NewCache[model.ClientCredentials](cfg.SecretsCacheTTL)
		stopCleaner := make(chan struct{})
		go cache.StartCleaner(cfg.SecretsCacheTTL, stopCleaner)
		app.closers = append(app.closers, func() error { close(stopCleaner); return nil })
		clientResolver = internalsecrets.NewAWSResolver(log, cfg.ClientSecretName, awsProvider, cache)
	} else {
		clientResolver = internalsecrets.NewStaticResolver(cfg.ClientID, cfg.ClientSecret)
	}

	// --- Events ---
	app.bus = events.NewBus()
	switch cfg.EventsBackend {
	case config.EventsNone, "":
	case config.EventsNATS:
		nc, err := events.DialNATS(cfg.NATSURL, cfg.ServiceName)
		if err != nil {
			return fail(err)
		}
		app.closers = append(app.closers, nc.Drain)
		events.NewNATSBridge(nc, cfg.NATSSubjectPrefix, cfg.ServiceName, log).Attach(app.bus)
	case config.EventsAMQP:
		bridge, err := events.DialAMQP(cfg.AMQPURL, cfg.AMQPExchange, cfg.ServiceName, log)
		if err != nil {
			return fail(err)
		}
		app.closers = append(app.closers, bridge.Close)
		bridge.Attach(app.bus)
	default:
		return fail(fmt.Errorf("unknown EVENTS_BACKEND %q", cfg.EventsBackend))
	}

	// --- Device identity ---
	info, err := device.EnsureID(ctx, device.FromConfig(*cfg), st, log)
	if err != nil {
		return fail(err)
	}

	// --- HTTP ---
	rateMgr := rate.NewManager(rate.Config{
		RequestsPerSecond: cfg.RateLimitRPS,
		Burst:             cfg.RateLimitBurst,
	})
	httpClient := &http.Client{Timeout: cfg.RequestTimeout}

	app.auth = auth.NewManager(ctx, auth.Options{
		Logger:        log,
		Executor:      httpclient.New(log, rateMgr, httpClient, "token"),
		BaseURL:       cfg.ServerURL,
		TokenEndpoint: cfg.TokenEndpoint,
		Client:        clientResolver,
		Settings:      st,
		Cache:         app.store,
		Events:        app.bus,
	})

	app.fetcher = resource.NewFetcher(resource.FetcherOptions{
		Logger:              log,
		Executor:            httpclient.New(log, rateMgr, httpClient, "content"),
		BaseURL:             cfg.ServerURL,
		Tokens:              app.auth,
		Client:              clientResolver,
		UserAgent:           info.UserAgent(),
		LegacyClientHeaders: cfg.LegacyClientHeaders,
		Store:               app.store,
		Events:              app.bus,
	})
	app.orch = resource.NewOrchestrator(app.store, app.fetcher, log, nil)

	log.Info("rockclient.ready",
		zap.String("resource_store", cfg.ResourceStore),
		zap.String("settings_store", cfg.SettingsStore),
		zap.String("events", cfg.EventsBackend),
		zap.String("server", cfg.ServerURL),
		zap.String("device_id", info.ID))
	return app, nil
}
