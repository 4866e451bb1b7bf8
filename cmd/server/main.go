// Package main - точка входа движка прогресса чтения.
//
// Один процесс обслуживает REST API и фоновые задачи:
// - приём событий чтения и расчёт XP, уровней, серий
// - выдача значков и завершение челленджей
// - лидерборды с кэшем снимков
// - периодический прогрев лидербордов и доначисление наград
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alem-hub/reading-engine/config"
	"github.com/alem-hub/reading-engine/internal/application/access"
	"github.com/alem-hub/reading-engine/internal/application/command"
	"github.com/alem-hub/reading-engine/internal/application/eventhandler"
	"github.com/alem-hub/reading-engine/internal/application/query"
	"github.com/alem-hub/reading-engine/internal/application/userstate"
	"github.com/alem-hub/reading-engine/internal/domain/activity"
	"github.com/alem-hub/reading-engine/internal/domain/badge"
	"github.com/alem-hub/reading-engine/internal/domain/challenge"
	"github.com/alem-hub/reading-engine/internal/domain/leaderboard"
	"github.com/alem-hub/reading-engine/internal/domain/member"
	"github.com/alem-hub/reading-engine/internal/domain/progress"
	"github.com/alem-hub/reading-engine/internal/domain/shared"
	"github.com/alem-hub/reading-engine/internal/infrastructure/messaging"
	"github.com/alem-hub/reading-engine/internal/infrastructure/observability"
	"github.com/alem-hub/reading-engine/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/reading-engine/internal/infrastructure/persistence/postgres"
	"github.com/alem-hub/reading-engine/internal/infrastructure/persistence/redis"
	"github.com/alem-hub/reading-engine/internal/infrastructure/scheduler"
	"github.com/alem-hub/reading-engine/internal/infrastructure/scheduler/jobs"
	httpapi "github.com/alem-hub/reading-engine/internal/interface/http"
	"github.com/alem-hub/reading-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAIN
// ══════════════════════════════════════════════════════════════════════════════

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

// storage объединяет реализации хранилищ, выбранные при старте.
type storage struct {
	events     activity.Store
	ledger     activity.Ledger
	active     jobs.ActiveUserLister
	badges     badge.Repository
	challenges challenge.Repository
	members    member.Directory
	cache      leaderboard.SnapshotCache
	forwarder  eventhandler.Forwarder
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. КОНФИГУРАЦИЯ И ЛОГИРОВАНИЕ
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := logger.New(logger.Options{
		Output:    os.Stdout,
		Level:     logger.ParseLevel(cfg.Observability.LogLevel),
		Format:    cfg.Observability.LogFormat,
		AddCaller: true,
	})
	defer log.Sync()

	log.Info("starting reading engine",
		logger.String("env", string(cfg.App.Environment)),
		logger.String("version", cfg.App.Version),
		logger.String("timezone", cfg.App.Timezone),
	)

	catalog, err := config.LoadCatalog(cfg.Engine.CatalogPath)
	if err != nil {
		return fmt.Errorf("failed to load catalog: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. ТРАССИРОВКА
	// ─────────────────────────────────────────────────────────────────────────
	shutdownTracing, err := observability.InitTracing(ctx, observability.Config{
		Enabled:     cfg.Observability.TracingEnabled,
		ServiceName: cfg.Observability.TracingService,
		Environment: string(cfg.App.Environment),
		Version:     cfg.App.Version,
		SampleRatio: cfg.Observability.TracingSampleRatio,
		Endpoint:    cfg.Observability.TracingEndpoint,
		Insecure:    cfg.Observability.TracingInsecure,
	}, log)
	if err != nil {
		return fmt.Errorf("failed to init tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(flushCtx)
	}()

	health := httpapi.NewHealthChecker(cfg.App.Version, 3*time.Second)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. ХРАНИЛИЩА (PostgreSQL или память, Redis или память)
	// ─────────────────────────────────────────────────────────────────────────
	st, closeStorage, err := openStorage(ctx, cfg, health, log)
	if err != nil {
		return err
	}
	defer closeStorage()

	if err := seedCatalog(ctx, catalog, st, log); err != nil {
		return err
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. EVENT BUS
	// ─────────────────────────────────────────────────────────────────────────
	bus := messaging.NewInMemoryEventBus(messaging.Config{
		AsyncMode:      true,
		WorkerPoolSize: 10,
		Logger:         log,
	})
	defer func() {
		log.Info("closing event bus...")
		_ = bus.Close()
	}()

	if err := eventhandler.NewOnActivityChangedHandler(st.members, st.cache, log).Register(bus); err != nil {
		return fmt.Errorf("failed to register handlers: %w", err)
	}
	if st.forwarder != nil && cfg.Features.IsEnabled(config.FeatureEventForwarding) {
		if err := eventhandler.NewOnAwardEventHandler(st.forwarder, log).Register(bus); err != nil {
			return fmt.Errorf("failed to register handlers: %w", err)
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. ПРИЛОЖЕНИЕ (команды и запросы)
	// ─────────────────────────────────────────────────────────────────────────
	clock := shared.SystemClock{}
	calc := progress.NewCalculator(catalog.Rules())
	badges := catalog.BadgeCatalog()
	policy := access.NewPolicy(st.members)
	loader := userstate.NewLoader(st.events, st.ledger, st.members, st.badges, calc, clock)

	awards := command.NewAwardEvaluator(loader, badges, st.badges, st.challenges, bus, command.AwardEvaluatorConfig{
		ChallengeGraceDays: cfg.Engine.ChallengeGraceDays,
		MaxRetries:         cfg.Engine.AwardMaxRetries,
	}, log)
	getLeaderboard := query.NewGetLeaderboardHandler(st.members, st.events, st.ledger, st.cache, policy, calc, clock,
		query.GetLeaderboardHandlerConfig{
			Location:     cfg.App.Location,
			CacheTTL:     cfg.Engine.LeaderboardTTL,
			DefaultLimit: 20,
			MaxLimit:     cfg.Engine.LeaderboardMaxLimit,
			UseCache:     cfg.Features.IsEnabled(config.FeatureLeaderboardCache),
		}, log)

	// ─────────────────────────────────────────────────────────────────────────
	// 6. ПЛАНИРОВЩИК
	// ─────────────────────────────────────────────────────────────────────────
	sched := scheduler.New(scheduler.Config{
		Logger:            log,
		Timezone:          cfg.App.Location,
		MaxConcurrentJobs: cfg.Scheduler.MaxConcurrentJobs,
		JobTimeout:        cfg.Scheduler.JobTimeout,
		TickInterval:      time.Second,
	})
	if err := registerJobs(sched, cfg, getLeaderboard, awards, st, clock, log); err != nil {
		return err
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 7. HTTP API
	// ─────────────────────────────────────────────────────────────────────────
	serviceName := ""
	if cfg.Observability.TracingEnabled && cfg.Features.IsEnabled(config.FeatureAPITracing) {
		serviceName = cfg.Observability.TracingService
	}
	server := httpapi.NewServer(httpapi.Config{
		Addr:            cfg.HTTP.Addr,
		ReadTimeout:     cfg.HTTP.ReadTimeout,
		WriteTimeout:    cfg.HTTP.WriteTimeout,
		IdleTimeout:     cfg.HTTP.IdleTimeout,
		AllowedOrigins:  cfg.HTTP.AllowedOrigins,
		MaxBodyBytes:    cfg.HTTP.MaxBodyBytes,
		RequestDeadline: cfg.HTTP.RequestDeadline,
		ServiceName:     serviceName,
		Debug:           cfg.App.Debug,
	}, httpapi.Dependencies{
		SubmitEvent: command.NewSubmitEventHandler(st.events, loader, policy, awards, bus,
			command.SubmitEventHandlerConfig{
				MaxFutureDays:      cfg.Engine.MaxFutureDays,
				EarliestOccurredOn: cfg.Engine.EarliestOccurredOn(),
			}, log),
		ReverseEvent:         command.NewReverseEventHandler(st.events, st.ledger, loader, bus, log),
		SyncMember:           command.NewSyncMemberHandler(st.members, bus, clock, log),
		AcknowledgeBadges:    command.NewAcknowledgeBadgesHandler(st.badges, log),
		CreateChallenge:      command.NewCreateChallengeHandler(st.challenges, badges, policy, clock, log),
		GetLeaderboard:       getLeaderboard,
		GetUserProgress:      query.NewGetUserProgressHandler(loader, policy, badges),
		GetChallengeProgress: query.NewGetChallengeProgressHandler(st.challenges, loader, policy),
		ListUserChallenges:   query.NewListUserChallengesHandler(st.challenges, loader, policy, cfg.Engine.ChallengeGraceDays),
		Auth: httpapi.NewAuthenticator(httpapi.AuthConfig{
			JWTSecret:      cfg.Auth.JWTSecret,
			JWTIssuer:      cfg.Auth.JWTIssuer,
			ServiceKeyHash: cfg.Auth.ServiceKeyHash,
			Disabled:       cfg.Auth.Disabled,
		}, log),
		Health: health,
		Jobs:   sched,
		Logger: log,
	})

	// ─────────────────────────────────────────────────────────────────────────
	// 8. ЗАПУСК И GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(gctx) })
	if cfg.Scheduler.Enabled {
		g.Go(func() error { return sched.Run(gctx) })
	}

	err = g.Wait()
	log.Info("reading engine stopped")
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// STORAGE
// ══════════════════════════════════════════════════════════════════════════════

func openStorage(ctx context.Context, cfg *config.Config, health *httpapi.HealthChecker, log *logger.Logger) (*storage, func(), error) {
	var (
		st      = &storage{}
		closers []func()
	)
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.Database.URL == "" {
		log.Warn("DATABASE_URL is empty, using in-memory storage")
		db := memory.NewDB()
		store := memory.NewEventStore(db)
		st.events, st.ledger, st.active = store, store, store
		st.badges = memory.NewBadgeRepo(db)
		st.challenges = memory.NewChallengeRepo(db)
		st.members = memory.NewMemberDirectory(db)
	} else {
		log.Info("connecting to database...")
		pgCfg := postgres.DefaultConfig()
		pgCfg.URL = cfg.Database.URL
		pgCfg.MaxConns = int32(cfg.Database.MaxOpenConns)
		pgCfg.MinConns = int32(cfg.Database.MaxIdleConns)
		pgCfg.MaxConnLifetime = cfg.Database.ConnMaxLifetime
		pgCfg.MaxConnIdleTime = cfg.Database.ConnMaxIdleTime
		pgCfg.QueryTimeout = cfg.Database.QueryTimeout

		conn, err := postgres.NewConnection(ctx, pgCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		closers = append(closers, func() {
			log.Info("closing database connection...")
			conn.Close()
		})
		health.AddCheck("postgres", conn.Ping)

		if cfg.Database.AutoMigrate {
			if err := postgres.NewMigrator(conn).Migrate(ctx); err != nil {
				closeAll()
				return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
			}
			log.Info("database schema is up to date")
		}

		store := postgres.NewEventStore(conn)
		st.events, st.ledger, st.active = store, store, store
		st.badges = postgres.NewBadgeRepository(conn)
		st.challenges = postgres.NewChallengeRepository(conn)
		st.members = postgres.NewMemberDirectory(conn)
	}

	if cfg.Redis.Disabled {
		log.Warn("redis disabled, leaderboard snapshots cached in memory")
		st.cache = memory.NewSnapshotCache()
		return st, closeAll, nil
	}

	rcfg := redis.DefaultConfig()
	rcfg.URL = cfg.Redis.URL
	rcfg.Host = cfg.Redis.Host
	rcfg.Port = cfg.Redis.Port
	rcfg.Password = cfg.Redis.Password
	rcfg.DB = cfg.Redis.DB
	rcfg.PoolSize = cfg.Redis.PoolSize
	rcfg.MinIdleConns = cfg.Redis.MinIdleConns
	rcfg.DialTimeout = cfg.Redis.DialTimeout
	rcfg.ReadTimeout = cfg.Redis.ReadTimeout
	rcfg.WriteTimeout = cfg.Redis.WriteTimeout
	rcfg.Logger = log

	client, err := redis.NewClient(ctx, rcfg)
	if err != nil {
		closeAll()
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	closers = append(closers, func() { _ = client.Close() })
	health.AddCheck("redis", client.Ping)

	st.cache = redis.NewSnapshotCache(client)
	st.forwarder = redis.NewEventForwarder(client, cfg.Redis.EventsChannel)
	log.Info("redis connection established", logger.String("addr", rcfg.Addr()))
	return st, closeAll, nil
}

// seedCatalog stores badge definitions and configured challenges.
func seedCatalog(ctx context.Context, catalog *config.Catalog, st *storage, log *logger.Logger) error {
	if err := st.badges.SyncDefinitions(ctx, catalog.Badges); err != nil {
		return fmt.Errorf("failed to sync badge definitions: %w", err)
	}
	for _, d := range catalog.Challenges {
		if err := st.challenges.Upsert(ctx, d); err != nil {
			return fmt.Errorf("failed to seed challenge %s: %w", d.ID, err)
		}
	}
	log.Info("catalog loaded",
		logger.Int("badges", len(catalog.Badges)),
		logger.Int("challenges", len(catalog.Challenges)))
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// JOBS
// ══════════════════════════════════════════════════════════════════════════════

func registerJobs(
	sched *scheduler.Scheduler,
	cfg *config.Config,
	refresher jobs.LeaderboardRefresher,
	evaluator jobs.AwardEvaluator,
	st *storage,
	clock shared.Clock,
	log *logger.Logger,
) error {
	if cfg.Features.IsEnabled(config.FeatureJobLeaderboards) {
		job := jobs.NewRefreshLeaderboardsJob(refresher, st.members, jobs.DefaultRefreshLeaderboardsConfig(), log)
		if err := sched.Register(job, scheduler.Every(cfg.Scheduler.RefreshLeaderboardsInterval)); err != nil {
			return fmt.Errorf("failed to register %s: %w", job.Name(), err)
		}
	}

	if cfg.Features.IsEnabled(config.FeatureJobReconcile) {
		job := jobs.NewReconcileAwardsJob(evaluator, st.active, clock, jobs.ReconcileAwardsConfig{
			Lookback:    cfg.Scheduler.ReconcileLookback,
			Batch:       cfg.Scheduler.ReconcileBatch,
			Concurrency: 4,
		}, log)

		var schedule scheduler.Schedule = scheduler.Every(cfg.Scheduler.ReconcileAwardsInterval)
		if cfg.Scheduler.ReconcileAwardsCron != "" {
			cron, err := scheduler.ParseCron(cfg.Scheduler.ReconcileAwardsCron, cfg.App.Location)
			if err != nil {
				return fmt.Errorf("invalid SCHEDULER_RECONCILE_CRON: %w", err)
			}
			schedule = cron
		}
		if err := sched.Register(job, schedule); err != nil {
			return fmt.Errorf("failed to register %s: %w", job.Name(), err)
		}
	}
	return nil
}
