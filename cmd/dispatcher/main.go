package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/LeventeLantos/promo-dispatch/internal/api"
	"github.com/LeventeLantos/promo-dispatch/internal/cache"
	"github.com/LeventeLantos/promo-dispatch/internal/client"
	"github.com/LeventeLantos/promo-dispatch/internal/config"
	"github.com/LeventeLantos/promo-dispatch/internal/eligibility"
	"github.com/LeventeLantos/promo-dispatch/internal/logging"
	"github.com/LeventeLantos/promo-dispatch/internal/model"
	"github.com/LeventeLantos/promo-dispatch/internal/ratelimit"
	"github.com/LeventeLantos/promo-dispatch/internal/repo"
	"github.com/LeventeLantos/promo-dispatch/internal/scheduler"
	"github.com/LeventeLantos/promo-dispatch/internal/selector"
	"github.com/LeventeLantos/promo-dispatch/internal/service"
	"github.com/LeventeLantos/promo-dispatch/internal/timezone"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadAll()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("dispatcher stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	logger.Info("dispatcher starting",
		zap.String("addr", cfg.Server.Address),
		zap.Duration("queue_interval", cfg.Scheduler.QueueInterval),
		zap.String("sync_cron", cfg.Scheduler.SyncCron),
		zap.Int("page_size", cfg.Queue.PageSize),
		zap.Bool("redis", cfg.Redis.Enabled),
	)

	db, err := repo.Open(cfg.Database.PostgresURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err = db.PingContext(pingCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("ping database: %w", err)
	}

	if cfg.Database.Migrate {
		if err := repo.Migrate(db); err != nil {
			return err
		}
		logger.Info("database migrated")
	}

	var state cache.RunState = cache.Nop{}
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()

		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
		state = cache.NewRedisCache(rdb, cfg.Redis.TTL)
	}

	subs := repo.NewPostgresSubscriberRepo(db)
	messages := repo.NewPostgresMessageRepo(db)
	sentLogs := repo.NewPostgresSentLogRepo(db)
	configs := repo.NewPostgresConfigRepo(db)
	segments := repo.NewPostgresSegmentRepo(db)

	registry, err := providers(cfg)
	if err != nil {
		return err
	}

	resolver := timezone.NewResolver()
	locator, err := eligibility.NewLocator(resolver, cfg.Dispatch.FallbackZone)
	if err != nil {
		return fmt.Errorf("fallback timezone: %w", err)
	}
	engine := eligibility.NewEngine(locator)
	sel := selector.New(messages, locator, cfg.Dispatch.HistoryDays)
	dispatcher := service.NewDispatcher(subs, sentLogs, state, logger.Named("dispatch"))

	queue := service.NewQueueProcessor(service.QueueDeps{
		Subscribers: subs,
		SentLogs:    sentLogs,
		Segments:    segments,
		Configs:     configs,
		Providers:   registry,
		Locator:     locator,
		Engine:      engine,
		Selector:    sel,
		Dispatcher:  dispatcher,
		State:       state,
	}, service.QueueOptions{
		PageSize:    cfg.Queue.PageSize,
		Yield:       cfg.Queue.Yield,
		HistoryDays: cfg.Dispatch.HistoryDays,
	}, logger.Named("queue"))

	syncer := service.NewSyncEngine(subs, configs, registry, resolver, state, syncOptions(cfg), logger.Named("sync"))

	direct := service.NewDirectSendService(subs, messages, configs, registry, engine, dispatcher,
		cfg.Dispatch.HistoryDays, logger.Named("direct"))

	queueJob, err := scheduler.New("queue", cfg.Scheduler.QueueInterval, func(ctx context.Context) {
		if _, err := queue.Run(ctx); errors.Is(err, service.ErrRunInProgress) {
			logger.Warn("queue run skipped, previous run still active")
		}
	}, logger.Named("scheduler"))
	if err != nil {
		return err
	}

	cronLoc, err := time.LoadLocation(cfg.Scheduler.CronTimezone)
	if err != nil {
		return fmt.Errorf("cron timezone: %w", err)
	}
	syncJob, err := scheduler.NewCron("sync", cfg.Scheduler.SyncCron, cronLoc, func(ctx context.Context) {
		if _, err := syncer.Sync(ctx); errors.Is(err, service.ErrRunInProgress) {
			logger.Warn("sync skipped, previous sync still active")
		}
	}, logger.Named("scheduler"))
	if err != nil {
		return err
	}

	jobs := []*scheduler.Scheduler{queueJob, syncJob}
	if cfg.Scheduler.AutoStart {
		for _, j := range jobs {
			j.Start()
		}
	}
	defer func() {
		for _, j := range jobs {
			j.Stop()
		}
	}()

	h := api.NewHandler(api.Deps{
		Jobs:      jobs,
		Queue:     queue,
		Sync:      syncer,
		Direct:    direct,
		SentLogs:  sentLogs,
		State:     state,
		Providers: registry.Names(),
		APIKey:    cfg.Dispatch.APIKey,
	}, logger.Named("api"))

	srv := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           loggingMiddleware(logger.Named("http"))(api.Router(h)),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.Server.Address))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	logger.Info("dispatcher stopped cleanly")
	return nil
}

func providers(cfg *config.Config) (*service.Registry, error) {
	limeLimiter, err := ratelimit.New(cfg.Lime.Burst, cfg.Lime.Rate)
	if err != nil {
		return nil, fmt.Errorf("lime rate limit: %w", err)
	}
	tracklyLimiter, err := ratelimit.New(cfg.Trackly.Burst, cfg.Trackly.Rate)
	if err != nil {
		return nil, fmt.Errorf("trackly rate limit: %w", err)
	}

	lime := client.NewLimeClient(client.LimeConfig{
		BaseURL: cfg.Lime.BaseURL,
		User:    cfg.Lime.User,
		APIID:   cfg.Lime.APIID,
		Timeout: cfg.Lime.Timeout,
	}, limeLimiter)
	trackly := client.NewTracklyClient(client.TracklyConfig{
		BaseURL:       cfg.Trackly.BaseURL,
		APIKey:        cfg.Trackly.APIKey,
		PhoneNumberID: cfg.Trackly.PhoneNumberID,
		PageSize:      cfg.Trackly.PageSize,
		Timeout:       cfg.Trackly.Timeout,
	}, tracklyLimiter)

	return service.NewRegistry(cfg.Dispatch.DefaultProvider, lime, trackly), nil
}

func syncOptions(cfg *config.Config) service.SyncOptions {
	opts := service.SyncOptions{
		BatchSize:     cfg.Sync.BatchSize,
		Concurrency:   cfg.Sync.Concurrency,
		FallbackZone:  cfg.Dispatch.FallbackZone,
		DefaultListID: cfg.Sync.DefaultListID,
	}
	for _, r := range cfg.Sync.KeywordRules() {
		opts.Keywords = append(opts.Keywords, service.KeywordRule{Keyword: r.Keyword, Brand: model.Brand(r.Brand)})
	}
	for _, b := range cfg.Sync.DefaultBrands {
		opts.DefaultBrands = append(opts.DefaultBrands, model.Brand(b))
	}
	return opts
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}
