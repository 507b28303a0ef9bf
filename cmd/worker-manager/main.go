package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"policy-orchestrator/internal/classifier"
	"policy-orchestrator/internal/common/camunda"
	"policy-orchestrator/internal/common/config"
	"policy-orchestrator/internal/common/database"
	commonhttp "policy-orchestrator/internal/common/http"
	"policy-orchestrator/internal/common/logger"
	"policy-orchestrator/internal/common/observability"
	"policy-orchestrator/internal/gateway"
	"policy-orchestrator/internal/ingress"
	"policy-orchestrator/internal/lock"
	"policy-orchestrator/internal/notify"
	"policy-orchestrator/internal/pipeline"
	"policy-orchestrator/internal/rating"
	"policy-orchestrator/internal/resolver"
	"policy-orchestrator/internal/store"
	it "policy-orchestrator/internal/workers/policy/intake-transaction"
	pt "policy-orchestrator/internal/workers/policy/process-transaction"
	"policy-orchestrator/pkg/registry"

	"go.uber.org/zap"
)

const memoryBackend = "memory://"

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := logger.New("info", "console")
		boot.Fatal("config load failed", zap.Error(err))
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting worker manager...",
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Environment),
	)

	obs := observability.New(cfg.App.Name)
	defer obs.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Zeebe ---
	zeebe, err := camunda.NewClientWithConfig(ctx, camunda.ConfigFrom(cfg.Camunda))
	if err != nil {
		zapLog.Fatal("zeebe client failed", zap.Error(err))
	}
	defer zeebe.Close()
	zapLog.Info("Zeebe client connected successfully")

	// --- Postgres ---
	pg, err := database.NewPostgres(cfg.Database.Postgres)
	if err != nil {
		zapLog.Fatal("postgres failed", zap.Error(err))
	}
	defer pg.Close()

	pgStore := store.NewPostgres(pg.DB, pg.Table)
	if err := waitFor(ctx, pg, log); err != nil {
		zapLog.Fatal("postgres unreachable", zap.Error(err))
	}
	if err := pgStore.EnsureSchema(ctx); err != nil {
		zapLog.Fatal("postgres schema setup failed", zap.Error(err))
	}
	zapLog.Info("PostgreSQL connected successfully")

	deps := []database.Pinger{zeebe, pg}
	var txStore store.Store = pgStore

	// --- Elasticsearch (optional) ---
	if cfg.Database.Elasticsearch.Enabled() {
		es, err := database.NewElasticsearch(cfg.Database.Elasticsearch)
		if err != nil {
			zapLog.Fatal("elasticsearch client failed", zap.Error(err))
		}
		txStore = store.NewIndexed(pgStore, es.Client, es.Index, log)
		deps = append(deps, es)
		zapLog.Info("Elasticsearch indexing enabled", zap.String("index", es.Index))
	}

	// --- Redis ---
	rdb, err := database.NewRedis(cfg.Database.Redis)
	if err != nil {
		zapLog.Fatal("redis failed", zap.Error(err))
	}
	defer rdb.Close()
	if err := waitFor(ctx, rdb, log); err != nil {
		zapLog.Fatal("redis unreachable", zap.Error(err))
	}
	deps = append(deps, rdb)
	zapLog.Info("Redis connected successfully")

	locker := lock.NewRedis(rdb.Client, config.GetDuration(cfg.Pipeline.LockTTL))

	var cache resolver.Cache
	switch {
	case cfg.Resolver.Disabled:
	case cfg.Resolver.CacheSize > 0:
		cache = resolver.NewMemoryCache(cfg.Resolver.CacheSize)
	default:
		cache = resolver.NewRedisCache(rdb.Client)
	}

	// --- Backend gateway ---
	gw := newGateway(cfg.Backend, log)

	// --- Rating ---
	var templates rating.Templates
	reg, err := registry.Load(cfg.Rating.TemplatePaths...)
	if err != nil {
		zapLog.Fatal("rating templates invalid", zap.Error(err))
	}
	if reg.Len() > 0 {
		templates = reg
	}
	zapLog.Info("rating templates loaded", zap.Int("count", reg.Len()), zap.Strings("paths", cfg.Rating.TemplatePaths))

	defaultStrategy, ok := rating.ParseStrategy(cfg.Rating.DefaultStrategy)
	if !ok {
		zapLog.Fatal("unknown rating.default_strategy", zap.String("strategy", cfg.Rating.DefaultStrategy))
	}

	policy := classifier.Policy{
		MaxAttempts: cfg.Pipeline.MaxAttempts,
		BaseDelay:   config.GetDuration(cfg.Pipeline.BackoffBase),
		MaxDelay:    config.GetDuration(cfg.Pipeline.BackoffMax),
		CallTimeout: config.GetDuration(cfg.Pipeline.CallTimeout),
	}

	selector := rating.NewSelector(gw, templates, defaultStrategy, policy, log,
		rating.WithSourceStrategies(func(source string) string {
			src, _ := cfg.Source(source)
			return src.RatingStrategy
		}),
	)

	// --- Pipeline ---
	opts := []pipeline.Option{
		pipeline.WithObservability(obs),
		pipeline.WithConcurrency(cfg.Pipeline.Concurrency),
	}
	if cfg.Notifications.Email.Enabled || cfg.Notifications.Alerts.Enabled {
		notifier, err := notify.NewAWS(ctx, cfg.Notifications, func(source string) string {
			src, _ := cfg.Source(source)
			return src.NotifyEmail
		}, log)
		if err != nil {
			zapLog.Fatal("notifications setup failed", zap.Error(err))
		}
		opts = append(opts, pipeline.WithNotifier(notifier))
	}

	pl := pipeline.New(gw, txStore, locker,
		resolver.New(gw, cache, config.GetDuration(cfg.Resolver.CacheTTL), log),
		selector, cfg.Source, policy, log, opts...)

	intake := ingress.NewIntake(txStore, func(source string) bool {
		_, ok := cfg.Source(source)
		return ok
	}, log)

	// --- Workers ---
	var workers []*camunda.Worker
	if wcfg := config.GetWorkerConfig(cfg, it.TaskType); wcfg.Enabled {
		handler := it.NewHandler(&it.Config{Timeout: config.GetDuration(wcfg.Timeout)}, intake, log)
		workers = append(workers, camunda.StartWorker(zeebe.Zeebe(), it.TaskType, wcfg, handler, log))
	}
	if wcfg := config.GetWorkerConfig(cfg, pt.TaskType); wcfg.Enabled {
		handler := pt.NewHandler(&pt.Config{
			Timeout: config.GetDuration(wcfg.Timeout),
			LogTail: cfg.Pipeline.LogTail,
		}, pl, log)
		workers = append(workers, camunda.StartWorker(zeebe.Zeebe(), pt.TaskType, wcfg, handler, log))
	}
	zapLog.Info("workers registered", zap.Int("count", len(workers)))

	// --- Resume sweeper ---
	resumeDone := make(chan struct{})
	go func() {
		defer close(resumeDone)
		resumeLoop(ctx, pl, config.GetDuration(cfg.Pipeline.ResumeInterval), cfg.Pipeline.Concurrency*10, log)
	}()

	// --- Health & Metrics Server ---
	srv := &http.Server{
		Addr: cfg.Server.Address,
		Handler: (&server{
			deps:    deps,
			status:  pl,
			logTail: cfg.Pipeline.LogTail,
			version: cfg.App.Version,
			logger:  log,
		}).routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		zapLog.Info("Health/Metrics server listening", zap.String("address", cfg.Server.Address))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLog.Error("Health/Metrics server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	<-ctx.Done()
	zapLog.Info("Shutdown signal received, stopping workers...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, w := range workers {
		w.Stop()
	}
	<-resumeDone
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Error stopping health server", zap.Error(err))
	}

	zapLog.Info("Worker manager stopped gracefully")
}

// newGateway returns the in-process sandbox for memory:// and the XML client
// otherwise.
func newGateway(cfg config.BackendConfig, log logger.Logger) gateway.Gateway {
	if strings.HasPrefix(cfg.URL, memoryBackend) {
		log.Warn("using in-memory backend sandbox", nil)
		return gateway.NewMemory()
	}
	httpClient := commonhttp.NewClient(config.GetDuration(cfg.Timeout), cfg.RateLimit, cfg.Burst)
	return gateway.NewClient(gateway.Config{
		URL:        cfg.URL,
		Username:   cfg.Username,
		Password:   cfg.Password,
		SessionTTL: config.GetDuration(cfg.SessionTTL),
	}, httpClient, nil, log)
}

// waitFor pings dep with backoff until it answers or the attempts run out.
func waitFor(ctx context.Context, dep database.Pinger, log logger.Logger) error {
	policy := classifier.Policy{MaxAttempts: 15, BaseDelay: time.Second, MaxDelay: 10 * time.Second}
	for attempt := 1; ; attempt++ {
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := dep.Ping(pctx)
		cancel()
		if err == nil {
			return nil
		}
		if policy.Exhausted(attempt) {
			return err
		}

		delay := policy.Backoff(attempt)
		log.Warn(dep.Name()+" not ready, retrying...", map[string]interface{}{
			"error":       err.Error(),
			"attempt":     attempt,
			"nextRetryIn": delay.String(),
		})
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// resumeLoop periodically picks up transactions left Received or Processing,
// such as those whose worker died mid-stage.
func resumeLoop(ctx context.Context, pl *pipeline.Pipeline, interval time.Duration, batch int, log logger.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := pl.ResumePending(ctx, interval, batch)
			if err != nil && ctx.Err() == nil {
				log.Error("resume sweep failed", map[string]interface{}{"error": err.Error()})
				continue
			}
			if n > 0 {
				log.Info("resume sweep finished transactions", map[string]interface{}{"count": n})
			}
		}
	}
}
