package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"wowmarket/internal/client/blizzard"
	"wowmarket/internal/config"
	cronrunner "wowmarket/internal/cron"
	"wowmarket/internal/db"
	"wowmarket/internal/handler"
	"wowmarket/internal/logger"
	"wowmarket/internal/ratelimit"
	"wowmarket/internal/report"
	gormrepository "wowmarket/internal/repository/gorm"
	"wowmarket/internal/runlock"
	"wowmarket/internal/service"
)

func main() {
	os.Exit(run())
}

func run() int {
	serve := flag.Bool("serve", false, "run the ops API and the cron schedule instead of a single ingestion")
	itemsFile := flag.String("items", "", "item list file (overrides ingest.items_file)")
	flag.Parse()

	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfgPath := os.Getenv("WOW_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}
	envOnly := false
	if envOnlyRaw := os.Getenv("WOW_ENV_ONLY"); envOnlyRaw != "" {
		envOnly = strings.EqualFold(envOnlyRaw, "true") || envOnlyRaw == "1"
	}

	cfg, err := config.Load(cfgPath, envOnly)
	if err != nil {
		os.Stderr.WriteString("load config: " + err.Error() + "\n")
		return 1
	}
	if *itemsFile != "" {
		cfg.Ingest.ItemsFile = *itemsFile
	}

	log, err := logger.New(cfg.Log, cfg.App.Env)
	if err != nil {
		os.Stderr.WriteString("init logger: " + err.Error() + "\n")
		return 1
	}
	defer log.Sync()

	if err := cfg.Blizzard.Validate(); err != nil {
		log.Error("configuration invalid", zap.Error(err))
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbConn, err := db.Open(ctx, cfg.DB)
	if err != nil {
		log.Error("db open failed", zap.Error(err))
		return 1
	}
	defer db.Close(dbConn)

	if err := db.SetTimezone(dbConn, cfg.DB.Timezone); err != nil {
		log.Warn("failed to set timezone", zap.Error(err))
	}
	if err := db.AutoMigrate(dbConn); err != nil {
		log.Error("auto-migrate failed", zap.Error(err))
		return 1
	}

	store := gormrepository.New(dbConn.Gorm,
		gormrepository.WithCopyPool(dbConn.Pool),
		gormrepository.WithLockRetry(cfg.Ingest.CommodityLockRetries, cfg.Ingest.CommodityLockDelay),
	)

	limiter := ratelimit.New(ratelimit.Config{
		MaxConcurrent:     cfg.RateLimit.MaxConcurrent,
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		LowWaterMark:      cfg.RateLimit.LowWaterMark,
		SlowdownFactor:    cfg.RateLimit.SlowdownFactor,
		BaseDelay:         cfg.RateLimit.BaseDelay,
		MaxDelay:          cfg.RateLimit.MaxDelay,
		RetryAfterBuffer:  cfg.RateLimit.RetryAfterBuffer,
	}, log)

	api := blizzard.New(blizzard.Config{
		Region:             cfg.Blizzard.Region,
		Locale:             cfg.Blizzard.Locale,
		BaseURL:            cfg.Blizzard.BaseURL,
		TokenURL:           cfg.Blizzard.TokenURL,
		ClientID:           cfg.Blizzard.ClientID,
		ClientSecret:       cfg.Blizzard.ClientSecret,
		Timeout:            cfg.Blizzard.Timeout,
		TokenRefreshMargin: cfg.Blizzard.TokenRefreshMargin,
		MaxRetries:         cfg.RateLimit.MaxRetries,
	}, limiter, log)

	authCtx, cancelAuth := context.WithTimeout(ctx, cfg.Blizzard.Timeout)
	err = api.Authenticate(authCtx)
	cancelAuth()
	if err != nil {
		log.Error("blizzard authentication failed", zap.Error(err))
		return 1
	}

	ingest := &service.IngestService{
		API:    api,
		Store:  store,
		Logger: log,
		Options: service.IngestOptions{
			BatchSize:        cfg.Ingest.BatchSize,
			BatchDelay:       cfg.Ingest.BatchDelay,
			ItemRetryPasses:  cfg.Ingest.ItemRetryPasses,
			RealmConcurrency: cfg.Ingest.RealmConcurrency,
			RealmRetryPasses: cfg.Ingest.RealmRetryPasses,
			StageTimeout:     cfg.Ingest.StageTimeout,
		},
		Retries: limiter,
	}

	var lock runlock.Locker = runlock.NewLocal()
	var redisLock *runlock.Redis
	if strings.TrimSpace(cfg.Redis.Addr) != "" {
		redisLock = runlock.NewRedis(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, cfg.Redis.LockKey, cfg.Redis.LockTTL)
		defer redisLock.Close()
		lock = redisLock
	}

	writers := []service.ReportWriter{report.MarkdownWriter{Dir: cfg.Report.Dir}}
	if cfg.Report.XLSX {
		writers = append(writers, report.XLSXWriter{Dir: cfg.Report.Dir})
	}

	job := &service.Job{
		Service:   ingest,
		ItemsFile: cfg.Ingest.ItemsFile,
		Lock:      lock,
		Writers:   writers,
		Logger:    log,
	}

	if *serve {
		return serveMode(ctx, cfg, log, dbConn, store, job, redisLock)
	}

	result, err := job.Run(ctx, "cli")
	if err != nil {
		log.Error("ingestion failed", zap.String("run_id", result.RunID), zap.Error(err))
		return 1
	}
	log.Info("ingestion finished",
		zap.String("run_id", result.RunID),
		zap.Bool("success", result.Success),
		zap.Duration("duration", result.Duration()),
		zap.Int("failed_realms", len(result.FailedRealms)),
		zap.Int("failed_items", len(result.FailedItems)),
	)
	if !result.Success {
		return 1
	}
	return 0
}

func serveMode(ctx context.Context, cfg config.Config, log *zap.Logger, dbConn *db.DB, store *gormrepository.Store, job *service.Job, redisLock *runlock.Redis) int {
	if strings.EqualFold(cfg.App.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())

	health := &handler.HealthHandler{DB: dbConn.Gorm}
	if redisLock != nil {
		health.Checks = map[string]func(context.Context) error{
			"redis": func(ctx context.Context) error { return redisLock.Client.Ping(ctx).Err() },
		}
	}
	health.Register(engine)
	ingestHandler := &handler.IngestHandler{Job: job, Store: store, Logger: log, BaseCtx: ctx}
	ingestHandler.Register(engine)

	srv := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: engine,
	}

	if cfg.Cron.Enabled {
		runner := cronrunner.New(log, ctx)
		id, err := runner.Add("ingest", cfg.Cron.Ingest, func(ctx context.Context) error {
			result, err := job.Run(ctx, "cron")
			if errors.Is(err, service.ErrRunInProgress) {
				log.Info("cron ingestion skipped, another run holds the lock")
				return nil
			}
			if err != nil {
				return err
			}
			log.Info("cron ingestion finished",
				zap.String("run_id", result.RunID),
				zap.Bool("success", result.Success),
				zap.Duration("duration", result.Duration()),
			)
			return nil
		})
		if err != nil {
			log.Error("cron register ingest failed", zap.Error(err))
			return 1
		}
		runner.Start()
		defer runner.Stop()
		log.Info("ingestion scheduled", zap.String("spec", cfg.Cron.Ingest), zap.Time("next", runner.Next(id)))
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server starting", zap.String("addr", cfg.Server.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	code := 0
	select {
	case <-ctx.Done():
		log.Info("shutdown requested")
	case err := <-errCh:
		log.Error("server error", zap.Error(err))
		code = 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	return code
}
