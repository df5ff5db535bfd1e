package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rewardflow/internal/audit"
	"rewardflow/internal/config"
	"rewardflow/internal/database"
	"rewardflow/internal/feature"
	"rewardflow/internal/handler"
	"rewardflow/internal/middleware"
	"rewardflow/internal/monitor"
	"rewardflow/internal/redis"
	"rewardflow/internal/repository"
	"rewardflow/internal/rulecenter"
	"rewardflow/internal/service/agg"
	"rewardflow/internal/service/award"
	"rewardflow/internal/service/reconcile"
	"rewardflow/internal/service/report"
	"rewardflow/internal/service/risk"
	"rewardflow/internal/worker"
	"rewardflow/pkg/limiter"
	"rewardflow/pkg/log"
	"rewardflow/pkg/queue"
	"rewardflow/pkg/snowflake"
)

func main() {
	cfg := config.MustLoadConfig("")

	logConfig := log.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		Filename:   cfg.Log.Filename,
		MaxSize:    cfg.Log.MaxSize,
		MaxAge:     cfg.Log.MaxAge,
		MaxBackups: cfg.Log.MaxBackups,
		Compress:   cfg.Log.Compress,
	}
	if err := log.Init(logConfig); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	if err := database.Init(cfg); err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer database.Close()

	db := database.GetDB()
	if err := database.AutoMigrate(db); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	if err := redis.Init(cfg); err != nil {
		log.Fatalf("Failed to initialize redis: %v", err)
	}
	defer redis.Close()
	redisClient := redis.GetClient()

	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// rule and feature snapshots, hot-reloaded on file change
	rules, err := rulecenter.NewCenter(cfg.Rules.RuleFile)
	if err != nil {
		log.Fatalf("Failed to load rules: %v", err)
	}
	go func() {
		if err := rules.Watch(); err != nil {
			log.Errorf("Rule watcher stopped: %v", err)
		}
	}()

	flags, err := feature.NewFlags(cfg.Rules.FeatureFile)
	if err != nil {
		log.Fatalf("Failed to load feature flags: %v", err)
	}
	go func() {
		if err := flags.Watch(); err != nil {
			log.Errorf("Feature watcher stopped: %v", err)
		}
	}()

	idGenerator, err := snowflake.NewIDGenerator(1)
	if err != nil {
		log.Fatalf("Failed to create ID generator: %v", err)
	}

	messageQueue, err := queue.NewMemoryQueue(nil)
	if err != nil {
		log.Fatalf("Failed to create message queue: %v", err)
	}
	defer messageQueue.Close()

	metrics := monitor.NewMetricsCollector()

	tracer, err := monitor.NewTracer(cfg.Tracing)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}

	// repositories
	reportRepo := repository.NewReportRepository(db)
	dailyRepo := repository.NewDailyRepository(db)
	rewardRepo := repository.NewRewardRepository(db)
	outboxRepo := repository.NewOutboxRepository(db)

	// aggregation paths
	aggBuffer := redis.NewAggBuffer(redisClient, time.Duration(cfg.Agg.BufferTTLSeconds)*time.Second)
	dailyStore := agg.NewGormDailyStore(db, dailyRepo)
	buffer := agg.NewBuffer(aggBuffer, dailyStore, cfg.Agg.InflightTimeoutMs, cfg.Agg.FlushIntervalMs, cfg.Agg.FlushBatchSize)
	direct := agg.NewDirect(dailyRepo, reportRepo)
	pathRouter := agg.NewRouter(redisClient, aggBuffer, flags,
		cfg.Agg.HotThresholdPerMinute, time.Duration(cfg.Agg.HotWindowSeconds)*time.Second)

	riskService := risk.NewService(redisClient, cfg.Report)

	registry := award.NewRegistry()
	registry.Register(&award.CoinHandler{})
	registry.Register(&award.CouponHandler{})
	issuer := award.NewIssuer(db, rewardRepo, outboxRepo, registry)

	reportService := report.NewService(
		reportRepo,
		riskService,
		pathRouter,
		buffer,
		direct,
		dailyStore,
		issuer,
		rules,
		flags,
		database.Transaction,
		cfg.Award.DefaultPrizeCode,
		cfg.BizLocation(),
	)
	reconcileService := reconcile.NewService(dailyRepo, rewardRepo, outboxRepo, issuer, rules, flags, cfg.Award.DefaultPrizeCode)

	auditor := audit.NewRecorder(messageQueue, flags, cfg.Audit.Topic)

	// background workers
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()

	flushWorker := worker.NewFlushWorker(buffer,
		time.Duration(cfg.Agg.FlushIntervalMs)*time.Millisecond,
		time.Duration(cfg.Agg.FlushInitialDelayMs)*time.Millisecond)
	go flushWorker.Start(workerCtx)

	outboxPublisher := worker.NewOutboxPublisher(outboxRepo, messageQueue, flags, cfg.Outbox)
	go outboxPublisher.Start(workerCtx)

	router := setupRouter(cfg, idGenerator, metrics,
		handler.NewReportHandler(reportService, metrics, tracer, auditor),
		handler.NewAdminHandler(reconcileService, rules, outboxRepo, rewardRepo, cfg.Award.DefaultPrizeCode))

	server := &http.Server{
		Addr:           cfg.Server.GetAddr(),
		Handler:        router,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    cfg.Server.IdleTimeout,
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		log.WithFields(map[string]interface{}{
			"addr": server.Addr,
			"mode": cfg.Server.Mode,
		}).Info("Starting HTTP server")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")
	stopWorkers()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Errorf("Server forced to shutdown: %v", err)
	}
	if err := tracer.Shutdown(ctx); err != nil {
		log.Errorf("Tracer shutdown failed: %v", err)
	}

	log.Info("Server exited")
}

func setupRouter(cfg *config.Config, idGenerator *snowflake.IDGenerator, metrics *monitor.MetricsCollector, reportHandler *handler.ReportHandler, adminHandler *handler.AdminHandler) *gin.Engine {
	router := gin.New()

	router.Use(middleware.Recovery())
	router.Use(middleware.Logger())
	router.Use(middleware.CORS())
	router.Use(middleware.Trace(idGenerator))
	router.Use(middleware.Metrics(metrics))

	if cfg.RateLimit.Enabled {
		rateLimiter := limiter.NewSlidingWindowLimiter(redis.GetClient(), cfg.RateLimit.Limit, cfg.RateLimit.Window)
		router.Use(middleware.RateLimit(rateLimiter))
	}

	router.GET("/health", healthCheck)
	router.GET("/ping", ping)

	if cfg.Metrics.Enabled {
		router.GET(cfg.Metrics.Path, gin.WrapH(promhttp.Handler()))
	}

	api := router.Group("/api")
	{
		v1 := api.Group("/v1")
		{
			v1.GET("/health", healthCheck)
			v1.GET("/ping", ping)

			v1.POST("/play/report", reportHandler.Submit)

			v1.GET("/reconcile", adminHandler.Reconcile)
			v1.POST("/reconcile/heal", adminHandler.Heal)
			v1.GET("/rules", adminHandler.Rules)
			v1.POST("/rules/simulate", adminHandler.Simulate)
			v1.GET("/outbox/stats", adminHandler.OutboxStats)
		}
	}

	return router
}

func healthCheck(c *gin.Context) {
	dbHealth := map[string]interface{}{"healthy": true}
	if err := database.Health(); err != nil {
		dbHealth["healthy"] = false
		dbHealth["error"] = err.Error()
	}

	redisHealth := map[string]interface{}{"healthy": true}
	if err := redis.Health(); err != nil {
		redisHealth["healthy"] = false
		redisHealth["error"] = err.Error()
	}

	health := map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
		"version":   "1.0.0",
		"services": map[string]interface{}{
			"database": dbHealth,
			"redis":    redisHealth,
		},
	}

	if !dbHealth["healthy"].(bool) || !redisHealth["healthy"].(bool) {
		health["status"] = "error"
		c.JSON(http.StatusServiceUnavailable, health)
		return
	}

	c.JSON(http.StatusOK, health)
}

func ping(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message":   "pong",
		"timestamp": time.Now().Unix(),
	})
}
