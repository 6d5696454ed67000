package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/broker"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/database"
	"github.com/stemsi/exstem-proctor/internal/grading"
	"github.com/stemsi/exstem-proctor/internal/handler"
	"github.com/stemsi/exstem-proctor/internal/logger"
	"github.com/stemsi/exstem-proctor/internal/metrics"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/proctor"
	"github.com/stemsi/exstem-proctor/internal/repository"
	"github.com/stemsi/exstem-proctor/internal/router"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/validator"
	"github.com/stemsi/exstem-proctor/internal/worker"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("session_store", cfg.SessionStore).
		Str("essay_grading", cfg.EssayGrading).
		Msg("Starting ExStem Proctor")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// ─── Broker ────────────────────────────────────────────────────────
	var publisher broker.Publisher = broker.NopPublisher{}
	if cfg.AMQPURL != "" {
		amqpPub, err := broker.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to RabbitMQ")
		}
		publisher = amqpPub
	}
	defer publisher.Close()

	m := metrics.New()

	// ─── Initialize Repositories ───────────────────────────────────────
	policyRepo := repository.NewPolicyRepository(pool)
	questionRepo := repository.NewQuestionRepository(pool)
	attemptRepo := repository.NewAttemptRepository(pool)
	violationRepo := repository.NewViolationRepository(pool)

	var store proctor.SessionStore
	switch cfg.SessionStore {
	case config.SessionStoreMemory:
		store = proctor.NewMemoryStore()
	default:
		store = repository.NewRedisSessionStore(rdb)
	}

	// ─── Initialize Services ──────────────────────────────────────────
	defaults := model.DefaultPolicy()
	defaults.TabChangeLimit = cfg.DefaultTabChangeLimit
	defaults.TimeAwayThresholdSeconds = cfg.DefaultTimeAwayThreshold

	authService := service.NewAuthService(cfg)
	quizService := service.NewQuizService(policyRepo, questionRepo, rdb, defaults, log)
	notifier := service.NewNotifier(rdb, m, log)

	engine := proctor.NewEngine(
		store,
		quizService,
		quizService,
		grading.New(grading.ParseEssayPolicy(cfg.EssayGrading)),
		log,
		proctor.WithObserver(notifier),
	)

	proctorService := service.NewProctorService(engine, m, log)
	monitorService := service.NewMonitorService(engine, violationRepo, m, log)
	historyService := service.NewHistoryService(attemptRepo)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Health:       handler.NewHealthHandler(pool, rdb),
		Session:      handler.NewSessionHandler(proctorService, historyService),
		WS:           handler.NewWSHandler(proctorService, log, cfg.AllowedOrigins),
		Policy:       handler.NewPolicyHandler(quizService, log),
		Monitor:      handler.NewMonitorHandler(rdb, monitorService, cfg.MonitorPollInterval, cfg.MonitorKeepalive, log),
		Intervention: handler.NewInterventionHandler(proctorService),
		History:      handler.NewHistoryHandler(historyService, log),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	run := func(fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(workerCtx)
		}()
	}

	limiter := middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)

	run(worker.NewViolationWorker(violationRepo, rdb, log).Start)
	run(worker.NewAttemptWorker(attemptRepo, publisher, rdb, log).Start)
	run(proctor.NewReaper(engine, store, cfg.SessionIdleTTL, cfg.SessionRetention, cfg.ReaperInterval, log).Start)
	run(limiter.Run)
	if cfg.MetricsEnabled {
		run(func(ctx context.Context) { monitorService.RunGauge(ctx, cfg.MonitorPollInterval) })
	}

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(authService, handlers, limiter, m, cfg, log)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests (5s timeout).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop background workers and wait for their final flush.
	workerCancel()
	wg.Wait()

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
