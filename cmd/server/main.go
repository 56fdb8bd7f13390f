package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"goldenscan/internal/bot"
	"goldenscan/internal/cache"
	"goldenscan/internal/config"
	"goldenscan/internal/db"
	"goldenscan/internal/handler"
	"goldenscan/internal/job"
	"goldenscan/internal/provider"
	"goldenscan/internal/repository"
	"goldenscan/internal/service"
	signalengine "goldenscan/internal/signal"
	"goldenscan/pkg/tracing"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/trace"
)

// providerGateway adapts the concrete gateway client to the acquisition
// service's session interface.
type providerGateway struct {
	client *provider.Client
}

func (g providerGateway) Login(ctx context.Context) (service.MarketSession, error) {
	session, err := g.client.Login(ctx)
	if err != nil {
		return nil, err
	}
	return session, nil
}

var (
	loadEnvFunc           = godotenv.Load
	loadConfigFunc        = config.Load
	initPostgresFunc      = db.Connect
	initRedisFunc         = cache.Connect
	initTracerFunc        = tracing.InitTracer
	newBarRepoFunc        = repository.NewBarRepository
	newInstrumentRepoFunc = repository.NewInstrumentRepository
	newGatewayFunc        = func(cfg *config.Config, tracer trace.Tracer) service.MarketGateway {
		return providerGateway{client: provider.NewClient(cfg.ProviderBaseURL, cfg.ProviderUser, cfg.ProviderPassword, tracer)}
	}
	newSignalEngineFunc    = signalengine.NewEngine
	newAcquisitionFunc     = service.NewAcquisitionService
	newScanServiceFunc     = service.NewScanService
	newSchedulerFunc       = job.NewRefreshScheduler
	startSchedulerFunc     = func(s *job.RefreshScheduler, ctx context.Context) { go s.Start(ctx) }
	startTelegramBotFunc   = bot.StartTelegramBot
	newHandlerFunc         = handler.New
	newRouterFunc          = gin.Default
	setupSignalNotify      = ossignal.Notify
	waitForSignalFunc      = func(quit <-chan os.Signal) { <-quit }
	startHTTPServerFunc    = func(srv *http.Server) error { return srv.ListenAndServe() }
	shutdownHTTPServerFunc = func(srv *http.Server, ctx context.Context) error { return srv.Shutdown(ctx) }
)

func main() {
	loadEnvFunc()

	cfg := loadConfigFunc()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect Postgres and Redis; the server owns both handles
	pool, err := initPostgresFunc(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}
	if pool != nil {
		defer pool.Close()
	}
	redisClient, err := initRedisFunc(ctx, cfg.RedisURL)
	if err != nil {
		log.Printf("redis unavailable, scan results will not be cached: %v", err)
	}

	// Init tracing
	tp, tracer, err := initTracerFunc(ctx)
	if err != nil {
		log.Fatalf("failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("error shutting down tracer provider: %v", err)
		}
	}()

	// Create repositories and run migrations
	barRepo := newBarRepoFunc(pool, tracer)
	instrumentRepo := newInstrumentRepoFunc(pool, tracer)
	if pool != nil {
		if err := barRepo.RunMigrations(ctx); err != nil {
			log.Fatalf("failed to run bar migrations: %v", err)
		}
		if err := instrumentRepo.RunMigrations(ctx); err != nil {
			log.Fatalf("failed to run instrument migrations: %v", err)
		}
	}

	// Create the gateway client and services
	gateway := newGatewayFunc(cfg, tracer)
	acquisition := newAcquisitionFunc(tracer, gateway, barRepo, instrumentRepo)
	acquisition.SetRetryPolicy(cfg.RetryMaxAttempts, cfg.RetryBaseDelay)
	acquisition.SetRefreshWindow(cfg.RefreshWindowDays)

	var scanCache service.ResultCache
	if redisClient != nil {
		scanCache = cache.NewScanCache(redisClient)
	}
	engine := newSignalEngineFunc()
	scanService := newScanServiceFunc(tracer, barRepo, instrumentRepo, engine, scanCache, nil)

	// Start the nightly refresh (stopped by ctx cancel)
	scheduler := newSchedulerFunc(tracer, acquisition, acquisition, cfg.RefreshAt, cfg.BackfillDays)
	startSchedulerFunc(scheduler, ctx)

	// Start Telegram bot and hook alerts into the scan pipeline
	os.Setenv("TELEGRAM_BOT_TOKEN", cfg.TelegramBotToken)
	if dispatcher := startTelegramBotFunc(scanService); dispatcher != nil {
		scanService.SetNotifier(dispatcher)
	}

	// Create handlers and routes
	h := newHandlerFunc(tracer, instrumentRepo, barRepo, scanService, acquisition, scheduler)

	r := newRouterFunc()
	r.Use(otelgin.Middleware("goldenscan"))
	r.Use(cors.Default())

	h.RegisterRoutes(r)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: r,
	}

	go func() {
		if err := startHTTPServerFunc(srv); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	setupSignalNotify(quit, syscall.SIGINT, syscall.SIGTERM)
	waitForSignalFunc(quit)
	log.Println("Shutting down server...")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := shutdownHTTPServerFunc(srv, shutdownCtx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server exiting")
}
