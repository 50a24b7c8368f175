package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/weqory/backend/internal/api/handlers"
	"github.com/weqory/backend/internal/api/middleware"
	"github.com/weqory/backend/internal/api/routes"
	"github.com/weqory/backend/internal/candles"
	"github.com/weqory/backend/internal/marketsmith"
	"github.com/weqory/backend/internal/model"
	"github.com/weqory/backend/internal/quotecodec"
	"github.com/weqory/backend/internal/repository"
	"github.com/weqory/backend/internal/scanner"
	"github.com/weqory/backend/internal/screener"
	"github.com/weqory/backend/internal/service"
	"github.com/weqory/backend/internal/stocktwits"
	"github.com/weqory/backend/internal/upstox"
	"github.com/weqory/backend/pkg/config"
	"github.com/weqory/backend/pkg/database"
	"github.com/weqory/backend/pkg/logger"
	"github.com/weqory/backend/pkg/redis"
	"github.com/weqory/backend/pkg/validator"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	log := logger.New(cfg.Server.Env)
	log.Info("starting gateway",
		slog.String("env", cfg.Server.Env),
		slog.String("port", cfg.Server.Port),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, database.PostgresConfig{
		URL:             cfg.Database.URL,
		MaxConns:        cfg.Database.MaxConns,
		MinConns:        cfg.Database.MinConns,
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
		MaxConnIdleTime: cfg.Database.MaxConnIdleTime,
	})
	if err != nil {
		log.Error("failed to connect to postgres", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()
	log.Info("connected to PostgreSQL")

	redisClient, err := redis.NewClient(ctx, redis.Config{
		URL:      cfg.Redis.URL,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		log.Error("failed to connect to redis", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer redisClient.Close()
	log.Info("connected to Redis")

	v := validator.New()

	// Per-market feature-table repositories: the india table also backs the
	// screener's SQL surface.
	indiaSymbols := repository.NewSymbolRepository(pool, model.MarketIndia)
	usSymbols := repository.NewSymbolRepository(pool, model.MarketUS)

	// Candle snapshots, refreshed through the chart session downloader.
	chartClient := quotecodec.NewChartClient(cfg.Quote.URL, cfg.Quote.Origin, cfg.Quote.Timezone, log.Logger)
	downloader := candles.NewChartDownloader(chartClient)

	registry := scanner.NewRegistry(log.Logger)
	markets := []struct {
		market  model.Market
		symbols *repository.SymbolRepository
	}{
		{model.MarketIndia, indiaSymbols},
		{model.MarketUS, usSymbols},
	}
	for _, m := range markets {
		candleProvider := candles.NewFileProvider(cfg.Scanner.BaseFilePath, m.market, downloader, m.symbols, log.Logger)
		if err := registry.Add(ctx, m.market, candleProvider, m.symbols, cfg.Scanner.CacheEnabled); err != nil {
			log.Error("failed to initialize scanner engine",
				slog.String("market", string(m.market)),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
	}

	refreshService := service.NewRefreshService(registry,
		[]model.Market{model.MarketIndia, model.MarketUS},
		cfg.Scanner.RefreshInterval, log.Logger)
	refreshService.Start(ctx)
	defer refreshService.Stop()

	// Screener WS handler: the india feature table plus the live-quote API.
	quoteFetcher := upstox.NewClient(log.Logger)
	screenerHandler := screener.NewHandler(indiaSymbols, quoteFetcher, log.Logger)

	scanHandler := handlers.NewScanHandler(registry, indiaSymbols, v)
	ideasHandler := handlers.NewIdeasHandler(stocktwits.NewClient(log.Logger), marketsmith.NewClient(log.Logger))

	rateLimiter := redis.NewRateLimiter(redisClient)

	app := fiber.New(fiber.Config{
		AppName:               "Market Data Gateway",
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          30 * time.Second,
		IdleTimeout:           120 * time.Second,
		DisableStartupMessage: cfg.IsProduction(),
	})

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(middleware.Logging(middleware.LoggingConfig{
		Logger:        log,
		SkipPaths:     []string{"/health"},
		SlowThreshold: 500 * time.Millisecond,
	}))
	app.Use(cors.New(cors.Config{
		AllowOriginsFunc: func(origin string) bool { return true },
		AllowMethods:     "GET,POST,PUT,PATCH,DELETE,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept,Authorization,X-Request-ID",
	}))

	routes.Setup(app, &routes.Config{
		RateLimiter: rateLimiter,
		Log:         log,
		Scan:        scanHandler,
		Ideas:       ideasHandler,
		Screener:    screenerHandler,
	})

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Info("shutting down server...")
		cancel()

		if err := app.ShutdownWithTimeout(30 * time.Second); err != nil {
			log.Error("server shutdown error", slog.String("error", err.Error()))
		}
	}()

	log.Info("server starting", slog.String("addr", ":"+cfg.Server.Port))
	if err := app.Listen(":" + cfg.Server.Port); err != nil {
		log.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
