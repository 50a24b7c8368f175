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

// runScanner serves the scanner/screener gateway until a termination
// signal arrives, composing the same pieces as the standalone gateway
// binary.
func runScanner() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.New(cfg.Server.Env)
	log.Info("starting scanner mode", slog.String("port", cfg.Server.Port))

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
		return err
	}
	defer pool.Close()

	redisClient, err := redis.NewClient(ctx, redis.Config{
		URL:      cfg.Redis.URL,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return err
	}
	defer redisClient.Close()

	v := validator.New()

	indiaSymbols := repository.NewSymbolRepository(pool, model.MarketIndia)
	usSymbols := repository.NewSymbolRepository(pool, model.MarketUS)

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
			return err
		}
	}

	refreshService := service.NewRefreshService(registry,
		[]model.Market{model.MarketIndia, model.MarketUS},
		cfg.Scanner.RefreshInterval, log.Logger)
	refreshService.Start(ctx)
	defer refreshService.Stop()

	screenerHandler := screener.NewHandler(indiaSymbols, upstox.NewClient(log.Logger), log.Logger)
	scanHandler := handlers.NewScanHandler(registry, indiaSymbols, v)
	ideasHandler := handlers.NewIdeasHandler(stocktwits.NewClient(log.Logger), marketsmith.NewClient(log.Logger))

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
		RateLimiter: redis.NewRateLimiter(redisClient),
		Log:         log,
		Scan:        scanHandler,
		Ideas:       ideasHandler,
		Screener:    screenerHandler,
	})

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Info("shutting down scanner mode")
		cancel()
		if err := app.ShutdownWithTimeout(30 * time.Second); err != nil {
			log.Error("server shutdown error", slog.String("error", err.Error()))
		}
	}()

	return app.Listen(":" + cfg.Server.Port)
}
