package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/weqory/backend/internal/alertengine"
	"github.com/weqory/backend/internal/alerteval"
	"github.com/weqory/backend/internal/alertstore"
	"github.com/weqory/backend/internal/cache"
	"github.com/weqory/backend/internal/dispatcher"
	"github.com/weqory/backend/internal/model"
	"github.com/weqory/backend/internal/provider"
	"github.com/weqory/backend/internal/quotecodec"
	"github.com/weqory/backend/internal/scaler"
	"github.com/weqory/backend/pkg/config"
	"github.com/weqory/backend/pkg/database"
	"github.com/weqory/backend/pkg/logger"
	"github.com/weqory/backend/pkg/redis"
)

// runAlerts runs the alert engine until a termination signal arrives,
// composing the same pieces as the standalone alert-engine binary.
func runAlerts() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.New(cfg.Server.Env)
	log.Info("starting alerts mode")

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

	factory := scaler.NodeFactory(func(tickers []model.Ticker) provider.Provider {
		client := quotecodec.New(cfg.Quote.URL, cfg.Quote.Origin, log.Logger,
			quotecodec.WithFields("lp", "volume", "ch", "chp"),
			quotecodec.WithReconnectPolicy(cfg.Quote.ReconnectDelay, cfg.Quote.ReconnectAttempts),
		)
		for _, t := range tickers {
			if err := client.Subscribe(t); err != nil {
				log.Error("failed to seed node ticker",
					slog.String("ticker", string(t)),
					slog.String("error", err.Error()),
				)
			}
		}
		return client
	})
	quoteScaler := scaler.New(factory, cfg.Scaler.MaxConnections, cfg.Scaler.MaxTickersPerConnection, log.Logger)

	disp := dispatcher.New(log.Logger,
		dispatcher.NewWebhookHandler(cfg.Alert.WebhookURL, log.Logger),
		dispatcher.NewRedisFanoutHandler(redisClient, log.Logger),
	)
	go disp.Run(ctx)

	quoteCache := cache.NewQuoteCache(redisClient, log.Logger)
	prov := cache.NewCachingProvider(ctx, quoteScaler.AsProvider(ctx), quoteCache, log.Logger)

	engine := alertengine.New(alertstore.New(pool, log.Logger), prov, alerteval.New(), disp, log.Logger)
	if err := engine.Run(ctx); err != nil {
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("shutting down alerts mode")
	engine.Stop(ctx)
	return nil
}
