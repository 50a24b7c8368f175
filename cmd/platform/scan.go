package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/weqory/backend/internal/candles"
	"github.com/weqory/backend/internal/model"
	"github.com/weqory/backend/internal/repository"
	"github.com/weqory/backend/internal/scanner"
	"github.com/weqory/backend/pkg/config"
	"github.com/weqory/backend/pkg/database"
	"github.com/weqory/backend/pkg/logger"
)

// runScan reads a scan request from stdin, evaluates it against the local
// candle snapshot and the feature table, and prints the result as JSON.
func runScan() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.New(cfg.Server.Env)

	var req scanner.Request
	if err := json.NewDecoder(os.Stdin).Decode(&req); err != nil {
		return fmt.Errorf("decode scan request from stdin: %w", err)
	}
	market := req.Market
	if market == "" {
		market = model.MarketIndia
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, database.PostgresConfig{
		URL:             cfg.Database.URL,
		MaxConns:        cfg.Database.MaxConns,
		MinConns:        cfg.Database.MinConns,
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
		MaxConnIdleTime: cfg.Database.MaxConnIdleTime,
	})
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	defer pool.Close()

	symbols := repository.NewSymbolRepository(pool, market)
	candleProvider := candles.NewFileProvider(cfg.Scanner.BaseFilePath, market, nil, nil, log.Logger)

	engine, err := scanner.New(ctx, candleProvider, symbols, cfg.Scanner.CacheEnabled, log.Logger)
	if err != nil {
		return err
	}

	result, err := engine.Scan(ctx, req)
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}
