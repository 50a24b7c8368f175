package routes

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/weqory/backend/internal/api/handlers"
	"github.com/weqory/backend/internal/api/middleware"
	"github.com/weqory/backend/internal/screener"
	"github.com/weqory/backend/pkg/logger"
	"github.com/weqory/backend/pkg/redis"
)

// Config holds route configuration
type Config struct {
	RateLimiter *redis.RateLimiter
	Log         *logger.Logger
	Scan        *handlers.ScanHandler
	Ideas       *handlers.IdeasHandler
	Screener    *screener.Handler
}

// Setup sets up all API routes
func Setup(app *fiber.App, cfg *Config) {
	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
		})
	})

	// Global rate limiting
	app.Use(middleware.RateLimit(middleware.RateLimitConfig{
		Limiter:       cfg.RateLimiter,
		MaxRequests:   100,
		WindowSeconds: 60,
		KeyPrefix:     "global",
	}))

	// Raw SQL passthrough over the feature table
	app.Post("/scanner/scan", cfg.Scan.RawScan)

	// Structured scan surface
	v2 := app.Group("/v2")
	v2.Post("/scan", cfg.Scan.ScanV2)
	v2.Get("/scan/refresh/:market", cfg.Scan.Refresh)

	// Symbol research and idea feeds
	app.Get("/symbols/:symbol", cfg.Ideas.SymbolDetail)
	app.Get("/ideas/global/:feed", cfg.Ideas.GlobalFeed)
	app.Get("/ideas/:symbol/:feed", cfg.Ideas.SymbolFeed)

	// Screener WebSocket
	setupWebSocketRoutes(app, cfg)
}

// setupWebSocketRoutes sets up WebSocket routes
func setupWebSocketRoutes(app *fiber.App, cfg *Config) {
	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	// WebSocket endpoint for screener sessions
	app.Get("/ws", cfg.Screener.Upgrade())
}
