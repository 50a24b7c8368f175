package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/weqory/backend/internal/marketsmith"
	"github.com/weqory/backend/internal/stocktwits"
	"github.com/weqory/backend/pkg/errors"
)

// IdeasHandler proxies the community idea feeds and the symbol research
// detail payload.
type IdeasHandler struct {
	feeds   *stocktwits.Client
	details *marketsmith.Client
}

// NewIdeasHandler creates an IdeasHandler.
func NewIdeasHandler(feeds *stocktwits.Client, details *marketsmith.Client) *IdeasHandler {
	return &IdeasHandler{feeds: feeds, details: details}
}

func feedLimit(c *fiber.Ctx) (int, error) {
	limit := c.QueryInt("limit", 10)
	if limit < 1 || limit > 100 {
		return 0, errors.ErrBadRequest.WithDetails("limit must be between 1 and 100")
	}
	return limit, nil
}

// GlobalFeed handles GET /ideas/global/:feed.
func (h *IdeasHandler) GlobalFeed(c *fiber.Ctx) error {
	feed := stocktwits.GlobalFeed(c.Params("feed"))
	switch feed {
	case stocktwits.GlobalTrending, stocktwits.GlobalSuggested, stocktwits.GlobalPopular:
	default:
		return sendError(c, errors.ErrBadRequest.WithDetails("feed must be trending, suggested or popular"))
	}

	limit, err := feedLimit(c)
	if err != nil {
		return sendError(c, err)
	}

	payload, err := h.feeds.FetchGlobal(c.Context(), feed, limit)
	if err != nil {
		return sendError(c, errors.ErrExternalService.WithCause(err))
	}
	return c.JSON(payload)
}

// SymbolFeed handles GET /ideas/:symbol/:feed.
func (h *IdeasHandler) SymbolFeed(c *fiber.Ctx) error {
	feed := stocktwits.SymbolFeed(c.Params("feed"))
	switch feed {
	case stocktwits.SymbolTrending, stocktwits.SymbolPopular:
	default:
		return sendError(c, errors.ErrBadRequest.WithDetails("feed must be trending or popular"))
	}

	limit, err := feedLimit(c)
	if err != nil {
		return sendError(c, err)
	}

	payload, err := h.feeds.FetchSymbol(c.Context(), c.Params("symbol"), feed, limit)
	if err != nil {
		return sendError(c, errors.ErrExternalService.WithCause(err))
	}
	return c.JSON(payload)
}

// SymbolDetail handles GET /symbols/:symbol: the trailing segment of an
// EXCHANGE:SYMBOL ticker resolves the upstream instrument.
func (h *IdeasHandler) SymbolDetail(c *fiber.Ctx) error {
	symbol := c.Params("symbol")
	parts := strings.Split(symbol, ":")
	name := strings.TrimSpace(parts[len(parts)-1])
	if name == "" {
		return sendError(c, errors.ErrBadRequest.WithDetails("symbol is required"))
	}

	payload, err := h.details.All(c.Context(), name)
	if err != nil {
		return sendError(c, errors.ErrExternalService.WithCause(err))
	}
	return c.JSON(payload)
}
