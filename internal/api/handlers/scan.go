package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/weqory/backend/internal/api/dto"
	"github.com/weqory/backend/internal/model"
	"github.com/weqory/backend/internal/repository"
	"github.com/weqory/backend/internal/scanner"
	"github.com/weqory/backend/pkg/errors"
	"github.com/weqory/backend/pkg/validator"
)

// ScanHandler serves the scanner surface: the structured /v2/scan
// endpoints and the raw-SQL /scanner/scan passthrough.
type ScanHandler struct {
	registry  *scanner.Registry
	symbols   *repository.SymbolRepository
	validator *validator.Validator
}

// NewScanHandler creates a ScanHandler.
func NewScanHandler(registry *scanner.Registry, symbols *repository.SymbolRepository, v *validator.Validator) *ScanHandler {
	return &ScanHandler{registry: registry, symbols: symbols, validator: v}
}

// RawScan handles POST /scanner/scan: the body's SQL runs verbatim against
// the symbol feature table and rows come back as JSON objects.
func (h *ScanHandler) RawScan(c *fiber.Ctx) error {
	var body dto.ScreenerQuery
	if err := c.BodyParser(&body); err != nil {
		return sendError(c, errors.ErrInvalidInput.WithCause(err))
	}
	if errs := h.validator.Validate(body); errs != nil {
		return sendValidationError(c, errs)
	}

	rows, err := h.symbols.ExecRaw(c.Context(), body.Query)
	if err != nil {
		return sendError(c, err)
	}
	if rows == nil {
		rows = []map[string]any{}
	}
	return c.JSON(rows)
}

// ScanV2 handles POST /v2/scan.
func (h *ScanHandler) ScanV2(c *fiber.Ctx) error {
	var req scanner.Request
	if err := c.BodyParser(&req); err != nil {
		return sendError(c, errors.ErrInvalidInput.WithCause(err))
	}
	if errs := h.validator.Validate(req); errs != nil {
		return sendValidationError(c, errs)
	}

	result, err := h.registry.Scan(c.Context(), req)
	if err != nil {
		if errors.IsAppError(err) {
			return sendError(c, err)
		}
		return sendError(c, errors.ErrInternal.WithCause(err))
	}
	return c.JSON(result)
}

// Refresh handles GET /v2/scan/refresh/:market.
func (h *ScanHandler) Refresh(c *fiber.Ctx) error {
	market := model.Market(c.Params("market"))
	if market != model.MarketIndia && market != model.MarketUS {
		return sendError(c, errors.ErrBadRequest.WithDetails("market must be india or us"))
	}

	if err := h.registry.Refresh(c.Context(), market); err != nil {
		return sendError(c, errors.ErrInternal.WithCause(err))
	}
	return c.JSON(dto.SuccessResponse{Message: "Scanner Refreshed"})
}
