package handler

import (
	"context"
	"errors"
	"strings"

	"catalog-scraper/internal/delivery/http/dto"
	"catalog-scraper/internal/delivery/http/middleware"
	"catalog-scraper/internal/domain/catalog"
	"catalog-scraper/internal/pkg/response"

	"github.com/gofiber/fiber/v3"
)

type catalogReader interface {
	FindBySourceID(ctx context.Context, sourceID string) (catalog.Record, error)
	ListByParent(ctx context.Context, parentSourceID string) ([]catalog.Record, error)
	GetProductDetail(ctx context.Context, productSourceID string) (catalog.ProductDetail, []catalog.Review, error)
}

type CatalogHandler struct {
	catalog catalogReader
}

func NewCatalogHandler(c catalogReader) *CatalogHandler {
	return &CatalogHandler{catalog: c}
}

func (h *CatalogHandler) RegisterRoutes(r fiber.Router) {
	if r == nil {
		return
	}
	r.Get("/records/:sourceId", h.GetRecord)
}

func (h *CatalogHandler) GetRecord(c fiber.Ctx) error {
	sourceID := strings.TrimSpace(c.Params("sourceId"))
	if sourceID == "" {
		return middleware.NewAppError(fiber.StatusBadRequest, "Invalid source id", nil, nil)
	}
	ctx := c.Context()

	rec, err := h.catalog.FindBySourceID(ctx, sourceID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return middleware.NewAppError(fiber.StatusNotFound, "Record not found", nil, err)
		}
		return middleware.NewAppError(fiber.StatusInternalServerError, response.MessageInternalServerError, nil, err)
	}

	res := dto.CatalogRecordResponse{Record: rec}
	if rec.Type == catalog.RecordProduct {
		detail, reviews, err := h.catalog.GetProductDetail(ctx, sourceID)
		switch {
		case err == nil:
			res.Detail = &detail
			res.Reviews = reviews
		case !errors.Is(err, catalog.ErrNotFound):
			return middleware.NewAppError(fiber.StatusInternalServerError, response.MessageInternalServerError, nil, err)
		}
	}

	children, err := h.catalog.ListByParent(ctx, sourceID)
	if err != nil {
		return middleware.NewAppError(fiber.StatusInternalServerError, response.MessageInternalServerError, nil, err)
	}
	res.Children = children
	return response.Success(c, fiber.StatusOK, response.MessageOK, res)
}
