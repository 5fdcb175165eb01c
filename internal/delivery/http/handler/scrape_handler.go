package handler

import (
	"context"
	"errors"
	"log"

	"catalog-scraper/internal/delivery/http/dto"
	"catalog-scraper/internal/delivery/http/middleware"
	"catalog-scraper/internal/domain/scrape"
	"catalog-scraper/internal/pkg/response"
	"catalog-scraper/internal/scraper"
	"catalog-scraper/internal/usecase/crawl"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
)

type jobScheduler interface {
	Enqueue(ctx context.Context, target scrape.Target) (scrape.Handle, error)
	GetJobStatus(ctx context.Context, id uuid.UUID) (scrape.Job, error)
	Cancel(ctx context.Context, id uuid.UUID) (scrape.Job, error)
}

type quickScraper interface {
	ScrapeNow(ctx context.Context, target scrape.Target) (crawl.Outcome, error)
}

type ScrapeHandler struct {
	jobs  jobScheduler
	quick quickScraper
	log   *log.Logger
}

func NewScrapeHandler(jobs jobScheduler, quick quickScraper, logger *log.Logger) *ScrapeHandler {
	if logger == nil {
		logger = log.Default()
	}
	return &ScrapeHandler{jobs: jobs, quick: quick, log: logger}
}

func (h *ScrapeHandler) RegisterRoutes(r fiber.Router) {
	if r == nil {
		return
	}
	r.Post("/jobs", h.Submit)
	r.Get("/jobs/:id", h.GetStatus)
	r.Post("/jobs/:id/cancel", h.Cancel)
	r.Post("/quick", h.Quick)
}

func (h *ScrapeHandler) Submit(c fiber.Ctx) error {
	target, err := bindTarget(c)
	if err != nil {
		return err
	}

	handle, err := h.jobs.Enqueue(c.Context(), target)
	if err != nil {
		if errors.Is(err, scrape.ErrInvalidTarget) {
			return middleware.NewAppError(fiber.StatusUnprocessableEntity, err.Error(), nil, err)
		}
		if handle.ID != uuid.Nil {
			// The row exists as PENDING but was never pushed.
			return middleware.NewAppError(fiber.StatusServiceUnavailable, "Job stored but queue unavailable", dto.NewJobHandleResponse(handle), err)
		}
		return middleware.NewAppError(fiber.StatusInternalServerError, response.MessageInternalServerError, nil, err)
	}
	return response.Success(c, fiber.StatusAccepted, response.MessageAccepted, dto.NewJobHandleResponse(handle))
}

func (h *ScrapeHandler) GetStatus(c fiber.Ctx) error {
	id, err := jobIDParam(c)
	if err != nil {
		return err
	}
	job, err := h.jobs.GetJobStatus(c.Context(), id)
	if err != nil {
		if errors.Is(err, scrape.ErrNotFound) {
			return middleware.NewAppError(fiber.StatusNotFound, "Job not found", nil, err)
		}
		return middleware.NewAppError(fiber.StatusInternalServerError, response.MessageInternalServerError, nil, err)
	}
	return response.Success(c, fiber.StatusOK, response.MessageOK, dto.NewJobResponse(job))
}

func (h *ScrapeHandler) Cancel(c fiber.Ctx) error {
	id, err := jobIDParam(c)
	if err != nil {
		return err
	}
	job, err := h.jobs.Cancel(c.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, scrape.ErrNotFound):
			return middleware.NewAppError(fiber.StatusNotFound, "Job not found", nil, err)
		case errors.Is(err, scrape.ErrInvalidTransition):
			return middleware.NewAppError(fiber.StatusConflict, "Job can no longer be cancelled", nil, err)
		}
		return middleware.NewAppError(fiber.StatusInternalServerError, response.MessageInternalServerError, nil, err)
	}
	return response.Success(c, fiber.StatusOK, response.MessageOK, dto.NewJobResponse(job))
}

func (h *ScrapeHandler) Quick(c fiber.Ctx) error {
	if h.quick == nil {
		return middleware.NewAppError(fiber.StatusServiceUnavailable, "Quick scrape unavailable", nil, nil)
	}
	target, err := bindTarget(c)
	if err != nil {
		return err
	}

	out, err := h.quick.ScrapeNow(c.Context(), target)
	if err != nil {
		if errors.Is(err, scrape.ErrInvalidTarget) {
			return middleware.NewAppError(fiber.StatusUnprocessableEntity, err.Error(), nil, err)
		}
		var httpErr *scraper.FetchHTTPError
		var timeoutErr *scraper.FetchTimeoutError
		if errors.As(err, &httpErr) || errors.As(err, &timeoutErr) {
			h.log.Printf("[Scrape] Quick scrape upstream failure url=%s err=%v", target.URL, err)
			return middleware.NewAppError(fiber.StatusBadGateway, "Upstream fetch failed", nil, err)
		}
		return middleware.NewAppError(fiber.StatusInternalServerError, response.MessageInternalServerError, nil, err)
	}
	return response.Success(c, fiber.StatusOK, response.MessageOK, dto.NewQuickScrapeResponse(out))
}

func bindTarget(c fiber.Ctx) (scrape.Target, error) {
	var req dto.SubmitScrapeRequest
	if err := c.Bind().Body(&req); err != nil {
		return scrape.Target{}, middleware.NewAppError(fiber.StatusBadRequest, "Invalid request payload", nil, err)
	}
	if err := req.Validate(); err != nil {
		return scrape.Target{}, middleware.NewAppError(fiber.StatusUnprocessableEntity, err.Error(), nil, err)
	}
	target, err := req.Target()
	if err != nil {
		return scrape.Target{}, middleware.NewAppError(fiber.StatusUnprocessableEntity, err.Error(), nil, err)
	}
	if err := target.Validate(); err != nil {
		return scrape.Target{}, middleware.NewAppError(fiber.StatusUnprocessableEntity, err.Error(), nil, err)
	}
	return target, nil
}

func jobIDParam(c fiber.Ctx) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return uuid.Nil, middleware.NewAppError(fiber.StatusBadRequest, "Invalid job id", nil, err)
	}
	return id, nil
}
