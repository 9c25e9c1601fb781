package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grader/internal/dto"
	"github.com/noah-isme/gema-grader/internal/service"
	"github.com/noah-isme/gema-grader/internal/utils"
)

// GradingHandler serves the draft run against public tests.
type GradingHandler struct {
	service service.GradingService
	limiter fiber.Handler
	logger  zerolog.Logger
}

// NewGradingHandler constructs the handler. limiter may be nil.
func NewGradingHandler(service service.GradingService, limiter fiber.Handler, logger zerolog.Logger) *GradingHandler {
	return &GradingHandler{
		service: service,
		limiter: limiter,
		logger:  logger.With().Str("component", "grading_handler").Logger(),
	}
}

// Register attaches the run endpoint.
func (h *GradingHandler) Register(router fiber.Router) {
	if h.limiter != nil {
		router.Post("/run-public", h.limiter, h.runPublic)
		return
	}
	router.Post("/run-public", h.runPublic)
}

func (h *GradingHandler) runPublic(c *fiber.Ctx) error {
	var payload dto.RunPublicTestsRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	result, err := h.service.RunPublicTests(c.UserContext(), payload)
	if err != nil {
		return handleServiceError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "public tests executed", result)
}
